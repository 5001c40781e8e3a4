/*
 * MIT License
 *
 * Copyright (c) 2026 The corelib Authors
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 */

// Package progress implements the push-model progress and error surfaces:
// sink helpers shared by every caller, and the run-level result accumulator
// that merges per-entity outcomes into a single MigrationResult. Rendering
// lives in progress/console; this package has no output of its own.
package progress

import "github.com/dvbulk/corelib/contract"

// NopSink discards every event. It is the default when a caller hands the
// importer a nil sink.
type NopSink struct{}

func (NopSink) Phase(kind contract.PhaseKind, message string) {}
func (NopSink) Progress(ev contract.ProgressEvent)            {}
func (NopSink) Warning(msg string)                            {}
func (NopSink) Info(msg string)                               {}
func (NopSink) Error(ev contract.ErrorEvent)                  {}
func (NopSink) Complete(result contract.MigrationResult)      {}

var _ contract.ProgressSink = NopSink{}

// MultiSink fans every event out to each wrapped sink, in order.
type MultiSink []contract.ProgressSink

func (m MultiSink) Phase(kind contract.PhaseKind, message string) {
	for _, s := range m {
		s.Phase(kind, message)
	}
}

func (m MultiSink) Progress(ev contract.ProgressEvent) {
	for _, s := range m {
		s.Progress(ev)
	}
}

func (m MultiSink) Warning(msg string) {
	for _, s := range m {
		s.Warning(msg)
	}
}

func (m MultiSink) Info(msg string) {
	for _, s := range m {
		s.Info(msg)
	}
}

func (m MultiSink) Error(ev contract.ErrorEvent) {
	for _, s := range m {
		s.Error(ev)
	}
}

func (m MultiSink) Complete(result contract.MigrationResult) {
	for _, s := range m {
		s.Complete(result)
	}
}

var _ contract.ProgressSink = MultiSink{}

// OrNop returns sink, or a NopSink when sink is nil, so callers never have
// to nil-check before emitting.
func OrNop(sink contract.ProgressSink) contract.ProgressSink {
	if sink == nil {
		return NopSink{}
	}
	return sink
}
