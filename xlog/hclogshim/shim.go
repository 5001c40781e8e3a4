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

// Package hclogshim adapts an xlog.Logger to hashicorp/go-hclog's
// hclog.Logger, for collaborators (e.g. an auth or transport backend handed
// in as a contract.ServiceClient factory) that expect the hclog interface,
// the same role the teacher's logger/hclog.go adapter plays for its own
// Logger interface.
package hclogshim

import (
	"io"
	"log"

	"github.com/hashicorp/go-hclog"

	"github.com/dvbulk/corelib/xlog"
)

type shim struct {
	l    xlog.Logger
	name string
}

// New wraps l as an hclog.Logger.
func New(l xlog.Logger, name string) hclog.Logger {
	return &shim{l: l, name: name}
}

func (s *shim) Log(level hclog.Level, msg string, args ...interface{}) {
	f := argsToFields(args)
	switch level {
	case hclog.Trace, hclog.Debug:
		s.l.Debug(msg, f)
	case hclog.Info:
		s.l.Info(msg, f)
	case hclog.Warn:
		s.l.Warn(msg, f)
	case hclog.Error:
		s.l.Error(msg, nil, f)
	}
}

func argsToFields(args []interface{}) xlog.Fields {
	f := xlog.Fields{}
	for i := 0; i+1 < len(args); i += 2 {
		if k, ok := args[i].(string); ok {
			f[k] = args[i+1]
		}
	}
	return f
}

func (s *shim) Trace(msg string, args ...interface{}) { s.Log(hclog.Trace, msg, args...) }
func (s *shim) Debug(msg string, args ...interface{}) { s.Log(hclog.Debug, msg, args...) }
func (s *shim) Info(msg string, args ...interface{})  { s.Log(hclog.Info, msg, args...) }
func (s *shim) Warn(msg string, args ...interface{})  { s.Log(hclog.Warn, msg, args...) }
func (s *shim) Error(msg string, args ...interface{}) { s.Log(hclog.Error, msg, args...) }

func (s *shim) IsTrace() bool { return true }
func (s *shim) IsDebug() bool { return true }
func (s *shim) IsInfo() bool  { return true }
func (s *shim) IsWarn() bool  { return true }
func (s *shim) IsError() bool { return true }

func (s *shim) ImpliedArgs() []interface{} { return nil }
func (s *shim) With(args ...interface{}) hclog.Logger {
	return s
}
func (s *shim) Name() string { return s.name }
func (s *shim) Named(name string) hclog.Logger {
	return &shim{l: s.l, name: s.name + "." + name}
}
func (s *shim) ResetNamed(name string) hclog.Logger {
	return &shim{l: s.l, name: name}
}
func (s *shim) SetLevel(level hclog.Level) {}
func (s *shim) GetLevel() hclog.Level      { return hclog.Info }

func (s *shim) StandardLogger(opts *hclog.StandardLoggerOptions) *log.Logger {
	return log.New(s.StandardWriter(opts), "", 0)
}

func (s *shim) StandardWriter(opts *hclog.StandardLoggerOptions) io.Writer {
	return &writer{s: s}
}

type writer struct {
	s *shim
}

func (w *writer) Write(p []byte) (int, error) {
	w.s.Info(string(p))
	return len(p), nil
}

var _ hclog.Logger = (*shim)(nil)
var _ io.Writer = (*writer)(nil)
