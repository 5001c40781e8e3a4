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

// Package console renders progress events to a terminal: one mpb progress
// bar per entity, colored phase and error lines in between. Callers that
// have no terminal (cron, CI, piped output) get the same events as plain
// uncolored lines with no bars — Want a silent run? Hand the importer a
// progress.NopSink instead.
package console

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-colorable"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/dvbulk/corelib/contract"
)

var (
	phaseColor = color.New(color.FgCyan, color.Bold)
	infoColor  = color.New(color.FgWhite)
	warnColor  = color.New(color.FgYellow)
	errColor   = color.New(color.FgRed, color.Bold)
	doneColor  = color.New(color.FgGreen, color.Bold)
)

// Sink is a contract.ProgressSink writing to a terminal. Safe for
// concurrent use: entities within one tier report simultaneously.
type Sink struct {
	mu   sync.Mutex
	out  io.Writer
	p    *mpb.Progress
	bars map[string]*mpb.Bar
	bar  bool
}

// New returns a Sink writing to os.Stdout, with progress bars enabled when
// stdout is a terminal.
func New() *Sink {
	fi, err := os.Stdout.Stat()
	tty := err == nil && (fi.Mode()&os.ModeCharDevice) != 0
	return NewWriter(colorable.NewColorableStdout(), tty)
}

// NewWriter returns a Sink writing to out. withBars controls whether mpb
// bars are rendered; when false only line events are written.
func NewWriter(out io.Writer, withBars bool) *Sink {
	s := &Sink{out: out, bars: map[string]*mpb.Bar{}, bar: withBars}
	if withBars {
		s.p = mpb.New(mpb.WithOutput(out), mpb.WithWidth(64))
	}
	return s
}

// Phase implements contract.ProgressSink.
func (s *Sink) Phase(kind contract.PhaseKind, message string) {
	s.println(phaseColor, fmt.Sprintf("==> %s: %s", kind, message))
}

// Progress implements contract.ProgressSink. The first event for an entity
// creates its bar; later events advance it to Current.
func (s *Sink) Progress(ev contract.ProgressEvent) {
	if !s.bar || ev.Entity == "" || ev.Total <= 0 {
		return
	}

	s.mu.Lock()
	b, ok := s.bars[ev.Entity]
	if !ok {
		b = s.p.AddBar(ev.Total,
			mpb.PrependDecorators(
				decor.Name(ev.Entity, decor.WC{W: 24, C: decor.DindentRight}),
				decor.CountersNoUnit("%d / %d"),
			),
			mpb.AppendDecorators(
				decor.Percentage(decor.WC{W: 5}),
				decor.AverageSpeed(0, " %.0f/s"),
			),
		)
		s.bars[ev.Entity] = b
	}
	s.mu.Unlock()

	b.SetCurrent(ev.Current)
}

// Warning implements contract.ProgressSink.
func (s *Sink) Warning(msg string) {
	s.println(warnColor, "warning: "+msg)
}

// Info implements contract.ProgressSink.
func (s *Sink) Info(msg string) {
	s.println(infoColor, msg)
}

// Error implements contract.ProgressSink.
func (s *Sink) Error(ev contract.ErrorEvent) {
	line := fmt.Sprintf("error [%d]: %s", ev.Kind, ev.Message)
	if len(ev.Context) > 0 {
		line = fmt.Sprintf("%s %v", line, ev.Context)
	}
	s.println(errColor, line)
}

// Complete implements contract.ProgressSink: waits for every bar to finish
// rendering, then prints the final counts.
func (s *Sink) Complete(result contract.MigrationResult) {
	if s.p != nil {
		s.mu.Lock()
		for _, b := range s.bars {
			b.Abort(false)
		}
		s.mu.Unlock()
		s.p.Wait()
	}

	c := doneColor
	if result.FailureCount > 0 || result.Cancelled {
		c = warnColor
	}
	s.println(c, fmt.Sprintf("done: %d processed, %d ok, %d failed in %s",
		result.RecordsProcessed, result.SuccessCount, result.FailureCount,
		time.Duration(result.Duration).Round(time.Millisecond)))

	if result.Cancelled {
		s.println(warnColor, "run was cancelled before completion")
	}
}

// println routes a line either through mpb (so it interleaves cleanly with
// live bars) or straight to the writer.
func (s *Sink) println(c *color.Color, line string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	txt := c.Sprint(line)
	if s.p != nil {
		s.p.Write([]byte(txt + "\n"))
		return
	}
	fmt.Fprintln(s.out, txt)
}

var _ contract.ProgressSink = (*Sink)(nil)
