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

// Package xsem provides a bounded worker-slot primitive used as the Bulk
// Operation Executor's parallel batch iterator and the importer's per-tier
// entity fan-out. The Connection Pool's admission semaphore does not use
// this package; it holds a golang.org/x/sync/semaphore.Weighted directly.
// A negative limit means unlimited
// (backed by a sync.WaitGroup); zero means MaxSimultaneous(); a positive
// limit is a weighted semaphore with that many permits.
package xsem

import (
	"context"
	"runtime"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Semaphore bounds concurrent workers. All methods are safe for concurrent use.
type Semaphore interface {
	// NewWorker blocks until a slot is available or ctx is cancelled.
	NewWorker() error
	// NewWorkerTry acquires a slot without blocking, returning false if none
	// is immediately available.
	NewWorkerTry() bool
	// DeferWorker releases a slot acquired by NewWorker/NewWorkerTry.
	DeferWorker()
	// WaitAll blocks until every currently-held slot has been released.
	WaitAll() error
	// DeferMain releases resources associated with the semaphore itself.
	DeferMain()
	// Weighted returns the configured limit (-1 if unlimited).
	Weighted() int64
}

type weighted struct {
	ctx context.Context
	w   *semaphore.Weighted
	n   int64
}

type unlimited struct {
	ctx context.Context
	wg  sync.WaitGroup
}

// MaxSimultaneous returns runtime.GOMAXPROCS(0), the default limit used
// when New is called with n == 0.
func MaxSimultaneous() int {
	return runtime.GOMAXPROCS(0)
}

// SetSimultaneous returns n if n >= 1, otherwise MaxSimultaneous().
func SetSimultaneous(n int) int64 {
	if n < 1 {
		return int64(MaxSimultaneous())
	}
	return int64(n)
}

// New returns a Semaphore bound to ctx. n < 0 means unlimited, n == 0 means
// MaxSimultaneous(), n > 0 is a weighted semaphore with n permits.
func New(ctx context.Context, n int) Semaphore {
	if ctx == nil {
		ctx = context.Background()
	}

	if n < 0 {
		return &unlimited{ctx: ctx}
	}

	return &weighted{
		ctx: ctx,
		w:   semaphore.NewWeighted(SetSimultaneous(n)),
		n:   SetSimultaneous(n),
	}
}

func (s *weighted) NewWorker() error {
	return s.w.Acquire(s.ctx, 1)
}

func (s *weighted) NewWorkerTry() bool {
	return s.w.TryAcquire(1)
}

func (s *weighted) DeferWorker() {
	s.w.Release(1)
}

func (s *weighted) WaitAll() error {
	// Acquiring the full weight blocks until every outstanding unit has been
	// released, then immediately releases it back.
	if err := s.w.Acquire(s.ctx, s.n); err != nil {
		return err
	}
	s.w.Release(s.n)
	return nil
}

func (s *weighted) DeferMain() {}

func (s *weighted) Weighted() int64 { return s.n }

func (s *unlimited) NewWorker() error {
	s.wg.Add(1)
	return nil
}

func (s *unlimited) NewWorkerTry() bool {
	s.wg.Add(1)
	return true
}

func (s *unlimited) DeferWorker() {
	s.wg.Done()
}

func (s *unlimited) WaitAll() error {
	s.wg.Wait()
	return nil
}

func (s *unlimited) DeferMain() {}

func (s *unlimited) Weighted() int64 { return -1 }
