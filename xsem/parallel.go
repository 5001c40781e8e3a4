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

package xsem

import (
	"context"
	"sync"
)

// Parallel runs fn once per item in items, bounded by a Semaphore with limit
// permits (same n semantics as New), and returns after every call has
// returned. It is the "runtime-provided parallel-iteration primitive" spec
// §4.4 step 3 refers to: callers never pre-compute their own worker count,
// they hand this a slice and a limit and it does the fan-out.
//
// fn is called concurrently; it must be safe for concurrent use of any
// shared state it closes over. Parallel stops launching new work once ctx is
// cancelled, but does not cancel work already started.
func Parallel[T any](ctx context.Context, items []T, limit int, fn func(ctx context.Context, item T, index int)) {
	if len(items) == 0 {
		return
	}

	s := New(ctx, limit)
	defer s.DeferMain()

	var wg sync.WaitGroup

	for i, it := range items {
		if ctx.Err() != nil {
			break
		}
		if err := s.NewWorker(); err != nil {
			break
		}

		wg.Add(1)
		go func(item T, index int) {
			defer wg.Done()
			defer s.DeferWorker()
			fn(ctx, item, index)
		}(it, i)
	}

	wg.Wait()
}
