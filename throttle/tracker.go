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

// Package throttle tracks per-source throttle state: a source is throttled
// until a known instant, and a penalty is never shortened by a later,
// smaller retry-after value. This is the pool's sole source of truth for
// "is this source eligible right now" during Phase 1 of acquisition.
package throttle

import (
	"sync"
	"time"
)

// State is one source's current throttle record.
type State struct {
	Until          time.Time
	LastRetryAfter time.Duration
	Count          int64
}

// Tracker is a concurrency-safe map of source name to State.
type Tracker struct {
	mu sync.RWMutex
	m  map[string]State
}

// New returns an empty Tracker.
func New() *Tracker {
	return &Tracker{m: make(map[string]State)}
}

// Record sets the throttle clearance for source to max(existing, now +
// retryAfter), never shortening a standing penalty, and increments its
// throttle count.
func (t *Tracker) Record(source string, retryAfter time.Duration, now time.Time) {
	until := now.Add(retryAfter)

	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.m[source]
	if until.After(s.Until) {
		s.Until = until
	}
	s.LastRetryAfter = retryAfter
	s.Count++
	t.m[source] = s
}

// IsThrottled reports whether source is still serving its penalty at now.
func (t *Tracker) IsThrottled(source string, now time.Time) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return now.Before(t.m[source].Until)
}

// SoonestClear returns the shortest remaining wait across all tracked
// sources, or false if no source is currently throttled.
func (t *Tracker) SoonestClear(now time.Time) (time.Duration, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var best time.Duration
	found := false

	for _, s := range t.m {
		if !now.Before(s.Until) {
			continue
		}
		wait := s.Until.Sub(now)
		if !found || wait < best {
			best = wait
			found = true
		}
	}

	return best, found
}

// ClearExpired drops bookkeeping for sources whose penalty has already
// lapsed at now. Purely a housekeeping operation; IsThrottled is correct
// even without ever calling this.
func (t *Tracker) ClearExpired(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for name, s := range t.m {
		if !now.Before(s.Until) {
			delete(t.m, name)
		}
	}
}

// State returns a copy of source's current record.
func (t *Tracker) State(source string) State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.m[source]
}
