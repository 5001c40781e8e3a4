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

// Package xcache provides a generic, thread-safe, context-scoped cache used
// for the Bulk Operation Executor's capability cache
// (entity×operation -> bulk_supported?). Expiration is optional; the
// capability cache itself is created with exp == 0 (never expires) so it
// stays monotonic for the lifetime of one run, per spec §8.
package xcache

import (
	"context"
	"sync"
	"time"
)

// Cache is a generic key/value store with optional expiration.
type Cache[K comparable, V any] interface {
	// Load returns the stored value and whether it was present (and not
	// expired).
	Load(key K) (V, bool)
	// Store writes a value for key, resetting its expiration clock.
	Store(key K, val V)
	// LoadOrStore returns the existing value for key if present, otherwise
	// stores and returns val. The bool reports whether the value already
	// existed.
	LoadOrStore(key K, val V) (V, bool)
	// Delete removes key.
	Delete(key K)
	// Close stops the background expiry sweep, if any.
	Close()
}

type entry[V any] struct {
	val V
	at  time.Time
}

type cache[K comparable, V any] struct {
	mu  sync.RWMutex
	m   map[K]entry[V]
	exp time.Duration
	cnl context.CancelFunc
}

// New returns a Cache scoped to ctx. exp == 0 means entries never expire.
// When exp > 0, a background goroutine sweeps expired entries every exp.
func New[K comparable, V any](ctx context.Context, exp time.Duration) Cache[K, V] {
	if ctx == nil {
		ctx = context.Background()
	}
	cctx, cnl := context.WithCancel(ctx)

	c := &cache[K, V]{
		m:   make(map[K]entry[V]),
		exp: exp,
		cnl: cnl,
	}

	if exp > 0 {
		go c.sweep(cctx)
	}

	return c
}

func (c *cache[K, V]) sweep(ctx context.Context) {
	t := time.NewTicker(c.exp)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			c.mu.Lock()
			for k, e := range c.m {
				if now.Sub(e.at) >= c.exp {
					delete(c.m, k)
				}
			}
			c.mu.Unlock()
		}
	}
}

func (c *cache[K, V]) valid(e entry[V]) bool {
	if c.exp <= 0 {
		return true
	}
	return time.Since(e.at) < c.exp
}

func (c *cache[K, V]) Load(key K) (v V, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, found := c.m[key]
	if !found || !c.valid(e) {
		return v, false
	}
	return e.val, true
}

func (c *cache[K, V]) Store(key K, val V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key] = entry[V]{val: val, at: time.Now()}
}

func (c *cache[K, V]) LoadOrStore(key K, val V) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, found := c.m[key]; found && c.valid(e) {
		return e.val, true
	}

	c.m[key] = entry[V]{val: val, at: time.Now()}
	return val, false
}

func (c *cache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.m, key)
}

func (c *cache[K, V]) Close() {
	c.cnl()
}
