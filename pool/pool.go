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

// Package pool implements the multi-identity Connection Pool: admission
// control over a set of source.Source identities, throttle-aware client
// selection, and transparent waiting during throttle recovery. Acquisition
// is a strict three-phase protocol (wait for an eligible source while
// holding no permit, acquire one admission permit, vend a client) — the
// separation is load-bearing: throttle waiters must never block callers
// that could be served by a healthy source.
package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/dvbulk/corelib/contract"
	"github.com/dvbulk/corelib/source"
	"github.com/dvbulk/corelib/throttle"
	"github.com/dvbulk/corelib/xcfg"
	"github.com/dvbulk/corelib/xerr"
	"github.com/dvbulk/corelib/xlog"
)

// PooledClient is a checked-out, ready-to-use client bound to one source.
type PooledClient struct {
	SourceName string
	Handle     contract.ServiceClient
	LastUsed   time.Time

	poisoned bool
}

// Poison marks the client as unfit for reuse; Release will discard it
// instead of returning it to its source's free list.
func (c *PooledClient) Poison() {
	c.poisoned = true
}

type freeList struct {
	mu      sync.Mutex
	clients []*PooledClient
}

func (f *freeList) pop() *PooledClient {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.clients)
	if n == 0 {
		return nil
	}
	c := f.clients[n-1]
	f.clients = f.clients[:n-1]
	return c
}

func (f *freeList) push(c *PooledClient) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clients = append(f.clients, c)
}

// Pool is the core's multi-identity connection pool.
type Pool struct {
	cfg     xcfg.PoolConfig
	sources []source.Source
	log     xlog.Logger

	sem      *semaphore.Weighted
	semTotal int64

	free   map[string]*freeList
	inUse  map[string]*int64 // atomic counters, one per source
	tr     *throttle.Tracker
	rrNext uint64
}

// New constructs a Pool over sources. The admission semaphore's permit
// count is Σ sources[i].MaxDOP(), read once at construction time.
func New(cfg xcfg.PoolConfig, sources []source.Source, log xlog.Logger) (*Pool, error) {
	if len(sources) == 0 {
		return nil, errors.New("pool: at least one source is required")
	}
	if log == nil {
		log = xlog.Nop()
	}

	var total int64
	free := make(map[string]*freeList, len(sources))
	inUse := make(map[string]*int64, len(sources))

	for _, s := range sources {
		total += int64(cappedDOP(cfg, s))
		free[s.Name()] = &freeList{}
		var z int64
		inUse[s.Name()] = &z
	}

	return &Pool{
		cfg:      cfg,
		sources:  sources,
		log:      log,
		sem:      semaphore.NewWeighted(total),
		semTotal: total,
		free:     free,
		inUse:    inUse,
		tr:       throttle.New(),
	}, nil
}

// TotalParallelism returns the sum of per-source DOPs that back the
// admission semaphore, each individually capped at xcfg.HardLimitPerIdentity.
func (p *Pool) TotalParallelism() int {
	return int(p.semTotal)
}

// RecordThrottle registers a throttle signal observed against source,
// never shortening a standing penalty.
func (p *Pool) RecordThrottle(sourceName string, retryAfter time.Duration) {
	p.tr.Record(sourceName, retryAfter, time.Now())
}

// Acquire runs the three-phase acquisition protocol and returns a ready
// PooledClient, or a classified xerr.Error on failure.
func (p *Pool) Acquire(ctx context.Context) (*PooledClient, error) {
	deadline := time.Now().Add(effectiveAcquireTimeout(p.cfg))

	for {
		if err := ctx.Err(); err != nil {
			return nil, xerr.Wrap(xerr.KindCancelled, err, "acquire cancelled")
		}

		// Phase 1: wait for an eligible (non-throttled) source. Holds no
		// admission permit while waiting.
		if err := p.waitForEligibleSource(ctx, deadline); err != nil {
			return nil, err
		}

		// Phase 2: acquire exactly one admission permit.
		acctx, cancel := context.WithDeadline(ctx, deadline)
		err := p.sem.Acquire(acctx, 1)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return nil, xerr.Wrap(xerr.KindCancelled, ctx.Err(), "acquire cancelled")
			}
			return nil, xerr.New(xerr.KindPoolExhausted, "timed out waiting for an admission permit")
		}

		// Phase 3: select a source and vend a client.
		client, retry, err := p.selectAndVend(ctx)
		if err != nil {
			p.sem.Release(1)
			return nil, err
		}
		if retry {
			// Every source became throttled (or saturated) between Phase 1
			// and Phase 3; release the permit and go back to Phase 1 after a
			// short breather so a tight loop cannot starve releasers.
			p.sem.Release(1)
			t := time.NewTimer(5 * time.Millisecond)
			select {
			case <-ctx.Done():
				t.Stop()
				return nil, xerr.Wrap(xerr.KindCancelled, ctx.Err(), "acquire cancelled")
			case <-t.C:
			}
			continue
		}

		return client, nil
	}
}

func (p *Pool) waitForEligibleSource(ctx context.Context, deadline time.Time) error {
	for {
		if p.anyEligible(time.Now()) {
			return nil
		}

		now := time.Now()
		wait, throttled := p.tr.SoonestClear(now)
		if !throttled {
			// No source is throttled yet every source was ineligible for
			// some other transient reason; treat as immediately eligible
			// to avoid a tight spin.
			return nil
		}

		if p.cfg.MaxRetryAfterTolerance > 0 && wait > p.cfg.MaxRetryAfterTolerance {
			return xerr.New(xerr.KindThrottleExceedsTolerance, "soonest throttle clear %s exceeds tolerance %s", wait, p.cfg.MaxRetryAfterTolerance)
		}

		if now.Add(wait).After(deadline) {
			wait = time.Until(deadline)
		}
		if wait <= 0 {
			return xerr.New(xerr.KindPoolExhausted, "all sources remained throttled past acquire_timeout")
		}

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return xerr.Wrap(xerr.KindCancelled, ctx.Err(), "acquire cancelled during throttle wait")
		case <-t.C:
		}

		if time.Now().After(deadline) {
			return xerr.New(xerr.KindPoolExhausted, "all sources remained throttled past acquire_timeout")
		}
	}
}

func (p *Pool) anyEligible(now time.Time) bool {
	for _, s := range p.sources {
		if !p.tr.IsThrottled(s.Name(), now) {
			return true
		}
	}
	return false
}

func (p *Pool) eligibleSources(now time.Time) []source.Source {
	out := make([]source.Source, 0, len(p.sources))
	for _, s := range p.sources {
		if !p.tr.IsThrottled(s.Name(), now) {
			out = append(out, s)
		}
	}
	return out
}

// selectAndVend picks a non-throttled source with spare per-source capacity
// and vends a client from it. retry is true when no such source exists right
// now (all throttled again, or the healthy ones are at max_dop); the caller
// releases its permit and re-enters Phase 1.
func (p *Pool) selectAndVend(ctx context.Context) (client *PooledClient, retry bool, err error) {
	now := time.Now()
	elig := p.eligibleSources(now)

	withCap := elig[:0:0]
	for _, s := range elig {
		if atomic.LoadInt64(p.inUse[s.Name()]) < int64(cappedDOP(p.cfg, s)) {
			withCap = append(withCap, s)
		}
	}
	if len(withCap) == 0 {
		return nil, true, nil
	}

	// The capacity snapshot above can go stale under contention; vend
	// re-checks atomically, so walk the candidates starting at the selected
	// one until a slot reservation sticks.
	start := p.selectSource(withCap)
	ordered := reorderFrom(withCap, start)
	for _, s := range ordered {
		client, raced, err := p.vend(ctx, s)
		if err != nil {
			return nil, false, err
		}
		if raced {
			continue
		}
		return client, false, nil
	}
	return nil, true, nil
}

// reorderFrom rotates sources so iteration begins at start.
func reorderFrom(sources []source.Source, start source.Source) []source.Source {
	for i, s := range sources {
		if s.Name() == start.Name() {
			out := make([]source.Source, 0, len(sources))
			out = append(out, sources[i:]...)
			out = append(out, sources[:i]...)
			return out
		}
	}
	return sources
}

func (p *Pool) selectSource(elig []source.Source) source.Source {
	switch p.cfg.SelectionStrategy {
	case xcfg.StrategyLeastInUse:
		return p.leastInUse(elig)
	default: // RoundRobin and ThrottleAware both round-robin among eligible.
		idx := atomic.AddUint64(&p.rrNext, 1) - 1
		return elig[int(idx)%len(elig)]
	}
}

func (p *Pool) leastInUse(elig []source.Source) source.Source {
	best := elig[0]
	bestN := atomic.LoadInt64(p.inUse[best.Name()])

	for _, s := range elig[1:] {
		n := atomic.LoadInt64(p.inUse[s.Name()])
		if n < bestN {
			best, bestN = s, n
		}
	}
	return best
}

// vend reserves one of s's max_dop slots, then hands out a validated client
// from the free list or a fresh clone. raced is true when the last slot was
// taken between selection and reservation.
func (p *Pool) vend(ctx context.Context, s source.Source) (client *PooledClient, raced bool, err error) {
	ctr := p.inUse[s.Name()]
	if atomic.AddInt64(ctr, 1) > int64(cappedDOP(p.cfg, s)) {
		atomic.AddInt64(ctr, -1)
		return nil, true, nil
	}

	fl := p.free[s.Name()]
	if c := fl.pop(); c != nil {
		if err := c.Handle.Validate(ctx); err == nil {
			c.LastUsed = time.Now()
			return c, false, nil
		}
		_ = c.Handle.Close()
	}

	client, err = p.createClient(ctx, s)
	if err != nil {
		// one retry on repeated construction failure
		client, err = p.createClient(ctx, s)
		if err != nil {
			atomic.AddInt64(ctr, -1)
			return nil, false, xerr.Wrap(xerr.KindConnectionFailed, err, "vending client for source %q", s.Name())
		}
	}

	return client, false, nil
}

func (p *Pool) createClient(ctx context.Context, s source.Source) (*PooledClient, error) {
	handle, err := s.SeedClient().Clone(ctx)
	if err != nil {
		return nil, err
	}
	if err := handle.Validate(ctx); err != nil {
		_ = handle.Close()
		return nil, err
	}
	return &PooledClient{SourceName: s.Name(), Handle: handle, LastUsed: time.Now()}, nil
}

// Release returns client to its source's free list and releases exactly one
// admission permit. A poisoned client is closed and dropped instead.
func (p *Pool) Release(client *PooledClient) {
	if client == nil {
		return
	}

	atomic.AddInt64(p.inUse[client.SourceName], -1)

	if client.poisoned {
		_ = client.Handle.Close()
	} else {
		client.LastUsed = time.Now()
		if fl, ok := p.free[client.SourceName]; ok {
			fl.push(client)
		}
	}

	p.sem.Release(1)
}

// Close releases every free pooled client. It does not wait for in-flight
// acquisitions to finish.
func (p *Pool) Close() error {
	var firstErr error
	for _, fl := range p.free {
		for {
			c := fl.pop()
			if c == nil {
				break
			}
			if err := c.Handle.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// cappedDOP applies max_connections_per_identity on top of the source's own
// ceiling (which already enforces HardLimitPerIdentity).
func cappedDOP(cfg xcfg.PoolConfig, s source.Source) int {
	dop := s.MaxDOP()
	if cfg.MaxConnectionsPerIdentity > 0 && dop > cfg.MaxConnectionsPerIdentity {
		return cfg.MaxConnectionsPerIdentity
	}
	return dop
}

func effectiveAcquireTimeout(cfg xcfg.PoolConfig) time.Duration {
	if cfg.AcquireTimeout > 0 {
		return cfg.AcquireTimeout
	}
	return 120 * time.Second
}
