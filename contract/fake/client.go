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

// Package fake provides an in-memory, scriptable contract.ServiceClient used
// by this module's own test suites (and available to integrators writing
// theirs) to exercise the throttle-storm, bulk-fallback, transient-retry and
// permanent-error scenarios without a live service.
package fake

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dvbulk/corelib/contract"
)

// Script lets a test drive deterministic behavior for one (entity, op) key.
// Scripts apply per source: clones of one client share the script table and
// the call counters.
type Script struct {
	// ThrottleOnCallN, when > 0, makes the ThrottleOnCallN-th SendBulk call
	// against this key return Throttled with RetryAfter.
	ThrottleOnCallN int
	// ThrottleAlways makes every call against this key return Throttled.
	ThrottleAlways bool
	RetryAfter     time.Duration

	// BulkUnsupported makes every SendBulk against this key return
	// NotSupported, forcing SendSingle fallback.
	BulkUnsupported bool

	// TransientFailuresBeforeSuccess makes that many consecutive SendBulk
	// or SendSingle calls return a transient-network error before
	// succeeding.
	TransientFailuresBeforeSuccess int

	// PermanentErrorRecordIDs maps a record id to the ErrorKind it should
	// fail with (ReferenceNotFound, DuplicateRecord, ...).
	PermanentErrorRecordIDs map[string]contract.ErrorKind
}

type callCounter struct {
	bulk      int64
	single    int64
	transient int64
}

// tables is the script/counter state shared by a client and all its clones.
type tables struct {
	mu      sync.Mutex
	scripts map[string]*Script
	counts  map[string]*callCounter
}

func (t *tables) script(k string) *Script {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.scripts[k]
}

func (t *tables) counter(k string) *callCounter {
	t.mu.Lock()
	defer t.mu.Unlock()
	cc, ok := t.counts[k]
	if !ok {
		cc = &callCounter{}
		t.counts[k] = cc
	}
	return cc
}

// Client is a scriptable in-memory ServiceClient.
type Client struct {
	SourceName string
	DOP        int

	tbl *tables

	mu     sync.Mutex
	closed bool
}

// New returns a ready Client for sourceName advertising dop as its current
// DOP recommendation.
func New(sourceName string, dop int) *Client {
	return &Client{
		SourceName: sourceName,
		DOP:        dop,
		tbl: &tables{
			scripts: map[string]*Script{},
			counts:  map[string]*callCounter{},
		},
	}
}

func key(entity string, op contract.Operation) string {
	return fmt.Sprintf("%s:%s", entity, op)
}

// WithScript registers s for (entity, op).
func (c *Client) WithScript(entity string, op contract.Operation, s Script) *Client {
	c.tbl.mu.Lock()
	defer c.tbl.mu.Unlock()
	c.tbl.scripts[key(entity, op)] = &s
	return c
}

// BulkCalls reports how many SendBulk calls have been served for
// (entity, op) across this client and all of its clones.
func (c *Client) BulkCalls(entity string, op contract.Operation) int64 {
	return atomic.LoadInt64(&c.tbl.counter(key(entity, op)).bulk)
}

// SingleCalls reports how many SendSingle calls have been served for
// (entity, op) across this client and all of its clones.
func (c *Client) SingleCalls(entity string, op contract.Operation) int64 {
	return atomic.LoadInt64(&c.tbl.counter(key(entity, op)).single)
}

// SendBulk implements contract.ServiceClient.
func (c *Client) SendBulk(ctx context.Context, entity string, op contract.Operation, records []contract.Record, opts contract.RecordOptions) (contract.BulkResponse, error) {
	if err := ctx.Err(); err != nil {
		return contract.BulkResponse{}, err
	}

	k := key(entity, op)
	s := c.tbl.script(k)
	cc := c.tbl.counter(k)

	if s != nil && s.BulkUnsupported {
		return contract.BulkResponse{NotSupported: true}, nil
	}

	n := atomic.AddInt64(&cc.bulk, 1)

	if s != nil && (s.ThrottleAlways || (s.ThrottleOnCallN > 0 && int(n) == s.ThrottleOnCallN)) {
		return contract.BulkResponse{Throttled: true, RetryAfter: s.RetryAfter}, nil
	}

	if s != nil && s.TransientFailuresBeforeSuccess > 0 {
		if t := atomic.AddInt64(&cc.transient, 1); int(t) <= int(s.TransientFailuresBeforeSuccess) {
			return contract.BulkResponse{}, &contract.MigrationError{Kind: contract.KindTransientNetwork, Message: "simulated transient failure"}
		}
	}

	outcomes := make([]contract.RecordOutcome, 0, len(records))
	for _, r := range records {
		outcomes = append(outcomes, c.outcome(s, r))
	}

	return contract.BulkResponse{Outcomes: outcomes}, nil
}

// SendSingle implements contract.ServiceClient.
func (c *Client) SendSingle(ctx context.Context, entity string, op contract.Operation, record contract.Record, opts contract.RecordOptions) (contract.SingleResponse, error) {
	if err := ctx.Err(); err != nil {
		return contract.SingleResponse{}, err
	}

	k := key(entity, op)
	s := c.tbl.script(k)
	cc := c.tbl.counter(k)
	atomic.AddInt64(&cc.single, 1)

	if s != nil && s.ThrottleAlways {
		return contract.SingleResponse{Throttled: true, RetryAfter: s.RetryAfter}, nil
	}

	if s != nil && s.TransientFailuresBeforeSuccess > 0 {
		if t := atomic.AddInt64(&cc.transient, 1); int(t) <= int(s.TransientFailuresBeforeSuccess) {
			return contract.SingleResponse{}, &contract.MigrationError{Kind: contract.KindTransientNetwork, Message: "simulated transient failure"}
		}
	}

	return contract.SingleResponse{Outcome: c.outcome(s, record)}, nil
}

func (c *Client) outcome(s *Script, r contract.Record) contract.RecordOutcome {
	id := r.ID
	if id == "" {
		id = uuid.NewString()
	}
	if s != nil && s.PermanentErrorRecordIDs != nil {
		if kind, bad := s.PermanentErrorRecordIDs[r.ID]; bad {
			return contract.RecordOutcome{RecordID: id, Success: false, Kind: kind, Message: "simulated permanent error"}
		}
	}
	return contract.RecordOutcome{RecordID: id, Success: true}
}

// Clone implements contract.ServiceClient. The clone shares the receiver's
// script table and call counters.
func (c *Client) Clone(ctx context.Context) (contract.ServiceClient, error) {
	return &Client{SourceName: c.SourceName, DOP: c.DOP, tbl: c.tbl}, nil
}

// Validate implements contract.ServiceClient.
func (c *Client) Validate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("fake client for %s closed", c.SourceName)
	}
	return nil
}

// Close implements contract.ServiceClient.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// CurrentDOP implements contract.ServiceClient.
func (c *Client) CurrentDOP() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.DOP
}

var _ contract.ServiceClient = (*Client)(nil)
