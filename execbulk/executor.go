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

// Package execbulk batches record operations, probes bulk-API support once
// per (entity, operation) pair via a capability cache, and falls back
// transparently to per-record sends when bulk is unsupported. It is the
// sole caller of the pool's Acquire/Release/RecordThrottle surface on the
// hot path.
package execbulk

import (
	"context"
	"errors"
	"math/rand"
	"runtime"
	"sync"
	"time"

	"github.com/dvbulk/corelib/contract"
	"github.com/dvbulk/corelib/pool"
	"github.com/dvbulk/corelib/xcache"
	"github.com/dvbulk/corelib/xcfg"
	"github.com/dvbulk/corelib/xerr"
	"github.com/dvbulk/corelib/xlog"
	"github.com/dvbulk/corelib/xsem"
)

func effectiveMaxBatchRetries(opts xcfg.ExecOptions) int {
	if opts.MaxBatchRetries > 0 {
		return opts.MaxBatchRetries
	}
	return 5
}

// sendCtx bounds one network send by options.NetworkTimeout.
func sendCtx(ctx context.Context, opts xcfg.ExecOptions) (context.Context, context.CancelFunc) {
	if opts.NetworkTimeout > 0 {
		return context.WithTimeout(ctx, opts.NetworkTimeout)
	}
	return ctx, func() {}
}

type capKey struct {
	entity string
	op     contract.Operation
}

// Executor drives batched sends for one migration run, through a shared
// pool and a capability cache scoped to that run.
type Executor struct {
	pool *pool.Pool
	log  xlog.Logger
	caps xcache.Cache[capKey, bool]
}

// New returns an Executor over p. The capability cache never expires
// (exp == 0): capability is assumed stable for the run's lifetime.
func New(ctx context.Context, p *pool.Pool, log xlog.Logger) *Executor {
	if log == nil {
		log = xlog.Nop()
	}
	return &Executor{
		pool: p,
		log:  log,
		caps: xcache.New[capKey, bool](ctx, 0),
	}
}

// Result is the aggregate outcome of one ExecuteBatches call.
type Result struct {
	Entity       string
	Processed    int64
	SuccessCount int64
	FailureCount int64
	Duration     time.Duration
	Errors       []*xerr.Error
}

// BatchSample is one timing observation, surfaced for SLO purposes only —
// per spec §4.4, it never feeds back into rate control.
type BatchSample struct {
	Entity    string
	Size      int
	Duration  time.Duration
	Throttled bool
}

// Observer receives BatchSample events as they occur.
type Observer func(BatchSample)

// ExecuteBatches partitions records into batches of options.BatchSize,
// probes bulk-API support once for (entity, op), then submits all
// remaining batches in parallel bounded by min(GOMAXPROCS*4,
// pool.TotalParallelism()).
func (e *Executor) ExecuteBatches(ctx context.Context, entity string, op contract.Operation, records []contract.Record, opts xcfg.ExecOptions, recOpts contract.RecordOptions, observe Observer) Result {
	start := time.Now()
	res := Result{Entity: entity}

	if opts.BatchSize <= 0 {
		opts.BatchSize = 1
	}
	if len(records) == 0 {
		res.Duration = time.Since(start)
		return res
	}

	batches := partition(records, opts.BatchSize)

	// batch_size == 1 degenerates to per-record mode without a probe.
	if opts.BatchSize == 1 {
		e.runPerRecordOnly(ctx, entity, op, batches, opts, recOpts, observe, &res)
		res.Duration = time.Since(start)
		return res
	}

	key := capKey{entity: entity, op: op}
	bulkSupported, known := e.caps.Load(key)

	remaining := batches
	if !known {
		probeBatch := batches[0]
		remaining = batches[1:]

		supported, probeErrs := e.probe(ctx, entity, op, probeBatch[0], opts, recOpts)
		e.caps.Store(key, supported)
		bulkSupported = supported
		if !supported && len(probeErrs) == 0 {
			// Bulk is unsupported and the probe record was not written:
			// every record, the probe's included, goes per-record.
			remaining = batches
		} else {
			res.Processed++
			if len(probeErrs) == 0 {
				res.SuccessCount++
			} else {
				res.FailureCount++
				res.Errors = append(res.Errors, probeErrs...)
			}

			if len(probeBatch) > 1 {
				// The probe consumed only the first record; the rest of its
				// batch still needs sending alongside the remaining batches.
				remaining = append([][]contract.Record{probeBatch[1:]}, remaining...)
			}
		}
	}

	maxParallel := innerParallelism(e.pool.TotalParallelism())

	var mu sync.Mutex
	xsem.Parallel(ctx, remaining, maxParallel, func(ctx context.Context, b []contract.Record, _ int) {
		var r Result
		if bulkSupported {
			r = e.runBulkBatch(ctx, entity, op, b, opts, recOpts, observe)
		} else {
			r = e.runPerRecordBatch(ctx, entity, op, b, opts, recOpts, observe)
		}

		mu.Lock()
		res.Processed += r.Processed
		res.SuccessCount += r.SuccessCount
		res.FailureCount += r.FailureCount
		res.Errors = append(res.Errors, r.Errors...)
		mu.Unlock()
	})

	if ctx.Err() != nil {
		res.Errors = append(res.Errors, xerr.Wrap(xerr.KindCancelled, ctx.Err(), "execution cancelled for entity %q", entity))
	}

	res.Duration = time.Since(start)
	return res
}

// innerParallelism resolves the inner-loop fan-out bound per spec §9's
// authoritative answer to the conflicting source guidance: the minimum of
// GOMAXPROCS*4 and the pool's total admitted parallelism. The pool's
// semaphore remains the only real limiter; this bound just avoids spawning
// goroutines far beyond what the pool could ever admit at once.
func innerParallelism(poolTotal int) int {
	n := runtime.GOMAXPROCS(0) * 4
	if poolTotal > 0 && poolTotal < n {
		return poolTotal
	}
	if n <= 0 {
		return 1
	}
	return n
}

func partition(records []contract.Record, size int) [][]contract.Record {
	batches := make([][]contract.Record, 0, (len(records)+size-1)/size)
	for i := 0; i < len(records); i += size {
		end := i + size
		if end > len(records) {
			end = len(records)
		}
		batches = append(batches, records[i:end])
	}
	return batches
}

func (e *Executor) probe(ctx context.Context, entity string, op contract.Operation, rec contract.Record, opts xcfg.ExecOptions, recOpts contract.RecordOptions) (bool, []*xerr.Error) {
	sent := []contract.Record{applyRecordOptions(rec, recOpts)}

	for attempt := 0; ; attempt++ {
		client, err := e.pool.Acquire(ctx)
		if err != nil {
			return false, []*xerr.Error{asExecError(err, entity)}
		}

		sctx, cancel := sendCtx(ctx, opts)
		resp, err := client.Handle.SendBulk(sctx, entity, op, sent, recOpts)
		cancel()
		if err != nil {
			client.Poison()
			e.pool.Release(client)
			if attempt >= 5 {
				return false, []*xerr.Error{xerr.Wrap(xerr.KindTransientNetwork, err, "probe failed for %s/%s", entity, op).WithRecord(entity, rec.ID)}
			}
			sleepBackoff(ctx, attempt)
			continue
		}
		defer e.pool.Release(client)

		if resp.NotSupported {
			return false, nil
		}
		if resp.Throttled {
			e.pool.RecordThrottle(client.SourceName, resp.RetryAfter)
			return true, []*xerr.Error{xerr.New(xerr.KindThrottled, "probe throttled").WithRetryAfter(resp.RetryAfter).WithRecord(entity, rec.ID)}
		}

		return true, outcomesToErrors(entity, resp.Outcomes)
	}
}

func (e *Executor) runBulkBatch(ctx context.Context, entity string, op contract.Operation, batch []contract.Record, opts xcfg.ExecOptions, recOpts contract.RecordOptions, observe Observer) Result {
	res := Result{Entity: entity}
	sent := applyRecordOptionsAll(batch, recOpts)

	for attempt := 0; ; attempt++ {
		if ctx.Err() != nil {
			res.Errors = append(res.Errors, xerr.Wrap(xerr.KindCancelled, ctx.Err(), "batch cancelled"))
			return res
		}

		client, err := e.pool.Acquire(ctx)
		if err != nil {
			res.Errors = append(res.Errors, asExecError(err, entity))
			return res
		}

		batchStart := time.Now()
		sctx, cancel := sendCtx(ctx, opts)
		resp, sendErr := client.Handle.SendBulk(sctx, entity, op, sent, recOpts)
		cancel()

		if sendErr != nil {
			client.Poison()
			e.pool.Release(client)

			if attempt >= 5 {
				res.Processed += int64(len(batch))
				res.FailureCount += int64(len(batch))
				res.Errors = append(res.Errors, xerr.Wrap(xerr.KindTransientNetwork, sendErr, "batch failed after retries"))
				return res
			}
			sleepBackoff(ctx, attempt)
			continue
		}

		if resp.Throttled {
			e.pool.RecordThrottle(client.SourceName, resp.RetryAfter)
			e.pool.Release(client)

			if observe != nil {
				observe(BatchSample{Entity: entity, Size: len(batch), Duration: time.Since(batchStart), Throttled: true})
			}

			if attempt >= effectiveMaxBatchRetries(opts) {
				res.Processed += int64(len(batch))
				res.FailureCount += int64(len(batch))
				res.Errors = append(res.Errors, xerr.New(xerr.KindThrottled, "batch exceeded max_batch_retries"))
				return res
			}
			continue // Acquire naturally waits out the throttle next loop.
		}

		e.pool.Release(client)
		if observe != nil {
			observe(BatchSample{Entity: entity, Size: len(batch), Duration: time.Since(batchStart)})
		}

		res.Processed += int64(len(batch))
		for _, o := range resp.Outcomes {
			if o.Success {
				res.SuccessCount++
				continue
			}
			res.FailureCount++
			xe := xerr.New(mapContractKind(o.Kind), o.Message).WithField(o.Field).WithRecord(entity, o.RecordID)
			res.Errors = append(res.Errors, xe)
			if !opts.ContinueOnError {
				return res
			}
		}
		return res
	}
}

func (e *Executor) runPerRecordBatch(ctx context.Context, entity string, op contract.Operation, batch []contract.Record, opts xcfg.ExecOptions, recOpts contract.RecordOptions, observe Observer) Result {
	res := Result{Entity: entity}
	batchStart := time.Now()

	for _, rec := range batch {
		if ctx.Err() != nil {
			res.Errors = append(res.Errors, xerr.Wrap(xerr.KindCancelled, ctx.Err(), "per-record send cancelled"))
			break
		}

		ok, xe := e.sendOneWithRetry(ctx, entity, op, rec, opts, recOpts)
		res.Processed++
		if ok {
			res.SuccessCount++
		} else {
			res.FailureCount++
			if xe != nil {
				res.Errors = append(res.Errors, xe)
			}
			if !opts.ContinueOnError {
				break
			}
		}
	}

	if observe != nil {
		observe(BatchSample{Entity: entity, Size: len(batch), Duration: time.Since(batchStart)})
	}
	return res
}

func (e *Executor) runPerRecordOnly(ctx context.Context, entity string, op contract.Operation, batches [][]contract.Record, opts xcfg.ExecOptions, recOpts contract.RecordOptions, observe Observer, res *Result) {
	for _, b := range batches {
		r := e.runPerRecordBatch(ctx, entity, op, b, opts, recOpts, observe)
		res.Processed += r.Processed
		res.SuccessCount += r.SuccessCount
		res.FailureCount += r.FailureCount
		res.Errors = append(res.Errors, r.Errors...)
		if ctx.Err() != nil {
			break
		}
	}
}

func (e *Executor) sendOneWithRetry(ctx context.Context, entity string, op contract.Operation, rec contract.Record, opts xcfg.ExecOptions, recOpts contract.RecordOptions) (bool, *xerr.Error) {
	rec = applyRecordOptions(rec, recOpts)

	for attempt := 0; ; attempt++ {
		if ctx.Err() != nil {
			return false, xerr.Wrap(xerr.KindCancelled, ctx.Err(), "cancelled")
		}

		client, err := e.pool.Acquire(ctx)
		if err != nil {
			return false, asExecError(err, entity)
		}

		sctx, cancel := sendCtx(ctx, opts)
		resp, sendErr := client.Handle.SendSingle(sctx, entity, op, rec, recOpts)
		cancel()
		if sendErr != nil {
			client.Poison()
			e.pool.Release(client)
			if attempt >= 5 {
				return false, xerr.Wrap(xerr.KindTransientNetwork, sendErr, "record send failed after retries").WithRecord(entity, rec.ID)
			}
			sleepBackoff(ctx, attempt)
			continue
		}

		if resp.Throttled {
			e.pool.RecordThrottle(client.SourceName, resp.RetryAfter)
			e.pool.Release(client)
			if attempt >= effectiveMaxBatchRetries(opts) {
				return false, xerr.New(xerr.KindThrottled, "record exceeded max_batch_retries").WithRetryAfter(resp.RetryAfter).WithRecord(entity, rec.ID)
			}
			continue
		}

		e.pool.Release(client)

		if resp.Outcome.Success {
			return true, nil
		}
		return false, xerr.New(mapContractKind(resp.Outcome.Kind), resp.Outcome.Message).WithField(resp.Outcome.Field).WithRecord(entity, rec.ID)
	}
}

func applyRecordOptions(rec contract.Record, opts contract.RecordOptions) contract.Record {
	if !opts.StripOwnerFields && opts.UserMapping == nil {
		return rec
	}

	c := rec.Clone()
	for _, f := range []string{"owner", "created_by", "modified_by"} {
		v, ok := c.Fields[f]
		if !ok {
			continue
		}
		if opts.StripOwnerFields {
			delete(c.Fields, f)
			continue
		}
		if opts.UserMapping != nil {
			if s, ok := v.(string); ok {
				c.Fields[f] = opts.UserMapping(s)
			}
		}
	}
	return c
}

func applyRecordOptionsAll(batch []contract.Record, opts contract.RecordOptions) []contract.Record {
	if !opts.StripOwnerFields && opts.UserMapping == nil {
		return batch
	}
	out := make([]contract.Record, len(batch))
	for i, r := range batch {
		out[i] = applyRecordOptions(r, opts)
	}
	return out
}

func outcomesToErrors(entity string, outcomes []contract.RecordOutcome) []*xerr.Error {
	var errs []*xerr.Error
	for _, o := range outcomes {
		if o.Success {
			continue
		}
		errs = append(errs, xerr.New(mapContractKind(o.Kind), o.Message).WithField(o.Field).WithRecord(entity, o.RecordID))
	}
	return errs
}

func mapContractKind(k contract.ErrorKind) xerr.ErrorKind {
	switch k {
	case contract.KindThrottled:
		return xerr.KindThrottled
	case contract.KindBulkNotSupportedOnEntity:
		return xerr.KindBulkNotSupportedOnEntity
	case contract.KindReferenceNotFound:
		return xerr.KindReferenceNotFound
	case contract.KindDuplicateRecord:
		return xerr.KindDuplicateRecord
	case contract.KindRequiredFieldMissing:
		return xerr.KindRequiredFieldMissing
	case contract.KindPermissionDenied:
		return xerr.KindPermissionDenied
	case contract.KindTransientNetwork:
		return xerr.KindTransientNetwork
	case contract.KindCancelled:
		return xerr.KindCancelled
	default:
		return xerr.KindUnknown
	}
}

func asExecError(err error, entity string) *xerr.Error {
	var xe *xerr.Error
	if errors.As(err, &xe) {
		return xe.WithRecord(entity, "")
	}
	return xerr.Wrap(xerr.KindUnknown, err, "acquiring client for %q", entity)
}

func sleepBackoff(ctx context.Context, attempt int) {
	base := 500 * time.Millisecond
	d := base * time.Duration(1<<uint(attempt))
	if d > 30*time.Second {
		d = 30 * time.Second
	}
	jittered := jitter(d, 0.2)

	t := time.NewTimer(jittered)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func jitter(d time.Duration, frac float64) time.Duration {
	delta := float64(d) * frac
	return d + time.Duration((rand.Float64()*2-1)*delta)
}
