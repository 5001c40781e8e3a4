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

// Package importer drives a dependency-ordered import of a migration
// package: build the entity graph, run each tier's entities in parallel
// through the bulk executor, then write the deferred fields that were
// stripped to break circular references in a second pass. The pool's
// admission semaphore is the only global concurrency limiter — entities
// within a tier are all started and queue naturally on acquisition.
package importer

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dvbulk/corelib/contract"
	"github.com/dvbulk/corelib/depgraph"
	"github.com/dvbulk/corelib/execbulk"
	"github.com/dvbulk/corelib/progress"
	"github.com/dvbulk/corelib/xcfg"
	"github.com/dvbulk/corelib/xerr"
	"github.com/dvbulk/corelib/xlog"
	"github.com/dvbulk/corelib/xsem"
)

// defaultSpillAfter is the per-entity row count above which the side-log
// moves from memory to a temp file.
const defaultSpillAfter = 100_000

// Options gathers everything one Run needs beyond the archive itself.
type Options struct {
	Importer xcfg.ImporterOptions
	Exec     xcfg.ExecOptions
	Record   contract.RecordOptions

	// Sink receives phase/progress/error events; nil means no reporting.
	Sink contract.ProgressSink

	// SideLog overrides the deferred-field side-log; nil uses the built-in
	// memory-then-spill log.
	SideLog contract.SideLog
}

// Importer orchestrates tiered imports over a shared pool and executor.
type Importer struct {
	exec *execbulk.Executor
	log  xlog.Logger
}

// New returns an Importer driving exec.
func New(exec *execbulk.Executor, log xlog.Logger) *Importer {
	if log == nil {
		log = xlog.Nop()
	}
	return &Importer{exec: exec, log: log}
}

// Run imports the whole package from archive. It returns the aggregate
// result in every case; the error is non-nil when the run was aborted
// (cancellation, or a tier failure with continue_on_error unset) rather
// than merely partial.
func (im *Importer) Run(ctx context.Context, archive contract.ArchiveReader, opts Options) (contract.MigrationResult, error) {
	sink := progress.OrNop(opts.Sink)
	acc := progress.NewAccumulator()

	sideLog := opts.SideLog
	if sideLog == nil {
		sideLog = newSideLog(defaultSpillAfter)
		defer func() { _ = sideLog.Close() }()
	}

	sink.Phase(contract.PhaseAnalyzing, "reading schema and building dependency graph")

	schema, err := archive.ReadSchema(ctx)
	if err != nil {
		return im.abort(sink, acc, xerr.Wrap(xerr.KindUnknown, err, "reading migration schema"))
	}

	graph, err := depgraph.Build(schema)
	if err != nil {
		return im.abort(sink, acc, xerr.Wrap(xerr.KindUnknown, err, "building dependency graph"))
	}

	op := operationFor(opts.Importer.ImportMode)
	recOpts := recordOptions(opts)

	runErr := im.runTiers(ctx, archive, graph, op, recOpts, opts, sink, acc, sideLog)

	// The deferred-field pass still runs after partial tier failures
	// (continue_on_error leaves runErr nil); missing targets surface as
	// ReferenceNotFound, which is intended and reported.
	if runErr == nil && ctx.Err() == nil {
		im.runDeferredPass(ctx, graph, recOpts, opts, sink, acc, sideLog)
	}

	if ctx.Err() != nil {
		acc.MarkCancelled()
		if runErr == nil {
			runErr = xerr.Wrap(xerr.KindCancelled, ctx.Err(), "import cancelled")
		}
	}

	result := acc.Result()
	sink.Phase(contract.PhaseComplete, "import finished")
	sink.Complete(result)

	return result, runErr
}

// runTiers walks the tiers in order, stopping at the first failed tier when
// continue_on_error is unset, or at cancellation.
func (im *Importer) runTiers(ctx context.Context, archive contract.ArchiveReader, graph *depgraph.Graph, op contract.Operation, recOpts contract.RecordOptions, opts Options, sink contract.ProgressSink, acc *progress.Accumulator, sideLog contract.SideLog) error {
	for i, tier := range graph.Tiers {
		if err := ctx.Err(); err != nil {
			return xerr.Wrap(xerr.KindCancelled, err, "cancelled before tier %d", i)
		}

		sink.Phase(contract.PhaseImporting, tierLabel(i, tier))
		im.log.Info("starting tier", xlog.Fields{"tier": i, "entities": tier})

		var (
			mu       sync.Mutex
			tierErrs []*xerr.Error
		)

		// All entities of the tier are submitted at once; the pool's
		// admission semaphore does the real queuing.
		xsem.Parallel(ctx, tier, -1, func(ctx context.Context, entity string, _ int) {
			res, err := im.runEntity(ctx, archive, graph, entity, op, recOpts, opts, sink, sideLog)
			acc.Merge(entity, res.Processed, res.SuccessCount, res.FailureCount, res.Duration, res.Errors)

			if err != nil {
				mu.Lock()
				tierErrs = append(tierErrs, err)
				mu.Unlock()
				sink.Error(contract.ErrorEvent{
					Kind:    contract.KindUnknown,
					Message: err.Error(),
					Context: map[string]any{"entity": entity, "tier": i},
				})
			}
		})

		if err := ctx.Err(); err != nil {
			return xerr.Wrap(xerr.KindCancelled, err, "cancelled during tier %d", i)
		}

		if len(tierErrs) > 0 {
			if !opts.Importer.ContinueOnError {
				return xerr.Wrap(xerr.KindUnknown, tierErrs[0], "tier %d failed", i)
			}
			sink.Warning(tierLabel(i, tier) + " completed with failures; continuing")
		}
	}
	return nil
}

// runEntity loads one entity's records (stripping its deferred fields into
// the side-log) and drives the executor over them. The returned error is
// non-nil only when the entity reached the Failed terminal state.
func (im *Importer) runEntity(ctx context.Context, archive contract.ArchiveReader, graph *depgraph.Graph, entity string, op contract.Operation, recOpts contract.RecordOptions, opts Options, sink contract.ProgressSink, sideLog contract.SideLog) (execbulk.Result, *xerr.Error) {
	records, err := im.loadEntity(ctx, archive, graph, entity, sideLog)
	if err != nil {
		return execbulk.Result{Entity: entity}, err
	}

	res := im.executeEntity(ctx, entity, op, records, opts, recOpts, sink)

	if res.FailureCount > 0 && !opts.Exec.ContinueOnError {
		if len(res.Errors) > 0 {
			return res, res.Errors[0]
		}
		return res, xerr.New(xerr.KindUnknown, "entity %q failed", entity)
	}
	return res, nil
}

// executeEntity runs the executor over records, translating batch samples
// into Progress events for the sink.
func (im *Importer) executeEntity(ctx context.Context, entity string, op contract.Operation, records []contract.Record, opts Options, recOpts contract.RecordOptions, sink contract.ProgressSink) execbulk.Result {
	total := int64(len(records))
	started := time.Now()

	var current atomic.Int64
	observe := func(s execbulk.BatchSample) {
		if s.Throttled {
			return
		}
		cur := current.Add(int64(s.Size))
		ev := contract.ProgressEvent{Current: cur, Total: total, Entity: entity}
		if elapsed := time.Since(started).Seconds(); elapsed > 0 {
			ev.Rate = float64(cur) / elapsed
			if ev.Rate > 0 && cur < total {
				eta := int64(float64(total-cur) / ev.Rate)
				ev.ETA = &eta
			}
		}
		sink.Progress(ev)
	}

	return im.exec.ExecuteBatches(ctx, entity, op, records, opts.Exec, recOpts, observe)
}

// loadEntity drains the archive stream for entity. For entities with
// deferred fields, each record is cloned, the deferred fields removed, and
// their values appended to the side-log keyed by record id.
func (im *Importer) loadEntity(ctx context.Context, archive contract.ArchiveReader, graph *depgraph.Graph, entity string, sideLog contract.SideLog) ([]contract.Record, *xerr.Error) {
	stream, err := archive.OpenEntity(ctx, entity)
	if err != nil {
		return nil, xerr.Wrap(xerr.KindUnknown, err, "opening record stream for %q", entity)
	}
	defer func() { _ = stream.Close() }()

	deferred := graph.DeferredFields[entity]

	var records []contract.Record
	for {
		rec, ok, err := stream.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, xerr.Wrap(xerr.KindCancelled, err, "cancelled reading %q", entity)
			}
			return nil, xerr.Wrap(xerr.KindUnknown, err, "reading record stream for %q", entity)
		}
		if !ok {
			break
		}

		if len(deferred) > 0 {
			rec = im.stripDeferred(ctx, entity, rec, deferred, sideLog)
		}
		records = append(records, rec)
	}

	return records, nil
}

// stripDeferred removes entity's deferred fields from rec, logging the
// removed values for the second pass. Records without an id cannot be
// re-addressed later and keep their fields as-is.
func (im *Importer) stripDeferred(ctx context.Context, entity string, rec contract.Record, deferred []string, sideLog contract.SideLog) contract.Record {
	if rec.ID == "" {
		return rec
	}

	var stripped map[string]any
	c := rec.Clone()
	for _, f := range deferred {
		v, ok := c.Fields[f]
		if !ok || v == nil {
			continue
		}
		if stripped == nil {
			stripped = map[string]any{}
		}
		stripped[f] = v
		delete(c.Fields, f)
	}

	if stripped == nil {
		return rec
	}
	if err := sideLog.Append(ctx, entity, rec.ID, stripped); err != nil {
		im.log.Error("side-log append failed, field values will not be deferred", err, xlog.Fields{"entity": entity, "record": rec.ID})
		return rec
	}
	return c
}

// runDeferredPass replays the side-log and issues update batches carrying
// only the deferred fields.
func (im *Importer) runDeferredPass(ctx context.Context, graph *depgraph.Graph, recOpts contract.RecordOptions, opts Options, sink contract.ProgressSink, acc *progress.Accumulator, sideLog contract.SideLog) {
	if len(graph.DeferredFields) == 0 {
		return
	}

	entities := make([]string, 0, len(graph.DeferredFields))
	for e := range graph.DeferredFields {
		entities = append(entities, e)
	}
	sort.Strings(entities)

	sink.Phase(contract.PhaseDeferredPass, "writing deferred circular-reference fields")

	for _, entity := range entities {
		if ctx.Err() != nil {
			acc.MarkCancelled()
			return
		}

		rows, err := sideLog.Replay(ctx, entity)
		if err != nil {
			acc.Merge(entity, 0, 0, 0, 0, []*xerr.Error{xerr.Wrap(xerr.KindUnknown, err, "replaying side-log for %q", entity)})
			continue
		}
		if len(rows) == 0 {
			continue
		}

		res := im.executeEntity(ctx, entity, contract.OpUpdate, rows, opts, recOpts, sink)
		acc.Merge(entity, res.Processed, res.SuccessCount, res.FailureCount, res.Duration, res.Errors)
	}
}

func (im *Importer) abort(sink contract.ProgressSink, acc *progress.Accumulator, err *xerr.Error) (contract.MigrationResult, error) {
	result := acc.Result()
	sink.Error(contract.ErrorEvent{Kind: contract.KindUnknown, Message: err.Error()})
	sink.Complete(result)
	return result, err
}

func operationFor(mode xcfg.ImportMode) contract.Operation {
	switch mode {
	case xcfg.ImportCreate:
		return contract.OpCreate
	case xcfg.ImportUpdate:
		return contract.OpUpdate
	default:
		return contract.OpUpsert
	}
}

func recordOptions(opts Options) contract.RecordOptions {
	r := opts.Record
	r.BypassPlugins = r.BypassPlugins || opts.Importer.BypassPlugins
	r.BypassFlows = r.BypassFlows || opts.Importer.BypassFlows
	return r
}

func tierLabel(i int, entities []string) string {
	if len(entities) == 1 {
		return fmt.Sprintf("tier %d: %s", i, entities[0])
	}
	return fmt.Sprintf("tier %d: %d entities", i, len(entities))
}
