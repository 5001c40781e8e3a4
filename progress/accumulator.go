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

package progress

import (
	"sync"
	"time"

	"github.com/dvbulk/corelib/contract"
	"github.com/dvbulk/corelib/xerr"
)

// Accumulator merges per-entity outcomes into the run's MigrationResult.
// Entities within one tier complete concurrently; Merge is safe for
// concurrent use and entries are folded under a single mutex, matching the
// shared-resource policy for result accumulation.
type Accumulator struct {
	mu        sync.Mutex
	start     time.Time
	entities  []contract.EntityResult
	errors    []contract.MigrationError
	cancelled bool
}

// NewAccumulator starts the run clock.
func NewAccumulator() *Accumulator {
	return &Accumulator{start: time.Now()}
}

// Merge folds one entity's outcome into the run. errs are classified into
// per-record MigrationError entries; a KindCancelled error marks the whole
// run as cancelled.
func (a *Accumulator) Merge(entity string, processed, success, failure int64, dur time.Duration, errs []*xerr.Error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.entities = append(a.entities, contract.EntityResult{
		Entity:           entity,
		RecordsProcessed: processed,
		SuccessCount:     success,
		FailureCount:     failure,
		Duration:         int64(dur),
	})

	for _, e := range errs {
		if e == nil {
			continue
		}
		if e.Kind == xerr.KindCancelled {
			a.cancelled = true
		}
		a.errors = append(a.errors, contract.MigrationError{
			RecordID: e.RecordID,
			Entity:   entityOr(e.Entity, entity),
			Field:    e.Field,
			Kind:     toContractKind(e.Kind),
			Message:  e.Message,
		})
	}
}

// MarkCancelled records that the run was cut short, independent of any
// per-record error already merged.
func (a *Accumulator) MarkCancelled() {
	a.mu.Lock()
	a.cancelled = true
	a.mu.Unlock()
}

// Result finalizes the run: totals, duration, and the derived error-pattern
// frequency map. Safe to call once all Merge calls have returned.
func (a *Accumulator) Result() contract.MigrationResult {
	a.mu.Lock()
	defer a.mu.Unlock()

	res := contract.MigrationResult{
		Entities:      a.entities,
		Errors:        a.errors,
		Duration:      int64(time.Since(a.start)),
		ErrorPatterns: map[contract.ErrorKind]int64{},
		Cancelled:     a.cancelled,
	}

	for _, e := range a.entities {
		res.RecordsProcessed += e.RecordsProcessed
		res.SuccessCount += e.SuccessCount
		res.FailureCount += e.FailureCount
	}
	for _, e := range a.errors {
		res.ErrorPatterns[e.Kind]++
	}

	return res
}

func entityOr(entity, fallback string) string {
	if entity != "" {
		return entity
	}
	return fallback
}

// toContractKind narrows the module-internal error kind to the smaller set
// exposed on the contract boundary. Kinds the boundary has no name for
// (pool exhaustion, tolerance, connection failures) map to KindUnknown —
// their detail stays in the message.
func toContractKind(k xerr.ErrorKind) contract.ErrorKind {
	switch k {
	case xerr.KindThrottled:
		return contract.KindThrottled
	case xerr.KindCancelled:
		return contract.KindCancelled
	case xerr.KindBulkNotSupportedOnEntity:
		return contract.KindBulkNotSupportedOnEntity
	case xerr.KindReferenceNotFound:
		return contract.KindReferenceNotFound
	case xerr.KindDuplicateRecord:
		return contract.KindDuplicateRecord
	case xerr.KindRequiredFieldMissing:
		return contract.KindRequiredFieldMissing
	case xerr.KindPermissionDenied:
		return contract.KindPermissionDenied
	case xerr.KindTransientNetwork:
		return contract.KindTransientNetwork
	default:
		return contract.KindUnknown
	}
}
