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

// Package memio carries the reference implementations of the archive and
// schema contracts: an in-memory migration package usable by tests and by
// callers that already hold their records, and a YAML schema reader.
// Archive formats proper are out of scope for the core; these exist so the
// importer is runnable end-to-end without inventing one. A disk-backed,
// LZ4-compressed variant lives in memio/diskarchive.
package memio

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/dvbulk/corelib/contract"
)

// Archive is an in-memory migration package. It implements both
// contract.ArchiveReader and contract.ArchiveWriter, so an export can be
// replayed straight into an import without touching disk.
type Archive struct {
	mu      sync.RWMutex
	schema  contract.MigrationSchema
	records map[string][]contract.Record
	closed  bool
}

// NewArchive returns an empty Archive.
func NewArchive() *Archive {
	return &Archive{records: map[string][]contract.Record{}}
}

// WriteSchema implements contract.ArchiveWriter.
func (a *Archive) WriteSchema(ctx context.Context, schema contract.MigrationSchema) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return fmt.Errorf("memio: archive is closed")
	}
	a.schema = schema
	return nil
}

// AppendRecord implements contract.ArchiveWriter. A record arriving with no
// id is assigned a fresh UUID, mirroring what the service would do on create.
func (a *Archive) AppendRecord(ctx context.Context, entity string, rec contract.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return fmt.Errorf("memio: archive is closed")
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	a.records[entity] = append(a.records[entity], rec)
	return nil
}

// ReadSchema implements contract.SchemaReader.
func (a *Archive) ReadSchema(ctx context.Context) (contract.MigrationSchema, error) {
	if err := ctx.Err(); err != nil {
		return contract.MigrationSchema{}, err
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.schema, nil
}

// OpenEntity implements contract.ArchiveReader. The stream iterates a
// snapshot of the entity's records taken at open time.
func (a *Archive) OpenEntity(ctx context.Context, entity string) (contract.RecordStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.mu.RLock()
	recs := a.records[entity]
	a.mu.RUnlock()
	return &sliceStream{records: recs}, nil
}

// Close implements both archive contracts.
func (a *Archive) Close() error {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()
	return nil
}

var (
	_ contract.ArchiveReader = (*Archive)(nil)
	_ contract.ArchiveWriter = (*Archive)(nil)
)

type sliceStream struct {
	records []contract.Record
	next    int
}

func (s *sliceStream) Next(ctx context.Context) (contract.Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return contract.Record{}, false, err
	}
	if s.next >= len(s.records) {
		return contract.Record{}, false, nil
	}
	r := s.records[s.next]
	s.next++
	return r, true, nil
}

func (s *sliceStream) Close() error { return nil }

// NewRecordStream wraps an in-memory slice as a contract.RecordStream.
func NewRecordStream(records []contract.Record) contract.RecordStream {
	return &sliceStream{records: records}
}
