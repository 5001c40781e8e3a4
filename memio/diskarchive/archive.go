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

// Package diskarchive is the on-disk variant of memio's reference archive:
// one directory holding schema.yaml plus an LZ4-compressed JSON-lines file
// per entity. Streams never buffer a whole entity in memory, so export and
// import stay flat regardless of record count.
package diskarchive

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/pierrec/lz4/v4"

	"github.com/dvbulk/corelib/contract"
	"github.com/dvbulk/corelib/memio"
)

const (
	schemaFile = "schema.yaml"
	entityExt  = ".jsonl.lz4"
)

// diskRecord is the JSON-lines shape of one record.
type diskRecord struct {
	ID     string         `json:"id"`
	Fields map[string]any `json:"fields"`
}

// Writer streams a migration package to dir, creating it if needed.
type Writer struct {
	dir string

	mu    sync.Mutex
	files map[string]*entityWriter
}

type entityWriter struct {
	f   *os.File
	lz  *lz4.Writer
	enc *json.Encoder
}

// NewWriter returns a Writer rooted at dir.
func NewWriter(dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("diskarchive: creating %s: %w", dir, err)
	}
	return &Writer{dir: dir, files: map[string]*entityWriter{}}, nil
}

// WriteSchema implements contract.ArchiveWriter.
func (w *Writer) WriteSchema(ctx context.Context, schema contract.MigrationSchema) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := memio.MarshalSchema(schema)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(w.dir, schemaFile), raw, 0o640)
}

// AppendRecord implements contract.ArchiveWriter. The per-entity file is
// opened lazily on the first record and kept open until Close.
func (w *Writer) AppendRecord(ctx context.Context, entity string, rec contract.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	ew, ok := w.files[entity]
	if !ok {
		f, err := os.Create(filepath.Join(w.dir, entityFileName(entity)))
		if err != nil {
			return fmt.Errorf("diskarchive: creating stream for %q: %w", entity, err)
		}
		lz := lz4.NewWriter(f)
		ew = &entityWriter{f: f, lz: lz, enc: json.NewEncoder(lz)}
		w.files[entity] = ew
	}

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	return ew.enc.Encode(diskRecord{ID: rec.ID, Fields: rec.Fields})
}

// Close flushes and closes every open entity stream.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var firstErr error
	for _, ew := range w.files {
		if err := ew.lz.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := ew.f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	w.files = map[string]*entityWriter{}
	return firstErr
}

var _ contract.ArchiveWriter = (*Writer)(nil)

// Reader opens a package previously written by Writer.
type Reader struct {
	dir string
}

// NewReader returns a Reader over dir. The schema file must exist.
func NewReader(dir string) (*Reader, error) {
	if _, err := os.Stat(filepath.Join(dir, schemaFile)); err != nil {
		return nil, fmt.Errorf("diskarchive: %s does not hold a migration package: %w", dir, err)
	}
	return &Reader{dir: dir}, nil
}

// ReadSchema implements contract.SchemaReader.
func (r *Reader) ReadSchema(ctx context.Context) (contract.MigrationSchema, error) {
	if err := ctx.Err(); err != nil {
		return contract.MigrationSchema{}, err
	}
	raw, err := os.ReadFile(filepath.Join(r.dir, schemaFile))
	if err != nil {
		return contract.MigrationSchema{}, err
	}
	return memio.UnmarshalSchema(raw)
}

// OpenEntity implements contract.ArchiveReader. A missing entity file is an
// empty stream, not an error: entities with zero records write no file.
func (r *Reader) OpenEntity(ctx context.Context, entity string) (contract.RecordStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(filepath.Join(r.dir, entityFileName(entity)))
	if err != nil {
		if os.IsNotExist(err) {
			return memio.NewRecordStream(nil), nil
		}
		return nil, err
	}

	return &fileStream{f: f, sc: bufio.NewScanner(lz4.NewReader(f))}, nil
}

// Close implements contract.ArchiveReader.
func (r *Reader) Close() error { return nil }

var _ contract.ArchiveReader = (*Reader)(nil)

type fileStream struct {
	f  *os.File
	sc *bufio.Scanner
}

func (s *fileStream) Next(ctx context.Context) (contract.Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return contract.Record{}, false, err
	}
	if !s.sc.Scan() {
		return contract.Record{}, false, s.sc.Err()
	}

	var dr diskRecord
	if err := json.Unmarshal(s.sc.Bytes(), &dr); err != nil {
		return contract.Record{}, false, fmt.Errorf("diskarchive: decoding record: %w", err)
	}
	return contract.Record{ID: dr.ID, Fields: dr.Fields}, true, nil
}

func (s *fileStream) Close() error { return s.f.Close() }

// entityFileName flattens an entity name to a safe file name.
func entityFileName(entity string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		default:
			return '_'
		}
	}, entity)
	return safe + entityExt
}
