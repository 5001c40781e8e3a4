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

package importer

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/dvbulk/corelib/contract"
)

// sideRow is one {id, deferred_field_values} entry.
type sideRow struct {
	ID     string         `json:"id"`
	Fields map[string]any `json:"fields"`
}

// sideLog is the default contract.SideLog: rows stay in memory until an
// entity crosses spillAfter, then that entity's log moves to a temp file and
// further appends stream straight to disk.
type sideLog struct {
	mu         sync.Mutex
	spillAfter int
	mem        map[string][]sideRow
	spilled    map[string]*spillFile
}

type spillFile struct {
	f   *os.File
	buf *bufio.Writer
	enc *json.Encoder
}

// newSideLog returns a SideLog spilling each entity to a temp file once it
// holds more than spillAfter rows. spillAfter <= 0 means never spill.
func newSideLog(spillAfter int) contract.SideLog {
	return &sideLog{
		spillAfter: spillAfter,
		mem:        map[string][]sideRow{},
		spilled:    map[string]*spillFile{},
	}
}

func (s *sideLog) Append(ctx context.Context, entity, id string, fields map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if sf, ok := s.spilled[entity]; ok {
		return sf.enc.Encode(sideRow{ID: id, Fields: fields})
	}

	s.mem[entity] = append(s.mem[entity], sideRow{ID: id, Fields: fields})
	if s.spillAfter > 0 && len(s.mem[entity]) > s.spillAfter {
		return s.spill(entity)
	}
	return nil
}

// spill moves entity's in-memory rows to a temp file. Caller holds s.mu.
func (s *sideLog) spill(entity string) error {
	f, err := os.CreateTemp("", "sidelog-*.jsonl")
	if err != nil {
		return fmt.Errorf("importer: spilling side-log for %q: %w", entity, err)
	}

	buf := bufio.NewWriter(f)
	sf := &spillFile{f: f, buf: buf, enc: json.NewEncoder(buf)}

	for _, row := range s.mem[entity] {
		if err := sf.enc.Encode(row); err != nil {
			_ = f.Close()
			_ = os.Remove(f.Name())
			return err
		}
	}

	delete(s.mem, entity)
	s.spilled[entity] = sf
	return nil
}

func (s *sideLog) Replay(ctx context.Context, entity string) ([]contract.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if sf, ok := s.spilled[entity]; ok {
		if err := sf.buf.Flush(); err != nil {
			return nil, err
		}
		if _, err := sf.f.Seek(0, 0); err != nil {
			return nil, err
		}

		var out []contract.Record
		sc := bufio.NewScanner(sf.f)
		for sc.Scan() {
			var row sideRow
			if err := json.Unmarshal(sc.Bytes(), &row); err != nil {
				return nil, fmt.Errorf("importer: replaying side-log for %q: %w", entity, err)
			}
			out = append(out, contract.Record{ID: row.ID, Fields: row.Fields})
		}
		return out, sc.Err()
	}

	rows := s.mem[entity]
	out := make([]contract.Record, 0, len(rows))
	for _, row := range rows {
		out = append(out, contract.Record{ID: row.ID, Fields: row.Fields})
	}
	return out, nil
}

func (s *sideLog) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for entity, sf := range s.spilled {
		name := sf.f.Name()
		if err := sf.f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		_ = os.Remove(name)
		delete(s.spilled, entity)
	}
	s.mem = map[string][]sideRow{}
	return firstErr
}
