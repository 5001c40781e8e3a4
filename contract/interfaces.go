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

package contract

import "context"

// ServiceClient is the abstract operation set the pool vends and the
// executor drives. Implementations wrap one authenticated session against
// one source; Clone produces an independent handle sharing the same
// credentials but isolated per-connection state (session affinity, token
// rotation) as required by the Pooled Client lifecycle.
type ServiceClient interface {
	SendBulk(ctx context.Context, entity string, op Operation, records []Record, opts RecordOptions) (BulkResponse, error)
	SendSingle(ctx context.Context, entity string, op Operation, record Record, opts RecordOptions) (SingleResponse, error)
	// Clone returns a new client usable concurrently with the receiver,
	// sharing credentials but not connection-local state.
	Clone(ctx context.Context) (ServiceClient, error)
	// Validate performs a cheap liveness check; a non-nil error means the
	// client must be discarded rather than reused.
	Validate(ctx context.Context) error
	// Close releases any resources held by the client.
	Close() error
	// CurrentDOP returns the service's latest concurrency recommendation
	// for this identity, read live so the pool can adapt.
	CurrentDOP() int
}

// ClientFactory constructs a seed ServiceClient for one source, given
// whatever authentication material the caller already resolved. Concrete
// auth backends (device-code, client-secret, managed-identity, ...) are
// entirely out of scope; this is the seam they plug into.
type ClientFactory interface {
	NewSeedClient(ctx context.Context) (ServiceClient, error)
}

// SchemaReader parses an on-disk or in-memory schema document into a
// MigrationSchema. Parsing format is out of scope; memio provides a
// reference YAML implementation.
type SchemaReader interface {
	ReadSchema(ctx context.Context) (MigrationSchema, error)
}

// RecordStream yields one entity's records in order. Implementations may
// back this with an in-memory slice, a file, or a network stream.
type RecordStream interface {
	// Next returns the next record, or ok == false when exhausted.
	Next(ctx context.Context) (rec Record, ok bool, err error)
	Close() error
}

// ArchiveReader produces a schema and a per-entity record stream from a
// migration package (export archive).
type ArchiveReader interface {
	SchemaReader
	OpenEntity(ctx context.Context, entity string) (RecordStream, error)
	Close() error
}

// ArchiveWriter is the export-side counterpart of ArchiveReader.
type ArchiveWriter interface {
	WriteSchema(ctx context.Context, schema MigrationSchema) error
	// AppendRecord writes one record for entity to the archive.
	AppendRecord(ctx context.Context, entity string, rec Record) error
	Close() error
}

// SideLog is the compact second-pass input the importer builds while
// streaming tiers: per entity, the record ids and the deferred-field values
// stripped from the first pass. Implementations may hold rows in memory or
// spill to disk; the importer only ever appends during tiers and replays
// once after the last tier.
type SideLog interface {
	Append(ctx context.Context, entity string, id string, fields map[string]any) error
	// Replay returns the rows appended for entity, each as a Record carrying
	// only the deferred fields.
	Replay(ctx context.Context, entity string) ([]Record, error)
	Close() error
}

// PhaseKind enumerates the named phases a progress sink can report.
type PhaseKind string

const (
	PhaseAnalyzing    PhaseKind = "analyzing"
	PhaseExporting    PhaseKind = "exporting"
	PhaseImporting    PhaseKind = "importing"
	PhaseDeferredPass PhaseKind = "deferred_pass"
	PhaseComplete     PhaseKind = "complete"
)

// ProgressEvent is one Progress{} notification.
type ProgressEvent struct {
	Current int64
	Total   int64
	Entity  string
	Rate    float64 // records/sec, 0 if not yet measurable
	ETA     *int64  // seconds, nil if not yet measurable
}

// ErrorEvent is one Error(kind, msg, context) notification.
type ErrorEvent struct {
	Kind    ErrorKind
	Message string
	Context map[string]any
}

// ProgressSink receives the push-model events the importer and executor
// emit over the course of a run. Implementations must be safe for
// concurrent use: multiple entities within one tier report simultaneously.
type ProgressSink interface {
	Phase(kind PhaseKind, message string)
	Progress(ev ProgressEvent)
	Warning(msg string)
	Info(msg string)
	Error(ev ErrorEvent)
	Complete(result MigrationResult)
}

// MigrationError is one failure recorded against the final result. It also
// satisfies the error interface so fakes and adapters can return it directly
// from ServiceClient methods.
type MigrationError struct {
	RecordID string
	Entity   string
	Field    string
	Kind     ErrorKind
	Message  string
}

func (e *MigrationError) Error() string {
	return e.Message
}

// EntityResult is the per-entity outcome accumulated over a run.
type EntityResult struct {
	Entity           string
	RecordsProcessed int64
	SuccessCount     int64
	FailureCount     int64
	Duration         int64 // nanoseconds
}

// MigrationResult is the final, aggregate outcome of one run.
type MigrationResult struct {
	Entities         []EntityResult
	RecordsProcessed int64
	SuccessCount     int64
	FailureCount     int64
	Duration         int64 // nanoseconds
	Errors           []MigrationError
	// ErrorPatterns is a derived frequency map, kind -> count.
	ErrorPatterns map[ErrorKind]int64
	Cancelled     bool
}
