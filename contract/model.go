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

// Package contract defines the boundary this module shares with everything
// outside its data plane: authentication backends, schema readers, archive
// readers/writers and progress sinks. None of these are implemented here —
// contract/fake provides a scriptable in-memory ServiceClient for tests, and
// memio provides a reference ArchiveReader/ArchiveWriter/SchemaReader.
package contract

import "time"

// Operation is one of the four record-level operations the executor and
// importer understand.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpUpsert Operation = "upsert"
	OpDelete Operation = "delete"
)

// Record is one opaque key/value record moving through the pipeline. ID is
// the service-assigned identifier (typically a UUID string); it may be empty
// for records not yet created.
type Record struct {
	ID     string
	Fields map[string]any
}

// Clone returns a deep-enough copy of r suitable for in-place field
// transforms (owner stripping, user-mapping) without mutating the caller's
// original record.
func (r Record) Clone() Record {
	f := make(map[string]any, len(r.Fields))
	for k, v := range r.Fields {
		f[k] = v
	}
	return Record{ID: r.ID, Fields: f}
}

// Relationship is one lookup/reference field declared on an entity.
type Relationship struct {
	Name            string
	Target          string
	Field           string
	Mandatory       bool
	ManyToMany      bool
	IntersectEntity string
}

// EntitySchema describes one entity's fields and outgoing relationships.
type EntitySchema struct {
	Name          string
	Fields        []string
	Relationships []Relationship
}

// MigrationSchema is the full declarative shape of a migration package.
type MigrationSchema struct {
	Entities []EntitySchema
}

// RecordOptions are the send-time, per-record transform hints.
type RecordOptions struct {
	BypassPlugins    bool
	BypassFlows      bool
	StripOwnerFields bool
	// UserMapping, when non-nil, rewrites a source user id to its target
	// counterpart for owner-ish fields; ignored when StripOwnerFields is set.
	UserMapping func(sourceUserID string) string
}

// RecordOutcome is one record's result within a BulkResponse.
type RecordOutcome struct {
	RecordID string
	Success  bool
	Kind     ErrorKind
	Field    string
	Message  string
}

// BulkResponse is the result of ServiceClient.SendBulk.
type BulkResponse struct {
	Outcomes []RecordOutcome
	// Throttled, when true, means the whole batch was rejected; RetryAfter
	// is then meaningful and Outcomes is empty.
	Throttled  bool
	RetryAfter time.Duration
	// NotSupported signals the probe-once capability check failed: the
	// service does not support bulk operations for this entity/operation.
	NotSupported bool
}

// SingleResponse is the result of ServiceClient.SendSingle.
type SingleResponse struct {
	Outcome    RecordOutcome
	Throttled  bool
	RetryAfter time.Duration
}

// ErrorKind mirrors xerr.ErrorKind at the contract boundary so this package
// does not need to import xerr's pool/executor-specific constants; the
// executor (mapContractKind) and the progress accumulator (toContractKind)
// translate between the two.
type ErrorKind uint16

const (
	KindUnknown ErrorKind = iota
	KindThrottled
	KindBulkNotSupportedOnEntity
	KindReferenceNotFound
	KindDuplicateRecord
	KindRequiredFieldMissing
	KindPermissionDenied
	KindTransientNetwork
	KindCancelled
)
