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

package xerr

import (
	"errors"
	"fmt"
	"time"
)

// Error is the structured error type returned by the pool, executor and
// importer operations of this module. It carries enough context to build
// the per-record error entries and the error-pattern frequency map described in spec §3/§7,
// without requiring callers to parse message strings.
type Error struct {
	Kind       ErrorKind
	Message    string
	Entity     string
	Field      string
	RecordID   string
	RetryAfter time.Duration
	parent     error
}

// New builds an Error of the given kind with a formatted message.
func New(kind ErrorKind, pattern string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(pattern, args...)}
}

// Wrap builds an Error of the given kind around an existing error, preserving
// it as the parent for Unwrap/errors.Is/errors.As.
func Wrap(kind ErrorKind, parent error, pattern string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(pattern, args...), parent: parent}
}

// WithField returns a copy of the error annotated with a field name, matching
// the "attach field_name if extractable from the message" behavior in §4.4.
func (e *Error) WithField(field string) *Error {
	c := *e
	c.Field = field
	return &c
}

// WithRecord returns a copy of the error annotated with an entity and record id.
func (e *Error) WithRecord(entity, recordID string) *Error {
	c := *e
	c.Entity = entity
	c.RecordID = recordID
	return &c
}

// WithRetryAfter returns a copy of the error annotated with the retry-after
// duration carried by a throttle response.
func (e *Error) WithRetryAfter(d time.Duration) *Error {
	c := *e
	c.RetryAfter = d
	return &c
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.parent != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.parent)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the parent error for errors.Is/errors.As compatibility.
func (e *Error) Unwrap() error { return e.parent }

// Is reports whether target is an *Error with the same Kind, so callers can
// write `errors.Is(err, xerr.New(xerr.KindThrottled, ""))`-style checks, or
// more usefully, use Has below.
func (e *Error) Is(target error) bool {
	var o *Error
	if errors.As(target, &o) {
		return o.Kind == e.Kind
	}
	return false
}

// Has reports whether err is an *xerr.Error (at any point in its chain) whose
// Kind equals kind.
func Has(err error, kind ErrorKind) bool {
	var e *Error
	for errors.As(err, &e) {
		if e.Kind == kind {
			return true
		}
		if e.parent == nil {
			return false
		}
		err = e.parent
	}
	return false
}

// KindOf extracts the ErrorKind of err, or KindUnknown if err is not (and
// does not wrap) an *xerr.Error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
