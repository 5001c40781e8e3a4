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

// ErrorKind is the flat classification used across the module, in place of a
// per-package exception hierarchy. Numbering follows the teacher library's
// per-package code-range convention (MinPkgXxx), so kinds from different
// packages never collide and the numeric range hints at provenance.
type ErrorKind uint16

const (
	// MinPkgPool is the base code for the pool package.
	MinPkgPool ErrorKind = 100
	// MinPkgThrottle is the base code for the throttle package.
	MinPkgThrottle ErrorKind = 150
	// MinPkgSource is the base code for the source package.
	MinPkgSource ErrorKind = 200
	// MinPkgExecBulk is the base code for the execbulk package.
	MinPkgExecBulk ErrorKind = 300
	// MinPkgDepGraph is the base code for the depgraph package.
	MinPkgDepGraph ErrorKind = 400
	// MinPkgImporter is the base code for the importer package.
	MinPkgImporter ErrorKind = 500
	// MinPkgContract is the base code for the contract package and its reference implementations.
	MinPkgContract ErrorKind = 600
)

// KindUnknown is the zero-value kind: no classification was possible.
const KindUnknown ErrorKind = 0

const (
	// KindThrottled means the service signalled an overload and a retry-after
	// duration was returned; handled locally until retries are exhausted.
	KindThrottled ErrorKind = MinPkgPool + iota

	// KindPoolExhausted means acquire_timeout elapsed without vending a client.
	KindPoolExhausted

	// KindThrottleExceedsTolerance means the soonest throttle clearance
	// exceeds max_retry_after_tolerance.
	KindThrottleExceedsTolerance

	// KindConnectionFailed means client validation/creation failed after retry.
	KindConnectionFailed

	// KindCancelled means the operation was aborted via context cancellation.
	KindCancelled
)

const (
	// KindBulkNotSupportedOnEntity means the service rejected the bulk path
	// for this entity×operation; handled locally via the capability cache.
	KindBulkNotSupportedOnEntity ErrorKind = MinPkgExecBulk + iota
	// KindReferenceNotFound means a lookup/reference field pointed at a
	// record that does not exist on the target.
	KindReferenceNotFound
	// KindDuplicateRecord means the service rejected a create as a duplicate.
	KindDuplicateRecord
	// KindRequiredFieldMissing means a mandatory field was absent or empty.
	KindRequiredFieldMissing
	// KindPermissionDenied means the identity lacked rights for the operation.
	KindPermissionDenied
	// KindTransientNetwork means a retryable network/timeout error occurred.
	KindTransientNetwork
)

// String renders a human-readable name for the kind, used in log fields and
// in the derived error-pattern map (spec §3's Migration Result).
func (k ErrorKind) String() string {
	switch k {
	case KindUnknown:
		return "Unknown"
	case KindThrottled:
		return "Throttled"
	case KindPoolExhausted:
		return "PoolExhausted"
	case KindThrottleExceedsTolerance:
		return "ThrottleExceedsTolerance"
	case KindConnectionFailed:
		return "ConnectionFailed"
	case KindCancelled:
		return "Cancelled"
	case KindBulkNotSupportedOnEntity:
		return "BulkNotSupportedOnEntity"
	case KindReferenceNotFound:
		return "ReferenceNotFound"
	case KindDuplicateRecord:
		return "DuplicateRecord"
	case KindRequiredFieldMissing:
		return "RequiredFieldMissing"
	case KindPermissionDenied:
		return "PermissionDenied"
	case KindTransientNetwork:
		return "TransientNetwork"
	default:
		return "Unknown"
	}
}
