package domain

import "fmt"

// NotFoundError represents a missing resource.
type NotFoundError struct {
	Resource string
}

func (e NotFoundError) Error() string {
	if e.Resource == "" {
		return "not found"
	}
	return fmt.Sprintf("%s not found", e.Resource)
}

// Is enables errors.Is matching on NotFoundError.
func (e NotFoundError) Is(target error) bool {
	_, ok := target.(NotFoundError)
	if ok {
		return true
	}
	_, ok = target.(*NotFoundError)
	return ok
}

// ErrNotFound is the sentinel error for missing resources.
var ErrNotFound = NotFoundError{}

// InvalidIdentifierError is returned when a repository reference cannot
// be resolved to a canonical identifier.
type InvalidIdentifierError struct {
	Ref string
}

func (e InvalidIdentifierError) Error() string {
	return fmt.Sprintf("invalid identifier: %s", e.Ref)
}

func (e InvalidIdentifierError) Is(target error) bool {
	_, ok := target.(InvalidIdentifierError)
	return ok
}

var ErrInvalidIdentifier = InvalidIdentifierError{}

// InvalidRecordKeyError is returned when a supplied record key violates
// key syntax.
type InvalidRecordKeyError struct {
	Key    string
	Reason string
}

func (e InvalidRecordKeyError) Error() string {
	return fmt.Sprintf("invalid record key %q: %s", e.Key, e.Reason)
}

func (e InvalidRecordKeyError) Is(target error) bool {
	_, ok := target.(InvalidRecordKeyError)
	return ok
}

var ErrInvalidRecordKey = InvalidRecordKeyError{}

// UnknownParentError is returned when the enclosing container record
// cannot be found before a permission check.
type UnknownParentError struct {
	Space string
}

func (e UnknownParentError) Error() string {
	return fmt.Sprintf("unknown parent container: %s", e.Space)
}

func (e UnknownParentError) Is(target error) bool {
	_, ok := target.(UnknownParentError)
	return ok
}

var ErrUnknownParent = UnknownParentError{}

// DeniedError is a negative permission decision, including fail-closed
// transport failures during the check.
type DeniedError struct {
	Permission string
	Reason     string
}

func (e DeniedError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("permission denied: %s", e.Permission)
	}
	return fmt.Sprintf("permission denied: %s (%s)", e.Permission, e.Reason)
}

func (e DeniedError) Is(target error) bool {
	_, ok := target.(DeniedError)
	return ok
}

var ErrDenied = DeniedError{}

// MalformedURIError flags an internal invariant violation during the
// index step: a URI without a DID authority, collection, or record key.
type MalformedURIError struct {
	URI    string
	Reason string
}

func (e MalformedURIError) Error() string {
	return fmt.Sprintf("malformed uri %q: %s", e.URI, e.Reason)
}

func (e MalformedURIError) Is(target error) bool {
	_, ok := target.(MalformedURIError)
	return ok
}

var ErrMalformedURI = MalformedURIError{}

// OptimisticConflictError is an expected-cid mismatch on update/delete.
type OptimisticConflictError struct {
	URI      string
	Expected string
	Actual   string
}

func (e OptimisticConflictError) Error() string {
	return fmt.Sprintf("cid mismatch on %s: expected %s, have %s", e.URI, e.Expected, e.Actual)
}

func (e OptimisticConflictError) Is(target error) bool {
	_, ok := target.(OptimisticConflictError)
	return ok
}

var ErrOptimisticConflict = OptimisticConflictError{}

// RecordWriteFailedError wraps a record-store transaction error; no
// partial state remains when it is returned.
type RecordWriteFailedError struct {
	Err error
}

func (e RecordWriteFailedError) Error() string {
	return fmt.Sprintf("record write failed: %v", e.Err)
}

func (e RecordWriteFailedError) Unwrap() error { return e.Err }

func (e RecordWriteFailedError) Is(target error) bool {
	_, ok := target.(RecordWriteFailedError)
	return ok
}

var ErrRecordWriteFailed = RecordWriteFailedError{}
