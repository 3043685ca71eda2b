package upload

import (
	"errors"
	"fmt"
)

// ErrEmptyFile is returned at planning time for zero-byte sources. Uploading
// nothing is rejected rather than creating an empty remote object.
var ErrEmptyFile = errors.New("source file is empty")

// ErrUploadCancelled marks an upload that was stopped by external
// cancellation. It is fatal for retry purposes but not a defect.
var ErrUploadCancelled = errors.New("upload cancelled")

// ErrObjectUnverified marks an upload whose finalize call succeeded but whose
// completion report could not be confirmed afterwards. The assembled object
// exists in the store; only its verification is missing. The coordinator does
// not abort in this case, since the session is already gone and an abort would
// suggest the object was discarded.
var ErrObjectUnverified = errors.New("object assembled but not verified")

// InvalidSizeError is returned at planning time when the source cannot fit
// into the store's part limits.
type InvalidSizeError struct {
	Size    int64
	MaxSize int64
}

func (e *InvalidSizeError) Error() string {
	return fmt.Sprintf("file size %d exceeds the maximum uploadable size %d", e.Size, e.MaxSize)
}

// StoreError wraps a transport or store failure. Retryable is the sole input
// for the coordinator's retry-vs-abort decision.
type StoreError struct {
	Op        string
	Retryable bool
	Cause     error
}

func (e *StoreError) Error() string {
	kind := "fatal"
	if e.Retryable {
		kind = "retryable"
	}
	return fmt.Sprintf("store %s failed (%s): %s", e.Op, kind, e.Cause)
}

func (e *StoreError) Unwrap() error {
	return e.Cause
}

// IsRetryable reports whether err is a store failure worth another attempt.
func IsRetryable(err error) bool {
	var storeErr *StoreError
	return errors.As(err, &storeErr) && storeErr.Retryable
}

// PartIntegrityError is a local vs. remote digest or size mismatch for one
// part. A retry is allowed only as a fresh upload attempt of the same part,
// counted against its retry budget.
type PartIntegrityError struct {
	Index    int32
	Field    string
	Expected string
	Observed string
}

func (e *PartIntegrityError) Error() string {
	return fmt.Sprintf("part %d %s mismatch: expected %s, store reported %s", e.Index, e.Field, e.Expected, e.Observed)
}

// CompletionIntegrityError is a combined digest or total size mismatch
// detected at finalize time. The session is aborted before it surfaces.
type CompletionIntegrityError struct {
	Field    string
	Expected string
	Observed string
}

func (e *CompletionIntegrityError) Error() string {
	return fmt.Sprintf("completed object %s mismatch: expected %s, store reported %s", e.Field, e.Expected, e.Observed)
}
