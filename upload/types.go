// Package upload implements an integrity-checked multipart upload against an
// abstract object store. It splits a source into parts, uploads them on a
// bounded worker pool, verifies per-part digests and aborts the remote session
// unless the assembled object checks out end to end.
package upload

import "fmt"

// PartSpec describes one contiguous byte range of the source. Part indexes are
// 1-based, matching the numbering the store expects at completion time.
type PartSpec struct {
	Index  int32
	Offset int64
	Length int64
}

// UploadPlan is the immutable part layout for one upload session. Parts are
// contiguous, non-overlapping and cover the whole source; every part except
// possibly the last has length PartSize.
type UploadPlan struct {
	FileSize int64
	PartSize int64
	Parts    []PartSpec
}

// PartLimits are the store-imposed constraints on part sizing.
type PartLimits struct {
	MinPartSize int64
	MaxPartSize int64
	MaxParts    int32
}

// PartState tracks the lifecycle of a single part upload.
type PartState int32

const (
	PartPending PartState = iota
	PartUploading
	PartVerified
	PartFailed
)

func (s PartState) String() string {
	switch s {
	case PartPending:
		return "pending"
	case PartUploading:
		return "uploading"
	case PartVerified:
		return "verified"
	case PartFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}

// PartResult is the outcome of one part's upload. A part is Verified only if
// the store-reported digest (when available) matches the locally computed one
// and the uploaded size matches the plan.
type PartResult struct {
	Index        int32
	ETag         string
	LocalDigest  Digest
	RemoteDigest *Digest
	Size         int64
	State        PartState
	Err          error
}

// CompletedPart references an uploaded part at completion time.
type CompletedPart struct {
	Index int32
	ETag  string
}

// PartUploadOutput is what the store reports back for a single uploaded part.
// ReportedDigest is nil when the store does not expose a per-part checksum.
type PartUploadOutput struct {
	ETag           string
	ReportedDigest *Digest
	ReportedSize   int64
}

// CompleteOutput is what the store reports after assembling the object.
// CombinedDigest is empty when the store does not report one.
type CompleteOutput struct {
	ETag           string
	CombinedDigest string
	TotalSize      int64
}

// HeadOutput describes the finalized remote object.
type HeadOutput struct {
	Size     int64
	Metadata map[string]string
}

// CompletionRecord is the terminal result of a successful upload. It is
// created only after every part reached Verified and the store-reported totals
// passed verification.
type CompletionRecord struct {
	ETag           string
	Size           int64
	ExpectedDigest string
	ObservedDigest string
}

// SessionState is the coordinator's state machine position for one session.
type SessionState int32

const (
	StateInitiating SessionState = iota
	StateInProgress
	StateCompleting
	StateCompleted
	StateAborted
)

func (s SessionState) String() string {
	switch s {
	case StateInitiating:
		return "initiating"
	case StateInProgress:
		return "in progress"
	case StateCompleting:
		return "completing"
	case StateCompleted:
		return "completed"
	case StateAborted:
		return "aborted"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}
