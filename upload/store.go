package upload

import "context"

// ObjectStore is the storage capability the coordinator drives. Implementations
// wrap a concrete storage API and translate its failures into StoreError so
// the coordinator can classify them as retryable or fatal.
//
// Abort is best-effort: aborting a session that no longer exists must return
// nil, and abort failures are logged by the caller, never escalated over a
// prior error.
type ObjectStore interface {
	// Initiate starts a multipart session and returns its opaque upload ID.
	// The metadata is attached to the final object; stores that echo it back
	// from Head enable post-completion verification.
	Initiate(ctx context.Context, bucket, key string, metadata map[string]string) (string, error)

	// UploadPart uploads one part's bytes. The local digest is passed along so
	// stores that support it can verify the payload server-side.
	UploadPart(ctx context.Context, bucket, key, uploadID string, index int32, body []byte, digest Digest) (PartUploadOutput, error)

	// Complete assembles the object from the listed parts, which are in
	// ascending part index order.
	Complete(ctx context.Context, bucket, key, uploadID string, parts []CompletedPart) (CompleteOutput, error)

	// Abort discards the session and any parts uploaded so far.
	Abort(ctx context.Context, bucket, key, uploadID string) error

	// Head describes the finalized object.
	Head(ctx context.Context, bucket, key string) (HeadOutput, error)

	// Limits returns the store's part sizing constraints.
	Limits() PartLimits
}
