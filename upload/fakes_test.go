package upload

import (
	"context"
	"fmt"
	"sync"
)

const alwaysCorrupt = -1

type fakePart struct {
	data   []byte
	etag   string
	digest Digest
}

// fakeStore is a deterministic in-memory ObjectStore. Per-part errors and
// corrupted digests can be scripted, and every call is counted.
type fakeStore struct {
	mu sync.Mutex

	limits PartLimits

	initiateErr error
	completeErr error
	// partErrs are consumed one per upload attempt for the given part.
	partErrs map[int32][]error
	// corrupt makes the store report a wrong digest for the given part: a
	// positive value corrupts that many attempts, alwaysCorrupt all of them.
	corrupt map[int32]int

	sizeOverride   *int64
	digestOverride *string

	// headSizeOverride and headDigestOverride corrupt only the Head response,
	// leaving the completion report intact.
	headSizeOverride   *int64
	headDigestOverride *string

	metadata map[string]string
	parts    map[int32]fakePart
	attempts map[int32]int

	initiateCalls int
	completeCalls int
	abortCalls    int
	headCalls     int

	completedSize int64
	completed     bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		limits: PartLimits{
			MinPartSize: 5 * 1024 * 1024,
			MaxPartSize: 5 * 1024 * 1024 * 1024,
			MaxParts:    10000,
		},
		partErrs: map[int32][]error{},
		corrupt:  map[int32]int{},
		metadata: map[string]string{},
		parts:    map[int32]fakePart{},
		attempts: map[int32]int{},
	}
}

func (f *fakeStore) Limits() PartLimits {
	return f.limits
}

func (f *fakeStore) Initiate(ctx context.Context, bucket, key string, metadata map[string]string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.initiateCalls++
	if f.initiateErr != nil {
		return "", f.initiateErr
	}
	f.metadata = metadata
	return "fake-upload-id", nil
}

func (f *fakeStore) UploadPart(ctx context.Context, bucket, key, uploadID string, index int32, body []byte, digest Digest) (PartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.attempts[index]++

	if errs := f.partErrs[index]; len(errs) > 0 {
		err := errs[0]
		f.partErrs[index] = errs[1:]
		return PartUploadOutput{}, err
	}

	d := DigestBytes(body)

	if n := f.corrupt[index]; n != 0 {
		if n > 0 {
			f.corrupt[index] = n - 1
		}
		wrong := d
		wrong[0] ^= 0xff
		return PartUploadOutput{
			ETag:           quote(wrong.Hex()),
			ReportedDigest: &wrong,
			ReportedSize:   int64(len(body)),
		}, nil
	}

	stored := make([]byte, len(body))
	copy(stored, body)
	f.parts[index] = fakePart{data: stored, etag: quote(d.Hex()), digest: d}

	return PartUploadOutput{
		ETag:           quote(d.Hex()),
		ReportedDigest: &d,
		ReportedSize:   int64(len(body)),
	}, nil
}

func (f *fakeStore) Complete(ctx context.Context, bucket, key, uploadID string, parts []CompletedPart) (CompleteOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.completeCalls++
	if f.completeErr != nil {
		return CompleteOutput{}, f.completeErr
	}

	digests := make([]Digest, 0, len(parts))
	var total int64
	for _, part := range parts {
		stored, ok := f.parts[part.Index]
		if !ok {
			return CompleteOutput{}, &StoreError{Op: "complete", Cause: fmt.Errorf("part %d was never uploaded", part.Index)}
		}
		if stored.etag != part.ETag {
			return CompleteOutput{}, &StoreError{Op: "complete", Cause: fmt.Errorf("part %d etag mismatch", part.Index)}
		}
		digests = append(digests, stored.digest)
		total += int64(len(stored.data))
	}

	combined := CombinedETag(digests)
	if f.digestOverride != nil {
		combined = *f.digestOverride
	}
	if f.sizeOverride != nil {
		total = *f.sizeOverride
	}

	f.completed = true
	f.completedSize = total

	return CompleteOutput{
		ETag:           quote(combined),
		CombinedDigest: combined,
		TotalSize:      total,
	}, nil
}

func (f *fakeStore) Abort(ctx context.Context, bucket, key, uploadID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.abortCalls++
	return nil
}

func (f *fakeStore) Head(ctx context.Context, bucket, key string) (HeadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.headCalls++
	if !f.completed {
		return HeadOutput{}, &StoreError{Op: "head", Cause: fmt.Errorf("object not found")}
	}

	size := f.completedSize
	if f.headSizeOverride != nil {
		size = *f.headSizeOverride
	}
	metadata := f.metadata
	if f.headDigestOverride != nil {
		metadata = map[string]string{}
		for k, v := range f.metadata {
			metadata[k] = v
		}
		metadata[ObjectDigestMetadataKey] = *f.headDigestOverride
	}
	return HeadOutput{Size: size, Metadata: metadata}, nil
}

func quote(s string) string {
	return `"` + s + `"`
}

// testContent generates deterministic pseudo-random content.
func testContent(size int) []byte {
	content := make([]byte, size)
	state := uint32(2463534242)
	for i := range content {
		state ^= state << 13
		state ^= state >> 17
		state ^= state << 5
		content[i] = byte(state)
	}
	return content
}
