package upload

import (
	"context"
	"fmt"
)

// partUploader uploads a single part and verifies the store's report against
// the locally computed digest and planned size. It has no side effects beyond
// the file read and the store call; retry scheduling belongs to the
// coordinator, which keeps the global retry budget in view.
type partUploader struct {
	store ObjectStore
}

// upload reads the part's byte range, uploads it and cross-checks the store's
// report. The returned PartResult is Verified only when everything matches.
func (u *partUploader) upload(ctx context.Context, sess *session, src Source, spec PartSpec) (PartResult, error) {
	result := PartResult{
		Index: spec.Index,
		State: PartUploading,
	}

	body, err := readPart(src, spec)
	if err != nil {
		result.State = PartFailed
		result.Err = err
		return result, err
	}

	result.LocalDigest = DigestBytes(body)

	out, err := u.store.UploadPart(ctx, sess.bucket, sess.key, sess.uploadID, spec.Index, body, result.LocalDigest)
	if err != nil {
		result.State = PartFailed
		result.Err = fmt.Errorf("upload part %d: %w", spec.Index, err)
		return result, result.Err
	}

	result.ETag = out.ETag
	result.RemoteDigest = out.ReportedDigest
	result.Size = out.ReportedSize

	if out.ReportedSize != 0 && out.ReportedSize != spec.Length {
		err := &PartIntegrityError{
			Index:    spec.Index,
			Field:    "size",
			Expected: fmt.Sprintf("%d", spec.Length),
			Observed: fmt.Sprintf("%d", out.ReportedSize),
		}
		result.State = PartFailed
		result.Err = err
		return result, err
	}

	if out.ReportedDigest != nil && *out.ReportedDigest != result.LocalDigest {
		err := &PartIntegrityError{
			Index:    spec.Index,
			Field:    "digest",
			Expected: result.LocalDigest.Hex(),
			Observed: out.ReportedDigest.Hex(),
		}
		result.State = PartFailed
		result.Err = err
		return result, err
	}

	result.State = PartVerified
	return result, nil
}
