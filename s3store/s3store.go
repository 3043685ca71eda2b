// Package s3store adapts the AWS S3 multipart upload API to the upload
// package's ObjectStore interface. It works against S3 proper and
// S3-compatible stores reachable through a custom endpoint.
package s3store

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/bitrise-io/go-utils/retry"
	"github.com/bitrise-io/go-utils/v2/log"

	"github.com/jeremyn/s3-multipart-uploader/upload"
)

// maxPartSizeBytes is the S3 limit on a single part, 5 GiB.
const maxPartSizeBytes = 5 * 1024 * 1024 * 1024

const numHeadRetries = 3

// s3API is the subset of the S3 client the store uses.
type s3API interface {
	CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, params *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, params *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// Store implements upload.ObjectStore on top of the S3 API.
type Store struct {
	client s3API
	logger log.Logger
}

// New creates a Store with a configured S3 client.
func New(ctx context.Context, config Config) (*Store, error) {
	logger := config.Logger
	if logger == nil {
		logger = log.NewLogger()
	}

	cfg, err := loadAWSConfig(ctx, config, logger)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(*cfg, func(o *s3.Options) {
		if config.Endpoint != "" {
			o.BaseEndpoint = aws.String(config.Endpoint)
			o.UsePathStyle = true
		}
	})

	return NewFromAPI(client, logger), nil
}

// NewFromAPI creates a Store with a caller-supplied S3 client. `logger` can be
// nil, in which case a default logger is used.
func NewFromAPI(client s3API, logger log.Logger) *Store {
	if logger == nil {
		logger = log.NewLogger()
	}
	return &Store{client: client, logger: logger}
}

// Limits returns the part sizing constraints S3 imposes.
func (s *Store) Limits() upload.PartLimits {
	return upload.PartLimits{
		MinPartSize: manager.MinUploadPartSize,
		MaxPartSize: maxPartSizeBytes,
		MaxParts:    manager.MaxUploadParts,
	}
}

// Initiate starts a multipart upload, attaching the given metadata to the
// final object.
func (s *Store) Initiate(ctx context.Context, bucket, key string, metadata map[string]string) (string, error) {
	out, err := s.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket:   aws.String(bucket),
		Key:      aws.String(key),
		Metadata: metadata,
	})
	if err != nil {
		return "", wrapErr("initiate", err)
	}
	return aws.ToString(out.UploadId), nil
}

// UploadPart uploads one part with the local digest as Content-MD5, so the
// store verifies the payload server-side as well. The per-part digest S3
// reports back is embedded in the part's ETag.
func (s *Store) UploadPart(ctx context.Context, bucket, key, uploadID string, index int32, body []byte, digest upload.Digest) (upload.PartUploadOutput, error) {
	out, err := s.client.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		UploadId:      aws.String(uploadID),
		PartNumber:    aws.Int32(index),
		Body:          bytes.NewReader(body),
		ContentMD5:    aws.String(digest.Base64()),
		ContentLength: aws.Int64(int64(len(body))),
	})
	if err != nil {
		return upload.PartUploadOutput{}, wrapErr("upload part", err)
	}

	result := upload.PartUploadOutput{
		ETag: aws.ToString(out.ETag),
		// S3 does not echo the part size; the accepted request length stands in.
		ReportedSize: int64(len(body)),
	}
	if d, ok := digestFromETag(result.ETag); ok {
		result.ReportedDigest = &d
	}
	return result, nil
}

// Complete assembles the object and reports its combined digest (from the
// multipart ETag) and total size (from a follow-up head call, since the
// completion response does not carry it).
func (s *Store) Complete(ctx context.Context, bucket, key, uploadID string, parts []upload.CompletedPart) (upload.CompleteOutput, error) {
	completed := make([]types.CompletedPart, len(parts))
	for i, part := range parts {
		completed[i] = types.CompletedPart{
			ETag:       aws.String(part.ETag),
			PartNumber: aws.Int32(part.Index),
		}
	}
	// The store rejects out-of-order part lists.
	sort.Slice(completed, func(i, j int) bool {
		return aws.ToInt32(completed[i].PartNumber) < aws.ToInt32(completed[j].PartNumber)
	})

	out, err := s.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:   aws.String(bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{
			Parts: completed,
		},
	})
	if err != nil {
		return upload.CompleteOutput{}, wrapErr("complete", err)
	}

	etag := aws.ToString(out.ETag)
	size, err := s.headSizeWithRetry(ctx, bucket, key)
	if err != nil {
		// CompleteMultipartUpload already succeeded, so the object is live
		// even though its size could not be read back. The sentinel tells the
		// caller not to treat this as a discarded upload.
		return upload.CompleteOutput{}, fmt.Errorf("%w: %s", upload.ErrObjectUnverified, err)
	}

	return upload.CompleteOutput{
		ETag:           etag,
		CombinedDigest: strings.Trim(etag, `"`),
		TotalSize:      size,
	}, nil
}

// Abort discards the session. Aborting a session that no longer exists is a
// no-op, which keeps abort idempotent for the coordinator.
func (s *Store) Abort(ctx context.Context, bucket, key, uploadID string) error {
	_, err := s.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
	})
	if err != nil {
		if isNoSuchUpload(err) {
			s.logger.Debugf("Upload session %s already gone", uploadID)
			return nil
		}
		return wrapErr("abort", err)
	}
	return nil
}

// Head describes the finalized object.
func (s *Store) Head(ctx context.Context, bucket, key string) (upload.HeadOutput, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return upload.HeadOutput{}, wrapErr("head", err)
	}
	return upload.HeadOutput{
		Size:     aws.ToInt64(out.ContentLength),
		Metadata: out.Metadata,
	}, nil
}

func (s *Store) headSizeWithRetry(ctx context.Context, bucket, key string) (int64, error) {
	var size int64
	err := retry.Times(numHeadRetries).Wait(2 * time.Second).TryWithAbort(func(attempt uint) (error, bool) {
		head, err := s.Head(ctx, bucket, key)
		if err != nil {
			if upload.IsRetryable(err) {
				s.logger.Debugf("Head after complete failed (attempt %d): %s", attempt+1, err)
				return err, false
			}
			return err, true
		}
		size = head.Size
		return nil, true
	})
	if err != nil {
		return 0, fmt.Errorf("head completed object: %w", err)
	}
	return size, nil
}

// digestFromETag extracts the MD5 digest S3 embeds in a single-part ETag.
// Multipart-style ETags ("<hex>-<n>") and non-MD5 ETags (SSE-KMS encrypted
// objects) carry no usable per-part digest.
func digestFromETag(etag string) (upload.Digest, bool) {
	trimmed := strings.Trim(etag, `"`)
	if strings.Contains(trimmed, "-") {
		return upload.Digest{}, false
	}
	d, err := upload.ParseHexDigest(trimmed)
	if err != nil {
		return upload.Digest{}, false
	}
	return d, true
}
