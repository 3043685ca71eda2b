package s3store

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyn/s3-multipart-uploader/upload"
)

type fakeS3API struct {
	createFn   func(*s3.CreateMultipartUploadInput) (*s3.CreateMultipartUploadOutput, error)
	uploadFn   func(*s3.UploadPartInput) (*s3.UploadPartOutput, error)
	completeFn func(*s3.CompleteMultipartUploadInput) (*s3.CompleteMultipartUploadOutput, error)
	abortFn    func(*s3.AbortMultipartUploadInput) (*s3.AbortMultipartUploadOutput, error)
	headFn     func(*s3.HeadObjectInput) (*s3.HeadObjectOutput, error)

	abortCalls int
}

func (f *fakeS3API) CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	return f.createFn(params)
}

func (f *fakeS3API) UploadPart(ctx context.Context, params *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	return f.uploadFn(params)
}

func (f *fakeS3API) CompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	return f.completeFn(params)
}

func (f *fakeS3API) AbortMultipartUpload(ctx context.Context, params *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	f.abortCalls++
	return f.abortFn(params)
}

func (f *fakeS3API) HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	return f.headFn(params)
}

func TestUploadPart_ReportsDigestFromETag(t *testing.T) {
	body := []byte("part content")
	digest := upload.DigestBytes(body)

	api := &fakeS3API{
		uploadFn: func(params *s3.UploadPartInput) (*s3.UploadPartOutput, error) {
			assert.Equal(t, digest.Base64(), aws.ToString(params.ContentMD5))
			assert.Equal(t, int64(len(body)), aws.ToInt64(params.ContentLength))
			assert.Equal(t, int32(4), aws.ToInt32(params.PartNumber))
			return &s3.UploadPartOutput{ETag: aws.String(`"` + digest.Hex() + `"`)}, nil
		},
	}
	store := NewFromAPI(api, nil)

	out, err := store.UploadPart(context.Background(), "bucket", "key", "upload-id", 4, body, digest)

	require.NoError(t, err)
	assert.Equal(t, int64(len(body)), out.ReportedSize)
	require.NotNil(t, out.ReportedDigest)
	assert.Equal(t, digest, *out.ReportedDigest)
}

func TestComplete_SortsPartsAndTrimsETag(t *testing.T) {
	var receivedOrder []int32
	api := &fakeS3API{
		completeFn: func(params *s3.CompleteMultipartUploadInput) (*s3.CompleteMultipartUploadOutput, error) {
			for _, part := range params.MultipartUpload.Parts {
				receivedOrder = append(receivedOrder, aws.ToInt32(part.PartNumber))
			}
			return &s3.CompleteMultipartUploadOutput{ETag: aws.String(`"abc123-3"`)}, nil
		},
		headFn: func(params *s3.HeadObjectInput) (*s3.HeadObjectOutput, error) {
			return &s3.HeadObjectOutput{ContentLength: aws.Int64(42)}, nil
		},
	}
	store := NewFromAPI(api, nil)

	parts := []upload.CompletedPart{
		{Index: 3, ETag: `"c"`},
		{Index: 1, ETag: `"a"`},
		{Index: 2, ETag: `"b"`},
	}
	out, err := store.Complete(context.Background(), "bucket", "key", "upload-id", parts)

	require.NoError(t, err)
	assert.Equal(t, []int32{1, 2, 3}, receivedOrder)
	assert.Equal(t, `"abc123-3"`, out.ETag)
	assert.Equal(t, "abc123-3", out.CombinedDigest)
	assert.Equal(t, int64(42), out.TotalSize)
}

func TestComplete_HeadFailureMarksObjectUnverified(t *testing.T) {
	api := &fakeS3API{
		completeFn: func(params *s3.CompleteMultipartUploadInput) (*s3.CompleteMultipartUploadOutput, error) {
			return &s3.CompleteMultipartUploadOutput{ETag: aws.String(`"abc123-1"`)}, nil
		},
		headFn: func(params *s3.HeadObjectInput) (*s3.HeadObjectOutput, error) {
			return nil, &smithy.GenericAPIError{Code: "AccessDenied", Message: "denied"}
		},
	}
	store := NewFromAPI(api, nil)

	parts := []upload.CompletedPart{{Index: 1, ETag: `"a"`}}
	_, err := store.Complete(context.Background(), "bucket", "key", "upload-id", parts)

	// The object was assembled before the head check failed, so the caller
	// must learn it may be live rather than treat the upload as discarded.
	require.Error(t, err)
	assert.ErrorIs(t, err, upload.ErrObjectUnverified)
}

func TestAbort_IsIdempotent(t *testing.T) {
	api := &fakeS3API{
		abortFn: func(params *s3.AbortMultipartUploadInput) (*s3.AbortMultipartUploadOutput, error) {
			return nil, &smithy.GenericAPIError{Code: "NoSuchUpload", Message: "The specified upload does not exist"}
		},
	}
	store := NewFromAPI(api, nil)

	// Aborting an already-aborted (or completed) session surfaces no error.
	require.NoError(t, store.Abort(context.Background(), "bucket", "key", "gone"))
	require.NoError(t, store.Abort(context.Background(), "bucket", "key", "gone"))
	assert.Equal(t, 2, api.abortCalls)
}

func TestAbort_WrapsOtherErrors(t *testing.T) {
	api := &fakeS3API{
		abortFn: func(params *s3.AbortMultipartUploadInput) (*s3.AbortMultipartUploadOutput, error) {
			return nil, &smithy.GenericAPIError{Code: "AccessDenied", Message: "denied"}
		},
	}
	store := NewFromAPI(api, nil)

	err := store.Abort(context.Background(), "bucket", "key", "upload-id")

	require.Error(t, err)
	var storeErr *upload.StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.False(t, storeErr.Retryable)
}

func TestDigestFromETag(t *testing.T) {
	digest := upload.DigestBytes([]byte("content"))

	tests := []struct {
		name string
		etag string
		want bool
	}{
		{name: "plain md5 etag", etag: `"` + digest.Hex() + `"`, want: true},
		{name: "unquoted md5 etag", etag: digest.Hex(), want: true},
		{name: "multipart etag", etag: `"` + digest.Hex() + `-4"`, want: false},
		{name: "non-md5 etag", etag: `"not-a-digest"`, want: false},
		{name: "empty etag", etag: "", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parsed, ok := digestFromETag(tt.etag)
			assert.Equal(t, tt.want, ok)
			if ok {
				assert.Equal(t, digest, parsed)
			}
		})
	}
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		code string
		want bool
	}{
		{code: "SlowDown", want: true},
		{code: "RequestTimeout", want: true},
		{code: "InternalError", want: true},
		{code: "ThrottlingException", want: true},
		{code: "NoSuchBucket", want: false},
		{code: "AccessDenied", want: false},
		{code: "InvalidAccessKeyId", want: false},
		{code: "SignatureDoesNotMatch", want: false},
		{code: "InvalidPart", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := &smithy.GenericAPIError{Code: tt.code, Message: "test"}
			assert.Equal(t, tt.want, isRetryableError(err))
		})
	}

	assert.False(t, isRetryableError(errors.New("unclassified error")))
}

func TestLimits(t *testing.T) {
	store := NewFromAPI(&fakeS3API{}, nil)
	limits := store.Limits()

	assert.Equal(t, int64(5*1024*1024), limits.MinPartSize)
	assert.Equal(t, int64(5*1024*1024*1024), limits.MaxPartSize)
	assert.Equal(t, int32(10000), limits.MaxParts)
}
