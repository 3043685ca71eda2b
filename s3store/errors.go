package s3store

import (
	"errors"

	awsretry "github.com/aws/aws-sdk-go-v2/aws/retry"
	"github.com/aws/smithy-go"

	"github.com/jeremyn/s3-multipart-uploader/upload"
)

// wrapErr translates an SDK failure into the StoreError taxonomy the
// coordinator classifies on.
func wrapErr(op string, err error) error {
	return &upload.StoreError{
		Op:        op,
		Retryable: isRetryableError(err),
		Cause:     err,
	}
}

// isRetryableError classifies transport and store failures. Known throttling
// and transient server errors are retryable; auth, missing-bucket and invalid
// request errors are fatal. Everything else falls back to the SDK's standard
// retryer classification.
func isRetryableError(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "RequestTimeout",
			"RequestTimeoutException",
			"SlowDown",
			"Throttling",
			"ThrottlingException",
			"RequestLimitExceeded",
			"InternalError",
			"ServiceUnavailable":
			return true
		case "NoSuchBucket",
			"NoSuchKey",
			"NoSuchUpload",
			"NotFound",
			"AccessDenied",
			"InvalidAccessKeyId",
			"SignatureDoesNotMatch",
			"ExpiredToken",
			"InvalidPart",
			"InvalidPartOrder",
			"EntityTooSmall",
			"EntityTooLarge":
			return false
		}
	}
	return awsretry.NewStandard().IsErrorRetryable(err)
}

func isNoSuchUpload(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "NoSuchUpload" || code == "NotFound"
	}
	return false
}
