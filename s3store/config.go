package s3store

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/retryhttp"
	"github.com/hashicorp/go-retryablehttp"
)

// Config holds the settings for building an S3 client.
type Config struct {
	// Region is required.
	Region string

	// AccessKeyID and SecretAccessKey override the ambient credential chain
	// when both are set.
	AccessKeyID     string
	SecretAccessKey string

	// Endpoint points the client at an S3-compatible store. Path-style
	// addressing is switched on automatically when it is set.
	Endpoint string

	// Logger can be nil, in which case a default logger is used.
	Logger log.Logger
}

func loadAWSConfig(ctx context.Context, config Config, logger log.Logger) (*aws.Config, error) {
	if config.Region == "" {
		return nil, fmt.Errorf("region must not be empty")
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(config.Region),
		awsconfig.WithHTTPClient(newHTTPClient(logger).StandardClient()),
	}

	if config.AccessKeyID != "" && config.SecretAccessKey != "" {
		logger.Debugf("aws credentials provided, using them...")
		opts = append(opts,
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(config.AccessKeyID, config.SecretAccessKey, "")))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load config, %v", err)
	}

	return &cfg, nil
}

// newHTTPClient builds the transport used by the SDK. Transport-level retries
// stay low: the coordinator owns the retry budget, this only smooths over
// connection resets.
func newHTTPClient(logger log.Logger) *retryablehttp.Client {
	client := retryhttp.NewClient(logger)
	client.RetryMax = 2
	return client
}
