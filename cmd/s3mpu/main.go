package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/pathutil"
	"github.com/docker/go-units"
	"github.com/spf13/cobra"

	"github.com/jeremyn/s3-multipart-uploader/s3store"
	"github.com/jeremyn/s3-multipart-uploader/upload"
)

type flags struct {
	key             string
	partSize        string
	concurrency     int
	retries         int
	region          string
	accessKeyID     string
	secretAccessKey string
	endpoint        string
	lenientETag     bool
	skipHeadCheck   bool
	verbose         bool
}

var cmdFlags flags

var rootCmd = &cobra.Command{
	Use:   "s3mpu <bucket> <file>",
	Short: "Upload a large file to S3 with end-to-end integrity checking.",
	Long: `Upload a large file to an S3 bucket using multipart upload. The file is split
into parts, parts are uploaded concurrently, and every part is verified against
its MD5 digest. The upload is finalized only when the assembled object's size
and combined digest check out; otherwise the session is aborted and no object
is created.`,
	Args:          cobra.ExactArgs(2),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd, args[0], args[1])
	},
}

func init() {
	rootCmd.Flags().StringVarP(&cmdFlags.key, "key", "k", "", "object key (default: file basename)")
	rootCmd.Flags().StringVar(&cmdFlags.partSize, "part-size", "", "preferred part size, e.g. 10MB (default: store minimum)")
	rootCmd.Flags().IntVarP(&cmdFlags.concurrency, "concurrency", "c", upload.DefaultConcurrency(), "number of parts uploaded in parallel")
	rootCmd.Flags().IntVar(&cmdFlags.retries, "retries", upload.DefaultRetryPolicy().MaxAttempts, "upload attempts per part")
	rootCmd.Flags().StringVar(&cmdFlags.region, "region", os.Getenv("AWS_REGION"), "AWS region")
	rootCmd.Flags().StringVar(&cmdFlags.accessKeyID, "access-key-id", "", "AWS access key ID (default: ambient credential chain)")
	rootCmd.Flags().StringVar(&cmdFlags.secretAccessKey, "secret-access-key", "", "AWS secret access key")
	rootCmd.Flags().StringVar(&cmdFlags.endpoint, "endpoint", "", "custom endpoint for S3-compatible stores")
	rootCmd.Flags().BoolVar(&cmdFlags.lenientETag, "lenient-etag", false, "warn instead of abort on a combined ETag mismatch (for stores with unreliable multipart ETags)")
	rootCmd.Flags().BoolVar(&cmdFlags.skipHeadCheck, "skip-head-check", false, "skip the post-completion head verification")
	rootCmd.Flags().BoolVarP(&cmdFlags.verbose, "verbose", "v", false, "enable debug logging")
}

func run(cmd *cobra.Command, bucket, filePath string) error {
	logger := log.NewLogger()
	logger.EnableDebugLog(cmdFlags.verbose)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	exists, err := pathutil.NewPathChecker().IsPathExists(filePath)
	if err != nil {
		return fmt.Errorf("check file path: %w", err)
	}
	if !exists {
		return fmt.Errorf("file %s does not exist", filePath)
	}

	var partSizeHint int64
	if cmdFlags.partSize != "" {
		partSizeHint, err = units.RAMInBytes(cmdFlags.partSize)
		if err != nil {
			return fmt.Errorf("parse part size %q: %w", cmdFlags.partSize, err)
		}
	}

	key := cmdFlags.key
	if key == "" {
		key = filepath.Base(filePath)
	}

	src, err := upload.OpenFileSource(filePath)
	if err != nil {
		return err
	}
	defer func() {
		if err := src.Close(); err != nil {
			logger.Warnf("failed to close file: %s", err)
		}
	}()

	store, err := s3store.New(ctx, s3store.Config{
		Region:          cmdFlags.region,
		AccessKeyID:     cmdFlags.accessKeyID,
		SecretAccessKey: cmdFlags.secretAccessKey,
		Endpoint:        cmdFlags.endpoint,
		Logger:          logger,
	})
	if err != nil {
		return err
	}

	config := upload.DefaultConfig()
	config.Concurrency = cmdFlags.concurrency
	config.Retry.MaxAttempts = cmdFlags.retries
	config.PartSizeHint = partSizeHint
	config.StrictCombinedDigest = !cmdFlags.lenientETag
	config.VerifyObjectHead = !cmdFlags.skipHeadCheck

	logger.Infof("Uploading %s (%s) to s3://%s/%s with concurrency %d",
		filePath, units.HumanSize(float64(src.Size())), bucket, key, config.Concurrency)

	coordinator := upload.NewCoordinator(store, config, logger)
	record, err := coordinator.Upload(ctx, bucket, key, src)
	if err != nil {
		if errors.Is(err, upload.ErrUploadCancelled) {
			return fmt.Errorf("upload cancelled, session aborted")
		}
		if errors.Is(err, upload.ErrObjectUnverified) {
			return fmt.Errorf("upload finished but its verification failed, the object s3://%s/%s may exist: %w", bucket, key, err)
		}
		return err
	}

	logger.Donef("Uploaded s3://%s/%s (%s, ETag %s, %s/s per worker)",
		bucket, key, units.HumanSize(float64(record.Size)), record.ETag,
		units.HumanSize(coordinator.Stats().Throughput()))
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.NewLogger().Errorf("%s", err)
		os.Exit(1)
	}
}
