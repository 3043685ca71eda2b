package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/bitrise-io/go-utils/retry"
	"github.com/bitrise-io/go-utils/v2/log"
)

const (
	// ObjectDigestMetadataKey is the metadata key under which the whole-file
	// digest is recorded at initiate time. Stores that echo metadata from Head
	// let the coordinator re-check the assembled object against it.
	ObjectDigestMetadataKey = "md5"

	numAbortRetries = 3
	abortTimeout    = 30 * time.Second
)

// session is the mutable state of one multipart upload, owned exclusively by
// the coordinator between Initiate and Complete/Abort. Workers write only to
// their own results slot.
type session struct {
	bucket   string
	key      string
	uploadID string
	plan     UploadPlan
	results  []PartResult
	state    SessionState
	aborted  bool
}

// partOutcome is what a worker reports back for the part it owns.
type partOutcome struct {
	index  int32
	result PartResult
	err    error
}

// Coordinator owns the upload session lifecycle: it initiates the session,
// dispatches parts to a bounded worker pool, aggregates per-part results,
// decides retry versus abort, and drives finalize and verification.
type Coordinator struct {
	store  ObjectStore
	config Config
	logger log.Logger
	stats  *Stats
}

// NewCoordinator creates a Coordinator for the given store. `logger` can be
// nil, in which case a default logger is used.
func NewCoordinator(store ObjectStore, config Config, logger log.Logger) *Coordinator {
	if logger == nil {
		logger = log.NewLogger()
	}
	if config.Concurrency < 1 {
		config.Concurrency = 1
	}
	if config.Retry.MaxAttempts < 1 {
		config.Retry.MaxAttempts = 1
	}
	return &Coordinator{
		store:  store,
		config: config,
		logger: logger,
		stats:  NewStats(),
	}
}

// Stats returns the upload statistics.
func (c *Coordinator) Stats() *Stats {
	return c.stats
}

// Upload uploads src to bucket/key as one multipart session. It returns a
// CompletionRecord on success; on any failure the remote session is aborted
// (best-effort) and the first fatal error is returned, so the remote object is
// either fully and correctly assembled or not created at all.
func (c *Coordinator) Upload(ctx context.Context, bucket, key string, src Source) (*CompletionRecord, error) {
	plan, err := PlanParts(src.Size(), c.config.PartSizeHint, c.store.Limits())
	if err != nil {
		return nil, fmt.Errorf("plan parts: %w", err)
	}

	wholeDigest, _, err := DigestReader(io.NewSectionReader(src, 0, src.Size()))
	if err != nil {
		return nil, fmt.Errorf("digest source: %w", err)
	}

	sess := &session{
		bucket:  bucket,
		key:     key,
		plan:    plan,
		results: make([]PartResult, len(plan.Parts)),
		state:   StateInitiating,
	}

	c.logger.Debugf("Initiating upload of %d bytes to %s/%s (%d parts of %d bytes)",
		plan.FileSize, bucket, key, len(plan.Parts), plan.PartSize)

	metadata := map[string]string{ObjectDigestMetadataKey: wholeDigest.Base64()}
	uploadID, err := c.store.Initiate(ctx, bucket, key, metadata)
	if err != nil {
		// No session exists yet, nothing to abort.
		return nil, fmt.Errorf("initiate upload: %w", err)
	}
	sess.uploadID = uploadID
	c.setState(sess, StateInProgress)

	if err := c.uploadParts(ctx, sess, src); err != nil {
		c.abort(sess)
		return nil, err
	}

	record, err := c.complete(ctx, sess)
	if err != nil {
		// An unverified completion means the object was assembled and the
		// session is gone, so there is nothing left to abort.
		if !errors.Is(err, ErrObjectUnverified) {
			c.abort(sess)
		}
		return nil, err
	}

	if c.config.VerifyObjectHead {
		if err := c.verifyHead(ctx, sess, wholeDigest); err != nil {
			return nil, err
		}
	}

	c.setState(sess, StateCompleted)
	return record, nil
}

// uploadParts dispatches every part of the plan to a bounded worker pool and
// waits for all of them to settle. A fatal outcome stops further dispatching
// but in-flight parts are drained before returning, so the abort that follows
// never races a live store call.
func (c *Coordinator) uploadParts(ctx context.Context, sess *session, src Source) error {
	workCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	numParts := len(sess.plan.Parts)
	outcomes := make(chan partOutcome, numParts)
	semaphore := make(chan struct{}, c.config.Concurrency)

	for _, spec := range sess.plan.Parts {
		go func(spec PartSpec) {
			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			// Refuse to start once a fatal error or cancellation was observed.
			if workCtx.Err() != nil {
				outcomes <- partOutcome{
					index: spec.Index,
					result: PartResult{Index: spec.Index, State: PartFailed, Err: ErrUploadCancelled},
					err:    fmt.Errorf("part %d not dispatched: %w", spec.Index, ErrUploadCancelled),
				}
				return
			}

			result, err := c.uploadPartWithRetry(ctx, workCtx, sess, src, spec)
			outcomes <- partOutcome{index: spec.Index, result: result, err: err}
		}(spec)
	}

	var firstErr error
	for settled := 0; settled < numParts; settled++ {
		outcome := <-outcomes
		sess.results[outcome.index-1] = outcome.result
		if outcome.err != nil && firstErr == nil {
			firstErr = outcome.err
			cancel()
		}
	}

	if firstErr != nil {
		if errors.Is(firstErr, ErrUploadCancelled) || errors.Is(firstErr, context.Canceled) || errors.Is(firstErr, context.DeadlineExceeded) {
			return fmt.Errorf("upload parts: %w", ErrUploadCancelled)
		}
		return firstErr
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("upload parts: %w", ErrUploadCancelled)
	}
	return nil
}

// uploadPartWithRetry runs one part through the retry budget. Retryable store
// errors and part integrity mismatches get a fresh attempt with exponential
// backoff; anything else fails the part immediately.
func (c *Coordinator) uploadPartWithRetry(ctx, workCtx context.Context, sess *session, src Source, spec PartSpec) (PartResult, error) {
	uploader := &partUploader{store: c.store}
	numParts := len(sess.plan.Parts)
	maxAttempts := c.config.Retry.MaxAttempts

	var result PartResult
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if workCtx.Err() != nil {
			result.Index = spec.Index
			result.State = PartFailed
			result.Err = ErrUploadCancelled
			return result, fmt.Errorf("part %d: %w", spec.Index, ErrUploadCancelled)
		}

		c.logger.Debugf("Uploading part %d/%d (attempt %d/%d) [finished=%d] [avg=%v]",
			spec.Index, numParts, attempt, maxAttempts,
			c.stats.FinishedCount(), c.stats.Average().Round(time.Millisecond))

		start := time.Now()
		var err error
		result, err = uploader.upload(ctx, sess, src, spec)
		if err == nil {
			took := time.Since(start)
			c.stats.Update(took, spec.Length)
			c.logger.Infof("Part %d/%d verified in %v, ETag: %s",
				spec.Index, numParts, took.Round(time.Millisecond), result.ETag)
			return result, nil
		}
		lastErr = err

		if !c.canRetryPart(err) {
			c.logger.Errorf("Part %d failed with a fatal error: %s", spec.Index, err)
			break
		}

		if attempt < maxAttempts {
			backoff := c.config.Retry.WaitFor(attempt)
			c.logger.Warnf("Part %d attempt %d failed, retrying after %v: %s", spec.Index, attempt, backoff, err)
			select {
			case <-workCtx.Done():
			case <-time.After(backoff):
			}
		} else {
			c.logger.Warnf("Part %d attempt %d failed, retry budget exhausted: %s", spec.Index, attempt, err)
		}
	}

	return result, lastErr
}

// canRetryPart reports whether a failed part attempt is worth a fresh upload.
// Integrity mismatches are retried as fresh attempts within the same budget
// since the corruption may be transient.
func (c *Coordinator) canRetryPart(err error) bool {
	if IsRetryable(err) {
		return true
	}
	var integrityErr *PartIntegrityError
	return errors.As(err, &integrityErr)
}

// complete assembles the object and verifies the store's completion report:
// the reported total size must equal the planned sum, and a reported combined
// digest must match the locally computed one (a warning instead when strict
// verification is off).
func (c *Coordinator) complete(ctx context.Context, sess *session) (*CompletionRecord, error) {
	c.setState(sess, StateCompleting)

	digests := make([]Digest, len(sess.results))
	parts := make([]CompletedPart, len(sess.results))
	for i, result := range sess.results {
		digests[i] = result.LocalDigest
		parts[i] = CompletedPart{Index: result.Index, ETag: result.ETag}
	}
	expected := CombinedETag(digests)

	out, err := c.store.Complete(ctx, sess.bucket, sess.key, sess.uploadID, parts)
	if err != nil {
		return nil, fmt.Errorf("complete upload: %w", err)
	}

	if out.TotalSize != sess.plan.FileSize {
		return nil, &CompletionIntegrityError{
			Field:    "size",
			Expected: fmt.Sprintf("%d", sess.plan.FileSize),
			Observed: fmt.Sprintf("%d", out.TotalSize),
		}
	}

	if out.CombinedDigest != "" && out.CombinedDigest != expected {
		if c.config.StrictCombinedDigest {
			return nil, &CompletionIntegrityError{
				Field:    "combined digest",
				Expected: expected,
				Observed: out.CombinedDigest,
			}
		}
		c.logger.Warnf("Store-reported combined digest %s differs from the expected %s; "+
			"continuing because strict verification is off", out.CombinedDigest, expected)
	}

	return &CompletionRecord{
		ETag:           out.ETag,
		Size:           out.TotalSize,
		ExpectedDigest: expected,
		ObservedDigest: out.CombinedDigest,
	}, nil
}

// verifyHead re-checks the finalized object. The session is already destroyed
// by the successful complete call, so a mismatch here surfaces as an error
// without an abort. Head itself is optional: a store failure only logs.
func (c *Coordinator) verifyHead(ctx context.Context, sess *session, wholeDigest Digest) error {
	head, err := c.store.Head(ctx, sess.bucket, sess.key)
	if err != nil {
		c.logger.Warnf("Skipping post-completion check, head failed: %s", err)
		return nil
	}

	if head.Size != sess.plan.FileSize {
		return &CompletionIntegrityError{
			Field:    "size",
			Expected: fmt.Sprintf("%d", sess.plan.FileSize),
			Observed: fmt.Sprintf("%d", head.Size),
		}
	}

	if stored, ok := head.Metadata[ObjectDigestMetadataKey]; ok && stored != wholeDigest.Base64() {
		return &CompletionIntegrityError{
			Field:    "object digest",
			Expected: wholeDigest.Base64(),
			Observed: stored,
		}
	}

	c.logger.Debugf("Post-completion check passed: size %d, digest %s", head.Size, wholeDigest.Base64())
	return nil
}

// abort discards the remote session. Best-effort: failures are logged and
// never mask the error that triggered the abort. Calling it again on an
// already-aborted session is a no-op.
func (c *Coordinator) abort(sess *session) {
	if sess.aborted || sess.uploadID == "" {
		return
	}
	sess.aborted = true

	// The triggering error may well be a cancelled context, so the abort call
	// gets a fresh one.
	ctx, cancel := context.WithTimeout(context.Background(), abortTimeout)
	defer cancel()

	err := retry.Times(numAbortRetries).Wait(2 * time.Second).TryWithAbort(func(attempt uint) (error, bool) {
		if err := c.store.Abort(ctx, sess.bucket, sess.key, sess.uploadID); err != nil {
			if IsRetryable(err) {
				return fmt.Errorf("abort upload: %w", err), false
			}
			return fmt.Errorf("abort upload: %w", err), true
		}
		return nil, true
	})
	if err != nil {
		c.logger.Warnf("Failed to abort upload session %s, the store may retain it: %s", sess.uploadID, err)
	} else {
		c.logger.Debugf("Upload session %s aborted", sess.uploadID)
	}

	c.setState(sess, StateAborted)
}

func (c *Coordinator) setState(sess *session, state SessionState) {
	c.logger.Debugf("Session %s: %s -> %s", sess.uploadID, sess.state, state)
	sess.state = state
}
