package upload

import "runtime"

// Config holds coordinator configuration.
type Config struct {
	// Concurrency is the maximum number of parts uploaded in parallel.
	// 1 degenerates to strictly sequential uploading.
	// Default: min(NumCPU * 2, 16), minimum 1.
	Concurrency int

	// Retry is the per-part retry policy.
	Retry RetryPolicy

	// PartSizeHint is the preferred part size in bytes. The planner may grow
	// it to satisfy the store's part count limit and always respects the
	// store's minimum. Zero means the store minimum.
	PartSizeHint int64

	// StrictCombinedDigest aborts the session when the store-reported
	// combined digest disagrees with the locally computed one. Disable it for
	// stores whose multipart ETag algorithm is known to be unreliable; a
	// mismatch is then logged as a warning and total size remains the
	// authoritative check.
	StrictCombinedDigest bool

	// VerifyObjectHead re-checks the finalized object via Head, comparing its
	// size and, when the store echoes it, the whole-file digest recorded at
	// initiate time.
	VerifyObjectHead bool
}

// DefaultConfig returns the default coordinator configuration.
func DefaultConfig() Config {
	return Config{
		Concurrency:          DefaultConcurrency(),
		Retry:                DefaultRetryPolicy(),
		StrictCombinedDigest: true,
		VerifyObjectHead:     true,
	}
}

// DefaultConcurrency calculates the default part upload concurrency from the
// CPU count.
func DefaultConcurrency() int {
	c := runtime.NumCPU() * 2

	if c > 16 {
		c = 16
	}

	if c < 1 {
		c = 1
	}

	return c
}
