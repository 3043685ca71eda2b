package upload

import (
	"sync"
	"time"
)

// Stats tracks verified part durations and sizes for progress reporting.
type Stats struct {
	sum           time.Duration
	transferred   int64
	finishedParts int64
	mu            sync.Mutex
}

// NewStats creates a new Stats instance.
func NewStats() *Stats {
	return &Stats{}
}

// Update records one verified part: how long the attempt took and how many
// bytes it carried.
func (s *Stats) Update(d time.Duration, size int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sum += d
	s.transferred += size
	s.finishedParts++
}

// Average returns the average upload duration for verified parts.
func (s *Stats) Average() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finishedParts == 0 {
		return 0
	}
	return s.sum / time.Duration(s.finishedParts)
}

// Throughput returns the average per-worker transfer rate in bytes per
// second. With N workers the aggregate rate is roughly N times this.
func (s *Stats) Throughput() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sum == 0 {
		return 0
	}
	return float64(s.transferred) / s.sum.Seconds()
}

// TransferredBytes returns the total bytes of all verified parts.
func (s *Stats) TransferredBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transferred
}

// FinishedCount returns the number of verified parts so far.
func (s *Stats) FinishedCount() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finishedParts
}

// TotalDuration returns the sum of all part upload durations.
func (s *Stats) TotalDuration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sum
}
