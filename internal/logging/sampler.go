package logging

import (
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Sampler limits how often a repetitive event is logged. Events that arrive
// while the limiter is exhausted are counted and reported with the next one
// that gets through.
type Sampler struct {
	limiter    *rate.Limiter
	suppressed atomic.Int64
}

// NewSampler allows one event per interval; a non-positive interval defaults to one second.
func NewSampler(interval time.Duration) *Sampler {
	if interval <= 0 {
		interval = time.Second
	}
	return &Sampler{limiter: rate.NewLimiter(rate.Every(interval), 1)}
}

// Allow reports whether the event should be logged and how many events were
// dropped since the last allowed one. A nil sampler allows everything.
func (s *Sampler) Allow() (bool, int64) {
	if s == nil {
		return true, 0
	}
	if !s.limiter.Allow() {
		s.suppressed.Add(1)
		return false, 0
	}
	return true, s.suppressed.Swap(0)
}
