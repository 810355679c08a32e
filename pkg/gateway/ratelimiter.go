package gateway

import (
	"sync"
	"time"
)

// Default per-client limits.
const (
	DefaultRequestsPerMinute = 600
	DefaultMaxConcurrent     = 32
)

// ClientRateLimiter implements sliding window rate limiting per client.
// A limit of zero or less disables that check.
type ClientRateLimiter struct {
	mu                 sync.Mutex
	requestsPerMinute  int
	maxConcurrent      int
	requests           []time.Time
	concurrentRequests int
	now                func() time.Time
}

// NewClientRateLimiter creates a rate limiter with the given limits.
func NewClientRateLimiter(requestsPerMinute, maxConcurrent int) *ClientRateLimiter {
	return &ClientRateLimiter{
		requestsPerMinute: requestsPerMinute,
		maxConcurrent:     maxConcurrent,
		now:               time.Now,
	}
}

// Acquire admits a request or returns the RPC error that rejects it. Every
// successful Acquire must be paired with Release.
func (r *ClientRateLimiter) Acquire() *RPCError {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.maxConcurrent > 0 && r.concurrentRequests >= r.maxConcurrent {
		return &RPCError{Code: TooManyConcurrent, Message: "too many concurrent requests"}
	}

	now := r.now()
	r.trim(now)
	if r.requestsPerMinute > 0 && len(r.requests) >= r.requestsPerMinute {
		return &RPCError{Code: RateLimitExceeded, Message: "rate limit exceeded"}
	}

	r.requests = append(r.requests, now)
	r.concurrentRequests++
	return nil
}

// Release records the end of an admitted request.
func (r *ClientRateLimiter) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.concurrentRequests > 0 {
		r.concurrentRequests--
	}
}

// GetStats returns current rate limiter statistics
func (r *ClientRateLimiter) GetStats() (requestCount, concurrentCount int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.trim(r.now())
	return len(r.requests), r.concurrentRequests
}

// trim drops requests older than one minute. Requests are appended in time
// order, so the window is a suffix.
func (r *ClientRateLimiter) trim(now time.Time) {
	cutoff := now.Add(-time.Minute)
	i := 0
	for i < len(r.requests) && !r.requests[i].After(cutoff) {
		i++
	}
	r.requests = r.requests[i:]
}
