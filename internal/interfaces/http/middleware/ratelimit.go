package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/refnet/backend/internal/interfaces/http/dto"
)

// RateLimiter is a fixed-window limiter with one bucket per client key.
// Buckets refill at the start of each window; stale buckets are swept in
// the background so idle clients do not accumulate.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   int
	window  time.Duration
}

type bucket struct {
	used        int
	windowStart time.Time
}

// NewRateLimiter creates a limiter allowing limit requests per window
// for each client key.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		buckets: make(map[string]*bucket),
		limit:   limit,
		window:  window,
	}
	go rl.sweep()
	return rl
}

// Allow consumes one request from the key's bucket and reports whether
// it was within the limit.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b := rl.bucketFor(key)
	if b.used >= rl.limit {
		return false
	}
	b.used++
	return true
}

// Remaining returns how many requests the key has left in the current
// window.
func (rl *RateLimiter) Remaining(key string) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.limit - rl.bucketFor(key).used
}

// bucketFor returns the key's bucket, resetting it when the window has
// rolled over. Caller holds the lock.
func (rl *RateLimiter) bucketFor(key string) *bucket {
	now := time.Now()
	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{windowStart: now}
		rl.buckets[key] = b
	} else if now.Sub(b.windowStart) >= rl.window {
		b.used = 0
		b.windowStart = now
	}
	return b
}

func (rl *RateLimiter) sweep() {
	ticker := time.NewTicker(rl.window * 2)
	defer ticker.Stop()

	for range ticker.C {
		rl.mu.Lock()
		cutoff := time.Now().Add(-2 * rl.window)
		for key, b := range rl.buckets {
			if b.windowStart.Before(cutoff) {
				delete(rl.buckets, key)
			}
		}
		rl.mu.Unlock()
	}
}

// RateLimit enforces the limiter keyed by client IP and exposes the
// limit headers on allowed responses.
func RateLimit(limiter *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()

		if !limiter.Allow(key) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests,
				dto.NewErrorResponse(dto.ErrCodeRateLimited, "Too many requests. Please try again later."))
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(limiter.limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(limiter.Remaining(key)))

		c.Next()
	}
}
