package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"payment-engine/internal/models"
)

// RateLimiter is a token bucket limiter keyed by client IP.
type RateLimiter struct {
	mu       sync.Mutex
	buckets  map[string]*tokenBucket
	rate     int
	capacity int
	cleanup  time.Duration
}

type tokenBucket struct {
	tokens     float64
	lastUpdate time.Time
}

// NewRateLimiter creates a limiter refilling rate tokens per second up
// to capacity.
func NewRateLimiter(rate, capacity int) *RateLimiter {
	rl := &RateLimiter{
		buckets:  make(map[string]*tokenBucket),
		rate:     rate,
		capacity: capacity,
		cleanup:  5 * time.Minute,
	}
	go rl.cleanupLoop()
	return rl
}

// cleanupLoop removes stale buckets
func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.cleanup)
	for range ticker.C {
		rl.mu.Lock()
		now := time.Now()
		for key, bucket := range rl.buckets {
			if now.Sub(bucket.lastUpdate) > rl.cleanup {
				delete(rl.buckets, key)
			}
		}
		rl.mu.Unlock()
	}
}

// Allow checks if a request should be allowed
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	bucket, exists := rl.buckets[key]

	if !exists {
		rl.buckets[key] = &tokenBucket{
			tokens:     float64(rl.capacity - 1),
			lastUpdate: now,
		}
		return true
	}

	elapsed := now.Sub(bucket.lastUpdate).Seconds()
	bucket.tokens += elapsed * float64(rl.rate)
	if bucket.tokens > float64(rl.capacity) {
		bucket.tokens = float64(rl.capacity)
	}
	bucket.lastUpdate = now

	if bucket.tokens >= 1 {
		bucket.tokens--
		return true
	}
	return false
}

// RateLimit rejects requests once the client's bucket is drained.
func RateLimit(limiter *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, models.ErrorResponse{
				Error:   "rate_limit_exceeded",
				Message: "too many requests, please try again later",
			})
			return
		}
		c.Next()
	}
}

// Limits groups the per-surface rate limiters.
type Limits struct {
	Checkout *RateLimiter
	Refund   *RateLimiter
	General  *RateLimiter
	Webhook  *RateLimiter
}

// NewLimits creates the default limiter set. Webhooks get the largest
// budget since providers deliver in bursts.
func NewLimits() *Limits {
	return &Limits{
		Checkout: NewRateLimiter(10, 30),
		Refund:   NewRateLimiter(5, 15),
		General:  NewRateLimiter(100, 200),
		Webhook:  NewRateLimiter(500, 1000),
	}
}
