package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/spacebook/booking-flow/internal/utils"
)

// RateLimiter hands out one token bucket per client IP
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*visitor
	limit    rate.Limit
	burst    int
	logger   *logrus.Logger
	now      func() time.Time
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a limiter allowing requestsPerSec with the given burst per IP.
// A non-positive rate disables limiting.
func NewRateLimiter(requestsPerSec float64, burst int, logger *logrus.Logger) *RateLimiter {
	limit := rate.Limit(requestsPerSec)
	if requestsPerSec <= 0 {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		limiters: make(map[string]*visitor),
		limit:    limit,
		burst:    burst,
		logger:   logger,
		now:      time.Now,
	}
}

func (r *RateLimiter) getLimiter(ip string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, exists := r.limiters[ip]
	if !exists {
		v = &visitor{limiter: rate.NewLimiter(r.limit, r.burst)}
		r.limiters[ip] = v
	}
	v.lastSeen = r.now()
	return v.limiter
}

// Cleanup forgets clients not seen for idle and returns how many were removed
func (r *RateLimiter) Cleanup(idle time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-idle)
	removed := 0
	for ip, v := range r.limiters {
		if v.lastSeen.Before(cutoff) {
			delete(r.limiters, ip)
			removed++
		}
	}
	return removed
}

// Middleware rejects requests over the per-IP budget with 429. Clients are keyed
// by the same address the session records.
func (r *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := utils.ClientIP(c)
		if !r.getLimiter(ip).Allow() {
			r.logger.WithFields(logrus.Fields{
				"ip":   ip,
				"path": c.Request.URL.Path,
			}).Warn("Rate limit exceeded")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   "rate_limited",
				"message": "Rate limit exceeded. Try again later.",
				"code":    "RATE_LIMITED",
			})
			return
		}
		c.Next()
	}
}
