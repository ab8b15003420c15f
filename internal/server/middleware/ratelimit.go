package middleware

import (
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nulzo/model-playground/internal/ratelimit"
	"github.com/nulzo/model-playground/pkg/api"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RateLimiter manages per-client token buckets that throttle raw request rate.
type RateLimiter struct {
	clients map[string]*rate.Limiter
	mu      sync.RWMutex
	rps     rate.Limit
	burst   int
	logger  *zap.Logger
}

// NewRateLimiter creates a new rate limiter.
func NewRateLimiter(rps float64, burst int, logger *zap.Logger) *RateLimiter {
	return &RateLimiter{
		clients: make(map[string]*rate.Limiter),
		rps:     rate.Limit(rps),
		burst:   burst,
		logger:  logger,
	}
}

// getLimiter returns a rate limiter for the given client IP.
func (rl *RateLimiter) getLimiter(ip string) *rate.Limiter {
	rl.mu.RLock()
	limiter, exists := rl.clients[ip]
	rl.mu.RUnlock()

	if exists {
		return limiter
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	// Double-check after acquiring write lock
	if limiter, exists = rl.clients[ip]; exists {
		return limiter
	}

	limiter = rate.NewLimiter(rl.rps, rl.burst)
	rl.clients[ip] = limiter

	return limiter
}

// Middleware returns the Gin middleware handler.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()

		if !rl.getLimiter(ip).Allow() {
			rl.logger.Warn("Request rate exceeded",
				zap.String("ip", ip),
				zap.String("path", c.Request.URL.Path),
			)
			c.Header("Retry-After", "1")
			_ = c.Error(api.NewError(429, "Too Many Requests", "Request rate exceeded, slow down."))
			c.Abort()
			return
		}

		c.Next()
	}
}

// QuotaGuard enforces the per-caller invocation quota. Handlers call Admit
// once the request has passed validation, so rejected requests never count.
type QuotaGuard struct {
	limiter ratelimit.Limiter
	window  time.Duration
	logger  *zap.Logger
}

func NewQuotaGuard(limiter ratelimit.Limiter, window time.Duration, logger *zap.Logger) *QuotaGuard {
	return &QuotaGuard{limiter: limiter, window: window, logger: logger}
}

// Admit records one invocation for the authenticated caller. It returns false
// after writing a 429 problem when the quota is spent. If the limiter backend
// fails the request is let through and the failure logged.
func (q *QuotaGuard) Admit(c *gin.Context) bool {
	caller := CallerID(c)

	d, err := q.limiter.Allow(c.Request.Context(), caller)
	if err != nil {
		q.logger.Error("rate limiter unavailable, allowing request", zap.String("caller", caller), zap.Error(err))
		return true
	}

	c.Header("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	c.Header("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))

	if !d.Allowed {
		retry := d.RetryAfter(time.Now())
		c.Header("Retry-After", strconv.Itoa(int(math.Ceil(retry.Seconds()))))
		q.logger.Warn("Session quota exceeded",
			zap.String("caller", caller),
			zap.Time("reset_at", d.ResetAt),
		)
		_ = c.Error(api.RateLimitError(d.Limit, q.window, d.ResetAt))
		c.Abort()
		return false
	}
	return true
}
