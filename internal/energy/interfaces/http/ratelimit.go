package http

import (
	"net/http"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"community-energy/internal/audit"
	"community-energy/internal/auth"
	"community-energy/internal/observability/metrics"
)

// maxLimiters bounds the number of tracked callers.
const maxLimiters = 10000

// RateLimiter throttles metering batches per caller.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
	logger   *zap.Logger
}

// NewRateLimiter allows ratePerSecond batches per caller with the given burst.
// A non-positive rate disables limiting.
func NewRateLimiter(ratePerSecond float64, burst int, logger *zap.Logger) *RateLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(ratePerSecond),
		burst:    burst,
		logger:   logger,
	}
}

// Allow reports whether the caller may proceed now.
func (rl *RateLimiter) Allow(key string) bool {
	if rl == nil || rl.rate <= 0 {
		return true
	}
	return rl.limiter(key).Allow()
}

func (rl *RateLimiter) limiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	limiter, ok := rl.limiters[key]
	if !ok {
		if len(rl.limiters) >= maxLimiters {
			rl.limiters = make(map[string]*rate.Limiter)
		}
		limiter = rate.NewLimiter(rl.rate, rl.burst)
		rl.limiters[key] = limiter
	}
	return limiter
}

// allowRequest applies the limit keyed by the authenticated subject, falling
// back to the client address. It writes the 429 response when refused.
func (rl *RateLimiter) allowRequest(w http.ResponseWriter, r *http.Request) bool {
	key := auth.SubjectFromContext(r.Context())
	if key == "" {
		key = audit.ClientIP(r)
	}
	if rl.Allow(key) {
		return true
	}
	metrics.IncMeterRateLimited()
	rl.logger.Warn("metering batch rate limited",
		zap.String("caller", key),
		zap.String("path", r.URL.Path),
	)
	writeError(w, http.StatusTooManyRequests, kindRateLimited, "too many metering batches")
	return false
}
