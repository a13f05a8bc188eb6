package resilience

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// AdaptiveLimiter wraps a rate.Limiter that tunes itself to an upstream's
// rate limits: each success raises the rate by 20% up to twice the initial
// rate, each 429 halves it down to a quarter of the initial rate.
type AdaptiveLimiter struct {
	name        string
	mu          sync.Mutex
	limiter     *rate.Limiter
	initialRate rate.Limit
	maxRate     rate.Limit
	minRate     rate.Limit
	currentRate rate.Limit
}

// NewAdaptiveLimiter creates an adaptive limiter for the named service.
// A non-positive rps disables limiting.
func NewAdaptiveLimiter(name string, rps float64, burst int) *AdaptiveLimiter {
	if rps <= 0 {
		return &AdaptiveLimiter{name: name, limiter: rate.NewLimiter(rate.Inf, 1), currentRate: rate.Inf}
	}
	if burst <= 0 {
		burst = 1
	}
	r := rate.Limit(rps)
	return &AdaptiveLimiter{
		name:        name,
		limiter:     rate.NewLimiter(r, burst),
		initialRate: r,
		maxRate:     r * 2,
		minRate:     r / 4,
		currentRate: r,
	}
}

// Wait blocks until the limiter allows an event or ctx is done.
func (a *AdaptiveLimiter) Wait(ctx context.Context) error {
	return a.limiter.Wait(ctx)
}

// OnSuccess raises the rate.
func (a *AdaptiveLimiter) OnSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.currentRate == rate.Inf {
		return
	}
	a.currentRate = min(a.currentRate*1.2, a.maxRate)
	a.limiter.SetLimit(a.currentRate)
}

// OnRateLimit halves the rate after a 429.
func (a *AdaptiveLimiter) OnRateLimit() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.currentRate == rate.Inf {
		return
	}
	a.currentRate = max(a.currentRate*0.5, a.minRate)
	a.limiter.SetLimit(a.currentRate)
	zap.L().Warn("adaptive rate limit: reducing rate after 429",
		zap.String("service", a.name),
		zap.Float64("new_rate", float64(a.currentRate)),
	)
}

// Limit returns the current rate.
func (a *AdaptiveLimiter) Limit() rate.Limit {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.currentRate
}
