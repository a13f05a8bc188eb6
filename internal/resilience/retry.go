package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// RetryPolicy is exponential backoff with jitter for upstream calls. Zero
// fields fall back to DefaultRetryPolicy.
type RetryPolicy struct {
	Attempts  int // total tries, the first included
	BaseDelay time.Duration
	MaxDelay  time.Duration
	Factor    float64
	Jitter    float64 // fraction of each delay, applied in both directions

	// Retryable decides which errors earn another attempt. Nil means
	// IsTransient, so verdicts like not_verified are returned at once.
	Retryable func(error) bool
	// OnRetry runs before each backoff sleep.
	OnRetry func(attempt int, err error)
}

// DefaultRetryPolicy suits the public explorer and RPC endpoints.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts:  3,
		BaseDelay: 500 * time.Millisecond,
		MaxDelay:  5 * time.Second,
		Factor:    2,
		Jitter:    0.25,
	}
}

func (p RetryPolicy) normalized() RetryPolicy {
	def := DefaultRetryPolicy()
	if p.Attempts <= 0 {
		p.Attempts = def.Attempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = def.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = def.MaxDelay
	}
	if p.Factor <= 0 {
		p.Factor = def.Factor
	}
	p.Jitter = max(p.Jitter, 0)
	return p
}

// Delay is the pause before retry n (1-based) without jitter.
func (p RetryPolicy) Delay(n int) time.Duration {
	p = p.normalized()
	d := float64(p.BaseDelay) * math.Pow(p.Factor, float64(max(n, 1)-1))
	return time.Duration(min(d, float64(p.MaxDelay)))
}

func (p RetryPolicy) jittered(n int) time.Duration {
	d := p.Delay(n)
	if p.Jitter == 0 {
		return d
	}
	spread := float64(d) * p.Jitter
	return max(time.Duration(float64(d)+(rand.Float64()*2-1)*spread), 0)
}

// Retry calls fn until it succeeds or the policy gives up, and returns the
// last result. It stops early on errors the policy does not retry and when
// ctx is done.
func Retry[T any](ctx context.Context, p RetryPolicy, fn func(context.Context) (T, error)) (T, error) {
	p = p.normalized()
	retryable := p.Retryable
	if retryable == nil {
		retryable = IsTransient
	}

	var zero T
	for attempt := 1; ; attempt++ {
		val, err := fn(ctx)
		if err == nil {
			return val, nil
		}
		if attempt >= p.Attempts || ctx.Err() != nil || !retryable(err) {
			return zero, err
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, err)
		}
		if sleep(ctx, p.jittered(attempt)) != nil {
			return zero, err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// LogRetries returns an OnRetry hook that logs each retry of op against
// upstream.
func LogRetries(upstream, op string) func(int, error) {
	return func(attempt int, err error) {
		zap.L().Warn("resilience: retrying upstream call",
			zap.String("upstream", upstream),
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
}
