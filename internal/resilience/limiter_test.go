package resilience

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestAdaptiveLimiter_Bounds(t *testing.T) {
	l := NewAdaptiveLimiter("explorer", 4, 1)
	assert.Equal(t, rate.Limit(4), l.Limit())

	for range 10 {
		l.OnSuccess()
	}
	assert.Equal(t, rate.Limit(8), l.Limit())

	for range 10 {
		l.OnRateLimit()
	}
	assert.Equal(t, rate.Limit(1), l.Limit())
}

func TestAdaptiveLimiter_Disabled(t *testing.T) {
	l := NewAdaptiveLimiter("fourbyte", 0, 0)
	l.OnSuccess()
	l.OnRateLimit()
	assert.Equal(t, rate.Inf, l.Limit())
	require.NoError(t, l.Wait(context.Background()))
}

func TestAdaptiveLimiter_WaitHonorsContext(t *testing.T) {
	l := NewAdaptiveLimiter("explorer", 0.001, 1)
	require.NoError(t, l.Wait(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, l.Wait(ctx))
}
