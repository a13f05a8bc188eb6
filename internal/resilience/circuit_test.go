package resilience

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errOutage = Transient(errors.New("502 bad gateway"), http.StatusBadGateway)

// testBreaker returns a breaker on a hand-driven clock.
func testBreaker(threshold int, cooldown time.Duration) (*Breaker, *time.Time) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b := NewBreaker("explorer", BreakerConfig{Threshold: threshold, Cooldown: cooldown})
	b.now = func() time.Time { return now }
	return b, &now
}

func callWith(b *Breaker, err error) error {
	_, got := Guard(context.Background(), b, func(context.Context) (string, error) {
		return "abi", err
	})
	return got
}

func TestBreaker_OpensAfterConsecutiveOutages(t *testing.T) {
	b, _ := testBreaker(3, time.Minute)

	for range 2 {
		assert.ErrorIs(t, callWith(b, errOutage), errOutage)
	}
	assert.Equal(t, BreakerClosed, b.State())

	require.Error(t, callWith(b, errOutage))
	assert.Equal(t, BreakerOpen, b.State())

	var called bool
	_, err := Guard(context.Background(), b, func(context.Context) (string, error) {
		called = true
		return "", nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, ReasonCircuitOpen, ReasonOf(err))
	assert.False(t, called)
}

func TestBreaker_SuccessResetsCount(t *testing.T) {
	b, _ := testBreaker(2, time.Minute)

	require.Error(t, callWith(b, errOutage))
	require.NoError(t, callWith(b, nil))
	require.Error(t, callWith(b, errOutage))

	assert.Equal(t, BreakerClosed, b.State())
}

func TestBreaker_VerdictsDoNotTrip(t *testing.T) {
	b, _ := testBreaker(1, time.Minute)

	for range 5 {
		err := callWith(b, Failf(ReasonNotVerified, "contract source code not verified"))
		assert.Equal(t, ReasonNotVerified, ReasonOf(err))
	}
	assert.Equal(t, BreakerClosed, b.State())
}

func TestBreaker_CustomTrips(t *testing.T) {
	b := NewBreaker("fourbyte", BreakerConfig{
		Threshold: 1,
		Trips:     func(err error) bool { return ReasonOf(err) == ReasonSignatureNotFound },
	})

	require.Error(t, callWith(b, errOutage))
	assert.Equal(t, BreakerClosed, b.State())
	require.Error(t, callWith(b, Fail(ReasonSignatureNotFound, nil)))
	assert.Equal(t, BreakerOpen, b.State())
}

func TestBreaker_HalfOpenTrial(t *testing.T) {
	tests := []struct {
		name  string
		trial error
		want  BreakerState
	}{
		{"trial succeeds closes", nil, BreakerClosed},
		{"trial fails reopens", errOutage, BreakerOpen},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, now := testBreaker(1, time.Minute)
			require.Error(t, callWith(b, errOutage))
			assert.Equal(t, BreakerOpen, b.State())

			*now = now.Add(time.Minute)
			assert.Equal(t, BreakerHalfOpen, b.State())

			_ = callWith(b, tt.trial)
			assert.Equal(t, tt.want, b.State())
		})
	}
}

func TestBreaker_HalfOpenAdmitsOneTrial(t *testing.T) {
	b, now := testBreaker(1, time.Minute)
	require.Error(t, callWith(b, errOutage))
	*now = now.Add(2 * time.Minute)

	entered := make(chan struct{})
	finish := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = Guard(context.Background(), b, func(context.Context) (string, error) {
			close(entered)
			<-finish
			return "abi", nil
		})
	}()
	<-entered

	assert.ErrorIs(t, callWith(b, nil), ErrCircuitOpen)

	close(finish)
	wg.Wait()
	assert.Equal(t, BreakerClosed, b.State())
	assert.NoError(t, callWith(b, nil))
}

func TestBreaker_OnStateChange(t *testing.T) {
	var transitions []string
	b := NewBreaker("rpc:1", BreakerConfig{
		Threshold: 1,
		Cooldown:  time.Minute,
		OnStateChange: func(name string, from, to BreakerState) {
			transitions = append(transitions, name+" "+from.String()+"->"+to.String())
		},
	})
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return now }

	_ = callWith(b, errOutage)
	now = now.Add(time.Minute)
	_ = callWith(b, nil)

	assert.Equal(t, []string{
		"rpc:1 closed->open",
		"rpc:1 open->half-open",
		"rpc:1 half-open->closed",
	}, transitions)
}

func TestBreakers_OnePerUpstream(t *testing.T) {
	set := NewBreakers(BreakerConfig{Threshold: 1, Cooldown: time.Hour})

	explorer := set.For("explorer")
	assert.Same(t, explorer, set.For("explorer"))

	require.Error(t, callWith(set.For("rpc:1"), errOutage))
	assert.Equal(t, BreakerOpen, set.For("rpc:1").State())
	assert.Equal(t, BreakerClosed, explorer.State())
	assert.Equal(t, BreakerClosed, set.For("rpc:10").State())
}

func TestBreakerState_String(t *testing.T) {
	assert.Equal(t, "closed", BreakerClosed.String())
	assert.Equal(t, "open", BreakerOpen.String())
	assert.Equal(t, "half-open", BreakerHalfOpen.String())
	assert.Equal(t, "unknown", BreakerState(9).String())
}
