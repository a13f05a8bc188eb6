package etherscan

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/txlens/internal/resilience"
)

const addr = "0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D"

func noRetry() resilience.RetryPolicy {
	return resilience.RetryPolicy{Attempts: 1}
}

func TestGetContract(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantErr  error
		wantText string
		wantName string
	}{
		{
			name:     "verified",
			status:   http.StatusOK,
			body:     `{"status":"1","message":"OK","result":[{"ABI":"[{\"type\":\"function\",\"name\":\"foo\",\"inputs\":[]}]","ContractName":"Router"}]}`,
			wantName: "Router",
		},
		{
			name:    "not verified",
			status:  http.StatusOK,
			body:    `{"status":"1","message":"OK","result":[{"ABI":"Contract source code not verified","ContractName":""}]}`,
			wantErr: ErrNotVerified,
		},
		{
			name:    "invalid key",
			status:  http.StatusOK,
			body:    `{"status":"0","message":"NOTOK","result":"Missing/Invalid API Key"}`,
			wantErr: ErrMissingAPIKey,
		},
		{
			name:    "rate limited in body",
			status:  http.StatusOK,
			body:    `{"status":"0","message":"NOTOK","result":"Max rate limit reached"}`,
			wantErr: ErrRateLimited,
		},
		{
			name:    "rate limited status",
			status:  http.StatusTooManyRequests,
			body:    `{}`,
			wantErr: ErrRateLimited,
		},
		{
			name:     "server error",
			status:   http.StatusBadGateway,
			body:     `bad gateway`,
			wantText: "unexpected status 502",
		},
		{
			name:     "malformed",
			status:   http.StatusOK,
			body:     `{nope`,
			wantText: "unmarshal response",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				q := r.URL.Query()
				assert.Equal(t, "1", q.Get("chainid"))
				assert.Equal(t, "getsourcecode", q.Get("action"))
				assert.Equal(t, addr, q.Get("address"))
				assert.Equal(t, "test-key", q.Get("apikey"))
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := NewClient("test-key", WithBaseURL(srv.URL), WithRetry(noRetry()), WithRateLimit(0, 0))
			got, err := c.GetContract(context.Background(), 1, addr)

			switch {
			case tt.wantErr != nil:
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				assert.Nil(t, got)
			case tt.wantText != "":
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantText)
			default:
				require.NoError(t, err)
				assert.Equal(t, tt.wantName, got.Name)
				assert.Contains(t, got.ABI, `"foo"`)
			}
		})
	}
}

func TestGetContract_MissingKeySkipsRequest(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	c := NewClient("", WithBaseURL(srv.URL))
	_, err := c.GetContract(context.Background(), 1, addr)

	assert.ErrorIs(t, err, ErrMissingAPIKey)
	assert.Equal(t, int32(0), calls.Load())
}

func TestGetContract_RetriesTransient(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"status":"1","message":"OK","result":[{"ABI":"[]","ContractName":"X"}]}`))
	}))
	defer srv.Close()

	c := NewClient("k",
		WithBaseURL(srv.URL),
		WithRateLimit(0, 0),
		WithRetry(resilience.RetryPolicy{Attempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}),
	)
	got, err := c.GetContract(context.Background(), 1, addr)

	require.NoError(t, err)
	assert.Equal(t, "X", got.Name)
	assert.Equal(t, int32(2), calls.Load())
}

func TestGetContract_BreakerOpens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cb := resilience.NewBreaker("explorer", resilience.BreakerConfig{Threshold: 1, Cooldown: time.Hour})
	c := NewClient("k", WithBaseURL(srv.URL), WithRateLimit(0, 0), WithRetry(noRetry()), WithBreaker(cb))

	_, err := c.GetContract(context.Background(), 1, addr)
	require.Error(t, err)

	_, err = c.GetContract(context.Background(), 1, addr)
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
}
