package resilience

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"syscall"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
)

func TestReasonOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"explicit failure", Fail(ReasonNotVerified, errors.New("contract source code not verified")), ReasonNotVerified},
		{"wrapped failure", eris.Wrap(Fail(ReasonMissingAPIKey, nil), "explorer"), ReasonMissingAPIKey},
		{"formatted failure", Failf(ReasonSignatureNotFound, "no signature for %s", "0xdeadbeef"), ReasonSignatureNotFound},
		{"method missing", Failf(ReasonMethodNotFound, "explorer abi declares no method %s", "0x40c10f19"), ReasonMethodNotFound},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), ReasonTimeout},
		{"canceled", context.Canceled, ReasonCanceled},
		{"circuit open", ErrCircuitOpen, ReasonCircuitOpen},
		{"explorer 429", Transient(errors.New("max rate limit reached"), http.StatusTooManyRequests), ReasonRateLimited},
		{"rpc 502", Transient(errors.New("bad gateway"), http.StatusBadGateway), ReasonNetworkError},
		{"rpc refused", fmt.Errorf("dial: %w", syscall.ECONNREFUSED), ReasonNetworkError},
		{"plain", errors.New("boom"), ReasonError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ReasonOf(tt.err))
		})
	}
}

func TestFailure_Message(t *testing.T) {
	assert.Equal(t, ReasonNoUserABI, Fail(ReasonNoUserABI, nil).Error())
	assert.Equal(t, "boom", Fail(ReasonError, errors.New("boom")).Error())

	inner := errors.New("inner")
	assert.ErrorIs(t, Fail(ReasonError, inner), inner)
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"marked", Transient(errors.New("503"), http.StatusServiceUnavailable), true},
		{"marked and wrapped", eris.Wrap(Transient(errors.New("503"), http.StatusServiceUnavailable), "etherscan: getsourcecode"), true},
		{"deadline", context.DeadlineExceeded, true},
		{"connection reset", fmt.Errorf("ethrpc: %w", syscall.ECONNRESET), true},
		{"truncated body", fmt.Errorf("fourbyte: decode: %w", io.ErrUnexpectedEOF), true},
		{"flattened rpc error", errors.New("Post \"https://rpc\": read tcp: connection reset by peer"), true},
		{"dns", errors.New("dial tcp: lookup rpc.invalid: no such host"), true},
		{"rate limited code", Fail(ReasonRateLimited, nil), true},
		{"verdict wins over marker", Fail(ReasonNotVerified, Transient(errors.New("x"), http.StatusBadGateway)), false},
		{"not found", Failf(ReasonNotFound, "transaction %s not found", "0xabc"), false},
		{"plain", errors.New("invalid abi"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestTransientReason(t *testing.T) {
	for _, r := range []string{ReasonRateLimited, ReasonTimeout, ReasonCanceled, ReasonNetworkError, ReasonCircuitOpen} {
		assert.True(t, TransientReason(r), r)
	}
	for _, r := range []string{ReasonNotVerified, ReasonNotFound, ReasonMethodNotFound, ReasonDecodeFailed, ReasonUnrecognized, ""} {
		assert.False(t, TransientReason(r), r)
	}
}

func TestRetryableStatus(t *testing.T) {
	for _, s := range []int{408, 429, 500, 502, 503, 504} {
		assert.True(t, RetryableStatus(s), s)
	}
	for _, s := range []int{200, 400, 401, 403, 404, 501} {
		assert.False(t, RetryableStatus(s), s)
	}
}
