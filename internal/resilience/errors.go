// Package resilience keeps calls to txlens's upstreams (block explorer,
// 4-byte directory, chain RPC and simulator) well behaved. It owns the reason
// codes reported on failed steps and the retry, circuit breaking and rate
// limiting shared by the clients.
package resilience

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
)

// Reason codes attached to failed resolution and trace steps.
const (
	ReasonNotVerified       = "not_verified"
	ReasonMissingAPIKey     = "missing_api_key"
	ReasonRateLimited       = "rate_limited"
	ReasonTimeout           = "timeout"
	ReasonCanceled          = "canceled"
	ReasonNetworkError      = "network_error"
	ReasonCircuitOpen       = "circuit_open"
	ReasonDecodeFailed      = "decode_failed"
	ReasonSignatureNotFound = "signature_not_found"
	ReasonNotFound          = "not_found"
	ReasonNoUserABI         = "no_user_abi"
	ReasonInvalidABI        = "invalid_abi"
	ReasonMethodNotFound    = "method_not_found"
	ReasonNoRegistryEntry   = "no_registry_entry"
	ReasonMissingAddress    = "missing_address"
	ReasonNoCalldata        = "no_calldata"
	ReasonNotConfigured     = "not_configured"
	ReasonUnrecognized      = "unrecognized_input"
	ReasonPending           = "pending"
	ReasonPanic             = "panic"
	ReasonError             = "error"
)

// transientReasons are the codes a later attempt can clear. Everything else
// is a verdict about the input (not verified, not found, undecodable).
var transientReasons = map[string]bool{
	ReasonRateLimited:  true,
	ReasonTimeout:      true,
	ReasonCanceled:     true,
	ReasonNetworkError: true,
	ReasonCircuitOpen:  true,
}

// TransientReason reports whether a step that failed with code may succeed
// when retried.
func TransientReason(code string) bool {
	return transientReasons[code]
}

// Failure is an error annotated with a reason code.
type Failure struct {
	Code string
	Err  error
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return f.Code
	}
	return f.Err.Error()
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Fail annotates err with a reason code. A nil err yields a failure whose
// message is the code itself.
func Fail(code string, err error) error {
	return &Failure{Code: code, Err: err}
}

// Failf creates a new failure with a formatted message.
func Failf(code, format string, args ...any) error {
	return &Failure{Code: code, Err: eris.Errorf(format, args...)}
}

// TransientError marks an upstream failure worth another attempt. Status is
// the HTTP status behind it, zero for transport-level failures.
type TransientError struct {
	Err    error
	Status int
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// Transient marks err as retryable.
func Transient(err error, status int) error {
	return &TransientError{Err: err, Status: status}
}

// RetryableStatus reports whether an upstream answered with a status that a
// later attempt may not see again.
func RetryableStatus(status int) bool {
	switch status {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// IsTransient reports whether err is worth retrying. An explicit Failure code
// decides on its own; otherwise TransientError marks and network-level
// failures count.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var f *Failure
	if errors.As(err, &f) && f.Code != "" {
		return TransientReason(f.Code)
	}
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	return networkFailure(err)
}

// dropped connections as go-ethereum's rpc client and net/http report them
// once the syscall error has been flattened into a string.
var droppedConn = []string{
	"connection reset by peer",
	"broken pipe",
	"no such host",
	"i/o timeout",
	"tls handshake timeout",
	"server closed idle connection",
}

func networkFailure(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range droppedConn {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// ReasonOf derives the reason code for err. Explicit Failure codes win;
// otherwise context, circuit and transient errors map onto their codes.
func ReasonOf(err error) string {
	if err == nil {
		return ""
	}

	var f *Failure
	if errors.As(err, &f) && f.Code != "" {
		return f.Code
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ReasonTimeout
	case errors.Is(err, context.Canceled):
		return ReasonCanceled
	case errors.Is(err, ErrCircuitOpen):
		return ReasonCircuitOpen
	}

	var te *TransientError
	if errors.As(err, &te) && te.Status == http.StatusTooManyRequests {
		return ReasonRateLimited
	}
	if IsTransient(err) {
		return ReasonNetworkError
	}
	return ReasonError
}
