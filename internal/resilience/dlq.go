package resilience

import (
	"time"
)

// Dead letter error types.
const (
	ErrorTypeTransient = "transient"
	ErrorTypePermanent = "permanent"
)

// DLQEntry is a batch input whose analysis failed and can be retried later.
type DLQEntry struct {
	ID           string    `json:"id"`
	Input        string    `json:"input"`
	ChainID      int64     `json:"chain_id"`
	Error        string    `json:"error"`
	ErrorType    string    `json:"error_type"`
	FailedStep   string    `json:"failed_step,omitempty"`
	RetryCount   int       `json:"retry_count"`
	MaxRetries   int       `json:"max_retries"`
	NextRetryAt  time.Time `json:"next_retry_at"`
	CreatedAt    time.Time `json:"created_at"`
	LastFailedAt time.Time `json:"last_failed_at"`
}

// DLQFilter specifies criteria for querying the dead letter queue.
type DLQFilter struct {
	ErrorType string `json:"error_type,omitempty"` // "transient", "permanent", or "" for all
	Limit     int    `json:"limit,omitempty"`
}

// CanRetry returns true if this entry hasn't exceeded its max retry count.
func (e *DLQEntry) CanRetry() bool {
	return e.RetryCount < e.MaxRetries
}

// NextRetry schedules the following attempt on the policy's backoff curve.
// Jitter is left out so the schedule is stable across runs.
func (e *DLQEntry) NextRetry(now time.Time, p RetryPolicy) time.Time {
	return now.Add(p.Delay(e.RetryCount + 1))
}

// ClassifyReason sorts a failed step's reason code into a DLQ error type.
func ClassifyReason(reason string) string {
	if TransientReason(reason) {
		return ErrorTypeTransient
	}
	return ErrorTypePermanent
}
