package waterfall

import (
	"context"

	"github.com/sells-group/txlens/internal/model"
)

// SkipReasonResolved marks strategies skipped because an earlier one won.
const SkipReasonResolved = "resolved_earlier"

// Strategy is one named source in a resolution chain.
type Strategy[T any] struct {
	SourceID string
	// Resolve should return promptly once ctx is done. One that does not is
	// abandoned at the step deadline and left running in the background.
	Resolve func(ctx context.Context) (T, error)
}

// Result is the outcome of running a resolution chain.
type Result[T any] struct {
	Winner       T                      `json:"-"`
	WinnerSource string                 `json:"winner_source,omitempty"`
	Resolved     bool                   `json:"resolved"`
	Canceled     bool                   `json:"canceled,omitempty"`
	Steps        []model.ResolutionStep `json:"steps"`
}

// Attempted returns the number of strategies that were actually invoked.
func (r Result[T]) Attempted() int {
	n := 0
	for _, s := range r.Steps {
		if s.Status == model.StepStatusSuccess || s.Status == model.StepStatusFailed {
			n++
		}
	}
	return n
}
