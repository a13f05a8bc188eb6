// Package waterfall runs ordered resolution chains: strategies are tried one
// at a time in priority order and the first success wins.
package waterfall

import (
	"context"
	"errors"
	"reflect"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/txlens/internal/model"
	"github.com/sells-group/txlens/internal/resilience"
)

// Executor holds the settings shared by every chain it runs. It carries no
// per-run state and may be shared between concurrent analyses.
type Executor struct {
	stepTimeout time.Duration
	now         func() time.Time // injectable for testing
}

// NewExecutor creates an executor. A positive stepTimeout bounds each
// individual strategy call; zero disables the per-step timeout.
func NewExecutor(stepTimeout time.Duration) *Executor {
	return &Executor{
		stepTimeout: stepTimeout,
		now:         time.Now,
	}
}

// WithClock sets the time source for testing.
func (e *Executor) WithClock(now func() time.Time) *Executor {
	e.now = now
	return e
}

// Run executes strategies sequentially. The first strategy to succeed wins
// and every later strategy is recorded as skipped without being invoked.
// Strategy errors and panics become failed steps and never abort the chain.
// If ctx is done before a strategy starts, that strategy and all remaining
// ones are skipped and the result is marked canceled.
func Run[T any](ctx context.Context, e *Executor, strategies []Strategy[T]) Result[T] {
	res := Result[T]{Steps: make([]model.ResolutionStep, len(strategies))}
	for i, s := range strategies {
		res.Steps[i] = model.ResolutionStep{
			SourceID: s.SourceID,
			Order:    i,
			Status:   model.StepStatusPending,
		}
	}

	for i, s := range strategies {
		if ctx.Err() != nil {
			res.Canceled = true
			skipFrom(res.Steps, i, resilience.ReasonCanceled)
			return res
		}

		start := e.now()
		val, err := invoke(ctx, e.stepTimeout, s)
		step := &res.Steps[i]
		step.DurationMs = max(e.now().Sub(start).Milliseconds(), 0)

		if err != nil {
			step.Status = model.StepStatusFailed
			step.Reason = resilience.ReasonOf(err)
			step.Error = err.Error()
			zap.L().Debug("waterfall: strategy failed",
				zap.String("source", s.SourceID),
				zap.Int("order", i),
				zap.String("reason", step.Reason),
				zap.Int64("duration_ms", step.DurationMs),
				zap.Error(err),
			)
			continue
		}

		step.Status = model.StepStatusSuccess
		step.Output = val
		res.Winner = val
		res.WinnerSource = s.SourceID
		res.Resolved = true
		skipFrom(res.Steps, i+1, SkipReasonResolved)
		zap.L().Debug("waterfall: strategy resolved",
			zap.String("source", s.SourceID),
			zap.Int("order", i),
			zap.Int64("duration_ms", step.DurationMs),
		)
		return res
	}

	return res
}

type outcome[T any] struct {
	val T
	err error
}

// invoke runs one resolver under the step budget. The resolver runs on its
// own goroutine so a call that ignores ctx cannot hold the chain past the
// deadline; such a call is abandoned and its late result discarded.
func invoke[T any](parent context.Context, timeout time.Duration, s Strategy[T]) (val T, err error) {
	if s.Resolve == nil {
		return val, resilience.Failf(resilience.ReasonNotConfigured, "waterfall: source %s has no resolver", s.SourceID)
	}

	ctx := parent
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, timeout)
		defer cancel()
	}

	done := make(chan outcome[T], 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome[T]{err: resilience.Fail(resilience.ReasonPanic,
					eris.Errorf("waterfall: source %s panicked: %v", s.SourceID, r))}
			}
		}()
		v, err := s.Resolve(ctx)
		done <- outcome[T]{val: v, err: err}
	}()

	select {
	case o := <-done:
		val, err = o.val, o.err
	case <-ctx.Done():
		zap.L().Warn("waterfall: abandoning unresponsive source", zap.String("source", s.SourceID))
		err = resilience.Fail(resilience.ReasonOf(ctx.Err()),
			eris.Wrapf(ctx.Err(), "waterfall: source %s did not return", s.SourceID))
	}

	if err != nil {
		var zero T
		// A step that ran out its own budget is a timeout even when the
		// resolver reports the transport error instead.
		if parent.Err() == nil && errors.Is(ctx.Err(), context.DeadlineExceeded) && resilience.ReasonOf(err) != resilience.ReasonPanic {
			err = resilience.Fail(resilience.ReasonTimeout, err)
		}
		return zero, err
	}
	if isNil(val) {
		return val, resilience.Failf(resilience.ReasonError, "waterfall: source %s returned no result", s.SourceID)
	}
	return val, nil
}

func skipFrom(steps []model.ResolutionStep, from int, reason string) {
	for i := from; i < len(steps); i++ {
		steps[i].Status = model.StepStatusSkipped
		steps[i].Reason = reason
		steps[i].DurationMs = 0
	}
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	default:
		return false
	}
}
