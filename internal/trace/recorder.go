// Package trace records the ordered, timed steps of a single analysis.
package trace

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sells-group/txlens/internal/model"
	"github.com/sells-group/txlens/internal/resilience"
)

var recorderSeq atomic.Uint64

// Recorder is a single-use, append-only accumulator of trace steps scoped to
// one analysis. It is not safe for concurrent use: steps of one analysis run
// sequentially.
type Recorder struct {
	id    uint64
	steps []model.TraceStep
	open  int
	now   func() time.Time
}

// Handle identifies a step that has begun but not yet finished.
type Handle struct {
	rec      *Recorder
	name     string
	phase    model.Phase
	input    model.Payload
	start    time.Time
	finished bool
}

// Name returns the step name.
func (h *Handle) Name() string { return h.name }

// Phase returns the step phase.
func (h *Handle) Phase() model.Phase { return h.phase }

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{
		id:  recorderSeq.Add(1),
		now: time.Now,
	}
}

// WithClock sets the time source for testing.
func (r *Recorder) WithClock(now func() time.Time) *Recorder {
	r.now = now
	return r
}

// Begin starts a step and returns the handle used to finish it.
func (r *Recorder) Begin(name string, phase model.Phase, input model.Payload) *Handle {
	r.open++
	return &Handle{
		rec:   r,
		name:  name,
		phase: phase,
		input: input,
		start: r.now(),
	}
}

// Finish completes the step behind h and appends it to the trace. A failed
// step without err is given a generic reason so that every failure explains
// itself. Finishing a handle twice, or a handle from another recorder, panics.
func (r *Recorder) Finish(h *Handle, status model.StepStatus, output model.Payload, err error) model.TraceStep {
	r.claim(h)

	step := model.TraceStep{
		Name:       h.name,
		Phase:      h.phase,
		Status:     status,
		DurationMs: max(r.now().Sub(h.start).Milliseconds(), 0),
		Input:      h.input,
		Output:     output,
	}
	if err != nil {
		step.Error = err.Error()
		step.Reason = resilience.ReasonOf(err)
	}
	if status == model.StepStatusFailed && step.Error == "" && step.Reason == "" {
		step.Reason = resilience.ReasonError
	}

	r.steps = append(r.steps, step)
	return step
}

// Succeed finishes h with a success status.
func (r *Recorder) Succeed(h *Handle, output model.Payload) model.TraceStep {
	return r.Finish(h, model.StepStatusSuccess, output, nil)
}

// Fail finishes h with a failed status.
func (r *Recorder) Fail(h *Handle, err error) model.TraceStep {
	return r.Finish(h, model.StepStatusFailed, nil, err)
}

// Skip finishes h as skipped with the given reason.
func (r *Recorder) Skip(h *Handle, reason string) model.TraceStep {
	r.claim(h)
	step := model.TraceStep{
		Name:   h.name,
		Phase:  h.phase,
		Status: model.StepStatusSkipped,
		Input:  h.input,
		Reason: reason,
	}
	r.steps = append(r.steps, step)
	return step
}

// Append adds a step completed elsewhere, such as one link of a resolution
// chain. Negative durations and unexplained failures are contract violations.
func (r *Recorder) Append(step model.TraceStep) {
	if step.DurationMs < 0 {
		panic(fmt.Sprintf("trace: step %q has negative duration %d", step.Name, step.DurationMs))
	}
	if step.Status == model.StepStatusFailed && step.Error == "" && step.Reason == "" {
		panic(fmt.Sprintf("trace: failed step %q carries no error or reason", step.Name))
	}
	r.steps = append(r.steps, step)
}

// Steps returns a copy of the completed steps in the order they finished.
func (r *Recorder) Steps() []model.TraceStep {
	out := make([]model.TraceStep, len(r.steps))
	copy(out, r.steps)
	return out
}

// Open returns the number of begun steps not yet finished.
func (r *Recorder) Open() int {
	return r.open
}

// Failed returns the names of failed steps.
func (r *Recorder) Failed() []string {
	var names []string
	for _, s := range r.steps {
		if s.Status == model.StepStatusFailed {
			names = append(names, s.Name)
		}
	}
	return names
}

// PhaseDurations sums the durations of completed steps per phase. Steps that
// are still open contribute nothing.
func (r *Recorder) PhaseDurations() map[model.Phase]int64 {
	out := make(map[model.Phase]int64, len(model.Phases))
	for _, p := range model.Phases {
		out[p] = 0
	}
	for _, s := range r.steps {
		out[s.Phase] += s.DurationMs
	}
	return out
}

// TotalDuration sums the durations of all completed steps.
func (r *Recorder) TotalDuration() int64 {
	var total int64
	for _, s := range r.steps {
		total += s.DurationMs
	}
	return total
}

func (r *Recorder) claim(h *Handle) {
	if h == nil {
		panic("trace: finish called with nil handle")
	}
	if h.rec != r {
		var owner uint64
		if h.rec != nil {
			owner = h.rec.id
		}
		panic(fmt.Sprintf("trace: handle %q belongs to recorder %d, not %d", h.name, owner, r.id))
	}
	if h.finished {
		panic(fmt.Sprintf("trace: step %q already finished", h.name))
	}
	h.finished = true
	r.open--
}
