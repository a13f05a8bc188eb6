// Package pipeline builds the aggregate AnalysisResult for one raw input:
// classification, data fetch, ABI resolution, decoding, analysis, optional
// explanation and signal normalization, each recorded as a trace step.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/txlens/internal/abisource"
	"github.com/sells-group/txlens/internal/analysis"
	"github.com/sells-group/txlens/internal/classify"
	"github.com/sells-group/txlens/internal/explain"
	"github.com/sells-group/txlens/internal/model"
	"github.com/sells-group/txlens/internal/normalize"
	"github.com/sells-group/txlens/internal/trace"
	"github.com/sells-group/txlens/internal/waterfall"
)

// TxFetcher loads transactions and receipts from a node.
type TxFetcher interface {
	FetchTransaction(ctx context.Context, chainID int64, hash string) (*model.RawTx, error)
	FetchReceipt(ctx context.Context, chainID int64, hash string) (*model.RawReceipt, error)
}

// Simulator predicts the effects of a transaction.
type Simulator interface {
	Simulate(ctx context.Context, chainID int64, tx model.TxContext) (*model.SimulationResult, error)
}

// Explainer produces a natural-language explanation.
type Explainer interface {
	Explain(ctx context.Context, req explain.Request) (*model.Explanation, error)
}

// Timeouts bound individual external calls. Zero disables a bound.
type Timeouts struct {
	Fetch    time.Duration
	Resolve  time.Duration
	Simulate time.Duration
	Explain  time.Duration
}

// Deps are the collaborators of an Analyzer. Fetcher, Simulator and
// Explainer are optional.
type Deps struct {
	Fetcher     TxFetcher
	Sources     *abisource.Registry
	SourceOrder []string
	Detector    *analysis.Detector
	Simulator   Simulator
	Explainer   Explainer
	Timeouts    Timeouts
}

// Options tune a single analysis.
type Options struct {
	IncludeExplanation bool
	IncludeTrace       bool
	Language           string
	// Context supplies from/to/value for raw calldata.
	Context *model.TxContext
	UserABI string
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithClock sets the time source for testing.
func WithClock(now func() time.Time) Option {
	return func(a *Analyzer) { a.now = now }
}

// WithIDGenerator overrides analysis ID generation.
func WithIDGenerator(fn func() string) Option {
	return func(a *Analyzer) { a.newID = fn }
}

// Analyzer runs analyses. It is immutable after New and safe for
// concurrent Analyze calls.
type Analyzer struct {
	deps     Deps
	executor *waterfall.Executor
	now      func() time.Time
	newID    func() string
}

// New creates an Analyzer.
func New(deps Deps, opts ...Option) *Analyzer {
	if deps.Sources == nil {
		deps.Sources = abisource.NewRegistry()
	}
	if deps.Detector == nil {
		deps.Detector = analysis.NewDetector(nil)
	}
	a := &Analyzer{
		deps:  deps,
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, o := range opts {
		o(a)
	}
	a.executor = waterfall.NewExecutor(deps.Timeouts.Resolve).WithClock(a.now)
	return a
}

// Classify returns the input kind of raw without running an analysis.
func Classify(raw string) model.InputKind {
	return classify.Classify(raw)
}

// Analyze interprets raw on chainID. Stage failures never abort the run: they
// become failed trace steps and the result carries whatever succeeded plus
// an error summary. The returned error is non-nil only when ctx was canceled,
// in which case the partial result is returned alongside it.
func (a *Analyzer) Analyze(ctx context.Context, raw string, chainID int64, opts Options) (*model.AnalysisResult, error) {
	if chainID <= 0 {
		panic(fmt.Sprintf("pipeline: chain id must be positive, got %d", chainID))
	}

	r := &run{
		a:    a,
		ctx:  ctx,
		rec:  trace.NewRecorder().WithClock(a.now),
		opts: opts,
		res: &model.AnalysisResult{
			ID:        a.newID(),
			ChainID:   chainID,
			Risk:      []model.RiskFlag{},
			RiskLevel: model.SeverityUnknown,
			Assets:    []model.NormalizedAsset{},
			Pay:       []model.NormalizedAsset{},
			Receive:   []model.NormalizedAsset{},
		},
	}
	r.log = zap.L().With(zap.String("analysis_id", r.res.ID), zap.Int64("chain_id", chainID))

	kind := r.classify(raw)
	switch kind {
	case model.InputKindTxHash:
		r.analyzeTxHash(strings.TrimSpace(raw))
	case model.InputKindCalldata:
		r.analyzeCalldata(strings.TrimSpace(raw))
	case model.InputKindSignature:
		r.analyzeSignature(strings.TrimSpace(raw))
	}
	if kind != model.InputKindUnknown {
		r.analyze()
		r.explain()
		r.normalize()
	}

	r.finalize()
	if r.canceled {
		return r.res, eris.Wrap(ctx.Err(), "pipeline: analysis canceled")
	}
	return r.res, nil
}

func (r *run) finalize() {
	if open := r.rec.Open(); open != 0 {
		panic(fmt.Sprintf("pipeline: %d trace steps left open", open))
	}

	res := r.res
	failed := r.rec.Failed()
	res.Diagnostics.PhaseDurations = r.rec.PhaseDurations()
	res.Diagnostics.TotalDurationMs = r.rec.TotalDuration()
	res.Diagnostics.FailedSteps = failed
	res.Diagnostics.Canceled = r.canceled
	if r.opts.IncludeTrace {
		res.Trace = r.rec.Steps()
	}
	res.Error = errorSummary(r.rec.Steps(), r.canceled)

	r.log.Info("pipeline: analysis complete",
		zap.String("kind", string(res.InputKind)),
		zap.String("abi_source", res.Diagnostics.AbiSource),
		zap.String("risk_level", string(res.RiskLevel)),
		zap.Int("assets", len(res.Assets)),
		zap.Int("failed_steps", len(failed)),
		zap.Bool("canceled", r.canceled),
		zap.Int64("duration_ms", res.Diagnostics.TotalDurationMs),
	)
}

// errorSummary lists failed steps with their reasons, e.g.
// "fetch_receipt: not_found; explain: timeout". Failed resolvers are left
// out: an unresolved chain surfaces as a failed decode_calldata step.
func errorSummary(steps []model.TraceStep, canceled bool) string {
	var parts []string
	for _, s := range steps {
		if s.Status != model.StepStatusFailed || s.Phase == model.PhaseSourceResolution {
			continue
		}
		reason := s.Reason
		if reason == "" {
			reason = s.Error
		}
		parts = append(parts, s.Name+": "+reason)
	}
	if canceled {
		parts = append(parts, "analysis canceled")
	}
	return strings.Join(parts, "; ")
}

// normalizeSignals reconciles assets and risk into the result.
func normalizeSignals(res *model.AnalysisResult, predicted model.PredictedAssets, flags model.RiskFlags, sim *model.SimulationResult) *model.AssetView {
	view := normalize.ReconcileAssets(normalize.AssetSignals{
		Simulation:  sim,
		Calldata:    predicted,
		Explanation: res.Explanation,
	})
	res.Assets = view.Assets
	res.Pay = view.Pay
	res.Receive = view.Receive
	res.AssetProvenance = view.Provenance

	signals := normalize.RiskSignals{Flags: flags}
	if ex := res.Explanation; ex != nil {
		signals.ReportedLevel = ex.RiskLevel
		signals.Reasons = ex.RiskReasons
	}
	risk := normalize.AggregateRisk(signals)
	res.Risk = risk.Flags
	res.RiskLevel = risk.Level
	return &view
}
