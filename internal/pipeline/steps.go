package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/txlens/internal/abisource"
	"github.com/sells-group/txlens/internal/analysis"
	"github.com/sells-group/txlens/internal/classify"
	"github.com/sells-group/txlens/internal/decode"
	"github.com/sells-group/txlens/internal/explain"
	"github.com/sells-group/txlens/internal/model"
	"github.com/sells-group/txlens/internal/resilience"
	"github.com/sells-group/txlens/internal/trace"
	"github.com/sells-group/txlens/internal/waterfall"
)

// Step names.
const (
	StepClassify         = "classify"
	StepFetchTransaction = "fetch_transaction"
	StepFetchReceipt     = "fetch_receipt"
	StepResolveABI       = "resolve_abi:"
	StepDecodeCalldata   = "decode_calldata"
	StepDecodeTypedData  = "decode_typed_data"
	StepHashTypedData    = "hash_typed_data"
	StepDetectBehavior   = "detect_behavior"
	StepDetectRisk       = "detect_risk"
	StepPredictAssets    = "predict_assets"
	StepSimulate         = "simulate"
	StepExplain          = "explain"
	StepNormalize        = "normalize_signals"
)

// run is the per-analysis state. It is owned by one Analyze call.
type run struct {
	a        *Analyzer
	ctx      context.Context
	rec      *trace.Recorder
	opts     Options
	res      *model.AnalysisResult
	log      *zap.Logger
	canceled bool

	tx        *model.TxContext
	predicted model.PredictedAssets
	flags     model.RiskFlags
	sim       *model.SimulationResult
}

// step runs fn as a traced step. Cancellation is observed before the call;
// once the analysis is canceled no further steps are recorded. A positive
// timeout bounds fn.
func (r *run) step(name string, phase model.Phase, input model.Payload, timeout time.Duration, fn func(ctx context.Context) (model.Payload, error)) bool {
	if r.canceled {
		return false
	}
	if r.ctx.Err() != nil {
		r.canceled = true
		return false
	}

	ctx := r.ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	h := r.rec.Begin(name, phase, input)
	out, err := fn(ctx)
	if err != nil {
		if r.ctx.Err() != nil {
			r.canceled = true
			err = resilience.Fail(resilience.ReasonCanceled, err)
		}
		s := r.rec.Fail(h, err)
		r.log.Debug("pipeline: step failed",
			zap.String("step", name),
			zap.String("reason", s.Reason),
			zap.Int64("duration_ms", s.DurationMs),
			zap.Error(err),
		)
		return false
	}
	s := r.rec.Succeed(h, out)
	r.log.Debug("pipeline: step complete",
		zap.String("step", name),
		zap.Int64("duration_ms", s.DurationMs),
	)
	return true
}

// skip records a step that was not attempted.
func (r *run) skip(name string, phase model.Phase, input model.Payload, reason string) {
	if r.canceled {
		return
	}
	r.rec.Skip(r.rec.Begin(name, phase, input), reason)
}

func (r *run) classify(raw string) model.InputKind {
	h := r.rec.Begin(StepClassify, model.PhaseDecode, nil)
	kind := classify.Classify(raw)
	r.res.InputKind = kind
	out := model.ClassificationPayload{Kind: kind, Length: len(raw)}
	if kind == model.InputKindUnknown {
		r.rec.Finish(h, model.StepStatusFailed, out, resilience.Failf(resilience.ReasonUnrecognized,
			"input is not a transaction hash, calldata or typed data"))
		return kind
	}
	r.rec.Succeed(h, out)
	return kind
}

func (r *run) analyzeTxHash(hash string) {
	fetcher := r.a.deps.Fetcher
	lookup := model.LookupPayload{ChainID: r.res.ChainID, Hash: hash}
	timeout := r.a.deps.Timeouts.Fetch

	ok := r.step(StepFetchTransaction, model.PhaseDataFetch, lookup, timeout, func(ctx context.Context) (model.Payload, error) {
		if fetcher == nil {
			return nil, resilience.Failf(resilience.ReasonNotConfigured, "no rpc endpoint configured")
		}
		tx, err := fetcher.FetchTransaction(ctx, r.res.ChainID, hash)
		if err != nil {
			return nil, err
		}
		r.res.Transaction = tx
		return tx, nil
	})
	if !ok {
		return
	}

	tx := r.res.Transaction
	txCtx := tx.Context()
	r.tx = &txCtx

	if tx.Pending {
		r.skip(StepFetchReceipt, model.PhaseDataFetch, lookup, resilience.ReasonPending)
	} else {
		r.step(StepFetchReceipt, model.PhaseDataFetch, lookup, timeout, func(ctx context.Context) (model.Payload, error) {
			rc, err := fetcher.FetchReceipt(ctx, r.res.ChainID, hash)
			if err != nil {
				return nil, err
			}
			r.res.Receipt = rc
			return rc, nil
		})
	}

	r.resolveAndDecode()
}

func (r *run) analyzeCalldata(data string) {
	tx := model.TxContext{}
	if r.opts.Context != nil {
		tx = *r.opts.Context
	}
	tx.Data = data
	r.tx = &tx
	r.resolveAndDecode()
}

// resolveAndDecode runs the ABI chain for the current transaction context
// and decodes its calldata with the winner.
func (r *run) resolveAndDecode() {
	if r.canceled {
		return
	}
	data, err := calldataBytes(r.tx.Data)
	target := abisource.Target{ChainID: r.res.ChainID, Address: r.tx.To}
	if err == nil && len(data) >= 4 {
		target.Selector = hexutil.Encode(data[:4])
	}
	lookup := model.LookupPayload{ChainID: target.ChainID, Address: target.Address, Selector: target.Selector}
	strategies := r.a.deps.Sources.Strategies(r.a.deps.SourceOrder, target, r.opts.UserABI)

	if target.Selector == "" {
		for _, s := range strategies {
			r.skip(StepResolveABI+s.SourceID, model.PhaseSourceResolution, lookup, resilience.ReasonNoCalldata)
		}
		switch {
		case err != nil:
			r.step(StepDecodeCalldata, model.PhaseDecode, lookup, 0, func(context.Context) (model.Payload, error) {
				return nil, resilience.Fail(resilience.ReasonDecodeFailed, eris.Wrap(err, "calldata is not valid hex"))
			})
		case len(data) > 0:
			r.step(StepDecodeCalldata, model.PhaseDecode, lookup, 0, func(context.Context) (model.Payload, error) {
				return nil, resilience.Failf(resilience.ReasonDecodeFailed, "calldata shorter than a selector (%d bytes)", len(data))
			})
		default:
			r.skip(StepDecodeCalldata, model.PhaseDecode, lookup, resilience.ReasonNoCalldata)
		}
		return
	}

	if r.ctx.Err() != nil {
		r.canceled = true
		return
	}
	chain := waterfall.Run(r.ctx, r.a.executor, strategies)
	r.res.Diagnostics.Resolution = chain.Steps
	r.res.Diagnostics.AbiSource = chain.WinnerSource
	for _, s := range chain.Steps {
		r.rec.Append(resolutionTraceStep(s, lookup))
	}
	if chain.Canceled {
		r.canceled = true
		return
	}

	input := model.ResolutionPayload{
		Target:   target.Selector + "@" + target.Address,
		Winner:   chain.WinnerSource,
		Resolved: chain.Resolved,
	}
	r.step(StepDecodeCalldata, model.PhaseDecode, input, 0, func(context.Context) (model.Payload, error) {
		if !chain.Resolved {
			return nil, resilience.Failf(resilience.ReasonDecodeFailed, "no abi resolved for selector %s", target.Selector)
		}
		call, err := decode.Calldata(data, chain.Winner)
		if err != nil {
			return nil, err
		}
		call.Contract = r.tx.To
		r.res.Decoded = call
		return call, nil
	})
}

func (r *run) analyzeSignature(raw string) {
	ok := r.step(StepDecodeTypedData, model.PhaseDecode, nil, 0, func(context.Context) (model.Payload, error) {
		td, err := decode.TypedData(raw)
		if err != nil {
			return nil, err
		}
		r.res.TypedData = td
		return td, nil
	})
	if !ok {
		r.skip(StepHashTypedData, model.PhaseDecode, nil, resilience.ReasonDecodeFailed)
		return
	}
	r.step(StepHashTypedData, model.PhaseDecode, nil, 0, func(context.Context) (model.Payload, error) {
		hash, err := decode.HashTypedData(raw)
		if err != nil {
			return nil, err
		}
		r.res.TypedData.Hash = hash
		return model.RawPayload{"hash": hash}, nil
	})
}

// analyze runs the local detectors and the optional simulation.
func (r *run) analyze() {
	if r.tx == nil && r.res.TypedData == nil {
		return
	}
	in := analysis.Input{
		ChainID:   r.res.ChainID,
		Tx:        r.tx,
		Decoded:   r.res.Decoded,
		TypedData: r.res.TypedData,
		Receipt:   r.res.Receipt,
	}
	det := r.a.deps.Detector

	r.step(StepDetectBehavior, model.PhaseAnalysis, nil, 0, func(context.Context) (model.Payload, error) {
		r.res.Behavior = det.Behavior(in)
		return r.res.Behavior, nil
	})
	r.step(StepDetectRisk, model.PhaseAnalysis, nil, 0, func(context.Context) (model.Payload, error) {
		r.flags = det.Risk(in)
		return r.flags, nil
	})
	r.step(StepPredictAssets, model.PhaseAnalysis, nil, 0, func(context.Context) (model.Payload, error) {
		r.predicted = det.Assets(in)
		return r.predicted, nil
	})

	sim := r.a.deps.Simulator
	if sim == nil || r.tx == nil {
		return
	}
	tx := *r.tx
	r.step(StepSimulate, model.PhaseAnalysis, &tx, r.a.deps.Timeouts.Simulate, func(ctx context.Context) (model.Payload, error) {
		out, err := sim.Simulate(ctx, r.res.ChainID, tx)
		if err != nil {
			return nil, err
		}
		r.sim = out
		return out, nil
	})
}

func (r *run) explain() {
	if !r.opts.IncludeExplanation {
		return
	}
	ex := r.a.deps.Explainer
	req := explain.Request{
		ChainID:   r.res.ChainID,
		Kind:      r.res.InputKind,
		Tx:        r.tx,
		Decoded:   r.res.Decoded,
		TypedData: r.res.TypedData,
		Behavior:  r.res.Behavior,
		Risk:      r.flags,
		Assets:    r.predicted,
		Language:  r.opts.Language,
	}
	r.step(StepExplain, model.PhaseAnalysis, nil, r.a.deps.Timeouts.Explain, func(ctx context.Context) (model.Payload, error) {
		if ex == nil {
			return nil, resilience.Failf(resilience.ReasonNotConfigured, "no explanation service configured")
		}
		out, err := ex.Explain(ctx, req)
		if err != nil {
			return nil, err
		}
		r.res.Explanation = out
		return out, nil
	})
}

// normalize always runs, even after cancellation, so the result carries
// assets and risk derived from whatever signals were collected.
func (r *run) normalize() {
	if r.canceled {
		normalizeSignals(r.res, r.predicted, r.flags, r.sim)
		return
	}
	r.step(StepNormalize, model.PhaseAnalysis, nil, 0, func(context.Context) (model.Payload, error) {
		return normalizeSignals(r.res, r.predicted, r.flags, r.sim), nil
	})
}

func calldataBytes(s string) ([]byte, error) {
	if s == "" || s == "0x" {
		return nil, nil
	}
	b, err := hexutil.Decode(s)
	if err != nil && errors.Is(err, hexutil.ErrMissingPrefix) {
		return hexutil.Decode("0x" + s)
	}
	return b, err
}

func resolutionTraceStep(s model.ResolutionStep, input model.Payload) model.TraceStep {
	step := model.TraceStep{
		Name:       StepResolveABI + s.SourceID,
		Phase:      model.PhaseSourceResolution,
		Status:     s.Status,
		DurationMs: s.DurationMs,
		Input:      input,
		Reason:     s.Reason,
		Error:      s.Error,
	}
	if res, ok := s.Output.(*abisource.Resolution); ok && res != nil {
		step.Output = model.AbiPayload{
			Source:       res.Source,
			ContractName: res.ContractName,
			Methods:      res.Methods,
			Signatures:   res.Signatures,
		}
	}
	return step
}
