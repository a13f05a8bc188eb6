package main

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/txlens/internal/config"
	"github.com/sells-group/txlens/internal/model"
	"github.com/sells-group/txlens/internal/pipeline"
	"github.com/sells-group/txlens/internal/store"
)

// fakeAnalyzer answers with fn and records every call.
type fakeAnalyzer struct {
	mu    sync.Mutex
	calls []fakeCall
	fn    func(ctx context.Context, raw string, chainID int64) (*model.AnalysisResult, error)
}

type fakeCall struct {
	Raw     string
	ChainID int64
	Opts    pipeline.Options
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, raw string, chainID int64, opts pipeline.Options) (*model.AnalysisResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, fakeCall{Raw: raw, ChainID: chainID, Opts: opts})
	f.mu.Unlock()
	if f.fn != nil {
		return f.fn(ctx, raw, chainID)
	}
	return okResult(raw, chainID), nil
}

func (f *fakeAnalyzer) Calls() []fakeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]fakeCall(nil), f.calls...)
}

func okResult(raw string, chainID int64) *model.AnalysisResult {
	kind := pipeline.Classify(raw)
	return &model.AnalysisResult{
		ID:        uuid.NewString(),
		ChainID:   chainID,
		InputKind: kind,
		RiskLevel: model.SeverityLow,
		Risk:      []model.RiskFlag{},
		Assets:    []model.NormalizedAsset{},
		Pay:       []model.NormalizedAsset{},
		Receive:   []model.NormalizedAsset{},
	}
}

// failedResult is a partial result whose fetch step failed with reason.
func failedResult(raw string, chainID int64, reason string) *model.AnalysisResult {
	res := okResult(raw, chainID)
	res.Trace = []model.TraceStep{
		{Name: "classify", Phase: model.PhaseDataFetch, Status: model.StepStatusSuccess},
		{Name: "fetch_transaction", Phase: model.PhaseDataFetch, Status: model.StepStatusFailed, Reason: reason},
	}
	res.Error = "fetch_transaction: " + reason
	return res
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.Open(context.Background(), config.StoreConfig{
		Driver:      "sqlite",
		DatabaseURL: filepath.Join(t.TempDir(), "txlens.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

const (
	testHash     = "0x5c504ed432cb51138bcf09aa5e8a410dd4a1e204ef84bfed1be16dfba1b22060"
	testCalldata = "0xa9059cbb000000000000000000000000d8da6bf26964af9d7eed9e03e53415d37aa960450000000000000000000000000000000000000000000000000de0b6b3a7640000"
)

func storeFilterAll() store.AnalysisFilter {
	return store.AnalysisFilter{Limit: 1000}
}
