package pipeline

import (
	"context"
	"sync/atomic"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/txlens/internal/abisource"
	"github.com/sells-group/txlens/internal/explain"
	"github.com/sells-group/txlens/internal/model"
)

type mockFetcher struct {
	mock.Mock
}

func (m *mockFetcher) FetchTransaction(ctx context.Context, chainID int64, hash string) (*model.RawTx, error) {
	args := m.Called(ctx, chainID, hash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.RawTx), args.Error(1)
}

func (m *mockFetcher) FetchReceipt(ctx context.Context, chainID int64, hash string) (*model.RawReceipt, error) {
	args := m.Called(ctx, chainID, hash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.RawReceipt), args.Error(1)
}

type mockSimulator struct {
	mock.Mock
}

func (m *mockSimulator) Simulate(ctx context.Context, chainID int64, tx model.TxContext) (*model.SimulationResult, error) {
	args := m.Called(ctx, chainID, tx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.SimulationResult), args.Error(1)
}

type mockExplainer struct {
	mock.Mock
}

func (m *mockExplainer) Explain(ctx context.Context, req explain.Request) (*model.Explanation, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Explanation), args.Error(1)
}

// stubSource is an abisource.Source with a fixed answer and a call counter.
type stubSource struct {
	id    string
	res   *abisource.Resolution
	err   error
	calls atomic.Int32
}

func (s *stubSource) ID() string { return s.id }

func (s *stubSource) Resolve(_ context.Context, _ abisource.Target) (*abisource.Resolution, error) {
	s.calls.Add(1)
	return s.res, s.err
}
