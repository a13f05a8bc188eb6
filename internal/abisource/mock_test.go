package abisource

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/txlens/internal/model"
	"github.com/sells-group/txlens/pkg/etherscan"
	"github.com/sells-group/txlens/pkg/fourbyte"
)

// --- Explorer Mock ---

type mockExplorer struct {
	mock.Mock
}

func (m *mockExplorer) GetContract(ctx context.Context, chainID int64, address string) (*etherscan.Contract, error) {
	args := m.Called(ctx, chainID, address)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*etherscan.Contract), args.Error(1)
}

// --- 4byte Mock ---

type mockFourByte struct {
	mock.Mock
}

func (m *mockFourByte) Lookup(ctx context.Context, selector string) ([]fourbyte.Signature, error) {
	args := m.Called(ctx, selector)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]fourbyte.Signature), args.Error(1)
}

// --- Cache Mock ---

type mockCache struct {
	mock.Mock
}

func (m *mockCache) GetCachedABI(ctx context.Context, chainID int64, address string) (*model.CachedABI, error) {
	args := m.Called(ctx, chainID, address)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.CachedABI), args.Error(1)
}

func (m *mockCache) SetCachedABI(ctx context.Context, entry model.CachedABI) error {
	return m.Called(ctx, entry).Error(0)
}
