package abisource

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/txlens/internal/model"
	"github.com/sells-group/txlens/internal/resilience"
	"github.com/sells-group/txlens/internal/waterfall"
	"github.com/sells-group/txlens/pkg/etherscan"
	"github.com/sells-group/txlens/pkg/fourbyte"
)

const routerABI = `[{"type":"function","name":"swapExactTokensForTokens","stateMutability":"nonpayable","inputs":[{"name":"amountIn","type":"uint256"},{"name":"amountOutMin","type":"uint256"},{"name":"path","type":"address[]"},{"name":"to","type":"address"},{"name":"deadline","type":"uint256"}],"outputs":[]}]`

func TestUserSource(t *testing.T) {
	_, err := NewUserSource("").Resolve(context.Background(), Target{})
	assert.Equal(t, resilience.ReasonNoUserABI, resilience.ReasonOf(err))

	_, err = NewUserSource("not json").Resolve(context.Background(), Target{})
	assert.Equal(t, resilience.ReasonInvalidABI, resilience.ReasonOf(err))

	res, err := NewUserSource(routerABI).Resolve(context.Background(), Target{})
	require.NoError(t, err)
	assert.Equal(t, SourceUser, res.Source)
	assert.Equal(t, 1, res.Methods)
}

func TestUserSource_MethodNotDeclared(t *testing.T) {
	src := NewUserSource(routerABI)

	_, err := src.Resolve(context.Background(), Target{ChainID: 1, Selector: "0xa9059cbb"})
	require.Error(t, err)
	assert.Equal(t, resilience.ReasonMethodNotFound, resilience.ReasonOf(err))

	res, err := src.Resolve(context.Background(), Target{ChainID: 1, Selector: "0x38ed1739"})
	require.NoError(t, err)
	assert.Equal(t, SourceUser, res.Source)
}

func TestExplorerSource_Failures(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		reason string
	}{
		{"missing key", etherscan.ErrMissingAPIKey, resilience.ReasonMissingAPIKey},
		{"not verified", etherscan.ErrNotVerified, resilience.ReasonNotVerified},
		{"rate limited", resilience.Transient(etherscan.ErrRateLimited, 429), resilience.ReasonRateLimited},
		{"timeout", context.DeadlineExceeded, resilience.ReasonTimeout},
		{"other", errors.New("boom"), resilience.ReasonError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := new(mockExplorer)
			client.On("GetContract", mock.Anything, int64(1), routerAddr).Return(nil, tt.err)

			_, err := NewExplorerSource(client, nil, 0).Resolve(context.Background(), Target{ChainID: 1, Address: routerAddr})
			require.Error(t, err)
			assert.Equal(t, tt.reason, resilience.ReasonOf(err))
			client.AssertExpectations(t)
		})
	}
}

const routerAddr = "0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D"

func TestExplorerSource_MissingAddress(t *testing.T) {
	client := new(mockExplorer)
	_, err := NewExplorerSource(client, nil, 0).Resolve(context.Background(), Target{ChainID: 1, Selector: "0xa9059cbb"})
	assert.Equal(t, resilience.ReasonMissingAddress, resilience.ReasonOf(err))
	client.AssertNotCalled(t, "GetContract")
}

func TestExplorerSource_CachesResult(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	client := new(mockExplorer)
	client.On("GetContract", mock.Anything, int64(1), routerAddr).
		Return(&etherscan.Contract{Name: "UniswapV2Router02", ABI: routerABI}, nil).Once()

	cache := new(mockCache)
	cache.On("GetCachedABI", mock.Anything, int64(1), routerAddr).Return(nil, nil).Once()
	cache.On("SetCachedABI", mock.Anything, mock.MatchedBy(func(e model.CachedABI) bool {
		return e.Address == routerAddr && e.ContractName == "UniswapV2Router02" && e.FetchedAt.Equal(now)
	})).Return(nil).Once()

	src := NewExplorerSource(client, cache, time.Hour)
	src.now = func() time.Time { return now }

	res, err := src.Resolve(context.Background(), Target{ChainID: 1, Address: routerAddr})
	require.NoError(t, err)
	assert.Equal(t, "UniswapV2Router02", res.ContractName)

	client.AssertExpectations(t)
	cache.AssertExpectations(t)
}

func TestExplorerSource_CacheHitAndExpiry(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	fresh := &model.CachedABI{ChainID: 1, Address: routerAddr, ContractName: "Cached", ABI: routerABI, FetchedAt: now.Add(-time.Minute)}
	stale := &model.CachedABI{ChainID: 1, Address: routerAddr, ContractName: "Cached", ABI: routerABI, FetchedAt: now.Add(-2 * time.Hour)}

	t.Run("fresh entry skips explorer", func(t *testing.T) {
		client := new(mockExplorer)
		cache := new(mockCache)
		cache.On("GetCachedABI", mock.Anything, int64(1), routerAddr).Return(fresh, nil)

		src := NewExplorerSource(client, cache, time.Hour)
		src.now = func() time.Time { return now }

		res, err := src.Resolve(context.Background(), Target{ChainID: 1, Address: routerAddr})
		require.NoError(t, err)
		assert.Equal(t, "Cached", res.ContractName)
		client.AssertNotCalled(t, "GetContract")
	})

	t.Run("stale entry refetches", func(t *testing.T) {
		client := new(mockExplorer)
		client.On("GetContract", mock.Anything, int64(1), routerAddr).
			Return(&etherscan.Contract{Name: "Fresh", ABI: routerABI}, nil)
		cache := new(mockCache)
		cache.On("GetCachedABI", mock.Anything, int64(1), routerAddr).Return(stale, nil)
		cache.On("SetCachedABI", mock.Anything, mock.Anything).Return(errors.New("disk full"))

		src := NewExplorerSource(client, cache, time.Hour)
		src.now = func() time.Time { return now }

		res, err := src.Resolve(context.Background(), Target{ChainID: 1, Address: routerAddr})
		require.NoError(t, err)
		assert.Equal(t, "Fresh", res.ContractName)
	})
}

func TestExplorerSource_MethodNotDeclared(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	target := Target{ChainID: 1, Address: routerAddr, Selector: "0xa9059cbb"}

	t.Run("fetched abi still cached", func(t *testing.T) {
		client := new(mockExplorer)
		client.On("GetContract", mock.Anything, int64(1), routerAddr).
			Return(&etherscan.Contract{Name: "Proxy", ABI: routerABI}, nil).Once()
		cache := new(mockCache)
		cache.On("GetCachedABI", mock.Anything, int64(1), routerAddr).Return(nil, nil).Once()
		cache.On("SetCachedABI", mock.Anything, mock.Anything).Return(nil).Once()

		src := NewExplorerSource(client, cache, time.Hour)
		src.now = func() time.Time { return now }

		_, err := src.Resolve(context.Background(), target)
		require.Error(t, err)
		assert.Equal(t, resilience.ReasonMethodNotFound, resilience.ReasonOf(err))
		client.AssertExpectations(t)
		cache.AssertExpectations(t)
	})

	t.Run("fresh cache entry is not refetched", func(t *testing.T) {
		client := new(mockExplorer)
		cache := new(mockCache)
		cache.On("GetCachedABI", mock.Anything, int64(1), routerAddr).Return(&model.CachedABI{
			ChainID: 1, Address: routerAddr, ContractName: "Proxy", ABI: routerABI, FetchedAt: now,
		}, nil)

		src := NewExplorerSource(client, cache, time.Hour)
		src.now = func() time.Time { return now }

		_, err := src.Resolve(context.Background(), target)
		require.Error(t, err)
		assert.Equal(t, resilience.ReasonMethodNotFound, resilience.ReasonOf(err))
		client.AssertNotCalled(t, "GetContract")
	})
}

func TestFourByteSource(t *testing.T) {
	client := new(mockFourByte)
	client.On("Lookup", mock.Anything, "0xa9059cbb").Return([]fourbyte.Signature{
		{ID: 1, TextSignature: "transfer(address,uint256)"},
		{ID: 2, TextSignature: "garbage("},
		{ID: 3, TextSignature: "mismatched(uint256)"},
		{ID: 4, TextSignature: "many_msg_babbage(bytes1)"},
	}, nil)

	res, err := NewFourByteSource(client).Resolve(context.Background(), Target{Selector: "0xa9059cbb"})
	require.NoError(t, err)
	assert.Nil(t, res.ABI)
	assert.Equal(t, []string{"transfer(address,uint256)", "many_msg_babbage(bytes1)"}, res.Signatures)
	assert.Equal(t, 2, res.Methods)
}

func TestFourByteSource_NotFound(t *testing.T) {
	client := new(mockFourByte)
	client.On("Lookup", mock.Anything, "0x12345678").Return([]fourbyte.Signature{}, nil)

	_, err := NewFourByteSource(client).Resolve(context.Background(), Target{Selector: "0x12345678"})
	assert.Equal(t, resilience.ReasonSignatureNotFound, resilience.ReasonOf(err))

	_, err = NewFourByteSource(client).Resolve(context.Background(), Target{Selector: "0x12"})
	assert.Equal(t, resilience.ReasonSignatureNotFound, resilience.ReasonOf(err))
}

func TestRegistry_StrategiesCanonicalOrder(t *testing.T) {
	reg, err := LoadRegistry()
	require.NoError(t, err)

	explorer := new(mockExplorer)
	explorer.On("GetContract", mock.Anything, int64(1), common.HexToAddress(unknownAddr).Hex()).Return(nil, etherscan.ErrNotVerified)
	fb := new(mockFourByte)
	fb.On("Lookup", mock.Anything, "0x38ed1739").Return([]fourbyte.Signature{
		{ID: 1, TextSignature: "swapExactTokensForTokens(uint256,uint256,address[],address,uint256)"},
	}, nil)

	sources := NewRegistry(reg, NewExplorerSource(explorer, nil, 0), NewFourByteSource(fb))
	target := Target{ChainID: 1, Address: unknownAddr, Selector: "0x38ed1739"}

	strategies := sources.Strategies(nil, target, "")
	require.Len(t, strategies, 4)

	res := waterfall.Run(context.Background(), waterfall.NewExecutor(0), strategies)
	require.True(t, res.Resolved)
	assert.Equal(t, SourceFourByte, res.WinnerSource)

	require.Len(t, res.Steps, 4)
	wantReasons := []string{resilience.ReasonNoUserABI, resilience.ReasonNoRegistryEntry, resilience.ReasonNotVerified, ""}
	for i, st := range res.Steps {
		assert.Equal(t, DefaultOrder[i], st.SourceID)
		assert.Equal(t, wantReasons[i], st.Reason, st.SourceID)
	}
	assert.Equal(t, model.StepStatusSuccess, res.Steps[3].Status)
}

func TestRegistry_StrategiesUserWins(t *testing.T) {
	explorer := new(mockExplorer)
	sources := NewRegistry(NewExplorerSource(explorer, nil, 0))

	strategies := sources.Strategies([]string{SourceUser, SourceExplorer, "unknown"}, Target{ChainID: 1, Address: routerAddr}, routerABI)
	res := waterfall.Run(context.Background(), waterfall.NewExecutor(0), strategies)

	require.True(t, res.Resolved)
	assert.Equal(t, SourceUser, res.WinnerSource)
	assert.Equal(t, model.StepStatusSkipped, res.Steps[1].Status)
	assert.Equal(t, model.StepStatusSkipped, res.Steps[2].Status)
	explorer.AssertNotCalled(t, "GetContract")
}

func TestRegistry_StrategiesUnknownSourceFails(t *testing.T) {
	strategies := NewRegistry().Strategies([]string{"mystery"}, Target{}, "")
	res := waterfall.Run(context.Background(), waterfall.NewExecutor(0), strategies)

	require.Len(t, res.Steps, 1)
	assert.Equal(t, model.StepStatusFailed, res.Steps[0].Status)
	assert.Equal(t, resilience.ReasonNotConfigured, res.Steps[0].Reason)
}
