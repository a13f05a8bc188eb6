package abisource

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/sells-group/txlens/internal/model"
	"github.com/sells-group/txlens/internal/resilience"
	"github.com/sells-group/txlens/pkg/etherscan"
)

// ABICache stores explorer ABIs. GetCachedABI returns nil, nil on a miss.
type ABICache interface {
	GetCachedABI(ctx context.Context, chainID int64, address string) (*model.CachedABI, error)
	SetCachedABI(ctx context.Context, entry model.CachedABI) error
}

// ExplorerSource resolves verified ABIs from a block explorer.
type ExplorerSource struct {
	client etherscan.Client
	cache  ABICache
	ttl    time.Duration
	now    func() time.Time
}

// NewExplorerSource creates an explorer source. cache may be nil.
func NewExplorerSource(client etherscan.Client, cache ABICache, ttl time.Duration) *ExplorerSource {
	return &ExplorerSource{client: client, cache: cache, ttl: ttl, now: time.Now}
}

func (s *ExplorerSource) ID() string { return SourceExplorer }

func (s *ExplorerSource) Resolve(ctx context.Context, t Target) (*Resolution, error) {
	if !t.HasAddress() {
		return nil, resilience.Failf(resilience.ReasonMissingAddress, "explorer lookup needs a contract address")
	}
	address := common.HexToAddress(t.Address).Hex()

	// A fresh cache entry is authoritative: the explorer would return the
	// same ABI, so a missing method is not worth a refetch.
	if res := s.cached(ctx, t.ChainID, address); res != nil {
		if err := requireMethod(SourceExplorer, res.ABI, t); err != nil {
			return nil, err
		}
		return res, nil
	}

	contract, err := s.client.GetContract(ctx, t.ChainID, address)
	if err != nil {
		return nil, explorerFailure(err)
	}

	parsed, err := abi.JSON(strings.NewReader(contract.ABI))
	if err != nil {
		return nil, resilience.Fail(resilience.ReasonInvalidABI, err)
	}

	// Cache before the method check; the ABI is still the contract's.
	if s.cache != nil {
		entry := model.CachedABI{
			ChainID:      t.ChainID,
			Address:      address,
			ContractName: contract.Name,
			ABI:          contract.ABI,
			Source:       SourceExplorer,
			FetchedAt:    s.now().UTC(),
		}
		if err := s.cache.SetCachedABI(ctx, entry); err != nil {
			zap.L().Warn("abisource: cache abi", zap.String("address", address), zap.Error(err))
		}
	}

	if err := requireMethod(SourceExplorer, &parsed, t); err != nil {
		return nil, err
	}
	return newResolution(SourceExplorer, contract.Name, &parsed), nil
}

// cached returns a resolution from a fresh cache entry, or nil.
func (s *ExplorerSource) cached(ctx context.Context, chainID int64, address string) *Resolution {
	if s.cache == nil {
		return nil
	}
	entry, err := s.cache.GetCachedABI(ctx, chainID, address)
	if err != nil {
		zap.L().Warn("abisource: read abi cache", zap.String("address", address), zap.Error(err))
		return nil
	}
	if entry == nil || entry.Expired(s.now(), s.ttl) {
		return nil
	}
	parsed, err := abi.JSON(strings.NewReader(entry.ABI))
	if err != nil {
		return nil
	}
	return newResolution(SourceExplorer, entry.ContractName, &parsed)
}

func explorerFailure(err error) error {
	switch {
	case errors.Is(err, etherscan.ErrMissingAPIKey):
		return resilience.Fail(resilience.ReasonMissingAPIKey, err)
	case errors.Is(err, etherscan.ErrNotVerified):
		return resilience.Fail(resilience.ReasonNotVerified, err)
	case errors.Is(err, etherscan.ErrRateLimited):
		return resilience.Fail(resilience.ReasonRateLimited, err)
	default:
		return err
	}
}
