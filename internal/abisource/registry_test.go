package abisource

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/txlens/internal/resilience"
)

const (
	wethMainnet = "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"
	usdcMainnet = "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"
	multicall3  = "0xcA11bde05977b3631167028862bE2a173976CA11"
	unknownAddr = "0x00000000000000000000000000000000deadbeef"
)

func TestLoadRegistry_Default(t *testing.T) {
	r, err := LoadRegistry()
	require.NoError(t, err)

	tests := []struct {
		name     string
		target   Target
		wantName string
		reason   string
	}{
		{"by address", Target{ChainID: 1, Address: wethMainnet, Selector: "0xd0e30db0"}, "WETH9", ""},
		{"address lowercased", Target{ChainID: 1, Address: "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2"}, "WETH9", ""},
		{"interface reuse", Target{ChainID: 1, Address: usdcMainnet}, "USD Coin", ""},
		{"any chain entry", Target{ChainID: 8453, Address: multicall3}, "Multicall3", ""},
		{"selector fallback", Target{ChainID: 1, Address: unknownAddr, Selector: "0xa9059cbb"}, "ERC20", ""},
		{"selector fallback later interface", Target{ChainID: 10, Selector: "0xa22cb465"}, "ERC721", ""},
		{"known address without method uses interface", Target{ChainID: 1, Address: usdcMainnet, Selector: "0xa22cb465"}, "ERC721", ""},
		{"known address without method", Target{ChainID: 1, Address: usdcMainnet, Selector: "0x40c10f19"}, "", resilience.ReasonMethodNotFound},
		{"other chain address misses", Target{ChainID: 137, Address: wethMainnet, Selector: "0x12345678"}, "", resilience.ReasonNoRegistryEntry},
		{"nothing", Target{ChainID: 1}, "", resilience.ReasonNoRegistryEntry},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := r.Resolve(context.Background(), tt.target)
			if tt.reason != "" {
				require.Error(t, err)
				assert.Equal(t, tt.reason, resilience.ReasonOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, res.ContractName)
			assert.Equal(t, SourceRegistry, res.Source)
			assert.NotNil(t, res.ABI)
			assert.Positive(t, res.Methods)
		})
	}
}

func TestProtocolRegistry_Token(t *testing.T) {
	r, err := LoadRegistry()
	require.NoError(t, err)

	tok, ok := r.Token(1, usdcMainnet)
	require.True(t, ok)
	assert.Equal(t, "USDC", tok.Symbol)
	assert.Equal(t, 6, tok.Decimals)

	_, ok = r.Token(1, multicall3)
	assert.False(t, ok)
}

func TestLoadRegistry_ExtraFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "extra.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
protocols:
  - name: Custom Token
    chain_id: 1
    address: "0x00000000000000000000000000000000deadbeef"
    symbol: CTK
    interface: ERC20
`), 0o600))

	r, err := LoadRegistry(path)
	require.NoError(t, err)

	res, err := r.Resolve(context.Background(), Target{ChainID: 1, Address: unknownAddr})
	require.NoError(t, err)
	assert.Equal(t, "Custom Token", res.ContractName)

	tok, ok := r.Token(1, unknownAddr)
	require.True(t, ok)
	assert.Equal(t, 18, tok.Decimals)
}

func TestLoadRegistry_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"missing name", "protocols:\n  - abi: \"[]\"\n", "missing name"},
		{"unknown interface", "protocols:\n  - name: X\n    interface: Nope\n", "unknown interface"},
		{"no abi", "protocols:\n  - name: X\n", "needs abi or interface"},
		{"bad address", "protocols:\n  - name: X\n    address: nope\n    interface: ERC20\n", "invalid address"},
		{"bad abi", "protocols:\n  - name: X\n    abi: \"{\"\n", "parse abi"},
		{"bad yaml", "protocols: [", "parse yaml"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "r.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.body), 0o600))
			_, err := LoadRegistry(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadRegistry_MissingFile(t *testing.T) {
	_, err := LoadRegistry(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
