package abisource

import (
	"context"
	_ "embed"
	"os"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/txlens/internal/resilience"
)

//go:embed registry.yaml
var defaultRegistry []byte

// Protocol is one entry of the local protocol registry.
type Protocol struct {
	Name      string `yaml:"name"`
	ChainID   int64  `yaml:"chain_id,omitempty"`
	Address   string `yaml:"address,omitempty"`
	Symbol    string `yaml:"symbol,omitempty"`
	Decimals  *int   `yaml:"decimals,omitempty"`
	Interface string `yaml:"interface,omitempty"`
	ABI       string `yaml:"abi,omitempty"`

	parsed *abi.ABI
}

type registryFile struct {
	Protocols []Protocol `yaml:"protocols"`
}

// Token is display metadata for a registered token contract.
type Token struct {
	Name     string
	Symbol   string
	Decimals int
}

// ProtocolRegistry is the local registry of well-known contracts and
// interfaces. It is read-only after loading.
type ProtocolRegistry struct {
	byAddress  map[string]*Protocol
	interfaces []*Protocol
}

// LoadRegistry loads the built-in registry followed by any extra YAML files.
// Later entries replace earlier ones with the same (chain, address) key.
func LoadRegistry(paths ...string) (*ProtocolRegistry, error) {
	r := &ProtocolRegistry{byAddress: make(map[string]*Protocol)}
	if err := r.load(defaultRegistry); err != nil {
		return nil, eris.Wrap(err, "abisource: built-in registry")
	}
	for _, p := range paths {
		if p == "" {
			continue
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, eris.Wrapf(err, "abisource: read registry %s", p)
		}
		if err := r.load(data); err != nil {
			return nil, eris.Wrapf(err, "abisource: registry %s", p)
		}
	}
	return r, nil
}

func (r *ProtocolRegistry) load(data []byte) error {
	var f registryFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return eris.Wrap(err, "parse yaml")
	}

	for i := range f.Protocols {
		p := f.Protocols[i]
		if p.Name == "" {
			return eris.Errorf("entry %d: missing name", i)
		}

		switch {
		case p.ABI != "":
			parsed, err := abi.JSON(strings.NewReader(p.ABI))
			if err != nil {
				return eris.Wrapf(err, "entry %s: parse abi", p.Name)
			}
			p.parsed = &parsed
		case p.Interface != "":
			iface := r.iface(p.Interface)
			if iface == nil {
				return eris.Errorf("entry %s: unknown interface %q", p.Name, p.Interface)
			}
			p.parsed = iface.parsed
		default:
			return eris.Errorf("entry %s: needs abi or interface", p.Name)
		}

		if p.Address == "" {
			r.interfaces = append(r.interfaces, &p)
			continue
		}
		if !common.IsHexAddress(p.Address) {
			return eris.Errorf("entry %s: invalid address %q", p.Name, p.Address)
		}
		r.byAddress[addressKey(p.ChainID, p.Address)] = &p
	}
	return nil
}

func (r *ProtocolRegistry) iface(name string) *Protocol {
	for _, p := range r.interfaces {
		if p.Name == name {
			return p
		}
	}
	for _, p := range r.byAddress {
		if p.Name == name {
			return p
		}
	}
	return nil
}

// Lookup returns the entry registered for address on chainID. Entries with
// chain_id 0 match every chain.
func (r *ProtocolRegistry) Lookup(chainID int64, address string) (*Protocol, bool) {
	if !common.IsHexAddress(address) {
		return nil, false
	}
	if p, ok := r.byAddress[addressKey(chainID, address)]; ok {
		return p, true
	}
	p, ok := r.byAddress[addressKey(0, address)]
	return p, ok
}

// Token returns display metadata for a registered token.
func (r *ProtocolRegistry) Token(chainID int64, address string) (Token, bool) {
	p, ok := r.Lookup(chainID, address)
	if !ok || p.Symbol == "" {
		return Token{}, false
	}
	t := Token{Name: p.Name, Symbol: p.Symbol, Decimals: 18}
	if p.Decimals != nil {
		t.Decimals = *p.Decimals
	}
	return t, true
}

func (r *ProtocolRegistry) ID() string { return SourceRegistry }

// Resolve matches the target address first and falls back to the first
// interface that declares the target selector.
func (r *ProtocolRegistry) Resolve(_ context.Context, t Target) (*Resolution, error) {
	// A known address whose ABI lacks the selector falls back to the
	// interface search and, failing that, reports method_not_found.
	var missing error
	if p, ok := r.Lookup(t.ChainID, t.Address); ok {
		missing = requireMethod(SourceRegistry, p.parsed, t)
		if missing == nil {
			return newResolution(SourceRegistry, p.Name, p.parsed), nil
		}
	}

	if sel, err := hexutil.Decode(t.Selector); err == nil && len(sel) == 4 {
		for _, p := range r.interfaces {
			if _, err := p.parsed.MethodById(sel); err == nil {
				return newResolution(SourceRegistry, p.Name, p.parsed), nil
			}
		}
	}

	if missing != nil {
		return nil, missing
	}
	return nil, resilience.Failf(resilience.ReasonNoRegistryEntry,
		"no registry entry for %s on chain %d", t.Address, t.ChainID)
}

func addressKey(chainID int64, address string) string {
	return common.HexToAddress(address).Hex() + "@" + strconv.FormatInt(chainID, 10)
}
