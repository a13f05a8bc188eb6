// Package abisource resolves contract ABIs from the configured sources: a
// user-supplied ABI, the local protocol registry, a verified-source block
// explorer and the public 4-byte signature database.
package abisource

import (
	"context"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/sells-group/txlens/internal/resilience"
	"github.com/sells-group/txlens/internal/waterfall"
)

// Canonical source identifiers.
const (
	SourceUser     = "user"
	SourceRegistry = "registry"
	SourceExplorer = "explorer"
	SourceFourByte = "fourbyte"
)

// DefaultOrder is the canonical resolution order, most trusted first.
var DefaultOrder = []string{SourceUser, SourceRegistry, SourceExplorer, SourceFourByte}

// Target identifies what an ABI is needed for.
type Target struct {
	ChainID  int64  `json:"chain_id"`
	Address  string `json:"address,omitempty"`
	Selector string `json:"selector,omitempty"`
}

// HasAddress reports whether the target carries a usable contract address.
func (t Target) HasAddress() bool {
	return common.IsHexAddress(t.Address)
}

// Resolution is a successfully resolved ABI. Candidates is set only by
// signature databases, which can return several text signatures for one
// selector; the decoder tries them in order.
type Resolution struct {
	Source       string   `json:"source"`
	ContractName string   `json:"contract_name,omitempty"`
	Methods      int      `json:"methods"`
	Signatures   []string `json:"signatures,omitempty"`

	ABI        *abi.ABI     `json:"-"`
	Candidates []abi.Method `json:"-"`
}

func newResolution(source, name string, parsed *abi.ABI) *Resolution {
	return &Resolution{
		Source:       source,
		ContractName: name,
		Methods:      len(parsed.Methods),
		ABI:          parsed,
	}
}

// requireMethod fails with method_not_found when t carries a selector that
// parsed does not declare, so the chain moves on to the next source. A proxy
// whose verified ABI lists only admin methods is the usual case.
func requireMethod(source string, parsed *abi.ABI, t Target) error {
	sel, err := hexutil.Decode(t.Selector)
	if err != nil || len(sel) != 4 {
		return nil
	}
	if _, err := parsed.MethodById(sel); err != nil {
		return resilience.Failf(resilience.ReasonMethodNotFound, "%s abi declares no method %s", source, t.Selector)
	}
	return nil
}

// Source resolves an ABI for a target. Failures should carry a reason code
// (see resilience.Fail) so they can be reported per step.
type Source interface {
	ID() string
	Resolve(ctx context.Context, t Target) (*Resolution, error)
}

// Registry holds the available sources keyed by ID.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]Source
}

// NewRegistry creates a registry pre-populated with the given sources.
func NewRegistry(sources ...Source) *Registry {
	r := &Registry{sources: make(map[string]Source)}
	for _, s := range sources {
		r.Register(s)
	}
	return r
}

// Register adds or replaces a source.
func (r *Registry) Register(s Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[s.ID()] = s
}

// Get returns a source by ID, or nil if not registered.
func (r *Registry) Get(id string) Source {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sources[id]
}

// Strategies builds the resolution chain for t in the given order. Unknown
// IDs are kept in the chain as unconfigured steps so that the trace still
// shows every configured position. A user source with an ABI in userABI is
// prepended per call.
func (r *Registry) Strategies(order []string, t Target, userABI string) []waterfall.Strategy[*Resolution] {
	if len(order) == 0 {
		order = DefaultOrder
	}
	out := make([]waterfall.Strategy[*Resolution], 0, len(order))
	for _, id := range order {
		id = strings.TrimSpace(id)
		var src Source
		if id == SourceUser {
			src = NewUserSource(userABI)
		} else {
			src = r.Get(id)
		}
		st := waterfall.Strategy[*Resolution]{SourceID: id}
		if src != nil {
			st.Resolve = func(ctx context.Context) (*Resolution, error) {
				return src.Resolve(ctx, t)
			}
		}
		out = append(out, st)
	}
	return out
}
