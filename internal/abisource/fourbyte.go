package abisource

import (
	"context"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"

	"github.com/sells-group/txlens/internal/resilience"
	"github.com/sells-group/txlens/pkg/fourbyte"
)

// FourByteSource resolves a selector to candidate methods through the public
// signature database. The result has no contract ABI, only candidates.
type FourByteSource struct {
	client fourbyte.Client
}

// NewFourByteSource creates a 4-byte source.
func NewFourByteSource(client fourbyte.Client) *FourByteSource {
	return &FourByteSource{client: client}
}

func (s *FourByteSource) ID() string { return SourceFourByte }

func (s *FourByteSource) Resolve(ctx context.Context, t Target) (*Resolution, error) {
	sel, err := hexutil.Decode(t.Selector)
	if err != nil || len(sel) != 4 {
		return nil, resilience.Failf(resilience.ReasonSignatureNotFound, "invalid selector %q", t.Selector)
	}

	sigs, err := s.client.Lookup(ctx, t.Selector)
	if err != nil {
		return nil, err
	}

	res := &Resolution{Source: SourceFourByte}
	for _, sig := range sigs {
		m, err := ParseSignature(sig.TextSignature)
		if err != nil {
			zap.L().Debug("abisource: skip unparsable signature",
				zap.String("signature", sig.TextSignature), zap.Error(err))
			continue
		}
		if hexutil.Encode(m.ID) != hexutil.Encode(sel) {
			continue
		}
		res.Candidates = append(res.Candidates, m)
		res.Signatures = append(res.Signatures, m.Sig)
	}
	if len(res.Candidates) == 0 {
		return nil, resilience.Failf(resilience.ReasonSignatureNotFound, "no signature for selector %s", t.Selector)
	}
	res.Methods = len(res.Candidates)
	return res, nil
}

