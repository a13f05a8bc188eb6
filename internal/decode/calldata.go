// Package decode turns raw calldata and EIP-712 payloads into the
// structured shapes the analysis works on.
package decode

import (
	"bytes"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/rotisserie/eris"

	"github.com/sells-group/txlens/internal/abisource"
	"github.com/sells-group/txlens/internal/model"
	"github.com/sells-group/txlens/internal/resilience"
)

// Calldata decodes data (selector followed by ABI-encoded arguments) against
// a resolved ABI. Signature-database candidates are tried in order and only
// accepted when re-encoding the decoded arguments reproduces the input.
func Calldata(data []byte, res *abisource.Resolution) (*model.DecodedCall, error) {
	if len(data) < 4 {
		return nil, resilience.Failf(resilience.ReasonDecodeFailed, "calldata shorter than a selector (%d bytes)", len(data))
	}
	if res == nil {
		return nil, resilience.Failf(resilience.ReasonDecodeFailed, "no abi to decode with")
	}
	sel, payload := data[:4], data[4:]

	if res.ABI != nil {
		m, err := res.ABI.MethodById(sel)
		if err != nil {
			return nil, resilience.Fail(resilience.ReasonDecodeFailed, err)
		}
		vals, err := m.Inputs.Unpack(payload)
		if err != nil {
			return nil, resilience.Fail(resilience.ReasonDecodeFailed, eris.Wrapf(err, "unpack %s", m.Sig))
		}
		return buildCall(sel, m, vals, res), nil
	}

	var lastErr error
	for i := range res.Candidates {
		m := &res.Candidates[i]
		if !bytes.Equal(m.ID, sel) {
			continue
		}
		vals, err := m.Inputs.Unpack(payload)
		if err != nil {
			lastErr = err
			continue
		}
		repacked, err := m.Inputs.Pack(vals...)
		if err != nil || !bytes.Equal(repacked, payload) {
			lastErr = eris.Errorf("%s does not round-trip", m.Sig)
			continue
		}
		call := buildCall(sel, m, vals, res)
		if len(res.Signatures) > 1 {
			call.Candidates = res.Signatures
		}
		return call, nil
	}
	if lastErr == nil {
		lastErr = eris.Errorf("no candidate for selector %s", hexutil.Encode(sel))
	}
	return nil, resilience.Fail(resilience.ReasonDecodeFailed, lastErr)
}

func buildCall(sel []byte, m *abi.Method, vals []any, res *abisource.Resolution) *model.DecodedCall {
	call := &model.DecodedCall{
		Selector:     hexutil.Encode(sel),
		Method:       m.RawName,
		Signature:    m.Sig,
		ContractName: res.ContractName,
		AbiSource:    res.Source,
		Args:         make([]model.DecodedArg, 0, len(vals)),
	}
	for i, v := range vals {
		in := m.Inputs[i]
		call.Args = append(call.Args, model.DecodedArg{
			Name:  in.Name,
			Type:  in.Type.String(),
			Value: FormatValue(v),
			Raw:   v,
		})
	}
	return call
}
