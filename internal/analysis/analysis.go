// Package analysis derives behavior, structured risk flags and predicted
// asset movements from decoded calldata and typed data.
package analysis

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/sells-group/txlens/internal/abisource"
	"github.com/sells-group/txlens/internal/model"
)

// NativeToken is the token identifier used for the chain's native currency.
const NativeToken = "native"

// TokenLookup supplies display metadata for token contracts.
type TokenLookup interface {
	Token(chainID int64, address string) (abisource.Token, bool)
}

// Input is everything the detector looks at for one analysis. Any field may
// be nil.
type Input struct {
	ChainID   int64
	Tx        *model.TxContext
	Decoded   *model.DecodedCall
	TypedData *model.DecodedTypedData
	Receipt   *model.RawReceipt
}

// Detector runs the heuristics. It is stateless apart from the token lookup
// and safe for concurrent use.
type Detector struct {
	tokens TokenLookup
}

// NewDetector creates a detector. tokens may be nil.
func NewDetector(tokens TokenLookup) *Detector {
	return &Detector{tokens: tokens}
}

func (d *Detector) symbol(chainID int64, address string) string {
	if address == NativeToken {
		return nativeSymbol(chainID)
	}
	if d.tokens == nil {
		return ""
	}
	if t, ok := d.tokens.Token(chainID, address); ok {
		return t.Symbol
	}
	return ""
}

func (d *Detector) label(chainID int64, address string) string {
	if s := d.symbol(chainID, address); s != "" {
		return s
	}
	return shortAddress(address)
}

// amount renders a base-unit amount of token for summaries.
func (d *Detector) amount(chainID int64, token string, v *big.Int) string {
	if v == nil {
		return "an unknown amount of " + d.label(chainID, token)
	}
	if token == NativeToken {
		return FormatUnits(v, 18) + " " + nativeSymbol(chainID)
	}
	if d.tokens != nil {
		if t, ok := d.tokens.Token(chainID, token); ok {
			return FormatUnits(v, t.Decimals) + " " + t.Symbol
		}
	}
	return v.String() + " units of " + shortAddress(token)
}

func nativeSymbol(chainID int64) string {
	switch chainID {
	case 56:
		return "BNB"
	case 137:
		return "POL"
	case 43114:
		return "AVAX"
	default:
		return "ETH"
	}
}

func shortAddress(a string) string {
	if len(a) < 12 {
		return a
	}
	return a[:6] + "..." + a[len(a)-4:]
}

// argument helpers: registry and explorer ABIs carry parameter names,
// signature-database candidates only positions.

func arg(call *model.DecodedCall, idx int, names ...string) *model.DecodedArg {
	for _, n := range names {
		if a := call.Arg(n); a != nil {
			return a
		}
	}
	return call.ArgAt(idx)
}

func argBig(call *model.DecodedCall, idx int, names ...string) *big.Int {
	a := arg(call, idx, names...)
	if a == nil {
		return nil
	}
	if n, ok := a.Raw.(*big.Int); ok {
		return n
	}
	n, ok := new(big.Int).SetString(a.Value, 10)
	if !ok {
		return nil
	}
	return n
}

func argAddress(call *model.DecodedCall, idx int, names ...string) string {
	a := arg(call, idx, names...)
	if a == nil {
		return ""
	}
	if addr, ok := a.Raw.(common.Address); ok {
		return addr.Hex()
	}
	if common.IsHexAddress(a.Value) {
		return common.HexToAddress(a.Value).Hex()
	}
	return ""
}

// addressList returns the first address-array argument, which for router
// swaps is the token path.
func addressList(call *model.DecodedCall) []string {
	for _, a := range call.Args {
		raw, ok := a.Raw.([]common.Address)
		if !ok {
			continue
		}
		out := make([]string, len(raw))
		for i, r := range raw {
			out[i] = r.Hex()
		}
		return out
	}
	return nil
}

func argBool(call *model.DecodedCall, idx int, names ...string) (bool, bool) {
	a := arg(call, idx, names...)
	if a == nil {
		return false, false
	}
	b, ok := a.Raw.(bool)
	return b, ok
}

func sameAddress(a, b string) bool {
	return a != "" && b != "" && strings.EqualFold(a, b)
}

func txValue(tx *model.TxContext) *big.Int {
	if tx == nil || tx.Value == "" {
		return nil
	}
	v, ok := new(big.Int).SetString(tx.Value, 10)
	if !ok || v.Sign() <= 0 {
		return nil
	}
	return v
}

func hasCalldata(tx *model.TxContext) bool {
	return tx != nil && len(strings.TrimPrefix(tx.Data, "0x")) >= 8
}

// FormatUnits renders a base-unit amount with the given decimals, trimming
// trailing zeros: FormatUnits(1500000, 6) == "1.5".
func FormatUnits(amount *big.Int, decimals int) string {
	if amount == nil {
		return "0"
	}
	if decimals <= 0 {
		return amount.String()
	}
	neg := amount.Sign() < 0
	s := new(big.Int).Abs(amount).String()
	if len(s) <= decimals {
		s = strings.Repeat("0", decimals-len(s)+1) + s
	}
	whole, frac := s[:len(s)-decimals], strings.TrimRight(s[len(s)-decimals:], "0")
	out := whole
	if frac != "" {
		out += "." + frac
	}
	if neg {
		out = "-" + out
	}
	return out
}
