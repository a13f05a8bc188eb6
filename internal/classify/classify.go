// Package classify maps raw analysis input onto an InputKind.
package classify

import (
	"encoding/json"
	"strings"

	"github.com/sells-group/txlens/internal/model"
)

const (
	txHashHexLen      = 64
	minCalldataHexLen = 8 // a 4-byte selector
)

// Classify determines what kind of input raw is. It never fails: input that
// matches no rule is reported as InputKindUnknown.
func Classify(raw string) model.InputKind {
	s := strings.TrimSpace(raw)
	if s == "" {
		return model.InputKindUnknown
	}

	if strings.HasPrefix(s, "{") && isTypedData(s) {
		return model.InputKindSignature
	}

	if hex, ok := strings.CutPrefix(s, "0x"); ok && isHex(hex) {
		switch {
		case len(hex) == txHashHexLen:
			return model.InputKindTxHash
		case len(hex) >= minCalldataHexLen:
			return model.InputKindCalldata
		}
	}

	return model.InputKindUnknown
}

// isTypedData reports whether s is a JSON object carrying both a domain and a
// message, the minimum shape of an EIP-712 signing request.
func isTypedData(s string) bool {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(s), &obj); err != nil {
		return false
	}
	_, hasDomain := obj["domain"]
	_, hasMessage := obj["message"]
	return hasDomain && hasMessage
}

func isHex(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}
