package normalize

import (
	"encoding/json"
	"math"
	"math/big"
	"strconv"
	"strings"
)

// DecimalAmount converts a loosely-typed producer amount into a canonical
// decimal string. Hex strings ("0x...") are read as unsigned integers and
// scientific notation ("1.5e21") is expanded exactly.
// It reports false for values that are not numbers.
func DecimalAmount(v any) (string, bool) {
	switch n := v.(type) {
	case nil:
		return "", false
	case string:
		return decimalString(n)
	case json.Number:
		return decimalString(n.String())
	case float64:
		return floatString(n)
	case float32:
		return floatString(float64(n))
	case int:
		return strconv.Itoa(n), true
	case int32:
		return strconv.FormatInt(int64(n), 10), true
	case int64:
		return strconv.FormatInt(n, 10), true
	case uint:
		return strconv.FormatUint(uint64(n), 10), true
	case uint32:
		return strconv.FormatUint(uint64(n), 10), true
	case uint64:
		return strconv.FormatUint(n, 10), true
	case *big.Int:
		if n == nil {
			return "", false
		}
		return n.String(), true
	case big.Int:
		return n.String(), true
	default:
		return "", false
	}
}

func floatString(f float64) (string, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", false
	}
	return decimalString(strconv.FormatFloat(f, 'f', -1, 64))
}

func decimalString(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}

	if hex, ok := strings.CutPrefix(strings.ToLower(s), "0x"); ok {
		if hex == "" {
			return "", false
		}
		n, ok := new(big.Int).SetString(hex, 16)
		if !ok {
			return "", false
		}
		return n.String(), true
	}

	neg := false
	switch s[0] {
	case '-':
		neg = true
		s = s[1:]
	case '+':
		s = s[1:]
	}

	if i := strings.IndexAny(s, "eE"); i >= 0 {
		plain, ok := expandExponent(s[:i], s[i+1:])
		if !ok {
			return "", false
		}
		s = plain
	}

	intPart, frac, hasFrac := strings.Cut(s, ".")
	if !allDigits(intPart) && !(intPart == "" && hasFrac) {
		return "", false
	}
	if hasFrac && !allDigits(frac) {
		return "", false
	}

	intPart = strings.TrimLeft(intPart, "0")
	if intPart == "" {
		intPart = "0"
	}
	frac = strings.TrimRight(frac, "0")

	out := intPart
	if frac != "" {
		out += "." + frac
	}
	if neg && out != "0" {
		out = "-" + out
	}
	return out, true
}

// maxExponent bounds scientific notation; uint256 tops out near 1.2e77.
const maxExponent = 1024

// expandExponent moves the decimal point of an unsigned mantissa by exp
// places, so "1.5" and "21" become "1500000000000000000000". The result is
// exact and may carry zeros that the caller trims.
func expandExponent(mant, exp string) (string, bool) {
	e, err := strconv.Atoi(exp)
	if err != nil || e > maxExponent || e < -maxExponent {
		return "", false
	}
	intPart, frac, _ := strings.Cut(mant, ".")
	if (intPart != "" && !allDigits(intPart)) || (frac != "" && !allDigits(frac)) {
		return "", false
	}
	digits := intPart + frac
	if digits == "" {
		return "", false
	}

	point := len(intPart) + e
	switch {
	case point <= 0:
		return "0." + strings.Repeat("0", -point) + digits, true
	case point >= len(digits):
		return digits + strings.Repeat("0", point-len(digits)), true
	default:
		return digits[:point] + "." + digits[point:], true
	}
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
