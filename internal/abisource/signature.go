package abisource

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/rotisserie/eris"
)

// ParseSignature builds an ABI method from a text signature such as
// "transfer(address,uint256)" or "multicall((address,bytes)[])". Arguments
// are named arg0, arg1, ... since text signatures carry no names.
func ParseSignature(sig string) (abi.Method, error) {
	sig = strings.ReplaceAll(strings.TrimSpace(sig), " ", "")
	open := strings.IndexByte(sig, '(')
	if open <= 0 || !strings.HasSuffix(sig, ")") {
		return abi.Method{}, eris.Errorf("abisource: malformed signature %q", sig)
	}
	name := sig[:open]

	params, err := splitParams(sig[open+1 : len(sig)-1])
	if err != nil {
		return abi.Method{}, eris.Wrapf(err, "abisource: parse signature %q", sig)
	}

	args := make(abi.Arguments, 0, len(params))
	for i, p := range params {
		m, err := marshaling(p, fmt.Sprintf("arg%d", i))
		if err != nil {
			return abi.Method{}, eris.Wrapf(err, "abisource: parse signature %q", sig)
		}
		typ, err := abi.NewType(m.Type, "", m.Components)
		if err != nil {
			return abi.Method{}, eris.Wrapf(err, "abisource: parameter %d of %q", i, sig)
		}
		args = append(args, abi.Argument{Name: m.Name, Type: typ})
	}

	return abi.NewMethod(name, name, abi.Function, "nonpayable", false, false, args, nil), nil
}

func marshaling(param, name string) (abi.ArgumentMarshaling, error) {
	if !strings.HasPrefix(param, "(") {
		return abi.ArgumentMarshaling{Name: name, Type: param}, nil
	}

	end := closingParen(param)
	if end < 0 {
		return abi.ArgumentMarshaling{}, eris.Errorf("unbalanced tuple %q", param)
	}
	fields, err := splitParams(param[1:end])
	if err != nil {
		return abi.ArgumentMarshaling{}, err
	}
	comps := make([]abi.ArgumentMarshaling, 0, len(fields))
	for i, f := range fields {
		c, err := marshaling(f, fmt.Sprintf("field%d", i))
		if err != nil {
			return abi.ArgumentMarshaling{}, err
		}
		comps = append(comps, c)
	}
	return abi.ArgumentMarshaling{Name: name, Type: "tuple" + param[end+1:], Components: comps}, nil
}

// splitParams splits a parameter list on top-level commas.
func splitParams(s string) ([]string, error) {
	if s == "" {
		return nil, nil
	}
	var (
		out   []string
		depth int
		start int
	)
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth < 0 {
				return nil, eris.Errorf("unbalanced parentheses in %q", s)
			}
		case ',':
			if depth == 0 {
				out = append(out, s[start:i])
				start = i + 1
			}
		}
	}
	if depth != 0 {
		return nil, eris.Errorf("unbalanced parentheses in %q", s)
	}
	out = append(out, s[start:])
	for _, p := range out {
		if p == "" {
			return nil, eris.Errorf("empty parameter in %q", s)
		}
	}
	return out, nil
}

func closingParen(s string) int {
	depth := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
