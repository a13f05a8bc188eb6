package decode

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/rotisserie/eris"

	"github.com/sells-group/txlens/internal/model"
	"github.com/sells-group/txlens/internal/resilience"
)

type typedDataEnvelope struct {
	PrimaryType string         `json:"primaryType"`
	Domain      map[string]any `json:"domain"`
	Message     map[string]any `json:"message"`
}

// TypedData reads the domain and message of an EIP-712 payload without
// validating its type definitions. Numbers are kept as json.Number.
func TypedData(raw string) (*model.DecodedTypedData, error) {
	var env typedDataEnvelope
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&env); err != nil {
		return nil, resilience.Fail(resilience.ReasonDecodeFailed, eris.Wrap(err, "parse typed data"))
	}
	if env.Domain == nil || env.Message == nil {
		return nil, resilience.Failf(resilience.ReasonDecodeFailed, "typed data needs domain and message objects")
	}

	out := &model.DecodedTypedData{
		PrimaryType:       env.PrimaryType,
		DomainName:        stringField(env.Domain, "name"),
		DomainVersion:     stringField(env.Domain, "version"),
		ChainID:           stringField(env.Domain, "chainId"),
		VerifyingContract: stringField(env.Domain, "verifyingContract"),
		Message:           env.Message,
	}
	return out, nil
}

// HashTypedData computes the EIP-712 signing hash of a payload. Unlike
// TypedData it requires complete, consistent type definitions.
func HashTypedData(raw string) (string, error) {
	var td apitypes.TypedData
	if err := json.Unmarshal([]byte(raw), &td); err != nil {
		return "", resilience.Fail(resilience.ReasonDecodeFailed, eris.Wrap(err, "parse typed data types"))
	}
	hash, _, err := apitypes.TypedDataAndHash(td)
	if err != nil {
		return "", resilience.Fail(resilience.ReasonDecodeFailed, eris.Wrap(err, "hash typed data"))
	}
	return hexutil.Encode(hash), nil
}

func stringField(m map[string]any, key string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
