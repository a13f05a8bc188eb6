package decode

import (
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/txlens/internal/abisource"
	"github.com/sells-group/txlens/internal/resilience"
)

const erc20ABI = `[
  {"type":"function","name":"transfer","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"approve","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
]`

var recipient = common.HexToAddress("0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D")

func abiResolution(t *testing.T, raw, source string) *abisource.Resolution {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(raw))
	require.NoError(t, err)
	return &abisource.Resolution{Source: source, ContractName: "Token", ABI: &parsed, Methods: len(parsed.Methods)}
}

func transferData(t *testing.T, amount *big.Int) []byte {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	require.NoError(t, err)
	data, err := parsed.Pack("transfer", recipient, amount)
	require.NoError(t, err)
	return data
}

func TestCalldata_WithABI(t *testing.T) {
	res := abiResolution(t, erc20ABI, abisource.SourceExplorer)
	call, err := Calldata(transferData(t, big.NewInt(1_000_000)), res)
	require.NoError(t, err)

	assert.Equal(t, "0xa9059cbb", call.Selector)
	assert.Equal(t, "transfer", call.Method)
	assert.Equal(t, "transfer(address,uint256)", call.Signature)
	assert.Equal(t, "Token", call.ContractName)
	assert.Equal(t, abisource.SourceExplorer, call.AbiSource)
	require.Len(t, call.Args, 2)
	assert.Equal(t, "to", call.Args[0].Name)
	assert.Equal(t, "address", call.Args[0].Type)
	assert.Equal(t, recipient.Hex(), call.Args[0].Value)
	assert.Equal(t, "1000000", call.Arg("amount").Value)
	assert.Equal(t, big.NewInt(1_000_000), call.Arg("amount").Raw)
	assert.Empty(t, call.Candidates)
}

func TestCalldata_Failures(t *testing.T) {
	res := abiResolution(t, erc20ABI, abisource.SourceUser)

	tests := []struct {
		name string
		data []byte
		res  *abisource.Resolution
	}{
		{"too short", []byte{0xa9, 0x05}, res},
		{"unknown selector", hexutil.MustDecode("0xdeadbeef"), res},
		{"truncated args", transferData(t, big.NewInt(1))[:20], res},
		{"no resolution", transferData(t, big.NewInt(1)), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Calldata(tt.data, tt.res)
			require.Error(t, err)
			assert.Equal(t, resilience.ReasonDecodeFailed, resilience.ReasonOf(err))
		})
	}
}

func TestCalldata_Candidates(t *testing.T) {
	good, err := abisource.ParseSignature("transfer(address,uint256)")
	require.NoError(t, err)
	// Same selector, incompatible layout.
	bogus, err := abisource.ParseSignature("many_msg_babbage(bytes1)")
	require.NoError(t, err)

	res := &abisource.Resolution{
		Source:     abisource.SourceFourByte,
		Candidates: []abi.Method{bogus, good},
		Signatures: []string{bogus.Sig, good.Sig},
	}

	call, err := Calldata(transferData(t, big.NewInt(42)), res)
	require.NoError(t, err)
	assert.Equal(t, "transfer", call.Method)
	assert.Equal(t, "arg0", call.Args[0].Name)
	assert.Equal(t, "42", call.Args[1].Value)
	assert.Equal(t, []string{"many_msg_babbage(bytes1)", "transfer(address,uint256)"}, call.Candidates)
}

func TestCalldata_NoMatchingCandidate(t *testing.T) {
	bogus, err := abisource.ParseSignature("many_msg_babbage(bytes1)")
	require.NoError(t, err)

	res := &abisource.Resolution{Source: abisource.SourceFourByte, Candidates: []abi.Method{bogus}}
	_, err = Calldata(transferData(t, big.NewInt(42)), res)
	require.Error(t, err)
	assert.Equal(t, resilience.ReasonDecodeFailed, resilience.ReasonOf(err))
}

func TestFormatValue(t *testing.T) {
	type tuple struct {
		Target   common.Address
		CallData []byte
	}

	tests := []struct {
		name string
		in   any
		want string
	}{
		{"big int", big.NewInt(-5), "-5"},
		{"address", recipient, recipient.Hex()},
		{"bytes", []byte{0xde, 0xad}, "0xdead"},
		{"bytes32", [32]byte{1}, "0x01" + strings.Repeat("00", 31)},
		{"bytes4", [4]byte{0xa9, 0x05, 0x9c, 0xbb}, "0xa9059cbb"},
		{"bool", true, "true"},
		{"uint8", uint8(27), "27"},
		{"string", "hi", "hi"},
		{"address list", []common.Address{recipient}, "[" + recipient.Hex() + "]"},
		{"tuple", tuple{Target: recipient, CallData: []byte{1}}, "{target: " + recipient.Hex() + ", callData: 0x01}"},
		{"nil", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatValue(tt.in))
		})
	}
}
