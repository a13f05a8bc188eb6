package model

// InputKind is the classification of a raw analysis input.
type InputKind string

const (
	InputKindTxHash    InputKind = "tx_hash"
	InputKindCalldata  InputKind = "calldata"
	InputKindSignature InputKind = "signature"
	InputKindUnknown   InputKind = "unknown"
)

// Valid reports whether k is one of the known input kinds.
func (k InputKind) Valid() bool {
	switch k {
	case InputKindTxHash, InputKindCalldata, InputKindSignature, InputKindUnknown:
		return true
	default:
		return false
	}
}

// TxContext is the optional transaction envelope supplied alongside raw
// calldata, or derived from a fetched transaction.
type TxContext struct {
	From  string `json:"from,omitempty"`
	To    string `json:"to,omitempty"`
	Value string `json:"value,omitempty"` // wei, decimal string
	Data  string `json:"data,omitempty"`  // 0x-prefixed calldata
}

// RawTx is a transaction as returned by a node.
type RawTx struct {
	Hash        string `json:"hash"`
	ChainID     int64  `json:"chain_id"`
	From        string `json:"from"`
	To          string `json:"to,omitempty"`
	Value       string `json:"value"` // wei, decimal string
	Input       string `json:"input"`
	Nonce       uint64 `json:"nonce"`
	Gas         uint64 `json:"gas"`
	BlockNumber uint64 `json:"block_number,omitempty"`
	Pending     bool   `json:"pending,omitempty"`
}

// Context returns the transaction envelope for downstream decoding.
func (t *RawTx) Context() TxContext {
	return TxContext{From: t.From, To: t.To, Value: t.Value, Data: t.Input}
}

// RawReceipt is the subset of a transaction receipt the analysis consumes.
type RawReceipt struct {
	Status          uint64 `json:"status"`
	GasUsed         uint64 `json:"gas_used"`
	BlockNumber     uint64 `json:"block_number"`
	ContractAddress string `json:"contract_address,omitempty"`
	LogCount        int    `json:"log_count"`
}

// Succeeded reports whether the receipt marks successful execution.
func (r *RawReceipt) Succeeded() bool {
	return r.Status == 1
}
