package model

// DecodedArg is a single decoded call parameter.
type DecodedArg struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Value string `json:"value"`
	Raw   any    `json:"-"`
}

// DecodedCall is calldata decoded against a resolved ABI.
type DecodedCall struct {
	Selector     string       `json:"selector"`
	Method       string       `json:"method"`
	Signature    string       `json:"signature"`
	Contract     string       `json:"contract,omitempty"`
	ContractName string       `json:"contract_name,omitempty"`
	Args         []DecodedArg `json:"args"`
	AbiSource    string       `json:"abi_source"`
	// Candidates lists alternative signatures when the ABI came from a
	// selector database and more than one candidate matched the selector.
	Candidates []string `json:"candidates,omitempty"`
}

// Arg returns the argument with the given name, or nil.
func (c *DecodedCall) Arg(name string) *DecodedArg {
	for i := range c.Args {
		if c.Args[i].Name == name {
			return &c.Args[i]
		}
	}
	return nil
}

// ArgAt returns the i-th argument, or nil when out of range.
func (c *DecodedCall) ArgAt(i int) *DecodedArg {
	if i < 0 || i >= len(c.Args) {
		return nil
	}
	return &c.Args[i]
}

// DecodedTypedData is an EIP-712 payload decoded into its domain and message.
type DecodedTypedData struct {
	PrimaryType       string         `json:"primary_type"`
	DomainName        string         `json:"domain_name,omitempty"`
	DomainVersion     string         `json:"domain_version,omitempty"`
	ChainID           string         `json:"chain_id,omitempty"`
	VerifyingContract string         `json:"verifying_contract,omitempty"`
	Message           map[string]any `json:"message"`
	Hash              string         `json:"hash,omitempty"`
}

// BehaviorKind names what a decoded interaction does.
type BehaviorKind string

const (
	BehaviorNativeTransfer  BehaviorKind = "native_transfer"
	BehaviorTokenTransfer   BehaviorKind = "token_transfer"
	BehaviorTokenApproval   BehaviorKind = "token_approval"
	BehaviorApprovalForAll  BehaviorKind = "approval_for_all"
	BehaviorSwap            BehaviorKind = "swap"
	BehaviorWrap            BehaviorKind = "wrap"
	BehaviorUnwrap          BehaviorKind = "unwrap"
	BehaviorMulticall       BehaviorKind = "multicall"
	BehaviorPermitSignature BehaviorKind = "permit_signature"
	BehaviorOrderSignature  BehaviorKind = "order_signature"
	BehaviorTypedDataSign   BehaviorKind = "typed_data_signature"
	BehaviorContractCall    BehaviorKind = "contract_call"
	BehaviorUnknown         BehaviorKind = "unknown"
)

// Behavior is the detected high-level action of an interaction.
type Behavior struct {
	Kind    BehaviorKind `json:"kind"`
	Summary string       `json:"summary"`
}
