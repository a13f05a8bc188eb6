package analysis

import (
	"math/big"
	"strings"

	"github.com/sells-group/txlens/internal/model"
)

var (
	transferMethods = map[string]bool{
		"transfer": true, "transferFrom": true, "safeTransferFrom": true, "safeBatchTransferFrom": true,
	}
	approvalMethods = map[string]bool{
		"approve": true, "increaseAllowance": true, "permit": true,
	}
	multicallMethods = map[string]bool{
		"multicall": true, "aggregate": true, "aggregate3": true, "aggregate3Value": true, "execute": true,
	}
	permitTypes = map[string]bool{
		"Permit": true, "PermitSingle": true, "PermitBatch": true, "PermitTransferFrom": true, "PermitBatchTransferFrom": true,
	}
	orderTypes = map[string]bool{
		"Order": true, "OrderComponents": true, "BulkOrder": true,
	}
)

func isSwap(m string) bool {
	return strings.HasPrefix(m, "swap") || strings.HasPrefix(m, "exactInput") || strings.HasPrefix(m, "exactOutput")
}

func isWrapped(call *model.DecodedCall) bool {
	return strings.Contains(strings.ToUpper(call.ContractName), "WETH")
}

// Behavior classifies what the interaction does.
func (d *Detector) Behavior(in Input) *model.Behavior {
	if td := in.TypedData; td != nil {
		switch {
		case permitTypes[td.PrimaryType]:
			return &model.Behavior{Kind: model.BehaviorPermitSignature, Summary: "Sign a " + td.PrimaryType + " granting token spending for " + domainLabel(td)}
		case orderTypes[td.PrimaryType]:
			return &model.Behavior{Kind: model.BehaviorOrderSignature, Summary: "Sign a marketplace order on " + domainLabel(td)}
		default:
			return &model.Behavior{Kind: model.BehaviorTypedDataSign, Summary: "Sign " + typedLabel(td) + " for " + domainLabel(td)}
		}
	}

	call := in.Decoded
	value := txValue(in.Tx)
	to := ""
	if in.Tx != nil {
		to = in.Tx.To
	}

	if call == nil {
		switch {
		case value != nil && !hasCalldata(in.Tx):
			return &model.Behavior{
				Kind:    model.BehaviorNativeTransfer,
				Summary: "Send " + d.amount(in.ChainID, NativeToken, value) + " to " + shortAddress(to),
			}
		case hasCalldata(in.Tx):
			return &model.Behavior{Kind: model.BehaviorContractCall, Summary: "Call an unrecognized function on " + shortAddress(to)}
		default:
			return &model.Behavior{Kind: model.BehaviorUnknown, Summary: "Unrecognized interaction"}
		}
	}

	m := call.Method
	switch {
	case m == "deposit" && isWrapped(call):
		return &model.Behavior{Kind: model.BehaviorWrap, Summary: "Wrap " + d.amount(in.ChainID, NativeToken, value)}
	case m == "withdraw" && isWrapped(call):
		return &model.Behavior{Kind: model.BehaviorUnwrap, Summary: "Unwrap " + d.amount(in.ChainID, to, argBig(call, 0, "wad", "amount"))}
	case m == "setApprovalForAll":
		if ok, _ := argBool(call, 1, "approved"); !ok {
			return &model.Behavior{Kind: model.BehaviorApprovalForAll, Summary: "Revoke collection approval for " + shortAddress(argAddress(call, 0, "operator"))}
		}
		return &model.Behavior{Kind: model.BehaviorApprovalForAll, Summary: "Approve " + shortAddress(argAddress(call, 0, "operator")) + " to move every item in " + d.label(in.ChainID, to)}
	case approvalMethods[m]:
		spender := argAddress(call, approvalSpenderIdx(m), "spender", "to")
		return &model.Behavior{Kind: model.BehaviorTokenApproval, Summary: "Allow " + shortAddress(spender) + " to spend " + d.approvalAmount(in.ChainID, to, call)}
	case transferMethods[m]:
		recipient, amt := transferLeg(call)
		return &model.Behavior{Kind: model.BehaviorTokenTransfer, Summary: "Transfer " + d.amount(in.ChainID, to, amt) + " to " + shortAddress(recipient)}
	case isSwap(m):
		return &model.Behavior{Kind: model.BehaviorSwap, Summary: "Swap tokens via " + contractLabel(call, to)}
	case multicallMethods[m]:
		return &model.Behavior{Kind: model.BehaviorMulticall, Summary: "Batch several calls through " + contractLabel(call, to)}
	default:
		return &model.Behavior{Kind: model.BehaviorContractCall, Summary: "Call " + m + " on " + contractLabel(call, to)}
	}
}

func (d *Detector) approvalAmount(chainID int64, token string, call *model.DecodedCall) string {
	amt := argBig(call, approvalAmountIdx(call.Method), "amount", "value", "addedValue", "tokenId")
	if isUnlimited(amt) {
		return "an unlimited amount of " + d.label(chainID, token)
	}
	return d.amount(chainID, token, amt)
}

// transferLeg returns the recipient and amount of a transfer-style call.
func transferLeg(call *model.DecodedCall) (string, *big.Int) {
	if call.Method == "transfer" {
		return argAddress(call, 0, "to", "recipient", "dst"), argBig(call, 1, "amount", "value", "wad")
	}
	return argAddress(call, 1, "to", "recipient", "dst"), argBig(call, 2, "amount", "value", "wad", "tokenId", "id")
}

func approvalSpenderIdx(m string) int {
	if m == "permit" {
		return 1
	}
	return 0
}

func approvalAmountIdx(m string) int {
	if m == "permit" {
		return 2
	}
	return 1
}

func contractLabel(call *model.DecodedCall, to string) string {
	if call.ContractName != "" {
		return call.ContractName
	}
	return shortAddress(to)
}

func domainLabel(td *model.DecodedTypedData) string {
	if td.DomainName != "" {
		return td.DomainName
	}
	if td.VerifyingContract != "" {
		return shortAddress(td.VerifyingContract)
	}
	return "an unnamed domain"
}

func typedLabel(td *model.DecodedTypedData) string {
	if td.PrimaryType != "" {
		return "a " + td.PrimaryType + " message"
	}
	return "a typed message"
}
