package analysis

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/sells-group/txlens/internal/abisource"
	"github.com/sells-group/txlens/internal/model"
)

// Risk flag types.
const (
	RiskUnlimitedApproval   = "unlimited_approval"
	RiskApprovalForAll      = "approval_for_all"
	RiskPermitSignature     = "permit_signature"
	RiskOrderSignature      = "order_signature"
	RiskBurnAddress         = "burn_address"
	RiskLowConfidenceDecode = "low_confidence_decode"
	RiskUnresolvedABI       = "unresolved_abi"
	RiskReverted            = "reverted"
)

// unlimitedThreshold treats allowances of 2^255 and above as unlimited;
// wallets commonly use MaxUint256 or MaxUint256 >> 1.
var unlimitedThreshold = new(big.Int).Lsh(big.NewInt(1), 255)

// maxUint160 is Permit2's "unlimited" allowance.
var maxUint160 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 160), big.NewInt(1))

var burnAddresses = map[common.Address]bool{
	{}: true,
	common.HexToAddress("0x000000000000000000000000000000000000dEaD"): true,
}

func isUnlimited(v *big.Int) bool {
	return v != nil && v.Cmp(unlimitedThreshold) >= 0
}

// Risk returns the structured risk flags for the interaction.
func (d *Detector) Risk(in Input) model.RiskFlags {
	flags := model.RiskFlags{}

	if td := in.TypedData; td != nil {
		flags = append(flags, typedDataRisk(td)...)
	}

	if call := in.Decoded; call != nil {
		flags = append(flags, d.callRisk(in, call)...)
	} else if in.TypedData == nil && hasCalldata(in.Tx) {
		flags = append(flags, model.RiskFlag{
			Type:        RiskUnresolvedABI,
			Severity:    model.SeverityLow,
			Description: "The called function could not be decoded, so its effects are unknown",
			Evidence:    selectorOf(in.Tx.Data),
		})
	}

	if in.Receipt != nil && !in.Receipt.Succeeded() {
		flags = append(flags, model.RiskFlag{
			Type:        RiskReverted,
			Severity:    model.SeverityLow,
			Description: "The transaction reverted on chain",
		})
	}
	return flags
}

func (d *Detector) callRisk(in Input, call *model.DecodedCall) model.RiskFlags {
	var flags model.RiskFlags
	to := ""
	if in.Tx != nil {
		to = in.Tx.To
	}

	switch m := call.Method; {
	case approvalMethods[m]:
		amt := argBig(call, approvalAmountIdx(m), "amount", "value", "addedValue")
		if isUnlimited(amt) {
			spender := argAddress(call, approvalSpenderIdx(m), "spender")
			flags = append(flags, model.RiskFlag{
				Type:        RiskUnlimitedApproval,
				Severity:    model.SeverityHigh,
				Description: "Grants " + shortAddress(spender) + " unlimited spending of " + d.label(in.ChainID, to),
				Evidence:    "amount=" + amt.String(),
			})
		}
	case m == "setApprovalForAll":
		if ok, _ := argBool(call, 1, "approved"); ok {
			flags = append(flags, model.RiskFlag{
				Type:        RiskApprovalForAll,
				Severity:    model.SeverityHigh,
				Description: "Grants " + shortAddress(argAddress(call, 0, "operator")) + " control of every item in the collection",
				Evidence:    "operator=" + argAddress(call, 0, "operator"),
			})
		}
	case transferMethods[m]:
		recipient, _ := transferLeg(call)
		if recipient != "" && burnAddresses[common.HexToAddress(recipient)] {
			flags = append(flags, model.RiskFlag{
				Type:        RiskBurnAddress,
				Severity:    model.SeverityMedium,
				Description: "Tokens are sent to a burn address and cannot be recovered",
				Evidence:    "to=" + recipient,
			})
		}
	}

	if call.AbiSource == abisource.SourceFourByte {
		f := model.RiskFlag{
			Type:        RiskLowConfidenceDecode,
			Severity:    model.SeverityLow,
			Description: "Decoded from a public signature database rather than a verified contract ABI",
			Evidence:    call.Signature,
		}
		if len(call.Candidates) > 1 {
			f.Evidence = fmt.Sprintf("%d candidate signatures: %s", len(call.Candidates), strings.Join(call.Candidates, ", "))
		}
		flags = append(flags, f)
	}
	return flags
}

func typedDataRisk(td *model.DecodedTypedData) model.RiskFlags {
	switch {
	case permitTypes[td.PrimaryType]:
		amt := permitAmount(td.Message)
		unlimited := isUnlimited(amt) || (amt != nil && amt.Cmp(maxUint160) == 0)
		f := model.RiskFlag{
			Type:        RiskPermitSignature,
			Severity:    model.SeverityMedium,
			Description: "Off-chain permit lets the spender move tokens without a further transaction",
			Evidence:    "domain=" + domainLabel(td),
		}
		if unlimited {
			f.Severity = model.SeverityHigh
			f.Description = "Off-chain permit grants unlimited token spending"
			f.Evidence += " amount=" + amt.String()
		}
		spender := messageString(td.Message, "spender")
		if spender != "" {
			f.Evidence += " spender=" + spender
		}
		return model.RiskFlags{f}
	case orderTypes[td.PrimaryType]:
		return model.RiskFlags{{
			Type:        RiskOrderSignature,
			Severity:    model.SeverityMedium,
			Description: "Signing an order lets anyone fill it and move the listed assets",
			Evidence:    "domain=" + domainLabel(td),
		}}
	}
	return nil
}

// permitAmount finds the permitted amount in EIP-2612 ("value") and Permit2
// ("details.amount", "permitted.amount") messages.
func permitAmount(msg map[string]any) *big.Int {
	if v := messageBig(msg, "value"); v != nil {
		return v
	}
	for _, key := range []string{"details", "permitted"} {
		if nested, ok := msg[key].(map[string]any); ok {
			if v := messageBig(nested, "amount"); v != nil {
				return v
			}
		}
	}
	return nil
}

func messageBig(msg map[string]any, key string) *big.Int {
	switch v := msg[key].(type) {
	case json.Number:
		n, ok := new(big.Int).SetString(v.String(), 10)
		if ok {
			return n
		}
	case string:
		n, ok := new(big.Int).SetString(v, 0)
		if ok {
			return n
		}
	case float64:
		n, _ := big.NewFloat(v).Int(nil)
		return n
	}
	return nil
}

func messageString(msg map[string]any, key string) string {
	if s, ok := msg[key].(string); ok {
		return s
	}
	return ""
}

func selectorOf(data string) string {
	d := strings.TrimPrefix(data, "0x")
	if len(d) < 8 {
		return ""
	}
	return "selector=0x" + strings.ToLower(d[:8])
}
