package analysis

import (
	"math/big"

	"github.com/sells-group/txlens/internal/model"
)

// Assets predicts the asset movements of the sender from decoded calldata.
// Amounts are in base units (wei, token units before decimals). Swaps
// report the minimum output as the incoming amount.
func (d *Detector) Assets(in Input) model.PredictedAssets {
	out := model.PredictedAssets{}
	if in.TypedData != nil {
		return out
	}

	add := func(token string, amt *big.Int, dir model.Direction) {
		if token == "" || amt == nil || amt.Sign() <= 0 {
			return
		}
		out = append(out, model.PredictedAsset{
			Token:       token,
			DisplayName: d.symbol(in.ChainID, token),
			Amount:      amt.String(),
			Direction:   dir,
		})
	}

	value := txValue(in.Tx)
	add(NativeToken, value, model.DirectionOut)

	call := in.Decoded
	if call == nil || in.Tx == nil {
		return out
	}
	sender, to := in.Tx.From, in.Tx.To

	switch m := call.Method; {
	case m == "deposit" && isWrapped(call):
		add(to, value, model.DirectionIn)
	case m == "withdraw" && isWrapped(call):
		wad := argBig(call, 0, "wad", "amount")
		add(to, wad, model.DirectionOut)
		add(NativeToken, wad, model.DirectionIn)
	case m == "transfer":
		recipient, amt := transferLeg(call)
		if !sameAddress(recipient, sender) {
			add(to, amt, model.DirectionOut)
		}
	case m == "transferFrom":
		from := argAddress(call, 0, "from", "sender", "src")
		recipient, amt := transferLeg(call)
		switch {
		case sameAddress(from, recipient):
		case sameAddress(from, sender):
			add(to, amt, model.DirectionOut)
		case sameAddress(recipient, sender):
			add(to, amt, model.DirectionIn)
		}
	case isSwap(m):
		path := addressList(call)
		if len(path) < 2 {
			break
		}
		first, last := path[0], path[len(path)-1]
		switch m {
		case "swapExactTokensForTokens", "swapExactTokensForETH",
			"swapExactTokensForTokensSupportingFeeOnTransferTokens", "swapExactTokensForETHSupportingFeeOnTransferTokens":
			add(first, argBig(call, 0, "amountIn"), model.DirectionOut)
			add(swapOut(m, last), argBig(call, 1, "amountOutMin"), model.DirectionIn)
		case "swapExactETHForTokens", "swapExactETHForTokensSupportingFeeOnTransferTokens":
			add(last, argBig(call, 0, "amountOutMin"), model.DirectionIn)
		case "swapTokensForExactTokens", "swapTokensForExactETH":
			add(first, argBig(call, 1, "amountInMax"), model.DirectionOut)
			add(swapOut(m, last), argBig(call, 0, "amountOut"), model.DirectionIn)
		}
	}
	return out
}

func swapOut(method, last string) string {
	switch method {
	case "swapExactTokensForETH", "swapExactTokensForETHSupportingFeeOnTransferTokens", "swapTokensForExactETH":
		return NativeToken
	}
	return last
}
