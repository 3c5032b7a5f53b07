package txbuilder

import (
	"encoding/hex"
	"sort"

	"github.com/doichain/go-sdk/nameop"
	"github.com/doichain/go-sdk/types"
)

// SelectUtxos picks the largest utxos until they cover the amount plus the
// fee of a transaction with the selected inputs and numOutputs outputs.
// Outputs holding a name are never selected.
func SelectUtxos(
	utxos []types.SpendableUtxo, amount int64, numOutputs int,
) ([]types.SpendableUtxo, error) {
	candidates := make([]types.SpendableUtxo, 0, len(utxos))
	for _, u := range utxos {
		if IsNameOutput(u.Utxo) {
			continue
		}
		candidates = append(candidates, u)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Value > candidates[j].Value
	})

	selected := make([]types.SpendableUtxo, 0)
	selectedAmount := int64(0)
	for _, u := range candidates {
		if selectedAmount >= amount+EstimateFee(len(selected), numOutputs) && len(selected) > 0 {
			break
		}
		selected = append(selected, u)
		selectedAmount += u.Value
	}

	required := amount + EstimateFee(len(selected), numOutputs)
	if selectedAmount < required {
		address := ""
		if len(utxos) > 0 {
			address = utxos[0].OwnerAddress
		}
		return nil, types.InsufficientFundsError{
			Address:   address,
			Required:  required,
			Available: selectedAmount,
		}
	}
	return selected, nil
}

// IsNameOutput reports whether the utxo locks a name.
func IsNameOutput(u types.Utxo) bool {
	script, err := hex.DecodeString(u.ScriptPubKeyHex)
	if err != nil {
		return false
	}
	return nameop.IsNameOp(script)
}
