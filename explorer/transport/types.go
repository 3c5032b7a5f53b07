package transport

import (
	"fmt"

	"github.com/ccoveille/go-safecast"
	"github.com/doichain/go-sdk/types"
	"github.com/shopspring/decimal"
)

// Wire shapes of the electrum protocol results. Both transports convert
// into the canonical records of the types package through these.

type ListUnspentResult struct {
	Height   int64  `json:"height"`
	Position uint32 `json:"tx_pos"`
	Hash     string `json:"tx_hash"`
	Value    uint64 `json:"value"`
}

type HistoryResult struct {
	Hash   string `json:"tx_hash"`
	Height int64  `json:"height"`
	Fee    uint64 `json:"fee,omitempty"`
}

// BalanceResult amounts are in satoshis. Some servers report them as
// floats, hence the number type.
type BalanceResult struct {
	Confirmed   float64 `json:"confirmed"`
	Unconfirmed float64 `json:"unconfirmed"`
}

type TransactionResult struct {
	Txid          string `json:"txid"`
	Hex           string `json:"hex"`
	Blocktime     uint64 `json:"blocktime"`
	Confirmations int64  `json:"confirmations"`
}

func (r ListUnspentResult) ToUnspentOutput() (types.UnspentOutput, error) {
	value, err := safecast.ToInt64(r.Value)
	if err != nil {
		return types.UnspentOutput{}, fmt.Errorf("invalid value for %s:%d: %w", r.Hash, r.Position, err)
	}
	return types.UnspentOutput{
		TxHash:      r.Hash,
		OutputIndex: r.Position,
		Value:       value,
		Height:      max(r.Height, 0),
	}, nil
}

// ToHistoryEntry maps the mempool heights (0 and -1 for unconfirmed parents)
// to 0.
func (r HistoryResult) ToHistoryEntry() types.HistoryEntry {
	return types.HistoryEntry{
		TxHash: r.Hash,
		Height: max(r.Height, 0),
	}
}

func (r BalanceResult) ToBalance() types.Balance {
	return types.Balance{
		Confirmed:   decimal.NewFromFloat(r.Confirmed).Round(0).IntPart(),
		Unconfirmed: decimal.NewFromFloat(r.Unconfirmed).Round(0).IntPart(),
	}
}

func (r TransactionResult) ToRawTransaction(txid string) (*types.RawTransaction, error) {
	blocktime, err := safecast.ToInt64(r.Blocktime)
	if err != nil {
		return nil, fmt.Errorf("invalid blocktime for %s: %w", txid, err)
	}
	if r.Txid != "" {
		txid = r.Txid
	}
	return &types.RawTransaction{
		Txid:          txid,
		Hex:           r.Hex,
		BlockTime:     blocktime,
		Confirmations: r.Confirmations,
	}, nil
}

func ToUnspentOutputs(results []ListUnspentResult) ([]types.UnspentOutput, error) {
	utxos := make([]types.UnspentOutput, 0, len(results))
	for _, r := range results {
		utxo, err := r.ToUnspentOutput()
		if err != nil {
			return nil, err
		}
		utxos = append(utxos, utxo)
	}
	return utxos, nil
}

func ToHistory(results []HistoryResult) []types.HistoryEntry {
	history := make([]types.HistoryEntry, 0, len(results))
	for _, r := range results {
		history = append(history, r.ToHistoryEntry())
	}
	return history
}
