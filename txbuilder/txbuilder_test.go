package txbuilder_test

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/doichain/go-sdk/classifier"
	"github.com/doichain/go-sdk/nameop"
	"github.com/doichain/go-sdk/network"
	"github.com/doichain/go-sdk/txbuilder"
	"github.com/doichain/go-sdk/types"
	"github.com/stretchr/testify/require"
)

var net = &network.Doichain

func segwitAddress(t *testing.T, seed byte) (string, []byte) {
	t.Helper()
	addr, err := btcutil.NewAddressWitnessPubKeyHash(bytes.Repeat([]byte{seed}, 20), net)
	require.NoError(t, err)
	script, err := txscript.PayToAddrScript(addr)
	require.NoError(t, err)
	return addr.EncodeAddress(), script
}

func legacyAddress(t *testing.T, seed byte) (string, []byte) {
	t.Helper()
	addr, err := btcutil.NewAddressPubKeyHash(bytes.Repeat([]byte{seed}, 20), net)
	require.NoError(t, err)
	script, err := txscript.PayToAddrScript(addr)
	require.NoError(t, err)
	return addr.EncodeAddress(), script
}

func segwitUtxo(t *testing.T, seed byte, value int64) types.SpendableUtxo {
	t.Helper()
	addr, script := segwitAddress(t, seed)
	return types.SpendableUtxo{
		Utxo: types.Utxo{
			TxHash:          fmt.Sprintf("%064x", seed),
			OutputIndex:     0,
			Value:           value,
			OwnerAddress:    addr,
			ScriptPubKeyHex: hex.EncodeToString(script),
			ScriptType:      types.P2WPKH,
			Height:          100,
		},
	}
}

func legacyUtxo(t *testing.T, seed byte, value int64) types.SpendableUtxo {
	t.Helper()
	addr, script := legacyAddress(t, seed)

	prev := wire.NewMsgTx(2)
	prev.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&chainhash.Hash{seed}, 1), nil, nil))
	prev.AddTxOut(wire.NewTxOut(value, script))
	var buf bytes.Buffer
	require.NoError(t, prev.Serialize(&buf))

	return types.SpendableUtxo{
		Utxo: types.Utxo{
			TxHash:          prev.TxHash().String(),
			OutputIndex:     0,
			Value:           value,
			OwnerAddress:    addr,
			ScriptPubKeyHex: hex.EncodeToString(script),
			ScriptType:      types.P2PKH,
			Height:          100,
		},
		PrevTxHex: hex.EncodeToString(buf.Bytes()),
	}
}

func decodePsbt(t *testing.T, b64 string) *psbt.Packet {
	t.Helper()
	ptx, err := psbt.NewFromRawBytes(strings.NewReader(b64), true)
	require.NoError(t, err)
	return ptx
}

func requireBalanced(t *testing.T, tmpl *types.UnsignedTransactionTemplate) {
	t.Helper()
	require.Equal(t, tmpl.TotalInput, tmpl.TotalOutput+tmpl.Fee)
	require.GreaterOrEqual(t, tmpl.Change, int64(0))

	sumOutputs := int64(0)
	for _, out := range tmpl.Outputs {
		sumOutputs += out.Value
	}
	require.Equal(t, tmpl.TotalOutput, sumOutputs)
}

func TestEstimateFee(t *testing.T) {
	tests := []struct {
		inputs, outputs int
		expected        int64
	}{
		{1, 2, 51540},
		{2, 2, 51720},
		{1, 3, 51720},
		{0, 0, 51000},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d-in-%d-out", tt.inputs, tt.outputs), func(t *testing.T) {
			require.Equal(t, tt.expected, txbuilder.EstimateFee(tt.inputs, tt.outputs))
		})
	}
}

func TestBuildNameRegistration(t *testing.T) {
	recipient, recipientScript := segwitAddress(t, 0xaa)
	change, _ := segwitAddress(t, 0xbb)

	t.Run("segwit input", func(t *testing.T) {
		tmpl, err := txbuilder.BuildNameRegistration(txbuilder.NameRegistrationRequest{
			Utxos:            []types.SpendableUtxo{segwitUtxo(t, 0x01, 5_000_000)},
			NameID:           "hello",
			NameValue:        "world",
			RecipientAddress: recipient,
			ChangeAddress:    change,
			Params:           net,
		})
		require.NoError(t, err)
		requireBalanced(t, tmpl)

		require.Equal(t, int32(nameop.TxVersion), tmpl.Version)
		require.Equal(t, int64(5_000_000), tmpl.TotalInput)
		require.Equal(t, int64(51540), tmpl.Fee)
		require.Equal(t, int64(3_948_460), tmpl.Change)
		require.Len(t, tmpl.Outputs, 2)
		require.Equal(t, int64(txbuilder.DefaultStorageFee), tmpl.Outputs[0].Value)
		require.Equal(t, change, tmpl.Outputs[1].Address)
		require.True(t, tmpl.Inputs[0].Witness)
		require.Zero(t, tmpl.MaxFeeRate)

		ptx := decodePsbt(t, tmpl.Psbt)
		require.Equal(t, int32(nameop.TxVersion), ptx.UnsignedTx.Version)
		require.NotNil(t, ptx.Inputs[0].WitnessUtxo)
		require.Nil(t, ptx.Inputs[0].NonWitnessUtxo)

		name, ok := nameop.Parse(ptx.UnsignedTx.TxOut[0].PkScript)
		require.True(t, ok)
		require.Equal(t, "hello", name.Name)
		require.Equal(t, "world", name.Value)
		require.Equal(t, recipientScript, name.OwnerScript)
	})

	t.Run("legacy input with pinning fee", func(t *testing.T) {
		pinning, _ := segwitAddress(t, 0xcc)
		tmpl, err := txbuilder.BuildNameRegistration(txbuilder.NameRegistrationRequest{
			Utxos:            []types.SpendableUtxo{legacyUtxo(t, 0x02, 3_000_000)},
			NameID:           "doi:alice",
			RecipientAddress: recipient,
			ChangeAddress:    change,
			Params:           net,
			StorageFee:       2_000_000,
			Pinning:          &txbuilder.PinningFee{Address: pinning, Amount: 100_000},
		})
		require.NoError(t, err)
		requireBalanced(t, tmpl)

		require.Equal(t, int64(51720), tmpl.Fee)
		require.Equal(t, int64(3_000_000-2_000_000-100_000-51720), tmpl.Change)
		require.Len(t, tmpl.Outputs, 3)
		require.Equal(t, pinning, tmpl.Outputs[1].Address)
		require.False(t, tmpl.Inputs[0].Witness)

		ptx := decodePsbt(t, tmpl.Psbt)
		require.NotNil(t, ptx.Inputs[0].NonWitnessUtxo)
		require.Nil(t, ptx.Inputs[0].WitnessUtxo)

		name, ok := nameop.Parse(ptx.UnsignedTx.TxOut[0].PkScript)
		require.True(t, ok)
		require.Equal(t, txbuilder.EmptyNameValue, name.Value)
	})

	t.Run("exact amount leaves no change output", func(t *testing.T) {
		tmpl, err := txbuilder.BuildNameRegistration(txbuilder.NameRegistrationRequest{
			Utxos:            []types.SpendableUtxo{segwitUtxo(t, 0x03, 1_051_540)},
			NameID:           "hello",
			NameValue:        "world",
			RecipientAddress: recipient,
			ChangeAddress:    change,
			Params:           net,
		})
		require.NoError(t, err)
		requireBalanced(t, tmpl)
		require.Zero(t, tmpl.Change)
		require.Len(t, tmpl.Outputs, 1)
	})
}

func TestBuildNameRegistrationInvalid(t *testing.T) {
	recipient, _ := segwitAddress(t, 0xaa)
	change, _ := segwitAddress(t, 0xbb)

	t.Run("missing parameters", func(t *testing.T) {
		tmpl, err := txbuilder.BuildNameRegistration(txbuilder.NameRegistrationRequest{})
		require.Nil(t, tmpl)
		require.ErrorIs(t, err, types.ErrMissingParameter)

		var missing types.MissingParameterError
		require.True(t, errors.As(err, &missing))
		require.Equal(t, []string{
			"utxos", "name_id", "recipient_address", "change_address", "network",
		}, missing.Fields)
	})

	t.Run("insufficient funds", func(t *testing.T) {
		tmpl, err := txbuilder.BuildNameRegistration(txbuilder.NameRegistrationRequest{
			Utxos:            []types.SpendableUtxo{segwitUtxo(t, 0x04, 1_000_000)},
			NameID:           "hello",
			RecipientAddress: recipient,
			ChangeAddress:    change,
			Params:           net,
		})
		require.Nil(t, tmpl)
		require.ErrorIs(t, err, types.ErrInsufficientFunds)

		var insufficient types.InsufficientFundsError
		require.True(t, errors.As(err, &insufficient))
		require.Equal(t, change, insufficient.Address)
		require.Equal(t, int64(51540), insufficient.Shortfall())
	})

	t.Run("legacy input without previous tx", func(t *testing.T) {
		utxo := legacyUtxo(t, 0x05, 5_000_000)
		utxo.PrevTxHex = ""
		_, err := txbuilder.BuildNameRegistration(txbuilder.NameRegistrationRequest{
			Utxos:            []types.SpendableUtxo{utxo},
			NameID:           "hello",
			RecipientAddress: recipient,
			ChangeAddress:    change,
			Params:           net,
		})
		require.ErrorIs(t, err, types.ErrUnrecognizedScriptType)
	})

	t.Run("invalid name", func(t *testing.T) {
		_, err := txbuilder.BuildNameRegistration(txbuilder.NameRegistrationRequest{
			Utxos:            []types.SpendableUtxo{segwitUtxo(t, 0x06, 5_000_000)},
			NameID:           "two words",
			RecipientAddress: recipient,
			ChangeAddress:    change,
			Params:           net,
		})
		require.ErrorIs(t, err, types.ErrInvalidName)
	})

	t.Run("foreign recipient", func(t *testing.T) {
		_, err := txbuilder.BuildNameRegistration(txbuilder.NameRegistrationRequest{
			Utxos:            []types.SpendableUtxo{segwitUtxo(t, 0x07, 5_000_000)},
			NameID:           "hello",
			RecipientAddress: "bc1qar0srrr7xfkvy5l643lydnw9re59gtzzwf5mdq",
			ChangeAddress:    change,
			Params:           net,
		})
		require.ErrorIs(t, err, types.ErrInvalidAddress)
	})
}

func TestBuildPurchase(t *testing.T) {
	seller, sellerScript := segwitAddress(t, 0xdd)
	change, _ := segwitAddress(t, 0xee)

	t.Run("valid", func(t *testing.T) {
		tmpl, err := txbuilder.BuildPurchase(txbuilder.PurchaseRequest{
			Utxos:         []types.SpendableUtxo{segwitUtxo(t, 0x10, 5_000_000)},
			Price:         2_000_000,
			SellerAddress: seller,
			ChangeAddress: change,
			Params:        net,
		})
		require.NoError(t, err)
		requireBalanced(t, tmpl)

		require.Equal(t, int32(2), tmpl.Version)
		require.Equal(t, int64(txbuilder.DefaultMaxFeeRate), tmpl.MaxFeeRate)
		require.Equal(t, int64(51540), tmpl.Fee)
		require.Equal(t, int64(2_948_460), tmpl.Change)

		ptx := decodePsbt(t, tmpl.Psbt)
		require.Equal(t, sellerScript, ptx.UnsignedTx.TxOut[0].PkScript)
		require.Equal(t, int64(2_000_000), ptx.UnsignedTx.TxOut[0].Value)
		require.False(t, nameop.IsNameOp(ptx.UnsignedTx.TxOut[0].PkScript))
	})

	t.Run("fee rate above ceiling", func(t *testing.T) {
		tmpl, err := txbuilder.BuildPurchase(txbuilder.PurchaseRequest{
			Utxos:         []types.SpendableUtxo{segwitUtxo(t, 0x11, 5_000_000)},
			Price:         2_000_000,
			SellerAddress: seller,
			ChangeAddress: change,
			Params:        net,
			MaxFeeRate:    100,
		})
		require.Nil(t, tmpl)
		require.ErrorIs(t, err, types.ErrFeeRateTooHigh)
	})

	t.Run("missing parameters", func(t *testing.T) {
		_, err := txbuilder.BuildPurchase(txbuilder.PurchaseRequest{Params: net})
		var missing types.MissingParameterError
		require.True(t, errors.As(err, &missing))
		require.Equal(t, []string{"utxos", "price", "seller_address", "change_address"}, missing.Fields)
	})
}

func TestSelectUtxos(t *testing.T) {
	recipient, recipientScript := segwitAddress(t, 0xaa)
	nameScript, err := nameop.BuildScript("doi:alice", "v", recipientScript)
	require.NoError(t, err)

	name := segwitUtxo(t, 0x20, 9_000_000)
	name.OwnerAddress = recipient
	name.ScriptPubKeyHex = hex.EncodeToString(nameScript)
	small := segwitUtxo(t, 0x21, 500_000)
	medium := segwitUtxo(t, 0x22, 1_000_000)
	large := segwitUtxo(t, 0x23, 2_000_000)
	utxos := []types.SpendableUtxo{name, small, medium, large}

	require.True(t, txbuilder.IsNameOutput(name.Utxo))
	require.False(t, txbuilder.IsNameOutput(large.Utxo))

	tests := []struct {
		name     string
		amount   int64
		expected []types.SpendableUtxo
	}{
		{"largest covers", 1_000_000, []types.SpendableUtxo{large}},
		{"two needed", 2_500_000, []types.SpendableUtxo{large, medium}},
		{"all needed", 3_400_000, []types.SpendableUtxo{large, medium, small}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			selected, err := txbuilder.SelectUtxos(utxos, tt.amount, 2)
			require.NoError(t, err)
			require.Equal(t, tt.expected, selected)
		})
	}

	t.Run("name outputs are not spent", func(t *testing.T) {
		_, err := txbuilder.SelectUtxos(utxos, 5_000_000, 2)
		require.ErrorIs(t, err, types.ErrInsufficientFunds)
	})
}

type txChain struct {
	txs map[string]*types.RawTransaction
}

func (c *txChain) GetTransaction(_ context.Context, txid string) (*types.RawTransaction, error) {
	tx, ok := c.txs[txid]
	if !ok {
		return nil, fmt.Errorf("tx %s not found", txid)
	}
	return tx, nil
}

func (c *txChain) ListUnspent(context.Context, string) ([]types.UnspentOutput, error) {
	return nil, nil
}

func (c *txChain) GetHistory(context.Context, string) ([]types.HistoryEntry, error) {
	return nil, nil
}

func (c *txChain) GetBalance(context.Context, string) (types.Balance, error) {
	return types.Balance{}, nil
}

func (c *txChain) Broadcast(context.Context, string) (string, error) {
	return "", nil
}

func (c *txChain) Close() {}

// A registration built here must be recognised by the classifier once it
// confirms.
func TestNameRegistrationRoundTrip(t *testing.T) {
	recipient, _ := segwitAddress(t, 0xaa)
	change, _ := segwitAddress(t, 0xbb)

	tmpl, err := txbuilder.BuildNameRegistration(txbuilder.NameRegistrationRequest{
		Utxos:            []types.SpendableUtxo{segwitUtxo(t, 0x30, 5_000_000)},
		NameID:           "hello",
		NameValue:        "world",
		RecipientAddress: recipient,
		ChangeAddress:    change,
		Params:           net,
	})
	require.NoError(t, err)

	tx := decodePsbt(t, tmpl.Psbt).UnsignedTx
	var buf bytes.Buffer
	require.NoError(t, tx.Serialize(&buf))
	txid := tx.TxHash().String()

	chain := &txChain{txs: map[string]*types.RawTransaction{
		txid: {Txid: txid, Hex: hex.EncodeToString(buf.Bytes()), BlockTime: 1700000000},
	}}
	c := classifier.NewClassifier(chain, net)
	txs, err := c.Classify(
		context.Background(),
		[]types.HistoryEntry{{TxHash: txid, Height: 1000}},
		map[string]struct{}{recipient: {}},
		nil,
	)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	require.Equal(t, "hello", txs[0].NameID)
	require.Equal(t, "world", txs[0].NameValue)
	require.Equal(t, int64(txbuilder.DefaultStorageFee), txs[0].Value)

	ops := classifier.ExtractNameOperations(txs)
	require.Len(t, ops, 1)
	require.Equal(t, recipient, ops[0].OwnerAddress)
	require.Equal(t, int64(1000+types.NameExpirationDepth), ops[0].ExpiresAt)
}
