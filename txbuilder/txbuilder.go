// Package txbuilder assembles unsigned name registration and purchase
// transactions as base64 PSBTs, estimating the fee and computing the change.
package txbuilder

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/doichain/go-sdk/internal/utils"
	"github.com/doichain/go-sdk/nameop"
	"github.com/doichain/go-sdk/types"
)

const (
	// DefaultStorageFee is the value locked in a name output, 0.01 DOI.
	DefaultStorageFee = 1_000_000
	// DefaultMaxFeeRate is the fee rate ceiling, in sat/vB, applied to
	// purchases when the request sets none.
	DefaultMaxFeeRate = 5000

	// EmptyNameValue is registered when a name comes without a value.
	EmptyNameValue = "empty"

	purchaseTxVersion = 2

	bytesPerInOut  = 180
	feeRateFloor   = 34 * 500
	feeRateFactor  = 3
	witnessV0Short = "0014"
	witnessV0Long  = "0020"
)

// PinningFee pays a content pinning service alongside a registration.
type PinningFee struct {
	Address string
	Amount  int64
}

type NameRegistrationRequest struct {
	Utxos            []types.SpendableUtxo
	NameID           string
	NameValue        string
	RecipientAddress string
	ChangeAddress    string
	Params           *chaincfg.Params
	// StorageFee defaults to DefaultStorageFee.
	StorageFee int64
	Pinning    *PinningFee
}

type PurchaseRequest struct {
	Utxos         []types.SpendableUtxo
	Price         int64
	SellerAddress string
	ChangeAddress string
	Params        *chaincfg.Params
	// MaxFeeRate defaults to DefaultMaxFeeRate.
	MaxFeeRate int64
}

// EstimateFee returns the fee of a transaction with the given number of
// inputs and outputs. The estimate is deterministic and does not depend on
// the current network fee rate.
func EstimateFee(numInputs, numOutputs int) int64 {
	return int64(numInputs+numOutputs)*bytesPerInOut + feeRateFactor*feeRateFloor
}

// BuildNameRegistration builds a name registration: one output locking the
// storage fee under the name script, an optional pinning fee output and the
// change output.
func BuildNameRegistration(req NameRegistrationRequest) (*types.UnsignedTransactionTemplate, error) {
	missing := make([]string, 0)
	if len(req.Utxos) == 0 {
		missing = append(missing, "utxos")
	}
	if req.NameID == "" {
		missing = append(missing, "name_id")
	}
	if req.RecipientAddress == "" {
		missing = append(missing, "recipient_address")
	}
	if req.ChangeAddress == "" {
		missing = append(missing, "change_address")
	}
	if req.Params == nil {
		missing = append(missing, "network")
	}
	if len(missing) > 0 {
		return nil, types.MissingParameterError{Fields: missing}
	}

	if err := nameop.ValidateName(req.NameID); err != nil {
		return nil, err
	}
	value := req.NameValue
	if value == "" {
		value = EmptyNameValue
	}
	if err := nameop.ValidateValue(value); err != nil {
		return nil, err
	}

	storageFee := req.StorageFee
	if storageFee <= 0 {
		storageFee = DefaultStorageFee
	}

	recipientScript, err := utils.ToOutputScript(req.RecipientAddress, req.Params)
	if err != nil {
		return nil, err
	}
	nameScript, err := nameop.BuildScript(req.NameID, value, recipientScript)
	if err != nil {
		return nil, err
	}

	outputs := []output{{
		address: req.RecipientAddress,
		txOut:   wire.NewTxOut(storageFee, nameScript),
	}}
	if req.Pinning != nil && req.Pinning.Amount > 0 {
		pinningScript, err := utils.ToOutputScript(req.Pinning.Address, req.Params)
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, output{
			address: req.Pinning.Address,
			txOut:   wire.NewTxOut(req.Pinning.Amount, pinningScript),
		})
	}

	return build(buildArgs{
		utxos:         req.Utxos,
		outputs:       outputs,
		changeAddress: req.ChangeAddress,
		params:        req.Params,
		version:       nameop.TxVersion,
	})
}

// BuildPurchase builds a plain payment of the price to the seller, with the
// change returned to the change address. The fee rate of the result is
// checked against the request's ceiling.
func BuildPurchase(req PurchaseRequest) (*types.UnsignedTransactionTemplate, error) {
	missing := make([]string, 0)
	if len(req.Utxos) == 0 {
		missing = append(missing, "utxos")
	}
	if req.Price <= 0 {
		missing = append(missing, "price")
	}
	if req.SellerAddress == "" {
		missing = append(missing, "seller_address")
	}
	if req.ChangeAddress == "" {
		missing = append(missing, "change_address")
	}
	if req.Params == nil {
		missing = append(missing, "network")
	}
	if len(missing) > 0 {
		return nil, types.MissingParameterError{Fields: missing}
	}

	maxFeeRate := req.MaxFeeRate
	if maxFeeRate <= 0 {
		maxFeeRate = DefaultMaxFeeRate
	}

	sellerScript, err := utils.ToOutputScript(req.SellerAddress, req.Params)
	if err != nil {
		return nil, err
	}

	return build(buildArgs{
		utxos: req.Utxos,
		outputs: []output{{
			address: req.SellerAddress,
			txOut:   wire.NewTxOut(req.Price, sellerScript),
		}},
		changeAddress: req.ChangeAddress,
		params:        req.Params,
		version:       purchaseTxVersion,
		maxFeeRate:    maxFeeRate,
	})
}

type output struct {
	address string
	txOut   *wire.TxOut
}

type buildArgs struct {
	utxos         []types.SpendableUtxo
	outputs       []output
	changeAddress string
	params        *chaincfg.Params
	version       int32
	maxFeeRate    int64
}

func build(args buildArgs) (*types.UnsignedTransactionTemplate, error) {
	changeScript, err := utils.ToOutputScript(args.changeAddress, args.params)
	if err != nil {
		return nil, err
	}

	inputs, err := prepareInputs(args.utxos)
	if err != nil {
		return nil, err
	}

	totalIn := int64(0)
	for _, in := range inputs {
		totalIn += in.utxo.Value
	}
	totalOut := int64(0)
	for _, out := range args.outputs {
		totalOut += out.txOut.Value
	}

	// the change output always counts towards the fee
	fee := EstimateFee(len(inputs), len(args.outputs)+1)
	change := totalIn - totalOut - fee
	if change < 0 {
		return nil, types.InsufficientFundsError{
			Address:   args.changeAddress,
			Required:  totalOut + fee,
			Available: totalIn,
		}
	}

	outputs := args.outputs
	if change > 0 {
		outputs = append(outputs, output{
			address: args.changeAddress,
			txOut:   wire.NewTxOut(change, changeScript),
		})
	}

	outpoints := make([]*wire.OutPoint, 0, len(inputs))
	sequences := make([]uint32, 0, len(inputs))
	for _, in := range inputs {
		outpoints = append(outpoints, in.outpoint)
		sequences = append(sequences, wire.MaxTxInSequenceNum)
	}
	txOuts := make([]*wire.TxOut, 0, len(outputs))
	for _, out := range outputs {
		txOuts = append(txOuts, out.txOut)
	}

	ptx, err := psbt.New(outpoints, txOuts, args.version, 0, sequences)
	if err != nil {
		return nil, err
	}
	for i, in := range inputs {
		if in.witnessUtxo != nil {
			ptx.Inputs[i].WitnessUtxo = in.witnessUtxo
		} else {
			ptx.Inputs[i].NonWitnessUtxo = in.prevTx
		}
	}

	if args.maxFeeRate > 0 {
		vsize := utils.ComputeVSize(ptx.UnsignedTx)
		if vsize > 0 && fee/int64(vsize) > args.maxFeeRate {
			return nil, fmt.Errorf(
				"%w: %d sat/vB above the %d sat/vB ceiling",
				types.ErrFeeRateTooHigh, fee/int64(vsize), args.maxFeeRate,
			)
		}
	}

	encoded, err := ptx.B64Encode()
	if err != nil {
		return nil, err
	}

	template := &types.UnsignedTransactionTemplate{
		Psbt:        encoded,
		Inputs:      make([]types.TxInput, 0, len(inputs)),
		Outputs:     make([]types.TxOutput, 0, len(outputs)),
		Version:     args.version,
		TotalInput:  totalIn,
		TotalOutput: totalOut + change,
		Fee:         fee,
		Change:      change,
		MaxFeeRate:  args.maxFeeRate,
	}
	for _, in := range inputs {
		template.Inputs = append(template.Inputs, types.TxInput{
			Outpoint: in.utxo.Outpoint(),
			Value:    in.utxo.Value,
			Witness:  in.witnessUtxo != nil,
		})
	}
	for _, out := range outputs {
		template.Outputs = append(template.Outputs, types.TxOutput{
			Address: out.address,
			Script:  hex.EncodeToString(out.txOut.PkScript),
			Value:   out.txOut.Value,
		})
	}
	return template, nil
}

type preparedInput struct {
	utxo        types.SpendableUtxo
	outpoint    *wire.OutPoint
	witnessUtxo *wire.TxOut
	prevTx      *wire.MsgTx
}

// prepareInputs attaches to every utxo what a signer needs: the spent output
// for witness v0 inputs, the whole previous transaction for the others.
func prepareInputs(utxos []types.SpendableUtxo) ([]preparedInput, error) {
	inputs := make([]preparedInput, 0, len(utxos))
	for _, u := range utxos {
		hash, err := chainhash.NewHashFromStr(u.TxHash)
		if err != nil {
			return nil, fmt.Errorf("invalid utxo txid %s: %s", u.TxHash, err)
		}
		in := preparedInput{
			utxo:     u,
			outpoint: wire.NewOutPoint(hash, u.OutputIndex),
		}

		if isWitnessV0(u.Utxo) {
			script, err := hex.DecodeString(u.ScriptPubKeyHex)
			if err != nil {
				return nil, fmt.Errorf("invalid script of utxo %s: %s", u.Outpoint(), err)
			}
			in.witnessUtxo = wire.NewTxOut(u.Value, script)
			inputs = append(inputs, in)
			continue
		}

		if u.PrevTxHex == "" {
			return nil, fmt.Errorf(
				"%w: utxo %s (%s) needs its previous transaction",
				types.ErrUnrecognizedScriptType, u.Outpoint(), u.ScriptType,
			)
		}
		prevTx, err := utils.DecodeTx(u.PrevTxHex)
		if err != nil {
			return nil, err
		}
		if prevTx.TxHash() != *hash {
			return nil, fmt.Errorf("previous transaction of utxo %s does not match its txid", u.Outpoint())
		}
		if int(u.OutputIndex) >= len(prevTx.TxOut) {
			return nil, fmt.Errorf("previous transaction of utxo %s has no output %d", u.Outpoint(), u.OutputIndex)
		}
		in.prevTx = prevTx
		inputs = append(inputs, in)
	}
	return inputs, nil
}

func isWitnessV0(u types.Utxo) bool {
	if u.ScriptType == types.P2WPKH {
		return u.ScriptPubKeyHex != ""
	}
	script := strings.ToLower(u.ScriptPubKeyHex)
	return (strings.HasPrefix(script, witnessV0Short) && len(script) == 44) ||
		(strings.HasPrefix(script, witnessV0Long) && len(script) == 68)
}
