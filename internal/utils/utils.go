package utils

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/doichain/go-sdk/types"
	"github.com/lightningnetwork/lnd/lntypes"
)

// ParseAddress decodes the address and makes sure it belongs to the given
// network.
func ParseAddress(addr string, net *chaincfg.Params) (btcutil.Address, error) {
	decoded, err := btcutil.DecodeAddress(addr, net)
	if err != nil {
		return nil, fmt.Errorf("%w %s: %s", types.ErrInvalidAddress, addr, err)
	}
	if !decoded.IsForNet(net) {
		return nil, fmt.Errorf(
			"%w %s: not a %s address", types.ErrInvalidAddress, addr, net.Name,
		)
	}
	return decoded, nil
}

// ToOutputScript returns the locking script paying to the given address.
func ToOutputScript(addr string, net *chaincfg.Params) ([]byte, error) {
	decoded, err := ParseAddress(addr, net)
	if err != nil {
		return nil, err
	}
	return txscript.PayToAddrScript(decoded)
}

// ScriptHash returns the electrum script hash of an output script: the
// sha256 digest in reversed byte order, hex encoded.
func ScriptHash(script []byte) string {
	digest := sha256.Sum256(script)
	slices.Reverse(digest[:])
	return hex.EncodeToString(digest[:])
}

// AddressScriptHash returns the electrum script hash of the address.
func AddressScriptHash(addr string, net *chaincfg.Params) (string, error) {
	script, err := ToOutputScript(addr, net)
	if err != nil {
		return "", err
	}
	return ScriptHash(script), nil
}

// ScriptTypeOf classifies a locking script into one of the supported types.
func ScriptTypeOf(script []byte) types.ScriptType {
	switch txscript.GetScriptClass(script) {
	case txscript.PubKeyHashTy:
		return types.P2PKH
	case txscript.WitnessV0PubKeyHashTy:
		return types.P2WPKH
	case txscript.ScriptHashTy:
		return types.P2SHP2WPKH
	default:
		return types.NonStandard
	}
}

// AddressFromScript extracts the single address a locking script pays to.
func AddressFromScript(script []byte, net *chaincfg.Params) (string, bool) {
	_, addrs, _, err := txscript.ExtractPkScriptAddrs(script, net)
	if err != nil || len(addrs) != 1 {
		return "", false
	}
	return addrs[0].EncodeAddress(), true
}

// DecodeTx parses a hex encoded raw transaction.
func DecodeTx(txHex string) (*wire.MsgTx, error) {
	raw, err := hex.DecodeString(txHex)
	if err != nil {
		return nil, fmt.Errorf("invalid tx hex: %s", err)
	}
	tx := wire.NewMsgTx(wire.TxVersion)
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("failed to deserialize tx: %s", err)
	}
	return tx, nil
}

func ComputeVSize(tx *wire.MsgTx) lntypes.VByte {
	baseSize := tx.SerializeSizeStripped()
	totalSize := tx.SerializeSize()
	weight := totalSize + baseSize*3
	return lntypes.WeightUnit(uint64(weight)).ToVB()
}
