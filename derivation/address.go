package derivation

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcwallet/waddrmgr"
	"github.com/doichain/go-sdk/types"
	log "github.com/sirupsen/logrus"
)

// KeyScope maps a wallet standard to the BIP43 scope whose address schema it
// follows. The electrum standards share the schema of the BIP scope with the
// same script type.
func KeyScope(standard types.WalletStandard) waddrmgr.KeyScope {
	switch standard {
	case types.SegwitElectrum, types.BIP84:
		return waddrmgr.KeyScopeBIP0084
	case types.BIP49:
		return waddrmgr.KeyScopeBIP0049Plus
	default:
		return waddrmgr.KeyScopeBIP0044
	}
}

// ScriptTypeOf returns the script type the standard derives addresses for.
func ScriptTypeOf(standard types.WalletStandard) types.ScriptType {
	schema, ok := waddrmgr.ScopeAddrMap[KeyScope(standard)]
	if !ok {
		return types.P2PKH
	}
	switch schema.ExternalAddrType {
	case waddrmgr.WitnessPubKey:
		return types.P2WPKH
	case waddrmgr.NestedWitnessPubKey:
		return types.P2SHP2WPKH
	default:
		return types.P2PKH
	}
}

// PublicKey derives the public key at the given path.
func (k *ExtendedKey) PublicKey(path string) (*btcec.PublicKey, error) {
	child, err := k.Derive(path)
	if err != nil {
		return nil, err
	}
	return child.ECPubKey()
}

// Address derives the address of the given script type at path.
func (k *ExtendedKey) Address(
	path string, scriptType types.ScriptType, params *chaincfg.Params,
) (string, error) {
	pubkey, err := k.PublicKey(path)
	if err != nil {
		return "", err
	}

	addr, err := AddressFromPubKey(pubkey, scriptType, params)
	if err != nil {
		return "", err
	}

	log.WithFields(log.Fields{
		"path":    path,
		"type":    scriptType,
		"address": addr,
	}).Trace("derivation: derived address")
	return addr, nil
}

// DeriveAddress derives the address of the standard at base/branch/index.
func (k *ExtendedKey) DeriveAddress(
	standard types.WalletStandard, branch types.Branch, index uint32, params *chaincfg.Params,
) (types.DerivedAddress, error) {
	path := JoinPath(standard.BasePath(), uint32(branch), index)
	scriptType := ScriptTypeOf(standard)

	addr, err := k.Address(path, scriptType, params)
	if err != nil {
		return types.DerivedAddress{}, err
	}
	return types.DerivedAddress{
		Path:       path,
		Standard:   standard,
		Branch:     branch,
		Index:      index,
		Address:    addr,
		ScriptType: scriptType,
	}, nil
}

// DeriveAddress is the one-shot form of ExtendedKey.Address.
func DeriveAddress(
	xpub, path string, scriptType types.ScriptType, params *chaincfg.Params,
) (string, error) {
	key, err := ParseExtendedKey(xpub)
	if err != nil {
		return "", err
	}
	return key.Address(path, scriptType, params)
}

// AddressFromPubKey encodes the compressed public key as an address.
func AddressFromPubKey(
	pubkey *btcec.PublicKey, scriptType types.ScriptType, params *chaincfg.Params,
) (string, error) {
	pkHash := btcutil.Hash160(pubkey.SerializeCompressed())

	var (
		addr btcutil.Address
		err  error
	)
	switch scriptType {
	case types.P2PKH:
		addr, err = btcutil.NewAddressPubKeyHash(pkHash, params)
	case types.P2WPKH:
		addr, err = btcutil.NewAddressWitnessPubKeyHash(pkHash, params)
	case types.P2SHP2WPKH:
		var witnessProgram []byte
		witnessProgram, err = txscript.NewScriptBuilder().
			AddOp(txscript.OP_0).AddData(pkHash).Script()
		if err != nil {
			return "", err
		}
		addr, err = btcutil.NewAddressScriptHash(witnessProgram, params)
	default:
		return "", fmt.Errorf("%w: %s", types.ErrUnrecognizedScriptType, scriptType)
	}
	if err != nil {
		return "", err
	}
	return addr.EncodeAddress(), nil
}
