package derivation

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/doichain/go-sdk/network"
	"github.com/doichain/go-sdk/types"
)

const (
	serializedKeyLen = 78
	checksumLen      = 4
	encodedKeyLen    = serializedKeyLen + checksumLen
)

// ExtendedKey is a decoded extended public key ready for child derivation.
// Segwit tagged keys (zpub, ypub) are rewritten to the plain xpub version
// before decoding, their original tag is kept in Version.
type ExtendedKey struct {
	key     *hdkeychain.ExtendedKey
	encoded string
	Version [4]byte
}

// ParseExtendedKey decodes a base58check extended key.
func ParseExtendedKey(encoded string) (*ExtendedKey, error) {
	decoded := base58.Decode(encoded)
	if len(decoded) != encodedKeyLen {
		return nil, fmt.Errorf(
			"%w: expected %d bytes, got %d", types.ErrInvalidKeyEncoding, encodedKeyLen, len(decoded),
		)
	}

	var version [4]byte
	copy(version[:], decoded[:4])

	normalized := encoded
	if isSegwitVersion(version) {
		checksum := chainhash.DoubleHashB(decoded[:serializedKeyLen])[:checksumLen]
		if !bytes.Equal(checksum, decoded[serializedKeyLen:]) {
			return nil, fmt.Errorf("%w: bad checksum", types.ErrInvalidKeyEncoding)
		}
		normalized = withVersion(decoded, network.LegacyPublicVersion)
	}

	key, err := hdkeychain.NewKeyFromString(normalized)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", types.ErrInvalidKeyEncoding, err)
	}
	if key.IsPrivate() {
		if key, err = key.Neuter(); err != nil {
			return nil, fmt.Errorf("%w: %s", types.ErrInvalidKeyEncoding, err)
		}
	}

	return &ExtendedKey{key: key, encoded: encoded, Version: version}, nil
}

func (k *ExtendedKey) String() string {
	return k.encoded
}

// PreferredStandard is the wallet standard suggested by the version tag,
// used when no standard shows any on-chain activity.
func (k *ExtendedKey) PreferredStandard() types.WalletStandard {
	switch k.Version {
	case network.SegwitPublicVersion, network.SegwitPrivateVersion:
		return types.BIP84
	case network.NestedSegwitPublicVersion, network.NestedSegwitPrivateVersion:
		return types.BIP49
	default:
		return types.LegacyElectrum
	}
}

// Derive walks the path one segment at a time using public derivation.
func (k *ExtendedKey) Derive(path string) (*hdkeychain.ExtendedKey, error) {
	indexes, err := ParsePath(path)
	if err != nil {
		return nil, err
	}

	key := k.key
	for _, index := range indexes {
		if key, err = key.Derive(index); err != nil {
			return nil, fmt.Errorf("failed to derive child %d of %s: %w", index, path, err)
		}
	}
	return key, nil
}

func isSegwitVersion(version [4]byte) bool {
	switch version {
	case network.SegwitPublicVersion, network.SegwitPrivateVersion,
		network.NestedSegwitPublicVersion, network.NestedSegwitPrivateVersion:
		return true
	}
	return false
}

// withVersion replaces the version tag of a decoded key and re-encodes it
// with a fresh checksum.
func withVersion(decoded []byte, version [4]byte) string {
	payload := bytes.Clone(decoded[:serializedKeyLen])
	if payload[45] == 0x00 {
		// private key data, keep the matching private version
		version = network.LegacyPrivateVersion
	}
	copy(payload[:4], version[:])

	checksum := chainhash.DoubleHashB(payload)[:checksumLen]
	return base58.Encode(append(payload, checksum...))
}
