// Package network holds the chain parameters the wallet engine can target.
package network

import (
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
)

const (
	DoichainMainnet = "doichain"
	DoichainRegtest = "doichain-regtest"
	BitcoinMainnet  = "bitcoin"
)

var (
	// SegwitPublicVersion and SegwitPrivateVersion are the zpub/zprv
	// version tags of native segwit extended keys.
	SegwitPublicVersion  = [4]byte{0x04, 0xb2, 0x47, 0x46}
	SegwitPrivateVersion = [4]byte{0x04, 0xb2, 0x43, 0x0c}
	// NestedSegwitPublicVersion and NestedSegwitPrivateVersion are the
	// ypub/yprv version tags of BIP49 extended keys.
	NestedSegwitPublicVersion  = [4]byte{0x04, 0x9d, 0x7c, 0xb2}
	NestedSegwitPrivateVersion = [4]byte{0x04, 0x9d, 0x78, 0x78}
	// LegacyPublicVersion is the xpub tag every extended key is rewritten
	// to before derivation.
	LegacyPublicVersion  = [4]byte{0x04, 0x88, 0xb2, 0x1e}
	LegacyPrivateVersion = [4]byte{0x04, 0x88, 0xad, 0xe4}
)

// Doichain mainnet. The wire magic is only used to register the params with
// chaincfg, the engine never speaks the p2p protocol.
var Doichain = func() chaincfg.Params {
	params := chaincfg.MainNetParams
	params.Name = DoichainMainnet
	params.Net = wire.BitcoinNet(0xfeb4bef9)
	params.DefaultPort = "8338"
	params.DNSSeeds = nil
	params.Checkpoints = nil
	params.Bech32HRPSegwit = "dc"
	params.PubKeyHashAddrID = 0x34
	params.ScriptHashAddrID = 0x0d
	params.PrivateKeyID = 0xb4
	params.HDPrivateKeyID = LegacyPrivateVersion
	params.HDPublicKeyID = LegacyPublicVersion
	params.HDCoinType = 7
	return params
}()

var Regtest = func() chaincfg.Params {
	params := chaincfg.RegressionNetParams
	params.Name = DoichainRegtest
	params.Net = wire.BitcoinNet(0xdab5bffb)
	params.DefaultPort = "18445"
	params.DNSSeeds = nil
	params.Checkpoints = nil
	params.Bech32HRPSegwit = "dcrt"
	params.PubKeyHashAddrID = 0x6f
	params.ScriptHashAddrID = 0xc4
	params.PrivateKeyID = 0xef
	params.HDPrivateKeyID = [4]byte{0x04, 0x35, 0x83, 0x94}
	params.HDPublicKeyID = [4]byte{0x04, 0x35, 0x87, 0xcf}
	params.HDCoinType = 1
	return params
}()

func init() {
	for _, params := range []*chaincfg.Params{&Doichain, &Regtest} {
		if err := chaincfg.Register(params); err != nil {
			panic(fmt.Sprintf("failed to register %s params: %s", params.Name, err))
		}
	}
}

// FromString returns the chain params for the given network name.
func FromString(name string) (*chaincfg.Params, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case DoichainMainnet, "doichain-mainnet", "mainnet", "":
		return &Doichain, nil
	case DoichainRegtest, "regtest":
		return &Regtest, nil
	case BitcoinMainnet, "bitcoin-mainnet":
		return &chaincfg.MainNetParams, nil
	default:
		return nil, fmt.Errorf("unknown network %q", name)
	}
}

// Names lists the networks accepted by FromString.
func Names() []string {
	return []string{DoichainMainnet, DoichainRegtest, BitcoinMainnet}
}
