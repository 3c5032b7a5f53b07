package network_test

import (
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/doichain/go-sdk/network"
	"github.com/stretchr/testify/require"
)

func TestFromString(t *testing.T) {
	tests := []struct {
		name     string
		expected *chaincfg.Params
	}{
		{"doichain", &network.Doichain},
		{"  Doichain-Mainnet ", &network.Doichain},
		{"", &network.Doichain},
		{"doichain-regtest", &network.Regtest},
		{"regtest", &network.Regtest},
		{"bitcoin", &chaincfg.MainNetParams},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params, err := network.FromString(tt.name)
			require.NoError(t, err)
			require.Equal(t, tt.expected.Name, params.Name)
		})
	}

	_, err := network.FromString("litecoin")
	require.Error(t, err)

	for _, name := range network.Names() {
		_, err := network.FromString(name)
		require.NoError(t, err)
	}
}

func TestAddressPrefixes(t *testing.T) {
	pkHash := make([]byte, 20)

	segwit, err := btcutil.NewAddressWitnessPubKeyHash(pkHash, &network.Doichain)
	require.NoError(t, err)
	require.Equal(t, "dc1q", segwit.EncodeAddress()[:4])

	decoded, err := btcutil.DecodeAddress(segwit.EncodeAddress(), &network.Doichain)
	require.NoError(t, err)
	require.True(t, decoded.IsForNet(&network.Doichain))

	legacy, err := btcutil.NewAddressPubKeyHash(pkHash, &network.Doichain)
	require.NoError(t, err)
	require.Equal(t, "MvaNCeVyvP6ZXYFWGpKaDX9ujEQ418F7sm", legacy.EncodeAddress())

	require.False(t, decoded.IsForNet(&network.Regtest))
}
