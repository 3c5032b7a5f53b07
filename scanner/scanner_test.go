package scanner_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/doichain/go-sdk/derivation"
	"github.com/doichain/go-sdk/internal/utils"
	"github.com/doichain/go-sdk/network"
	"github.com/doichain/go-sdk/scanner"
	"github.com/doichain/go-sdk/types"
	"github.com/stretchr/testify/require"
)

var net = &network.Doichain

type mockChain struct {
	mu            sync.Mutex
	history       map[string][]types.HistoryEntry
	utxos         map[string][]types.UnspentOutput
	failing       map[string]bool
	failOnce      map[string]int
	failBalance   map[string]bool
	historyCalls  map[string]int
	queriedHashes []string
}

func newMockChain() *mockChain {
	return &mockChain{
		history:      make(map[string][]types.HistoryEntry),
		utxos:        make(map[string][]types.UnspentOutput),
		failing:      make(map[string]bool),
		failOnce:     make(map[string]int),
		failBalance:  make(map[string]bool),
		historyCalls: make(map[string]int),
	}
}

func (m *mockChain) ListUnspent(_ context.Context, sh string) ([]types.UnspentOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing[sh] {
		return nil, errors.New("server busy")
	}
	if m.failOnce[sh] > 0 {
		m.failOnce[sh]--
		return nil, errors.New("connection reset")
	}
	return m.utxos[sh], nil
}

func (m *mockChain) GetHistory(_ context.Context, sh string) ([]types.HistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.historyCalls[sh] == 0 {
		m.queriedHashes = append(m.queriedHashes, sh)
	}
	m.historyCalls[sh]++
	return m.history[sh], nil
}

func (m *mockChain) GetBalance(_ context.Context, sh string) (types.Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failBalance[sh] {
		return types.Balance{}, errors.New("balance unavailable")
	}
	var balance types.Balance
	for _, u := range m.utxos[sh] {
		if u.Height > 0 {
			balance.Confirmed += u.Value
		} else {
			balance.Unconfirmed += u.Value
		}
	}
	return balance, nil
}

func (m *mockChain) GetTransaction(context.Context, string) (*types.RawTransaction, error) {
	return nil, errors.New("not implemented")
}

func (m *mockChain) Broadcast(context.Context, string) (string, error) {
	return "", errors.New("not implemented")
}

func (m *mockChain) Close() {}

func (m *mockChain) queried() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queriedHashes)
}

func testKey(t *testing.T, version [4]byte) (*derivation.ExtendedKey, string) {
	t.Helper()
	master, err := hdkeychain.NewMaster(bytes.Repeat([]byte{0x07}, 32), net)
	require.NoError(t, err)
	neutered, err := master.Neuter()
	require.NoError(t, err)
	versioned, err := neutered.CloneWithVersion(version[:])
	require.NoError(t, err)

	encoded := versioned.String()
	key, err := derivation.ParseExtendedKey(encoded)
	require.NoError(t, err)
	return key, encoded
}

func scriptHashAt(
	t *testing.T, key *derivation.ExtendedKey, standard types.WalletStandard, branch types.Branch, index uint32,
) string {
	t.Helper()
	addr, err := key.DeriveAddress(standard, branch, index, net)
	require.NoError(t, err)
	sh, err := utils.AddressScriptHash(addr.Address, net)
	require.NoError(t, err)
	return sh
}

func (m *mockChain) fund(sh string, value int64, height int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	txid := fmt.Sprintf("%064x", len(m.history)+1)
	m.history[sh] = append(m.history[sh], types.HistoryEntry{TxHash: txid, Height: height})
	m.utxos[sh] = append(m.utxos[sh], types.UnspentOutput{
		TxHash: txid, OutputIndex: 0, Value: value, Height: height,
	})
}

func TestScanPathGapLimit(t *testing.T) {
	key, _ := testKey(t, network.LegacyPublicVersion)
	chain := newMockChain()
	for i := uint32(0); i < 3; i++ {
		chain.fund(scriptHashAt(t, key, types.LegacyElectrum, types.ReceiveBranch, i), 1000, 10)
	}

	svc := scanner.NewScanner(chain, net)
	res, err := svc.ScanPath(context.Background(), scanner.PathRequest{
		Key:      key,
		Standard: types.LegacyElectrum,
		Branch:   types.ReceiveBranch,
	})
	require.NoError(t, err)

	require.True(t, res.HasActivity)
	require.Len(t, res.Addresses, 3)
	require.Len(t, res.Utxos, 3)
	require.Len(t, res.Balances, 3)
	require.NotNil(t, res.FirstUnused)
	require.Equal(t, uint32(3), res.FirstUnused.Index)

	// indexes 0 through 22: three used plus twenty unused
	require.Equal(t, 23, res.Queried)
	require.Equal(t, 23, chain.queried())
	for i := uint32(0); i <= 22; i++ {
		sh := scriptHashAt(t, key, types.LegacyElectrum, types.ReceiveBranch, i)
		require.Equal(t, 1, chain.historyCalls[sh], "index %d", i)
	}
	sh := scriptHashAt(t, key, types.LegacyElectrum, types.ReceiveBranch, 23)
	require.Zero(t, chain.historyCalls[sh])
}

func TestScanPathProbe(t *testing.T) {
	key, _ := testKey(t, network.LegacyPublicVersion)

	t.Run("with activity", func(t *testing.T) {
		chain := newMockChain()
		chain.fund(scriptHashAt(t, key, types.BIP84, types.ReceiveBranch, 0), 1000, 10)
		chain.fund(scriptHashAt(t, key, types.BIP84, types.ReceiveBranch, 1), 1000, 10)

		res, err := scanner.NewScanner(chain, net).ScanPath(context.Background(), scanner.PathRequest{
			Key:      key,
			Standard: types.BIP84,
			Branch:   types.ReceiveBranch,
			Limit:    1,
		})
		require.NoError(t, err)
		require.True(t, res.HasActivity)
		require.Equal(t, 1, chain.queried())
		require.Equal(t, 1, res.Queried)
	})

	t.Run("without activity", func(t *testing.T) {
		chain := newMockChain()
		res, err := scanner.NewScanner(chain, net).ScanPath(context.Background(), scanner.PathRequest{
			Key:      key,
			Standard: types.BIP84,
			Branch:   types.ChangeBranch,
			Limit:    1,
		})
		require.NoError(t, err)
		require.False(t, res.HasActivity)
		require.Equal(t, 1, chain.queried())
		require.Equal(t, uint32(0), res.FirstUnused.Index)
		require.Equal(t, types.ChangeBranch, res.FirstUnused.Branch)
	})
}

func TestScanPathFailures(t *testing.T) {
	key, _ := testKey(t, network.LegacyPublicVersion)

	t.Run("failed address is excluded", func(t *testing.T) {
		chain := newMockChain()
		chain.fund(scriptHashAt(t, key, types.LegacyElectrum, types.ReceiveBranch, 0), 1000, 10)
		chain.failing[scriptHashAt(t, key, types.LegacyElectrum, types.ReceiveBranch, 1)] = true

		res, err := scanner.NewScanner(chain, net).ScanPath(context.Background(), scanner.PathRequest{
			Key:      key,
			Standard: types.LegacyElectrum,
			Branch:   types.ReceiveBranch,
		})
		require.NoError(t, err)
		require.Equal(t, 1, res.Failed)
		require.Equal(t, 21, res.Queried)
		require.Equal(t, uint32(2), res.FirstUnused.Index)
		require.Len(t, res.Addresses, 1)
	})

	t.Run("balance failure is tolerated", func(t *testing.T) {
		chain := newMockChain()
		sh := scriptHashAt(t, key, types.LegacyElectrum, types.ReceiveBranch, 0)
		chain.fund(sh, 1000, 10)
		chain.failBalance[sh] = true

		res, err := scanner.NewScanner(chain, net).ScanPath(context.Background(), scanner.PathRequest{
			Key:      key,
			Standard: types.LegacyElectrum,
			Branch:   types.ReceiveBranch,
		})
		require.NoError(t, err)
		require.Zero(t, res.Failed)
		require.Len(t, res.Addresses, 1)
		require.Len(t, res.Utxos, 1)
		require.Equal(t, types.Balance{}, res.Balances[res.Addresses[0].Address])
	})

	t.Run("canceled context returns partial result", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		res, err := scanner.NewScanner(newMockChain(), net).ScanPath(ctx, scanner.PathRequest{
			Key:      key,
			Standard: types.LegacyElectrum,
			Branch:   types.ReceiveBranch,
		})
		require.ErrorIs(t, err, context.Canceled)
		require.NotNil(t, res)
		require.Empty(t, res.Addresses)
	})
}

func TestScanExtendedKey(t *testing.T) {
	t.Run("single used legacy address", func(t *testing.T) {
		key, xpub := testKey(t, network.LegacyPublicVersion)
		chain := newMockChain()
		chain.fund(scriptHashAt(t, key, types.LegacyElectrum, types.ReceiveBranch, 0), 5000, 12)

		res, err := scanner.NewScanner(chain, net).ScanExtendedKey(context.Background(), xpub)
		require.NoError(t, err)

		require.Equal(t, []types.WalletStandard{types.LegacyElectrum}, res.StandardsWithActivity)
		require.Len(t, res.Addresses, 1)
		require.Len(t, res.History, 1)
		require.Len(t, res.Utxos, 1)
		require.Equal(t, res.Addresses[0].Address, res.Utxos[0].OwnerAddress)
		require.Equal(t, types.P2PKH, res.Utxos[0].ScriptType)
		require.Equal(t, int64(5000), res.TotalBalance().Confirmed)

		require.Equal(t, types.LegacyElectrum, res.NextUnusedReceiveAddress.Standard)
		require.Equal(t, types.ReceiveBranch, res.NextUnusedReceiveAddress.Branch)
		require.Equal(t, uint32(1), res.NextUnusedReceiveAddress.Index)
		require.Equal(t, types.ChangeBranch, res.NextUnusedChangeAddress.Branch)
		require.Equal(t, uint32(0), res.NextUnusedChangeAddress.Index)
		require.Equal(t, "m/1/0", res.NextUnusedChangeAddress.Path)
	})

	t.Run("multiple standards aggregate", func(t *testing.T) {
		key, xpub := testKey(t, network.LegacyPublicVersion)
		chain := newMockChain()
		chain.fund(scriptHashAt(t, key, types.LegacyElectrum, types.ReceiveBranch, 0), 1000, 10)
		chain.fund(scriptHashAt(t, key, types.BIP84, types.ReceiveBranch, 0), 2000, 11)
		chain.fund(scriptHashAt(t, key, types.BIP84, types.ReceiveBranch, 1), 3000, 0)

		res, err := scanner.NewScanner(chain, net).ScanExtendedKey(context.Background(), xpub)
		require.NoError(t, err)

		require.Equal(
			t, []types.WalletStandard{types.LegacyElectrum, types.BIP84}, res.StandardsWithActivity,
		)
		require.Len(t, res.Addresses, 3)
		require.Len(t, res.Utxos, 3)
		require.Len(t, res.Balances, 3)
		require.Equal(t, types.Balance{Confirmed: 3000, Unconfirmed: 3000}, res.TotalBalance())

		// first writer wins: legacy is probed before bip84
		require.Equal(t, types.LegacyElectrum, res.NextUnusedReceiveAddress.Standard)
		require.Equal(t, uint32(1), res.NextUnusedReceiveAddress.Index)
		require.Equal(t, types.LegacyElectrum, res.NextUnusedChangeAddress.Standard)
	})

	t.Run("no activity falls back to preferred standard", func(t *testing.T) {
		_, zpub := testKey(t, network.SegwitPublicVersion)
		chain := newMockChain()

		res, err := scanner.NewScanner(chain, net).ScanExtendedKey(context.Background(), zpub)
		require.NoError(t, err)
		require.Empty(t, res.StandardsWithActivity)
		require.Empty(t, res.Addresses)
		// probe only: every standard and branch at index 0
		require.Equal(t, 2*len(types.WalletStandards), chain.queried())

		require.Equal(t, types.BIP84, res.NextUnusedReceiveAddress.Standard)
		require.Equal(t, uint32(0), res.NextUnusedReceiveAddress.Index)
		require.Equal(t, types.P2WPKH, res.NextUnusedReceiveAddress.ScriptType)
		require.Equal(t, types.ChangeBranch, res.NextUnusedChangeAddress.Branch)
	})

	t.Run("failed first query still finds activity", func(t *testing.T) {
		tests := []struct {
			name      string
			permanent bool
			addresses int
			confirmed int64
		}{
			{name: "transient failure", addresses: 2, confirmed: 12_000_000},
			{name: "permanent failure", permanent: true, addresses: 1, confirmed: 7_000_000},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				key, xpub := testKey(t, network.LegacyPublicVersion)
				chain := newMockChain()
				first := scriptHashAt(t, key, types.BIP84, types.ReceiveBranch, 0)
				chain.fund(first, 5_000_000, 10)
				chain.fund(scriptHashAt(t, key, types.BIP84, types.ReceiveBranch, 1), 7_000_000, 10)
				if tt.permanent {
					chain.failing[first] = true
				} else {
					chain.failOnce[first] = 1
				}

				res, err := scanner.NewScanner(chain, net).ScanExtendedKey(context.Background(), xpub)
				require.NoError(t, err)

				require.Equal(t, []types.WalletStandard{types.BIP84}, res.StandardsWithActivity)
				require.Len(t, res.Addresses, tt.addresses)
				require.Len(t, res.Utxos, tt.addresses)
				require.Equal(t, tt.confirmed, res.TotalBalance().Confirmed)

				require.Equal(t, types.BIP84, res.NextUnusedReceiveAddress.Standard)
				require.Equal(t, uint32(2), res.NextUnusedReceiveAddress.Index)
				require.Equal(t, types.BIP84, res.NextUnusedChangeAddress.Standard)
				require.Equal(t, uint32(0), res.NextUnusedChangeAddress.Index)
			})
		}
	})

	t.Run("failed first query of an unused standard", func(t *testing.T) {
		key, xpub := testKey(t, network.LegacyPublicVersion)
		chain := newMockChain()
		chain.failOnce[scriptHashAt(t, key, types.LegacyElectrum, types.ReceiveBranch, 0)] = 1

		res, err := scanner.NewScanner(chain, net).ScanExtendedKey(context.Background(), xpub)
		require.NoError(t, err)
		require.Empty(t, res.StandardsWithActivity)
		require.Empty(t, res.Addresses)

		// the deep scan of the standard went past index 0
		sh := scriptHashAt(t, key, types.LegacyElectrum, types.ReceiveBranch, 1)
		require.Equal(t, 1, chain.historyCalls[sh])

		require.Equal(t, key.PreferredStandard(), res.NextUnusedReceiveAddress.Standard)
		require.Equal(t, uint32(0), res.NextUnusedReceiveAddress.Index)
	})

	t.Run("invalid key", func(t *testing.T) {
		_, err := scanner.NewScanner(newMockChain(), net).ScanExtendedKey(context.Background(), "xpub123")
		require.ErrorIs(t, err, types.ErrInvalidKeyEncoding)
	})
}

func TestScanEvents(t *testing.T) {
	key, _ := testKey(t, network.LegacyPublicVersion)
	chain := newMockChain()
	chain.fund(scriptHashAt(t, key, types.LegacyElectrum, types.ReceiveBranch, 0), 1000, 10)

	events := utils.NewBroadcaster[scanner.ScanEvent]()
	ch := events.Subscribe(64)

	svc := scanner.NewScanner(chain, net, scanner.WithEvents(events), scanner.WithGapLimit(5))
	_, err := svc.ScanPath(context.Background(), scanner.PathRequest{
		Key:      key,
		Standard: types.LegacyElectrum,
		Branch:   types.ReceiveBranch,
	})
	require.NoError(t, err)
	events.Close()

	received := make([]scanner.ScanEvent, 0)
	for ev := range ch {
		received = append(received, ev)
	}
	require.Len(t, received, 6)
	require.True(t, received[0].Used)
	require.False(t, received[5].Used)
}

func TestScanPathBatchSizing(t *testing.T) {
	key, _ := testKey(t, network.LegacyPublicVersion)

	tests := []struct {
		name      string
		opts      []scanner.Option
		failing   []uint32
		sizes     []int
		failed    int
		queried   int
		firstFree uint32
	}{
		{
			name:    "grows up to the ceiling",
			opts:    []scanner.Option{scanner.WithGapLimit(80)},
			sizes:   []int{10, 15, 20, 20, 15},
			queried: 80,
		},
		{
			name:      "shrinks down to the floor and keeps scanning",
			failing:   []uint32{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14},
			sizes:     []int{10, 5, 5},
			failed:    15,
			queried:   5,
			firstFree: 15,
		},
		{
			name:      "ninety percent keeps the size",
			failing:   []uint32{3},
			sizes:     []int{10, 10},
			failed:    1,
			queried:   19,
			firstFree: 0,
		},
		{
			name:    "shrinks below eighty percent",
			opts:    []scanner.Option{scanner.WithGapLimit(40), scanner.WithBatchSize(20)},
			failing: []uint32{0, 1, 2, 3, 4},
			sizes:   []int{20, 15, 5},
			failed:  5,
			queried: 35,
			// indexes 0 to 4 failed
			firstFree: 5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chain := newMockChain()
			for _, index := range tt.failing {
				chain.failing[scriptHashAt(t, key, types.LegacyElectrum, types.ReceiveBranch, index)] = true
			}

			events := utils.NewBroadcaster[scanner.ScanEvent]()
			ch := events.Subscribe(256)
			opts := append([]scanner.Option{scanner.WithEvents(events)}, tt.opts...)

			res, err := scanner.NewScanner(chain, net, opts...).ScanPath(
				context.Background(), scanner.PathRequest{
					Key:      key,
					Standard: types.LegacyElectrum,
					Branch:   types.ReceiveBranch,
				},
			)
			require.NoError(t, err)
			events.Close()

			require.Equal(t, tt.failed, res.Failed)
			require.Equal(t, tt.queried, res.Queried)
			require.NotNil(t, res.FirstUnused)
			require.Equal(t, tt.firstFree, res.FirstUnused.Index)

			sizes := make([]int, 0)
			perBatch := make(map[int]int)
			for ev := range ch {
				if ev.Batch > len(sizes) {
					sizes = append(sizes, ev.BatchSize)
				}
				perBatch[ev.Batch]++
			}
			require.Equal(t, tt.sizes, sizes)
			for i, size := range sizes {
				require.Equal(t, size, perBatch[i+1], "batch %d", i+1)
			}
		})
	}
}

func TestScanPathDerivationFailure(t *testing.T) {
	master, err := hdkeychain.NewMaster(bytes.Repeat([]byte{0x07}, 32), net)
	require.NoError(t, err)
	pubkey, err := master.ECPubKey()
	require.NoError(t, err)

	// children of a key at the maximum depth cannot be derived
	deepest := hdkeychain.NewExtendedKey(
		network.LegacyPublicVersion[:], pubkey.SerializeCompressed(), master.ChainCode(),
		[]byte{0, 0, 0, 0}, 255, 0, false,
	)
	key, err := derivation.ParseExtendedKey(deepest.String())
	require.NoError(t, err)

	events := utils.NewBroadcaster[scanner.ScanEvent]()
	ch := events.Subscribe(64)

	chain := newMockChain()
	svc := scanner.NewScanner(chain, net, scanner.WithEvents(events), scanner.WithGapLimit(5))
	res, err := svc.ScanPath(context.Background(), scanner.PathRequest{
		Key:      key,
		Standard: types.LegacyElectrum,
		Branch:   types.ReceiveBranch,
	})
	require.NoError(t, err)
	events.Close()

	require.Equal(t, 5, res.Failed)
	require.Zero(t, res.Queried)
	require.Empty(t, res.Addresses)
	require.Nil(t, res.FirstUnused)
	require.True(t, res.Inconclusive())
	require.Zero(t, chain.queried())

	indexes := make([]uint32, 0)
	for ev := range ch {
		require.Error(t, ev.Err)
		require.False(t, ev.Used)
		require.Equal(t, fmt.Sprintf("m/0/%d", ev.Address.Index), ev.Address.Path)
		indexes = append(indexes, ev.Address.Index)
	}
	require.Equal(t, []uint32{0, 1, 2, 3, 4}, indexes)
}
