package types

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const (
	InMemoryStore = "inmemory"
	KVStore       = "kv"

	// NameExpirationDepth is the number of blocks after which a name
	// registration expires unless it is updated.
	NameExpirationDepth = 36000

	// SatoshisPerCoin is the number of base units in one coin.
	SatoshisPerCoin = 100_000_000
)

type Config struct {
	Network           string
	ExplorerURL       string
	Datadir           string
	StoreType         string
	GapLimit          int
	BatchSize         int
	MinBatchSize      int
	MaxBatchSize      int
	StorageFee        int64
	UnconfirmedFirst  bool
	RequestsPerSecond int
	PublishRetry      RetryConfig
}

type RetryConfig struct {
	MaxAttempts int
	Delay       time.Duration
}

// ScriptType is the output script template an address is derived for.
type ScriptType string

const (
	P2PKH       ScriptType = "p2pkh"
	P2WPKH      ScriptType = "p2wpkh"
	P2SHP2WPKH  ScriptType = "p2sh-p2wpkh"
	NonStandard ScriptType = "nonstandard"
)

// Branch is the last-but-one path segment: 0 for receiving, 1 for change.
type Branch uint32

const (
	ReceiveBranch Branch = 0
	ChangeBranch  Branch = 1
)

func (b Branch) String() string {
	if b == ChangeBranch {
		return "change"
	}
	return "receive"
}

// WalletStandard identifies the derivation convention a wallet used to
// produce its addresses from an extended key.
type WalletStandard int

const (
	LegacyElectrum WalletStandard = iota
	SegwitElectrum
	BIP49
	BIP84
)

// WalletStandards lists every supported standard in probe order. The order
// decides which standard wins when more than one shows activity.
var WalletStandards = []WalletStandard{LegacyElectrum, SegwitElectrum, BIP49, BIP84}

func (s WalletStandard) String() string {
	return map[WalletStandard]string{
		LegacyElectrum: "electrum-legacy",
		SegwitElectrum: "electrum-segwit",
		BIP49:          "bip49",
		BIP84:          "bip84",
	}[s]
}

// BasePath is the path, relative to the supplied extended key, under which
// the receive and change branches live. Hardened markers are stripped at
// derivation time.
func (s WalletStandard) BasePath() string {
	if s == SegwitElectrum {
		return "m/0'"
	}
	return "m"
}

// BranchPath returns the base path extended with the given branch.
func (s WalletStandard) BranchPath(branch Branch) string {
	return fmt.Sprintf("%s/%d", s.BasePath(), branch)
}

type DerivedAddress struct {
	Path       string
	Standard   WalletStandard
	Branch     Branch
	Index      uint32
	Address    string
	ScriptType ScriptType
}

func (a DerivedAddress) String() string {
	return fmt.Sprintf("%s (%s %s)", a.Address, a.Standard, a.Path)
}

type Outpoint struct {
	Txid string
	VOut uint32
}

func (v Outpoint) String() string {
	return fmt.Sprintf("%s:%d", v.Txid, v.VOut)
}

// Utxo is the canonical unspent output record used across the module.
type Utxo struct {
	TxHash          string
	OutputIndex     uint32
	Value           int64
	OwnerAddress    string
	ScriptPubKeyHex string
	ScriptType      ScriptType
	// Height is 0 while the funding transaction sits in the mempool.
	Height int64
}

func (u Utxo) Outpoint() Outpoint {
	return Outpoint{Txid: u.TxHash, VOut: u.OutputIndex}
}

func (u Utxo) IsConfirmed() bool {
	return u.Height > 0
}

// ExpiresAt returns the height at which a name held by this output expires.
func (u Utxo) ExpiresAt() int64 {
	if !u.IsConfirmed() {
		return 0
	}
	return u.Height + NameExpirationDepth
}

// SpendableUtxo is a Utxo enriched with the raw funding transaction, which
// legacy inputs need for signing.
type SpendableUtxo struct {
	Utxo
	PrevTxHex string
}

// UnspentOutput is an unspent output as reported by the remote indexer.
type UnspentOutput struct {
	TxHash      string
	OutputIndex uint32
	Value       int64
	Height      int64
}

type HistoryEntry struct {
	TxHash string
	Height int64
}

type Balance struct {
	Confirmed   int64
	Unconfirmed int64
}

func (b Balance) Total() int64 {
	return b.Confirmed + b.Unconfirmed
}

// RawTransaction is a transaction as returned by the remote indexer.
type RawTransaction struct {
	Txid          string
	Hex           string
	BlockTime     int64
	Confirmations int64
}

type Direction string

const (
	DirectionInput  Direction = "input"
	DirectionOutput Direction = "output"
)

type ClassifiedTransaction struct {
	ID          string
	Txid        string
	Direction   Direction
	Value       int64
	Address     string
	OutputIndex uint32
	IsUnspent   bool
	NameID      string
	NameValue   string
	BlockTime   int64
	Height      int64
}

func (t ClassifiedTransaction) String() string {
	// nolint
	b, _ := json.MarshalIndent(t, "", "  ")
	return string(b)
}

func (t ClassifiedTransaction) HasName() bool {
	return t.NameID != ""
}

func (t ClassifiedTransaction) CreatedAt() time.Time {
	if t.BlockTime == 0 {
		return time.Time{}
	}
	return time.Unix(t.BlockTime, 0)
}

type NameOperation struct {
	Txid         string
	Vout         uint32
	Name         string
	Value        string
	OwnerAddress string
	Height       int64
	ExpiresAt    int64
}

func (n NameOperation) IsExpired(tipHeight int64) bool {
	return n.ExpiresAt > 0 && tipHeight >= n.ExpiresAt
}

type ScanResult struct {
	Addresses                []DerivedAddress
	// Utxos carry the owner address script until the classifier resolves them.
	Utxos                    []Utxo
	History                  []HistoryEntry
	Balances                 map[string]Balance
	StandardsWithActivity    []WalletStandard
	NextUnusedReceiveAddress *DerivedAddress
	NextUnusedChangeAddress  *DerivedAddress
}

func NewScanResult() *ScanResult {
	return &ScanResult{
		Addresses: make([]DerivedAddress, 0),
		Utxos:     make([]Utxo, 0),
		History:   make([]HistoryEntry, 0),
		Balances:  make(map[string]Balance),
	}
}

// OwnedAddresses returns the set of address strings found by the scan.
func (r *ScanResult) OwnedAddresses() map[string]struct{} {
	owned := make(map[string]struct{}, len(r.Addresses))
	for _, a := range r.Addresses {
		owned[a.Address] = struct{}{}
	}
	return owned
}

func (r *ScanResult) TotalBalance() Balance {
	var total Balance
	for _, b := range r.Balances {
		total.Confirmed += b.Confirmed
		total.Unconfirmed += b.Unconfirmed
	}
	return total
}

type TxInput struct {
	Outpoint
	Value   int64
	Witness bool
}

type TxOutput struct {
	Address string
	Script  string
	Value   int64
}

// UnsignedTransactionTemplate is a built, not yet signed transaction.
type UnsignedTransactionTemplate struct {
	Psbt        string
	Inputs      []TxInput
	Outputs     []TxOutput
	Version     int32
	TotalInput  int64
	TotalOutput int64
	Fee         int64
	Change      int64
	// MaxFeeRate is the ceiling, in sat/vB, the template was validated against.
	// Zero means no ceiling was applied.
	MaxFeeRate int64
}

// SatsToCoins converts a satoshi amount to its coin denomination.
func SatsToCoins(sats int64) decimal.Decimal {
	return decimal.NewFromInt(sats).Shift(-8)
}

// CoinsToSats converts a coin amount into satoshis, rounding to the nearest unit.
func CoinsToSats(coins decimal.Decimal) int64 {
	return coins.Shift(8).Round(0).IntPart()
}
