// Package scanner discovers the addresses, unspent outputs and history
// controlled by an extended public key by walking its derivation paths and
// querying a remote indexer for each derived address.
package scanner

import (
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/doichain/go-sdk/derivation"
	"github.com/doichain/go-sdk/internal/utils"
	"github.com/doichain/go-sdk/types"
)

const (
	DefaultGapLimit     = 20
	DefaultBatchSize    = 10
	DefaultMinBatchSize = 5
	DefaultMaxBatchSize = 20

	// activityLookahead is how far past the last used index the scan window
	// is extended, on top of the gap limit.
	activityLookahead = 10
	batchSizeStep     = 5
	shrinkBelowRatio  = 0.8
	growAboveRatio    = 0.9
)

// Scanner walks derivation paths against a ChainQuery.
type Scanner struct {
	query types.ChainQuery
	net   *chaincfg.Params

	gapLimit     int
	batchSize    int
	minBatchSize int
	maxBatchSize int

	events *utils.Broadcaster[ScanEvent]
}

func NewScanner(query types.ChainQuery, net *chaincfg.Params, opts ...Option) *Scanner {
	s := &Scanner{
		query:        query,
		net:          net,
		gapLimit:     DefaultGapLimit,
		batchSize:    DefaultBatchSize,
		minBatchSize: DefaultMinBatchSize,
		maxBatchSize: DefaultMaxBatchSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.minBatchSize <= 0 {
		s.minBatchSize = 1
	}
	if s.maxBatchSize < s.minBatchSize {
		s.maxBatchSize = s.minBatchSize
	}
	s.batchSize = clamp(s.batchSize, s.minBatchSize, s.maxBatchSize)
	return s
}

// PathRequest describes one branch of one wallet standard to scan.
type PathRequest struct {
	Key      *derivation.ExtendedKey
	Standard types.WalletStandard
	Branch   types.Branch
	// Limit is the initial scan window. 1 turns the scan into a probe of
	// index 0 only. 0 means the gap limit.
	Limit int
	// GapLimit and BatchSize override the scanner defaults when positive.
	GapLimit  int
	BatchSize int
}

// PathResult is the outcome of scanning one branch. Addresses holds only
// the addresses that have on-chain activity. The utxos carry the owner
// address script; the script actually locking each output is only known
// once its transaction is fetched (see Classifier.ResolveUtxos).
type PathResult struct {
	Standard    types.WalletStandard
	Branch      types.Branch
	Addresses   []types.DerivedAddress
	Utxos       []types.Utxo
	History     []types.HistoryEntry
	Balances    map[string]types.Balance
	FirstUnused *types.DerivedAddress
	HasActivity bool
	// Queried counts the addresses whose remote queries succeeded.
	Queried int
	// Failed counts the addresses excluded because a query failed.
	Failed int
}

// Inconclusive reports that the branch showed no activity while some of its
// addresses could not be queried, so activity may have been missed.
func (r *PathResult) Inconclusive() bool {
	return r.Failed > 0 && !r.HasActivity
}

func newPathResult(standard types.WalletStandard, branch types.Branch) *PathResult {
	return &PathResult{
		Standard:  standard,
		Branch:    branch,
		Addresses: make([]types.DerivedAddress, 0),
		Utxos:     make([]types.Utxo, 0),
		History:   make([]types.HistoryEntry, 0),
		Balances:  make(map[string]types.Balance),
	}
}

// ScanEvent is published for every address whose queries completed, or
// failed. Batch numbers the batch of the path scan the address belonged to,
// starting at 1, and BatchSize is the size of that batch.
type ScanEvent struct {
	Address   types.DerivedAddress
	Used      bool
	Err       error
	Batch     int
	BatchSize int
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}
