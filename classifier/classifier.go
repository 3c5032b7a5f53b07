// Package classifier turns the raw history of a set of owned addresses into
// signed per-input and per-output wallet entries, decoding name operations
// along the way.
package classifier

import (
	"context"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
	"github.com/doichain/go-sdk/internal/utils"
	"github.com/doichain/go-sdk/nameop"
	"github.com/doichain/go-sdk/types"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const fetchConcurrency = 8

type Option func(*Classifier)

// WithUnconfirmedFirst puts mempool entries before confirmed ones instead
// of after them.
func WithUnconfirmedFirst(unconfirmedFirst bool) Option {
	return func(c *Classifier) {
		c.unconfirmedFirst = unconfirmedFirst
	}
}

type Classifier struct {
	query            types.ChainQuery
	net              *chaincfg.Params
	unconfirmedFirst bool
}

func NewClassifier(query types.ChainQuery, net *chaincfg.Params, opts ...Option) *Classifier {
	c := &Classifier{query: query, net: net}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type fetchedTx struct {
	tx        *wire.MsgTx
	blockTime int64
}

// txCache memoises decoded transactions for the duration of one Classify
// or ClassifyScan call, so a transaction spent by several inputs is fetched once.
type txCache struct {
	query types.ChainQuery
	mu    sync.Mutex
	txs   map[string]fetchedTx
}

func (c *txCache) get(ctx context.Context, txid string) (fetchedTx, error) {
	c.mu.Lock()
	cached, ok := c.txs[txid]
	c.mu.Unlock()
	if ok {
		return cached, nil
	}

	raw, err := c.query.GetTransaction(ctx, txid)
	if err != nil {
		return fetchedTx{}, types.RemoteQueryError{Address: txid, Method: "transaction.get", Err: err}
	}
	tx, err := utils.DecodeTx(raw.Hex)
	if err != nil {
		return fetchedTx{}, fmt.Errorf("tx %s: %w", txid, err)
	}

	fetched := fetchedTx{tx: tx, blockTime: raw.BlockTime}
	c.mu.Lock()
	c.txs[txid] = fetched
	c.mu.Unlock()
	return fetched, nil
}

// Classify fetches every transaction of the history and emits one entry per
// owned input (negative value) and per owned output (positive value).
// Transactions that cannot be fetched are logged and skipped.
//
// The result is sorted by block time, newest first. Unconfirmed entries go
// last unless WithUnconfirmedFirst is set.
func (c *Classifier) Classify(
	ctx context.Context,
	history []types.HistoryEntry,
	owned map[string]struct{},
	utxos []types.Utxo,
) ([]types.ClassifiedTransaction, error) {
	return c.classify(ctx, c.newCache(), history, owned, utxos)
}

// ClassifyScan classifies the history of a scan and then resolves the
// locking script of each of its utxos, which the scan only knows as the
// owner address script. Resolving reuses the transactions fetched for the
// classification.
func (c *Classifier) ClassifyScan(
	ctx context.Context, scan *types.ScanResult,
) ([]types.ClassifiedTransaction, error) {
	cache := c.newCache()
	txs, err := c.classify(ctx, cache, scan.History, scan.OwnedAddresses(), scan.Utxos)
	if err != nil {
		return nil, err
	}
	if err := c.resolveUtxos(ctx, cache, scan.Utxos); err != nil {
		return nil, err
	}
	return txs, nil
}

// ResolveUtxos replaces the script of every utxo with the one actually
// locking the output, so that name outputs are told apart from plain ones.
// Utxos whose transaction cannot be fetched keep their script.
func (c *Classifier) ResolveUtxos(ctx context.Context, utxos []types.Utxo) error {
	return c.resolveUtxos(ctx, c.newCache(), utxos)
}

func (c *Classifier) newCache() *txCache {
	return &txCache{query: c.query, txs: make(map[string]fetchedTx)}
}

func (c *Classifier) resolveUtxos(ctx context.Context, cache *txCache, utxos []types.Utxo) error {
	g := new(errgroup.Group)
	g.SetLimit(fetchConcurrency)
	for i := range utxos {
		g.Go(func() error {
			u := &utxos[i]
			fetched, err := cache.get(ctx, u.TxHash)
			if err != nil {
				log.WithError(err).WithField("outpoint", u.Outpoint()).
					Warn("classifier: keeping owner script of utxo")
				return nil
			}
			if int(u.OutputIndex) >= len(fetched.tx.TxOut) {
				log.WithField("outpoint", u.Outpoint()).
					Warn("classifier: utxo index out of range of its transaction")
				return nil
			}
			pkScript := fetched.tx.TxOut[u.OutputIndex].PkScript
			u.ScriptPubKeyHex = hex.EncodeToString(pkScript)
			u.ScriptType = utils.ScriptTypeOf(pkScript)
			return nil
		})
	}
	// nolint:errcheck
	g.Wait()
	return ctx.Err()
}

func (c *Classifier) classify(
	ctx context.Context,
	cache *txCache,
	history []types.HistoryEntry,
	owned map[string]struct{},
	utxos []types.Utxo,
) ([]types.ClassifiedTransaction, error) {
	entries := uniqueHistory(history)
	fetched := make([]*fetchedTx, len(entries))

	g := new(errgroup.Group)
	g.SetLimit(fetchConcurrency)
	for i, entry := range entries {
		g.Go(func() error {
			tx, err := cache.get(ctx, entry.TxHash)
			if err != nil {
				log.WithError(err).WithField("txid", entry.TxHash).
					Warn("classifier: skipping transaction")
				return nil
			}
			fetched[i] = &tx
			return nil
		})
	}
	// nolint:errcheck
	g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	unspent := make(map[types.Outpoint]struct{}, len(utxos))
	for _, u := range utxos {
		unspent[u.Outpoint()] = struct{}{}
	}

	result := make([]types.ClassifiedTransaction, 0)
	for i, entry := range entries {
		if fetched[i] == nil {
			continue
		}
		txs, err := c.classifyTx(ctx, cache, entry, *fetched[i], owned, unspent)
		if err != nil {
			return nil, err
		}
		result = append(result, txs...)
	}

	c.sort(result)
	return result, nil
}

func (c *Classifier) classifyTx(
	ctx context.Context,
	cache *txCache,
	entry types.HistoryEntry,
	fetched fetchedTx,
	owned map[string]struct{},
	unspent map[types.Outpoint]struct{},
) ([]types.ClassifiedTransaction, error) {
	tx := fetched.tx
	txid := tx.TxHash().String()
	if entry.TxHash != "" {
		txid = entry.TxHash
	}

	result := make([]types.ClassifiedTransaction, 0)

	if !blockchain.IsCoinBaseTx(tx) {
		for i, in := range tx.TxIn {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			prevTxid := in.PreviousOutPoint.Hash.String()
			prev, err := cache.get(ctx, prevTxid)
			if err != nil {
				log.WithError(err).WithField("txid", prevTxid).
					Warn("classifier: skipping input, previous tx unavailable")
				continue
			}
			prevIndex := in.PreviousOutPoint.Index
			if int(prevIndex) >= len(prev.tx.TxOut) {
				continue
			}
			prevOut := prev.tx.TxOut[prevIndex]

			addr, _, ok := c.outputAddress(prevOut.PkScript)
			if !ok {
				continue
			}
			if _, mine := owned[addr]; !mine {
				continue
			}
			result = append(result, types.ClassifiedTransaction{
				ID:          fmt.Sprintf("%s_in_%d", txid, i),
				Txid:        txid,
				Direction:   types.DirectionInput,
				Value:       -prevOut.Value,
				Address:     addr,
				OutputIndex: prevIndex,
				BlockTime:   fetched.blockTime,
				Height:      entry.Height,
			})
		}
	}

	for i, out := range tx.TxOut {
		addr, name, ok := c.outputAddress(out.PkScript)
		if !ok {
			continue
		}
		if _, mine := owned[addr]; !mine {
			continue
		}

		// nolint:gosec
		vout := uint32(i)
		_, isUnspent := unspent[types.Outpoint{Txid: txid, VOut: vout}]
		classified := types.ClassifiedTransaction{
			ID:          fmt.Sprintf("%s_out_%d", txid, i),
			Txid:        txid,
			Direction:   types.DirectionOutput,
			Value:       out.Value,
			Address:     addr,
			OutputIndex: vout,
			IsUnspent:   isUnspent,
			BlockTime:   fetched.blockTime,
			Height:      entry.Height,
		}
		if name != nil {
			classified.NameID = name.Name
			classified.NameValue = name.Value
		}
		result = append(result, classified)
	}

	return result, nil
}

// outputAddress returns the address an output pays to. Name operation
// prefixes are decoded and stripped first.
func (c *Classifier) outputAddress(pkScript []byte) (string, *nameop.Script, bool) {
	script := pkScript
	name, isName := nameop.Parse(pkScript)
	if isName {
		script = name.OwnerScript
	} else {
		name = nil
	}

	addr, ok := utils.AddressFromScript(script, c.net)
	if !ok {
		return "", nil, false
	}
	return addr, name, true
}

func (c *Classifier) sort(txs []types.ClassifiedTransaction) {
	sort.SliceStable(txs, func(i, j int) bool {
		a, b := txs[i], txs[j]
		aPending, bPending := a.BlockTime == 0, b.BlockTime == 0
		if aPending != bPending {
			if c.unconfirmedFirst {
				return aPending
			}
			return bPending
		}
		if a.BlockTime != b.BlockTime {
			return a.BlockTime > b.BlockTime
		}
		return a.ID < b.ID
	})
}

func uniqueHistory(history []types.HistoryEntry) []types.HistoryEntry {
	seen := make(map[string]int, len(history))
	unique := make([]types.HistoryEntry, 0, len(history))
	for _, entry := range history {
		if idx, ok := seen[entry.TxHash]; ok {
			// prefer the confirmed height if the servers disagree
			unique[idx].Height = max(unique[idx].Height, entry.Height)
			continue
		}
		seen[entry.TxHash] = len(unique)
		unique = append(unique, entry)
	}
	return unique
}

// ExtractNameOperations returns the name operations found in owned outputs.
func ExtractNameOperations(txs []types.ClassifiedTransaction) []types.NameOperation {
	ops := make([]types.NameOperation, 0)
	for _, tx := range txs {
		if tx.Direction != types.DirectionOutput || !tx.HasName() {
			continue
		}
		op := types.NameOperation{
			Txid:         tx.Txid,
			Vout:         tx.OutputIndex,
			Name:         tx.NameID,
			Value:        tx.NameValue,
			OwnerAddress: tx.Address,
			Height:       tx.Height,
		}
		if tx.Height > 0 {
			op.ExpiresAt = tx.Height + types.NameExpirationDepth
		}
		ops = append(ops, op)
	}
	return ops
}
