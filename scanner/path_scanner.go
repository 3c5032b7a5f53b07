package scanner

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/doichain/go-sdk/derivation"
	"github.com/doichain/go-sdk/internal/utils"
	"github.com/doichain/go-sdk/types"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// addressOutcome is what the remote indexer reported for one address.
type addressOutcome struct {
	address types.DerivedAddress
	script  []byte
	utxos   []types.UnspentOutput
	history []types.HistoryEntry
	balance types.Balance
	err     error
}

func (o addressOutcome) used() bool {
	return len(o.history) > 0 || len(o.utxos) > 0
}

// ScanPath walks one branch of a wallet standard in batches until the gap
// limit of consecutive unused addresses is reached or the scan window is
// exhausted. Activity extends the window, so a deep scan never stops short
// of gapLimit unused addresses past the last used one.
//
// Addresses that fail to derive or whose queries fail are logged and left
// out of the gap accounting. The batch size shrinks when fewer than 80% of
// a batch succeeded and grows when more than 90% did. If ctx is done the
// result accumulated so far is returned together with ctx.Err().
func (s *Scanner) ScanPath(ctx context.Context, req PathRequest) (*PathResult, error) {
	if req.Key == nil {
		return nil, fmt.Errorf("missing extended key")
	}

	gapLimit := s.gapLimit
	if req.GapLimit > 0 {
		gapLimit = req.GapLimit
	}
	batchSize := s.batchSize
	if req.BatchSize > 0 {
		batchSize = clamp(req.BatchSize, s.minBatchSize, s.maxBatchSize)
	}
	limit := req.Limit
	if limit <= 0 {
		limit = gapLimit
	}
	probe := limit == 1

	result := newPathResult(req.Standard, req.Branch)
	logger := log.WithFields(log.Fields{
		"standard": req.Standard,
		"branch":   req.Branch,
	})

	cursor, consecutiveUnused, batchNum := 0, 0, 0
	for cursor < limit && consecutiveUnused < gapLimit {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		size := min(batchSize, limit-cursor, gapLimit-consecutiveUnused)
		batchNum++

		outcomes := s.queryBatch(ctx, req, cursor, size)
		if err := ctx.Err(); err != nil {
			return result, err
		}

		succeeded := 0
		for _, outcome := range outcomes {
			s.publish(outcome, batchNum, size)

			if outcome.err != nil {
				result.Failed++
				logger.WithError(outcome.err).
					WithFields(log.Fields{
						"index":   outcome.address.Index,
						"address": outcome.address.Address,
					}).
					Warn("scanner: skipping address")
				continue
			}
			succeeded++
			result.Queried++

			if !outcome.used() {
				consecutiveUnused++
				if result.FirstUnused == nil {
					unused := outcome.address
					result.FirstUnused = &unused
				}
				continue
			}

			consecutiveUnused = 0
			result.HasActivity = true
			result.record(outcome)
			if !probe {
				limit = max(limit, int(outcome.address.Index)+gapLimit+activityLookahead)
			}
		}
		cursor += size

		ratio := float64(succeeded) / float64(size)
		switch {
		case ratio < shrinkBelowRatio:
			batchSize = max(s.minBatchSize, batchSize-batchSizeStep)
		case ratio > growAboveRatio:
			batchSize = min(s.maxBatchSize, batchSize+batchSizeStep)
		}
		logger.WithFields(log.Fields{
			"cursor":    cursor,
			"unused":    consecutiveUnused,
			"limit":     limit,
			"batchSize": batchSize,
		}).Debug("scanner: batch done")
	}

	return result, nil
}

// queryBatch derives and queries the size addresses starting at index start
// concurrently. Outcomes are returned in index order. A derivation failure
// is reported as the outcome of its index.
func (s *Scanner) queryBatch(ctx context.Context, req PathRequest, start, size int) []addressOutcome {
	outcomes := make([]addressOutcome, size)

	var g errgroup.Group
	for i := range size {
		g.Go(func() error {
			// nolint:gosec
			index := uint32(start + i)
			addr, err := req.Key.DeriveAddress(req.Standard, req.Branch, index, s.net)
			if err != nil {
				outcomes[i] = addressOutcome{
					address: types.DerivedAddress{
						Path:     derivation.JoinPath(req.Standard.BasePath(), uint32(req.Branch), index),
						Standard: req.Standard,
						Branch:   req.Branch,
						Index:    index,
					},
					err: fmt.Errorf("failed to derive address: %w", err),
				}
				return nil
			}
			outcomes[i] = s.queryAddress(ctx, addr)
			return nil
		})
	}
	// nolint:errcheck
	g.Wait()

	return outcomes
}

// queryAddress fetches utxos, history and balance of one address at once.
// A failed balance fetch is tolerated, the address then reports a zero
// balance.
func (s *Scanner) queryAddress(ctx context.Context, addr types.DerivedAddress) addressOutcome {
	outcome := addressOutcome{address: addr}

	script, err := utils.ToOutputScript(addr.Address, s.net)
	if err != nil {
		outcome.err = err
		return outcome
	}
	outcome.script = script
	scriptHash := utils.ScriptHash(script)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		utxos, err := s.query.ListUnspent(gctx, scriptHash)
		if err != nil {
			return types.RemoteQueryError{Address: addr.Address, Method: "listunspent", Err: err}
		}
		outcome.utxos = utxos
		return nil
	})
	g.Go(func() error {
		history, err := s.query.GetHistory(gctx, scriptHash)
		if err != nil {
			return types.RemoteQueryError{Address: addr.Address, Method: "get_history", Err: err}
		}
		outcome.history = history
		return nil
	})

	var balanceErr error
	g.Go(func() error {
		// Not tied to gctx: a failing sibling must not cancel the balance.
		balance, err := s.query.GetBalance(ctx, scriptHash)
		if err != nil {
			balanceErr = err
			return nil
		}
		outcome.balance = balance
		return nil
	})

	if err := g.Wait(); err != nil {
		outcome.err = err
		return outcome
	}
	if balanceErr != nil {
		log.WithError(balanceErr).WithField("address", addr.Address).
			Debug("scanner: balance unavailable")
	}
	return outcome
}

// record keeps a used address. Its utxos get the owner address script, name
// outputs included; the classifier swaps in the locking script later.
func (r *PathResult) record(outcome addressOutcome) {
	addr := outcome.address
	r.Addresses = append(r.Addresses, addr)
	r.History = append(r.History, outcome.history...)
	r.Balances[addr.Address] = outcome.balance

	scriptHex := hex.EncodeToString(outcome.script)
	for _, u := range outcome.utxos {
		r.Utxos = append(r.Utxos, types.Utxo{
			TxHash:          u.TxHash,
			OutputIndex:     u.OutputIndex,
			Value:           u.Value,
			OwnerAddress:    addr.Address,
			ScriptPubKeyHex: scriptHex,
			ScriptType:      addr.ScriptType,
			Height:          u.Height,
		})
	}
}

func (s *Scanner) publish(outcome addressOutcome, batch, batchSize int) {
	if s.events == nil {
		return
	}
	s.events.Publish(ScanEvent{
		Address:   outcome.address,
		Used:      outcome.err == nil && outcome.used(),
		Err:       outcome.err,
		Batch:     batch,
		BatchSize: batchSize,
	})
}
