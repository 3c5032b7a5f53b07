package scanner

import (
	"context"

	"github.com/doichain/go-sdk/derivation"
	"github.com/doichain/go-sdk/types"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var branches = []types.Branch{types.ReceiveBranch, types.ChangeBranch}

// ScanExtendedKey discovers which wallet standards the key was used with
// and deep scans both branches of each of them.
//
// A first probe pass checks index 0 of every standard and branch. Only the
// standards with activity, or whose probe could not be completed, are deep
// scanned. Results are aggregated in standard order, and the next unused
// receive and change addresses come from the first standard that has one.
// When nothing shows activity the next unused addresses are index 0 of the
// standard the key's version tag suggests.
func (s *Scanner) ScanExtendedKey(ctx context.Context, xpub string) (*types.ScanResult, error) {
	key, err := derivation.ParseExtendedKey(xpub)
	if err != nil {
		return nil, err
	}
	return s.ScanKey(ctx, key)
}

func (s *Scanner) ScanKey(ctx context.Context, key *derivation.ExtendedKey) (*types.ScanResult, error) {
	result := types.NewScanResult()

	probed, err := s.probe(ctx, key)
	if err != nil {
		return result, err
	}

	active := make(map[types.WalletStandard]bool)
	for _, standard := range types.WalletStandards {
		status := probed[standard]
		if status == probeUnused {
			continue
		}

		// Both branches are scanned before merging: a standard probed as
		// inconclusive only counts if the deep scan finds activity.
		paths := make([]*PathResult, 0, len(branches))
		var scanErr error
		for _, branch := range branches {
			path, err := s.ScanPath(ctx, PathRequest{
				Key:      key,
				Standard: standard,
				Branch:   branch,
			})
			if path != nil {
				paths = append(paths, path)
				if path.HasActivity {
					active[standard] = true
				}
			}
			if err != nil {
				scanErr = err
				break
			}
		}
		if status == probeActive {
			active[standard] = true
		}

		if active[standard] {
			for _, path := range paths {
				merge(result, path)
			}
		} else {
			log.WithField("standard", standard).
				Warn("scanner: no activity found for standard whose probe failed")
		}
		if scanErr != nil {
			result.StandardsWithActivity = inOrder(active)
			return result, scanErr
		}
	}
	result.StandardsWithActivity = inOrder(active)

	if len(result.StandardsWithActivity) == 0 {
		if err := s.setDefaultNextUnused(result, key); err != nil {
			return result, err
		}
	}

	log.WithFields(log.Fields{
		"standards": len(result.StandardsWithActivity),
		"addresses": len(result.Addresses),
		"utxos":     len(result.Utxos),
	}).Debug("scanner: extended key scan done")
	return result, nil
}

type probeStatus int

const (
	probeUnused probeStatus = iota
	probeInconclusive
	probeActive
)

// probe scans index 0 of every standard and branch concurrently. A standard
// is active if either branch shows activity, and inconclusive if it is not
// active and a query of either branch failed.
func (s *Scanner) probe(
	ctx context.Context, key *derivation.ExtendedKey,
) (map[types.WalletStandard]probeStatus, error) {
	type slot struct {
		standard types.WalletStandard
		status   probeStatus
	}
	slots := make([]slot, len(types.WalletStandards)*len(branches))

	var g errgroup.Group
	for i, standard := range types.WalletStandards {
		for j, branch := range branches {
			idx := i*len(branches) + j
			slots[idx].standard = standard
			g.Go(func() error {
				res, err := s.ScanPath(ctx, PathRequest{
					Key:      key,
					Standard: standard,
					Branch:   branch,
					Limit:    1,
				})
				if err != nil {
					return err
				}
				switch {
				case res.HasActivity:
					slots[idx].status = probeActive
				case res.Inconclusive():
					slots[idx].status = probeInconclusive
				}
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	statuses := make(map[types.WalletStandard]probeStatus, len(types.WalletStandards))
	for _, sl := range slots {
		statuses[sl.standard] = max(statuses[sl.standard], sl.status)
	}
	return statuses, nil
}

func inOrder(active map[types.WalletStandard]bool) []types.WalletStandard {
	standards := make([]types.WalletStandard, 0, len(active))
	for _, standard := range types.WalletStandards {
		if active[standard] {
			standards = append(standards, standard)
		}
	}
	return standards
}

func merge(result *types.ScanResult, path *PathResult) {
	result.Addresses = append(result.Addresses, path.Addresses...)
	result.Utxos = append(result.Utxos, path.Utxos...)
	result.History = append(result.History, path.History...)
	for addr, balance := range path.Balances {
		result.Balances[addr] = balance
	}

	if path.FirstUnused == nil {
		return
	}
	switch path.Branch {
	case types.ReceiveBranch:
		if result.NextUnusedReceiveAddress == nil {
			result.NextUnusedReceiveAddress = path.FirstUnused
		}
	case types.ChangeBranch:
		if result.NextUnusedChangeAddress == nil {
			result.NextUnusedChangeAddress = path.FirstUnused
		}
	}
}

func (s *Scanner) setDefaultNextUnused(result *types.ScanResult, key *derivation.ExtendedKey) error {
	standard := key.PreferredStandard()

	receive, err := key.DeriveAddress(standard, types.ReceiveBranch, 0, s.net)
	if err != nil {
		return err
	}
	change, err := key.DeriveAddress(standard, types.ChangeBranch, 0, s.net)
	if err != nil {
		return err
	}
	result.NextUnusedReceiveAddress = &receive
	result.NextUnusedChangeAddress = &change
	return nil
}
