package scanner

import (
	"context"

	"github.com/doichain/go-sdk/internal/utils"
	"github.com/doichain/go-sdk/types"
)

// ScanAddress queries a single address. The address is reported as the next
// unused receive and change address whether it was used or not.
func (s *Scanner) ScanAddress(ctx context.Context, address string) (*types.ScanResult, error) {
	script, err := utils.ToOutputScript(address, s.net)
	if err != nil {
		return nil, err
	}

	derived := types.DerivedAddress{
		Address:    address,
		ScriptType: utils.ScriptTypeOf(script),
	}
	result := types.NewScanResult()
	result.NextUnusedReceiveAddress = &derived
	result.NextUnusedChangeAddress = &derived

	outcome := s.queryAddress(ctx, derived)
	s.publish(outcome, 1, 1)
	if outcome.err != nil {
		return result, outcome.err
	}

	path := newPathResult(types.LegacyElectrum, types.ReceiveBranch)
	path.record(outcome)
	result.Addresses = path.Addresses
	result.Utxos = path.Utxos
	result.History = path.History
	result.Balances = path.Balances
	return result, nil
}
