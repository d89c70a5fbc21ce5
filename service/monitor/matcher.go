package monitor

import "github.com/brojonat/coinwatch/service/chain"

// Match selects the single transaction from txns that satisfies target, or
// nil if none qualifies. It is pure: no side effects, deterministic for
// identical inputs.
//
// A transaction qualifies when all of the following hold:
//   - it pays target.Address
//   - if target.Memo is set, its memo matches exactly (a transaction without
//     a memo never matches a memo-bearing target)
//   - if target.ExpectedAmount is set, its amount is >= the expected amount
//   - it has at least target.MinConfirmations confirmations
//   - its id is not already in seen
//
// When several qualify, the one with the earliest block time wins (first
// valid payment), with ties broken by lexical id order for determinism.
func Match(txns []chain.Transaction, target Target, seen map[string]struct{}) *chain.Transaction {
	var best *chain.Transaction
	for i := range txns {
		tx := &txns[i]
		if tx.ToAddress != target.Address {
			continue
		}
		if target.Memo != nil {
			if tx.Memo == nil || *tx.Memo != *target.Memo {
				continue
			}
		}
		if target.ExpectedAmount != nil && tx.Amount < *target.ExpectedAmount {
			continue
		}
		if tx.Confirmations < target.MinConfirmations {
			continue
		}
		if _, ok := seen[tx.ID]; ok {
			continue
		}
		if best == nil || tx.BlockTime.Before(best.BlockTime) ||
			(tx.BlockTime.Equal(best.BlockTime) && tx.ID < best.ID) {
			best = tx
		}
	}
	if best == nil {
		return nil
	}
	// Copy so callers cannot mutate the input slice through the result.
	match := *best
	return &match
}
