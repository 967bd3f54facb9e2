package ledger

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// BalanceTracker maintains in-memory account balances. Counterparty
// accounts go negative, so balances are signed.
// Not thread-safe: only the executor goroutine touches it.
type BalanceTracker struct {
	balances map[AccountKey]decimal.Decimal
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances: make(map[AccountKey]decimal.Decimal),
	}
}

// ApplyJournal applies a single journal entry to balances
func (bt *BalanceTracker) ApplyJournal(j Journal) {
	amt := decimal.NewFromBigInt(j.Amount.ToBig(), 0)
	bt.balances[j.DebitAccount] = bt.balances[j.DebitAccount].Add(amt)
	bt.balances[j.CreditAccount] = bt.balances[j.CreditAccount].Sub(amt)
}

// ApplyBatch applies all journals in a batch
func (bt *BalanceTracker) ApplyBatch(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}
	for _, j := range batch.Journals {
		bt.ApplyJournal(j)
	}
	return nil
}

// GetBalance returns the current balance for an account
func (bt *BalanceTracker) GetBalance(key AccountKey) decimal.Decimal {
	return bt.balances[key]
}

// SetBalance overwrites one balance (snapshot restore).
func (bt *BalanceTracker) SetBalance(key AccountKey, balance decimal.Decimal) {
	bt.balances[key] = balance
}

// GetStrategyBalance returns the booked amount of one position leg.
func (bt *BalanceTracker) GetStrategyBalance(owner common.Address, subType AccountSubType, asset common.Address) decimal.Decimal {
	return bt.GetBalance(NewStrategyAccountKey(owner, subType, asset))
}

// ValidateNonNegative checks that a specific account balance is >= 0
func (bt *BalanceTracker) ValidateNonNegative(key AccountKey) error {
	if balance := bt.GetBalance(key); balance.IsNegative() {
		return fmt.Errorf("account %s has negative balance: %s", key.AccountPath(), balance)
	}
	return nil
}

// ComputeGlobalBalance sums all account balances per asset (zero for a
// consistent ledger).
func (bt *BalanceTracker) ComputeGlobalBalance() map[common.Address]decimal.Decimal {
	totals := make(map[common.Address]decimal.Decimal)
	for key, balance := range bt.balances {
		totals[key.Asset] = totals[key.Asset].Add(balance)
	}
	return totals
}

// Snapshot returns a copy of all balances (for state hashing)
func (bt *BalanceTracker) Snapshot() map[AccountKey]decimal.Decimal {
	snapshot := make(map[AccountKey]decimal.Decimal, len(bt.balances))
	for k, v := range bt.balances {
		snapshot[k] = v
	}
	return snapshot
}
