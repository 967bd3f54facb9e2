package ledger

import (
	"fmt"

	"LevFarm/internal/strategy"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
	}
}

// ValidateBatchBalance verifies batch is well-formed and balanced
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	return batch.Validate()
}

// ValidateReconciled verifies the booked legs of owner equal pos.
func (v *InvariantValidator) ValidateReconciled(owner common.Address, assets Assets, pos strategy.Position) error {
	c := PositionChange{Strategy: owner, Assets: assets, After: pos}
	for _, l := range c.legs() {
		key := NewStrategyAccountKey(owner, l.subType, l.asset)
		if err := v.tracker.ValidateNonNegative(key); err != nil {
			return err
		}
		booked := v.tracker.GetBalance(key)
		want := decimal.NewFromBigInt(orZero(l.after).ToBig(), 0)
		if !booked.Equal(want) {
			return fmt.Errorf("account %s booked %s, position holds %s", key.AccountPath(), booked, want)
		}
	}
	return nil
}

// ValidateGlobalBalance verifies the ledger is zero-sum per asset
func (v *InvariantValidator) ValidateGlobalBalance() error {
	for asset, total := range v.tracker.ComputeGlobalBalance() {
		if !total.IsZero() {
			return fmt.Errorf("global balance for %s is non-zero: %s", asset.Hex(), total)
		}
	}
	return nil
}
