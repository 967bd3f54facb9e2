package strategy

import (
	"fmt"

	fpmath "LevFarm/internal/math"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// freeWant unwinds the share of the position worth need in want, returning
// it as idle want.
func (s *Strategy) freeWant(need *uint256.Int) error {
	if need.IsZero() {
		return nil
	}
	eta, err := s.estimatedTotalAssets()
	if err != nil {
		return err
	}
	posValue := fpmath.SubFloor(eta, s.idleWant())
	if posValue.IsZero() {
		return nil
	}
	if err := s.guard.Check(); err != nil {
		return err
	}
	frac := fpmath.Wad()
	if need.Lt(posValue) {
		frac = fpmath.MulDivRound(need, fpmath.Wad(), posValue, fpmath.RoundUp)
	}
	return s.unwind(frac, true)
}

// liquidatePosition frees want for a withdrawal of amount. When the vault
// carries more debt than the strategy is worth, the request is scaled down
// to the strategy's value and the difference booked as loss, so every
// withdrawer shares an unrealized loss pro rata.
func (s *Strategy) liquidatePosition(amount *uint256.Int) (liquidated, loss *uint256.Int, err error) {
	loss = new(uint256.Int)
	if amount.IsZero() {
		return new(uint256.Int), loss, nil
	}
	eta, err := s.estimatedTotalAssets()
	if err != nil {
		return nil, nil, err
	}
	want := new(uint256.Int).Set(amount)
	if totalDebt := s.vault.TotalDebt(s.cfg.Address); totalDebt.Gt(eta) {
		want = fpmath.MulDiv(amount, eta, totalDebt)
		loss = new(uint256.Int).Sub(amount, want)
	}

	if idle := s.idleWant(); idle.Lt(want) {
		if err := s.freeWant(new(uint256.Int).Sub(want, idle)); err != nil {
			return nil, nil, err
		}
	}

	liquidated = s.idleWant()
	if new(uint256.Int).Add(liquidated, loss).Gt(amount) {
		liquidated = new(uint256.Int).Sub(amount, loss)
	} else {
		loss = new(uint256.Int).Sub(amount, liquidated)
	}
	return liquidated, loss, nil
}

// LiquidatePosition frees up to amount of want for the vault, leaving it
// idle in the strategy.
func (s *Strategy) LiquidatePosition(from common.Address, amount *uint256.Int) (liquidated, loss *uint256.Int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.authorize(from, RoleVault); err != nil {
		return nil, nil, err
	}
	err = s.atomic("liquidate_position", func() error {
		liquidated, loss, err = s.liquidatePosition(amount)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return liquidated, loss, nil
}

// LiquidatePositionAuth is LiquidatePosition for governance and management.
func (s *Strategy) LiquidatePositionAuth(from common.Address, amount *uint256.Int) (liquidated, loss *uint256.Int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.authorize(from, RoleManagement, RoleGovernance); err != nil {
		return nil, nil, err
	}
	err = s.atomic("liquidate_position_auth", func() error {
		liquidated, loss, err = s.liquidatePosition(amount)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return liquidated, loss, nil
}

// Withdraw frees amount for the vault and sends it over. It fails with an
// *ExcessiveLossError, leaving everything untouched, when the loss exceeds
// maxLossBps of amount.
func (s *Strategy) Withdraw(from common.Address, amount *uint256.Int, maxLossBps uint64) (*uint256.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.authorize(from, RoleVault); err != nil {
		return nil, err
	}
	var loss *uint256.Int
	err := s.atomic("withdraw", func() error {
		liquidated, l, err := s.liquidatePosition(amount)
		if err != nil {
			return err
		}
		if lossExceeds(l, amount, maxLossBps) {
			return &ExcessiveLossError{Requested: amount, Loss: l, MaxLossBps: maxLossBps}
		}
		if err := s.bank.Transfer(s.cfg.Want, s.cfg.Address, s.vault.Address(), liquidated); err != nil {
			return fmt.Errorf("pay vault: %w", err)
		}
		loss = l
		return nil
	})
	if err != nil {
		return nil, err
	}
	return loss, nil
}

// lossExceeds reports loss*10000 > maxLossBps*amount.
func lossExceeds(loss, amount *uint256.Int, maxLossBps uint64) bool {
	lhs := new(uint256.Int).Mul(loss, fpmath.Bps())
	rhs := new(uint256.Int).Mul(amount, uint256.NewInt(maxLossBps))
	return lhs.Gt(rhs)
}
