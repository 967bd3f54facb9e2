package strategy

import (
	"fmt"

	fpmath "LevFarm/internal/math"

	"github.com/ethereum/go-ethereum/common"
)

// debtRatios compares each borrow with the amount the pool tokens would
// redeem for at current reserves. 10000 means the position exactly covers
// the debt.
func (s *Strategy) debtRatios() (ratioA, ratioB uint64, err error) {
	lpA, lpB, err := s.lpShares()
	if err != nil {
		return 0, 0, err
	}
	addr := s.cfg.Address
	ratioA = fpmath.RatioBps(s.market.BorrowBalance(addr, s.cfg.ShortA), lpA)
	ratioB = fpmath.RatioBps(s.market.BorrowBalance(addr, s.cfg.ShortB), lpB)
	return ratioA, ratioB, nil
}

func (s *Strategy) CalcDebtRatioA() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, _, err := s.debtRatios()
	return a, err
}

func (s *Strategy) CalcDebtRatioB() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, b, err := s.debtRatios()
	return b, err
}

// RebalanceDebt brings both debt ratios back to 10000. It refuses to trade
// while the pool price disagrees with the reference.
func (s *Strategy) RebalanceDebt(from common.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.authorize(from, keepers...); err != nil {
		return err
	}
	return s.atomic("rebalance_debt", s.rebalanceDebt)
}

// rebalanceDebt closes the pool position against both borrows, settling
// the surplus and deficit through want, then re-levers at the current pool
// ratio. Collateral stays supplied throughout.
func (s *Strategy) rebalanceDebt() error {
	if err := s.guard.Check(); err != nil {
		return err
	}
	if err := s.unwind(fpmath.Wad(), false); err != nil {
		return fmt.Errorf("close pool position: %w", err)
	}
	if err := s.supplyIdle(); err != nil {
		return err
	}
	if err := s.lever(); err != nil {
		return fmt.Errorf("re-lever: %w", err)
	}
	return nil
}

func (s *Strategy) debtOutOfBand() (bool, error) {
	a, b, err := s.debtRatios()
	if err != nil {
		return false, err
	}
	if s.poolTokens().IsZero() {
		return false, nil
	}
	return !s.cfg.Debt.Contains(a) || !s.cfg.Debt.Contains(b), nil
}
