package strategy

import (
	"fmt"

	fpmath "LevFarm/internal/math"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// maxCollateralSteps bounds the correction loop of RebalanceCollateral.
const maxCollateralSteps = 3

// collateralTolerance is the accepted distance from target, 1/100 of it.
const collateralTolerance = 100

// debtValue is the oracle value of both borrows in USD.
func (s *Strategy) debtValue() (*uint256.Int, error) {
	addr := s.cfg.Address
	va, err := s.usdValue(s.cfg.ShortA, s.market.BorrowBalance(addr, s.cfg.ShortA))
	if err != nil {
		return nil, err
	}
	vb, err := s.usdValue(s.cfg.ShortB, s.market.BorrowBalance(addr, s.cfg.ShortB))
	if err != nil {
		return nil, err
	}
	return va.Add(va, vb), nil
}

func (s *Strategy) collateralRatio() (uint64, error) {
	supplied := s.market.SupplyBalance(s.cfg.Address, s.cfg.Want)
	if supplied.IsZero() {
		return 0, nil
	}
	cv, err := s.usdValue(s.cfg.Want, supplied)
	if err != nil {
		return 0, err
	}
	dv, err := s.debtValue()
	if err != nil {
		return 0, err
	}
	return fpmath.RatioBps(dv, cv), nil
}

// CalcCollateral is borrowed value over collateral value in basis points.
func (s *Strategy) CalcCollateral() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.collateralRatio()
}

func nearTarget(ratio, target uint64) bool {
	diff := ratio - target
	if ratio < target {
		diff = target - ratio
	}
	return diff*collateralTolerance <= target
}

// RebalanceCollateral restores the collateral ratio to target when it has
// left its band.
func (s *Strategy) RebalanceCollateral(from common.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.authorize(from, keepers...); err != nil {
		return err
	}
	return s.atomic("rebalance_collateral", s.rebalanceCollateral)
}

func (s *Strategy) rebalanceCollateral() error {
	if s.market.SupplyBalance(s.cfg.Address, s.cfg.Want).IsZero() {
		return nil
	}
	ratio, err := s.collateralRatio()
	if err != nil {
		return err
	}
	if s.cfg.Collateral.Contains(ratio) {
		return nil
	}
	if err := s.guard.Check(); err != nil {
		return err
	}
	target := s.cfg.Collateral.Target
	for step := 0; step < maxCollateralSteps; step++ {
		ratio, err := s.collateralRatio()
		if err != nil {
			return err
		}
		if nearTarget(ratio, target) {
			return nil
		}
		if ratio > target {
			// Shrinking debt by 1 - target/ratio lands on target when the
			// settlement leaves collateral unchanged.
			frac := fpmath.MulDivRound(uint256.NewInt(ratio-target), fpmath.Wad(), uint256.NewInt(ratio), fpmath.RoundUp)
			if err := s.unwind(frac, false); err != nil {
				return fmt.Errorf("deleverage: %w", err)
			}
			if err := s.supplyIdle(); err != nil {
				return err
			}
			continue
		}
		if err := s.lever(); err != nil {
			return fmt.Errorf("leverage: %w", err)
		}
	}
	return nil
}

// lever borrows both shorts up to the collateral target, split at the short
// pair's reserve ratio, and stakes the resulting pool tokens.
func (s *Strategy) lever() error {
	addr := s.cfg.Address
	supplied := s.market.SupplyBalance(addr, s.cfg.Want)
	cv, err := s.usdValue(s.cfg.Want, supplied)
	if err != nil {
		return err
	}
	dv, err := s.debtValue()
	if err != nil {
		return err
	}
	goal := fpmath.ApplyBps(cv, s.cfg.Collateral.Target)
	if goal.Cmp(dv) > 0 {
		gap := new(uint256.Int).Sub(goal, dv)
		ra, rb, err := s.amm.GetReserves(s.cfg.ShortA, s.cfg.ShortB)
		if err != nil {
			return fmt.Errorf("short reserves: %w", err)
		}
		va, err := s.usdValue(s.cfg.ShortA, ra)
		if err != nil {
			return err
		}
		vb, err := s.usdValue(s.cfg.ShortB, rb)
		if err != nil {
			return err
		}
		depth := new(uint256.Int).Add(va, vb)
		borrowA := fpmath.MulDiv(gap, ra, depth)
		borrowB := fpmath.MulDiv(gap, rb, depth)
		if borrowA.IsZero() || borrowB.IsZero() {
			return nil
		}
		if err := s.market.Borrow(addr, s.cfg.ShortA, borrowA); err != nil {
			return insufficientLiquidity("borrow short a", err)
		}
		if err := s.market.Borrow(addr, s.cfg.ShortB, borrowB); err != nil {
			return insufficientLiquidity("borrow short b", err)
		}
	}
	return s.provideLiquidity()
}

// provideLiquidity pairs loose shorts in the pool and stakes the result.
func (s *Strategy) provideLiquidity() error {
	addr := s.cfg.Address
	a := s.bank.BalanceOf(s.cfg.ShortA, addr)
	b := s.bank.BalanceOf(s.cfg.ShortB, addr)
	if !a.IsZero() && !b.IsZero() {
		ra, rb, err := s.amm.GetReserves(s.cfg.ShortA, s.cfg.ShortB)
		if err != nil {
			return fmt.Errorf("short reserves: %w", err)
		}
		supply := s.amm.TotalSupply(s.lp)
		minted := fpmath.Min(fpmath.MulDiv(a, supply, ra), fpmath.MulDiv(b, supply, rb))
		if !minted.IsZero() {
			if _, _, _, err := s.amm.AddLiquidity(addr, s.cfg.ShortA, s.cfg.ShortB, a, b); err != nil {
				return insufficientLiquidity("add liquidity", err)
			}
		}
	}
	return s.stakeLoose()
}
