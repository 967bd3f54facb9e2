package strategy

import (
	"fmt"

	fpmath "LevFarm/internal/math"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// unwind removes the fraction frac (1e18 = all) of the pool tokens and of
// both debts. Surplus shorts are sold for want and deficits are bought with
// want, drawing on collateral only when idle want runs out. With
// withdrawCollateral the same fraction of collateral is returned as idle
// want, otherwise collateral is left in place (less anything drawn to cover
// deficits). The short/short pair is never traded, so the residual position
// keeps its ratios.
func (s *Strategy) unwind(frac *uint256.Int, withdrawCollateral bool) error {
	if frac.IsZero() {
		return nil
	}
	wad := fpmath.Wad()
	full := frac.Cmp(wad) >= 0
	addr := s.cfg.Address

	collateral := s.market.SupplyBalance(addr, s.cfg.Want)
	collateralSlice := new(uint256.Int)
	if withdrawCollateral {
		collateralSlice = fpmath.MulWad(collateral, frac)
		if full {
			collateralSlice = collateral
		}
	}

	lpOut := s.poolTokens()
	if !full {
		lpOut = fpmath.MulWad(lpOut, frac)
	}
	if err := s.removeLiquidity(lpOut); err != nil {
		return err
	}

	drawn := new(uint256.Int)
	for _, short := range []common.Address{s.cfg.ShortA, s.cfg.ShortB} {
		debt := s.market.BorrowBalance(addr, short)
		repay := debt
		if !full {
			repay = fpmath.MulWad(debt, frac)
		}
		pay := fpmath.Min(repay, s.bank.BalanceOf(short, addr))
		if err := s.market.Repay(addr, short, pay); err != nil {
			return fmt.Errorf("repay: %w", err)
		}
		if err := s.sellShort(short); err != nil {
			return err
		}
		if deficit := new(uint256.Int).Sub(repay, pay); !deficit.IsZero() {
			used, err := s.coverDeficit(short, deficit)
			if err != nil {
				return err
			}
			drawn.Add(drawn, used)
		}
	}

	if rest := fpmath.SubFloor(collateralSlice, drawn); !rest.IsZero() {
		rest = fpmath.Min(rest, s.market.SupplyBalance(addr, s.cfg.Want))
		if err := s.market.WithdrawCollateral(addr, s.cfg.Want, rest); err != nil {
			return insufficientLiquidity("withdraw collateral", err)
		}
	}
	return nil
}

// removeLiquidity unstakes what is needed and burns amount pool tokens.
// Amounts too small to redeem anything are left alone.
func (s *Strategy) removeLiquidity(amount *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}
	lpA, lpB, err := s.lpShares()
	if err != nil {
		return err
	}
	held := s.poolTokens()
	if fpmath.ProRata(amount, lpA, held).IsZero() || fpmath.ProRata(amount, lpB, held).IsZero() {
		return nil
	}
	loose := s.bank.BalanceOf(s.lp, s.cfg.Address)
	if loose.Lt(amount) {
		if err := s.unstake(new(uint256.Int).Sub(amount, loose)); err != nil {
			return err
		}
	}
	if _, _, err := s.amm.RemoveLiquidity(s.cfg.Address, s.cfg.ShortA, s.cfg.ShortB, amount); err != nil {
		return insufficientLiquidity("remove liquidity", err)
	}
	return nil
}

// unstake dispatches on the declared farm flavour.
func (s *Strategy) unstake(amount *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}
	var err error
	switch s.cfg.FarmKind {
	case FarmRecipient:
		err = s.farm.(RecipientUnstaker).Withdraw(s.cfg.Address, s.cfg.FarmPID, amount, s.cfg.Address)
	default:
		err = s.farm.(Unstaker).Withdraw(s.cfg.Address, s.cfg.FarmPID, amount)
	}
	if err != nil {
		return insufficientLiquidity("unstake", err)
	}
	return nil
}

// stakeLoose stakes every loose pool token.
func (s *Strategy) stakeLoose() error {
	loose := s.bank.BalanceOf(s.lp, s.cfg.Address)
	if loose.IsZero() {
		return nil
	}
	if err := s.farm.Deposit(s.cfg.Address, s.cfg.FarmPID, loose); err != nil {
		return fmt.Errorf("stake: %w", err)
	}
	return nil
}

// sellShort swaps any loose balance of short for want. Balances too small
// to quote are kept.
func (s *Strategy) sellShort(short common.Address) error {
	bal := s.bank.BalanceOf(short, s.cfg.Address)
	if bal.IsZero() {
		return nil
	}
	path := []common.Address{short, s.cfg.Want}
	amounts, err := s.amm.GetAmountsOut(bal, path)
	if err != nil || amounts[len(amounts)-1].IsZero() {
		return nil
	}
	if _, err := s.amm.SwapExactTokensForTokens(s.cfg.Address, bal, new(uint256.Int), path); err != nil {
		return insufficientLiquidity("sell short", err)
	}
	return nil
}

// coverDeficit buys deficit of short with want and repays it. It returns
// how much collateral had to be withdrawn to fund the purchase.
func (s *Strategy) coverDeficit(short common.Address, deficit *uint256.Int) (*uint256.Int, error) {
	addr := s.cfg.Address
	path := []common.Address{s.cfg.Want, short}
	amounts, err := s.amm.GetAmountsIn(deficit, path)
	if err != nil {
		return nil, insufficientLiquidity("quote deficit", err)
	}
	cost := amounts[0]
	drawn := new(uint256.Int)
	if idle := s.idleWant(); idle.Lt(cost) {
		drawn.Sub(cost, idle)
		if s.market.SupplyBalance(addr, s.cfg.Want).Lt(drawn) {
			return nil, fmt.Errorf("%w: deficit of %s needs %s want", ErrInsufficientLiquidity, deficit.Dec(), cost.Dec())
		}
		if err := s.market.WithdrawCollateral(addr, s.cfg.Want, drawn); err != nil {
			return nil, insufficientLiquidity("withdraw for deficit", err)
		}
	}
	if _, err := s.amm.SwapTokensForExactTokens(addr, deficit, cost, path); err != nil {
		return nil, insufficientLiquidity("buy deficit", err)
	}
	if err := s.market.Repay(addr, short, deficit); err != nil {
		return nil, fmt.Errorf("repay deficit: %w", err)
	}
	return drawn, nil
}

// supplyIdle moves all idle want into collateral.
func (s *Strategy) supplyIdle() error {
	idle := s.idleWant()
	if idle.IsZero() {
		return nil
	}
	if err := s.market.Supply(s.cfg.Address, s.cfg.Want, idle); err != nil {
		return fmt.Errorf("supply: %w", err)
	}
	return nil
}
