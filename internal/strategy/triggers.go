package strategy

import (
	fpmath "LevFarm/internal/math"

	"github.com/holiman/uint256"
)

// HarvestTrigger advises a keeper whether harvesting is worth callCost,
// denominated in want.
func (s *Strategy) HarvestTrigger(callCost *uint256.Int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	addr := s.cfg.Address
	totalDebt := s.vault.TotalDebt(addr)
	if s.vault.DebtRatio(addr) == 0 && totalDebt.IsZero() && !s.emergency {
		return false
	}

	since := s.clock.Now().Sub(s.vault.LastReport(addr))
	if since < s.cfg.MinReportDelay {
		return false
	}
	if since >= s.cfg.MaxReportDelay {
		return true
	}
	if s.vault.DebtOutstanding(addr).Gt(s.cfg.Dust) {
		return true
	}

	eta, err := s.estimatedTotalAssets()
	if err != nil {
		return false
	}
	if new(uint256.Int).Add(eta, s.cfg.Dust).Lt(totalDebt) {
		return true
	}

	upside := fpmath.SubFloor(eta, totalDebt)
	upside.Add(upside, s.vault.CreditAvailable(addr))
	upside.Add(upside, s.rewardValue())
	cost := new(uint256.Int).Mul(callCost, uint256.NewInt(s.cfg.ProfitFactor))
	return cost.Lt(upside)
}

// rewardValue quotes pending and held reward tokens in want.
func (s *Strategy) rewardValue() *uint256.Int {
	addr := s.cfg.Address
	amount := s.farm.PendingReward(s.cfg.FarmPID, addr)
	amount = new(uint256.Int).Add(amount, s.bank.BalanceOf(s.cfg.Reward, addr))
	if amount.IsZero() {
		return amount
	}
	amounts, err := s.amm.GetAmountsOut(amount, s.cfg.RewardPath)
	if err != nil {
		return new(uint256.Int)
	}
	return amounts[len(amounts)-1]
}

// TendTrigger reports whether a ratio has left its band while prices are
// trustworthy enough to act.
func (s *Strategy) TendTrigger(callCost *uint256.Int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.emergency {
		return false
	}
	out, err := s.debtOutOfBand()
	if err != nil {
		return false
	}
	if !out {
		ratio, err := s.collateralRatio()
		if err != nil || s.cfg.Collateral.Contains(ratio) || s.market.SupplyBalance(s.cfg.Address, s.cfg.Want).IsZero() {
			return false
		}
	}
	return s.guard.Check() == nil
}
