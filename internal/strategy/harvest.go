package strategy

import (
	"fmt"

	fpmath "LevFarm/internal/math"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// HarvestReport is what a harvest told the vault.
type HarvestReport struct {
	Gain            *uint256.Int `json:"gain"`
	Loss            *uint256.Int `json:"loss"`
	DebtPayment     *uint256.Int `json:"debt_payment"`
	DebtOutstanding *uint256.Int `json:"debt_outstanding"`
	Emergency       bool         `json:"emergency"`
}

// Harvest realizes rewards, reports gain or loss to the vault and resizes
// the position to the vault's allocation. Under emergency exit everything
// is unwound and returned.
func (s *Strategy) Harvest(from common.Address) (HarvestReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.authorize(from, append(keepers, RoleVault)...); err != nil {
		return HarvestReport{}, err
	}
	var report HarvestReport
	err := s.atomic("harvest", func() error {
		var err error
		report, err = s.harvest()
		return err
	})
	return report, err
}

func (s *Strategy) harvest() (HarvestReport, error) {
	addr := s.cfg.Address
	outstanding := s.vault.DebtOutstanding(addr)
	report := HarvestReport{Emergency: s.emergency}

	if err := s.claimRewards(); err != nil {
		return report, err
	}

	var gain, loss, payment *uint256.Int
	var err error
	if s.emergency {
		gain, loss, payment, err = s.exitPosition(outstanding)
	} else {
		gain, loss, payment, err = s.prepareReturn(outstanding)
	}
	if err != nil {
		return report, err
	}

	remaining, err := s.vault.Report(addr, gain, loss, payment)
	if err != nil {
		return report, fmt.Errorf("report: %w", err)
	}
	report.Gain, report.Loss, report.DebtPayment, report.DebtOutstanding = gain, loss, payment, remaining

	if err := s.adjustPosition(remaining); err != nil {
		return report, err
	}
	s.logger.Info().
		Str("gain", gain.Dec()).
		Str("loss", loss.Dec()).
		Str("debt_payment", payment.Dec()).
		Str("debt_outstanding", remaining.Dec()).
		Bool("emergency", s.emergency).
		Msg("harvest reported")
	return report, nil
}

// claimRewards collects farm rewards and swaps every reward token held into
// want along the reward path.
func (s *Strategy) claimRewards() error {
	addr := s.cfg.Address
	if !s.farm.Staked(s.cfg.FarmPID, addr).IsZero() || !s.farm.PendingReward(s.cfg.FarmPID, addr).IsZero() {
		if err := s.farm.Deposit(addr, s.cfg.FarmPID, new(uint256.Int)); err != nil {
			return fmt.Errorf("claim rewards: %w", err)
		}
	}
	bal := s.bank.BalanceOf(s.cfg.Reward, addr)
	if bal.IsZero() {
		return nil
	}
	amounts, err := s.amm.GetAmountsOut(bal, s.cfg.RewardPath)
	if err != nil || amounts[len(amounts)-1].IsZero() {
		return nil
	}
	if _, err := s.amm.SwapExactTokensForTokens(addr, bal, new(uint256.Int), s.cfg.RewardPath); err != nil {
		return fmt.Errorf("sell rewards: %w", err)
	}
	return nil
}

// prepareReturn measures profit against the vault's books and frees the
// profit plus what the vault wants back.
func (s *Strategy) prepareReturn(outstanding *uint256.Int) (gain, loss, payment *uint256.Int, err error) {
	eta, err := s.estimatedTotalAssets()
	if err != nil {
		return nil, nil, nil, err
	}
	totalDebt := s.vault.TotalDebt(s.cfg.Address)
	gain, loss = new(uint256.Int), new(uint256.Int)
	if eta.Gt(totalDebt) {
		gain = new(uint256.Int).Sub(eta, totalDebt)
	} else {
		loss = new(uint256.Int).Sub(totalDebt, eta)
	}

	toFree := new(uint256.Int).Add(gain, outstanding)
	if need := fpmath.SubFloor(toFree, s.idleWant()); !need.Lt(s.cfg.Dust) && !need.IsZero() {
		if err := s.freeWant(need); err != nil {
			return nil, nil, nil, fmt.Errorf("free %s: %w", need.Dec(), err)
		}
	}

	idle := s.idleWant()
	payment = fpmath.Min(outstanding, idle)
	gain = fpmath.Min(gain, new(uint256.Int).Sub(idle, payment))
	return gain, loss, payment, nil
}

// exitPosition unwinds everything and hands all want back as debt payment,
// booking the difference from what is owed as gain or loss.
func (s *Strategy) exitPosition(outstanding *uint256.Int) (gain, loss, payment *uint256.Int, err error) {
	if err := s.guard.Check(); err != nil {
		return nil, nil, nil, err
	}
	if err := s.unwind(fpmath.Wad(), true); err != nil {
		return nil, nil, nil, fmt.Errorf("exit position: %w", err)
	}
	freed := s.idleWant()
	gain, loss = new(uint256.Int), new(uint256.Int)
	if freed.Lt(outstanding) {
		loss = new(uint256.Int).Sub(outstanding, freed)
	} else {
		gain = new(uint256.Int).Sub(freed, outstanding)
	}
	payment = new(uint256.Int).Sub(outstanding, loss)
	return gain, loss, payment, nil
}

// adjustPosition deploys idle want beyond what the vault still wants back
// and brings the ratios back into their bands.
func (s *Strategy) adjustPosition(outstanding *uint256.Int) error {
	if s.emergency {
		return nil
	}
	excess := fpmath.SubFloor(s.idleWant(), outstanding)
	if !excess.IsZero() && !excess.Lt(s.cfg.Dust) {
		if err := s.guard.Check(); err != nil {
			return err
		}
		if err := s.market.Supply(s.cfg.Address, s.cfg.Want, excess); err != nil {
			return fmt.Errorf("supply: %w", err)
		}
		if err := s.lever(); err != nil {
			return fmt.Errorf("deploy: %w", err)
		}
	}
	return s.tend()
}

// Tend brings debt and collateral ratios back inside their bands.
func (s *Strategy) Tend(from common.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.authorize(from, keepers...); err != nil {
		return err
	}
	return s.atomic("tend", s.tend)
}

func (s *Strategy) tend() error {
	out, err := s.debtOutOfBand()
	if err != nil {
		return err
	}
	if out {
		if err := s.rebalanceDebt(); err != nil {
			return err
		}
	}
	return s.rebalanceCollateral()
}

// SetEmergencyExit makes every later harvest return all funds and revokes
// the strategy at the vault.
func (s *Strategy) SetEmergencyExit(from common.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.authorize(from, RoleManagement, RoleGovernance); err != nil {
		return err
	}
	return s.atomic("set_emergency_exit", func() error {
		s.emergency = true
		return s.vault.RevokeStrategy(s.cfg.Address)
	})
}
