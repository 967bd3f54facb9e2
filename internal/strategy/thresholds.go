package strategy

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Thresholds is a min/target/max band in basis points.
type Thresholds struct {
	Min    uint64 `toml:"min" json:"min"`
	Target uint64 `toml:"target" json:"target"`
	Max    uint64 `toml:"max" json:"max"`
}

var (
	DefaultCollateralThresholds = Thresholds{Min: 5_500, Target: 6_000, Max: 6_500}
	DefaultDebtThresholds       = Thresholds{Min: 9_500, Target: 10_000, Max: 10_500}
)

// ValidateThresholds enforces min <= target <= max.
func ValidateThresholds(t Thresholds) error {
	if t.Min > t.Target {
		return fmt.Errorf("%w: min (%d) must be <= target (%d)", ErrConfiguration, t.Min, t.Target)
	}
	if t.Target > t.Max {
		return fmt.Errorf("%w: target (%d) must be <= max (%d)", ErrConfiguration, t.Target, t.Max)
	}
	return nil
}

// Contains reports whether ratio lies inside [Min, Max].
func (t Thresholds) Contains(ratio uint64) bool {
	return ratio >= t.Min && ratio <= t.Max
}

func (s *Strategy) SetCollateralThresholds(from common.Address, min, target, max uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.authorize(from, RoleManagement, RoleGovernance); err != nil {
		return err
	}
	t := Thresholds{Min: min, Target: target, Max: max}
	if err := ValidateThresholds(t); err != nil {
		return fmt.Errorf("collateral thresholds: %w", err)
	}
	s.cfg.Collateral = t
	s.logger.Info().Uint64("min", min).Uint64("target", target).Uint64("max", max).Msg("collateral thresholds updated")
	return nil
}

func (s *Strategy) SetDebtThresholds(from common.Address, min, target, max uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.authorize(from, RoleManagement, RoleGovernance); err != nil {
		return err
	}
	t := Thresholds{Min: min, Target: target, Max: max}
	if err := ValidateThresholds(t); err != nil {
		return fmt.Errorf("debt thresholds: %w", err)
	}
	s.cfg.Debt = t
	s.logger.Info().Uint64("min", min).Uint64("target", target).Uint64("max", max).Msg("debt thresholds updated")
	return nil
}

func (s *Strategy) CollateralThresholds() Thresholds {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Collateral
}

func (s *Strategy) DebtThresholds() Thresholds {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Debt
}
