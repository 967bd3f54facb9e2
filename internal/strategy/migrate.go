package strategy

import (
	"bytes"
	"fmt"

	fpmath "LevFarm/internal/math"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// migrationTolerance is the accepted relative drift in value, 1/100000.
const migrationTolerance = 100_000

// Migrate hands the whole position to next: collateral and both borrows
// through the market, staked pool tokens, every idle token and the vault's
// debt record. Afterwards this strategy holds nothing and next is worth
// what this one was. Anything else rolls the migration back.
func (s *Strategy) Migrate(from common.Address, next *Strategy) error {
	if next == nil || next == s {
		return fmt.Errorf("%w: successor must be a different strategy", ErrMigrationUnsupported)
	}
	first, second := s, next
	if bytes.Compare(next.cfg.Address.Bytes(), s.cfg.Address.Bytes()) < 0 {
		first, second = next, s
	}
	first.mu.Lock()
	defer first.mu.Unlock()
	second.mu.Lock()
	defer second.mu.Unlock()

	if err := s.authorize(from, RoleGovernance, RoleVault); err != nil {
		return err
	}
	if err := s.compatible(next); err != nil {
		return err
	}

	nextSaved := next.position.Clone()
	err := s.atomic("migrate", func() error {
		if err := s.migrate(next); err != nil {
			next.position = nextSaved
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}
	next.sync()
	return nil
}

func (s *Strategy) compatible(next *Strategy) error {
	a, b := s.cfg, next.cfg
	switch {
	case a.Want != b.Want, a.ShortA != b.ShortA, a.ShortB != b.ShortB, a.Reward != b.Reward:
		return fmt.Errorf("%w: token mismatch", ErrMigrationUnsupported)
	case a.FarmPID != b.FarmPID, a.FarmKind != b.FarmKind, s.lp != next.lp:
		return fmt.Errorf("%w: farm mismatch", ErrMigrationUnsupported)
	case s.vault.Address() != next.vault.Address():
		return fmt.Errorf("%w: vault mismatch", ErrMigrationUnsupported)
	}
	return nil
}

func (s *Strategy) migrate(next *Strategy) error {
	before, err := s.estimatedTotalAssets()
	if err != nil {
		return err
	}
	// Pre-existing holdings of the successor are not part of the transfer.
	base, err := next.estimatedTotalAssets()
	if err != nil {
		return err
	}

	if pm, ok := s.market.(PositionMigrator); ok {
		if err := pm.MigratePosition(s.cfg.Address, next.cfg.Address); err != nil {
			return fmt.Errorf("migrate market position: %w", err)
		}
		if err := s.unstake(s.farm.Staked(s.cfg.FarmPID, s.cfg.Address)); err != nil {
			return err
		}
	} else {
		// Without a market hand-over the position is closed and moved as want.
		if err := s.unwind(fpmath.Wad(), true); err != nil {
			return fmt.Errorf("close position: %w", err)
		}
	}

	for _, token := range []common.Address{s.lp, s.cfg.Want, s.cfg.ShortA, s.cfg.ShortB, s.cfg.Reward} {
		bal := s.bank.BalanceOf(token, s.cfg.Address)
		if err := s.bank.Transfer(token, s.cfg.Address, next.cfg.Address, bal); err != nil {
			return fmt.Errorf("transfer %s: %w", token.Hex(), err)
		}
	}
	if err := next.stakeLoose(); err != nil {
		return err
	}
	if err := s.vault.MigrateDebt(s.cfg.Address, next.cfg.Address); err != nil {
		return fmt.Errorf("migrate vault debt: %w", err)
	}

	left, err := s.estimatedTotalAssets()
	if err != nil {
		return err
	}
	if !left.IsZero() {
		return fmt.Errorf("%w: %s left behind", ErrMigrationMismatch, left.Dec())
	}
	after, err := next.estimatedTotalAssets()
	if err != nil {
		return err
	}
	moved := fpmath.SubFloor(after, base)
	drift := new(uint256.Int).Mul(fpmath.AbsDiff(moved, before), uint256.NewInt(migrationTolerance))
	if drift.Gt(before) {
		return fmt.Errorf("%w: moved %s of %s", ErrMigrationMismatch, moved.Dec(), before.Dec())
	}
	return nil
}
