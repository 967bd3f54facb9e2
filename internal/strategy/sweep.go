package strategy

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// protection returns the reason code for a protected token, or "".
func (s *Strategy) protection(token common.Address) string {
	switch token {
	case s.cfg.Want:
		return "!want"
	case s.vault.Address():
		return "!shares"
	case s.cfg.ShortA, s.cfg.ShortB, s.cfg.Reward:
		return "!protected"
	}
	for _, t := range s.cfg.ExtraProtected {
		if t == token {
			return "!protected"
		}
	}
	return ""
}

// Sweep sends the strategy's whole balance of an unprotected token to
// governance and returns the amount sent.
func (s *Strategy) Sweep(from, token common.Address) (*uint256.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.authorize(from, RoleGovernance); err != nil {
		return nil, err
	}
	if reason := s.protection(token); reason != "" {
		return nil, &ProtectedTokenError{Token: token, Reason: reason}
	}
	var swept *uint256.Int
	err := s.atomic("sweep", func() error {
		swept = s.bank.BalanceOf(token, s.cfg.Address)
		if err := s.bank.Transfer(token, s.cfg.Address, s.cfg.Governance, swept); err != nil {
			return fmt.Errorf("sweep %s: %w", token.Hex(), err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return swept, nil
}
