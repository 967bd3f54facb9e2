package event

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Deposit moves want from the sender into the vault for shares.
type Deposit struct {
	Header
	Amount decimal.Decimal `json:"amount"` // whole tokens
}

func (c *Deposit) CommandType() CommandType { return CommandTypeDeposit }

func (c *Deposit) Validate() error {
	if err := c.validate(); err != nil {
		return err
	}
	if !c.Amount.IsPositive() {
		return fmt.Errorf("amount must be positive, got %s", c.Amount)
	}
	return nil
}

// Redeem burns vault shares for want, pulling from the strategy when the
// vault is short of idle funds.
type Redeem struct {
	Header
	Shares     decimal.Decimal `json:"shares"` // whole shares, zero redeems all
	MaxLossBps uint64          `json:"max_loss_bps"`
}

func (c *Redeem) CommandType() CommandType { return CommandTypeRedeem }

func (c *Redeem) Validate() error {
	if err := c.validate(); err != nil {
		return err
	}
	if c.Shares.IsNegative() {
		return fmt.Errorf("shares must be >= 0, got %s", c.Shares)
	}
	if c.MaxLossBps > 10_000 {
		return fmt.Errorf("max_loss_bps must be <= 10000, got %d", c.MaxLossBps)
	}
	return nil
}
