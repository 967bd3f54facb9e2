package event

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Liquidate frees an amount of want inside the strategy and leaves it idle.
type Liquidate struct {
	Header
	Amount decimal.Decimal `json:"amount"` // whole tokens
}

func (c *Liquidate) CommandType() CommandType { return CommandTypeLiquidate }

func (c *Liquidate) Validate() error {
	if err := c.validate(); err != nil {
		return err
	}
	if c.Amount.IsNegative() {
		return fmt.Errorf("amount must be >= 0, got %s", c.Amount)
	}
	return nil
}
