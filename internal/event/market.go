package event

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// SetPrice moves the lending market's oracle price for a token. Only the
// paper world accepts it.
type SetPrice struct {
	Header
	Token common.Address  `json:"token"`
	Price decimal.Decimal `json:"price"` // USD per whole token
}

func (c *SetPrice) CommandType() CommandType { return CommandTypeSetPrice }

func (c *SetPrice) Validate() error {
	if err := c.validate(); err != nil {
		return err
	}
	if c.Token == (common.Address{}) {
		return fmt.Errorf("token is required")
	}
	if !c.Price.IsPositive() {
		return fmt.Errorf("price must be positive, got %s", c.Price)
	}
	return nil
}

// AccrueRewards credits pending farm rewards to the active strategy. Only
// the paper world accepts it.
type AccrueRewards struct {
	Header
	Amount decimal.Decimal `json:"amount"` // whole reward tokens
}

func (c *AccrueRewards) CommandType() CommandType { return CommandTypeAccrueRewards }

func (c *AccrueRewards) Validate() error {
	if err := c.validate(); err != nil {
		return err
	}
	if !c.Amount.IsPositive() {
		return fmt.Errorf("amount must be positive, got %s", c.Amount)
	}
	return nil
}
