package event

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Threshold bands
const (
	BandCollateral = "collateral"
	BandDebt       = "debt"
)

// SetThresholds replaces one min/target/max band.
type SetThresholds struct {
	Header
	Band   string `json:"band"`
	Min    uint64 `json:"min"`
	Target uint64 `json:"target"`
	Max    uint64 `json:"max"`
}

func (c *SetThresholds) CommandType() CommandType { return CommandTypeSetThresholds }

func (c *SetThresholds) Validate() error {
	if err := c.validate(); err != nil {
		return err
	}
	if c.Band != BandCollateral && c.Band != BandDebt {
		return fmt.Errorf("band must be %q or %q, got %q", BandCollateral, BandDebt, c.Band)
	}
	return nil
}

type SetKeeper struct {
	Header
	Keeper common.Address `json:"keeper"`
}

func (c *SetKeeper) CommandType() CommandType { return CommandTypeSetKeeper }

func (c *SetKeeper) Validate() error {
	if err := c.validate(); err != nil {
		return err
	}
	if c.Keeper == (common.Address{}) {
		return fmt.Errorf("keeper is required")
	}
	return nil
}

// Sweep sends a stray token balance to governance.
type Sweep struct {
	Header
	Token common.Address `json:"token"`
}

func (c *Sweep) CommandType() CommandType { return CommandTypeSweep }

func (c *Sweep) Validate() error {
	if err := c.validate(); err != nil {
		return err
	}
	if c.Token == (common.Address{}) {
		return fmt.Errorf("token is required")
	}
	return nil
}

// Migrate moves the position to a successor deployed under Successor.
type Migrate struct {
	Header
	Successor string `json:"successor"`
}

func (c *Migrate) CommandType() CommandType { return CommandTypeMigrate }

func (c *Migrate) Validate() error {
	if err := c.validate(); err != nil {
		return err
	}
	if c.Successor == "" {
		return fmt.Errorf("successor is required")
	}
	return nil
}
