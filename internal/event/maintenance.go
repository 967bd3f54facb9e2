package event

// Harvest realizes rewards and reports to the vault.
type Harvest struct {
	Header
}

func (c *Harvest) CommandType() CommandType { return CommandTypeHarvest }
func (c *Harvest) Validate() error          { return c.validate() }

// Tend rebalances both bands without reporting.
type Tend struct {
	Header
}

func (c *Tend) CommandType() CommandType { return CommandTypeTend }
func (c *Tend) Validate() error          { return c.validate() }

type RebalanceDebt struct {
	Header
}

func (c *RebalanceDebt) CommandType() CommandType { return CommandTypeRebalanceDebt }
func (c *RebalanceDebt) Validate() error          { return c.validate() }

type RebalanceCollateral struct {
	Header
}

func (c *RebalanceCollateral) CommandType() CommandType { return CommandTypeRebalanceCollateral }
func (c *RebalanceCollateral) Validate() error          { return c.validate() }

// EmergencyExit latches the strategy into unwind-everything mode.
type EmergencyExit struct {
	Header
}

func (c *EmergencyExit) CommandType() CommandType { return CommandTypeEmergencyExit }
func (c *EmergencyExit) Validate() error          { return c.validate() }
