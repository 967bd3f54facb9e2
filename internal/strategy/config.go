package strategy

import (
	"fmt"
	"time"

	fpmath "LevFarm/internal/math"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// FarmKind names the withdraw flavour of the farm.
type FarmKind int

const (
	// FarmMasterChef withdraws to the caller: Withdraw(pid, amount).
	FarmMasterChef FarmKind = iota
	// FarmRecipient takes a recipient: Withdraw(pid, amount, to).
	FarmRecipient
)

func (k FarmKind) String() string {
	switch k {
	case FarmMasterChef:
		return "masterchef"
	case FarmRecipient:
		return "recipient"
	default:
		return fmt.Sprintf("FarmKind(%d)", int(k))
	}
}

// ParseFarmKind is the inverse of String.
func ParseFarmKind(s string) (FarmKind, error) {
	switch s {
	case "masterchef", "":
		return FarmMasterChef, nil
	case "recipient":
		return FarmRecipient, nil
	default:
		return 0, fmt.Errorf("%w: unknown farm kind %q", ErrConfiguration, s)
	}
}

// Config is the static wiring of one strategy instance plus its tunables.
type Config struct {
	Address common.Address

	Want   common.Address
	ShortA common.Address
	ShortB common.Address
	Reward common.Address

	WantDecimals   uint8
	ShortADecimals uint8
	ShortBDecimals uint8

	FarmPID  uint64
	FarmKind FarmKind
	// RewardPath routes the reward token to want. Defaults to [Reward, Want].
	RewardPath []common.Address

	Governance common.Address
	Management common.Address
	Keeper     common.Address

	Collateral Thresholds
	Debt       Thresholds

	MaxDeviationBps uint64
	// GuardSettlementPairs extends the guard to the want/short pairs the
	// unwind trades through.
	GuardSettlementPairs bool

	// Dust is the amount of want below which balances are ignored.
	Dust           *uint256.Int
	MinReportDelay time.Duration
	MaxReportDelay time.Duration
	ProfitFactor   uint64

	ExtraProtected []common.Address
}

// DefaultConfig fills the tunables; addresses are left to the caller.
func DefaultConfig() Config {
	return Config{
		WantDecimals:         18,
		ShortADecimals:       18,
		ShortBDecimals:       18,
		Collateral:           DefaultCollateralThresholds,
		Debt:                 DefaultDebtThresholds,
		MaxDeviationBps:      1_000,
		GuardSettlementPairs: true,
		Dust:                 fpmath.Units(1, 15),
		MinReportDelay:       0,
		MaxReportDelay:       30 * 24 * time.Hour,
		ProfitFactor:         100,
	}
}

// Validate checks the wiring before a strategy is built.
func (c *Config) Validate() error {
	zero := common.Address{}
	for name, addr := range map[string]common.Address{
		"address": c.Address, "want": c.Want, "short_a": c.ShortA, "short_b": c.ShortB,
		"reward": c.Reward, "governance": c.Governance,
	} {
		if addr == zero {
			return fmt.Errorf("%w: %s address is required", ErrConfiguration, name)
		}
	}
	if c.ShortA == c.ShortB || c.Want == c.ShortA || c.Want == c.ShortB {
		return fmt.Errorf("%w: want, short_a and short_b must differ", ErrConfiguration)
	}
	if err := ValidateThresholds(c.Collateral); err != nil {
		return fmt.Errorf("collateral thresholds: %w", err)
	}
	if err := ValidateThresholds(c.Debt); err != nil {
		return fmt.Errorf("debt thresholds: %w", err)
	}
	if c.Collateral.Max >= fpmath.BpsScale {
		return fmt.Errorf("%w: collateral max (%d) must be < %d", ErrConfiguration, c.Collateral.Max, fpmath.BpsScale)
	}
	if c.MaxDeviationBps == 0 {
		return fmt.Errorf("%w: max_deviation_bps must be > 0", ErrConfiguration)
	}
	if len(c.RewardPath) == 1 {
		return fmt.Errorf("%w: reward path needs at least two hops", ErrConfiguration)
	}
	if len(c.RewardPath) > 1 {
		if c.RewardPath[0] != c.Reward || c.RewardPath[len(c.RewardPath)-1] != c.Want {
			return fmt.Errorf("%w: reward path must run from reward to want", ErrConfiguration)
		}
	}
	if c.MaxReportDelay < c.MinReportDelay {
		return fmt.Errorf("%w: max_report_delay must be >= min_report_delay", ErrConfiguration)
	}
	return nil
}

func (c *Config) decimals(token common.Address) uint8 {
	switch token {
	case c.ShortA:
		return c.ShortADecimals
	case c.ShortB:
		return c.ShortBDecimals
	default:
		return c.WantDecimals
	}
}
