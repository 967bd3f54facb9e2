package strategy

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

var (
	ErrConfiguration         = errors.New("configuration error")
	ErrPriceManipulation     = errors.New("price manipulation detected")
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	ErrExcessiveLoss         = errors.New("excessive loss")
	ErrProtectedToken        = errors.New("protected token")
	ErrUnauthorized          = errors.New("unauthorized")
	ErrMigrationUnsupported  = errors.New("migration unsupported")
	ErrMigrationMismatch     = errors.New("migration value mismatch")
)

// PriceManipulationError reports which pair tripped the guard.
type PriceManipulationError struct {
	Pair         string
	Spot         decimal.Decimal
	Reference    decimal.Decimal
	DeviationBps decimal.Decimal
	MaxBps       uint64
}

func (e *PriceManipulationError) Error() string {
	return fmt.Sprintf("%s: %s spot %s vs reference %s deviates %s bps (max %d)",
		ErrPriceManipulation, e.Pair, e.Spot, e.Reference, e.DeviationBps.StringFixed(1), e.MaxBps)
}

func (e *PriceManipulationError) Is(target error) bool { return target == ErrPriceManipulation }

// ExcessiveLossError is returned when a withdrawal would realize more loss
// than the caller tolerates.
type ExcessiveLossError struct {
	Requested  *uint256.Int
	Loss       *uint256.Int
	MaxLossBps uint64
}

func (e *ExcessiveLossError) Error() string {
	return fmt.Sprintf("%s: loss %s on %s exceeds %d bps", ErrExcessiveLoss, e.Loss.Dec(), e.Requested.Dec(), e.MaxLossBps)
}

func (e *ExcessiveLossError) Is(target error) bool { return target == ErrExcessiveLoss }

// ProtectedTokenError carries the short reason code ("!want", "!shares",
// "!protected").
type ProtectedTokenError struct {
	Token  common.Address
	Reason string
}

func (e *ProtectedTokenError) Error() string {
	return fmt.Sprintf("%s %s: %s", ErrProtectedToken, e.Token.Hex(), e.Reason)
}

func (e *ProtectedTokenError) Is(target error) bool { return target == ErrProtectedToken }

func insufficientLiquidity(step string, err error) error {
	return fmt.Errorf("%s: %w: %v", step, ErrInsufficientLiquidity, err)
}
