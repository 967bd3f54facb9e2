package strategy

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// PairCheck compares a manipulable spot price with a reference.
type PairCheck struct {
	Name      string
	Spot      PriceSource
	Reference PriceSource
}

// PriceGuard fails closed when any spot price strays from its reference by
// more than MaxDeviationBps.
type PriceGuard struct {
	MaxDeviationBps uint64
	Checks          []PairCheck
}

func NewPriceGuard(maxDeviationBps uint64, checks ...PairCheck) *PriceGuard {
	return &PriceGuard{MaxDeviationBps: maxDeviationBps, Checks: checks}
}

// DefaultPriceGuard references the lending oracle for the short pair and,
// when configured, the two want/short settlement pairs.
func DefaultPriceGuard(cfg Config, market LendingMarket, amm AMM) *PriceGuard {
	checks := []PairCheck{{
		Name:      "short_a/short_b",
		Spot:      SpotSource{AMM: amm, Base: cfg.ShortA, Quote: cfg.ShortB, BaseDecimals: cfg.ShortADecimals, QuoteDecimals: cfg.ShortBDecimals},
		Reference: OracleSource{Market: market, Base: cfg.ShortA, Quote: cfg.ShortB},
	}}
	if cfg.GuardSettlementPairs {
		checks = append(checks,
			PairCheck{
				Name:      "short_a/want",
				Spot:      SpotSource{AMM: amm, Base: cfg.ShortA, Quote: cfg.Want, BaseDecimals: cfg.ShortADecimals, QuoteDecimals: cfg.WantDecimals},
				Reference: OracleSource{Market: market, Base: cfg.ShortA, Quote: cfg.Want},
			},
			PairCheck{
				Name:      "short_b/want",
				Spot:      SpotSource{AMM: amm, Base: cfg.ShortB, Quote: cfg.Want, BaseDecimals: cfg.ShortBDecimals, QuoteDecimals: cfg.WantDecimals},
				Reference: OracleSource{Market: market, Base: cfg.ShortB, Quote: cfg.Want},
			},
		)
	}
	return NewPriceGuard(cfg.MaxDeviationBps, checks...)
}

// Deviation is one pair's spot/reference comparison.
type Deviation struct {
	Pair         string          `json:"pair"`
	Spot         decimal.Decimal `json:"spot"`
	Reference    decimal.Decimal `json:"reference"`
	DeviationBps decimal.Decimal `json:"deviation_bps"`
}

var bpsDecimal = decimal.NewFromInt(10_000)

// Deviations evaluates every check without judging it.
func (g *PriceGuard) Deviations() ([]Deviation, error) {
	out := make([]Deviation, 0, len(g.Checks))
	for _, c := range g.Checks {
		spot, err := c.Spot.Price()
		if err != nil {
			return nil, fmt.Errorf("%s spot: %w", c.Name, err)
		}
		ref, err := c.Reference.Price()
		if err != nil {
			return nil, fmt.Errorf("%s reference: %w", c.Name, err)
		}
		if !ref.IsPositive() {
			return nil, fmt.Errorf("%s reference: non-positive price %s", c.Name, ref)
		}
		dev := spot.Sub(ref).Abs().Mul(bpsDecimal).Div(ref)
		out = append(out, Deviation{Pair: c.Name, Spot: spot, Reference: ref, DeviationBps: dev})
	}
	return out, nil
}

// Check returns a *PriceManipulationError for the first pair out of bounds.
// A price that cannot be read counts as a trip.
func (g *PriceGuard) Check() error {
	devs, err := g.Deviations()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPriceManipulation, err)
	}
	limit := decimal.NewFromInt(int64(g.MaxDeviationBps))
	for _, d := range devs {
		if d.DeviationBps.GreaterThan(limit) {
			return &PriceManipulationError{
				Pair:         d.Pair,
				Spot:         d.Spot,
				Reference:    d.Reference,
				DeviationBps: d.DeviationBps,
				MaxBps:       g.MaxDeviationBps,
			}
		}
	}
	return nil
}
