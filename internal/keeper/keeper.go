// Package keeper evaluates the strategy triggers on a timer and submits
// harvest or tend commands when they fire.
package keeper

import (
	"context"
	"fmt"
	"time"

	"LevFarm/internal/core"
	"LevFarm/internal/event"
	fpmath "LevFarm/internal/math"
	"LevFarm/internal/observability"
	"LevFarm/internal/strategy"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Runner is the executor goroutine as seen by the keeper.
type Runner interface {
	Submit(ctx context.Context, cmd event.Command) (*event.OutcomeEnvelope, error)
	Inspect(ctx context.Context, fn func(*core.Executor)) error
}

type Config struct {
	Interval time.Duration
	// CallCost in whole want tokens.
	CallCost decimal.Decimal
	// TWAPSamples is the number of interval samples the TWAP averages.
	TWAPSamples int
}

// Action is what one tick decided to do.
type Action string

const (
	ActionNone    Action = "none"
	ActionHarvest Action = "harvest"
	ActionTend    Action = "tend"
)

// Decision is the outcome of one tick.
type Decision struct {
	Action   Action
	Reason   string
	Report   core.TriggerReport
	Envelope *event.OutcomeEnvelope
}

// Keeper drives one strategy through the executor.
type Keeper struct {
	runner  Runner
	cfg     Config
	metrics *observability.Metrics
	logger  zerolog.Logger
	now     func() time.Time

	// twap samples the short pair spot price. Built on the first tick and
	// rebuilt when a migrate swaps the strategy.
	twap     *strategy.TWAPSource
	twapFrom common.Address
}

func New(runner Runner, cfg Config, metrics *observability.Metrics, logger zerolog.Logger) *Keeper {
	if cfg.TWAPSamples < 1 {
		cfg.TWAPSamples = 1
	}
	return &Keeper{
		runner:  runner,
		cfg:     cfg,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}
}

// Run ticks every interval until ctx is cancelled.
func (k *Keeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(k.cfg.Interval)
	defer ticker.Stop()

	k.logger.Info().Dur("interval", k.cfg.Interval).Str("call_cost", k.cfg.CallCost.String()).Msg("keeper started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			d, err := k.Tick(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				k.logger.Warn().Err(err).Msg("keeper tick failed")
				continue
			}
			k.log(d)
		}
	}
}

// Tick samples the TWAP, evaluates the triggers and submits at most one
// command. Harvest wins over tend since a harvest also rebalances.
func (k *Keeper) Tick(ctx context.Context) (Decision, error) {
	var (
		d         Decision
		keeper    common.Address
		spot      decimal.Decimal
		spotErr   error
		observed  bool
		maxDevBps uint64
	)
	err := k.runner.Inspect(ctx, func(e *core.Executor) {
		s := e.Strategy()
		cfg := s.Config()
		keeper = cfg.Keeper
		maxDevBps = cfg.MaxDeviationBps

		src := shortPairSpot(s)
		if src == nil {
			spotErr = fmt.Errorf("strategy %s has no short pair check", s.Address().Hex())
		} else {
			if k.twap == nil || k.twapFrom != s.Address() {
				k.twap = strategy.NewTWAPSource(src, k.cfg.TWAPSamples)
				k.twapFrom = s.Address()
			}
			if spotErr = k.twap.Observe(); spotErr == nil {
				observed = true
				spot, spotErr = src.Price()
			}
		}

		cost := fpmath.FromDecimal(k.cfg.CallCost, int32(cfg.WantDecimals))
		d.Report = e.Triggers(cost)
	})
	if err != nil {
		return Decision{}, err
	}
	if observed && k.metrics != nil {
		k.metrics.TWAPObservations.Inc()
	}

	switch {
	case d.Report.Harvest:
		d.Action = ActionHarvest
	case d.Report.Tend:
		d.Action = ActionTend
	default:
		d.Action = ActionNone
		return d, nil
	}

	if spotErr != nil {
		d.Reason = fmt.Sprintf("spot price unavailable: %v", spotErr)
		d.Action = ActionNone
		return d, nil
	}
	if twap, err := k.twap.Price(); err == nil && twap.IsPositive() {
		devBps := spot.Sub(twap).Abs().Mul(decimal.NewFromInt(int64(fpmath.BpsScale))).Div(twap)
		if devBps.GreaterThan(decimal.NewFromInt(int64(maxDevBps))) {
			d.Reason = fmt.Sprintf("spot %s is %s bps away from twap %s", spot, devBps.StringFixed(1), twap)
			d.Action = ActionNone
			return d, nil
		}
	}

	hdr := event.Header{CommandID: uuid.New(), From: keeper, Source: "keeper", IssuedAt: k.now()}
	var cmd event.Command
	if d.Action == ActionHarvest {
		cmd = &event.Harvest{Header: hdr}
	} else {
		cmd = &event.Tend{Header: hdr}
	}
	env, err := k.runner.Submit(ctx, cmd)
	if err != nil {
		return d, fmt.Errorf("submit %s: %w", d.Action, err)
	}
	d.Envelope = env
	return d, nil
}

// shortPairSpot returns the spot source of the guard's short pair check.
func shortPairSpot(s *strategy.Strategy) strategy.PriceSource {
	for _, c := range s.Guard().Checks {
		if c.Name == "short_a/short_b" {
			return c.Spot
		}
	}
	return nil
}

func (k *Keeper) log(d Decision) {
	switch {
	case d.Envelope != nil && d.Envelope.Applied():
		k.logger.Info().
			Str("action", string(d.Action)).
			Int64("sequence", d.Envelope.Sequence).
			Msg("keeper command applied")
	case d.Envelope != nil:
		k.logger.Warn().
			Str("action", string(d.Action)).
			Int64("sequence", d.Envelope.Sequence).
			Str("error", d.Envelope.Error).
			Msg("keeper command rejected")
	case d.Reason != "":
		k.logger.Warn().Str("reason", d.Reason).Msg("keeper skipped")
	default:
		k.logger.Debug().Bool("guard_ok", d.Report.GuardOK).Msg("nothing to do")
	}
}
