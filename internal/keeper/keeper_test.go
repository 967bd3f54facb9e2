package keeper_test

import (
	"context"
	"testing"
	"time"

	"LevFarm/internal/core"
	"LevFarm/internal/event"
	"LevFarm/internal/keeper"
	fpmath "LevFarm/internal/math"
	"LevFarm/internal/observability"
	"LevFarm/internal/paper"
	"LevFarm/internal/sim"
	"LevFarm/internal/strategy"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

type fixture struct {
	d       *paper.Deployment
	runner  *core.Runner
	keeper  *keeper.Keeper
	metrics *observability.Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	d, err := paper.Deploy(sim.DefaultWorldConfig(), strategy.DefaultConfig(), "strategy:keeper", fpmath.BpsScale, nil)
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}
	d.World.Fund(d.World.Want, sim.Address("user:keeper"), sim.Units(1_000_000))

	metrics := observability.NewMetricsWith(prometheus.NewRegistry())
	exec, err := core.NewExecutor(core.Deps{
		Strategy: d.Strategy,
		Vault:    d.World.Vault,
		Bank:     d.World.Bank,
		Clock:    d.World.Chain,
		Paper:    d.World,
		Metrics:  metrics,
	}, make(chan core.CoreOutput, 64), nil)
	if err != nil {
		t.Fatalf("NewExecutor: %v", err)
	}
	runner := core.NewRunner(exec, 8, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go runner.Run(ctx)

	k := keeper.New(runner, keeper.Config{
		Interval:    time.Minute,
		CallCost:    decimal.RequireFromString("0.01"),
		TWAPSamples: 4,
	}, metrics, zerolog.Nop())
	return &fixture{d: d, runner: runner, keeper: k, metrics: metrics}
}

func (f *fixture) submit(t *testing.T, cmd event.Command) {
	t.Helper()
	env, err := f.runner.Submit(context.Background(), cmd)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !env.Applied() {
		t.Fatalf("%s rejected: %s", cmd.CommandType(), env.Error)
	}
}

func header(from common.Address) event.Header {
	return event.Header{CommandID: uuid.New(), From: from, IssuedAt: time.Now()}
}

// ============================================================================
// Test: Tick
// ============================================================================

func TestTick_NothingToDoWithoutCapital(t *testing.T) {
	f := newFixture(t)
	d, err := f.keeper.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if d.Action != keeper.ActionNone || d.Envelope != nil {
		t.Errorf("decision: %+v", d)
	}
	if got := testutil.ToFloat64(f.metrics.TWAPObservations); got != 1 {
		t.Errorf("twap observations: got %v, want 1", got)
	}
}

func TestTick_HarvestsIdleCredit(t *testing.T) {
	f := newFixture(t)
	f.submit(t, &event.Deposit{Header: header(sim.Address("user:keeper")), Amount: decimal.NewFromInt(100_000)})

	d, err := f.keeper.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if d.Action != keeper.ActionHarvest {
		t.Fatalf("action: got %s (%s)", d.Action, d.Reason)
	}
	if d.Envelope == nil || !d.Envelope.Applied() {
		t.Fatalf("harvest not applied: %+v", d.Envelope)
	}
	if d.Envelope.Sender != f.d.World.Keeper {
		t.Errorf("harvest must come from the keeper role, got %s", d.Envelope.Sender.Hex())
	}
	if f.d.Strategy.Position().SuppliedCollateral.IsZero() {
		t.Error("expected collateral supplied after harvest")
	}

	d, err = f.keeper.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if d.Action != keeper.ActionNone {
		t.Errorf("second tick: got %s", d.Action)
	}
}

func TestTick_TendsOutOfBandCollateral(t *testing.T) {
	f := newFixture(t)
	w := f.d.World
	f.submit(t, &event.Deposit{Header: header(sim.Address("user:keeper")), Amount: decimal.NewFromInt(100_000)})
	if d, err := f.keeper.Tick(context.Background()); err != nil || d.Action != keeper.ActionHarvest {
		t.Fatalf("first tick: %+v, %v", d, err)
	}

	f.submit(t, &event.SetThresholds{
		Header: header(w.Management),
		Band:   event.BandCollateral,
		Min:    1_500, Target: 2_000, Max: 2_500,
	})

	d, err := f.keeper.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if d.Action != keeper.ActionTend {
		t.Fatalf("action: got %s (%s)", d.Action, d.Reason)
	}
	if !d.Envelope.Applied() {
		t.Fatalf("tend rejected: %s", d.Envelope.Error)
	}
	cr, err := f.d.Strategy.CalcCollateral()
	if err != nil {
		t.Fatalf("CalcCollateral: %v", err)
	}
	if cr < 1_500 || cr > 2_500 {
		t.Errorf("collateral ratio after tend: %d", cr)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.keeper.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}
