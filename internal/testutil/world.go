package testutil

import (
	"testing"

	fpmath "LevFarm/internal/math"
	"LevFarm/internal/paper"
	"LevFarm/internal/sim"
	"LevFarm/internal/strategy"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// Fixture is a simulated deployment with one strategy attached to the vault
// at a 100% debt ratio and a funded depositor.
type Fixture struct {
	World    *sim.World
	Strategy *strategy.Strategy
	User     common.Address
}

// NewFixture builds the default world. mutate, when non-nil, adjusts the
// strategy config before construction.
func NewFixture(t *testing.T, mutate func(*strategy.Config)) *Fixture {
	t.Helper()
	return NewFixtureWithWorld(t, sim.DefaultWorldConfig(), mutate)
}

func NewFixtureWithWorld(t *testing.T, wcfg sim.WorldConfig, mutate func(*strategy.Config)) *Fixture {
	t.Helper()
	w := sim.NewWorld(wcfg)
	s := NewStrategy(t, w, "strategy:0", mutate)
	if err := w.Vault.AddStrategy(s, fpmath.BpsScale); err != nil {
		t.Fatalf("add strategy: %v", err)
	}
	user := sim.Address("user:0")
	w.Fund(w.Want, user, sim.Units(1_000_000))
	return &Fixture{World: w, Strategy: s, User: user}
}

// StrategyConfig wires a default strategy config onto the world's tokens
// and roles.
func StrategyConfig(w *sim.World, label string) strategy.Config {
	return paper.StrategyConfig(w, label, strategy.DefaultConfig())
}

// NewStrategy builds a strategy on w without attaching it to the vault.
func NewStrategy(t *testing.T, w *sim.World, label string, mutate func(*strategy.Config)) *strategy.Strategy {
	t.Helper()
	cfg := StrategyConfig(w, label)
	if mutate != nil {
		mutate(&cfg)
	}
	s, err := strategy.New(cfg, Deps(w))
	if err != nil {
		t.Fatalf("new strategy: %v", err)
	}
	return s
}

// Deps returns the world's collaborators as strategy dependencies.
func Deps(w *sim.World) strategy.Deps {
	return paper.Deps(w, nil)
}

// Deposit puts n whole want tokens into the vault for the fixture user.
func (f *Fixture) Deposit(t *testing.T, n uint64) *uint256.Int {
	t.Helper()
	shares, err := f.World.Vault.Deposit(f.User, sim.Units(n))
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	return shares
}

// Harvest runs a keeper harvest and fails the test on error.
func (f *Fixture) Harvest(t *testing.T) strategy.HarvestReport {
	t.Helper()
	report, err := f.Strategy.Harvest(f.World.Keeper)
	if err != nil {
		t.Fatalf("harvest: %v", err)
	}
	return report
}

// ETA returns the strategy's estimated total assets.
func (f *Fixture) ETA(t *testing.T) *uint256.Int {
	t.Helper()
	eta, err := f.Strategy.EstimatedTotalAssets()
	if err != nil {
		t.Fatalf("estimated total assets: %v", err)
	}
	return eta
}

// RelDiff returns |got-want|/want as a decimal. A zero want compares got
// against zero.
func RelDiff(got, want *uint256.Int) decimal.Decimal {
	g := decimal.NewFromBigInt(got.ToBig(), 0)
	w := decimal.NewFromBigInt(want.ToBig(), 0)
	if w.IsZero() {
		return g.Abs()
	}
	return g.Sub(w).Abs().Div(w)
}

// AssertApproxRel fails when got is not within tol (e.g. "1e-5") of want.
func AssertApproxRel(t *testing.T, name string, got, want *uint256.Int, tol string) {
	t.Helper()
	limit := decimal.RequireFromString(tol)
	if d := RelDiff(got, want); d.GreaterThan(limit) {
		t.Errorf("%s: got %s, want %s (rel diff %s > %s)", name, got.Dec(), want.Dec(), d.StringFixed(8), tol)
	}
}

// AssertBpsNear fails when got is further than tolBps from want.
func AssertBpsNear(t *testing.T, name string, got, want, tolBps uint64) {
	t.Helper()
	diff := got - want
	if want > got {
		diff = want - got
	}
	if diff > tolBps {
		t.Errorf("%s: got %d bps, want %d ± %d", name, got, want, tolBps)
	}
}
