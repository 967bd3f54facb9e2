package strategy_test

import (
	"testing"

	"LevFarm/internal/sim"
	"LevFarm/internal/strategy"
	"LevFarm/internal/testutil"

	"github.com/holiman/uint256"
)

const deposit = 100_000

// newDeployed deposits into the vault and harvests once, so the strategy
// holds a levered position at the default targets.
func newDeployed(t *testing.T, mutate func(*strategy.Config)) *testutil.Fixture {
	t.Helper()
	f := testutil.NewFixture(t, mutate)
	f.Deposit(t, deposit)
	f.Harvest(t)
	return f
}

type ratios struct {
	collateral uint64
	debtA      uint64
	debtB      uint64
}

func readRatios(t *testing.T, s *strategy.Strategy) ratios {
	t.Helper()
	c, err := s.CalcCollateral()
	if err != nil {
		t.Fatalf("CalcCollateral: %v", err)
	}
	a, err := s.CalcDebtRatioA()
	if err != nil {
		t.Fatalf("CalcDebtRatioA: %v", err)
	}
	b, err := s.CalcDebtRatioB()
	if err != nil {
		t.Fatalf("CalcDebtRatioB: %v", err)
	}
	return ratios{collateral: c, debtA: a, debtB: b}
}

// pct returns n percent of x.
func pct(x *uint256.Int, n uint64) *uint256.Int {
	out := new(uint256.Int).Mul(x, uint256.NewInt(n))
	return out.Div(out, uint256.NewInt(100))
}

// skewShortPool swaps pctOfReserve percent of the A reserve into the
// short/short pair from the whale.
func skewShortPool(t *testing.T, w *sim.World, pctOfReserve uint64) {
	t.Helper()
	ra, _, err := w.AMM.GetReserves(w.ShortA, w.ShortB)
	if err != nil {
		t.Fatalf("reserves: %v", err)
	}
	amount := pct(ra, pctOfReserve)
	w.Fund(w.ShortA, w.Whale, amount)
	if _, err := w.AMM.Swap(w.Whale, amount, w.ShortA, w.ShortB); err != nil {
		t.Fatalf("whale swap: %v", err)
	}
}

func units(n uint64) *uint256.Int { return sim.Units(n) }
