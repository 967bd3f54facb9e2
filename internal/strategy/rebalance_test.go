package strategy_test

import (
	"errors"
	"testing"

	"LevFarm/internal/strategy"
	"LevFarm/internal/testutil"

	"github.com/holiman/uint256"
)

// ============================================================================
// Test: Threshold setters
// ============================================================================

func TestSetCollateralThresholds_RejectsUnordered(t *testing.T) {
	f := newDeployed(t, nil)
	before := f.Strategy.CollateralThresholds()

	cases := []struct{ min, target, max uint64 }{
		{7_000, 6_000, 8_000},
		{5_000, 6_000, 5_900},
	}
	for _, c := range cases {
		err := f.Strategy.SetCollateralThresholds(f.World.Governance, c.min, c.target, c.max)
		if !errors.Is(err, strategy.ErrConfiguration) {
			t.Errorf("(%d, %d, %d): expected ErrConfiguration, got %v", c.min, c.target, c.max, err)
		}
	}
	if got := f.Strategy.CollateralThresholds(); got != before {
		t.Errorf("thresholds changed on rejection: got %+v, want %+v", got, before)
	}
}

func TestSetDebtThresholds_RejectsUnordered(t *testing.T) {
	f := newDeployed(t, nil)
	before := f.Strategy.DebtThresholds()

	err := f.Strategy.SetDebtThresholds(f.World.Management, 10_000, 9_000, 11_000)
	if !errors.Is(err, strategy.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
	if got := f.Strategy.DebtThresholds(); got != before {
		t.Errorf("thresholds changed on rejection: got %+v, want %+v", got, before)
	}
}

func TestSetThresholds_Unauthorized(t *testing.T) {
	f := newDeployed(t, nil)
	err := f.Strategy.SetCollateralThresholds(f.World.Keeper, 1_000, 2_000, 3_000)
	if !errors.Is(err, strategy.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestValidateThresholds_AcceptsEqualBounds(t *testing.T) {
	if err := strategy.ValidateThresholds(strategy.Thresholds{Min: 6_000, Target: 6_000, Max: 6_000}); err != nil {
		t.Errorf("expected equal bounds to be valid, got %v", err)
	}
}

// ============================================================================
// Test: Collateral rebalancing
// ============================================================================

func TestRebalanceCollateral_DeleverageAndReleverage(t *testing.T) {
	f := newDeployed(t, nil)
	s, w := f.Strategy, f.World

	if err := s.SetCollateralThresholds(w.Management, 1_500, 2_000, 2_500); err != nil {
		t.Fatalf("SetCollateralThresholds: %v", err)
	}
	if err := s.RebalanceCollateral(w.Keeper); err != nil {
		t.Fatalf("RebalanceCollateral down: %v", err)
	}
	r := readRatios(t, s)
	testutil.AssertBpsNear(t, "collateral ratio", r.collateral, 2_000, 20)
	testutil.AssertBpsNear(t, "debt ratio A", r.debtA, 10_000, 100)
	testutil.AssertBpsNear(t, "debt ratio B", r.debtB, 10_000, 100)
	testutil.AssertApproxRel(t, "eta", f.ETA(t), units(deposit), "0.0001")

	if err := s.SetCollateralThresholds(w.Management, 5_500, 6_000, 6_500); err != nil {
		t.Fatalf("SetCollateralThresholds: %v", err)
	}
	if err := s.RebalanceCollateral(w.Keeper); err != nil {
		t.Fatalf("RebalanceCollateral up: %v", err)
	}
	r = readRatios(t, s)
	testutil.AssertBpsNear(t, "collateral ratio", r.collateral, 6_000, 60)
	testutil.AssertBpsNear(t, "debt ratio A", r.debtA, 10_000, 100)
	testutil.AssertBpsNear(t, "debt ratio B", r.debtB, 10_000, 100)
}

func TestRebalanceCollateral_InBandIsNoop(t *testing.T) {
	f := newDeployed(t, nil)
	before := f.Strategy.Position()

	if err := f.Strategy.RebalanceCollateral(f.World.Keeper); err != nil {
		t.Fatalf("RebalanceCollateral: %v", err)
	}
	after := f.Strategy.Position()
	if !after.SuppliedCollateral.Eq(before.SuppliedCollateral) || !after.BorrowedA.Eq(before.BorrowedA) ||
		!after.BorrowedB.Eq(before.BorrowedB) || !after.PoolTokens.Eq(before.PoolTokens) {
		t.Errorf("position changed: before %+v, after %+v", before, after)
	}
}

func TestRebalanceCollateral_Unauthorized(t *testing.T) {
	f := newDeployed(t, nil)
	err := f.Strategy.RebalanceCollateral(f.User)
	if !errors.Is(err, strategy.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

// ============================================================================
// Test: Debt rebalancing
// ============================================================================

func TestRebalanceDebt_AfterPoolDrift(t *testing.T) {
	f := newDeployed(t, nil)
	s, w := f.Strategy, f.World

	skewShortPool(t, w, 2)
	drifted := readRatios(t, s)
	if drifted.debtA >= 10_000 || drifted.debtB <= 10_000 {
		t.Fatalf("expected A under-covered and B over-covered, got A=%d B=%d", drifted.debtA, drifted.debtB)
	}

	if err := s.RebalanceDebt(w.Keeper); err != nil {
		t.Fatalf("RebalanceDebt: %v", err)
	}
	r := readRatios(t, s)
	testutil.AssertBpsNear(t, "debt ratio A", r.debtA, 10_000, 100)
	testutil.AssertBpsNear(t, "debt ratio B", r.debtB, 10_000, 100)
	testutil.AssertBpsNear(t, "collateral ratio", r.collateral, 6_000, 60)
}

func TestRebalanceDebt_FoldsLoosePoolTokens(t *testing.T) {
	f := newDeployed(t, nil)
	s, w := f.Strategy, f.World
	etaBefore := f.ETA(t)

	staked := s.Position().PoolTokens
	if err := w.Bank.Transfer(w.LP, w.Whale, s.Address(), pct(staked, 1)); err != nil {
		t.Fatalf("transfer LP: %v", err)
	}
	loose := readRatios(t, s)
	if loose.debtA >= 9_950 || loose.debtB >= 9_950 {
		t.Errorf("expected loose pool tokens to lower debt ratios, got A=%d B=%d", loose.debtA, loose.debtB)
	}

	if err := s.RebalanceDebt(w.Keeper); err != nil {
		t.Fatalf("RebalanceDebt: %v", err)
	}
	r := readRatios(t, s)
	testutil.AssertBpsNear(t, "debt ratio A", r.debtA, 10_000, 100)
	testutil.AssertBpsNear(t, "debt ratio B", r.debtB, 10_000, 100)
	if bal := w.Bank.BalanceOf(w.LP, s.Address()); !bal.IsZero() {
		t.Errorf("expected no loose pool tokens, got %s", bal.Dec())
	}
	if eta := f.ETA(t); !eta.Gt(etaBefore) {
		t.Errorf("expected eta to grow by the gifted pool tokens: %s -> %s", etaBefore.Dec(), eta.Dec())
	}
}

func TestTend_RestoresDriftedDebt(t *testing.T) {
	f := newDeployed(t, nil)
	s, w := f.Strategy, f.World

	if err := s.SetDebtThresholds(w.Management, 9_800, 10_000, 10_200); err != nil {
		t.Fatalf("SetDebtThresholds: %v", err)
	}
	if s.TendTrigger(new(uint256.Int)) {
		t.Fatal("expected tend trigger off inside the band")
	}
	skewShortPool(t, w, 4)
	if !s.TendTrigger(new(uint256.Int)) {
		t.Fatal("expected tend trigger after pool drift")
	}
	if err := s.Tend(w.Keeper); err != nil {
		t.Fatalf("Tend: %v", err)
	}
	r := readRatios(t, s)
	testutil.AssertBpsNear(t, "debt ratio A", r.debtA, 10_000, 100)
	testutil.AssertBpsNear(t, "debt ratio B", r.debtB, 10_000, 100)
	if s.TendTrigger(new(uint256.Int)) {
		t.Error("expected tend trigger off after tend")
	}
}

// ============================================================================
// Test: Price guard
// ============================================================================

func TestRebalanceDebt_SandwichTripsGuard(t *testing.T) {
	f := newDeployed(t, nil)
	s, w := f.Strategy, f.World

	skewShortPool(t, w, 70)
	before := readRatios(t, s)
	pos := s.Position()

	err := s.RebalanceDebt(w.Keeper)
	if !errors.Is(err, strategy.ErrPriceManipulation) {
		t.Fatalf("expected ErrPriceManipulation, got %v", err)
	}
	var pme *strategy.PriceManipulationError
	if !errors.As(err, &pme) || pme.Pair != "short_a/short_b" {
		t.Errorf("expected short pair to trip, got %v", err)
	}

	after := readRatios(t, s)
	if after != before {
		t.Errorf("ratios changed after guard trip: before %+v, after %+v", before, after)
	}
	if got := s.Position(); !got.PoolTokens.Eq(pos.PoolTokens) || !got.BorrowedA.Eq(pos.BorrowedA) {
		t.Errorf("position changed after guard trip")
	}
}

func TestWithdraw_SandwichTripsGuard(t *testing.T) {
	f := testutil.NewFixture(t, nil)
	shares := f.Deposit(t, deposit)
	f.Harvest(t)
	s, w := f.Strategy, f.World

	skewShortPool(t, w, 70)
	before := readRatios(t, s)

	_, err := w.Vault.Withdraw(f.User, shares, 10_000)
	if !errors.Is(err, strategy.ErrPriceManipulation) {
		t.Fatalf("expected ErrPriceManipulation, got %v", err)
	}
	if after := readRatios(t, s); after != before {
		t.Errorf("ratios changed after guard trip: before %+v, after %+v", before, after)
	}
	if got := w.Bank.BalanceOf(w.Vault.ShareToken(), f.User); !got.Eq(shares) {
		t.Errorf("shares burned on failed withdrawal: got %s, want %s", got.Dec(), shares.Dec())
	}
}

func TestGuard_SettlementPairManipulation(t *testing.T) {
	f := newDeployed(t, nil)
	s, w := f.Strategy, f.World

	// Pump want/short A far from the oracle.
	ra, _, err := w.AMM.GetReserves(w.ShortA, w.Want)
	if err != nil {
		t.Fatalf("reserves: %v", err)
	}
	amount := pct(ra, 50)
	w.Fund(w.ShortA, w.Whale, amount)
	if _, err := w.AMM.Swap(w.Whale, amount, w.ShortA, w.Want); err != nil {
		t.Fatalf("swap: %v", err)
	}

	err = s.Guard().Check()
	var pme *strategy.PriceManipulationError
	if !errors.As(err, &pme) || pme.Pair != "short_a/want" {
		t.Fatalf("expected short_a/want to trip, got %v", err)
	}
}

func TestGuard_SettlementPairsCanBeDisabled(t *testing.T) {
	f := newDeployed(t, func(c *strategy.Config) { c.GuardSettlementPairs = false })
	w := f.World

	ra, _, err := w.AMM.GetReserves(w.ShortA, w.Want)
	if err != nil {
		t.Fatalf("reserves: %v", err)
	}
	amount := pct(ra, 50)
	w.Fund(w.ShortA, w.Whale, amount)
	if _, err := w.AMM.Swap(w.Whale, amount, w.ShortA, w.Want); err != nil {
		t.Fatalf("swap: %v", err)
	}
	if err := f.Strategy.Guard().Check(); err != nil {
		t.Fatalf("expected only the short pair to be checked, got %v", err)
	}
}
