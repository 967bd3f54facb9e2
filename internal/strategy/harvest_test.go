package strategy_test

import (
	"errors"
	"testing"

	fpmath "LevFarm/internal/math"
	"LevFarm/internal/sim"
	"LevFarm/internal/strategy"
	"LevFarm/internal/testutil"

	"github.com/holiman/uint256"
)

// ============================================================================
// Test: Deposit and first harvest
// ============================================================================

func TestHarvest_DeploysDepositAtTargets(t *testing.T) {
	f := newDeployed(t, nil)

	testutil.AssertApproxRel(t, "eta", f.ETA(t), units(deposit), "0.00001")

	r := readRatios(t, f.Strategy)
	testutil.AssertBpsNear(t, "collateral ratio", r.collateral, 6_000, 60)
	testutil.AssertBpsNear(t, "debt ratio A", r.debtA, 10_000, 100)
	testutil.AssertBpsNear(t, "debt ratio B", r.debtB, 10_000, 100)

	pos := f.Strategy.Position()
	if pos.SuppliedCollateral.IsZero() || pos.BorrowedA.IsZero() || pos.BorrowedB.IsZero() || pos.PoolTokens.IsZero() {
		t.Fatalf("expected a levered position, got %+v", pos)
	}
	if !pos.IdleWant.IsZero() {
		t.Errorf("expected no idle want, got %s", pos.IdleWant.Dec())
	}
	if got := f.World.Vault.TotalDebt(f.Strategy.Address()); !got.Eq(units(deposit)) {
		t.Errorf("vault total debt: got %s, want %s", got.Dec(), units(deposit).Dec())
	}
}

func TestHarvest_SecondHarvestIsIdempotent(t *testing.T) {
	f := newDeployed(t, nil)
	before := f.ETA(t)
	pps := f.World.Vault.PricePerShare()

	report := f.Harvest(t)
	if !report.Gain.IsZero() {
		t.Errorf("expected no gain on repeat harvest, got %s", report.Gain.Dec())
	}
	testutil.AssertApproxRel(t, "eta", f.ETA(t), before, "0.00001")
	if got := f.World.Vault.PricePerShare(); got.Gt(pps) {
		t.Errorf("price per share moved without profit: %s -> %s", pps.Dec(), got.Dec())
	}
}

// ============================================================================
// Test: Profit sources
// ============================================================================

func TestHarvest_RealizesFarmRewards(t *testing.T) {
	f := newDeployed(t, nil)
	w := f.World
	w.Farm.Accrue(w.PID, f.Strategy.Address(), units(1_000))

	report := f.Harvest(t)
	if report.Gain.Lt(units(990)) {
		t.Errorf("expected ~1000 gain from rewards, got %s", report.Gain.Dec())
	}
	if pps := w.Vault.PricePerShare(); !pps.Gt(fpmath.Wad()) {
		t.Errorf("expected price per share above 1, got %s", pps.Dec())
	}
	if bal := w.Bank.BalanceOf(w.Reward, f.Strategy.Address()); !bal.IsZero() {
		t.Errorf("expected reward sold, still holding %s", bal.Dec())
	}
}

func TestHarvest_RealizesLooseRewardTokens(t *testing.T) {
	f := newDeployed(t, nil)
	f.World.Fund(f.World.Reward, f.Strategy.Address(), units(500))

	report := f.Harvest(t)
	if report.Gain.Lt(units(490)) {
		t.Errorf("expected ~500 gain, got %s", report.Gain.Dec())
	}
}

func TestHarvest_RealizesTradingFees(t *testing.T) {
	f := newDeployed(t, nil)
	w := f.World

	// Fees accrue to the pair as extra balances.
	ra, rb, err := w.AMM.GetReserves(w.ShortA, w.ShortB)
	if err != nil {
		t.Fatalf("reserves: %v", err)
	}
	w.Fund(w.ShortA, w.LP, new(uint256.Int).Div(ra, uint256.NewInt(40)))
	w.Fund(w.ShortB, w.LP, new(uint256.Int).Div(rb, uint256.NewInt(40)))
	if err := w.AMM.Sync(w.LP); err != nil {
		t.Fatalf("sync: %v", err)
	}

	report := f.Harvest(t)
	if report.Gain.Lt(units(1_000)) {
		t.Errorf("expected ~1500 gain from fees, got %s", report.Gain.Dec())
	}
	if !report.Loss.IsZero() {
		t.Errorf("expected no loss, got %s", report.Loss.Dec())
	}
	if pps := w.Vault.PricePerShare(); !pps.Gt(fpmath.Wad()) {
		t.Errorf("expected price per share above 1, got %s", pps.Dec())
	}
}

// ============================================================================
// Test: Vault debt ratio changes
// ============================================================================

func TestHarvest_FollowsVaultDebtRatio(t *testing.T) {
	f := newDeployed(t, nil)
	w := f.World
	addr := f.Strategy.Address()

	steps := []struct {
		ratio uint64
		eta   uint64
	}{
		{5_000, deposit / 2},
		{10_000, deposit},
		{5_000, deposit / 2},
	}
	for _, st := range steps {
		if err := w.Vault.UpdateDebtRatio(addr, st.ratio); err != nil {
			t.Fatalf("UpdateDebtRatio(%d): %v", st.ratio, err)
		}
		f.Harvest(t)
		testutil.AssertApproxRel(t, "eta", f.ETA(t), units(st.eta), "0.001")
		r := readRatios(t, f.Strategy)
		testutil.AssertBpsNear(t, "collateral ratio", r.collateral, 6_000, 60)
	}

	if err := w.Vault.UpdateDebtRatio(addr, 0); err != nil {
		t.Fatalf("UpdateDebtRatio(0): %v", err)
	}
	f.Harvest(t)
	if eta := f.ETA(t); !eta.Lt(f.Strategy.Config().Dust) {
		t.Errorf("expected strategy emptied, eta %s", eta.Dec())
	}
	testutil.AssertApproxRel(t, "vault idle", w.Vault.Idle(), units(deposit), "0.001")
}

func TestHarvest_ReportsLossAfterLiquidation(t *testing.T) {
	f := newDeployed(t, nil)
	w := f.World
	addr := f.Strategy.Address()

	liquidated, loss, err := f.Strategy.LiquidatePositionAuth(w.Management, units(deposit/100))
	if err != nil {
		t.Fatalf("LiquidatePositionAuth: %v", err)
	}
	if !loss.IsZero() {
		t.Errorf("expected no loss on a healthy position, got %s", loss.Dec())
	}
	// The freed want walks away.
	thief := sim.Address("thief")
	if err := w.Bank.Transfer(w.Want, addr, thief, liquidated); err != nil {
		t.Fatalf("steal: %v", err)
	}

	if err := w.Vault.UpdateDebtRatio(addr, 5_000); err != nil {
		t.Fatalf("UpdateDebtRatio: %v", err)
	}
	report := f.Harvest(t)
	testutil.AssertApproxRel(t, "reported loss", report.Loss, units(deposit/100), "0.01")
	testutil.AssertApproxRel(t, "eta", f.ETA(t), units(deposit*495/1000), "0.001")
}

// ============================================================================
// Test: Emergency exit
// ============================================================================

func TestEmergencyExit_ReturnsEverything(t *testing.T) {
	f := newDeployed(t, nil)
	w := f.World

	if err := f.Strategy.SetEmergencyExit(w.Management); err != nil {
		t.Fatalf("SetEmergencyExit: %v", err)
	}
	if !f.Strategy.EmergencyExit() {
		t.Fatal("expected emergency flag set")
	}
	if got := w.Vault.DebtRatio(f.Strategy.Address()); got != 0 {
		t.Errorf("expected strategy revoked, debt ratio %d", got)
	}

	report := f.Harvest(t)
	if !report.Emergency {
		t.Error("expected emergency harvest")
	}
	if !f.Strategy.Position().IsZero() {
		t.Errorf("expected empty position, got %+v", f.Strategy.Position())
	}
	testutil.AssertApproxRel(t, "vault idle", w.Vault.Idle(), units(deposit), "0.00001")
	if f.Strategy.TendTrigger(new(uint256.Int)) {
		t.Error("tend trigger must stay off under emergency exit")
	}
}

func TestEmergencyExit_Unauthorized(t *testing.T) {
	f := newDeployed(t, nil)
	err := f.Strategy.SetEmergencyExit(f.World.Keeper)
	if !errors.Is(err, strategy.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if f.Strategy.EmergencyExit() {
		t.Error("flag set by unauthorized caller")
	}
}

// ============================================================================
// Test: Farm variants
// ============================================================================

func TestHarvest_RecipientFarm(t *testing.T) {
	wcfg := sim.DefaultWorldConfig()
	wcfg.RecipientFarm = true
	f := testutil.NewFixtureWithWorld(t, wcfg, nil)
	if got := f.Strategy.Config().FarmKind; got != strategy.FarmRecipient {
		t.Fatalf("expected recipient farm kind, got %s", got)
	}
	shares := f.Deposit(t, deposit)
	f.Harvest(t)
	testutil.AssertApproxRel(t, "eta", f.ETA(t), units(deposit), "0.00001")

	f.World.Farm.Accrue(f.World.PID, f.Strategy.Address(), units(100))
	if report := f.Harvest(t); report.Gain.IsZero() {
		t.Error("expected reward gain through recipient farm")
	}

	got, err := f.World.Vault.Withdraw(f.User, shares, 1)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if got.Lt(units(deposit)) {
		t.Errorf("expected at least the deposit back, got %s", got.Dec())
	}
}

func TestNew_FarmKindMismatch(t *testing.T) {
	w := sim.NewWorld(sim.DefaultWorldConfig())
	cfg := testutil.StrategyConfig(w, "strategy:bad")
	cfg.FarmKind = strategy.FarmRecipient

	_, err := strategy.New(cfg, testutil.Deps(w))
	if !errors.Is(err, strategy.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
}
