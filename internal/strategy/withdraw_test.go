package strategy_test

import (
	"errors"
	"testing"

	"LevFarm/internal/strategy"
	"LevFarm/internal/testutil"

	"github.com/holiman/uint256"
)

// ============================================================================
// Test: Vault withdrawals
// ============================================================================

func TestWithdraw_HalfWithoutLoss(t *testing.T) {
	f := testutil.NewFixture(t, nil)
	shares := f.Deposit(t, deposit)
	f.Harvest(t)
	before := readRatios(t, f.Strategy)

	half := new(uint256.Int).Div(shares, uint256.NewInt(2))
	got, err := f.World.Vault.Withdraw(f.User, half, 1)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	testutil.AssertApproxRel(t, "withdrawn", got, units(deposit/2), "0.00001")
	testutil.AssertApproxRel(t, "eta", f.ETA(t), units(deposit/2), "0.00001")

	after := readRatios(t, f.Strategy)
	testutil.AssertBpsNear(t, "collateral ratio", after.collateral, before.collateral, 30)
	testutil.AssertBpsNear(t, "debt ratio A", after.debtA, before.debtA, 30)
	testutil.AssertBpsNear(t, "debt ratio B", after.debtB, before.debtB, 30)
}

func TestWithdraw_AllLeavesDust(t *testing.T) {
	f := testutil.NewFixture(t, nil)
	shares := f.Deposit(t, deposit)
	f.Harvest(t)

	got, err := f.World.Vault.Withdraw(f.User, shares, 1)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	testutil.AssertApproxRel(t, "withdrawn", got, units(deposit), "0.00001")
	if eta := f.ETA(t); !eta.Lt(f.Strategy.Config().Dust) {
		t.Errorf("expected strategy below dust, eta %s", eta.Dec())
	}
}

// Interest on both borrows puts the strategy under water by L; withdrawing
// a fraction f of the shares pays about f*(1-L) and leaves the ratios alone.
func TestWithdraw_HalfWithLossSharesLossProRata(t *testing.T) {
	f := testutil.NewFixture(t, nil)
	shares := f.Deposit(t, deposit)
	f.Harvest(t)
	w := f.World

	w.Market.AccrueInterest(w.ShortA, 1_000)
	w.Market.AccrueInterest(w.ShortB, 1_000)
	eta := f.ETA(t)
	totalDebt := w.Vault.TotalDebt(f.Strategy.Address())
	if !eta.Lt(totalDebt) {
		t.Fatalf("expected an unrealized loss, eta %s debt %s", eta.Dec(), totalDebt.Dec())
	}
	before := readRatios(t, f.Strategy)

	half := new(uint256.Int).Div(shares, uint256.NewInt(2))
	got, err := w.Vault.Withdraw(f.User, half, 10_000)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	expected := new(uint256.Int).Div(eta, uint256.NewInt(2))
	testutil.AssertApproxRel(t, "withdrawn", got, expected, "0.003")

	after := readRatios(t, f.Strategy)
	testutil.AssertBpsNear(t, "debt ratio A", after.debtA, before.debtA, before.debtA*30/10_000)
	testutil.AssertBpsNear(t, "debt ratio B", after.debtB, before.debtB, before.debtB*30/10_000)
}

func TestWithdraw_ExcessiveLossRollsBack(t *testing.T) {
	f := testutil.NewFixture(t, nil)
	shares := f.Deposit(t, deposit)
	f.Harvest(t)
	w := f.World

	w.Market.AccrueInterest(w.ShortA, 1_000)
	w.Market.AccrueInterest(w.ShortB, 1_000)
	pos := f.Strategy.Position()

	half := new(uint256.Int).Div(shares, uint256.NewInt(2))
	_, err := w.Vault.Withdraw(f.User, half, 1)
	if !errors.Is(err, strategy.ErrExcessiveLoss) {
		t.Fatalf("expected ErrExcessiveLoss, got %v", err)
	}
	var ele *strategy.ExcessiveLossError
	if !errors.As(err, &ele) || ele.MaxLossBps != 1 {
		t.Errorf("expected *ExcessiveLossError with max 1 bps, got %v", err)
	}
	if got := f.Strategy.Position(); !got.SuppliedCollateral.Eq(pos.SuppliedCollateral) || !got.PoolTokens.Eq(pos.PoolTokens) {
		t.Errorf("position changed after rejected withdrawal")
	}
	if got := w.Bank.BalanceOf(w.Vault.ShareToken(), f.User); !got.Eq(shares) {
		t.Errorf("shares burned on rejected withdrawal")
	}
}

func TestWithdraw_OnlyVault(t *testing.T) {
	f := newDeployed(t, nil)
	_, err := f.Strategy.Withdraw(f.World.Governance, units(1), 10_000)
	if !errors.Is(err, strategy.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	_, _, err = f.Strategy.LiquidatePosition(f.World.Keeper, units(1))
	if !errors.Is(err, strategy.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

// ============================================================================
// Test: Liquidation
// ============================================================================

func TestLiquidatePosition_LeavesWantIdle(t *testing.T) {
	f := newDeployed(t, nil)
	w := f.World

	liquidated, loss, err := f.Strategy.LiquidatePosition(w.Vault.Address(), units(10_000))
	if err != nil {
		t.Fatalf("LiquidatePosition: %v", err)
	}
	if !loss.IsZero() {
		t.Errorf("expected no loss, got %s", loss.Dec())
	}
	testutil.AssertApproxRel(t, "liquidated", liquidated, units(10_000), "0.00001")
	if idle := f.Strategy.BalanceOfWant(); !idle.Eq(liquidated) {
		t.Errorf("idle want: got %s, want %s", idle.Dec(), liquidated.Dec())
	}
	testutil.AssertApproxRel(t, "eta", f.ETA(t), units(deposit), "0.00001")
}

func TestLiquidatePosition_ZeroAmount(t *testing.T) {
	f := newDeployed(t, nil)
	liquidated, loss, err := f.Strategy.LiquidatePositionAuth(f.World.Governance, new(uint256.Int))
	if err != nil {
		t.Fatalf("LiquidatePositionAuth: %v", err)
	}
	if !liquidated.IsZero() || !loss.IsZero() {
		t.Errorf("expected nothing, got liquidated %s loss %s", liquidated.Dec(), loss.Dec())
	}
}
