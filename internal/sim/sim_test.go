package sim_test

import (
	"errors"
	"testing"

	"LevFarm/internal/sim"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

type stubStrategy struct {
	addr common.Address
}

func (s stubStrategy) Address() common.Address { return s.addr }

func (s stubStrategy) Withdraw(common.Address, *uint256.Int, uint64) (*uint256.Int, error) {
	return new(uint256.Int), nil
}

// ============================================================================
// Test: Chain journal
// ============================================================================

func TestChain_RevertRestoresBalances(t *testing.T) {
	w := sim.NewWorld(sim.DefaultWorldConfig())
	alice := sim.Address("alice")
	w.Fund(w.Want, alice, sim.Units(10))

	snap := w.Chain.Snapshot()
	if err := w.Bank.Transfer(w.Want, alice, w.Whale, sim.Units(4)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	w.Fund(w.Want, alice, sim.Units(100))
	w.Chain.RevertToSnapshot(snap)

	if got := w.Bank.BalanceOf(w.Want, alice); !got.Eq(sim.Units(10)) {
		t.Errorf("balance after revert: got %s, want %s", got.Dec(), sim.Units(10).Dec())
	}
}

func TestChain_NestedSnapshots(t *testing.T) {
	w := sim.NewWorld(sim.DefaultWorldConfig())
	alice := sim.Address("alice")

	outer := w.Chain.Snapshot()
	w.Fund(w.Want, alice, sim.Units(1))
	inner := w.Chain.Snapshot()
	w.Fund(w.Want, alice, sim.Units(2))
	w.Chain.Commit(inner)

	if got := w.Bank.BalanceOf(w.Want, alice); !got.Eq(sim.Units(3)) {
		t.Fatalf("after inner commit: got %s, want 3e18", got.Dec())
	}
	w.Chain.RevertToSnapshot(outer)
	if got := w.Bank.BalanceOf(w.Want, alice); !got.IsZero() {
		t.Errorf("outer revert must undo committed inner changes, got %s", got.Dec())
	}
}

func TestBank_TransferInsufficient(t *testing.T) {
	w := sim.NewWorld(sim.DefaultWorldConfig())
	err := w.Bank.Transfer(w.Want, sim.Address("nobody"), w.Whale, sim.Units(1))
	if !errors.Is(err, sim.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
}

// ============================================================================
// Test: Lending market
// ============================================================================

func TestLending_BorrowLimitedByCollateralFactor(t *testing.T) {
	w := sim.NewWorld(sim.DefaultWorldConfig())
	alice := sim.Address("alice")
	w.Fund(w.Want, alice, sim.Units(1_000))
	if err := w.Market.Supply(alice, w.Want, sim.Units(1_000)); err != nil {
		t.Fatalf("supply: %v", err)
	}

	// 75% of $1000 is $750, i.e. 375 A at $2.
	if err := w.Market.Borrow(alice, w.ShortA, sim.Units(376)); !errors.Is(err, sim.ErrShortfall) {
		t.Fatalf("expected ErrShortfall, got %v", err)
	}
	if err := w.Market.Borrow(alice, w.ShortA, sim.Units(375)); err != nil {
		t.Fatalf("borrow at the limit: %v", err)
	}
	if err := w.Market.WithdrawCollateral(alice, w.Want, sim.Units(1)); !errors.Is(err, sim.ErrShortfall) {
		t.Fatalf("expected ErrShortfall on withdraw, got %v", err)
	}

	w.SetPrice(w.ShortA, decimal.NewFromInt(3))
	_, shortfall, err := w.Market.AccountLiquidity(alice)
	if err != nil {
		t.Fatalf("AccountLiquidity: %v", err)
	}
	if shortfall.IsZero() {
		t.Error("expected a shortfall after the borrowed asset rallied")
	}
}

func TestLending_MigratePosition(t *testing.T) {
	w := sim.NewWorld(sim.DefaultWorldConfig())
	alice, bob := sim.Address("alice"), sim.Address("bob")
	w.Fund(w.Want, alice, sim.Units(100))
	if err := w.Market.Supply(alice, w.Want, sim.Units(100)); err != nil {
		t.Fatalf("supply: %v", err)
	}
	if err := w.Market.Borrow(alice, w.ShortB, sim.Units(50)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if err := w.Market.MigratePosition(alice, bob); err != nil {
		t.Fatalf("MigratePosition: %v", err)
	}
	if !w.Market.SupplyBalance(alice, w.Want).IsZero() || !w.Market.BorrowBalance(alice, w.ShortB).IsZero() {
		t.Error("expected alice emptied")
	}
	if got := w.Market.BorrowBalance(bob, w.ShortB); !got.Eq(sim.Units(50)) {
		t.Errorf("bob borrow: got %s, want 50e18", got.Dec())
	}
}

// ============================================================================
// Test: AMM
// ============================================================================

func TestAMM_SeededAtOraclePrice(t *testing.T) {
	w := sim.NewWorld(sim.DefaultWorldConfig())
	ra, rb, err := w.AMM.GetReserves(w.ShortA, w.ShortB)
	if err != nil {
		t.Fatalf("GetReserves: %v", err)
	}
	// $20M per side: 10M A at $2, 40M B at $0.5.
	if !ra.Eq(sim.Units(10_000_000)) || !rb.Eq(sim.Units(40_000_000)) {
		t.Errorf("reserves: got %s / %s", ra.Dec(), rb.Dec())
	}
	rb2, ra2, err := w.AMM.GetReserves(w.ShortB, w.ShortA)
	if err != nil {
		t.Fatalf("GetReserves reversed: %v", err)
	}
	if !ra2.Eq(ra) || !rb2.Eq(rb) {
		t.Error("reserves must follow argument order")
	}
}

func TestAMM_SwapExactTokensSlippage(t *testing.T) {
	w := sim.NewWorld(sim.DefaultWorldConfig())
	alice := sim.Address("alice")
	w.Fund(w.Want, alice, sim.Units(100))
	path := []common.Address{w.Want, w.ShortA}

	quote, err := w.AMM.GetAmountsOut(sim.Units(100), path)
	if err != nil {
		t.Fatalf("GetAmountsOut: %v", err)
	}
	tooMuch := new(uint256.Int).AddUint64(quote[1], 1)
	if _, err := w.AMM.SwapExactTokensForTokens(alice, sim.Units(100), tooMuch, path); !errors.Is(err, sim.ErrSlippage) {
		t.Fatalf("expected ErrSlippage, got %v", err)
	}
	amounts, err := w.AMM.SwapExactTokensForTokens(alice, sim.Units(100), quote[1], path)
	if err != nil {
		t.Fatalf("swap: %v", err)
	}
	if got := w.Bank.BalanceOf(w.ShortA, alice); !got.Eq(amounts[1]) {
		t.Errorf("received %s, quoted %s", got.Dec(), amounts[1].Dec())
	}
}

func TestAMM_AddRemoveLiquidityRoundTrip(t *testing.T) {
	w := sim.NewWorld(sim.DefaultWorldConfig())
	alice := sim.Address("alice")
	w.Fund(w.ShortA, alice, sim.Units(10))
	w.Fund(w.ShortB, alice, sim.Units(100))

	usedA, usedB, minted, err := w.AMM.AddLiquidity(alice, w.ShortA, w.ShortB, sim.Units(10), sim.Units(100))
	if err != nil {
		t.Fatalf("AddLiquidity: %v", err)
	}
	if !usedA.Eq(sim.Units(10)) || !usedB.Eq(sim.Units(40)) {
		t.Errorf("used %s / %s, want 10e18 / 40e18", usedA.Dec(), usedB.Dec())
	}
	outA, outB, err := w.AMM.RemoveLiquidity(alice, w.ShortA, w.ShortB, minted)
	if err != nil {
		t.Fatalf("RemoveLiquidity: %v", err)
	}
	if outA.Gt(usedA) || outB.Gt(usedB) {
		t.Errorf("removed more than added: %s / %s", outA.Dec(), outB.Dec())
	}
}

// ============================================================================
// Test: Vault
// ============================================================================

func TestVault_DepositWithdrawIdle(t *testing.T) {
	w := sim.NewWorld(sim.DefaultWorldConfig())
	alice := sim.Address("alice")
	w.Fund(w.Want, alice, sim.Units(100))

	shares, err := w.Vault.Deposit(alice, sim.Units(100))
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	got, err := w.Vault.Withdraw(alice, shares, 0)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if !got.Eq(sim.Units(100)) {
		t.Errorf("withdrew %s, want 100e18", got.Dec())
	}
	if _, err := w.Vault.Withdraw(alice, shares, 0); !errors.Is(err, sim.ErrNoShares) {
		t.Errorf("expected ErrNoShares, got %v", err)
	}
}

func TestVault_DebtRatioLimit(t *testing.T) {
	w := sim.NewWorld(sim.DefaultWorldConfig())
	s := stubStrategy{addr: sim.Address("stub")}
	if err := w.Vault.AddStrategy(s, 10_001); !errors.Is(err, sim.ErrDebtRatioLimit) {
		t.Fatalf("expected ErrDebtRatioLimit, got %v", err)
	}
	if err := w.Vault.AddStrategy(s, 4_000); err != nil {
		t.Fatalf("AddStrategy: %v", err)
	}
	if err := w.Vault.AddStrategy(s, 1_000); !errors.Is(err, sim.ErrStrategyActive) {
		t.Fatalf("expected ErrStrategyActive, got %v", err)
	}
}
