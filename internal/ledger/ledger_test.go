package ledger_test

import (
	"testing"

	"LevFarm/internal/ledger"
	"LevFarm/internal/sim"
	"LevFarm/internal/strategy"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

var (
	strat  = sim.Address("strategy:0")
	assets = ledger.Assets{
		Want:   sim.Address("token:want"),
		ShortA: sim.Address("token:a"),
		ShortB: sim.Address("token:b"),
		Pool:   sim.Address("token:lp"),
	}
)

func pos(collateral, a, b, lp, idle uint64) strategy.Position {
	return strategy.Position{
		SuppliedCollateral: uint256.NewInt(collateral),
		BorrowedA:          uint256.NewInt(a),
		BorrowedB:          uint256.NewInt(b),
		PoolTokens:         uint256.NewInt(lp),
		IdleWant:           uint256.NewInt(idle),
	}
}

// ============================================================================
// Test: AccountKey
// ============================================================================

func TestAccountKey_PathRoundTrip(t *testing.T) {
	key := ledger.NewStrategyAccountKey(strat, ledger.SubTypeDebtA, assets.ShortA)
	path := key.AccountPath()

	want := "strategy:" + strat.Hex() + ":debt_a:" + assets.ShortA.Hex()
	if path != want {
		t.Fatalf("got %q, want %q", path, want)
	}
	parsed, err := ledger.ParseAccountPath(path)
	if err != nil {
		t.Fatalf("ParseAccountPath: %v", err)
	}
	if parsed != key {
		t.Errorf("round trip: got %+v, want %+v", parsed, key)
	}
}

func TestAccountKey_Counterparty(t *testing.T) {
	key := ledger.NewStrategyAccountKey(strat, ledger.SubTypeCollateral, assets.Want)
	cp := key.Counterparty()
	if cp.Scope != ledger.AccountScopeCounterparty || cp.Owner != key.Owner || cp.Asset != key.Asset {
		t.Errorf("unexpected counterparty %+v", cp)
	}
}

func TestParseAccountPath_Rejects(t *testing.T) {
	for _, p := range []string{
		"user:x:collateral:USDT",
		"strategy:" + strat.Hex() + ":collateral",
		"strategy:nothex:collateral:" + assets.Want.Hex(),
		"strategy:" + strat.Hex() + ":margin:" + assets.Want.Hex(),
	} {
		if _, err := ledger.ParseAccountPath(p); err == nil {
			t.Errorf("expected error for %q", p)
		}
	}
}

// ============================================================================
// Test: Batch validation
// ============================================================================

func TestBatch_ValidateRejectsZeroAmount(t *testing.T) {
	batchID := uuid.New()
	key := ledger.NewStrategyAccountKey(strat, ledger.SubTypeIdle, assets.Want)
	batch := &ledger.Batch{
		BatchID: batchID,
		Journals: []ledger.Journal{{
			JournalID:     uuid.New(),
			BatchID:       batchID,
			DebitAccount:  key,
			CreditAccount: key.Counterparty(),
			Amount:        new(uint256.Int),
		}},
	}
	if err := batch.Validate(); err == nil {
		t.Fatal("expected error for zero amount")
	}
}

func TestBatch_ValidateRejectsCrossAsset(t *testing.T) {
	batchID := uuid.New()
	batch := &ledger.Batch{
		BatchID: batchID,
		Journals: []ledger.Journal{{
			JournalID:     uuid.New(),
			BatchID:       batchID,
			DebitAccount:  ledger.NewStrategyAccountKey(strat, ledger.SubTypeDebtA, assets.ShortA),
			CreditAccount: ledger.NewCounterpartyAccountKey(strat, ledger.SubTypeDebtA, assets.ShortB),
			Amount:        uint256.NewInt(1),
		}},
	}
	if err := batch.Validate(); err == nil {
		t.Fatal("expected error for cross-asset journal")
	}
}

func TestBatch_EmptyIsValid(t *testing.T) {
	if err := (&ledger.Batch{BatchID: uuid.New()}).Validate(); err != nil {
		t.Fatalf("empty batch: %v", err)
	}
}

// ============================================================================
// Test: Generator + tracker + validator
// ============================================================================

func TestGenerator_BooksOnlyMovedLegs(t *testing.T) {
	gen := ledger.NewJournalGenerator(7)
	batch, err := gen.GeneratePositionChanges("cmd-1", 1, ledger.PositionChange{
		Strategy: strat, Assets: assets,
		Before: pos(100, 10, 40, 0, 5),
		After:  pos(100, 15, 30, 20, 0),
	})
	if err != nil {
		t.Fatalf("GeneratePositionChanges: %v", err)
	}
	if batch.Sequence != 7 {
		t.Errorf("sequence: got %d, want 7", batch.Sequence)
	}
	if len(batch.Journals) != 4 {
		t.Fatalf("journals: got %d, want 4", len(batch.Journals))
	}

	wantTypes := []ledger.JournalType{
		ledger.JournalTypeBorrow,
		ledger.JournalTypeRepay,
		ledger.JournalTypeProvideLiquidity,
		ledger.JournalTypeIdleOut,
	}
	for i, j := range batch.Journals {
		if j.JournalType != wantTypes[i] {
			t.Errorf("journal %d: got %s, want %s", i, j.JournalType, wantTypes[i])
		}
	}
	if got := batch.Journals[1].Amount.Uint64(); got != 10 {
		t.Errorf("repay amount: got %d, want 10", got)
	}
}

func TestGenerator_DeterministicIDs(t *testing.T) {
	change := ledger.PositionChange{Strategy: strat, Assets: assets, Before: pos(0, 0, 0, 0, 0), After: pos(1, 2, 3, 4, 5)}
	a, _ := ledger.NewJournalGenerator(3).GeneratePositionChanges("cmd-x", 1, change)
	b, _ := ledger.NewJournalGenerator(3).GeneratePositionChanges("cmd-x", 1, change)

	if a.BatchID != b.BatchID {
		t.Fatal("batch IDs differ across identical generations")
	}
	for i := range a.Journals {
		if a.Journals[i].JournalID != b.Journals[i].JournalID {
			t.Errorf("journal %d IDs differ", i)
		}
	}
}

func TestTracker_ReconcilesAfterSequenceOfChanges(t *testing.T) {
	gen := ledger.NewJournalGenerator(0)
	tracker := ledger.NewBalanceTracker()
	v := ledger.NewInvariantValidator(tracker)

	steps := []strategy.Position{
		pos(0, 0, 0, 0, 100),
		pos(100, 15, 60, 30, 0),
		pos(60, 9, 36, 18, 40),
		pos(0, 0, 0, 0, 0),
	}
	prev := strategy.Position{}
	for i, next := range steps {
		batch, err := gen.GeneratePositionChanges("cmd", int64(i), ledger.PositionChange{
			Strategy: strat, Assets: assets, Before: prev, After: next,
		})
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if err := tracker.ApplyBatch(batch); err != nil {
			t.Fatalf("step %d apply: %v", i, err)
		}
		if err := v.ValidateReconciled(strat, assets, next); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if err := v.ValidateGlobalBalance(); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		prev = next
	}
}

func TestValidator_DetectsDrift(t *testing.T) {
	tracker := ledger.NewBalanceTracker()
	v := ledger.NewInvariantValidator(tracker)
	tracker.SetBalance(ledger.NewStrategyAccountKey(strat, ledger.SubTypeCollateral, assets.Want), decimal.NewFromInt(99))

	if err := v.ValidateReconciled(strat, assets, pos(100, 0, 0, 0, 0)); err == nil {
		t.Error("expected reconciliation error")
	}
	if err := v.ValidateGlobalBalance(); err == nil {
		t.Error("expected global balance error")
	}
}
