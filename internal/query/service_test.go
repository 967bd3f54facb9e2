package query_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"LevFarm/internal/core"
	"LevFarm/internal/event"
	fpmath "LevFarm/internal/math"
	"LevFarm/internal/paper"
	"LevFarm/internal/projection"
	"LevFarm/internal/query"
	"LevFarm/internal/sim"
	"LevFarm/internal/strategy"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// direct runs inspections on the calling goroutine.
type direct struct{ exec *core.Executor }

func (d direct) Inspect(_ context.Context, fn func(*core.Executor)) error {
	fn(d.exec)
	return nil
}

type fixture struct {
	d     *paper.Deployment
	exec  *core.Executor
	store *projection.StatusStore
	qs    *query.QueryService
	out   chan core.CoreOutput
	at    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	d, err := paper.Deploy(sim.DefaultWorldConfig(), strategy.DefaultConfig(), "strategy:query", fpmath.BpsScale, nil)
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}
	d.World.Fund(d.World.Want, sim.Address("user:query"), sim.Units(1_000_000))
	out := make(chan core.CoreOutput, 16)
	exec, err := core.NewExecutor(core.Deps{
		Strategy: d.Strategy,
		Vault:    d.World.Vault,
		Bank:     d.World.Bank,
		Clock:    d.World.Chain,
		Paper:    d.World,
	}, out, nil)
	if err != nil {
		t.Fatalf("NewExecutor: %v", err)
	}
	store := projection.NewStatusStore(8)
	return &fixture{
		d:     d,
		exec:  exec,
		store: store,
		qs:    query.NewQueryService(nil, store, direct{exec}),
		out:   out,
		at:    d.World.Chain.Now(),
	}
}

func (f *fixture) run(t *testing.T, cmds ...event.Command) {
	t.Helper()
	for _, c := range cmds {
		if _, err := f.exec.ProcessCommand(c); err != nil {
			t.Fatalf("ProcessCommand: %v", err)
		}
		f.store.Apply(<-f.out)
	}
}

func (f *fixture) header(label string) event.Header {
	f.at = f.at.Add(time.Minute)
	from := sim.Address(label)
	if label == "keeper" {
		from = f.d.World.Keeper
	}
	return event.Header{CommandID: uuid.New(), From: from, IssuedAt: f.at}
}

// ============================================================================
// Test: Status and triggers
// ============================================================================

func TestGetStatus_FallsBackToExecutor(t *testing.T) {
	f := newFixture(t)
	st, err := f.qs.GetStatus(context.Background())
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if st.Strategy != f.d.Strategy.Address() {
		t.Errorf("strategy: got %s", st.Strategy.Hex())
	}

	f.run(t, &event.Deposit{Header: f.header("user:query"), Amount: decimal.NewFromInt(10_000)})
	st, _ = f.qs.GetStatus(context.Background())
	if st.Sequence != 1 {
		t.Errorf("projected sequence: got %d, want 1", st.Sequence)
	}
}

func TestGetTriggers(t *testing.T) {
	f := newFixture(t)
	f.run(t, &event.Deposit{Header: f.header("user:query"), Amount: decimal.NewFromInt(100_000)})

	report, err := f.qs.GetTriggers(context.Background(), decimal.NewFromInt(1))
	if err != nil {
		t.Fatalf("GetTriggers: %v", err)
	}
	if !report.Harvest {
		t.Error("expected harvest advice with idle credit")
	}
	if report.CallCost.Cmp(sim.Units(1)) != 0 {
		t.Errorf("call cost in units: got %s", report.CallCost.Dec())
	}

	if _, err := f.qs.GetTriggers(context.Background(), decimal.NewFromInt(-1)); err == nil {
		t.Error("expected negative call cost to fail")
	}
}

// ============================================================================
// Test: History and ledger without a database
// ============================================================================

func TestGetHistory_InMemoryWindow(t *testing.T) {
	f := newFixture(t)
	f.run(t,
		&event.Deposit{Header: f.header("user:query"), Amount: decimal.NewFromInt(100_000)},
		&event.Harvest{Header: f.header("keeper")},
		&event.Tend{Header: f.header("user:query")},
	)

	resp, err := f.qs.GetHistory(context.Background(), 10, "", nil)
	if err != nil {
		t.Fatalf("GetHistory: %v", err)
	}
	if len(resp.Operations) != 3 || resp.Operations[0].Sequence != 3 {
		t.Fatalf("operations: %+v", resp.Operations)
	}
	if resp.Operations[0].Status != event.StatusRejected || resp.Operations[0].Error == "" {
		t.Error("tend from a user must show as rejected with its error")
	}
	if resp.AsOfSequence != 3 {
		t.Errorf("as_of_sequence: got %d", resp.AsOfSequence)
	}

	before := int64(3)
	resp, _ = f.qs.GetHistory(context.Background(), 10, "harvest", &before)
	if len(resp.Operations) != 1 || resp.Operations[0].CommandType != "harvest" {
		t.Errorf("filtered operations: %+v", resp.Operations)
	}
}

func TestGetLedgerBalances_SumToZero(t *testing.T) {
	f := newFixture(t)
	f.run(t,
		&event.Deposit{Header: f.header("user:query"), Amount: decimal.NewFromInt(100_000)},
		&event.Harvest{Header: f.header("keeper")},
	)

	resp, err := f.qs.GetLedgerBalances(context.Background())
	if err != nil {
		t.Fatalf("GetLedgerBalances: %v", err)
	}
	if len(resp.Accounts) == 0 {
		t.Fatal("expected booked accounts after harvest")
	}
	for _, total := range resp.Totals {
		if total.Total != "0" {
			t.Errorf("asset %s sums to %s", total.Asset, total.Total)
		}
	}
}

func TestDatabaseQueries_NeedDatabase(t *testing.T) {
	f := newFixture(t)
	if _, err := f.qs.GetJournals(context.Background(), 10, nil); !errors.Is(err, query.ErrNoDatabase) {
		t.Errorf("GetJournals: %v", err)
	}
	if _, err := f.qs.VerifyIntegrity(context.Background()); !errors.Is(err, query.ErrNoDatabase) {
		t.Errorf("VerifyIntegrity: %v", err)
	}
}
