package persistence_test

import (
	"context"
	"testing"
	"time"

	"LevFarm/internal/core"
	"LevFarm/internal/event"
	"LevFarm/internal/ingestion"
	fpmath "LevFarm/internal/math"
	"LevFarm/internal/paper"
	"LevFarm/internal/persistence"
	"LevFarm/internal/sim"
	"LevFarm/internal/strategy"
	"LevFarm/internal/testutil"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func newExecutor(t *testing.T, persist chan core.CoreOutput) (*paper.Deployment, *core.Executor) {
	t.Helper()
	d, err := paper.Deploy(sim.DefaultWorldConfig(), strategy.DefaultConfig(), "strategy:persist", fpmath.BpsScale, nil)
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}
	d.World.Fund(d.World.Want, sim.Address("user:persist"), sim.Units(1_000_000))
	exec, err := core.NewExecutor(core.Deps{
		Strategy: d.Strategy,
		Vault:    d.World.Vault,
		Bank:     d.World.Bank,
		Clock:    d.World.Chain,
		Paper:    d.World,
	}, persist, nil)
	if err != nil {
		t.Fatalf("NewExecutor: %v", err)
	}
	return d, exec
}

func runCommands(t *testing.T, d *paper.Deployment, exec *core.Executor, persist chan core.CoreOutput) []core.CoreOutput {
	t.Helper()
	at := d.World.Chain.Now()
	hdr := func(from common.Address) event.Header {
		at = at.Add(time.Minute)
		return event.Header{CommandID: uuid.New(), From: from, IssuedAt: at}
	}
	cmds := []event.Command{
		&event.Deposit{Header: hdr(sim.Address("user:persist")), Amount: decimal.NewFromInt(50_000)},
		&event.Harvest{Header: hdr(d.World.Keeper)},
		&event.Tend{Header: hdr(sim.Address("user:persist"))},
	}
	var outs []core.CoreOutput
	for _, c := range cmds {
		if _, err := exec.ProcessCommand(c); err != nil {
			t.Fatalf("ProcessCommand: %v", err)
		}
		outs = append(outs, <-persist)
	}
	return outs
}

// ============================================================================
// Test: Row conversion
// ============================================================================

func TestRows_CarryEnvelopeAndJournals(t *testing.T) {
	persist := make(chan core.CoreOutput, 8)
	d, exec := newExecutor(t, persist)
	outs := runCommands(t, d, exec, persist)

	op, journals := persistence.Rows(outs[1])
	if op.Sequence != 2 || op.CommandType != "harvest" || op.Status != event.StatusApplied {
		t.Fatalf("operation row: %+v", op)
	}
	if op.Error != nil {
		t.Errorf("applied operation carries error %q", *op.Error)
	}
	if len(journals) != len(outs[1].Batch.Journals) || len(journals) == 0 {
		t.Fatalf("journal rows: got %d, batch has %d", len(journals), len(outs[1].Batch.Journals))
	}
	for _, j := range journals {
		if j.Sequence != 2 {
			t.Errorf("journal %s sequence %d", j.JournalID, j.Sequence)
		}
		if j.Amount == "0" || j.Amount == "" {
			t.Errorf("journal %s amount %q", j.JournalID, j.Amount)
		}
	}

	rejected, _ := persistence.Rows(outs[2])
	if rejected.Status != event.StatusRejected || rejected.Error == nil {
		t.Errorf("tend from a user must be logged as rejected: %+v", rejected)
	}
}

func TestSnapshotData_Decode(t *testing.T) {
	persist := make(chan core.CoreOutput, 8)
	d, exec := newExecutor(t, persist)
	runCommands(t, d, exec, persist)

	state := exec.CreateSnapshotState()
	decoded, err := persistence.EncodeSnapshot(state, time.Unix(0, 0)).Decode()
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded.StateHash != state.StateHash || decoded.Sequence != state.Sequence {
		t.Error("hash or sequence lost")
	}
	if err := exec.VerifySnapshot(decoded); err != nil {
		t.Errorf("decoded snapshot must verify against its source: %v", err)
	}
}

func TestSnapshotData_DecodeRejectsBadHash(t *testing.T) {
	data := &persistence.SnapshotData{Sequence: 4, StateHash: "abc"}
	if _, err := data.Decode(); err == nil {
		t.Fatal("expected error for a short hash")
	}
}

// ============================================================================
// Test: Postgres round trip
// ============================================================================

func TestRecover_ReplaysLoggedOperations(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	persist := make(chan core.CoreOutput, 8)
	d, exec := newExecutor(t, persist)
	outs := runCommands(t, d, exec, persist)

	in := make(chan core.CoreOutput, len(outs))
	for _, o := range outs {
		in <- o
	}
	close(in)
	worker := persistence.NewPersistenceWorker(db, in, 2, time.Second, nil, zerolog.Nop())
	if err := worker.Run(ctx); err != nil {
		t.Fatalf("worker: %v", err)
	}

	sm := persistence.NewSnapshotManager(db)
	if err := sm.SaveSnapshot(ctx, persistence.EncodeSnapshot(exec.CreateSnapshotState(), time.Now())); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}

	_, fresh := newExecutor(t, make(chan core.CoreOutput, 8))
	last, err := persistence.Recover(ctx, sm, fresh, ingestion.ParseCommand, zerolog.Nop())
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if last != 3 {
		t.Errorf("last sequence: got %d, want 3", last)
	}
	if fresh.GetStateHash() != exec.GetStateHash() {
		t.Error("recovered chain tip differs")
	}

	dup, err := persistence.NewPostgresIdempotencyChecker(db).IsDuplicate("harvest", outs[1].Envelope.IdempotencyKey)
	if err != nil || !dup {
		t.Errorf("IsDuplicate: got %v, %v", dup, err)
	}
}
