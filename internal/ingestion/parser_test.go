package ingestion_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"LevFarm/internal/event"
	"LevFarm/internal/ingestion"
	"LevFarm/internal/sim"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func payload(t *testing.T, v map[string]interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func header(extra map[string]interface{}) map[string]interface{} {
	m := map[string]interface{}{
		"command_id": "550e8400-e29b-41d4-a716-446655440000",
		"from":       sim.Address("role:keeper").Hex(),
		"source":     "ops",
		"sequence":   3,
		"issued_at":  "2024-01-02T03:04:05Z",
	}
	for k, v := range extra {
		m[k] = v
	}
	return m
}

// ============================================================================
// Test: ParseCommand
// ============================================================================

func TestParseCommand_Harvest(t *testing.T) {
	cmd, err := ingestion.ParseCommand("harvest", payload(t, header(nil)))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	h, ok := cmd.(*event.Harvest)
	if !ok {
		t.Fatalf("expected *event.Harvest, got %T", cmd)
	}
	if h.IdempotencyKey() != "550e8400-e29b-41d4-a716-446655440000" {
		t.Errorf("idempotency key: got %s", h.IdempotencyKey())
	}
	if h.Sender() != sim.Address("role:keeper") {
		t.Errorf("sender: got %s", h.Sender().Hex())
	}
	if h.Partition() != "source:ops" || h.SourceSequence() != 3 {
		t.Errorf("partition/sequence: got %s/%d", h.Partition(), h.SourceSequence())
	}
	if !h.Timestamp().Equal(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)) {
		t.Errorf("timestamp: got %s", h.Timestamp())
	}
}

func TestParseCommand_RedeemDecimalShares(t *testing.T) {
	cmd, err := ingestion.ParseCommand("redeem", payload(t, header(map[string]interface{}{
		"shares":       "12.5",
		"max_loss_bps": 30,
	})))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	r := cmd.(*event.Redeem)
	if !r.Shares.Equal(decimal.RequireFromString("12.5")) || r.MaxLossBps != 30 {
		t.Errorf("got shares=%s max_loss=%d", r.Shares, r.MaxLossBps)
	}
}

func TestParseCommand_SetThresholds(t *testing.T) {
	cmd, err := ingestion.ParseCommand("set_thresholds", payload(t, header(map[string]interface{}{
		"band": "debt", "min": 9_500, "target": 10_000, "max": 10_500,
	})))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	st := cmd.(*event.SetThresholds)
	if st.Band != event.BandDebt || st.Min != 9_500 || st.Target != 10_000 || st.Max != 10_500 {
		t.Errorf("unexpected %+v", st)
	}
}

func TestParseCommand_Rejects(t *testing.T) {
	cases := []struct {
		name, typ string
		body      map[string]interface{}
	}{
		{"unknown type", "trade_fill", header(nil)},
		{"unknown field", "harvest", header(map[string]interface{}{"market": "x"})},
		{"missing id", "tend", header(map[string]interface{}{"command_id": uuid.Nil.String()})},
		{"negative amount", "liquidate", header(map[string]interface{}{"amount": "-1"})},
		{"zero deposit", "deposit", header(map[string]interface{}{"amount": "0"})},
		{"bad band", "set_thresholds", header(map[string]interface{}{"band": "margin"})},
		{"loss above 100%", "redeem", header(map[string]interface{}{"max_loss_bps": 10_001})},
		{"no successor", "migrate", header(nil)},
		{"no token", "sweep", header(nil)},
	}
	for _, c := range cases {
		if _, err := ingestion.ParseCommand(c.typ, payload(t, c.body)); err == nil {
			t.Errorf("%s: expected error", c.name)
		}
	}
}

func TestCommandTypeFromSubject(t *testing.T) {
	got, err := ingestion.CommandTypeFromSubject("levfarm.command.rebalance_debt.ops")
	if err != nil || got != "rebalance_debt" {
		t.Errorf("got %q, %v", got, err)
	}
	if _, err := ingestion.CommandTypeFromSubject("perp.trades.btc"); err == nil {
		t.Error("expected error for foreign subject")
	}
}

// ============================================================================
// Test: Ingest service
// ============================================================================

type recordingSubmitter struct {
	got event.Command
}

func (r *recordingSubmitter) Submit(_ context.Context, cmd event.Command) (*event.OutcomeEnvelope, error) {
	r.got = cmd
	return &event.OutcomeEnvelope{IdempotencyKey: cmd.IdempotencyKey(), Status: event.StatusApplied}, nil
}

func TestInject_StampsMissingHeader(t *testing.T) {
	rec := &recordingSubmitter{}
	svc := ingestion.NewCommandIngestService(rec)

	body := payload(t, map[string]interface{}{"from": sim.Address("role:keeper").Hex()})
	out, err := svc.Inject(context.Background(), "tend", body)
	if err != nil {
		t.Fatalf("Inject: %v", err)
	}
	if rec.got == nil || rec.got.IdempotencyKey() == uuid.Nil.String() {
		t.Fatal("expected a generated command id")
	}
	if rec.got.Timestamp().IsZero() {
		t.Error("expected issue time stamped")
	}
	if rec.got.Partition() != "source:http" {
		t.Errorf("partition: got %s", rec.got.Partition())
	}
	if out.IdempotencyKey != rec.got.IdempotencyKey() {
		t.Error("outcome does not belong to the submitted command")
	}
}

func TestOutcomeSubject(t *testing.T) {
	env := &event.OutcomeEnvelope{CommandType: event.CommandTypeHarvest, Status: event.StatusRejected}
	if got := ingestion.OutcomeSubject(env); got != "levfarm.outcome.harvest.rejected" {
		t.Errorf("got %s", got)
	}
}

// ============================================================================
// Test: NATS loop
// ============================================================================

type recordingEnqueuer struct {
	got []event.Command
}

func (r *recordingEnqueuer) Enqueue(_ context.Context, cmd event.Command) error {
	r.got = append(r.got, cmd)
	return nil
}

func TestRunNATSLoop_AcksParsedAndDropped(t *testing.T) {
	raw := make(chan ingestion.RawCommand, 3)
	acks, naks := 0, 0
	msg := func(subject string, data []byte) ingestion.RawCommand {
		return ingestion.RawCommand{
			Subject:   subject,
			Data:      data,
			Timestamp: time.Unix(1_700_000_000, 0),
			AckFunc:   func() { acks++ },
			NakFunc:   func() { naks++ },
		}
	}
	raw <- msg("levfarm.command.tend", payload(t, header(nil)))
	raw <- msg("levfarm.command.tend", []byte("{not json"))
	raw <- msg("levfarm.command.bogus", payload(t, header(nil)))
	close(raw)

	rec := &recordingEnqueuer{}
	ingestion.RunNATSLoop(context.Background(), raw, rec, zerolog.Nop())

	if len(rec.got) != 1 || rec.got[0].CommandType() != event.CommandTypeTend {
		t.Fatalf("enqueued: %v", rec.got)
	}
	if acks != 3 || naks != 0 {
		t.Errorf("acks=%d naks=%d, want 3 and 0", acks, naks)
	}
}
