package ingestion_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"LevFarm/internal/event"
	"LevFarm/internal/ingestion"
	"LevFarm/internal/testutil"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ============================================================================
// Test: JetStream round trip
// ============================================================================

func TestNATS_CommandReachesExecutorAndOutcomeIsPublished(t *testing.T) {
	testutil.RequireIntegration(t)
	js, cleanup := testutil.SetupTestNATS(t, ingestion.CommandStream, ingestion.OutcomeStream)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := ingestion.EnsureStreams(ctx, js, zerolog.Nop()); err != nil {
		t.Fatalf("EnsureStreams: %v", err)
	}

	raw := make(chan ingestion.RawCommand, 4)
	sub := ingestion.NewNATSSubscriber(js, raw, "levfarm-test", zerolog.Nop())
	if err := sub.Subscribe(ctx); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Stop()

	data, _ := json.Marshal(header(nil))
	if _, err := js.Publish(ctx, ingestion.CommandSubjectPrefix+".tend", data); err != nil {
		t.Fatalf("publish command: %v", err)
	}

	loopRaw := make(chan ingestion.RawCommand, 1)
	select {
	case msg := <-raw:
		loopRaw <- msg
		close(loopRaw)
	case <-ctx.Done():
		t.Fatal("command not delivered")
	}
	rec := &recordingEnqueuer{}
	ingestion.RunNATSLoop(ctx, loopRaw, rec, zerolog.Nop())
	if len(rec.got) != 1 || rec.got[0].CommandType() != event.CommandTypeTend {
		t.Fatalf("enqueued: %v", rec.got)
	}

	outcomes := make(chan *event.OutcomeEnvelope, 1)
	env := &event.OutcomeEnvelope{
		Sequence:       1,
		IdempotencyKey: uuid.NewString(),
		CommandType:    event.CommandTypeTend,
		Status:         event.StatusApplied,
	}
	outcomes <- env
	close(outcomes)
	if err := ingestion.NewOutcomePublisher(js, outcomes, zerolog.Nop()).Run(ctx); err != nil {
		t.Fatalf("publisher: %v", err)
	}

	stream, err := js.Stream(ctx, ingestion.OutcomeStream)
	if err != nil {
		t.Fatalf("outcome stream: %v", err)
	}
	got, err := stream.GetLastMsgForSubject(ctx, ingestion.OutcomeSubject(env))
	if err != nil {
		t.Fatalf("outcome not published on %s: %v", ingestion.OutcomeSubject(env), err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(got.Data, &decoded); err != nil {
		t.Fatalf("decode outcome: %v", err)
	}
	if decoded["command_type"] != "tend" {
		t.Errorf("command_type: %v", decoded["command_type"])
	}
}
