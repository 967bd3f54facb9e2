package ingestion

import (
	"context"
	"encoding/json"
	"fmt"

	"LevFarm/internal/event"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// OutcomePublisher publishes command outcomes for downstream consumers on
// levfarm.outcome.{command_type}.{status}.
type OutcomePublisher struct {
	js        jetstream.JetStream
	inputChan <-chan *event.OutcomeEnvelope
	logger    zerolog.Logger
}

func NewOutcomePublisher(js jetstream.JetStream, inputChan <-chan *event.OutcomeEnvelope, logger zerolog.Logger) *OutcomePublisher {
	return &OutcomePublisher{
		js:        js,
		inputChan: inputChan,
		logger:    logger,
	}
}

// Run starts the publisher loop.
func (op *OutcomePublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case env, ok := <-op.inputChan:
			if !ok {
				return nil
			}
			if err := op.publish(ctx, env); err != nil {
				// Non-fatal: consumers can read the operation log directly
				op.logger.Warn().Err(err).Int64("sequence", env.Sequence).Msg("outcome publish failed")
			}
		}
	}
}

func (op *OutcomePublisher) publish(ctx context.Context, env *event.OutcomeEnvelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal outcome: %w", err)
	}
	_, err = op.js.Publish(ctx, OutcomeSubject(env), data, jetstream.WithMsgID(env.IdempotencyKey))
	return err
}

// OutcomeSubject is the subject an outcome is published on.
func OutcomeSubject(env *event.OutcomeEnvelope) string {
	return fmt.Sprintf("%s.%s.%s", OutcomeSubjectPrefix, env.CommandType, env.Status)
}
