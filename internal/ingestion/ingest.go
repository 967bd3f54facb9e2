package ingestion

import (
	"context"
	"time"

	"LevFarm/internal/event"

	"github.com/rs/zerolog"
)

// Submitter hands a command to the executor and waits for its outcome.
type Submitter interface {
	Submit(ctx context.Context, cmd event.Command) (*event.OutcomeEnvelope, error)
}

// Enqueuer hands a command to the executor without waiting.
type Enqueuer interface {
	Enqueue(ctx context.Context, cmd event.Command) error
}

// CommandIngestService serves manual command injection (HTTP admin
// surface). High-throughput producers publish to NATS instead.
type CommandIngestService struct {
	submitter Submitter
	now       func() time.Time
}

func NewCommandIngestService(submitter Submitter) *CommandIngestService {
	return &CommandIngestService{submitter: submitter, now: time.Now}
}

// Inject parses, stamps and runs one command, returning its outcome.
func (s *CommandIngestService) Inject(ctx context.Context, commandType string, data []byte) (*event.OutcomeEnvelope, error) {
	cmd, err := parseStamped(commandType, data, "http", s.now())
	if err != nil {
		return nil, err
	}
	return s.submitter.Submit(ctx, cmd)
}

// parseStamped stamps before validating so that callers may omit the
// command ID and issue time.
func parseStamped(commandType string, data []byte, source string, now time.Time) (event.Command, error) {
	ct, err := event.ParseCommandType(commandType)
	if err != nil {
		return nil, err
	}
	cmd := newCommand(ct)
	if err := decodeStrict(data, cmd); err != nil {
		return nil, err
	}
	Stamp(cmd, source, now)
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	return cmd, nil
}

// RunNATSLoop parses raw commands and forwards them to the executor. A
// message is acked once the executor has accepted it, not after
// processing, so slow commands never outlive the ack wait. Unparseable
// commands are acked and dropped.
func RunNATSLoop(ctx context.Context, rawChan <-chan RawCommand, exec Enqueuer, logger zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-rawChan:
			if !ok {
				return
			}

			typ, err := CommandTypeFromSubject(raw.Subject)
			if err != nil {
				logger.Warn().Err(err).Msg("dropping command")
				raw.AckFunc()
				continue
			}
			cmd, err := parseStamped(typ, raw.Data, "nats", raw.Timestamp)
			if err != nil {
				logger.Warn().Err(err).Str("subject", raw.Subject).Msg("parse command failed")
				raw.AckFunc()
				continue
			}

			if err := exec.Enqueue(ctx, cmd); err != nil {
				raw.NakFunc()
				return
			}
			raw.AckFunc()
		}
	}
}
