package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const (
	CommandStream        = "LEVFARM_COMMANDS"
	CommandSubjectPrefix = "levfarm.command"
	OutcomeStream        = "LEVFARM_OUTCOMES"
	OutcomeSubjectPrefix = "levfarm.outcome"
)

// NATSSubscriber consumes the command stream and feeds raw commands to the
// shell loop that parses them for the executor.
type NATSSubscriber struct {
	js          jetstream.JetStream
	commandChan chan<- RawCommand
	consumer    string
	consumers   []jetstream.ConsumeContext
	logger      zerolog.Logger
}

// RawCommand is a received-but-unparsed command.
type RawCommand struct {
	Subject   string
	Data      []byte
	Timestamp time.Time
	AckFunc   func() // ACK after the command is handed to the executor
	NakFunc   func() // NAK on shutdown (will be redelivered)
}

func NewNATSSubscriber(js jetstream.JetStream, commandChan chan<- RawCommand, consumer string, logger zerolog.Logger) *NATSSubscriber {
	if consumer == "" {
		consumer = "levfarm-keeperd"
	}
	return &NATSSubscriber{
		js:          js,
		commandChan: commandChan,
		consumer:    consumer,
		logger:      logger,
	}
}

// Subscribe creates the durable command consumer.
// Explicit ACK, max_deliver=5, ack_wait=30s.
func (ns *NATSSubscriber) Subscribe(ctx context.Context) error {
	consumer, err := ns.js.CreateOrUpdateConsumer(ctx, CommandStream, jetstream.ConsumerConfig{
		Durable:       ns.consumer,
		FilterSubject: CommandSubjectPrefix + ".>",
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", ns.consumer, err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		raw := RawCommand{
			Subject:   msg.Subject(),
			Data:      msg.Data(),
			Timestamp: time.Now(),
			AckFunc:   func() { msg.Ack() },
			NakFunc:   func() { msg.Nak() },
		}

		select {
		case ns.commandChan <- raw:
		case <-ctx.Done():
			msg.Nak()
		}
	})
	if err != nil {
		return fmt.Errorf("consume %s: %w", ns.consumer, err)
	}

	ns.consumers = append(ns.consumers, cc)
	ns.logger.Info().Str("subject", CommandSubjectPrefix+".>").Str("consumer", ns.consumer).Msg("subscribed")
	return nil
}

// EnsureStreams creates the command and outcome streams if they don't exist.
// FileStorage, retention=Limits, max_age=72h.
func EnsureStreams(ctx context.Context, js jetstream.JetStream, logger zerolog.Logger) error {
	streams := []jetstream.StreamConfig{
		{
			Name:      CommandStream,
			Subjects:  []string{CommandSubjectPrefix + ".>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      OutcomeStream,
			Subjects:  []string{OutcomeSubjectPrefix + ".>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
	}

	for _, cfg := range streams {
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
		logger.Info().Str("stream", cfg.Name).Msg("stream ensured")
	}
	return nil
}

// Stop gracefully stops all consumers.
func (ns *NATSSubscriber) Stop() {
	for _, cc := range ns.consumers {
		cc.Stop()
	}
	ns.logger.Info().Msg("NATS consumers stopped")
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string, logger zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.Name("levfarm-keeperd"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}
	return nc, js, nil
}
