package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"ClearingHouse/internal/event"
)

// NATSSubscriber consumes command subjects from JetStream and hands raw
// messages to the ingest pump.
type NATSSubscriber struct {
	js        jetstream.JetStream
	eventChan chan<- RawEvent
	consumers []jetstream.ConsumeContext
	logger    zerolog.Logger
}

// RawEvent is an inbound message not yet parsed into a command.
type RawEvent struct {
	Subject   string
	Data      []byte
	Timestamp time.Time
	AckFunc   func() // processed, or rejected for good
	NakFunc   func() // redeliver later
	TermFunc  func() // never redeliver: the payload is malformed
}

// StreamConfig groups command types into one JetStream stream with one
// durable consumer.
type StreamConfig struct {
	StreamName   string
	ConsumerName string
	Commands     []event.EventType
}

// Subjects lists the stream's subjects.
func (c StreamConfig) Subjects() []string {
	subjects := make([]string, 0, len(c.Commands))
	for _, et := range c.Commands {
		subjects = append(subjects, CommandSubject(et), CommandSubject(et)+".>")
	}
	return subjects
}

// DefaultStreams splits commands by producer: oracle feeds, traders and
// keepers, the custody bridge, and the admin console.
func DefaultStreams() []StreamConfig {
	return []StreamConfig{
		{
			StreamName:   "CH_ORACLE",
			ConsumerName: "clearinghouse-oracle",
			Commands:     []event.EventType{event.EventTypeOracleUpdate},
		},
		{
			StreamName:   "CH_TRADING",
			ConsumerName: "clearinghouse-trading",
			Commands: []event.EventType{
				event.EventTypeTrade,
				event.EventTypeLiquidate,
				event.EventTypeSettleFunding,
				event.EventTypeSettleFundingPayments,
			},
		},
		{
			StreamName:   "CH_COLLATERAL",
			ConsumerName: "clearinghouse-collateral",
			Commands: []event.EventType{
				event.EventTypeDeposit,
				event.EventTypeWithdraw,
				event.EventTypeFundInsurance,
			},
		},
		{
			StreamName:   "CH_ADMIN",
			ConsumerName: "clearinghouse-admin",
			Commands: []event.EventType{
				event.EventTypeInitializeMarket,
				event.EventTypeRepeg,
				event.EventTypeUpdateMarginRatios,
				event.EventTypeUpdateFeeStructure,
				event.EventTypeUpdateOracleGuardRails,
				event.EventTypeUpdateLiquidationParams,
				event.EventTypeSetPaused,
				event.EventTypeSetMaxDeposit,
				event.EventTypeSetAdmin,
				event.EventTypeUpdateMints,
				event.EventTypeInitializeHistory,
				event.EventTypeInitializeOrderState,
				event.EventTypeMoveAMMPrice,
				event.EventTypeWithdrawFees,
			},
		},
	}
}

func NewNATSSubscriber(js jetstream.JetStream, eventChan chan<- RawEvent, logger zerolog.Logger) *NATSSubscriber {
	return &NATSSubscriber{
		js:        js,
		eventChan: eventChan,
		logger:    logger,
	}
}

// Subscribe creates one durable consumer per stream. Consumers use
// explicit ACK, max_deliver=5, ack_wait=30s.
func (ns *NATSSubscriber) Subscribe(ctx context.Context, streams []StreamConfig) error {
	for _, cfg := range streams {
		consumer, err := ns.js.CreateOrUpdateConsumer(ctx, cfg.StreamName, jetstream.ConsumerConfig{
			Durable:       cfg.ConsumerName,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       30 * time.Second,
			MaxDeliver:    5,
			MaxAckPending: 1,
			DeliverPolicy: jetstream.DeliverAllPolicy,
		})
		if err != nil {
			return fmt.Errorf("create consumer %s: %w", cfg.ConsumerName, err)
		}

		consumerContext, err := consumer.Consume(func(msg jetstream.Msg) {
			raw := RawEvent{
				Subject:   msg.Subject(),
				Data:      msg.Data(),
				Timestamp: time.Now(),
				AckFunc:   func() { msg.Ack() },
				NakFunc:   func() { msg.Nak() },
				TermFunc:  func() { msg.Term() },
			}

			select {
			case ns.eventChan <- raw:
			case <-ctx.Done():
				msg.Nak()
			}
		})
		if err != nil {
			return fmt.Errorf("consume %s: %w", cfg.ConsumerName, err)
		}

		ns.consumers = append(ns.consumers, consumerContext)
		ns.logger.Info().Str("stream", cfg.StreamName).Str("consumer", cfg.ConsumerName).Msg("subscribed")
	}

	return nil
}

// EnsureStreams creates the command streams if they don't exist. Streams
// use file storage, limits retention and a 72h max age.
func EnsureStreams(ctx context.Context, js jetstream.JetStream, streams []StreamConfig, logger zerolog.Logger) error {
	for _, cfg := range streams {
		if _, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
			Name:      cfg.StreamName,
			Subjects:  cfg.Subjects(),
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		}); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.StreamName, err)
		}
		logger.Info().Str("stream", cfg.StreamName).Msg("ensured stream")
	}
	return nil
}

// Stop stops all consumers.
func (ns *NATSSubscriber) Stop() {
	for _, cc := range ns.consumers {
		cc.Stop()
	}
	ns.logger.Info().Msg("NATS subscribers stopped")
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string, logger zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.Name("clearinghouse"),
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
