package ingestion

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"ClearingHouse/internal/core"
	"ClearingHouse/internal/event"
	"ClearingHouse/internal/observability"
)

const (
	HistorySubjectPrefix = "ch.history."
	EventSubjectPrefix   = "ch.events."
	outboundStream       = "CH_OUTBOUND"
)

// StreamPublisher is the part of jetstream.JetStream the publisher needs.
type StreamPublisher interface {
	Publish(ctx context.Context, subject string, payload []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// OutboundPublisher publishes committed commands and their history records
// for downstream consumers. It reads the non-blocking projection fan-out,
// so it may miss outputs under load; consumers backfill from the query API.
type OutboundPublisher struct {
	js        StreamPublisher
	inputChan <-chan core.CoreOutput
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

// CommittedEvent is the message published on ch.events.{command}.
type CommittedEvent struct {
	Sequence       int64           `json:"sequence"`
	EventType      string          `json:"event_type"`
	IdempotencyKey string          `json:"idempotency_key"`
	MarketIndex    *uint16         `json:"market_index,omitempty"`
	Payload        json.RawMessage `json:"payload"`
	StateHash      string          `json:"state_hash"`
	Timestamp      time.Time       `json:"timestamp"`
}

// HistoryMessage is the message published on ch.history.{log}[.{market}].
type HistoryMessage struct {
	Sequence int64        `json:"sequence"`
	History  string       `json:"history"`
	Record   event.Record `json:"record"`
}

func NewOutboundPublisher(js StreamPublisher, inputChan <-chan core.CoreOutput, metrics *observability.Metrics, logger zerolog.Logger) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
		metrics:   metrics,
		logger:    logger,
	}
}

// Run publishes until ctx is cancelled or the channel closes.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case out, ok := <-op.inputChan:
			if !ok {
				return nil
			}
			if err := op.publish(ctx, out); err != nil {
				if op.metrics != nil {
					op.metrics.PublishDrops.Inc()
				}
				op.logger.Warn().Err(err).Int64("sequence", out.Envelope.Sequence).Msg("outbound publish failed")
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, out core.CoreOutput) error {
	env := out.Envelope
	data, err := json.Marshal(CommittedEvent{
		Sequence:       env.Sequence,
		EventType:      env.EventType.String(),
		IdempotencyKey: env.IdempotencyKey,
		MarketIndex:    env.MarketIndex,
		Payload:        env.Payload,
		StateHash:      hex.EncodeToString(env.StateHash[:]),
		Timestamp:      env.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := op.js.Publish(ctx, EventSubject(env), data,
		jetstream.WithMsgID(fmt.Sprintf("event:%d", env.Sequence))); err != nil {
		return err
	}

	for _, r := range out.Records {
		data, err := json.Marshal(HistoryMessage{Sequence: env.Sequence, History: r.HistoryKind().String(), Record: r})
		if err != nil {
			return fmt.Errorf("marshal %s record: %w", r.HistoryKind(), err)
		}
		msgID := fmt.Sprintf("%s:%d", r.HistoryKind(), r.Header().RecordID)
		if _, err := op.js.Publish(ctx, HistorySubject(r), data, jetstream.WithMsgID(msgID)); err != nil {
			return err
		}
	}
	return nil
}

// EventSubject is ch.events.{command}, plus .{market} for market commands.
func EventSubject(env *event.EventEnvelope) string {
	subject := EventSubjectPrefix + env.EventType.String()
	if env.MarketIndex != nil {
		subject = fmt.Sprintf("%s.%d", subject, *env.MarketIndex)
	}
	return subject
}

// HistorySubject is ch.history.{log}, plus .{market} when the record has
// one.
func HistorySubject(r event.Record) string {
	subject := HistorySubjectPrefix + r.HistoryKind().String()
	if m, ok := event.RecordMarket(r); ok {
		subject = fmt.Sprintf("%s.%d", subject, m)
	}
	return subject
}

// EnsureOutboundStream creates the outbound stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream, logger zerolog.Logger) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       outboundStream,
		Subjects:   []string{EventSubjectPrefix + ">", HistorySubjectPrefix + ">"},
		Storage:    jetstream.FileStorage,
		Retention:  jetstream.LimitsPolicy,
		MaxAge:     72 * time.Hour,
		Duplicates: 2 * time.Minute,
		Replicas:   1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	logger.Info().Str("stream", outboundStream).Msg("ensured outbound stream")
	return nil
}
