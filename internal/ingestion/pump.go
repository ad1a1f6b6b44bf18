package ingestion

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"ClearingHouse/internal/event"
	"ClearingHouse/internal/observability"
)

// CommandSink accepts parsed commands; core.Submitter satisfies it.
type CommandSink interface {
	Submit(ctx context.Context, evt event.Event) error
}

// Pump parses raw messages and submits them to the core one at a time.
// A message is acked once the core has decided on it: a rejection is
// deterministic, so redelivery would only be rejected again. Malformed
// payloads are terminated.
type Pump struct {
	in      <-chan RawEvent
	sink    CommandSink
	metrics *observability.Metrics
	logger  zerolog.Logger
}

func NewPump(in <-chan RawEvent, sink CommandSink, metrics *observability.Metrics, logger zerolog.Logger) *Pump {
	return &Pump{in: in, sink: sink, metrics: metrics, logger: logger}
}

// Run blocks until ctx is cancelled or the input channel closes.
func (p *Pump) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-p.in:
			if !ok {
				return nil
			}
			p.handle(ctx, raw)
		}
	}
}

func (p *Pump) handle(ctx context.Context, raw RawEvent) {
	evt, err := ParseRawEvent(raw)
	if err != nil {
		if p.metrics != nil {
			p.metrics.IngestParseErrors.WithLabelValues("nats").Inc()
		}
		p.logger.Warn().Err(err).Str("subject", raw.Subject).Msg("dropping malformed command")
		call(raw.TermFunc)
		return
	}
	if p.metrics != nil {
		p.metrics.IngestReceived.WithLabelValues("nats", evt.EventType().String()).Inc()
	}

	err = p.sink.Submit(ctx, evt)
	switch {
	case err == nil:
		call(raw.AckFunc)
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		call(raw.NakFunc)
	default:
		p.logger.Debug().Err(err).
			Str("command", evt.EventType().String()).
			Str("key", evt.IdempotencyKey()).
			Msg("command rejected")
		call(raw.AckFunc)
	}
}

func call(f func()) {
	if f != nil {
		f()
	}
}
