package ingestion

import (
	"context"

	errorsmod "cosmossdk.io/errors"

	"ClearingHouse/internal/errs"
	"ClearingHouse/internal/event"
	"ClearingHouse/internal/observability"
)

// APIIngestService is the low-volume ingest surface behind the HTTP API,
// for admin consoles and manual injection. High-throughput producers use
// NATS. Unlike the NATS pump it returns the core's verdict to the caller.
type APIIngestService struct {
	sink    CommandSink
	metrics *observability.Metrics
}

func NewAPIIngestService(sink CommandSink, metrics *observability.Metrics) *APIIngestService {
	return &APIIngestService{sink: sink, metrics: metrics}
}

// Submit parses a JSON command of the named type and waits for the core.
func (s *APIIngestService) Submit(ctx context.Context, commandType string, payload []byte) (event.Event, error) {
	et, ok := event.ParseEventType(commandType)
	if !ok {
		return nil, errorsmod.Wrapf(errs.ErrUnknownCommand, "%q", commandType)
	}
	evt, err := ParsePayload(et, payload)
	if err != nil {
		if s.metrics != nil {
			s.metrics.IngestParseErrors.WithLabelValues("api").Inc()
		}
		return nil, errorsmod.Wrap(errs.ErrUnknownCommand, err.Error())
	}
	if s.metrics != nil {
		s.metrics.IngestReceived.WithLabelValues("api", et.String()).Inc()
	}
	return evt, s.sink.Submit(ctx, evt)
}
