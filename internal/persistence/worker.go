package persistence

import (
	"context"
	"database/sql"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"ClearingHouse/internal/core"
	"ClearingHouse/internal/event"
	"ClearingHouse/internal/ledger"
	"ClearingHouse/internal/observability"
)

// PersistenceWorker drains the persist channel and batch-writes to Postgres.
// The core sends on that channel with a blocking send, so when this worker
// falls behind the core stalls and no committed command is lost.
type PersistenceWorker struct {
	db           *sql.DB
	writer       *EventLogWriter
	inputChan    <-chan core.CoreOutput
	batchSize    int
	flushTimeout time.Duration
	maxBackoff   time.Duration
	metrics      *observability.Metrics
	logger       zerolog.Logger
}

func NewPersistenceWorker(
	db *sql.DB,
	inputChan <-chan core.CoreOutput,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *PersistenceWorker {
	return &PersistenceWorker{
		db:           db,
		writer:       NewEventLogWriter(),
		inputChan:    inputChan,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		maxBackoff:   30 * time.Second,
		metrics:      metrics,
		logger:       logger,
	}
}

// pending accumulates outputs between flushes.
type pending struct {
	events   []*event.EventEnvelope
	journals []ledger.Journal
	records  []RecordRow
}

func (p *pending) add(out core.CoreOutput) {
	if out.Envelope == nil {
		return
	}
	p.events = append(p.events, out.Envelope)
	if out.Batch != nil {
		p.journals = append(p.journals, out.Batch.Journals...)
	}
	for _, r := range out.Records {
		p.records = append(p.records, RecordRow{Sequence: out.Envelope.Sequence, Record: r})
	}
}

func (p *pending) reset() {
	p.events = p.events[:0]
	p.journals = p.journals[:0]
	p.records = p.records[:0]
}

// Run batches incoming outputs and flushes when the batch is full or the
// flush timeout expires. Blocks until ctx is cancelled or the channel is
// closed; either way the tail is flushed first.
func (pw *PersistenceWorker) Run(ctx context.Context) error {
	batch := &pending{}

	timer := time.NewTimer(pw.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			pw.finalFlush(batch)
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				pw.finalFlush(batch)
				return nil
			}
			batch.add(output)
			if len(batch.events) >= pw.batchSize {
				if err := pw.flushWithRetry(ctx, batch); err != nil {
					pw.logger.Error().Err(err).Int("events", len(batch.events)).Msg("batch flush failed")
				}
				batch.reset()
				timer.Reset(pw.flushTimeout)
			}

		case <-timer.C:
			if len(batch.events) > 0 {
				if err := pw.flushWithRetry(ctx, batch); err != nil {
					pw.logger.Error().Err(err).Int("events", len(batch.events)).Msg("timeout flush failed")
				}
				batch.reset()
			}
			timer.Reset(pw.flushTimeout)
		}
	}
}

func (pw *PersistenceWorker) finalFlush(batch *pending) {
	if len(batch.events) == 0 {
		return
	}
	if err := pw.flush(context.Background(), batch); err != nil {
		pw.logger.Error().Err(err).Int("events", len(batch.events)).Msg("final flush failed")
	}
}

// flushWithRetry retries with exponential backoff until the write succeeds.
// If ctx ends first, one last attempt is made on a background context so
// the batch is not dropped on shutdown.
func (pw *PersistenceWorker) flushWithRetry(ctx context.Context, batch *pending) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 100 * time.Millisecond
	policy.MaxInterval = pw.maxBackoff
	policy.MaxElapsedTime = 0

	err := backoff.RetryNotify(
		func() error { return pw.flush(ctx, batch) },
		backoff.WithContext(policy, ctx),
		func(err error, wait time.Duration) {
			if pw.metrics != nil {
				pw.metrics.PersistRetry.Inc()
			}
			pw.logger.Warn().Err(err).Dur("backoff", wait).Int("events", len(batch.events)).Msg("persistence retry")
		},
	)
	if err != nil && ctx.Err() != nil {
		return pw.flush(context.Background(), batch)
	}
	return err
}

func (pw *PersistenceWorker) flush(ctx context.Context, batch *pending) error {
	if len(batch.events) == 0 {
		return nil
	}
	start := time.Now()

	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		pw.countError("tx_begin")
		return err
	}
	defer tx.Rollback()

	if err := pw.writer.WriteEvents(ctx, tx, batch.events); err != nil {
		pw.countError("write_events")
		return err
	}
	if err := pw.writer.WriteJournals(ctx, tx, batch.journals); err != nil {
		pw.countError("write_journals")
		return err
	}
	if err := pw.writer.WriteRecords(ctx, tx, batch.records); err != nil {
		pw.countError("write_records")
		return err
	}
	if err := tx.Commit(); err != nil {
		pw.countError("tx_commit")
		return err
	}

	if pw.metrics != nil {
		pw.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		pw.metrics.PersistBatchSize.Observe(float64(len(batch.events)))
		pw.metrics.PersistEventsWritten.Add(float64(len(batch.events)))
		pw.metrics.PersistJournalsWritten.Add(float64(len(batch.journals)))
		pw.metrics.PersistRecordsWritten.Add(float64(len(batch.records)))
		pw.metrics.PersistLastSequence.Set(float64(batch.events[len(batch.events)-1].Sequence))
	}
	return nil
}

func (pw *PersistenceWorker) countError(stage string) {
	if pw.metrics != nil {
		pw.metrics.PersistErrors.WithLabelValues(stage).Inc()
	}
}
