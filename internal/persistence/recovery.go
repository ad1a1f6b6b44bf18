package persistence

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ClearingHouse/internal/core"
	"ClearingHouse/internal/observability"
)

const replayPageSize = 10_000

// Recover rebuilds the core from the latest verified snapshot and the
// events after it. A hash mismatch during replay panics inside the core.
// It returns the last replayed sequence.
func Recover(ctx context.Context, c *core.DeterministicCore, store *SnapshotStore, logger zerolog.Logger) (int64, error) {
	from := int64(1)
	snap, err := store.LoadLatestSnapshot(ctx)
	if err != nil {
		return 0, err
	}
	if snap != nil {
		if err := c.RestoreFromSnapshot(snap); err != nil {
			return 0, fmt.Errorf("restore snapshot %d: %w", snap.Sequence, err)
		}
		from = snap.Sequence + 1
	}

	replayed := 0
	for {
		envs, err := store.LoadEventsFrom(ctx, from, replayPageSize)
		if err != nil {
			return 0, fmt.Errorf("load events from %d: %w", from, err)
		}
		for _, env := range envs {
			if err := c.Replay(env); err != nil {
				return 0, err
			}
		}
		replayed += len(envs)
		if len(envs) < replayPageSize {
			break
		}
		from = envs[len(envs)-1].Sequence + 1
	}

	last := c.GetSequence() - 1
	logger.Info().Int("replayed", replayed).Int64("sequence", last).Msg("recovery complete")
	return last, nil
}

// Snapshotter takes periodic snapshots through the running core and marks
// each one verified once the event log has caught up with it.
type Snapshotter struct {
	mu         sync.Mutex
	store      *SnapshotStore
	submitter  *core.Submitter
	interval   time.Duration
	minEvents  int64
	lastSeq    int64
	unverified []int64
	metrics    *observability.Metrics
	logger     zerolog.Logger
}

func NewSnapshotter(store *SnapshotStore, submitter *core.Submitter, interval time.Duration, minEvents int64, metrics *observability.Metrics, logger zerolog.Logger) *Snapshotter {
	return &Snapshotter{
		store:     store,
		submitter: submitter,
		interval:  interval,
		minEvents: minEvents,
		metrics:   metrics,
		logger:    logger,
	}
}

// Run snapshots every interval until ctx ends.
func (s *Snapshotter) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.VerifyPending(ctx)
			if err := s.TakeSnapshot(ctx, false); err != nil {
				s.logger.Error().Err(err).Msg("snapshot failed")
			}
		}
	}
}

// TakeSnapshot saves a snapshot when at least minEvents commands have been
// applied since the last one, or always when force is set.
func (s *Snapshotter) TakeSnapshot(ctx context.Context, force bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	snap, err := s.submitter.Snapshot(ctx)
	if err != nil {
		return err
	}
	if snap.Sequence == 0 || snap.Sequence == s.lastSeq {
		return nil
	}
	if !force && snap.Sequence-s.lastSeq < s.minEvents {
		return nil
	}

	size, err := s.store.SaveSnapshot(ctx, snap)
	if err != nil {
		return err
	}
	s.lastSeq = snap.Sequence
	s.unverified = append(s.unverified, snap.Sequence)

	if s.metrics != nil {
		s.metrics.SnapshotTaken.Inc()
		s.metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
		s.metrics.SnapshotSizeBytes.Set(float64(size))
		s.metrics.SnapshotLastSeq.Set(float64(snap.Sequence))
	}
	s.logger.Info().Int64("sequence", snap.Sequence).Int("bytes", size).Msg("snapshot saved")
	return nil
}

// VerifyPending marks snapshots whose sequence is now in the event log.
func (s *Snapshotter) VerifyPending(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.unverified[:0]
	for _, seq := range s.unverified {
		if err := s.store.MarkVerified(ctx, seq); err != nil {
			kept = append(kept, seq)
			continue
		}
		s.logger.Debug().Int64("sequence", seq).Msg("snapshot verified")
	}
	s.unverified = kept
}
