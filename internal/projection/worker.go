package projection

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"ClearingHouse/internal/core"
	"ClearingHouse/internal/event"
	"ClearingHouse/internal/observability"
	"ClearingHouse/internal/state"
)

// ProjectionWorker folds core outputs into the in-memory Store and, when
// a database is configured, into the projections schema. The core feeds
// it through a non-blocking channel, so it may fall behind and drop;
// projections are rebuilt from the event log on restart.
type ProjectionWorker struct {
	store     *Store
	db        *sql.DB
	inputChan <-chan core.CoreOutput
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

func NewProjectionWorker(store *Store, db *sql.DB, inputChan <-chan core.CoreOutput, metrics *observability.Metrics, logger zerolog.Logger) *ProjectionWorker {
	return &ProjectionWorker{
		store:     store,
		db:        db,
		inputChan: inputChan,
		metrics:   metrics,
		logger:    logger,
	}
}

// Run starts the projection worker loop.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}
			if pw.metrics != nil {
				pw.metrics.SetChannelMetrics("projection", len(pw.inputChan), cap(pw.inputChan))
			}
			if !pw.store.Apply(output) || pw.db == nil {
				continue
			}
			if err := pw.processOutput(ctx, output); err != nil {
				// eventually consistent: the next rebuild repairs it
				pw.logger.Warn().Err(err).Int64("sequence", output.Envelope.Sequence).Msg("projection update failed")
				if pw.metrics != nil {
					pw.metrics.ProjectionDrops.WithLabelValues("postgres").Inc()
				}
			}
		}
	}
}

func (pw *ProjectionWorker) processOutput(ctx context.Context, output core.CoreOutput) error {
	seq := output.Envelope.Sequence

	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if output.Batch != nil {
		for _, j := range output.Batch.Journals {
			if err := updateBalance(ctx, tx, j.DebitAccount.AccountPath(), j.Amount.String(), seq); err != nil {
				return fmt.Errorf("balance projection: %w", err)
			}
			if err := updateBalance(ctx, tx, j.CreditAccount.AccountPath(), j.Amount.Neg().String(), seq); err != nil {
				return fmt.Errorf("balance projection: %w", err)
			}
		}
	}
	for _, p := range output.Positions {
		if err := upsertPosition(ctx, tx, p, seq); err != nil {
			return fmt.Errorf("position projection: %w", err)
		}
	}
	for idx, m := range output.Markets {
		if err := upsertMarket(ctx, tx, idx, m, seq); err != nil {
			return fmt.Errorf("market projection: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ('main', $1, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $1, updated_at = NOW()
	`, seq); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	return tx.Commit()
}

func updateBalance(ctx context.Context, tx *sql.Tx, account, delta string, seq int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, balance, last_sequence)
		VALUES ($1, $2::NUMERIC, $3)
		ON CONFLICT (account_path)
		DO UPDATE SET balance = projections.balances.balance + $2::NUMERIC, last_sequence = $3
	`, account, delta, seq)
	return err
}

func upsertPosition(ctx context.Context, tx *sql.Tx, p state.MarketPosition, seq int64) error {
	p.Normalize()
	if p.IsFlat() {
		_, err := tx.ExecContext(ctx, `
			DELETE FROM projections.positions WHERE user_id = $1 AND market_index = $2
		`, p.UserID, int32(p.MarketIndex))
		return err
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.positions
			(user_id, market_index, base_asset_amount, quote_asset_amount,
			 last_cumulative_funding_rate, last_cumulative_repeg_rebate, last_funding_rate_ts, last_sequence)
		VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7, $8)
		ON CONFLICT (user_id, market_index) DO UPDATE SET
			base_asset_amount = EXCLUDED.base_asset_amount,
			quote_asset_amount = EXCLUDED.quote_asset_amount,
			last_cumulative_funding_rate = EXCLUDED.last_cumulative_funding_rate,
			last_cumulative_repeg_rebate = EXCLUDED.last_cumulative_repeg_rebate,
			last_funding_rate_ts = EXCLUDED.last_funding_rate_ts,
			last_sequence = EXCLUDED.last_sequence
	`, p.UserID, int32(p.MarketIndex), p.BaseAssetAmount.String(), p.QuoteAssetAmount.String(),
		p.LastCumulativeFundingRate.String(), p.LastCumulativeRepegRebate.String(), p.LastFundingRateTs, seq)
	return err
}

func upsertMarket(ctx context.Context, tx *sql.Tx, idx uint16, m state.Market, seq int64) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO projections.markets (market_index, data, last_sequence)
		VALUES ($1, $2, $3)
		ON CONFLICT (market_index) DO UPDATE SET data = EXCLUDED.data, last_sequence = EXCLUDED.last_sequence
	`, int32(idx), string(data), seq)
	return err
}

// LoadHistory reads the newest perKind records of every history log from
// the event log, oldest first, for seeding a Store.
func LoadHistory(ctx context.Context, db *sql.DB, perKind int) ([]Entry, error) {
	var entries []Entry
	for _, kind := range state.AllHistoryKinds {
		rows, err := db.QueryContext(ctx, `
			SELECT sequence, data FROM (
				SELECT record_id, sequence, data
				FROM event_log.history_records
				WHERE history = $1
				ORDER BY record_id DESC
				LIMIT $2
			) recent ORDER BY record_id ASC
		`, kind.String(), perKind)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var (
				seq  int64
				data []byte
			)
			if err := rows.Scan(&seq, &data); err != nil {
				rows.Close()
				return nil, err
			}
			rec, _ := event.NewRecord(kind)
			if err := json.Unmarshal(data, rec); err != nil {
				rows.Close()
				return nil, fmt.Errorf("decode %s record: %w", kind, err)
			}
			entries = append(entries, Entry{Sequence: seq, Record: rec})
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return entries, nil
}

// RebuildProjections truncates the projections schema and recomputes
// balances from the journal. Positions and markets are reloaded from a
// core snapshot by the caller.
func RebuildProjections(ctx context.Context, db *sql.DB, logger zerolog.Logger) error {
	for _, stmt := range []string{
		`TRUNCATE projections.balances`,
		`TRUNCATE projections.positions`,
		`TRUNCATE projections.markets`,
		`DELETE FROM projections.watermark WHERE worker_id = 'main'`,
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate failed: %w", err)
		}
	}

	if _, err := db.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, balance, last_sequence)
		SELECT account_path, SUM(delta), MAX(sequence) FROM (
			SELECT debit_account AS account_path, amount AS delta, sequence FROM event_log.journal
			UNION ALL
			SELECT credit_account, -amount, sequence FROM event_log.journal
		) moves
		GROUP BY account_path
	`); err != nil {
		return fmt.Errorf("rebuild balances: %w", err)
	}

	logger.Info().Msg("projection rebuild complete")
	return nil
}

// SeedPostgres writes a snapshot's positions and markets into the
// projections schema after a rebuild.
func SeedPostgres(ctx context.Context, db *sql.DB, snap *core.SnapshotState) error {
	markets, err := state.DecodeMarkets(snap.Markets)
	if err != nil {
		return err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, p := range snap.Positions {
		if err := upsertPosition(ctx, tx, p, snap.Sequence); err != nil {
			return err
		}
	}
	for _, idx := range markets.Initialized() {
		m, _ := markets.Get(idx)
		if err := upsertMarket(ctx, tx, idx, m, snap.Sequence); err != nil {
			return err
		}
	}
	return tx.Commit()
}
