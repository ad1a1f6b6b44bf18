package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"ClearingHouse/internal/event"
	"ClearingHouse/internal/ledger"
)

// maxRowsPerInsert keeps one statement under Postgres' 65535 bind
// parameter limit for the widest table.
const maxRowsPerInsert = 1000

// EventLogWriter writes the event log, its journals and the history
// records with multi-row INSERTs inside the caller's transaction.
type EventLogWriter struct{}

func NewEventLogWriter() *EventLogWriter {
	return &EventLogWriter{}
}

// WriteEvents appends envelopes to event_log.events. Rewriting a
// sequence that is already stored is a no-op.
func (w *EventLogWriter) WriteEvents(ctx context.Context, tx *sql.Tx, envs []*event.EventEnvelope) error {
	rows := make([][]interface{}, 0, len(envs))
	for _, e := range envs {
		var market interface{}
		if e.MarketIndex != nil {
			market = int32(*e.MarketIndex)
		}
		rows = append(rows, []interface{}{
			e.Sequence, e.EventType.String(), e.IdempotencyKey, market,
			string(e.Payload), e.StateHash[:], e.PrevHash[:], e.Timestamp, e.SourceSequence,
		})
	}
	return insertRows(ctx, tx,
		`INSERT INTO event_log.events
		(sequence, event_type, idempotency_key, market_index, payload, state_hash, prev_hash, timestamp, source_sequence)
		VALUES `,
		` ON CONFLICT (sequence) DO NOTHING`,
		rows)
}

// WriteJournals appends journal entries. Amounts are stored as NUMERIC
// text so no precision is lost.
func (w *EventLogWriter) WriteJournals(ctx context.Context, tx *sql.Tx, journals []ledger.Journal) error {
	rows := make([][]interface{}, 0, len(journals))
	for _, j := range journals {
		rows = append(rows, []interface{}{
			j.JournalID, j.BatchID, j.EventRef, j.Sequence,
			j.DebitAccount.AccountPath(), j.CreditAccount.AccountPath(),
			j.Amount.String(), j.JournalType.String(), j.Timestamp,
		})
	}
	return insertRows(ctx, tx,
		`INSERT INTO event_log.journal
		(journal_id, batch_id, event_ref, sequence, debit_account, credit_account, amount, journal_type, timestamp)
		VALUES `,
		` ON CONFLICT (journal_id) DO NOTHING`,
		rows)
}

// RecordRow is one history record bound to the command that produced it.
type RecordRow struct {
	Sequence int64
	Record   event.Record
}

// WriteRecords appends history records keyed by (history, record_id).
func (w *EventLogWriter) WriteRecords(ctx context.Context, tx *sql.Tx, records []RecordRow) error {
	rows := make([][]interface{}, 0, len(records))
	for _, r := range records {
		data, err := json.Marshal(r.Record)
		if err != nil {
			return fmt.Errorf("marshal %s record: %w", r.Record.HistoryKind(), err)
		}
		var user, market interface{}
		if u, ok := event.RecordUser(r.Record); ok {
			user = u
		}
		if m, ok := event.RecordMarket(r.Record); ok {
			market = int32(m)
		}
		h := r.Record.Header()
		rows = append(rows, []interface{}{
			r.Record.HistoryKind().String(), int64(h.RecordID), r.Sequence, h.Ts, user, market, string(data),
		})
	}
	return insertRows(ctx, tx,
		`INSERT INTO event_log.history_records
		(history, record_id, sequence, ts, user_id, market_index, data)
		VALUES `,
		` ON CONFLICT (history, record_id) DO NOTHING`,
		rows)
}

// insertRows builds "($1, $2), ($3, $4)" style statements in chunks.
func insertRows(ctx context.Context, tx *sql.Tx, prefix, suffix string, rows [][]interface{}) error {
	for start := 0; start < len(rows); start += maxRowsPerInsert {
		end := start + maxRowsPerInsert
		if end > len(rows) {
			end = len(rows)
		}
		chunk := rows[start:end]

		values := make([]string, 0, len(chunk))
		args := make([]interface{}, 0, len(chunk)*len(chunk[0]))
		for _, row := range chunk {
			values = append(values, placeholders(len(args)+1, len(row)))
			args = append(args, row...)
		}

		query := prefix + strings.Join(values, ", ") + suffix
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return err
		}
	}
	return nil
}

// placeholders returns "($first, ..., $first+n-1)".
func placeholders(first, n int) string {
	var b strings.Builder
	b.WriteByte('(')
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "$%d", first+i)
	}
	b.WriteByte(')')
	return b.String()
}
