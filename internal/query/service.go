// Package query serves read-only views over the core's published read
// model, the in-memory projection and the Postgres event log.
package query

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"ClearingHouse/internal/amm"
	"ClearingHouse/internal/core"
	"ClearingHouse/internal/ledger"
	"ClearingHouse/internal/margin"
	"ClearingHouse/internal/observability"
	"ClearingHouse/internal/projection"
	"ClearingHouse/internal/state"
)

const codespace = "query"

var (
	ErrNotFound        = errorsmod.RegisterWithGRPCCode(codespace, 2, codes.NotFound, "not found")
	ErrInvalidArgument = errorsmod.RegisterWithGRPCCode(codespace, 3, codes.InvalidArgument, "invalid argument")
	ErrUnavailable     = errorsmod.RegisterWithGRPCCode(codespace, 4, codes.Unavailable, "unavailable")
)

const (
	DefaultPageSize = 100
	MaxPageSize     = 500
)

// ReadModelSource is satisfied by *core.DeterministicCore.
type ReadModelSource interface {
	ReadModel() *core.ReadModel
}

// QueryService answers API reads. db may be nil, in which case the
// journal and integrity endpoints report ErrUnavailable.
type QueryService struct {
	core    ReadModelSource
	store   *projection.Store
	db      *sql.DB
	metrics *observability.Metrics
}

func NewQueryService(c ReadModelSource, store *projection.Store, db *sql.DB, metrics *observability.Metrics) *QueryService {
	return &QueryService{core: c, store: store, db: db, metrics: metrics}
}

// observe records one request. Call as defer qs.observe("x", time.Now(), &err).
func (qs *QueryService) observe(endpoint string, start time.Time, err *error) {
	if qs.metrics == nil {
		return
	}
	qs.metrics.QueryRequests.WithLabelValues(endpoint).Inc()
	qs.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	if *err != nil {
		qs.metrics.QueryErrors.WithLabelValues(endpoint, StatusCode(*err).String()).Inc()
	}
}

// StatusCode maps an error to its gRPC code. Registered errors carry one;
// anything else is Unknown.
func StatusCode(err error) codes.Code {
	switch {
	case err == nil:
		return codes.OK
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	}
	return status.Code(err)
}

func (qs *QueryService) readModel() (*core.ReadModel, error) {
	rm := qs.core.ReadModel()
	if rm == nil {
		return nil, errorsmod.Wrap(ErrUnavailable, "core has not published a read model")
	}
	return rm, nil
}

// GetState returns the exchange configuration.
func (qs *QueryService) GetState() (_ *StateView, err error) {
	defer qs.observe("state", time.Now(), &err)
	rm, err := qs.readModel()
	if err != nil {
		return nil, err
	}
	return &StateView{
		Sequence:  rm.Sequence,
		StateHash: hex.EncodeToString(rm.StateHash[:]),
		State:     rm.State,
	}, nil
}

// ListMarkets returns every initialized market in index order.
func (qs *QueryService) ListMarkets() (_ []MarketView, err error) {
	defer qs.observe("markets", time.Now(), &err)
	rm, err := qs.readModel()
	if err != nil {
		return nil, err
	}
	out := make([]MarketView, 0)
	for _, idx := range rm.Markets.Initialized() {
		v, err := marketView(rm, idx)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// GetMarket returns one market.
func (qs *QueryService) GetMarket(idx uint16) (_ *MarketView, err error) {
	defer qs.observe("market", time.Now(), &err)
	rm, err := qs.readModel()
	if err != nil {
		return nil, err
	}
	v, err := marketView(rm, idx)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func marketView(rm *core.ReadModel, idx uint16) (MarketView, error) {
	m, err := rm.Markets.Get(idx)
	if err != nil {
		return MarketView{}, err
	}
	mark, err := amm.MarkPrice(&m.AMM)
	if err != nil {
		return MarketView{}, err
	}
	v := MarketView{MarketIndex: idx, Market: m, MarkPrice: mark, AsOfSequence: rm.Sequence}
	if r, ok := rm.Oracles[idx]; ok {
		v.Oracle = &r
	}
	return v, nil
}

// GetAccount values a user's positions at the current mark prices.
func (qs *QueryService) GetAccount(user uuid.UUID) (_ *AccountView, err error) {
	defer qs.observe("account", time.Now(), &err)
	if user == uuid.Nil {
		return nil, errorsmod.Wrap(ErrInvalidArgument, "user id is required")
	}
	rm, err := qs.readModel()
	if err != nil {
		return nil, err
	}

	collateral := qs.store.Balance(ledger.UserCollateral(user))
	positions := qs.store.Positions(user)

	view := &AccountView{
		UserID:           user,
		Collateral:       collateral,
		Positions:        make([]PositionView, 0, len(positions)),
		AsOfSequence:     qs.store.Sequence(),
		PricedAtSequence: rm.Sequence,
	}
	for _, p := range positions {
		m, err := rm.Markets.Get(p.MarketIndex)
		if err != nil {
			return nil, err
		}
		e, err := margin.Value(p, &m)
		if err != nil {
			return nil, err
		}
		view.Positions = append(view.Positions, PositionView{
			MarketPosition:   p,
			Notional:         e.Notional,
			UnrealizedPnL:    e.UnrealizedPnL,
			UnsettledFunding: e.UnsettledFunding,
			MarkPrice:        e.MarkPrice,
		})
	}

	acct, err := margin.NewCalculator(rm.Markets).Evaluate(positions, collateral)
	if err != nil {
		return nil, err
	}
	view.Equity = acct.Equity
	view.Notional = acct.Notional
	view.MarginRatio = acct.Ratio
	view.InitialRequirement = acct.InitialRequirement
	view.Status = acct.Status().String()
	view.MeetsInitialMargin = acct.MeetsInitialMargin()
	return view, nil
}

// GetHistory pages one history log after the record id afterID.
func (qs *QueryService) GetHistory(kind string, afterID uint64, limit int) (_ *HistoryPage, err error) {
	defer qs.observe("history", time.Now(), &err)
	k, ok := state.ParseHistoryKind(kind)
	if !ok {
		return nil, errorsmod.Wrapf(ErrInvalidArgument, "unknown history %q", kind)
	}
	return qs.page(k, qs.store.Records(k, afterID, clampLimit(limit))), nil
}

// GetUserHistory is GetHistory restricted to records about one user.
func (qs *QueryService) GetUserHistory(user uuid.UUID, kind string, afterID uint64, limit int) (_ *HistoryPage, err error) {
	defer qs.observe("user_history", time.Now(), &err)
	k, ok := state.ParseHistoryKind(kind)
	if !ok {
		return nil, errorsmod.Wrapf(ErrInvalidArgument, "unknown history %q", kind)
	}
	return qs.page(k, qs.store.UserRecords(user, k, afterID, clampLimit(limit))), nil
}

func (qs *QueryService) page(k state.HistoryKind, entries []projection.Entry) *HistoryPage {
	p := &HistoryPage{History: k.String(), Entries: make([]HistoryEntry, 0, len(entries)), AsOfSequence: qs.store.Sequence()}
	for _, e := range entries {
		p.Entries = append(p.Entries, HistoryEntry{Sequence: e.Sequence, Record: e.Record})
		p.NextAfter = e.Record.Header().RecordID
	}
	return p
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultPageSize
	}
	if limit > MaxPageSize {
		return MaxPageSize
	}
	return limit
}

// GetJournalHistory returns journal entries touching a user's collateral,
// newest first, strictly before beforeSeq when it is positive.
func (qs *QueryService) GetJournalHistory(ctx context.Context, user uuid.UUID, beforeSeq int64, limit int) (_ []JournalEntry, err error) {
	defer qs.observe("journals", time.Now(), &err)
	if qs.db == nil {
		return nil, errorsmod.Wrap(ErrUnavailable, "no event log configured")
	}
	account := ledger.UserCollateral(user).AccountPath()

	query := `
		SELECT journal_id, batch_id, event_ref, sequence,
		       debit_account, credit_account, amount, journal_type, timestamp
		FROM event_log.journal
		WHERE (debit_account = $1 OR credit_account = $1)
	`
	args := []interface{}{account}
	argIdx := 2
	if beforeSeq > 0 {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, beforeSeq)
		argIdx++
	}
	query += " ORDER BY sequence DESC, journal_id"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, clampLimit(limit))

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]JournalEntry, 0)
	for rows.Next() {
		var e JournalEntry
		if err := rows.Scan(
			&e.JournalID, &e.BatchID, &e.EventRef, &e.Sequence,
			&e.DebitAccount, &e.CreditAccount, &e.Amount, &e.JournalType, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// --- Admin APIs ---

// VerifyIntegrity walks the persisted hash chain and checks that the
// journal nets to zero and no collateral or insurance balance went
// negative.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (_ *IntegrityReport, err error) {
	defer qs.observe("verify_integrity", time.Now(), &err)
	if qs.db == nil {
		return nil, errorsmod.Wrap(ErrUnavailable, "no event log configured")
	}
	report := &IntegrityReport{}

	if err := qs.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM event_log.events`).Scan(&report.CheckedEvents); err != nil {
		return nil, err
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT e1.sequence
		FROM event_log.events e1
		JOIN event_log.events e2 ON e2.sequence = e1.sequence - 1
		WHERE e1.prev_hash <> e2.state_hash
		ORDER BY e1.sequence
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			rows.Close()
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Debits and credits carry the same amount, so this is zero unless a
	// row was altered outside the writer.
	var imbalance string
	if err := qs.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(delta), 0)::TEXT FROM (
			SELECT amount AS delta FROM event_log.journal
			UNION ALL
			SELECT -amount FROM event_log.journal
		) moves
	`).Scan(&imbalance); err != nil {
		return nil, err
	}
	report.LedgerImbalance = imbalance

	insurance := ledger.InsuranceVault()
	for key, bal := range qs.store.Balances() {
		if key.Scope != ledger.AccountScopeUser && key != insurance {
			continue
		}
		if bal.IsNegative() {
			report.NegativeBalance = append(report.NegativeBalance, key.AccountPath())
		}
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 && imbalance == "0" && len(report.NegativeBalance) == 0
	return report, nil
}

// GetEventLogInfo compares the persisted log with the live core.
func (qs *QueryService) GetEventLogInfo(ctx context.Context) (_ *EventLogInfo, err error) {
	defer qs.observe("event_log_info", time.Now(), &err)
	rm, err := qs.readModel()
	if err != nil {
		return nil, err
	}
	info := &EventLogInfo{CoreSequence: rm.Sequence, ProjectionSeq: qs.store.Sequence()}
	if qs.db != nil {
		if err := qs.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(sequence), 0) FROM event_log.events`).Scan(&info.LastSequence); err != nil {
			return nil, err
		}
		info.PersistenceLag = info.CoreSequence - info.LastSequence
	}
	return info, nil
}

// TotalBalance sums every projected account. The ledger is double entry,
// so anything but zero means the projection missed an output.
func (qs *QueryService) TotalBalance() sdkmath.Int {
	total := sdkmath.ZeroInt()
	for _, bal := range qs.store.Balances() {
		total = total.Add(bal)
	}
	return total
}
