package query

import (
	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"

	"ClearingHouse/internal/oracle"
	"ClearingHouse/internal/state"
)

// StateView is the exchange-wide configuration at a sequence.
type StateView struct {
	Sequence  int64        `json:"sequence"`
	StateHash string       `json:"state_hash"`
	State     *state.State `json:"state"`
}

// MarketView is one initialized market with its derived prices.
type MarketView struct {
	MarketIndex  uint16          `json:"market_index"`
	Market       state.Market    `json:"market"`
	MarkPrice    sdkmath.Int     `json:"mark_price"`
	Oracle       *oracle.Reading `json:"oracle,omitempty"`
	AsOfSequence int64           `json:"as_of_sequence"`
}

// PositionView is a position marked against the live market.
type PositionView struct {
	state.MarketPosition
	Notional         sdkmath.Int `json:"notional"`
	UnrealizedPnL    sdkmath.Int `json:"unrealized_pnl"`
	UnsettledFunding sdkmath.Int `json:"unsettled_funding"`
	MarkPrice        sdkmath.Int `json:"mark_price"`
}

// AccountView is a user's collateral, positions and cross margin.
// Balances come from the projection and prices from the core read model,
// so the two sequences can differ briefly.
type AccountView struct {
	UserID             uuid.UUID      `json:"user_id"`
	Collateral         sdkmath.Int    `json:"collateral"`
	Positions          []PositionView `json:"positions"`
	Equity             sdkmath.Int    `json:"equity"`
	Notional           sdkmath.Int    `json:"notional"`
	MarginRatio        sdkmath.Int    `json:"margin_ratio"`
	InitialRequirement sdkmath.Int    `json:"initial_requirement"`
	Status             string         `json:"status"`
	MeetsInitialMargin bool           `json:"meets_initial_margin"`
	AsOfSequence       int64          `json:"as_of_sequence"`
	PricedAtSequence   int64          `json:"priced_at_sequence"`
}

// HistoryEntry is one history record in API form.
type HistoryEntry struct {
	Sequence int64       `json:"sequence"`
	Record   interface{} `json:"record"`
}

// HistoryPage is a cursor page of one history log. NextAfter feeds the
// after parameter of the next request; zero means the page was empty.
type HistoryPage struct {
	History      string         `json:"history"`
	Entries      []HistoryEntry `json:"entries"`
	NextAfter    uint64         `json:"next_after"`
	AsOfSequence int64          `json:"as_of_sequence"`
}

// JournalEntry is one persisted ledger movement.
type JournalEntry struct {
	JournalID     string `json:"journal_id"`
	BatchID       string `json:"batch_id"`
	EventRef      string `json:"event_ref"`
	Sequence      int64  `json:"sequence"`
	DebitAccount  string `json:"debit_account"`
	CreditAccount string `json:"credit_account"`
	Amount        string `json:"amount"`
	JournalType   string `json:"journal_type"`
	Timestamp     int64  `json:"timestamp"`
}

// IntegrityReport summarises the hash chain and ledger checks.
type IntegrityReport struct {
	CheckedEvents   int64    `json:"checked_events"`
	HashChainBreaks []int64  `json:"hash_chain_breaks,omitempty"`
	LedgerImbalance string   `json:"ledger_imbalance"`
	NegativeBalance []string `json:"negative_balances,omitempty"`
	IsHealthy       bool     `json:"is_healthy"`
}

// EventLogInfo describes the persisted event log.
type EventLogInfo struct {
	LastSequence   int64 `json:"last_sequence"`
	CoreSequence   int64 `json:"core_sequence"`
	ProjectionSeq  int64 `json:"projection_sequence"`
	PersistenceLag int64 `json:"persistence_lag"`
}
