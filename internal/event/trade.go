package event

import (
	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"

	"ClearingHouse/internal/state"
)

// Trade opens, grows, reduces or flips a position against the AMM.
// Exactly one of BaseAssetAmount and QuoteAssetAmount is set.
// Idempotency key: request_id.
type Trade struct {
	RequestID        uuid.UUID               `json:"request_id"`
	UserID           uuid.UUID               `json:"user_id"`
	MarketIndex      uint16                  `json:"market_index"`
	Direction        state.PositionDirection `json:"direction"`
	BaseAssetAmount  sdkmath.Int             `json:"base_asset_amount,omitempty"`  // AMM_RESERVE_PRECISION
	QuoteAssetAmount sdkmath.Int             `json:"quote_asset_amount,omitempty"` // QUOTE_PRECISION
	// LimitPrice, when set, bounds the average fill price: a long pays at
	// most and a short receives at least this (MARK_PRICE_PRECISION).
	LimitPrice           sdkmath.Int `json:"limit_price,omitempty"`
	DiscountTokenBalance uint64      `json:"discount_token_balance,omitempty"`
	Referrer             *uuid.UUID  `json:"referrer,omitempty"`
	Slot                 uint64      `json:"slot"`
	Sequence             int64       `json:"sequence,omitempty"`
	Timestamp            int64       `json:"timestamp"`
}

func (t *Trade) IdempotencyKey() string {
	return t.RequestID.String()
}

func (t *Trade) EventType() EventType {
	return EventTypeTrade
}

func (t *Trade) Market() *uint16 {
	return marketRef(t.MarketIndex)
}

func (t *Trade) SourceSequence() int64 {
	return t.Sequence
}

func (t *Trade) EventTimestamp() int64 {
	return t.Timestamp
}
