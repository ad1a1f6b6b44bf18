package event

import (
	"github.com/google/uuid"
)

// Liquidate asks the core to liquidate a user's position in one market.
// The liquidator is rewarded out of the penalty.
type Liquidate struct {
	RequestID   uuid.UUID `json:"request_id"`
	Liquidator  uuid.UUID `json:"liquidator"`
	UserID      uuid.UUID `json:"user_id"`
	MarketIndex uint16    `json:"market_index"`
	Slot        uint64    `json:"slot"`
	Sequence    int64     `json:"sequence,omitempty"`
	Timestamp   int64     `json:"timestamp"`
}

func (l *Liquidate) IdempotencyKey() string {
	return l.RequestID.String()
}

func (l *Liquidate) EventType() EventType {
	return EventTypeLiquidate
}

func (l *Liquidate) Market() *uint16 {
	return marketRef(l.MarketIndex)
}

func (l *Liquidate) SourceSequence() int64 {
	return l.Sequence
}

func (l *Liquidate) EventTimestamp() int64 {
	return l.Timestamp
}
