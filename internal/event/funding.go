package event

import (
	"github.com/google/uuid"
)

// SettleFunding asks the core to update a market's funding rate. It is a
// no-op inside the funding period, so keepers may send it freely.
type SettleFunding struct {
	RequestID   uuid.UUID `json:"request_id"`
	MarketIndex uint16    `json:"market_index"`
	Timestamp   int64     `json:"timestamp"`
}

func (f *SettleFunding) IdempotencyKey() string {
	return f.RequestID.String()
}

func (f *SettleFunding) EventType() EventType {
	return EventTypeSettleFunding
}

func (f *SettleFunding) Market() *uint16 {
	return marketRef(f.MarketIndex)
}

func (f *SettleFunding) SourceSequence() int64 {
	return 0
}

func (f *SettleFunding) EventTimestamp() int64 {
	return f.Timestamp
}

// SettleFundingPayments settles accrued funding and repeg rebates for the
// listed users' positions in one market, or every position when Users is
// empty.
type SettleFundingPayments struct {
	RequestID   uuid.UUID   `json:"request_id"`
	MarketIndex uint16      `json:"market_index"`
	Users       []uuid.UUID `json:"users,omitempty"`
	Timestamp   int64       `json:"timestamp"`
}

func (f *SettleFundingPayments) IdempotencyKey() string {
	return f.RequestID.String()
}

func (f *SettleFundingPayments) EventType() EventType {
	return EventTypeSettleFundingPayments
}

func (f *SettleFundingPayments) Market() *uint16 {
	return marketRef(f.MarketIndex)
}

func (f *SettleFundingPayments) SourceSequence() int64 {
	return 0
}

func (f *SettleFundingPayments) EventTimestamp() int64 {
	return f.Timestamp
}
