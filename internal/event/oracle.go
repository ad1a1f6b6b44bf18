package event

import (
	"fmt"

	sdkmath "cosmossdk.io/math"

	"ClearingHouse/internal/oracle"
	"ClearingHouse/internal/state"
)

// OracleUpdate is a new oracle observation for one market.
// Idempotency key: "{market}:{slot}".
type OracleUpdate struct {
	MarketIndex uint16       `json:"market_index"`
	Oracle      state.Pubkey `json:"oracle"`
	Price       sdkmath.Int  `json:"price"`      // MARK_PRICE_PRECISION
	Confidence  sdkmath.Int  `json:"confidence"` // MARK_PRICE_PRECISION
	Slot        uint64       `json:"slot"`
	Timestamp   int64        `json:"timestamp"`
}

func (o *OracleUpdate) IdempotencyKey() string {
	return fmt.Sprintf("%d:%d", o.MarketIndex, o.Slot)
}

func (o *OracleUpdate) EventType() EventType {
	return EventTypeOracleUpdate
}

func (o *OracleUpdate) Market() *uint16 {
	return marketRef(o.MarketIndex)
}

// SourceSequence is zero: oracle updates are ordered by slot, which the
// core validates separately with gaps tolerated.
func (o *OracleUpdate) SourceSequence() int64 {
	return 0
}

func (o *OracleUpdate) EventTimestamp() int64 {
	return o.Timestamp
}

// Reading returns the observation for the guard rail.
func (o *OracleUpdate) Reading() oracle.Reading {
	conf := o.Confidence
	if conf.IsNil() {
		conf = sdkmath.ZeroInt()
	}
	return oracle.Reading{
		Oracle:     o.Oracle,
		Price:      o.Price,
		Confidence: conf,
		Slot:       o.Slot,
	}
}
