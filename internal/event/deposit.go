// internal/event/deposit.go
package event

import (
	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
)

// Deposit credits collateral to a user.
type Deposit struct {
	RequestID uuid.UUID   `json:"request_id"`
	UserID    uuid.UUID   `json:"user_id"`
	Amount    sdkmath.Int `json:"amount"` // QUOTE_PRECISION
	Sequence  int64       `json:"sequence,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

func (d *Deposit) IdempotencyKey() string {
	return d.RequestID.String()
}

func (d *Deposit) EventType() EventType {
	return EventTypeDeposit
}

func (d *Deposit) Market() *uint16 {
	return nil // Global event
}

func (d *Deposit) SourceSequence() int64 {
	return d.Sequence
}

func (d *Deposit) EventTimestamp() int64 {
	return d.Timestamp
}
