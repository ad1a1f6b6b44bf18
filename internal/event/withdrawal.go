package event

import (
	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
)

// Withdraw moves collateral out. The account must still meet initial
// margin afterwards.
type Withdraw struct {
	RequestID uuid.UUID   `json:"request_id"`
	UserID    uuid.UUID   `json:"user_id"`
	Amount    sdkmath.Int `json:"amount"`
	Sequence  int64       `json:"sequence,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

func (w *Withdraw) IdempotencyKey() string {
	return w.RequestID.String()
}

func (w *Withdraw) EventType() EventType {
	return EventTypeWithdraw
}

func (w *Withdraw) Market() *uint16 {
	return nil
}

func (w *Withdraw) SourceSequence() int64 {
	return w.Sequence
}

func (w *Withdraw) EventTimestamp() int64 {
	return w.Timestamp
}
