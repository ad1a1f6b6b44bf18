package event

import (
	"time"
)

// EventType discriminator for command payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeOracleUpdate
	EventTypeSettleFunding
	EventTypeSettleFundingPayments
	EventTypeTrade
	EventTypeLiquidate
	EventTypeDeposit
	EventTypeWithdraw
	EventTypeInitializeMarket
	EventTypeRepeg
	EventTypeUpdateMarginRatios
	EventTypeUpdateFeeStructure
	EventTypeUpdateOracleGuardRails
	EventTypeUpdateLiquidationParams
	EventTypeSetPaused
	EventTypeSetMaxDeposit
	EventTypeSetAdmin
	EventTypeUpdateMints
	EventTypeInitializeHistory
	EventTypeInitializeOrderState
	EventTypeMoveAMMPrice
	EventTypeWithdrawFees
	EventTypeFundInsurance
)

// AllEventTypes lists every command type.
var AllEventTypes = []EventType{
	EventTypeOracleUpdate,
	EventTypeSettleFunding,
	EventTypeSettleFundingPayments,
	EventTypeTrade,
	EventTypeLiquidate,
	EventTypeDeposit,
	EventTypeWithdraw,
	EventTypeInitializeMarket,
	EventTypeRepeg,
	EventTypeUpdateMarginRatios,
	EventTypeUpdateFeeStructure,
	EventTypeUpdateOracleGuardRails,
	EventTypeUpdateLiquidationParams,
	EventTypeSetPaused,
	EventTypeSetMaxDeposit,
	EventTypeSetAdmin,
	EventTypeUpdateMints,
	EventTypeInitializeHistory,
	EventTypeInitializeOrderState,
	EventTypeMoveAMMPrice,
	EventTypeWithdrawFees,
	EventTypeFundInsurance,
}

// EventEnvelope wraps every command in the log
type EventEnvelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Stable idempotency key from upstream
	IdempotencyKey string

	// Event type discriminator
	EventType EventType

	// Market context (nil for exchange-wide commands)
	MarketIndex *uint16

	// Command timestamp (NOT wall-clock)
	Timestamp time.Time

	// Upstream sequence for ordering validation
	SourceSequence int64

	// JSON-encoded command
	Payload []byte

	// SHA-256 of state AFTER applying this command
	StateHash [32]byte

	// Previous command's state hash (chain integrity)
	PrevHash [32]byte
}

// Event is the interface all commands implement
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// EventType returns the discriminator
	EventType() EventType

	// Market returns the market context (nil for exchange-wide commands)
	Market() *uint16

	// SourceSequence returns the upstream ordering key; 0 is unsequenced
	SourceSequence() int64

	// EventTimestamp is the command time in unix seconds
	EventTimestamp() int64
}

func (et EventType) String() string {
	switch et {
	case EventTypeOracleUpdate:
		return "OracleUpdate"
	case EventTypeSettleFunding:
		return "SettleFunding"
	case EventTypeSettleFundingPayments:
		return "SettleFundingPayments"
	case EventTypeTrade:
		return "Trade"
	case EventTypeLiquidate:
		return "Liquidate"
	case EventTypeDeposit:
		return "Deposit"
	case EventTypeWithdraw:
		return "Withdraw"
	case EventTypeInitializeMarket:
		return "InitializeMarket"
	case EventTypeRepeg:
		return "Repeg"
	case EventTypeUpdateMarginRatios:
		return "UpdateMarginRatios"
	case EventTypeUpdateFeeStructure:
		return "UpdateFeeStructure"
	case EventTypeUpdateOracleGuardRails:
		return "UpdateOracleGuardRails"
	case EventTypeUpdateLiquidationParams:
		return "UpdateLiquidationParams"
	case EventTypeSetPaused:
		return "SetPaused"
	case EventTypeSetMaxDeposit:
		return "SetMaxDeposit"
	case EventTypeSetAdmin:
		return "SetAdmin"
	case EventTypeUpdateMints:
		return "UpdateMints"
	case EventTypeInitializeHistory:
		return "InitializeHistory"
	case EventTypeInitializeOrderState:
		return "InitializeOrderState"
	case EventTypeMoveAMMPrice:
		return "MoveAMMPrice"
	case EventTypeWithdrawFees:
		return "WithdrawFees"
	case EventTypeFundInsurance:
		return "FundInsurance"
	default:
		return "Unknown"
	}
}

// ParseEventType is the inverse of String.
func ParseEventType(s string) (EventType, bool) {
	for _, et := range AllEventTypes {
		if et.String() == s {
			return et, true
		}
	}
	return EventTypeUnknown, false
}

func marketRef(index uint16) *uint16 {
	return &index
}
