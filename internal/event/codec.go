package event

import (
	"encoding/json"

	errorsmod "cosmossdk.io/errors"

	"ClearingHouse/internal/errs"
)

// New returns an empty command of type et, ready to be unmarshalled into.
func New(et EventType) (Event, error) {
	switch et {
	case EventTypeOracleUpdate:
		return &OracleUpdate{}, nil
	case EventTypeSettleFunding:
		return &SettleFunding{}, nil
	case EventTypeSettleFundingPayments:
		return &SettleFundingPayments{}, nil
	case EventTypeTrade:
		return &Trade{}, nil
	case EventTypeLiquidate:
		return &Liquidate{}, nil
	case EventTypeDeposit:
		return &Deposit{}, nil
	case EventTypeWithdraw:
		return &Withdraw{}, nil
	case EventTypeInitializeMarket:
		return &InitializeMarket{}, nil
	case EventTypeRepeg:
		return &Repeg{}, nil
	case EventTypeUpdateMarginRatios:
		return &UpdateMarginRatios{}, nil
	case EventTypeUpdateFeeStructure:
		return &UpdateFeeStructure{}, nil
	case EventTypeUpdateOracleGuardRails:
		return &UpdateOracleGuardRails{}, nil
	case EventTypeUpdateLiquidationParams:
		return &UpdateLiquidationParams{}, nil
	case EventTypeSetPaused:
		return &SetPaused{}, nil
	case EventTypeSetMaxDeposit:
		return &SetMaxDeposit{}, nil
	case EventTypeSetAdmin:
		return &SetAdmin{}, nil
	case EventTypeUpdateMints:
		return &UpdateMints{}, nil
	case EventTypeInitializeHistory:
		return &InitializeHistory{}, nil
	case EventTypeInitializeOrderState:
		return &InitializeOrderState{}, nil
	case EventTypeMoveAMMPrice:
		return &MoveAMMPrice{}, nil
	case EventTypeWithdrawFees:
		return &WithdrawFees{}, nil
	case EventTypeFundInsurance:
		return &FundInsurance{}, nil
	default:
		return nil, errorsmod.Wrapf(errs.ErrUnknownCommand, "event type %d", int32(et))
	}
}

// Decode unmarshals a JSON payload stored in an EventEnvelope.
func Decode(et EventType, payload []byte) (Event, error) {
	evt, err := New(et)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(payload, evt); err != nil {
		return nil, errorsmod.Wrapf(errs.ErrUnknownCommand, "decode %s: %v", et, err)
	}
	return evt, nil
}

// Encode is the payload stored for evt.
func Encode(evt Event) ([]byte, error) {
	return json.Marshal(evt)
}
