package state

import (
	"encoding/json"

	errorsmod "cosmossdk.io/errors"

	"ClearingHouse/internal/errs"
)

// Ref is a one-time-initialized reference to an external account.
// It moves from uninitialized to initialized exactly once.
type Ref struct {
	id          Pubkey
	initialized bool
}

func (r Ref) IsInitialized() bool {
	return r.initialized
}

// ID returns the referenced account and whether it has been set.
func (r Ref) ID() (Pubkey, bool) {
	return r.id, r.initialized
}

func (r Ref) String() string {
	if !r.initialized {
		return "<uninitialized>"
	}
	return r.id.String()
}

type refJSON struct {
	ID          *Pubkey `json:"id,omitempty"`
	Initialized bool    `json:"initialized"`
}

func (r Ref) MarshalJSON() ([]byte, error) {
	out := refJSON{Initialized: r.initialized}
	if r.initialized {
		id := r.id
		out.ID = &id
	}
	return json.Marshal(out)
}

func (r *Ref) UnmarshalJSON(b []byte) error {
	var in refJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	*r = Ref{}
	if in.Initialized {
		if in.ID == nil || in.ID.IsZero() {
			return errorsmod.Wrap(errs.ErrInvalidHistoryRef, "initialized reference without id")
		}
		r.id = *in.ID
		r.initialized = true
	}
	return nil
}

// HistoryKind names one of the six history logs.
type HistoryKind int

const (
	HistoryDeposit HistoryKind = iota
	HistoryTrade
	HistoryFundingPayment
	HistoryFundingRate
	HistoryLiquidation
	HistoryCurve
)

// AllHistoryKinds lists every history log in a fixed order.
var AllHistoryKinds = []HistoryKind{
	HistoryDeposit,
	HistoryTrade,
	HistoryFundingPayment,
	HistoryFundingRate,
	HistoryLiquidation,
	HistoryCurve,
}

func (k HistoryKind) String() string {
	switch k {
	case HistoryDeposit:
		return "deposit"
	case HistoryTrade:
		return "trade"
	case HistoryFundingPayment:
		return "funding_payment"
	case HistoryFundingRate:
		return "funding_rate"
	case HistoryLiquidation:
		return "liquidation"
	case HistoryCurve:
		return "curve"
	default:
		return "unknown"
	}
}

// ParseHistoryKind is the inverse of String.
func ParseHistoryKind(s string) (HistoryKind, bool) {
	for _, k := range AllHistoryKinds {
		if k.String() == s {
			return k, true
		}
	}
	return 0, false
}

// HistoryRefs holds the six history log references.
type HistoryRefs struct {
	Deposit        Ref `json:"deposit"`
	Trade          Ref `json:"trade"`
	FundingPayment Ref `json:"funding_payment"`
	FundingRate    Ref `json:"funding_rate"`
	Liquidation    Ref `json:"liquidation"`
	Curve          Ref `json:"curve"`
}

// HistoryIDs is the input to InitializeHistory.
type HistoryIDs struct {
	Deposit        Pubkey `json:"deposit"`
	Trade          Pubkey `json:"trade"`
	FundingPayment Pubkey `json:"funding_payment"`
	FundingRate    Pubkey `json:"funding_rate"`
	Liquidation    Pubkey `json:"liquidation"`
	Curve          Pubkey `json:"curve"`
}

func (h *HistoryRefs) ref(k HistoryKind) *Ref {
	switch k {
	case HistoryDeposit:
		return &h.Deposit
	case HistoryTrade:
		return &h.Trade
	case HistoryFundingPayment:
		return &h.FundingPayment
	case HistoryFundingRate:
		return &h.FundingRate
	case HistoryLiquidation:
		return &h.Liquidation
	case HistoryCurve:
		return &h.Curve
	default:
		return nil
	}
}

// Get returns the reference for kind.
func (h *HistoryRefs) Get(k HistoryKind) Ref {
	if r := h.ref(k); r != nil {
		return *r
	}
	return Ref{}
}

// Initialize sets all six references at once. If any reference is already
// set, or any id is zero, nothing changes.
func (h *HistoryRefs) Initialize(ids HistoryIDs) error {
	input := map[HistoryKind]Pubkey{
		HistoryDeposit:        ids.Deposit,
		HistoryTrade:          ids.Trade,
		HistoryFundingPayment: ids.FundingPayment,
		HistoryFundingRate:    ids.FundingRate,
		HistoryLiquidation:    ids.Liquidation,
		HistoryCurve:          ids.Curve,
	}
	for _, k := range AllHistoryKinds {
		if h.ref(k).initialized {
			return errorsmod.Wrapf(errs.ErrHistoryAlreadyInitialized, "%s history", k)
		}
		if input[k].IsZero() {
			return errorsmod.Wrapf(errs.ErrInvalidHistoryRef, "%s history id is zero", k)
		}
	}
	for _, k := range AllHistoryKinds {
		*h.ref(k) = Ref{id: input[k], initialized: true}
	}
	return nil
}

// Require returns the id of an initialized log.
func (h *HistoryRefs) Require(k HistoryKind) (Pubkey, error) {
	r := h.ref(k)
	if r == nil || !r.initialized {
		return Pubkey{}, errorsmod.Wrapf(errs.ErrHistoryNotInitialized, "%s history", k)
	}
	return r.id, nil
}
