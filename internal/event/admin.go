package event

import (
	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"

	"ClearingHouse/internal/state"
)

// AdminHeader is common to every admin-gated command. The core rejects the
// command with ErrUnauthorized unless Signer is the current admin.
type AdminHeader struct {
	RequestID uuid.UUID    `json:"request_id"`
	Signer    state.Pubkey `json:"signer"`
	Timestamp int64        `json:"timestamp"`
}

func (h *AdminHeader) IdempotencyKey() string {
	return h.RequestID.String()
}

// Admin commands are not sequenced upstream.
func (h *AdminHeader) SourceSequence() int64 {
	return 0
}

func (h *AdminHeader) EventTimestamp() int64 {
	return h.Timestamp
}

// Exchange-wide admin commands carry no market.
func (h *AdminHeader) Market() *uint16 {
	return nil
}

// InitializeMarket creates a market in an empty slot. MarginRatios
// defaults to the exchange-wide ratios when omitted.
type InitializeMarket struct {
	AdminHeader
	MarketIndex       uint16              `json:"market_index"`
	Oracle            state.Pubkey        `json:"oracle"`
	OracleSource      state.OracleSource  `json:"oracle_source"`
	BaseAssetReserve  sdkmath.Int         `json:"base_asset_reserve"`
	QuoteAssetReserve sdkmath.Int         `json:"quote_asset_reserve"`
	FundingPeriod     int64               `json:"funding_period"`
	PegMultiplier     sdkmath.Int         `json:"peg_multiplier"`
	MarginRatios      *state.MarginRatios `json:"margin_ratios,omitempty"`
	OraclePrice       sdkmath.Int         `json:"oracle_price,omitempty"`
}

func (e *InitializeMarket) EventType() EventType { return EventTypeInitializeMarket }
func (e *InitializeMarket) Market() *uint16      { return marketRef(e.MarketIndex) }

// Repeg moves a market's peg multiplier toward the last oracle price.
type Repeg struct {
	AdminHeader
	MarketIndex      uint16      `json:"market_index"`
	NewPegMultiplier sdkmath.Int `json:"new_peg_multiplier"`
}

func (e *Repeg) EventType() EventType { return EventTypeRepeg }
func (e *Repeg) Market() *uint16      { return marketRef(e.MarketIndex) }

// UpdateMarginRatios replaces the exchange-wide ratios, or one market's
// ratios when MarketIndex is set.
type UpdateMarginRatios struct {
	AdminHeader
	MarketIndex  *uint16            `json:"market_index,omitempty"`
	MarginRatios state.MarginRatios `json:"margin_ratios"`
}

func (e *UpdateMarginRatios) EventType() EventType { return EventTypeUpdateMarginRatios }
func (e *UpdateMarginRatios) Market() *uint16      { return e.MarketIndex }

type UpdateFeeStructure struct {
	AdminHeader
	FeeStructure state.FeeStructure `json:"fee_structure"`
}

func (e *UpdateFeeStructure) EventType() EventType { return EventTypeUpdateFeeStructure }

type UpdateOracleGuardRails struct {
	AdminHeader
	OracleGuardRails state.OracleGuardRails `json:"oracle_guard_rails"`
}

func (e *UpdateOracleGuardRails) EventType() EventType { return EventTypeUpdateOracleGuardRails }

type UpdateLiquidationParams struct {
	AdminHeader
	LiquidationParams state.LiquidationParams `json:"liquidation_params"`
}

func (e *UpdateLiquidationParams) EventType() EventType { return EventTypeUpdateLiquidationParams }

// SetPaused flips any of the pause flags. Nil leaves a flag unchanged.
type SetPaused struct {
	AdminHeader
	ExchangePaused      *bool `json:"exchange_paused,omitempty"`
	FundingPaused       *bool `json:"funding_paused,omitempty"`
	AdminControlsPrices *bool `json:"admin_controls_prices,omitempty"`
}

func (e *SetPaused) EventType() EventType { return EventTypeSetPaused }

// SetMaxDeposit caps a user's total deposits; zero removes the cap.
type SetMaxDeposit struct {
	AdminHeader
	MaxDeposit sdkmath.Int `json:"max_deposit"`
}

func (e *SetMaxDeposit) EventType() EventType { return EventTypeSetMaxDeposit }

type SetAdmin struct {
	AdminHeader
	NewAdmin state.Pubkey `json:"new_admin"`
}

func (e *SetAdmin) EventType() EventType { return EventTypeSetAdmin }

// UpdateMints sets the whitelist and discount token mints. Nil leaves a
// mint unchanged.
type UpdateMints struct {
	AdminHeader
	WhitelistMint *state.Pubkey `json:"whitelist_mint,omitempty"`
	DiscountMint  *state.Pubkey `json:"discount_mint,omitempty"`
}

func (e *UpdateMints) EventType() EventType { return EventTypeUpdateMints }

type InitializeHistory struct {
	AdminHeader
	History state.HistoryIDs `json:"history"`
}

func (e *InitializeHistory) EventType() EventType { return EventTypeInitializeHistory }

type InitializeOrderState struct {
	AdminHeader
	OrderState state.Pubkey `json:"order_state"`
}

func (e *InitializeOrderState) EventType() EventType { return EventTypeInitializeOrderState }

// MoveAMMPrice sets a market's reserves directly. Only accepted while the
// admin controls prices.
type MoveAMMPrice struct {
	AdminHeader
	MarketIndex       uint16      `json:"market_index"`
	BaseAssetReserve  sdkmath.Int `json:"base_asset_reserve"`
	QuoteAssetReserve sdkmath.Int `json:"quote_asset_reserve"`
}

func (e *MoveAMMPrice) EventType() EventType { return EventTypeMoveAMMPrice }
func (e *MoveAMMPrice) Market() *uint16      { return marketRef(e.MarketIndex) }

// WithdrawFees takes collected fees out of a market's pool.
type WithdrawFees struct {
	AdminHeader
	MarketIndex uint16      `json:"market_index"`
	Amount      sdkmath.Int `json:"amount"`
}

func (e *WithdrawFees) EventType() EventType { return EventTypeWithdrawFees }
func (e *WithdrawFees) Market() *uint16      { return marketRef(e.MarketIndex) }

// FundInsurance transfers collateral from outside into the insurance
// vault. Anyone may send it.
type FundInsurance struct {
	RequestID uuid.UUID   `json:"request_id"`
	Amount    sdkmath.Int `json:"amount"`
	Timestamp int64       `json:"timestamp"`
}

func (e *FundInsurance) IdempotencyKey() string { return e.RequestID.String() }
func (e *FundInsurance) EventType() EventType   { return EventTypeFundInsurance }
func (e *FundInsurance) Market() *uint16        { return nil }
func (e *FundInsurance) SourceSequence() int64  { return 0 }
func (e *FundInsurance) EventTimestamp() int64  { return e.Timestamp }
