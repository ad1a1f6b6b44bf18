package event

import (
	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"

	"ClearingHouse/internal/state"
)

// Record is one entry of a history log. The core assigns record ids per
// log, starting at 1, in the order records are produced.
type Record interface {
	HistoryKind() state.HistoryKind
	Header() *RecordHeader
}

// RecordHeader is common to every history record.
type RecordHeader struct {
	RecordID uint64 `json:"record_id"`
	Ts       int64  `json:"ts"`
}

func (h *RecordHeader) Header() *RecordHeader { return h }

// DepositDirection distinguishes deposits from withdrawals in the deposit
// history.
type DepositDirection string

const (
	DepositDirectionDeposit  DepositDirection = "deposit"
	DepositDirectionWithdraw DepositDirection = "withdraw"
)

type DepositRecord struct {
	RecordHeader
	UserID           uuid.UUID        `json:"user_id"`
	Direction        DepositDirection `json:"direction"`
	CollateralBefore sdkmath.Int      `json:"collateral_before"`
	Amount           sdkmath.Int      `json:"amount"`
}

func (r *DepositRecord) HistoryKind() state.HistoryKind { return state.HistoryDeposit }

type TradeRecord struct {
	RecordHeader
	UserID           uuid.UUID               `json:"user_id"`
	MarketIndex      uint16                  `json:"market_index"`
	Direction        state.PositionDirection `json:"direction"`
	BaseAssetAmount  sdkmath.Int             `json:"base_asset_amount"`
	QuoteAssetAmount sdkmath.Int             `json:"quote_asset_amount"`
	MarkPriceBefore  sdkmath.Int             `json:"mark_price_before"`
	MarkPriceAfter   sdkmath.Int             `json:"mark_price_after"`
	OraclePrice      sdkmath.Int             `json:"oracle_price"`
	Fee              sdkmath.Int             `json:"fee"`
	TokenDiscount    sdkmath.Int             `json:"token_discount"`
	RefereeDiscount  sdkmath.Int             `json:"referee_discount"`
	ReferrerReward   sdkmath.Int             `json:"referrer_reward"`
	Referrer         *uuid.UUID              `json:"referrer,omitempty"`
	RealizedPnL      sdkmath.Int             `json:"realized_pnl"`
	Liquidation      bool                    `json:"liquidation"`
}

func (r *TradeRecord) HistoryKind() state.HistoryKind { return state.HistoryTrade }

type FundingPaymentRecord struct {
	RecordHeader
	UserID                    uuid.UUID   `json:"user_id"`
	MarketIndex               uint16      `json:"market_index"`
	FundingPayment            sdkmath.Int `json:"funding_payment"` // positive = user paid
	RepegRebate               sdkmath.Int `json:"repeg_rebate"`
	BaseAssetAmount           sdkmath.Int `json:"base_asset_amount"`
	UserLastCumulativeFunding sdkmath.Int `json:"user_last_cumulative_funding"`
	CumulativeFundingLong     sdkmath.Int `json:"cumulative_funding_long"`
	CumulativeFundingShort    sdkmath.Int `json:"cumulative_funding_short"`
}

func (r *FundingPaymentRecord) HistoryKind() state.HistoryKind { return state.HistoryFundingPayment }

type FundingRateRecord struct {
	RecordHeader
	MarketIndex            uint16      `json:"market_index"`
	FundingRate            sdkmath.Int `json:"funding_rate"`
	CumulativeFundingLong  sdkmath.Int `json:"cumulative_funding_long"`
	CumulativeFundingShort sdkmath.Int `json:"cumulative_funding_short"`
	MarkPriceTWAP          sdkmath.Int `json:"mark_price_twap"`
	OraclePriceTWAP        sdkmath.Int `json:"oracle_price_twap"`
}

func (r *FundingRateRecord) HistoryKind() state.HistoryKind { return state.HistoryFundingRate }

type LiquidationRecord struct {
	RecordHeader
	UserID              uuid.UUID   `json:"user_id"`
	Liquidator          uuid.UUID   `json:"liquidator"`
	MarketIndex         uint16      `json:"market_index"`
	Partial             bool        `json:"partial"`
	MarginRatio         sdkmath.Int `json:"margin_ratio"`
	BaseAssetClosed     sdkmath.Int `json:"base_asset_closed"`
	QuoteNotionalClosed sdkmath.Int `json:"quote_notional_closed"`
	Penalty             sdkmath.Int `json:"penalty"`
	FeeToLiquidator     sdkmath.Int `json:"fee_to_liquidator"`
	FeeToInsuranceFund  sdkmath.Int `json:"fee_to_insurance_fund"`
	CollateralBefore    sdkmath.Int `json:"collateral_before"`
	Deficit             sdkmath.Int `json:"deficit"`
	InsuranceCovered    sdkmath.Int `json:"insurance_covered"`
	SocializedLoss      sdkmath.Int `json:"socialized_loss"`
}

func (r *LiquidationRecord) HistoryKind() state.HistoryKind { return state.HistoryLiquidation }

// CurveRecord captures a change of the curve made outside of trading:
// repeg and admin price moves.
type CurveRecord struct {
	RecordHeader
	MarketIndex                uint16      `json:"market_index"`
	PegMultiplierBefore        sdkmath.Int `json:"peg_multiplier_before"`
	PegMultiplierAfter         sdkmath.Int `json:"peg_multiplier_after"`
	BaseAssetReserveBefore     sdkmath.Int `json:"base_asset_reserve_before"`
	BaseAssetReserveAfter      sdkmath.Int `json:"base_asset_reserve_after"`
	QuoteAssetReserveBefore    sdkmath.Int `json:"quote_asset_reserve_before"`
	QuoteAssetReserveAfter     sdkmath.Int `json:"quote_asset_reserve_after"`
	SqrtKBefore                sdkmath.Int `json:"sqrt_k_before"`
	SqrtKAfter                 sdkmath.Int `json:"sqrt_k_after"`
	BaseAssetAmount            sdkmath.Int `json:"base_asset_amount"`
	OpenInterest               sdkmath.Int `json:"open_interest"`
	TotalFee                   sdkmath.Int `json:"total_fee"`
	TotalFeeMinusDistributions sdkmath.Int `json:"total_fee_minus_distributions"`
	AdjustmentCost             sdkmath.Int `json:"adjustment_cost"`
	OraclePrice                sdkmath.Int `json:"oracle_price"`
}

func (r *CurveRecord) HistoryKind() state.HistoryKind { return state.HistoryCurve }

// RecordUser returns the user a record concerns, if any.
func RecordUser(r Record) (uuid.UUID, bool) {
	switch rec := r.(type) {
	case *DepositRecord:
		return rec.UserID, true
	case *TradeRecord:
		return rec.UserID, true
	case *FundingPaymentRecord:
		return rec.UserID, true
	case *LiquidationRecord:
		return rec.UserID, true
	}
	return uuid.Nil, false
}

// RecordMarket returns the market a record concerns, if any.
func RecordMarket(r Record) (uint16, bool) {
	switch rec := r.(type) {
	case *TradeRecord:
		return rec.MarketIndex, true
	case *FundingPaymentRecord:
		return rec.MarketIndex, true
	case *FundingRateRecord:
		return rec.MarketIndex, true
	case *LiquidationRecord:
		return rec.MarketIndex, true
	case *CurveRecord:
		return rec.MarketIndex, true
	}
	return 0, false
}

// NewRecord returns an empty record of kind k, for decoding stored
// history.
func NewRecord(k state.HistoryKind) (Record, bool) {
	switch k {
	case state.HistoryDeposit:
		return &DepositRecord{}, true
	case state.HistoryTrade:
		return &TradeRecord{}, true
	case state.HistoryFundingPayment:
		return &FundingPaymentRecord{}, true
	case state.HistoryFundingRate:
		return &FundingRateRecord{}, true
	case state.HistoryLiquidation:
		return &LiquidationRecord{}, true
	case state.HistoryCurve:
		return &CurveRecord{}, true
	}
	return nil, false
}
