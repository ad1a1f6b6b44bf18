// internal/math/funding.go
package math

import (
	"bytes"
	"sort"

	sdkmath "cosmossdk.io/math"
)

// FundingPeriodAdjustment returns how many funding periods fit in a day.
// Periods shorter than an hour count as one hour; periods longer than a day
// count as one period per day.
func FundingPeriodAdjustment(fundingPeriod int64) int64 {
	period := fundingPeriod
	if period < OneHour {
		period = OneHour
	}
	adj := OneDay / period
	if adj < 1 {
		adj = 1
	}
	return adj
}

// ComputeFundingRate returns the per-period funding rate in
// MARK_PRICE_PRECISION * FUNDING_PAYMENT_PRECISION units.
// Positive means longs pay shorts.
func ComputeFundingRate(markTWAP, oracleTWAP sdkmath.Int, fundingPeriod int64) (sdkmath.Int, error) {
	spread, err := Sub(markTWAP, oracleTWAP)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	return MulDiv(spread, fundingPaymentPrecision, sdkmath.NewInt(FundingPeriodAdjustment(fundingPeriod)), RoundDown)
}

// ComputeFundingPayment calculates the funding owed by a position between
// its checkpoint and the market's cumulative rate.
// Returns: payment in quote precision (positive = position pays, negative =
// position receives). The magnitude is rounded down.
func ComputeFundingPayment(cumulativeRate, lastCumulativeRate, baseAssetAmount sdkmath.Int) (sdkmath.Int, error) {
	delta, err := Sub(cumulativeRate, lastCumulativeRate)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	return MulDiv(delta, baseAssetAmount, fundingPaymentToQuote, RoundDown)
}

// FundingSettlement represents computed funding for all positions of a market.
type FundingSettlement struct {
	MarketIndex     uint16
	CumulativeLong  sdkmath.Int
	CumulativeShort sdkmath.Int
	Payments        []UserPayment
	RoundingFee     sdkmath.Int // residual kept by the house
}

type UserPayment struct {
	UserID  [16]byte
	Payment sdkmath.Int // signed: positive = pays, negative = receives
}

type PositionForFunding struct {
	UserID                    [16]byte
	BaseAssetAmount           sdkmath.Int
	LastCumulativeFundingRate sdkmath.Int
}

// ComputeFundingSettlement calculates funding for all positions in a market
// against the cumulative rate of each position's side.
func ComputeFundingSettlement(
	marketIndex uint16,
	cumulativeLong sdkmath.Int,
	cumulativeShort sdkmath.Int,
	positions []PositionForFunding,
) (*FundingSettlement, error) {
	// Sort positions by user_id for deterministic ordering
	sorted := make([]PositionForFunding, len(positions))
	copy(sorted, positions)
	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i].UserID[:], sorted[j].UserID[:]) < 0
	})

	payments := make([]UserPayment, 0, len(sorted))
	totalPaid := sdkmath.ZeroInt()
	totalReceived := sdkmath.ZeroInt()

	for _, pos := range sorted {
		if pos.BaseAssetAmount.IsZero() {
			continue
		}

		cumulative := cumulativeLong
		if pos.BaseAssetAmount.IsNegative() {
			cumulative = cumulativeShort
		}
		payment, err := ComputeFundingPayment(cumulative, pos.LastCumulativeFundingRate, pos.BaseAssetAmount)
		if err != nil {
			return nil, err
		}
		if payment.IsZero() {
			continue
		}

		payments = append(payments, UserPayment{UserID: pos.UserID, Payment: payment})
		if payment.IsPositive() {
			totalPaid = totalPaid.Add(payment)
		} else {
			totalReceived = totalReceived.Add(payment.Neg())
		}
	}

	return &FundingSettlement{
		MarketIndex:     marketIndex,
		CumulativeLong:  cumulativeLong,
		CumulativeShort: cumulativeShort,
		Payments:        payments,
		RoundingFee:     totalPaid.Sub(totalReceived),
	}, nil
}

// ComputeRepegRebateRate spreads a repeg profit over the net base amount,
// per AMM_RESERVE_PRECISION of base.
func ComputeRepegRebateRate(profit, netBaseAssetAmount sdkmath.Int) (sdkmath.Int, error) {
	if netBaseAssetAmount.IsZero() {
		return sdkmath.ZeroInt(), nil
	}
	return MulDiv(profit.Abs(), ammReservePrecision, netBaseAssetAmount.Abs(), RoundDown)
}

// ComputeRepegRebate returns the rebate owed to a position since its
// checkpoint.
func ComputeRepegRebate(baseAssetAmount, cumulativeRebate, lastCumulativeRebate sdkmath.Int) (sdkmath.Int, error) {
	delta, err := SubU128(cumulativeRebate, lastCumulativeRebate)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	return MulDiv(baseAssetAmount.Abs(), delta, ammReservePrecision, RoundDown)
}
