package amm

import (
	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"

	"ClearingHouse/internal/errs"
	fpmath "ClearingHouse/internal/math"
	"ClearingHouse/internal/state"
)

// RepegResult describes a committed peg change.
type RepegResult struct {
	PegBefore  sdkmath.Int
	PegAfter   sdkmath.Int
	MarkBefore sdkmath.Int
	MarkAfter  sdkmath.Int
	// Cost is what the exchange pays to re-price the net position, in
	// QUOTE_PRECISION. Negative is a profit, handed back as a rebate.
	Cost       sdkmath.Int
	RebateRate sdkmath.Int
	RebateSide state.PositionDirection
}

// RepegCost returns the cost of moving m's peg to newPeg: the change in
// value of closing the net base position against the curve.
func RepegCost(m *state.Market, newPeg sdkmath.Int) (sdkmath.Int, error) {
	net := m.BaseAssetAmount
	if net.IsZero() {
		return sdkmath.ZeroInt(), nil
	}
	a := &m.AMM
	k := invariant(a)

	var pegDelta, quoteDelta sdkmath.Int
	if net.IsPositive() {
		// longs close by selling base into the curve
		newQuote := k.Quo(a.BaseAssetReserve.Add(net))
		quoteDelta = a.QuoteAssetReserve.Sub(newQuote)
		pegDelta = newPeg.Sub(a.PegMultiplier)
	} else {
		// shorts close by buying base out of the curve
		if net.Abs().GTE(a.BaseAssetReserve) {
			return sdkmath.ZeroInt(), errorsmod.Wrapf(errs.ErrInsufficientReserves, "net short %s exceeds base reserve", net)
		}
		newQuote := k.Quo(a.BaseAssetReserve.Sub(net.Abs()))
		quoteDelta = newQuote.Sub(a.QuoteAssetReserve)
		pegDelta = a.PegMultiplier.Sub(newPeg)
	}
	return fpmath.MulDiv(quoteDelta, pegDelta, fpmath.AMMTimesPegToQuoteInt(), fpmath.RoundDown)
}

// Repeg moves the peg of m to newPeg. A positive oraclePrice requires the
// new mark to be strictly closer to it than the current one. A cost is paid
// from collected fees; a profit accrues as a repeg rebate to the net side.
func Repeg(m *state.Market, newPeg, oraclePrice sdkmath.Int) (RepegResult, error) {
	a := &m.AMM
	if newPeg.IsNil() || !newPeg.IsPositive() {
		return RepegResult{}, errorsmod.Wrapf(errs.ErrInvalidRepegRedundant, "peg %s", newPeg)
	}
	if newPeg.Equal(a.PegMultiplier) {
		return RepegResult{}, errorsmod.Wrapf(errs.ErrInvalidRepegRedundant, "peg already %s", newPeg)
	}
	if _, err := fpmath.CheckU128(newPeg); err != nil {
		return RepegResult{}, err
	}

	markBefore, err := MarkPrice(a)
	if err != nil {
		return RepegResult{}, err
	}
	markAfter, err := MarkPriceAfter(a, newPeg)
	if err != nil {
		return RepegResult{}, err
	}
	if !oraclePrice.IsNil() && oraclePrice.IsPositive() {
		if markAfter.Sub(oraclePrice).Abs().GTE(markBefore.Sub(oraclePrice).Abs()) {
			return RepegResult{}, errorsmod.Wrapf(errs.ErrInvalidRepegDirection,
				"mark %s -> %s, oracle %s", markBefore, markAfter, oraclePrice)
		}
	}

	cost, err := RepegCost(m, newPeg)
	if err != nil {
		return RepegResult{}, err
	}

	res := RepegResult{
		PegBefore:  a.PegMultiplier,
		PegAfter:   newPeg,
		MarkBefore: markBefore,
		MarkAfter:  markAfter,
		Cost:       cost,
		RebateRate: sdkmath.ZeroInt(),
		RebateSide: state.DirectionOf(m.BaseAssetAmount),
	}

	switch {
	case cost.IsPositive():
		if cost.GT(a.TotalFeeMinusDistributions) {
			return RepegResult{}, errorsmod.Wrapf(errs.ErrRepegCostExceedsFees,
				"cost %s, available %s", cost, a.TotalFeeMinusDistributions)
		}
		a.TotalFeeMinusDistributions = a.TotalFeeMinusDistributions.Sub(cost)

	case cost.IsNegative():
		rate, err := fpmath.ComputeRepegRebateRate(cost, m.BaseAssetAmount)
		if err != nil {
			return RepegResult{}, err
		}
		cumulative := &a.CumulativeRepegRebateShort
		if m.BaseAssetAmount.IsPositive() {
			cumulative = &a.CumulativeRepegRebateLong
		}
		sum, err := fpmath.AddU128(*cumulative, rate)
		if err != nil {
			return RepegResult{}, err
		}
		*cumulative = sum
		res.RebateRate = rate
	}

	a.PegMultiplier = newPeg
	return res, nil
}
