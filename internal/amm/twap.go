package amm

import (
	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"

	"ClearingHouse/internal/errs"
	fpmath "ClearingHouse/internal/math"
	"ClearingHouse/internal/state"
)

// UpdateMarkTWAP blends price into the mark TWAP with a lookback of one
// funding period.
func UpdateMarkTWAP(a *state.AMM, price sdkmath.Int, now int64) error {
	twap, err := fpmath.ComputeTWAP(a.LastMarkPriceTWAP, a.LastMarkPriceTWAPTs, price, now, a.FundingPeriod)
	if err != nil {
		return errorsmod.Wrap(err, "mark twap")
	}
	if _, err := fpmath.CheckU128(twap); err != nil {
		return err
	}
	a.LastMarkPriceTWAP = twap
	a.LastMarkPriceTWAPTs = now
	return nil
}

// UpdateOracleTWAP records an oracle price and blends it into the oracle
// TWAP. The blended sample is clamped to within a third of the current
// TWAP, so a single reading cannot replace it.
func UpdateOracleTWAP(a *state.AMM, price sdkmath.Int, now int64) error {
	if price.IsNil() || !price.IsPositive() {
		return errorsmod.Wrapf(errs.ErrInvalidOracleReading, "price %s", price)
	}
	twap, err := fpmath.ComputeTWAP(a.LastOraclePriceTWAP, a.LastOraclePriceTWAPTs, ClampToTWAP(price, a.LastOraclePriceTWAP), now, a.FundingPeriod)
	if err != nil {
		return errorsmod.Wrap(err, "oracle twap")
	}
	a.LastOraclePrice = price
	a.LastOraclePriceTWAP = twap
	a.LastOraclePriceTWAPTs = now
	return nil
}

// ClampToTWAP bounds price to [twap - twap/3, twap + twap/3]. An unset
// TWAP leaves price unchanged.
func ClampToTWAP(price, twap sdkmath.Int) sdkmath.Int {
	if twap.IsNil() || !twap.IsPositive() {
		return price
	}
	band := twap.QuoRaw(3)
	return sdkmath.MinInt(twap.Add(band), sdkmath.MaxInt(price, twap.Sub(band)))
}
