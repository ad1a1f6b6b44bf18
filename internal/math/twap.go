package math

import (
	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"

	"ClearingHouse/internal/errs"
)

// ComputeTWAP blends price into lastTWAP with time weights.
//
//	since_last  = max(1, now - lastTs)
//	since_start = max(0, period - since_last)
//	twap        = (lastTWAP*since_start + price*since_last) / (since_start + since_last)
//
// The lookback is capped at period, so a sample older than one period is
// fully replaced. An unset TWAP (zero) takes price directly.
func ComputeTWAP(lastTWAP sdkmath.Int, lastTs int64, price sdkmath.Int, now int64, period int64) (sdkmath.Int, error) {
	if now < lastTs {
		return sdkmath.ZeroInt(), errorsmod.Wrapf(errs.ErrTimestampRegression, "now %d < last %d", now, lastTs)
	}
	if lastTWAP.IsZero() {
		return price, nil
	}

	sinceLast := now - lastTs
	if sinceLast < 1 {
		sinceLast = 1
	}
	sinceStart := period - sinceLast
	if sinceStart < 0 {
		sinceStart = 0
	}

	weightedOld, err := Mul(lastTWAP, sdkmath.NewInt(sinceStart))
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	weightedNew, err := Mul(price, sdkmath.NewInt(sinceLast))
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	sum, err := Add(weightedOld, weightedNew)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	return Div(sum, sdkmath.NewInt(sinceStart+sinceLast), RoundDown)
}
