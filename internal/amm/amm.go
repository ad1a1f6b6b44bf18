// Package amm prices and moves the virtual constant-product curve of a
// market. Functions that quote never mutate; Apply* functions commit.
package amm

import (
	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"

	"ClearingHouse/internal/errs"
	fpmath "ClearingHouse/internal/math"
	"ClearingHouse/internal/state"
)

// MarkPrice returns quote*peg/base in MARK_PRICE_PRECISION.
func MarkPrice(a *state.AMM) (sdkmath.Int, error) {
	return fpmath.ComputeMarkPrice(a.BaseAssetReserve, a.QuoteAssetReserve, a.PegMultiplier)
}

// MarkPriceAfter returns the mark price the curve would have at peg.
func MarkPriceAfter(a *state.AMM, peg sdkmath.Int) (sdkmath.Int, error) {
	return fpmath.ComputeMarkPrice(a.BaseAssetReserve, a.QuoteAssetReserve, peg)
}

func invariant(a *state.AMM) sdkmath.Int {
	return a.SqrtK.Mul(a.SqrtK)
}

// SwapResult is a quoted swap against the curve.
type SwapResult struct {
	Direction         state.PositionDirection
	BaseAssetAmount   sdkmath.Int // base traded, positive
	QuoteAssetAmount  sdkmath.Int // QUOTE_PRECISION, positive
	QuoteReserveDelta sdkmath.Int // |new quote reserve - old|
	NewBaseReserve    sdkmath.Int
	NewQuoteReserve   sdkmath.Int
}

// QuoteSwap quotes trading baseAmount in direction. A long takes base out
// of the curve and puts quote in; a short does the opposite. The output
// reserve is floor(k / new input reserve).
func QuoteSwap(a *state.AMM, baseAmount sdkmath.Int, direction state.PositionDirection) (SwapResult, error) {
	return quoteSwap(a, baseAmount, direction, true)
}

// QuoteClose quotes a reduce-only swap. Closing dust must always be
// possible, so the minimum trade sizes do not apply.
func QuoteClose(a *state.AMM, baseAmount sdkmath.Int, direction state.PositionDirection) (SwapResult, error) {
	return quoteSwap(a, baseAmount, direction, false)
}

func quoteSwap(a *state.AMM, baseAmount sdkmath.Int, direction state.PositionDirection, enforceMinimum bool) (SwapResult, error) {
	if baseAmount.IsNil() || !baseAmount.IsPositive() {
		return SwapResult{}, errorsmod.Wrapf(errs.ErrTradeSizeTooSmall, "base amount %s", baseAmount)
	}
	if enforceMinimum && baseAmount.LT(a.MinimumBaseAssetTradeSize) {
		return SwapResult{}, errorsmod.Wrapf(errs.ErrTradeSizeTooSmall, "base amount %s < minimum %s", baseAmount, a.MinimumBaseAssetTradeSize)
	}
	if !a.BaseAssetReserve.IsPositive() || !a.QuoteAssetReserve.IsPositive() {
		return SwapResult{}, errorsmod.Wrap(errs.ErrInvalidReserves, "empty curve")
	}

	k := invariant(a)
	var newBase sdkmath.Int
	switch direction {
	case state.DirectionLong:
		if baseAmount.GTE(a.BaseAssetReserve) {
			return SwapResult{}, errorsmod.Wrapf(errs.ErrInsufficientReserves, "base %s >= reserve %s", baseAmount, a.BaseAssetReserve)
		}
		newBase = a.BaseAssetReserve.Sub(baseAmount)
	case state.DirectionShort:
		var err error
		if newBase, err = fpmath.AddU128(a.BaseAssetReserve, baseAmount); err != nil {
			return SwapResult{}, err
		}
	default:
		return SwapResult{}, errorsmod.Wrapf(errs.ErrInvalidAmount, "direction %d", direction)
	}

	newQuote := k.Quo(newBase)
	if !newQuote.IsPositive() {
		return SwapResult{}, errorsmod.Wrap(errs.ErrInsufficientReserves, "quote reserve would be exhausted")
	}
	if _, err := fpmath.CheckU128(newQuote); err != nil {
		return SwapResult{}, err
	}

	delta := newQuote.Sub(a.QuoteAssetReserve).Abs()
	quoteAmount, err := fpmath.ConvertReserveToQuote(delta, a.PegMultiplier)
	if err != nil {
		return SwapResult{}, err
	}
	if enforceMinimum && quoteAmount.LT(a.MinimumQuoteAssetTradeSize) {
		return SwapResult{}, errorsmod.Wrapf(errs.ErrTradeSizeTooSmall, "quote amount %s < minimum %s", quoteAmount, a.MinimumQuoteAssetTradeSize)
	}

	return SwapResult{
		Direction:         direction,
		BaseAssetAmount:   baseAmount,
		QuoteAssetAmount:  quoteAmount,
		QuoteReserveDelta: delta,
		NewBaseReserve:    newBase,
		NewQuoteReserve:   newQuote,
	}, nil
}

// QuoteSwapByQuote quotes a trade sized in collateral: a long spends
// quoteAmount, a short receives it.
func QuoteSwapByQuote(a *state.AMM, quoteAmount sdkmath.Int, direction state.PositionDirection) (SwapResult, error) {
	if quoteAmount.IsNil() || !quoteAmount.IsPositive() || quoteAmount.LT(a.MinimumQuoteAssetTradeSize) {
		return SwapResult{}, errorsmod.Wrapf(errs.ErrTradeSizeTooSmall, "quote amount %s", quoteAmount)
	}
	if !a.BaseAssetReserve.IsPositive() || !a.QuoteAssetReserve.IsPositive() {
		return SwapResult{}, errorsmod.Wrap(errs.ErrInvalidReserves, "empty curve")
	}
	delta, err := fpmath.ConvertQuoteToReserve(quoteAmount, a.PegMultiplier)
	if err != nil {
		return SwapResult{}, err
	}

	k := invariant(a)
	var newQuote sdkmath.Int
	switch direction {
	case state.DirectionLong:
		if newQuote, err = fpmath.AddU128(a.QuoteAssetReserve, delta); err != nil {
			return SwapResult{}, err
		}
	case state.DirectionShort:
		if delta.GTE(a.QuoteAssetReserve) {
			return SwapResult{}, errorsmod.Wrapf(errs.ErrInsufficientReserves, "quote %s >= reserve %s", delta, a.QuoteAssetReserve)
		}
		newQuote = a.QuoteAssetReserve.Sub(delta)
	default:
		return SwapResult{}, errorsmod.Wrapf(errs.ErrInvalidAmount, "direction %d", direction)
	}

	newBase := k.Quo(newQuote)
	if !newBase.IsPositive() {
		return SwapResult{}, errorsmod.Wrap(errs.ErrInsufficientReserves, "base reserve would be exhausted")
	}
	if _, err := fpmath.CheckU128(newBase); err != nil {
		return SwapResult{}, err
	}
	baseAmount := newBase.Sub(a.BaseAssetReserve).Abs()
	if !baseAmount.IsPositive() || baseAmount.LT(a.MinimumBaseAssetTradeSize) {
		return SwapResult{}, errorsmod.Wrapf(errs.ErrTradeSizeTooSmall, "base amount %s", baseAmount)
	}

	return SwapResult{
		Direction:         direction,
		BaseAssetAmount:   baseAmount,
		QuoteAssetAmount:  quoteAmount,
		QuoteReserveDelta: delta,
		NewBaseReserve:    newBase,
		NewQuoteReserve:   newQuote,
	}, nil
}

// ApplySwap commits a quoted swap to the curve.
func ApplySwap(a *state.AMM, r SwapResult) {
	a.BaseAssetReserve = r.NewBaseReserve
	a.QuoteAssetReserve = r.NewQuoteReserve
}

// MoveReserves sets both reserves directly and recomputes sqrt_k. Only
// allowed while the admin controls prices.
func MoveReserves(a *state.AMM, baseReserve, quoteReserve sdkmath.Int) error {
	if !baseReserve.IsPositive() || !quoteReserve.IsPositive() {
		return errorsmod.Wrapf(errs.ErrInvalidReserves, "base %s quote %s", baseReserve, quoteReserve)
	}
	for _, v := range []sdkmath.Int{baseReserve, quoteReserve} {
		if _, err := fpmath.CheckU128(v); err != nil {
			return err
		}
	}
	sqrtK, err := fpmath.Sqrt(baseReserve.Mul(quoteReserve))
	if err != nil {
		return err
	}
	a.BaseAssetReserve = baseReserve
	a.QuoteAssetReserve = quoteReserve
	a.SqrtK = sqrtK
	return nil
}
