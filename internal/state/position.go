// internal/state/position.go
package state

import (
	"strings"

	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"

	"ClearingHouse/internal/errs"
	fpmath "ClearingHouse/internal/math"
)

// PositionDirection is the side of a trade.
type PositionDirection int8

const (
	DirectionLong PositionDirection = iota
	DirectionShort
)

func (d PositionDirection) String() string {
	switch d {
	case DirectionLong:
		return "Long"
	case DirectionShort:
		return "Short"
	default:
		return "Unknown"
	}
}

func (d PositionDirection) Valid() bool {
	return d == DirectionLong || d == DirectionShort
}

func (d PositionDirection) MarshalText() ([]byte, error) {
	if !d.Valid() {
		return nil, errorsmod.Wrapf(errs.ErrInvalidAmount, "direction %d", d)
	}
	return []byte(strings.ToLower(d.String())), nil
}

// UnmarshalText accepts "long" or "short".
func (d *PositionDirection) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "long":
		*d = DirectionLong
	case "short":
		*d = DirectionShort
	default:
		return errorsmod.Wrapf(errs.ErrInvalidAmount, "direction %q", text)
	}
	return nil
}

// Opposite returns the direction that reduces a position of direction d.
func (d PositionDirection) Opposite() PositionDirection {
	if d == DirectionLong {
		return DirectionShort
	}
	return DirectionLong
}

// DirectionOf returns the direction that opened a signed base amount.
func DirectionOf(baseAssetAmount sdkmath.Int) PositionDirection {
	if baseAssetAmount.IsNegative() {
		return DirectionShort
	}
	return DirectionLong
}

// MarketPosition is a user's position in one market. Positions are owned by
// the account layer and passed in by value.
type MarketPosition struct {
	UserID                    uuid.UUID   `json:"user_id"`
	MarketIndex               uint16      `json:"market_index"`
	BaseAssetAmount           sdkmath.Int `json:"base_asset_amount"`  // signed, AMM_RESERVE_PRECISION
	QuoteAssetAmount          sdkmath.Int `json:"quote_asset_amount"` // entry notional, QUOTE_PRECISION
	LastCumulativeFundingRate sdkmath.Int `json:"last_cumulative_funding_rate"`
	LastCumulativeRepegRebate sdkmath.Int `json:"last_cumulative_repeg_rebate"`
	LastFundingRateTs         int64       `json:"last_funding_rate_ts"`
}

// NewMarketPosition returns a flat position.
func NewMarketPosition(user uuid.UUID, marketIndex uint16) MarketPosition {
	z := sdkmath.ZeroInt()
	return MarketPosition{
		UserID:                    user,
		MarketIndex:               marketIndex,
		BaseAssetAmount:           z,
		QuoteAssetAmount:          z,
		LastCumulativeFundingRate: z,
		LastCumulativeRepegRebate: z,
	}
}

// Normalize replaces unset amounts with zero.
func (p *MarketPosition) Normalize() {
	for _, f := range []*sdkmath.Int{&p.BaseAssetAmount, &p.QuoteAssetAmount, &p.LastCumulativeFundingRate, &p.LastCumulativeRepegRebate} {
		if f.IsNil() {
			*f = sdkmath.ZeroInt()
		}
	}
}

// IsFlat returns true if position has no exposure
func (p MarketPosition) IsFlat() bool {
	return p.BaseAssetAmount.IsZero()
}

// FillAction classifies how a fill changed a position.
type FillAction int8

const (
	FillOpen FillAction = iota
	FillIncrease
	FillReduce
	FillClose
	FillFlip
)

func (a FillAction) String() string {
	switch a {
	case FillOpen:
		return "Open"
	case FillIncrease:
		return "Increase"
	case FillReduce:
		return "Reduce"
	case FillClose:
		return "Close"
	case FillFlip:
		return "Flip"
	default:
		return "Unknown"
	}
}

// IncreasesRisk reports whether the fill adds exposure.
func (a FillAction) IncreasesRisk() bool {
	return a == FillOpen || a == FillIncrease || a == FillFlip
}

// FillResult is the position after a fill plus the PnL it realized.
type FillResult struct {
	Action      FillAction
	Position    MarketPosition
	RealizedPnL sdkmath.Int
}

// ApplyFill applies a fill of baseAmount (positive) traded for quoteAmount
// (positive, QUOTE_PRECISION) in direction to p. p is not modified.
//
// Reducing fills release entry notional pro rata and realize the difference
// against the traded quote; a flip closes the old side and opens the
// remainder with the leftover quote.
func ApplyFill(p MarketPosition, direction PositionDirection, baseAmount, quoteAmount sdkmath.Int) (FillResult, error) {
	p.Normalize()
	if !baseAmount.IsPositive() || quoteAmount.IsNegative() {
		return FillResult{}, errorsmod.Wrapf(errs.ErrInvalidAmount, "base %s quote %s", baseAmount, quoteAmount)
	}

	signed := baseAmount
	if direction == DirectionShort {
		signed = baseAmount.Neg()
	}

	out := p
	res := FillResult{RealizedPnL: sdkmath.ZeroInt()}

	switch {
	case p.IsFlat():
		res.Action = FillOpen
		out.BaseAssetAmount = signed
		out.QuoteAssetAmount = quoteAmount

	case DirectionOf(p.BaseAssetAmount) == direction:
		res.Action = FillIncrease
		base, err := fpmath.Add(p.BaseAssetAmount, signed)
		if err != nil {
			return FillResult{}, err
		}
		quote, err := fpmath.AddU128(p.QuoteAssetAmount, quoteAmount)
		if err != nil {
			return FillResult{}, err
		}
		out.BaseAssetAmount = base
		out.QuoteAssetAmount = quote

	default:
		existing := p.BaseAssetAmount.Abs()
		switch {
		case baseAmount.LT(existing):
			res.Action = FillReduce
			released, err := fpmath.MulDiv(p.QuoteAssetAmount, baseAmount, existing, fpmath.RoundDown)
			if err != nil {
				return FillResult{}, err
			}
			res.RealizedPnL = realized(p.BaseAssetAmount, released, quoteAmount)
			out.BaseAssetAmount = p.BaseAssetAmount.Add(signed)
			out.QuoteAssetAmount = p.QuoteAssetAmount.Sub(released)

		case baseAmount.Equal(existing):
			res.Action = FillClose
			res.RealizedPnL = realized(p.BaseAssetAmount, p.QuoteAssetAmount, quoteAmount)
			out.BaseAssetAmount = sdkmath.ZeroInt()
			out.QuoteAssetAmount = sdkmath.ZeroInt()

		default:
			res.Action = FillFlip
			closingQuote, err := fpmath.MulDiv(quoteAmount, existing, baseAmount, fpmath.RoundDown)
			if err != nil {
				return FillResult{}, err
			}
			res.RealizedPnL = realized(p.BaseAssetAmount, p.QuoteAssetAmount, closingQuote)
			out.BaseAssetAmount = p.BaseAssetAmount.Add(signed)
			out.QuoteAssetAmount = quoteAmount.Sub(closingQuote)
		}
	}

	res.Position = out
	return res, nil
}

// realized returns the PnL of closing entry notional for exit quote on a
// position of sign base.
func realized(base, entry, exit sdkmath.Int) sdkmath.Int {
	if base.IsPositive() {
		return exit.Sub(entry)
	}
	return entry.Sub(exit)
}
