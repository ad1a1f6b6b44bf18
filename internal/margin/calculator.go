// Package margin computes margin ratios and classifies account health.
package margin

import (
	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"

	"ClearingHouse/internal/amm"
	"ClearingHouse/internal/errs"
	fpmath "ClearingHouse/internal/math"
	"ClearingHouse/internal/state"
)

// Status represents a position's or account's margin health
type Status int

const (
	StatusHealthy Status = iota
	StatusPartialLiquidatable
	StatusFullyLiquidatable
)

// AllStatuses lists every status.
var AllStatuses = []Status{StatusHealthy, StatusPartialLiquidatable, StatusFullyLiquidatable}

func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "Healthy"
	case StatusPartialLiquidatable:
		return "PartialLiquidatable"
	case StatusFullyLiquidatable:
		return "FullyLiquidatable"
	default:
		return "Unknown"
	}
}

// MaxRatio is the ratio of an account with no exposure. It is always
// Healthy.
func MaxRatio() sdkmath.Int {
	return fpmath.MaxI128()
}

// Classify maps a margin ratio in basis points to a status. Each threshold
// is the inclusive lower bound of the safer band.
func Classify(ratio sdkmath.Int, r state.MarginRatios) Status {
	if ratio.LT(sdkmath.NewInt(int64(r.Maintenance))) {
		return StatusFullyLiquidatable
	}
	if ratio.LT(sdkmath.NewInt(int64(r.Partial))) {
		return StatusPartialLiquidatable
	}
	return StatusHealthy
}

// Exposure is one position valued at the market's mark price.
type Exposure struct {
	Notional         sdkmath.Int
	UnrealizedPnL    sdkmath.Int
	UnsettledFunding sdkmath.Int // positive = position owes
	MarkPrice        sdkmath.Int
}

// Value marks p against m.
func Value(p state.MarketPosition, m *state.Market) (Exposure, error) {
	p.Normalize()
	zero := sdkmath.ZeroInt()
	out := Exposure{Notional: zero, UnrealizedPnL: zero, UnsettledFunding: zero, MarkPrice: zero}

	mark, err := amm.MarkPrice(&m.AMM)
	if err != nil {
		return out, err
	}
	out.MarkPrice = mark
	if p.IsFlat() {
		return out, nil
	}

	if out.Notional, err = fpmath.ComputeNotional(p.BaseAssetAmount, mark); err != nil {
		return out, err
	}
	if out.UnrealizedPnL, err = fpmath.ComputeUnrealizedPnL(p.BaseAssetAmount, p.QuoteAssetAmount, mark); err != nil {
		return out, err
	}
	cum := m.AMM.CumulativeFundingRateLong
	if p.BaseAssetAmount.IsNegative() {
		cum = m.AMM.CumulativeFundingRateShort
	}
	if out.UnsettledFunding, err = fpmath.ComputeFundingPayment(cum, p.LastCumulativeFundingRate, p.BaseAssetAmount); err != nil {
		return out, err
	}
	return out, nil
}

// Equity returns collateral + unrealized PnL - unsettled funding.
func (e Exposure) Equity(collateral sdkmath.Int) (sdkmath.Int, error) {
	v, err := fpmath.Add(collateral, e.UnrealizedPnL)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	return fpmath.Sub(v, e.UnsettledFunding)
}

// MarginRatio returns (collateral + unrealized PnL - unsettled funding) *
// 1e4 / notional for a single position. A flat position has MaxRatio.
func MarginRatio(p state.MarketPosition, m *state.Market, collateral sdkmath.Int) (sdkmath.Int, error) {
	e, err := Value(p, m)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	equity, err := e.Equity(collateral)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	return ratio(equity, e.Notional)
}

func ratio(equity, notional sdkmath.Int) (sdkmath.Int, error) {
	if notional.IsZero() {
		return MaxRatio(), nil
	}
	return fpmath.MulDiv(equity, fpmath.MarginPrecisionInt(), notional, fpmath.RoundDown)
}

// MarketReader is satisfied by *state.Markets.
type MarketReader interface {
	Get(index uint16) (state.Market, error)
}

// Calculator computes cross-margin metrics over all of a user's positions.
type Calculator struct {
	markets MarketReader
}

func NewCalculator(markets MarketReader) *Calculator {
	return &Calculator{markets: markets}
}

// Account aggregates a user's positions.
type Account struct {
	Equity   sdkmath.Int
	Notional sdkmath.Int
	Ratio    sdkmath.Int
	// InitialRequirement is the sum of notional * initial ratio.
	InitialRequirement sdkmath.Int
	// Strictest thresholds across the markets the user is exposed to.
	Thresholds state.MarginRatios
}

// Status classifies the account against its strictest thresholds.
func (a Account) Status() Status {
	return Classify(a.Ratio, a.Thresholds)
}

// MeetsInitialMargin reports whether equity covers the initial margin of
// every open position.
func (a Account) MeetsInitialMargin() bool {
	return a.Equity.GTE(a.InitialRequirement)
}

// Evaluate computes the account margin for positions backed by collateral.
func (c *Calculator) Evaluate(positions []state.MarketPosition, collateral sdkmath.Int) (Account, error) {
	equity := collateral
	notional := sdkmath.ZeroInt()
	initialReq := sdkmath.ZeroInt()
	var strictest state.MarginRatios

	for _, p := range positions {
		p.Normalize()
		if p.IsFlat() {
			continue
		}
		m, err := c.markets.Get(p.MarketIndex)
		if err != nil {
			return Account{}, errorsmod.Wrapf(err, "position in market %d", p.MarketIndex)
		}
		e, err := Value(p, &m)
		if err != nil {
			return Account{}, err
		}
		if equity, err = fpmath.Add(equity, e.UnrealizedPnL); err != nil {
			return Account{}, err
		}
		if equity, err = fpmath.Sub(equity, e.UnsettledFunding); err != nil {
			return Account{}, err
		}
		if notional, err = fpmath.AddU128(notional, e.Notional); err != nil {
			return Account{}, err
		}

		r := m.MarginRatios()
		req, err := fpmath.MulDiv(e.Notional, sdkmath.NewInt(int64(r.Initial)), fpmath.MarginPrecisionInt(), fpmath.RoundUp)
		if err != nil {
			return Account{}, err
		}
		initialReq = initialReq.Add(req)

		strictest.Initial = max(strictest.Initial, r.Initial)
		strictest.Partial = max(strictest.Partial, r.Partial)
		strictest.Maintenance = max(strictest.Maintenance, r.Maintenance)
	}

	rt, err := ratio(equity, notional)
	if err != nil {
		return Account{}, err
	}
	return Account{
		Equity:             equity,
		Notional:           notional,
		Ratio:              rt,
		InitialRequirement: initialReq,
		Thresholds:         strictest,
	}, nil
}

// AccountMarginRatio is Evaluate reduced to the ratio.
func (c *Calculator) AccountMarginRatio(positions []state.MarketPosition, collateral sdkmath.Int) (sdkmath.Int, error) {
	a, err := c.Evaluate(positions, collateral)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	return a.Ratio, nil
}

// RequireInitialMargin returns ErrInsufficientCollateral unless the account
// meets initial margin.
func (c *Calculator) RequireInitialMargin(positions []state.MarketPosition, collateral sdkmath.Int) error {
	a, err := c.Evaluate(positions, collateral)
	if err != nil {
		return err
	}
	if !a.MeetsInitialMargin() {
		return errorsmod.Wrapf(errs.ErrInsufficientCollateral, "equity %s below initial requirement %s", a.Equity, a.InitialRequirement)
	}
	return nil
}
