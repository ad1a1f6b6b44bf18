// Package liquidation decides whether and how much of an under-margined
// position to close, and how the penalty is split.
package liquidation

import (
	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"

	"ClearingHouse/internal/amm"
	"ClearingHouse/internal/errs"
	"ClearingHouse/internal/margin"
	fpmath "ClearingHouse/internal/math"
	"ClearingHouse/internal/oracle"
	"ClearingHouse/internal/state"
)

// Kind is the liquidation decided for a position.
type Kind int

const (
	KindNone Kind = iota
	KindPartial
	KindFull
)

// AllKinds lists every kind.
var AllKinds = []Kind{KindNone, KindPartial, KindFull}

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "None"
	case KindPartial:
		return "Partial"
	case KindFull:
		return "Full"
	default:
		return "Unknown"
	}
}

// Request is one liquidation attempt. Position should already have its
// funding settled; any funding still owed only lowers the equity the
// penalty is capped at.
type Request struct {
	MarketIndex uint16
	Market      state.Market
	Position    state.MarketPosition
	Collateral  sdkmath.Int
	Oracle      *oracle.Reading
	CurrentSlot uint64
}

// Outcome is the result of Evaluate. For KindNone only Kind, Status,
// MarginRatio, Position and Market are meaningful, and the latter two are
// the inputs unchanged.
type Outcome struct {
	Kind        Kind
	Status      margin.Status
	MarginRatio sdkmath.Int

	BaseAssetAmountClosed  sdkmath.Int // positive
	QuoteNotionalClosed    sdkmath.Int // closed base valued at mark
	QuoteAssetAmountClosed sdkmath.Int // entry notional released
	SwapQuoteAmount        sdkmath.Int // quote received or paid on the curve
	RealizedPnL            sdkmath.Int

	Penalty         sdkmath.Int
	LiquidatorShare sdkmath.Int
	InsuranceShare  sdkmath.Int
	// CollateralDelta is applied to the user's collateral: realized PnL
	// minus penalty.
	CollateralDelta sdkmath.Int
	// Deficit is how far equity is below zero after the close.
	Deficit sdkmath.Int

	Position state.MarketPosition
	Market   state.Market
}

// Engine holds the liquidation parameters and the oracle guard rails in
// force.
type Engine struct {
	params state.LiquidationParams
	rails  state.OracleGuardRails
	guard  *oracle.GuardRail
}

func NewEngine(params state.LiquidationParams, rails state.OracleGuardRails) (*Engine, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if err := rails.Validate(); err != nil {
		return nil, err
	}
	return &Engine{params: params, rails: rails, guard: oracle.NewGuardRail(rails)}, nil
}

// Evaluate classifies the position and, if it is liquidatable, computes the
// close against the market's curve. Neither the request's market nor its
// position are modified; the updated copies are returned in the Outcome.
func (e *Engine) Evaluate(req Request) (Outcome, error) {
	p := req.Position
	p.Normalize()
	m := req.Market
	zero := sdkmath.ZeroInt()
	out := Outcome{
		Kind: KindNone, MarginRatio: zero,
		BaseAssetAmountClosed: zero, QuoteNotionalClosed: zero, QuoteAssetAmountClosed: zero,
		SwapQuoteAmount: zero, RealizedPnL: zero,
		Penalty: zero, LiquidatorShare: zero, InsuranceShare: zero,
		CollateralDelta: zero, Deficit: zero,
		Position: p, Market: m,
	}

	if !m.Initialized {
		return out, errorsmod.Wrapf(errs.ErrMarketNotInitialized, "market %d", req.MarketIndex)
	}
	if p.MarketIndex != req.MarketIndex {
		return out, errorsmod.Wrapf(errs.ErrPositionMarketMismatch, "position market %d, liquidating %d", p.MarketIndex, req.MarketIndex)
	}
	collateral := req.Collateral
	if collateral.IsNil() {
		collateral = zero
	}

	exposure, err := margin.Value(p, &m)
	if err != nil {
		return out, err
	}
	if err := e.checkOracle(req, &m, exposure.MarkPrice); err != nil {
		return out, err
	}

	equity, err := exposure.Equity(collateral)
	if err != nil {
		return out, err
	}
	ratio := margin.MaxRatio()
	if !exposure.Notional.IsZero() {
		if ratio, err = fpmath.MulDiv(equity, fpmath.MarginPrecisionInt(), exposure.Notional, fpmath.RoundDown); err != nil {
			return out, err
		}
	}
	out.MarginRatio = ratio
	out.Status = margin.Classify(ratio, m.MarginRatios())

	size := p.BaseAssetAmount.Abs()
	var closeBase sdkmath.Int
	switch out.Status {
	case margin.StatusHealthy:
		return out, nil
	case margin.StatusPartialLiquidatable:
		out.Kind = KindPartial
		if closeBase, err = e.params.PartialClose.Apply(size); err != nil {
			return out, err
		}
		if closeBase.IsZero() {
			// too small to split
			out.Kind = KindFull
			closeBase = size
		}
	case margin.StatusFullyLiquidatable:
		out.Kind = KindFull
		closeBase = size
	}
	if closeBase.GT(size) {
		return out, errorsmod.Wrapf(errs.ErrCloseExceedsPosition, "close %s of %s", closeBase, size)
	}

	closedNotional, err := fpmath.ComputeNotional(closeBase, exposure.MarkPrice)
	if err != nil {
		return out, err
	}

	closeDir := state.DirectionOf(p.BaseAssetAmount).Opposite()
	swap, err := amm.QuoteClose(&m.AMM, closeBase, closeDir)
	if err != nil {
		return out, errorsmod.Wrap(err, "liquidation close")
	}
	fill, err := state.ApplyFill(p, closeDir, closeBase, swap.QuoteAssetAmount)
	if err != nil {
		return out, err
	}
	amm.ApplySwap(&m.AMM, swap)
	if err := m.AdjustExposure(p.BaseAssetAmount, fill.Position.BaseAssetAmount); err != nil {
		return out, err
	}

	// equity left once the close is realized
	markAfter, err := amm.MarkPrice(&m.AMM)
	if err != nil {
		return out, err
	}
	remainingPnL, err := fpmath.ComputeUnrealizedPnL(fill.Position.BaseAssetAmount, fill.Position.QuoteAssetAmount, markAfter)
	if err != nil {
		return out, err
	}
	after := collateral.Add(fill.RealizedPnL).Add(remainingPnL).Sub(exposure.UnsettledFunding)

	penaltyRatio, shareDenominator := e.params.PartialPenalty, e.params.PartialLiquidatorShareDenominator
	if out.Kind == KindFull {
		penaltyRatio, shareDenominator = e.params.FullPenalty, e.params.FullLiquidatorShareDenominator
	}
	penalty, err := penaltyRatio.Apply(closedNotional)
	if err != nil {
		return out, err
	}
	if after.IsNegative() {
		penalty = zero
		out.Deficit = after.Neg()
	} else {
		penalty = sdkmath.MinInt(penalty, after)
	}
	liquidatorShare := penalty.QuoRaw(int64(shareDenominator))

	out.BaseAssetAmountClosed = closeBase
	out.QuoteNotionalClosed = closedNotional
	out.QuoteAssetAmountClosed = p.QuoteAssetAmount.Sub(fill.Position.QuoteAssetAmount)
	out.SwapQuoteAmount = swap.QuoteAssetAmount
	out.RealizedPnL = fill.RealizedPnL
	out.Penalty = penalty
	out.LiquidatorShare = liquidatorShare
	out.InsuranceShare = penalty.Sub(liquidatorShare)
	out.CollateralDelta = fill.RealizedPnL.Sub(penalty)
	out.Position = fill.Position
	out.Market = m
	return out, nil
}

func (e *Engine) checkOracle(req Request, m *state.Market, mark sdkmath.Int) error {
	if !e.rails.UseForLiquidations {
		return nil
	}
	if req.Oracle == nil {
		return errorsmod.Wrapf(errs.ErrOracleUnavailable, "market %d", req.MarketIndex)
	}
	if req.Oracle.Oracle != m.AMM.Oracle {
		return errorsmod.Wrapf(errs.ErrOracleMismatch, "reading from %s, market uses %s", req.Oracle.Oracle, m.AMM.Oracle)
	}
	return e.guard.Check(*req.Oracle, req.CurrentSlot, mark, m.AMM.LastOraclePriceTWAP)
}
