// Package funding settles periodic funding between longs and shorts.
package funding

import (
	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"

	"ClearingHouse/internal/amm"
	"ClearingHouse/internal/errs"
	fpmath "ClearingHouse/internal/math"
	"ClearingHouse/internal/state"
)

// Settlement describes one funding update of a market.
type Settlement struct {
	Applied         bool
	MarketIndex     uint16
	FundingRate     sdkmath.Int
	CumulativeLong  sdkmath.Int
	CumulativeShort sdkmath.Int
	MarkTWAP        sdkmath.Int
	OracleTWAP      sdkmath.Int
	Ts              int64
}

// PositionSettlement is the funding and repeg rebate owed by one position
// since its checkpoint, and the position with its checkpoint advanced.
type PositionSettlement struct {
	Payment     sdkmath.Int // positive = position pays
	RepegRebate sdkmath.Int // always credited to the position
	Position    state.MarketPosition
}

// Engine is stateless; all inputs come from the market and position.
type Engine struct{}

func NewEngine() *Engine {
	return &Engine{}
}

// SettleFunding advances the market's cumulative funding rates if a full
// funding period has elapsed. It is a no-op while funding is paused or
// inside the current period, so repeated calls are safe.
//
// m is only modified when Applied is true.
func (e *Engine) SettleFunding(marketIndex uint16, m *state.Market, oraclePrice sdkmath.Int, now int64, paused bool) (Settlement, error) {
	noop := Settlement{MarketIndex: marketIndex}
	if !m.Initialized {
		return noop, errorsmod.Wrapf(errs.ErrMarketNotInitialized, "market %d", marketIndex)
	}
	if paused {
		return noop, nil
	}
	a := m.AMM
	if now < a.LastFundingRateTs {
		return noop, errorsmod.Wrapf(errs.ErrTimestampRegression, "funding ts %d < last %d", now, a.LastFundingRateTs)
	}
	if now-a.LastFundingRateTs < a.FundingPeriod {
		return noop, nil
	}

	mark, err := amm.MarkPrice(&a)
	if err != nil {
		return noop, err
	}
	if err := amm.UpdateMarkTWAP(&a, mark, now); err != nil {
		return noop, err
	}
	if err := amm.UpdateOracleTWAP(&a, oraclePrice, now); err != nil {
		return noop, err
	}

	rate, err := fpmath.ComputeFundingRate(a.LastMarkPriceTWAP, a.LastOraclePriceTWAP, a.FundingPeriod)
	if err != nil {
		return noop, errorsmod.Wrap(err, "funding rate")
	}
	cumLong, err := fpmath.Add(a.CumulativeFundingRateLong, rate)
	if err != nil {
		return noop, err
	}
	cumShort, err := fpmath.Add(a.CumulativeFundingRateShort, rate)
	if err != nil {
		return noop, err
	}

	a.CumulativeFundingRateLong = cumLong
	a.CumulativeFundingRateShort = cumShort
	a.LastFundingRate = rate
	a.LastFundingRateTs = now
	m.AMM = a

	return Settlement{
		Applied:         true,
		MarketIndex:     marketIndex,
		FundingRate:     rate,
		CumulativeLong:  cumLong,
		CumulativeShort: cumShort,
		MarkTWAP:        a.LastMarkPriceTWAP,
		OracleTWAP:      a.LastOraclePriceTWAP,
		Ts:              now,
	}, nil
}

// SettlePosition computes what p owes since its last checkpoint and returns
// p checkpointed to the market's current cumulative values.
func (e *Engine) SettlePosition(p state.MarketPosition, m *state.Market) (PositionSettlement, error) {
	p.Normalize()
	out := PositionSettlement{Payment: sdkmath.ZeroInt(), RepegRebate: sdkmath.ZeroInt()}

	if !p.IsFlat() {
		cum, rebateCum := sideCumulatives(m, state.DirectionOf(p.BaseAssetAmount))
		payment, err := fpmath.ComputeFundingPayment(cum, p.LastCumulativeFundingRate, p.BaseAssetAmount)
		if err != nil {
			return out, errorsmod.Wrap(err, "funding payment")
		}
		rebate, err := fpmath.ComputeRepegRebate(p.BaseAssetAmount, rebateCum, p.LastCumulativeRepegRebate)
		if err != nil {
			return out, errorsmod.Wrap(err, "repeg rebate")
		}
		out.Payment = payment
		out.RepegRebate = rebate
	}

	out.Position = Checkpoint(p, m)
	return out, nil
}

// Checkpoint sets p's funding and rebate checkpoints to the current values
// for the side p is on. Call it after every fill, since a flip changes
// which side's cumulative applies.
func Checkpoint(p state.MarketPosition, m *state.Market) state.MarketPosition {
	cum, rebateCum := sideCumulatives(m, state.DirectionOf(p.BaseAssetAmount))
	p.LastCumulativeFundingRate = cum
	p.LastCumulativeRepegRebate = rebateCum
	p.LastFundingRateTs = m.AMM.LastFundingRateTs
	return p
}

// SettleMarket settles every position of one market in a deterministic
// order. Payments are rounded toward zero per position; the residual is
// reported as the settlement's RoundingFee.
func (e *Engine) SettleMarket(marketIndex uint16, m *state.Market, positions []state.MarketPosition) (*fpmath.FundingSettlement, error) {
	in := make([]fpmath.PositionForFunding, 0, len(positions))
	for _, p := range positions {
		if p.MarketIndex != marketIndex {
			return nil, errorsmod.Wrapf(errs.ErrPositionMarketMismatch, "position market %d, settling %d", p.MarketIndex, marketIndex)
		}
		p.Normalize()
		in = append(in, fpmath.PositionForFunding{
			UserID:                    p.UserID,
			BaseAssetAmount:           p.BaseAssetAmount,
			LastCumulativeFundingRate: p.LastCumulativeFundingRate,
		})
	}
	return fpmath.ComputeFundingSettlement(marketIndex, m.AMM.CumulativeFundingRateLong, m.AMM.CumulativeFundingRateShort, in)
}

func sideCumulatives(m *state.Market, d state.PositionDirection) (funding, rebate sdkmath.Int) {
	if d == state.DirectionShort {
		return m.AMM.CumulativeFundingRateShort, m.AMM.CumulativeRepegRebateShort
	}
	return m.AMM.CumulativeFundingRateLong, m.AMM.CumulativeRepegRebateLong
}
