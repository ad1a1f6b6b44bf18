package core

import (
	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"

	"ClearingHouse/internal/amm"
	"ClearingHouse/internal/errs"
	"ClearingHouse/internal/event"
	"ClearingHouse/internal/fee"
	"ClearingHouse/internal/funding"
	"ClearingHouse/internal/liquidation"
	"ClearingHouse/internal/margin"
	fpmath "ClearingHouse/internal/math"
	"ClearingHouse/internal/oracle"
	"ClearingHouse/internal/state"
)

// handleTrade fills a market order against the AMM.
//
// Funding owed by the existing position is settled first, so the fill
// starts from a fresh checkpoint. Risk-increasing fills must leave the
// account above initial margin; reducing fills are always allowed.
func (c *DeterministicCore) handleTrade(tx *txn, cmd *event.Trade) error {
	if err := requireActive(tx); err != nil {
		return err
	}
	if !cmd.Direction.Valid() {
		return errorsmod.Wrapf(errs.ErrInvalidAmount, "direction %d", cmd.Direction)
	}
	hasBase := !cmd.BaseAssetAmount.IsNil() && !cmd.BaseAssetAmount.IsZero()
	hasQuote := !cmd.QuoteAssetAmount.IsNil() && !cmd.QuoteAssetAmount.IsZero()
	if hasBase == hasQuote {
		return errorsmod.Wrap(errs.ErrInvalidAmount, "exactly one of base or quote amount must be set")
	}

	m, err := tx.markets.Get(cmd.MarketIndex)
	if err != nil {
		return err
	}
	reading, ok := c.oracleReading(tx, cmd.MarketIndex)
	if !ok {
		return errorsmod.Wrapf(errs.ErrOracleUnavailable, "market %d", cmd.MarketIndex)
	}
	if reading.Oracle != m.AMM.Oracle {
		return errorsmod.Wrapf(errs.ErrOracleMismatch, "market %d", cmd.MarketIndex)
	}

	markBefore, err := amm.MarkPrice(&m.AMM)
	if err != nil {
		return err
	}
	guard := oracle.NewGuardRail(tx.state.OracleGuardRails)
	validity, err := guard.Validate(reading, cmd.Slot, markBefore, m.AMM.LastOraclePriceTWAP)
	if err != nil {
		return err
	}
	if validity == oracle.Stale || validity == oracle.TooVolatile {
		c.recordOracleRejection(cmd.MarketIndex, validity)
		return errorsmod.Wrapf(validity.Err(), "market %d", cmd.MarketIndex)
	}

	pos, err := c.settlePositionFunding(tx, tx.positions.GetPosition(cmd.UserID, cmd.MarketIndex), &m)
	if err != nil {
		return err
	}

	var swap amm.SwapResult
	if hasBase {
		swap, err = amm.QuoteSwap(&m.AMM, cmd.BaseAssetAmount, cmd.Direction)
	} else {
		swap, err = amm.QuoteSwapByQuote(&m.AMM, cmd.QuoteAssetAmount, cmd.Direction)
	}
	if err != nil {
		return err
	}
	if !cmd.LimitPrice.IsNil() && cmd.LimitPrice.IsPositive() {
		if err := checkLimitPrice(cmd.Direction, swap, cmd.LimitPrice); err != nil {
			return err
		}
	}

	fill, err := state.ApplyFill(pos, cmd.Direction, swap.BaseAssetAmount, swap.QuoteAssetAmount)
	if err != nil {
		return err
	}
	amm.ApplySwap(&m.AMM, swap)
	if err := m.AdjustExposure(pos.BaseAssetAmount, fill.Position.BaseAssetAmount); err != nil {
		return err
	}
	newPos := funding.Checkpoint(fill.Position, &m)

	markAfter, err := amm.MarkPrice(&m.AMM)
	if err != nil {
		return err
	}
	// A fill may not leave the mark diverged from the oracle, unless the
	// market was already diverged and the fill moves the mark back toward it.
	if guard.Diverges(markAfter, reading.Price) {
		if validity != oracle.Diverged || fpmath.Abs(markAfter.Sub(reading.Price)).GT(fpmath.Abs(markBefore.Sub(reading.Price))) {
			c.recordOracleRejection(cmd.MarketIndex, oracle.Diverged)
			return errorsmod.Wrapf(errs.ErrOracleDiverged, "mark %s moves away from oracle %s", markAfter, reading.Price)
		}
	}
	if err := amm.UpdateMarkTWAP(&m.AMM, markAfter, tx.ts); err != nil {
		return err
	}

	schedule, err := fee.NewSchedule(tx.state.FeeStructure)
	if err != nil {
		return err
	}
	referred := cmd.Referrer != nil && *cmd.Referrer != cmd.UserID
	breakdown, err := schedule.ComputeFee(swap.QuoteAssetAmount, cmd.DiscountTokenBalance, referred)
	if err != nil {
		return err
	}
	if err := amm.RecordFee(&m.AMM, breakdown.ToMarket()); err != nil {
		return err
	}
	if err := tx.putMarket(cmd.MarketIndex, m); err != nil {
		return err
	}
	tx.positions.SetPosition(newPos)

	c.journalGen.RealizedPnL(tx.batch, cmd.UserID, cmd.MarketIndex, fill.RealizedPnL)
	referrer := cmd.Referrer
	if !referred {
		referrer = nil
	}
	c.journalGen.TradeFee(tx.batch, cmd.UserID, cmd.MarketIndex, breakdown.Fee, breakdown.ReferrerReward, referrer)

	if fill.Action.IncreasesRisk() {
		calc := margin.NewCalculator(tx.markets)
		if err := calc.RequireInitialMargin(tx.positions.GetUserPositions(cmd.UserID), c.collateral(tx, cmd.UserID)); err != nil {
			return err
		}
	}
	// a reducing fill can realize more loss than the collateral holds
	c.journalGen.CoverDeficit(tx.batch, cmd.UserID)

	return tx.emitRecord(&event.TradeRecord{
		UserID:           cmd.UserID,
		MarketIndex:      cmd.MarketIndex,
		Direction:        cmd.Direction,
		BaseAssetAmount:  swap.BaseAssetAmount,
		QuoteAssetAmount: swap.QuoteAssetAmount,
		MarkPriceBefore:  markBefore,
		MarkPriceAfter:   markAfter,
		OraclePrice:      reading.Price,
		Fee:              breakdown.Fee,
		TokenDiscount:    breakdown.TokenDiscount,
		RefereeDiscount:  breakdown.RefereeDiscount,
		ReferrerReward:   breakdown.ReferrerReward,
		Referrer:         referrer,
		RealizedPnL:      fill.RealizedPnL,
	})
}

// checkLimitPrice bounds the average fill price: a long pays at most
// limit, a short receives at least limit.
func checkLimitPrice(dir state.PositionDirection, swap amm.SwapResult, limit sdkmath.Int) error {
	avg, err := fpmath.ComputeAveragePrice(swap.BaseAssetAmount, swap.QuoteAssetAmount)
	if err != nil {
		return err
	}
	if dir == state.DirectionLong && avg.GT(limit) {
		return errorsmod.Wrapf(errs.ErrLimitPriceExceeded, "long fills at %s above limit %s", avg, limit)
	}
	if dir == state.DirectionShort && avg.LT(limit) {
		return errorsmod.Wrapf(errs.ErrLimitPriceExceeded, "short fills at %s below limit %s", avg, limit)
	}
	return nil
}

// handleLiquidate closes part or all of an undercollateralized position.
// The liquidator and the insurance vault split the penalty; a remaining
// deficit is covered by the insurance vault and then socialized.
func (c *DeterministicCore) handleLiquidate(tx *txn, cmd *event.Liquidate) error {
	if err := requireActive(tx); err != nil {
		return err
	}
	if cmd.Liquidator == cmd.UserID {
		return errorsmod.Wrapf(errs.ErrSelfLiquidation, "user %s", cmd.UserID)
	}
	m, err := tx.markets.Get(cmd.MarketIndex)
	if err != nil {
		return err
	}
	pos := tx.positions.GetPosition(cmd.UserID, cmd.MarketIndex)
	if pos.IsFlat() {
		return errorsmod.Wrapf(errs.ErrSufficientCollateral, "user %s has no position in market %d", cmd.UserID, cmd.MarketIndex)
	}
	if pos, err = c.settlePositionFunding(tx, pos, &m); err != nil {
		return err
	}

	var reading *oracle.Reading
	if r, ok := c.oracleReading(tx, cmd.MarketIndex); ok {
		reading = &r
	}
	collateralBefore := c.collateral(tx, cmd.UserID)
	markBefore, err := amm.MarkPrice(&m.AMM)
	if err != nil {
		return err
	}

	engine, err := liquidation.NewEngine(tx.state.Liquidation, tx.state.OracleGuardRails)
	if err != nil {
		return err
	}
	out, err := engine.Evaluate(liquidation.Request{
		MarketIndex: cmd.MarketIndex,
		Market:      m,
		Position:    pos,
		Collateral:  collateralBefore,
		Oracle:      reading,
		CurrentSlot: cmd.Slot,
	})
	if err != nil {
		return err
	}
	if out.Kind == liquidation.KindNone {
		return errorsmod.Wrapf(errs.ErrSufficientCollateral, "margin ratio %s", out.MarginRatio)
	}

	m = out.Market
	markAfter, err := amm.MarkPrice(&m.AMM)
	if err != nil {
		return err
	}
	if err := amm.UpdateMarkTWAP(&m.AMM, markAfter, tx.ts); err != nil {
		return err
	}
	if err := tx.putMarket(cmd.MarketIndex, m); err != nil {
		return err
	}
	tx.positions.SetPosition(funding.Checkpoint(out.Position, &m))

	c.journalGen.RealizedPnL(tx.batch, cmd.UserID, cmd.MarketIndex, out.RealizedPnL)
	c.journalGen.LiquidationPenalty(tx.batch, cmd.UserID, cmd.Liquidator, out.LiquidatorShare, out.InsuranceShare)
	covered, socialized := c.journalGen.CoverDeficit(tx.batch, cmd.UserID)

	if c.metrics != nil {
		c.metrics.Liquidations.WithLabelValues(marketLabel(cmd.MarketIndex), out.Kind.String()).Inc()
		if out.Deficit.IsPositive() {
			c.metrics.LiquidationDeficits.WithLabelValues(marketLabel(cmd.MarketIndex)).Inc()
		}
	}
	c.logger.Info().
		Str("user", cmd.UserID.String()).
		Uint16("market", cmd.MarketIndex).
		Str("kind", out.Kind.String()).
		Str("margin_ratio", out.MarginRatio.String()).
		Str("base_closed", out.BaseAssetAmountClosed.String()).
		Str("deficit", out.Deficit.String()).
		Msg("position liquidated")

	closeDir := state.DirectionOf(pos.BaseAssetAmount).Opposite()
	oraclePrice := sdkmath.ZeroInt()
	if reading != nil {
		oraclePrice = reading.Price
	}
	if err := tx.emitRecord(&event.TradeRecord{
		UserID:           cmd.UserID,
		MarketIndex:      cmd.MarketIndex,
		Direction:        closeDir,
		BaseAssetAmount:  out.BaseAssetAmountClosed,
		QuoteAssetAmount: out.SwapQuoteAmount,
		MarkPriceBefore:  markBefore,
		MarkPriceAfter:   markAfter,
		OraclePrice:      oraclePrice,
		Fee:              sdkmath.ZeroInt(),
		TokenDiscount:    sdkmath.ZeroInt(),
		RefereeDiscount:  sdkmath.ZeroInt(),
		ReferrerReward:   sdkmath.ZeroInt(),
		RealizedPnL:      out.RealizedPnL,
		Liquidation:      true,
	}); err != nil {
		return err
	}
	return tx.emitRecord(&event.LiquidationRecord{
		UserID:              cmd.UserID,
		Liquidator:          cmd.Liquidator,
		MarketIndex:         cmd.MarketIndex,
		Partial:             out.Kind == liquidation.KindPartial,
		MarginRatio:         out.MarginRatio,
		BaseAssetClosed:     out.BaseAssetAmountClosed,
		QuoteNotionalClosed: out.QuoteNotionalClosed,
		Penalty:             out.Penalty,
		FeeToLiquidator:     out.LiquidatorShare,
		FeeToInsuranceFund:  out.InsuranceShare,
		CollateralBefore:    collateralBefore,
		Deficit:             out.Deficit,
		InsuranceCovered:    covered,
		SocializedLoss:      socialized,
	})
}

// settlePositionFunding journals the funding and repeg rebate owed by pos
// and returns it checkpointed. The position is staged in tx.
func (c *DeterministicCore) settlePositionFunding(tx *txn, pos state.MarketPosition, m *state.Market) (state.MarketPosition, error) {
	if pos.IsFlat() {
		return funding.Checkpoint(pos, m), nil
	}
	res, err := c.fundingEngine.SettlePosition(pos, m)
	if err != nil {
		return pos, err
	}
	tx.positions.SetPosition(res.Position)
	if res.Payment.IsZero() && res.RepegRebate.IsZero() {
		return res.Position, nil
	}

	c.journalGen.FundingPayment(tx.batch, pos.UserID, pos.MarketIndex, res.Payment)
	c.journalGen.RepegRebate(tx.batch, pos.UserID, pos.MarketIndex, res.RepegRebate)
	if c.metrics != nil {
		c.metrics.FundingPaymentsSettled.WithLabelValues(marketLabel(pos.MarketIndex)).Inc()
	}
	err = tx.emitRecord(&event.FundingPaymentRecord{
		UserID:                    pos.UserID,
		MarketIndex:               pos.MarketIndex,
		FundingPayment:            res.Payment,
		RepegRebate:               res.RepegRebate,
		BaseAssetAmount:           pos.BaseAssetAmount,
		UserLastCumulativeFunding: pos.LastCumulativeFundingRate,
		CumulativeFundingLong:     m.AMM.CumulativeFundingRateLong,
		CumulativeFundingShort:    m.AMM.CumulativeFundingRateShort,
	})
	return res.Position, err
}

func (c *DeterministicCore) recordOracleRejection(idx uint16, v oracle.Validity) {
	if c.metrics != nil {
		c.metrics.OracleRejected.WithLabelValues(marketLabel(idx), v.String()).Inc()
	}
}
