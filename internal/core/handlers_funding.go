package core

import (
	"strconv"

	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"

	"ClearingHouse/internal/amm"
	"ClearingHouse/internal/errs"
	"ClearingHouse/internal/event"
	"ClearingHouse/internal/oracle"
	"ClearingHouse/internal/state"
)

func marketLabel(idx uint16) string {
	return strconv.Itoa(int(idx))
}

// handleOracleUpdate records a reading for a market and folds it into the
// oracle TWAP. Slots must increase per market.
//
// The reading is judged against the TWAP it is about to move. A reading
// that is too volatile is still recorded, flagged, so trades, liquidations
// and funding refuse it until a calmer one arrives.
func (c *DeterministicCore) handleOracleUpdate(tx *txn, cmd *event.OracleUpdate) error {
	m, err := tx.markets.Get(cmd.MarketIndex)
	if err != nil {
		return err
	}
	if cmd.Oracle != m.AMM.Oracle {
		return errorsmod.Wrapf(errs.ErrOracleMismatch, "market %d: got %s, want %s", cmd.MarketIndex, cmd.Oracle, m.AMM.Oracle)
	}
	if err := c.sequenceValidator.ValidateOracleSlot(cmd.MarketIndex, cmd.Slot); err != nil {
		return err
	}
	reading := cmd.Reading()
	if reading.Price.IsNil() || !reading.Price.IsPositive() || reading.Confidence.IsNegative() {
		return errorsmod.Wrapf(errs.ErrInvalidOracleReading, "price %s confidence %s", reading.Price, reading.Confidence)
	}
	validity, err := oracle.NewGuardRail(tx.state.OracleGuardRails).Validate(reading, cmd.Slot, sdkmath.Int{}, m.AMM.LastOraclePriceTWAP)
	if err != nil {
		return err
	}
	if validity == oracle.TooVolatile {
		reading.Volatile = true
		c.recordOracleRejection(cmd.MarketIndex, validity)
		c.logger.Warn().
			Uint16("market", cmd.MarketIndex).
			Str("price", reading.Price.String()).
			Str("oracle_twap", m.AMM.LastOraclePriceTWAP.String()).
			Msg("oracle reading too volatile")
	}
	if err := amm.UpdateOracleTWAP(&m.AMM, reading.Price, tx.ts); err != nil {
		return err
	}
	if err := tx.putMarket(cmd.MarketIndex, m); err != nil {
		return err
	}
	tx.oracles[cmd.MarketIndex] = reading
	return nil
}

// handleSettleFunding advances a market's cumulative funding rates once a
// funding period has elapsed. Inside the period, or while funding is
// paused, the command commits without changing the market.
func (c *DeterministicCore) handleSettleFunding(tx *txn, cmd *event.SettleFunding) error {
	if err := requireActive(tx); err != nil {
		return err
	}
	m, err := tx.markets.Get(cmd.MarketIndex)
	if err != nil {
		return err
	}
	oraclePrice := m.AMM.LastOraclePrice
	if oraclePrice.IsNil() || !oraclePrice.IsPositive() {
		return errorsmod.Wrapf(errs.ErrOracleUnavailable, "market %d has no oracle price", cmd.MarketIndex)
	}
	if r, ok := c.oracleReading(tx, cmd.MarketIndex); ok && r.Volatile {
		c.recordOracleRejection(cmd.MarketIndex, oracle.TooVolatile)
		return errorsmod.Wrapf(errs.ErrOracleTooVolatile, "market %d", cmd.MarketIndex)
	}

	s, err := c.fundingEngine.SettleFunding(cmd.MarketIndex, &m, oraclePrice, tx.ts, tx.state.FundingPaused)
	if err != nil {
		return err
	}
	if !s.Applied {
		return nil
	}
	if err := tx.putMarket(cmd.MarketIndex, m); err != nil {
		return err
	}
	if c.metrics != nil {
		c.metrics.FundingRateUpdates.WithLabelValues(marketLabel(cmd.MarketIndex)).Inc()
	}
	c.logger.Info().
		Uint16("market", cmd.MarketIndex).
		Str("funding_rate", s.FundingRate.String()).
		Str("mark_twap", s.MarkTWAP.String()).
		Str("oracle_twap", s.OracleTWAP.String()).
		Msg("funding rate updated")

	return tx.emitRecord(&event.FundingRateRecord{
		MarketIndex:            cmd.MarketIndex,
		FundingRate:            s.FundingRate,
		CumulativeFundingLong:  s.CumulativeLong,
		CumulativeFundingShort: s.CumulativeShort,
		MarkPriceTWAP:          s.MarkTWAP,
		OraclePriceTWAP:        s.OracleTWAP,
	})
}

// handleSettleFundingPayments pays out accrued funding for the listed
// users, or for every open position of the market when none are listed.
func (c *DeterministicCore) handleSettleFundingPayments(tx *txn, cmd *event.SettleFundingPayments) error {
	if err := requireActive(tx); err != nil {
		return err
	}
	m, err := tx.markets.Get(cmd.MarketIndex)
	if err != nil {
		return err
	}

	var positions []state.MarketPosition
	if len(cmd.Users) == 0 {
		positions = tx.positions.GetMarketPositions(cmd.MarketIndex)
	} else {
		seen := make(map[uuid.UUID]bool, len(cmd.Users))
		for _, user := range cmd.Users {
			if seen[user] {
				continue
			}
			seen[user] = true
			if p := tx.positions.GetPosition(user, cmd.MarketIndex); !p.IsFlat() {
				positions = append(positions, p)
			}
		}
	}

	for _, p := range positions {
		if _, err := c.settlePositionFunding(tx, p, &m); err != nil {
			return err
		}
		c.journalGen.CoverDeficit(tx.batch, p.UserID)
	}
	return nil
}
