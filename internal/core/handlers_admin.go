package core

import (
	sdkmath "cosmossdk.io/math"

	"ClearingHouse/internal/amm"
	"ClearingHouse/internal/errs"
	"ClearingHouse/internal/event"
	"ClearingHouse/internal/state"
)

func (c *DeterministicCore) handleInitializeMarket(tx *txn, cmd *event.InitializeMarket) error {
	if err := tx.state.RequireAdmin(cmd.Signer); err != nil {
		return err
	}
	ratios := tx.state.MarginRatios
	if cmd.MarginRatios != nil {
		ratios = *cmd.MarginRatios
	}
	oraclePrice := cmd.OraclePrice
	if oraclePrice.IsNil() {
		oraclePrice = sdkmath.ZeroInt()
	}
	err := tx.markets.InitializeMarket(cmd.MarketIndex, state.InitializeMarketParams{
		Oracle:            cmd.Oracle,
		OracleSource:      cmd.OracleSource,
		BaseAssetReserve:  cmd.BaseAssetReserve,
		QuoteAssetReserve: cmd.QuoteAssetReserve,
		FundingPeriod:     cmd.FundingPeriod,
		PegMultiplier:     cmd.PegMultiplier,
		MarginRatios:      ratios,
		OraclePrice:       oraclePrice,
		Now:               tx.ts,
	})
	if err != nil {
		return err
	}
	tx.marketsTouched[cmd.MarketIndex] = true
	c.logger.Info().Uint16("market", cmd.MarketIndex).Str("peg", cmd.PegMultiplier.String()).Msg("market initialized")
	return nil
}

// handleRepeg moves the peg toward the last oracle price. The cost comes
// out of the market's fee pool; a profit accrues as a rebate to the net
// side.
func (c *DeterministicCore) handleRepeg(tx *txn, cmd *event.Repeg) error {
	if err := tx.state.RequireAdmin(cmd.Signer); err != nil {
		return err
	}
	m, err := tx.markets.Get(cmd.MarketIndex)
	if err != nil {
		return err
	}
	before := m
	oraclePrice := m.AMM.LastOraclePrice
	if r, ok := c.oracleReading(tx, cmd.MarketIndex); ok {
		oraclePrice = r.Price
	}

	res, err := amm.Repeg(&m, cmd.NewPegMultiplier, oraclePrice)
	if err != nil {
		return err
	}
	if err := tx.putMarket(cmd.MarketIndex, m); err != nil {
		return err
	}
	c.journalGen.RepegCost(tx.batch, cmd.MarketIndex, res.Cost)

	c.logger.Info().
		Uint16("market", cmd.MarketIndex).
		Str("peg_before", res.PegBefore.String()).
		Str("peg_after", res.PegAfter.String()).
		Str("cost", res.Cost.String()).
		Msg("market repegged")
	return tx.emitRecord(curveRecord(cmd.MarketIndex, &before, &m, res.Cost, oraclePrice))
}

func (c *DeterministicCore) handleUpdateMarginRatios(tx *txn, cmd *event.UpdateMarginRatios) error {
	if cmd.MarketIndex == nil {
		return tx.state.SetMarginRatios(cmd.Signer, cmd.MarginRatios)
	}
	if err := tx.state.RequireAdmin(cmd.Signer); err != nil {
		return err
	}
	m, err := tx.markets.Get(*cmd.MarketIndex)
	if err != nil {
		return err
	}
	if err := m.SetMarginRatios(cmd.MarginRatios); err != nil {
		return err
	}
	return tx.putMarket(*cmd.MarketIndex, m)
}

func (c *DeterministicCore) handleSetPaused(tx *txn, cmd *event.SetPaused) error {
	if err := tx.state.RequireAdmin(cmd.Signer); err != nil {
		return err
	}
	if cmd.ExchangePaused != nil {
		if err := tx.state.SetExchangePaused(cmd.Signer, *cmd.ExchangePaused); err != nil {
			return err
		}
	}
	if cmd.FundingPaused != nil {
		if err := tx.state.SetFundingPaused(cmd.Signer, *cmd.FundingPaused); err != nil {
			return err
		}
	}
	if cmd.AdminControlsPrices != nil {
		if err := tx.state.SetAdminControlsPrices(cmd.Signer, *cmd.AdminControlsPrices); err != nil {
			return err
		}
	}
	return nil
}

func (c *DeterministicCore) handleUpdateMints(tx *txn, cmd *event.UpdateMints) error {
	if err := tx.state.RequireAdmin(cmd.Signer); err != nil {
		return err
	}
	if cmd.WhitelistMint != nil {
		if err := tx.state.SetWhitelistMint(cmd.Signer, *cmd.WhitelistMint); err != nil {
			return err
		}
	}
	if cmd.DiscountMint != nil {
		if err := tx.state.SetDiscountMint(cmd.Signer, *cmd.DiscountMint); err != nil {
			return err
		}
	}
	return nil
}

// handleMoveAMMPrice sets a market's reserves directly. Only available
// while the admin controls prices.
func (c *DeterministicCore) handleMoveAMMPrice(tx *txn, cmd *event.MoveAMMPrice) error {
	if err := tx.state.RequireAdmin(cmd.Signer); err != nil {
		return err
	}
	if !tx.state.AdminControlsPrices {
		return errs.ErrAdminControlsDisabled
	}
	if err := requirePositive("base reserve", cmd.BaseAssetReserve); err != nil {
		return err
	}
	if err := requirePositive("quote reserve", cmd.QuoteAssetReserve); err != nil {
		return err
	}
	m, err := tx.markets.Get(cmd.MarketIndex)
	if err != nil {
		return err
	}
	before := m
	if err := amm.MoveReserves(&m.AMM, cmd.BaseAssetReserve, cmd.QuoteAssetReserve); err != nil {
		return err
	}
	if err := tx.putMarket(cmd.MarketIndex, m); err != nil {
		return err
	}
	return tx.emitRecord(curveRecord(cmd.MarketIndex, &before, &m, sdkmath.ZeroInt(), m.AMM.LastOraclePrice))
}

func (c *DeterministicCore) handleWithdrawFees(tx *txn, cmd *event.WithdrawFees) error {
	if err := tx.state.RequireAdmin(cmd.Signer); err != nil {
		return err
	}
	if err := requirePositive("amount", cmd.Amount); err != nil {
		return err
	}
	m, err := tx.markets.Get(cmd.MarketIndex)
	if err != nil {
		return err
	}
	if err := amm.WithdrawFees(&m.AMM, cmd.Amount); err != nil {
		return err
	}
	if err := tx.putMarket(cmd.MarketIndex, m); err != nil {
		return err
	}
	c.journalGen.FeeWithdrawal(tx.batch, cmd.MarketIndex, cmd.Amount)
	return nil
}

func curveRecord(idx uint16, before, after *state.Market, cost, oraclePrice sdkmath.Int) *event.CurveRecord {
	if oraclePrice.IsNil() {
		oraclePrice = sdkmath.ZeroInt()
	}
	return &event.CurveRecord{
		MarketIndex:                idx,
		PegMultiplierBefore:        before.AMM.PegMultiplier,
		PegMultiplierAfter:         after.AMM.PegMultiplier,
		BaseAssetReserveBefore:     before.AMM.BaseAssetReserve,
		BaseAssetReserveAfter:      after.AMM.BaseAssetReserve,
		QuoteAssetReserveBefore:    before.AMM.QuoteAssetReserve,
		QuoteAssetReserveAfter:     after.AMM.QuoteAssetReserve,
		SqrtKBefore:                before.AMM.SqrtK,
		SqrtKAfter:                 after.AMM.SqrtK,
		BaseAssetAmount:            after.BaseAssetAmount,
		OpenInterest:               after.OpenInterest,
		TotalFee:                   after.AMM.TotalFee,
		TotalFeeMinusDistributions: after.AMM.TotalFeeMinusDistributions,
		AdjustmentCost:             cost,
		OraclePrice:                oraclePrice,
	}
}

