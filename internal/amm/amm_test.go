package amm_test

import (
	"errors"
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ClearingHouse/internal/amm"
	"ClearingHouse/internal/errs"
	fpmath "ClearingHouse/internal/math"
	"ClearingHouse/internal/state"
)

func smallCurve() state.AMM {
	a := state.EmptyAMM()
	a.BaseAssetReserve = sdkmath.NewInt(1_000_000)
	a.QuoteAssetReserve = sdkmath.NewInt(1_000_000)
	a.SqrtK = sdkmath.NewInt(1_000_000)
	a.PegMultiplier = fpmath.PegPrecisionInt()
	a.FundingPeriod = 3_600
	return a
}

// 1000 base on each side at peg 1.0
func realCurve() state.AMM {
	reserve := sdkmath.NewInt(1_000).Mul(fpmath.AMMReservePrecisionInt())
	a := state.EmptyAMM()
	a.BaseAssetReserve = reserve
	a.QuoteAssetReserve = reserve
	a.SqrtK = reserve
	a.PegMultiplier = fpmath.PegPrecisionInt()
	a.FundingPeriod = 3_600
	return a
}

func TestMarkPrice_PegOne(t *testing.T) {
	a := smallCurve()
	p, err := amm.MarkPrice(&a)
	require.NoError(t, err)
	assert.Equal(t, fpmath.MarkPricePrecision, p.Int64())

	a.QuoteAssetReserve = sdkmath.NewInt(1_500_000)
	p, err = amm.MarkPrice(&a)
	require.NoError(t, err)
	assert.Equal(t, int64(15_000_000_000), p.Int64())
}

func TestMarkPrice_ZeroBase(t *testing.T) {
	a := smallCurve()
	a.BaseAssetReserve = sdkmath.ZeroInt()
	_, err := amm.MarkPrice(&a)
	assert.True(t, errors.Is(err, errs.ErrInvalidReserves))
}

func TestQuoteSwap_LongRemovesBase(t *testing.T) {
	a := smallCurve()
	r, err := amm.QuoteSwap(&a, sdkmath.NewInt(10_000), state.DirectionLong)
	require.NoError(t, err)

	assert.Equal(t, int64(990_000), r.NewBaseReserve.Int64())
	assert.Equal(t, int64(1_010_101), r.NewQuoteReserve.Int64())
	assert.Equal(t, int64(10_101), r.QuoteReserveDelta.Int64())

	k := a.SqrtK.Mul(a.SqrtK)
	product := r.NewBaseReserve.Mul(r.NewQuoteReserve)
	assert.Equal(t, "999999990000", product.String())
	assert.True(t, product.LTE(k))
	assert.True(t, k.Sub(product).LTE(r.NewBaseReserve))

	// quoting does not mutate
	assert.Equal(t, int64(1_000_000), a.BaseAssetReserve.Int64())
}

func TestQuoteSwap_ShortAddsBase(t *testing.T) {
	a := smallCurve()
	r, err := amm.QuoteSwap(&a, sdkmath.NewInt(10_000), state.DirectionShort)
	require.NoError(t, err)
	assert.Equal(t, int64(1_010_000), r.NewBaseReserve.Int64())
	assert.Equal(t, int64(990_099), r.NewQuoteReserve.Int64())
	assert.Equal(t, int64(9_901), r.QuoteReserveDelta.Int64())
}

func TestQuoteSwap_ProductWithinTolerance(t *testing.T) {
	for _, dir := range []state.PositionDirection{state.DirectionLong, state.DirectionShort} {
		a := realCurve()
		k := a.SqrtK.Mul(a.SqrtK)
		for _, units := range []int64{1, 7, 50, 333} {
			base := sdkmath.NewInt(units).Mul(fpmath.AMMReservePrecisionInt())
			r, err := amm.QuoteSwap(&a, base, dir)
			require.NoError(t, err, "%s %d", dir, units)
			amm.ApplySwap(&a, r)

			product := a.BaseAssetReserve.Mul(a.QuoteAssetReserve)
			assert.True(t, product.LTE(k), "%s %d", dir, units)
			assert.True(t, k.Sub(product).LTE(a.BaseAssetReserve), "%s %d", dir, units)
			assert.True(t, a.BaseAssetReserve.IsPositive())
			assert.True(t, a.QuoteAssetReserve.IsPositive())
		}
	}
}

func TestQuoteSwap_Rejects(t *testing.T) {
	a := smallCurve()

	_, err := amm.QuoteSwap(&a, sdkmath.NewInt(1_000_000), state.DirectionLong)
	assert.True(t, errors.Is(err, errs.ErrInsufficientReserves))

	_, err = amm.QuoteSwap(&a, sdkmath.ZeroInt(), state.DirectionLong)
	assert.True(t, errors.Is(err, errs.ErrTradeSizeTooSmall))

	a.MinimumBaseAssetTradeSize = sdkmath.NewInt(500)
	_, err = amm.QuoteSwap(&a, sdkmath.NewInt(499), state.DirectionShort)
	assert.True(t, errors.Is(err, errs.ErrTradeSizeTooSmall))

	b := realCurve()
	b.MinimumQuoteAssetTradeSize = sdkmath.NewInt(1_000_000)
	// 0.5 base at mark 1.0 is under $1
	_, err = amm.QuoteSwap(&b, fpmath.AMMReservePrecisionInt().QuoRaw(2), state.DirectionLong)
	assert.True(t, errors.Is(err, errs.ErrTradeSizeTooSmall))
}

func TestQuoteClose_IgnoresMinimums(t *testing.T) {
	a := realCurve()
	a.MinimumBaseAssetTradeSize = sdkmath.NewInt(10_000_000)
	a.MinimumQuoteAssetTradeSize = sdkmath.NewInt(1_000_000)

	_, err := amm.QuoteSwap(&a, sdkmath.NewInt(5_000_000), state.DirectionShort)
	assert.True(t, errors.Is(err, errs.ErrTradeSizeTooSmall))

	r, err := amm.QuoteClose(&a, sdkmath.NewInt(5_000_000), state.DirectionShort)
	require.NoError(t, err)
	assert.Equal(t, int64(5_000_000), r.BaseAssetAmount.Int64())

	_, err = amm.QuoteClose(&a, sdkmath.ZeroInt(), state.DirectionShort)
	assert.True(t, errors.Is(err, errs.ErrTradeSizeTooSmall))
}

func TestQuoteSwap_RoundTripLosesNothingToTrader(t *testing.T) {
	a := realCurve()
	base := sdkmath.NewInt(10).Mul(fpmath.AMMReservePrecisionInt())

	open, err := amm.QuoteSwap(&a, base, state.DirectionLong)
	require.NoError(t, err)
	amm.ApplySwap(&a, open)

	closeOut, err := amm.QuoteSwap(&a, base, state.DirectionShort)
	require.NoError(t, err)
	amm.ApplySwap(&a, closeOut)

	// paid ~10.1, received back no more than paid
	assert.True(t, closeOut.QuoteAssetAmount.LTE(open.QuoteAssetAmount))
	assert.True(t, open.QuoteAssetAmount.Sub(closeOut.QuoteAssetAmount).LTE(sdkmath.NewInt(1)))
}

func TestQuoteSwapByQuote(t *testing.T) {
	a := realCurve()
	k := a.SqrtK.Mul(a.SqrtK)
	r, err := amm.QuoteSwapByQuote(&a, sdkmath.NewInt(10*fpmath.QuotePrecision), state.DirectionLong)
	require.NoError(t, err)
	assert.Equal(t, "100000000000000", r.QuoteReserveDelta.String())
	assert.Equal(t, "99009900990100", r.BaseAssetAmount.String())
	assert.True(t, r.NewBaseReserve.Mul(r.NewQuoteReserve).LTE(k))

	_, err = amm.QuoteSwapByQuote(&a, sdkmath.NewInt(10_000*fpmath.QuotePrecision), state.DirectionShort)
	assert.True(t, errors.Is(err, errs.ErrInsufficientReserves))
}

func TestMoveReserves(t *testing.T) {
	a := realCurve()
	base := sdkmath.NewInt(4_000_000)
	quote := sdkmath.NewInt(9_000_000)
	require.NoError(t, amm.MoveReserves(&a, base, quote))
	assert.Equal(t, int64(6_000_000), a.SqrtK.Int64())

	err := amm.MoveReserves(&a, sdkmath.ZeroInt(), quote)
	assert.True(t, errors.Is(err, errs.ErrInvalidReserves))
}

func TestUpdateTWAPs(t *testing.T) {
	a := realCurve()
	a.LastMarkPriceTWAP = sdkmath.NewInt(1_000)
	a.LastMarkPriceTWAPTs = 1_000

	require.NoError(t, amm.UpdateMarkTWAP(&a, sdkmath.NewInt(2_000), 1_900))
	assert.Equal(t, int64(1_250), a.LastMarkPriceTWAP.Int64())
	assert.Equal(t, int64(1_900), a.LastMarkPriceTWAPTs)

	err := amm.UpdateMarkTWAP(&a, sdkmath.NewInt(2_000), 1_899)
	assert.True(t, errors.Is(err, errs.ErrTimestampRegression))
	assert.Equal(t, int64(1_250), a.LastMarkPriceTWAP.Int64())

	require.NoError(t, amm.UpdateOracleTWAP(&a, sdkmath.NewInt(777), 5))
	assert.Equal(t, int64(777), a.LastOraclePriceTWAP.Int64())
	assert.Equal(t, int64(777), a.LastOraclePrice.Int64())

	err = amm.UpdateOracleTWAP(&a, sdkmath.NewInt(-1), 6)
	assert.True(t, errs.IsOracle(err))
}

func TestUpdateOracleTWAP_ClampsSample(t *testing.T) {
	a := realCurve()
	a.FundingPeriod = 3_600
	a.LastOraclePriceTWAP = sdkmath.NewInt(900)
	a.LastOraclePriceTWAPTs = 0

	// a full period later the sample alone sets the TWAP, but only within a
	// third of the old value
	require.NoError(t, amm.UpdateOracleTWAP(&a, sdkmath.NewInt(9_000), 3_600))
	assert.Equal(t, int64(1_200), a.LastOraclePriceTWAP.Int64())
	assert.Equal(t, int64(9_000), a.LastOraclePrice.Int64())

	require.NoError(t, amm.UpdateOracleTWAP(&a, sdkmath.NewInt(1), 7_200))
	assert.Equal(t, int64(800), a.LastOraclePriceTWAP.Int64())

	assert.Equal(t, int64(50), amm.ClampToTWAP(sdkmath.NewInt(50), sdkmath.ZeroInt()).Int64())
	assert.Equal(t, int64(1_000), amm.ClampToTWAP(sdkmath.NewInt(1_000), sdkmath.NewInt(900)).Int64())
}

func TestFees(t *testing.T) {
	a := realCurve()
	require.NoError(t, amm.RecordFee(&a, sdkmath.NewInt(1_000)))
	require.NoError(t, amm.RecordFee(&a, sdkmath.NewInt(500)))
	assert.Equal(t, int64(1_500), a.TotalFee.Int64())
	assert.Equal(t, int64(1_500), a.TotalFeeMinusDistributions.Int64())

	assert.Equal(t, int64(750), amm.MaxFeeWithdrawal(&a).Int64())
	err := amm.WithdrawFees(&a, sdkmath.NewInt(751))
	assert.True(t, errors.Is(err, errs.ErrFeeWithdrawalTooLarge))

	require.NoError(t, amm.WithdrawFees(&a, sdkmath.NewInt(700)))
	assert.Equal(t, int64(800), a.TotalFeeMinusDistributions.Int64())
	assert.Equal(t, int64(700), a.TotalFeeWithdrawn.Int64())
	assert.Equal(t, int64(50), amm.MaxFeeWithdrawal(&a).Int64())
	assert.True(t, a.TotalFeeMinusDistributions.LTE(a.TotalFee))
}
