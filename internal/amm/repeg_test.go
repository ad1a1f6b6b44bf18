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

// netLongMarket has traders net long 100 base after buying from a
// 1000/1000 curve, leaving mark near 1.2346.
func netLongMarket(t *testing.T, fees int64) state.Market {
	t.Helper()
	m := state.EmptyMarket()
	m.Initialized = true
	m.AMM = realCurve()
	m.MarginRatioInitial, m.MarginRatioPartial, m.MarginRatioMaintenance = 2_000, 625, 500

	base := sdkmath.NewInt(100).Mul(fpmath.AMMReservePrecisionInt())
	r, err := amm.QuoteSwap(&m.AMM, base, state.DirectionLong)
	require.NoError(t, err)
	amm.ApplySwap(&m.AMM, r)
	require.NoError(t, m.AdjustExposure(sdkmath.ZeroInt(), base))

	m.AMM.TotalFee = sdkmath.NewInt(fees)
	m.AMM.TotalFeeMinusDistributions = sdkmath.NewInt(fees)
	return m
}

func TestRepegCost_NetLong(t *testing.T) {
	m := netLongMarket(t, 0)
	cost, err := amm.RepegCost(&m, sdkmath.NewInt(1_100))
	require.NoError(t, err)
	// closing 100 base returns 1111111111111111 quote reserve; +0.1 peg
	assert.Equal(t, int64(11_111_111), cost.Int64())

	cost, err = amm.RepegCost(&m, sdkmath.NewInt(900))
	require.NoError(t, err)
	assert.Equal(t, int64(-11_111_111), cost.Int64())
}

func TestRepeg_PaidFromFees(t *testing.T) {
	m := netLongMarket(t, 20_000_000)
	oracle := sdkmath.NewInt(14_000_000_000) // 1.4, above mark

	res, err := amm.Repeg(&m, sdkmath.NewInt(1_100), oracle)
	require.NoError(t, err)
	assert.Equal(t, int64(11_111_111), res.Cost.Int64())
	assert.Equal(t, int64(1_100), m.AMM.PegMultiplier.Int64())
	assert.Equal(t, int64(8_888_889), m.AMM.TotalFeeMinusDistributions.Int64())
	assert.Equal(t, int64(20_000_000), m.AMM.TotalFee.Int64())
	assert.True(t, res.MarkAfter.GT(res.MarkBefore))
}

func TestRepeg_InsufficientFees(t *testing.T) {
	m := netLongMarket(t, 1_000_000)
	before := m

	_, err := amm.Repeg(&m, sdkmath.NewInt(1_100), sdkmath.ZeroInt())
	assert.True(t, errors.Is(err, errs.ErrRepegCostExceedsFees))
	assert.True(t, errs.IsDomain(err))
	assert.True(t, before.AMM.PegMultiplier.Equal(m.AMM.PegMultiplier))
	assert.True(t, before.AMM.TotalFeeMinusDistributions.Equal(m.AMM.TotalFeeMinusDistributions))
}

func TestRepeg_ProfitBecomesRebate(t *testing.T) {
	m := netLongMarket(t, 0)
	oracle := fpmath.MarkPricePrecisionInt() // 1.0, below mark

	res, err := amm.Repeg(&m, sdkmath.NewInt(900), oracle)
	require.NoError(t, err)
	assert.Equal(t, int64(-11_111_111), res.Cost.Int64())
	assert.Equal(t, state.DirectionLong, res.RebateSide)
	// 11111111 * 1e13 / 100e13
	assert.Equal(t, int64(111_111), res.RebateRate.Int64())
	assert.Equal(t, int64(111_111), m.AMM.CumulativeRepegRebateLong.Int64())
	assert.True(t, m.AMM.CumulativeRepegRebateShort.IsZero())
	assert.True(t, m.AMM.TotalFeeMinusDistributions.IsZero())
}

func TestRepeg_Rejects(t *testing.T) {
	m := netLongMarket(t, 20_000_000)

	_, err := amm.Repeg(&m, fpmath.PegPrecisionInt(), sdkmath.ZeroInt())
	assert.True(t, errors.Is(err, errs.ErrInvalidRepegRedundant))

	_, err = amm.Repeg(&m, sdkmath.ZeroInt(), sdkmath.ZeroInt())
	assert.True(t, errors.Is(err, errs.ErrInvalidRepegRedundant))

	// oracle at 1.0 is below mark; raising the peg moves away from it
	_, err = amm.Repeg(&m, sdkmath.NewInt(1_100), fpmath.MarkPricePrecisionInt())
	assert.True(t, errors.Is(err, errs.ErrInvalidRepegDirection))
	assert.Equal(t, fpmath.PegPrecision, m.AMM.PegMultiplier.Int64())
}

func TestRepeg_FlatMarketIsFree(t *testing.T) {
	m := state.EmptyMarket()
	m.AMM = realCurve()
	res, err := amm.Repeg(&m, sdkmath.NewInt(2_000), sdkmath.ZeroInt())
	require.NoError(t, err)
	assert.True(t, res.Cost.IsZero())
	assert.Equal(t, int64(2_000), m.AMM.PegMultiplier.Int64())
}

func TestRepeg_RebateOverflowLeavesMarketUntouched(t *testing.T) {
	m := netLongMarket(t, 0)
	m.AMM.CumulativeRepegRebateLong = fpmath.MaxU128()

	_, err := amm.Repeg(&m, sdkmath.NewInt(900), fpmath.MarkPricePrecisionInt())
	assert.True(t, errors.Is(err, errs.ErrMathOverflow))
	assert.True(t, fpmath.MaxU128().Equal(m.AMM.CumulativeRepegRebateLong))
	assert.Equal(t, fpmath.PegPrecision, m.AMM.PegMultiplier.Int64())
}
