package liquidation_test

import (
	"errors"
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ClearingHouse/internal/errs"
	"ClearingHouse/internal/liquidation"
	"ClearingHouse/internal/margin"
	fpmath "ClearingHouse/internal/math"
	"ClearingHouse/internal/oracle"
	"ClearingHouse/internal/state"
)

var oraclePubkey = state.Pubkey{0x0c}

func usd(n int64) sdkmath.Int {
	return sdkmath.NewInt(n * fpmath.QuotePrecision)
}

func base(n int64) sdkmath.Int {
	return sdkmath.NewInt(n).Mul(fpmath.AMMReservePrecisionInt())
}

// A deep 1,000,000 base curve at mark 1.0 carrying one long of 1000 base
// entered at $1000.
func setup(t *testing.T, entry int64) (state.Market, state.MarketPosition) {
	t.Helper()
	table := state.NewMarkets()
	require.NoError(t, table.InitializeMarket(2, state.InitializeMarketParams{
		Oracle:            oraclePubkey,
		OracleSource:      state.OracleSourcePyth,
		BaseAssetReserve:  base(1_000_000),
		QuoteAssetReserve: base(1_000_000),
		FundingPeriod:     3_600,
		PegMultiplier:     fpmath.PegPrecisionInt(),
		MarginRatios:      state.DefaultMarginRatios,
		OraclePrice:       fpmath.MarkPricePrecisionInt(),
	}))
	m, err := table.Get(2)
	require.NoError(t, err)
	require.NoError(t, m.AdjustExposure(sdkmath.ZeroInt(), base(1_000)))

	p := state.NewMarketPosition(uuid.New(), 2)
	p.BaseAssetAmount = base(1_000)
	p.QuoteAssetAmount = usd(entry)
	return m, p
}

func freshReading() *oracle.Reading {
	return &oracle.Reading{
		Oracle:     oraclePubkey,
		Price:      fpmath.MarkPricePrecisionInt(),
		Confidence: sdkmath.ZeroInt(),
		Slot:       100,
	}
}

func newEngine(t *testing.T) *liquidation.Engine {
	t.Helper()
	e, err := liquidation.NewEngine(state.DefaultLiquidationParams(), state.DefaultOracleGuardRails())
	require.NoError(t, err)
	return e
}

func request(m state.Market, p state.MarketPosition, collateral sdkmath.Int) liquidation.Request {
	return liquidation.Request{
		MarketIndex: 2,
		Market:      m,
		Position:    p,
		Collateral:  collateral,
		Oracle:      freshReading(),
		CurrentSlot: 100,
	}
}

func TestEvaluate_Healthy(t *testing.T) {
	m, p := setup(t, 1_000)
	out, err := newEngine(t).Evaluate(request(m, p, usd(100)))
	require.NoError(t, err)
	assert.Equal(t, liquidation.KindNone, out.Kind)
	assert.Equal(t, margin.StatusHealthy, out.Status)
	assert.Equal(t, int64(1_000), out.MarginRatio.Int64())
	assert.True(t, out.Position.BaseAssetAmount.Equal(p.BaseAssetAmount))
	assert.True(t, out.Market.AMM.BaseAssetReserve.Equal(m.AMM.BaseAssetReserve))
	assert.True(t, out.Penalty.IsZero())
}

func TestEvaluate_Partial(t *testing.T) {
	m, p := setup(t, 1_000)
	out, err := newEngine(t).Evaluate(request(m, p, usd(60)))
	require.NoError(t, err)

	assert.Equal(t, liquidation.KindPartial, out.Kind)
	assert.Equal(t, margin.StatusPartialLiquidatable, out.Status)
	assert.Equal(t, int64(600), out.MarginRatio.Int64())

	// a quarter of the position at mark 1.0
	assert.True(t, out.BaseAssetAmountClosed.Equal(base(250)))
	assert.Equal(t, int64(250_000_000), out.QuoteNotionalClosed.Int64())
	assert.Equal(t, int64(250_000_000), out.QuoteAssetAmountClosed.Int64())

	// 2.5% of $250 is $6.25, half of it to the liquidator
	assert.Equal(t, int64(6_250_000), out.Penalty.Int64())
	assert.Equal(t, int64(3_125_000), out.LiquidatorShare.Int64())
	assert.Equal(t, int64(3_125_000), out.InsuranceShare.Int64())

	// slippage on the close
	assert.Equal(t, int64(249_937_515), out.SwapQuoteAmount.Int64())
	assert.Equal(t, int64(-62_485), out.RealizedPnL.Int64())
	assert.Equal(t, int64(-6_312_485), out.CollateralDelta.Int64())
	assert.True(t, out.Deficit.IsZero())

	assert.True(t, out.Position.BaseAssetAmount.Equal(base(750)))
	assert.Equal(t, int64(750_000_000), out.Position.QuoteAssetAmount.Int64())
	assert.True(t, out.Market.BaseAssetAmountLong.Equal(base(750)))
	assert.True(t, out.Market.AMM.BaseAssetReserve.Equal(m.AMM.BaseAssetReserve.Add(base(250))))
	require.NoError(t, out.Market.CheckInvariants())

	// inputs untouched
	assert.True(t, m.BaseAssetAmountLong.Equal(base(1_000)))
}

func TestEvaluate_FullCappedAtEquity(t *testing.T) {
	m, p := setup(t, 1_000)
	out, err := newEngine(t).Evaluate(request(m, p, usd(40)))
	require.NoError(t, err)

	assert.Equal(t, liquidation.KindFull, out.Kind)
	assert.Equal(t, margin.StatusFullyLiquidatable, out.Status)
	assert.True(t, out.BaseAssetAmountClosed.Equal(base(1_000)))
	assert.True(t, out.Position.IsFlat())

	assert.Equal(t, int64(-999_001), out.RealizedPnL.Int64())
	// penalty of the whole notional, capped at what is left
	assert.Equal(t, int64(39_000_999), out.Penalty.Int64())
	assert.Equal(t, int64(1_950_049), out.LiquidatorShare.Int64())
	assert.Equal(t, int64(37_050_950), out.InsuranceShare.Int64())
	assert.Equal(t, int64(-40_000_000), out.CollateralDelta.Int64())
	assert.True(t, out.Deficit.IsZero())
	assert.True(t, out.Market.BaseAssetAmountLong.IsZero())
	assert.True(t, out.Market.OpenInterest.IsZero())
}

func TestEvaluate_FullWithDeficit(t *testing.T) {
	m, p := setup(t, 1_010)
	out, err := newEngine(t).Evaluate(request(m, p, sdkmath.NewInt(500_000)))
	require.NoError(t, err)

	assert.Equal(t, liquidation.KindFull, out.Kind)
	assert.True(t, out.MarginRatio.IsNegative())
	assert.True(t, out.Penalty.IsZero())
	assert.True(t, out.LiquidatorShare.IsZero())
	assert.Equal(t, int64(-10_999_001), out.RealizedPnL.Int64())
	assert.Equal(t, int64(10_499_001), out.Deficit.Int64())
	assert.Equal(t, int64(-10_999_001), out.CollateralDelta.Int64())
}

func TestEvaluate_Short(t *testing.T) {
	m, p := setup(t, 1_000)
	require.NoError(t, m.AdjustExposure(base(1_000), base(-1_000)))
	p.BaseAssetAmount = base(-1_000)

	out, err := newEngine(t).Evaluate(request(m, p, usd(60)))
	require.NoError(t, err)
	assert.Equal(t, liquidation.KindPartial, out.Kind)
	assert.True(t, out.Position.BaseAssetAmount.Equal(base(-750)))
	assert.True(t, out.Market.BaseAssetAmountShort.Equal(base(-750)))
	assert.Equal(t, int64(6_250_000), out.Penalty.Int64())
	assert.True(t, out.Market.AMM.BaseAssetReserve.LT(m.AMM.BaseAssetReserve))
}

func TestEvaluate_OracleGating(t *testing.T) {
	m, p := setup(t, 1_000)
	e := newEngine(t)

	req := request(m, p, usd(60))
	req.Oracle = nil
	_, err := e.Evaluate(req)
	assert.True(t, errors.Is(err, errs.ErrOracleUnavailable))

	req = request(m, p, usd(60))
	req.CurrentSlot = 5_000
	_, err = e.Evaluate(req)
	assert.True(t, errors.Is(err, errs.ErrOracleStale))

	req = request(m, p, usd(60))
	req.Oracle.Price = sdkmath.NewInt(8_000_000_000)
	_, err = e.Evaluate(req)
	assert.True(t, errors.Is(err, errs.ErrOracleDiverged))

	req = request(m, p, usd(60))
	req.Oracle.Oracle = state.Pubkey{0xff}
	_, err = e.Evaluate(req)
	assert.True(t, errors.Is(err, errs.ErrOracleMismatch))

	rails := state.DefaultOracleGuardRails()
	rails.UseForLiquidations = false
	lax, err := liquidation.NewEngine(state.DefaultLiquidationParams(), rails)
	require.NoError(t, err)
	req = request(m, p, usd(60))
	req.Oracle = nil
	out, err := lax.Evaluate(req)
	require.NoError(t, err)
	assert.Equal(t, liquidation.KindPartial, out.Kind)
}

func TestEvaluate_Rejects(t *testing.T) {
	m, p := setup(t, 1_000)
	e := newEngine(t)

	p.MarketIndex = 3
	_, err := e.Evaluate(request(m, p, usd(60)))
	assert.True(t, errors.Is(err, errs.ErrPositionMarketMismatch))

	_, err = e.Evaluate(request(state.EmptyMarket(), p, usd(60)))
	assert.True(t, errors.Is(err, errs.ErrMarketNotInitialized))

	params := state.DefaultLiquidationParams()
	params.PartialClose = fpmath.NewRatio(5, 4)
	_, err = liquidation.NewEngine(params, state.DefaultOracleGuardRails())
	assert.True(t, errors.Is(err, errs.ErrInvalidLiquidationRatio))
}

func TestEvaluate_FlatIsHealthy(t *testing.T) {
	m, _ := setup(t, 1_000)
	out, err := newEngine(t).Evaluate(request(m, state.NewMarketPosition(uuid.New(), 2), sdkmath.ZeroInt()))
	require.NoError(t, err)
	assert.Equal(t, liquidation.KindNone, out.Kind)
}

func TestKind_String(t *testing.T) {
	seen := map[string]bool{}
	for _, k := range liquidation.AllKinds {
		assert.NotEqual(t, "Unknown", k.String())
		seen[k.String()] = true
	}
	assert.Len(t, seen, 3)
}
