package margin_test

import (
	"errors"
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ClearingHouse/internal/errs"
	"ClearingHouse/internal/margin"
	fpmath "ClearingHouse/internal/math"
	"ClearingHouse/internal/state"
)

func usd(n int64) sdkmath.Int {
	return sdkmath.NewInt(n * fpmath.QuotePrecision)
}

func base(n int64) sdkmath.Int {
	return sdkmath.NewInt(n).Mul(fpmath.AMMReservePrecisionInt())
}

func newMarkets(t *testing.T, indexes ...uint16) *state.Markets {
	t.Helper()
	table := state.NewMarkets()
	for _, i := range indexes {
		require.NoError(t, table.InitializeMarket(i, state.InitializeMarketParams{
			Oracle:            state.Pubkey{byte(i + 1)},
			OracleSource:      state.OracleSourcePyth,
			BaseAssetReserve:  base(1_000_000),
			QuoteAssetReserve: base(1_000_000),
			FundingPeriod:     3_600,
			PegMultiplier:     fpmath.PegPrecisionInt(),
			MarginRatios:      state.DefaultMarginRatios,
			OraclePrice:       fpmath.MarkPricePrecisionInt(),
		}))
	}
	return table
}

// long 1000 base entered at $1000, marked at 1.0
func thousandLong(index uint16) state.MarketPosition {
	p := state.NewMarketPosition(uuid.New(), index)
	p.BaseAssetAmount = base(1_000)
	p.QuoteAssetAmount = usd(1_000)
	return p
}

func TestMarginRatio(t *testing.T) {
	table := newMarkets(t, 0)
	m, err := table.Get(0)
	require.NoError(t, err)

	r, err := margin.MarginRatio(thousandLong(0), &m, usd(60))
	require.NoError(t, err)
	assert.Equal(t, int64(600), r.Int64())

	short := thousandLong(0)
	short.BaseAssetAmount = short.BaseAssetAmount.Neg()
	r, err = margin.MarginRatio(short, &m, usd(100))
	require.NoError(t, err)
	assert.Equal(t, int64(1_000), r.Int64())
}

func TestMarginRatio_IncludesPnLAndFunding(t *testing.T) {
	table := newMarkets(t, 0)
	m, err := table.Get(0)
	require.NoError(t, err)

	p := thousandLong(0)
	p.QuoteAssetAmount = usd(1_010) // $10 underwater
	r, err := margin.MarginRatio(p, &m, usd(60))
	require.NoError(t, err)
	assert.Equal(t, int64(500), r.Int64())

	// a rate delta of 1e13 on 1000 base owes $100
	m.AMM.CumulativeFundingRateLong = sdkmath.NewInt(10_000_000_000_000)
	p.QuoteAssetAmount = usd(1_000)
	e, err := margin.Value(p, &m)
	require.NoError(t, err)
	assert.Equal(t, int64(100_000_000), e.UnsettledFunding.Int64())
	r, err = margin.MarginRatio(p, &m, usd(160))
	require.NoError(t, err)
	assert.Equal(t, int64(600), r.Int64())
}

func TestMarginRatio_Flat(t *testing.T) {
	table := newMarkets(t, 0)
	m, err := table.Get(0)
	require.NoError(t, err)

	r, err := margin.MarginRatio(state.NewMarketPosition(uuid.New(), 0), &m, sdkmath.ZeroInt())
	require.NoError(t, err)
	assert.True(t, r.Equal(margin.MaxRatio()))
	assert.Equal(t, margin.StatusHealthy, margin.Classify(r, state.DefaultMarginRatios))
}

func TestClassify_Boundaries(t *testing.T) {
	cases := []struct {
		ratio int64
		want  margin.Status
	}{
		{10_000, margin.StatusHealthy},
		{2_000, margin.StatusHealthy},
		{625, margin.StatusHealthy},
		{624, margin.StatusPartialLiquidatable},
		{600, margin.StatusPartialLiquidatable},
		{500, margin.StatusPartialLiquidatable},
		{499, margin.StatusFullyLiquidatable},
		{0, margin.StatusFullyLiquidatable},
		{-50, margin.StatusFullyLiquidatable},
	}
	for _, c := range cases {
		got := margin.Classify(sdkmath.NewInt(c.ratio), state.DefaultMarginRatios)
		assert.Equal(t, c.want, got, "ratio %d", c.ratio)
	}
}

func TestClassify_Monotonic(t *testing.T) {
	prev := margin.StatusFullyLiquidatable
	for r := int64(-100); r <= 3_000; r += 7 {
		s := margin.Classify(sdkmath.NewInt(r), state.DefaultMarginRatios)
		assert.LessOrEqual(t, int(s), int(prev), "ratio %d", r)
		prev = s
	}
}

func TestMarginRatio_MonotonicInCollateral(t *testing.T) {
	table := newMarkets(t, 0)
	m, err := table.Get(0)
	require.NoError(t, err)

	prev := sdkmath.NewInt(-1 << 62)
	for c := int64(-50); c <= 500; c += 25 {
		r, err := margin.MarginRatio(thousandLong(0), &m, usd(c))
		require.NoError(t, err)
		assert.True(t, r.GTE(prev), "collateral %d", c)
		prev = r
	}
}

func TestStatus_String(t *testing.T) {
	seen := map[string]bool{}
	for _, s := range margin.AllStatuses {
		assert.NotEqual(t, "Unknown", s.String())
		seen[s.String()] = true
	}
	assert.Len(t, seen, 3)
}

func TestCalculator_Account(t *testing.T) {
	table := newMarkets(t, 0, 1)
	m1, err := table.Get(1)
	require.NoError(t, err)
	require.NoError(t, m1.SetMarginRatios(state.MarginRatios{Initial: 3_000, Partial: 1_000, Maintenance: 800}))
	require.NoError(t, table.Put(1, m1))

	calc := margin.NewCalculator(table)
	positions := []state.MarketPosition{thousandLong(0), thousandLong(1), state.NewMarketPosition(uuid.New(), 5)}

	a, err := calc.Evaluate(positions, usd(500))
	require.NoError(t, err)
	assert.Equal(t, int64(2_000*fpmath.QuotePrecision), a.Notional.Int64())
	assert.Equal(t, int64(2_500), a.Ratio.Int64())
	// 20% of 1000 + 30% of 1000
	assert.Equal(t, usd(500).Int64(), a.InitialRequirement.Int64())
	assert.True(t, a.MeetsInitialMargin())
	assert.Equal(t, state.MarginRatios{Initial: 3_000, Partial: 1_000, Maintenance: 800}, a.Thresholds)
	assert.Equal(t, margin.StatusHealthy, a.Status())

	assert.NoError(t, calc.RequireInitialMargin(positions, usd(500)))
	err = calc.RequireInitialMargin(positions, usd(499))
	assert.True(t, errors.Is(err, errs.ErrInsufficientCollateral))

	a, err = calc.Evaluate(positions, usd(150))
	require.NoError(t, err)
	assert.Equal(t, margin.StatusFullyLiquidatable, a.Status())

	ratio, err := calc.AccountMarginRatio(nil, usd(1))
	require.NoError(t, err)
	assert.True(t, ratio.Equal(margin.MaxRatio()))
}

func TestCalculator_UnknownMarket(t *testing.T) {
	calc := margin.NewCalculator(newMarkets(t, 0))
	_, err := calc.Evaluate([]state.MarketPosition{thousandLong(9)}, usd(100))
	assert.True(t, errors.Is(err, errs.ErrMarketNotInitialized))
}
