package state

import (
	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"

	"ClearingHouse/internal/errs"
	fpmath "ClearingHouse/internal/math"
)

// MaxMarkets is the fixed capacity of the markets table.
const MaxMarkets = 64

// Default minimum trade sizes for new markets.
var (
	DefaultMinimumBaseAssetTradeSize  = sdkmath.NewInt(10_000_000)
	DefaultMinimumQuoteAssetTradeSize = sdkmath.NewInt(1_000_000)
)

// Markets is the fixed-capacity table of markets indexed 0..63.
type Markets struct {
	Markets [MaxMarkets]Market
}

// NewMarkets returns a table of uninitialized slots.
func NewMarkets() *Markets {
	m := &Markets{}
	for i := range m.Markets {
		m.Markets[i] = EmptyMarket()
	}
	return m
}

func checkIndex(index uint16) error {
	if index >= MaxMarkets {
		return errorsmod.Wrapf(errs.ErrMarketIndexOutOfRange, "index %d, capacity %d", index, MaxMarkets)
	}
	return nil
}

// Get returns a copy of an initialized market. Callers mutate the copy and
// commit it with Put, so a failed operation leaves the table untouched.
func (t *Markets) Get(index uint16) (Market, error) {
	if err := checkIndex(index); err != nil {
		return Market{}, err
	}
	m := t.Markets[index]
	if !m.Initialized {
		return Market{}, errorsmod.Wrapf(errs.ErrMarketNotInitialized, "market %d", index)
	}
	return m, nil
}

// Put commits a market previously obtained from Get.
func (t *Markets) Put(index uint16, m Market) error {
	if err := checkIndex(index); err != nil {
		return err
	}
	if !m.Initialized {
		return errorsmod.Wrapf(errs.ErrMarketNotInitialized, "market %d", index)
	}
	if err := m.CheckInvariants(); err != nil {
		return errorsmod.Wrapf(err, "market %d", index)
	}
	t.Markets[index] = m
	return nil
}

// Initialized returns the indexes of all initialized markets in order.
func (t *Markets) Initialized() []uint16 {
	out := make([]uint16, 0, MaxMarkets)
	for i := range t.Markets {
		if t.Markets[i].Initialized {
			out = append(out, uint16(i))
		}
	}
	return out
}

// InitializeMarketParams describes a new market.
type InitializeMarketParams struct {
	Oracle            Pubkey
	OracleSource      OracleSource
	BaseAssetReserve  sdkmath.Int
	QuoteAssetReserve sdkmath.Int
	FundingPeriod     int64
	PegMultiplier     sdkmath.Int
	MarginRatios      MarginRatios
	OraclePrice       sdkmath.Int // optional seed for the oracle TWAP
	Now               int64
}

// InitializeMarket creates the market at index. Initial reserves must be
// equal so the curve starts at the peg; sqrt_k is set to that reserve.
func (t *Markets) InitializeMarket(index uint16, p InitializeMarketParams) error {
	if err := checkIndex(index); err != nil {
		return err
	}
	if t.Markets[index].Initialized {
		return errorsmod.Wrapf(errs.ErrMarketAlreadyInitialized, "market %d", index)
	}
	if p.BaseAssetReserve.IsNil() || !p.BaseAssetReserve.IsPositive() {
		return errorsmod.Wrap(errs.ErrInvalidInitialPeg, "base reserve must be positive")
	}
	if p.QuoteAssetReserve.IsNil() || !p.BaseAssetReserve.Equal(p.QuoteAssetReserve) {
		return errorsmod.Wrapf(errs.ErrInvalidInitialPeg, "base reserve %s != quote reserve %s", p.BaseAssetReserve, p.QuoteAssetReserve)
	}
	if p.PegMultiplier.IsNil() || !p.PegMultiplier.IsPositive() {
		return errorsmod.Wrap(errs.ErrInvalidInitialPeg, "peg multiplier must be positive")
	}
	if p.FundingPeriod <= 0 {
		return errorsmod.Wrapf(errs.ErrInvalidFundingPeriod, "funding period %d", p.FundingPeriod)
	}
	if !p.OracleSource.Valid() {
		return errorsmod.Wrapf(errs.ErrInvalidOracleSource, "%s", p.OracleSource)
	}
	if p.Oracle.IsZero() {
		return errorsmod.Wrap(errs.ErrOracleMismatch, "oracle must be set")
	}
	if err := ValidateMarginRatios(p.MarginRatios); err != nil {
		return err
	}
	for _, v := range []sdkmath.Int{p.BaseAssetReserve, p.PegMultiplier} {
		if _, err := fpmath.CheckU128(v); err != nil {
			return err
		}
	}

	markPrice, err := fpmath.ComputeMarkPrice(p.BaseAssetReserve, p.QuoteAssetReserve, p.PegMultiplier)
	if err != nil {
		return err
	}

	m := EmptyMarket()
	m.Initialized = true
	m.AMM.Oracle = p.Oracle
	m.AMM.OracleSource = p.OracleSource
	m.AMM.BaseAssetReserve = p.BaseAssetReserve
	m.AMM.QuoteAssetReserve = p.QuoteAssetReserve
	m.AMM.SqrtK = p.BaseAssetReserve
	m.AMM.PegMultiplier = p.PegMultiplier
	m.AMM.FundingPeriod = p.FundingPeriod
	m.AMM.LastFundingRateTs = p.Now
	m.AMM.LastMarkPriceTWAP = markPrice
	m.AMM.LastMarkPriceTWAPTs = p.Now
	if !p.OraclePrice.IsNil() && p.OraclePrice.IsPositive() {
		m.AMM.LastOraclePrice = p.OraclePrice
		m.AMM.LastOraclePriceTWAP = p.OraclePrice
		m.AMM.LastOraclePriceTWAPTs = p.Now
	}
	m.AMM.MinimumBaseAssetTradeSize = DefaultMinimumBaseAssetTradeSize
	m.AMM.MinimumQuoteAssetTradeSize = DefaultMinimumQuoteAssetTradeSize
	m.MarginRatioInitial = p.MarginRatios.Initial
	m.MarginRatioPartial = p.MarginRatios.Partial
	m.MarginRatioMaintenance = p.MarginRatios.Maintenance

	t.Markets[index] = m
	return nil
}
