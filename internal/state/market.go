package state

import (
	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"

	"ClearingHouse/internal/errs"
	fpmath "ClearingHouse/internal/math"
)

// MarginRatios are margin thresholds in basis points (MARGIN_PRECISION).
type MarginRatios struct {
	Initial     uint32 `json:"initial" toml:"initial"`
	Partial     uint32 `json:"partial" toml:"partial"`
	Maintenance uint32 `json:"maintenance" toml:"maintenance"`
}

// DefaultMarginRatios: 20% initial, 6.25% partial, 5% maintenance.
var DefaultMarginRatios = MarginRatios{
	Initial:     2_000,
	Partial:     625,
	Maintenance: 500,
}

// ValidateMarginRatios requires initial > partial > maintenance > 0 and
// initial no larger than 100%.
func ValidateMarginRatios(r MarginRatios) error {
	if r.Maintenance == 0 {
		return errorsmod.Wrap(errs.ErrInvalidMarginRatio, "maintenance must be > 0")
	}
	if r.Partial <= r.Maintenance {
		return errorsmod.Wrapf(errs.ErrInvalidMarginRatio, "partial (%d) must be > maintenance (%d)", r.Partial, r.Maintenance)
	}
	if r.Initial <= r.Partial {
		return errorsmod.Wrapf(errs.ErrInvalidMarginRatio, "initial (%d) must be > partial (%d)", r.Initial, r.Partial)
	}
	if int64(r.Initial) > fpmath.MarginPrecision {
		return errorsmod.Wrapf(errs.ErrInvalidMarginRatio, "initial (%d) must be <= %d", r.Initial, fpmath.MarginPrecision)
	}
	return nil
}

// Market is one perpetual market: aggregate exposure plus its AMM.
type Market struct {
	Initialized bool `json:"initialized"`

	BaseAssetAmountLong  sdkmath.Int `json:"base_asset_amount_long"`  // >= 0
	BaseAssetAmountShort sdkmath.Int `json:"base_asset_amount_short"` // <= 0
	BaseAssetAmount      sdkmath.Int `json:"base_asset_amount"`       // long + short
	OpenInterest         sdkmath.Int `json:"open_interest"`           // non-flat holders

	AMM AMM `json:"amm"`

	MarginRatioInitial     uint32 `json:"margin_ratio_initial"`
	MarginRatioPartial     uint32 `json:"margin_ratio_partial"`
	MarginRatioMaintenance uint32 `json:"margin_ratio_maintenance"`
}

// EmptyMarket returns an uninitialized market slot.
func EmptyMarket() Market {
	z := sdkmath.ZeroInt()
	return Market{
		BaseAssetAmountLong:  z,
		BaseAssetAmountShort: z,
		BaseAssetAmount:      z,
		OpenInterest:         z,
		AMM:                  EmptyAMM(),
	}
}

func (m *Market) MarginRatios() MarginRatios {
	return MarginRatios{
		Initial:     m.MarginRatioInitial,
		Partial:     m.MarginRatioPartial,
		Maintenance: m.MarginRatioMaintenance,
	}
}

func (m *Market) SetMarginRatios(r MarginRatios) error {
	if err := ValidateMarginRatios(r); err != nil {
		return err
	}
	m.MarginRatioInitial = r.Initial
	m.MarginRatioPartial = r.Partial
	m.MarginRatioMaintenance = r.Maintenance
	return nil
}

// AdjustExposure moves one position's signed base amount from before to
// after, keeping the long/short buckets, the net amount and open interest
// consistent.
func (m *Market) AdjustExposure(before, after sdkmath.Int) error {
	long := m.BaseAssetAmountLong
	short := m.BaseAssetAmountShort

	if before.IsPositive() {
		long = long.Sub(before)
	} else if before.IsNegative() {
		short = short.Sub(before)
	}
	if after.IsPositive() {
		long = long.Add(after)
	} else if after.IsNegative() {
		short = short.Add(after)
	}

	if long.IsNegative() || short.IsPositive() {
		return errorsmod.Wrapf(errs.ErrMathOverflow, "exposure underflow: long %s short %s", long, short)
	}
	if _, err := fpmath.CheckI128(long); err != nil {
		return err
	}
	if _, err := fpmath.CheckI128(short); err != nil {
		return err
	}

	oi := m.OpenInterest
	switch {
	case before.IsZero() && !after.IsZero():
		oi = oi.AddRaw(1)
	case !before.IsZero() && after.IsZero():
		oi = oi.SubRaw(1)
	}
	if oi.IsNegative() {
		return errorsmod.Wrap(errs.ErrMathOverflow, "open interest underflow")
	}

	m.BaseAssetAmountLong = long
	m.BaseAssetAmountShort = short
	m.BaseAssetAmount = long.Add(short)
	m.OpenInterest = oi
	return nil
}

// CheckInvariants verifies the aggregate exposure and fee bookkeeping of an
// initialized market.
func (m *Market) CheckInvariants() error {
	if !m.BaseAssetAmount.Equal(m.BaseAssetAmountLong.Add(m.BaseAssetAmountShort)) {
		return errorsmod.Wrapf(errs.ErrInvalidReserves, "net %s != long %s + short %s",
			m.BaseAssetAmount, m.BaseAssetAmountLong, m.BaseAssetAmountShort)
	}
	if m.AMM.TotalFeeMinusDistributions.IsNegative() || m.AMM.TotalFeeMinusDistributions.GT(m.AMM.TotalFee) {
		return errorsmod.Wrapf(errs.ErrInvalidReserves, "fee bookkeeping: total %s, minus distributions %s",
			m.AMM.TotalFee, m.AMM.TotalFeeMinusDistributions)
	}
	if m.Initialized {
		if err := ValidateMarginRatios(m.MarginRatios()); err != nil {
			return err
		}
	}
	return nil
}
