package state

import (
	"fmt"

	sdkmath "cosmossdk.io/math"
)

// OracleSource identifies the oracle provider feeding a market.
type OracleSource uint8

const (
	OracleSourcePyth OracleSource = iota
	OracleSourceSwitchboard
)

func (s OracleSource) String() string {
	switch s {
	case OracleSourcePyth:
		return "Pyth"
	case OracleSourceSwitchboard:
		return "Switchboard"
	default:
		return fmt.Sprintf("OracleSource(%d)", uint8(s))
	}
}

func (s OracleSource) Valid() bool {
	return s == OracleSourcePyth || s == OracleSourceSwitchboard
}

// AMM is the virtual constant-product curve backing a market.
//
// Reserves are in AMM_RESERVE_PRECISION, prices in MARK_PRICE_PRECISION and
// the peg in PEG_PRECISION. sqrt_k only changes through repeg or an admin
// price move; swaps keep base*quote at sqrt_k^2 up to rounding.
type AMM struct {
	Oracle       Pubkey       `json:"oracle"`
	OracleSource OracleSource `json:"oracle_source"`

	BaseAssetReserve  sdkmath.Int `json:"base_asset_reserve"`
	QuoteAssetReserve sdkmath.Int `json:"quote_asset_reserve"`
	SqrtK             sdkmath.Int `json:"sqrt_k"`
	PegMultiplier     sdkmath.Int `json:"peg_multiplier"`

	CumulativeRepegRebateLong  sdkmath.Int `json:"cumulative_repeg_rebate_long"`
	CumulativeRepegRebateShort sdkmath.Int `json:"cumulative_repeg_rebate_short"`

	CumulativeFundingRateLong  sdkmath.Int `json:"cumulative_funding_rate_long"`
	CumulativeFundingRateShort sdkmath.Int `json:"cumulative_funding_rate_short"`
	LastFundingRate            sdkmath.Int `json:"last_funding_rate"`
	LastFundingRateTs          int64       `json:"last_funding_rate_ts"`
	FundingPeriod              int64       `json:"funding_period"`

	LastOraclePrice       sdkmath.Int `json:"last_oracle_price"`
	LastOraclePriceTWAP   sdkmath.Int `json:"last_oracle_price_twap"`
	LastOraclePriceTWAPTs int64       `json:"last_oracle_price_twap_ts"`
	LastMarkPriceTWAP     sdkmath.Int `json:"last_mark_price_twap"`
	LastMarkPriceTWAPTs   int64       `json:"last_mark_price_twap_ts"`

	TotalFee                   sdkmath.Int `json:"total_fee"`
	TotalFeeMinusDistributions sdkmath.Int `json:"total_fee_minus_distributions"`
	TotalFeeWithdrawn          sdkmath.Int `json:"total_fee_withdrawn"`

	MinimumBaseAssetTradeSize  sdkmath.Int `json:"minimum_base_asset_trade_size"`
	MinimumQuoteAssetTradeSize sdkmath.Int `json:"minimum_quote_asset_trade_size"`

	BaseSpread uint16 `json:"base_spread"`
}

// EmptyAMM returns an AMM with every integer field set to zero.
func EmptyAMM() AMM {
	z := sdkmath.ZeroInt()
	return AMM{
		BaseAssetReserve:           z,
		QuoteAssetReserve:          z,
		SqrtK:                      z,
		PegMultiplier:              z,
		CumulativeRepegRebateLong:  z,
		CumulativeRepegRebateShort: z,
		CumulativeFundingRateLong:  z,
		CumulativeFundingRateShort: z,
		LastFundingRate:            z,
		LastOraclePrice:            z,
		LastOraclePriceTWAP:        z,
		LastMarkPriceTWAP:          z,
		TotalFee:                   z,
		TotalFeeMinusDistributions: z,
		TotalFeeWithdrawn:          z,
		MinimumBaseAssetTradeSize:  z,
		MinimumQuoteAssetTradeSize: z,
	}
}
