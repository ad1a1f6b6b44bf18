package math

import sdkmath "cosmossdk.io/math"

// Fixed-point scales. Every quantity in the clearing house is an integer
// multiple of one of these.
const (
	MarkPricePrecision       int64 = 10_000_000_000     // 1e10
	AMMReservePrecision      int64 = 10_000_000_000_000 // 1e13, base asset amounts
	PegPrecision             int64 = 1_000              // 1e3
	QuotePrecision           int64 = 1_000_000          // 1e6, collateral
	FundingPaymentPrecision  int64 = 10_000             // 1e4
	MarginPrecision          int64 = 10_000             // basis points
	AMMToQuotePrecisionRatio int64 = 10_000_000         // 1e13 / 1e6
	PriceToPegPrecisionRatio int64 = 10_000_000         // 1e10 / 1e3
	// AMMTimesPegToQuotePrecisionRatio converts reserve*peg to quote: 1e13*1e3/1e6.
	AMMTimesPegToQuotePrecisionRatio int64 = 10_000_000_000

	OneHour int64 = 3_600
	OneDay  int64 = 86_400
)

var (
	markPricePrecision      = sdkmath.NewInt(MarkPricePrecision)
	ammReservePrecision     = sdkmath.NewInt(AMMReservePrecision)
	pegPrecision            = sdkmath.NewInt(PegPrecision)
	fundingPaymentPrecision = sdkmath.NewInt(FundingPaymentPrecision)
	marginPrecision         = sdkmath.NewInt(MarginPrecision)
	ammToQuote              = sdkmath.NewInt(AMMToQuotePrecisionRatio)
	ammTimesPegToQuote      = sdkmath.NewInt(AMMTimesPegToQuotePrecisionRatio)

	// notional = |base| * mark / (1e13 * 1e10 / 1e6)
	baseTimesMarkToQuote = sdkmath.NewInt(AMMReservePrecision).Mul(sdkmath.NewInt(MarkPricePrecision)).Quo(sdkmath.NewInt(QuotePrecision))

	// funding payment = delta_rate * base / (1e10 * 1e4 * 1e7)
	fundingPaymentToQuote = sdkmath.NewInt(MarkPricePrecision).Mul(sdkmath.NewInt(FundingPaymentPrecision)).Mul(sdkmath.NewInt(AMMToQuotePrecisionRatio))
)

func MarkPricePrecisionInt() sdkmath.Int      { return markPricePrecision }
func AMMReservePrecisionInt() sdkmath.Int     { return ammReservePrecision }
func PegPrecisionInt() sdkmath.Int            { return pegPrecision }
func FundingPaymentPrecisionInt() sdkmath.Int { return fundingPaymentPrecision }
func MarginPrecisionInt() sdkmath.Int         { return marginPrecision }
func AMMToQuoteRatioInt() sdkmath.Int         { return ammToQuote }
func AMMTimesPegToQuoteInt() sdkmath.Int      { return ammTimesPegToQuote }
