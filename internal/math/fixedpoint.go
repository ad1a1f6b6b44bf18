// internal/math/fixedpoint.go
package math

import (
	"math/big"
	"sync"

	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"

	"ClearingHouse/internal/errs"
)

// 128-bit bounds. Persisted fields are at most 128 bits wide, so every
// arithmetic result is range-checked against these before it is stored.
var (
	maxU128 = sdkmath.NewIntFromBigInt(new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1)))
	maxI128 = sdkmath.NewIntFromBigInt(new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 127), big.NewInt(1)))
	minI128 = sdkmath.NewIntFromBigInt(new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 127)))
)

func MaxU128() sdkmath.Int { return maxU128 }
func MaxI128() sdkmath.Int { return maxI128 }
func MinI128() sdkmath.Int { return minI128 }

type RoundingMode int

const (
	RoundDown     RoundingMode = iota // toward zero, the clearing house default
	RoundUp                           // away from zero
	RoundHalfEven                     // banker's rounding
)

var bigPool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getBig() *big.Int {
	return bigPool.Get().(*big.Int)
}

func putBig(v *big.Int) {
	v.SetInt64(0)
	bigPool.Put(v)
}

// CheckI128 returns v unchanged if it fits a signed 128-bit field.
func CheckI128(v sdkmath.Int) (sdkmath.Int, error) {
	if v.GT(maxI128) || v.LT(minI128) {
		return sdkmath.ZeroInt(), errorsmod.Wrapf(errs.ErrMathOverflow, "%s exceeds i128", v)
	}
	return v, nil
}

// CheckU128 returns v unchanged if it fits an unsigned 128-bit field.
func CheckU128(v sdkmath.Int) (sdkmath.Int, error) {
	if v.IsNegative() {
		return sdkmath.ZeroInt(), errorsmod.Wrapf(errs.ErrMathOverflow, "%s underflows u128", v)
	}
	if v.GT(maxU128) {
		return sdkmath.ZeroInt(), errorsmod.Wrapf(errs.ErrMathOverflow, "%s exceeds u128", v)
	}
	return v, nil
}

// Add returns a+b, range-checked to i128.
func Add(a, b sdkmath.Int) (sdkmath.Int, error) {
	return CheckI128(a.Add(b))
}

// Sub returns a-b, range-checked to i128.
func Sub(a, b sdkmath.Int) (sdkmath.Int, error) {
	return CheckI128(a.Sub(b))
}

// SubU128 returns a-b and fails if the result is negative.
func SubU128(a, b sdkmath.Int) (sdkmath.Int, error) {
	return CheckU128(a.Sub(b))
}

// AddU128 returns a+b, range-checked to u128.
func AddU128(a, b sdkmath.Int) (sdkmath.Int, error) {
	return CheckU128(a.Add(b))
}

// Mul returns a*b, range-checked to i128.
func Mul(a, b sdkmath.Int) (sdkmath.Int, error) {
	if a.IsZero() || b.IsZero() {
		return sdkmath.ZeroInt(), nil
	}
	if a.BigInt().BitLen()+b.BigInt().BitLen() > 256 {
		return sdkmath.ZeroInt(), errorsmod.Wrapf(errs.ErrMathOverflow, "%s * %s", a, b)
	}
	return CheckI128(a.Mul(b))
}

// Div returns a/b rounded according to mode.
func Div(a, b sdkmath.Int, mode RoundingMode) (sdkmath.Int, error) {
	return MulDiv(a, sdkmath.OneInt(), b, mode)
}

// MulDiv computes a*b/c with an unbounded intermediate and a range-checked
// i128 result. A zero denominator is an ArithmeticError.
func MulDiv(a, b, c sdkmath.Int, mode RoundingMode) (sdkmath.Int, error) {
	if c.IsZero() {
		return sdkmath.ZeroInt(), errorsmod.Wrapf(errs.ErrDivideByZero, "%s * %s / 0", a, b)
	}

	num := getBig()
	defer putBig(num)
	num.Mul(a.BigInt(), b.BigInt())

	q := new(big.Int)
	r := getBig()
	defer putBig(r)
	// QuoRem truncates toward zero.
	q.QuoRem(num, c.BigInt(), r)

	if r.Sign() != 0 {
		negative := num.Sign()*c.Sign() < 0
		switch mode {
		case RoundUp:
			if negative {
				q.Sub(q, big.NewInt(1))
			} else {
				q.Add(q, big.NewInt(1))
			}
		case RoundHalfEven:
			twice := getBig()
			defer putBig(twice)
			twice.Abs(r)
			twice.Lsh(twice, 1)
			absC := new(big.Int).Abs(c.BigInt())
			cmp := twice.Cmp(absC)
			if cmp > 0 || (cmp == 0 && q.Bit(0) == 1) {
				if negative {
					q.Sub(q, big.NewInt(1))
				} else {
					q.Add(q, big.NewInt(1))
				}
			}
		}
	}

	if q.BitLen() > 128 {
		return sdkmath.ZeroInt(), errorsmod.Wrapf(errs.ErrMathOverflow, "%s * %s / %s", a, b, c)
	}
	return CheckI128(sdkmath.NewIntFromBigInt(q))
}

// Abs returns |v|.
func Abs(v sdkmath.Int) sdkmath.Int {
	return v.Abs()
}

// Sqrt returns floor(sqrt(v)) for v >= 0.
func Sqrt(v sdkmath.Int) (sdkmath.Int, error) {
	if v.IsNegative() {
		return sdkmath.ZeroInt(), errorsmod.Wrapf(errs.ErrNegativeValue, "sqrt of %s", v)
	}
	return sdkmath.NewIntFromBigInt(new(big.Int).Sqrt(v.BigInt())), nil
}

// Ratio is a numerator/denominator pair used for fees, penalties and
// guard rails. A zero denominator is rejected by Validate, so Apply on a
// validated ratio never divides by zero.
type Ratio struct {
	Numerator   uint64 `json:"numerator" toml:"numerator"`
	Denominator uint64 `json:"denominator" toml:"denominator"`
}

func NewRatio(num, den uint64) Ratio {
	return Ratio{Numerator: num, Denominator: den}
}

// Validate rejects a zero denominator and, when atMostOne is set, a ratio
// above one.
func (r Ratio) Validate(atMostOne bool) error {
	if r.Denominator == 0 {
		return errorsmod.Wrap(errs.ErrDivideByZero, "ratio denominator is zero")
	}
	if atMostOne && r.Numerator > r.Denominator {
		return errorsmod.Wrapf(errs.ErrMathOverflow, "ratio %d/%d above one", r.Numerator, r.Denominator)
	}
	return nil
}

// Apply returns v * num / den rounded toward zero.
func (r Ratio) Apply(v sdkmath.Int) (sdkmath.Int, error) {
	return MulDiv(v, sdkmath.NewIntFromUint64(r.Numerator), sdkmath.NewIntFromUint64(r.Denominator), RoundDown)
}

// Less compares two ratios by value without division.
func (r Ratio) Less(o Ratio) bool {
	lhs := new(big.Int).Mul(new(big.Int).SetUint64(r.Numerator), new(big.Int).SetUint64(o.Denominator))
	rhs := new(big.Int).Mul(new(big.Int).SetUint64(o.Numerator), new(big.Int).SetUint64(r.Denominator))
	return lhs.Cmp(rhs) < 0
}

// SumAboveOne reports whether a + b > 1, without division or overflow.
func SumAboveOne(a, b Ratio) bool {
	den := new(big.Int).Mul(new(big.Int).SetUint64(a.Denominator), new(big.Int).SetUint64(b.Denominator))
	num := new(big.Int).Mul(new(big.Int).SetUint64(a.Numerator), new(big.Int).SetUint64(b.Denominator))
	num.Add(num, new(big.Int).Mul(new(big.Int).SetUint64(b.Numerator), new(big.Int).SetUint64(a.Denominator)))
	return num.Cmp(den) > 0
}

// ComputeNotional returns |base| * markPrice in quote precision, rounded down.
func ComputeNotional(baseAssetAmount, markPrice sdkmath.Int) (sdkmath.Int, error) {
	return MulDiv(baseAssetAmount.Abs(), markPrice, baseTimesMarkToQuote, RoundDown)
}

// ComputeUnrealizedPnL returns the PnL of a position with the given entry
// notional valued at markPrice. Longs gain when notional rises above entry.
func ComputeUnrealizedPnL(baseAssetAmount, quoteAssetAmount, markPrice sdkmath.Int) (sdkmath.Int, error) {
	if baseAssetAmount.IsZero() {
		return sdkmath.ZeroInt(), nil
	}
	notional, err := ComputeNotional(baseAssetAmount, markPrice)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	if baseAssetAmount.IsPositive() {
		return Sub(notional, quoteAssetAmount)
	}
	return Sub(quoteAssetAmount, notional)
}

// ConvertReserveToQuote converts a quote reserve delta to collateral units
// at the given peg.
func ConvertReserveToQuote(quoteReserveDelta, peg sdkmath.Int) (sdkmath.Int, error) {
	return MulDiv(quoteReserveDelta, peg, ammTimesPegToQuote, RoundDown)
}

// ConvertQuoteToReserve is the inverse of ConvertReserveToQuote.
func ConvertQuoteToReserve(quoteAmount, peg sdkmath.Int) (sdkmath.Int, error) {
	return MulDiv(quoteAmount, ammTimesPegToQuote, peg, RoundDown)
}

// ComputeMarkPrice returns quote*peg/base in MARK_PRICE_PRECISION.
func ComputeMarkPrice(baseAssetReserve, quoteAssetReserve, pegMultiplier sdkmath.Int) (sdkmath.Int, error) {
	if !baseAssetReserve.IsPositive() {
		return sdkmath.ZeroInt(), errorsmod.Wrapf(errs.ErrInvalidReserves, "base reserve %s", baseAssetReserve)
	}
	// single rounding: quote*peg*1e10 / (base*1e3)
	return MulDiv(quoteAssetReserve.Mul(pegMultiplier), markPricePrecision, baseAssetReserve.Mul(pegPrecision), RoundDown)
}

// ComputeAveragePrice is the inverse of ComputeNotional: the average price
// in MARK_PRICE_PRECISION at which quoteAmount bought |baseAmount|.
func ComputeAveragePrice(baseAmount, quoteAmount sdkmath.Int) (sdkmath.Int, error) {
	return MulDiv(quoteAmount, baseTimesMarkToQuote, baseAmount.Abs(), RoundDown)
}
