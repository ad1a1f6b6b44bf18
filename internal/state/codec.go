package state

import (
	"encoding/binary"
	"math/big"

	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"
	"github.com/holiman/uint256"

	"ClearingHouse/internal/errs"
	fpmath "ClearingHouse/internal/math"
)

// Persisted sizes of the fixed little-endian layout.
const (
	AMMSize     = 352
	MarketSize  = 496
	MarketsSize = MarketSize * MaxMarkets // 31744

	ammOffset = 64
)

var twoPow128 = new(big.Int).Lsh(big.NewInt(1), 128)

type writer struct {
	buf []byte
	off int
	err error
}

func (w *writer) u128(v sdkmath.Int) {
	if w.err != nil {
		return
	}
	if v.IsNil() {
		v = sdkmath.ZeroInt()
	}
	if _, err := fpmath.CheckU128(v); err != nil {
		w.err = err
		return
	}
	w.put128(v.BigInt())
}

func (w *writer) i128(v sdkmath.Int) {
	if w.err != nil {
		return
	}
	if v.IsNil() {
		v = sdkmath.ZeroInt()
	}
	if _, err := fpmath.CheckI128(v); err != nil {
		w.err = err
		return
	}
	b := v.BigInt()
	if b.Sign() < 0 {
		b.Add(b, twoPow128)
	}
	w.put128(b)
}

func (w *writer) put128(b *big.Int) {
	z, overflow := uint256.FromBig(b)
	if overflow || z.BitLen() > 128 {
		w.err = errorsmod.Wrapf(errs.ErrMathOverflow, "%s does not fit 128 bits", b)
		return
	}
	be := z.Bytes32()
	// low 16 bytes, little-endian
	for i := 0; i < 16; i++ {
		w.buf[w.off+i] = be[31-i]
	}
	w.off += 16
}

func (w *writer) i64(v int64) {
	binary.LittleEndian.PutUint64(w.buf[w.off:], uint64(v))
	w.off += 8
}

func (w *writer) u32(v uint32) {
	binary.LittleEndian.PutUint32(w.buf[w.off:], v)
	w.off += 4
}

func (w *writer) u16(v uint16) {
	binary.LittleEndian.PutUint16(w.buf[w.off:], v)
	w.off += 2
}

func (w *writer) u8(v uint8) {
	w.buf[w.off] = v
	w.off++
}

func (w *writer) bytes(b []byte) {
	copy(w.buf[w.off:], b)
	w.off += len(b)
}

func (w *writer) skip(n int) {
	for i := 0; i < n; i++ {
		w.buf[w.off+i] = 0
	}
	w.off += n
}

type reader struct {
	buf []byte
	off int
}

func (r *reader) raw128() *big.Int {
	var be [16]byte
	for i := 0; i < 16; i++ {
		be[15-i] = r.buf[r.off+i]
	}
	r.off += 16
	return new(uint256.Int).SetBytes(be[:]).ToBig()
}

func (r *reader) u128() sdkmath.Int {
	return sdkmath.NewIntFromBigInt(r.raw128())
}

func (r *reader) i128() sdkmath.Int {
	b := r.raw128()
	if b.Bit(127) == 1 {
		b.Sub(b, twoPow128)
	}
	return sdkmath.NewIntFromBigInt(b)
}

func (r *reader) i64() int64 {
	v := int64(binary.LittleEndian.Uint64(r.buf[r.off:]))
	r.off += 8
	return v
}

func (r *reader) u32() uint32 {
	v := binary.LittleEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v
}

func (r *reader) u16() uint16 {
	v := binary.LittleEndian.Uint16(r.buf[r.off:])
	r.off += 2
	return v
}

func (r *reader) u8() uint8 {
	v := r.buf[r.off]
	r.off++
	return v
}

func (r *reader) skip(n int) {
	r.off += n
}

func encodeAMM(w *writer, a *AMM) {
	w.u128(a.BaseAssetReserve)
	w.u128(a.QuoteAssetReserve)
	w.u128(a.SqrtK)
	w.u128(a.CumulativeRepegRebateLong)
	w.u128(a.CumulativeRepegRebateShort)
	w.i128(a.CumulativeFundingRateLong)
	w.i128(a.CumulativeFundingRateShort)
	w.i128(a.LastFundingRate)
	w.i64(a.LastFundingRateTs)
	w.i64(a.FundingPeriod)
	w.u128(a.PegMultiplier)
	w.u128(a.TotalFee)
	w.u128(a.TotalFeeMinusDistributions)
	w.u128(a.TotalFeeWithdrawn)
	w.u128(a.MinimumBaseAssetTradeSize)
	w.u128(a.MinimumQuoteAssetTradeSize)
	w.u128(a.LastMarkPriceTWAP)
	w.i64(a.LastMarkPriceTWAPTs)
	w.i64(a.LastOraclePriceTWAPTs)
	w.i128(a.LastOraclePriceTWAP)
	w.bytes(a.Oracle[:])
	w.i128(a.LastOraclePrice)
	w.u16(a.BaseSpread)
	w.u8(uint8(a.OracleSource))
	w.skip(13)
}

func decodeAMM(r *reader) AMM {
	var a AMM
	a.BaseAssetReserve = r.u128()
	a.QuoteAssetReserve = r.u128()
	a.SqrtK = r.u128()
	a.CumulativeRepegRebateLong = r.u128()
	a.CumulativeRepegRebateShort = r.u128()
	a.CumulativeFundingRateLong = r.i128()
	a.CumulativeFundingRateShort = r.i128()
	a.LastFundingRate = r.i128()
	a.LastFundingRateTs = r.i64()
	a.FundingPeriod = r.i64()
	a.PegMultiplier = r.u128()
	a.TotalFee = r.u128()
	a.TotalFeeMinusDistributions = r.u128()
	a.TotalFeeWithdrawn = r.u128()
	a.MinimumBaseAssetTradeSize = r.u128()
	a.MinimumQuoteAssetTradeSize = r.u128()
	a.LastMarkPriceTWAP = r.u128()
	a.LastMarkPriceTWAPTs = r.i64()
	a.LastOraclePriceTWAPTs = r.i64()
	a.LastOraclePriceTWAP = r.i128()
	copy(a.Oracle[:], r.buf[r.off:r.off+32])
	r.skip(32)
	a.LastOraclePrice = r.i128()
	a.BaseSpread = r.u16()
	a.OracleSource = OracleSource(r.u8())
	r.skip(13)
	return a
}

func encodeMarket(w *writer, m *Market) {
	w.i128(m.BaseAssetAmountLong)
	w.i128(m.BaseAssetAmountShort)
	w.i128(m.BaseAssetAmount)
	w.u128(m.OpenInterest)
	encodeAMM(w, &m.AMM)
	w.u32(m.MarginRatioInitial)
	w.u32(m.MarginRatioPartial)
	w.u32(m.MarginRatioMaintenance)
	if m.Initialized {
		w.u8(1)
	} else {
		w.u8(0)
	}
	w.skip(3)
	w.skip(64)
}

func decodeMarket(r *reader) (Market, error) {
	var m Market
	m.BaseAssetAmountLong = r.i128()
	m.BaseAssetAmountShort = r.i128()
	m.BaseAssetAmount = r.i128()
	m.OpenInterest = r.u128()
	m.AMM = decodeAMM(r)
	m.MarginRatioInitial = r.u32()
	m.MarginRatioPartial = r.u32()
	m.MarginRatioMaintenance = r.u32()
	switch flag := r.u8(); flag {
	case 0:
	case 1:
		m.Initialized = true
	default:
		return Market{}, errorsmod.Wrapf(errs.ErrInvalidLayout, "initialized flag %d", flag)
	}
	r.skip(3)
	r.skip(64)
	if !m.AMM.OracleSource.Valid() {
		return Market{}, errorsmod.Wrapf(errs.ErrInvalidLayout, "oracle source %d", m.AMM.OracleSource)
	}
	return m, nil
}

// EncodeAMM returns the 352-byte layout of a.
func EncodeAMM(a *AMM) ([]byte, error) {
	w := &writer{buf: make([]byte, AMMSize)}
	encodeAMM(w, a)
	if w.err != nil {
		return nil, w.err
	}
	return w.buf, nil
}

// DecodeAMM parses the 352-byte layout.
func DecodeAMM(b []byte) (AMM, error) {
	if len(b) != AMMSize {
		return AMM{}, errorsmod.Wrapf(errs.ErrInvalidLayout, "amm: got %d bytes, want %d", len(b), AMMSize)
	}
	a := decodeAMM(&reader{buf: b})
	if !a.OracleSource.Valid() {
		return AMM{}, errorsmod.Wrapf(errs.ErrInvalidLayout, "oracle source %d", a.OracleSource)
	}
	return a, nil
}

// EncodeMarket returns the 496-byte layout of m.
func EncodeMarket(m *Market) ([]byte, error) {
	w := &writer{buf: make([]byte, MarketSize)}
	encodeMarket(w, m)
	if w.err != nil {
		return nil, w.err
	}
	return w.buf, nil
}

// DecodeMarket parses the 496-byte layout.
func DecodeMarket(b []byte) (Market, error) {
	if len(b) != MarketSize {
		return Market{}, errorsmod.Wrapf(errs.ErrInvalidLayout, "market: got %d bytes, want %d", len(b), MarketSize)
	}
	return decodeMarket(&reader{buf: b})
}

// Encode returns the 31744-byte layout of the whole table.
func (t *Markets) Encode() ([]byte, error) {
	w := &writer{buf: make([]byte, MarketsSize)}
	for i := range t.Markets {
		encodeMarket(w, &t.Markets[i])
		if w.err != nil {
			return nil, errorsmod.Wrapf(w.err, "market %d", i)
		}
	}
	return w.buf, nil
}

// DecodeMarkets parses a table produced by Encode.
func DecodeMarkets(b []byte) (*Markets, error) {
	if len(b) != MarketsSize {
		return nil, errorsmod.Wrapf(errs.ErrInvalidLayout, "markets: got %d bytes, want %d", len(b), MarketsSize)
	}
	t := &Markets{}
	r := &reader{buf: b}
	for i := range t.Markets {
		m, err := decodeMarket(r)
		if err != nil {
			return nil, errorsmod.Wrapf(err, "market %d", i)
		}
		t.Markets[i] = m
	}
	return t, nil
}
