// Package oracle decides whether an oracle reading can be trusted.
package oracle

import (
	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"

	"ClearingHouse/internal/errs"
	"ClearingHouse/internal/state"
)

// Validity is the verdict on an oracle reading.
type Validity int

const (
	Ok Validity = iota
	Stale
	TooVolatile
	Diverged
)

// AllValidities lists every verdict.
var AllValidities = []Validity{Ok, Stale, TooVolatile, Diverged}

func (v Validity) String() string {
	switch v {
	case Ok:
		return "Ok"
	case Stale:
		return "Stale"
	case TooVolatile:
		return "TooVolatile"
	case Diverged:
		return "Diverged"
	default:
		return "Unknown"
	}
}

// Err maps a non-Ok verdict to its OracleError.
func (v Validity) Err() error {
	switch v {
	case Ok:
		return nil
	case Stale:
		return errs.ErrOracleStale
	case TooVolatile:
		return errs.ErrOracleTooVolatile
	case Diverged:
		return errs.ErrOracleDiverged
	default:
		return errorsmod.Wrapf(errs.ErrInvalidOracleReading, "validity %d", int(v))
	}
}

// Reading is one oracle observation in MARK_PRICE_PRECISION.
type Reading struct {
	Oracle     state.Pubkey `json:"oracle"`
	Price      sdkmath.Int  `json:"price"`
	Confidence sdkmath.Int  `json:"confidence"`
	Slot       uint64       `json:"slot"`
	// Volatile is set when the reading was too far from the oracle TWAP
	// at the time it was recorded.
	Volatile bool `json:"volatile,omitempty"`
}

// GuardRail applies the configured OracleGuardRails.
type GuardRail struct {
	rails state.OracleGuardRails
}

func NewGuardRail(rails state.OracleGuardRails) *GuardRail {
	return &GuardRail{rails: rails}
}

// Validate classifies a reading. Checks run in a fixed order and the first
// failing one wins:
//
//  1. Stale: more than SlotsBeforeStale slots old.
//  2. TooVolatile: flagged Volatile when recorded, confidence wider than
//     ConfidenceIntervalMaxSize percent of price, or price and oracleTWAP
//     more than TooVolatileRatio apart.
//  3. Diverged: |mark - oracle| / oracle above PriceDivergence.
//
// A non-positive price or a reading from a future slot is malformed and
// returned as an error rather than a verdict.
func (g *GuardRail) Validate(r Reading, currentSlot uint64, markPrice, oracleTWAP sdkmath.Int) (Validity, error) {
	if r.Price.IsNil() || !r.Price.IsPositive() {
		return Stale, errorsmod.Wrapf(errs.ErrInvalidOracleReading, "price %s", r.Price)
	}
	if r.Slot > currentSlot {
		return Stale, errorsmod.Wrapf(errs.ErrInvalidOracleReading, "oracle slot %d ahead of current %d", r.Slot, currentSlot)
	}

	if currentSlot-r.Slot > uint64(g.rails.SlotsBeforeStale) {
		return Stale, nil
	}

	if r.Volatile || tooVolatile(g.rails, r, oracleTWAP) {
		return TooVolatile, nil
	}

	if g.Diverges(markPrice, r.Price) {
		return Diverged, nil
	}

	return Ok, nil
}

// Diverges reports whether markPrice is further from oraclePrice than
// PriceDivergence allows. An unset mark never diverges.
func (g *GuardRail) Diverges(markPrice, oraclePrice sdkmath.Int) bool {
	if markPrice.IsNil() || !markPrice.IsPositive() || oraclePrice.IsNil() || !oraclePrice.IsPositive() {
		return false
	}
	// |mark - oracle| * den > oracle * num
	spread := markPrice.Sub(oraclePrice).Abs().Mul(sdkmath.NewIntFromUint64(g.rails.PriceDivergence.Denominator))
	bound := oraclePrice.Mul(sdkmath.NewIntFromUint64(g.rails.PriceDivergence.Numerator))
	return spread.GT(bound)
}

func tooVolatile(rails state.OracleGuardRails, r Reading, oracleTWAP sdkmath.Int) bool {
	if !r.Confidence.IsNil() && r.Confidence.IsPositive() {
		// confidence / price > max percent
		if r.Confidence.MulRaw(100).GT(r.Price.Mul(sdkmath.NewIntFromUint64(rails.ConfidenceIntervalMaxSize))) {
			return true
		}
	}
	if oracleTWAP.IsNil() || !oracleTWAP.IsPositive() {
		return false
	}
	ratio := sdkmath.NewInt(rails.TooVolatileRatio)
	// price/twap > ratio or twap/price > ratio, without division
	if r.Price.GT(oracleTWAP.Mul(ratio)) || oracleTWAP.GT(r.Price.Mul(ratio)) {
		return true
	}
	return false
}

// Check validates a reading and returns the OracleError for a non-Ok
// verdict.
func (g *GuardRail) Check(r Reading, currentSlot uint64, markPrice, oracleTWAP sdkmath.Int) error {
	v, err := g.Validate(r, currentSlot, markPrice, oracleTWAP)
	if err != nil {
		return err
	}
	if v != Ok {
		return errorsmod.Wrapf(v.Err(), "slot %d price %s mark %s", r.Slot, r.Price, markPrice)
	}
	return nil
}
