// Package fee computes trading fees under the exchange fee schedule.
package fee

import (
	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"

	"ClearingHouse/internal/errs"
	"ClearingHouse/internal/state"
)

// Breakdown itemizes the fee charged on one trade. All amounts are in
// QUOTE_PRECISION.
type Breakdown struct {
	BaseFee         sdkmath.Int `json:"base_fee"`
	TokenDiscount   sdkmath.Int `json:"token_discount"`
	RefereeDiscount sdkmath.Int `json:"referee_discount"`
	ReferrerReward  sdkmath.Int `json:"referrer_reward"`
	Fee             sdkmath.Int `json:"fee"` // charged to the trader
}

// ToMarket is the part of the fee that stays in the market's fee pool.
func (b Breakdown) ToMarket() sdkmath.Int {
	return b.Fee.Sub(b.ReferrerReward)
}

type Schedule struct {
	fees state.FeeStructure
}

func NewSchedule(fees state.FeeStructure) (*Schedule, error) {
	if err := fees.Validate(); err != nil {
		return nil, err
	}
	return &Schedule{fees: fees}, nil
}

// Tier returns the discount tier a holder of balance qualifies for: the one
// with the highest minimum balance not above it. Tiers may be listed in any
// order; minimums are distinct.
func (s *Schedule) Tier(balance uint64) (state.DiscountTier, bool) {
	var best state.DiscountTier
	found := false
	for _, t := range s.fees.DiscountTiers {
		if balance < t.MinimumBalance {
			continue
		}
		if !found || t.MinimumBalance > best.MinimumBalance {
			best = t
			found = true
		}
	}
	return best, found
}

// ComputeFee prices a trade of the given quote notional. The tier discount
// and the referee discount apply one after the other, and the referrer
// reward is taken from the fee after the tier discount.
func (s *Schedule) ComputeFee(notional sdkmath.Int, discountTokenBalance uint64, isReferred bool) (Breakdown, error) {
	zero := sdkmath.ZeroInt()
	out := Breakdown{BaseFee: zero, TokenDiscount: zero, RefereeDiscount: zero, ReferrerReward: zero, Fee: zero}
	if notional.IsNil() || notional.IsNegative() {
		return out, errorsmod.Wrapf(errs.ErrInvalidAmount, "notional %s", notional)
	}

	base, err := s.fees.Fee.Apply(notional)
	if err != nil {
		return out, err
	}
	out.BaseFee = base

	fee := base
	if tier, ok := s.Tier(discountTokenBalance); ok {
		d, err := tier.Discount.Apply(base)
		if err != nil {
			return out, err
		}
		out.TokenDiscount = d
		fee = fee.Sub(d)
	}

	if isReferred {
		reward, err := s.fees.ReferrerReward.Apply(fee)
		if err != nil {
			return out, err
		}
		d, err := s.fees.RefereeDiscount.Apply(fee)
		if err != nil {
			return out, err
		}
		out.ReferrerReward = reward
		out.RefereeDiscount = d
		fee = fee.Sub(d)
	}

	if fee.IsNegative() {
		fee = zero
	}
	out.Fee = sdkmath.MinInt(fee, base)
	if out.ReferrerReward.GT(out.Fee) {
		out.ReferrerReward = out.Fee
	}
	return out, nil
}
