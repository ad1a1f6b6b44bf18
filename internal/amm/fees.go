package amm

import (
	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"

	"ClearingHouse/internal/errs"
	fpmath "ClearingHouse/internal/math"
	"ClearingHouse/internal/state"
)

// RecordFee adds a collected trading fee to the market's fee pool.
func RecordFee(a *state.AMM, fee sdkmath.Int) error {
	if fee.IsNegative() {
		return errorsmod.Wrapf(errs.ErrInvalidAmount, "fee %s", fee)
	}
	total, err := fpmath.AddU128(a.TotalFee, fee)
	if err != nil {
		return err
	}
	minus, err := fpmath.AddU128(a.TotalFeeMinusDistributions, fee)
	if err != nil {
		return err
	}
	a.TotalFee = total
	a.TotalFeeMinusDistributions = minus
	return nil
}

// MaxFeeWithdrawal is what the admin may still withdraw: at most half of
// all fees ever collected, and never more than the undistributed pool.
func MaxFeeWithdrawal(a *state.AMM) sdkmath.Int {
	limit := a.TotalFee.QuoRaw(2).Sub(a.TotalFeeWithdrawn)
	if limit.IsNegative() {
		return sdkmath.ZeroInt()
	}
	return sdkmath.MinInt(limit, a.TotalFeeMinusDistributions)
}

// WithdrawFees moves amount out of the fee pool.
func WithdrawFees(a *state.AMM, amount sdkmath.Int) error {
	if !amount.IsPositive() {
		return errorsmod.Wrapf(errs.ErrInvalidAmount, "amount %s", amount)
	}
	if limit := MaxFeeWithdrawal(a); amount.GT(limit) {
		return errorsmod.Wrapf(errs.ErrFeeWithdrawalTooLarge, "amount %s, max %s", amount, limit)
	}
	a.TotalFeeMinusDistributions = a.TotalFeeMinusDistributions.Sub(amount)
	a.TotalFeeWithdrawn = a.TotalFeeWithdrawn.Add(amount)
	return nil
}
