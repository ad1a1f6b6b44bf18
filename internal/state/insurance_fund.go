package state

import sdkmath "cosmossdk.io/math"

// InsuranceFund covers liquidation deficits (negative equity after a full
// close). The balance is tracked by the ledger on the insurance vault
// account; whatever the fund cannot cover is socialized.
type InsuranceFund struct{}

func NewInsuranceFund() *InsuranceFund {
	return &InsuranceFund{}
}

// CanCoverDeficit checks if the fund balance covers the whole deficit.
func (f *InsuranceFund) CanCoverDeficit(fundBalance, deficit sdkmath.Int) bool {
	return fundBalance.GTE(deficit)
}

// ComputeCoverage returns how much the insurance fund can cover and what
// remains uncovered.
func (f *InsuranceFund) ComputeCoverage(fundBalance, deficit sdkmath.Int) (covered, remaining sdkmath.Int) {
	if !deficit.IsPositive() {
		return sdkmath.ZeroInt(), sdkmath.ZeroInt()
	}
	if !fundBalance.IsPositive() {
		return sdkmath.ZeroInt(), deficit
	}
	if fundBalance.GTE(deficit) {
		return deficit, sdkmath.ZeroInt()
	}
	return fundBalance, deficit.Sub(fundBalance)
}
