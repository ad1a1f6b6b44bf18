package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
	}
}

// ValidateBatchBalance verifies batch is balanced
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	return batch.Validate()
}

// ValidateUserCollateralNonNegative checks user collateral >= 0. Liquidation
// deficits are covered inside the same batch, so this holds after every
// command.
func (v *InvariantValidator) ValidateUserCollateralNonNegative(userID uuid.UUID) error {
	return v.tracker.ValidateNonNegative(UserCollateral(userID))
}

// ValidateInsuranceNonNegative checks the insurance vault never pays out
// more than it holds.
func (v *InvariantValidator) ValidateInsuranceNonNegative() error {
	return v.tracker.ValidateNonNegative(InsuranceVault())
}

// ValidateGlobalBalance verifies the system is zero-sum
func (v *InvariantValidator) ValidateGlobalBalance() error {
	if total := v.tracker.ComputeGlobalBalance(); !total.IsZero() {
		return fmt.Errorf("global balance is non-zero: %s", total)
	}
	return nil
}
