package core

import (
	errorsmod "cosmossdk.io/errors"

	"ClearingHouse/internal/errs"
	"ClearingHouse/internal/event"
	"ClearingHouse/internal/margin"
)

// handleDeposit credits collateral. Net deposits per user are capped by
// MaxDeposit when it is set.
func (c *DeterministicCore) handleDeposit(tx *txn, cmd *event.Deposit) error {
	if err := requireActive(tx); err != nil {
		return err
	}
	if err := requirePositive("amount", cmd.Amount); err != nil {
		return err
	}
	total := c.netDeposits(tx, cmd.UserID).Add(cmd.Amount)
	if limit := tx.state.MaxDeposit; !limit.IsNil() && limit.IsPositive() && total.GT(limit) {
		return errorsmod.Wrapf(errs.ErrUserMaxDeposit, "net deposits %s exceed %s", total, limit)
	}

	before := c.collateral(tx, cmd.UserID)
	c.journalGen.Deposit(tx.batch, cmd.UserID, cmd.Amount)
	tx.deposits[cmd.UserID] = total

	return tx.emitRecord(&event.DepositRecord{
		UserID:           cmd.UserID,
		Direction:        event.DepositDirectionDeposit,
		CollateralBefore: before,
		Amount:           cmd.Amount,
	})
}

// handleWithdraw releases collateral. Funding is settled first so the
// margin check sees what the user actually holds, and the account must
// still meet initial margin afterwards.
func (c *DeterministicCore) handleWithdraw(tx *txn, cmd *event.Withdraw) error {
	if err := requireActive(tx); err != nil {
		return err
	}
	if err := requirePositive("amount", cmd.Amount); err != nil {
		return err
	}

	for _, p := range tx.positions.GetUserPositions(cmd.UserID) {
		m, err := tx.markets.Get(p.MarketIndex)
		if err != nil {
			return err
		}
		if _, err := c.settlePositionFunding(tx, p, &m); err != nil {
			return err
		}
	}

	before := c.collateral(tx, cmd.UserID)
	if cmd.Amount.GT(before) {
		return errorsmod.Wrapf(errs.ErrInsufficientCollateral, "withdraw %s, collateral %s", cmd.Amount, before)
	}
	calc := margin.NewCalculator(tx.markets)
	if err := calc.RequireInitialMargin(tx.positions.GetUserPositions(cmd.UserID), before.Sub(cmd.Amount)); err != nil {
		return err
	}

	c.journalGen.Withdrawal(tx.batch, cmd.UserID, cmd.Amount)
	tx.deposits[cmd.UserID] = c.netDeposits(tx, cmd.UserID).Sub(cmd.Amount)

	return tx.emitRecord(&event.DepositRecord{
		UserID:           cmd.UserID,
		Direction:        event.DepositDirectionWithdraw,
		CollateralBefore: before,
		Amount:           cmd.Amount,
	})
}

// handleFundInsurance tops up the insurance vault. Anyone may send it, and
// it is accepted while the exchange is paused.
func (c *DeterministicCore) handleFundInsurance(tx *txn, cmd *event.FundInsurance) error {
	if err := requirePositive("amount", cmd.Amount); err != nil {
		return err
	}
	c.journalGen.InsuranceFunding(tx.batch, cmd.Amount)
	return nil
}
