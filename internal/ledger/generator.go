package ledger

import (
	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"

	"ClearingHouse/internal/state"
)

// JournalGenerator appends the journals of each collateral movement to a
// command's batch. Balance reads include what the batch has already moved.
type JournalGenerator struct {
	balanceTracker *BalanceTracker
	insurance      *state.InsuranceFund
}

func NewJournalGenerator(tracker *BalanceTracker) *JournalGenerator {
	return &JournalGenerator{
		balanceTracker: tracker,
		insurance:      state.NewInsuranceFund(),
	}
}

// PendingBalance is the balance of key once batch is applied.
func (jg *JournalGenerator) PendingBalance(batch *Batch, key AccountKey) sdkmath.Int {
	return jg.balanceTracker.GetBalance(key).Add(batch.NetChange(key))
}

// Deposit moves funds: external:deposits → user:collateral
func (jg *JournalGenerator) Deposit(batch *Batch, userID uuid.UUID, amount sdkmath.Int) {
	batch.Transfer(UserCollateral(userID), NewExternalAccountKey(SubTypeExternalDeposits), amount, JournalTypeDeposit)
}

// Withdrawal moves funds: user:collateral → external:withdrawals
func (jg *JournalGenerator) Withdrawal(batch *Batch, userID uuid.UUID, amount sdkmath.Int) {
	batch.Transfer(NewExternalAccountKey(SubTypeExternalWithdrawals), UserCollateral(userID), amount, JournalTypeWithdrawal)
}

// RealizedPnL settles a closed position's PnL against the market's AMM.
func (jg *JournalGenerator) RealizedPnL(batch *Batch, userID uuid.UUID, marketIndex uint16, pnl sdkmath.Int) {
	batch.Move(UserCollateral(userID), NewMarketAccountKey(marketIndex, SubTypeAMMPnL), pnl, JournalTypeTradePnL)
}

// TradeFee charges fee to the user. The referrer's reward goes to the
// referrer and the rest to the market's fee pool.
func (jg *JournalGenerator) TradeFee(batch *Batch, userID uuid.UUID, marketIndex uint16, fee, referrerReward sdkmath.Int, referrer *uuid.UUID) {
	toMarket := fee
	if referrer != nil && referrerReward.IsPositive() {
		batch.Transfer(UserCollateral(*referrer), UserCollateral(userID), referrerReward, JournalTypeReferrerReward)
		toMarket = fee.Sub(referrerReward)
	}
	batch.Transfer(NewMarketAccountKey(marketIndex, SubTypeFeePool), UserCollateral(userID), toMarket, JournalTypeTradeFee)
}

// FundingPayment settles one position's funding. A positive payment is paid
// by the user into the market's funding pool; a negative one is received.
func (jg *JournalGenerator) FundingPayment(batch *Batch, userID uuid.UUID, marketIndex uint16, payment sdkmath.Int) {
	batch.Move(NewMarketAccountKey(marketIndex, SubTypeFundingPool), UserCollateral(userID), payment, JournalTypeFundingPayment)
}

// RepegRebate pays a position its share of a profitable repeg.
func (jg *JournalGenerator) RepegRebate(batch *Batch, userID uuid.UUID, marketIndex uint16, rebate sdkmath.Int) {
	batch.Transfer(UserCollateral(userID), NewMarketAccountKey(marketIndex, SubTypeAMMPnL), rebate, JournalTypeRepegRebate)
}

// RepegCost pays the cost of re-pricing the curve out of collected fees.
func (jg *JournalGenerator) RepegCost(batch *Batch, marketIndex uint16, cost sdkmath.Int) {
	if !cost.IsPositive() {
		return
	}
	batch.Transfer(NewMarketAccountKey(marketIndex, SubTypeAMMPnL), NewMarketAccountKey(marketIndex, SubTypeFeePool), cost, JournalTypeRepegCost)
}

// LiquidationPenalty splits a penalty between the liquidator and the
// insurance vault.
func (jg *JournalGenerator) LiquidationPenalty(batch *Batch, userID, liquidator uuid.UUID, liquidatorShare, insuranceShare sdkmath.Int) {
	batch.Transfer(UserCollateral(liquidator), UserCollateral(userID), liquidatorShare, JournalTypeLiquidationPenalty)
	batch.Transfer(InsuranceVault(), UserCollateral(userID), insuranceShare, JournalTypeLiquidationPenalty)
}

// CoverDeficit brings a negative collateral balance back to zero. The
// insurance vault covers what it can and the remainder is socialized.
func (jg *JournalGenerator) CoverDeficit(batch *Batch, userID uuid.UUID) (covered, socialized sdkmath.Int) {
	balance := jg.PendingBalance(batch, UserCollateral(userID))
	if !balance.IsNegative() {
		return sdkmath.ZeroInt(), sdkmath.ZeroInt()
	}
	fund := jg.PendingBalance(batch, InsuranceVault())
	covered, socialized = jg.insurance.ComputeCoverage(fund, balance.Neg())
	batch.Transfer(UserCollateral(userID), InsuranceVault(), covered, JournalTypeInsuranceCoverage)
	batch.Transfer(UserCollateral(userID), NewSystemAccountKey(SubTypeSocializedLoss), socialized, JournalTypeSocializedLoss)
	return covered, socialized
}

// FeeWithdrawal moves collected fees out to the admin.
func (jg *JournalGenerator) FeeWithdrawal(batch *Batch, marketIndex uint16, amount sdkmath.Int) {
	batch.Transfer(NewExternalAccountKey(SubTypeExternalWithdrawals), NewMarketAccountKey(marketIndex, SubTypeFeePool), amount, JournalTypeFeeWithdrawal)
}

// InsuranceFunding tops up the insurance vault from outside.
func (jg *JournalGenerator) InsuranceFunding(batch *Batch, amount sdkmath.Int) {
	batch.Transfer(InsuranceVault(), NewExternalAccountKey(SubTypeExternalDeposits), amount, JournalTypeInsuranceFunding)
}
