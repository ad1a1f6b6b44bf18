package ledger

import (
	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"

	"ClearingHouse/internal/errs"
)

// JournalType represents the purpose of a journal entry
type JournalType int32

const (
	JournalTypeDeposit JournalType = iota
	JournalTypeWithdrawal
	JournalTypeTradePnL
	JournalTypeTradeFee
	JournalTypeReferrerReward
	JournalTypeFundingPayment
	JournalTypeRepegRebate
	JournalTypeRepegCost
	JournalTypeLiquidationPenalty
	JournalTypeInsuranceCoverage
	JournalTypeSocializedLoss
	JournalTypeFeeWithdrawal
	JournalTypeInsuranceFunding
)

func (t JournalType) String() string {
	switch t {
	case JournalTypeDeposit:
		return "deposit"
	case JournalTypeWithdrawal:
		return "withdrawal"
	case JournalTypeTradePnL:
		return "trade_pnl"
	case JournalTypeTradeFee:
		return "trade_fee"
	case JournalTypeReferrerReward:
		return "referrer_reward"
	case JournalTypeFundingPayment:
		return "funding_payment"
	case JournalTypeRepegRebate:
		return "repeg_rebate"
	case JournalTypeRepegCost:
		return "repeg_cost"
	case JournalTypeLiquidationPenalty:
		return "liquidation_penalty"
	case JournalTypeInsuranceCoverage:
		return "insurance_coverage"
	case JournalTypeSocializedLoss:
		return "socialized_loss"
	case JournalTypeFeeWithdrawal:
		return "fee_withdrawal"
	case JournalTypeInsuranceFunding:
		return "insurance_funding"
	default:
		return "unknown"
	}
}

// Journal represents a single double-entry journal entry
type Journal struct {
	JournalID     uuid.UUID   // Unique identifier
	BatchID       uuid.UUID   // Groups entries of one command
	EventRef      string      // Idempotency key of source command
	Sequence      int64       // Global event sequence
	DebitAccount  AccountKey  // Account receiving debit (balance increases)
	CreditAccount AccountKey  // Account receiving credit (balance decreases)
	Amount        sdkmath.Int // QUOTE_PRECISION, always positive
	JournalType   JournalType // Entry type
	Timestamp     int64       // Command timestamp (unix seconds)
}

// Batch represents a balanced set of journal entries
type Batch struct {
	BatchID   uuid.UUID
	EventRef  string
	Sequence  int64
	Timestamp int64
	Journals  []Journal
}

// NewBatch starts an empty batch for one command.
func NewBatch(eventRef string, sequence, timestamp int64) *Batch {
	return &Batch{
		BatchID:   uuid.New(),
		EventRef:  eventRef,
		Sequence:  sequence,
		Timestamp: timestamp,
		Journals:  make([]Journal, 0, 4),
	}
}

// Transfer appends a journal moving amount from credit to debit. Zero
// amounts are skipped.
func (b *Batch) Transfer(debit, credit AccountKey, amount sdkmath.Int, jt JournalType) {
	if amount.IsNil() || amount.IsZero() {
		return
	}
	b.Journals = append(b.Journals, Journal{
		JournalID:     uuid.New(),
		BatchID:       b.BatchID,
		EventRef:      b.EventRef,
		Sequence:      b.Sequence,
		DebitAccount:  debit,
		CreditAccount: credit,
		Amount:        amount,
		JournalType:   jt,
		Timestamp:     b.Timestamp,
	})
}

// Move credits `to` with a signed amount taken from `from`; a negative
// amount flows the other way.
func (b *Batch) Move(to, from AccountKey, signed sdkmath.Int, jt JournalType) {
	if signed.IsNil() {
		return
	}
	if signed.IsNegative() {
		b.Transfer(from, to, signed.Neg(), jt)
		return
	}
	b.Transfer(to, from, signed, jt)
}

// NetChange returns the balance change the batch applies to key.
func (b *Batch) NetChange(key AccountKey) sdkmath.Int {
	net := sdkmath.ZeroInt()
	for _, j := range b.Journals {
		if j.DebitAccount == key {
			net = net.Add(j.Amount)
		}
		if j.CreditAccount == key {
			net = net.Sub(j.Amount)
		}
	}
	return net
}

// IsEmpty reports whether the batch moves no funds.
func (b *Batch) IsEmpty() bool {
	return b == nil || len(b.Journals) == 0
}

// Validate ensures the batch is well-formed.
// Each journal moves one positive amount from its credit account to its
// debit account, so every entry balances by construction and so does the
// batch.
func (b *Batch) Validate() error {
	for _, j := range b.Journals {
		if j.Amount.IsNil() || !j.Amount.IsPositive() {
			return errorsmod.Wrapf(errs.ErrUnbalancedJournal, "journal %s has non-positive amount %s", j.JournalID, j.Amount)
		}
		if j.BatchID != b.BatchID {
			return errorsmod.Wrapf(errs.ErrUnbalancedJournal, "journal %s has mismatched batch_id", j.JournalID)
		}
		if j.DebitAccount == j.CreditAccount {
			return errorsmod.Wrapf(errs.ErrUnbalancedJournal, "journal %s has same debit and credit account", j.JournalID)
		}
	}
	return nil
}
