package core

import (
	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"

	"ClearingHouse/internal/errs"
	"ClearingHouse/internal/event"
	"ClearingHouse/internal/ledger"
	"ClearingHouse/internal/oracle"
	"ClearingHouse/internal/state"
)

// txn stages one command. Handlers read and write only through it; the
// core copies it over its own state once the command succeeds.
type txn struct {
	ts        int64
	state     *state.State
	markets   *state.Markets
	positions *state.PositionOverlay
	batch     *ledger.Batch
	records   []event.Record
	recordIDs [historyKinds]uint64

	marketsTouched map[uint16]bool
	oracles        map[uint16]oracle.Reading
	deposits       map[uuid.UUID]sdkmath.Int
}

func (c *DeterministicCore) begin(evt event.Event) *txn {
	markets := *c.markets
	return &txn{
		ts:             evt.EventTimestamp(),
		state:          c.state.Clone(),
		markets:        &markets,
		positions:      state.NewPositionOverlay(c.positions),
		batch:          ledger.NewBatch(evt.IdempotencyKey(), c.sequence, evt.EventTimestamp()),
		recordIDs:      c.recordIDs,
		marketsTouched: make(map[uint16]bool),
		oracles:        make(map[uint16]oracle.Reading),
		deposits:       make(map[uuid.UUID]sdkmath.Int),
	}
}

// commit publishes everything tx staged. The batch is applied separately.
func (c *DeterministicCore) commit(tx *txn) {
	c.state = tx.state
	*c.markets = *tx.markets
	tx.positions.Commit()
	for idx, r := range tx.oracles {
		c.oracles[idx] = r
		c.sequenceValidator.AdvanceOracleSlot(idx, r.Slot)
	}
	for user, total := range tx.deposits {
		c.deposits[user] = total
	}
	c.recordIDs = tx.recordIDs
}

func (tx *txn) putMarket(idx uint16, m state.Market) error {
	if err := tx.markets.Put(idx, m); err != nil {
		return err
	}
	tx.marketsTouched[idx] = true
	return nil
}

func (tx *txn) touchedMarkets() map[uint16]state.Market {
	out := make(map[uint16]state.Market, len(tx.marketsTouched))
	for idx := range tx.marketsTouched {
		out[idx] = tx.markets.Markets[idx]
	}
	return out
}

// emitRecord appends rec to its history log, numbering it. The log must
// have been initialized.
func (tx *txn) emitRecord(rec event.Record) error {
	kind := rec.HistoryKind()
	if _, err := tx.state.History.Require(kind); err != nil {
		return err
	}
	tx.recordIDs[kind]++
	h := rec.Header()
	h.RecordID = tx.recordIDs[kind]
	h.Ts = tx.ts
	tx.records = append(tx.records, rec)
	return nil
}

func (c *DeterministicCore) oracleReading(tx *txn, idx uint16) (oracle.Reading, bool) {
	if r, ok := tx.oracles[idx]; ok {
		return r, true
	}
	r, ok := c.oracles[idx]
	return r, ok
}

func (c *DeterministicCore) netDeposits(tx *txn, user uuid.UUID) sdkmath.Int {
	if v, ok := tx.deposits[user]; ok {
		return v
	}
	if v, ok := c.deposits[user]; ok {
		return v
	}
	return sdkmath.ZeroInt()
}

func (c *DeterministicCore) collateral(tx *txn, user uuid.UUID) sdkmath.Int {
	return c.journalGen.PendingBalance(tx.batch, ledger.UserCollateral(user))
}

func requireActive(tx *txn) error {
	if tx.state.ExchangePaused {
		return errs.ErrExchangePaused
	}
	return nil
}

func requirePositive(name string, v sdkmath.Int) error {
	if v.IsNil() || !v.IsPositive() {
		return errorsmod.Wrapf(errs.ErrInvalidAmount, "%s %s", name, v)
	}
	return nil
}
