package projection_test

import (
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ClearingHouse/internal/core"
	"ClearingHouse/internal/errs"
	"ClearingHouse/internal/event"
	"ClearingHouse/internal/ledger"
	"ClearingHouse/internal/projection"
	"ClearingHouse/internal/state"
)

var (
	alice = uuid.MustParse("00000000-0000-0000-0000-00000000a11c")
	bob   = uuid.MustParse("00000000-0000-0000-0000-000000000b0b")
)

func deposit(seq int64, id uint64, user uuid.UUID, amount int64) core.CoreOutput {
	batch := ledger.NewBatch("deposit", seq, 1_700_000_000+seq)
	batch.Transfer(ledger.UserCollateral(user), ledger.NewExternalAccountKey(ledger.SubTypeExternalDeposits), sdkmath.NewInt(amount), ledger.JournalTypeDeposit)
	return core.CoreOutput{
		Envelope: &event.EventEnvelope{Sequence: seq, EventType: event.EventTypeDeposit},
		Batch:    batch,
		Records: []event.Record{&event.DepositRecord{
			RecordHeader: event.RecordHeader{RecordID: id, Ts: 1_700_000_000 + seq},
			UserID:       user,
			Direction:    event.DepositDirectionDeposit,
			Amount:       sdkmath.NewInt(amount),
		}},
	}
}

func position(user uuid.UUID, market uint16, base int64) state.MarketPosition {
	p := state.NewMarketPosition(user, market)
	p.BaseAssetAmount = sdkmath.NewInt(base)
	p.QuoteAssetAmount = sdkmath.NewInt(base * 2)
	return p
}

func TestApplyTracksBalances(t *testing.T) {
	s := projection.NewStore(0)

	require.True(t, s.Apply(deposit(1, 1, alice, 100)))
	require.True(t, s.Apply(deposit(2, 2, alice, 50)))
	require.True(t, s.Apply(deposit(3, 3, bob, 7)))

	assert.Equal(t, "150", s.Balance(ledger.UserCollateral(alice)).String())
	assert.Equal(t, "7", s.Balance(ledger.UserCollateral(bob)).String())
	assert.Equal(t, "-157", s.Balance(ledger.NewExternalAccountKey(ledger.SubTypeExternalDeposits)).String())
	assert.True(t, s.Balance(ledger.InsuranceVault()).IsZero())
	assert.Equal(t, int64(3), s.Sequence())

	total := sdkmath.ZeroInt()
	for _, bal := range s.Balances() {
		total = total.Add(bal)
	}
	assert.True(t, total.IsZero(), "projected balances must sum to zero")
}

func TestApplyIgnoresStaleOutputs(t *testing.T) {
	s := projection.NewStore(0)
	require.True(t, s.Apply(deposit(2, 1, alice, 100)))

	assert.False(t, s.Apply(deposit(2, 1, alice, 100)))
	assert.False(t, s.Apply(deposit(1, 1, alice, 100)))
	assert.False(t, s.Apply(core.CoreOutput{}))
	assert.Equal(t, "100", s.Balance(ledger.UserCollateral(alice)).String())
}

func TestPositionsDropWhenFlat(t *testing.T) {
	s := projection.NewStore(0)
	s.Apply(core.CoreOutput{
		Envelope:  &event.EventEnvelope{Sequence: 1},
		Positions: []state.MarketPosition{position(alice, 2, 10), position(alice, 0, -5)},
	})

	got := s.Positions(alice)
	require.Len(t, got, 2)
	assert.Equal(t, uint16(0), got[0].MarketIndex)
	assert.Equal(t, uint16(2), got[1].MarketIndex)

	s.Apply(core.CoreOutput{
		Envelope:  &event.EventEnvelope{Sequence: 2},
		Positions: []state.MarketPosition{state.NewMarketPosition(alice, 2)},
	})
	got = s.Positions(alice)
	require.Len(t, got, 1)
	assert.Equal(t, "-5", got[0].BaseAssetAmount.String())
	assert.Empty(t, s.Positions(bob))
}

func TestMarketsAsMarginReader(t *testing.T) {
	s := projection.NewStore(0)
	m := state.EmptyMarket()
	m.Initialized = true
	s.Apply(core.CoreOutput{
		Envelope: &event.EventEnvelope{Sequence: 1},
		Markets:  map[uint16]state.Market{4: m},
	})

	got, err := s.Get(4)
	require.NoError(t, err)
	assert.True(t, got.Initialized)

	_, err = s.Get(5)
	assert.ErrorIs(t, err, errs.ErrMarketNotInitialized)
}

func TestRecordsPaging(t *testing.T) {
	s := projection.NewStore(0)
	for i := int64(1); i <= 5; i++ {
		user := alice
		if i%2 == 0 {
			user = bob
		}
		s.Apply(deposit(i, uint64(i), user, i))
	}

	page := s.Records(state.HistoryDeposit, 0, 2)
	require.Len(t, page, 2)
	assert.Equal(t, uint64(1), page[0].Record.Header().RecordID)
	assert.Equal(t, uint64(2), page[1].Record.Header().RecordID)

	page = s.Records(state.HistoryDeposit, 2, 10)
	require.Len(t, page, 3)
	assert.Equal(t, int64(3), page[0].Sequence)

	assert.Empty(t, s.Records(state.HistoryTrade, 0, 10))

	mine := s.UserRecords(alice, state.HistoryDeposit, 0, 10)
	require.Len(t, mine, 3)
	for _, e := range mine {
		assert.Equal(t, alice, e.Record.(*event.DepositRecord).UserID)
	}
	assert.Len(t, s.UserRecords(bob, state.HistoryDeposit, 2, 10), 1)
}

func TestRetentionEvictsOldest(t *testing.T) {
	s := projection.NewStore(3)
	for i := int64(1); i <= 5; i++ {
		s.Apply(deposit(i, uint64(i), alice, 1))
	}

	page := s.Records(state.HistoryDeposit, 0, 10)
	require.Len(t, page, 3)
	assert.Equal(t, uint64(3), page[0].Record.Header().RecordID)
	assert.Len(t, s.UserRecords(alice, state.HistoryDeposit, 0, 10), 3)
}

func TestAddRecordsIsIdempotent(t *testing.T) {
	s := projection.NewStore(2)
	entries := []projection.Entry{
		{Sequence: 1, Record: deposit(1, 1, alice, 1).Records[0]},
		{Sequence: 2, Record: deposit(2, 2, alice, 1).Records[0]},
	}
	s.AddRecords(entries)
	s.AddRecords(entries)

	assert.Len(t, s.Records(state.HistoryDeposit, 0, 10), 2)
}
