// Package projection keeps read-side views of the core's output: history
// logs, positions and balances. Views are eventually consistent and can
// always be rebuilt from a snapshot plus the event log.
package projection

import (
	"sort"
	"sync"

	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"
	"github.com/google/btree"
	"github.com/google/uuid"

	"ClearingHouse/internal/core"
	"ClearingHouse/internal/errs"
	"ClearingHouse/internal/event"
	"ClearingHouse/internal/ledger"
	"ClearingHouse/internal/state"
)

const btreeDegree = 32

// recordItem orders records by (kind, record id).
type recordItem struct {
	kind     state.HistoryKind
	id       uint64
	sequence int64
	record   event.Record
}

func lessRecord(a, b recordItem) bool {
	if a.kind != b.kind {
		return a.kind < b.kind
	}
	return a.id < b.id
}

// userItem indexes records by (user, kind, record id).
type userItem struct {
	user uuid.UUID
	recordItem
}

func lessUser(a, b userItem) bool {
	if c := compareUUID(a.user, b.user); c != 0 {
		return c < 0
	}
	return lessRecord(a.recordItem, b.recordItem)
}

func compareUUID(a, b uuid.UUID) int {
	for i := range a {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// Entry is a history record with the sequence of the command that
// produced it.
type Entry struct {
	Sequence int64
	Record   event.Record
}

// Store is the in-memory projection. It is safe for concurrent use: one
// worker applies outputs while the query side reads.
type Store struct {
	mu sync.RWMutex

	records   *btree.BTreeG[recordItem]
	byUser    *btree.BTreeG[userItem]
	retention int // records kept per history log; 0 keeps everything
	counts    map[state.HistoryKind]int

	positions map[uuid.UUID]map[uint16]state.MarketPosition
	balances  map[ledger.AccountKey]sdkmath.Int
	markets   map[uint16]state.Market
	lastSeq   int64
}

func NewStore(retention int) *Store {
	return &Store{
		records:   btree.NewG(btreeDegree, lessRecord),
		byUser:    btree.NewG(btreeDegree, lessUser),
		retention: retention,
		counts:    make(map[state.HistoryKind]int),
		positions: make(map[uuid.UUID]map[uint16]state.MarketPosition),
		balances:  make(map[ledger.AccountKey]sdkmath.Int),
		markets:   make(map[uint16]state.Market),
	}
}

// Seed replaces the position, balance and market views with a core
// snapshot. History is loaded separately with AddRecords.
func (s *Store) Seed(snap *core.SnapshotState) error {
	markets, err := state.DecodeMarkets(snap.Markets)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.positions = make(map[uuid.UUID]map[uint16]state.MarketPosition)
	for _, p := range snap.Positions {
		s.putPosition(p)
	}
	s.balances = make(map[ledger.AccountKey]sdkmath.Int, len(snap.Balances))
	for _, b := range snap.Balances {
		s.balances[b.Account] = b.Balance
	}
	s.markets = make(map[uint16]state.Market)
	for _, idx := range markets.Initialized() {
		m, _ := markets.Get(idx)
		s.markets[idx] = m
	}
	s.lastSeq = snap.Sequence
	return nil
}

// Apply folds one core output into the views. Outputs at or below the
// last applied sequence are ignored.
func (s *Store) Apply(out core.CoreOutput) bool {
	if out.Envelope == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	seq := out.Envelope.Sequence
	if seq <= s.lastSeq {
		return false
	}
	if out.Batch != nil {
		for _, j := range out.Batch.Journals {
			s.addBalance(j.DebitAccount, j.Amount)
			s.addBalance(j.CreditAccount, j.Amount.Neg())
		}
	}
	for _, p := range out.Positions {
		s.putPosition(p)
	}
	for idx, m := range out.Markets {
		s.markets[idx] = m
	}
	for _, r := range out.Records {
		s.addRecord(seq, r)
	}
	s.lastSeq = seq
	return true
}

// AddRecords loads stored history, e.g. at startup.
func (s *Store) AddRecords(entries []Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		s.addRecord(e.Sequence, e.Record)
	}
}

func (s *Store) addBalance(key ledger.AccountKey, delta sdkmath.Int) {
	bal, ok := s.balances[key]
	if !ok {
		bal = sdkmath.ZeroInt()
	}
	s.balances[key] = bal.Add(delta)
}

func (s *Store) putPosition(p state.MarketPosition) {
	p.Normalize()
	if p.IsFlat() {
		if byMarket, ok := s.positions[p.UserID]; ok {
			delete(byMarket, p.MarketIndex)
			if len(byMarket) == 0 {
				delete(s.positions, p.UserID)
			}
		}
		return
	}
	byMarket, ok := s.positions[p.UserID]
	if !ok {
		byMarket = make(map[uint16]state.MarketPosition)
		s.positions[p.UserID] = byMarket
	}
	byMarket[p.MarketIndex] = p
}

func (s *Store) addRecord(seq int64, r event.Record) {
	item := recordItem{kind: r.HistoryKind(), id: r.Header().RecordID, sequence: seq, record: r}
	if _, replaced := s.records.ReplaceOrInsert(item); !replaced {
		s.counts[item.kind]++
	}
	if user, ok := event.RecordUser(r); ok {
		s.byUser.ReplaceOrInsert(userItem{user: user, recordItem: item})
	}
	if s.retention > 0 && s.counts[item.kind] > s.retention {
		s.evictOldest(item.kind)
	}
}

func (s *Store) evictOldest(kind state.HistoryKind) {
	var oldest recordItem
	found := false
	s.records.AscendGreaterOrEqual(recordItem{kind: kind}, func(it recordItem) bool {
		if it.kind == kind {
			oldest, found = it, true
		}
		return false
	})
	if !found {
		return
	}
	s.records.Delete(oldest)
	s.counts[kind]--
	if user, ok := event.RecordUser(oldest.record); ok {
		s.byUser.Delete(userItem{user: user, recordItem: oldest})
	}
}

// Sequence is the last applied core sequence.
func (s *Store) Sequence() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSeq
}

// Balance returns an account balance, zero if never touched.
func (s *Store) Balance(key ledger.AccountKey) sdkmath.Int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if bal, ok := s.balances[key]; ok {
		return bal
	}
	return sdkmath.ZeroInt()
}

// Balances returns every account balance.
func (s *Store) Balances() map[ledger.AccountKey]sdkmath.Int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[ledger.AccountKey]sdkmath.Int, len(s.balances))
	for k, v := range s.balances {
		out[k] = v
	}
	return out
}

// Positions returns a user's open positions ordered by market.
func (s *Store) Positions(user uuid.UUID) []state.MarketPosition {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byMarket := s.positions[user]
	out := make([]state.MarketPosition, 0, len(byMarket))
	for _, p := range byMarket {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MarketIndex < out[j].MarketIndex })
	return out
}

// Market returns the last projected state of a market.
func (s *Store) Market(idx uint16) (state.Market, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.markets[idx]
	return m, ok
}

// Get satisfies margin.MarketReader over the projected markets.
func (s *Store) Get(idx uint16) (state.Market, error) {
	if m, ok := s.Market(idx); ok {
		return m, nil
	}
	return state.Market{}, errorsmod.Wrapf(errs.ErrMarketNotInitialized, "market %d not projected", idx)
}

// Records pages through one history log in record id order, starting
// after afterID.
func (s *Store) Records(kind state.HistoryKind, afterID uint64, limit int) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, 0, limit)
	s.records.AscendGreaterOrEqual(recordItem{kind: kind, id: afterID + 1}, func(it recordItem) bool {
		if it.kind != kind || len(out) >= limit {
			return false
		}
		out = append(out, Entry{Sequence: it.sequence, Record: it.record})
		return true
	})
	return out
}

// UserRecords is Records restricted to one user.
func (s *Store) UserRecords(user uuid.UUID, kind state.HistoryKind, afterID uint64, limit int) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, 0, limit)
	pivot := userItem{user: user, recordItem: recordItem{kind: kind, id: afterID + 1}}
	s.byUser.AscendGreaterOrEqual(pivot, func(it userItem) bool {
		if it.user != user || it.kind != kind || len(out) >= limit {
			return false
		}
		out = append(out, Entry{Sequence: it.sequence, Record: it.record})
		return true
	})
	return out
}
