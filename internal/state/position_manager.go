package state

import (
	"bytes"
	"sort"

	"github.com/google/uuid"
)

// PositionKey identifies one user's position in one market.
type PositionKey struct {
	UserID      uuid.UUID
	MarketIndex uint16
}

// PositionManager owns every open position, indexed by user then market.
// Flat positions are not stored.
// Not thread-safe. Only the core goroutine touches it.
type PositionManager struct {
	positions map[uuid.UUID]map[uint16]MarketPosition
}

func NewPositionManager() *PositionManager {
	return &PositionManager{
		positions: make(map[uuid.UUID]map[uint16]MarketPosition),
	}
}

// GetPosition returns the stored position, or a flat one.
func (pm *PositionManager) GetPosition(userID uuid.UUID, marketIndex uint16) MarketPosition {
	if p, ok := pm.positions[userID][marketIndex]; ok {
		return p
	}
	return NewMarketPosition(userID, marketIndex)
}

// SetPosition stores p, or removes it once it is flat.
func (pm *PositionManager) SetPosition(p MarketPosition) {
	p.Normalize()
	byMarket := pm.positions[p.UserID]
	if p.IsFlat() {
		if byMarket != nil {
			delete(byMarket, p.MarketIndex)
			if len(byMarket) == 0 {
				delete(pm.positions, p.UserID)
			}
		}
		return
	}
	if byMarket == nil {
		byMarket = make(map[uint16]MarketPosition)
		pm.positions[p.UserID] = byMarket
	}
	byMarket[p.MarketIndex] = p
}

// GetUserPositions returns a user's open positions ordered by market.
func (pm *PositionManager) GetUserPositions(userID uuid.UUID) []MarketPosition {
	byMarket := pm.positions[userID]
	out := make([]MarketPosition, 0, len(byMarket))
	for _, p := range byMarket {
		out = append(out, p)
	}
	sortPositions(out)
	return out
}

// GetMarketPositions returns a market's open positions ordered by user.
func (pm *PositionManager) GetMarketPositions(marketIndex uint16) []MarketPosition {
	out := make([]MarketPosition, 0)
	for _, byMarket := range pm.positions {
		if p, ok := byMarket[marketIndex]; ok {
			out = append(out, p)
		}
	}
	sortPositions(out)
	return out
}

// GetAllPositions returns every open position in a deterministic order.
func (pm *PositionManager) GetAllPositions() []MarketPosition {
	out := make([]MarketPosition, 0, len(pm.positions))
	for _, byMarket := range pm.positions {
		for _, p := range byMarket {
			out = append(out, p)
		}
	}
	sortPositions(out)
	return out
}

// Len is the number of open positions.
func (pm *PositionManager) Len() int {
	n := 0
	for _, byMarket := range pm.positions {
		n += len(byMarket)
	}
	return n
}

func sortPositions(ps []MarketPosition) {
	sort.Slice(ps, func(i, j int) bool {
		if c := bytes.Compare(ps[i].UserID[:], ps[j].UserID[:]); c != 0 {
			return c < 0
		}
		return ps[i].MarketIndex < ps[j].MarketIndex
	})
}

// PositionOverlay stages position changes of one command on top of a
// PositionManager. Reads see staged values; nothing reaches the manager
// until Commit.
type PositionOverlay struct {
	base   *PositionManager
	staged map[PositionKey]MarketPosition
}

func NewPositionOverlay(base *PositionManager) *PositionOverlay {
	return &PositionOverlay{base: base, staged: make(map[PositionKey]MarketPosition)}
}

func (o *PositionOverlay) GetPosition(userID uuid.UUID, marketIndex uint16) MarketPosition {
	if p, ok := o.staged[PositionKey{UserID: userID, MarketIndex: marketIndex}]; ok {
		return p
	}
	return o.base.GetPosition(userID, marketIndex)
}

func (o *PositionOverlay) SetPosition(p MarketPosition) {
	p.Normalize()
	o.staged[PositionKey{UserID: p.UserID, MarketIndex: p.MarketIndex}] = p
}

// GetUserPositions merges staged positions over the user's stored ones.
func (o *PositionOverlay) GetUserPositions(userID uuid.UUID) []MarketPosition {
	merged := make(map[uint16]MarketPosition)
	for _, p := range o.base.GetUserPositions(userID) {
		merged[p.MarketIndex] = p
	}
	for k, p := range o.staged {
		if k.UserID == userID {
			merged[k.MarketIndex] = p
		}
	}
	return collectOpen(merged)
}

// GetMarketPositions merges staged positions over the market's stored ones.
func (o *PositionOverlay) GetMarketPositions(marketIndex uint16) []MarketPosition {
	merged := make(map[PositionKey]MarketPosition)
	for _, p := range o.base.GetMarketPositions(marketIndex) {
		merged[PositionKey{UserID: p.UserID, MarketIndex: marketIndex}] = p
	}
	for k, p := range o.staged {
		if k.MarketIndex == marketIndex {
			merged[k] = p
		}
	}
	return collectOpen(merged)
}

// Touched returns the staged positions, flat ones included, in order.
func (o *PositionOverlay) Touched() []MarketPosition {
	out := make([]MarketPosition, 0, len(o.staged))
	for _, p := range o.staged {
		out = append(out, p)
	}
	sortPositions(out)
	return out
}

// Commit writes every staged position to the manager.
func (o *PositionOverlay) Commit() {
	for _, p := range o.Touched() {
		o.base.SetPosition(p)
	}
	o.staged = make(map[PositionKey]MarketPosition)
}

func collectOpen[K comparable](m map[K]MarketPosition) []MarketPosition {
	out := make([]MarketPosition, 0, len(m))
	for _, p := range m {
		if !p.IsFlat() {
			out = append(out, p)
		}
	}
	sortPositions(out)
	return out
}
