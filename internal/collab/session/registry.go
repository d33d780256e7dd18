package session

import (
	"sort"

	"github.com/samber/lo"
)

// Registry maps a room to its occupant identities. It is a plain data
// structure: the Coordinator is the only writer and serializes access, so no
// internal locking is needed.
type Registry struct {
	occupants       map[string]map[string]struct{}
	expected        map[string]int
	defaultExpected int
}

// NewRegistry creates a registry where rooms expect defaultExpected occupants
// unless overridden per room.
func NewRegistry(defaultExpected int) *Registry {
	return &Registry{
		occupants:       make(map[string]map[string]struct{}),
		expected:        make(map[string]int),
		defaultExpected: defaultExpected,
	}
}

// Join adds identity to the room's occupant set, creating the room on first
// join. Idempotent: rejoining with the same identity reports added=false and
// leaves the count unchanged.
func (r *Registry) Join(roomID, identity string) (count int, added bool) {
	set, ok := r.occupants[roomID]
	if !ok {
		set = make(map[string]struct{})
		r.occupants[roomID] = set
		r.expected[roomID] = r.defaultExpected
	}
	if _, ok := set[identity]; !ok {
		set[identity] = struct{}{}
		added = true
	}
	return len(set), added
}

// Leave removes identity from the room. Unknown rooms and identities are
// no-ops that report the room as empty. When the last occupant leaves, the
// room entry itself is discarded.
func (r *Registry) Leave(roomID, identity string) (removed, nowEmpty bool) {
	set, ok := r.occupants[roomID]
	if !ok {
		return false, true
	}
	if _, ok := set[identity]; ok {
		delete(set, identity)
		removed = true
	}
	if len(set) == 0 {
		delete(r.occupants, roomID)
		delete(r.expected, roomID)
		nowEmpty = true
	}
	return removed, nowEmpty
}

// OccupantCount returns the number of identities currently joined to roomID.
func (r *Registry) OccupantCount(roomID string) int {
	return len(r.occupants[roomID])
}

// ExpectedOccupancy returns the occupancy at which a session in roomID is
// considered fully assembled.
func (r *Registry) ExpectedOccupancy(roomID string) int {
	if n, ok := r.expected[roomID]; ok {
		return n
	}
	return r.defaultExpected
}

// SetExpectedOccupancy overrides the expected occupancy for a single room.
func (r *Registry) SetExpectedOccupancy(roomID string, n int) {
	if _, ok := r.occupants[roomID]; ok && n > 0 {
		r.expected[roomID] = n
	}
}

// Occupants returns the identities joined to roomID in stable order.
func (r *Registry) Occupants(roomID string) []string {
	ids := lo.Keys(r.occupants[roomID])
	sort.Strings(ids)
	return ids
}

// Rooms returns the identifiers of all rooms with at least one occupant.
func (r *Registry) Rooms() []string {
	ids := lo.Keys(r.occupants)
	sort.Strings(ids)
	return ids
}
