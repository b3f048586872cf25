package relaystate

import "sync"

// Membership maps each room to the set of connections currently in it. The
// dispatcher keeps every connection in at most one room by leaving the old
// room before joining the new one.
type Membership struct {
	mu    sync.RWMutex
	rooms map[string]map[string]struct{}
}

func NewMembership() *Membership {
	return &Membership{rooms: make(map[string]map[string]struct{})}
}

// Join adds connID to the room's member set. Joining twice is a no-op.
func (m *Membership) Join(room, connID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	members, ok := m.rooms[room]
	if !ok {
		members = make(map[string]struct{})
		m.rooms[room] = members
	}
	members[connID] = struct{}{}
}

// Leave removes connID from the room's member set; a no-op when absent.
// Empty member sets are pruned.
func (m *Membership) Leave(room, connID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	members, ok := m.rooms[room]
	if !ok {
		return
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(m.rooms, room)
	}
}

// Members returns a snapshot of the room's member connection IDs.
func (m *Membership) Members(room string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	members := m.rooms[room]
	out := make([]string, 0, len(members))
	for connID := range members {
		out = append(out, connID)
	}
	return out
}

// Occupancy returns the member count per occupied room.
func (m *Membership) Occupancy() map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]int, len(m.rooms))
	for room, members := range m.rooms {
		out[room] = len(members)
	}
	return out
}
