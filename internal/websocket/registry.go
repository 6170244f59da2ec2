package websocket

import (
	"sort"
	"sync"

	"github.com/samber/lo"

	"pairchat/pkg/interfaces"
)

var _ interfaces.RoomBroadcaster = (*Registry)(nil)

// Registry tracks live connections and their room subscriptions. Membership
// is kept in both directions so a disconnect releases every room in one
// step.
type Registry struct {
	mu          sync.RWMutex
	connections map[string]interfaces.Connection            // connID -> conn
	rooms       map[string]map[string]interfaces.Connection // room -> connID -> conn
	memberships map[string]map[string]struct{}              // connID -> rooms
}

func NewRegistry() *Registry {
	return &Registry{
		connections: make(map[string]interfaces.Connection),
		rooms:       make(map[string]map[string]interfaces.Connection),
		memberships: make(map[string]map[string]struct{}),
	}
}

// Register admits an authenticated connection. An identity may hold several
// connections at once.
func (r *Registry) Register(conn interfaces.Connection) error {
	if conn == nil {
		return ErrNilConnection
	}
	if !conn.IsAuthenticated() {
		return ErrConnectionNotAuthenticated
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.connections[conn.ID()] = conn
	return nil
}

// Unregister drops the connection and all of its subscriptions. It is
// idempotent.
func (r *Registry) Unregister(conn interfaces.Connection) {
	if conn == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.detachLocked(conn.ID())
	delete(r.connections, conn.ID())
}

// Join subscribes conn to roomAddress. Joining twice is a no-op.
func (r *Registry) Join(roomAddress string, conn interfaces.Connection) {
	if conn == nil || roomAddress == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.connections[conn.ID()]; !ok {
		return
	}
	members := r.rooms[roomAddress]
	if members == nil {
		members = make(map[string]interfaces.Connection)
		r.rooms[roomAddress] = members
	}
	members[conn.ID()] = conn

	joined := r.memberships[conn.ID()]
	if joined == nil {
		joined = make(map[string]struct{})
		r.memberships[conn.ID()] = joined
	}
	joined[roomAddress] = struct{}{}
}

// Leave unsubscribes conn from roomAddress.
func (r *Registry) Leave(roomAddress string, conn interfaces.Connection) {
	if conn == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(roomAddress, conn.ID())
}

// LeaveAll unsubscribes conn from every room but keeps it registered.
func (r *Registry) LeaveAll(conn interfaces.Connection) {
	if conn == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.detachLocked(conn.ID())
}

func (r *Registry) detachLocked(connID string) {
	for roomAddress := range r.memberships[connID] {
		r.leaveLocked(roomAddress, connID)
	}
	delete(r.memberships, connID)
}

func (r *Registry) leaveLocked(roomAddress, connID string) {
	if members, ok := r.rooms[roomAddress]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(r.rooms, roomAddress)
		}
	}
	if joined, ok := r.memberships[connID]; ok {
		delete(joined, roomAddress)
		if len(joined) == 0 {
			delete(r.memberships, connID)
		}
	}
}

// Members returns a snapshot of the room's subscribers.
func (r *Registry) Members(roomAddress string) []interfaces.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Values(r.rooms[roomAddress])
}

// Rooms returns the rooms conn is subscribed to, sorted.
func (r *Registry) Rooms(conn interfaces.Connection) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rooms := lo.Keys(r.memberships[conn.ID()])
	sort.Strings(rooms)
	return rooms
}

// IsMember reports whether conn is subscribed to roomAddress.
func (r *Registry) IsMember(roomAddress string, conn interfaces.Connection) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[roomAddress][conn.ID()]
	return ok
}

// Broadcast writes frame to every member of the room except exclude.
// Writes are best effort: a failed write is skipped, not retried.
func (r *Registry) Broadcast(roomAddress string, frame interface{}, exclude interfaces.Connection) int {
	recipients := lo.Filter(r.Members(roomAddress), func(c interfaces.Connection, _ int) bool {
		return exclude == nil || c.ID() != exclude.ID()
	})

	delivered := 0
	for _, conn := range recipients {
		if err := conn.WriteJSON(frame); err == nil {
			delivered++
		}
	}
	return delivered
}

// GetStats returns registry counters for the health endpoint.
func (r *Registry) GetStats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	identities := lo.UniqBy(lo.Values(r.connections), func(c interfaces.Connection) string { return c.Identity() })
	return map[string]int{
		"total_connections": len(r.connections),
		"identities":        len(identities),
		"active_rooms":      len(r.rooms),
	}
}
