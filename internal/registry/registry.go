package registry

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// User is the registry's record of a reserved identity. JoinedRooms may hold
// several rooms; CurrentRoom is always one of them, or empty.
type User struct {
	ConnID       string
	Name         string
	CurrentRoom  string
	JoinedRooms  []string
	JoinedAt     time.Time
	LastActivity time.Time
}

type room struct {
	name     string
	capacity int
	users    map[string]struct{}
}

type user struct {
	connID       string
	name         string
	currentRoom  string
	joinedRooms  map[string]struct{}
	joinedAt     time.Time
	lastActivity time.Time
}

// Registry owns all user, room, and username state. One mutex guards the
// whole registry: a join or leave updates the user's room set and the room's
// user set inside the same critical section, so readers never observe one
// side without the other.
type Registry struct {
	users map[string]*user   // connID -> user
	names map[string]string  // lowercased username -> connID
	rooms map[string]*room   // room name -> room (closed set, seeded at startup)

	now func() time.Time
	mu  sync.RWMutex
}

// New seeds the registry with the configured room allow-list. Room names must
// already be lowercased; capacity applies uniformly.
func New(roomNames []string, capacity int) *Registry {
	r := &Registry{
		users: make(map[string]*user),
		names: make(map[string]string),
		rooms: make(map[string]*room, len(roomNames)),
		now:   time.Now,
	}
	for _, name := range roomNames {
		r.rooms[name] = &room{
			name:     name,
			capacity: capacity,
			users:    make(map[string]struct{}),
		}
	}
	return r
}

// ReserveUsername atomically claims name for connID. Exactly one of several
// concurrent claimants of the same lowercase-normalized name wins. A
// connection reserving a second time releases its previous name and starts
// with a fresh record. The caller validates the name's format first.
func (r *Registry) ReserveUsername(connID, name string) bool {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if holder, taken := r.names[key]; taken && holder != connID {
		return false
	}

	// Release the previous name and memberships, if any.
	if prev, ok := r.users[connID]; ok {
		delete(r.names, strings.ToLower(prev.name))
		r.dropFromRooms(prev)
	}

	now := r.now()
	r.names[key] = connID
	r.users[connID] = &user{
		connID:       connID,
		name:         strings.TrimSpace(name),
		joinedRooms:  make(map[string]struct{}),
		joinedAt:     now,
		lastActivity: now,
	}
	return true
}

// JoinRoom adds connID's user to roomName and makes it their current room.
// Joining a room the user is already in succeeds without duplicating
// membership. Fails on an unregistered connection, an unknown room, or a room
// at capacity.
func (r *Registry) JoinRoom(connID, roomName string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[connID]
	if !ok {
		return false
	}
	rm, ok := r.rooms[roomName]
	if !ok {
		return false
	}

	if _, member := u.joinedRooms[roomName]; member {
		u.currentRoom = roomName
		u.lastActivity = r.now()
		return true
	}

	if len(rm.users) >= rm.capacity {
		return false
	}

	u.joinedRooms[roomName] = struct{}{}
	u.currentRoom = roomName
	u.lastActivity = r.now()
	rm.users[u.name] = struct{}{}
	return true
}

// LeaveRoom removes connID's user from roomName. If it was the current room,
// the current room falls back to the first remaining joined room in iteration
// order, or empty.
func (r *Registry) LeaveRoom(connID, roomName string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[connID]
	if !ok {
		return false
	}
	if _, member := u.joinedRooms[roomName]; !member {
		return false
	}

	delete(u.joinedRooms, roomName)
	if rm, ok := r.rooms[roomName]; ok {
		delete(rm.users, u.name)
	}

	if u.currentRoom == roomName {
		u.currentRoom = ""
		for remaining := range u.joinedRooms {
			u.currentRoom = remaining
			break
		}
	}
	u.lastActivity = r.now()
	return true
}

// SwitchRoom sets connID's current room to roomName. Switching requires a
// prior join.
func (r *Registry) SwitchRoom(connID, roomName string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[connID]
	if !ok {
		return false
	}
	if _, member := u.joinedRooms[roomName]; !member {
		return false
	}

	u.currentRoom = roomName
	u.lastActivity = r.now()
	return true
}

// RemoveUser tears down everything held by connID: the username reservation,
// membership in every joined room, and the user record itself. It reports
// which name and rooms were released so the caller can notify those rooms.
// Calling it for an unknown connection is a no-op.
func (r *Registry) RemoveUser(connID string) (name string, rooms []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[connID]
	if !ok {
		return "", nil
	}

	rooms = r.dropFromRooms(u)
	delete(r.names, strings.ToLower(u.name))
	delete(r.users, connID)
	return u.name, rooms
}

// dropFromRooms removes u from every room it joined and returns the affected
// room names. Caller holds the write lock.
func (r *Registry) dropFromRooms(u *user) []string {
	var affected []string
	for roomName := range u.joinedRooms {
		if rm, ok := r.rooms[roomName]; ok {
			delete(rm.users, u.name)
			affected = append(affected, roomName)
		}
	}
	sort.Strings(affected)
	return affected
}

// Touch updates the user's last-activity timestamp.
func (r *Registry) Touch(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if u, ok := r.users[connID]; ok {
		u.lastActivity = r.now()
	}
}

// User returns a copy of connID's record.
func (r *Registry) User(connID string) (User, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.users[connID]
	if !ok {
		return User{}, false
	}
	return User{
		ConnID:       u.connID,
		Name:         u.name,
		CurrentRoom:  u.currentRoom,
		JoinedRooms:  sortedKeys(u.joinedRooms),
		JoinedAt:     u.joinedAt,
		LastActivity: u.lastActivity,
	}, true
}

// RoomUsers returns the usernames in roomName, sorted.
func (r *Registry) RoomUsers(roomName string) ([]string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rm, ok := r.rooms[roomName]
	if !ok {
		return nil, false
	}
	return sortedKeys(rm.users), true
}

// RoomNames returns the configured allow-list, sorted.
func (r *Registry) RoomNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.rooms))
	for name := range r.rooms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RoomCount is a per-room occupancy snapshot.
type RoomCount struct {
	Name      string
	Capacity  int
	UserCount int
}

// RoomCounts returns occupancy for every room, sorted by name. Counts are
// taken under one read lock, so no room reflects a half-applied join.
func (r *Registry) RoomCounts() []RoomCount {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make([]RoomCount, 0, len(r.rooms))
	for _, rm := range r.rooms {
		counts = append(counts, RoomCount{
			Name:      rm.name,
			Capacity:  rm.capacity,
			UserCount: len(rm.users),
		})
	}
	sort.Slice(counts, func(i, j int) bool { return counts[i].Name < counts[j].Name })
	return counts
}

// JoinedRooms returns the rooms connID's user is a member of, sorted.
func (r *Registry) JoinedRooms(connID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.users[connID]
	if !ok {
		return nil
	}
	return sortedKeys(u.joinedRooms)
}

// UsernameAvailable reports whether name is unreserved. Comparison is
// case-insensitive.
func (r *Registry) UsernameAvailable(name string) bool {
	key := strings.ToLower(strings.TrimSpace(name))

	r.mu.RLock()
	defer r.mu.RUnlock()

	_, taken := r.names[key]
	return !taken
}

// RoomConnIDs returns the connection IDs of every member of roomName. This is
// the fanout target set for a broadcast to that room.
func (r *Registry) RoomConnIDs(roomName string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rm, ok := r.rooms[roomName]
	if !ok {
		return nil
	}
	connIDs := make([]string, 0, len(rm.users))
	for name := range rm.users {
		if connID, ok := r.names[strings.ToLower(name)]; ok {
			connIDs = append(connIDs, connID)
		}
	}
	sort.Strings(connIDs)
	return connIDs
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
