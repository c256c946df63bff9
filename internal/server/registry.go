package server

import (
	"errors"
	"sync"
)

var (
	errNotRegistered  = errors.New("connection is not registered")
	errJoinInProgress = errors.New("join already in progress")
	errNotJoining     = errors.New("connection is not joining room")
)

type joinState int

const (
	stateJoining joinState = iota + 1
	stateJoined
)

type binding struct {
	userId int64
	rooms  map[string]joinState
}

// ConnectionRegistry tracks which connections belong to which user and
// which rooms each connection has joined.
type ConnectionRegistry struct {
	mu      sync.RWMutex
	clients map[*Client]*binding
	users   map[int64]map[*Client]struct{}
	rooms   map[string]map[*Client]struct{}
}

func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{
		clients: make(map[*Client]*binding),
		users:   make(map[int64]map[*Client]struct{}),
		rooms:   make(map[string]map[*Client]struct{}),
	}
}

// Register records c as a connection of userId. Registering twice is a no-op.
func (r *ConnectionRegistry) Register(c *Client, userId int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.register(c, userId)
}

func (r *ConnectionRegistry) register(c *Client, userId int64) *binding {
	if b, ok := r.clients[c]; ok {
		return b
	}

	b := &binding{userId: userId, rooms: make(map[string]joinState)}
	r.clients[c] = b

	if r.users[userId] == nil {
		r.users[userId] = make(map[*Client]struct{})
	}
	r.users[userId][c] = struct{}{}

	return b
}

// BeginJoin moves c into the joining state for room. It reports true if c
// has already joined the room.
func (r *ConnectionRegistry) BeginJoin(c *Client, room string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.clients[c]
	if !ok {
		return false, errNotRegistered
	}

	switch b.rooms[room] {
	case stateJoined:
		return true, nil
	case stateJoining:
		return false, errJoinInProgress
	}

	b.rooms[room] = stateJoining
	return false, nil
}

// CompleteJoin marks a pending join as joined. It fails if the connection
// went away while the join was in flight.
func (r *ConnectionRegistry) CompleteJoin(c *Client, room string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.clients[c]
	if !ok {
		return errNotRegistered
	}
	if b.rooms[room] != stateJoining {
		return errNotJoining
	}

	b.rooms[room] = stateJoined
	r.addToRoom(c, room)
	return nil
}

// AbortJoin reverts a pending join.
func (r *ConnectionRegistry) AbortJoin(c *Client, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.clients[c]; ok && b.rooms[room] == stateJoining {
		delete(b.rooms, room)
	}
}

// Bind registers c for userId and marks it joined to room in one step.
func (r *ConnectionRegistry) Bind(c *Client, userId int64, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b := r.register(c, userId)
	b.rooms[room] = stateJoined
	r.addToRoom(c, room)
}

func (r *ConnectionRegistry) addToRoom(c *Client, room string) {
	if r.rooms[room] == nil {
		r.rooms[room] = make(map[*Client]struct{})
	}
	r.rooms[room][c] = struct{}{}
}

func (r *ConnectionRegistry) removeFromRoom(c *Client, room string) {
	if clients, ok := r.rooms[room]; ok {
		delete(clients, c)
		if len(clients) == 0 {
			delete(r.rooms, room)
		}
	}
}

// Unbind detaches c from room and reports whether it was joined.
func (r *ConnectionRegistry) Unbind(c *Client, room string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.clients[c]
	if !ok || b.rooms[room] != stateJoined {
		return false
	}

	delete(b.rooms, room)
	r.removeFromRoom(c, room)
	return true
}

// UnbindAll removes c entirely. It returns the rooms c had joined and
// whether its user has no connections left. ok is false if c was not
// registered, which makes repeated calls harmless.
func (r *ConnectionRegistry) UnbindAll(c *Client) (rooms []string, userOffline bool, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.clients[c]
	if !ok {
		return nil, false, false
	}

	for room, state := range b.rooms {
		if state == stateJoined {
			rooms = append(rooms, room)
			r.removeFromRoom(c, room)
		}
	}
	delete(r.clients, c)

	if userClients, found := r.users[b.userId]; found {
		delete(userClients, c)
		if len(userClients) == 0 {
			delete(r.users, b.userId)
			userOffline = true
		}
	}

	return rooms, userOffline, true
}

// DropRoom detaches every connection from room and returns them.
func (r *ConnectionRegistry) DropRoom(room string) []*Client {
	r.mu.Lock()
	defer r.mu.Unlock()

	clients := make([]*Client, 0, len(r.rooms[room]))
	for c := range r.rooms[room] {
		clients = append(clients, c)
		if b, ok := r.clients[c]; ok {
			delete(b.rooms, room)
		}
	}
	delete(r.rooms, room)

	return clients
}

// RoomClients returns a snapshot of the connections joined to room.
func (r *ConnectionRegistry) RoomClients(room string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	clients := make([]*Client, 0, len(r.rooms[room]))
	for c := range r.rooms[room] {
		clients = append(clients, c)
	}
	return clients
}

// UserClients returns a snapshot of the connections of userId.
func (r *ConnectionRegistry) UserClients(userId int64) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	clients := make([]*Client, 0, len(r.users[userId]))
	for c := range r.users[userId] {
		clients = append(clients, c)
	}
	return clients
}

// Clients returns a snapshot of every registered connection.
func (r *ConnectionRegistry) Clients() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	clients := make([]*Client, 0, len(r.clients))
	for c := range r.clients {
		clients = append(clients, c)
	}
	return clients
}

// Rooms returns the rooms c has joined.
func (r *ConnectionRegistry) Rooms(c *Client) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.clients[c]
	if !ok {
		return nil
	}

	rooms := make([]string, 0, len(b.rooms))
	for room, state := range b.rooms {
		if state == stateJoined {
			rooms = append(rooms, room)
		}
	}
	return rooms
}

func (r *ConnectionRegistry) IsJoined(c *Client, room string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.clients[c]
	return ok && b.rooms[room] == stateJoined
}

// UserInRoom reports whether any connection of userId has joined room.
func (r *ConnectionRegistry) UserInRoom(userId int64, room string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for c := range r.users[userId] {
		if r.clients[c].rooms[room] == stateJoined {
			return true
		}
	}
	return false
}

func (r *ConnectionRegistry) NumUsers() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}

func (r *ConnectionRegistry) NumClients() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// NumRooms returns the number of rooms with at least one joined connection.
func (r *ConnectionRegistry) NumRooms() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}
