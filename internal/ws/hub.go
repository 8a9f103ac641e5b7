package ws

import (
	"errors"
	"fmt"
	"sync"
)

// Room name helpers. Rooms are created lazily on first join and vanish
// when their last member leaves.
func UserRoom(userID uint) string  { return fmt.Sprintf("user:%d", userID) }
func ConvRoom(convID uint) string  { return fmt.Sprintf("conv:%d", convID) }
func CallRoom(callID string) string { return "call:" + callID }

var ErrClientClosed = errors.New("client is closed")

// Hub is one namespace's room table: named broadcast groups of clients
// with a reverse index so disconnect cleanup is O(rooms the client is in).
// The Hub executes membership changes; authorization happens in the
// gateway before Join is ever called.
type Hub struct {
	mu       sync.RWMutex
	rooms    map[string]map[*Client]struct{}
	byClient map[*Client]map[string]struct{}
}

func NewHub() *Hub {
	return &Hub{
		rooms:    make(map[string]map[*Client]struct{}),
		byClient: make(map[*Client]map[string]struct{}),
	}
}

func (h *Hub) Join(c *Client, room string) error {
	if c.Closed() {
		return ErrClientClosed
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[*Client]struct{})
	}
	h.rooms[room][c] = struct{}{}
	if h.byClient[c] == nil {
		h.byClient[c] = make(map[string]struct{})
	}
	h.byClient[c][room] = struct{}{}
	return nil
}

// Leave reports whether the client was a member.
func (h *Hub) Leave(c *Client, room string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.rooms[room]
	if !ok {
		return false
	}
	if _, ok := members[c]; !ok {
		return false
	}
	delete(members, c)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
	if rooms := h.byClient[c]; rooms != nil {
		delete(rooms, room)
		if len(rooms) == 0 {
			delete(h.byClient, c)
		}
	}
	return true
}

// Remove takes the client out of every room and returns the rooms it left.
func (h *Hub) Remove(c *Client) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	rooms, ok := h.byClient[c]
	if !ok {
		return nil
	}
	left := make([]string, 0, len(rooms))
	for room := range rooms {
		left = append(left, room)
		if members, ok := h.rooms[room]; ok {
			delete(members, c)
			if len(members) == 0 {
				delete(h.rooms, room)
			}
		}
	}
	delete(h.byClient, c)
	return left
}

func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// HasOtherMember reports whether the room holds anyone besides skip.
func (h *Hub) HasOtherMember(room string, skip *Client) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.rooms[room] {
		if c != skip {
			return true
		}
	}
	return false
}

func (h *Hub) InRoom(c *Client, room string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.rooms[room][c]
	return ok
}

// Emit fans an event out to every member of each room. Emitting into an
// empty or unknown room is a no-op, not an error.
func (h *Hub) Emit(event string, payload interface{}, rooms ...string) {
	h.EmitExcept(nil, event, payload, rooms...)
}

// EmitExcept is Emit minus one client (typically the sender). The member
// snapshot is taken under read-lock; sends happen outside it.
func (h *Hub) EmitExcept(skip *Client, event string, payload interface{}, rooms ...string) {
	data := Marshal(event, payload)
	h.mu.RLock()
	var targets []*Client
	seen := make(map[*Client]struct{})
	for _, room := range rooms {
		for c := range h.rooms[room] {
			if c == skip {
				continue
			}
			if _, dup := seen[c]; dup {
				continue
			}
			seen[c] = struct{}{}
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range targets {
		c.trySend(data)
	}
}

// EmitToUsers is a convenience for fanning out to many personal rooms.
func (h *Hub) EmitToUsers(event string, payload interface{}, userIDs ...uint) {
	rooms := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		rooms = append(rooms, UserRoom(id))
	}
	h.Emit(event, payload, rooms...)
}

// UserConnected reports whether any connection for the user is in this
// namespace right now.
func (h *Hub) UserConnected(userID uint) bool {
	return h.RoomSize(UserRoom(userID)) > 0
}
