package ws

import (
	"log/slog"
	"sync"
)

// Scope records why a connection is subscribed to a room. The code editor and
// the chat share room keys, and a connection stays subscribed while it holds
// either scope.
type Scope uint8

const (
	ScopeCode Scope = 1 << iota
	ScopeChat
)

type Conn interface {
	ID() string
	Send(data []byte) error
	Close() error
}

type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[Conn]Scope // roomID -> conn -> held scopes
}

func NewHub() *Hub {
	return &Hub{rooms: make(map[string]map[Conn]Scope)}
}

func (h *Hub) Subscribe(roomID string, c Conn, s Scope) {
	h.mu.Lock()
	defer h.mu.Unlock()

	rs, ok := h.rooms[roomID]
	if !ok {
		rs = make(map[Conn]Scope)
		h.rooms[roomID] = rs
	}
	rs[c] |= s
}

// Unsubscribe drops scope s; the connection stops receiving the room's
// broadcasts only once it holds no scope there.
func (h *Hub) Unsubscribe(roomID string, c Conn, s Scope) {
	h.mu.Lock()
	defer h.mu.Unlock()

	rs, ok := h.rooms[roomID]
	if !ok {
		return
	}
	left := rs[c] &^ s
	if left == 0 {
		delete(rs, c)
	} else {
		rs[c] = left
	}
	if len(rs) == 0 {
		delete(h.rooms, roomID)
	}
}

// Remove forgets c in every room.
func (h *Hub) Remove(c Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, rs := range h.rooms {
		delete(rs, c)
		if len(rs) == 0 {
			delete(h.rooms, id)
		}
	}
}

// Broadcast delivers msg to every subscriber of roomID except the given conn
// (nil excludes nobody).
func (h *Hub) Broadcast(roomID string, msg Message, except Conn) {
	data, err := msg.Encode()
	if err != nil {
		slog.Error("hub.encode failed", "type", msg.Type, "err", err)
		return
	}

	h.mu.RLock()
	targets := make([]Conn, 0, len(h.rooms[roomID]))
	for c := range h.rooms[roomID] {
		if c != except {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		_ = c.Send(data) // best-effort
	}
}

func (h *Hub) Unicast(c Conn, msg Message) {
	data, err := msg.Encode()
	if err != nil {
		slog.Error("hub.encode failed", "type", msg.Type, "err", err)
		return
	}
	_ = c.Send(data)
}

func (h *Hub) Subscribers(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}

func (h *Hub) Scopes(roomID string, c Conn) Scope {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.rooms[roomID][c]
}
