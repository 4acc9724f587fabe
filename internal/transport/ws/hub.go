// Package ws provides the websocket transport: connection acceptance,
// the inbound read loop, and outbound event fan-out.
package ws

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/kestrel-games/arena/internal/game/session"
)

// Envelope is the wire format for every message in both directions.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Conn is the subset of a websocket connection the hub writes to.
// *websocket.Conn satisfies it; tests substitute recorders.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// client pairs a connection with a write mutex. gorilla/websocket permits
// only one concurrent writer per connection.
type client struct {
	conn    Conn
	writeMu sync.Mutex
}

// RoomMembers resolves a room id to the sessions currently assigned to it.
type RoomMembers interface {
	MembersOf(roomID string) []*session.Session
}

// Hub tracks live connections and delivers events to them. It satisfies the
// notifier and broadcaster interfaces of the game packages.
type Hub struct {
	members RoomMembers
	logger  *zap.Logger

	mu      sync.RWMutex
	clients map[string]*client
}

// NewHub creates a Hub resolving room membership through the given source.
//
// Precondition: members and logger must be non-nil.
func NewHub(members RoomMembers, logger *zap.Logger) *Hub {
	return &Hub{
		members: members,
		logger:  logger,
		clients: make(map[string]*client),
	}
}

// Register tracks a newly accepted connection under its connection id.
//
// Postcondition: Send can reach connID until Unregister is called.
func (h *Hub) Register(connID string, conn Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[connID] = &client{conn: conn}
}

// Unregister stops tracking a connection. The connection itself is not
// closed; the read loop owns that.
func (h *Hub) Unregister(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, connID)
}

// Send delivers a single event to one connection. Delivery is
// fire-and-forget: a write failure closes the connection and drops it,
// and the read loop observes the close and runs disconnect handling.
func (h *Hub) Send(connID, event string, payload any) {
	h.mu.RLock()
	c, ok := h.clients[connID]
	h.mu.RUnlock()
	if !ok {
		return
	}

	msg, err := encodeEnvelope(event, payload)
	if err != nil {
		h.logger.Error("encoding outbound event",
			zap.String("event", event),
			zap.Error(err),
		)
		return
	}

	h.write(connID, c, msg)
}

// SendToRoom delivers an event to every connection assigned to a room.
func (h *Hub) SendToRoom(roomID, event string, payload any) {
	members := h.members.MembersOf(roomID)
	if len(members) == 0 {
		return
	}

	msg, err := encodeEnvelope(event, payload)
	if err != nil {
		h.logger.Error("encoding outbound event",
			zap.String("event", event),
			zap.String("room_id", roomID),
			zap.Error(err),
		)
		return
	}

	for _, m := range members {
		h.mu.RLock()
		c, ok := h.clients[m.ConnID]
		h.mu.RUnlock()
		if !ok {
			continue
		}
		h.write(m.ConnID, c, msg)
	}
}

// ConnCount returns the number of tracked connections.
func (h *Hub) ConnCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) write(connID string, c *client, msg []byte) {
	c.writeMu.Lock()
	err := c.conn.WriteMessage(websocket.TextMessage, msg)
	c.writeMu.Unlock()
	if err != nil {
		h.logger.Warn("dropping connection on write failure",
			zap.String("conn_id", connID),
			zap.Error(err),
		)
		_ = c.conn.Close()
		h.Unregister(connID)
	}
}

func encodeEnvelope(event string, payload any) ([]byte, error) {
	env := Envelope{Type: event}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		env.Data = data
	}
	return json.Marshal(env)
}
