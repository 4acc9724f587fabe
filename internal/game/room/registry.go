package room

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kestrel-games/arena/internal/game/session"
)

// Notifier delivers named events to connections. The websocket hub
// implements it; tests substitute a recorder.
type Notifier interface {
	// Send delivers an event to a single connection. Delivery is
	// fire-and-forget; failures are the transport's problem.
	Send(connID, event string, payload any)
	// SendToRoom delivers an event to every connection assigned to a room.
	SendToRoom(roomID, event string, payload any)
}

// Event payloads broadcast by the registry.
type (
	// CreatedPayload announces a new room to its initial members.
	CreatedPayload struct {
		RoomID   string   `json:"roomId"`
		GameMode string   `json:"gameMode"`
		Players  []string `json:"players"`
	}
	// MemberPayload announces a join or leave.
	MemberPayload struct {
		RoomID   string `json:"roomId"`
		PlayerID string `json:"playerId"`
	}
	// StatePayload announces a pause, resume, or end.
	StatePayload struct {
		RoomID string `json:"roomId"`
		State  string `json:"state"`
	}
)

// Wire event names owned by the registry.
const (
	EventRoomCreated  = "room_created"
	EventRoomPaused   = "room_paused"
	EventRoomResumed  = "room_resumed"
	EventRoomEnded    = "room_ended"
	EventPlayerJoined = "player_joined_room"
	EventPlayerLeft   = "player_left_room"
)

// Registry owns all live rooms.
// All methods are safe for concurrent use.
type Registry struct {
	sessions *session.Registry
	notifier Notifier
	logger   *zap.Logger

	mu    sync.RWMutex
	rooms map[string]*Room
}

// NewRegistry creates an empty room Registry.
//
// Precondition: sessions, notifier, and logger must be non-nil.
func NewRegistry(sessions *session.Registry, notifier Notifier, logger *zap.Logger) *Registry {
	return &Registry{
		sessions: sessions,
		notifier: notifier,
		logger:   logger,
		rooms:    make(map[string]*Room),
	}
}

// CreateRoom creates an Active room with the given initial members, assigns
// each member's session, and broadcasts room_created.
//
// Precondition: roomID must be unique; len(members) must be <= maxPlayers.
// Postcondition: Returns a snapshot of the created room.
func (g *Registry) CreateRoom(roomID, gameMode string, maxPlayers int, members []Member) *Room {
	room := &Room{
		ID:         roomID,
		GameMode:   gameMode,
		MaxPlayers: maxPlayers,
		Members:    append([]Member(nil), members...),
		CreatedAt:  time.Now(),
		State:      StateActive,
	}

	g.mu.Lock()
	g.rooms[roomID] = room
	snap := room.snapshot()
	g.mu.Unlock()

	for _, m := range members {
		g.sessions.AssignRoom(m.ConnID, roomID)
	}

	g.logger.Info("room created",
		zap.String("room_id", roomID),
		zap.String("game_mode", gameMode),
		zap.Int("members", len(members)),
	)

	payload := CreatedPayload{RoomID: roomID, GameMode: gameMode, Players: snap.PlayerIDs()}
	for _, m := range members {
		g.notifier.Send(m.ConnID, EventRoomCreated, payload)
	}
	return snap
}

// Get returns a snapshot of the room.
//
// Postcondition: Returns (room, true) if found, or (nil, false) otherwise.
func (g *Registry) Get(roomID string) (*Room, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	room, ok := g.rooms[roomID]
	if !ok {
		return nil, false
	}
	return room.snapshot(), true
}

// AddPlayer appends a member to an Active room with spare capacity.
//
// Postcondition: Returns false with no mutation if the room is absent, not
// Active, full, or the player is already a member.
func (g *Registry) AddPlayer(roomID, playerID, connID string) bool {
	g.mu.Lock()
	room, ok := g.rooms[roomID]
	if !ok || room.State != StateActive || len(room.Members) >= room.MaxPlayers || room.HasPlayer(playerID) {
		g.mu.Unlock()
		return false
	}
	room.Members = append(room.Members, Member{PlayerID: playerID, ConnID: connID})
	g.mu.Unlock()

	g.sessions.AssignRoom(connID, roomID)
	g.notifier.SendToRoom(roomID, EventPlayerJoined, MemberPayload{RoomID: roomID, PlayerID: playerID})
	return true
}

// RemovePlayer removes a member and unassigns their session. Removing the
// last member destroys the room silently; that path is cleanup, not an end.
//
// Postcondition: Returns false if the room or member is absent.
func (g *Registry) RemovePlayer(roomID, playerID string) bool {
	g.mu.Lock()
	room, ok := g.rooms[roomID]
	if !ok {
		g.mu.Unlock()
		return false
	}
	idx := -1
	for i, m := range room.Members {
		if m.PlayerID == playerID {
			idx = i
			break
		}
	}
	if idx < 0 {
		g.mu.Unlock()
		return false
	}
	member := room.Members[idx]
	room.Members = append(room.Members[:idx], room.Members[idx+1:]...)
	empty := len(room.Members) == 0
	if empty {
		delete(g.rooms, roomID)
	}
	g.mu.Unlock()

	g.sessions.UnassignRoom(member.ConnID)

	if empty {
		g.logger.Info("room destroyed, last member left",
			zap.String("room_id", roomID),
		)
		return true
	}

	g.notifier.SendToRoom(roomID, EventPlayerLeft, MemberPayload{RoomID: roomID, PlayerID: playerID})
	return true
}

// PauseRoom transitions an Active room to Paused.
//
// Postcondition: Returns false if the room is absent or not Active.
func (g *Registry) PauseRoom(roomID string) bool {
	return g.transition(roomID, StateActive, StatePaused, EventRoomPaused)
}

// ResumeRoom transitions a Paused room back to Active.
//
// Postcondition: Returns false if the room is absent or not Paused.
func (g *Registry) ResumeRoom(roomID string) bool {
	return g.transition(roomID, StatePaused, StateActive, EventRoomResumed)
}

func (g *Registry) transition(roomID string, from, to State, event string) bool {
	g.mu.Lock()
	room, ok := g.rooms[roomID]
	if !ok || room.State != from {
		g.mu.Unlock()
		return false
	}
	room.State = to
	g.mu.Unlock()

	g.notifier.SendToRoom(roomID, event, StatePayload{RoomID: roomID, State: string(to)})
	return true
}

// EndRoom broadcasts room_ended, unassigns every member's session, and
// removes the room. Valid from any non-terminal state.
//
// Postcondition: Returns false if the room is absent.
func (g *Registry) EndRoom(roomID string) bool {
	g.mu.Lock()
	room, ok := g.rooms[roomID]
	if !ok {
		g.mu.Unlock()
		return false
	}
	room.State = StateEnded
	members := append([]Member(nil), room.Members...)
	delete(g.rooms, roomID)
	g.mu.Unlock()

	// Broadcast before unassigning so SendToRoom still resolves members.
	g.notifier.SendToRoom(roomID, EventRoomEnded, StatePayload{RoomID: roomID, State: string(StateEnded)})
	for _, m := range members {
		g.sessions.UnassignRoom(m.ConnID)
	}

	g.logger.Info("room ended",
		zap.String("room_id", roomID),
		zap.Int("members", len(members)),
	)
	return true
}

// ActiveRooms returns snapshots of all rooms currently in the Active state.
// This is the working set the synchronization engine iterates each tick.
func (g *Registry) ActiveRooms() []*Room {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var active []*Room
	for _, room := range g.rooms {
		if room.State == StateActive {
			active = append(active, room.snapshot())
		}
	}
	return active
}

// Count returns the number of rooms in the registry.
func (g *Registry) Count() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.rooms)
}
