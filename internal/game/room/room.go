// Package room owns the set of active game rooms and their lifecycle
// state machine.
package room

import (
	"time"
)

// State is a room's lifecycle state.
type State string

const (
	// StateActive rooms are simulated and broadcast every tick.
	StateActive State = "active"
	// StatePaused rooms retain members and state but skip simulation.
	StatePaused State = "paused"
	// StateEnded is terminal; the room is removed from the registry.
	StateEnded State = "ended"
)

// Member is one (player, connection) pair in a room, in join order.
type Member struct {
	PlayerID string `json:"playerId"`
	ConnID   string `json:"-"`
}

// Room is one active or paused game session.
type Room struct {
	// ID uniquely identifies the room.
	ID string
	// GameMode is the mode the room was created for.
	GameMode string
	// MaxPlayers bounds the member count.
	MaxPlayers int
	// Members is the ordered membership list.
	Members []Member
	// CreatedAt is the room creation time.
	CreatedAt time.Time
	// State is the current lifecycle state.
	State State
}

// HasPlayer reports whether playerID is a member.
func (r *Room) HasPlayer(playerID string) bool {
	for _, m := range r.Members {
		if m.PlayerID == playerID {
			return true
		}
	}
	return false
}

// PlayerIDs returns the member player identities in join order.
func (r *Room) PlayerIDs() []string {
	ids := make([]string, len(r.Members))
	for i, m := range r.Members {
		ids[i] = m.PlayerID
	}
	return ids
}

// snapshot returns a copy safe to hand to callers outside the registry lock.
func (r *Room) snapshot() *Room {
	cp := *r
	cp.Members = append([]Member(nil), r.Members...)
	return &cp
}
