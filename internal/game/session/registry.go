// Package session tracks live connections, their player identities, and
// room membership.
package session

import (
	"strings"
	"sync"
	"time"
)

// Session tracks one live connection.
type Session struct {
	// ConnID is the opaque transport connection identifier.
	ConnID string
	// PlayerID is the resolved player identity (guest-derived when
	// unauthenticated).
	PlayerID string
	// Guest reports whether PlayerID was synthesized rather than verified.
	Guest bool
	// ConnectedAt is the connection establishment time.
	ConnectedAt time.Time
	// LastActive is the time of the most recent inbound activity.
	LastActive time.Time
	// RoomID is the assigned room, or "" when unassigned.
	RoomID string
}

// IsGuest reports whether the identity was synthesized at connect time.
func (s *Session) IsGuest() bool {
	return s.Guest || strings.HasPrefix(s.PlayerID, "guest-")
}

// Registry maps connection identifiers to sessions.
// All methods are safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty session Registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
	}
}

// Register creates and stores a session for the given connection.
// One call per connection is the caller's responsibility.
//
// Precondition: connID and playerID must be non-empty.
// Postcondition: Returns the stored Session.
func (r *Registry) Register(connID, playerID string, guest bool) *Session {
	now := time.Now()
	sess := &Session{
		ConnID:      connID,
		PlayerID:    playerID,
		Guest:       guest,
		ConnectedAt: now,
		LastActive:  now,
	}

	r.mu.Lock()
	r.sessions[connID] = sess
	r.mu.Unlock()

	return sess
}

// Get returns the session for the given connection.
//
// Postcondition: Returns (session, true) if found, or (nil, false) otherwise.
func (r *Registry) Get(connID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[connID]
	return sess, ok
}

// GetByPlayer returns the session for the given player identity.
// Linear scan; session counts stay small enough that an index is not needed.
//
// Postcondition: Returns (session, true) if found, or (nil, false) otherwise.
func (r *Registry) GetByPlayer(playerID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, sess := range r.sessions {
		if sess.PlayerID == playerID {
			return sess, true
		}
	}
	return nil, false
}

// AssignRoom records the room assignment for a connection. A missing session
// is a no-op: assignment races with disconnection are expected.
func (r *Registry) AssignRoom(connID, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sess, ok := r.sessions[connID]; ok {
		sess.RoomID = roomID
	}
}

// UnassignRoom clears the room assignment for a connection. A missing
// session is a no-op.
func (r *Registry) UnassignRoom(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sess, ok := r.sessions[connID]; ok {
		sess.RoomID = ""
	}
}

// Touch updates the last-activity timestamp for a connection.
func (r *Registry) Touch(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sess, ok := r.sessions[connID]; ok {
		sess.LastActive = time.Now()
	}
}

// Remove deletes and returns the session so the caller can perform
// room-notification side effects.
//
// Postcondition: Returns (session, true) if removed, or (nil, false) if absent.
func (r *Registry) Remove(connID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[connID]
	if !ok {
		return nil, false
	}
	delete(r.sessions, connID)
	return sess, true
}

// MembersOf returns all sessions currently assigned to the given room.
//
// Postcondition: Returns a slice of sessions (may be empty).
func (r *Registry) MembersOf(roomID string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var members []*Session
	for _, sess := range r.sessions {
		if sess.RoomID == roomID {
			members = append(members, sess)
		}
	}
	return members
}

// Count returns the total number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
