// Package simulation runs the authoritative fixed-rate tick loop: it
// integrates entity state, applies queued room events, and broadcasts wire
// deltas to room members.
package simulation

import "time"

// Physics constants. Velocities are units/second; positive Y points down.
const (
	// Gravity is the downward acceleration applied to gravity-affected
	// entities, in units/s².
	Gravity = 9.8
	// MoveSpeed scales the horizontal input axis into velocity.
	MoveSpeed = 200.0
	// JumpImpulse is the vertical velocity set on a grounded jump.
	JumpImpulse = -400.0
	// GroundY is the ground plane; gravity-affected entities come to rest
	// on it instead of falling through.
	GroundY = 0.0
)

// Vec2 is a 2D vector.
type Vec2 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// EntityState is the authoritative state of one entity.
type EntityState struct {
	Position Vec2 `json:"position"`
	Velocity Vec2 `json:"velocity"`
	// Health is nil for entities without a health pool.
	Health *float64 `json:"health,omitempty"`
	// IsOnGround gates jump requests.
	IsOnGround bool `json:"isOnGround"`
	// AffectedByGravity enables gravity integration.
	AffectedByGravity bool `json:"affectedByGravity"`
}

// Equal reports whether two entity states are deeply equal.
func (e EntityState) Equal(o EntityState) bool {
	if e.Position != o.Position || e.Velocity != o.Velocity {
		return false
	}
	if e.IsOnGround != o.IsOnGround || e.AffectedByGravity != o.AffectedByGravity {
		return false
	}
	if (e.Health == nil) != (o.Health == nil) {
		return false
	}
	if e.Health != nil && *e.Health != *o.Health {
		return false
	}
	return true
}

// clone returns a copy with an independent Health pointer.
func (e EntityState) clone() EntityState {
	cp := e
	if e.Health != nil {
		h := *e.Health
		cp.Health = &h
	}
	return cp
}

// HealthOf is a convenience constructor for a health pointer.
func HealthOf(h float64) *float64 { return &h }

// EventType names a queued room event.
type EventType string

const (
	// EventPlayerInput applies a client input to the player's entity.
	EventPlayerInput EventType = "player_input"
	// EventCollision applies damage from one entity to another.
	EventCollision EventType = "collision"
	// EventEntityDestroyed removes an entity from the state map.
	EventEntityDestroyed EventType = "entity_destroyed"
)

// Destruction reasons carried on EventEntityDestroyed.
const (
	ReasonOutOfBounds = "out_of_bounds"
	ReasonDestroyed   = "destroyed"
	ReasonCollected   = "collected"
)

// PlayerInput is one validated client input frame.
type PlayerInput struct {
	Left  bool   `json:"left"`
	Right bool   `json:"right"`
	Up    bool   `json:"up"`
	Down  bool   `json:"down"`
	Jump  bool   `json:"jump"`
	Skill string `json:"skill,omitempty"`
}

// HorizontalAxis collapses left/right into [-1, 1].
func (p PlayerInput) HorizontalAxis() float64 {
	axis := 0.0
	if p.Left {
		axis -= 1
	}
	if p.Right {
		axis += 1
	}
	return axis
}

// Event is one queued room event, applied FIFO during the tick.
type Event struct {
	// Type selects the application rule.
	Type EventType `json:"type"`
	// Entity is the subject entity id.
	Entity string `json:"entity,omitempty"`
	// Target is the second entity for collision events.
	Target string `json:"target,omitempty"`
	// Damage is the collision damage amount.
	Damage float64 `json:"damage,omitempty"`
	// Reason qualifies entity_destroyed events.
	Reason string `json:"reason,omitempty"`
	// Input carries the frame for player_input events.
	Input *PlayerInput `json:"input,omitempty"`
}

// RoomState is the authoritative per-room simulation state. It is owned
// exclusively by the engine; external callers mutate it only through the
// engine's entry points.
type RoomState struct {
	// UpdatedAt is the time of the last completed tick.
	UpdatedAt time.Time
	// Entities maps entity id to state.
	Entities map[string]EntityState
	// Pending is the FIFO event queue for the next tick.
	Pending []Event
}

// newRoomState creates an empty room state.
func newRoomState() *RoomState {
	return &RoomState{
		UpdatedAt: time.Now(),
		Entities:  make(map[string]EntityState),
	}
}

// Delta is the wire-level output of one tick for one room.
type Delta struct {
	// Timestamp is the tick time in Unix milliseconds.
	Timestamp int64 `json:"timestamp"`
	// Entities holds changed entities, or every entity when Full.
	Entities map[string]EntityState `json:"entities"`
	// Deleted lists removed entity ids; always empty when Full.
	Deleted []string `json:"deleted,omitempty"`
	// Events are the simulation events clients should be told about.
	Events []Event `json:"events,omitempty"`
	// Full marks a complete snapshot rather than a delta.
	Full bool `json:"full"`
}
