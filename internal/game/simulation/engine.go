package simulation

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kestrel-games/arena/internal/config"
	"github.com/kestrel-games/arena/internal/game/room"
)

// EventGameStateUpdate is the wire event carrying a Delta.
const EventGameStateUpdate = "game_state_update"

// ErrRoomState is returned when an entry point names a room with no
// simulation state.
var ErrRoomState = errors.New("no simulation state for room")

// ErrInvalidInput is returned when a client input fails validation.
var ErrInvalidInput = errors.New("invalid player input")

// RoomSource supplies the working set of rooms to simulate each tick.
type RoomSource interface {
	ActiveRooms() []*room.Room
}

// Broadcaster fans a tick's delta out to a room's connections.
type Broadcaster interface {
	SendToRoom(roomID, event string, payload any)
}

// Engine is the fixed-rate synchronization engine. It owns every room's
// authoritative RoomState; callers interact through the defined entry
// points only.
type Engine struct {
	rooms       RoomSource
	broadcaster Broadcaster
	logger      *zap.Logger
	interval    time.Duration
	compress    bool
	worldBound  float64

	mu       sync.Mutex
	states   map[string]*RoomState
	previous map[string]map[string]EntityState

	quit     chan struct{}
	stopOnce sync.Once
}

// NewEngine creates a stopped engine.
//
// Precondition: rooms, broadcaster, and logger must be non-nil; cfg must be
// validated.
func NewEngine(cfg config.GameConfig, rooms RoomSource, broadcaster Broadcaster, logger *zap.Logger) *Engine {
	return &Engine{
		rooms:       rooms,
		broadcaster: broadcaster,
		logger:      logger,
		interval:    cfg.TickInterval(),
		compress:    cfg.DeltaCompression,
		worldBound:  cfg.WorldBound,
		states:      make(map[string]*RoomState),
		previous:    make(map[string]map[string]EntityState),
		quit:        make(chan struct{}),
	}
}

// Start runs the tick loop. It blocks until Stop is called.
//
// Postcondition: Each active room is stepped once per tick interval until
// the engine stops.
func (e *Engine) Start() error {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-e.quit:
			return nil
		case now := <-ticker.C:
			dt := now.Sub(last).Seconds()
			if dt <= 0 {
				dt = e.interval.Seconds()
			}
			last = now
			e.tick(now, dt)
		}
	}
}

// Stop halts the tick loop. Safe to call multiple times.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.quit) })
}

// tick steps every active room. A failure in one room is logged and never
// halts the loop for the others.
func (e *Engine) tick(now time.Time, dt float64) {
	for _, r := range e.rooms.ActiveRooms() {
		delta, err := e.stepRoom(r.ID, now, dt)
		if err != nil {
			// Rooms without state have nothing to simulate yet.
			if !errors.Is(err, ErrRoomState) {
				e.logger.Error("room tick failed",
					zap.String("room_id", r.ID),
					zap.Error(err),
				)
			}
			continue
		}
		e.broadcaster.SendToRoom(r.ID, EventGameStateUpdate, delta)
	}
}

// stepRoom runs one tick for one room: integrate, apply events, compute the
// delta, store the current snapshot as the next previous.
func (e *Engine) stepRoom(roomID string, now time.Time, dt float64) (delta Delta, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("room %s tick panicked: %v", roomID, r)
		}
	}()

	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.states[roomID]
	if !ok {
		return Delta{}, fmt.Errorf("%w: %s", ErrRoomState, roomID)
	}

	e.integrate(st, dt)

	// Only events pending at this point are drained; events enqueued during
	// application (a collision kill, for instance) wait for the next tick so
	// same-tick events still see consistent state.
	pending := st.Pending
	st.Pending = nil
	var notify []Event
	for _, ev := range pending {
		if e.applyEvent(roomID, st, ev) {
			notify = append(notify, ev)
		}
	}

	st.UpdatedAt = now
	delta = computeDelta(now, st.Entities, e.previous[roomID], e.compress, notify)

	// The single call site where current becomes previous.
	e.previous[roomID] = copyEntities(st.Entities)

	return delta, nil
}

// integrate advances positions and velocities and removes entities that
// leave the world.
func (e *Engine) integrate(st *RoomState, dt float64) {
	for id, ent := range st.Entities {
		ent.Position.X += ent.Velocity.X * dt
		ent.Position.Y += ent.Velocity.Y * dt
		if ent.AffectedByGravity {
			ent.Velocity.Y += Gravity * dt
			// Landing: clamp to the ground plane and restore jump
			// eligibility.
			if ent.Position.Y >= GroundY {
				ent.Position.Y = GroundY
				if ent.Velocity.Y > 0 {
					ent.Velocity.Y = 0
				}
				ent.IsOnGround = true
			}
		}

		if math.Abs(ent.Position.X) > e.worldBound || math.Abs(ent.Position.Y) > e.worldBound {
			delete(st.Entities, id)
			st.Pending = append(st.Pending, Event{
				Type:   EventEntityDestroyed,
				Entity: id,
				Reason: ReasonOutOfBounds,
			})
			continue
		}
		st.Entities[id] = ent
	}
}

// applyEvent applies one queued event and reports whether clients should be
// notified of it.
func (e *Engine) applyEvent(roomID string, st *RoomState, ev Event) bool {
	switch ev.Type {
	case EventPlayerInput:
		ent, ok := st.Entities[ev.Entity]
		if !ok || ev.Input == nil {
			return false
		}
		ent.Velocity.X = ev.Input.HorizontalAxis() * MoveSpeed
		if ev.Input.Jump && ent.IsOnGround {
			ent.Velocity.Y = JumpImpulse
			ent.IsOnGround = false
		}
		st.Entities[ev.Entity] = ent
		return false

	case EventCollision:
		_, okA := st.Entities[ev.Entity]
		target, okB := st.Entities[ev.Target]
		if !okA || !okB || ev.Damage <= 0 || target.Health == nil {
			return false
		}
		h := *target.Health - ev.Damage
		target.Health = &h
		st.Entities[ev.Target] = target
		if h <= 0 {
			// Removal is deferred to the next tick's drain.
			st.Pending = append(st.Pending, Event{
				Type:   EventEntityDestroyed,
				Entity: ev.Target,
				Reason: ReasonDestroyed,
			})
		}
		return true

	case EventEntityDestroyed:
		delete(st.Entities, ev.Entity)
		return true

	default:
		e.logger.Warn("ignoring unrecognized room event",
			zap.String("room_id", roomID),
			zap.String("type", string(ev.Type)),
		)
		return false
	}
}

// EnsureRoomState creates an empty simulation state for a room if none
// exists.
func (e *Engine) EnsureRoomState(roomID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.states[roomID]; !ok {
		e.states[roomID] = newRoomState()
	}
}

// ResetRoomState replaces a room's state with a fresh empty one and clears
// the stored previous snapshot.
func (e *Engine) ResetRoomState(roomID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.states[roomID] = newRoomState()
	delete(e.previous, roomID)
}

// RemoveRoomState drops all simulation state for a room.
func (e *Engine) RemoveRoomState(roomID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.states, roomID)
	delete(e.previous, roomID)
}

// SpawnEntity adds or replaces an entity in a room's state.
//
// Postcondition: Returns false if the room has no simulation state.
func (e *Engine) SpawnEntity(roomID, entityID string, st EntityState) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	rs, ok := e.states[roomID]
	if !ok {
		return false
	}
	rs.Entities[entityID] = st.clone()
	return true
}

// Entities returns a defensive copy of a room's entity map. Mutating the
// copy never affects authoritative state.
func (e *Engine) Entities(roomID string) (map[string]EntityState, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rs, ok := e.states[roomID]
	if !ok {
		return nil, false
	}
	return copyEntities(rs.Entities), true
}

// ApplyPlayerInput validates a client input and enqueues a player_input
// event for the next tick. Invalid input never reaches the event queue.
//
// Postcondition: Returns ErrInvalidInput for nil input, ErrRoomState when
// the room has no simulation state.
func (e *Engine) ApplyPlayerInput(roomID, playerID string, input *PlayerInput) error {
	if input == nil {
		e.logger.Debug("rejecting malformed player input",
			zap.String("room_id", roomID),
			zap.String("player_id", playerID),
		)
		return ErrInvalidInput
	}
	return e.EnqueueEvent(roomID, Event{
		Type:   EventPlayerInput,
		Entity: playerID,
		Input:  input,
	})
}

// EnqueueEvent appends an event to a room's queue for the next tick.
//
// Postcondition: Returns ErrRoomState when the room has no simulation state.
func (e *Engine) EnqueueEvent(roomID string, ev Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.states[roomID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrRoomState, roomID)
	}
	st.Pending = append(st.Pending, ev)
	return nil
}
