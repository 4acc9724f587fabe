package simulation

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/kestrel-games/arena/internal/config"
	"github.com/kestrel-games/arena/internal/game/room"
)

type staticRooms struct {
	rooms []*room.Room
}

func (s *staticRooms) ActiveRooms() []*room.Room { return s.rooms }

type recordingBroadcaster struct {
	mu    sync.Mutex
	sends []broadcastCall
}

type broadcastCall struct {
	roomID string
	event  string
	delta  Delta
}

func (b *recordingBroadcaster) SendToRoom(roomID, event string, payload any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sends = append(b.sends, broadcastCall{roomID: roomID, event: event, delta: payload.(Delta)})
}

func testGameConfig() config.GameConfig {
	return config.GameConfig{TickRate: 20, DeltaCompression: true, WorldBound: 10000}
}

func newTestEngine(t *testing.T, rooms RoomSource) (*Engine, *recordingBroadcaster) {
	t.Helper()
	b := &recordingBroadcaster{}
	return NewEngine(testGameConfig(), rooms, b, zaptest.NewLogger(t)), b
}

func TestStepRoom_IntegratesVelocity(t *testing.T) {
	e, _ := newTestEngine(t, &staticRooms{})
	e.EnsureRoomState("r1")
	e.SpawnEntity("r1", "p1", EntityState{
		Position:   Vec2{X: 100, Y: 100},
		Velocity:   Vec2{X: 10},
		IsOnGround: true,
	})

	_, err := e.stepRoom("r1", time.Now(), 0.05)
	require.NoError(t, err)

	ents, _ := e.Entities("r1")
	assert.InDelta(t, 100.5, ents["p1"].Position.X, 1e-9)
	assert.InDelta(t, 100.0, ents["p1"].Position.Y, 1e-9)
}

func TestStepRoom_GravityAccelerates(t *testing.T) {
	e, _ := newTestEngine(t, &staticRooms{})
	e.EnsureRoomState("r1")
	e.SpawnEntity("r1", "p1", EntityState{
		Position:          Vec2{X: 0, Y: -100},
		AffectedByGravity: true,
	})

	_, err := e.stepRoom("r1", time.Now(), 0.05)
	require.NoError(t, err)

	ents, _ := e.Entities("r1")
	assert.InDelta(t, Gravity*0.05, ents["p1"].Velocity.Y, 1e-9)
}

func TestStepRoom_GroundedEntityStaysPut(t *testing.T) {
	// An idle player resting on the ground must not drift downward, tick
	// after tick, until it falls out of the world.
	e, _ := newTestEngine(t, &staticRooms{})
	e.EnsureRoomState("r1")
	e.SpawnEntity("r1", "p1", EntityState{
		Position:          Vec2{X: 0, Y: GroundY},
		IsOnGround:        true,
		AffectedByGravity: true,
	})

	now := time.Now()
	for i := 0; i < 200; i++ {
		_, err := e.stepRoom("r1", now, 0.05)
		require.NoError(t, err)
	}

	ents, _ := e.Entities("r1")
	require.Contains(t, ents, "p1")
	assert.InDelta(t, GroundY, ents["p1"].Position.Y, 1e-9)
	assert.Zero(t, ents["p1"].Velocity.Y)
	assert.True(t, ents["p1"].IsOnGround)
}

func TestStepRoom_JumpLandsBackOnGround(t *testing.T) {
	e, _ := newTestEngine(t, &staticRooms{})
	e.EnsureRoomState("r1")
	e.SpawnEntity("r1", "p1", EntityState{
		Position:          Vec2{X: 0, Y: GroundY},
		IsOnGround:        true,
		AffectedByGravity: true,
	})

	require.NoError(t, e.ApplyPlayerInput("r1", "p1", &PlayerInput{Jump: true}))

	now := time.Now()
	landed := false
	for i := 0; i < 4000 && !landed; i++ {
		_, err := e.stepRoom("r1", now, 0.05)
		require.NoError(t, err)
		ents, _ := e.Entities("r1")
		landed = ents["p1"].IsOnGround
		if i == 1 {
			assert.False(t, landed, "jump must leave the ground")
			assert.Negative(t, ents["p1"].Position.Y)
		}
	}

	require.True(t, landed, "jumper never came back down")
	ents, _ := e.Entities("r1")
	assert.InDelta(t, GroundY, ents["p1"].Position.Y, 1e-9)
	assert.Zero(t, ents["p1"].Velocity.Y)
}

func TestStepRoom_OutOfBoundsRemoval(t *testing.T) {
	e, _ := newTestEngine(t, &staticRooms{})
	e.EnsureRoomState("r1")
	e.SpawnEntity("r1", "faller", EntityState{
		Position: Vec2{X: 0, Y: 9999},
		Velocity: Vec2{Y: 100},
	})

	delta, err := e.stepRoom("r1", time.Now(), 0.05)
	require.NoError(t, err)

	ents, _ := e.Entities("r1")
	assert.NotContains(t, ents, "faller")

	require.Len(t, delta.Events, 1)
	assert.Equal(t, EventEntityDestroyed, delta.Events[0].Type)
	assert.Equal(t, ReasonOutOfBounds, delta.Events[0].Reason)
	assert.Equal(t, "faller", delta.Events[0].Entity)
}

func TestStepRoom_JumpGating(t *testing.T) {
	e, _ := newTestEngine(t, &staticRooms{})
	e.EnsureRoomState("r1")
	e.SpawnEntity("r1", "grounded", EntityState{IsOnGround: true})
	e.SpawnEntity("r1", "airborne", EntityState{IsOnGround: false, Velocity: Vec2{Y: -50}})

	require.NoError(t, e.ApplyPlayerInput("r1", "grounded", &PlayerInput{Jump: true}))
	require.NoError(t, e.ApplyPlayerInput("r1", "airborne", &PlayerInput{Jump: true}))

	_, err := e.stepRoom("r1", time.Now(), 0.05)
	require.NoError(t, err)

	ents, _ := e.Entities("r1")
	assert.Equal(t, JumpImpulse, ents["grounded"].Velocity.Y)
	assert.False(t, ents["grounded"].IsOnGround)
	// Airborne jump requests are silently ignored.
	assert.Equal(t, -50.0, ents["airborne"].Velocity.Y)
}

func TestStepRoom_HorizontalInput(t *testing.T) {
	e, _ := newTestEngine(t, &staticRooms{})
	e.EnsureRoomState("r1")
	e.SpawnEntity("r1", "p1", EntityState{IsOnGround: true})

	require.NoError(t, e.ApplyPlayerInput("r1", "p1", &PlayerInput{Right: true}))
	_, err := e.stepRoom("r1", time.Now(), 0.05)
	require.NoError(t, err)

	ents, _ := e.Entities("r1")
	assert.Equal(t, MoveSpeed, ents["p1"].Velocity.X)

	require.NoError(t, e.ApplyPlayerInput("r1", "p1", &PlayerInput{Left: true}))
	_, err = e.stepRoom("r1", time.Now(), 0.05)
	require.NoError(t, err)

	ents, _ = e.Entities("r1")
	assert.Equal(t, -MoveSpeed, ents["p1"].Velocity.X)
}

func TestStepRoom_CollisionDeferredDestruction(t *testing.T) {
	e, _ := newTestEngine(t, &staticRooms{})
	e.EnsureRoomState("r1")
	e.SpawnEntity("r1", "attacker", EntityState{})
	weak := EntityState{Health: HealthOf(10)}
	e.SpawnEntity("r1", "victim", weak)

	require.NoError(t, e.EnqueueEvent("r1", Event{
		Type:   EventCollision,
		Entity: "attacker",
		Target: "victim",
		Damage: 15,
	}))

	_, err := e.stepRoom("r1", time.Now(), 0.05)
	require.NoError(t, err)

	// The victim is still present this tick; removal is deferred.
	ents, _ := e.Entities("r1")
	require.Contains(t, ents, "victim")
	assert.Equal(t, -5.0, *ents["victim"].Health)

	delta, err := e.stepRoom("r1", time.Now(), 0.05)
	require.NoError(t, err)

	ents, _ = e.Entities("r1")
	assert.NotContains(t, ents, "victim")

	var destroyed *Event
	for i := range delta.Events {
		if delta.Events[i].Type == EventEntityDestroyed {
			destroyed = &delta.Events[i]
		}
	}
	require.NotNil(t, destroyed)
	assert.Equal(t, ReasonDestroyed, destroyed.Reason)
	assert.Equal(t, "victim", destroyed.Entity)
}

func TestStepRoom_CollisionWithoutDamageIgnored(t *testing.T) {
	e, _ := newTestEngine(t, &staticRooms{})
	e.EnsureRoomState("r1")
	e.SpawnEntity("r1", "a", EntityState{})
	e.SpawnEntity("r1", "b", EntityState{Health: HealthOf(10)})

	require.NoError(t, e.EnqueueEvent("r1", Event{Type: EventCollision, Entity: "a", Target: "b"}))
	_, err := e.stepRoom("r1", time.Now(), 0.05)
	require.NoError(t, err)

	ents, _ := e.Entities("r1")
	assert.Equal(t, 10.0, *ents["b"].Health)
}

func TestStepRoom_UnrecognizedEventIgnored(t *testing.T) {
	e, _ := newTestEngine(t, &staticRooms{})
	e.EnsureRoomState("r1")
	e.SpawnEntity("r1", "p1", EntityState{})

	require.NoError(t, e.EnqueueEvent("r1", Event{Type: "player_skill", Entity: "p1"}))
	delta, err := e.stepRoom("r1", time.Now(), 0.05)
	require.NoError(t, err)
	assert.Empty(t, delta.Events)

	ents, _ := e.Entities("r1")
	assert.Contains(t, ents, "p1")
}

func TestStepRoom_DeltaSequence(t *testing.T) {
	e, _ := newTestEngine(t, &staticRooms{})
	e.EnsureRoomState("r1")
	e.SpawnEntity("r1", "s1", EntityState{Position: Vec2{X: 1}})
	e.SpawnEntity("r1", "s2", EntityState{Position: Vec2{X: 2}})

	// First tick has no previous snapshot: full.
	first, err := e.stepRoom("r1", time.Now(), 0.05)
	require.NoError(t, err)
	assert.True(t, first.Full)
	assert.Len(t, first.Entities, 2)

	// Nothing moved: empty delta.
	second, err := e.stepRoom("r1", time.Now(), 0.05)
	require.NoError(t, err)
	assert.False(t, second.Full)
	assert.Empty(t, second.Entities)
	assert.Empty(t, second.Deleted)
}

func TestApplyPlayerInput_Validation(t *testing.T) {
	e, _ := newTestEngine(t, &staticRooms{})
	e.EnsureRoomState("r1")

	err := e.ApplyPlayerInput("r1", "p1", nil)
	assert.ErrorIs(t, err, ErrInvalidInput)

	err = e.ApplyPlayerInput("missing", "p1", &PlayerInput{})
	assert.ErrorIs(t, err, ErrRoomState)

	// A rejected input leaves the queue empty.
	delta, stepErr := e.stepRoom("r1", time.Now(), 0.05)
	require.NoError(t, stepErr)
	assert.Empty(t, delta.Events)
}

func TestResetRoomState(t *testing.T) {
	e, _ := newTestEngine(t, &staticRooms{})
	e.EnsureRoomState("r1")
	e.SpawnEntity("r1", "p1", EntityState{})
	_, err := e.stepRoom("r1", time.Now(), 0.05)
	require.NoError(t, err)

	e.ResetRoomState("r1")
	ents, ok := e.Entities("r1")
	require.True(t, ok)
	assert.Empty(t, ents)

	// Previous snapshot was cleared too: next tick is full again.
	delta, err := e.stepRoom("r1", time.Now(), 0.05)
	require.NoError(t, err)
	assert.True(t, delta.Full)
}

func TestRemoveRoomState(t *testing.T) {
	e, _ := newTestEngine(t, &staticRooms{})
	e.EnsureRoomState("r1")
	e.RemoveRoomState("r1")
	_, ok := e.Entities("r1")
	assert.False(t, ok)
}

func TestEntitiesReturnsDefensiveCopy(t *testing.T) {
	e, _ := newTestEngine(t, &staticRooms{})
	e.EnsureRoomState("r1")
	e.SpawnEntity("r1", "p1", EntityState{Position: Vec2{X: 5}})

	ents, _ := e.Entities("r1")
	ent := ents["p1"]
	ent.Position.X = 999
	ents["p1"] = ent

	fresh, _ := e.Entities("r1")
	assert.Equal(t, 5.0, fresh["p1"].Position.X)
}

func TestEngine_TickLoopBroadcasts(t *testing.T) {
	rooms := &staticRooms{rooms: []*room.Room{{ID: "r1", State: room.StateActive}}}
	e, b := newTestEngine(t, rooms)
	e.EnsureRoomState("r1")
	e.SpawnEntity("r1", "p1", EntityState{Velocity: Vec2{X: 1}})

	done := make(chan error, 1)
	go func() { done <- e.Start() }()

	deadline := time.After(2 * time.Second)
	for {
		b.mu.Lock()
		n := len(b.sends)
		b.mu.Unlock()
		if n >= 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("no broadcasts within deadline")
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}

	e.Stop()
	e.Stop() // idempotent

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("engine did not stop")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	assert.Equal(t, "r1", b.sends[0].roomID)
	assert.Equal(t, EventGameStateUpdate, b.sends[0].event)
	assert.True(t, b.sends[0].delta.Full, "first broadcast is a full snapshot")
}

func TestEngine_RoomWithoutStateIsSkipped(t *testing.T) {
	rooms := &staticRooms{rooms: []*room.Room{{ID: "ghost", State: room.StateActive}}}
	e, b := newTestEngine(t, rooms)

	e.tick(time.Now(), 0.05)

	b.mu.Lock()
	defer b.mu.Unlock()
	assert.Empty(t, b.sends)
}
