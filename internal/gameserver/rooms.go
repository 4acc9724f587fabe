package gameserver

import (
	"github.com/kestrel-games/arena/internal/game/room"
	"github.com/kestrel-games/arena/internal/game/simulation"
)

// Spawn layout for player entities. Slots fan out horizontally from the
// origin so players never spawn stacked.
const (
	spawnSpacing = 64.0
	spawnHealth  = 100.0
)

// GameRooms couples the room registry with the simulation engine so room
// lifecycle and simulation state stay in step. It implements the room
// factory the matchmaking queue creates matches through.
type GameRooms struct {
	rooms  *room.Registry
	engine *simulation.Engine
}

// NewGameRooms creates the coupled room factory.
//
// Precondition: rooms and engine must be non-nil.
func NewGameRooms(rooms *room.Registry, engine *simulation.Engine) *GameRooms {
	return &GameRooms{rooms: rooms, engine: engine}
}

// CreateRoom creates an Active room and spawns a player entity per member.
//
// Postcondition: The room has simulation state and one entity per member.
func (g *GameRooms) CreateRoom(roomID, gameMode string, maxPlayers int, members []room.Member) *room.Room {
	rm := g.rooms.CreateRoom(roomID, gameMode, maxPlayers, members)
	g.engine.EnsureRoomState(roomID)
	for i, m := range members {
		g.engine.SpawnEntity(roomID, m.PlayerID, playerSpawnState(i))
	}
	return rm
}

// EndRoom ends the room and discards its simulation state.
//
// Postcondition: Returns false if the room is absent.
func (g *GameRooms) EndRoom(roomID string) bool {
	if !g.rooms.EndRoom(roomID) {
		return false
	}
	g.engine.RemoveRoomState(roomID)
	return true
}

// playerSpawnState builds the initial entity state for the member in the
// given slot.
func playerSpawnState(slot int) simulation.EntityState {
	return simulation.EntityState{
		Position:          simulation.Vec2{X: float64(slot) * spawnSpacing, Y: simulation.GroundY},
		Health:            simulation.HealthOf(spawnHealth),
		IsOnGround:        true,
		AffectedByGravity: true,
	}
}
