package gameserver

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kestrel-games/arena/internal/auth"
	"github.com/kestrel-games/arena/internal/game/content"
	"github.com/kestrel-games/arena/internal/game/matchmaking"
	"github.com/kestrel-games/arena/internal/game/room"
	"github.com/kestrel-games/arena/internal/game/session"
	"github.com/kestrel-games/arena/internal/game/simulation"
	"github.com/kestrel-games/arena/internal/transport/ws"
)

// maxChatLength bounds a single chat message.
const maxChatLength = 512

// ensurePlayerTimeout bounds the async player upsert on connect.
const ensurePlayerTimeout = 5 * time.Second

// Notifier delivers outbound events. The websocket hub implements it.
type Notifier interface {
	Send(connID, event string, payload any)
	SendToRoom(roomID, event string, payload any)
}

// PlayerStore persists player sightings. Optional; nil disables persistence.
type PlayerStore interface {
	EnsurePlayer(ctx context.Context, playerID string) error
}

// Dispatcher routes inbound envelopes to the game subsystems. It implements
// the transport's connection handler.
type Dispatcher struct {
	sessions *session.Registry
	rooms    *room.Registry
	engine   *simulation.Engine
	queue    *matchmaking.Queue
	catalog  *content.Catalog
	resolver *auth.Resolver
	players  PlayerStore
	notifier Notifier
	logger   *zap.Logger
}

// NewDispatcher creates a Dispatcher.
//
// Precondition: all dependencies except players must be non-nil.
func NewDispatcher(
	sessions *session.Registry,
	rooms *room.Registry,
	engine *simulation.Engine,
	queue *matchmaking.Queue,
	catalog *content.Catalog,
	resolver *auth.Resolver,
	players PlayerStore,
	notifier Notifier,
	logger *zap.Logger,
) *Dispatcher {
	return &Dispatcher{
		sessions: sessions,
		rooms:    rooms,
		engine:   engine,
		queue:    queue,
		catalog:  catalog,
		resolver: resolver,
		players:  players,
		notifier: notifier,
		logger:   logger,
	}
}

// Connected resolves the connection's identity, registers a session, and
// acknowledges the connection.
//
// Postcondition: The connection has a live session; unverifiable tokens get
// a guest identity rather than a rejection.
func (d *Dispatcher) Connected(connID, token string) {
	playerID, guest := d.resolver.Identify(token)
	d.sessions.Register(connID, playerID, guest)

	if !guest && d.players != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), ensurePlayerTimeout)
			defer cancel()
			if err := d.players.EnsurePlayer(ctx, playerID); err != nil {
				d.logger.Warn("recording player sighting",
					zap.String("player_id", playerID),
					zap.Error(err),
				)
			}
		}()
	}

	d.logger.Info("session established",
		zap.String("conn_id", connID),
		zap.String("player_id", playerID),
		zap.Bool("guest", guest),
	)

	d.notifier.Send(connID, EventConnectionAck, ConnectionAckPayload{
		SessionID:  connID,
		PlayerID:   playerID,
		Guest:      guest,
		ServerTime: time.Now().UnixMilli(),
	})
}

// Disconnected tears down the connection's session, queue entry, and room
// membership.
//
// Postcondition: No registry references the connection.
func (d *Dispatcher) Disconnected(connID string) {
	sess, ok := d.sessions.Remove(connID)
	if !ok {
		return
	}

	d.queue.Dequeue(connID)

	if sess.RoomID != "" {
		d.leaveRoom(sess.RoomID, sess.PlayerID)
	}

	d.logger.Info("session removed",
		zap.String("conn_id", connID),
		zap.String("player_id", sess.PlayerID),
	)
}

// HandleEvent routes one well-formed envelope. Malformed payloads are
// rejected with a targeted error event and mutate nothing.
func (d *Dispatcher) HandleEvent(connID string, env ws.Envelope) {
	switch env.Type {
	case EventMatchmakingRequest:
		d.handleMatchmakingRequest(connID, env.Data)
	case EventMatchmakingCancel:
		d.queue.Dequeue(connID)
	case EventJoinRoom:
		d.handleJoinRoom(connID, env.Data)
	case EventLeaveRoom:
		d.handleLeaveRoom(connID)
	case EventPlayerInput:
		d.handlePlayerInput(connID, env.Data)
	case EventPlayerJump:
		d.handlePlayerJump(connID)
	case EventPlayerSkill:
		d.handlePlayerSkill(connID, env.Data)
	case EventPlayerCollectItem:
		d.handleCollectItem(connID, env.Data)
	case EventChatMessage:
		d.handleChat(connID, env.Data)
	case EventPing:
		d.handlePing(connID)
	default:
		d.logger.Warn("unrecognized event type",
			zap.String("conn_id", connID),
			zap.String("type", env.Type),
		)
		d.sendError(connID, fmt.Sprintf("unrecognized event type %q", env.Type))
	}
}

func (d *Dispatcher) handleMatchmakingRequest(connID string, data json.RawMessage) {
	var prefs matchmaking.Preferences
	if err := json.Unmarshal(data, &prefs); err != nil {
		d.rejectMalformed(connID, EventMatchmakingRequest, err)
		return
	}

	mode, ok := d.catalog.Mode(prefs.GameMode)
	if !ok {
		d.sendError(connID, fmt.Sprintf("unknown game mode %q", prefs.GameMode))
		return
	}
	// The catalog is authoritative for player bounds; client values only
	// narrow the mode's maximum.
	prefs.MinPlayers = mode.MinPlayers
	if prefs.MaxPlayers <= 0 || prefs.MaxPlayers > mode.MaxPlayers {
		prefs.MaxPlayers = mode.MaxPlayers
	}

	if _, err := d.queue.Enqueue(connID, prefs); err != nil {
		d.logger.Warn("matchmaking request rejected",
			zap.String("conn_id", connID),
			zap.Error(err),
		)
		d.sendError(connID, err.Error())
	}
}

func (d *Dispatcher) handleJoinRoom(connID string, data json.RawMessage) {
	var ref RoomRefPayload
	if err := json.Unmarshal(data, &ref); err != nil || ref.RoomID == "" {
		d.rejectMalformed(connID, EventJoinRoom, err)
		return
	}

	sess, ok := d.sessions.Get(connID)
	if !ok {
		return
	}
	if sess.RoomID != "" {
		d.sendError(connID, "already in a room")
		return
	}

	if !d.rooms.AddPlayer(ref.RoomID, sess.PlayerID, connID) {
		d.sendError(connID, fmt.Sprintf("cannot join room %q", ref.RoomID))
		return
	}

	rm, _ := d.rooms.Get(ref.RoomID)
	slot := 0
	if rm != nil {
		slot = len(rm.Members) - 1
	}
	d.engine.SpawnEntity(ref.RoomID, sess.PlayerID, playerSpawnState(slot))
}

func (d *Dispatcher) handleLeaveRoom(connID string) {
	sess, ok := d.sessions.Get(connID)
	if !ok || sess.RoomID == "" {
		d.sendError(connID, "not in a room")
		return
	}
	d.leaveRoom(sess.RoomID, sess.PlayerID)
}

// leaveRoom removes the player from the room and schedules their entity's
// removal. A room emptied by the departure drops its simulation state.
func (d *Dispatcher) leaveRoom(roomID, playerID string) {
	if !d.rooms.RemovePlayer(roomID, playerID) {
		return
	}
	if _, ok := d.rooms.Get(roomID); !ok {
		d.engine.RemoveRoomState(roomID)
		return
	}
	_ = d.engine.EnqueueEvent(roomID, simulation.Event{
		Type:   simulation.EventEntityDestroyed,
		Entity: playerID,
		Reason: simulation.ReasonDestroyed,
	})
}

func (d *Dispatcher) handlePlayerInput(connID string, data json.RawMessage) {
	var p PlayerInputPayload
	if err := json.Unmarshal(data, &p); err != nil {
		d.rejectMalformed(connID, EventPlayerInput, err)
		return
	}

	sess, ok := d.sessions.Get(connID)
	if !ok || sess.RoomID == "" {
		d.sendError(connID, "not in a room")
		return
	}

	if err := d.engine.ApplyPlayerInput(sess.RoomID, sess.PlayerID, &p.Input); err != nil {
		d.sendError(connID, "input rejected")
	}
}

func (d *Dispatcher) handlePlayerJump(connID string) {
	sess, ok := d.sessions.Get(connID)
	if !ok || sess.RoomID == "" {
		d.sendError(connID, "not in a room")
		return
	}
	input := simulation.PlayerInput{Jump: true}
	if err := d.engine.ApplyPlayerInput(sess.RoomID, sess.PlayerID, &input); err != nil {
		d.sendError(connID, "input rejected")
	}
}

func (d *Dispatcher) handlePlayerSkill(connID string, data json.RawMessage) {
	var p SkillPayload
	if err := json.Unmarshal(data, &p); err != nil || p.SkillID == "" {
		d.rejectMalformed(connID, EventPlayerSkill, err)
		return
	}

	sess, ok := d.sessions.Get(connID)
	if !ok || sess.RoomID == "" {
		d.sendError(connID, "not in a room")
		return
	}

	// Skills have no simulation semantics yet; the engine logs and skips
	// the event type.
	_ = d.engine.EnqueueEvent(sess.RoomID, simulation.Event{
		Type:   simulation.EventType(EventPlayerSkill),
		Entity: sess.PlayerID,
	})
}

func (d *Dispatcher) handleCollectItem(connID string, data json.RawMessage) {
	var p CollectItemPayload
	if err := json.Unmarshal(data, &p); err != nil || p.ItemID == "" {
		d.rejectMalformed(connID, EventPlayerCollectItem, err)
		return
	}

	sess, ok := d.sessions.Get(connID)
	if !ok || sess.RoomID == "" {
		d.sendError(connID, "not in a room")
		return
	}

	_ = d.engine.EnqueueEvent(sess.RoomID, simulation.Event{
		Type:   simulation.EventEntityDestroyed,
		Entity: p.ItemID,
		Reason: simulation.ReasonCollected,
	})
}

func (d *Dispatcher) handleChat(connID string, data json.RawMessage) {
	var p ChatMessagePayload
	if err := json.Unmarshal(data, &p); err != nil {
		d.rejectMalformed(connID, EventChatMessage, err)
		return
	}
	if p.Message == "" || len(p.Message) > maxChatLength {
		d.sendError(connID, "message must be 1 to 512 characters")
		return
	}

	sess, ok := d.sessions.Get(connID)
	if !ok {
		return
	}

	out := ChatBroadcastPayload{
		SenderID: sess.PlayerID,
		Message:  p.Message,
		Channel:  p.Channel,
	}

	switch p.Channel {
	case ChatChannelRoom:
		if sess.RoomID == "" {
			d.sendError(connID, "not in a room")
			return
		}
		d.notifier.SendToRoom(sess.RoomID, EventChatMessage, out)
	case ChatChannelDirect:
		target, ok := d.sessions.GetByPlayer(p.TargetPlayerID)
		if !ok {
			d.sendError(connID, fmt.Sprintf("player %q is not online", p.TargetPlayerID))
			return
		}
		d.notifier.Send(target.ConnID, EventChatMessage, out)
	default:
		d.sendError(connID, fmt.Sprintf("unknown chat channel %q", p.Channel))
	}
}

func (d *Dispatcher) handlePing(connID string) {
	d.sessions.Touch(connID)
	d.notifier.Send(connID, EventPong, PongPayload{ServerTime: time.Now().UnixMilli()})
}

func (d *Dispatcher) rejectMalformed(connID, event string, err error) {
	d.logger.Warn("malformed payload",
		zap.String("conn_id", connID),
		zap.String("event", event),
		zap.Error(err),
	)
	d.sendError(connID, fmt.Sprintf("malformed %s payload", event))
}

func (d *Dispatcher) sendError(connID, message string) {
	d.notifier.Send(connID, EventError, ErrorPayload{Message: message})
}
