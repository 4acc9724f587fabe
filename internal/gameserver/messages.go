// Package gameserver binds inbound client events to the game subsystems
// and owns the connection lifecycle.
package gameserver

import (
	"github.com/kestrel-games/arena/internal/game/simulation"
)

// Inbound event types accepted from clients.
const (
	EventMatchmakingRequest = "matchmaking_request"
	EventMatchmakingCancel  = "matchmaking_cancel"
	EventJoinRoom           = "join_room"
	EventLeaveRoom          = "leave_room"
	EventPlayerInput        = "player_input"
	EventPlayerJump         = "player_jump"
	EventPlayerSkill        = "player_skill"
	EventPlayerCollectItem  = "player_collect_item"
	EventChatMessage        = "chat_message"
	EventPing               = "ping"
)

// Outbound event types owned by this package. Room lifecycle, matchmaking,
// and state-update events are owned by their packages.
const (
	EventConnectionAck = "connection_ack"
	EventPong          = "pong"
	EventError         = "error"
)

// ConnectionAckPayload is sent once after a connection is accepted.
type ConnectionAckPayload struct {
	SessionID  string `json:"sessionId"`
	PlayerID   string `json:"playerId"`
	Guest      bool   `json:"guest"`
	ServerTime int64  `json:"serverTime"`
}

// PongPayload answers a ping.
type PongPayload struct {
	ServerTime int64 `json:"serverTime"`
}

// ErrorPayload reports a rejected event to the offending connection.
type ErrorPayload struct {
	Message string `json:"message"`
}

// RoomRefPayload names a room in join and leave requests.
type RoomRefPayload struct {
	RoomID string `json:"roomId"`
}

// PlayerInputPayload carries one input frame. Sequence and Timestamp are
// client-reported and advisory.
type PlayerInputPayload struct {
	Sequence  int64                  `json:"sequence"`
	Input     simulation.PlayerInput `json:"input"`
	Timestamp int64                  `json:"timestamp"`
}

// SkillPayload names a skill activation.
type SkillPayload struct {
	SkillID string `json:"skillId"`
}

// CollectItemPayload names an item entity to collect.
type CollectItemPayload struct {
	ItemID string `json:"itemId"`
}

// Chat channels.
const (
	ChatChannelRoom   = "room"
	ChatChannelDirect = "direct"
)

// ChatMessagePayload is an inbound chat message.
type ChatMessagePayload struct {
	Message        string `json:"message"`
	Channel        string `json:"channel"`
	TargetPlayerID string `json:"targetPlayerId,omitempty"`
}

// ChatBroadcastPayload is the outbound form of a delivered chat message.
type ChatBroadcastPayload struct {
	SenderID string `json:"senderId"`
	Message  string `json:"message"`
	Channel  string `json:"channel"`
}
