// Package proto defines the JSON wire protocol: request/response
// envelopes, payload shapes, pushed events, and error codes.
package proto

import (
	"encoding/json"

	"github.com/realsync/gateway/internal/game"
)

// Request message types.
const (
	TypeAuth        = "auth"
	TypeCreateRoom  = "create_room"
	TypeJoinRoom    = "join_room"
	TypeLeaveRoom   = "leave_room"
	TypeListRooms   = "list_rooms"
	TypeUpdateState = "update_state"
	TypeGetState    = "get_state"
	TypePing        = "ping"

	TypePong  = "pong"
	TypeEvent = "event"
	TypeError = "error"
)

// Pushed event types.
const (
	EventStateChange  = "state_change"
	EventPlayerJoined = "player_joined"
	EventPlayerLeft   = "player_left"
)

// Error codes.
const (
	CodeInvalidMessage     = "INVALID_MESSAGE"
	CodeUnknownMessageType = "UNKNOWN_MESSAGE_TYPE"
	CodeInvalidParams      = "INVALID_PARAMS"
	CodeInvalidAuth        = "INVALID_AUTH"
	CodeInvalidToken       = "INVALID_TOKEN"
	CodeInvalidAPIKey      = "INVALID_API_KEY"
	CodeNotAuthenticated   = "NOT_AUTHENTICATED"
	CodeNotInRoom          = "NOT_IN_ROOM"
	CodeRoomNotFound       = "ROOM_NOT_FOUND"
	CodeRoomFull           = "ROOM_FULL"
	CodeAlreadyInRoom      = "ALREADY_IN_ROOM"
	CodePlayerNotInRoom    = "PLAYER_NOT_IN_ROOM"
	CodeInternalError      = "INTERNAL_ERROR"
)

// Request is the inbound envelope. Payload stays raw until the dispatcher
// routes on Type.
type Request struct {
	RequestID string          `json:"requestId"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
}

// Envelope is the outbound frame: a response correlated by RequestID, an
// error, or an unsolicited event.
type Envelope struct {
	RequestID string `json:"requestId,omitempty"`
	Type      string `json:"type"`
	Payload   any    `json:"payload,omitempty"`
	Event     any    `json:"event,omitempty"`
}

// Error is the payload of a type:"error" envelope.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Room is the wire representation of a room.
type Room struct {
	RoomID         string         `json:"roomId"`
	Name           string         `json:"name"`
	GameMode       string         `json:"gameMode"`
	MaxPlayers     int            `json:"maxPlayers"`
	CurrentPlayers int            `json:"currentPlayers"`
	Visibility     string         `json:"visibility"`
	Status         string         `json:"status"`
	CreatedAt      int64          `json:"createdAt"`
	CustomData     map[string]any `json:"customData"`
}

// Player is the wire representation of a room member.
type Player struct {
	PlayerID    int            `json:"playerId"`
	OpenID      string         `json:"openId"`
	DisplayName string         `json:"displayName"`
	IsHost      bool           `json:"isHost"`
	JoinedAt    int64          `json:"joinedAt"`
	Metadata    map[string]any `json:"metadata"`
}

// Request payloads.

type AuthRequest struct {
	APIKey    string `json:"apiKey"`
	UserToken string `json:"userToken"`
}

type CreateRoomRequest struct {
	Name       string         `json:"name"`
	GameMode   string         `json:"gameMode"`
	MaxPlayers int            `json:"maxPlayers"`
	Visibility string         `json:"visibility,omitempty"`
	CustomData map[string]any `json:"customData,omitempty"`
}

type JoinRoomRequest struct {
	RoomID         string         `json:"roomId"`
	DisplayName    string         `json:"displayName"`
	PlayerMetadata map[string]any `json:"playerMetadata,omitempty"`
}

type ListRoomsRequest struct {
	GameMode   string `json:"gameMode,omitempty"`
	Visibility string `json:"visibility,omitempty"`
	Limit      int    `json:"limit,omitempty"`
}

type UpdateStateRequest struct {
	Patches []game.Patch `json:"patches"`
}

type GetStateRequest struct {
	Keys []string `json:"keys,omitempty"`
}

type PingRequest struct {
	Timestamp int64 `json:"timestamp"`
}

// Response payloads.

type AuthResponse struct {
	Success   bool   `json:"success"`
	SessionID string `json:"sessionId"`
}

type CreateRoomResponse struct {
	Success bool    `json:"success"`
	Room    *Room   `json:"room"`
	Player  *Player `json:"player"`
}

type JoinRoomResponse struct {
	Success      bool           `json:"success"`
	Room         *Room          `json:"room"`
	Player       *Player        `json:"player"`
	AllPlayers   []*Player      `json:"allPlayers"`
	CurrentState map[string]any `json:"currentState"`
}

type LeaveRoomResponse struct {
	Success bool `json:"success"`
}

type ListRoomsResponse struct {
	Rooms []*Room `json:"rooms"`
}

type UpdateStateResponse struct {
	Success        bool         `json:"success"`
	AppliedPatches []game.Patch `json:"appliedPatches"`
	Error          string       `json:"error,omitempty"`
}

type GetStateResponse struct {
	State map[string]any `json:"state"`
}

type PongResponse struct {
	Timestamp  int64 `json:"timestamp"`
	ServerTime int64 `json:"serverTime"`
}

// Pushed events.

// StateChangeEvent wraps a game.ChangeEvent for the event frame.
type StateChangeEvent struct {
	Type string `json:"type"`
	game.ChangeEvent
}

type PlayerJoinedEvent struct {
	Type      string  `json:"type"`
	Player    *Player `json:"player"`
	Timestamp int64   `json:"timestamp"`
}

type PlayerLeftEvent struct {
	Type      string `json:"type"`
	PlayerID  int    `json:"playerId"`
	Timestamp int64  `json:"timestamp"`
}
