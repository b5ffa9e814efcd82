package client

import (
	"github.com/realsync/gateway/internal/game"
	"github.com/realsync/gateway/internal/proto"
)

// The wire types live in internal packages shared with the server.
// Aliases re-export them here so consuming modules can name every
// argument and callback parameter of the SDK.

type (
	// Patch is one typed mutation of a single dot-delimited state path.
	Patch = game.Patch
	// Op is a patch operation kind.
	Op = game.Op
	// ChangeEvent describes the patches applied by one state update.
	ChangeEvent = game.ChangeEvent

	// Room is the wire representation of a room.
	Room = proto.Room
	// Player is the wire representation of a room member.
	Player = proto.Player

	CreateRoomRequest   = proto.CreateRoomRequest
	JoinRoomRequest     = proto.JoinRoomRequest
	ListRoomsRequest    = proto.ListRoomsRequest
	CreateRoomResponse  = proto.CreateRoomResponse
	JoinRoomResponse    = proto.JoinRoomResponse
	UpdateStateResponse = proto.UpdateStateResponse
)

// Patch operations.
const (
	OpSet       = game.OpSet
	OpDelete    = game.OpDelete
	OpIncrement = game.OpIncrement
	OpAppend    = game.OpAppend
)

// Error codes carried by ServerError.Code.
const (
	CodeInvalidMessage     = proto.CodeInvalidMessage
	CodeUnknownMessageType = proto.CodeUnknownMessageType
	CodeInvalidParams      = proto.CodeInvalidParams
	CodeInvalidAuth        = proto.CodeInvalidAuth
	CodeInvalidToken       = proto.CodeInvalidToken
	CodeInvalidAPIKey      = proto.CodeInvalidAPIKey
	CodeNotAuthenticated   = proto.CodeNotAuthenticated
	CodeNotInRoom          = proto.CodeNotInRoom
	CodeRoomNotFound       = proto.CodeRoomNotFound
	CodeRoomFull           = proto.CodeRoomFull
	CodeAlreadyInRoom      = proto.CodeAlreadyInRoom
	CodePlayerNotInRoom    = proto.CodePlayerNotInRoom
	CodeInternalError      = proto.CodeInternalError
)
