// Package ws is the websocket transport: it accepts connections, runs
// the per-connection message loop, and routes requests into the room
// manager and game-state synchronizer.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/realsync/gateway/internal/auth"
	"github.com/realsync/gateway/internal/game"
	"github.com/realsync/gateway/internal/proto"
	"github.com/realsync/gateway/internal/room"
	"github.com/realsync/gateway/internal/session"
)

// cleanupTimeout bounds the store work done while tearing down a
// disconnected session.
const cleanupTimeout = 5 * time.Second

// Gateway dispatches protocol requests for all connections and owns the
// local fanout of room events.
type Gateway struct {
	registry *session.Registry
	rooms    *room.Manager
	game     *game.Synchronizer
	verifier *auth.Verifier
	log      *zerolog.Logger

	maxConnections int
}

func NewGateway(
	registry *session.Registry,
	rooms *room.Manager,
	sync *game.Synchronizer,
	verifier *auth.Verifier,
	maxConnections int,
	logger *zerolog.Logger,
) *Gateway {
	g := &Gateway{
		registry:       registry,
		rooms:          rooms,
		game:           sync,
		verifier:       verifier,
		maxConnections: maxConnections,
		log:            logger,
	}
	registry.SetEvictHandler(g.handleEvict)
	return g
}

// Stats exposes registry occupancy for the /stats endpoint.
func (g *Gateway) Stats() session.Stats {
	return g.registry.Stats()
}

// dispatch handles one inbound request. Requests on a single connection
// are processed sequentially; concurrency exists only across connections.
func (g *Gateway) dispatch(ctx context.Context, sess *session.Session, req *proto.Request) {
	if req.RequestID == "" || req.Type == "" {
		g.sendError(sess, req.RequestID, proto.CodeInvalidMessage, "missing requestId or type")
		return
	}

	// Any inbound traffic counts as a heartbeat, not just pings.
	sess.Touch()

	switch req.Type {
	case proto.TypeAuth:
		g.handleAuth(sess, req)
	case proto.TypeCreateRoom:
		g.handleCreateRoom(ctx, sess, req)
	case proto.TypeJoinRoom:
		g.handleJoinRoom(ctx, sess, req)
	case proto.TypeLeaveRoom:
		g.handleLeaveRoom(ctx, sess, req)
	case proto.TypeListRooms:
		g.handleListRooms(ctx, sess, req)
	case proto.TypeUpdateState:
		g.handleUpdateState(ctx, sess, req)
	case proto.TypeGetState:
		g.handleGetState(ctx, sess, req)
	case proto.TypePing:
		g.handlePing(sess, req)
	default:
		g.sendError(sess, req.RequestID, proto.CodeUnknownMessageType, "unknown message type: "+req.Type)
	}
}

func (g *Gateway) handleAuth(sess *session.Session, req *proto.Request) {
	var payload proto.AuthRequest
	if err := json.Unmarshal(req.Payload, &payload); err != nil || payload.APIKey == "" || payload.UserToken == "" {
		g.sendError(sess, req.RequestID, proto.CodeInvalidAuth, "missing apiKey or userToken")
		return
	}

	appID, err := auth.ExtractAppID(payload.APIKey)
	if err != nil {
		g.sendError(sess, req.RequestID, proto.CodeInvalidAPIKey, "invalid API key")
		return
	}

	openID, err := g.verifier.VerifyUserToken(payload.UserToken)
	if err != nil {
		g.sendError(sess, req.RequestID, proto.CodeInvalidToken, "invalid or expired token")
		return
	}

	if err := g.registry.Authenticate(sess.ID, appID, openID); err != nil {
		g.sendError(sess, req.RequestID, proto.CodeInternalError, "internal server error")
		return
	}

	g.log.Info().
		Str("session_id", sess.ID).
		Str("app_id", appID).
		Str("open_id", openID).
		Msg("session authenticated")

	g.sendResponse(sess, req.RequestID, proto.TypeAuth, proto.AuthResponse{
		Success:   true,
		SessionID: sess.ID,
	})
}

func (g *Gateway) handleCreateRoom(ctx context.Context, sess *session.Session, req *proto.Request) {
	if !g.requireAuth(sess, req.RequestID) {
		return
	}
	if _, _, ok := sess.Room(); ok {
		g.sendError(sess, req.RequestID, proto.CodeAlreadyInRoom, "already in a room")
		return
	}

	var payload proto.CreateRoomRequest
	if err := json.Unmarshal(req.Payload, &payload); err != nil ||
		payload.Name == "" || payload.GameMode == "" || payload.MaxPlayers <= 0 {
		g.sendError(sess, req.RequestID, proto.CodeInvalidParams, "missing required parameters")
		return
	}

	appID, openID := sess.Identity()
	r, err := g.rooms.CreateRoom(ctx, appID, openID, room.CreateOptions{
		Name:       payload.Name,
		GameMode:   payload.GameMode,
		MaxPlayers: payload.MaxPlayers,
		Visibility: room.Visibility(payload.Visibility),
		CustomData: payload.CustomData,
	})
	if err != nil {
		g.log.Error().Err(err).Str("session_id", sess.ID).Msg("create room failed")
		g.sendError(sess, req.RequestID, proto.CodeInternalError, "internal server error")
		return
	}

	unsubscribe, err := g.subscribeSession(ctx, sess, appID, r.RoomID)
	if err != nil {
		g.log.Error().Err(err).Str("room_id", r.RoomID).Msg("room subscription failed")
		g.sendError(sess, req.RequestID, proto.CodeInternalError, "internal server error")
		return
	}
	if displaced := sess.SetRoom(r.RoomID, 1, unsubscribe); displaced != nil {
		displaced()
	}

	g.sendResponse(sess, req.RequestID, proto.TypeCreateRoom, proto.CreateRoomResponse{
		Success: true,
		Room:    mapRoom(r),
		Player:  mapPlayer(r.Players[1]),
	})
}

func (g *Gateway) handleJoinRoom(ctx context.Context, sess *session.Session, req *proto.Request) {
	if !g.requireAuth(sess, req.RequestID) {
		return
	}
	if _, _, ok := sess.Room(); ok {
		g.sendError(sess, req.RequestID, proto.CodeAlreadyInRoom, "already in a room")
		return
	}

	var payload proto.JoinRoomRequest
	if err := json.Unmarshal(req.Payload, &payload); err != nil ||
		payload.RoomID == "" || payload.DisplayName == "" {
		g.sendError(sess, req.RequestID, proto.CodeInvalidParams, "missing roomId or displayName")
		return
	}

	appID, openID := sess.Identity()
	r, playerID, err := g.rooms.JoinRoom(ctx, appID, payload.RoomID, openID, payload.DisplayName, payload.PlayerMetadata)
	if err != nil {
		g.sendRoomError(sess, req.RequestID, err)
		return
	}

	unsubscribe, err := g.subscribeSession(ctx, sess, appID, payload.RoomID)
	if err != nil {
		g.log.Error().Err(err).Str("room_id", payload.RoomID).Msg("room subscription failed")
		g.sendError(sess, req.RequestID, proto.CodeInternalError, "internal server error")
		return
	}
	if displaced := sess.SetRoom(payload.RoomID, playerID, unsubscribe); displaced != nil {
		displaced()
	}

	currentState, err := g.game.GetState(ctx, appID, payload.RoomID, nil)
	if err != nil {
		g.log.Warn().Err(err).Str("room_id", payload.RoomID).Msg("failed to load state on join")
		currentState = map[string]any{}
	}

	g.sendResponse(sess, req.RequestID, proto.TypeJoinRoom, proto.JoinRoomResponse{
		Success:      true,
		Room:         mapRoom(r),
		Player:       mapPlayer(r.Players[playerID]),
		AllPlayers:   mapPlayers(r.Players),
		CurrentState: currentState,
	})

	g.broadcastToRoom(appID, payload.RoomID, proto.PlayerJoinedEvent{
		Type:      proto.EventPlayerJoined,
		Player:    mapPlayer(r.Players[playerID]),
		Timestamp: time.Now().UnixMilli(),
	}, sess.ID)
}

func (g *Gateway) handleLeaveRoom(ctx context.Context, sess *session.Session, req *proto.Request) {
	if !g.requireAuth(sess, req.RequestID) {
		return
	}
	roomID, playerID, ok := sess.Room()
	if !ok {
		g.sendError(sess, req.RequestID, proto.CodeNotInRoom, "not in a room")
		return
	}

	appID, openID := sess.Identity()
	if err := g.rooms.LeaveRoom(ctx, appID, roomID, openID); err != nil {
		g.sendRoomError(sess, req.RequestID, err)
		return
	}

	g.broadcastToRoom(appID, roomID, proto.PlayerLeftEvent{
		Type:      proto.EventPlayerLeft,
		PlayerID:  playerID,
		Timestamp: time.Now().UnixMilli(),
	}, sess.ID)

	if unsubscribe := sess.ClearRoom(); unsubscribe != nil {
		unsubscribe()
	}

	g.sendResponse(sess, req.RequestID, proto.TypeLeaveRoom, proto.LeaveRoomResponse{Success: true})
}

func (g *Gateway) handleListRooms(ctx context.Context, sess *session.Session, req *proto.Request) {
	if !g.requireAuth(sess, req.RequestID) {
		return
	}

	var payload proto.ListRoomsRequest
	if len(req.Payload) > 0 {
		if err := json.Unmarshal(req.Payload, &payload); err != nil {
			g.sendError(sess, req.RequestID, proto.CodeInvalidParams, "invalid payload")
			return
		}
	}

	appID, _ := sess.Identity()
	rooms, err := g.rooms.ListRooms(ctx, appID, room.ListOptions{
		GameMode:   payload.GameMode,
		Visibility: room.Visibility(payload.Visibility),
		Limit:      payload.Limit,
	})
	if err != nil {
		g.log.Error().Err(err).Str("app_id", appID).Msg("list rooms failed")
		g.sendError(sess, req.RequestID, proto.CodeInternalError, "internal server error")
		return
	}

	out := make([]*proto.Room, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, mapRoom(r))
	}
	g.sendResponse(sess, req.RequestID, proto.TypeListRooms, proto.ListRoomsResponse{Rooms: out})
}

func (g *Gateway) handleUpdateState(ctx context.Context, sess *session.Session, req *proto.Request) {
	if !g.requireAuth(sess, req.RequestID) {
		return
	}
	roomID, playerID, ok := sess.Room()
	if !ok {
		g.sendError(sess, req.RequestID, proto.CodeNotInRoom, "not in a room")
		return
	}

	var payload proto.UpdateStateRequest
	if err := json.Unmarshal(req.Payload, &payload); err != nil || payload.Patches == nil {
		g.sendError(sess, req.RequestID, proto.CodeInvalidParams, "missing or invalid patches")
		return
	}

	appID, _ := sess.Identity()
	applied, err := g.game.UpdateState(ctx, appID, roomID, payload.Patches, playerID)
	if errors.Is(err, game.ErrRoomNotFound) {
		g.sendError(sess, req.RequestID, proto.CodeRoomNotFound, "room not found")
		return
	}
	if err != nil {
		g.log.Error().Err(err).Str("room_id", roomID).Msg("update state failed")
		g.sendError(sess, req.RequestID, proto.CodeInternalError, "internal server error")
		return
	}

	g.sendResponse(sess, req.RequestID, proto.TypeUpdateState, proto.UpdateStateResponse{
		Success:        true,
		AppliedPatches: applied,
	})
}

func (g *Gateway) handleGetState(ctx context.Context, sess *session.Session, req *proto.Request) {
	if !g.requireAuth(sess, req.RequestID) {
		return
	}
	roomID, _, ok := sess.Room()
	if !ok {
		g.sendError(sess, req.RequestID, proto.CodeNotInRoom, "not in a room")
		return
	}

	var payload proto.GetStateRequest
	if len(req.Payload) > 0 {
		if err := json.Unmarshal(req.Payload, &payload); err != nil {
			g.sendError(sess, req.RequestID, proto.CodeInvalidParams, "invalid payload")
			return
		}
	}

	appID, _ := sess.Identity()
	state, err := g.game.GetState(ctx, appID, roomID, payload.Keys)
	if err != nil {
		g.log.Error().Err(err).Str("room_id", roomID).Msg("get state failed")
		g.sendError(sess, req.RequestID, proto.CodeInternalError, "internal server error")
		return
	}

	g.sendResponse(sess, req.RequestID, proto.TypeGetState, proto.GetStateResponse{State: state})
}

func (g *Gateway) handlePing(sess *session.Session, req *proto.Request) {
	var payload proto.PingRequest
	if len(req.Payload) > 0 {
		_ = json.Unmarshal(req.Payload, &payload)
	}
	g.sendResponse(sess, req.RequestID, proto.TypePong, proto.PongResponse{
		Timestamp:  payload.Timestamp,
		ServerTime: time.Now().UnixMilli(),
	})
}

// subscribeSession wires the room's change channel into the session's
// outbox. Delivery is per-session and best-effort.
func (g *Gateway) subscribeSession(ctx context.Context, sess *session.Session, appID, roomID string) (func(), error) {
	return g.game.Subscribe(ctx, appID, roomID, func(event game.ChangeEvent) {
		ok := sess.Send(&proto.Envelope{
			Type: proto.TypeEvent,
			Event: proto.StateChangeEvent{
				Type:        proto.EventStateChange,
				ChangeEvent: event,
			},
		})
		if !ok {
			g.log.Debug().Str("session_id", sess.ID).Str("room_id", roomID).Msg("state change dropped")
		}
	})
}

// broadcastToRoom pushes an event to every authenticated local session in
// the room except the originator. A slow or closed session just drops the
// frame.
func (g *Gateway) broadcastToRoom(appID, roomID string, event any, excludeSessionID string) {
	env := &proto.Envelope{Type: proto.TypeEvent, Event: event}
	for _, s := range g.registry.SessionsInRoom(appID, roomID) {
		if s.ID == excludeSessionID {
			continue
		}
		if !s.Send(env) {
			g.log.Debug().Str("session_id", s.ID).Str("room_id", roomID).Msg("event dropped")
		}
	}
}

// handleEvict is invoked by the registry sweeps after they remove a
// session; it performs the same best-effort room cleanup as a normal
// disconnect.
func (g *Gateway) handleEvict(sess *session.Session, reason string) {
	g.log.Info().Str("session_id", sess.ID).Str("reason", reason).Msg("session evicted")
	g.autoLeave(sess)
}

// teardown runs when a connection handler exits. Remove gates against the
// sweep path so cleanup happens exactly once.
func (g *Gateway) teardown(sess *session.Session) {
	if _, ok := g.registry.Remove(sess.ID); !ok {
		return
	}
	g.autoLeave(sess)
	sess.Close("connection closed")
}

// autoLeave removes the session's room membership on disconnect.
// Best-effort: a failed leave is logged and the session is dropped
// anyway; an orphaned membership entry stays in the store until a later
// join or leave repairs it.
func (g *Gateway) autoLeave(sess *session.Session) {
	roomID, playerID, ok := sess.Room()
	if !ok || !sess.Authenticated() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	appID, openID := sess.Identity()
	if err := g.rooms.LeaveRoom(ctx, appID, roomID, openID); err != nil {
		g.log.Error().Err(err).
			Str("session_id", sess.ID).
			Str("room_id", roomID).
			Msg("auto-leave failed")
	} else {
		g.broadcastToRoom(appID, roomID, proto.PlayerLeftEvent{
			Type:      proto.EventPlayerLeft,
			PlayerID:  playerID,
			Timestamp: time.Now().UnixMilli(),
		}, sess.ID)
	}

	if unsubscribe := sess.ClearRoom(); unsubscribe != nil {
		unsubscribe()
	}
}

func (g *Gateway) requireAuth(sess *session.Session, requestID string) bool {
	if !sess.Authenticated() {
		g.sendError(sess, requestID, proto.CodeNotAuthenticated, "authentication required")
		return false
	}
	return true
}

func (g *Gateway) sendRoomError(sess *session.Session, requestID string, err error) {
	switch {
	case errors.Is(err, room.ErrRoomNotFound):
		g.sendError(sess, requestID, proto.CodeRoomNotFound, "room not found")
	case errors.Is(err, room.ErrRoomFull):
		g.sendError(sess, requestID, proto.CodeRoomFull, "room is full")
	case errors.Is(err, room.ErrAlreadyInRoom):
		g.sendError(sess, requestID, proto.CodeAlreadyInRoom, "player already in room")
	case errors.Is(err, room.ErrPlayerNotInRoom):
		g.sendError(sess, requestID, proto.CodePlayerNotInRoom, "player not in room")
	default:
		g.log.Error().Err(err).Str("session_id", sess.ID).Msg("room operation failed")
		g.sendError(sess, requestID, proto.CodeInternalError, "internal server error")
	}
}

func (g *Gateway) sendResponse(sess *session.Session, requestID, msgType string, payload any) {
	sess.Send(&proto.Envelope{RequestID: requestID, Type: msgType, Payload: payload})
}

func (g *Gateway) sendError(sess *session.Session, requestID, code, message string) {
	sess.Send(&proto.Envelope{
		RequestID: requestID,
		Type:      proto.TypeError,
		Payload:   proto.Error{Code: code, Message: message},
	})
}
