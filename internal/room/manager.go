package room

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/realsync/gateway/internal/kv"
)

var (
	ErrRoomNotFound    = errors.New("room not found")
	ErrRoomFull        = errors.New("room is full")
	ErrAlreadyInRoom   = errors.New("player already in room")
	ErrPlayerNotInRoom = errors.New("player not in room")
)

const defaultListLimit = 50

// Manager performs room lifecycle operations against the keyed store.
type Manager struct {
	store kv.Store
	log   *zerolog.Logger
}

func NewManager(store kv.Store, logger *zerolog.Logger) *Manager {
	return &Manager{store: store, log: logger}
}

// CreateOptions are the caller-supplied room parameters.
type CreateOptions struct {
	Name       string
	GameMode   string
	MaxPlayers int
	Visibility Visibility
	CustomData map[string]any
}

// ListOptions filter ListRooms. Zero values mean no filter; Limit
// defaults to 50.
type ListOptions struct {
	GameMode   string
	Visibility Visibility
	Limit      int
}

// CreateRoom generates a room, assigns the creator player ID 1 with host
// status, and writes metadata, membership, the creation-time index entry,
// the identity mappings, and an empty state bucket in one atomic batch.
func (m *Manager) CreateRoom(ctx context.Context, appID, hostOpenID string, opts CreateOptions) (*Room, error) {
	roomID := kv.NewRoomID()
	now := time.Now().UnixMilli()

	visibility := opts.Visibility
	if visibility == "" {
		visibility = VisibilityPublic
	}
	customData := opts.CustomData
	if customData == nil {
		customData = make(map[string]any)
	}

	host := &Player{
		PlayerID:    1,
		OpenID:      hostOpenID,
		IsHost:      true,
		DisplayName: "Host",
		JoinedAt:    now,
		Metadata:    make(map[string]any),
	}

	r := &Room{
		RoomID:         roomID,
		AppID:          appID,
		Name:           opts.Name,
		GameMode:       opts.GameMode,
		MaxPlayers:     opts.MaxPlayers,
		CurrentPlayers: 1,
		Visibility:     visibility,
		Status:         StatusWaiting,
		CreatedAt:      now,
		UpdatedAt:      now,
		CustomData:     customData,
		Players:        map[int]*Player{1: host},
	}

	metadata, err := metadataFields(r)
	if err != nil {
		return nil, err
	}
	players, err := playerFields(r.Players)
	if err != nil {
		return nil, err
	}

	err = m.store.Atomic(ctx, func(b kv.Batch) {
		b.HSet(kv.RoomMetadataKey(appID, roomID), metadata)
		b.HSet(kv.RoomPlayersKey(appID, roomID), players)
		b.ZAdd(kv.RoomIndexKey(appID), float64(now), roomID)
		b.Set(kv.PlayerRoomKey(appID, hostOpenID), roomID)
		b.HSet(kv.PlayerIDsKey(appID, roomID), map[string]string{hostOpenID: "1"})
	})
	if err != nil {
		return nil, fmt.Errorf("create room %s: %w", roomID, err)
	}

	m.log.Info().
		Str("app_id", appID).
		Str("room_id", roomID).
		Str("game_mode", r.GameMode).
		Msg("room created")

	return r, nil
}

// JoinRoom adds the identity to the room with player ID currentPlayers+1.
func (m *Manager) JoinRoom(ctx context.Context, appID, roomID, openID, displayName string, metadata map[string]any) (*Room, int, error) {
	r, err := m.GetRoom(ctx, appID, roomID)
	if err != nil {
		return nil, 0, err
	}

	if r.CurrentPlayers >= r.MaxPlayers {
		return nil, 0, ErrRoomFull
	}

	_, err = m.store.HGet(ctx, kv.PlayerIDsKey(appID, roomID), openID)
	if err == nil {
		return nil, 0, ErrAlreadyInRoom
	}
	if !errors.Is(err, kv.ErrNotFound) {
		return nil, 0, fmt.Errorf("check membership: %w", err)
	}

	playerID := r.CurrentPlayers + 1
	now := time.Now().UnixMilli()
	if metadata == nil {
		metadata = make(map[string]any)
	}

	player := &Player{
		PlayerID:    playerID,
		OpenID:      openID,
		DisplayName: displayName,
		JoinedAt:    now,
		Metadata:    metadata,
	}
	r.Players[playerID] = player
	r.CurrentPlayers++
	r.UpdatedAt = now

	metadataF, err := metadataFields(r)
	if err != nil {
		return nil, 0, err
	}
	playersF, err := playerFields(r.Players)
	if err != nil {
		return nil, 0, err
	}

	err = m.store.Atomic(ctx, func(b kv.Batch) {
		b.HSet(kv.RoomMetadataKey(appID, roomID), metadataF)
		b.HSet(kv.RoomPlayersKey(appID, roomID), playersF)
		b.Set(kv.PlayerRoomKey(appID, openID), roomID)
		b.HSet(kv.PlayerIDsKey(appID, roomID), map[string]string{openID: strconv.Itoa(playerID)})
	})
	if err != nil {
		return nil, 0, fmt.Errorf("join room %s: %w", roomID, err)
	}

	m.log.Info().
		Str("app_id", appID).
		Str("room_id", roomID).
		Int("player_id", playerID).
		Msg("player joined")

	return r, playerID, nil
}

// LeaveRoom removes the identity from the room. The last player leaving
// deletes the room entirely; a departing host hands host status to the
// remaining player with the lowest player ID.
func (m *Manager) LeaveRoom(ctx context.Context, appID, roomID, openID string) error {
	r, err := m.GetRoom(ctx, appID, roomID)
	if err != nil {
		return err
	}

	rawID, err := m.store.HGet(ctx, kv.PlayerIDsKey(appID, roomID), openID)
	if errors.Is(err, kv.ErrNotFound) {
		return ErrPlayerNotInRoom
	}
	if err != nil {
		return fmt.Errorf("resolve player id: %w", err)
	}
	playerID, err := strconv.Atoi(rawID)
	if err != nil {
		return fmt.Errorf("parse player id %q: %w", rawID, err)
	}
	player, ok := r.Players[playerID]
	if !ok {
		return ErrPlayerNotInRoom
	}

	wasHost := player.IsHost
	delete(r.Players, playerID)
	r.CurrentPlayers--
	r.UpdatedAt = time.Now().UnixMilli()

	if r.CurrentPlayers == 0 {
		return m.deleteRoom(ctx, appID, roomID, openID)
	}

	if wasHost {
		// Host migration must be deterministic: pick the lowest surviving
		// player ID, never map iteration order.
		ids := make([]int, 0, len(r.Players))
		for id := range r.Players {
			ids = append(ids, id)
		}
		sort.Ints(ids)
		r.Players[ids[0]].IsHost = true

		m.log.Info().
			Str("room_id", roomID).
			Int("new_host", ids[0]).
			Msg("host migrated")
	}

	metadataF, err := metadataFields(r)
	if err != nil {
		return err
	}
	playersF, err := playerFields(r.Players)
	if err != nil {
		return err
	}

	err = m.store.Atomic(ctx, func(b kv.Batch) {
		b.HSet(kv.RoomMetadataKey(appID, roomID), metadataF)
		b.HDel(kv.RoomPlayersKey(appID, roomID), playerFieldPrefix+rawID)
		b.HSet(kv.RoomPlayersKey(appID, roomID), playersF)
		b.Del(kv.PlayerRoomKey(appID, openID))
		b.HDel(kv.PlayerIDsKey(appID, roomID), openID)
	})
	if err != nil {
		return fmt.Errorf("leave room %s: %w", roomID, err)
	}

	m.log.Info().
		Str("app_id", appID).
		Str("room_id", roomID).
		Int("player_id", playerID).
		Msg("player left")

	return nil
}

// GetRoom loads metadata and membership. Absent metadata means the room
// does not exist.
func (m *Manager) GetRoom(ctx context.Context, appID, roomID string) (*Room, error) {
	metadata, err := m.store.HGetAll(ctx, kv.RoomMetadataKey(appID, roomID))
	if err != nil {
		return nil, fmt.Errorf("read room metadata: %w", err)
	}
	if len(metadata) == 0 {
		return nil, ErrRoomNotFound
	}

	r, err := parseMetadata(appID, roomID, metadata)
	if err != nil {
		return nil, fmt.Errorf("room %s: %w", roomID, err)
	}

	playerData, err := m.store.HGetAll(ctx, kv.RoomPlayersKey(appID, roomID))
	if err != nil {
		return nil, fmt.Errorf("read room members: %w", err)
	}
	players, err := parsePlayers(playerData)
	if err != nil {
		return nil, fmt.Errorf("room %s: %w", roomID, err)
	}
	r.Players = players

	return r, nil
}

// ListRooms returns rooms newest-first from the creation-time index,
// filtered and capped at the limit. Index entries whose metadata is gone
// are skipped.
func (m *Manager) ListRooms(ctx context.Context, appID string, opts ListOptions) ([]*Room, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	roomIDs, err := m.store.ZRange(ctx, kv.RoomIndexKey(appID), int64(-limit), -1)
	if err != nil {
		return nil, fmt.Errorf("read room index: %w", err)
	}

	rooms := make([]*Room, 0, len(roomIDs))
	// Index is ascending by creation time; walk backwards for newest-first.
	for i := len(roomIDs) - 1; i >= 0; i-- {
		r, err := m.GetRoom(ctx, appID, roomIDs[i])
		if errors.Is(err, ErrRoomNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if opts.GameMode != "" && r.GameMode != opts.GameMode {
			continue
		}
		if opts.Visibility != "" && r.Visibility != opts.Visibility {
			continue
		}
		rooms = append(rooms, r)
	}

	return rooms, nil
}

// deleteRoom removes every key belonging to the room plus the departing
// identity's room pointer, atomically.
func (m *Manager) deleteRoom(ctx context.Context, appID, roomID, lastOpenID string) error {
	err := m.store.Atomic(ctx, func(b kv.Batch) {
		b.Del(
			kv.RoomMetadataKey(appID, roomID),
			kv.RoomPlayersKey(appID, roomID),
			kv.GameStateKey(appID, roomID),
			kv.PlayerIDsKey(appID, roomID),
			kv.PlayerRoomKey(appID, lastOpenID),
		)
		b.ZRem(kv.RoomIndexKey(appID), roomID)
	})
	if err != nil {
		return fmt.Errorf("delete room %s: %w", roomID, err)
	}

	m.log.Info().
		Str("app_id", appID).
		Str("room_id", roomID).
		Msg("room deleted")

	return nil
}
