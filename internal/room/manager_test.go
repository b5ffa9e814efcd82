package room

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/realsync/gateway/internal/kv"
)

const testAppID = "app0000001"

func newTestManager(t *testing.T) (*Manager, *kv.Memory) {
	t.Helper()
	store := kv.NewMemory()
	logger := zerolog.Nop()
	return NewManager(store, &logger), store
}

func createTestRoom(t *testing.T, m *Manager, hostOpenID string) *Room {
	t.Helper()
	r, err := m.CreateRoom(context.Background(), testAppID, hostOpenID, CreateOptions{
		Name:       "lobby",
		GameMode:   "classic",
		MaxPlayers: 4,
	})
	require.NoError(t, err)
	return r
}

func TestCreateRoom(t *testing.T) {
	m, store := newTestManager(t)
	ctx := context.Background()

	r := createTestRoom(t, m, "host-user")

	assert.Equal(t, 1, r.CurrentPlayers)
	assert.Equal(t, VisibilityPublic, r.Visibility)
	assert.Equal(t, StatusWaiting, r.Status)

	host := r.Players[1]
	require.NotNil(t, host)
	assert.True(t, host.IsHost)
	assert.Equal(t, "host-user", host.OpenID)

	// The creator's room pointer and the index entry are written with the
	// room itself.
	pointer, err := store.Get(ctx, kv.PlayerRoomKey(testAppID, "host-user"))
	require.NoError(t, err)
	assert.Equal(t, r.RoomID, pointer)

	index, err := store.ZRange(ctx, kv.RoomIndexKey(testAppID), 0, -1)
	require.NoError(t, err)
	assert.Contains(t, index, r.RoomID)

	loaded, err := m.GetRoom(ctx, testAppID, r.RoomID)
	require.NoError(t, err)
	assert.Equal(t, r.RoomID, loaded.RoomID)
	assert.Len(t, loaded.Players, 1)
}

func TestJoinRoom(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	r := createTestRoom(t, m, "host-user")

	joined, playerID, err := m.JoinRoom(ctx, testAppID, r.RoomID, "guest-user", "Guest", map[string]any{"color": "red"})
	require.NoError(t, err)
	assert.Equal(t, 2, playerID)
	assert.Equal(t, 2, joined.CurrentPlayers)

	guest := joined.Players[2]
	require.NotNil(t, guest)
	assert.False(t, guest.IsHost)
	assert.Equal(t, "Guest", guest.DisplayName)
	assert.Equal(t, "red", guest.Metadata["color"])
}

func TestJoinRoomNotFound(t *testing.T) {
	m, _ := newTestManager(t)

	_, _, err := m.JoinRoom(context.Background(), testAppID, "room_missing", "u", "U", nil)
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestJoinRoomAlreadyInRoom(t *testing.T) {
	m, _ := newTestManager(t)
	r := createTestRoom(t, m, "host-user")

	_, _, err := m.JoinRoom(context.Background(), testAppID, r.RoomID, "host-user", "Again", nil)
	assert.ErrorIs(t, err, ErrAlreadyInRoom)
}

func TestJoinRoomFull(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	r, err := m.CreateRoom(ctx, testAppID, "host-user", CreateOptions{
		Name:       "duo",
		GameMode:   "classic",
		MaxPlayers: 2,
	})
	require.NoError(t, err)

	_, _, err = m.JoinRoom(ctx, testAppID, r.RoomID, "guest-1", "G1", nil)
	require.NoError(t, err)

	_, _, err = m.JoinRoom(ctx, testAppID, r.RoomID, "guest-2", "G2", nil)
	assert.ErrorIs(t, err, ErrRoomFull)
}

func TestLeaveRoomHostMigration(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	r := createTestRoom(t, m, "host-user")
	_, _, err := m.JoinRoom(ctx, testAppID, r.RoomID, "guest-2", "G2", nil)
	require.NoError(t, err)
	_, _, err = m.JoinRoom(ctx, testAppID, r.RoomID, "guest-3", "G3", nil)
	require.NoError(t, err)

	// Host (player 1) leaves; the lowest surviving ID inherits host status.
	require.NoError(t, m.LeaveRoom(ctx, testAppID, r.RoomID, "host-user"))

	loaded, err := m.GetRoom(ctx, testAppID, r.RoomID)
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.CurrentPlayers)
	assert.NotContains(t, loaded.Players, 1)
	require.Contains(t, loaded.Players, 2)
	assert.True(t, loaded.Players[2].IsHost)
	assert.False(t, loaded.Players[3].IsHost)
}

func TestLeaveRoomNonHostKeepsHost(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	r := createTestRoom(t, m, "host-user")
	_, _, err := m.JoinRoom(ctx, testAppID, r.RoomID, "guest-2", "G2", nil)
	require.NoError(t, err)

	require.NoError(t, m.LeaveRoom(ctx, testAppID, r.RoomID, "guest-2"))

	loaded, err := m.GetRoom(ctx, testAppID, r.RoomID)
	require.NoError(t, err)
	assert.Equal(t, 1, loaded.CurrentPlayers)
	assert.True(t, loaded.Players[1].IsHost)
}

func TestLeaveRoomNotMember(t *testing.T) {
	m, _ := newTestManager(t)
	r := createTestRoom(t, m, "host-user")

	err := m.LeaveRoom(context.Background(), testAppID, r.RoomID, "stranger")
	assert.ErrorIs(t, err, ErrPlayerNotInRoom)
}

func TestLastPlayerLeavingDeletesRoom(t *testing.T) {
	m, store := newTestManager(t)
	ctx := context.Background()

	r := createTestRoom(t, m, "host-user")
	require.NoError(t, m.LeaveRoom(ctx, testAppID, r.RoomID, "host-user"))

	_, err := m.GetRoom(ctx, testAppID, r.RoomID)
	assert.ErrorIs(t, err, ErrRoomNotFound)

	index, err := store.ZRange(ctx, kv.RoomIndexKey(testAppID), 0, -1)
	require.NoError(t, err)
	assert.NotContains(t, index, r.RoomID)

	_, err = store.Get(ctx, kv.PlayerRoomKey(testAppID, "host-user"))
	assert.ErrorIs(t, err, kv.ErrNotFound)
}

func TestListRooms(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	first, err := m.CreateRoom(ctx, testAppID, "user-a", CreateOptions{
		Name: "first", GameMode: "classic", MaxPlayers: 4,
	})
	require.NoError(t, err)
	second, err := m.CreateRoom(ctx, testAppID, "user-b", CreateOptions{
		Name: "second", GameMode: "blitz", MaxPlayers: 2,
	})
	require.NoError(t, err)
	private, err := m.CreateRoom(ctx, testAppID, "user-c", CreateOptions{
		Name: "hidden", GameMode: "classic", MaxPlayers: 4, Visibility: VisibilityPrivate,
	})
	require.NoError(t, err)

	all, err := m.ListRooms(ctx, testAppID, ListOptions{})
	require.NoError(t, err)
	require.Len(t, all, 3)

	classic, err := m.ListRooms(ctx, testAppID, ListOptions{GameMode: "classic"})
	require.NoError(t, err)
	ids := make([]string, 0, len(classic))
	for _, r := range classic {
		ids = append(ids, r.RoomID)
	}
	assert.ElementsMatch(t, []string{first.RoomID, private.RoomID}, ids)

	public, err := m.ListRooms(ctx, testAppID, ListOptions{Visibility: VisibilityPublic})
	require.NoError(t, err)
	ids = ids[:0]
	for _, r := range public {
		ids = append(ids, r.RoomID)
	}
	assert.ElementsMatch(t, []string{first.RoomID, second.RoomID}, ids)

	limited, err := m.ListRooms(ctx, testAppID, ListOptions{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestListRoomsTenantIsolation(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	createTestRoom(t, m, "host-user")

	other, err := m.ListRooms(ctx, "app0000002", ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, other)
}
