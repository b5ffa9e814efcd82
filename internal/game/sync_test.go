package game

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/realsync/gateway/internal/kv"
)

const (
	testAppID  = "app0000001"
	testRoomID = "room_1_abc"
)

func newTestSync(t *testing.T) (*Synchronizer, *kv.Memory) {
	t.Helper()
	store := kv.NewMemory()
	logger := zerolog.Nop()

	// A state update requires room metadata to exist.
	err := store.HSet(context.Background(), kv.RoomMetadataKey(testAppID, testRoomID),
		map[string]string{"name": "test"})
	require.NoError(t, err)

	return NewSynchronizer(store, &logger), store
}

func TestUpdateStateSet(t *testing.T) {
	s, _ := newTestSync(t)
	ctx := context.Background()

	applied, err := s.UpdateState(ctx, testAppID, testRoomID, []Patch{
		{Path: "phase", Value: "playing", Op: OpSet},
		{Path: "round", Value: float64(1), Op: OpSet},
	}, 1)
	require.NoError(t, err)
	require.Len(t, applied, 2)

	state, err := s.GetState(ctx, testAppID, testRoomID, nil)
	require.NoError(t, err)
	assert.Equal(t, "playing", state["phase"])
	assert.Equal(t, float64(1), state["round"])
}

func TestUpdateStateDelete(t *testing.T) {
	s, _ := newTestSync(t)
	ctx := context.Background()

	_, err := s.UpdateState(ctx, testAppID, testRoomID, []Patch{
		{Path: "phase", Value: "playing", Op: OpSet},
	}, 1)
	require.NoError(t, err)

	applied, err := s.UpdateState(ctx, testAppID, testRoomID, []Patch{
		{Path: "phase", Op: OpDelete},
	}, 1)
	require.NoError(t, err)
	require.Len(t, applied, 1)
	assert.Equal(t, OpDelete, applied[0].Op)

	state, err := s.GetState(ctx, testAppID, testRoomID, nil)
	require.NoError(t, err)
	assert.NotContains(t, state, "phase")
}

func TestUpdateStateIncrement(t *testing.T) {
	s, _ := newTestSync(t)
	ctx := context.Background()

	// Increment of an absent path starts from zero.
	applied, err := s.UpdateState(ctx, testAppID, testRoomID, []Patch{
		{Path: "score", Value: float64(3), Op: OpIncrement},
	}, 1)
	require.NoError(t, err)
	require.Len(t, applied, 1)
	// Applied patches are normalized to the value actually written.
	assert.Equal(t, OpSet, applied[0].Op)
	assert.Equal(t, float64(3), applied[0].Value)

	applied, err = s.UpdateState(ctx, testAppID, testRoomID, []Patch{
		{Path: "score", Value: float64(3), Op: OpIncrement},
	}, 2)
	require.NoError(t, err)
	assert.Equal(t, float64(6), applied[0].Value)

	state, err := s.GetState(ctx, testAppID, testRoomID, []string{"score"})
	require.NoError(t, err)
	assert.Equal(t, float64(6), state["score"])
}

func TestUpdateStateIncrementNegative(t *testing.T) {
	s, _ := newTestSync(t)
	ctx := context.Background()

	_, err := s.UpdateState(ctx, testAppID, testRoomID, []Patch{
		{Path: "score", Value: float64(10), Op: OpSet},
	}, 1)
	require.NoError(t, err)

	applied, err := s.UpdateState(ctx, testAppID, testRoomID, []Patch{
		{Path: "score", Value: float64(-4), Op: OpIncrement},
	}, 1)
	require.NoError(t, err)
	assert.Equal(t, float64(6), applied[0].Value)
}

func TestUpdateStateIncrementOverwritesNonNumeric(t *testing.T) {
	s, _ := newTestSync(t)
	ctx := context.Background()

	_, err := s.UpdateState(ctx, testAppID, testRoomID, []Patch{
		{Path: "score", Value: "not a number", Op: OpSet},
	}, 1)
	require.NoError(t, err)

	// A non-numeric stored value is treated as absent: the delta wins.
	applied, err := s.UpdateState(ctx, testAppID, testRoomID, []Patch{
		{Path: "score", Value: float64(5), Op: OpIncrement},
	}, 1)
	require.NoError(t, err)
	assert.Equal(t, float64(5), applied[0].Value)
}

func TestUpdateStateAppend(t *testing.T) {
	s, _ := newTestSync(t)
	ctx := context.Background()

	applied, err := s.UpdateState(ctx, testAppID, testRoomID, []Patch{
		{Path: "moves", Value: []any{"e4"}, Op: OpAppend},
	}, 1)
	require.NoError(t, err)
	assert.Equal(t, OpSet, applied[0].Op)
	assert.Equal(t, []any{"e4"}, applied[0].Value)

	applied, err = s.UpdateState(ctx, testAppID, testRoomID, []Patch{
		{Path: "moves", Value: []any{"e5", "Nf3"}, Op: OpAppend},
	}, 2)
	require.NoError(t, err)
	assert.Equal(t, []any{"e4", "e5", "Nf3"}, applied[0].Value)
}

func TestUpdateStateBadOperandIsolated(t *testing.T) {
	s, _ := newTestSync(t)
	ctx := context.Background()

	// The bad INCREMENT is skipped; the surrounding patches still apply.
	applied, err := s.UpdateState(ctx, testAppID, testRoomID, []Patch{
		{Path: "a", Value: float64(1), Op: OpSet},
		{Path: "b", Value: "oops", Op: OpIncrement},
		{Path: "c", Value: float64(2), Op: OpSet},
	}, 1)
	require.NoError(t, err)
	require.Len(t, applied, 2)
	assert.Equal(t, "a", applied[0].Path)
	assert.Equal(t, "c", applied[1].Path)

	state, err := s.GetState(ctx, testAppID, testRoomID, nil)
	require.NoError(t, err)
	assert.NotContains(t, state, "b")
}

func TestUpdateStateUnknownOp(t *testing.T) {
	s, _ := newTestSync(t)
	ctx := context.Background()

	applied, err := s.UpdateState(ctx, testAppID, testRoomID, []Patch{
		{Path: "a", Value: float64(1), Op: "MERGE"},
	}, 1)
	require.NoError(t, err)
	assert.Empty(t, applied)
}

func TestUpdateStateRoomNotFound(t *testing.T) {
	s, _ := newTestSync(t)

	_, err := s.UpdateState(context.Background(), testAppID, "room_missing", []Patch{
		{Path: "a", Value: float64(1), Op: OpSet},
	}, 1)
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestUpdateStatePublishesOnce(t *testing.T) {
	s, _ := newTestSync(t)
	ctx := context.Background()

	events := make(chan ChangeEvent, 4)
	unsubscribe, err := s.Subscribe(ctx, testAppID, testRoomID, func(ev ChangeEvent) {
		events <- ev
	})
	require.NoError(t, err)
	defer unsubscribe()

	_, err = s.UpdateState(ctx, testAppID, testRoomID, []Patch{
		{Path: "a", Value: float64(1), Op: OpSet},
		{Path: "b", Value: float64(2), Op: OpSet},
	}, 7)
	require.NoError(t, err)

	select {
	case ev := <-events:
		assert.Equal(t, testRoomID, ev.RoomID)
		assert.Equal(t, 7, ev.FromPlayerID)
		assert.Len(t, ev.Patches, 2)
		assert.NotZero(t, ev.Timestamp)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for change event")
	}

	select {
	case <-events:
		t.Fatal("expected a single event per update")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUpdateStateNoEventWhenNothingApplied(t *testing.T) {
	s, _ := newTestSync(t)
	ctx := context.Background()

	events := make(chan ChangeEvent, 1)
	unsubscribe, err := s.Subscribe(ctx, testAppID, testRoomID, func(ev ChangeEvent) {
		events <- ev
	})
	require.NoError(t, err)
	defer unsubscribe()

	applied, err := s.UpdateState(ctx, testAppID, testRoomID, []Patch{
		{Path: "b", Value: "oops", Op: OpIncrement},
	}, 1)
	require.NoError(t, err)
	assert.Empty(t, applied)

	select {
	case <-events:
		t.Fatal("no event expected when every patch was skipped")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestGetStateKeys(t *testing.T) {
	s, _ := newTestSync(t)
	ctx := context.Background()

	_, err := s.UpdateState(ctx, testAppID, testRoomID, []Patch{
		{Path: "a", Value: float64(1), Op: OpSet},
		{Path: "b", Value: float64(2), Op: OpSet},
	}, 1)
	require.NoError(t, err)

	state, err := s.GetState(ctx, testAppID, testRoomID, []string{"a", "missing"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": float64(1)}, state)
}

func TestClearState(t *testing.T) {
	s, _ := newTestSync(t)
	ctx := context.Background()

	_, err := s.UpdateState(ctx, testAppID, testRoomID, []Patch{
		{Path: "a", Value: float64(1), Op: OpSet},
	}, 1)
	require.NoError(t, err)

	require.NoError(t, s.ClearState(ctx, testAppID, testRoomID))

	state, err := s.GetState(ctx, testAppID, testRoomID, nil)
	require.NoError(t, err)
	assert.Empty(t, state)
}
