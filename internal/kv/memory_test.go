package kv

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStrings(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	_, err := m.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, m.Set(ctx, "k", "v", 0))
	got, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", got)

	exists, err := m.Exists(ctx, "k")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, m.Del(ctx, "k"))
	_, err = m.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryExpiry(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "k", "v", time.Millisecond))
	time.Sleep(5 * time.Millisecond)

	_, err := m.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryHashes(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	all, err := m.HGetAll(ctx, "h")
	require.NoError(t, err)
	assert.Empty(t, all)

	require.NoError(t, m.HSet(ctx, "h", map[string]string{"a": "1", "b": "2"}))
	v, err := m.HGet(ctx, "h", "a")
	require.NoError(t, err)
	assert.Equal(t, "1", v)

	_, err = m.HGet(ctx, "h", "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	n, err := m.HLen(ctx, "h")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	require.NoError(t, m.HDel(ctx, "h", "a"))
	_, err = m.HGet(ctx, "h", "a")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryZRange(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.ZAdd(ctx, "z", 3, "c"))
	require.NoError(t, m.ZAdd(ctx, "z", 1, "a"))
	require.NoError(t, m.ZAdd(ctx, "z", 2, "b"))

	all, err := m.ZRange(ctx, "z", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, all)

	// Negative start counts from the tail, like the real thing.
	tail, err := m.ZRange(ctx, "z", -2, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, tail)

	require.NoError(t, m.ZRem(ctx, "z", "b"))
	all, err = m.ZRange(ctx, "z", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, all)

	empty, err := m.ZRange(ctx, "nope", 0, -1)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestMemoryAtomic(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	err := m.Atomic(ctx, func(b Batch) {
		b.Set("s", "v")
		b.HSet("h", map[string]string{"f": "1"})
		b.ZAdd("z", 1, "m")
	})
	require.NoError(t, err)

	v, err := m.Get(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, "v", v)

	hv, err := m.HGet(ctx, "h", "f")
	require.NoError(t, err)
	assert.Equal(t, "1", hv)

	err = m.Atomic(ctx, func(b Batch) {
		b.Del("s")
		b.HDel("h", "f")
		b.ZRem("z", "m")
	})
	require.NoError(t, err)

	_, err = m.Get(ctx, "s")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = m.HGet(ctx, "h", "f")
	assert.ErrorIs(t, err, ErrNotFound)
	members, err := m.ZRange(ctx, "z", 0, -1)
	require.NoError(t, err)
	assert.Empty(t, members)
}

func TestMemoryPubSub(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	received := make(chan string, 1)
	unsubscribe, err := m.Subscribe(ctx, "ch", func(payload string) {
		received <- payload
	})
	require.NoError(t, err)

	require.NoError(t, m.Publish(ctx, "ch", "hello"))
	select {
	case got := <-received:
		assert.Equal(t, "hello", got)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}

	unsubscribe()
	require.NoError(t, m.Publish(ctx, "ch", "after"))
	select {
	case got := <-received:
		t.Fatalf("received %q after unsubscribe", got)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryPubSubOrdering(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	const count = 20
	received := make(chan string, count)
	unsubscribe, err := m.Subscribe(ctx, "ch", func(payload string) {
		received <- payload
	})
	require.NoError(t, err)
	defer unsubscribe()

	for i := 0; i < count; i++ {
		require.NoError(t, m.Publish(ctx, "ch", strconv.Itoa(i)))
	}

	// Messages arrive in publish order, matching the redis-backed store.
	for i := 0; i < count; i++ {
		select {
		case got := <-received:
			assert.Equal(t, strconv.Itoa(i), got)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for message %d", i)
		}
	}
}
