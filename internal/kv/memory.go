package kv

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Memory is an in-process Store used by tests and local development. It
// mirrors the semantics the gateway relies on: empty-map HGetAll for
// missing hashes, score-ordered ZRange with negative indexes, atomic
// batch application, and asynchronous pub/sub delivering to each
// subscriber in publish order without one slow listener stalling
// another.
type Memory struct {
	mu      sync.RWMutex
	strings map[string]memoryValue
	hashes  map[string]map[string]string
	zsets   map[string]map[string]float64

	subMu   sync.RWMutex
	nextSub int
	subs    map[string]map[int]*memorySub
}

// memorySub delivers one subscriber's messages in publish order through
// a dedicated queue drained by a single goroutine.
type memorySub struct {
	queue chan string
	done  chan struct{}
}

type memoryValue struct {
	value     string
	expiresAt time.Time
}

func NewMemory() *Memory {
	return &Memory{
		strings: make(map[string]memoryValue),
		hashes:  make(map[string]map[string]string),
		zsets:   make(map[string]map[string]float64),
		subs:    make(map[string]map[int]*memorySub),
	}
}

func (m *Memory) Get(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.strings[key]
	if !ok || (!v.expiresAt.IsZero() && time.Now().After(v.expiresAt)) {
		return "", ErrNotFound
	}
	return v.value, nil
}

func (m *Memory) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.setLocked(key, value, ttl)
	return nil
}

func (m *Memory) setLocked(key, value string, ttl time.Duration) {
	v := memoryValue{value: value}
	if ttl > 0 {
		v.expiresAt = time.Now().Add(ttl)
	}
	m.strings[key] = v
}

func (m *Memory) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.delLocked(keys...)
	return nil
}

func (m *Memory) delLocked(keys ...string) {
	for _, key := range keys {
		delete(m.strings, key)
		delete(m.hashes, key)
		delete(m.zsets, key)
	}
}

func (m *Memory) Exists(_ context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if v, ok := m.strings[key]; ok {
		if v.expiresAt.IsZero() || time.Now().Before(v.expiresAt) {
			return true, nil
		}
	}
	if len(m.hashes[key]) > 0 {
		return true, nil
	}
	if len(m.zsets[key]) > 0 {
		return true, nil
	}
	return false, nil
}

func (m *Memory) HGet(_ context.Context, key, field string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.hashes[key][field]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *Memory) HSet(_ context.Context, key string, fields map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.hsetLocked(key, fields)
	return nil
}

func (m *Memory) hsetLocked(key string, fields map[string]string) {
	h, ok := m.hashes[key]
	if !ok {
		h = make(map[string]string, len(fields))
		m.hashes[key] = h
	}
	for f, v := range fields {
		h[f] = v
	}
}

func (m *Memory) HGetAll(_ context.Context, key string) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]string, len(m.hashes[key]))
	for f, v := range m.hashes[key] {
		out[f] = v
	}
	return out, nil
}

func (m *Memory) HDel(_ context.Context, key string, fields ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.hdelLocked(key, fields...)
	return nil
}

func (m *Memory) hdelLocked(key string, fields ...string) {
	for _, f := range fields {
		delete(m.hashes[key], f)
	}
}

func (m *Memory) HLen(_ context.Context, key string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return int64(len(m.hashes[key])), nil
}

func (m *Memory) ZAdd(_ context.Context, key string, score float64, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.zaddLocked(key, score, member)
	return nil
}

func (m *Memory) zaddLocked(key string, score float64, member string) {
	z, ok := m.zsets[key]
	if !ok {
		z = make(map[string]float64)
		m.zsets[key] = z
	}
	z[member] = score
}

func (m *Memory) ZRem(_ context.Context, key, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.zsets[key], member)
	return nil
}

func (m *Memory) ZRange(_ context.Context, key string, start, stop int64) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	z := m.zsets[key]
	members := make([]string, 0, len(z))
	for member := range z {
		members = append(members, member)
	}
	sort.Slice(members, func(i, j int) bool {
		si, sj := z[members[i]], z[members[j]]
		if si == sj {
			return members[i] < members[j]
		}
		return si < sj
	})

	n := int64(len(members))
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if n == 0 || start > stop || start >= n {
		return nil, nil
	}
	return members[start : stop+1], nil
}

// Atomic applies the batch under the write lock, so readers never observe
// a partially applied batch.
func (m *Memory) Atomic(_ context.Context, fn func(b Batch)) error {
	b := &memoryBatch{}
	fn(b)

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, op := range b.ops {
		op(m)
	}
	return nil
}

// Publish enqueues the payload for each subscriber. Delivery is
// per-subscriber in publish order; a subscriber whose queue is full
// drops the message rather than stalling the publisher or its peers.
func (m *Memory) Publish(_ context.Context, channel, payload string) error {
	m.subMu.RLock()
	listeners := make([]*memorySub, 0, len(m.subs[channel]))
	for _, sub := range m.subs[channel] {
		listeners = append(listeners, sub)
	}
	m.subMu.RUnlock()

	for _, sub := range listeners {
		select {
		case sub.queue <- payload:
		default:
		}
	}
	return nil
}

func (m *Memory) Subscribe(_ context.Context, channel string, fn func(payload string)) (func(), error) {
	sub := &memorySub{
		queue: make(chan string, 64),
		done:  make(chan struct{}),
	}

	m.subMu.Lock()
	id := m.nextSub
	m.nextSub++
	if m.subs[channel] == nil {
		m.subs[channel] = make(map[int]*memorySub)
	}
	m.subs[channel][id] = sub
	m.subMu.Unlock()

	go func() {
		for {
			select {
			case payload := <-sub.queue:
				fn(payload)
			case <-sub.done:
				return
			}
		}
	}()

	return func() {
		m.subMu.Lock()
		defer m.subMu.Unlock()
		if _, ok := m.subs[channel][id]; ok {
			delete(m.subs[channel], id)
			close(sub.done)
		}
	}, nil
}

func (m *Memory) Close() error { return nil }

type memoryBatch struct {
	ops []func(*Memory)
}

func (b *memoryBatch) Set(key, value string) {
	b.ops = append(b.ops, func(m *Memory) { m.setLocked(key, value, 0) })
}

func (b *memoryBatch) Del(keys ...string) {
	b.ops = append(b.ops, func(m *Memory) { m.delLocked(keys...) })
}

func (b *memoryBatch) HSet(key string, fields map[string]string) {
	copied := make(map[string]string, len(fields))
	for f, v := range fields {
		copied[f] = v
	}
	b.ops = append(b.ops, func(m *Memory) { m.hsetLocked(key, copied) })
}

func (b *memoryBatch) HDel(key string, fields ...string) {
	b.ops = append(b.ops, func(m *Memory) { m.hdelLocked(key, fields...) })
}

func (b *memoryBatch) ZAdd(key string, score float64, member string) {
	b.ops = append(b.ops, func(m *Memory) { m.zaddLocked(key, score, member) })
}

func (b *memoryBatch) ZRem(key, member string) {
	b.ops = append(b.ops, func(m *Memory) { delete(m.zsets[key], member) })
}
