// Package kv abstracts the keyed store the gateway persists through.
//
// All cross-field consistency in the system rides on Atomic: room
// lifecycle operations write their keys in one batch, and the
// {appId:roomId} hash tag in the key layout keeps those keys co-located
// so the guarantee survives a clustered deployment.
package kv

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get and HGet when the key or field is absent.
var ErrNotFound = errors.New("kv: not found")

// Store is the keyed store capability required by the gateway.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)

	HGet(ctx context.Context, key, field string) (string, error)
	HSet(ctx context.Context, key string, fields map[string]string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HDel(ctx context.Context, key string, fields ...string) error
	HLen(ctx context.Context, key string) (int64, error)

	ZAdd(ctx context.Context, key string, score float64, member string) error
	ZRem(ctx context.Context, key, member string) error
	// ZRange returns members ordered by ascending score. Negative indexes
	// count from the end, as in the underlying store.
	ZRange(ctx context.Context, key string, start, stop int64) ([]string, error)

	// Atomic executes every command queued on the Batch as one
	// all-or-nothing unit. Keys in one batch must share a colocation tag.
	Atomic(ctx context.Context, fn func(b Batch)) error

	Publish(ctx context.Context, channel, payload string) error
	// Subscribe registers fn for messages on channel and returns an
	// unsubscribe handle. Delivery is asynchronous; a slow or failing
	// subscriber never blocks the publisher or other subscribers.
	Subscribe(ctx context.Context, channel string, fn func(payload string)) (func(), error)

	Close() error
}

// Batch queues write commands for atomic execution.
type Batch interface {
	Set(key, value string)
	Del(keys ...string)
	HSet(key string, fields map[string]string)
	HDel(key string, fields ...string)
	ZAdd(key string, score float64, member string)
	ZRem(key, member string)
}
