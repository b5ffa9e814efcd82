package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis implements Store on top of a go-redis client. A single instance
// is constructed at process startup and handed to every component that
// persists state; lifecycle belongs to the entry point.
type Redis struct {
	client *redis.Client
}

// NewRedis connects to the store at url (redis://...) and verifies the
// connection with a ping before returning.
func NewRedis(ctx context.Context, url string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Redis{client: client}, nil
}

func (r *Redis) Get(ctx context.Context, key string) (string, error) {
	val, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	return val, err
}

func (r *Redis) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *Redis) Del(ctx context.Context, keys ...string) error {
	return r.client.Del(ctx, keys...).Err()
}

func (r *Redis) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, key).Result()
	return n > 0, err
}

func (r *Redis) HGet(ctx context.Context, key, field string) (string, error) {
	val, err := r.client.HGet(ctx, key, field).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	return val, err
}

func (r *Redis) HSet(ctx context.Context, key string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	return r.client.HSet(ctx, key, fields).Err()
}

func (r *Redis) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return r.client.HGetAll(ctx, key).Result()
}

func (r *Redis) HDel(ctx context.Context, key string, fields ...string) error {
	return r.client.HDel(ctx, key, fields...).Err()
}

func (r *Redis) HLen(ctx context.Context, key string) (int64, error) {
	return r.client.HLen(ctx, key).Result()
}

func (r *Redis) ZAdd(ctx context.Context, key string, score float64, member string) error {
	return r.client.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err()
}

func (r *Redis) ZRem(ctx context.Context, key, member string) error {
	return r.client.ZRem(ctx, key, member).Err()
}

func (r *Redis) ZRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return r.client.ZRange(ctx, key, start, stop).Result()
}

// Atomic runs the queued commands in a MULTI/EXEC transaction.
func (r *Redis) Atomic(ctx context.Context, fn func(b Batch)) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		fn(&redisBatch{ctx: ctx, pipe: pipe})
		return nil
	})
	return err
}

func (r *Redis) Publish(ctx context.Context, channel, payload string) error {
	return r.client.Publish(ctx, channel, payload).Err()
}

// Subscribe opens a dedicated pub/sub connection for the channel. The
// returned handle closes that connection, which ends delivery.
func (r *Redis) Subscribe(ctx context.Context, channel string, fn func(payload string)) (func(), error) {
	ps := r.client.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}

	go func() {
		for msg := range ps.Channel() {
			fn(msg.Payload)
		}
	}()

	return func() { _ = ps.Close() }, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}

type redisBatch struct {
	ctx  context.Context
	pipe redis.Pipeliner
}

func (b *redisBatch) Set(key, value string) {
	b.pipe.Set(b.ctx, key, value, 0)
}

func (b *redisBatch) Del(keys ...string) {
	b.pipe.Del(b.ctx, keys...)
}

func (b *redisBatch) HSet(key string, fields map[string]string) {
	if len(fields) == 0 {
		return
	}
	b.pipe.HSet(b.ctx, key, fields)
}

func (b *redisBatch) HDel(key string, fields ...string) {
	b.pipe.HDel(b.ctx, key, fields...)
}

func (b *redisBatch) ZAdd(key string, score float64, member string) {
	b.pipe.ZAdd(b.ctx, key, redis.Z{Score: score, Member: member})
}

func (b *redisBatch) ZRem(key, member string) {
	b.pipe.ZRem(b.ctx, key, member)
}
