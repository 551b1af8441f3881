// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/hashicorp/confstore/internal/errors"
	"github.com/redis/go-redis/v9"
)

// invalidationChannel is the pub/sub channel invalidation messages travel
// on.
const invalidationChannel = "cs:invalidations"

// Redis is the shared cache tier on a redis deployment every instance can
// reach.
type Redis struct {
	client  redis.UniversalClient
	channel string
}

// NewRedis creates a shared tier on an existing redis client.
func NewRedis(ctx context.Context, client redis.UniversalClient) (*Redis, error) {
	const op = "cache.NewRedis"
	if client == nil {
		return nil, errors.New(ctx, errors.InvalidParameter, op, "missing redis client")
	}
	return &Redis{client: client, channel: invalidationChannel}, nil
}

// Get implements Shared.
func (r *Redis) Get(ctx context.Context, key string) (*Entry, error) {
	const op = "cache.(Redis).Get"
	raw, err := r.client.Get(ctx, key).Bytes()
	switch {
	case err == redis.Nil:
		return nil, nil
	case err != nil:
		return nil, errors.New(ctx, errors.BackendUnavailable, op, "shared cache get failed", errors.WithWrap(err))
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		// treat a corrupt entry as a miss; the next fill overwrites it
		return nil, nil
	}
	return &e, nil
}

// Set implements Shared.
func (r *Redis) Set(ctx context.Context, key string, e *Entry, ttl time.Duration) error {
	const op = "cache.(Redis).Set"
	raw, err := json.Marshal(e)
	if err != nil {
		return errors.New(ctx, errors.InvalidParameter, op, "unable to encode entry", errors.WithWrap(err))
	}
	if ttl < 0 {
		ttl = 0
	}
	if err := r.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		return errors.New(ctx, errors.BackendUnavailable, op, "shared cache set failed", errors.WithWrap(err))
	}
	return nil
}

// Delete implements Shared.
func (r *Redis) Delete(ctx context.Context, keys ...string) error {
	const op = "cache.(Redis).Delete"
	if len(keys) == 0 {
		return nil
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return errors.New(ctx, errors.BackendUnavailable, op, "shared cache delete failed", errors.WithWrap(err))
	}
	return nil
}

// DeletePrefix implements Shared with a SCAN loop so large namespaces never
// block the server the way KEYS would.
func (r *Redis) DeletePrefix(ctx context.Context, prefix string) error {
	const op = "cache.(Redis).DeletePrefix"
	iter := r.client.Scan(ctx, 0, prefix+"*", 100).Iterator()
	var batch []string
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) >= 100 {
			if err := r.Delete(ctx, batch...); err != nil {
				return errors.Wrap(ctx, err, op)
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return errors.New(ctx, errors.BackendUnavailable, op, "shared cache scan failed", errors.WithWrap(err))
	}
	if err := r.Delete(ctx, batch...); err != nil {
		return errors.Wrap(ctx, err, op)
	}
	return nil
}

// Publish implements Shared.
func (r *Redis) Publish(ctx context.Context, msg string) error {
	const op = "cache.(Redis).Publish"
	if err := r.client.Publish(ctx, r.channel, msg).Err(); err != nil {
		return errors.New(ctx, errors.BackendUnavailable, op, "unable to publish invalidation", errors.WithWrap(err))
	}
	return nil
}

// Subscribe implements Shared.  Delivery runs on a dedicated goroutine until
// cancel is called.
func (r *Redis) Subscribe(ctx context.Context, fn func(msg string)) (func(), error) {
	const op = "cache.(Redis).Subscribe"
	if fn == nil {
		return nil, errors.New(ctx, errors.InvalidParameter, op, "missing handler")
	}
	sub := r.client.Subscribe(ctx, r.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, errors.New(ctx, errors.BackendUnavailable, op, "unable to subscribe", errors.WithWrap(err))
	}
	ch := sub.Channel()
	done := make(chan struct{})
	go func() {
		for {
			select {
			case m, ok := <-ch:
				if !ok {
					return
				}
				fn(m.Payload)
			case <-done:
				return
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			_ = sub.Close()
		})
	}, nil
}
