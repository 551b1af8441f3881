// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package cache is the two-tier read cache: a small in-process LRU in front
// of an optional shared tier.  Secret plaintext only ever lives in the
// in-process tier; the shared tier sees ciphertext envelopes and decryption
// happens on promotion.
package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/confstore/internal/coordinate"
	"github.com/hashicorp/confstore/internal/errors"
	"github.com/hashicorp/confstore/internal/value"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-secure-stdlib/base62"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

// keyPrefix namespaces cache keys in the shared tier.
const keyPrefix = "cs:"

// Key renders a coordinate's cache key.
func Key(c coordinate.Coordinate) string {
	return keyPrefix + c.TenantId + ":" + c.Namespace + ":" + c.Environment.String() + ":" + c.Key
}

// NamespaceKeyPrefix renders the key prefix shared by every key in a
// tenant's namespace and environment.
func NamespaceKeyPrefix(tenantId, namespace, env string) string {
	return keyPrefix + tenantId + ":" + namespace + ":" + env + ":"
}

// Entry is one cached read result.  Data is plaintext in the in-process
// tier; when Encrypted is set the entry came from (or is destined for) the
// shared tier and Data is the serialized ciphertext envelope.
type Entry struct {
	Coordinate string     `json:"coordinate"`
	Version    uint64     `json:"version"`
	Kind       value.Kind `json:"kind"`
	Data       []byte     `json:"data"`
	Encrypted  bool       `json:"encrypted,omitempty"`
}

// Zero overwrites the entry's data in place.  Called for secret plaintext
// when the in-process tier evicts.
func (e *Entry) Zero() {
	for i := range e.Data {
		e.Data[i] = 0
	}
}

// LoadFunc loads an entry from the source of truth on a cache miss.  The
// first return value is what the caller (and the in-process tier) gets; the
// second is the shared-tier form, nil when nothing may be shared.  For
// secrets the shared form carries the ciphertext envelope.
type LoadFunc func(ctx context.Context) (*Entry, *Entry, error)

// PromoteFunc turns a shared-tier entry into its in-process form, decrypting
// a secret's envelope.  Returning an error makes the shared hit a miss.
type PromoteFunc func(ctx context.Context, key string, e *Entry) (*Entry, error)

// Tiered is the two-tier cache.  Reads fall through in-process, shared,
// then source, with concurrent misses for the same key collapsed into one
// load.  Shared-tier failures degrade the cache to in-process only; they
// never fail a read the source can serve.
type Tiered struct {
	// id distinguishes this instance's invalidation messages from other
	// instances' so a writer keeps its own fresh entry.
	id string

	l1      *lru.LRU[string, *Entry]
	l2      Shared
	promote PromoteFunc
	logger  hclog.Logger
	ttl     time.Duration
	group   singleflight.Group

	mu     sync.Mutex
	cancel func()
}

// NewTiered creates a Tiered cache.  Supported options: WithSize, WithTTL,
// WithShared, WithPromoteFunc, WithLogger.
func NewTiered(ctx context.Context, opt ...Option) (*Tiered, error) {
	const op = "cache.NewTiered"
	opts := getOpts(opt...)
	if opts.withSize <= 0 {
		return nil, errors.New(ctx, errors.InvalidParameter, op, "cache size must be positive")
	}
	logger := opts.withLogger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	id, err := base62.Random(10)
	if err != nil {
		return nil, errors.New(ctx, errors.Io, op, "unable to generate instance id", errors.WithWrap(err))
	}
	t := &Tiered{
		id:      id,
		l2:      opts.withShared,
		promote: opts.withPromote,
		logger:  logger.Named("cache"),
		ttl:     opts.withTTL,
	}
	t.l1 = lru.NewLRU(opts.withSize, t.onEvict, opts.withTTL)
	return t, nil
}

// onEvict zeroes secret plaintext leaving the in-process tier.
func (t *Tiered) onEvict(_ string, e *Entry) {
	if e != nil && e.Kind == value.KindSecret && !e.Encrypted {
		e.Zero()
	}
}

// Start subscribes to shared-tier invalidation messages so writes elsewhere
// drop this instance's in-process entries.  It returns immediately; Stop
// ends the subscription.
func (t *Tiered) Start(ctx context.Context) error {
	const op = "cache.(Tiered).Start"
	if t.l2 == nil {
		return nil
	}
	cancel, err := t.l2.Subscribe(ctx, t.applyInvalidation)
	if err != nil {
		return errors.Wrap(ctx, err, op)
	}
	t.mu.Lock()
	t.cancel = cancel
	t.mu.Unlock()
	return nil
}

// Stop ends the invalidation subscription, if one is running.
func (t *Tiered) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
}

// applyInvalidation handles one invalidation message of the form
// "<instance-id>|<key>".  Messages from this instance are ignored; a
// trailing "*" marks a prefix drop.
func (t *Tiered) applyInvalidation(msg string) {
	origin, key, found := strings.Cut(msg, "|")
	if !found || origin == t.id {
		return
	}
	t.dropLocal(key)
}

func (t *Tiered) dropLocal(key string) {
	if prefix, ok := strings.CutSuffix(key, "*"); ok {
		for _, k := range t.l1.Keys() {
			if strings.HasPrefix(k, prefix) {
				t.l1.Remove(k)
			}
		}
		return
	}
	t.l1.Remove(key)
}

// publish broadcasts an invalidation for key, tagged with this instance's
// id.  Failures are logged; the local tiers are already correct.
func (t *Tiered) publish(ctx context.Context, key string) {
	if err := t.l2.Publish(ctx, t.id+"|"+key); err != nil {
		t.logger.Warn("unable to publish cache invalidation", "key", key, "error", err)
	}
}

// Get returns the entry for key, loading it on a miss.  An entry older than
// minVersion is treated as a miss, which gives writers read-your-writes
// against their own commits.  Concurrent misses share one load.
func (t *Tiered) Get(ctx context.Context, key string, minVersion uint64, load LoadFunc) (*Entry, error) {
	const op = "cache.(Tiered).Get"
	if key == "" {
		return nil, errors.New(ctx, errors.InvalidParameter, op, "missing key")
	}
	if load == nil {
		return nil, errors.New(ctx, errors.InvalidParameter, op, "missing load func")
	}
	if e, ok := t.l1.Get(key); ok && e.Version >= minVersion {
		return e, nil
	}
	v, err, _ := t.group.Do(key, func() (any, error) {
		if e, ok := t.l1.Get(key); ok && e.Version >= minVersion {
			return e, nil
		}
		if e := t.sharedGet(ctx, key, minVersion); e != nil {
			return e, nil
		}
		e, shared, err := load(ctx)
		if err != nil {
			return nil, err
		}
		t.fill(ctx, key, e, shared)
		return e, nil
	})
	if err != nil {
		return nil, errors.Wrap(ctx, err, op)
	}
	return v.(*Entry), nil
}

// sharedGet consults the shared tier, promoting a hit into the in-process
// tier.  Any failure is logged and treated as a miss.
func (t *Tiered) sharedGet(ctx context.Context, key string, minVersion uint64) *Entry {
	if t.l2 == nil {
		return nil
	}
	e, err := t.l2.Get(ctx, key)
	if err != nil {
		t.logger.Warn("shared cache unavailable, serving without it", "error", err)
		return nil
	}
	if e == nil || e.Version < minVersion {
		return nil
	}
	if e.Encrypted {
		if t.promote == nil {
			return nil
		}
		p, err := t.promote(ctx, key, e)
		if err != nil {
			t.logger.Warn("unable to promote shared cache entry", "key", key, "error", err)
			return nil
		}
		e = p
	}
	t.l1.Add(key, e)
	return e
}

// fill installs an entry in both tiers.  The shared form may be nil to keep
// the value in-process only.  A tier already holding a newer version keeps
// it: a load that raced a write must not reinstall the version the write
// replaced.
func (t *Tiered) fill(ctx context.Context, key string, e, shared *Entry) {
	if cur, ok := t.l1.Get(key); !ok || cur.Version <= e.Version {
		t.l1.Add(key, e)
	}
	if t.l2 == nil || shared == nil {
		return
	}
	if cur, err := t.l2.Get(ctx, key); err == nil && cur != nil && cur.Version > shared.Version {
		return
	}
	if err := t.l2.Set(ctx, key, shared, t.ttl); err != nil {
		t.logger.Warn("unable to fill shared cache", "key", key, "error", err)
	}
}

// Refresh installs a freshly written value and tells other instances to
// drop theirs.  Used on the write path so the writer reads its own commit.
func (t *Tiered) Refresh(ctx context.Context, key string, e, shared *Entry) {
	t.fill(ctx, key, e, shared)
	if t.l2 == nil {
		return
	}
	t.publish(ctx, key)
}

// Invalidate drops the key from both tiers and broadcasts the drop.
func (t *Tiered) Invalidate(ctx context.Context, key string) {
	t.dropLocal(key)
	if t.l2 == nil {
		return
	}
	if err := t.l2.Delete(ctx, key); err != nil {
		t.logger.Warn("unable to delete from shared cache", "key", key, "error", err)
	}
	t.publish(ctx, key)
}

// InvalidateNamespace drops every key under the prefix from both tiers and
// broadcasts a prefix drop.
func (t *Tiered) InvalidateNamespace(ctx context.Context, prefix string) {
	t.dropLocal(prefix + "*")
	if t.l2 == nil {
		return
	}
	if err := t.l2.DeletePrefix(ctx, prefix); err != nil {
		t.logger.Warn("unable to delete prefix from shared cache", "prefix", prefix, "error", err)
	}
	t.publish(ctx, prefix+"*")
}
