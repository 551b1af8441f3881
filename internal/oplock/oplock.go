// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package oplock provides the per-coordinate exclusive lock the version store
// uses to serialize commits.  Locks are keyed by coordinate; commits to
// different coordinates never contend.  Acquisition is attempted a small fixed
// number of times with exponential backoff before surfacing Busy.
package oplock

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/confstore/internal/errors"
)

const (
	// DefaultMaxRetries bounds lock acquisition attempts before Busy.
	DefaultMaxRetries = 5

	// DefaultInitialInterval seeds the exponential backoff between attempts.
	DefaultInitialInterval = 5 * time.Millisecond
)

// Keyed hands out exclusive locks by key.  The zero value is not usable; use
// New.
type Keyed struct {
	mu    sync.Mutex
	locks map[string]*entry

	maxRetries      uint64
	initialInterval time.Duration
}

type entry struct {
	m    sync.Mutex
	refs int
}

// New creates a Keyed lock set.  Supported options: WithMaxRetries,
// WithInitialInterval.
func New(opt ...Option) *Keyed {
	opts := getOpts(opt...)
	return &Keyed{
		locks:           make(map[string]*entry),
		maxRetries:      opts.withMaxRetries,
		initialInterval: opts.withInitialInterval,
	}
}

// Acquire locks key, retrying with bounded exponential backoff while another
// operation holds it.  It returns a release func on success and a Busy error
// once the retry budget is exhausted.  The context is honored between
// attempts, so callers can cancel while waiting but never while holding.
func (k *Keyed) Acquire(ctx context.Context, key string) (release func(), err error) {
	const op = "oplock.(Keyed).Acquire"
	if key == "" {
		return nil, errors.New(ctx, errors.InvalidParameter, op, "missing lock key")
	}

	e := k.checkout(key)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = k.initialInterval
	boCtx := backoff.WithContext(backoff.WithMaxRetries(bo, k.maxRetries), ctx)

	err = backoff.Retry(func() error {
		if e.m.TryLock() {
			return nil
		}
		return errors.New(ctx, errors.Busy, op, "coordinate lock held")
	}, boCtx)
	if err != nil {
		k.checkin(key, e)
		if ctx.Err() != nil {
			return nil, errors.Wrap(ctx, ctx.Err(), op)
		}
		return nil, errors.New(ctx, errors.Busy, op, "exhausted retries acquiring coordinate lock")
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			e.m.Unlock()
			k.checkin(key, e)
		})
	}, nil
}

// checkout returns the entry for key, creating it if needed, and pins it so a
// concurrent release can't delete it out from under this caller.
func (k *Keyed) checkout(key string) *entry {
	k.mu.Lock()
	defer k.mu.Unlock()
	e, ok := k.locks[key]
	if !ok {
		e = &entry{}
		k.locks[key] = e
	}
	e.refs++
	return e
}

func (k *Keyed) checkin(key string, e *entry) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(k.locks, key)
	}
}
