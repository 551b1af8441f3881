// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package cache

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Memory is an in-process Shared implementation for tests and single-node
// deployments; it gives the tiered cache a real second tier and a working
// pub/sub fan-out without a redis dependency.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	subs    map[int]func(string)
	nextSub int
}

type memoryEntry struct {
	entry   Entry
	expires time.Time
}

// NewMemory creates an empty in-process shared tier.
func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]memoryEntry),
		subs:    make(map[int]func(string)),
	}
}

// Get implements Shared.
func (m *Memory) Get(_ context.Context, key string) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	me, ok := m.entries[key]
	if !ok {
		return nil, nil
	}
	if !me.expires.IsZero() && time.Now().After(me.expires) {
		delete(m.entries, key)
		return nil, nil
	}
	e := me.entry
	return &e, nil
}

// Set implements Shared.
func (m *Memory) Set(_ context.Context, key string, e *Entry, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	me := memoryEntry{entry: *e}
	if ttl > 0 {
		me.expires = time.Now().Add(ttl)
	}
	m.entries[key] = me
	return nil
}

// Delete implements Shared.
func (m *Memory) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.entries, k)
	}
	return nil
}

// DeletePrefix implements Shared.
func (m *Memory) DeletePrefix(_ context.Context, prefix string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.entries {
		if strings.HasPrefix(k, prefix) {
			delete(m.entries, k)
		}
	}
	return nil
}

// Publish implements Shared, delivering synchronously to every subscriber.
func (m *Memory) Publish(_ context.Context, msg string) error {
	m.mu.Lock()
	fns := make([]func(string), 0, len(m.subs))
	for _, fn := range m.subs {
		fns = append(fns, fn)
	}
	m.mu.Unlock()
	for _, fn := range fns {
		fn(msg)
	}
	return nil
}

// Subscribe implements Shared.
func (m *Memory) Subscribe(_ context.Context, fn func(msg string)) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}, nil
}
