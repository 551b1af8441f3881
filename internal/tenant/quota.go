// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package tenant

import (
	"context"
	"sync"

	"github.com/hashicorp/confstore/internal/errors"
	"go.uber.org/atomic"
)

// Usage tracks a tenant's live resource consumption with atomic counters, so
// concurrent commits never take a coarse lock to account for quota.
type Usage struct {
	Entries      atomic.Int64
	StorageBytes atomic.Int64
}

// QuotaCounters is the shared counter store passed into every operation
// context.  It is explicit rather than a hidden singleton so isolation stays
// auditable and testable.
type QuotaCounters struct {
	mu    sync.Mutex
	usage map[string]*Usage
}

// NewQuotaCounters creates an empty counter store.  Seed it from the durable
// store's per-tenant counts on startup.
func NewQuotaCounters() *QuotaCounters {
	return &QuotaCounters{
		usage: make(map[string]*Usage),
	}
}

// Seed sets a tenant's current usage, replacing any prior counters.
func (q *QuotaCounters) Seed(tenantId string, entries, storageBytes int64) {
	u := q.get(tenantId)
	u.Entries.Store(entries)
	u.StorageBytes.Store(storageBytes)
}

// Lookup returns a tenant's usage counters, creating zeroed counters on first
// use.
func (q *QuotaCounters) Lookup(tenantId string) *Usage {
	return q.get(tenantId)
}

// Reserve atomically accounts for a pending write of entriesDelta entries and
// bytesDelta stored bytes.  It fails with QuotaExceeded when the tenant's
// limits would be exceeded, leaving the counters unchanged.  A limit of 0
// means unlimited.
func (q *QuotaCounters) Reserve(ctx context.Context, t *Tenant, entriesDelta, bytesDelta int64) error {
	const op = "tenant.(QuotaCounters).Reserve"
	if t == nil {
		return errors.New(ctx, errors.InvalidParameter, op, "missing tenant")
	}
	u := q.get(t.PublicId)

	newEntries := u.Entries.Add(entriesDelta)
	if t.MaxEntries > 0 && newEntries > t.MaxEntries {
		u.Entries.Sub(entriesDelta)
		return errors.New(ctx, errors.QuotaExceeded, op, "entry quota exceeded")
	}
	newBytes := u.StorageBytes.Add(bytesDelta)
	if t.MaxStorageBytes > 0 && newBytes > t.MaxStorageBytes {
		u.StorageBytes.Sub(bytesDelta)
		u.Entries.Sub(entriesDelta)
		return errors.New(ctx, errors.QuotaExceeded, op, "storage quota exceeded")
	}
	return nil
}

// Release undoes a reservation after a failed or deleting operation.
func (q *QuotaCounters) Release(tenantId string, entriesDelta, bytesDelta int64) {
	u := q.get(tenantId)
	u.Entries.Sub(entriesDelta)
	u.StorageBytes.Sub(bytesDelta)
}

func (q *QuotaCounters) get(tenantId string) *Usage {
	q.mu.Lock()
	defer q.mu.Unlock()
	u, ok := q.usage[tenantId]
	if !ok {
		u = &Usage{}
		q.usage[tenantId] = u
	}
	return u
}
