// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package configstore

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/confstore/internal/cache"
	"github.com/hashicorp/confstore/internal/coordinate"
	"github.com/hashicorp/confstore/internal/errors"
	"github.com/hashicorp/confstore/internal/kms"
	"github.com/hashicorp/confstore/internal/store"
	"github.com/hashicorp/confstore/internal/value"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
)

const (
	defaultSweepInterval = time.Minute
	defaultJobBatch      = 32
)

// MigratorOption configures a Migrator.
type MigratorOption func(*migratorOptions)

type migratorOptions struct {
	withSweepInterval time.Duration
	withBatch         int
}

// WithSweepInterval sets how often the migrator looks for pending
// re-encryption work and destroyable key versions.
func WithSweepInterval(d time.Duration) MigratorOption {
	return func(o *migratorOptions) {
		o.withSweepInterval = d
	}
}

// WithBatch sets how many jobs one sweep claims per tenant.
func WithBatch(n int) MigratorOption {
	return func(o *migratorOptions) {
		o.withBatch = n
	}
}

// Migrator drains rotation jobs in the background: each job re-encrypts one
// secret under the tenant's current key version, in place, without minting
// a new version.  When a retired key's jobs are drained and its grace period
// has elapsed the sweep destroys its material.
type Migrator struct {
	kms    *kms.Kms
	store  *store.Repository
	cache  *cache.Tiered
	logger hclog.Logger

	interval time.Duration
	batch    int

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func newMigrator(ctx context.Context, engine *kms.Kms, repo *store.Repository, tiered *cache.Tiered, logger hclog.Logger, opt ...MigratorOption) (*Migrator, error) {
	const op = "configstore.newMigrator"
	switch {
	case engine == nil:
		return nil, errors.New(ctx, errors.InvalidParameter, op, "missing kms")
	case repo == nil:
		return nil, errors.New(ctx, errors.InvalidParameter, op, "missing store")
	}
	opts := migratorOptions{
		withSweepInterval: defaultSweepInterval,
		withBatch:         defaultJobBatch,
	}
	for _, o := range opt {
		o(&opts)
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Migrator{
		kms:      engine,
		store:    repo,
		cache:    tiered,
		logger:   logger.Named("migrator"),
		interval: opts.withSweepInterval,
		batch:    opts.withBatch,
	}, nil
}

// Start begins periodic sweeps until Stop is called or ctx ends.
func (m *Migrator) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := m.Sweep(ctx); err != nil {
					m.logger.Warn("rotation sweep finished with errors", "error", err)
				}
			}
		}
	}()
}

// Stop ends the periodic sweeps and waits for the running one to finish.
func (m *Migrator) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

// Sweep processes a batch of rotation jobs for every tenant with pending
// work, then destroys key versions that are both past grace and drained.
// It is safe to call concurrently with serving traffic.
func (m *Migrator) Sweep(ctx context.Context) error {
	const op = "configstore.(Migrator).Sweep"
	pending, err := m.kms.TenantsWithPendingRotationJobs(ctx)
	if err != nil {
		return errors.Wrap(ctx, err, op)
	}
	retired, err := m.kms.TenantsWithRetiredKeyVersions(ctx)
	if err != nil {
		return errors.Wrap(ctx, err, op)
	}
	tenantIds := make([]string, 0, len(pending)+len(retired))
	seen := make(map[string]struct{}, len(pending)+len(retired))
	for _, id := range append(pending, retired...) {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		tenantIds = append(tenantIds, id)
	}
	var merr *multierror.Error
	for _, tenantId := range tenantIds {
		if err := m.sweepTenant(ctx, tenantId); err != nil {
			merr = multierror.Append(merr, err)
		}
		destroyed, err := m.kms.DestroyExpiredKeyVersions(ctx, tenantId)
		if err != nil {
			merr = multierror.Append(merr, err)
			continue
		}
		if len(destroyed) > 0 {
			m.logger.Info("destroyed retired key versions", "tenant_id", tenantId, "key_version_ids", destroyed)
		}
	}
	return merr.ErrorOrNil()
}

// sweepTenant drains up to one batch of the tenant's jobs.
func (m *Migrator) sweepTenant(ctx context.Context, tenantId string) error {
	const op = "configstore.(Migrator).sweepTenant"
	jobs, err := m.kms.PendingRotationJobs(ctx, tenantId, m.batch)
	if err != nil {
		return errors.Wrap(ctx, err, op)
	}
	var merr *multierror.Error
	for _, job := range jobs {
		if err := ctx.Err(); err != nil {
			break
		}
		err := m.reencrypt(ctx, job.Coordinate(), job.OldKeyVersionId)
		if err != nil {
			m.logger.Warn("re-encryption failed, job returned to pending",
				"tenant_id", tenantId, "coordinate", job.Coordinate().String(), "error", err)
			merr = multierror.Append(merr, err)
		}
		if cerr := m.kms.CompleteRotationJob(ctx, job.Id, err == nil); cerr != nil {
			merr = multierror.Append(merr, cerr)
		}
	}
	return merr.ErrorOrNil()
}

// reencrypt swaps one secret's envelope to the current key version.  It is
// a no-op when there is nothing to do: the entry is gone, no longer a
// secret, or already carries a newer key.
func (m *Migrator) reencrypt(ctx context.Context, c coordinate.Coordinate, oldKeyVersionId string) error {
	const op = "configstore.(Migrator).reencrypt"
	_, ver, err := m.store.Read(ctx, c)
	switch {
	case errors.Match(errors.T(errors.RecordNotFound), err):
		return nil
	case err != nil:
		return errors.Wrap(ctx, err, op)
	}
	if ver.Kind != value.KindSecret {
		return nil
	}
	envlp, err := kms.UnmarshalEncryptedSecret(ctx, ver.Data)
	if err != nil {
		return errors.Wrap(ctx, err, op)
	}
	if envlp.KeyVersionId != oldKeyVersionId {
		return nil
	}
	pt, err := m.kms.Decrypt(ctx, c, envlp)
	if err != nil {
		return errors.Wrap(ctx, err, op)
	}
	fresh, err := m.kms.Encrypt(ctx, c, pt)
	if err != nil {
		return errors.Wrap(ctx, err, op)
	}
	raw, err := fresh.Marshal(ctx)
	if err != nil {
		return errors.Wrap(ctx, err, op)
	}
	if err := m.store.SwapSecretEnvelope(ctx, c, ver.Version, raw); err != nil {
		return errors.Wrap(ctx, err, op)
	}
	if m.cache != nil {
		m.cache.Invalidate(ctx, cache.Key(c))
	}
	return nil
}
