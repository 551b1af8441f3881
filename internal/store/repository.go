// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package store is the append-only version store.  Every write to a
// coordinate produces a new version; versions start at 1, never have gaps,
// and are never mutated.  Rollback and delete are themselves new versions,
// so history is complete by construction.
package store

import (
	"context"
	"fmt"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/confstore/internal/coordinate"
	"github.com/hashicorp/confstore/internal/db"
	"github.com/hashicorp/confstore/internal/errors"
	"github.com/hashicorp/confstore/internal/oplock"
	"github.com/hashicorp/confstore/internal/schema"
	"github.com/hashicorp/confstore/internal/tenant"
	"github.com/hashicorp/confstore/internal/types/environment"
	"github.com/hashicorp/confstore/internal/value"
	"gorm.io/gorm"
)

// backendRetries bounds how many times a transiently failing backend
// operation is retried before the error surfaces.
const backendRetries = 3

// retryBackend runs fn, retrying with exponential backoff while the error is
// Busy or BackendUnavailable.  Deterministic errors (validation, conflicts,
// not-found) surface immediately.
func retryBackend(ctx context.Context, fn func() error) error {
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), backendRetries), ctx)
	return backoff.Retry(func() error {
		err := fn()
		if err != nil && !errors.IsRetryableError(err) {
			return backoff.Permanent(err)
		}
		return err
	}, bo)
}

// Repository persists entries and their versions.  Commits to the same
// coordinate are serialized with a keyed lock; the composite primary key on
// versions backstops the lock so a racing commit can never silently drop a
// version.
type Repository struct {
	conn    *gorm.DB
	locks   *oplock.Keyed
	schemas *schema.Registry
	quotas  *tenant.QuotaCounters
}

// NewRepository creates a store repository.  Supported options:
// WithSchemaRegistry, WithQuotaCounters.
func NewRepository(ctx context.Context, conn *gorm.DB, opt ...Option) (*Repository, error) {
	const op = "store.NewRepository"
	if conn == nil {
		return nil, errors.New(ctx, errors.InvalidParameter, op, "missing db connection")
	}
	opts := getOpts(opt...)
	return &Repository{
		conn:    conn,
		locks:   oplock.New(),
		schemas: opts.withSchemaRegistry,
		quotas:  opts.withQuotaCounters,
	}, nil
}

// Commit writes a new version for the coordinate, creating or reviving the
// entry as needed, and returns the version written.  Supported options:
// WithDescription, WithContentHash, WithSuppressNoop, WithTenant.  With
// WithSuppressNoop a value identical to the current one returns the current
// version without writing.  Losing a commit race returns VersionConflict.
func (r *Repository) Commit(ctx context.Context, c coordinate.Coordinate, v value.Value, createdBy string, opt ...Option) (*Version, error) {
	const op = "store.(Repository).Commit"
	if err := c.Validate(ctx); err != nil {
		return nil, errors.Wrap(ctx, err, op)
	}
	if err := v.Validate(ctx); err != nil {
		return nil, errors.Wrap(ctx, err, op)
	}
	if createdBy == "" {
		return nil, errors.New(ctx, errors.InvalidParameter, op, "missing created by")
	}
	opts := getOpts(opt...)

	if r.schemas != nil && !v.IsSecret() {
		if err := r.schemas.Validate(ctx, c, v); err != nil {
			return nil, errors.Wrap(ctx, err, op)
		}
	}
	hash := opts.withContentHash
	if hash == "" {
		hash = v.ContentHash()
	}

	release, err := r.locks.Acquire(ctx, c.LockKey())
	if err != nil {
		return nil, errors.Wrap(ctx, err, op)
	}
	defer release()

	var out *Version
	txErr := retryBackend(ctx, func() error {
		var reservedEntries, reservedBytes int64
		err := r.conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			entry, err := lookupEntry(ctx, tx, c)
			if err != nil && !errors.Match(errors.T(errors.RecordNotFound), err) {
				return err
			}
			newEntry := entry == nil

			if !newEntry && !entry.Deleted && opts.withSuppressNoop {
				cur, err := lookupVersion(ctx, tx, entry.PublicId, entry.CurrentVersion)
				if err != nil {
					return err
				}
				if !cur.Deleted && cur.ContentHash == hash {
					out = cur
					return nil
				}
			}

			if newEntry {
				publicId, err := db.NewPublicId(ctx, EntryIdPrefix)
				if err != nil {
					return err
				}
				entry = &Entry{
					PublicId:    publicId,
					TenantId:    c.TenantId,
					Namespace:   c.Namespace,
					Environment: c.Environment,
					Key:         c.Key,
				}
				if err := tx.Create(entry).Error; err != nil {
					return asConflict(ctx, errors.Convert(ctx, err))
				}
			}

			if r.quotas != nil && opts.withTenant != nil {
				entriesDelta := int64(0)
				if newEntry || entry.Deleted {
					entriesDelta = 1
				}
				bytesDelta := int64(len(v.Data))
				if err := r.quotas.Reserve(ctx, opts.withTenant, entriesDelta, bytesDelta); err != nil {
					return err
				}
				reservedEntries, reservedBytes = entriesDelta, bytesDelta
			}

			next := entry.CurrentVersion + 1
			ver := &Version{
				EntryId:     entry.PublicId,
				Version:     next,
				Kind:        v.Kind,
				Data:        v.Data,
				ContentHash: hash,
				RollbackOf:  opts.withRollbackOf,
				CreatedBy:   createdBy,
				Description: opts.withDescription,
			}
			if err := tx.Create(ver).Error; err != nil {
				return asConflict(ctx, errors.Convert(ctx, err))
			}
			res := tx.Model(&Entry{}).
				Where("public_id = ? and current_version = ?", entry.PublicId, entry.CurrentVersion).
				Updates(map[string]any{"current_version": next, "deleted": false})
			if res.Error != nil {
				return errors.Convert(ctx, res.Error)
			}
			if res.RowsAffected == 0 {
				return errors.New(ctx, errors.VersionConflict, op, "entry advanced concurrently")
			}
			out = ver
			return nil
		})
		if err != nil && reservedEntries+reservedBytes != 0 {
			r.quotas.Release(opts.withTenant.PublicId, reservedEntries, reservedBytes)
		}
		return err
	})
	if txErr != nil {
		return nil, errors.Wrap(ctx, txErr, op)
	}
	return out, nil
}

// asConflict turns a uniqueness violation into VersionConflict; any other
// error passes through.
func asConflict(ctx context.Context, err error) error {
	const op = "store.asConflict"
	if errors.Match(errors.T(errors.NotUnique), err) {
		return errors.New(ctx, errors.VersionConflict, op, "another commit won the race", errors.WithWrap(err))
	}
	return err
}

// Read returns the entry and its current version, or RecordNotFound when
// the coordinate does not exist or is tombstoned.
func (r *Repository) Read(ctx context.Context, c coordinate.Coordinate) (*Entry, *Version, error) {
	const op = "store.(Repository).Read"
	if err := c.Validate(ctx); err != nil {
		return nil, nil, errors.Wrap(ctx, err, op)
	}
	conn := r.conn.WithContext(ctx)
	var entry *Entry
	var ver *Version
	err := retryBackend(ctx, func() error {
		var err error
		entry, err = lookupEntry(ctx, conn, c)
		if err != nil {
			return err
		}
		if entry.Deleted {
			return errors.New(ctx, errors.RecordNotFound, op, "entry is deleted")
		}
		ver, err = lookupVersion(ctx, conn, entry.PublicId, entry.CurrentVersion)
		return err
	})
	if err != nil {
		return nil, nil, errors.Wrap(ctx, err, op)
	}
	return entry, ver, nil
}

// LookupVersion returns one specific version of a coordinate, tombstones
// included.  The entry may itself be tombstoned; history survives deletes.
func (r *Repository) LookupVersion(ctx context.Context, c coordinate.Coordinate, version uint64) (*Version, error) {
	const op = "store.(Repository).LookupVersion"
	if err := c.Validate(ctx); err != nil {
		return nil, errors.Wrap(ctx, err, op)
	}
	if version == 0 {
		return nil, errors.New(ctx, errors.InvalidParameter, op, "missing version")
	}
	conn := r.conn.WithContext(ctx)
	entry, err := lookupEntry(ctx, conn, c)
	if err != nil {
		return nil, errors.Wrap(ctx, err, op)
	}
	ver, err := lookupVersion(ctx, conn, entry.PublicId, version)
	if err != nil {
		return nil, errors.Wrap(ctx, err, op)
	}
	return ver, nil
}

// History returns the coordinate's versions newest first, tombstones
// included.  Supported options: WithLimit.
func (r *Repository) History(ctx context.Context, c coordinate.Coordinate, opt ...Option) ([]*Version, error) {
	const op = "store.(Repository).History"
	if err := c.Validate(ctx); err != nil {
		return nil, errors.Wrap(ctx, err, op)
	}
	opts := getOpts(opt...)
	conn := r.conn.WithContext(ctx)
	entry, err := lookupEntry(ctx, conn, c)
	if err != nil {
		return nil, errors.Wrap(ctx, err, op)
	}
	q := conn.Where("entry_id = ?", entry.PublicId).Order("version desc")
	if opts.withLimit > 0 {
		q = q.Limit(opts.withLimit)
	}
	var versions []*Version
	if err := q.Find(&versions).Error; err != nil {
		return nil, errors.Wrap(ctx, errors.Convert(ctx, err), op)
	}
	return versions, nil
}

// Rollback commits the value of a previous version as a new version.  The
// target must not be a tombstone; the new version records which version it
// restored.  Supported options: WithTenant.
func (r *Repository) Rollback(ctx context.Context, c coordinate.Coordinate, target uint64, createdBy string, opt ...Option) (*Version, error) {
	const op = "store.(Repository).Rollback"
	tv, err := r.LookupVersion(ctx, c, target)
	if err != nil {
		return nil, errors.Wrap(ctx, err, op)
	}
	if tv.Deleted {
		return nil, errors.New(ctx, errors.InvalidParameter, op, "cannot roll back to a tombstone version")
	}
	v := tv.Value()
	if opts := getOpts(opt...); opts.withValue != nil {
		v = *opts.withValue
	}
	opt = append(opt,
		withRollbackOf(target),
		WithContentHash(tv.ContentHash),
		WithDescription(fmt.Sprintf("rollback to version %d", target)),
	)
	ver, err := r.Commit(ctx, c, v, createdBy, opt...)
	if err != nil {
		return nil, errors.Wrap(ctx, err, op)
	}
	return ver, nil
}

// Delete tombstones the coordinate with a new version.  History is retained
// and a later write revives the entry.  Supported options: WithTenant.
func (r *Repository) Delete(ctx context.Context, c coordinate.Coordinate, createdBy string, opt ...Option) (*Version, error) {
	const op = "store.(Repository).Delete"
	if err := c.Validate(ctx); err != nil {
		return nil, errors.Wrap(ctx, err, op)
	}
	if createdBy == "" {
		return nil, errors.New(ctx, errors.InvalidParameter, op, "missing created by")
	}
	opts := getOpts(opt...)

	release, err := r.locks.Acquire(ctx, c.LockKey())
	if err != nil {
		return nil, errors.Wrap(ctx, err, op)
	}
	defer release()

	var out *Version
	txErr := r.conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		entry, err := lookupEntry(ctx, tx, c)
		if err != nil {
			return err
		}
		if entry.Deleted {
			return errors.New(ctx, errors.RecordNotFound, op, "entry is already deleted")
		}
		next := entry.CurrentVersion + 1
		ver := &Version{
			EntryId:   entry.PublicId,
			Version:   next,
			Deleted:   true,
			CreatedBy: createdBy,
		}
		if err := tx.Create(ver).Error; err != nil {
			return asConflict(ctx, errors.Convert(ctx, err))
		}
		res := tx.Model(&Entry{}).
			Where("public_id = ? and current_version = ?", entry.PublicId, entry.CurrentVersion).
			Updates(map[string]any{"current_version": next, "deleted": true})
		if res.Error != nil {
			return errors.Convert(ctx, res.Error)
		}
		if res.RowsAffected == 0 {
			return errors.New(ctx, errors.VersionConflict, op, "entry advanced concurrently")
		}
		out = ver
		return nil
	})
	if txErr != nil {
		return nil, errors.Wrap(ctx, txErr, op)
	}
	if r.quotas != nil && opts.withTenant != nil {
		// stored bytes are retained with history; only the live entry slot frees
		r.quotas.Release(opts.withTenant.PublicId, 1, 0)
	}
	return out, nil
}

// SwapSecretEnvelope replaces the ciphertext envelope of a stored secret
// version in place.  The plaintext, and therefore the content hash, is
// unchanged; this is a re-encryption under a newer key, not a revision, so
// it does not advance the version sequence.
func (r *Repository) SwapSecretEnvelope(ctx context.Context, c coordinate.Coordinate, version uint64, envelope []byte) error {
	const op = "store.(Repository).SwapSecretEnvelope"
	if err := c.Validate(ctx); err != nil {
		return errors.Wrap(ctx, err, op)
	}
	if len(envelope) == 0 {
		return errors.New(ctx, errors.InvalidParameter, op, "missing envelope")
	}

	release, err := r.locks.Acquire(ctx, c.LockKey())
	if err != nil {
		return errors.Wrap(ctx, err, op)
	}
	defer release()

	txErr := r.conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		entry, err := lookupEntry(ctx, tx, c)
		if err != nil {
			return err
		}
		ver, err := lookupVersion(ctx, tx, entry.PublicId, version)
		if err != nil {
			return err
		}
		if ver.Kind != value.KindSecret || ver.Deleted {
			return errors.New(ctx, errors.InvalidParameter, op, "version is not a live secret")
		}
		res := tx.Model(&Version{}).
			Where("entry_id = ? and version = ?", entry.PublicId, version).
			Update("data", envelope)
		if res.Error != nil {
			return errors.Convert(ctx, res.Error)
		}
		if res.RowsAffected == 0 {
			return errors.New(ctx, errors.RecordNotFound, op, "version disappeared")
		}
		return nil
	})
	if txErr != nil {
		return errors.Wrap(ctx, txErr, op)
	}
	return nil
}

// Item pairs an entry with its current version for listing.
type Item struct {
	Entry   *Entry
	Version *Version
}

// List returns a namespace's live entries in one environment with their
// current versions, ordered by key.  Tombstoned entries are omitted.
func (r *Repository) List(ctx context.Context, tenantId, namespace string, env environment.Env) ([]*Item, error) {
	const op = "store.(Repository).List"
	switch {
	case tenantId == "":
		return nil, errors.New(ctx, errors.InvalidParameter, op, "missing tenant id")
	case namespace == "":
		return nil, errors.New(ctx, errors.InvalidParameter, op, "missing namespace")
	case !env.Valid():
		return nil, errors.New(ctx, errors.InvalidParameter, op, "invalid environment")
	}
	conn := r.conn.WithContext(ctx)
	var entries []*Entry
	err := conn.
		Where("tenant_id = ? and namespace = ? and environment = ? and deleted = ?", tenantId, namespace, env, false).
		Order("config_key asc").
		Find(&entries).Error
	if err != nil {
		return nil, errors.Wrap(ctx, errors.Convert(ctx, err), op)
	}
	items := make([]*Item, 0, len(entries))
	for _, e := range entries {
		ver, err := lookupVersion(ctx, conn, e.PublicId, e.CurrentVersion)
		if err != nil {
			return nil, errors.Wrap(ctx, err, op)
		}
		items = append(items, &Item{Entry: e, Version: ver})
	}
	return items, nil
}

// ListSecretCoordinates returns the coordinates of every live secret a
// tenant stores, for key rotation to re-encrypt.
func (r *Repository) ListSecretCoordinates(ctx context.Context, tenantId string) ([]coordinate.Coordinate, error) {
	const op = "store.(Repository).ListSecretCoordinates"
	if tenantId == "" {
		return nil, errors.New(ctx, errors.InvalidParameter, op, "missing tenant id")
	}
	conn := r.conn.WithContext(ctx)
	var entries []*Entry
	err := conn.
		Where("tenant_id = ? and deleted = ?", tenantId, false).
		Order("namespace asc, config_key asc").
		Find(&entries).Error
	if err != nil {
		return nil, errors.Wrap(ctx, errors.Convert(ctx, err), op)
	}
	var out []coordinate.Coordinate
	for _, e := range entries {
		ver, err := lookupVersion(ctx, conn, e.PublicId, e.CurrentVersion)
		if err != nil {
			return nil, errors.Wrap(ctx, err, op)
		}
		if ver.Kind != value.KindSecret {
			continue
		}
		out = append(out, coordinate.Coordinate{
			TenantId:    e.TenantId,
			Namespace:   e.Namespace,
			Environment: e.Environment,
			Key:         e.Key,
		})
	}
	return out, nil
}

// CountTenantUsage reports a tenant's live entry count and total stored
// bytes across all retained versions, for seeding quota counters at startup.
func (r *Repository) CountTenantUsage(ctx context.Context, tenantId string) (entries int64, bytes int64, err error) {
	const op = "store.(Repository).CountTenantUsage"
	if tenantId == "" {
		return 0, 0, errors.New(ctx, errors.InvalidParameter, op, "missing tenant id")
	}
	conn := r.conn.WithContext(ctx)
	if err := conn.Model(&Entry{}).
		Where("tenant_id = ? and deleted = ?", tenantId, false).
		Count(&entries).Error; err != nil {
		return 0, 0, errors.Wrap(ctx, errors.Convert(ctx, err), op)
	}
	err = conn.Model(&Version{}).
		Joins("join config_entries on config_entries.public_id = config_versions.entry_id").
		Where("config_entries.tenant_id = ?", tenantId).
		Select("coalesce(sum(length(config_versions.data)), 0)").
		Scan(&bytes).Error
	if err != nil {
		return 0, 0, errors.Wrap(ctx, errors.Convert(ctx, err), op)
	}
	return entries, bytes, nil
}

func lookupEntry(ctx context.Context, conn *gorm.DB, c coordinate.Coordinate) (*Entry, error) {
	const op = "store.lookupEntry"
	var entry Entry
	err := conn.
		Where("tenant_id = ? and namespace = ? and environment = ? and config_key = ?", c.TenantId, c.Namespace, c.Environment, c.Key).
		First(&entry).Error
	if err != nil {
		return nil, errors.Wrap(ctx, errors.Convert(ctx, err), op)
	}
	return &entry, nil
}

func lookupVersion(ctx context.Context, conn *gorm.DB, entryId string, version uint64) (*Version, error) {
	const op = "store.lookupVersion"
	var ver Version
	err := conn.
		Where("entry_id = ? and version = ?", entryId, version).
		First(&ver).Error
	if err != nil {
		return nil, errors.Wrap(ctx, errors.Convert(ctx, err), op)
	}
	return &ver, nil
}
