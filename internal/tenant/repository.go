// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package tenant

import (
	"context"

	"github.com/hashicorp/confstore/internal/db"
	"github.com/hashicorp/confstore/internal/errors"
	"gorm.io/gorm"
)

// Repository persists tenants in the durable store.
type Repository struct {
	conn *gorm.DB
}

// NewRepository creates a tenant repository.
func NewRepository(ctx context.Context, conn *gorm.DB) (*Repository, error) {
	const op = "tenant.NewRepository"
	if conn == nil {
		return nil, errors.New(ctx, errors.InvalidParameter, op, "missing db connection")
	}
	return &Repository{conn: conn}, nil
}

// CreateTenant provisions a tenant with the given name.  Supported options:
// WithMaxEntries, WithMaxStorageBytes, WithMaxOpsPerSec.
func (r *Repository) CreateTenant(ctx context.Context, name string, opt ...Option) (*Tenant, error) {
	const op = "tenant.(Repository).CreateTenant"
	opts := getOpts(opt...)

	publicId, err := db.NewPublicId(ctx, PublicIdPrefix)
	if err != nil {
		return nil, errors.Wrap(ctx, err, op)
	}
	t := &Tenant{
		PublicId:        publicId,
		Name:            name,
		Status:          StatusActive,
		MaxEntries:      opts.withMaxEntries,
		MaxStorageBytes: opts.withMaxStorageBytes,
		MaxOpsPerSec:    opts.withMaxOpsPerSec,
	}
	if err := t.validate(ctx); err != nil {
		return nil, errors.Wrap(ctx, err, op)
	}
	if err := r.conn.WithContext(ctx).Create(t).Error; err != nil {
		return nil, errors.Wrap(ctx, errors.Convert(ctx, err), op)
	}
	return t, nil
}

// LookupTenant returns the tenant for publicId or RecordNotFound.
func (r *Repository) LookupTenant(ctx context.Context, publicId string) (*Tenant, error) {
	const op = "tenant.(Repository).LookupTenant"
	if publicId == "" {
		return nil, errors.New(ctx, errors.InvalidPublicId, op, "missing public id")
	}
	var t Tenant
	if err := r.conn.WithContext(ctx).First(&t, "public_id = ?", publicId).Error; err != nil {
		return nil, errors.Wrap(ctx, errors.Convert(ctx, err), op)
	}
	return &t, nil
}

// ListTenants returns every tenant ordered by creation time.
func (r *Repository) ListTenants(ctx context.Context) ([]*Tenant, error) {
	const op = "tenant.(Repository).ListTenants"
	var tenants []*Tenant
	if err := r.conn.WithContext(ctx).Order("create_time asc").Find(&tenants).Error; err != nil {
		return nil, errors.Wrap(ctx, errors.Convert(ctx, err), op)
	}
	return tenants, nil
}

// SuspendTenant deactivates a tenant.  Its data is retained; every subsequent
// gate check fails with TenantInactive.
func (r *Repository) SuspendTenant(ctx context.Context, publicId string) (*Tenant, error) {
	const op = "tenant.(Repository).SuspendTenant"
	return r.setStatus(ctx, op, publicId, StatusSuspended)
}

// ActivateTenant reactivates a suspended tenant.
func (r *Repository) ActivateTenant(ctx context.Context, publicId string) (*Tenant, error) {
	const op = "tenant.(Repository).ActivateTenant"
	return r.setStatus(ctx, op, publicId, StatusActive)
}

func (r *Repository) setStatus(ctx context.Context, op errors.Op, publicId string, s Status) (*Tenant, error) {
	t, err := r.LookupTenant(ctx, publicId)
	if err != nil {
		return nil, errors.Wrap(ctx, err, op)
	}
	t.Status = s
	if err := r.conn.WithContext(ctx).Model(t).Update("status", s).Error; err != nil {
		return nil, errors.Wrap(ctx, errors.Convert(ctx, err), op)
	}
	return t, nil
}
