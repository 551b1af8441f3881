// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package configstore

import (
	"context"

	"github.com/hashicorp/confstore/internal/errors"
	"github.com/hashicorp/confstore/internal/event"
	"github.com/hashicorp/confstore/internal/tenant"
)

// Tenant administration is an operator surface, not a tenant-facing one, so
// these operations skip the gate; actor is recorded for the audit trail.

// CreateTenant provisions a tenant with its own key lineage and zeroed quota
// counters.  Supported options: WithMaxEntries, WithMaxStorageBytes,
// WithMaxOpsPerSec.
func (s *Service) CreateTenant(ctx context.Context, actor, name string, opt ...Option) (*tenant.Tenant, error) {
	const op = "configstore.(Service).CreateTenant"
	if actor == "" {
		return nil, errors.New(ctx, errors.InvalidParameter, op, "missing actor")
	}
	opts := getOpts(opt...)
	var tenantOpts []tenant.Option
	if opts.withMaxEntries > 0 {
		tenantOpts = append(tenantOpts, tenant.WithMaxEntries(opts.withMaxEntries))
	}
	if opts.withMaxStorageBytes > 0 {
		tenantOpts = append(tenantOpts, tenant.WithMaxStorageBytes(opts.withMaxStorageBytes))
	}
	if opts.withMaxOpsPerSec > 0 {
		tenantOpts = append(tenantOpts, tenant.WithMaxOpsPerSec(opts.withMaxOpsPerSec))
	}
	t, err := s.tenants.CreateTenant(ctx, name, tenantOpts...)
	if err != nil {
		return nil, errors.Wrap(ctx, err, op)
	}
	if _, err := s.kms.CreateKeys(ctx, t.PublicId); err != nil {
		return nil, errors.Wrap(ctx, err, op)
	}
	s.quotas.Seed(t.PublicId, 0, 0)

	if err := s.auditTenantOp(ctx, actor, t.PublicId, "tenant-create"); err != nil {
		return nil, err
	}
	return t, nil
}

// SuspendTenant deactivates a tenant; data and keys are retained and every
// gate check fails until reactivation.
func (s *Service) SuspendTenant(ctx context.Context, actor, tenantId string) (*tenant.Tenant, error) {
	const op = "configstore.(Service).SuspendTenant"
	t, err := s.tenants.SuspendTenant(ctx, tenantId)
	if err != nil {
		return nil, errors.Wrap(ctx, err, op)
	}
	if err := s.auditTenantOp(ctx, actor, tenantId, "tenant-suspend"); err != nil {
		return nil, err
	}
	return t, nil
}

// ActivateTenant reactivates a suspended tenant.
func (s *Service) ActivateTenant(ctx context.Context, actor, tenantId string) (*tenant.Tenant, error) {
	const op = "configstore.(Service).ActivateTenant"
	t, err := s.tenants.ActivateTenant(ctx, tenantId)
	if err != nil {
		return nil, errors.Wrap(ctx, err, op)
	}
	if err := s.auditTenantOp(ctx, actor, tenantId, "tenant-activate"); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *Service) auditTenantOp(ctx context.Context, actor, tenantId, op string) error {
	a, err := event.NewAudit(ctx, actor, tenantId, op, event.ResultAllow)
	if err != nil {
		return err
	}
	return s.eventer.WriteAudit(ctx, a)
}
