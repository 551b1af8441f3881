// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package configstore

import (
	"context"

	"github.com/hashicorp/confstore/internal/authz"
	"github.com/hashicorp/confstore/internal/errors"
	"github.com/hashicorp/confstore/internal/event"
	"github.com/hashicorp/confstore/internal/kms"
	"github.com/hashicorp/confstore/internal/types/action"
)

// RotateTenantKeys mints a new active key version for the tenant, retires
// the old one and enqueues one re-encryption job per live secret.  Reads
// stay transparent throughout: the retired version keeps decrypting until
// the grace period elapses and the jobs drain.
func (s *Service) RotateTenantKeys(ctx context.Context, caller *authz.Caller, tenantId string) (*kms.RotationReport, error) {
	const op = "configstore.(Service).RotateTenantKeys"
	decision, err := s.gate.Authorize(ctx, caller, &authz.Request{
		TenantId: tenantId,
		Action:   action.Rotate,
	})
	if err != nil {
		return nil, errors.Wrap(ctx, err, op)
	}
	report, err := s.kms.RotateKeys(ctx, tenantId)
	if err != nil {
		return nil, errors.Wrap(ctx, err, op)
	}
	coords, err := s.store.ListSecretCoordinates(ctx, tenantId)
	if err != nil {
		return nil, errors.Wrap(ctx, err, op)
	}
	enqueued, err := s.kms.EnqueueRotationJobs(ctx, tenantId, report.RetiredKeyVersionId, coords)
	if err != nil {
		return nil, errors.Wrap(ctx, err, op)
	}
	s.logger.Info("key rotation started",
		"tenant_id", tenantId,
		"new_key_version_id", report.NewKeyVersionId,
		"pending_reencryptions", enqueued,
	)

	a, err := event.NewAudit(ctx, caller.UserId, tenantId, action.Rotate.String(), event.ResultAllow)
	if err != nil {
		return nil, errors.Wrap(ctx, err, op)
	}
	a.MatchedPolicyIds = decision.MatchedPolicyIds
	if err := s.eventer.WriteAudit(ctx, a); err != nil {
		return nil, errors.Wrap(ctx, err, op)
	}
	return report, nil
}

// NewMigrator returns a background migrator bound to this service's engine,
// store and cache.  Supported options: see migrator options.
func (s *Service) NewMigrator(ctx context.Context, opt ...MigratorOption) (*Migrator, error) {
	return newMigrator(ctx, s.kms, s.store, s.cache, s.logger, opt...)
}
