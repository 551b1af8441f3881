// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package kms

import (
	"context"

	"github.com/hashicorp/confstore/internal/coordinate"
	"github.com/hashicorp/confstore/internal/errors"
	"gorm.io/gorm"
)

// EnqueueRotationJobs records one re-encryption job per coordinate for
// secrets encrypted under oldKeyVersionId.  Enqueueing is idempotent per
// rotation in practice because the migrator marks jobs done before the next
// rotation runs; duplicate jobs for a coordinate are harmless (re-encrypting
// an already-migrated secret is a no-op commit under the current key).
func (k *Kms) EnqueueRotationJobs(ctx context.Context, tenantId, oldKeyVersionId string, coords []coordinate.Coordinate) (int, error) {
	const op = "kms.(Kms).EnqueueRotationJobs"
	switch {
	case tenantId == "":
		return 0, errors.New(ctx, errors.InvalidParameter, op, "missing tenant id")
	case oldKeyVersionId == "":
		return 0, errors.New(ctx, errors.InvalidParameter, op, "missing old key version id")
	}
	if len(coords) == 0 {
		return 0, nil
	}
	jobs := make([]*RotationJob, 0, len(coords))
	for _, c := range coords {
		if c.TenantId != tenantId {
			return 0, errors.New(ctx, errors.CrossTenantViolation, op, "coordinate belongs to another tenant")
		}
		jobs = append(jobs, &RotationJob{
			TenantId:        c.TenantId,
			Namespace:       c.Namespace,
			Environment:     string(c.Environment),
			Key:             c.Key,
			OldKeyVersionId: oldKeyVersionId,
			State:           JobStatePending,
		})
	}
	if err := k.conn.WithContext(ctx).Create(&jobs).Error; err != nil {
		return 0, errors.Wrap(ctx, errors.Convert(ctx, err), op)
	}
	return len(jobs), nil
}

// PendingRotationJobs claims up to limit pending jobs for the tenant, moving
// them to running so concurrent migrator workers don't double-claim.
func (k *Kms) PendingRotationJobs(ctx context.Context, tenantId string, limit int) ([]*RotationJob, error) {
	const op = "kms.(Kms).PendingRotationJobs"
	if tenantId == "" {
		return nil, errors.New(ctx, errors.InvalidParameter, op, "missing tenant id")
	}
	if limit <= 0 {
		limit = 10
	}
	var jobs []*RotationJob
	err := k.conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.
			Where("tenant_id = ? and state = ?", tenantId, JobStatePending).
			Order("id asc").
			Limit(limit).
			Find(&jobs).Error; err != nil {
			return err
		}
		for _, j := range jobs {
			if err := tx.Model(j).
				Updates(map[string]any{"state": JobStateRunning, "attempts": j.Attempts + 1}).Error; err != nil {
				return err
			}
			j.State = JobStateRunning
			j.Attempts++
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(ctx, errors.Convert(ctx, err), op)
	}
	return jobs, nil
}

// CompleteRotationJob marks a claimed job done or, on failure, returns it to
// pending so migration resumes after a crash or transient error.
func (k *Kms) CompleteRotationJob(ctx context.Context, jobId uint64, succeeded bool) error {
	const op = "kms.(Kms).CompleteRotationJob"
	if jobId == 0 {
		return errors.New(ctx, errors.InvalidParameter, op, "missing job id")
	}
	state := JobStateDone
	if !succeeded {
		state = JobStatePending
	}
	res := k.conn.WithContext(ctx).Model(&RotationJob{}).
		Where("id = ? and state = ?", jobId, JobStateRunning).
		Update("state", state)
	if res.Error != nil {
		return errors.Wrap(ctx, errors.Convert(ctx, res.Error), op)
	}
	if res.RowsAffected == 0 {
		return errors.New(ctx, errors.RecordNotFound, op, "no running job with that id")
	}
	return nil
}

// TenantsWithPendingRotationJobs returns the tenants that still have
// unfinished re-encryption work, so a migrator sweep knows where to look
// after a restart.
func (k *Kms) TenantsWithPendingRotationJobs(ctx context.Context) ([]string, error) {
	const op = "kms.(Kms).TenantsWithPendingRotationJobs"
	var tenantIds []string
	err := k.conn.WithContext(ctx).Model(&RotationJob{}).
		Where("state in ?", []JobState{JobStatePending, JobStateRunning}).
		Distinct("tenant_id").
		Pluck("tenant_id", &tenantIds).Error
	if err != nil {
		return nil, errors.Wrap(ctx, errors.Convert(ctx, err), op)
	}
	return tenantIds, nil
}

// TenantsWithRetiredKeyVersions returns the tenants holding retired key
// versions whose material has not been destroyed yet.
func (k *Kms) TenantsWithRetiredKeyVersions(ctx context.Context) ([]string, error) {
	const op = "kms.(Kms).TenantsWithRetiredKeyVersions"
	var tenantIds []string
	err := k.conn.WithContext(ctx).Model(&DataKeyVersion{}).
		Where("state = ?", KeyStateRetired).
		Distinct("tenant_id").
		Pluck("tenant_id", &tenantIds).Error
	if err != nil {
		return nil, errors.Wrap(ctx, errors.Convert(ctx, err), op)
	}
	return tenantIds, nil
}

func (k *Kms) pendingJobCountForKey(ctx context.Context, keyVersionId string) (int64, error) {
	const op = "kms.(Kms).pendingJobCountForKey"
	var n int64
	err := k.conn.WithContext(ctx).Model(&RotationJob{}).
		Where("old_key_version_id = ? and state in ?", keyVersionId, []JobState{JobStatePending, JobStateRunning}).
		Count(&n).Error
	if err != nil {
		return 0, errors.Wrap(ctx, errors.Convert(ctx, err), op)
	}
	return n, nil
}
