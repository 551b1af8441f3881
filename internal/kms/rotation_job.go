// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package kms

import (
	"time"

	"github.com/hashicorp/confstore/internal/coordinate"
	"github.com/hashicorp/confstore/internal/types/environment"
)

// JobState is the lifecycle state of a re-encryption job.
type JobState string

const (
	JobStatePending JobState = "pending"
	JobStateRunning JobState = "running"
	JobStateDone    JobState = "done"
	JobStateFailed  JobState = "failed"
)

// RotationJob is one pending re-encryption work item produced by a key
// rotation: read the secret at the coordinate, decrypt under the old DEK
// version, commit it re-encrypted under the current version.  Jobs are
// durable so a crash mid-migration resumes where it left off.
type RotationJob struct {
	Id uint64 `gorm:"primaryKey;autoIncrement"`

	TenantId        string `gorm:"index:idx_rotation_tenant"`
	Namespace       string
	Environment     string
	Key             string
	OldKeyVersionId string `gorm:"index:idx_rotation_old_key"`

	State    JobState `gorm:"default:pending"`
	Attempts int

	CreateTime time.Time `gorm:"autoCreateTime"`
	UpdateTime time.Time `gorm:"autoUpdateTime"`
}

// TableName overrides the table name used by RotationJob.
func (*RotationJob) TableName() string {
	return "kms_rotation_jobs"
}

// Coordinate reconstructs the job's target coordinate.
func (j *RotationJob) Coordinate() coordinate.Coordinate {
	return coordinate.Coordinate{
		TenantId:    j.TenantId,
		Namespace:   j.Namespace,
		Environment: environment.Env(j.Environment),
		Key:         j.Key,
	}
}
