// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package tenant owns tenant provisioning and the quota counters every write
// is checked against.  Tenants are never deleted, only suspended; their data
// is retained per policy.
package tenant

import (
	"context"
	"time"

	"github.com/hashicorp/confstore/internal/errors"
)

// PublicIdPrefix is the prefix for tenant public ids.
const PublicIdPrefix = "t"

// Status of a tenant.
type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
)

// Tenant is the unit of isolation.  Every store record carries a tenant
// public id and no operation can cross tenants.
type Tenant struct {
	// PublicId is used to access the tenant via an API.
	PublicId string `gorm:"primaryKey"`

	// Name is friendly and optional; it has no uniqueness guarantee.
	Name string

	// Status is active or suspended.  Suspended tenants fail every gate check.
	Status Status `gorm:"default:active"`

	// MaxEntries bounds live config entries; 0 means unlimited.
	MaxEntries int64

	// MaxStorageBytes bounds total stored value bytes; 0 means unlimited.
	MaxStorageBytes int64

	// MaxOpsPerSec is recorded for the request-admission layer above this
	// core; the core stores it but does not enforce it.
	MaxOpsPerSec int64

	CreateTime time.Time `gorm:"autoCreateTime"`
	UpdateTime time.Time `gorm:"autoUpdateTime"`
}

// TableName overrides the table name used by Tenant.
func (*Tenant) TableName() string {
	return "tenants"
}

// Active reports whether the tenant may be operated on.
func (t *Tenant) Active() bool {
	return t != nil && t.Status == StatusActive
}

func (t *Tenant) validate(ctx context.Context) error {
	const op = "tenant.(Tenant).validate"
	switch {
	case t.PublicId == "":
		return errors.New(ctx, errors.InvalidPublicId, op, "missing public id")
	case t.Status != StatusActive && t.Status != StatusSuspended:
		return errors.New(ctx, errors.InvalidParameter, op, "invalid status")
	case t.MaxEntries < 0 || t.MaxStorageBytes < 0 || t.MaxOpsPerSec < 0:
		return errors.New(ctx, errors.InvalidParameter, op, "quota limits must not be negative")
	}
	return nil
}
