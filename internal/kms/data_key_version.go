// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package kms

import (
	"context"
	"time"

	"github.com/hashicorp/confstore/internal/errors"
)

// DataKeyVersionPrefix is the public id prefix for DEK versions.
const DataKeyVersionPrefix = "kdkv"

// KeyState is the lifecycle state of a DEK version.
type KeyState string

const (
	// KeyStateActive versions encrypt new secrets; exactly one per tenant.
	KeyStateActive KeyState = "active"

	// KeyStateRetired versions only decrypt, and only until the rotation
	// grace period elapses and their secrets are migrated.
	KeyStateRetired KeyState = "retired"

	// KeyStateDestroyed versions have had their wrapped key material erased.
	KeyStateDestroyed KeyState = "destroyed"
)

// DataKeyVersion is one version of a tenant's data encryption key.  The
// plaintext DEK exists only in locked memory; what's stored is the DEK
// wrapped by the external KEK.
type DataKeyVersion struct {
	// PrivateId is used to reference the key version from ciphertexts.
	PrivateId string `gorm:"primaryKey"`

	// TenantId scopes the key; DEKs are never shared across tenants.
	TenantId string `gorm:"index:idx_dkv_tenant"`

	// Version is monotonically increasing per tenant, starting at 1.
	Version uint32

	// CtKey is the KEK-wrapped DEK (a serialized wrapping blob).  Erased
	// when the version is destroyed.
	CtKey []byte

	// State is active, retired or destroyed.
	State KeyState `gorm:"default:active"`

	CreateTime time.Time `gorm:"autoCreateTime"`

	// RetireTime is set when the version stops encrypting; the grace period
	// runs from here.
	RetireTime *time.Time
}

// TableName overrides the table name used by DataKeyVersion.
func (*DataKeyVersion) TableName() string {
	return "kms_data_key_versions"
}

func (k *DataKeyVersion) validate(ctx context.Context) error {
	const op = "kms.(DataKeyVersion).validate"
	switch {
	case k.PrivateId == "":
		return errors.New(ctx, errors.InvalidParameter, op, "missing private id")
	case k.TenantId == "":
		return errors.New(ctx, errors.InvalidParameter, op, "missing tenant id")
	case k.Version == 0:
		return errors.New(ctx, errors.InvalidParameter, op, "missing version")
	case k.State != KeyStateDestroyed && len(k.CtKey) == 0:
		return errors.New(ctx, errors.InvalidParameter, op, "missing wrapped key")
	}
	return nil
}
