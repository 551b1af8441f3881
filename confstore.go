// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package confstore is the public surface of the configuration store. It
// re-exports the service facade and the handful of types an embedder needs
// to call it; everything else stays behind internal/.
package confstore

import (
	"context"

	"github.com/hashicorp/confstore/internal/authz"
	"github.com/hashicorp/confstore/internal/cache"
	"github.com/hashicorp/confstore/internal/configstore"
	"github.com/hashicorp/confstore/internal/kms"
	"github.com/hashicorp/confstore/internal/schema"
	"github.com/hashicorp/confstore/internal/tenant"
	"github.com/hashicorp/confstore/internal/value"
	wrapping "github.com/hashicorp/go-kms-wrapping/v2"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Service is the configuration store facade. Construct one with NewService
// and call Start before serving requests.
type Service = configstore.Service

// Item is a read result: coordinate, version and value.
type Item = configstore.Item

// HistoryItem is one row of an entry's version history.
type HistoryItem = configstore.HistoryItem

// Migrator re-encrypts secrets in the background after a key rotation.
type Migrator = configstore.Migrator

// Caller identifies who is making a request and what they may do.
type Caller = authz.Caller

// Policy is a tenant-scoped allow or deny rule.
type Policy = authz.Policy

// Tenant is an isolated configuration namespace with its own keys and quota.
type Tenant = tenant.Tenant

// Value is a typed configuration value; secrets carry ciphertext only.
type Value = value.Value

// RotationReport summarizes a key rotation: the new key version and the
// number of secrets queued for re-encryption.
type RotationReport = kms.RotationReport

// Shared is the second cache tier, typically Redis. See NewRedisCache.
type Shared = cache.Shared

type (
	Option         = configstore.Option
	MigratorOption = configstore.MigratorOption
)

// NewService wires the store against conn, using external as the root of the
// key hierarchy. Register Models with your migration tooling first.
func NewService(ctx context.Context, conn *gorm.DB, external wrapping.Wrapper, opt ...Option) (*Service, error) {
	return configstore.NewService(ctx, conn, external, opt...)
}

// Models returns every gorm model the store persists, for schema migration.
func Models() []any {
	return configstore.Models()
}

// NewValue builds a plain (non-secret) value from v.
func NewValue(ctx context.Context, v any) (Value, error) {
	return value.New(ctx, v)
}

// NewSecretValue builds a secret value from v; the service encrypts it with
// the tenant's active key before it is stored.
func NewSecretValue(ctx context.Context, v any) (Value, error) {
	return value.NewPlaintextSecret(ctx, v)
}

// NewRedisCache adapts a redis client into the shared cache tier, wired in
// with WithSharedCache.
func NewRedisCache(ctx context.Context, client redis.UniversalClient) (Shared, error) {
	return cache.NewRedis(ctx, client)
}

// NewSchemaRegistry builds an empty JSON Schema registry, wired in with
// WithSchemaRegistry.
func NewSchemaRegistry() *schema.Registry {
	return schema.NewRegistry()
}

// NewPolicyRegistry builds an empty policy registry, wired in with
// WithPolicyRegistry.
func NewPolicyRegistry() *authz.Registry {
	return authz.NewRegistry()
}

// Re-exported service options.
var (
	WithLogger          = configstore.WithLogger
	WithAuditSink       = configstore.WithAuditSink
	WithSharedCache     = configstore.WithSharedCache
	WithCacheSize       = configstore.WithCacheSize
	WithCacheTTL        = configstore.WithCacheTTL
	WithSchemaRegistry  = configstore.WithSchemaRegistry
	WithPolicyRegistry  = configstore.WithPolicyRegistry
	WithGracePeriod     = configstore.WithGracePeriod
	WithRotationPeriod  = configstore.WithRotationPeriod
	WithDescription     = configstore.WithDescription
	WithSuppressNoop    = configstore.WithSuppressNoop
	WithLimit           = configstore.WithLimit
	WithMaxEntries      = configstore.WithMaxEntries
	WithMaxStorageBytes = configstore.WithMaxStorageBytes
	WithMaxOpsPerSec    = configstore.WithMaxOpsPerSec
	WithSweepInterval   = configstore.WithSweepInterval
	WithBatch           = configstore.WithBatch
)
