// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package configstore is the service facade: every operation an embedder
// calls runs the same control flow of gate, store, crypto, cache and audit.
// Transport, authentication and policy administration live outside.
package configstore

import (
	"context"
	"io"

	"github.com/hashicorp/confstore/internal/authz"
	"github.com/hashicorp/confstore/internal/cache"
	"github.com/hashicorp/confstore/internal/coordinate"
	"github.com/hashicorp/confstore/internal/errors"
	"github.com/hashicorp/confstore/internal/event"
	"github.com/hashicorp/confstore/internal/kms"
	"github.com/hashicorp/confstore/internal/schema"
	"github.com/hashicorp/confstore/internal/store"
	"github.com/hashicorp/confstore/internal/tenant"
	"github.com/hashicorp/confstore/internal/types/environment"
	"github.com/hashicorp/confstore/internal/value"
	"github.com/hashicorp/go-hclog"
	wrapping "github.com/hashicorp/go-kms-wrapping/v2"
	"gorm.io/gorm"
)

// Models returns every gorm model the service persists, for schema
// migration when the embedder opens the database.
func Models() []any {
	return []any{
		&tenant.Tenant{},
		&store.Entry{},
		&store.Version{},
		&kms.DataKeyVersion{},
		&kms.RotationJob{},
	}
}

// Service is the multi-tenant configuration and secrets store.  It owns the
// wiring between the access gate, the version store, the crypto engine, the
// tiered cache and the audit emitter; embedders provide the database, the
// external key-encryption wrapper and the audit sinks.
type Service struct {
	tenants  *tenant.Repository
	quotas   *tenant.QuotaCounters
	gate     *authz.Gate
	kms      *kms.Kms
	store    *store.Repository
	cache    *cache.Tiered
	eventer  *event.Eventer
	schemas  *schema.Registry
	policies *authz.Registry
	logger   hclog.Logger
}

// NewService wires a Service on an opened (and migrated, see Models)
// database connection.  The external wrapper is the tenant keys' root of
// trust and never stores its material here.  Supported options: WithLogger,
// WithAuditSink, WithSharedCache, WithCacheSize, WithCacheTTL,
// WithSchemaRegistry, WithPolicyRegistry, WithGracePeriod,
// WithRotationPeriod.
func NewService(ctx context.Context, conn *gorm.DB, external wrapping.Wrapper, opt ...Option) (*Service, error) {
	const op = "configstore.NewService"
	switch {
	case conn == nil:
		return nil, errors.New(ctx, errors.InvalidParameter, op, "missing db connection")
	case external == nil:
		return nil, errors.New(ctx, errors.InvalidParameter, op, "missing external wrapper")
	}
	opts := getOpts(opt...)
	logger := opts.withLogger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	tenants, err := tenant.NewRepository(ctx, conn)
	if err != nil {
		return nil, errors.Wrap(ctx, err, op)
	}
	quotas := tenant.NewQuotaCounters()

	schemas := opts.withSchemaRegistry
	if schemas == nil {
		schemas = schema.NewRegistry()
	}
	policies := opts.withPolicyRegistry
	if policies == nil {
		policies = authz.NewRegistry()
	}

	eventerOpts := []event.Option{event.WithLogger(logger)}
	if opts.withAuditSink != nil {
		eventerOpts = append(eventerOpts, event.WithAuditSink(opts.withAuditSink))
	}
	eventer, err := event.NewEventer(ctx, eventerOpts...)
	if err != nil {
		return nil, errors.Wrap(ctx, err, op)
	}

	gate, err := authz.NewGate(ctx, tenants, quotas, policies, eventer, authz.WithLogger(logger))
	if err != nil {
		return nil, errors.Wrap(ctx, err, op)
	}

	kmsOpts := []kms.Option{kms.WithLogger(logger)}
	if opts.withGracePeriod > 0 {
		kmsOpts = append(kmsOpts, kms.WithGracePeriod(opts.withGracePeriod))
	}
	if opts.withRotationPeriod > 0 {
		kmsOpts = append(kmsOpts, kms.WithRotationPeriod(opts.withRotationPeriod))
	}
	engine, err := kms.NewKms(ctx, conn, external, kmsOpts...)
	if err != nil {
		return nil, errors.Wrap(ctx, err, op)
	}

	repo, err := store.NewRepository(ctx, conn,
		store.WithSchemaRegistry(schemas),
		store.WithQuotaCounters(quotas),
	)
	if err != nil {
		return nil, errors.Wrap(ctx, err, op)
	}

	s := &Service{
		tenants:  tenants,
		quotas:   quotas,
		gate:     gate,
		kms:      engine,
		store:    repo,
		eventer:  eventer,
		schemas:  schemas,
		policies: policies,
		logger:   logger.Named("configstore"),
	}

	cacheOpts := []cache.Option{
		cache.WithLogger(logger),
		cache.WithPromoteFunc(s.promote),
	}
	if opts.withSharedCache != nil {
		cacheOpts = append(cacheOpts, cache.WithShared(opts.withSharedCache))
	}
	if opts.withCacheSize > 0 {
		cacheOpts = append(cacheOpts, cache.WithSize(opts.withCacheSize))
	}
	if opts.withCacheTTL > 0 {
		cacheOpts = append(cacheOpts, cache.WithTTL(opts.withCacheTTL))
	}
	tiered, err := cache.NewTiered(ctx, cacheOpts...)
	if err != nil {
		return nil, errors.Wrap(ctx, err, op)
	}
	s.cache = tiered
	return s, nil
}

// Start seeds quota counters from the durable store and begins listening for
// cross-instance cache invalidations.
func (s *Service) Start(ctx context.Context) error {
	const op = "configstore.(Service).Start"
	all, err := s.tenants.ListTenants(ctx)
	if err != nil {
		return errors.Wrap(ctx, err, op)
	}
	for _, t := range all {
		entries, bytes, err := s.store.CountTenantUsage(ctx, t.PublicId)
		if err != nil {
			return errors.Wrap(ctx, err, op)
		}
		s.quotas.Seed(t.PublicId, entries, bytes)
	}
	if err := s.cache.Start(ctx); err != nil {
		return errors.Wrap(ctx, err, op)
	}
	return nil
}

// Stop ends the cache invalidation subscription.
func (s *Service) Stop() {
	s.cache.Stop()
}

// SchemaRegistry exposes the registry writes are validated against.
func (s *Service) SchemaRegistry() *schema.Registry {
	return s.schemas
}

// PolicyRegistry exposes the access policy registry the gate evaluates.
func (s *Service) PolicyRegistry() *authz.Registry {
	return s.policies
}

// AddAuditSink registers an additional synchronous JSON audit sink.
func (s *Service) AddAuditSink(ctx context.Context, w io.Writer) error {
	const op = "configstore.(Service).AddAuditSink"
	if err := s.eventer.AddAuditSink(ctx, w); err != nil {
		return errors.Wrap(ctx, err, op)
	}
	return nil
}

// Item is an operation's view of one configuration value.
type Item struct {
	Coordinate coordinate.Coordinate
	Version    uint64
	Value      value.Value
}

// promote decrypts a shared-tier cache entry into its in-process form.
func (s *Service) promote(ctx context.Context, _ string, e *cache.Entry) (*cache.Entry, error) {
	const op = "configstore.(Service).promote"
	c, err := coordinate.Parse(ctx, e.Coordinate)
	if err != nil {
		return nil, errors.Wrap(ctx, err, op)
	}
	envlp, err := kms.UnmarshalEncryptedSecret(ctx, e.Data)
	if err != nil {
		return nil, errors.Wrap(ctx, err, op)
	}
	pt, err := s.kms.Decrypt(ctx, c, envlp)
	if err != nil {
		return nil, errors.Wrap(ctx, err, op)
	}
	return &cache.Entry{
		Coordinate: e.Coordinate,
		Version:    e.Version,
		Kind:       e.Kind,
		Data:       pt,
	}, nil
}

// loaderFor returns the cache load func reading c from the store, decrypting
// secrets for the in-process tier while handing the shared tier only the
// ciphertext envelope.
func (s *Service) loaderFor(c coordinate.Coordinate) cache.LoadFunc {
	return func(ctx context.Context) (*cache.Entry, *cache.Entry, error) {
		_, ver, err := s.store.Read(ctx, c)
		if err != nil {
			return nil, nil, err
		}
		if ver.Kind == value.KindSecret {
			envlp, err := kms.UnmarshalEncryptedSecret(ctx, ver.Data)
			if err != nil {
				return nil, nil, err
			}
			pt, err := s.kms.Decrypt(ctx, c, envlp)
			if err != nil {
				return nil, nil, err
			}
			local := &cache.Entry{Coordinate: c.Encode(), Version: ver.Version, Kind: ver.Kind, Data: pt}
			shared := &cache.Entry{Coordinate: c.Encode(), Version: ver.Version, Kind: ver.Kind, Data: ver.Data, Encrypted: true}
			return local, shared, nil
		}
		local := &cache.Entry{Coordinate: c.Encode(), Version: ver.Version, Kind: ver.Kind, Data: ver.Data}
		shared := *local
		return local, &shared, nil
	}
}

// newCoordinate parses and validates an operation's target.
func newCoordinate(ctx context.Context, tenantId, namespace, env, key string) (coordinate.Coordinate, error) {
	e, err := environment.Parse(ctx, env)
	if err != nil {
		return coordinate.Coordinate{}, err
	}
	return coordinate.New(ctx, tenantId, namespace, e, key)
}

// auditMutation emits the synchronous audit record for an allowed mutating
// operation.  The operation is not acknowledged until the record reached a
// sink, so a delivery failure fails the call even though the commit stands.
func (s *Service) auditMutation(ctx context.Context, caller *authz.Caller, c coordinate.Coordinate, action string, d *authz.Decision, version uint64) error {
	const op = "configstore.(Service).auditMutation"
	a, err := event.NewAudit(ctx, caller.UserId, caller.TenantId, action, event.ResultAllow)
	if err != nil {
		return errors.Wrap(ctx, err, op)
	}
	a.Coordinate = c.String()
	a.EntryVersion = version
	if d != nil {
		a.MatchedPolicyIds = d.MatchedPolicyIds
	}
	if err := s.eventer.WriteAudit(ctx, a); err != nil {
		return errors.Wrap(ctx, err, op)
	}
	return nil
}
