// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package authz is the access gate every operation passes through.  A
// decision is reached from the caller's roles and the tenant's policies with
// deny always overriding allow, and every deny is audited before the caller
// hears about it.
package authz

import (
	"context"
	"time"

	"github.com/hashicorp/confstore/internal/errors"
	"github.com/hashicorp/confstore/internal/event"
	"github.com/hashicorp/confstore/internal/tenant"
	"github.com/hashicorp/go-hclog"
)

// tenantLookup is the slice of the tenant repository the gate needs.
type tenantLookup interface {
	LookupTenant(ctx context.Context, publicId string) (*tenant.Tenant, error)
}

// Decision is the outcome of an allowed authorization, carried to the
// operation so its audit record can name the policies involved.
type Decision struct {
	// Tenant is the resolved, active tenant.
	Tenant *tenant.Tenant

	// MatchedPolicyIds are the allow policies that matched, empty when the
	// grant came from a role alone.
	MatchedPolicyIds []string
}

// Gate evaluates whether a caller may perform a request.  Evaluation order:
// tenant match, tenant status, quota headroom for mutations, then
// deny-overrides-allow over policies and role grants.  Callers outside the
// request's tenant receive the same "permission denied" answer as callers
// lacking permission, so tenant existence never leaks.
type Gate struct {
	tenants  tenantLookup
	quotas   *tenant.QuotaCounters
	registry *Registry
	eventer  *event.Eventer
	logger   hclog.Logger
	now      func() time.Time
}

// NewGate creates a Gate.  Supported options: WithLogger, WithNowFunc.
func NewGate(ctx context.Context, tenants tenantLookup, quotas *tenant.QuotaCounters, registry *Registry, eventer *event.Eventer, opt ...Option) (*Gate, error) {
	const op = "authz.NewGate"
	switch {
	case tenants == nil:
		return nil, errors.New(ctx, errors.InvalidParameter, op, "missing tenant repository")
	case quotas == nil:
		return nil, errors.New(ctx, errors.InvalidParameter, op, "missing quota counters")
	case registry == nil:
		return nil, errors.New(ctx, errors.InvalidParameter, op, "missing policy registry")
	case eventer == nil:
		return nil, errors.New(ctx, errors.InvalidParameter, op, "missing eventer")
	}
	opts := getOpts(opt...)
	logger := opts.withLogger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	now := opts.withNowFunc
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Gate{
		tenants:  tenants,
		quotas:   quotas,
		registry: registry,
		eventer:  eventer,
		logger:   logger.Named("gate"),
		now:      now,
	}, nil
}

// Authorize decides the request for the caller.  On allow it returns the
// Decision; on deny it returns a domain error after the deny has been
// audited.  Cross-tenant denies and inactive-tenant denies are audited as
// security events.
func (g *Gate) Authorize(ctx context.Context, c *Caller, req *Request) (*Decision, error) {
	const op = "authz.(Gate).Authorize"
	if err := c.validate(ctx); err != nil {
		return nil, errors.Wrap(ctx, err, op)
	}
	if err := req.validate(ctx); err != nil {
		return nil, errors.Wrap(ctx, err, op)
	}

	if c.TenantId != req.TenantId {
		g.auditDeny(ctx, c, req, "cross-tenant access attempt", nil, true)
		// indistinguishable from an ordinary deny to the caller
		return nil, errors.New(ctx, errors.CrossTenantViolation, op, "permission denied")
	}

	t, err := g.tenants.LookupTenant(ctx, req.TenantId)
	if err != nil {
		if errors.Match(errors.T(errors.RecordNotFound), err) {
			g.auditDeny(ctx, c, req, "unknown tenant", nil, true)
			return nil, errors.New(ctx, errors.PermissionDenied, op, "permission denied")
		}
		return nil, errors.Wrap(ctx, err, op)
	}
	if !t.Active() {
		g.auditDeny(ctx, c, req, "tenant suspended", nil, true)
		return nil, errors.New(ctx, errors.TenantInactive, op, "tenant is not active")
	}

	if req.Action.IsMutating() {
		u := g.quotas.Lookup(t.PublicId)
		if t.MaxEntries > 0 && u.Entries.Load() > t.MaxEntries {
			g.auditDeny(ctx, c, req, "entry quota exceeded", nil, false)
			return nil, errors.New(ctx, errors.QuotaExceeded, op, "entry quota exceeded")
		}
		if t.MaxStorageBytes > 0 && u.StorageBytes.Load() > t.MaxStorageBytes {
			g.auditDeny(ctx, c, req, "storage quota exceeded", nil, false)
			return nil, errors.New(ctx, errors.QuotaExceeded, op, "storage quota exceeded")
		}
	}

	now := g.now()
	var allowed []string
	var denied []string
	for _, p := range g.registry.Policies(req.TenantId) {
		if !p.matches(ctx, c, req, g.registry, now) {
			continue
		}
		switch p.Effect {
		case EffectDeny:
			denied = append(denied, p.PublicId)
		case EffectAllow:
			allowed = append(allowed, p.PublicId)
		}
	}
	if len(denied) > 0 {
		g.auditDeny(ctx, c, req, "denied by policy", denied, false)
		return nil, errors.New(ctx, errors.PermissionDenied, op, "permission denied")
	}
	if len(allowed) == 0 && !roleAllows(c, req.Action, g.registry) {
		g.auditDeny(ctx, c, req, "no matching grant", nil, false)
		return nil, errors.New(ctx, errors.PermissionDenied, op, "permission denied")
	}
	return &Decision{Tenant: t, MatchedPolicyIds: allowed}, nil
}

// auditDeny emits the deny record before the caller learns of the outcome.
// A failed emission cannot flip the decision, so it is logged and the deny
// stands.
func (g *Gate) auditDeny(ctx context.Context, c *Caller, req *Request, reason string, policyIds []string, security bool) {
	a, err := event.NewAudit(ctx, c.UserId, c.TenantId, req.Action.String(), event.ResultDeny)
	if err != nil {
		g.logger.Error("unable to build deny audit record", "error", err)
		return
	}
	a.Coordinate = req.resource()
	a.Reason = reason
	a.MatchedPolicyIds = policyIds
	a.SecurityEvent = security
	if err := g.eventer.WriteAudit(ctx, a); err != nil {
		g.logger.Error("unable to deliver deny audit record", "error", err)
	}
}
