// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package authz

import (
	"context"
	"sync"

	"github.com/hashicorp/confstore/internal/db"
	"github.com/hashicorp/confstore/internal/errors"
)

// Registry holds each tenant's access policies and the group-to-role
// assignments, in memory.  Identity and policy administration live outside
// this core; the embedder loads the registry at startup and keeps it
// current.
type Registry struct {
	mu         sync.RWMutex
	policies   map[string][]*Policy // tenant id -> policies
	groupRoles map[string][]string  // group name -> roles
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		policies:   make(map[string][]*Policy),
		groupRoles: make(map[string][]string),
	}
}

// AddPolicy validates the policy, assigns it a public id if it has none, and
// registers it for its tenant.
func (r *Registry) AddPolicy(ctx context.Context, p *Policy) error {
	const op = "authz.(Registry).AddPolicy"
	if p == nil {
		return errors.New(ctx, errors.InvalidParameter, op, "missing policy")
	}
	if p.PublicId == "" {
		id, err := db.NewPublicId(ctx, PolicyIdPrefix)
		if err != nil {
			return errors.Wrap(ctx, err, op)
		}
		p.PublicId = id
	}
	if err := p.validate(ctx); err != nil {
		return errors.Wrap(ctx, err, op)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.policies[p.TenantId] {
		if existing.PublicId == p.PublicId {
			return errors.New(ctx, errors.NotUnique, op, "policy id already registered")
		}
	}
	r.policies[p.TenantId] = append(r.policies[p.TenantId], p)
	return nil
}

// DeletePolicy removes a tenant's policy.  It returns RecordNotFound when
// the policy is not registered.
func (r *Registry) DeletePolicy(ctx context.Context, tenantId, publicId string) error {
	const op = "authz.(Registry).DeletePolicy"
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.policies[tenantId]
	for i, p := range list {
		if p.PublicId == publicId {
			r.policies[tenantId] = append(list[:i], list[i+1:]...)
			return nil
		}
	}
	return errors.New(ctx, errors.RecordNotFound, op, "policy not found")
}

// Policies returns a snapshot of a tenant's policies.
func (r *Registry) Policies(tenantId string) []*Policy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Policy, len(r.policies[tenantId]))
	copy(out, r.policies[tenantId])
	return out
}

// SetGroupRoles assigns the roles granted by membership in a group,
// replacing any prior assignment.
func (r *Registry) SetGroupRoles(group string, roles ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.groupRoles[group] = append([]string(nil), roles...)
}

// GroupRoles returns the roles a group grants.
func (r *Registry) GroupRoles(group string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.groupRoles[group]
}
