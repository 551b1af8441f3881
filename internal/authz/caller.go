// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package authz

import (
	"context"

	"github.com/hashicorp/confstore/internal/errors"
	"github.com/hashicorp/confstore/internal/types/action"
)

// Caller is the authenticated principal a request runs as.  Authentication
// happens outside this core; the gate trusts these fields as asserted.
type Caller struct {
	// UserId is the authenticated user id.
	UserId string

	// TenantId is the tenant the caller authenticated into.  Requests
	// targeting any other tenant are denied before policy evaluation.
	TenantId string

	// Roles directly assigned to the caller.
	Roles []string

	// Groups the caller belongs to.  Groups map to roles via the registry.
	Groups []string

	// SourceAddr is the caller's source IP, used by CIDR conditions.
	SourceAddr string
}

func (c *Caller) validate(ctx context.Context) error {
	const op = "authz.(Caller).validate"
	switch {
	case c == nil:
		return errors.New(ctx, errors.InvalidParameter, op, "missing caller")
	case c.UserId == "":
		return errors.New(ctx, errors.InvalidParameter, op, "missing user id")
	case c.TenantId == "":
		return errors.New(ctx, errors.InvalidParameter, op, "missing tenant id")
	}
	return nil
}

// hasRole reports whether the caller holds the role directly or through a
// group.
func (c *Caller) hasRole(role string, reg *Registry) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	if reg == nil {
		return false
	}
	for _, g := range c.Groups {
		for _, r := range reg.GroupRoles(g) {
			if r == role {
				return true
			}
		}
	}
	return false
}

func (c *Caller) inGroup(group string) bool {
	for _, g := range c.Groups {
		if g == group {
			return true
		}
	}
	return false
}

// Request describes the operation a caller wants authorized.  Namespace and
// Key may be empty for tenant-level actions such as key rotation.
type Request struct {
	TenantId    string
	Namespace   string
	Environment string
	Key         string
	Action      action.Type
}

func (r *Request) validate(ctx context.Context) error {
	const op = "authz.(Request).validate"
	switch {
	case r == nil:
		return errors.New(ctx, errors.InvalidParameter, op, "missing request")
	case r.TenantId == "":
		return errors.New(ctx, errors.InvalidParameter, op, "missing tenant id")
	case r.Action == action.Unknown || r.Action == action.All:
		return errors.New(ctx, errors.InvalidParameter, op, "invalid action")
	}
	return nil
}

// resource renders the request's target for policy glob matching.
func (r *Request) resource() string {
	switch {
	case r.Namespace == "" && r.Key == "":
		return "*"
	case r.Key == "":
		return r.Namespace + "/*"
	}
	return r.Namespace + "/" + r.Key
}
