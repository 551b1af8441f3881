// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package authz

import "github.com/hashicorp/confstore/internal/types/action"

// Built-in role names.  Roles grant baseline capabilities on every resource
// in the caller's tenant; policies refine them and deny policies override
// them.
const (
	RoleAdmin  = "admin"
	RoleEditor = "editor"
	RoleViewer = "viewer"
)

var roleGrants = map[string][]action.Type{
	RoleAdmin: {action.All},
	RoleEditor: {
		action.List, action.Read, action.History,
		action.Write, action.Delete, action.Rollback,
	},
	RoleViewer: {action.List, action.Read, action.History},
}

// roleAllows reports whether any of the caller's roles grants the action.
func roleAllows(c *Caller, a action.Type, reg *Registry) bool {
	for role, grants := range roleGrants {
		if !c.hasRole(role, reg) {
			continue
		}
		for _, g := range grants {
			if g == action.All || g == a {
				return true
			}
		}
	}
	return false
}
