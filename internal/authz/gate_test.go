// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package authz_test

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/hashicorp/confstore/internal/authz"
	"github.com/hashicorp/confstore/internal/errors"
	"github.com/hashicorp/confstore/internal/event"
	"github.com/hashicorp/confstore/internal/tenant"
	"github.com/hashicorp/confstore/internal/types/action"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTenants struct {
	tenants map[string]*tenant.Tenant
}

func (f *fakeTenants) LookupTenant(ctx context.Context, publicId string) (*tenant.Tenant, error) {
	t, ok := f.tenants[publicId]
	if !ok {
		return nil, errors.New(ctx, errors.RecordNotFound, "test.LookupTenant", "tenant not found")
	}
	return t, nil
}

func testGate(t *testing.T, tenants map[string]*tenant.Tenant, reg *authz.Registry, opt ...authz.Option) (*authz.Gate, *tenant.QuotaCounters, *bytes.Buffer) {
	t.Helper()
	ctx := context.Background()
	buf := new(bytes.Buffer)
	eventer, err := event.NewEventer(ctx, event.WithAuditSink(buf))
	require.NoError(t, err)
	quotas := tenant.NewQuotaCounters()
	g, err := authz.NewGate(ctx, &fakeTenants{tenants: tenants}, quotas, reg, eventer, opt...)
	require.NoError(t, err)
	return g, quotas, buf
}

func activeTenant(id string) map[string]*tenant.Tenant {
	return map[string]*tenant.Tenant{
		id: {PublicId: id, Status: tenant.StatusActive},
	}
}

func lastAudit(t *testing.T, buf *bytes.Buffer) *event.Audit {
	t.Helper()
	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.NotEmpty(t, lines)
	var decoded struct {
		Payload event.Audit `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(lines[len(lines)-1], &decoded))
	return &decoded.Payload
}

func TestGate_CrossTenant(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	g, _, buf := testGate(t, activeTenant("t_A"), authz.NewRegistry())

	caller := &authz.Caller{UserId: "u_mallory", TenantId: "t_B", Roles: []string{authz.RoleAdmin}}
	_, err := g.Authorize(ctx, caller, &authz.Request{
		TenantId: "t_A", Namespace: "app", Environment: "production", Key: "model", Action: action.Read,
	})
	require.Error(t, err)
	assert.True(t, errors.Match(errors.T(errors.CrossTenantViolation), err))
	// the caller cannot tell a cross-tenant deny from a plain deny
	assert.Contains(t, err.Error(), "permission denied")

	a := lastAudit(t, buf)
	assert.Equal(t, event.ResultDeny, a.Result)
	assert.True(t, a.SecurityEvent)
	assert.Equal(t, "cross-tenant access attempt", a.Reason)
}

func TestGate_TenantStatus(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tenants := map[string]*tenant.Tenant{
		"t_sus": {PublicId: "t_sus", Status: tenant.StatusSuspended},
	}
	g, _, buf := testGate(t, tenants, authz.NewRegistry())

	caller := &authz.Caller{UserId: "u_alice", TenantId: "t_sus", Roles: []string{authz.RoleAdmin}}
	_, err := g.Authorize(ctx, caller, &authz.Request{TenantId: "t_sus", Namespace: "app", Key: "k", Action: action.Read})
	require.Error(t, err)
	assert.True(t, errors.Match(errors.T(errors.TenantInactive), err))
	assert.True(t, lastAudit(t, buf).SecurityEvent)

	t.Run("unknown-tenant", func(t *testing.T) {
		caller := &authz.Caller{UserId: "u_alice", TenantId: "t_ghost"}
		_, err := g.Authorize(ctx, caller, &authz.Request{TenantId: "t_ghost", Action: action.Read})
		require.Error(t, err)
		assert.True(t, errors.Match(errors.T(errors.PermissionDenied), err))
	})
}

func TestGate_Roles(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	g, _, _ := testGate(t, activeTenant("t_A"), authz.NewRegistry())

	tests := []struct {
		name    string
		roles   []string
		action  action.Type
		wantErr bool
	}{
		{name: "viewer-read", roles: []string{authz.RoleViewer}, action: action.Read},
		{name: "viewer-history", roles: []string{authz.RoleViewer}, action: action.History},
		{name: "viewer-write-denied", roles: []string{authz.RoleViewer}, action: action.Write, wantErr: true},
		{name: "editor-write", roles: []string{authz.RoleEditor}, action: action.Write},
		{name: "editor-rollback", roles: []string{authz.RoleEditor}, action: action.Rollback},
		{name: "editor-rotate-denied", roles: []string{authz.RoleEditor}, action: action.Rotate, wantErr: true},
		{name: "admin-rotate", roles: []string{authz.RoleAdmin}, action: action.Rotate},
		{name: "no-roles", roles: nil, action: action.Read, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			caller := &authz.Caller{UserId: "u_1", TenantId: "t_A", Roles: tt.roles}
			d, err := g.Authorize(ctx, caller, &authz.Request{
				TenantId: "t_A", Namespace: "app", Environment: "production", Key: "model", Action: tt.action,
			})
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Match(errors.T(errors.PermissionDenied), err))
				return
			}
			require.NoError(t, err)
			require.NotNil(t, d)
			assert.Empty(t, d.MatchedPolicyIds)
		})
	}
}

func TestGate_GroupRoles(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	reg := authz.NewRegistry()
	reg.SetGroupRoles("platform-eng", authz.RoleEditor)
	g, _, _ := testGate(t, activeTenant("t_A"), reg)

	caller := &authz.Caller{UserId: "u_bob", TenantId: "t_A", Groups: []string{"platform-eng"}}
	_, err := g.Authorize(ctx, caller, &authz.Request{TenantId: "t_A", Namespace: "app", Key: "k", Action: action.Write})
	require.NoError(t, err)
}

func TestGate_DenyOverridesAllow(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	reg := authz.NewRegistry()
	require.NoError(t, reg.AddPolicy(ctx, &authz.Policy{
		TenantId:  "t_A",
		Effect:    authz.EffectAllow,
		Subjects:  []string{"*"},
		Resources: []string{"*"},
		Actions:   []action.Type{action.All},
	}))
	deny := &authz.Policy{
		TenantId:  "t_A",
		Effect:    authz.EffectDeny,
		Subjects:  []string{"*"},
		Resources: []string{"secrets/*"},
		Actions:   []action.Type{action.Write, action.Delete},
	}
	require.NoError(t, reg.AddPolicy(ctx, deny))

	g, _, buf := testGate(t, activeTenant("t_A"), reg)
	caller := &authz.Caller{UserId: "u_alice", TenantId: "t_A", Roles: []string{authz.RoleAdmin}}

	// deny wins even for admins
	_, err := g.Authorize(ctx, caller, &authz.Request{
		TenantId: "t_A", Namespace: "secrets", Environment: "production", Key: "api-token", Action: action.Write,
	})
	require.Error(t, err)
	assert.True(t, errors.Match(errors.T(errors.PermissionDenied), err))
	a := lastAudit(t, buf)
	assert.Equal(t, []string{deny.PublicId}, a.MatchedPolicyIds)

	// the deny is scoped: reads on the same coordinate still pass
	d, err := g.Authorize(ctx, caller, &authz.Request{
		TenantId: "t_A", Namespace: "secrets", Environment: "production", Key: "api-token", Action: action.Read,
	})
	require.NoError(t, err)
	assert.Len(t, d.MatchedPolicyIds, 1)

	// and so do writes elsewhere
	_, err = g.Authorize(ctx, caller, &authz.Request{
		TenantId: "t_A", Namespace: "app", Environment: "production", Key: "model", Action: action.Write,
	})
	require.NoError(t, err)
}

func TestGate_Conditions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	newReg := func(t *testing.T, cond *authz.Conditions) *authz.Registry {
		t.Helper()
		reg := authz.NewRegistry()
		require.NoError(t, reg.AddPolicy(ctx, &authz.Policy{
			TenantId:   "t_A",
			Effect:     authz.EffectAllow,
			Subjects:   []string{"u_alice"},
			Resources:  []string{"app/*"},
			Actions:    []action.Type{action.Write},
			Conditions: cond,
		}))
		return reg
	}
	caller := &authz.Caller{UserId: "u_alice", TenantId: "t_A", SourceAddr: "10.1.2.3"}
	req := &authz.Request{TenantId: "t_A", Namespace: "app", Environment: "production", Key: "model", Action: action.Write}

	t.Run("time-window", func(t *testing.T) {
		reg := newReg(t, &authz.Conditions{TimeWindow: &authz.TimeWindow{StartHour: 9, EndHour: 17}})
		inside := time.Date(2025, 6, 2, 10, 30, 0, 0, time.UTC)
		outside := time.Date(2025, 6, 2, 20, 0, 0, 0, time.UTC)

		g, _, _ := testGate(t, activeTenant("t_A"), reg, authz.WithNowFunc(func() time.Time { return inside }))
		_, err := g.Authorize(ctx, caller, req)
		require.NoError(t, err)

		g, _, _ = testGate(t, activeTenant("t_A"), reg, authz.WithNowFunc(func() time.Time { return outside }))
		_, err = g.Authorize(ctx, caller, req)
		require.Error(t, err)
	})

	t.Run("time-window-spans-midnight", func(t *testing.T) {
		reg := newReg(t, &authz.Conditions{TimeWindow: &authz.TimeWindow{StartHour: 22, EndHour: 6}})
		late := time.Date(2025, 6, 2, 23, 0, 0, 0, time.UTC)
		g, _, _ := testGate(t, activeTenant("t_A"), reg, authz.WithNowFunc(func() time.Time { return late }))
		_, err := g.Authorize(ctx, caller, req)
		require.NoError(t, err)
	})

	t.Run("source-cidr", func(t *testing.T) {
		reg := newReg(t, &authz.Conditions{SourceCIDRs: []string{"10.0.0.0/8"}})
		g, _, _ := testGate(t, activeTenant("t_A"), reg)
		_, err := g.Authorize(ctx, caller, req)
		require.NoError(t, err)

		outsider := &authz.Caller{UserId: "u_alice", TenantId: "t_A", SourceAddr: "192.168.1.1"}
		_, err = g.Authorize(ctx, outsider, req)
		require.Error(t, err)
	})

	t.Run("environments", func(t *testing.T) {
		reg := newReg(t, &authz.Conditions{Environments: []string{"staging"}})
		g, _, _ := testGate(t, activeTenant("t_A"), reg)
		_, err := g.Authorize(ctx, caller, req)
		require.Error(t, err)

		stagingReq := *req
		stagingReq.Environment = "staging"
		_, err = g.Authorize(ctx, caller, &stagingReq)
		require.NoError(t, err)
	})

	t.Run("environment-aliases", func(t *testing.T) {
		// a policy written against "prod" binds a request targeting
		// "production", and the other way around
		reg := newReg(t, &authz.Conditions{Environments: []string{"prod"}})
		g, _, _ := testGate(t, activeTenant("t_A"), reg)
		_, err := g.Authorize(ctx, caller, req)
		require.NoError(t, err)

		reg = newReg(t, &authz.Conditions{Environments: []string{"production"}})
		g, _, _ = testGate(t, activeTenant("t_A"), reg)
		aliasReq := *req
		aliasReq.Environment = "prod"
		_, err = g.Authorize(ctx, caller, &aliasReq)
		require.NoError(t, err)
	})
}

func TestGate_Quota(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tenants := map[string]*tenant.Tenant{
		"t_A": {PublicId: "t_A", Status: tenant.StatusActive, MaxEntries: 10},
	}
	g, quotas, _ := testGate(t, tenants, authz.NewRegistry())
	quotas.Seed("t_A", 25, 0) // limits were lowered after the fact

	caller := &authz.Caller{UserId: "u_alice", TenantId: "t_A", Roles: []string{authz.RoleEditor}}
	_, err := g.Authorize(ctx, caller, &authz.Request{TenantId: "t_A", Namespace: "app", Key: "k", Action: action.Write})
	require.Error(t, err)
	assert.True(t, errors.Match(errors.T(errors.QuotaExceeded), err))

	// reads are never quota gated
	_, err = g.Authorize(ctx, caller, &authz.Request{TenantId: "t_A", Namespace: "app", Key: "k", Action: action.Read})
	require.NoError(t, err)
}

func TestRegistry_Policies(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	reg := authz.NewRegistry()

	p := &authz.Policy{
		TenantId:  "t_A",
		Effect:    authz.EffectAllow,
		Subjects:  []string{"*"},
		Resources: []string{"*"},
		Actions:   []action.Type{action.Read},
	}
	require.NoError(t, reg.AddPolicy(ctx, p))
	assert.NotEmpty(t, p.PublicId)
	assert.Len(t, reg.Policies("t_A"), 1)

	require.NoError(t, reg.DeletePolicy(ctx, "t_A", p.PublicId))
	assert.Empty(t, reg.Policies("t_A"))

	err := reg.DeletePolicy(ctx, "t_A", p.PublicId)
	require.Error(t, err)
	assert.True(t, errors.Match(errors.T(errors.RecordNotFound), err))

	t.Run("invalid", func(t *testing.T) {
		err := reg.AddPolicy(ctx, &authz.Policy{TenantId: "t_A", Effect: authz.Effect("maybe"), Subjects: []string{"*"}, Resources: []string{"*"}, Actions: []action.Type{action.Read}})
		require.Error(t, err)
		assert.True(t, errors.Match(errors.T(errors.InvalidParameter), err))
	})
}
