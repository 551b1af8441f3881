// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package event_test

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/hashicorp/confstore/internal/errors"
	"github.com/hashicorp/confstore/internal/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_NewAudit(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	a, err := event.NewAudit(ctx, "u_alice", "t_tenantA", "write", event.ResultAllow, event.WithNow(now))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(a.Id, "e_"))
	assert.Equal(t, now, a.Timestamp)
	assert.Equal(t, "u_alice", a.Actor)

	tests := []struct {
		name   string
		actor  string
		tenant string
		action string
		result event.Result
	}{
		{name: "missing-actor", tenant: "t_1", action: "write", result: event.ResultAllow},
		{name: "missing-tenant", actor: "u_1", action: "write", result: event.ResultAllow},
		{name: "missing-action", actor: "u_1", tenant: "t_1", result: event.ResultAllow},
		{name: "bad-result", actor: "u_1", tenant: "t_1", action: "write", result: event.Result("maybe")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := event.NewAudit(ctx, tt.actor, tt.tenant, tt.action, tt.result)
			require.Error(t, err)
			assert.True(t, errors.Match(errors.T(errors.InvalidParameter), err))
		})
	}
}

func Test_WriteAudit(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	var buf bytes.Buffer

	e, err := event.NewEventer(ctx, event.WithAuditSink(&buf))
	require.NoError(t, err)

	a, err := event.NewAudit(ctx, "u_alice", "t_tenantA", "write", event.ResultDeny)
	require.NoError(t, err)
	a.Coordinate = "t_tenantA/app/llm/production/model"
	a.Reason = "permission denied"
	a.MatchedPolicyIds = []string{"pol_deny1"}
	a.SecurityEvent = true

	require.NoError(t, e.WriteAudit(ctx, a))

	out := buf.String()
	require.NotEmpty(t, out)
	var decoded struct {
		Payload event.Audit `json:"payload"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, "u_alice", decoded.Payload.Actor)
	assert.Equal(t, event.ResultDeny, decoded.Payload.Result)
	assert.Equal(t, []string{"pol_deny1"}, decoded.Payload.MatchedPolicyIds)
	assert.True(t, decoded.Payload.SecurityEvent)
}

func Test_WriteAuditNoSinks(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e, err := event.NewEventer(ctx)
	require.NoError(t, err)

	a, err := event.NewAudit(ctx, "u_alice", "t_tenantA", "read", event.ResultAllow)
	require.NoError(t, err)
	// no sinks registered: dropped, not an error
	require.NoError(t, e.WriteAudit(ctx, a))
}

func Test_WriteAuditNil(t *testing.T) {
	t.Parallel()
	e, err := event.NewEventer(context.Background())
	require.NoError(t, err)
	err = e.WriteAudit(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, errors.Match(errors.T(errors.InvalidParameter), err))
}
