// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package tenant_test

import (
	"context"
	"strings"
	"testing"

	"github.com/hashicorp/confstore/internal/db"
	"github.com/hashicorp/confstore/internal/errors"
	"github.com/hashicorp/confstore/internal/tenant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func testConn(t *testing.T) *gorm.DB {
	t.Helper()
	ctx := context.Background()
	conn, err := db.Open(ctx, &db.Config{Path: ":memory:", MaxOpenConns: 1}, db.WithMigrateModels(&tenant.Tenant{}))
	require.NoError(t, err)
	return conn
}

func Test_CreateTenant(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo, err := tenant.NewRepository(ctx, testConn(t))
	require.NoError(t, err)

	got, err := repo.CreateTenant(ctx, "acme",
		tenant.WithMaxEntries(100),
		tenant.WithMaxStorageBytes(1<<20),
	)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(got.PublicId, "t_"))
	assert.Equal(t, tenant.StatusActive, got.Status)
	assert.True(t, got.Active())
	assert.Equal(t, int64(100), got.MaxEntries)

	found, err := repo.LookupTenant(ctx, got.PublicId)
	require.NoError(t, err)
	assert.Equal(t, got.PublicId, found.PublicId)
	assert.Equal(t, "acme", found.Name)
}

func Test_LookupTenantNotFound(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo, err := tenant.NewRepository(ctx, testConn(t))
	require.NoError(t, err)

	_, err = repo.LookupTenant(ctx, "t_DoesNotExist")
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))

	_, err = repo.LookupTenant(ctx, "")
	require.Error(t, err)
	assert.True(t, errors.Match(errors.T(errors.InvalidPublicId), err))
}

func Test_SuspendActivate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo, err := tenant.NewRepository(ctx, testConn(t))
	require.NoError(t, err)

	created, err := repo.CreateTenant(ctx, "acme")
	require.NoError(t, err)

	suspended, err := repo.SuspendTenant(ctx, created.PublicId)
	require.NoError(t, err)
	assert.Equal(t, tenant.StatusSuspended, suspended.Status)
	assert.False(t, suspended.Active())

	activated, err := repo.ActivateTenant(ctx, created.PublicId)
	require.NoError(t, err)
	assert.True(t, activated.Active())
}

func Test_QuotaCounters(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	q := tenant.NewQuotaCounters()
	limited := &tenant.Tenant{PublicId: "t_limited", Status: tenant.StatusActive, MaxEntries: 2, MaxStorageBytes: 100}

	require.NoError(t, q.Reserve(ctx, limited, 1, 40))
	require.NoError(t, q.Reserve(ctx, limited, 1, 40))

	err := q.Reserve(ctx, limited, 1, 10)
	require.Error(t, err)
	assert.True(t, errors.Match(errors.T(errors.QuotaExceeded), err))

	// a failed reservation must not consume budget
	q.Release("t_limited", 1, 40)
	require.NoError(t, q.Reserve(ctx, limited, 1, 20))

	err = q.Reserve(ctx, limited, 0, 100)
	require.Error(t, err)
	assert.True(t, errors.Match(errors.T(errors.QuotaExceeded), err))

	unlimited := &tenant.Tenant{PublicId: "t_unlimited", Status: tenant.StatusActive}
	for i := 0; i < 100; i++ {
		require.NoError(t, q.Reserve(ctx, unlimited, 1, 1000))
	}
}

func Test_QuotaSeed(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	q := tenant.NewQuotaCounters()
	q.Seed("t_seeded", 9, 900)

	seeded := &tenant.Tenant{PublicId: "t_seeded", Status: tenant.StatusActive, MaxEntries: 10}
	require.NoError(t, q.Reserve(ctx, seeded, 1, 0))

	err := q.Reserve(ctx, seeded, 1, 0)
	require.Error(t, err)
	assert.True(t, errors.Match(errors.T(errors.QuotaExceeded), err))
	assert.Equal(t, int64(10), q.Lookup("t_seeded").Entries.Load())
}
