// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package schema_test

import (
	"context"
	"testing"

	"github.com/hashicorp/confstore/internal/coordinate"
	"github.com/hashicorp/confstore/internal/errors"
	"github.com/hashicorp/confstore/internal/schema"
	"github.com/hashicorp/confstore/internal/types/environment"
	"github.com/hashicorp/confstore/internal/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCoord(t *testing.T) coordinate.Coordinate {
	t.Helper()
	c, err := coordinate.New(context.Background(), "t_1234567890", "app/llm", environment.Production, "model")
	require.NoError(t, err)
	return c
}

func Test_Validate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := testCoord(t)

	r := schema.NewRegistry()
	require.NoError(t, r.Register(ctx, c.TenantId, c.Namespace, c.Key, []byte(`{"type":"string","minLength":3}`)))

	ok, err := value.New(ctx, "gpt-4")
	require.NoError(t, err)
	require.NoError(t, r.Validate(ctx, c, ok))

	short, err := value.New(ctx, "x")
	require.NoError(t, err)
	err = r.Validate(ctx, c, short)
	require.Error(t, err)
	assert.True(t, errors.Match(errors.T(errors.SchemaValidation), err))

	wrongType, err := value.New(ctx, 42)
	require.NoError(t, err)
	err = r.Validate(ctx, c, wrongType)
	require.Error(t, err)
	assert.True(t, errors.Match(errors.T(errors.SchemaValidation), err))
}

func Test_ValidateNoSchema(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r := schema.NewRegistry()

	v, err := value.New(ctx, map[string]any{"anything": "goes"})
	require.NoError(t, err)
	require.NoError(t, r.Validate(ctx, testCoord(t), v))
}

func Test_ValidateSecretSkipsSchema(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := testCoord(t)

	r := schema.NewRegistry()
	require.NoError(t, r.Register(ctx, c.TenantId, c.Namespace, c.Key, []byte(`{"type":"string"}`)))

	secret, err := value.NewSecret(ctx, []byte(`{"algorithm":"aes-256-gcm"}`))
	require.NoError(t, err)
	require.NoError(t, r.Validate(ctx, c, secret))
}

func Test_RegisterBadSchema(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r := schema.NewRegistry()

	err := r.Register(ctx, "t_1", "app", "model", []byte(`{"type": 12}`))
	require.Error(t, err)
	assert.True(t, errors.Match(errors.T(errors.InvalidParameter), err))
}

func Test_Deregister(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := testCoord(t)

	r := schema.NewRegistry()
	require.NoError(t, r.Register(ctx, c.TenantId, c.Namespace, c.Key, []byte(`{"type":"number"}`)))
	r.Deregister(c.TenantId, c.Namespace, c.Key)

	v, err := value.New(ctx, "no longer checked")
	require.NoError(t, err)
	require.NoError(t, r.Validate(ctx, c, v))
}
