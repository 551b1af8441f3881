// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package testutil holds fixtures shared by tests that need a fully wired
// service: a migrated in-memory database and a throwaway key-encryption
// wrapper.
package testutil

import (
	"context"
	"crypto/rand"
	"testing"

	"github.com/hashicorp/confstore/internal/configstore"
	"github.com/hashicorp/confstore/internal/db"
	wrapping "github.com/hashicorp/go-kms-wrapping/v2"
	"github.com/hashicorp/go-kms-wrapping/v2/aead"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// TestKekWrapper returns an aead wrapper on a random root key, standing in
// for the external KMS.
func TestKekWrapper(t *testing.T) wrapping.Wrapper {
	t.Helper()
	ctx := context.Background()
	rootKey := make([]byte, 32)
	_, err := rand.Read(rootKey)
	require.NoError(t, err)
	w := aead.NewWrapper()
	_, err = w.SetConfig(ctx, wrapping.WithKeyId("kek_test"))
	require.NoError(t, err)
	require.NoError(t, w.SetAesGcmKeyBytes(rootKey))
	return w
}

// TestConn opens an in-memory database migrated with every service model.
func TestConn(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := db.Open(context.Background(), &db.Config{Path: ":memory:", MaxOpenConns: 1},
		db.WithMigrateModels(configstore.Models()...))
	require.NoError(t, err)
	return conn
}
