// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package kms_test

import (
	"context"
	"crypto/rand"
	"testing"
	"time"

	"github.com/hashicorp/confstore/internal/coordinate"
	"github.com/hashicorp/confstore/internal/db"
	"github.com/hashicorp/confstore/internal/errors"
	"github.com/hashicorp/confstore/internal/kms"
	"github.com/hashicorp/confstore/internal/types/environment"
	wrapping "github.com/hashicorp/go-kms-wrapping/v2"
	"github.com/hashicorp/go-kms-wrapping/v2/aead"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func testKekWrapper(t *testing.T) wrapping.Wrapper {
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

func testConn(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := db.Open(context.Background(), &db.Config{Path: ":memory:", MaxOpenConns: 1},
		db.WithMigrateModels(&kms.DataKeyVersion{}, &kms.RotationJob{}))
	require.NoError(t, err)
	return conn
}

func testKms(t *testing.T, opt ...kms.Option) *kms.Kms {
	t.Helper()
	k, err := kms.NewKms(context.Background(), testConn(t), testKekWrapper(t), opt...)
	require.NoError(t, err)
	return k
}

func testCoord(t *testing.T, tenantId string) coordinate.Coordinate {
	t.Helper()
	c, err := coordinate.New(context.Background(), tenantId, "app/llm", environment.Production, "api-key")
	require.NoError(t, err)
	return c
}

func Test_EncryptDecryptRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	k := testKms(t)
	_, err := k.CreateKeys(ctx, "t_tenantA")
	require.NoError(t, err)
	c := testCoord(t, "t_tenantA")

	tests := []struct {
		name      string
		plaintext []byte
	}{
		{name: "short", plaintext: []byte("s")},
		{name: "typical", plaintext: []byte("sk-verysecretapikey")},
		{name: "large", plaintext: make([]byte, 64*1024)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.name == "large" {
				_, err := rand.Read(tt.plaintext)
				require.NoError(t, err)
			}
			secret, err := k.Encrypt(ctx, c, tt.plaintext)
			require.NoError(t, err)
			assert.Equal(t, kms.AlgorithmAes256Gcm, secret.Algorithm)
			assert.NotEmpty(t, secret.KeyVersionId)
			assert.NotEmpty(t, secret.Blob.Ciphertext)
			assert.NotEqual(t, tt.plaintext, secret.Blob.Ciphertext)

			got, err := k.Decrypt(ctx, c, secret)
			require.NoError(t, err)
			assert.Equal(t, tt.plaintext, got)
		})
	}
}

func Test_EncryptFreshNonces(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	k := testKms(t)
	_, err := k.CreateKeys(ctx, "t_tenantA")
	require.NoError(t, err)
	c := testCoord(t, "t_tenantA")

	a, err := k.Encrypt(ctx, c, []byte("same plaintext"))
	require.NoError(t, err)
	b, err := k.Encrypt(ctx, c, []byte("same plaintext"))
	require.NoError(t, err)
	assert.NotEqual(t, a.Blob.Iv, b.Blob.Iv)
	assert.NotEqual(t, a.Blob.Ciphertext, b.Blob.Ciphertext)
}

func Test_DecryptWrongBindingFails(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	conn := testConn(t)
	k, err := kms.NewKms(ctx, conn, testKekWrapper(t))
	require.NoError(t, err)
	_, err = k.CreateKeys(ctx, "t_tenantA")
	require.NoError(t, err)
	_, err = k.CreateKeys(ctx, "t_tenantB")
	require.NoError(t, err)

	c := testCoord(t, "t_tenantA")
	secret, err := k.Encrypt(ctx, c, []byte("bound"))
	require.NoError(t, err)

	// same tenant, different coordinate
	otherKey := c
	otherKey.Key = "other-key"
	_, err = k.Decrypt(ctx, otherKey, secret)
	require.Error(t, err)
	assert.True(t, errors.Match(errors.T(errors.DecryptionFailed), err))

	// different environment
	otherEnv := c.WithEnvironment(environment.Staging)
	_, err = k.Decrypt(ctx, otherEnv, secret)
	require.Error(t, err)
	assert.True(t, errors.Match(errors.T(errors.DecryptionFailed), err))

	// different tenant: its pool has no such key version
	otherTenant := testCoord(t, "t_tenantB")
	_, err = k.Decrypt(ctx, otherTenant, secret)
	require.Error(t, err)
	assert.True(t, errors.Match(errors.T(errors.DecryptionFailed), err))
}

func Test_DecryptTamperedCiphertextFails(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	k := testKms(t)
	_, err := k.CreateKeys(ctx, "t_tenantA")
	require.NoError(t, err)
	c := testCoord(t, "t_tenantA")

	secret, err := k.Encrypt(ctx, c, []byte("integrity"))
	require.NoError(t, err)
	secret.Blob.Ciphertext[0] ^= 0xff

	_, err = k.Decrypt(ctx, c, secret)
	require.Error(t, err)
	assert.True(t, errors.Match(errors.T(errors.DecryptionFailed), err))
}

func Test_RotateKeysGraceDecryption(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	k := testKms(t)
	created, err := k.CreateKeys(ctx, "t_tenantA")
	require.NoError(t, err)
	c := testCoord(t, "t_tenantA")

	before, err := k.Encrypt(ctx, c, []byte("pre-rotation secret"))
	require.NoError(t, err)
	assert.Equal(t, created.PrivateId, before.KeyVersionId)

	report, err := k.RotateKeys(ctx, "t_tenantA")
	require.NoError(t, err)
	assert.Equal(t, created.PrivateId, report.RetiredKeyVersionId)
	assert.NotEqual(t, report.NewKeyVersionId, report.RetiredKeyVersionId)

	// old ciphertext still decrypts during grace
	got, err := k.Decrypt(ctx, c, before)
	require.NoError(t, err)
	assert.Equal(t, []byte("pre-rotation secret"), got)

	// new ciphertexts use the new version
	after, err := k.Encrypt(ctx, c, []byte("post-rotation secret"))
	require.NoError(t, err)
	assert.Equal(t, report.NewKeyVersionId, after.KeyVersionId)

	versions, err := k.ListKeyVersions(ctx, "t_tenantA")
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, uint32(2), versions[0].Version)
	assert.Equal(t, kms.KeyStateActive, versions[0].State)
	assert.Equal(t, kms.KeyStateRetired, versions[1].State)
}

func Test_DestroyExpiredKeyVersions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	k := testKms(t, kms.WithGracePeriod(time.Nanosecond))
	_, err := k.CreateKeys(ctx, "t_tenantA")
	require.NoError(t, err)
	c := testCoord(t, "t_tenantA")

	secret, err := k.Encrypt(ctx, c, []byte("doomed"))
	require.NoError(t, err)

	report, err := k.RotateKeys(ctx, "t_tenantA")
	require.NoError(t, err)
	time.Sleep(time.Millisecond)

	destroyed, err := k.DestroyExpiredKeyVersions(ctx, "t_tenantA")
	require.NoError(t, err)
	require.Equal(t, []string{report.RetiredKeyVersionId}, destroyed)

	// destroyed version can no longer decrypt
	_, err = k.Decrypt(ctx, c, secret)
	require.Error(t, err)
	assert.True(t, errors.Match(errors.T(errors.DecryptionFailed), err))
}

func Test_DestroyWaitsForPendingJobs(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	k := testKms(t, kms.WithGracePeriod(time.Nanosecond))
	_, err := k.CreateKeys(ctx, "t_tenantA")
	require.NoError(t, err)
	c := testCoord(t, "t_tenantA")

	secret, err := k.Encrypt(ctx, c, []byte("survives until migrated"))
	require.NoError(t, err)

	report, err := k.RotateKeys(ctx, "t_tenantA")
	require.NoError(t, err)
	n, err := k.EnqueueRotationJobs(ctx, "t_tenantA", report.RetiredKeyVersionId, []coordinate.Coordinate{c})
	require.NoError(t, err)
	require.Equal(t, 1, n)
	time.Sleep(time.Millisecond)

	// pending job blocks destruction even after grace expiry
	destroyed, err := k.DestroyExpiredKeyVersions(ctx, "t_tenantA")
	require.NoError(t, err)
	assert.Empty(t, destroyed)

	got, err := k.Decrypt(ctx, c, secret)
	require.NoError(t, err)
	assert.Equal(t, []byte("survives until migrated"), got)

	// drain the job, then destruction proceeds
	jobs, err := k.PendingRotationJobs(ctx, "t_tenantA", 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.NoError(t, k.CompleteRotationJob(ctx, jobs[0].Id, true))

	destroyed, err = k.DestroyExpiredKeyVersions(ctx, "t_tenantA")
	require.NoError(t, err)
	assert.Equal(t, []string{report.RetiredKeyVersionId}, destroyed)
}

func Test_RotationJobLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	k := testKms(t)
	_, err := k.CreateKeys(ctx, "t_tenantA")
	require.NoError(t, err)

	report, err := k.RotateKeys(ctx, "t_tenantA")
	require.NoError(t, err)

	coords := []coordinate.Coordinate{
		testCoord(t, "t_tenantA"),
		testCoord(t, "t_tenantA").WithEnvironment(environment.Staging),
	}
	n, err := k.EnqueueRotationJobs(ctx, "t_tenantA", report.RetiredKeyVersionId, coords)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	claimed, err := k.PendingRotationJobs(ctx, "t_tenantA", 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, kms.JobStateRunning, claimed[0].State)
	assert.Equal(t, 1, claimed[0].Attempts)

	// a failed job returns to pending for resumption
	require.NoError(t, k.CompleteRotationJob(ctx, claimed[0].Id, false))
	reclaimed, err := k.PendingRotationJobs(ctx, "t_tenantA", 10)
	require.NoError(t, err)
	assert.Len(t, reclaimed, 2)

	for _, j := range reclaimed {
		require.NoError(t, k.CompleteRotationJob(ctx, j.Id, true))
	}
	remaining, err := k.PendingRotationJobs(ctx, "t_tenantA", 10)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func Test_EnqueueCrossTenantRejected(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	k := testKms(t)
	_, err := k.EnqueueRotationJobs(ctx, "t_tenantA", "kdkv_x", []coordinate.Coordinate{testCoord(t, "t_tenantB")})
	require.Error(t, err)
	assert.True(t, errors.Match(errors.T(errors.CrossTenantViolation), err))
}

func Test_EnvelopeMarshalRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	k := testKms(t)
	_, err := k.CreateKeys(ctx, "t_tenantA")
	require.NoError(t, err)
	c := testCoord(t, "t_tenantA")

	secret, err := k.Encrypt(ctx, c, []byte("round trip through storage"))
	require.NoError(t, err)

	raw, err := secret.Marshal(ctx)
	require.NoError(t, err)
	parsed, err := kms.UnmarshalEncryptedSecret(ctx, raw)
	require.NoError(t, err)

	got, err := k.Decrypt(ctx, c, parsed)
	require.NoError(t, err)
	assert.Equal(t, []byte("round trip through storage"), got)
}

func Test_UnmarshalEncryptedSecretFailsClosed(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tests := []struct {
		name string
		raw  []byte
	}{
		{name: "empty", raw: nil},
		{name: "not-json", raw: []byte("garbage")},
		{name: "wrong-algorithm", raw: []byte(`{"algorithm":"rot13","key_version_id":"kdkv_x","blob":{"ciphertext":"AA=="}}`)},
		{name: "missing-key-version", raw: []byte(`{"algorithm":"aes-256-gcm","blob":{"ciphertext":"AA=="}}`)},
		{name: "missing-ciphertext", raw: []byte(`{"algorithm":"aes-256-gcm","key_version_id":"kdkv_x"}`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := kms.UnmarshalEncryptedSecret(ctx, tt.raw)
			require.Error(t, err)
			assert.True(t, errors.Match(errors.T(errors.DecryptionFailed), err))
		})
	}
}
