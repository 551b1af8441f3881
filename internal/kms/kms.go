// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package kms implements the envelope-encryption engine for secret values.
// Each tenant has a lineage of data encryption keys (DEKs); the active
// version encrypts, retired versions keep decrypting through a rotation
// grace period, and every DEK is stored only in wrapped form under an
// external key encryption key (KEK) supplied by the embedder.  Plaintext key
// material lives exclusively in locked, zeroed-on-destroy memory buffers.
package kms

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/awnumar/memguard"
	"github.com/hashicorp/confstore/internal/coordinate"
	"github.com/hashicorp/confstore/internal/db"
	"github.com/hashicorp/confstore/internal/errors"
	"github.com/hashicorp/go-hclog"
	wrapping "github.com/hashicorp/go-kms-wrapping/v2"
	"github.com/hashicorp/go-kms-wrapping/v2/aead"
	"github.com/hashicorp/go-kms-wrapping/v2/extras/multi"
	"gorm.io/gorm"
)

const (
	// DefaultGracePeriod is how long a retired DEK version keeps decrypting
	// after rotation.  Destruction additionally waits for migration of every
	// secret encrypted under the version.
	DefaultGracePeriod = 30 * 24 * time.Hour

	// DefaultRotationPeriod is the default next-rotation-due horizon stamped
	// on new ciphertexts.
	DefaultRotationPeriod = 90 * 24 * time.Hour

	// dekKeyBytes is the AES-256 key length.
	dekKeyBytes = 32
)

// Kms is the per-tenant key hierarchy manager.
type Kms struct {
	conn     *gorm.DB
	external wrapping.Wrapper
	logger   hclog.Logger

	gracePeriod    time.Duration
	rotationPeriod time.Duration

	// tenantPools caches a per-tenant pooled wrapper holding the active
	// encrypting key and all decrypt-only retired versions.
	tenantPools sync.Map

	// bufs pins the plaintext DEK buffers, per tenant and key version, so
	// they stay locked in memory for the life of their wrappers and can be
	// destroyed when the tenant unloads.
	bufsMu sync.Mutex
	bufs   map[string]map[string]*memguard.LockedBuffer
}

type tenantPool struct {
	pool            *multi.PooledWrapper
	activeVersionId string
}

// RotationReport describes the outcome of a key rotation.
type RotationReport struct {
	TenantId            string
	NewKeyVersionId     string
	RetiredKeyVersionId string
	RotateTime          time.Time
}

// NewKms creates a Kms backed by conn for key persistence and external as the
// KEK.  Supported options: WithLogger, WithGracePeriod, WithRotationPeriod.
func NewKms(ctx context.Context, conn *gorm.DB, external wrapping.Wrapper, opt ...Option) (*Kms, error) {
	const op = "kms.NewKms"
	switch {
	case conn == nil:
		return nil, errors.New(ctx, errors.InvalidParameter, op, "missing db connection")
	case external == nil:
		return nil, errors.New(ctx, errors.InvalidParameter, op, "missing external wrapper")
	}
	keyId, err := external.KeyId(ctx)
	if err != nil || keyId == "" {
		return nil, errors.New(ctx, errors.InvalidParameter, op, "external wrapper has no key id", errors.WithWrap(err))
	}
	opts := getOpts(opt...)
	logger := opts.withLogger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Kms{
		conn:           conn,
		external:       external,
		logger:         logger.Named("kms"),
		gracePeriod:    opts.withGracePeriod,
		rotationPeriod: opts.withRotationPeriod,
		bufs:           make(map[string]map[string]*memguard.LockedBuffer),
	}, nil
}

// CreateKeys provisions version 1 of a tenant's DEK lineage.  It fails with
// NotUnique when the tenant already has keys.
func (k *Kms) CreateKeys(ctx context.Context, tenantId string) (*DataKeyVersion, error) {
	const op = "kms.(Kms).CreateKeys"
	if tenantId == "" {
		return nil, errors.New(ctx, errors.InvalidParameter, op, "missing tenant id")
	}
	var count int64
	if err := k.conn.WithContext(ctx).Model(&DataKeyVersion{}).Where("tenant_id = ?", tenantId).Count(&count).Error; err != nil {
		return nil, errors.Wrap(ctx, errors.Convert(ctx, err), op)
	}
	if count > 0 {
		return nil, errors.New(ctx, errors.NotUnique, op, "tenant already has keys")
	}
	kv, err := k.newKeyVersion(ctx, tenantId, 1)
	if err != nil {
		return nil, errors.Wrap(ctx, err, op)
	}
	if err := k.conn.WithContext(ctx).Create(kv).Error; err != nil {
		return nil, errors.Wrap(ctx, errors.Convert(ctx, err), op)
	}
	k.logger.Info("created tenant keys", "tenant_id", tenantId, "key_version_id", kv.PrivateId)
	return kv, nil
}

// Encrypt encrypts plaintext under the coordinate's tenant's active DEK,
// binding the tenant and coordinate as additional authenticated data.  A
// fresh random nonce is generated per call by the underlying cipher.
func (k *Kms) Encrypt(ctx context.Context, c coordinate.Coordinate, plaintext []byte) (*EncryptedSecret, error) {
	const op = "kms.(Kms).Encrypt"
	if err := c.Validate(ctx); err != nil {
		return nil, errors.Wrap(ctx, err, op)
	}
	if len(plaintext) == 0 {
		return nil, errors.New(ctx, errors.InvalidParameter, op, "missing plaintext")
	}
	tp, err := k.loadTenantPool(ctx, c.TenantId)
	if err != nil {
		return nil, errors.Wrap(ctx, err, op)
	}
	blob, err := tp.pool.Encrypt(ctx, plaintext, wrapping.WithAad(c.AAD()))
	if err != nil {
		return nil, errors.New(ctx, errors.EncryptionFailed, op, "unable to encrypt value", errors.WithWrap(err))
	}
	now := time.Now().UTC()
	return &EncryptedSecret{
		Algorithm:    AlgorithmAes256Gcm,
		KeyVersionId: tp.activeVersionId,
		Blob:         blob,
		CreateTime:   now,
		NextRotation: now.Add(k.rotationPeriod),
	}, nil
}

// Decrypt decrypts an EncryptedSecret, locating the DEK version recorded in
// the envelope, which may be a retired version inside its grace period.  It
// fails closed: tag mismatches, wrong tenant or coordinate bindings and
// unknown key versions all surface as DecryptionFailed with no plaintext.
func (k *Kms) Decrypt(ctx context.Context, c coordinate.Coordinate, secret *EncryptedSecret) ([]byte, error) {
	const op = "kms.(Kms).Decrypt"
	if err := c.Validate(ctx); err != nil {
		return nil, errors.Wrap(ctx, err, op)
	}
	if secret == nil || secret.Blob == nil {
		return nil, errors.New(ctx, errors.DecryptionFailed, op, "missing envelope")
	}
	tp, err := k.loadTenantPool(ctx, c.TenantId)
	if err != nil {
		return nil, errors.Wrap(ctx, err, op)
	}
	w := tp.pool.WrapperForKeyId(secret.KeyVersionId)
	if w == nil {
		return nil, errors.New(ctx, errors.DecryptionFailed, op, "unknown key version")
	}
	pt, err := w.Decrypt(ctx, secret.Blob, wrapping.WithAad(c.AAD()))
	if err != nil {
		k.logger.Error("decryption failed", "tenant_id", c.TenantId, "coordinate", c.String())
		return nil, errors.New(ctx, errors.DecryptionFailed, op, "authentication failed")
	}
	return pt, nil
}

// RotateKeys creates a new active DEK version for the tenant and retires the
// current one.  Re-encryption of existing secrets is the caller's migration
// concern; the retired version keeps decrypting until the grace period ends
// and its rotation jobs are drained, whichever is later.
func (k *Kms) RotateKeys(ctx context.Context, tenantId string) (*RotationReport, error) {
	const op = "kms.(Kms).RotateKeys"
	if tenantId == "" {
		return nil, errors.New(ctx, errors.InvalidParameter, op, "missing tenant id")
	}
	active, err := k.activeVersion(ctx, tenantId)
	if err != nil {
		return nil, errors.Wrap(ctx, err, op)
	}
	next, err := k.newKeyVersion(ctx, tenantId, active.Version+1)
	if err != nil {
		return nil, errors.Wrap(ctx, err, op)
	}
	now := time.Now().UTC()
	err = k.conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&DataKeyVersion{}).
			Where("private_id = ? and state = ?", active.PrivateId, KeyStateActive).
			Updates(map[string]any{"state": KeyStateRetired, "retire_time": now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return errors.New(ctx, errors.VersionConflict, op, "active key changed during rotation")
		}
		return tx.Create(next).Error
	})
	if err != nil {
		return nil, errors.Wrap(ctx, errors.Convert(ctx, err), op)
	}
	k.unloadTenant(tenantId)
	k.logger.Info("rotated tenant keys", "tenant_id", tenantId, "new_key_version_id", next.PrivateId, "retired_key_version_id", active.PrivateId)
	return &RotationReport{
		TenantId:            tenantId,
		NewKeyVersionId:     next.PrivateId,
		RetiredKeyVersionId: active.PrivateId,
		RotateTime:          now,
	}, nil
}

// ListKeyVersions returns the tenant's key lineage, newest first, including
// destroyed versions (their material is gone but the lineage is auditable).
func (k *Kms) ListKeyVersions(ctx context.Context, tenantId string) ([]*DataKeyVersion, error) {
	const op = "kms.(Kms).ListKeyVersions"
	if tenantId == "" {
		return nil, errors.New(ctx, errors.InvalidParameter, op, "missing tenant id")
	}
	var versions []*DataKeyVersion
	if err := k.conn.WithContext(ctx).
		Where("tenant_id = ?", tenantId).
		Order("version desc").
		Find(&versions).Error; err != nil {
		return nil, errors.Wrap(ctx, errors.Convert(ctx, err), op)
	}
	return versions, nil
}

// DestroyExpiredKeyVersions erases the wrapped material of retired versions
// whose grace period has elapsed and whose rotation jobs have drained.  It
// returns the private ids destroyed.
func (k *Kms) DestroyExpiredKeyVersions(ctx context.Context, tenantId string) ([]string, error) {
	const op = "kms.(Kms).DestroyExpiredKeyVersions"
	if tenantId == "" {
		return nil, errors.New(ctx, errors.InvalidParameter, op, "missing tenant id")
	}
	cutoff := time.Now().UTC().Add(-k.gracePeriod)
	var retired []*DataKeyVersion
	if err := k.conn.WithContext(ctx).
		Where("tenant_id = ? and state = ? and retire_time <= ?", tenantId, KeyStateRetired, cutoff).
		Find(&retired).Error; err != nil {
		return nil, errors.Wrap(ctx, errors.Convert(ctx, err), op)
	}
	var destroyed []string
	for _, kv := range retired {
		pending, err := k.pendingJobCountForKey(ctx, kv.PrivateId)
		if err != nil {
			return nil, errors.Wrap(ctx, err, op)
		}
		if pending > 0 {
			continue
		}
		if err := k.conn.WithContext(ctx).Model(kv).
			Updates(map[string]any{"state": KeyStateDestroyed, "ct_key": []byte(nil)}).Error; err != nil {
			return nil, errors.Wrap(ctx, errors.Convert(ctx, err), op)
		}
		destroyed = append(destroyed, kv.PrivateId)
	}
	if len(destroyed) > 0 {
		k.unloadTenant(tenantId)
		k.logger.Info("destroyed expired key versions", "tenant_id", tenantId, "count", len(destroyed))
	}
	return destroyed, nil
}

// GracePeriod returns the configured rotation grace period.
func (k *Kms) GracePeriod() time.Duration {
	return k.gracePeriod
}

func (k *Kms) newKeyVersion(ctx context.Context, tenantId string, version uint32) (*DataKeyVersion, error) {
	const op = "kms.(Kms).newKeyVersion"
	privateId, err := db.NewPublicId(ctx, DataKeyVersionPrefix)
	if err != nil {
		return nil, errors.Wrap(ctx, err, op)
	}
	dek := memguard.NewBufferRandom(dekKeyBytes)
	defer dek.Destroy()

	blob, err := k.external.Encrypt(ctx, dek.Bytes(), wrapping.WithAad([]byte(tenantId)))
	if err != nil {
		return nil, errors.New(ctx, errors.EncryptionFailed, op, "unable to wrap key", errors.WithWrap(err))
	}
	ctKey, err := json.Marshal(blob)
	if err != nil {
		return nil, errors.New(ctx, errors.EncryptionFailed, op, "unable to serialize wrapped key", errors.WithWrap(err))
	}
	kv := &DataKeyVersion{
		PrivateId: privateId,
		TenantId:  tenantId,
		Version:   version,
		CtKey:     ctKey,
		State:     KeyStateActive,
	}
	if err := kv.validate(ctx); err != nil {
		return nil, errors.Wrap(ctx, err, op)
	}
	return kv, nil
}

func (k *Kms) activeVersion(ctx context.Context, tenantId string) (*DataKeyVersion, error) {
	const op = "kms.(Kms).activeVersion"
	var kv DataKeyVersion
	err := k.conn.WithContext(ctx).
		Where("tenant_id = ? and state = ?", tenantId, KeyStateActive).
		First(&kv).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.New(ctx, errors.KeyNotFound, op, "tenant has no active key")
		}
		return nil, errors.Wrap(ctx, errors.Convert(ctx, err), op)
	}
	return &kv, nil
}

// loadTenantPool returns (building and caching as needed) the pooled wrapper
// for a tenant: the active version encrypts, every unretired-or-in-grace
// version decrypts.
func (k *Kms) loadTenantPool(ctx context.Context, tenantId string) (*tenantPool, error) {
	const op = "kms.(Kms).loadTenantPool"
	if v, ok := k.tenantPools.Load(tenantId); ok {
		return v.(*tenantPool), nil
	}

	var versions []*DataKeyVersion
	err := k.conn.WithContext(ctx).
		Where("tenant_id = ? and state in ?", tenantId, []KeyState{KeyStateActive, KeyStateRetired}).
		Order("version asc").
		Find(&versions).Error
	if err != nil {
		return nil, errors.Wrap(ctx, errors.Convert(ctx, err), op)
	}
	if len(versions) == 0 {
		return nil, errors.New(ctx, errors.KeyNotFound, op, "tenant has no keys")
	}

	var pool *multi.PooledWrapper
	var activeId string
	for _, kv := range versions {
		w, err := k.unwrapVersion(ctx, kv)
		if err != nil {
			return nil, errors.Wrap(ctx, err, op)
		}
		switch pool {
		case nil:
			pool, err = multi.NewPooledWrapper(ctx, w)
			if err != nil {
				return nil, errors.New(ctx, errors.DecryptionFailed, op, "unable to pool key versions", errors.WithWrap(err))
			}
		default:
			if _, err := pool.AddWrapper(ctx, w); err != nil {
				return nil, errors.New(ctx, errors.DecryptionFailed, op, "unable to pool key versions", errors.WithWrap(err))
			}
		}
		if kv.State == KeyStateActive {
			activeId = kv.PrivateId
			if _, err := pool.SetEncryptingWrapper(ctx, w); err != nil {
				return nil, errors.New(ctx, errors.DecryptionFailed, op, "unable to set encrypting key", errors.WithWrap(err))
			}
		}
	}
	if activeId == "" {
		return nil, errors.New(ctx, errors.KeyNotFound, op, "tenant has no active key")
	}
	tp := &tenantPool{pool: pool, activeVersionId: activeId}
	actual, _ := k.tenantPools.LoadOrStore(tenantId, tp)
	return actual.(*tenantPool), nil
}

// unwrapVersion unwraps a DEK version with the KEK and builds its cipher.
// The plaintext key lands in a locked buffer that stays pinned until the
// tenant's pool is unloaded.
func (k *Kms) unwrapVersion(ctx context.Context, kv *DataKeyVersion) (wrapping.Wrapper, error) {
	const op = "kms.(Kms).unwrapVersion"
	var blob wrapping.BlobInfo
	if err := json.Unmarshal(kv.CtKey, &blob); err != nil {
		return nil, errors.New(ctx, errors.DecryptionFailed, op, "malformed wrapped key")
	}
	keyBytes, err := k.external.Decrypt(ctx, &blob, wrapping.WithAad([]byte(kv.TenantId)))
	if err != nil {
		return nil, errors.New(ctx, errors.DecryptionFailed, op, "unable to unwrap key")
	}
	buf := memguard.NewBufferFromBytes(keyBytes)

	w := aead.NewWrapper()
	if _, err := w.SetConfig(ctx, wrapping.WithKeyId(kv.PrivateId)); err != nil {
		buf.Destroy()
		return nil, errors.New(ctx, errors.DecryptionFailed, op, "unable to configure cipher", errors.WithWrap(err))
	}
	if err := w.SetAesGcmKeyBytes(buf.Bytes()); err != nil {
		buf.Destroy()
		return nil, errors.New(ctx, errors.DecryptionFailed, op, "unable to configure cipher", errors.WithWrap(err))
	}

	k.bufsMu.Lock()
	tb := k.bufs[kv.TenantId]
	if tb == nil {
		tb = make(map[string]*memguard.LockedBuffer)
		k.bufs[kv.TenantId] = tb
	}
	if old, ok := tb[kv.PrivateId]; ok {
		old.Destroy()
	}
	tb[kv.PrivateId] = buf
	k.bufsMu.Unlock()
	return w, nil
}

// unloadTenant drops the tenant's cached pool and destroys its pinned DEK
// buffers; the next operation reloads the lineage from storage.
func (k *Kms) unloadTenant(tenantId string) {
	k.tenantPools.Delete(tenantId)
	k.bufsMu.Lock()
	for _, buf := range k.bufs[tenantId] {
		buf.Destroy()
	}
	delete(k.bufs, tenantId)
	k.bufsMu.Unlock()
}
