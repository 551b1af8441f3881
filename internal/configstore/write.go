// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package configstore

import (
	"bytes"
	"context"

	"github.com/hashicorp/confstore/internal/authz"
	"github.com/hashicorp/confstore/internal/cache"
	"github.com/hashicorp/confstore/internal/errors"
	"github.com/hashicorp/confstore/internal/kms"
	"github.com/hashicorp/confstore/internal/store"
	"github.com/hashicorp/confstore/internal/types/action"
	"github.com/hashicorp/confstore/internal/value"
)

// Write commits a new version of the value at the coordinate.  Secrets are
// encrypted before they touch the store; the caller passes plaintext (see
// value.NewPlaintextSecret) and never sees the envelope.  Supported options:
// WithDescription, WithSuppressNoop.
func (s *Service) Write(ctx context.Context, caller *authz.Caller, tenantId, namespace, env, key string, val value.Value, opt ...Option) (*Item, error) {
	const op = "configstore.(Service).Write"
	opts := getOpts(opt...)

	decision, err := s.gate.Authorize(ctx, caller, &authz.Request{
		TenantId:    tenantId,
		Namespace:   namespace,
		Environment: env,
		Key:         key,
		Action:      action.Write,
	})
	if err != nil {
		return nil, errors.Wrap(ctx, err, op)
	}
	c, err := newCoordinate(ctx, tenantId, namespace, env, key)
	if err != nil {
		return nil, errors.Wrap(ctx, err, op)
	}
	if err := val.Validate(ctx); err != nil {
		return nil, errors.Wrap(ctx, err, op)
	}

	storeOpts := []store.Option{store.WithTenant(decision.Tenant)}
	if opts.withDescription != "" {
		storeOpts = append(storeOpts, store.WithDescription(opts.withDescription))
	}
	if opts.withSuppressNoop {
		storeOpts = append(storeOpts, store.WithSuppressNoop())
	}

	commitVal := val
	if val.IsSecret() {
		// hash the plaintext so no-op suppression and rollback comparisons
		// survive re-encryption
		storeOpts = append(storeOpts, store.WithContentHash(val.ContentHash()))
		envlp, err := s.kms.Encrypt(ctx, c, val.Data)
		if err != nil {
			return nil, errors.Wrap(ctx, err, op)
		}
		raw, err := envlp.Marshal(ctx)
		if err != nil {
			return nil, errors.Wrap(ctx, err, op)
		}
		commitVal, err = value.NewSecret(ctx, raw)
		if err != nil {
			return nil, errors.Wrap(ctx, err, op)
		}
	}

	// past this point the commit runs to completion; duplicate delivery
	// after a caller timeout is safe because an identical retry suppresses
	if err := ctx.Err(); err != nil {
		return nil, errors.New(ctx, errors.Io, op, "canceled before commit", errors.WithWrap(err))
	}
	ver, err := s.store.Commit(ctx, c, commitVal, caller.UserId, storeOpts...)
	if err != nil {
		return nil, errors.Wrap(ctx, err, op)
	}

	// the cache zeroes secret plaintext on eviction; it gets its own copy,
	// never the caller's buffer
	local := &cache.Entry{Coordinate: c.Encode(), Version: ver.Version, Kind: val.Kind, Data: bytes.Clone(val.Data)}
	shared := &cache.Entry{Coordinate: c.Encode(), Version: ver.Version, Kind: ver.Kind, Data: ver.Data, Encrypted: val.IsSecret()}
	s.cache.Refresh(ctx, cache.Key(c), local, shared)

	if err := s.auditMutation(ctx, caller, c, action.Write.String(), decision, ver.Version); err != nil {
		return nil, err
	}
	return &Item{Coordinate: c, Version: ver.Version, Value: val}, nil
}

// Delete tombstones the coordinate with a new version; history is retained.
func (s *Service) Delete(ctx context.Context, caller *authz.Caller, tenantId, namespace, env, key string) (uint64, error) {
	const op = "configstore.(Service).Delete"
	decision, err := s.gate.Authorize(ctx, caller, &authz.Request{
		TenantId:    tenantId,
		Namespace:   namespace,
		Environment: env,
		Key:         key,
		Action:      action.Delete,
	})
	if err != nil {
		return 0, errors.Wrap(ctx, err, op)
	}
	c, err := newCoordinate(ctx, tenantId, namespace, env, key)
	if err != nil {
		return 0, errors.Wrap(ctx, err, op)
	}
	if err := ctx.Err(); err != nil {
		return 0, errors.New(ctx, errors.Io, op, "canceled before commit", errors.WithWrap(err))
	}
	tomb, err := s.store.Delete(ctx, c, caller.UserId, store.WithTenant(decision.Tenant))
	if err != nil {
		return 0, errors.Wrap(ctx, err, op)
	}
	s.cache.Invalidate(ctx, cache.Key(c))

	if err := s.auditMutation(ctx, caller, c, action.Delete.String(), decision, tomb.Version); err != nil {
		return 0, err
	}
	return tomb.Version, nil
}

// Rollback restores the value of a previous version by committing it as a
// new version; the head never rewinds.
func (s *Service) Rollback(ctx context.Context, caller *authz.Caller, tenantId, namespace, env, key string, target uint64) (*Item, error) {
	const op = "configstore.(Service).Rollback"
	decision, err := s.gate.Authorize(ctx, caller, &authz.Request{
		TenantId:    tenantId,
		Namespace:   namespace,
		Environment: env,
		Key:         key,
		Action:      action.Rollback,
	})
	if err != nil {
		return nil, errors.Wrap(ctx, err, op)
	}
	c, err := newCoordinate(ctx, tenantId, namespace, env, key)
	if err != nil {
		return nil, errors.Wrap(ctx, err, op)
	}
	storeOpts := []store.Option{store.WithTenant(decision.Tenant)}

	// a secret target may be sealed under a retired key; re-seal it under the
	// active key so the new head outlives the old key's destruction
	tv, err := s.store.LookupVersion(ctx, c, target)
	if err != nil {
		return nil, errors.Wrap(ctx, err, op)
	}
	if tv.Kind == value.KindSecret && !tv.Deleted {
		envlp, err := kms.UnmarshalEncryptedSecret(ctx, tv.Data)
		if err != nil {
			return nil, errors.Wrap(ctx, err, op)
		}
		pt, err := s.kms.Decrypt(ctx, c, envlp)
		if err != nil {
			return nil, errors.Wrap(ctx, err, op)
		}
		fresh, err := s.kms.Encrypt(ctx, c, pt)
		if err != nil {
			return nil, errors.Wrap(ctx, err, op)
		}
		raw, err := fresh.Marshal(ctx)
		if err != nil {
			return nil, errors.Wrap(ctx, err, op)
		}
		sealed, err := value.NewSecret(ctx, raw)
		if err != nil {
			return nil, errors.Wrap(ctx, err, op)
		}
		storeOpts = append(storeOpts, store.WithValue(sealed))
	}

	if err := ctx.Err(); err != nil {
		return nil, errors.New(ctx, errors.Io, op, "canceled before commit", errors.WithWrap(err))
	}
	ver, err := s.store.Rollback(ctx, c, target, caller.UserId, storeOpts...)
	if err != nil {
		return nil, errors.Wrap(ctx, err, op)
	}
	// drop rather than refresh: a secret's plaintext is only materialized on
	// the next read
	s.cache.Invalidate(ctx, cache.Key(c))

	if err := s.auditMutation(ctx, caller, c, action.Rollback.String(), decision, ver.Version); err != nil {
		return nil, err
	}
	// secrets report redacted here; Read returns the restored plaintext
	return &Item{Coordinate: c, Version: ver.Version, Value: ver.Value().Redacted()}, nil
}
