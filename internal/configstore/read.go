// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package configstore

import (
	"bytes"
	"context"

	"github.com/hashicorp/confstore/internal/authz"
	"github.com/hashicorp/confstore/internal/cache"
	"github.com/hashicorp/confstore/internal/errors"
	"github.com/hashicorp/confstore/internal/types/action"
	"github.com/hashicorp/confstore/internal/value"
)

// Read returns the current value at the coordinate.  Secrets come back as
// plaintext; redaction is a listing concern, a caller allowed to read a
// secret gets the secret.
func (s *Service) Read(ctx context.Context, caller *authz.Caller, tenantId, namespace, env, key string) (*Item, error) {
	const op = "configstore.(Service).Read"
	if _, err := s.gate.Authorize(ctx, caller, &authz.Request{
		TenantId:    tenantId,
		Namespace:   namespace,
		Environment: env,
		Key:         key,
		Action:      action.Read,
	}); err != nil {
		return nil, errors.Wrap(ctx, err, op)
	}
	c, err := newCoordinate(ctx, tenantId, namespace, env, key)
	if err != nil {
		return nil, errors.Wrap(ctx, err, op)
	}
	e, err := s.cache.Get(ctx, cache.Key(c), 0, s.loaderFor(c))
	if err != nil {
		return nil, errors.Wrap(ctx, err, op)
	}
	// the cache owns e.Data and zeroes secret plaintext on eviction, so the
	// caller gets its own copy
	return &Item{
		Coordinate: c,
		Version:    e.Version,
		Value:      value.Value{Kind: e.Kind, Data: bytes.Clone(e.Data)},
	}, nil
}

// ReadEffective resolves the coordinate with environment precedence: the
// requested environment's value wins, otherwise the base environment's value
// answers.  A miss in both is RecordNotFound.
func (s *Service) ReadEffective(ctx context.Context, caller *authz.Caller, tenantId, namespace, env, key string) (*Item, error) {
	const op = "configstore.(Service).ReadEffective"
	if _, err := s.gate.Authorize(ctx, caller, &authz.Request{
		TenantId:    tenantId,
		Namespace:   namespace,
		Environment: env,
		Key:         key,
		Action:      action.Read,
	}); err != nil {
		return nil, errors.Wrap(ctx, err, op)
	}
	c, err := newCoordinate(ctx, tenantId, namespace, env, key)
	if err != nil {
		return nil, errors.Wrap(ctx, err, op)
	}
	for _, e := range c.Environment.Precedence() {
		cc := c.WithEnvironment(e)
		entry, err := s.cache.Get(ctx, cache.Key(cc), 0, s.loaderFor(cc))
		switch {
		case err == nil:
			return &Item{
				Coordinate: cc,
				Version:    entry.Version,
				Value:      value.Value{Kind: entry.Kind, Data: bytes.Clone(entry.Data)},
			}, nil
		case errors.Match(errors.T(errors.RecordNotFound), err):
			continue
		default:
			return nil, errors.Wrap(ctx, err, op)
		}
	}
	return nil, errors.New(ctx, errors.RecordNotFound, op, "no value in the environment chain")
}
