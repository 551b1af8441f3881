// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package configstore

import (
	"context"

	"github.com/hashicorp/confstore/internal/authz"
	"github.com/hashicorp/confstore/internal/errors"
	"github.com/hashicorp/confstore/internal/store"
	"github.com/hashicorp/confstore/internal/types/action"
	"github.com/hashicorp/confstore/internal/types/environment"
	"github.com/hashicorp/confstore/internal/value"
)

func storeLimit(n int) []store.Option {
	if n <= 0 {
		return nil
	}
	return []store.Option{store.WithLimit(n)}
}

// List returns a namespace's live entries in one environment ordered by
// key.  Secret values are always redacted in listings regardless of the
// caller's read permissions.
func (s *Service) List(ctx context.Context, caller *authz.Caller, tenantId, namespace, env string) ([]*Item, error) {
	const op = "configstore.(Service).List"
	if _, err := s.gate.Authorize(ctx, caller, &authz.Request{
		TenantId:    tenantId,
		Namespace:   namespace,
		Environment: env,
		Action:      action.List,
	}); err != nil {
		return nil, errors.Wrap(ctx, err, op)
	}
	e, err := environment.Parse(ctx, env)
	if err != nil {
		return nil, errors.Wrap(ctx, err, op)
	}
	items, err := s.store.List(ctx, tenantId, namespace, e)
	if err != nil {
		return nil, errors.Wrap(ctx, err, op)
	}
	out := make([]*Item, 0, len(items))
	for _, it := range items {
		c, err := newCoordinate(ctx, it.Entry.TenantId, it.Entry.Namespace, string(it.Entry.Environment), it.Entry.Key)
		if err != nil {
			return nil, errors.Wrap(ctx, err, op)
		}
		out = append(out, &Item{
			Coordinate: c,
			Version:    it.Version.Version,
			Value:      it.Version.Value().Redacted(),
		})
	}
	return out, nil
}

// HistoryItem is one revision in a coordinate's history.
type HistoryItem struct {
	Version     uint64
	Value       value.Value
	Deleted     bool
	RollbackOf  uint64
	CreatedBy   string
	Description string
}

// History returns a coordinate's revisions newest first, tombstones
// included; it works for deleted entries too.  Secret revisions are
// redacted.  Supported options: WithLimit.
func (s *Service) History(ctx context.Context, caller *authz.Caller, tenantId, namespace, env, key string, opt ...Option) ([]*HistoryItem, error) {
	const op = "configstore.(Service).History"
	opts := getOpts(opt...)
	if _, err := s.gate.Authorize(ctx, caller, &authz.Request{
		TenantId:    tenantId,
		Namespace:   namespace,
		Environment: env,
		Key:         key,
		Action:      action.History,
	}); err != nil {
		return nil, errors.Wrap(ctx, err, op)
	}
	c, err := newCoordinate(ctx, tenantId, namespace, env, key)
	if err != nil {
		return nil, errors.Wrap(ctx, err, op)
	}
	versions, err := s.store.History(ctx, c, storeLimit(opts.withLimit)...)
	if err != nil {
		return nil, errors.Wrap(ctx, err, op)
	}
	out := make([]*HistoryItem, 0, len(versions))
	for _, v := range versions {
		hi := &HistoryItem{
			Version:     v.Version,
			Deleted:     v.Deleted,
			RollbackOf:  v.RollbackOf,
			CreatedBy:   v.CreatedBy,
			Description: v.Description,
		}
		if !v.Deleted {
			hi.Value = v.Value().Redacted()
		}
		out = append(out, hi)
	}
	return out, nil
}
