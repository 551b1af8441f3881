// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package coordinate defines the unique address of a configuration value:
// (tenant, namespace, environment, key).  Every record in the store and every
// cache entry carries its coordinate, and the owning tenant id is part of it,
// which is what makes cross-tenant references impossible to construct
// accidentally.
package coordinate

import (
	"context"
	"fmt"
	"strings"

	"github.com/hashicorp/confstore/internal/errors"
	"github.com/hashicorp/confstore/internal/types/environment"
)

// Coordinate is the unique addressable unit of the store.
type Coordinate struct {
	TenantId    string
	Namespace   string
	Environment environment.Env
	Key         string
}

// New creates a validated Coordinate.
func New(ctx context.Context, tenantId, namespace string, env environment.Env, key string) (Coordinate, error) {
	const op = "coordinate.New"
	c := Coordinate{
		TenantId:    tenantId,
		Namespace:   namespace,
		Environment: env,
		Key:         key,
	}
	if err := c.Validate(ctx); err != nil {
		return Coordinate{}, errors.Wrap(ctx, err, op)
	}
	return c, nil
}

// Validate checks the coordinate's fields.  Namespaces and keys must not
// contain the separator used in cache keys and AAD.
func (c Coordinate) Validate(ctx context.Context) error {
	const op = "coordinate.(Coordinate).Validate"
	switch {
	case c.TenantId == "":
		return errors.New(ctx, errors.InvalidCoordinate, op, "missing tenant id")
	case c.Namespace == "":
		return errors.New(ctx, errors.InvalidCoordinate, op, "missing namespace")
	case c.Key == "":
		return errors.New(ctx, errors.InvalidCoordinate, op, "missing key")
	case !c.Environment.Valid():
		return errors.New(ctx, errors.InvalidCoordinate, op, fmt.Sprintf("invalid environment %q", c.Environment))
	case strings.ContainsAny(c.Namespace, "|"), strings.ContainsAny(c.Key, "|"):
		return errors.New(ctx, errors.InvalidCoordinate, op, "namespace and key must not contain '|'")
	}
	return nil
}

// String renders the coordinate for logs and audit records.
func (c Coordinate) String() string {
	return fmt.Sprintf("%s/%s/%s/%s", c.TenantId, c.Namespace, c.Environment, c.Key)
}

// Encode renders the coordinate in a form Parse can round-trip.  The '|'
// separator is safe because Validate rejects it in namespaces and keys.
func (c Coordinate) Encode() string {
	return strings.Join([]string{c.TenantId, c.Namespace, string(c.Environment), c.Key}, "|")
}

// Parse rebuilds a coordinate from its Encode form.
func Parse(ctx context.Context, s string) (Coordinate, error) {
	const op = "coordinate.Parse"
	parts := strings.Split(s, "|")
	if len(parts) != 4 {
		return Coordinate{}, errors.New(ctx, errors.InvalidCoordinate, op, "malformed encoded coordinate")
	}
	c := Coordinate{
		TenantId:    parts[0],
		Namespace:   parts[1],
		Environment: environment.Env(parts[2]),
		Key:         parts[3],
	}
	if err := c.Validate(ctx); err != nil {
		return Coordinate{}, errors.Wrap(ctx, err, op)
	}
	return c, nil
}

// LockKey returns the key used to serialize commits to this coordinate.
func (c Coordinate) LockKey() string {
	return c.String()
}

// AAD returns the additional authenticated data binding a secret ciphertext
// to this coordinate.  A ciphertext produced for one tenant or coordinate can
// never be replayed against another because this binding won't verify.
func (c Coordinate) AAD() []byte {
	return []byte(c.Encode())
}

// WithEnvironment returns a copy of c addressed at env.  Used when resolving
// environment precedence on effective reads.
func (c Coordinate) WithEnvironment(env environment.Env) Coordinate {
	c.Environment = env
	return c
}
