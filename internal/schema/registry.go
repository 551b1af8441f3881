// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package schema holds the per-coordinate JSON schemas the version store
// validates values against before committing.  Registration is keyed by
// (tenant, namespace, key) so a schema applies across environments; a
// coordinate without a registered schema accepts any well-formed value.
package schema

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/hashicorp/confstore/internal/coordinate"
	"github.com/hashicorp/confstore/internal/errors"
	"github.com/hashicorp/confstore/internal/value"
	"github.com/xeipuuv/gojsonschema"
)

// Registry is a concurrency-safe schema registry.
type Registry struct {
	mu      sync.RWMutex
	schemas map[string]*gojsonschema.Schema
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		schemas: make(map[string]*gojsonschema.Schema),
	}
}

func registryKey(tenantId, namespace, key string) string {
	return strings.Join([]string{tenantId, namespace, key}, "|")
}

// Register compiles and stores a JSON schema for (tenant, namespace, key),
// replacing any prior schema.  Schemas may evolve; rollback re-validates old
// values against whatever is registered at rollback time.
func (r *Registry) Register(ctx context.Context, tenantId, namespace, key string, schemaDoc []byte) error {
	const op = "schema.(Registry).Register"
	switch {
	case tenantId == "":
		return errors.New(ctx, errors.InvalidParameter, op, "missing tenant id")
	case namespace == "":
		return errors.New(ctx, errors.InvalidParameter, op, "missing namespace")
	case key == "":
		return errors.New(ctx, errors.InvalidParameter, op, "missing key")
	case len(schemaDoc) == 0:
		return errors.New(ctx, errors.InvalidParameter, op, "missing schema document")
	}
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schemaDoc))
	if err != nil {
		return errors.New(ctx, errors.InvalidParameter, op, "schema does not compile", errors.WithWrap(err))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemas[registryKey(tenantId, namespace, key)] = compiled
	return nil
}

// Deregister removes the schema for (tenant, namespace, key), if any.
func (r *Registry) Deregister(tenantId, namespace, key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.schemas, registryKey(tenantId, namespace, key))
}

// Validate checks v against the schema registered for c's coordinate.  Secret
// values skip schema validation since only ciphertext is present at commit
// time.  A missing schema is not an error.
func (r *Registry) Validate(ctx context.Context, c coordinate.Coordinate, v value.Value) error {
	const op = "schema.(Registry).Validate"
	if v.IsSecret() {
		return nil
	}
	r.mu.RLock()
	compiled, ok := r.schemas[registryKey(c.TenantId, c.Namespace, c.Key)]
	r.mu.RUnlock()
	if !ok {
		return nil
	}

	result, err := compiled.Validate(gojsonschema.NewBytesLoader(v.Data))
	if err != nil {
		return errors.New(ctx, errors.SchemaValidation, op, "unable to validate value", errors.WithWrap(err))
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			msgs = append(msgs, desc.String())
		}
		return errors.New(ctx, errors.SchemaValidation, op, fmt.Sprintf("value failed schema: %s", strings.Join(msgs, "; ")))
	}
	return nil
}
