// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package store

import (
	"github.com/hashicorp/confstore/internal/schema"
	"github.com/hashicorp/confstore/internal/tenant"
	"github.com/hashicorp/confstore/internal/value"
)

// getOpts iterates the inbound Options and returns a struct
func getOpts(opt ...Option) options {
	opts := getDefaultOptions()
	for _, o := range opt {
		o(&opts)
	}
	return opts
}

// Option is a function that takes in an options struct and sets values or
// sets errors on it
type Option func(*options)

type options struct {
	withSchemaRegistry *schema.Registry
	withQuotaCounters  *tenant.QuotaCounters
	withTenant         *tenant.Tenant
	withDescription    string
	withContentHash    string
	withSuppressNoop   bool
	withRollbackOf     uint64
	withLimit          int
	withValue          *value.Value
}

func getDefaultOptions() options {
	return options{}
}

// WithSchemaRegistry wires a schema registry into the repository; writes to
// coordinates with a registered schema are validated before they commit.
func WithSchemaRegistry(r *schema.Registry) Option {
	return func(o *options) {
		o.withSchemaRegistry = r
	}
}

// WithQuotaCounters wires quota accounting into the repository.
func WithQuotaCounters(q *tenant.QuotaCounters) Option {
	return func(o *options) {
		o.withQuotaCounters = q
	}
}

// WithTenant provides the resolved tenant so a commit can reserve quota
// against its limits.
func WithTenant(t *tenant.Tenant) Option {
	return func(o *options) {
		o.withTenant = t
	}
}

// WithDescription provides an optional description for a version.
func WithDescription(desc string) Option {
	return func(o *options) {
		o.withDescription = desc
	}
}

// WithContentHash overrides the hash recorded for a version.  Callers that
// encrypt before committing pass the plaintext hash so no-op suppression
// still works for secrets.
func WithContentHash(h string) Option {
	return func(o *options) {
		o.withContentHash = h
	}
}

// WithSuppressNoop makes a commit return the current version unchanged when
// the incoming value hashes identically to it.
func WithSuppressNoop() Option {
	return func(o *options) {
		o.withSuppressNoop = true
	}
}

// WithLimit provides an optional limit for history reads; 0 means no limit.
func WithLimit(l int) Option {
	return func(o *options) {
		o.withLimit = l
	}
}

// WithValue makes Rollback commit the provided value instead of the target
// version's stored bytes.  Used when a secret's envelope must be re-sealed
// under the active key; the target's content hash is still recorded, since
// the plaintext is unchanged.
func WithValue(v value.Value) Option {
	return func(o *options) {
		o.withValue = &v
	}
}

func withRollbackOf(v uint64) Option {
	return func(o *options) {
		o.withRollbackOf = v
	}
}
