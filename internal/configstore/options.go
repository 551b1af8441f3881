// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package configstore

import (
	"io"
	"time"

	"github.com/hashicorp/confstore/internal/authz"
	"github.com/hashicorp/confstore/internal/cache"
	"github.com/hashicorp/confstore/internal/schema"
	"github.com/hashicorp/go-hclog"
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
	withLogger         hclog.Logger
	withAuditSink      io.Writer
	withSharedCache    cache.Shared
	withCacheSize      int
	withCacheTTL       time.Duration
	withSchemaRegistry *schema.Registry
	withPolicyRegistry *authz.Registry
	withGracePeriod    time.Duration
	withRotationPeriod time.Duration

	withDescription  string
	withSuppressNoop bool
	withLimit        int

	withMaxEntries      int64
	withMaxStorageBytes int64
	withMaxOpsPerSec    int64
}

func getDefaultOptions() options {
	return options{}
}

// WithLogger provides a logger shared by the service's components.
func WithLogger(l hclog.Logger) Option {
	return func(o *options) {
		o.withLogger = l
	}
}

// WithAuditSink registers a synchronous JSON audit sink.
func WithAuditSink(w io.Writer) Option {
	return func(o *options) {
		o.withAuditSink = w
	}
}

// WithSharedCache wires in a shared cache tier.
func WithSharedCache(s cache.Shared) Option {
	return func(o *options) {
		o.withSharedCache = s
	}
}

// WithCacheSize bounds the in-process cache tier.
func WithCacheSize(n int) Option {
	return func(o *options) {
		o.withCacheSize = n
	}
}

// WithCacheTTL bounds cache entry age.
func WithCacheTTL(d time.Duration) Option {
	return func(o *options) {
		o.withCacheTTL = d
	}
}

// WithSchemaRegistry provides a pre-populated schema registry.
func WithSchemaRegistry(r *schema.Registry) Option {
	return func(o *options) {
		o.withSchemaRegistry = r
	}
}

// WithPolicyRegistry provides a pre-populated access policy registry.
func WithPolicyRegistry(r *authz.Registry) Option {
	return func(o *options) {
		o.withPolicyRegistry = r
	}
}

// WithGracePeriod sets how long retired key versions keep decrypting.
func WithGracePeriod(d time.Duration) Option {
	return func(o *options) {
		o.withGracePeriod = d
	}
}

// WithRotationPeriod sets the re-encryption due interval recorded on
// secrets.
func WithRotationPeriod(d time.Duration) Option {
	return func(o *options) {
		o.withRotationPeriod = d
	}
}

// WithDescription attaches a description to the version a write produces.
func WithDescription(desc string) Option {
	return func(o *options) {
		o.withDescription = desc
	}
}

// WithSuppressNoop makes a write of an unchanged value return the current
// version instead of minting a new one.
func WithSuppressNoop() Option {
	return func(o *options) {
		o.withSuppressNoop = true
	}
}

// WithLimit bounds how many versions a history read returns; 0 means all.
func WithLimit(n int) Option {
	return func(o *options) {
		o.withLimit = n
	}
}

// WithMaxEntries sets a tenant's live entry quota; 0 means unlimited.
func WithMaxEntries(n int64) Option {
	return func(o *options) {
		o.withMaxEntries = n
	}
}

// WithMaxStorageBytes sets a tenant's stored byte quota; 0 means unlimited.
func WithMaxStorageBytes(n int64) Option {
	return func(o *options) {
		o.withMaxStorageBytes = n
	}
}

// WithMaxOpsPerSec records a tenant's rate limit for the admission layer
// above this core.
func WithMaxOpsPerSec(n int64) Option {
	return func(o *options) {
		o.withMaxOpsPerSec = n
	}
}
