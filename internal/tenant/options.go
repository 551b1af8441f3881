// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package tenant

// getOpts - iterate the inbound Options and return a struct
func getOpts(opt ...Option) options {
	opts := getDefaultOptions()
	for _, o := range opt {
		if o != nil {
			o(&opts)
		}
	}
	return opts
}

// Option - how Options are passed as arguments
type Option func(*options)

// options = how options are represented
type options struct {
	withMaxEntries      int64
	withMaxStorageBytes int64
	withMaxOpsPerSec    int64
}

func getDefaultOptions() options {
	return options{}
}

// WithMaxEntries provides an option to bound a tenant's live entries.
func WithMaxEntries(n int64) Option {
	return func(o *options) {
		o.withMaxEntries = n
	}
}

// WithMaxStorageBytes provides an option to bound a tenant's stored bytes.
func WithMaxStorageBytes(n int64) Option {
	return func(o *options) {
		o.withMaxStorageBytes = n
	}
}

// WithMaxOpsPerSec provides an option to record a tenant's ops/sec limit for
// the admission layer above this core.
func WithMaxOpsPerSec(n int64) Option {
	return func(o *options) {
		o.withMaxOpsPerSec = n
	}
}
