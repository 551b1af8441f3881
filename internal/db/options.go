// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package db

import "github.com/hashicorp/go-hclog"

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
	withLogger        hclog.Logger
	withMigrateModels []any
}

func getDefaultOptions() options {
	return options{}
}

// WithLogger provides an optional logger for the open/migrate path.
func WithLogger(l hclog.Logger) Option {
	return func(o *options) {
		o.withLogger = l
	}
}

// WithMigrateModels provides models to auto-migrate when opening the store.
func WithMigrateModels(models ...any) Option {
	return func(o *options) {
		o.withMigrateModels = models
	}
}
