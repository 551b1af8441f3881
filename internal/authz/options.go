// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package authz

import (
	"time"

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
	withLogger  hclog.Logger
	withNowFunc func() time.Time
}

func getDefaultOptions() options {
	return options{}
}

// WithLogger provides a logger for gate diagnostics.
func WithLogger(l hclog.Logger) Option {
	return func(o *options) {
		o.withLogger = l
	}
}

// WithNowFunc overrides the clock used for time window conditions in tests.
func WithNowFunc(f func() time.Time) Option {
	return func(o *options) {
		o.withNowFunc = f
	}
}
