// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package cache

import (
	"time"

	"github.com/hashicorp/go-hclog"
)

const (
	defaultSize = 4096
	defaultTTL  = 5 * time.Minute
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
	withSize    int
	withTTL     time.Duration
	withShared  Shared
	withPromote PromoteFunc
	withLogger  hclog.Logger
}

func getDefaultOptions() options {
	return options{
		withSize: defaultSize,
		withTTL:  defaultTTL,
	}
}

// WithSize bounds the in-process tier's entry count.
func WithSize(n int) Option {
	return func(o *options) {
		o.withSize = n
	}
}

// WithTTL bounds entry age in both tiers.
func WithTTL(d time.Duration) Option {
	return func(o *options) {
		o.withTTL = d
	}
}

// WithShared wires in a shared second tier.
func WithShared(s Shared) Option {
	return func(o *options) {
		o.withShared = s
	}
}

// WithPromoteFunc provides the decrypt hook used when an encrypted entry is
// promoted from the shared tier.
func WithPromoteFunc(f PromoteFunc) Option {
	return func(o *options) {
		o.withPromote = f
	}
}

// WithLogger provides a logger for degradation warnings.
func WithLogger(l hclog.Logger) Option {
	return func(o *options) {
		o.withLogger = l
	}
}
