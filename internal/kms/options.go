// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package kms

import (
	"time"

	"github.com/hashicorp/go-hclog"
)

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
	withLogger         hclog.Logger
	withGracePeriod    time.Duration
	withRotationPeriod time.Duration
}

func getDefaultOptions() options {
	return options{
		withGracePeriod:    DefaultGracePeriod,
		withRotationPeriod: DefaultRotationPeriod,
	}
}

// WithLogger provides an optional logger.
func WithLogger(l hclog.Logger) Option {
	return func(o *options) {
		o.withLogger = l
	}
}

// WithGracePeriod provides an option to set how long retired DEK versions
// keep decrypting after rotation.
func WithGracePeriod(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.withGracePeriod = d
		}
	}
}

// WithRotationPeriod provides an option to set the next-rotation-due horizon
// stamped on new ciphertexts.
func WithRotationPeriod(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.withRotationPeriod = d
		}
	}
}
