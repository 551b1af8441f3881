// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package oplock

import "time"

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
	withMaxRetries      uint64
	withInitialInterval time.Duration
}

func getDefaultOptions() options {
	return options{
		withMaxRetries:      DefaultMaxRetries,
		withInitialInterval: DefaultInitialInterval,
	}
}

// WithMaxRetries provides an option to bound lock acquisition attempts.
func WithMaxRetries(n uint64) Option {
	return func(o *options) {
		o.withMaxRetries = n
	}
}

// WithInitialInterval provides an option to set the initial backoff interval
// between acquisition attempts.
func WithInitialInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.withInitialInterval = d
		}
	}
}
