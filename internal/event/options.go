// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package event

import (
	"io"
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
	withAuditSink io.Writer
	withLogger    hclog.Logger
	withNow       time.Time
}

func getDefaultOptions() options {
	return options{}
}

// WithAuditSink provides a writer to receive JSON audit records.
func WithAuditSink(w io.Writer) Option {
	return func(o *options) {
		o.withAuditSink = w
	}
}

// WithLogger provides an optional logger.
func WithLogger(l hclog.Logger) Option {
	return func(o *options) {
		o.withLogger = l
	}
}

// WithNow provides an option to fix an event's timestamp (tests).
func WithNow(t time.Time) Option {
	return func(o *options) {
		o.withNow = t
	}
}
