// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package db opens the embedded durable store.  The store keeps its entries,
// versions and key material in a single sqlite database; the pure-Go glebarez
// driver keeps the module cgo-free.
package db

import (
	"context"

	"github.com/glebarez/sqlite"
	"github.com/hashicorp/confstore/internal/errors"
	"github.com/kelseyhightower/envconfig"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Config holds the durable store's runtime knobs, resolved from the
// environment with the CONFSTORE prefix.
type Config struct {
	// Path is the sqlite database path; ":memory:" opens a throwaway store.
	Path string `envconfig:"DB_PATH" default:"confstore.db"`

	// MaxOpenConns bounds the connection pool.
	MaxOpenConns int `envconfig:"DB_MAX_OPEN_CONNS" default:"1"`
}

// NewConfig resolves a Config from the process environment.
func NewConfig(ctx context.Context) (*Config, error) {
	const op = "db.NewConfig"
	var c Config
	if err := envconfig.Process("confstore", &c); err != nil {
		return nil, errors.Wrap(ctx, err, op, errors.WithCode(errors.InvalidParameter))
	}
	return &c, nil
}

// Open a database connection which is long-lived.  Supported options:
// WithLogger, WithMigrateModels.
func Open(ctx context.Context, c *Config, opt ...Option) (*gorm.DB, error) {
	const op = "db.Open"
	if c == nil {
		return nil, errors.New(ctx, errors.InvalidParameter, op, "missing config")
	}
	opts := getOpts(opt...)

	underlying, err := gorm.Open(sqlite.Open(c.Path), &gorm.Config{
		Logger:         logger.Discard,
		TranslateError: true,
	})
	if err != nil {
		return nil, errors.New(ctx, errors.BackendUnavailable, op, "unable to open database", errors.WithWrap(err))
	}

	sqlDb, err := underlying.DB()
	if err != nil {
		return nil, errors.New(ctx, errors.BackendUnavailable, op, "unable to access connection pool", errors.WithWrap(err))
	}
	maxConns := c.MaxOpenConns
	if maxConns <= 0 {
		maxConns = 1
	}
	sqlDb.SetMaxOpenConns(maxConns)

	if len(opts.withMigrateModels) > 0 {
		if err := underlying.WithContext(ctx).AutoMigrate(opts.withMigrateModels...); err != nil {
			return nil, errors.New(ctx, errors.BackendUnavailable, op, "unable to migrate schema", errors.WithWrap(err))
		}
	}
	if opts.withLogger != nil {
		opts.withLogger.Debug("database opened", "path", c.Path)
	}
	return underlying, nil
}
