// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package environment defines the closed set of deployment environments a
// configuration value can be scoped to.  Values in a specific environment
// override values in Base when a caller asks for the effective value.
package environment

import (
	"context"
	"fmt"

	"github.com/hashicorp/confstore/internal/errors"
)

// Env is one of the closed set of environments.
type Env string

const (
	Base        Env = "base"
	Development Env = "development"
	Staging     Env = "staging"
	Production  Env = "production"
	Edge        Env = "edge"
)

// All returns every valid environment, Base first.
func All() []Env {
	return []Env{Base, Development, Staging, Production, Edge}
}

// Parse resolves a string, including the common short aliases, into an Env.
func Parse(ctx context.Context, s string) (Env, error) {
	const op = "environment.Parse"
	switch s {
	case "base":
		return Base, nil
	case "dev", "development":
		return Development, nil
	case "stage", "staging":
		return Staging, nil
	case "prod", "production":
		return Production, nil
	case "edge":
		return Edge, nil
	}
	return "", errors.New(ctx, errors.InvalidParameter, op, fmt.Sprintf("unknown environment %q", s))
}

// Valid reports whether e is a member of the closed set.
func (e Env) Valid() bool {
	switch e {
	case Base, Development, Staging, Production, Edge:
		return true
	}
	return false
}

func (e Env) String() string {
	return string(e)
}

// Precedence returns the environments consulted, most specific first, when
// resolving an effective value for e.  Base is its own fallback.
func (e Env) Precedence() []Env {
	if e == Base {
		return []Env{Base}
	}
	return []Env{e, Base}
}
