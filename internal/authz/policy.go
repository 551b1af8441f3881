// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package authz

import (
	"context"
	"net"
	"time"

	"github.com/hashicorp/confstore/internal/errors"
	"github.com/hashicorp/confstore/internal/types/action"
	"github.com/hashicorp/confstore/internal/types/environment"
	"github.com/ryanuber/go-glob"
)

// PolicyIdPrefix is the prefix for access policy public ids.
const PolicyIdPrefix = "pol"

// Effect of a policy when it matches a request.
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// Subject prefixes used in policy subject lists.  A bare subject is an exact
// user id; "*" matches every caller.
const (
	subjectRolePrefix  = "role:"
	subjectGroupPrefix = "group:"
	subjectAny         = "*"
)

// Conditions narrow when a policy applies.  A policy whose conditions do not
// hold simply does not match; it never flips effect.
type Conditions struct {
	// TimeWindow restricts the policy to a UTC hour range.  StartHour is
	// inclusive and EndHour exclusive; StartHour > EndHour spans midnight.
	TimeWindow *TimeWindow `json:"time_window,omitempty"`

	// SourceCIDRs restricts the policy to callers whose source address falls
	// in one of the networks.
	SourceCIDRs []string `json:"source_cidrs,omitempty"`

	// Environments restricts the policy to requests targeting the listed
	// environments.
	Environments []string `json:"environments,omitempty"`
}

// TimeWindow is a daily UTC hour range.
type TimeWindow struct {
	StartHour int `json:"start_hour"`
	EndHour   int `json:"end_hour"`
}

// Policy is a tenant-scoped access rule.  Deny policies always win over
// allow policies and over role grants.
type Policy struct {
	PublicId string `json:"public_id"`
	TenantId string `json:"tenant_id"`
	Name     string `json:"name,omitempty"`
	Effect   Effect `json:"effect"`

	// Subjects the policy applies to: exact user ids, "role:<name>",
	// "group:<name>", or "*".
	Subjects []string `json:"subjects"`

	// Resources are glob patterns matched against "<namespace>/<key>".
	Resources []string `json:"resources"`

	// Actions the policy covers.  action.All covers every action.
	Actions []action.Type `json:"actions"`

	Conditions *Conditions `json:"conditions,omitempty"`
}

func (p *Policy) validate(ctx context.Context) error {
	const op = "authz.(Policy).validate"
	switch {
	case p.PublicId == "":
		return errors.New(ctx, errors.InvalidPublicId, op, "missing public id")
	case p.TenantId == "":
		return errors.New(ctx, errors.InvalidParameter, op, "missing tenant id")
	case p.Effect != EffectAllow && p.Effect != EffectDeny:
		return errors.New(ctx, errors.InvalidParameter, op, "invalid effect")
	case len(p.Subjects) == 0:
		return errors.New(ctx, errors.InvalidParameter, op, "missing subjects")
	case len(p.Resources) == 0:
		return errors.New(ctx, errors.InvalidParameter, op, "missing resources")
	case len(p.Actions) == 0:
		return errors.New(ctx, errors.InvalidParameter, op, "missing actions")
	}
	for _, a := range p.Actions {
		if a == action.Unknown {
			return errors.New(ctx, errors.InvalidParameter, op, "unknown action")
		}
	}
	if c := p.Conditions; c != nil {
		if tw := c.TimeWindow; tw != nil {
			if tw.StartHour < 0 || tw.StartHour > 23 || tw.EndHour < 0 || tw.EndHour > 24 {
				return errors.New(ctx, errors.InvalidParameter, op, "time window hours out of range")
			}
		}
		for _, cidr := range c.SourceCIDRs {
			if _, _, err := net.ParseCIDR(cidr); err != nil {
				return errors.New(ctx, errors.InvalidParameter, op, "invalid source cidr", errors.WithWrap(err))
			}
		}
		for _, e := range c.Environments {
			if _, err := environment.Parse(ctx, e); err != nil {
				return errors.Wrap(ctx, err, op)
			}
		}
	}
	return nil
}

// matches reports whether the policy applies to the request, ignoring
// effect.  Conditions are part of matching.
func (p *Policy) matches(ctx context.Context, c *Caller, req *Request, groups *Registry, now time.Time) bool {
	if !p.matchesSubject(c, groups) {
		return false
	}
	if !p.matchesAction(req.Action) {
		return false
	}
	if !p.matchesResource(req.resource()) {
		return false
	}
	return p.matchesConditions(ctx, c, req, now)
}

func (p *Policy) matchesSubject(c *Caller, groups *Registry) bool {
	for _, s := range p.Subjects {
		switch {
		case s == subjectAny:
			return true
		case len(s) > len(subjectRolePrefix) && s[:len(subjectRolePrefix)] == subjectRolePrefix:
			if c.hasRole(s[len(subjectRolePrefix):], groups) {
				return true
			}
		case len(s) > len(subjectGroupPrefix) && s[:len(subjectGroupPrefix)] == subjectGroupPrefix:
			if c.inGroup(s[len(subjectGroupPrefix):]) {
				return true
			}
		case s == c.UserId:
			return true
		}
	}
	return false
}

func (p *Policy) matchesAction(a action.Type) bool {
	for _, pa := range p.Actions {
		if pa == action.All || pa == a {
			return true
		}
	}
	return false
}

func (p *Policy) matchesResource(resource string) bool {
	for _, pattern := range p.Resources {
		if glob.Glob(pattern, resource) {
			return true
		}
	}
	return false
}

func (p *Policy) matchesConditions(ctx context.Context, c *Caller, req *Request, now time.Time) bool {
	cond := p.Conditions
	if cond == nil {
		return true
	}
	if tw := cond.TimeWindow; tw != nil {
		hour := now.UTC().Hour()
		inWindow := false
		if tw.StartHour <= tw.EndHour {
			inWindow = hour >= tw.StartHour && hour < tw.EndHour
		} else {
			// spans midnight
			inWindow = hour >= tw.StartHour || hour < tw.EndHour
		}
		if !inWindow {
			return false
		}
	}
	if len(cond.SourceCIDRs) > 0 {
		ip := net.ParseIP(c.SourceAddr)
		if ip == nil {
			return false
		}
		inRange := false
		for _, cidr := range cond.SourceCIDRs {
			_, network, err := net.ParseCIDR(cidr)
			if err != nil {
				continue
			}
			if network.Contains(ip) {
				inRange = true
				break
			}
		}
		if !inRange {
			return false
		}
	}
	if len(cond.Environments) > 0 {
		// both sides resolve through alias parsing so a policy written
		// against "prod" binds requests targeting "production" and vice versa
		reqEnv, err := environment.Parse(ctx, req.Environment)
		if err != nil {
			return false
		}
		found := false
		for _, e := range cond.Environments {
			env, err := environment.Parse(ctx, e)
			if err != nil {
				continue
			}
			if env == reqEnv {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
