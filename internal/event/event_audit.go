// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package event

import (
	"context"
	"time"

	"github.com/hashicorp/confstore/internal/errors"
)

// auditVersion defines the version of audit events
const auditVersion = "v0.1"

// Result of the operation an audit event records.
type Result string

const (
	ResultAllow Result = "allow"
	ResultDeny  Result = "deny"
	ResultError Result = "error"
)

// Audit is the structured record the emitter forwards for every mutating and
// every denied operation: who did what, when, with what result.  Persistence
// and retention belong to the external audit sink.
type Audit struct {
	Id        string    `json:"id"`
	Version   string    `json:"version"`
	Timestamp time.Time `json:"timestamp"`

	// Actor is the authenticated user id.
	Actor string `json:"actor"`

	// TenantId is the caller's tenant, which is always the coordinate's
	// tenant for allowed operations.
	TenantId string `json:"tenant_id"`

	// Coordinate is the target's rendered coordinate, when there is one.
	Coordinate string `json:"coordinate,omitempty"`

	// Action is the requested operation.
	Action string `json:"action"`

	Result Result `json:"result"`

	// Reason explains a deny or error without leaking internals.
	Reason string `json:"reason,omitempty"`

	// MatchedPolicyIds are the access policies that participated in the
	// decision.
	MatchedPolicyIds []string `json:"matched_policy_ids,omitempty"`

	// SecurityEvent marks records that warrant elevated handling, e.g.
	// cross-tenant attempts and decryption failures.
	SecurityEvent bool `json:"security_event,omitempty"`

	// EntryVersion is the version produced by a mutating operation.
	EntryVersion uint64 `json:"entry_version,omitempty"`
}

// NewAudit creates a validated audit record with a fresh id and timestamp.
// Supported options: WithNow (tests).
func NewAudit(ctx context.Context, actor, tenantId, action string, result Result, opt ...Option) (*Audit, error) {
	const op = "event.NewAudit"
	opts := getOpts(opt...)
	id, err := NewId(ctx, "e")
	if err != nil {
		return nil, errors.Wrap(ctx, err, op)
	}
	ts := opts.withNow
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	a := &Audit{
		Id:        id,
		Version:   auditVersion,
		Timestamp: ts,
		Actor:     actor,
		TenantId:  tenantId,
		Action:    action,
		Result:    result,
	}
	if err := a.validate(ctx); err != nil {
		return nil, errors.Wrap(ctx, err, op)
	}
	return a, nil
}

func (a *Audit) validate(ctx context.Context) error {
	const op = "event.(Audit).validate"
	switch {
	case a.Actor == "":
		return errors.New(ctx, errors.InvalidParameter, op, "missing actor")
	case a.TenantId == "":
		return errors.New(ctx, errors.InvalidParameter, op, "missing tenant id")
	case a.Action == "":
		return errors.New(ctx, errors.InvalidParameter, op, "missing action")
	case a.Result != ResultAllow && a.Result != ResultDeny && a.Result != ResultError:
		return errors.New(ctx, errors.InvalidParameter, op, "invalid result")
	}
	return nil
}
