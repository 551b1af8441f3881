// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package event is the audit emitter.  It constructs structured audit
// records and forwards them synchronously through an eventlogger broker to
// whatever sinks the embedder registers; persistence and retention are the
// sinks' concern, not this core's.
package event

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/hashicorp/confstore/internal/errors"
	"github.com/hashicorp/eventlogger"
	"github.com/hashicorp/eventlogger/sinks/writer"
	"github.com/hashicorp/go-hclog"
)

// AuditType is the broker event type for audit records.
const AuditType = "audit"

// Eventer delivers audit events with an enforced (synchronous) delivery
// guarantee: a mutating operation is not acknowledged until its audit record
// reached at least one sink.
type Eventer struct {
	broker *eventlogger.Broker
	logger hclog.Logger

	mu        sync.Mutex
	sinkCount int
}

// NewEventer creates an Eventer.  Supported options: WithAuditSink (may be
// given multiple times via AddAuditSink), WithLogger.
func NewEventer(ctx context.Context, opt ...Option) (*Eventer, error) {
	const op = "event.NewEventer"
	opts := getOpts(opt...)
	logger := opts.withLogger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	broker, err := eventlogger.NewBroker()
	if err != nil {
		return nil, errors.New(ctx, errors.Io, op, "unable to create broker", errors.WithWrap(err))
	}
	e := &Eventer{
		broker: broker,
		logger: logger.Named("audit"),
	}
	if opts.withAuditSink != nil {
		if err := e.AddAuditSink(ctx, opts.withAuditSink); err != nil {
			return nil, errors.Wrap(ctx, err, op)
		}
	}
	return e, nil
}

// AddAuditSink registers an additional JSON sink for audit events.
func (e *Eventer) AddAuditSink(ctx context.Context, w io.Writer) error {
	const op = "event.(Eventer).AddAuditSink"
	if w == nil {
		return errors.New(ctx, errors.InvalidParameter, op, "missing sink writer")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sinkCount++
	fmtId := eventlogger.NodeID(fmt.Sprintf("audit-json-%d", e.sinkCount))
	sinkId := eventlogger.NodeID(fmt.Sprintf("audit-sink-%d", e.sinkCount))

	if err := e.broker.RegisterNode(fmtId, &eventlogger.JSONFormatter{}); err != nil {
		return errors.New(ctx, errors.Io, op, "unable to register formatter", errors.WithWrap(err))
	}
	if err := e.broker.RegisterNode(sinkId, &writer.Sink{Writer: w, Format: eventlogger.JSONFormat}); err != nil {
		return errors.New(ctx, errors.Io, op, "unable to register sink", errors.WithWrap(err))
	}
	if err := e.broker.RegisterPipeline(eventlogger.Pipeline{
		EventType:  eventlogger.EventType(AuditType),
		PipelineID: eventlogger.PipelineID(fmt.Sprintf("audit-pipeline-%d", e.sinkCount)),
		NodeIDs:    []eventlogger.NodeID{fmtId, sinkId},
	}); err != nil {
		return errors.New(ctx, errors.Io, op, "unable to register pipeline", errors.WithWrap(err))
	}
	// at least one sink must accept each audit event
	if err := e.broker.SetSuccessThreshold(eventlogger.EventType(AuditType), 1); err != nil {
		return errors.New(ctx, errors.Io, op, "unable to set delivery guarantee", errors.WithWrap(err))
	}
	return nil
}

// WriteAudit sends an audit record through the broker synchronously.  With
// no sinks registered the record is dropped with a warning; the gate and
// store treat that as acceptable only because the embedder opted out of
// sinks entirely.
func (e *Eventer) WriteAudit(ctx context.Context, a *Audit) error {
	const op = "event.(Eventer).WriteAudit"
	if a == nil {
		return errors.New(ctx, errors.InvalidParameter, op, "missing audit record")
	}
	if err := a.validate(ctx); err != nil {
		return errors.Wrap(ctx, err, op)
	}
	e.mu.Lock()
	sinks := e.sinkCount
	e.mu.Unlock()
	if sinks == 0 {
		e.logger.Warn("no audit sinks registered, dropping audit record", "action", a.Action, "result", a.Result)
		return nil
	}
	if _, err := e.broker.Send(ctx, eventlogger.EventType(AuditType), a); err != nil {
		return errors.New(ctx, errors.Io, op, "unable to deliver audit record", errors.WithWrap(err))
	}
	if a.SecurityEvent {
		e.logger.Warn("security event", "action", a.Action, "tenant_id", a.TenantId, "actor", a.Actor, "reason", a.Reason)
	}
	return nil
}
