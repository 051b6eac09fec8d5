// Package correlation implements the correlation context described in
// spec §4.8: a (correlationId, traceId, spanId, parentSpanId) tuple
// propagated from a plan's entry point across every spawned unit of work,
// plus the wire header set used to round-trip it across process
// boundaries.
//
// Grounded on internal/tracing's W3C traceparent injection/extraction in
// the teacher repo, generalized from a single OTel-shaped header to the
// explicit header set named by the spec. No tracing transport (exporter,
// collector) is built here — that is an explicit non-goal; this package
// only carries and (de)serializes ids.
package correlation

import (
	"context"

	"github.com/google/uuid"
)

// Header names exchanged across wire boundaries (spec §4.8).
const (
	HeaderCorrelationID = "x-correlation-id"
	HeaderTraceID       = "x-trace-id"
	HeaderSpanID        = "x-span-id"
	HeaderParentSpanID  = "x-parent-span-id"
	HeaderRequestID     = "x-request-id"
	HeaderSessionID     = "x-session-id"
)

// Context is the correlation tuple. Zero value is not valid; use New or
// FromHeaders to construct one.
type Context struct {
	CorrelationID string
	TraceID       string
	SpanID        string
	ParentSpanID  string
	RequestID     string
	SessionID     string
}

// New starts a fresh correlation context for a new plan-level entry
// point: a new correlationId and traceId, an empty parentSpanId, and a
// freshly minted spanId.
func New() Context {
	id := uuid.NewString()
	return Context{
		CorrelationID: id,
		TraceID:       id,
		SpanID:        uuid.NewString(),
	}
}

// Child derives the correlation context for a unit of work spawned from
// c: it inherits correlationId/traceId/requestId/sessionId and creates a
// fresh spanId whose parentSpanId is c's spanId, per spec §4.8.
func (c Context) Child() Context {
	child := c
	child.ParentSpanID = c.SpanID
	child.SpanID = uuid.NewString()
	return child
}

// Headers serializes c into the wire header set.
func (c Context) Headers() map[string]string {
	h := map[string]string{
		HeaderCorrelationID: c.CorrelationID,
		HeaderTraceID:       c.TraceID,
		HeaderSpanID:        c.SpanID,
	}
	if c.ParentSpanID != "" {
		h[HeaderParentSpanID] = c.ParentSpanID
	}
	if c.RequestID != "" {
		h[HeaderRequestID] = c.RequestID
	}
	if c.SessionID != "" {
		h[HeaderSessionID] = c.SessionID
	}
	return h
}

// FromHeaders parses a Context back out of the wire header set. Missing
// ids are generated fresh, per spec §4.8 ("missing ids on inbound
// messages cause the receiver to generate fresh ones").
func FromHeaders(h map[string]string) Context {
	c := Context{
		CorrelationID: h[HeaderCorrelationID],
		TraceID:       h[HeaderTraceID],
		SpanID:        h[HeaderSpanID],
		ParentSpanID:  h[HeaderParentSpanID],
		RequestID:     h[HeaderRequestID],
		SessionID:     h[HeaderSessionID],
	}
	if c.CorrelationID == "" {
		c.CorrelationID = uuid.NewString()
	}
	if c.TraceID == "" {
		c.TraceID = uuid.NewString()
	}
	if c.SpanID == "" {
		c.SpanID = uuid.NewString()
	}
	return c
}

type ctxKey struct{}

// Into attaches c to ctx.
func Into(ctx context.Context, c Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, c)
}

// From extracts a Context from ctx, returning a fresh one if absent.
func From(ctx context.Context) Context {
	if c, ok := ctx.Value(ctxKey{}).(Context); ok {
		return c
	}
	return New()
}
