package otel

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/petal-labs/trellis/bus"
)

// TracingHandler translates client events into OpenTelemetry spans. A
// session.changed event opens a session-lifetime span; favorite and
// collection events become short child spans under it; session.expired and
// session.cleared end it. Events arriving with no session span open become
// root spans so nothing is lost.
type TracingHandler struct {
	tracer trace.Tracer

	mu          sync.Mutex
	sessionSpan trace.Span
	sessionCtx  context.Context
}

// NewTracingHandler creates a TracingHandler that uses the given tracer to
// create spans from client events.
func NewTracingHandler(tracer trace.Tracer) *TracingHandler {
	return &TracingHandler{tracer: tracer}
}

// Handle processes a client event and creates or ends spans accordingly.
func (h *TracingHandler) Handle(e bus.Event) {
	switch e.Kind {
	case bus.EventSessionChanged:
		h.handleSessionChanged(e)
	case bus.EventSessionExpired, bus.EventSessionCleared:
		h.endSession(e)
	case bus.EventFavoriteAdded, bus.EventFavoriteRemoved, bus.EventCollectionRefreshed:
		h.handleChildEvent(e)
	}
}

// ActiveSessionSpanContext returns the span context of the open session
// span, if any.
func (h *TracingHandler) ActiveSessionSpanContext() trace.SpanContext {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sessionSpan == nil {
		return trace.SpanContext{}
	}
	return h.sessionSpan.SpanContext()
}

// handleSessionChanged rotates the session span: the previous one (if any)
// ends and a fresh one opens.
func (h *TracingHandler) handleSessionChanged(e bus.Event) {
	h.mu.Lock()
	prev := h.sessionSpan
	h.mu.Unlock()

	if prev != nil {
		prev.End(trace.WithTimestamp(e.Time))
	}

	ctx, span := h.tracer.Start(context.Background(), "session",
		trace.WithAttributes(
			attribute.String("trellis.event_id", e.ID),
		),
		trace.WithTimestamp(e.Time),
	)

	h.mu.Lock()
	h.sessionSpan = span
	h.sessionCtx = ctx
	h.mu.Unlock()
}

// endSession closes the open session span.
func (h *TracingHandler) endSession(e bus.Event) {
	h.mu.Lock()
	span := h.sessionSpan
	h.sessionSpan = nil
	h.sessionCtx = nil
	h.mu.Unlock()

	if span != nil {
		span.SetAttributes(attribute.String("trellis.ended_by", e.Kind.String()))
		span.End(trace.WithTimestamp(e.Time))
	}
}

// handleChildEvent records a favorite or collection event as a short span,
// parented under the session span when one is open.
func (h *TracingHandler) handleChildEvent(e bus.Event) {
	h.mu.Lock()
	parentCtx := h.sessionCtx
	h.mu.Unlock()

	if parentCtx == nil {
		parentCtx = context.Background()
	}

	attrs := []attribute.KeyValue{
		attribute.String("trellis.event_id", e.ID),
	}
	if ftype, ok := e.Payload["favorite_type"].(string); ok {
		attrs = append(attrs, attribute.String("trellis.favorite_type", ftype))
	}
	if itemID, ok := e.Payload["item_id"].(int64); ok {
		attrs = append(attrs, attribute.Int64("trellis.item_id", itemID))
	}

	_, span := h.tracer.Start(parentCtx, e.Kind.String(),
		trace.WithAttributes(attrs...),
		trace.WithTimestamp(e.Time),
	)
	span.End(trace.WithTimestamp(e.Time))
}
