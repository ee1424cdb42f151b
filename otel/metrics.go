// Package otel provides OpenTelemetry integration for Trellis client events.
package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/petal-labs/trellis/bus"
)

// MetricsHandler translates client events into OpenTelemetry metrics.
// It records counters for session changes, expiry episodes, confirmed
// favorite toggles, and collection refreshes.
type MetricsHandler struct {
	sessionChanges  metric.Int64Counter
	sessionExpiries metric.Int64Counter
	favoriteToggles metric.Int64Counter
	refreshes       metric.Int64Counter
	collectionSize  metric.Int64Histogram
}

// NewMetricsHandler creates a MetricsHandler that uses the given meter to
// create instruments for recording client metrics.
func NewMetricsHandler(meter metric.Meter) (*MetricsHandler, error) {
	sessionChanges, err := meter.Int64Counter("trellis.session.changes",
		metric.WithDescription("Number of session state changes"),
	)
	if err != nil {
		return nil, err
	}

	sessionExpiries, err := meter.Int64Counter("trellis.session.expiries",
		metric.WithDescription("Number of session expiry episodes"),
	)
	if err != nil {
		return nil, err
	}

	favoriteToggles, err := meter.Int64Counter("trellis.favorites.toggles",
		metric.WithDescription("Number of confirmed favorite toggles"),
	)
	if err != nil {
		return nil, err
	}

	refreshes, err := meter.Int64Counter("trellis.collection.refreshes",
		metric.WithDescription("Number of full collection fetches"),
	)
	if err != nil {
		return nil, err
	}

	collectionSize, err := meter.Int64Histogram("trellis.collection.size",
		metric.WithDescription("Item count per full collection fetch"),
	)
	if err != nil {
		return nil, err
	}

	return &MetricsHandler{
		sessionChanges:  sessionChanges,
		sessionExpiries: sessionExpiries,
		favoriteToggles: favoriteToggles,
		refreshes:       refreshes,
		collectionSize:  collectionSize,
	}, nil
}

// Handle processes a client event and records the appropriate metrics.
func (h *MetricsHandler) Handle(e bus.Event) {
	ctx := context.Background()

	switch e.Kind {
	case bus.EventSessionChanged:
		h.sessionChanges.Add(ctx, 1)
	case bus.EventSessionExpired:
		h.sessionExpiries.Add(ctx, 1)
	case bus.EventFavoriteAdded:
		h.favoriteToggles.Add(ctx, 1, metric.WithAttributes(
			attribute.String("direction", "add"),
			attribute.String("favorite_type", payloadString(e, "favorite_type")),
		))
	case bus.EventFavoriteRemoved:
		h.favoriteToggles.Add(ctx, 1, metric.WithAttributes(
			attribute.String("direction", "remove"),
			attribute.String("favorite_type", payloadString(e, "favorite_type")),
		))
	case bus.EventCollectionRefreshed:
		attrs := metric.WithAttributes(
			attribute.String("favorite_type", payloadString(e, "favorite_type")),
		)
		h.refreshes.Add(ctx, 1, attrs)
		if count, ok := e.Payload["count"].(int); ok {
			h.collectionSize.Record(ctx, int64(count), attrs)
		}
	}
}

func payloadString(e bus.Event, key string) string {
	if s, ok := e.Payload[key].(string); ok {
		return s
	}
	return ""
}
