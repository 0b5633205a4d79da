package notification

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/pushgate/pushgate/internal/notification"

// metrics holds the dispatch instruments.
type metrics struct {
	notifications    metric.Int64Counter
	deliveries       metric.Int64Counter
	dispatchDuration metric.Float64Histogram
}

func newMetrics() (*metrics, error) {
	meter := otel.Meter(meterName)

	notifications, err := meter.Int64Counter(
		"pushgate.notifications.total",
		metric.WithDescription("Notifications by lifecycle outcome"),
		metric.WithUnit("{notification}"),
	)
	if err != nil {
		return nil, err
	}

	deliveries, err := meter.Int64Counter(
		"pushgate.deliveries.total",
		metric.WithDescription("Per-device deliveries by provider and status"),
		metric.WithUnit("{delivery}"),
	)
	if err != nil {
		return nil, err
	}

	dispatchDuration, err := meter.Float64Histogram(
		"pushgate.dispatch.duration",
		metric.WithDescription("Duration of a notification dispatch in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &metrics{
		notifications:    notifications,
		deliveries:       deliveries,
		dispatchDuration: dispatchDuration,
	}, nil
}

func (m *metrics) recordOutcome(ctx context.Context, outcome string) {
	m.notifications.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *metrics) recordDeliveries(ctx context.Context, provider string, status DeliveryStatus, n int) {
	if n == 0 {
		return
	}
	m.deliveries.Add(ctx, int64(n), metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("status", string(status)),
	))
}

func (m *metrics) recordDispatch(ctx context.Context, start time.Time, outcome string) {
	m.dispatchDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(
		attribute.String("outcome", outcome),
	))
}
