package metric

import (
	"context"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type otelMetrics struct {
	forwardsTotal   metric.Int64Counter
	forwardDuration metric.Float64Histogram
	failedForwards  metric.Int64Counter
	tokenRefreshes  metric.Int64Counter
	logins          metric.Int64Counter
	storeReconnects metric.Int64Counter
}

// NewOTel builds the Metrics provider on OpenTelemetry instruments, mirroring
// the prometheus provider's metric set.
func NewOTel(meter metric.Meter) (Metrics, error) {
	var (
		m   otelMetrics
		err error
	)

	if m.forwardsTotal, err = meter.Int64Counter("bridge.forwards",
		metric.WithDescription("Total number of requests forwarded to the forum."),
	); err != nil {
		return nil, err
	}

	if m.forwardDuration, err = meter.Float64Histogram("bridge.forward.duration",
		metric.WithDescription("Duration of forwarded requests, including retries."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	if m.failedForwards, err = meter.Int64Counter("bridge.forwards.failed",
		metric.WithDescription("Forwarded requests that terminated in an error, by reason."),
	); err != nil {
		return nil, err
	}

	if m.tokenRefreshes, err = meter.Int64Counter("bridge.token.refreshes",
		metric.WithDescription("Forced CSRF token refreshes after an upstream 401/403."),
	); err != nil {
		return nil, err
	}

	if m.logins, err = meter.Int64Counter("bridge.logins",
		metric.WithDescription("Forum login attempts by outcome."),
	); err != nil {
		return nil, err
	}

	if m.storeReconnects, err = meter.Int64Counter("bridge.store.reconnects",
		metric.WithDescription("Reconnect cycles triggered by a dropped store connection."),
	); err != nil {
		return nil, err
	}

	return &m, nil
}

func (m *otelMetrics) IncForwardsTotal(method string) {
	m.forwardsTotal.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("method", method)))
}

func (m *otelMetrics) UpdateForwardDuration(method string, start time.Time) {
	m.forwardDuration.Record(context.Background(), time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("method", method)))
}

func (m *otelMetrics) IncFailedForwards(reason FailReason) {
	m.failedForwards.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("reason", string(reason))))
}

func (m *otelMetrics) IncTokenRefreshes() {
	m.tokenRefreshes.Add(context.Background(), 1)
}

func (m *otelMetrics) IncLogins(success bool) {
	m.logins.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("success", strconv.FormatBool(success))))
}

func (m *otelMetrics) IncStoreReconnects() {
	m.storeReconnects.Add(context.Background(), 1)
}
