package metric

import (
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestOTelProviderRecords(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	m, err := NewOTel(provider.Meter("test"))
	if err != nil {
		t.Fatalf("NewOTel error: %v", err)
	}

	m.IncForwardsTotal("GET")
	m.UpdateForwardDuration("GET", time.Now())
	m.IncFailedForwards(FailReasonUpstreamError)
	m.IncTokenRefreshes()
	m.IncLogins(true)
	m.IncStoreReconnects()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(t.Context(), &rm); err != nil {
		t.Fatalf("Collect error: %v", err)
	}

	if len(rm.ScopeMetrics) != 1 {
		t.Fatalf("scope metrics = %d; want 1", len(rm.ScopeMetrics))
	}

	if got := len(rm.ScopeMetrics[0].Metrics); got != 6 {
		t.Errorf("recorded %d instruments; want all 6", got)
	}
}
