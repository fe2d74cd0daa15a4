package metric

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type prometheusMetrics struct {
	forwardsTotal   *prometheus.CounterVec
	forwardDuration *prometheus.HistogramVec
	failedForwards  *prometheus.CounterVec
	tokenRefreshes  prometheus.Counter
	logins          *prometheus.CounterVec
	storeReconnects prometheus.Counter
}

func NewPrometheus() Metrics {
	return &prometheusMetrics{
		forwardsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_forwards_total",
			Help: "Total number of requests forwarded to the forum.",
		}, []string{"method"}),
		forwardDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bridge_forward_duration_seconds",
			Help:    "Duration of forwarded requests, including retries.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
		failedForwards: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_failed_forwards_total",
			Help: "Forwarded requests that terminated in an error, by reason.",
		}, []string{"reason"}),
		tokenRefreshes: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bridge_token_refreshes_total",
			Help: "Forced CSRF token refreshes after an upstream 401/403.",
		}),
		logins: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_logins_total",
			Help: "Forum login attempts by outcome.",
		}, []string{"success"}),
		storeReconnects: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bridge_store_reconnects_total",
			Help: "Reconnect cycles triggered by a dropped store connection.",
		}),
	}
}

func (m *prometheusMetrics) IncForwardsTotal(method string) {
	m.forwardsTotal.WithLabelValues(method).Inc()
}

func (m *prometheusMetrics) UpdateForwardDuration(method string, start time.Time) {
	m.forwardDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
}

func (m *prometheusMetrics) IncFailedForwards(reason FailReason) {
	m.failedForwards.WithLabelValues(string(reason)).Inc()
}

func (m *prometheusMetrics) IncTokenRefreshes() {
	m.tokenRefreshes.Inc()
}

func (m *prometheusMetrics) IncLogins(success bool) {
	m.logins.WithLabelValues(strconv.FormatBool(success)).Inc()
}

func (m *prometheusMetrics) IncStoreReconnects() {
	m.storeReconnects.Inc()
}
