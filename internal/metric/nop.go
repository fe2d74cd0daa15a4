package metric

import (
	"time"
)

type nopMetrics struct{}

func NewNop() Metrics {
	return &nopMetrics{}
}
func (m *nopMetrics) IncForwardsTotal(_ string)                   {}
func (m *nopMetrics) UpdateForwardDuration(_ string, _ time.Time) {}
func (m *nopMetrics) IncFailedForwards(_ FailReason)              {}
func (m *nopMetrics) IncTokenRefreshes()                          {}
func (m *nopMetrics) IncLogins(_ bool)                            {}
func (m *nopMetrics) IncStoreReconnects()                         {}
