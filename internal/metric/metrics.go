package metric

import "time"

type FailReason string

const (
	FailReasonUnauthenticated FailReason = "unauthenticated"
	FailReasonSessionMissing  FailReason = "session_missing"
	FailReasonAuthFailure     FailReason = "auth_failure"
	FailReasonUpstreamError   FailReason = "upstream_error"
	FailReasonStoreError      FailReason = "store_error"
	FailReasonInternal        FailReason = "internal"
)

type Metrics interface {
	IncForwardsTotal(method string)
	UpdateForwardDuration(method string, start time.Time)
	IncFailedForwards(FailReason)
	IncTokenRefreshes()
	IncLogins(success bool)
	IncStoreReconnects()
}
