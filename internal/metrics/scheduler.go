package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SchedulingRequestsTotal counts engine requests by operation and outcome.
	SchedulingRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dvbsched_scheduling_requests_total",
		Help: "Scheduling requests by operation and outcome",
	}, []string{"op", "outcome"}) // outcome=ok|refused|conflict|starts_in_past|invalid_channel|not_found|unreachable|invalid|error

	recorderCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dvbsched_recorder_calls_total",
		Help: "Recorder facade calls by operation and result",
	}, []string{"op", "result"})

	recorderCallSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dvbsched_recorder_call_seconds",
		Help:    "Recorder facade call latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	// NotificationsTotal counts applied change notifications per kind and action.
	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dvbsched_sync_notifications_total",
		Help: "Change notifications processed by kind and resulting action",
	}, []string{"kind", "action"}) // action=upsert|remove|remove_after_fetch_error|ignored

	syncState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dvbsched_sync_state",
		Help: "Schedule sync state per group (1 for the active state)",
	}, []string{"group", "state"})

	ResyncsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dvbsched_sync_resyncs_total",
		Help: "Full timer refetches by trigger and result",
	}, []string{"trigger", "result"}) // trigger=startup|reconnect|manual

	storeTimers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dvbsched_store_timers",
		Help: "Cached timers per group",
	}, []string{"group"})
)

var syncStates = []string{"uninitialized", "synced", "resyncing"}

// RecordSchedulingRequest counts one engine request.
func RecordSchedulingRequest(op, outcome string) {
	SchedulingRequestsTotal.WithLabelValues(op, outcome).Inc()
}

// ObserveRecorderCall records the result and latency of a facade call.
func ObserveRecorderCall(op, result string, seconds float64) {
	recorderCallsTotal.WithLabelValues(op, result).Inc()
	recorderCallSeconds.WithLabelValues(op).Observe(seconds)
}

// RecordNotification counts one processed notification.
func RecordNotification(kind, action string) {
	NotificationsTotal.WithLabelValues(kind, action).Inc()
}

// SetSyncState marks state as the active sync state of group.
func SetSyncState(group, state string) {
	for _, s := range syncStates {
		value := 0.0
		if s == state {
			value = 1.0
		}
		syncState.WithLabelValues(group, s).Set(value)
	}
}

// RecordResync counts one full refetch.
func RecordResync(trigger, result string) {
	ResyncsTotal.WithLabelValues(trigger, result).Inc()
}

// SetStoreTimers publishes the cache size of group.
func SetStoreTimers(group string, n int) {
	storeTimers.WithLabelValues(group).Set(float64(n))
}
