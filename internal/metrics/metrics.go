package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "fieldsync"

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)

	actionsEnqueued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_enqueued_total",
			Help:      "Actions accepted into the offline queue.",
		},
		[]string{"kind"},
	)

	actionsSynced = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_synced_total",
			Help:      "Actions successfully dispatched to the backend, queued or direct.",
		},
		[]string{"kind", "path"},
	)

	actionsRetried = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_retried_total",
			Help:      "Failed replays left in the queue for a later drain.",
		},
		[]string{"kind"},
	)

	actionsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_dropped_total",
			Help:      "Actions removed from the queue without a successful replay.",
		},
		[]string{"kind", "reason"},
	)

	syncSessions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_sessions_total",
			Help:      "Sync triggers by result.",
		},
		[]string{"result"},
	)

	syncDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_duration_seconds",
			Help:      "Duration of completed drains.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		},
	)

	queuePending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_pending",
			Help:      "Actions currently waiting in the offline queue.",
		},
	)

	networkOnline = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "network_online",
			Help:      "1 when the device reports connectivity, 0 otherwise.",
		},
	)

	locationSamples = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "location_samples_total",
			Help:      "Location samples by outcome.",
		},
		[]string{"outcome"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			actionsEnqueued,
			actionsSynced,
			actionsRetried,
			actionsDropped,
			syncSessions,
			syncDuration,
			queuePending,
			networkOnline,
			locationSamples,
		)
	})
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}

func ActionEnqueued(kind string) {
	actionsEnqueued.WithLabelValues(kind).Inc()
}

// ActionSynced counts a successful dispatch; path is "queue" or "direct".
func ActionSynced(kind, path string) {
	actionsSynced.WithLabelValues(kind, path).Inc()
}

func ActionRetried(kind string) {
	actionsRetried.WithLabelValues(kind).Inc()
}

func ActionDropped(kind, reason string) {
	actionsDropped.WithLabelValues(kind, reason).Inc()
}

// SyncSession counts a sync trigger: completed, busy, offline or empty.
func SyncSession(result string) {
	syncSessions.WithLabelValues(result).Inc()
}

func ObserveSyncDuration(d time.Duration) {
	syncDuration.Observe(d.Seconds())
}

func SetPending(n int) {
	queuePending.Set(float64(n))
}

func SetOnline(online bool) {
	if online {
		networkOnline.Set(1)
		return
	}
	networkOnline.Set(0)
}

// LocationSample counts a sample outcome: dispatched, queued or failed.
func LocationSample(outcome string) {
	locationSamples.WithLabelValues(outcome).Inc()
}
