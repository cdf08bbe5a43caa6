package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Message metrics
	MessagesCounter *prometheus.CounterVec

	// Chat backend metrics
	ChatBackendRequestCounter *prometheus.CounterVec
	ChatBackendDuration       prometheus.Histogram

	// Tenant bot metrics
	TenantBotsRunningGauge    prometheus.Gauge
	LifecycleOperationCounter *prometheus.CounterVec

	// Broadcast metrics
	BroadcastDeliveryCounter *prometheus.CounterVec

	initOnce sync.Once
)

// InitMetrics registers all collectors under the given namespace.
// Only the first call has an effect; recording helpers are no-ops until then.
func InitMetrics(namespace string) {
	initOnce.Do(func() {
		MessagesCounter = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_total",
				Help:      "Total number of inbound messages handled",
			},
			[]string{"bot"},
		)

		ChatBackendRequestCounter = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "chat_backend_requests_total",
				Help:      "Total number of chat backend requests",
			},
			[]string{"outcome"},
		)

		ChatBackendDuration = promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "chat_backend_duration_seconds",
			Help:      "Duration of chat backend requests in seconds",
			Buckets:   prometheus.DefBuckets,
		})

		TenantBotsRunningGauge = promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tenant_bots_running",
			Help:      "Number of tenant bots currently running",
		})

		LifecycleOperationCounter = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "lifecycle_operations_total",
				Help:      "Total number of tenant bot lifecycle operations",
			},
			[]string{"operation", "result"},
		)

		BroadcastDeliveryCounter = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "broadcast_deliveries_total",
				Help:      "Total number of broadcast delivery attempts",
			},
			[]string{"result"},
		)
	})
}

// Handler returns the HTTP handler for the metrics endpoint
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordMessage counts one relayed message for a bot kind ("primary" or "tenant")
func RecordMessage(bot string) {
	if MessagesCounter != nil {
		MessagesCounter.WithLabelValues(bot).Inc()
	}
}

// TrackChatBackend returns a function that records the outcome and duration of one request
func TrackChatBackend() func(outcome string) {
	start := time.Now()
	return func(outcome string) {
		if ChatBackendRequestCounter == nil {
			return
		}
		ChatBackendRequestCounter.WithLabelValues(outcome).Inc()
		ChatBackendDuration.Observe(time.Since(start).Seconds())
	}
}

// SetTenantBotsRunning updates the running tenant bots gauge
func SetTenantBotsRunning(n int) {
	if TenantBotsRunningGauge != nil {
		TenantBotsRunningGauge.Set(float64(n))
	}
}

// RecordLifecycle counts a lifecycle operation with its result ("ok" or "error")
func RecordLifecycle(operation string, err error) {
	if LifecycleOperationCounter == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	LifecycleOperationCounter.WithLabelValues(operation, result).Inc()
}

// RecordDelivery counts one broadcast delivery attempt
func RecordDelivery(delivered bool) {
	if BroadcastDeliveryCounter == nil {
		return
	}
	if delivered {
		BroadcastDeliveryCounter.WithLabelValues("delivered").Inc()
	} else {
		BroadcastDeliveryCounter.WithLabelValues("failed").Inc()
	}
}
