package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	metricsOnce        sync.Once
	metricsInitialized bool
	recordedTotal      *prometheus.CounterVec
	retentionEvictions prometheus.Counter
)

func initMetrics() {
	metricsOnce.Do(func() {
		recordedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "errwatch",
			Subsystem: "telemetry",
			Name:      "errors_recorded_total",
			Help:      "Count of recorded application errors by category",
		}, []string{"category"})

		retentionEvictions = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "errwatch",
			Subsystem: "telemetry",
			Name:      "retention_evictions_total",
			Help:      "Buffer records evicted by the retention sweeper",
		})

		if err := prometheus.Register(recordedTotal); err != nil {
			if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
				recordedTotal = are.ExistingCollector.(*prometheus.CounterVec)
			}
		}
		if err := prometheus.Register(retentionEvictions); err != nil {
			if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
				retentionEvictions = are.ExistingCollector.(prometheus.Counter)
			}
		}
		metricsInitialized = true
	})
}

func recordCategoryMetric(category string) {
	if !metricsInitialized {
		return
	}
	recordedTotal.WithLabelValues(category).Inc()
}

func recordEvictionMetric(count int) {
	if !metricsInitialized || count <= 0 {
		return
	}
	retentionEvictions.Add(float64(count))
}
