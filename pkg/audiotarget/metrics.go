package audiotarget

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	registryDevices  = "devices"
	registrySessions = "sessions"
)

var (
	reloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "audiotarget",
		Subsystem: "registry",
		Name:      "reloads_total",
		Help:      "Registry reloads by outcome",
	}, []string{"registry", "result"})

	reloadDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "audiotarget",
		Subsystem: "registry",
		Name:      "reload_duration_seconds",
		Help:      "Time spent enumerating and reconciling a registry",
		Buckets:   prometheus.DefBuckets,
	}, []string{"registry"})

	registryEntities = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "audiotarget",
		Subsystem: "registry",
		Name:      "entities",
		Help:      "Entities currently held by a registry",
	}, []string{"registry"})

	entitiesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "audiotarget",
		Subsystem: "registry",
		Name:      "entities_dropped_total",
		Help:      "Entities skipped because their native object failed during a read",
	}, []string{"registry"})

	notificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "audiotarget",
		Subsystem: "notifications",
		Name:      "received_total",
		Help:      "OS notifications queued for the registry owner",
	}, []string{"kind"})

	notificationsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "audiotarget",
		Subsystem: "notifications",
		Name:      "dropped_total",
		Help:      "OS notifications dropped because the queue was full",
	})
)

func observeReload(registry string, started time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}

	reloadsTotal.WithLabelValues(registry, result).Inc()
	reloadDuration.WithLabelValues(registry).Observe(time.Since(started).Seconds())
}

func setRegistrySize(registry string, n int) {
	registryEntities.WithLabelValues(registry).Set(float64(n))
}
