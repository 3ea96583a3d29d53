package finalize

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus instruments for one System. Instruments are
// always created; they are registered only when a Registerer is configured,
// so multiple systems in one process do not collide.
type Metrics struct {
	Registrations   prometheus.Counter
	Finalizations   prometheus.Counter
	FinalizerErrors prometheus.Counter
	Disposals       prometheus.Counter
	Resurrections   prometheus.Counter
	ReRegistrations prometheus.Counter
	Reclaims        prometheus.Counter
	LiveHandles     prometheus.Gauge
	QueueDepth      prometheus.GaugeFunc
}

func newMetrics(reg prometheus.Registerer, queueLen func() int64) *Metrics {
	m := &Metrics{
		Registrations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "finalize_handles_registered_total",
			Help: "Total number of handles registered.",
		}),
		Finalizations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "finalize_finalizations_total",
			Help: "Total number of finalizer callbacks that completed.",
		}),
		FinalizerErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "finalize_finalizer_errors_total",
			Help: "Total number of finalizer callbacks that failed or panicked.",
		}),
		Disposals: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "finalize_disposals_total",
			Help: "Total number of dispose callbacks executed.",
		}),
		Resurrections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "finalize_resurrections_total",
			Help: "Total number of handles resurrected by their finalizer.",
		}),
		ReRegistrations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "finalize_reregistrations_total",
			Help: "Total number of handles re-registered for another pass.",
		}),
		Reclaims: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "finalize_reclaims_total",
			Help: "Total number of handles reclaimed.",
		}),
		LiveHandles: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "finalize_live_handles",
			Help: "Number of handles currently addressable.",
		}),
		QueueDepth: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "finalize_queue_depth",
			Help: "Number of entries pending in the finalization queue.",
		}, func() float64 { return float64(queueLen()) }),
	}

	if reg != nil {
		reg.MustRegister(
			m.Registrations,
			m.Finalizations,
			m.FinalizerErrors,
			m.Disposals,
			m.Resurrections,
			m.ReRegistrations,
			m.Reclaims,
			m.LiveHandles,
			m.QueueDepth,
		)
	}
	return m
}
