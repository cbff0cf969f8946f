// Package metrics provides the Prometheus instrumentation a Pool updates at
// the same points its control flow already touches live-count and
// slot-list bookkeeping. It is registered per-pool so that a process
// running several pools (one per item size, say) gets one labelled series
// set per instance, the pattern penguintechinc-iceshelves and
// DimaJoyti-go-coffee both use for component-scoped metrics.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// PoolMetrics bundles the gauges and counters for one Pool instance.
type PoolMetrics struct {
	Live          prometheus.Gauge
	CurrentSlots  prometheus.Gauge
	PartialSlots  prometheus.Gauge
	FullSlots     prometheus.Gauge
	AllocFailures prometheus.Counter
}

// New registers a fresh PoolMetrics for the given pool label on reg. reg may
// be nil, in which case the metrics are created but never exposed — Pool
// still updates them, which keeps the instrumentation call sites unconditional.
func New(reg prometheus.Registerer, poolLabel string) *PoolMetrics {
	labels := prometheus.Labels{"pool": poolLabel}
	m := &PoolMetrics{
		Live: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "fixedpool",
			Name:        "live_items",
			Help:        "Number of items currently handed out by the pool.",
			ConstLabels: labels,
		}),
		CurrentSlots: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "fixedpool",
			Name:        "current_slots",
			Help:        "1 if the pool has a current slot, 0 otherwise.",
			ConstLabels: labels,
		}),
		PartialSlots: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "fixedpool",
			Name:        "partial_slots",
			Help:        "Number of slots on the partial list.",
			ConstLabels: labels,
		}),
		FullSlots: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "fixedpool",
			Name:        "full_slots",
			Help:        "Number of slots on the full list.",
			ConstLabels: labels,
		}),
		AllocFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "fixedpool",
			Name:        "alloc_failures_total",
			Help:        "Allocation attempts that failed (upstream OOM or item-init refusal).",
			ConstLabels: labels,
		}),
	}

	if reg != nil {
		reg.MustRegister(m.Live, m.CurrentSlots, m.PartialSlots, m.FullSlots, m.AllocFailures)
	}
	return m
}
