// Package metrics centralizes the manager's Prometheus collectors,
// following the teacher's pkg/flow.MapTracer convention of taking a
// single *Metrics value at construction time and pulling named counters
// and histograms out of it, rather than scattering prometheus.MustRegister
// calls across every component.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics owns every collector and the registry they're attached to.
type Metrics struct {
	registry *prometheus.Registry

	objectsLoaded       prometheus.Counter
	objectsUnloaded     prometheus.Counter
	flowsConnected      prometheus.Counter
	flowsDisconnected   prometheus.Counter
	activeFlows         prometheus.Gauge
	controlOpDuration   *prometheus.HistogramVec
	ringBufRecordsTotal prometheus.Counter
	qoeScore            prometheus.Histogram
}

// NewMetrics constructs and registers every collector against a fresh
// registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		objectsLoaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mortise",
			Name:      "objects_loaded_total",
			Help:      "Number of struct_ops objects successfully loaded.",
		}),
		objectsUnloaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mortise",
			Name:      "objects_unloaded_total",
			Help:      "Number of struct_ops objects unloaded.",
		}),
		flowsConnected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mortise",
			Name:      "flows_connected_total",
			Help:      "Number of flows registered via Connect.",
		}),
		flowsDisconnected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mortise",
			Name:      "flows_disconnected_total",
			Help:      "Number of flows released via Disconnect.",
		}),
		activeFlows: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mortise",
			Name:      "active_flows",
			Help:      "Number of flows currently registered.",
		}),
		controlOpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mortise",
			Name:      "control_op_duration_seconds",
			Help:      "Time spent handling one control-socket operation.",
		}, []string{"op"}),
		ringBufRecordsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mortise",
			Name:      "ringbuf_records_total",
			Help:      "Number of ring buffer records forwarded to the sidecar.",
		}),
		qoeScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "mortise",
			Name:      "qoe_score",
			Help:      "Distribution of per-sample QoE scores.",
			Buckets:   []float64{-10, -8, -6, -4, -2, 0, 2, 4},
		}),
	}
	m.registry.MustRegister(
		m.objectsLoaded, m.objectsUnloaded,
		m.flowsConnected, m.flowsDisconnected, m.activeFlows,
		m.controlOpDuration, m.ringBufRecordsTotal, m.qoeScore,
	)
	return m
}

// Registry exposes the underlying registry for wiring into an HTTP
// handler (promhttp.HandlerFor).
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) ObjectLoaded()         { m.objectsLoaded.Inc() }
func (m *Metrics) ObjectUnloaded()       { m.objectsUnloaded.Inc() }
func (m *Metrics) FlowConnected()        { m.flowsConnected.Inc(); m.activeFlows.Inc() }
func (m *Metrics) FlowDisconnected()     { m.flowsDisconnected.Inc(); m.activeFlows.Dec() }
func (m *Metrics) RingBufRecord()        { m.ringBufRecordsTotal.Inc() }
func (m *Metrics) ObserveQoEScore(s float64) { m.qoeScore.Observe(s) }

// ControlOpTimer returns a function that records the elapsed time for
// op when called, meant to be deferred at the top of a dispatch arm.
func (m *Metrics) ControlOpTimer(op string) func() {
	timer := prometheus.NewTimer(m.controlOpDuration.WithLabelValues(op))
	return func() { timer.ObserveDuration() }
}
