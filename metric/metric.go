package metric

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "gatebot"

// CoreMetrics contains platform-level metrics, registered once per
// process. Component-specific metrics register through Registry.
type CoreMetrics struct {
	// Event hub
	EventsPublished  *prometheus.CounterVec
	EventsDropped    prometheus.Counter
	EventsDispatched *prometheus.CounterVec
	DispatchPanics   prometheus.Counter

	// Latch state machine
	ActiveLatches prometheus.Gauge
	LatchesOpened prometheus.Counter
	LatchesClosed prometheus.Counter

	// Entry recorder
	EntriesRecorded prometheus.Counter
	EntriesDeclined prometheus.Counter

	// Gatenet server
	PeersConnected  prometheus.Gauge
	FramesReceived  prometheus.Counter
	FramesRejected  prometheus.Counter
	BroadcastErrors prometheus.Counter
}

func newCoreMetrics() *CoreMetrics {
	return &CoreMetrics{
		EventsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "hub",
				Name:      "events_published_total",
				Help:      "Events enqueued on the hub, by kind",
			},
			[]string{"kind"},
		),
		EventsDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "hub",
				Name:      "events_dropped_total",
				Help:      "Events dropped because the hub queue was full",
			},
		),
		EventsDispatched: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "hub",
				Name:      "events_dispatched_total",
				Help:      "Events delivered to the subscriber set, by kind",
			},
			[]string{"kind"},
		),
		DispatchPanics: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "hub",
				Name:      "dispatch_panics_total",
				Help:      "Subscriber panics contained during dispatch",
			},
		),
		ActiveLatches: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "latch",
				Name:      "active",
				Help:      "Currently open latch sessions",
			},
		),
		LatchesOpened: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "latch",
				Name:      "opened_total",
				Help:      "Latch sessions opened",
			},
		),
		LatchesClosed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "latch",
				Name:      "closed_total",
				Help:      "Latch sessions closed",
			},
		),
		EntriesRecorded: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "entry",
				Name:      "recorded_total",
				Help:      "Entries persisted by the backend",
			},
		),
		EntriesDeclined: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "entry",
				Name:      "declined_total",
				Help:      "Entries declined by backend policy (spillage)",
			},
		),
		PeersConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "gatenet",
				Name:      "peers_connected",
				Help:      "Currently connected gatenet peers",
			},
		),
		FramesReceived: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "gatenet",
				Name:      "frames_received_total",
				Help:      "Complete frames received from peers",
			},
		),
		FramesRejected: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "gatenet",
				Name:      "frames_rejected_total",
				Help:      "Frames dropped as malformed or unknown",
			},
		),
		BroadcastErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "gatenet",
				Name:      "broadcast_errors_total",
				Help:      "Peer write failures during broadcast",
			},
		),
	}
}

// Registry owns the process's Prometheus registry and core metrics.
type Registry struct {
	registry *prometheus.Registry
	core     *CoreMetrics
}

// NewRegistry creates a registry with core metrics and the standard Go
// runtime collectors pre-registered.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	core := newCoreMetrics()

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		core.EventsPublished,
		core.EventsDropped,
		core.EventsDispatched,
		core.DispatchPanics,
		core.ActiveLatches,
		core.LatchesOpened,
		core.LatchesClosed,
		core.EntriesRecorded,
		core.EntriesDeclined,
		core.PeersConnected,
		core.FramesReceived,
		core.FramesRejected,
		core.BroadcastErrors,
	)

	return &Registry{registry: reg, core: core}
}

// Core returns the platform-level metrics.
func (r *Registry) Core() *CoreMetrics {
	if r == nil {
		return nil
	}
	return r.core
}

// Prometheus returns the underlying registry for HTTP exposition.
func (r *Registry) Prometheus() *prometheus.Registry {
	return r.registry
}

// MustRegister registers component-specific collectors.
func (r *Registry) MustRegister(cs ...prometheus.Collector) {
	if r == nil {
		return
	}
	r.registry.MustRegister(cs...)
}
