package editclient

import "github.com/prometheus/client_golang/prometheus"

// Metrics collects the engine's transport counters. Pass a Registerer to
// expose them; a nil registry yields working but unexported counters,
// which keeps tests and library embedders free of global state.
type Metrics struct {
	reconnects      prometheus.Counter
	publishFailures prometheus.Counter
	framesIn        prometheus.Counter
	framesOut       prometheus.Counter
	droppedFrames   prometheus.Counter
	opsApplied      prometheus.Counter
	snapshotLoads   prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "plansync_transport_connects_total",
			Help: "Successful websocket (re)connections.",
		}),
		publishFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "plansync_transport_publish_failures_total",
			Help: "Publishes rejected because no live connection existed.",
		}),
		framesIn: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "plansync_transport_frames_in_total",
			Help: "MESSAGE frames received.",
		}),
		framesOut: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "plansync_transport_frames_out_total",
			Help: "SEND frames written.",
		}),
		droppedFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "plansync_transport_dropped_frames_total",
			Help: "Inbound frames dropped as malformed or unroutable.",
		}),
		opsApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "plansync_session_ops_applied_total",
			Help: "Operations applied to the local store, local and remote.",
		}),
		snapshotLoads: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "plansync_session_snapshot_loads_total",
			Help: "Authoritative snapshot replaces.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.reconnects,
			m.publishFailures,
			m.framesIn,
			m.framesOut,
			m.droppedFrames,
			m.opsApplied,
			m.snapshotLoads,
		)
	}
	return m
}
