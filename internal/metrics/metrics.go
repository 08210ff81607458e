// Package metrics exposes Prometheus collectors for routing and probe
// activity. Recording functions are always safe to call; collectors only
// export data once registered via Register.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Read routing target kinds.
const (
	TargetReplica = "replica"
	TargetPrimary = "primary"
)

var (
	readsRouted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sqlmirror",
			Subsystem: "router",
			Name:      "reads_routed_total",
			Help:      "Read operations routed, by target kind (replica or primary fallback).",
		},
		[]string{"target"},
	)

	probeFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sqlmirror",
			Subsystem: "probe",
			Name:      "failures_total",
			Help:      "Status probes that returned no usable lag measurement, by replica.",
		},
		[]string{"alias"},
	)

	replicaLag = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "sqlmirror",
			Subsystem: "replica",
			Name:      "lag_seconds",
			Help:      "Last observed replication lag per replica.",
		},
		[]string{"alias"},
	)

	timeTravelSessions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sqlmirror",
			Subsystem: "timetravel",
			Name:      "sessions_total",
			Help:      "Time-travel sessions opened, by outcome.",
		},
		[]string{"outcome"},
	)
)

// Register attaches all collectors to reg. Call once at startup;
// registering the same collectors twice returns an error from the
// registry.
func Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		readsRouted,
		probeFailures,
		replicaLag,
		timeTravelSessions,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// ReadRouted records a routed read by target kind.
func ReadRouted(target string) {
	readsRouted.WithLabelValues(target).Inc()
}

// ProbeFailure records a probe that yielded no usable lag value.
func ProbeFailure(alias string) {
	probeFailures.WithLabelValues(alias).Inc()
}

// SetReplicaLag records the last observed lag for a replica.
func SetReplicaLag(alias string, seconds float64) {
	replicaLag.WithLabelValues(alias).Set(seconds)
}

// TimeTravelOpened records a successfully opened time-travel session.
func TimeTravelOpened() {
	timeTravelSessions.WithLabelValues("opened").Inc()
}

// TimeTravelFailed records a time-travel session that failed setup.
func TimeTravelFailed() {
	timeTravelSessions.WithLabelValues("failed").Inc()
}
