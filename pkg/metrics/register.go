package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var registerMetrics sync.Once

const (
	TSNNamespace = "tsn"
	QbvSubsystem = "qbv"
)

// Activation results as recorded in ActivationsTotal.
const (
	ResultCommit   = "commit"
	ResultRollback = "rollback"
	ResultReject   = "reject"
)

var (
	// ActiveCycleTime is the cycle time of the schedule currently in force
	// on a port, in nanoseconds.
	ActiveCycleTime = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: TSNNamespace,
			Subsystem: QbvSubsystem,
			Name:      "active_cycle_time_ns",
			Help:      "Cycle time of the active gate schedule",
		}, []string{"port"})

	// PendingActivation is 1 while a port has an activation awaiting its
	// base-time boundary.
	PendingActivation = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: TSNNamespace,
			Subsystem: QbvSubsystem,
			Name:      "pending_activation",
			Help:      "1 = schedule swap pending, 0 = idle",
		}, []string{"port"})

	// ActivationsTotal counts resolved activation attempts by result.
	ActivationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: TSNNamespace,
			Subsystem: QbvSubsystem,
			Name:      "activations_total",
			Help:      "Schedule activation attempts by terminal result",
		}, []string{"port", "result"})

	// CompileWarningsTotal counts non-fatal compiler findings.
	CompileWarningsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: TSNNamespace,
			Subsystem: QbvSubsystem,
			Name:      "compile_warnings_total",
			Help:      "Non-fatal schedule compilation warnings",
		}, []string{"port"})
)

// RegisterMetrics registers the engine collectors once.
func RegisterMetrics() {
	registerMetrics.Do(func() {
		prometheus.MustRegister(ActiveCycleTime)
		prometheus.MustRegister(PendingActivation)
		prometheus.MustRegister(ActivationsTotal)
		prometheus.MustRegister(CompileWarningsTotal)

		// Including these stats kills performance when Prometheus polls with multiple targets
		prometheus.Unregister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		prometheus.Unregister(collectors.NewGoCollector())
	})
}
