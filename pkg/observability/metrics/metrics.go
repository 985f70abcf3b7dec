package metrics

import (
    "sync"

    "github.com/prometheus/client_golang/prometheus"
)

var (
    once sync.Once

    Inspections = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "repmgr_bootstrap",
        Name:      "inspections_total",
        Help:      "Cluster status inspections by result",
    }, []string{"result"})

    StatusRows = prometheus.NewGaugeVec(prometheus.GaugeOpts{
        Namespace: "repmgr_bootstrap",
        Name:      "status_rows",
        Help:      "Rows per role in the last observed cluster status",
    }, []string{"role"})

    Decisions = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "repmgr_bootstrap",
        Name:      "decisions_total",
        Help:      "Role resolver decisions",
    }, []string{"decision"})

    Registrations = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "repmgr_bootstrap",
        Name:      "primary_registrations_total",
        Help:      "Primary registration outcomes",
    }, []string{"result"})

    DiscoveryLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "repmgr_bootstrap",
        Name:      "discovery_lookups_total",
        Help:      "Primary discovery lookups by variant and result",
    }, []string{"variant", "result"})

    JoinSteps = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "repmgr_bootstrap",
        Subsystem: "join",
        Name:      "steps_total",
        Help:      "Join orchestrator steps by step name and result",
    }, []string{"step", "result"})

    ConvergenceAttempts = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "repmgr_bootstrap",
        Subsystem: "convergence",
        Name:      "attempts_total",
        Help:      "Standby confirmation polls",
    })

    ConvergenceResults = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "repmgr_bootstrap",
        Subsystem: "convergence",
        Name:      "results_total",
        Help:      "Standby confirmation outcomes",
    }, []string{"result"})

    RecoveryWrites = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "repmgr_bootstrap",
        Name:      "recovery_conf_writes_total",
        Help:      "recovery.conf renders by whether the content changed",
    }, []string{"changed"})

    AgentMembers = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: "repmgr_bootstrap",
        Subsystem: "agent",
        Name:      "members",
        Help:      "Fleet members visible to the discovery agent",
    })
)

// Register registers metrics into the default Prometheus registry (idempotent).
func Register() {
    once.Do(func() {
        prometheus.MustRegister(Inspections)
        prometheus.MustRegister(StatusRows)
        prometheus.MustRegister(Decisions)
        prometheus.MustRegister(Registrations)
        prometheus.MustRegister(DiscoveryLookups)
        prometheus.MustRegister(JoinSteps)
        prometheus.MustRegister(ConvergenceAttempts)
        prometheus.MustRegister(ConvergenceResults)
        prometheus.MustRegister(RecoveryWrites)
        prometheus.MustRegister(AgentMembers)
    })
}

// WriteTextfile dumps the default registry in the node_exporter textfile
// collector format. One-shot bootstrap runs use it instead of serving /metrics.
func WriteTextfile(path string) error {
    if path == "" { return nil }
    Register()
    return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}

// Result maps an error to a result label.
func Result(err error) string {
    if err != nil { return "error" }
    return "ok"
}
