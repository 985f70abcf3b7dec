package membership

// HealthReporter is implemented by Membership backends that expose a local
// health score. Lower is healthier; -1 means not started. The agent reports
// it on /healthz.
type HealthReporter interface {
    HealthScore() int
}
