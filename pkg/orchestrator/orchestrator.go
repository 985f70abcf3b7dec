// Package orchestrator runs one bootstrap pass for the local node: inspect,
// decide, then register a primary or bring a standby in.
package orchestrator

import (
    "context"
    "fmt"

    "github.com/sirupsen/logrus"
    "github.com/spf13/afero"

    "github.com/LiamK/repmgr/pkg/cluster"
    "github.com/LiamK/repmgr/pkg/converge"
    "github.com/LiamK/repmgr/pkg/discovery"
    "github.com/LiamK/repmgr/pkg/internal/logutil"
    "github.com/LiamK/repmgr/pkg/join"
    obsmetrics "github.com/LiamK/repmgr/pkg/observability/metrics"
    "github.com/LiamK/repmgr/pkg/observability/tracing"
    "github.com/LiamK/repmgr/pkg/recovery"
    "github.com/LiamK/repmgr/pkg/register"
    "github.com/LiamK/repmgr/pkg/resolve"
)

// Orchestrator wires the components for one node.
type Orchestrator struct {
    Identity    cluster.NodeIdentity
    Inspector   cluster.Inspector
    Discovery   discovery.Provider
    Query       discovery.Query
    Registrar   *register.Registrar
    Joiner      *join.Joiner
    Poller      *converge.Poller
    Provisioner *recovery.Provisioner
    // Fs is where the marker file is rolled back on convergence failure.
    Fs     afero.Fs
    Logger logrus.FieldLogger
    Events *cluster.EventBus
}

// Report summarizes a run.
type Report struct {
    Decision resolve.Decision `json:"-"`
    Action   string           `json:"decision"`
    Status   cluster.Status   `json:"status"`
    Primary  discovery.Result `json:"primary,omitempty"`
    // Registered is set when this run registered the primary.
    Registered bool `json:"registered,omitempty"`
    // Joined is set when this run cloned the node.
    Joined bool `json:"joined,omitempty"`
    // JoinSkipped is set when the marker file short-circuited the join.
    JoinSkipped bool `json:"join_skipped,omitempty"`
    Polls       int  `json:"polls,omitempty"`
    // RecoveryChanged is set when recovery.conf was rewritten.
    RecoveryChanged bool `json:"recovery_changed,omitempty"`
    // Deferred is set when an EmptyOK discovery found no primary, leaving
    // the standby untouched until a later run.
    Deferred bool `json:"deferred,omitempty"`
}

// Run executes one pass. Every fatal error carries the last cluster status
// where one was observed.
func (o *Orchestrator) Run(ctx context.Context) (Report, error) {
    ctx, end := tracing.StartSpan(ctx, "bootstrap.run")
    rep, err := o.run(ctx)
    end(err)
    return rep, err
}

func (o *Orchestrator) run(ctx context.Context) (Report, error) {
    id := o.Identity
    log := logutil.Or(o.Logger).WithFields(logrus.Fields{"node": id.Name, "address": id.Address, "role": id.Role})
    var rep Report
    if err := id.Validate(); err != nil { return rep, err }

    st, err := o.Inspector.Inspect(ctx, id)
    if err != nil { return rep, err }
    rep.Status = st
    o.Events.Publish(cluster.Event{Type: cluster.EventInspected, Status: st})

    res := resolve.Resolve(id, st)
    rep.Decision, rep.Action = res.Decision, res.Decision.String()
    obsmetrics.Decisions.WithLabelValues(rep.Action).Inc()
    o.Events.Publish(cluster.Event{Type: cluster.EventDecision, Decision: rep.Action, Status: st})
    log.WithField("decision", rep.Action).Info("resolved role")

    if res.MultiplePrimaries {
        return rep, cluster.WithSnapshot(fmt.Errorf("%w: %d nodes listed as primary", cluster.ErrPrimaryConflict, len(res.Primaries)), st)
    }

    switch id.Role {
    case cluster.RolePrimary:
        return o.primary(ctx, rep, res, log)
    case cluster.RoleStandby:
        return o.standby(ctx, rep, res, log)
    }
    return rep, fmt.Errorf("%w: %s", cluster.ErrWitnessUnsupported, id.Address)
}

func (o *Orchestrator) primary(ctx context.Context, rep Report, res resolve.Resolution, log logrus.FieldLogger) (Report, error) {
    switch res.Decision {
    case resolve.AlreadyPrimary:
        log.Info("node is already the registered primary")
        return rep, nil
    case resolve.PrimaryConflict:
        return rep, cluster.WithSnapshot(fmt.Errorf("%w: %s", cluster.ErrPrimaryConflict, res.Primary.Address), rep.Status)
    }
    if err := o.Registrar.RegisterPrimary(ctx, o.Identity); err != nil { return rep, err }
    rep.Registered = true
    return rep, nil
}

func (o *Orchestrator) standby(ctx context.Context, rep Report, res resolve.Resolution, log logrus.FieldLogger) (Report, error) {
    id := o.Identity
    if res.Decision == resolve.AlreadyPrimary {
        return rep, cluster.WithSnapshot(fmt.Errorf("%w: configured as standby but listed as primary", cluster.ErrRoleMismatch), rep.Status)
    }

    // Discovery runs before anything destructive, including for a node that
    // is already a standby, so recovery.conf always follows the current
    // primary.
    q := o.Query
    q.Role = cluster.RolePrimary
    primary, err := o.Discovery.Discover(ctx, q)
    if err != nil { return rep, cluster.WithSnapshot(err, rep.Status) }
    if primary.IsZero() {
        logutil.Warnf(log, "no primary discovered yet, leaving standby untouched")
        rep.Deferred = true
        return rep, nil
    }
    rep.Primary = primary
    log = log.WithField("primary", primary.Address)

    if res.Decision == resolve.NeedsJoin {
        out, err := o.Joiner.Join(ctx, id, primary)
        if err != nil { return rep, cluster.WithSnapshot(err, rep.Status) }
        rep.JoinSkipped = out.Skipped
        if !out.Skipped {
            rep.Joined = true
            p := *o.Poller
            prev := p.Options.OnAttempt
            p.Options.OnAttempt = func(n int, st cluster.Status, err error) {
                out.Attempt.Polls = n
                if prev != nil { prev(n, st, err) }
            }
            err := p.ConfirmStandby(ctx, id, converge.RollbackMarker(o.Fs, id, log))
            rep.Polls = out.Attempt.Polls
            if err != nil { return rep, err }
        }
    }

    changed, err := o.Provisioner.Provision(ctx, id, primary)
    rep.RecoveryChanged = changed
    if err != nil { return rep, err }
    log.WithField("recovery_changed", changed).Info("standby bootstrap complete")
    return rep, nil
}
