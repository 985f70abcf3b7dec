// Package join drives a standby through the destructive clone sequence:
// stop the local server, purge and re-clone the data directory from the
// primary, then start the server and the replication monitor.
package join

import (
    "context"
    "errors"
    "fmt"
    "os"

    "github.com/sirupsen/logrus"
    "github.com/spf13/afero"

    "github.com/LiamK/repmgr/pkg/cluster"
    "github.com/LiamK/repmgr/pkg/discovery"
    "github.com/LiamK/repmgr/pkg/internal/logutil"
    obsmetrics "github.com/LiamK/repmgr/pkg/observability/metrics"
    "github.com/LiamK/repmgr/pkg/observability/tracing"
    "github.com/LiamK/repmgr/pkg/repmgr"
    "github.com/LiamK/repmgr/pkg/runner"
    "github.com/LiamK/repmgr/pkg/service"
)

// Step names, as reported in errors, events and metrics.
const (
    StepStop         = "stop_postgresql"
    StepKill         = "kill_postgres"
    StepPurge        = "purge_data_directory"
    StepClone        = "standby_clone"
    StepStart        = "start_postgresql"
    StepStartMonitor = "start_repmgrd"
)

const DefaultStartRetries = 2

// Options names the services touched by a join.
type Options struct {
    PostgresService string // default "postgresql"
    MonitorService  string // default "repmgrd"
    KillPattern     string // default "postgres"
    // StartRetries bounds immediate retries of the postgresql start. Zero
    // means DefaultStartRetries, negative means no retry.
    StartRetries int
}

func (o Options) withDefaults() Options {
    if o.PostgresService == "" { o.PostgresService = "postgresql" }
    if o.MonitorService == "" { o.MonitorService = "repmgrd" }
    if o.KillPattern == "" { o.KillPattern = "postgres" }
    if o.StartRetries == 0 { o.StartRetries = DefaultStartRetries }
    if o.StartRetries < 0 { o.StartRetries = 0 }
    return o
}

// Attempt is the transient state of one join. It is discarded when Join
// returns.
type Attempt struct {
    Primary discovery.Result
    Clone   runner.Command
    // Polls counts convergence observations made for this attempt.
    Polls int
    // Purged is set once the data directory has been removed, so a retry
    // within the same attempt never purges twice.
    Purged bool
    // Steps lists the steps that completed, in order.
    Steps []string
}

// Outcome reports what Join did.
type Outcome struct {
    // Skipped is set when the marker file was present and nothing ran.
    Skipped bool
    Attempt *Attempt
}

// Joiner executes the join sequence.
type Joiner struct {
    Runner   runner.Runner
    Services service.Manager
    Fs       afero.Fs
    // Binary is the repmgr executable (default "repmgr").
    Binary  string
    Options Options
    Logger  logrus.FieldLogger
    Events  *cluster.EventBus
}

// Join clones id from primary unless the marker file already exists. Any step
// failure aborts the remaining steps and returns an error wrapping
// cluster.ErrJoinStepFailed that names the step.
func (j *Joiner) Join(ctx context.Context, id cluster.NodeIdentity, primary discovery.Result) (Outcome, error) {
    log := logutil.Or(j.Logger).WithField("primary", primary.Address)
    opts := j.Options.withDefaults()

    if _, err := j.Fs.Stat(id.RecoveryFile()); err == nil {
        log.WithField("marker", id.RecoveryFile()).Info("recovery.conf present, skipping join")
        return Outcome{Skipped: true}, nil
    } else if !errors.Is(err, os.ErrNotExist) {
        return Outcome{}, fmt.Errorf("%w: stat marker: %v", cluster.ErrJoinStepFailed, err)
    }
    if primary.IsZero() {
        return Outcome{}, fmt.Errorf("%w: no primary to clone from", cluster.ErrInvalidAddress)
    }

    a := &Attempt{
        Primary: primary,
        Clone:   repmgr.New(j.Binary, id).StandbyClone(repmgr.CloneOptions{PrimaryHost: primary.Address, KeepSegments: primary.KeepSegments}),
    }
    out := Outcome{Attempt: a}

    if err := j.step(ctx, a, StepStop, func(ctx context.Context) error {
        return j.Services.Stop(ctx, opts.PostgresService)
    }); err != nil { return out, err }

    if err := j.Services.Kill(ctx, opts.KillPattern); err != nil {
        log.WithError(err).Debug("pkill found nothing to kill")
    }
    a.Steps = append(a.Steps, StepKill)

    if err := j.purgeAndClone(ctx, id, a, log); err != nil { return out, err }

    if err := j.step(ctx, a, StepStart, func(ctx context.Context) error {
        return service.StartWithRetries(ctx, j.Services, opts.PostgresService, opts.StartRetries, log)
    }); err != nil { return out, err }

    if err := j.step(ctx, a, StepStartMonitor, func(ctx context.Context) error {
        return j.Services.Start(ctx, opts.MonitorService)
    }); err != nil { return out, err }

    log.WithField("steps", len(a.Steps)).Info("standby clone finished")
    return out, nil
}

// purgeAndClone is the only place the data directory is removed, and it
// always proceeds straight to the clone.
func (j *Joiner) purgeAndClone(ctx context.Context, id cluster.NodeIdentity, a *Attempt, log logrus.FieldLogger) error {
    if !a.Purged {
        if err := j.step(ctx, a, StepPurge, func(ctx context.Context) error {
            if _, err := j.Fs.Stat(id.DataDirectory); errors.Is(err, os.ErrNotExist) { return nil }
            log.WithField("dir", id.DataDirectory).Warn("removing data directory before clone")
            return j.Fs.RemoveAll(id.DataDirectory)
        }); err != nil { return err }
        a.Purged = true
    }
    return j.step(ctx, a, StepClone, func(ctx context.Context) error {
        _, err := j.Runner.Run(ctx, a.Clone)
        return err
    })
}

func (j *Joiner) step(ctx context.Context, a *Attempt, name string, fn func(context.Context) error) error {
    j.Events.Publish(cluster.Event{Type: cluster.EventStepStarted, Step: name})
    ctx, end := tracing.StartSpan(ctx, "join."+name)
    err := fn(ctx)
    end(err)
    obsmetrics.JoinSteps.WithLabelValues(name, obsmetrics.Result(err)).Inc()
    if err != nil {
        j.Events.Publish(cluster.Event{Type: cluster.EventStepFailed, Step: name, Err: err})
        return fmt.Errorf("%w: %s: %v", cluster.ErrJoinStepFailed, name, err)
    }
    a.Steps = append(a.Steps, name)
    j.Events.Publish(cluster.Event{Type: cluster.EventStepCompleted, Step: name})
    return nil
}
