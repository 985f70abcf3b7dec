// Package register turns the local node into the registered primary.
package register

import (
    "context"
    "fmt"

    "github.com/sirupsen/logrus"

    "github.com/LiamK/repmgr/pkg/cluster"
    "github.com/LiamK/repmgr/pkg/internal/logutil"
    obsmetrics "github.com/LiamK/repmgr/pkg/observability/metrics"
    "github.com/LiamK/repmgr/pkg/observability/tracing"
    "github.com/LiamK/repmgr/pkg/repmgr"
    "github.com/LiamK/repmgr/pkg/resolve"
    "github.com/LiamK/repmgr/pkg/runner"
)

// Registrar runs `repmgr master register` after re-checking the cluster.
type Registrar struct {
    Inspector cluster.Inspector
    Runner    runner.Runner
    // Binary is the repmgr executable (default "repmgr").
    Binary string
    Logger logrus.FieldLogger
}

// RegisterPrimary registers id as primary. It re-inspects first so a primary
// that appeared since the caller's own inspection is never overridden: self
// already primary is a no-op and any other primary is
// cluster.ErrPrimaryConflict. The command is not retried.
func (r *Registrar) RegisterPrimary(ctx context.Context, id cluster.NodeIdentity) error {
    log := logutil.Or(r.Logger)
    ctx, end := tracing.StartSpan(ctx, "register.primary")
    err := r.register(ctx, id, log)
    end(err)
    obsmetrics.Registrations.WithLabelValues(obsmetrics.Result(err)).Inc()
    return err
}

func (r *Registrar) register(ctx context.Context, id cluster.NodeIdentity, log logrus.FieldLogger) error {
    st, err := r.Inspector.Inspect(ctx, id)
    if err != nil { return err }
    res := resolve.Resolve(id, st)
    switch {
    case res.MultiplePrimaries:
        return cluster.WithSnapshot(fmt.Errorf("%w: %d primaries listed", cluster.ErrPrimaryConflict, len(res.Primaries)), st)
    case res.Decision == resolve.AlreadyPrimary:
        log.WithField("address", id.Address).Info("already registered as primary")
        return nil
    case res.Primary != nil:
        return cluster.WithSnapshot(fmt.Errorf("%w: %s", cluster.ErrPrimaryConflict, res.Primary.Address), st)
    }

    cmd := repmgr.New(r.Binary, id).MasterRegister()
    log.WithField("cmd", cmd.String()).Info("registering primary")
    if _, err := r.Runner.Run(ctx, cmd); err != nil {
        return cluster.WithSnapshot(fmt.Errorf("%w: %v", cluster.ErrRegistrationFailed, err), st)
    }
    return nil
}
