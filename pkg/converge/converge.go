// Package converge confirms that a freshly cloned standby shows up in the
// cluster status view.
package converge

import (
    "context"
    "errors"
    "fmt"
    "os"
    "time"

    "github.com/sirupsen/logrus"
    "github.com/spf13/afero"

    "github.com/LiamK/repmgr/pkg/cluster"
    "github.com/LiamK/repmgr/pkg/internal/logutil"
    obsmetrics "github.com/LiamK/repmgr/pkg/observability/metrics"
    "github.com/LiamK/repmgr/pkg/observability/tracing"
)

const (
    DefaultMaxAttempts = 20
    DefaultDelay       = 20 * time.Second
)

// Options bounds the poll.
type Options struct {
    MaxAttempts int
    Delay       time.Duration
    // Sleep waits between attempts; tests replace it. The default honours ctx.
    Sleep func(ctx context.Context, d time.Duration) error
    // OnAttempt is called after every observation.
    OnAttempt func(attempt int, st cluster.Status, err error)
}

// Poller re-inspects until the node is listed as a standby.
type Poller struct {
    Inspector cluster.Inspector
    Options   Options
    Logger    logrus.FieldLogger
    Events    *cluster.EventBus
}

// ConfirmStandby polls up to MaxAttempts times, Delay apart, until a standby
// row carries id's own address. Inspection errors count as a failed
// observation. When attempts run out, onFailure (if non-nil) is called with
// the last status seen (nil if no inspection ever succeeded) and the error of
// the final inspection, and ErrJoinNotConfirmed is returned carrying both.
// Context cancellation stops the poll between attempts.
func (p *Poller) ConfirmStandby(ctx context.Context, id cluster.NodeIdentity, onFailure func(last cluster.Status, inspectErr error)) error {
    opts := p.Options
    if opts.MaxAttempts <= 0 { opts.MaxAttempts = DefaultMaxAttempts }
    if opts.Delay <= 0 { opts.Delay = DefaultDelay }
    if opts.Sleep == nil { opts.Sleep = sleep }
    log := logutil.Or(p.Logger).WithField("address", id.Address)

    ctx, end := tracing.StartSpan(ctx, "converge.confirm_standby")
    var (
        last     cluster.Status
        finalErr error
    )
    for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
        obsmetrics.ConvergenceAttempts.Inc()
        st, err := p.Inspector.Inspect(ctx, id)
        finalErr = err
        if err == nil { last = st }
        p.Events.Publish(cluster.Event{Type: cluster.EventConvergencePoll, Attempt: attempt, Status: st, Err: err})
        if opts.OnAttempt != nil { opts.OnAttempt(attempt, st, err) }
        if err == nil && st.HasStandby(id.Address) {
            log.WithField("attempt", attempt).Info("standby confirmed")
            obsmetrics.ConvergenceResults.WithLabelValues("confirmed").Inc()
            end(nil)
            return nil
        }
        if err != nil {
            log.WithError(err).WithField("attempt", attempt).Warn("inspection failed during convergence poll")
        } else {
            log.WithField("attempt", attempt).Debugf("not yet listed as standby, retrying in %s", opts.Delay)
        }
        if attempt == opts.MaxAttempts { break }
        if err := opts.Sleep(ctx, opts.Delay); err != nil {
            obsmetrics.ConvergenceResults.WithLabelValues("cancelled").Inc()
            end(err)
            return err
        }
    }

    obsmetrics.ConvergenceResults.WithLabelValues("exhausted").Inc()
    if onFailure != nil { onFailure(last, finalErr) }
    err := fmt.Errorf("%w after %d attempts", cluster.ErrJoinNotConfirmed, opts.MaxAttempts)
    if finalErr != nil { err = fmt.Errorf("%w, last inspection: %v", err, finalErr) }
    if last != nil { err = cluster.WithSnapshot(err, last) }
    end(err)
    return err
}

func sleep(ctx context.Context, d time.Duration) error {
    t := time.NewTimer(d)
    defer t.Stop()
    select {
    case <-ctx.Done():
        return ctx.Err()
    case <-t.C:
        return nil
    }
}

// RollbackMarker returns the standard failure handler: log the last status
// and remove the marker file so the next run retries the join from scratch.
func RollbackMarker(fs afero.Fs, id cluster.NodeIdentity, logger logrus.FieldLogger) func(cluster.Status, error) {
    log := logutil.Or(logger)
    return func(last cluster.Status, inspectErr error) {
        entry := log
        if inspectErr != nil { entry = log.WithError(inspectErr) }
        if last == nil {
            entry.Errorf("unable to detect %s as standby, cluster status could not be read", id.Address)
        } else {
            entry.Errorf("unable to detect %s as standby, last cluster status:\n%s", id.Address, last.String())
        }
        if err := fs.Remove(id.RecoveryFile()); err != nil && !errors.Is(err, os.ErrNotExist) {
            log.WithError(err).Errorf("could not remove %s", id.RecoveryFile())
            return
        }
        log.WithField("marker", id.RecoveryFile()).Warn("removed marker file")
    }
}
