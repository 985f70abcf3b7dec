// Package inspect queries repmgr's cluster status view and turns it into a
// cluster.Status. It is the only place that looks at raw `cluster show` text.
package inspect

import (
    "bytes"
    "context"
    "errors"
    "fmt"
    "strings"

    "github.com/sirupsen/logrus"

    "github.com/LiamK/repmgr/pkg/cluster"
    "github.com/LiamK/repmgr/pkg/internal/logutil"
    obsmetrics "github.com/LiamK/repmgr/pkg/observability/metrics"
    "github.com/LiamK/repmgr/pkg/observability/tracing"
    "github.com/LiamK/repmgr/pkg/repmgr"
    "github.com/LiamK/repmgr/pkg/runner"
)

// Inspector implements cluster.Inspector on top of `repmgr cluster show`.
type Inspector struct {
    r      runner.Runner
    binary string
    log    logrus.FieldLogger
}

// New returns an Inspector invoking binary (default "repmgr") through r.
func New(r runner.Runner, binary string, logger logrus.FieldLogger) *Inspector {
    return &Inspector{r: r, binary: binary, log: logutil.Or(logger)}
}

// Inspect runs `cluster show` as the service account and parses its output.
//
// A command that cannot be started, or that the shell reports as not found
// (127) or not executable (126), fails with cluster.ErrInspectionFailed. So
// does any other nonzero exit, with two exceptions: output that still parsed
// to at least one row (repmgr flags unreachable members that way), and a
// brand-new node whose stderr reports missing repmgr metadata. A refusal from
// sudo is never tolerated.
func (i *Inspector) Inspect(ctx context.Context, id cluster.NodeIdentity) (cluster.Status, error) {
    ctx, end := tracing.StartSpan(ctx, "inspect.cluster_show")
    cmd := repmgr.New(i.binary, id).ClusterShow()
    res, err := i.r.Run(ctx, cmd)
    var ee *runner.ExitError
    if err != nil && (!errors.As(err, &ee) || ee.Code == 126 || ee.Code == 127) {
        return nil, i.fail(end, err)
    }
    st, perr := Parse(bytes.NewReader(res.Stdout))
    if perr != nil { return nil, i.fail(end, perr) }
    if ee != nil {
        if !tolerated(ee, st) { return nil, i.fail(end, err) }
        logutil.Warnf(i.log, "cluster show exited with status %d: %s", ee.Code, strings.TrimSpace(ee.Stderr))
    }
    obsmetrics.Inspections.WithLabelValues("ok").Inc()
    observeRows(st)
    i.log.WithField("rows", len(st)).Debug("cluster status inspected")
    end(nil)
    return st, nil
}

func (i *Inspector) fail(end func(error), cause error) error {
    obsmetrics.Inspections.WithLabelValues("failed").Inc()
    err := fmt.Errorf("%w: %v", cluster.ErrInspectionFailed, cause)
    end(err)
    return err
}

// stderr fragments repmgr prints when the node carries no cluster metadata yet
var newClusterMarkers = []string{
    "unable to retrieve node",
    "no node records",
    `relation "repmgr`,
    `schema "repmgr`,
    "repmgr extension",
}

func tolerated(ee *runner.ExitError, st cluster.Status) bool {
    stderr := strings.ToLower(strings.TrimSpace(ee.Stderr))
    if strings.HasPrefix(stderr, "sudo:") || strings.Contains(stderr, "\nsudo:") { return false }
    if len(st) > 0 { return true }
    for _, m := range newClusterMarkers {
        if strings.Contains(stderr, m) { return true }
    }
    return false
}

func observeRows(st cluster.Status) {
    counts := map[cluster.Role]int{cluster.RolePrimary: 0, cluster.RoleStandby: 0, cluster.RoleOther: 0}
    for _, l := range st { counts[l.Role]++ }
    for role, n := range counts {
        obsmetrics.StatusRows.WithLabelValues(string(role)).Set(float64(n))
    }
}

var _ cluster.Inspector = (*Inspector)(nil)
