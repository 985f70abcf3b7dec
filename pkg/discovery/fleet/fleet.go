// Package fleet implements dynamic discovery: the primary is looked up in a
// fleet-discovery backend by role tag and optional environment scope.
package fleet

import (
    "context"
    "fmt"
    "sort"
    "strings"

    "github.com/sirupsen/logrus"

    "github.com/LiamK/repmgr/pkg/cluster"
    "github.com/LiamK/repmgr/pkg/discovery"
    "github.com/LiamK/repmgr/pkg/internal/logutil"
    obsmetrics "github.com/LiamK/repmgr/pkg/observability/metrics"
    "github.com/LiamK/repmgr/pkg/observability/tracing"
    "github.com/LiamK/repmgr/pkg/transport"
)

// Backend queries one kind of fleet-discovery service.
type Backend interface {
    // Name labels the backend in logs and metrics.
    Name() string
    // Lookup returns the members tagged with role, scoped to environment when
    // it is non-empty. No matches is an empty slice, not an error.
    Lookup(ctx context.Context, role, environment string) ([]transport.NodeRecord, error)
}

// Options configures the Provider.
type Options struct {
    Defaults discovery.Defaults
    Resolver discovery.HostResolver
    Logger   logrus.FieldLogger
}

// Provider adapts a Backend to discovery.Provider.
type Provider struct {
    backend Backend
    opts    Options
}

// New returns a Provider over b.
func New(b Backend, opts Options) *Provider {
    opts.Logger = logutil.Or(opts.Logger)
    return &Provider{backend: b, opts: opts}
}

// Discover picks the first matching record in name order. With no usable
// record it fails with cluster.ErrEmptyResult, or returns a zero Result and
// nil when the query sets EmptyOK.
func (p *Provider) Discover(ctx context.Context, q discovery.Query) (discovery.Result, error) {
    variant := "fleet_" + p.backend.Name()
    role := string(q.RoleOrPrimary())
    ctx, end := tracing.StartSpan(ctx, "discovery."+variant)
    res, err := p.discover(ctx, role, q)
    end(err)
    switch {
    case err != nil:
        obsmetrics.DiscoveryLookups.WithLabelValues(variant, "error").Inc()
    case res.IsZero():
        obsmetrics.DiscoveryLookups.WithLabelValues(variant, "empty").Inc()
    default:
        obsmetrics.DiscoveryLookups.WithLabelValues(variant, "ok").Inc()
    }
    return res, err
}

func (p *Provider) discover(ctx context.Context, role string, q discovery.Query) (discovery.Result, error) {
    recs, err := p.backend.Lookup(ctx, role, q.Environment)
    if err != nil { return discovery.Result{}, fmt.Errorf("fleet: %s lookup: %w", p.backend.Name(), err) }

    var usable []transport.NodeRecord
    for _, r := range recs {
        if strings.TrimSpace(r.Address) == "" { continue }
        if r.Role != "" {
            if rr, err := cluster.ParseRole(r.Role); err != nil || string(rr) != role { continue }
        }
        if q.Environment != "" && r.Environment != "" && !strings.EqualFold(r.Environment, q.Environment) { continue }
        usable = append(usable, r)
    }
    if len(usable) == 0 {
        if q.EmptyOK {
            p.opts.Logger.WithField("backend", p.backend.Name()).Infof("no %s found, treating cluster as new", role)
            return discovery.Result{}, nil
        }
        scope := q.Environment
        if scope == "" { scope = "any environment" }
        return discovery.Result{}, fmt.Errorf("%w: no %s in %s via %s", cluster.ErrEmptyResult, role, scope, p.backend.Name())
    }
    sort.SliceStable(usable, func(i, j int) bool { return usable[i].Name < usable[j].Name })
    if len(usable) > 1 && role == string(cluster.RolePrimary) {
        logutil.Warnf(p.opts.Logger, "fleet reports %d primaries, using %s", len(usable), usable[0].Name)
    }

    r := usable[0]
    res := p.opts.Defaults.Apply(discovery.Result{
        Name: r.Name, Address: strings.TrimSpace(r.Address), Port: r.Port,
        ReplicationUser: r.ReplicationUser, KeepSegments: r.KeepSegments, Hints: r.Hints,
    })
    if err := discovery.ValidateAddress(ctx, p.opts.Resolver, res.Address); err != nil { return discovery.Result{}, err }
    return res, nil
}

var _ discovery.Provider = (*Provider)(nil)
