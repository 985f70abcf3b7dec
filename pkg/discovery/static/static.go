// Package static implements discovery against a registry known ahead of time:
// a TOML file shipped with the node or a list built in memory.
package static

import (
    "context"
    "fmt"
    "sort"
    "strings"

    "github.com/BurntSushi/toml"
    "github.com/sirupsen/logrus"
    "github.com/spf13/afero"

    "github.com/LiamK/repmgr/pkg/cluster"
    "github.com/LiamK/repmgr/pkg/discovery"
    "github.com/LiamK/repmgr/pkg/internal/logutil"
    obsmetrics "github.com/LiamK/repmgr/pkg/observability/metrics"
)

// Node is one registry entry.
type Node struct {
    Name            string            `toml:"name"`
    Address         string            `toml:"address"`
    Role            string            `toml:"role"`
    Environment     string            `toml:"environment"`
    Port            int               `toml:"port"`
    ReplicationUser string            `toml:"replication_user"`
    KeepSegments    int               `toml:"keep_segments"`
    Hints           map[string]string `toml:"hints"`
}

// Registry is the decoded registry file:
//
//    [[node]]
//    name = "pg1"
//    address = "10.0.0.1"
//    role = "primary"
//    environment = "production"
type Registry struct {
    Nodes []Node `toml:"node"`
}

// Load decodes the registry at path from fsys.
func Load(fsys afero.Fs, path string) (Registry, error) {
    var reg Registry
    data, err := afero.ReadFile(fsys, path)
    if err != nil { return reg, fmt.Errorf("static: read registry: %w", err) }
    if _, err := toml.Decode(string(data), &reg); err != nil {
        return reg, fmt.Errorf("static: decode registry %s: %w", path, err)
    }
    for i, n := range reg.Nodes {
        if _, err := cluster.ParseRole(n.Role); err != nil {
            return reg, fmt.Errorf("static: registry node %d (%s): %w", i, n.Name, err)
        }
    }
    return reg, nil
}

// Options configures the static provider.
type Options struct {
    Defaults discovery.Defaults
    // Resolver validates discovered names (default net.DefaultResolver).
    Resolver discovery.HostResolver
    Logger   logrus.FieldLogger
}

// Provider looks nodes up by role tag in a Registry.
type Provider struct {
    nodes []Node
    opts  Options
}

// New returns a Provider over reg. Nodes are matched in name order.
func New(reg Registry, opts Options) *Provider {
    nodes := append([]Node(nil), reg.Nodes...)
    sort.SliceStable(nodes, func(i, j int) bool { return nodes[i].Name < nodes[j].Name })
    opts.Logger = logutil.Or(opts.Logger)
    return &Provider{nodes: nodes, opts: opts}
}

// Discover returns the first node tagged with the query role. The environment
// filter applies only when both the query and the node set one. A missing node
// is cluster.ErrMasterNotFound whatever EmptyOK says: a static registry that
// lacks the primary is a deployment error, not a fresh cluster.
func (p *Provider) Discover(ctx context.Context, q discovery.Query) (discovery.Result, error) {
    role := q.RoleOrPrimary()
    for _, n := range p.nodes {
        r, err := cluster.ParseRole(n.Role)
        if err != nil || r != role { continue }
        if q.Environment != "" && n.Environment != "" && !strings.EqualFold(q.Environment, n.Environment) { continue }

        res := p.opts.Defaults.Apply(discovery.Result{
            Name: n.Name, Address: strings.TrimSpace(n.Address), Port: n.Port,
            ReplicationUser: n.ReplicationUser, KeepSegments: n.KeepSegments, Hints: n.Hints,
        })
        if err := discovery.ValidateAddress(ctx, p.opts.Resolver, res.Address); err != nil {
            obsmetrics.DiscoveryLookups.WithLabelValues("static", "invalid_address").Inc()
            return discovery.Result{}, err
        }
        obsmetrics.DiscoveryLookups.WithLabelValues("static", "ok").Inc()
        p.opts.Logger.WithFields(logrus.Fields{"name": res.Name, "address": res.Address}).Debug("static registry match")
        return res, nil
    }
    obsmetrics.DiscoveryLookups.WithLabelValues("static", "not_found").Inc()
    return discovery.Result{}, fmt.Errorf("%w: no %s in static registry", cluster.ErrMasterNotFound, role)
}

var _ discovery.Provider = (*Provider)(nil)
