package fleet

import (
    "context"
    "fmt"
    "os"
    "time"

    "github.com/sirupsen/logrus"

    "github.com/LiamK/repmgr/pkg/cluster"
    "github.com/LiamK/repmgr/pkg/discovery"
    "github.com/LiamK/repmgr/pkg/internal/logutil"
    "github.com/LiamK/repmgr/pkg/membership"
    "github.com/LiamK/repmgr/pkg/membership/memberlist"
    "github.com/LiamK/repmgr/pkg/transport"
)

// GossipOptions configures the gossip backend.
type GossipOptions struct {
    // Seeds are agents to join.
    Seeds discovery.Seeds
    // Bind for the short-lived probe node (default 0.0.0.0:0).
    Bind string
    // Settle is how long to wait for the member list to fill after joining
    // (default 2s).
    Settle time.Duration
    Logger logrus.FieldLogger
    // NewMembership overrides the memberlist factory in tests.
    NewMembership func(memberlist.Options) (membership.Membership, error)
}

// Gossip joins the agents' memberlist cluster as a probe node, reads the
// members' metadata and leaves again.
type Gossip struct {
    opts GossipOptions
}

// NewGossip returns a gossip backend.
func NewGossip(opts GossipOptions) (*Gossip, error) {
    if opts.Seeds == nil || len(opts.Seeds.Seeds()) == 0 { return nil, fmt.Errorf("fleet: gossip needs at least one seed") }
    if opts.Bind == "" { opts.Bind = "0.0.0.0:0" }
    if opts.Settle <= 0 { opts.Settle = 2 * time.Second }
    if opts.NewMembership == nil { opts.NewMembership = memberlist.New }
    opts.Logger = logutil.Or(opts.Logger)
    return &Gossip{opts: opts}, nil
}

func (g *Gossip) Name() string { return "gossip" }

func (g *Gossip) Lookup(ctx context.Context, role, environment string) ([]transport.NodeRecord, error) {
    host, _ := os.Hostname()
    m, err := g.opts.NewMembership(memberlist.Options{
        NodeID: fmt.Sprintf("probe-%s-%d", host, time.Now().UnixNano()),
        Bind:   g.opts.Bind,
        Meta:   map[string]string{transport.MetaRole: "probe"},
        Logger: g.opts.Logger,
    })
    if err != nil { return nil, err }
    if err := m.Start(ctx); err != nil { return nil, err }
    defer func() {
        _ = m.Leave()
        _ = m.Stop()
    }()
    if _, err := m.Join(g.opts.Seeds.Seeds()); err != nil { return nil, fmt.Errorf("gossip join: %w", err) }

    deadline := time.NewTimer(g.opts.Settle)
    defer deadline.Stop()
    tick := time.NewTicker(g.opts.Settle / 10)
    defer tick.Stop()
    for {
        if recs := match(m.Members(), role, environment); len(recs) > 0 { return recs, nil }
        select {
        case <-ctx.Done():
            return nil, ctx.Err()
        case <-deadline.C:
            return match(m.Members(), role, environment), nil
        case <-tick.C:
        }
    }
}

// match converts gossiped members into records filtered by role and
// environment. Members without an address in their metadata are skipped.
func match(members []membership.MemberInfo, role, environment string) []transport.NodeRecord {
    var out []transport.NodeRecord
    for _, mi := range members {
        rec := transport.RecordFromMeta(mi.ID, mi.Meta)
        if rec.Address == "" { continue }
        if r, err := cluster.ParseRole(rec.Role); err != nil || string(r) != role { continue }
        if environment != "" && rec.Environment != "" && rec.Environment != environment { continue }
        out = append(out, rec)
    }
    return out
}

var _ Backend = (*Gossip)(nil)
