// Package agent runs the per-node fleet discovery daemon. It gossips the
// node's record over memberlist, serves the discovery HTTP API backed by the
// gossip view, and can mirror the record into redis for the redis backend.
package agent

import (
    "context"
    "crypto/tls"
    "errors"
    "sort"
    "sync"
    "time"

    "github.com/sirupsen/logrus"

    "github.com/LiamK/repmgr/pkg/cluster"
    "github.com/LiamK/repmgr/pkg/discovery"
    "github.com/LiamK/repmgr/pkg/internal/logutil"
    "github.com/LiamK/repmgr/pkg/membership"
    "github.com/LiamK/repmgr/pkg/membership/memberlist"
    obsmetrics "github.com/LiamK/repmgr/pkg/observability/metrics"
    "github.com/LiamK/repmgr/pkg/transport"
    "github.com/LiamK/repmgr/pkg/transport/httpjson"
)

// DefaultAnnounceInterval is how often the record is re-announced.
const DefaultAnnounceInterval = 30 * time.Second

// Announcer publishes the local record to an external registry.
type Announcer interface {
    Announce(ctx context.Context, rec transport.NodeRecord) error
}

// Options configures an Agent.
type Options struct {
    Record transport.NodeRecord
    // Gossip bind and advertise addresses (host:port).
    Bind      string
    Advertise string
    Seeds     discovery.Seeds
    // HTTPAddr serves the discovery API; empty disables it.
    HTTPAddr string
    TLS      *tls.Config
    Token    string
    // Announcer is optional (e.g. the redis backend).
    Announcer        Announcer
    AnnounceInterval time.Duration
    Logger           logrus.FieldLogger

    NewMembership func(memberlist.Options) (membership.Membership, error)
}

// Agent is one running discovery daemon.
type Agent struct {
    opts Options
    log  logrus.FieldLogger

    mu  sync.RWMutex
    mem membership.Membership
    srv *httpjson.Server
}

// New validates opts.
func New(opts Options) (*Agent, error) {
    if opts.Record.Name == "" { return nil, errors.New("agent: empty node name") }
    if opts.Record.Address == "" { return nil, errors.New("agent: empty address") }
    if _, err := cluster.ParseRole(opts.Record.Role); err != nil { return nil, err }
    if opts.Bind == "" { opts.Bind = "0.0.0.0:7946" }
    if opts.AnnounceInterval <= 0 { opts.AnnounceInterval = DefaultAnnounceInterval }
    if opts.NewMembership == nil { opts.NewMembership = memberlist.New }
    log := logutil.Or(opts.Logger).WithFields(logrus.Fields{"node": opts.Record.Name, "role": opts.Record.Role})
    return &Agent{opts: opts, log: log}, nil
}

// Start joins the gossip pool and starts the HTTP API. Background loops stop
// when ctx is canceled; call Stop to leave the pool.
func (a *Agent) Start(ctx context.Context) error {
    m, err := a.opts.NewMembership(memberlist.Options{
        NodeID:    a.opts.Record.Name,
        Bind:      a.opts.Bind,
        Advertise: a.opts.Advertise,
        Meta:      a.opts.Record.Meta(),
        Logger:    a.log,
    })
    if err != nil { return err }
    if err := m.Start(ctx); err != nil { return err }
    a.mu.Lock()
    a.mem = m
    a.mu.Unlock()

    if a.opts.Seeds != nil {
        if seeds := a.opts.Seeds.Seeds(); len(seeds) > 0 {
            n, err := m.Join(seeds)
            if err != nil {
                // the first node of a fleet has nobody to join yet
                logutil.Warnf(a.log, "gossip join via %v: %v", seeds, err)
            } else {
                a.log.WithField("contacted", n).Info("joined gossip pool")
            }
        }
    }
    obsmetrics.AgentMembers.Set(float64(len(m.Members())))
    go a.watch(ctx, m)

    if a.opts.HTTPAddr != "" {
        srv := httpjson.NewServer(a.opts.HTTPAddr, a.log).UseTLS(a.opts.TLS).RequireToken(a.opts.Token)
        if h, ok := m.(membership.HealthReporter); ok { srv.UseHealth(h) }
        if err := srv.Start(ctx, a.Nodes); err != nil {
            _ = m.Stop()
            return err
        }
        a.mu.Lock()
        a.srv = srv
        a.mu.Unlock()
    }

    if a.opts.Announcer != nil { go a.announce(ctx) }
    return nil
}

// Run starts the agent and blocks until ctx is canceled.
func (a *Agent) Run(ctx context.Context) error {
    if err := a.Start(ctx); err != nil { return err }
    <-ctx.Done()
    return a.Stop()
}

// Stop leaves the gossip pool and shuts the HTTP API down.
func (a *Agent) Stop() error {
    a.mu.Lock()
    m, srv := a.mem, a.srv
    a.mem, a.srv = nil, nil
    a.mu.Unlock()
    var errs []error
    if srv != nil { errs = append(errs, srv.Stop(context.Background())) }
    if m != nil {
        if err := m.Leave(); err != nil { logutil.Warnf(a.log, "gossip leave: %v", err) }
        errs = append(errs, m.Stop())
    }
    return errors.Join(errs...)
}

// Addr is the HTTP API address, empty when disabled or not started.
func (a *Agent) Addr() string {
    a.mu.RLock()
    defer a.mu.RUnlock()
    if a.srv == nil { return "" }
    return a.srv.Addr()
}

// Local is the gossip address peers reach this agent on.
func (a *Agent) Local() string {
    a.mu.RLock()
    defer a.mu.RUnlock()
    if a.mem == nil { return "" }
    return a.mem.Local().Addr
}

// Nodes lists the gossiped records matching role and environment. Empty
// filters match everything; members with an unknown role (probes) are never
// listed.
func (a *Agent) Nodes(ctx context.Context, role, environment string) ([]transport.NodeRecord, error) {
    a.mu.RLock()
    m := a.mem
    a.mu.RUnlock()
    if m == nil { return nil, errors.New("agent: not started") }
    if role != "" {
        r, err := cluster.ParseRole(role)
        if err != nil { return nil, err }
        role = string(r)
    }
    var out []transport.NodeRecord
    for _, mi := range m.Members() {
        rec := transport.RecordFromMeta(mi.ID, mi.Meta)
        r, err := cluster.ParseRole(rec.Role)
        if err != nil || rec.Address == "" { continue }
        rec.Role = string(r)
        if role != "" && rec.Role != role { continue }
        if environment != "" && rec.Environment != environment { continue }
        out = append(out, rec)
    }
    sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
    return out, nil
}

func (a *Agent) watch(ctx context.Context, m membership.Membership) {
    for {
        select {
        case <-ctx.Done():
            return
        case ev, ok := <-m.Events():
            if !ok { return }
            obsmetrics.AgentMembers.Set(float64(len(m.Members())))
            a.log.WithFields(logrus.Fields{"event": ev.Type, "member": ev.Member.ID, "addr": ev.Member.Addr}).Debug("membership event")
        }
    }
}

func (a *Agent) announce(ctx context.Context) {
    t := time.NewTicker(a.opts.AnnounceInterval)
    defer t.Stop()
    for {
        if err := a.opts.Announcer.Announce(ctx, a.opts.Record); err != nil && ctx.Err() == nil {
            logutil.Warnf(a.log, "announce: %v", err)
        }
        select {
        case <-ctx.Done():
            return
        case <-t.C:
        }
    }
}
