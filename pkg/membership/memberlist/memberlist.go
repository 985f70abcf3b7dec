// Package memberlist implements membership.Membership on hashicorp/memberlist.
package memberlist

import (
    "context"
    "encoding/json"
    "fmt"
    "io"
    "net"
    "strconv"
    "sync"
    "time"

    "github.com/hashicorp/memberlist"
    "github.com/sirupsen/logrus"

    "github.com/LiamK/repmgr/pkg/internal/logutil"
    base "github.com/LiamK/repmgr/pkg/membership"
)

// Options configures the gossip node.
type Options struct {
    NodeID string
    // Bind is host:port; port 0 picks a free port.
    Bind string
    // Advertise is the host:port peers use. Empty derives it from Bind.
    Advertise string
    // Meta is gossiped with the node. memberlist limits it to 512 bytes once
    // JSON-encoded.
    Meta   map[string]string
    Logger logrus.FieldLogger

    ProbeInterval time.Duration
    ProbeTimeout  time.Duration
    SuspicionMult int
}

type impl struct {
    mu     sync.RWMutex
    opts   Options
    ml     *memberlist.Memberlist
    logw   io.WriteCloser
    closed bool

    // evMu guards evts separately: memberlist notifies the local join from
    // inside Create, while mu is held by Start.
    evMu     sync.Mutex
    evts     chan base.Event
    evClosed bool
}

// New validates opts and returns an unstarted membership.
func New(opts Options) (base.Membership, error) {
    if opts.NodeID == "" { return nil, fmt.Errorf("memberlist: empty NodeID") }
    if opts.Bind == "" { return nil, fmt.Errorf("memberlist: empty Bind address") }
    meta, err := json.Marshal(opts.Meta)
    if err != nil { return nil, err }
    if len(meta) > memberlist.MetaMaxSize {
        return nil, fmt.Errorf("memberlist: metadata is %d bytes, limit %d", len(meta), memberlist.MetaMaxSize)
    }
    opts.Logger = logutil.Or(opts.Logger)
    return &impl{opts: opts, evts: make(chan base.Event, 64)}, nil
}

func (m *impl) Start(ctx context.Context) error {
    m.mu.Lock()
    defer m.mu.Unlock()
    if m.ml != nil { return nil }

    cfg := memberlist.DefaultLANConfig()
    cfg.Name = m.opts.NodeID
    host, port, err := splitHostPort(m.opts.Bind)
    if err != nil { return err }
    cfg.BindAddr, cfg.BindPort = host, port
    if m.opts.Advertise != "" {
        ahost, aport, err := splitHostPort(m.opts.Advertise)
        if err != nil { return err }
        cfg.AdvertiseAddr, cfg.AdvertisePort = ahost, aport
    }
    if m.opts.ProbeInterval > 0 { cfg.ProbeInterval = m.opts.ProbeInterval }
    if m.opts.ProbeTimeout > 0 { cfg.ProbeTimeout = m.opts.ProbeTimeout }
    if m.opts.SuspicionMult > 0 { cfg.SuspicionMult = m.opts.SuspicionMult }

    // memberlist logs through a *log.Logger; route it into logrus at debug.
    m.logw = debugWriter(m.opts.Logger)
    cfg.LogOutput = m.logw

    meta, _ := json.Marshal(m.opts.Meta)
    cfg.Events = &eventDelegate{emit: m.emit}
    cfg.Delegate = &nodeDelegate{meta: meta}

    ml, err := memberlist.Create(cfg)
    if err != nil {
        _ = m.logw.Close()
        return fmt.Errorf("memberlist: create: %w", err)
    }
    m.ml = ml

    go func() {
        <-ctx.Done()
        _ = m.Stop()
    }()
    return nil
}

func (m *impl) Join(seeds []string) (int, error) {
    m.mu.RLock()
    ml := m.ml
    m.mu.RUnlock()
    if ml == nil { return 0, fmt.Errorf("memberlist: not started") }
    if len(seeds) == 0 { return 0, nil }
    return ml.Join(seeds)
}

func (m *impl) Local() base.MemberInfo {
    m.mu.RLock()
    defer m.mu.RUnlock()
    if m.ml == nil { return base.MemberInfo{} }
    return toInfo(m.ml.LocalNode())
}

func (m *impl) Members() []base.MemberInfo {
    m.mu.RLock()
    defer m.mu.RUnlock()
    if m.ml == nil { return nil }
    nodes := m.ml.Members()
    out := make([]base.MemberInfo, 0, len(nodes))
    for _, n := range nodes { out = append(out, toInfo(n)) }
    return out
}

func (m *impl) Events() <-chan base.Event { return m.evts }

// Leave broadcasts an intent to leave and waits up to a second for it to
// propagate.
func (m *impl) Leave() error {
    m.mu.RLock()
    ml := m.ml
    m.mu.RUnlock()
    if ml == nil { return nil }
    return ml.Leave(time.Second)
}

func (m *impl) Stop() error {
    m.mu.Lock()
    defer m.mu.Unlock()
    if m.closed { return nil }
    m.closed = true
    if m.ml != nil {
        _ = m.ml.Shutdown()
        m.ml = nil
    }
    if m.logw != nil { _ = m.logw.Close() }
    m.evMu.Lock()
    m.evClosed = true
    close(m.evts)
    m.evMu.Unlock()
    return nil
}

func (m *impl) HealthScore() int {
    m.mu.RLock()
    defer m.mu.RUnlock()
    if m.ml == nil { return -1 }
    return m.ml.GetHealthScore()
}

func (m *impl) emit(e base.Event) {
    m.evMu.Lock()
    defer m.evMu.Unlock()
    if m.evClosed { return }
    select {
    case m.evts <- e:
    default:
        m.opts.Logger.Debugf("memberlist: dropping %s event for %s: channel full", e.Type, e.Member.ID)
    }
}

func toInfo(n *memberlist.Node) base.MemberInfo {
    meta := map[string]string{}
    if len(n.Meta) > 0 { _ = json.Unmarshal(n.Meta, &meta) }
    return base.MemberInfo{ID: n.Name, Addr: net.JoinHostPort(n.Addr.String(), strconv.Itoa(int(n.Port))), Meta: meta}
}

func splitHostPort(hp string) (string, int, error) {
    host, ps, err := net.SplitHostPort(hp)
    if err != nil { return "", 0, fmt.Errorf("memberlist: invalid address %q: %w", hp, err) }
    p, err := strconv.Atoi(ps)
    if err != nil || p < 0 || p > 65535 { return "", 0, fmt.Errorf("memberlist: invalid port in %q", hp) }
    return host, p, nil
}

func debugWriter(l logrus.FieldLogger) io.WriteCloser {
    type levelWriter interface {
        WriterLevel(logrus.Level) *io.PipeWriter
    }
    if lw, ok := l.(levelWriter); ok { return lw.WriterLevel(logrus.DebugLevel) }
    return nopCloser{io.Discard}
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

type eventDelegate struct {
    emit func(e base.Event)
}

func (d *eventDelegate) notify(t base.EventType, n *memberlist.Node) {
    if n == nil { return }
    d.emit(base.Event{Type: t, Member: toInfo(n), At: time.Now()})
}

func (d *eventDelegate) NotifyJoin(n *memberlist.Node)   { d.notify(base.EventJoin, n) }
func (d *eventDelegate) NotifyLeave(n *memberlist.Node)  { d.notify(base.EventLeave, n) }
func (d *eventDelegate) NotifyUpdate(n *memberlist.Node) { d.notify(base.EventUpdate, n) }

// nodeDelegate gossips the static node metadata.
type nodeDelegate struct{ meta []byte }

func (d *nodeDelegate) NodeMeta(limit int) []byte {
    if len(d.meta) <= limit { return d.meta }
    return nil
}

func (d *nodeDelegate) NotifyMsg([]byte)                       {}
func (d *nodeDelegate) GetBroadcasts(int, int) [][]byte        { return nil }
func (d *nodeDelegate) LocalState(join bool) []byte            { return nil }
func (d *nodeDelegate) MergeRemoteState(buf []byte, join bool) {}
