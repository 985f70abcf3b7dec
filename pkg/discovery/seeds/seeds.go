// Package seeds resolves the gossip seed list the agent and the gossip fleet
// backend join through. Each entry is one of:
//
//    10.0.0.1:7946               used as-is
//    _repmgr._tcp.example.com    SRV record
//    pg1.example.com             A/AAAA record, joined with Options.Port
//    @/etc/repmgr/seeds.txt      file with one entry (or a CSV) per line
//
// Results are de-duplicated, sorted and cached for Options.Refresh.
package seeds

import (
    "bufio"
    "bytes"
    "context"
    "net"
    "sort"
    "strconv"
    "strings"
    "sync"
    "time"

    "github.com/sirupsen/logrus"
    "github.com/spf13/afero"

    "github.com/LiamK/repmgr/pkg/discovery"
    "github.com/LiamK/repmgr/pkg/internal/logutil"
)

// DefaultPort is the memberlist port used for A/AAAA answers.
const DefaultPort = 7946

// Resolver is the subset of *net.Resolver used here.
type Resolver interface {
    LookupSRV(ctx context.Context, service, proto, name string) (string, []*net.SRV, error)
    LookupHost(ctx context.Context, host string) ([]string, error)
}

// Options configures name resolution.
type Options struct {
    // Port used when resolving A/AAAA records (no port info in DNS answer).
    Port int
    // Refresh controls cache staleness; if zero, defaults to 5s.
    Refresh time.Duration
    // Timeout bounds one resolution pass; if zero, defaults to 5s.
    Timeout  time.Duration
    Resolver Resolver
    Fs       afero.Fs
    Logger   logrus.FieldLogger
}

type impl struct {
    entries []string
    opts    Options
    mu      sync.Mutex
    last    time.Time
    cache   []string
}

// New returns Seeds over the given entries.
func New(entries []string, opts Options) discovery.Seeds {
    if opts.Refresh <= 0 { opts.Refresh = 5 * time.Second }
    if opts.Timeout <= 0 { opts.Timeout = 5 * time.Second }
    if opts.Port == 0 { opts.Port = DefaultPort }
    if opts.Resolver == nil { opts.Resolver = net.DefaultResolver }
    if opts.Fs == nil { opts.Fs = afero.NewOsFs() }
    opts.Logger = logutil.Or(opts.Logger)
    return &impl{entries: entries, opts: opts}
}

// FromCSV splits csv and returns Seeds over the entries.
func FromCSV(csv string, opts Options) discovery.Seeds { return New(split(csv), opts) }

func (s *impl) Seeds() []string {
    s.mu.Lock()
    defer s.mu.Unlock()
    if time.Since(s.last) < s.opts.Refresh && len(s.cache) > 0 {
        return append([]string(nil), s.cache...)
    }
    ctx, cancel := context.WithTimeout(context.Background(), s.opts.Timeout)
    defer cancel()
    s.cache = s.resolveAll(ctx, s.entries, true)
    s.last = time.Now()
    return append([]string(nil), s.cache...)
}

func (s *impl) resolveAll(ctx context.Context, entries []string, allowFiles bool) []string {
    seen := make(map[string]struct{})
    var out []string
    add := func(hp string) {
        if _, ok := seen[hp]; !ok {
            seen[hp] = struct{}{}
            out = append(out, hp)
        }
    }
    for _, name := range entries {
        name = strings.TrimSpace(name)
        switch {
        case name == "":
        case strings.HasPrefix(name, "@"):
            if !allowFiles { continue }
            for _, hp := range s.resolveAll(ctx, s.loadFile(name[1:]), false) { add(hp) }
        case isHostPort(name):
            add(name)
        case strings.HasPrefix(name, "_") && strings.Contains(name, "._"):
            for _, hp := range s.lookupSRV(ctx, name) { add(hp) }
        default:
            for _, hp := range s.lookupHost(ctx, name) { add(hp) }
        }
    }
    sort.Strings(out)
    return out
}

func (s *impl) lookupSRV(ctx context.Context, fqdn string) []string {
    svc, proto, domain := parseSRVName(fqdn)
    if svc == "" || proto == "" || domain == "" { return nil }
    _, addrs, err := s.opts.Resolver.LookupSRV(ctx, svc, proto, domain)
    if err != nil {
        s.opts.Logger.WithError(err).WithField("name", fqdn).Debug("seed SRV lookup failed")
        return nil
    }
    out := make([]string, 0, len(addrs))
    for _, a := range addrs {
        out = append(out, net.JoinHostPort(strings.TrimSuffix(a.Target, "."), strconv.Itoa(int(a.Port))))
    }
    return out
}

func (s *impl) lookupHost(ctx context.Context, host string) []string {
    ips, err := s.opts.Resolver.LookupHost(ctx, host)
    if err != nil {
        s.opts.Logger.WithError(err).WithField("name", host).Debug("seed host lookup failed")
        return nil
    }
    out := make([]string, 0, len(ips))
    for _, ip := range ips { out = append(out, net.JoinHostPort(ip, strconv.Itoa(s.opts.Port))) }
    return out
}

func (s *impl) loadFile(path string) []string {
    data, err := afero.ReadFile(s.opts.Fs, path)
    if err != nil {
        logutil.Warnf(s.opts.Logger, "seed file %s: %v", path, err)
        return nil
    }
    var out []string
    sc := bufio.NewScanner(bytes.NewReader(data))
    for sc.Scan() {
        line := strings.TrimSpace(sc.Text())
        if line == "" || strings.HasPrefix(line, "#") { continue }
        out = append(out, split(line)...)
    }
    return out
}

func isHostPort(s string) bool {
    _, port, err := net.SplitHostPort(s)
    return err == nil && port != ""
}

func parseSRVName(fqdn string) (service, proto, name string) {
    // _service._proto.name
    parts := strings.SplitN(strings.TrimSuffix(fqdn, "."), ".", 3)
    if len(parts) < 3 { return "", "", "" }
    return strings.TrimPrefix(parts[0], "_"), strings.TrimPrefix(parts[1], "_"), parts[2]
}

func split(csv string) []string {
    var out []string
    for _, p := range strings.Split(csv, ",") {
        if p = strings.TrimSpace(p); p != "" { out = append(out, p) }
    }
    return out
}
