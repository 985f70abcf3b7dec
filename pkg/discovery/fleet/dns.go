package fleet

import (
    "context"
    "fmt"
    "net"
    "strconv"
    "strings"
    "time"

    "github.com/miekg/dns"

    "github.com/LiamK/repmgr/pkg/transport"
)

// DNSOptions configures the DNS backend.
type DNSOptions struct {
    // Domain the SRV names live under, e.g. db.example.com.
    Domain string
    // Server is the nameserver host:port. Empty uses the first server in
    // /etc/resolv.conf.
    Server  string
    Timeout time.Duration
}

// DNS discovers members through SRV records named
// _<role>._tcp.<environment>.<domain> (the environment label is omitted when
// empty). TXT records on each SRV target carry key=value hints; the keys
// repl_user, keep and env fill the matching record fields.
type DNS struct {
    domain string
    server string
    client *dns.Client
}

// NewDNS returns a DNS backend.
func NewDNS(opts DNSOptions) (*DNS, error) {
    if strings.TrimSpace(opts.Domain) == "" { return nil, fmt.Errorf("fleet: empty dns domain") }
    if opts.Server == "" {
        cfg, err := dns.ClientConfigFromFile("/etc/resolv.conf")
        if err != nil { return nil, fmt.Errorf("fleet: read resolv.conf: %w", err) }
        if len(cfg.Servers) == 0 { return nil, fmt.Errorf("fleet: no nameserver in resolv.conf") }
        opts.Server = net.JoinHostPort(cfg.Servers[0], cfg.Port)
    }
    if opts.Timeout <= 0 { opts.Timeout = 5 * time.Second }
    return &DNS{
        domain: strings.Trim(opts.Domain, "."),
        server: opts.Server,
        client: &dns.Client{Net: "udp", Timeout: opts.Timeout},
    }, nil
}

func (d *DNS) Name() string { return "dns" }

// SRVName returns the record name queried for role in environment.
func (d *DNS) SRVName(role, environment string) string {
    name := "_" + role + "._tcp."
    if environment != "" { name += environment + "." }
    return dns.Fqdn(name + d.domain)
}

func (d *DNS) Lookup(ctx context.Context, role, environment string) ([]transport.NodeRecord, error) {
    in, err := d.exchange(ctx, d.SRVName(role, environment), dns.TypeSRV)
    if err != nil { return nil, err }
    if in.Rcode == dns.RcodeNameError { return nil, nil }
    if in.Rcode != dns.RcodeSuccess {
        return nil, fmt.Errorf("SRV %s: %s", d.SRVName(role, environment), dns.RcodeToString[in.Rcode])
    }
    var out []transport.NodeRecord
    for _, rr := range in.Answer {
        srv, ok := rr.(*dns.SRV)
        if !ok { continue }
        host := strings.TrimSuffix(srv.Target, ".")
        rec := transport.NodeRecord{
            Name:        strings.SplitN(host, ".", 2)[0],
            Address:     host,
            Port:        int(srv.Port),
            Role:        role,
            Environment: environment,
        }
        hints, err := d.hints(ctx, srv.Target)
        if err != nil { return nil, err }
        applyHints(&rec, hints)
        out = append(out, rec)
    }
    return out, nil
}

func (d *DNS) hints(ctx context.Context, target string) (map[string]string, error) {
    in, err := d.exchange(ctx, dns.Fqdn(target), dns.TypeTXT)
    if err != nil { return nil, err }
    hints := map[string]string{}
    for _, rr := range in.Answer {
        txt, ok := rr.(*dns.TXT)
        if !ok { continue }
        for _, s := range txt.Txt {
            k, v, ok := strings.Cut(s, "=")
            if !ok { continue }
            hints[strings.TrimSpace(k)] = strings.TrimSpace(v)
        }
    }
    return hints, nil
}

func applyHints(rec *transport.NodeRecord, hints map[string]string) {
    if len(hints) == 0 { return }
    if v := hints[transport.MetaReplicationUser]; v != "" { rec.ReplicationUser = v }
    if v := hints[transport.MetaEnvironment]; v != "" && rec.Environment == "" { rec.Environment = v }
    if n, err := strconv.Atoi(hints[transport.MetaKeepSegments]); err == nil { rec.KeepSegments = n }
    rec.Hints = hints
}

func (d *DNS) exchange(ctx context.Context, name string, qtype uint16) (*dns.Msg, error) {
    m := new(dns.Msg)
    m.SetQuestion(name, qtype)
    m.RecursionDesired = true
    in, _, err := d.client.ExchangeContext(ctx, m, d.server)
    if err != nil { return nil, fmt.Errorf("%s %s: %w", dns.TypeToString[qtype], name, err) }
    return in, nil
}

var _ Backend = (*DNS)(nil)
