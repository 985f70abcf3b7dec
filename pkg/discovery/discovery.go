// Package discovery defines how a standby finds the current primary. The
// concrete providers live in the static and fleet subpackages and are picked
// once at startup by bootstrap.Build.
package discovery

import (
    "context"
    "fmt"
    "net"
    "strconv"
    "strings"

    "github.com/LiamK/repmgr/pkg/cluster"
)

const (
    DefaultPort         = 5432
    DefaultKeepSegments = 5000

    // Hint keys understood when a provider carries free-form tuning values.
    HintKeepSegments = "keep_segments"
    HintPort         = "port"
)

// Query selects the node to discover.
type Query struct {
    // Role is the role tag to look for. Empty means primary.
    Role cluster.Role
    // Environment optionally scopes the lookup (e.g. "production").
    Environment string
    // EmptyOK makes a lookup without matches succeed with a zero Result
    // instead of failing with cluster.ErrEmptyResult.
    EmptyOK bool
}

// RoleOrPrimary returns q.Role, defaulting to primary.
func (q Query) RoleOrPrimary() cluster.Role {
    if q.Role == "" { return cluster.RolePrimary }
    return q.Role
}

// Result is the connection info of the discovered node. It is consumed once
// per join attempt and never persisted.
type Result struct {
    Name            string            `json:"name,omitempty"`
    Address         string            `json:"address"`
    Port            int               `json:"port"`
    ReplicationUser string            `json:"replication_user"`
    KeepSegments    int               `json:"keep_segments"`
    Hints           map[string]string `json:"hints,omitempty"`
}

// IsZero reports whether r is the "nothing found" result of an EmptyOK query.
func (r Result) IsZero() bool { return r.Address == "" }

// HostPort renders the address as host:port.
func (r Result) HostPort() string { return net.JoinHostPort(r.Address, strconv.Itoa(r.Port)) }

// Provider finds the node matching a query.
type Provider interface {
    Discover(ctx context.Context, q Query) (Result, error)
}

// Defaults fills optional values the discovered node did not set.
type Defaults struct {
    Port            int
    KeepSegments    int
    ReplicationUser string
}

// Normalize replaces zero values with the package defaults.
func (d Defaults) Normalize() Defaults {
    if d.Port <= 0 { d.Port = DefaultPort }
    if d.KeepSegments <= 0 { d.KeepSegments = DefaultKeepSegments }
    return d
}

// Apply returns r with its unset fields taken from hints first and then from d.
func (d Defaults) Apply(r Result) Result {
    d = d.Normalize()
    if r.Port <= 0 { r.Port = hintInt(r.Hints, HintPort) }
    if r.Port <= 0 { r.Port = d.Port }
    if r.KeepSegments <= 0 { r.KeepSegments = hintInt(r.Hints, HintKeepSegments) }
    if r.KeepSegments <= 0 { r.KeepSegments = d.KeepSegments }
    if r.ReplicationUser == "" { r.ReplicationUser = d.ReplicationUser }
    return r
}

func hintInt(h map[string]string, key string) int {
    v, ok := h[key]
    if !ok { return 0 }
    n, err := strconv.Atoi(strings.TrimSpace(v))
    if err != nil { return 0 }
    return n
}

// HostResolver is the subset of *net.Resolver used for address validation.
type HostResolver interface {
    LookupHost(ctx context.Context, host string) ([]string, error)
}

// ValidateAddress accepts IP literals and names that resolve to at least one
// address. Anything else is cluster.ErrInvalidAddress.
func ValidateAddress(ctx context.Context, r HostResolver, addr string) error {
    addr = strings.TrimSpace(addr)
    if addr == "" { return fmt.Errorf("%w: empty address", cluster.ErrInvalidAddress) }
    if net.ParseIP(addr) != nil { return nil }
    if r == nil { r = net.DefaultResolver }
    ips, err := r.LookupHost(ctx, addr)
    if err != nil { return fmt.Errorf("%w: %q: %v", cluster.ErrInvalidAddress, addr, err) }
    if len(ips) == 0 { return fmt.Errorf("%w: %q resolves to nothing", cluster.ErrInvalidAddress, addr) }
    return nil
}

// Seeds provides gossip seed addresses for the fleet agent.
type Seeds interface {
    Seeds() []string
}
