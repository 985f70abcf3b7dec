package cluster

import (
    "context"
    "strings"
)

// StatusLine is one parsed row of the cluster status view.
type StatusLine struct {
    Role    Role   `json:"role"`
    Address string `json:"address"`
    // State is the free-form remainder of the row (name, upstream, run state).
    State string `json:"state,omitempty"`
    // Raw is the unmodified source line.
    Raw string `json:"raw"`
    // Fields holds the row tokens used for address matching.
    Fields []string `json:"-"`
}

// Matches reports whether the row refers to addr. Rows whose address could not
// be extracted fall back to exact token comparison, never substring matching,
// so 10.0.0.5 does not match 10.0.0.50.
func (l StatusLine) Matches(addr string) bool {
    addr = strings.TrimSpace(addr)
    if addr == "" { return false }
    if strings.EqualFold(l.Address, addr) { return true }
    for _, f := range l.Fields {
        if strings.EqualFold(f, addr) { return true }
    }
    return false
}

// Status is an ordered snapshot of the cluster status view. It is produced
// fresh by every inspection and must not be cached across a join attempt.
type Status []StatusLine

// Primaries returns every primary row in source order.
func (s Status) Primaries() []StatusLine {
    var out []StatusLine
    for _, l := range s {
        if l.Role == RolePrimary { out = append(out, l) }
    }
    return out
}

// HasPrimary reports whether addr is listed as primary.
func (s Status) HasPrimary(addr string) bool {
    for _, l := range s {
        if l.Role == RolePrimary && l.Matches(addr) { return true }
    }
    return false
}

// HasStandby reports whether addr is listed as standby. Another node being a
// standby does not count.
func (s Status) HasStandby(addr string) bool {
    for _, l := range s {
        if l.Role == RoleStandby && l.Matches(addr) { return true }
    }
    return false
}

// String renders the snapshot for diagnostics.
func (s Status) String() string {
    if len(s) == 0 { return "<empty cluster>" }
    lines := make([]string, 0, len(s))
    for _, l := range s { lines = append(lines, l.Raw) }
    return strings.Join(lines, "\n")
}

// Inspector produces a fresh Status for the node's cluster.
type Inspector interface {
    Inspect(ctx context.Context, id NodeIdentity) (Status, error)
}
