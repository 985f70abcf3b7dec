// Package resolve decides what the local node must do given a fresh cluster
// status snapshot.
package resolve

import (
    "github.com/LiamK/repmgr/pkg/cluster"
)

// Decision is the outcome of Resolve.
type Decision int

const (
    // NeedsPrimaryRegistration: no primary exists and this node is configured
    // as primary.
    NeedsPrimaryRegistration Decision = iota
    // AlreadyPrimary: the treated primary row is this node.
    AlreadyPrimary
    // PrimaryConflict: this node is configured as primary but another node is
    // (or several nodes are) listed as primary.
    PrimaryConflict
    // NeedsJoin: this node is a standby not yet listed as one.
    NeedsJoin
    // AlreadyStandby: this node is listed as a standby.
    AlreadyStandby
    // Unsupported: the configured role has no bootstrap path (witness).
    Unsupported
)

func (d Decision) String() string {
    switch d {
    case NeedsPrimaryRegistration:
        return "needs_primary_registration"
    case AlreadyPrimary:
        return "already_primary"
    case PrimaryConflict:
        return "primary_conflict"
    case NeedsJoin:
        return "needs_join"
    case AlreadyStandby:
        return "already_standby"
    case Unsupported:
        return "unsupported"
    }
    return "unknown"
}

// Resolution carries the decision and the rows it was based on.
type Resolution struct {
    Decision Decision
    // Primary is the treated primary row (the first one in source order), nil
    // when the snapshot has none.
    Primary *cluster.StatusLine
    // Primaries lists every primary row.
    Primaries []cluster.StatusLine
    // MultiplePrimaries is set when more than one primary row was seen. The
    // first row still wins, but callers must not ignore the signal.
    MultiplePrimaries bool
}

// Resolve applies the role decision to a snapshot. It is pure: it never
// inspects or mutates anything.
//
// The first primary row is treated as the primary. If it is this node the
// answer is AlreadyPrimary whatever the configured role; callers compare the
// configured role themselves. A configured primary facing any other primary
// gets PrimaryConflict and is never demoted.
func Resolve(id cluster.NodeIdentity, st cluster.Status) Resolution {
    res := Resolution{Primaries: st.Primaries()}
    if len(res.Primaries) > 0 {
        p := res.Primaries[0]
        res.Primary = &p
        res.MultiplePrimaries = len(res.Primaries) > 1
    }

    switch {
    case res.Primary != nil && res.Primary.Matches(id.Address):
        res.Decision = AlreadyPrimary
    case id.Role == cluster.RolePrimary && res.Primary == nil:
        res.Decision = NeedsPrimaryRegistration
    case id.Role == cluster.RolePrimary:
        res.Decision = PrimaryConflict
    case id.Role == cluster.RoleStandby && st.HasStandby(id.Address):
        res.Decision = AlreadyStandby
    case id.Role == cluster.RoleStandby:
        res.Decision = NeedsJoin
    default:
        res.Decision = Unsupported
    }
    return res
}
