// Package membership abstracts the gossip layer the fleet agent advertises
// itself on and the gossip discovery backend reads from.
package membership

import (
    "context"
    "time"
)

// MemberInfo describes a fleet member. Meta carries the flattened node
// record (see transport.NodeRecord.Meta).
type MemberInfo struct {
    ID   string
    Addr string
    Meta map[string]string
}

type EventType string

const (
    EventJoin   EventType = "join"
    EventLeave  EventType = "leave"
    EventUpdate EventType = "update"
)

// Event is a membership change notification.
type Event struct {
    Type   EventType
    Member MemberInfo
    At     time.Time
}

// Membership is the gossip layer.
type Membership interface {
    Start(ctx context.Context) error
    Join(seeds []string) (int, error)
    Local() MemberInfo
    Members() []MemberInfo
    Events() <-chan Event
    Leave() error
    Stop() error
}
