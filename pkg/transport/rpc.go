package transport

import (
    "context"
    "strconv"
)

// NodeRecord is how a fleet member is described on every discovery wire:
// the agent's HTTP API, the redis hash values and the gossip metadata.
type NodeRecord struct {
    Name            string            `json:"name"`
    Address         string            `json:"address"`
    Port            int               `json:"port,omitempty"`
    Role            string            `json:"role"`
    Environment     string            `json:"environment,omitempty"`
    ReplicationUser string            `json:"replication_user,omitempty"`
    KeepSegments    int               `json:"keep_segments,omitempty"`
    Hints           map[string]string `json:"hints,omitempty"`
}

// NodesPath is the agent endpoint listing fleet members.
const NodesPath = "/v1/nodes"

// NodesResponse is the body of GET /v1/nodes.
type NodesResponse struct {
    Nodes []NodeRecord `json:"nodes"`
}

// NodesFunc lists the members matching role and environment. Empty filters
// match everything.
type NodesFunc func(ctx context.Context, role, environment string) ([]NodeRecord, error)

// Gossip metadata keys. memberlist caps metadata at 512 bytes, so records
// travel as flat string maps rather than nested JSON.
const (
    MetaRole            = "role"
    MetaEnvironment     = "env"
    MetaAddress         = "addr"
    MetaPort            = "port"
    MetaReplicationUser = "repl_user"
    MetaKeepSegments    = "keep"
)

// Meta flattens r for gossip. Hints are not carried.
func (r NodeRecord) Meta() map[string]string {
    m := map[string]string{MetaRole: r.Role, MetaAddress: r.Address}
    if r.Environment != "" { m[MetaEnvironment] = r.Environment }
    if r.Port > 0 { m[MetaPort] = strconv.Itoa(r.Port) }
    if r.ReplicationUser != "" { m[MetaReplicationUser] = r.ReplicationUser }
    if r.KeepSegments > 0 { m[MetaKeepSegments] = strconv.Itoa(r.KeepSegments) }
    return m
}

// RecordFromMeta is the inverse of Meta. name is the gossip node name.
func RecordFromMeta(name string, meta map[string]string) NodeRecord {
    r := NodeRecord{
        Name:            name,
        Address:         meta[MetaAddress],
        Role:            meta[MetaRole],
        Environment:     meta[MetaEnvironment],
        ReplicationUser: meta[MetaReplicationUser],
    }
    r.Port, _ = strconv.Atoi(meta[MetaPort])
    r.KeepSegments, _ = strconv.Atoi(meta[MetaKeepSegments])
    return r
}
