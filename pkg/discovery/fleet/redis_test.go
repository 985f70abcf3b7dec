package fleet

import (
    "context"
    "net"
    "strings"
    "sync"
    "testing"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
    "github.com/tidwall/redcon"

    "github.com/LiamK/repmgr/pkg/cluster"
    "github.com/LiamK/repmgr/pkg/discovery"
    "github.com/LiamK/repmgr/pkg/transport"
)

// hashServer speaks just enough RESP for the redis backend.
type hashServer struct {
    mu     sync.Mutex
    hashes map[string]map[string]string
}

func (s *hashServer) handle(conn redcon.Conn, cmd redcon.Command) {
    s.mu.Lock()
    defer s.mu.Unlock()
    switch strings.ToUpper(string(cmd.Args[0])) {
    case "PING":
        conn.WriteString("PONG")
    case "CLIENT", "SELECT":
        conn.WriteString("OK")
    case "HSET":
        key := string(cmd.Args[1])
        if s.hashes[key] == nil { s.hashes[key] = map[string]string{} }
        n := 0
        for i := 2; i+1 < len(cmd.Args); i += 2 {
            if _, ok := s.hashes[key][string(cmd.Args[i])]; !ok { n++ }
            s.hashes[key][string(cmd.Args[i])] = string(cmd.Args[i+1])
        }
        conn.WriteInt(n)
    case "HGETALL":
        h := s.hashes[string(cmd.Args[1])]
        conn.WriteArray(len(h) * 2)
        for k, v := range h {
            conn.WriteBulkString(k)
            conn.WriteBulkString(v)
        }
    default:
        conn.WriteError("ERR unknown command '" + string(cmd.Args[0]) + "'")
    }
}

func (s *hashServer) has(key string) bool {
    s.mu.Lock()
    defer s.mu.Unlock()
    _, ok := s.hashes[key]
    return ok
}

func startRedis(t *testing.T) (*hashServer, string) {
    t.Helper()
    ln, err := net.Listen("tcp", "127.0.0.1:0")
    require.NoError(t, err)
    s := &hashServer{hashes: map[string]map[string]string{}}
    go func() {
        _ = redcon.Serve(ln, s.handle, func(redcon.Conn) bool { return true }, func(redcon.Conn, error) {})
    }()
    t.Cleanup(func() { _ = ln.Close() })
    return s, ln.Addr().String()
}

func TestRedisAnnounceAndDiscover(t *testing.T) {
    srv, addr := startRedis(t)
    b, err := NewRedis(RedisOptions{Addr: addr})
    require.NoError(t, err)
    defer b.Close()

    ctx := context.Background()
    require.NoError(t, b.Announce(ctx, transport.NodeRecord{Name: "pg1", Address: "10.0.0.1", Role: "primary", Environment: "production", KeepSegments: 100}))
    require.NoError(t, b.Announce(ctx, transport.NodeRecord{Name: "pg2", Address: "10.0.0.2", Role: "standby", Environment: "production"}))
    assert.True(t, srv.has("repmgr:nodes:production:primary"))

    p := New(b, Options{})
    res, err := p.Discover(ctx, discovery.Query{Environment: "production"})
    require.NoError(t, err)
    assert.Equal(t, "pg1", res.Name)
    assert.Equal(t, 100, res.KeepSegments)

    _, err = p.Discover(ctx, discovery.Query{Environment: "staging"})
    assert.ErrorIs(t, err, cluster.ErrEmptyResult)
}

func TestRedisCorruptRecord(t *testing.T) {
    srv, addr := startRedis(t)
    srv.hashes["custom:primary"] = map[string]string{"pg1": "{not json"}
    b, err := NewRedis(RedisOptions{Addr: addr, Prefix: "custom"})
    require.NoError(t, err)
    defer b.Close()
    _, err = b.Lookup(context.Background(), "primary", "")
    assert.Error(t, err)
}
