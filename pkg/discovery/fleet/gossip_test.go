package fleet

import (
    "context"
    "testing"
    "time"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/LiamK/repmgr/pkg/discovery"
    "github.com/LiamK/repmgr/pkg/discovery/seeds"
    "github.com/LiamK/repmgr/pkg/membership"
    "github.com/LiamK/repmgr/pkg/membership/memberlist"
    "github.com/LiamK/repmgr/pkg/transport"
)

func TestGossipBackend(t *testing.T) {
    ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
    defer cancel()

    rec := transport.NodeRecord{Name: "pg1", Address: "10.0.0.1", Role: "primary", Environment: "production", Port: 5432}
    agent, err := memberlist.New(memberlist.Options{NodeID: "pg1", Bind: "127.0.0.1:0", Meta: rec.Meta(), ProbeInterval: 100 * time.Millisecond})
    require.NoError(t, err)
    require.NoError(t, agent.Start(ctx))
    defer agent.Stop()

    g, err := NewGossip(GossipOptions{Seeds: seeds.New([]string{agent.Local().Addr}, seeds.Options{}), Bind: "127.0.0.1:0", Settle: 3 * time.Second})
    require.NoError(t, err)
    res, err := New(g, Options{}).Discover(ctx, discovery.Query{Environment: "production"})
    require.NoError(t, err)
    assert.Equal(t, "pg1", res.Name)
    assert.Equal(t, "10.0.0.1", res.Address)
}

func TestGossipMatch(t *testing.T) {
    members := []membership.MemberInfo{
        {ID: "probe-x", Meta: map[string]string{"role": "probe"}},
        {ID: "pg1", Meta: map[string]string{"role": "master", "addr": "10.0.0.1", "env": "production"}},
        {ID: "pg2", Meta: map[string]string{"role": "standby", "addr": "10.0.0.2", "env": "production"}},
        {ID: "pg3", Meta: map[string]string{"role": "primary", "addr": "10.1.0.1", "env": "staging"}},
    }
    got := match(members, "primary", "production")
    require.Len(t, got, 1)
    assert.Equal(t, "pg1", got[0].Name)
    assert.Len(t, match(members, "primary", ""), 2)

    _, err := NewGossip(GossipOptions{Seeds: seeds.New(nil, seeds.Options{})})
    assert.Error(t, err)
}
