//go:build integration

package integration

import (
    "context"
    "testing"
    "time"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/LiamK/repmgr/pkg/agent"
    "github.com/LiamK/repmgr/pkg/bootstrap"
    "github.com/LiamK/repmgr/pkg/cluster"
    "github.com/LiamK/repmgr/pkg/discovery"
    "github.com/LiamK/repmgr/pkg/discovery/seeds"
    "github.com/LiamK/repmgr/pkg/transport"
)

// startFleet runs a primary and a standby agent on loopback and returns the
// primary agent.
func startFleet(t *testing.T, ctx context.Context, token string) *agent.Agent {
    t.Helper()
    pg1, err := agent.New(agent.Options{
        Record:   transport.NodeRecord{Name: "pg1", Address: "127.0.0.1", Port: 5433, Role: "primary", Environment: "production", KeepSegments: 128},
        Bind:     "127.0.0.1:0",
        HTTPAddr: "127.0.0.1:0",
        Token:    token,
    })
    require.NoError(t, err)
    require.NoError(t, pg1.Start(ctx))
    t.Cleanup(func() { _ = pg1.Stop() })

    pg2, err := agent.New(agent.Options{
        Record: transport.NodeRecord{Name: "pg2", Address: "127.0.0.2", Role: "standby", Environment: "production"},
        Bind:   "127.0.0.1:0",
        Seeds:  seeds.New([]string{pg1.Local()}, seeds.Options{}),
    })
    require.NoError(t, err)
    require.NoError(t, pg2.Start(ctx))
    t.Cleanup(func() { _ = pg2.Stop() })

    require.Eventually(t, func() bool {
        recs, _ := pg1.Nodes(ctx, "", "production")
        return len(recs) == 2
    }, 10*time.Second, 50*time.Millisecond)
    return pg1
}

func standbyConfig() bootstrap.Config {
    cfg := bootstrap.Defaults()
    cfg.NodeName = "pg2"
    cfg.Address = "127.0.0.2"
    cfg.Role = "standby"
    cfg.DiscoveryKind = "fleet"
    cfg.Environment = "production"
    cfg.FleetTimeout = 3 * time.Second
    return cfg
}

func TestFleet_HTTPDiscovery(t *testing.T) {
    ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
    defer cancel()
    pg1 := startFleet(t, ctx, "s3cret")

    cfg := standbyConfig()
    cfg.FleetBackend = "http"
    cfg.FleetURL = "http://" + pg1.Addr()
    cfg.FleetToken = "s3cret"
    p, closeFn, err := bootstrap.BuildDiscovery(cfg)
    require.NoError(t, err)
    defer closeFn()

    res, err := p.Discover(ctx, discovery.Query{Role: cluster.RolePrimary, Environment: "production"})
    require.NoError(t, err)
    assert.Equal(t, "pg1", res.Name)
    assert.Equal(t, "127.0.0.1", res.Address)
    assert.Equal(t, 5433, res.Port)
    assert.Equal(t, 128, res.KeepSegments)

    cfg.FleetToken = "wrong"
    p, _, err = bootstrap.BuildDiscovery(cfg)
    require.NoError(t, err)
    _, err = p.Discover(ctx, discovery.Query{Role: cluster.RolePrimary, Environment: "production"})
    assert.Error(t, err)
}

func TestFleet_GossipDiscovery(t *testing.T) {
    ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
    defer cancel()
    pg1 := startFleet(t, ctx, "")

    cfg := standbyConfig()
    cfg.FleetBackend = "gossip"
    cfg.GossipSeeds = pg1.Local()
    cfg.GossipBind = "127.0.0.1:0"
    p, closeFn, err := bootstrap.BuildDiscovery(cfg)
    require.NoError(t, err)
    defer closeFn()

    res, err := p.Discover(ctx, discovery.Query{Role: cluster.RolePrimary, Environment: "production"})
    require.NoError(t, err)
    assert.Equal(t, "pg1", res.Name)
    assert.Equal(t, 5433, res.Port)

    _, err = p.Discover(ctx, discovery.Query{Role: cluster.RolePrimary, Environment: "staging"})
    assert.ErrorIs(t, err, cluster.ErrEmptyResult)
    res, err = p.Discover(ctx, discovery.Query{Role: cluster.RolePrimary, Environment: "staging", EmptyOK: true})
    require.NoError(t, err)
    assert.True(t, res.IsZero())
}
