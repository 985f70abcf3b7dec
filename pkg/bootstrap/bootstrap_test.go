package bootstrap

import (
    "context"
    "strings"
    "testing"

    "github.com/spf13/afero"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/LiamK/repmgr/pkg/cluster"
    "github.com/LiamK/repmgr/pkg/discovery"
    "github.com/LiamK/repmgr/pkg/discovery/fleet"
    dStatic "github.com/LiamK/repmgr/pkg/discovery/static"
    "github.com/LiamK/repmgr/pkg/resolve"
    "github.com/LiamK/repmgr/pkg/runner"
    "github.com/LiamK/repmgr/pkg/runner/runnertest"
)

const registry = `
[[node]]
name = "pg1"
address = "127.0.0.1"
role = "primary"
environment = "prod"
port = 5433

[[node]]
name = "pg2"
address = "127.0.0.2"
role = "standby"
environment = "prod"
`

func testConfig(role string) Config {
    cfg := Defaults()
    cfg.NodeName = "pg1"
    cfg.Address = "127.0.0.1"
    cfg.Role = role
    cfg.DataDirectory = "/var/lib/postgresql/main"
    cfg.RegistryFile = "/etc/repmgr/registry.toml"
    cfg.Environment = "prod"
    return cfg
}

func TestIdentityFromConfig(t *testing.T) {
    cfg := testConfig("master")
    id, err := Identity(cfg)
    require.NoError(t, err)
    assert.Equal(t, cluster.RolePrimary, id.Role)
    assert.Equal(t, "pg1", id.Name)
    assert.Equal(t, "/etc/repmgr/repmgr.conf", id.ConfigFile)
    assert.Equal(t, "postgres", id.ServiceAccount)

    cfg.NodeName = ""
    id, err = Identity(cfg)
    require.NoError(t, err)
    assert.NotEmpty(t, id.Name)
}

func TestIdentityRejectsBadInput(t *testing.T) {
    cfg := testConfig("arbiter")
    _, err := Identity(cfg)
    assert.ErrorIs(t, err, cluster.ErrInvalidIdentity)

    cfg = testConfig("standby")
    cfg.Address = "  "
    _, err = Identity(cfg)
    assert.ErrorIs(t, err, cluster.ErrInvalidIdentity)
}

func TestRunRegistersFreshPrimary(t *testing.T) {
    registered := false
    f := &runnertest.Fake{Handler: func(cmd runner.Command) (runner.Result, error) {
        line := cmd.String()
        switch {
        case strings.HasSuffix(line, "cluster show") && registered:
            return runnertest.Out("* master | pg1 | host=127.0.0.1\n")
        case strings.HasSuffix(line, "master register"):
            registered = true
        }
        return runner.Result{}, nil
    }}
    cfg := testConfig("primary")
    cfg.Runner = f
    cfg.Fs = afero.NewMemMapFs()

    rep, err := Run(context.Background(), cfg)
    require.NoError(t, err)
    assert.Equal(t, resolve.NeedsPrimaryRegistration, rep.Decision)
    assert.True(t, rep.Registered)
    assert.Equal(t, 1, f.Count("master register"))
}

func TestBuildSkipsDiscoveryForPrimary(t *testing.T) {
    cfg := testConfig("primary")
    cfg.DiscoveryKind = "bogus"
    cfg.Runner = &runnertest.Fake{}
    o, closeFn, err := Build(cfg)
    require.NoError(t, err)
    defer closeFn()
    assert.Nil(t, o.Discovery)
}

func TestBuildStaticDiscovery(t *testing.T) {
    fs := afero.NewMemMapFs()
    require.NoError(t, afero.WriteFile(fs, "/etc/repmgr/registry.toml", []byte(registry), 0o644))
    cfg := testConfig("standby")
    cfg.Address = "127.0.0.2"
    cfg.Fs = fs
    cfg.Runner = &runnertest.Fake{}

    o, closeFn, err := Build(cfg)
    require.NoError(t, err)
    defer closeFn()
    require.IsType(t, &dStatic.Provider{}, o.Discovery)

    res, err := o.Discovery.Discover(context.Background(), discovery.Query{Role: cluster.RolePrimary, Environment: "prod"})
    require.NoError(t, err)
    assert.Equal(t, "127.0.0.1", res.Address)
    assert.Equal(t, 5433, res.Port)
    assert.Equal(t, discovery.DefaultKeepSegments, res.KeepSegments)
    assert.Equal(t, "repmgr", res.ReplicationUser)
}

func TestBuildDiscoveryMissingRegistry(t *testing.T) {
    cfg := testConfig("standby")
    cfg.Fs = afero.NewMemMapFs()
    _, _, err := BuildDiscovery(cfg)
    assert.Error(t, err)
}

func TestBuildDiscoveryFleetBackends(t *testing.T) {
    cfg := testConfig("standby")
    cfg.DiscoveryKind = "fleet"
    cfg.FleetURL = "http://127.0.0.1:7080"
    p, closeFn, err := BuildDiscovery(cfg)
    require.NoError(t, err)
    assert.IsType(t, &fleet.Provider{}, p)
    assert.NoError(t, closeFn())

    cfg.FleetBackend = "dns"
    cfg.DNSDomain = "db.example.internal"
    cfg.DNSServer = "127.0.0.1:53"
    _, _, err = BuildDiscovery(cfg)
    require.NoError(t, err)

    cfg.FleetBackend = "gossip"
    cfg.GossipSeeds = ""
    _, _, err = BuildDiscovery(cfg)
    assert.Error(t, err)

    cfg.FleetBackend = "carrier-pigeon"
    _, _, err = BuildDiscovery(cfg)
    assert.ErrorContains(t, err, "unknown fleet backend")

    cfg.DiscoveryKind = "zookeeper"
    _, _, err = BuildDiscovery(cfg)
    assert.ErrorContains(t, err, "unknown discovery kind")
}

func TestProbeBind(t *testing.T) {
    assert.Equal(t, "127.0.0.1:0", probeBind("127.0.0.1:7946"))
    assert.Equal(t, "0.0.0.0:0", probeBind(""))
}
