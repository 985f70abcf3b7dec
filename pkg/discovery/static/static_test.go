package static

import (
    "context"
    "errors"
    "testing"

    "github.com/spf13/afero"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/LiamK/repmgr/pkg/cluster"
    "github.com/LiamK/repmgr/pkg/discovery"
)

const registryTOML = `
[[node]]
name = "pg2"
address = "10.0.0.2"
role = "standby"
environment = "production"

[[node]]
name = "pg1"
address = "pg1.internal"
role = "master"
environment = "production"
replication_user = "repl"
[node.hints]
keep_segments = "256"

[[node]]
name = "stage1"
address = "10.1.0.1"
role = "primary"
environment = "staging"
port = 6432
`

type hosts map[string][]string

func (h hosts) LookupHost(_ context.Context, host string) ([]string, error) {
    if ips, ok := h[host]; ok { return ips, nil }
    return nil, errors.New("no such host")
}

func loadRegistry(t *testing.T, body string) Registry {
    t.Helper()
    fs := afero.NewMemMapFs()
    require.NoError(t, afero.WriteFile(fs, "/etc/repmgr/registry.toml", []byte(body), 0o644))
    reg, err := Load(fs, "/etc/repmgr/registry.toml")
    require.NoError(t, err)
    return reg
}

func TestDiscoverByRoleAndEnvironment(t *testing.T) {
    reg := loadRegistry(t, registryTOML)
    require.Len(t, reg.Nodes, 3)
    p := New(reg, Options{Defaults: discovery.Defaults{ReplicationUser: "repmgr"}, Resolver: hosts{"pg1.internal": {"10.0.0.1"}}})

    res, err := p.Discover(context.Background(), discovery.Query{Environment: "production"})
    require.NoError(t, err)
    assert.Equal(t, "pg1", res.Name)
    assert.Equal(t, "pg1.internal", res.Address)
    assert.Equal(t, 5432, res.Port)
    assert.Equal(t, 256, res.KeepSegments)
    assert.Equal(t, "repl", res.ReplicationUser)

    res, err = p.Discover(context.Background(), discovery.Query{Environment: "staging"})
    require.NoError(t, err)
    assert.Equal(t, "10.1.0.1", res.Address)
    assert.Equal(t, 6432, res.Port)
    assert.Equal(t, 5000, res.KeepSegments)
    assert.Equal(t, "repmgr", res.ReplicationUser)

    res, err = p.Discover(context.Background(), discovery.Query{Role: cluster.RoleStandby})
    require.NoError(t, err)
    assert.Equal(t, "pg2", res.Name)
}

func TestDiscoverMissingPrimary(t *testing.T) {
    p := New(Registry{Nodes: []Node{{Name: "pg2", Address: "10.0.0.2", Role: "standby"}}}, Options{})
    _, err := p.Discover(context.Background(), discovery.Query{EmptyOK: true})
    assert.ErrorIs(t, err, cluster.ErrMasterNotFound)

    p = New(Registry{Nodes: []Node{{Name: "pg1", Address: "10.0.0.1", Role: "primary", Environment: "staging"}}}, Options{})
    _, err = p.Discover(context.Background(), discovery.Query{Environment: "production"})
    assert.ErrorIs(t, err, cluster.ErrMasterNotFound)
}

func TestDiscoverUnresolvableAddress(t *testing.T) {
    p := New(Registry{Nodes: []Node{{Name: "pg1", Address: "gone.internal", Role: "primary"}}}, Options{Resolver: hosts{}})
    _, err := p.Discover(context.Background(), discovery.Query{})
    assert.ErrorIs(t, err, cluster.ErrInvalidAddress)
}

func TestLoadRejectsUnknownRole(t *testing.T) {
    fs := afero.NewMemMapFs()
    require.NoError(t, afero.WriteFile(fs, "/r.toml", []byte("[[node]]\nname = \"x\"\nrole = \"arbiter\"\n"), 0o644))
    _, err := Load(fs, "/r.toml")
    assert.ErrorIs(t, err, cluster.ErrInvalidIdentity)

    _, err = Load(fs, "/missing.toml")
    assert.Error(t, err)
}
