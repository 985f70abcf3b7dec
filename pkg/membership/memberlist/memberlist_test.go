package memberlist

import (
    "context"
    "testing"
    "time"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    base "github.com/LiamK/repmgr/pkg/membership"
)

func TestMemberlistStartLocal(t *testing.T) {
    ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
    defer cancel()
    m := startNode(t, ctx, "t1", map[string]string{"role": "primary"})
    defer m.Stop()

    local := m.Local()
    assert.Equal(t, "t1", local.ID)
    assert.Equal(t, "primary", local.Meta["role"])
    assert.GreaterOrEqual(t, m.HealthScore(), 0)
}

func TestMemberlistRejectsOversizedMeta(t *testing.T) {
    big := make([]byte, 600)
    for i := range big { big[i] = 'x' }
    _, err := New(Options{NodeID: "n", Bind: "127.0.0.1:0", Meta: map[string]string{"hints": string(big)}})
    assert.Error(t, err)
}

func TestMemberlistMultiNodeJoinLeave(t *testing.T) {
    ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
    defer cancel()

    n1 := startNode(t, ctx, "n1", map[string]string{"role": "primary"})
    defer n1.Stop()
    addr1 := n1.Local().Addr

    n2 := startNode(t, ctx, "n2", map[string]string{"role": "standby"})
    defer n2.Stop()
    _, err := n2.Join([]string{addr1})
    require.NoError(t, err)

    n3 := startNode(t, ctx, "n3", nil)
    defer n3.Stop()
    _, err = n3.Join([]string{addr1})
    require.NoError(t, err)

    awaitMembers(t, n1, 3, 5*time.Second)
    awaitMembers(t, n3, 3, 5*time.Second)

    var sawStandby bool
    for _, mi := range n3.Members() {
        if mi.ID == "n2" { sawStandby = mi.Meta["role"] == "standby" }
    }
    assert.True(t, sawStandby, "n2 metadata not gossiped")

    _ = n2.Leave()
    _ = n2.Stop()
    awaitMembers(t, n1, 2, 5*time.Second)
    awaitMembers(t, n3, 2, 5*time.Second)
}

func startNode(t *testing.T, ctx context.Context, id string, meta map[string]string) *impl {
    t.Helper()
    m, err := New(Options{NodeID: id, Bind: "127.0.0.1:0", Meta: meta, ProbeInterval: 100 * time.Millisecond, SuspicionMult: 2})
    require.NoError(t, err)
    require.NoError(t, m.Start(ctx))
    require.NotEmpty(t, m.Local().Addr)
    return m.(*impl)
}

func awaitMembers(t *testing.T, m base.Membership, want int, timeout time.Duration) {
    t.Helper()
    deadline := time.Now().Add(timeout)
    for {
        got := m.Members()
        if len(got) == want { return }
        if time.Now().After(deadline) {
            t.Fatalf("members timeout: got=%d want=%d list=%v", len(got), want, got)
        }
        time.Sleep(100 * time.Millisecond)
    }
}
