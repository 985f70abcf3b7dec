package join

import (
    "context"
    "strings"
    "testing"

    "github.com/spf13/afero"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/LiamK/repmgr/pkg/cluster"
    "github.com/LiamK/repmgr/pkg/discovery"
    "github.com/LiamK/repmgr/pkg/runner"
    "github.com/LiamK/repmgr/pkg/runner/runnertest"
    "github.com/LiamK/repmgr/pkg/service"
)

func standbyID() cluster.NodeIdentity {
    return cluster.NodeIdentity{
        Name: "pg2", Address: "10.0.0.5", Role: cluster.RoleStandby,
        ReplicationUser: "repmgr", Database: "repmgr", DataDirectory: "/var/lib/pg/main",
        Port: 5432, ServiceAccount: "postgres", ConfigFile: "/etc/repmgr/repmgr.conf",
    }
}

var primary = discovery.Result{Address: "10.0.0.1", Port: 5432, ReplicationUser: "repmgr", KeepSegments: 5000}

func newJoiner(t *testing.T, h func(fs afero.Fs, cmd runner.Command) (runner.Result, error)) (*Joiner, *runnertest.Fake, afero.Fs) {
    t.Helper()
    fs := afero.NewMemMapFs()
    require.NoError(t, afero.WriteFile(fs, "/var/lib/pg/main/PG_VERSION", []byte("9.6\n"), 0o600))
    f := &runnertest.Fake{}
    if h != nil {
        f.Handler = func(cmd runner.Command) (runner.Result, error) { return h(fs, cmd) }
    }
    j := &Joiner{Runner: f, Services: service.NewSystemctl(f, service.Options{}), Fs: fs}
    return j, f, fs
}

func TestJoinRunsStepsInOrder(t *testing.T) {
    var dirAtClone bool
    j, f, fs := newJoiner(t, func(fs afero.Fs, cmd runner.Command) (runner.Result, error) {
        if cmd.Name == "repmgr" {
            dirAtClone, _ = afero.DirExists(fs, "/var/lib/pg/main")
        }
        return runner.Result{}, nil
    })
    out, err := j.Join(context.Background(), standbyID(), primary)
    require.NoError(t, err)
    assert.False(t, out.Skipped)

    assert.Equal(t, []string{
        "systemctl stop postgresql",
        "pkill postgres",
        "repmgr -f /etc/repmgr/repmgr.conf -D /var/lib/pg/main -p 5432 -U repmgr -R postgres -d repmgr -w 5000 standby clone 10.0.0.1",
        "systemctl start postgresql",
        "systemctl start repmgrd",
    }, f.Lines())
    assert.Equal(t, "postgres", f.Calls()[2].User)
    assert.False(t, dirAtClone, "data directory must be purged before clone")
    assert.True(t, out.Attempt.Purged)
    assert.Equal(t, []string{StepStop, StepKill, StepPurge, StepClone, StepStart, StepStartMonitor}, out.Attempt.Steps)

    exists, _ := afero.Exists(fs, "/var/lib/pg/main/PG_VERSION")
    assert.False(t, exists)
}

func TestJoinCloneFailureAbortsBeforeStart(t *testing.T) {
    j, f, _ := newJoiner(t, func(fs afero.Fs, cmd runner.Command) (runner.Result, error) {
        if cmd.Name == "repmgr" { return runnertest.Fail(cmd, 1, "could not connect to upstream") }
        return runner.Result{}, nil
    })
    out, err := j.Join(context.Background(), standbyID(), primary)
    require.Error(t, err)
    assert.ErrorIs(t, err, cluster.ErrJoinStepFailed)
    assert.Contains(t, err.Error(), StepClone)
    assert.Zero(t, f.Count("start"))
    assert.NotContains(t, out.Attempt.Steps, StepClone)
}

func TestJoinStopFailureNeverPurges(t *testing.T) {
    j, f, fs := newJoiner(t, func(fs afero.Fs, cmd runner.Command) (runner.Result, error) {
        if strings.HasSuffix(cmd.String(), "stop postgresql") { return runnertest.Fail(cmd, 5, "unit not loaded") }
        return runner.Result{}, nil
    })
    _, err := j.Join(context.Background(), standbyID(), primary)
    assert.ErrorIs(t, err, cluster.ErrJoinStepFailed)
    assert.Contains(t, err.Error(), StepStop)
    assert.Equal(t, []string{"systemctl stop postgresql"}, f.Lines())
    exists, _ := afero.Exists(fs, "/var/lib/pg/main/PG_VERSION")
    assert.True(t, exists)
}

func TestJoinIgnoresPkillFailure(t *testing.T) {
    j, f, _ := newJoiner(t, func(fs afero.Fs, cmd runner.Command) (runner.Result, error) {
        if cmd.Name == "pkill" { return runnertest.Fail(cmd, 1, "") }
        return runner.Result{}, nil
    })
    _, err := j.Join(context.Background(), standbyID(), primary)
    require.NoError(t, err)
    assert.Equal(t, 1, f.Count("standby clone"))
}

func TestJoinRetriesPostgresStart(t *testing.T) {
    fails := 2
    j, f, _ := newJoiner(t, func(fs afero.Fs, cmd runner.Command) (runner.Result, error) {
        if cmd.String() == "systemctl start postgresql" && fails > 0 {
            fails--
            return runnertest.Fail(cmd, 1, "")
        }
        return runner.Result{}, nil
    })
    _, err := j.Join(context.Background(), standbyID(), primary)
    require.NoError(t, err)
    assert.Equal(t, 3, f.Count("start postgresql"))
    assert.Equal(t, 1, f.Count("start repmgrd"))
}

func TestJoinSkippedWhenMarkerExists(t *testing.T) {
    j, f, fs := newJoiner(t, nil)
    require.NoError(t, afero.WriteFile(fs, standbyID().RecoveryFile(), []byte("standby_mode = 'on'\n"), 0o644))
    out, err := j.Join(context.Background(), standbyID(), primary)
    require.NoError(t, err)
    assert.True(t, out.Skipped)
    assert.Empty(t, f.Lines())
}

func TestJoinNeedsPrimary(t *testing.T) {
    j, f, _ := newJoiner(t, nil)
    _, err := j.Join(context.Background(), standbyID(), discovery.Result{})
    assert.ErrorIs(t, err, cluster.ErrInvalidAddress)
    assert.Empty(t, f.Lines())
}

func TestJoinPublishesStepEvents(t *testing.T) {
    j, _, _ := newJoiner(t, nil)
    ctx, cancel := context.WithCancel(context.Background())
    defer cancel()
    j.Events = &cluster.EventBus{}
    ch := j.Events.Subscribe(ctx)
    _, err := j.Join(context.Background(), standbyID(), primary)
    require.NoError(t, err)

    var completed []string
    for len(ch) > 0 {
        ev := <-ch
        if ev.Type == cluster.EventStepCompleted { completed = append(completed, ev.Step) }
    }
    assert.Equal(t, []string{StepStop, StepPurge, StepClone, StepStart, StepStartMonitor}, completed)
}
