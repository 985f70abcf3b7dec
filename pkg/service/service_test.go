package service

import (
    "context"
    "testing"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/LiamK/repmgr/pkg/runner"
    "github.com/LiamK/repmgr/pkg/runner/runnertest"
)

func TestSystemctlCommands(t *testing.T) {
    f := &runnertest.Fake{}
    s := NewSystemctl(f, Options{})
    ctx := context.Background()
    require.NoError(t, s.Stop(ctx, "postgresql"))
    require.NoError(t, s.Kill(ctx, "postgres"))
    require.NoError(t, s.Start(ctx, "repmgrd"))
    require.NoError(t, s.Restart(ctx, "postgresql"))
    assert.Equal(t, []string{
        "systemctl stop postgresql",
        "pkill postgres",
        "systemctl start repmgrd",
        "systemctl restart postgresql",
    }, f.Lines())
    assert.Error(t, s.Start(ctx, ""))
}

func TestStartWithRetries(t *testing.T) {
    failures := 2
    f := &runnertest.Fake{Handler: func(cmd runner.Command) (runner.Result, error) {
        if failures > 0 {
            failures--
            return runnertest.Fail(cmd, 1, "Job for postgresql.service failed")
        }
        return runner.Result{}, nil
    }}
    s := NewSystemctl(f, Options{Binary: "service-ctl"})
    require.NoError(t, StartWithRetries(context.Background(), s, "postgresql", 2, nil))
    assert.Equal(t, 3, f.Count("service-ctl start postgresql"))
}

func TestStartWithRetriesExhausted(t *testing.T) {
    f := &runnertest.Fake{Handler: func(cmd runner.Command) (runner.Result, error) {
        return runnertest.Fail(cmd, 1, "nope")
    }}
    s := NewSystemctl(f, Options{})
    err := StartWithRetries(context.Background(), s, "postgresql", 2, nil)
    require.Error(t, err)
    assert.True(t, runner.IsExit(err))
    assert.Equal(t, 3, f.Count("start postgresql"))
}
