package runner

import (
    "context"
    "errors"
    "testing"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
)

func TestArgvSwitchesAccount(t *testing.T) {
    e := NewExec(Options{CurrentUser: "root"})
    got := e.argv(Command{Name: "repmgr", Args: []string{"-f", "/etc/repmgr.conf", "cluster", "show"}, User: "postgres"})
    assert.Equal(t, []string{"sudo", "-n", "-u", "postgres", "--", "repmgr", "-f", "/etc/repmgr.conf", "cluster", "show"}, got)

    got = e.argv(Command{Name: "systemctl", Args: []string{"stop", "postgresql"}})
    assert.Equal(t, []string{"systemctl", "stop", "postgresql"}, got)

    same := NewExec(Options{CurrentUser: "postgres"})
    got = same.argv(Command{Name: "repmgr", Args: []string{"cluster", "show"}, User: "postgres"})
    assert.Equal(t, []string{"repmgr", "cluster", "show"}, got)
}

func TestExecMissingBinaryIsNotExitError(t *testing.T) {
    e := NewExec(Options{})
    _, err := e.Run(context.Background(), Command{Name: "definitely-not-a-real-binary-xyz"})
    require.Error(t, err)
    assert.False(t, IsExit(err))
}

func TestExecNonzeroExit(t *testing.T) {
    e := NewExec(Options{})
    res, err := e.Run(context.Background(), Command{Name: "sh", Args: []string{"-c", "echo out; echo oops >&2; exit 3"}})
    require.Error(t, err)
    var ee *ExitError
    require.True(t, errors.As(err, &ee))
    assert.Equal(t, 3, ee.Code)
    assert.Equal(t, 3, res.ExitCode)
    assert.Equal(t, "out\n", string(res.Stdout))
    assert.Contains(t, err.Error(), "oops")
}

func TestCommandString(t *testing.T) {
    c := Command{Name: "repmgr", Args: []string{"master", "register"}, User: "postgres"}
    assert.Equal(t, "repmgr master register", c.String())
}
