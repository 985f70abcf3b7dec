package runner

import (
    "bytes"
    "context"
    "errors"
    "fmt"
    "os/exec"
    "os/user"
    "strings"

    "github.com/sirupsen/logrus"

    "github.com/LiamK/repmgr/pkg/internal/logutil"
)

// Command is a typed external command invocation.
type Command struct {
    Name string
    Args []string
    // User runs the command as this OS account when it differs from the
    // current one.
    User string
}

// String renders the command line without the account switch.
func (c Command) String() string {
    return strings.Join(append([]string{c.Name}, c.Args...), " ")
}

// Result carries the captured output of a finished command.
type Result struct {
    Stdout   []byte
    Stderr   []byte
    ExitCode int
}

// Runner executes commands. Implementations return *ExitError for commands
// that ran and exited nonzero, and any other error when the command could not
// be started at all.
type Runner interface {
    Run(ctx context.Context, cmd Command) (Result, error)
}

// ExitError reports a nonzero exit.
type ExitError struct {
    Cmd    Command
    Code   int
    Stderr string
}

func (e *ExitError) Error() string {
    msg := strings.TrimSpace(e.Stderr)
    if msg == "" { return fmt.Sprintf("runner: %q exited with status %d", e.Cmd.String(), e.Code) }
    return fmt.Sprintf("runner: %q exited with status %d: %s", e.Cmd.String(), e.Code, msg)
}

// IsExit reports whether err is a nonzero exit rather than a start failure.
func IsExit(err error) bool {
    var ee *ExitError
    return errors.As(err, &ee)
}

// Options configures Exec.
type Options struct {
    // Sudo is the privilege helper used to switch accounts (default "sudo").
    Sudo string
    // CurrentUser overrides detection of the invoking account.
    CurrentUser string
    Logger      logrus.FieldLogger
}

// Exec runs commands on the local host with os/exec.
type Exec struct {
    opts Options
}

// NewExec returns an Exec runner.
func NewExec(opts Options) *Exec {
    if opts.Sudo == "" { opts.Sudo = "sudo" }
    if opts.CurrentUser == "" {
        if u, err := user.Current(); err == nil { opts.CurrentUser = u.Username }
    }
    opts.Logger = logutil.Or(opts.Logger)
    return &Exec{opts: opts}
}

// argv builds the final argument vector, prefixing "sudo -n -u <user> --" when
// the command must run under another account.
func (e *Exec) argv(cmd Command) []string {
    if cmd.User == "" || cmd.User == e.opts.CurrentUser {
        return append([]string{cmd.Name}, cmd.Args...)
    }
    out := []string{e.opts.Sudo, "-n", "-u", cmd.User, "--", cmd.Name}
    return append(out, cmd.Args...)
}

func (e *Exec) Run(ctx context.Context, cmd Command) (Result, error) {
    argv := e.argv(cmd)
    c := exec.CommandContext(ctx, argv[0], argv[1:]...)
    var stdout, stderr bytes.Buffer
    c.Stdout = &stdout
    c.Stderr = &stderr
    e.opts.Logger.WithField("user", cmd.User).Debugf("exec: %s", cmd.String())
    err := c.Run()
    res := Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
    if err == nil { return res, nil }
    var ee *exec.ExitError
    if errors.As(err, &ee) {
        res.ExitCode = ee.ExitCode()
        return res, &ExitError{Cmd: cmd, Code: res.ExitCode, Stderr: stderr.String()}
    }
    res.ExitCode = -1
    return res, fmt.Errorf("runner: cannot execute %q: %w", cmd.String(), err)
}

var _ Runner = (*Exec)(nil)
