// Package runnertest provides a recording Runner for tests.
package runnertest

import (
    "context"
    "strings"
    "sync"

    "github.com/LiamK/repmgr/pkg/runner"
)

// Fake records every command and answers through Handler. A nil Handler
// succeeds with empty output.
type Fake struct {
    mu      sync.Mutex
    calls   []runner.Command
    Handler func(cmd runner.Command) (runner.Result, error)
}

func (f *Fake) Run(ctx context.Context, cmd runner.Command) (runner.Result, error) {
    f.mu.Lock()
    f.calls = append(f.calls, cmd)
    h := f.Handler
    f.mu.Unlock()
    if err := ctx.Err(); err != nil { return runner.Result{}, err }
    if h == nil { return runner.Result{}, nil }
    return h(cmd)
}

// Calls returns the recorded commands.
func (f *Fake) Calls() []runner.Command {
    f.mu.Lock()
    defer f.mu.Unlock()
    return append([]runner.Command(nil), f.calls...)
}

// Lines returns the recorded command lines.
func (f *Fake) Lines() []string {
    var out []string
    for _, c := range f.Calls() { out = append(out, c.String()) }
    return out
}

// Count returns how many recorded command lines contain substr.
func (f *Fake) Count(substr string) int {
    n := 0
    for _, l := range f.Lines() {
        if strings.Contains(l, substr) { n++ }
    }
    return n
}

// Fail returns an ExitError result for cmd.
func Fail(cmd runner.Command, code int, stderr string) (runner.Result, error) {
    return runner.Result{ExitCode: code, Stderr: []byte(stderr)}, &runner.ExitError{Cmd: cmd, Code: code, Stderr: stderr}
}

// Out returns a successful result with stdout.
func Out(stdout string) (runner.Result, error) {
    return runner.Result{Stdout: []byte(stdout)}, nil
}

var _ runner.Runner = (*Fake)(nil)
