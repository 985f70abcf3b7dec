// Package service drives the local service manager.
package service

import (
    "context"
    "fmt"

    "github.com/sirupsen/logrus"

    "github.com/LiamK/repmgr/pkg/internal/logutil"
    "github.com/LiamK/repmgr/pkg/runner"
)

// Manager starts, stops and restarts services by name.
type Manager interface {
    Start(ctx context.Context, name string) error
    Stop(ctx context.Context, name string) error
    Restart(ctx context.Context, name string) error
    // Kill force-terminates processes matching pattern.
    Kill(ctx context.Context, pattern string) error
}

// Options configures Systemctl.
type Options struct {
    // Binary is the service control tool (default "systemctl").
    Binary string
    // Pkill is the process killer used by Kill (default "pkill").
    Pkill  string
    Logger logrus.FieldLogger
}

// Systemctl implements Manager with `systemctl <action> <name>`.
type Systemctl struct {
    r    runner.Runner
    opts Options
}

// NewSystemctl returns a Manager running its commands through r.
func NewSystemctl(r runner.Runner, opts Options) *Systemctl {
    if opts.Binary == "" { opts.Binary = "systemctl" }
    if opts.Pkill == "" { opts.Pkill = "pkill" }
    opts.Logger = logutil.Or(opts.Logger)
    return &Systemctl{r: r, opts: opts}
}

func (s *Systemctl) action(ctx context.Context, action, name string) error {
    if name == "" { return fmt.Errorf("service: empty service name") }
    _, err := s.r.Run(ctx, runner.Command{Name: s.opts.Binary, Args: []string{action, name}})
    if err != nil { return fmt.Errorf("service: %s %s: %w", action, name, err) }
    return nil
}

func (s *Systemctl) Start(ctx context.Context, name string) error   { return s.action(ctx, "start", name) }
func (s *Systemctl) Stop(ctx context.Context, name string) error    { return s.action(ctx, "stop", name) }
func (s *Systemctl) Restart(ctx context.Context, name string) error { return s.action(ctx, "restart", name) }

func (s *Systemctl) Kill(ctx context.Context, pattern string) error {
    _, err := s.r.Run(ctx, runner.Command{Name: s.opts.Pkill, Args: []string{pattern}})
    if err != nil { return fmt.Errorf("service: pkill %s: %w", pattern, err) }
    return nil
}

// StartWithRetries starts name, retrying immediately up to retries more times
// when the start itself fails. It returns the last error.
func StartWithRetries(ctx context.Context, m Manager, name string, retries int, logger logrus.FieldLogger) error {
    var err error
    for attempt := 0; attempt <= retries; attempt++ {
        if err = m.Start(ctx, name); err == nil { return nil }
        if ctx.Err() != nil { return err }
        if attempt < retries {
            logutil.Warnf(logger, "start %s failed (attempt %d/%d): %v", name, attempt+1, retries+1, err)
        }
    }
    return err
}

var _ Manager = (*Systemctl)(nil)
