// Package recovery renders the standby's recovery.conf and links the shared
// repmgr configuration into the data directory.
package recovery

import (
    "bytes"
    "context"
    "errors"
    "fmt"
    "os"
    "os/user"
    "strconv"
    "text/template"

    "github.com/sirupsen/logrus"
    "github.com/spf13/afero"

    "github.com/LiamK/repmgr/pkg/cluster"
    "github.com/LiamK/repmgr/pkg/discovery"
    "github.com/LiamK/repmgr/pkg/internal/logutil"
    obsmetrics "github.com/LiamK/repmgr/pkg/observability/metrics"
    "github.com/LiamK/repmgr/pkg/observability/tracing"
    "github.com/LiamK/repmgr/pkg/service"
)

const FileMode os.FileMode = 0o644

var confTemplate = template.Must(template.New("recovery.conf").Parse(`# Managed by repmgrctl. Local edits are overwritten.
standby_mode = 'on'
primary_conninfo = 'host={{.Host}} port={{.Port}} user={{.User}} application_name={{.ApplicationName}}'
recovery_target_timeline = 'latest'
`))

// ConnInfo is the data rendered into recovery.conf.
type ConnInfo struct {
    Host            string
    Port            int
    User            string
    ApplicationName string
}

// Render returns the recovery.conf content for info.
func Render(info ConnInfo) ([]byte, error) {
    var buf bytes.Buffer
    if err := confTemplate.Execute(&buf, info); err != nil { return nil, err }
    return buf.Bytes(), nil
}

// OwnerFunc maps an account name to uid and gid.
type OwnerFunc func(account string) (uid, gid int, err error)

// LookupOwner resolves account through the system user database.
func LookupOwner(account string) (int, int, error) {
    u, err := user.Lookup(account)
    if err != nil { return 0, 0, err }
    uid, err := strconv.Atoi(u.Uid)
    if err != nil { return 0, 0, err }
    gid, err := strconv.Atoi(u.Gid)
    if err != nil { return 0, 0, err }
    return uid, gid, nil
}

// Provisioner writes recovery.conf and the config link.
type Provisioner struct {
    Fs       afero.Fs
    Services service.Manager
    // PostgresService is restarted when recovery.conf changes (default
    // "postgresql").
    PostgresService string
    // Owner resolves the uid/gid recovery.conf is chowned to (default
    // LookupOwner). It is not consulted when the identity has no service
    // account.
    Owner  OwnerFunc
    Logger logrus.FieldLogger
    Events *cluster.EventBus
}

// Provision renders recovery.conf for primary and restarts postgresql only
// when the content changed. It then makes sure <data_dir>/repmgr.conf links
// to the shared repmgr config, leaving an existing entry alone.
func (p *Provisioner) Provision(ctx context.Context, id cluster.NodeIdentity, primary discovery.Result) (bool, error) {
    ctx, end := tracing.StartSpan(ctx, "recovery.provision")
    changed, err := p.provision(ctx, id, primary)
    end(err)
    return changed, err
}

func (p *Provisioner) provision(ctx context.Context, id cluster.NodeIdentity, primary discovery.Result) (bool, error) {
    log := logutil.Or(p.Logger)
    if primary.IsZero() { return false, fmt.Errorf("%w: no primary for recovery.conf", cluster.ErrInvalidAddress) }
    replUser := primary.ReplicationUser
    if replUser == "" { replUser = id.ReplicationUser }
    data, err := Render(ConnInfo{Host: primary.Address, Port: primary.Port, User: replUser, ApplicationName: id.ApplicationName()})
    if err != nil { return false, fmt.Errorf("recovery: render: %w", err) }

    path := id.RecoveryFile()
    changed, err := p.writeIfChanged(path, data, id.ServiceAccount)
    if err != nil { return false, err }
    obsmetrics.RecoveryWrites.WithLabelValues(strconv.FormatBool(changed)).Inc()
    p.Events.Publish(cluster.Event{Type: cluster.EventRecoveryRendered, Details: map[string]string{"path": path, "changed": strconv.FormatBool(changed)}})

    if changed {
        svc := p.PostgresService
        if svc == "" { svc = "postgresql" }
        log.WithField("path", path).Info("recovery.conf changed, restarting postgresql")
        if err := p.Services.Restart(ctx, svc); err != nil { return true, fmt.Errorf("recovery: %w", err) }
    } else {
        log.WithField("path", path).Debug("recovery.conf unchanged")
    }

    if err := p.ensureLink(id, log); err != nil { return changed, err }
    return changed, nil
}

func (p *Provisioner) writeIfChanged(path string, data []byte, account string) (bool, error) {
    old, err := afero.ReadFile(p.Fs, path)
    switch {
    case err == nil && bytes.Equal(old, data):
        return false, nil
    case err != nil && !errors.Is(err, os.ErrNotExist):
        return false, fmt.Errorf("recovery: read %s: %w", path, err)
    }
    if err := afero.WriteFile(p.Fs, path, data, FileMode); err != nil {
        return false, fmt.Errorf("recovery: write %s: %w", path, err)
    }
    // WriteFile keeps the mode of an existing file.
    if err := p.Fs.Chmod(path, FileMode); err != nil { return true, fmt.Errorf("recovery: chmod %s: %w", path, err) }
    if account == "" { return true, nil }
    owner := p.Owner
    if owner == nil { owner = LookupOwner }
    uid, gid, err := owner(account)
    if err != nil { return true, fmt.Errorf("recovery: lookup %s: %w", account, err) }
    if err := p.Fs.Chown(path, uid, gid); err != nil { return true, fmt.Errorf("recovery: chown %s: %w", path, err) }
    return true, nil
}

func (p *Provisioner) ensureLink(id cluster.NodeIdentity, log logrus.FieldLogger) error {
    link := id.ConfigLink()
    if exists(p.Fs, link) { return nil }
    linker, ok := p.Fs.(afero.Linker)
    if !ok { return fmt.Errorf("recovery: link %s: %w", link, afero.ErrNoSymlink) }
    if err := linker.SymlinkIfPossible(id.ConfigFile, link); err != nil {
        return fmt.Errorf("recovery: link %s -> %s: %w", link, id.ConfigFile, err)
    }
    log.WithField("link", link).Info("linked repmgr config into data directory")
    return nil
}

// exists reports whether path is present without following a final symlink,
// so a dangling link still counts.
func exists(fs afero.Fs, path string) bool {
    if l, ok := fs.(afero.Lstater); ok {
        _, _, err := l.LstatIfPossible(path)
        return err == nil
    }
    _, err := fs.Stat(path)
    return err == nil
}
