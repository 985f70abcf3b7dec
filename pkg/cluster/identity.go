package cluster

import (
    "fmt"
    "path/filepath"
    "strings"
)

// Role is the replication role a node is configured for or observed in.
type Role string

const (
    RolePrimary Role = "primary"
    RoleStandby Role = "standby"
    RoleWitness Role = "witness"
    // RoleOther marks status rows whose role keyword is not primary/standby.
    RoleOther Role = "other"
)

// ParseRole accepts the configured role names, including the legacy "master"
// and "slave" spellings used by older repmgr deployments.
func ParseRole(s string) (Role, error) {
    switch strings.ToLower(strings.TrimSpace(s)) {
    case "primary", "master":
        return RolePrimary, nil
    case "standby", "slave":
        return RoleStandby, nil
    case "witness":
        return RoleWitness, nil
    }
    return "", fmt.Errorf("%w: unknown role %q", ErrInvalidIdentity, s)
}

// NodeIdentity is the immutable description of the local node. It is built
// once from configuration and passed by value to every component.
type NodeIdentity struct {
    // Name identifies the node to operators and is used as the replication
    // application_name.
    Name string
    // Address is the hostname or IP this node appears under in the cluster
    // status view.
    Address string
    Role    Role

    ReplicationUser string
    Database        string
    DataDirectory   string
    Port            int

    // ServiceAccount is the OS account repmgr commands run as (e.g. postgres).
    ServiceAccount string
    // ConfigFile is the shared repmgr.conf path passed as -f.
    ConfigFile string
}

// Validate checks the fields every component relies on.
func (n NodeIdentity) Validate() error {
    switch {
    case strings.TrimSpace(n.Address) == "":
        return fmt.Errorf("%w: empty address", ErrInvalidIdentity)
    case n.Role != RolePrimary && n.Role != RoleStandby && n.Role != RoleWitness:
        return fmt.Errorf("%w: unknown role %q", ErrInvalidIdentity, n.Role)
    case n.DataDirectory == "" || !filepath.IsAbs(n.DataDirectory):
        return fmt.Errorf("%w: data directory must be an absolute path, got %q", ErrInvalidIdentity, n.DataDirectory)
    case n.ConfigFile == "":
        return fmt.Errorf("%w: empty repmgr config path", ErrInvalidIdentity)
    case n.Port <= 0 || n.Port > 65535:
        return fmt.Errorf("%w: invalid port %d", ErrInvalidIdentity, n.Port)
    }
    if n.Role == RoleStandby && (n.ReplicationUser == "" || n.Database == "") {
        return fmt.Errorf("%w: standby requires replication user and database", ErrInvalidIdentity)
    }
    return nil
}

// ApplicationName is the name reported to the primary in primary_conninfo.
func (n NodeIdentity) ApplicationName() string {
    if n.Name != "" { return n.Name }
    return n.Address
}

// RecoveryFile is <data_dir>/recovery.conf. Its presence doubles as the
// marker that a join was already attempted.
func (n NodeIdentity) RecoveryFile() string {
    return filepath.Join(n.DataDirectory, "recovery.conf")
}

// ConfigLink is the repmgr.conf link inside the data directory.
func (n NodeIdentity) ConfigLink() string {
    return filepath.Join(n.DataDirectory, "repmgr.conf")
}
