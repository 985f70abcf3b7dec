// Package repmgr builds typed invocations of the repmgr command line tool.
package repmgr

import (
    "strconv"

    "github.com/LiamK/repmgr/pkg/cluster"
    "github.com/LiamK/repmgr/pkg/runner"
)

// DefaultBinary is used when Builder.Binary is empty.
const DefaultBinary = "repmgr"

// Builder produces repmgr commands for one node. Every command carries
// -f <config> and runs as the node's service account.
type Builder struct {
    Binary string
    ID     cluster.NodeIdentity
}

// New returns a Builder for id.
func New(binary string, id cluster.NodeIdentity) Builder {
    if binary == "" { binary = DefaultBinary }
    return Builder{Binary: binary, ID: id}
}

func (b Builder) command(args ...string) runner.Command {
    bin := b.Binary
    if bin == "" { bin = DefaultBinary }
    full := append([]string{"-f", b.ID.ConfigFile}, args...)
    return runner.Command{Name: bin, Args: full, User: b.ID.ServiceAccount}
}

// ClusterShow is `repmgr -f <cfg> cluster show`.
func (b Builder) ClusterShow() runner.Command {
    return b.command("cluster", "show")
}

// MasterRegister is `repmgr -f <cfg> master register`.
func (b Builder) MasterRegister() runner.Command {
    return b.command("master", "register")
}

// CloneOptions parameterizes a standby clone.
type CloneOptions struct {
    PrimaryHost  string
    KeepSegments int
}

// StandbyClone is
// `repmgr -f <cfg> -D <dir> -p <port> -U <user> -R <svc> -d <db> -w <keep> standby clone <primary>`.
func (b Builder) StandbyClone(o CloneOptions) runner.Command {
    args := []string{
        "-D", b.ID.DataDirectory,
        "-p", strconv.Itoa(b.ID.Port),
        "-U", b.ID.ReplicationUser,
        "-R", b.ID.ServiceAccount,
        "-d", b.ID.Database,
    }
    if o.KeepSegments > 0 {
        args = append(args, "-w", strconv.Itoa(o.KeepSegments))
    }
    args = append(args, "standby", "clone", o.PrimaryHost)
    return b.command(args...)
}
