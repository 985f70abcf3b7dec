package bootstrap

import (
    "context"
    "fmt"
    "net"
    "os"
    "strings"
    "time"

    "github.com/sirupsen/logrus"
    "github.com/spf13/afero"

    "github.com/LiamK/repmgr/pkg/cluster"
    "github.com/LiamK/repmgr/pkg/converge"
    "github.com/LiamK/repmgr/pkg/discovery"
    "github.com/LiamK/repmgr/pkg/discovery/fleet"
    "github.com/LiamK/repmgr/pkg/discovery/seeds"
    dStatic "github.com/LiamK/repmgr/pkg/discovery/static"
    "github.com/LiamK/repmgr/pkg/inspect"
    "github.com/LiamK/repmgr/pkg/internal/logutil"
    "github.com/LiamK/repmgr/pkg/join"
    "github.com/LiamK/repmgr/pkg/orchestrator"
    "github.com/LiamK/repmgr/pkg/recovery"
    "github.com/LiamK/repmgr/pkg/register"
    "github.com/LiamK/repmgr/pkg/runner"
    tlsx "github.com/LiamK/repmgr/pkg/security/tlsconfig"
    "github.com/LiamK/repmgr/pkg/service"
)

// Config is the flat set of inputs for one node. The CLI fills it from flags,
// the environment and an optional config file; embedding applications can
// fill it directly and call Build/Run.
type Config struct {
    // Node identity
    NodeName        string `mapstructure:"node-name"`
    Address         string `mapstructure:"address"`
    Role            string `mapstructure:"role"` // primary|standby|witness (master/slave accepted)
    ReplicationUser string `mapstructure:"replication-user"`
    Database        string `mapstructure:"database"`
    DataDirectory   string `mapstructure:"data-directory"`
    Port            int    `mapstructure:"port"`
    ServiceAccount  string `mapstructure:"service-account"`
    ConfigFile      string `mapstructure:"repmgr-config"`

    // External tools
    RepmgrBinary    string `mapstructure:"repmgr-binary"`
    ServiceBinary   string `mapstructure:"service-binary"`
    PkillBinary     string `mapstructure:"pkill-binary"`
    Sudo            string `mapstructure:"sudo"`
    PostgresService string `mapstructure:"postgres-service"`
    MonitorService  string `mapstructure:"monitor-service"`
    StartRetries    int    `mapstructure:"start-retries"`

    // Convergence poll
    ConvergeAttempts int           `mapstructure:"converge-attempts"`
    ConvergeDelay    time.Duration `mapstructure:"converge-delay"`

    // Discovery
    DiscoveryKind string        `mapstructure:"discovery"`     // "static" (default) or "fleet"
    FleetBackend  string        `mapstructure:"fleet-backend"` // http|redis|dns|gossip
    Environment   string        `mapstructure:"environment"`
    EmptyOK       bool          `mapstructure:"empty-ok"`
    KeepSegments  int           `mapstructure:"keep-segments"`
    PrimaryPort   int           `mapstructure:"primary-port"`
    FleetTimeout  time.Duration `mapstructure:"fleet-timeout"`
    RegistryFile  string        `mapstructure:"registry-file"` // static
    FleetURL      string        `mapstructure:"fleet-url"`     // http
    FleetToken    string        `mapstructure:"fleet-token"`   // http, also required by the agent when set
    RedisAddr     string        `mapstructure:"redis-addr"`    // redis, also agent announcements
    RedisPassword string        `mapstructure:"redis-password"`
    RedisDB       int           `mapstructure:"redis-db"`
    RedisPrefix   string        `mapstructure:"redis-prefix"`
    DNSDomain     string        `mapstructure:"dns-domain"` // dns
    DNSServer     string        `mapstructure:"dns-server"`
    GossipSeeds   string        `mapstructure:"gossip-seeds"` // gossip and agent
    GossipBind    string        `mapstructure:"gossip-bind"`
    GossipAdv     string        `mapstructure:"gossip-advertise"`

    // Agent
    AgentAddr string `mapstructure:"agent-addr"` // HTTP discovery API bind

    // TLS for the fleet HTTP API (client and agent server)
    TLSEnable     bool   `mapstructure:"tls-enable"`
    TLSCA         string `mapstructure:"tls-ca"`
    TLSCert       string `mapstructure:"tls-cert"`
    TLSKey        string `mapstructure:"tls-key"`
    TLSServerName string `mapstructure:"tls-server-name"`
    TLSSkipVerify bool   `mapstructure:"tls-skip-verify"`

    // Logger (optional). If nil, the logrus standard logger is used.
    Logger logrus.FieldLogger `mapstructure:"-"`
    // Events receives progress events when set.
    Events *cluster.EventBus `mapstructure:"-"`
    // Runner and Fs override command execution and filesystem access.
    Runner runner.Runner `mapstructure:"-"`
    Fs     afero.Fs      `mapstructure:"-"`
}

// Defaults returns the values used for anything left unset.
func Defaults() Config {
    return Config{
        Role:             string(cluster.RoleStandby),
        ReplicationUser:  "repmgr",
        Database:         "repmgr",
        DataDirectory:    "/var/lib/postgresql/data",
        Port:             discovery.DefaultPort,
        ServiceAccount:   "postgres",
        ConfigFile:       "/etc/repmgr/repmgr.conf",
        RepmgrBinary:     "repmgr",
        ServiceBinary:    "systemctl",
        PkillBinary:      "pkill",
        Sudo:             "sudo",
        PostgresService:  "postgresql",
        MonitorService:   "repmgrd",
        StartRetries:     join.DefaultStartRetries,
        ConvergeAttempts: converge.DefaultMaxAttempts,
        ConvergeDelay:    converge.DefaultDelay,
        DiscoveryKind:    "static",
        FleetBackend:     "http",
        KeepSegments:     discovery.DefaultKeepSegments,
        PrimaryPort:      discovery.DefaultPort,
        RegistryFile:     "/etc/repmgr/registry.toml",
        RedisPrefix:      fleet.DefaultRedisPrefix,
        GossipBind:       "0.0.0.0:7946",
        FleetTimeout:     10 * time.Second,
        AgentAddr:        ":7080",
    }
}

// Identity builds and validates the node identity. An empty node name falls
// back to the hostname.
func Identity(cfg Config) (cluster.NodeIdentity, error) {
    role, err := cluster.ParseRole(cfg.Role)
    if err != nil { return cluster.NodeIdentity{}, err }
    name := strings.TrimSpace(cfg.NodeName)
    if name == "" { name, _ = os.Hostname() }
    id := cluster.NodeIdentity{
        Name:            name,
        Address:         strings.TrimSpace(cfg.Address),
        Role:            role,
        ReplicationUser: cfg.ReplicationUser,
        Database:        cfg.Database,
        DataDirectory:   cfg.DataDirectory,
        Port:            cfg.Port,
        ServiceAccount:  cfg.ServiceAccount,
        ConfigFile:      cfg.ConfigFile,
    }
    return id, id.Validate()
}

// TLS returns the client and server TLS settings for the fleet HTTP API.
func (cfg Config) TLS() tlsx.Options {
    return tlsx.Options{Enable: cfg.TLSEnable, CAFile: cfg.TLSCA, CertFile: cfg.TLSCert, KeyFile: cfg.TLSKey, InsecureSkipVerify: cfg.TLSSkipVerify, ServerName: cfg.TLSServerName}
}

func (cfg Config) runner() runner.Runner {
    if cfg.Runner != nil { return cfg.Runner }
    return runner.NewExec(runner.Options{Sudo: cfg.Sudo, Logger: cfg.Logger})
}

func (cfg Config) fs() afero.Fs {
    if cfg.Fs != nil { return cfg.Fs }
    return afero.NewOsFs()
}

// Inspector returns the cluster inspector for cfg.
func Inspector(cfg Config) *inspect.Inspector {
    return inspect.New(cfg.runner(), cfg.RepmgrBinary, logutil.Or(cfg.Logger))
}

// BuildDiscovery selects the discovery provider once. The returned close
// func releases backend connections.
func BuildDiscovery(cfg Config) (discovery.Provider, func() error, error) {
    log := logutil.Or(cfg.Logger)
    defaults := discovery.Defaults{Port: cfg.PrimaryPort, KeepSegments: cfg.KeepSegments, ReplicationUser: cfg.ReplicationUser}
    noop := func() error { return nil }

    switch cfg.DiscoveryKind {
    case "fleet":
        var (
            b       fleet.Backend
            closeFn = noop
        )
        switch cfg.FleetBackend {
        case "redis":
            r, err := fleet.NewRedis(fleet.RedisOptions{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB, Prefix: cfg.RedisPrefix})
            if err != nil { return nil, nil, err }
            b, closeFn = r, r.Close
        case "dns":
            d, err := fleet.NewDNS(fleet.DNSOptions{Domain: cfg.DNSDomain, Server: cfg.DNSServer, Timeout: cfg.FleetTimeout})
            if err != nil { return nil, nil, err }
            b = d
        case "gossip":
            g, err := fleet.NewGossip(fleet.GossipOptions{Seeds: seeds.FromCSV(cfg.GossipSeeds, seeds.Options{Timeout: cfg.FleetTimeout, Logger: log}), Bind: probeBind(cfg.GossipBind), Logger: log})
            if err != nil { return nil, nil, err }
            b = g
        case "http", "":
            tlsCfg, err := cfg.TLS().Client()
            if err != nil { return nil, nil, err }
            h, err := fleet.NewHTTP(fleet.HTTPOptions{BaseURL: cfg.FleetURL, Timeout: cfg.FleetTimeout, TLS: tlsCfg, Token: cfg.FleetToken})
            if err != nil { return nil, nil, err }
            b = h
        default:
            return nil, nil, fmt.Errorf("bootstrap: unknown fleet backend %q", cfg.FleetBackend)
        }
        return fleet.New(b, fleet.Options{Defaults: defaults, Logger: log}), closeFn, nil
    case "static", "":
        reg, err := dStatic.Load(cfg.fs(), cfg.RegistryFile)
        if err != nil { return nil, nil, err }
        return dStatic.New(reg, dStatic.Options{Defaults: defaults, Logger: log}), noop, nil
    }
    return nil, nil, fmt.Errorf("bootstrap: unknown discovery kind %q", cfg.DiscoveryKind)
}

// probeBind keeps the host of the agent's gossip bind but picks a free port,
// so a bootstrap run can probe next to a running agent.
func probeBind(bind string) string {
    host, _, err := net.SplitHostPort(bind)
    if err != nil { host = "0.0.0.0" }
    return net.JoinHostPort(host, "0")
}

// Build assembles the orchestrator from cfg without running it. Discovery is
// only built for standbys. The returned close func releases backend
// connections.
func Build(cfg Config) (*orchestrator.Orchestrator, func() error, error) {
    log := logutil.Or(cfg.Logger)
    id, err := Identity(cfg)
    if err != nil { return nil, nil, err }

    r := cfg.runner()
    fs := cfg.fs()
    svc := service.NewSystemctl(r, service.Options{Binary: cfg.ServiceBinary, Pkill: cfg.PkillBinary, Logger: log})
    insp := inspect.New(r, cfg.RepmgrBinary, log)

    o := &orchestrator.Orchestrator{
        Identity:  id,
        Inspector: insp,
        Query:     discovery.Query{Environment: cfg.Environment, EmptyOK: cfg.EmptyOK},
        Registrar: &register.Registrar{Inspector: insp, Runner: r, Binary: cfg.RepmgrBinary, Logger: log},
        Joiner: &join.Joiner{
            Runner: r, Services: svc, Fs: fs, Binary: cfg.RepmgrBinary, Logger: log, Events: cfg.Events,
            Options: join.Options{PostgresService: cfg.PostgresService, MonitorService: cfg.MonitorService, StartRetries: cfg.StartRetries},
        },
        Poller: &converge.Poller{
            Inspector: insp, Logger: log, Events: cfg.Events,
            Options: converge.Options{MaxAttempts: cfg.ConvergeAttempts, Delay: cfg.ConvergeDelay},
        },
        Provisioner: &recovery.Provisioner{Fs: fs, Services: svc, PostgresService: cfg.PostgresService, Logger: log, Events: cfg.Events},
        Fs:          fs,
        Logger:      log,
        Events:      cfg.Events,
    }
    closeFn := func() error { return nil }
    if id.Role == cluster.RoleStandby {
        d, c, err := BuildDiscovery(cfg)
        if err != nil { return nil, nil, err }
        o.Discovery, closeFn = d, c
    }
    return o, closeFn, nil
}

// Run builds and executes one bootstrap pass.
func Run(ctx context.Context, cfg Config) (orchestrator.Report, error) {
    o, closeFn, err := Build(cfg)
    if err != nil { return orchestrator.Report{}, err }
    defer func() { _ = closeFn() }()
    return o.Run(ctx)
}
