package cli

import (
    "context"
    "encoding/json"
    "fmt"
    "io"
    "os"
    "os/signal"
    "strings"
    "syscall"

    "github.com/spf13/cobra"
    "github.com/spf13/pflag"

    "github.com/LiamK/repmgr/pkg/agent"
    "github.com/LiamK/repmgr/pkg/bootstrap"
    "github.com/LiamK/repmgr/pkg/cluster"
    "github.com/LiamK/repmgr/pkg/config"
    "github.com/LiamK/repmgr/pkg/discovery"
    "github.com/LiamK/repmgr/pkg/discovery/fleet"
    "github.com/LiamK/repmgr/pkg/discovery/seeds"
    "github.com/LiamK/repmgr/pkg/internal/logutil"
    obsmetrics "github.com/LiamK/repmgr/pkg/observability/metrics"
    tracing "github.com/LiamK/repmgr/pkg/observability/tracing"
    "github.com/LiamK/repmgr/pkg/resolve"
    "github.com/LiamK/repmgr/pkg/transport"
)

// AddAll attaches the repmgrctl subcommands (bootstrap/status/resolve/
// discover/agent) to the provided root command.
func AddAll(root *cobra.Command) {
    root.AddCommand(NewBootstrapCmd())
    root.AddCommand(NewStatusCmd())
    root.AddCommand(NewResolveCmd())
    root.AddCommand(NewDiscoverCmd())
    root.AddCommand(NewAgentCmd())
}

// common carries the flags that are not part of bootstrap.Config.
type common struct {
    configFile string
    logLevel   string
    logFormat  string
    trace      bool
    textfile   string
}

func (c *common) register(fs *pflag.FlagSet) {
    fs.StringVar(&c.configFile, "config", "", "config file (toml/yaml/json); default searches "+config.DefaultDir+"/repmgrctl.*")
    fs.StringVar(&c.logLevel, "log-level", "info", "log level: debug|info|warn|error")
    fs.StringVar(&c.logFormat, "log-format", "", "log format: text|json (env REPMGR_LOG_FORMAT)")
    fs.BoolVar(&c.trace, "trace", false, "enable OpenTelemetry stdout tracing (dev)")
    fs.StringVar(&c.textfile, "metrics-textfile", "", "write Prometheus metrics to this file on exit (node_exporter textfile collector)")
}

// setup loads the configuration and wires logging and tracing. The returned
// func flushes traces and metrics.
func (c *common) setup(cmd *cobra.Command) (bootstrap.Config, func(), error) {
    if c.logFormat != "" { logutil.SetJSON(strings.EqualFold(c.logFormat, "json")) }
    logger := logutil.New(cmd.ErrOrStderr(), c.logLevel)

    cfg, err := config.Load(config.Options{Path: c.configFile, Flags: cmd.Flags()})
    if err != nil { return cfg, nil, err }
    cfg.Logger = logger

    obsmetrics.Register()
    shutdown, err := tracing.Setup(c.trace, cmd.ErrOrStderr())
    if err != nil {
        logger.WithError(err).Warn("tracing setup failed")
        shutdown = func(context.Context) error { return nil }
    }
    done := func() {
        _ = shutdown(context.Background())
        if err := obsmetrics.WriteTextfile(c.textfile); err != nil {
            logger.WithError(err).Warn("metrics textfile")
        }
    }
    return cfg, done, nil
}

// addConfigFlags registers one flag per configuration key. Defaults shown in
// help are the built-in ones; config file and environment values apply
// unless the flag is given explicitly.
func addConfigFlags(fs *pflag.FlagSet) {
    d := bootstrap.Defaults()
    fs.String("node-name", d.NodeName, "node name, used as application_name (default: hostname)")
    fs.String("address", d.Address, "address this node is listed under in repmgr cluster show (required)")
    fs.String("role", d.Role, "configured role: primary|standby|witness")
    fs.String("replication-user", d.ReplicationUser, "replication user")
    fs.String("database", d.Database, "repmgr database")
    fs.String("data-directory", d.DataDirectory, "PostgreSQL data directory")
    fs.Int("port", d.Port, "local PostgreSQL port")
    fs.String("service-account", d.ServiceAccount, "OS account repmgr runs as")
    fs.String("repmgr-config", d.ConfigFile, "shared repmgr.conf")
    fs.String("repmgr-binary", d.RepmgrBinary, "repmgr executable")
    fs.String("service-binary", d.ServiceBinary, "service manager executable")
    fs.String("pkill-binary", d.PkillBinary, "pkill executable")
    fs.String("sudo", d.Sudo, "sudo executable used to switch to the service account")
    fs.String("postgres-service", d.PostgresService, "PostgreSQL service name")
    fs.String("monitor-service", d.MonitorService, "repmgrd service name")
    fs.Int("start-retries", d.StartRetries, "extra PostgreSQL start attempts after a clone (negative disables)")
    fs.Int("converge-attempts", d.ConvergeAttempts, "convergence polls before a join is rolled back")
    fs.Duration("converge-delay", d.ConvergeDelay, "delay between convergence polls")
    fs.String("discovery", d.DiscoveryKind, "primary discovery: static|fleet")
    fs.String("fleet-backend", d.FleetBackend, "fleet backend: http|redis|dns|gossip")
    fs.String("environment", d.Environment, "fleet environment filter")
    fs.Bool("empty-ok", d.EmptyOK, "leave a standby untouched when the fleet has no primary yet")
    fs.Int("keep-segments", d.KeepSegments, "WAL segments to keep when cloning (default when no hint)")
    fs.Int("primary-port", d.PrimaryPort, "primary port (default when no hint)")
    fs.String("registry-file", d.RegistryFile, "static registry (TOML)")
    fs.String("fleet-url", d.FleetURL, "agent base URL for the http backend")
    fs.String("fleet-token", d.FleetToken, "bearer token for the agent API")
    fs.String("redis-addr", d.RedisAddr, "redis address for the redis backend (and agent announcements)")
    fs.String("redis-password", d.RedisPassword, "redis password")
    fs.Int("redis-db", d.RedisDB, "redis database")
    fs.String("redis-prefix", d.RedisPrefix, "redis key prefix")
    fs.String("dns-domain", d.DNSDomain, "SRV domain for the dns backend")
    fs.String("dns-server", d.DNSServer, "DNS server host:port (default: resolv.conf)")
    fs.String("gossip-seeds", d.GossipSeeds, "comma-separated gossip seeds: host:port, SRV name, hostname or @file")
    fs.String("gossip-bind", d.GossipBind, "gossip bind address (host:port)")
    fs.String("gossip-advertise", d.GossipAdv, "gossip advertise address (host:port, optional)")
    fs.Duration("fleet-timeout", d.FleetTimeout, "fleet backend request timeout")
    fs.String("agent-addr", d.AgentAddr, "agent discovery API bind address")
    fs.Bool("tls-enable", d.TLSEnable, "enable TLS for the agent API")
    fs.String("tls-ca", d.TLSCA, "path to CA cert (PEM)")
    fs.String("tls-cert", d.TLSCert, "path to certificate (PEM)")
    fs.String("tls-key", d.TLSKey, "path to private key (PEM)")
    fs.String("tls-server-name", d.TLSServerName, "expected server name (for TLS validation)")
    fs.Bool("tls-skip-verify", d.TLSSkipVerify, "skip server cert verification (DEV ONLY)")
}

func newConfigCmd(use, short string, run func(cmd *cobra.Command, cfg bootstrap.Config) error) *cobra.Command {
    var c common
    cmd := &cobra.Command{
        Use:   use,
        Short: short,
        Args:  cobra.NoArgs,
        RunE: func(cmd *cobra.Command, args []string) error {
            cfg, done, err := c.setup(cmd)
            if err != nil { return err }
            defer done()
            return run(cmd, cfg)
        },
    }
    c.register(cmd.Flags())
    addConfigFlags(cmd.Flags())
    return cmd
}

// NewBootstrapCmd returns the "bootstrap" command: one full pass of the
// bootstrap state machine.
func NewBootstrapCmd() *cobra.Command {
    return newConfigCmd("bootstrap", "Register, join or refresh this node in the repmgr cluster", func(cmd *cobra.Command, cfg bootstrap.Config) error {
        ctx, cancel := signalContext()
        defer cancel()
        rep, err := bootstrap.Run(ctx, cfg)
        if err != nil { return err }
        return writeJSON(cmd.OutOrStdout(), rep)
    })
}

// NewStatusCmd returns the "status" command.
func NewStatusCmd() *cobra.Command {
    return newConfigCmd("status", "Print the parsed `repmgr cluster show` view as JSON", func(cmd *cobra.Command, cfg bootstrap.Config) error {
        id, err := bootstrap.Identity(cfg)
        if err != nil { return err }
        st, err := bootstrap.Inspector(cfg).Inspect(cmd.Context(), id)
        if err != nil { return err }
        return writeJSON(cmd.OutOrStdout(), st)
    })
}

type resolveOutput struct {
    Decision          string              `json:"decision"`
    Primary           *cluster.StatusLine `json:"primary,omitempty"`
    MultiplePrimaries bool                `json:"multiple_primaries,omitempty"`
    Status            cluster.Status      `json:"status"`
}

// NewResolveCmd returns the "resolve" command. It never changes anything.
func NewResolveCmd() *cobra.Command {
    return newConfigCmd("resolve", "Show what bootstrap would do for this node", func(cmd *cobra.Command, cfg bootstrap.Config) error {
        id, err := bootstrap.Identity(cfg)
        if err != nil { return err }
        st, err := bootstrap.Inspector(cfg).Inspect(cmd.Context(), id)
        if err != nil { return err }
        res := resolve.Resolve(id, st)
        return writeJSON(cmd.OutOrStdout(), resolveOutput{Decision: res.Decision.String(), Primary: res.Primary, MultiplePrimaries: res.MultiplePrimaries, Status: st})
    })
}

// NewDiscoverCmd returns the "discover" command.
func NewDiscoverCmd() *cobra.Command {
    var role string
    cmd := newConfigCmd("discover", "Run the configured discovery and print the result as JSON", func(cmd *cobra.Command, cfg bootstrap.Config) error {
        r, err := cluster.ParseRole(role)
        if err != nil { return err }
        p, closeFn, err := bootstrap.BuildDiscovery(cfg)
        if err != nil { return err }
        defer func() { _ = closeFn() }()
        res, err := p.Discover(cmd.Context(), discovery.Query{Role: r, Environment: cfg.Environment, EmptyOK: cfg.EmptyOK})
        if err != nil { return err }
        return writeJSON(cmd.OutOrStdout(), res)
    })
    cmd.Flags().StringVar(&role, "lookup-role", string(cluster.RolePrimary), "role to look up")
    return cmd
}

// NewAgentCmd returns the "agent" command used to run the fleet discovery
// daemon next to PostgreSQL.
func NewAgentCmd() *cobra.Command {
    return newConfigCmd("agent", "Run the fleet discovery agent", func(cmd *cobra.Command, cfg bootstrap.Config) error {
        ctx, cancel := signalContext()
        defer cancel()
        a, closeFn, err := buildAgent(cfg)
        if err != nil { return err }
        defer func() { _ = closeFn() }()
        return a.Run(ctx)
    })
}

func buildAgent(cfg bootstrap.Config) (*agent.Agent, func() error, error) {
    id, err := bootstrap.Identity(cfg)
    if err != nil { return nil, nil, err }
    rec := transport.NodeRecord{
        Name:            id.Name,
        Address:         id.Address,
        Port:            id.Port,
        Role:            string(id.Role),
        Environment:     cfg.Environment,
        ReplicationUser: id.ReplicationUser,
        KeepSegments:    cfg.KeepSegments,
    }
    tlsCfg, err := cfg.TLS().Server()
    if err != nil { return nil, nil, fmt.Errorf("tls server config: %w", err) }
    opts := agent.Options{
        Record:    rec,
        Bind:      cfg.GossipBind,
        Advertise: cfg.GossipAdv,
        Seeds:     seeds.FromCSV(cfg.GossipSeeds, seeds.Options{Timeout: cfg.FleetTimeout, Logger: cfg.Logger}),
        HTTPAddr:  cfg.AgentAddr,
        TLS:       tlsCfg,
        Token:     cfg.FleetToken,
        Logger:    cfg.Logger,
    }
    closeFn := func() error { return nil }
    if cfg.RedisAddr != "" {
        r, err := fleet.NewRedis(fleet.RedisOptions{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB, Prefix: cfg.RedisPrefix})
        if err != nil { return nil, nil, err }
        opts.Announcer, closeFn = r, r.Close
    }
    a, err := agent.New(opts)
    if err != nil {
        _ = closeFn()
        return nil, nil, err
    }
    return a, closeFn, nil
}

func writeJSON(w io.Writer, v any) error {
    enc := json.NewEncoder(w)
    enc.SetIndent("", "  ")
    return enc.Encode(v)
}

func signalContext() (context.Context, context.CancelFunc) {
    return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

