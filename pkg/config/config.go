// Package config loads bootstrap.Config from a config file, REPMGR_*
// environment variables and command-line flags, in increasing precedence.
package config

import (
    "errors"
    "fmt"
    "strings"

    "github.com/spf13/afero"
    "github.com/spf13/pflag"
    "github.com/spf13/viper"

    "github.com/LiamK/repmgr/pkg/bootstrap"
)

// EnvPrefix is prepended to every environment key, e.g. REPMGR_NODE_NAME.
const EnvPrefix = "REPMGR"

// DefaultDir is searched for repmgrctl.{toml,yaml,json} when no file is given.
const DefaultDir = "/etc/repmgr"

// Options controls where configuration is read from.
type Options struct {
    // Path is an explicit config file. Unlike the default search, a missing
    // explicit file is an error.
    Path string
    // Flags are bound by name; only flags the user set override file and
    // environment values.
    Flags *pflag.FlagSet
    // Fs reads the config file (default OS filesystem).
    Fs afero.Fs
}

// Load resolves the configuration.
func Load(opts Options) (bootstrap.Config, error) {
    v := viper.New()
    if opts.Fs != nil { v.SetFs(opts.Fs) }
    setDefaults(v)

    v.SetEnvPrefix(EnvPrefix)
    v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
    v.AutomaticEnv()

    if opts.Path != "" {
        v.SetConfigFile(opts.Path)
    } else {
        v.SetConfigName("repmgrctl")
        v.AddConfigPath(DefaultDir)
        v.AddConfigPath(".")
    }
    if err := v.ReadInConfig(); err != nil {
        var notFound viper.ConfigFileNotFoundError
        if opts.Path != "" || !errors.As(err, &notFound) {
            return bootstrap.Config{}, fmt.Errorf("config: read %s: %w", describe(opts.Path), err)
        }
    }

    if opts.Flags != nil {
        // Only changed flags are bound so that flag defaults never mask
        // values from the file or the environment.
        var bindErr error
        opts.Flags.Visit(func(f *pflag.Flag) {
            if bindErr == nil && isKey(f.Name) { bindErr = v.BindPFlag(f.Name, f) }
        })
        if bindErr != nil { return bootstrap.Config{}, bindErr }
    }

    var cfg bootstrap.Config
    if err := v.Unmarshal(&cfg); err != nil { return bootstrap.Config{}, fmt.Errorf("config: decode: %w", err) }
    return cfg, nil
}

func describe(path string) string {
    if path == "" { return DefaultDir + "/repmgrctl.*" }
    return path
}

// Keys lists every configuration key in flag spelling.
func Keys() []string {
    out := make([]string, 0, len(defaults()))
    for _, kv := range defaults() { out = append(out, kv.key) }
    return out
}

func isKey(name string) bool {
    for _, kv := range defaults() {
        if kv.key == name { return true }
    }
    return false
}

type kv struct {
    key string
    val any
}

func defaults() []kv {
    d := bootstrap.Defaults()
    return []kv{
        {"node-name", d.NodeName},
        {"address", d.Address},
        {"role", d.Role},
        {"replication-user", d.ReplicationUser},
        {"database", d.Database},
        {"data-directory", d.DataDirectory},
        {"port", d.Port},
        {"service-account", d.ServiceAccount},
        {"repmgr-config", d.ConfigFile},
        {"repmgr-binary", d.RepmgrBinary},
        {"service-binary", d.ServiceBinary},
        {"pkill-binary", d.PkillBinary},
        {"sudo", d.Sudo},
        {"postgres-service", d.PostgresService},
        {"monitor-service", d.MonitorService},
        {"start-retries", d.StartRetries},
        {"converge-attempts", d.ConvergeAttempts},
        {"converge-delay", d.ConvergeDelay},
        {"discovery", d.DiscoveryKind},
        {"fleet-backend", d.FleetBackend},
        {"environment", d.Environment},
        {"empty-ok", d.EmptyOK},
        {"keep-segments", d.KeepSegments},
        {"primary-port", d.PrimaryPort},
        {"registry-file", d.RegistryFile},
        {"fleet-url", d.FleetURL},
        {"fleet-token", d.FleetToken},
        {"redis-addr", d.RedisAddr},
        {"redis-password", d.RedisPassword},
        {"redis-db", d.RedisDB},
        {"redis-prefix", d.RedisPrefix},
        {"dns-domain", d.DNSDomain},
        {"dns-server", d.DNSServer},
        {"gossip-seeds", d.GossipSeeds},
        {"gossip-bind", d.GossipBind},
        {"gossip-advertise", d.GossipAdv},
        {"fleet-timeout", d.FleetTimeout},
        {"agent-addr", d.AgentAddr},
        {"tls-enable", d.TLSEnable},
        {"tls-ca", d.TLSCA},
        {"tls-cert", d.TLSCert},
        {"tls-key", d.TLSKey},
        {"tls-server-name", d.TLSServerName},
        {"tls-skip-verify", d.TLSSkipVerify},
    }
}

// setDefaults registers every key so that AutomaticEnv can see it during
// Unmarshal.
func setDefaults(v *viper.Viper) {
    for _, kv := range defaults() { v.SetDefault(kv.key, kv.val) }
}
