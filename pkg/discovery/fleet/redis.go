package fleet

import (
    "context"
    "encoding/json"
    "fmt"
    "strings"

    "github.com/redis/go-redis/v9"

    "github.com/LiamK/repmgr/pkg/transport"
)

// DefaultRedisPrefix namespaces the registry hashes.
const DefaultRedisPrefix = "repmgr:nodes"

// RedisOptions configures the redis backend.
type RedisOptions struct {
    Addr     string
    Password string
    DB       int
    // Prefix of the hash keys (default DefaultRedisPrefix).
    Prefix string
}

// Redis reads a registry kept in redis hashes. Each hash
// <prefix>:<environment>:<role> (or <prefix>:<role> without an environment)
// maps node names to JSON-encoded transport.NodeRecord values.
type Redis struct {
    client *redis.Client
    prefix string
}

// NewRedis returns a redis backend. The connection is established lazily.
func NewRedis(opts RedisOptions) (*Redis, error) {
    if strings.TrimSpace(opts.Addr) == "" { return nil, fmt.Errorf("fleet: empty redis address") }
    if opts.Prefix == "" { opts.Prefix = DefaultRedisPrefix }
    c := redis.NewClient(&redis.Options{Addr: opts.Addr, Password: opts.Password, DB: opts.DB})
    return &Redis{client: c, prefix: opts.Prefix}, nil
}

// Key returns the hash holding role members in environment.
func (r *Redis) Key(role, environment string) string {
    if environment == "" { return r.prefix + ":" + role }
    return r.prefix + ":" + environment + ":" + role
}

func (r *Redis) Name() string { return "redis" }

func (r *Redis) Lookup(ctx context.Context, role, environment string) ([]transport.NodeRecord, error) {
    key := r.Key(role, environment)
    vals, err := r.client.HGetAll(ctx, key).Result()
    if err != nil { return nil, fmt.Errorf("HGETALL %s: %w", key, err) }
    out := make([]transport.NodeRecord, 0, len(vals))
    for name, raw := range vals {
        var rec transport.NodeRecord
        if err := json.Unmarshal([]byte(raw), &rec); err != nil {
            return nil, fmt.Errorf("HGETALL %s: field %s: %w", key, name, err)
        }
        if rec.Name == "" { rec.Name = name }
        out = append(out, rec)
    }
    return out, nil
}

// Announce stores rec under its role and environment. The agent uses it to
// keep the registry current.
func (r *Redis) Announce(ctx context.Context, rec transport.NodeRecord) error {
    data, err := json.Marshal(rec)
    if err != nil { return err }
    key := r.Key(rec.Role, rec.Environment)
    if err := r.client.HSet(ctx, key, rec.Name, string(data)).Err(); err != nil {
        return fmt.Errorf("HSET %s: %w", key, err)
    }
    return nil
}

// Close releases the connection pool.
func (r *Redis) Close() error { return r.client.Close() }

var _ Backend = (*Redis)(nil)
