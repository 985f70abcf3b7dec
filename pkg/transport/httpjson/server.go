// Package httpjson serves the fleet discovery API that the http fleet
// backend queries, along with health and Prometheus endpoints.
package httpjson

import (
    "context"
    "crypto/tls"
    "encoding/json"
    "errors"
    "fmt"
    "net"
    "net/http"
    "strings"
    "sync"
    "time"

    "github.com/prometheus/client_golang/prometheus/promhttp"
    "github.com/sirupsen/logrus"

    "github.com/LiamK/repmgr/pkg/internal/logutil"
    "github.com/LiamK/repmgr/pkg/membership"
    "github.com/LiamK/repmgr/pkg/observability/tracing"
    "github.com/LiamK/repmgr/pkg/transport"
)

// Server exposes GET /v1/nodes, /healthz and /metrics.
type Server struct {
    bind   string
    logger logrus.FieldLogger
    tlsCfg *tls.Config
    token  string
    health membership.HealthReporter

    mu  sync.Mutex
    srv *http.Server
    ln  net.Listener
}

// NewServer binds to the given TCP address (e.g., ":7080").
func NewServer(bind string, logger logrus.FieldLogger) *Server {
    return &Server{bind: bind, logger: logutil.Or(logger)}
}

// UseTLS enables TLS for the HTTP server using the provided config.
func (s *Server) UseTLS(cfg *tls.Config) *Server { s.tlsCfg = cfg; return s }

// RequireToken rejects /v1/nodes requests without the bearer token.
func (s *Server) RequireToken(token string) *Server { s.token = token; return s }

// UseHealth reports h's score on /healthz. Without it /healthz always
// answers ok.
func (s *Server) UseHealth(h membership.HealthReporter) *Server { s.health = h; return s }

// Handler returns the routes without binding a listener.
func (s *Server) Handler(nodes transport.NodesFunc) http.Handler {
    mux := http.NewServeMux()
    mux.HandleFunc(transport.NodesPath, func(w http.ResponseWriter, r *http.Request) {
        if r.Method != http.MethodGet { http.Error(w, "method not allowed", http.StatusMethodNotAllowed); return }
        if s.token != "" && r.Header.Get("Authorization") != "Bearer "+s.token {
            http.Error(w, "unauthorized", http.StatusUnauthorized)
            return
        }
        ctx, end := tracing.StartSpan(r.Context(), "http.nodes")
        q := r.URL.Query()
        recs, err := nodes(ctx, strings.TrimSpace(q.Get("role")), strings.TrimSpace(q.Get("environment")))
        end(err)
        if err != nil { http.Error(w, fmt.Sprintf("nodes error: %v", err), http.StatusInternalServerError); return }
        if recs == nil { recs = []transport.NodeRecord{} }
        w.Header().Set("Content-Type", "application/json")
        _ = json.NewEncoder(w).Encode(transport.NodesResponse{Nodes: recs})
    })
    mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
        if r.Method != http.MethodGet { http.Error(w, "method not allowed", http.StatusMethodNotAllowed); return }
        if s.health != nil {
            if score := s.health.HealthScore(); score < 0 {
                http.Error(w, "membership not started", http.StatusServiceUnavailable)
                return
            } else if score > 0 {
                _, _ = fmt.Fprintf(w, "degraded %d", score)
                return
            }
        }
        _, _ = w.Write([]byte("ok"))
    })
    mux.Handle("/metrics", promhttp.Handler())
    return mux
}

// Start launches the HTTP server. The server is shut down when the context
// is canceled.
func (s *Server) Start(ctx context.Context, nodes transport.NodesFunc) error {
    if nodes == nil { return errors.New("httpjson: nil nodes func") }
    ln, err := net.Listen("tcp", s.bind)
    if err != nil { return err }
    if s.tlsCfg != nil { ln = tls.NewListener(ln, s.tlsCfg) }
    srv := &http.Server{Handler: s.Handler(nodes), ReadHeaderTimeout: 5 * time.Second}

    s.mu.Lock()
    s.srv, s.ln = srv, ln
    s.mu.Unlock()

    go func() {
        <-ctx.Done()
        _ = s.Stop(context.Background())
    }()
    go func() {
        if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
            s.logger.WithError(err).Error("httpjson: server error")
        }
    }()
    s.logger.WithField("addr", ln.Addr().String()).Info("discovery api listening")
    return nil
}

// Addr returns the bound address once started, otherwise the configured one.
func (s *Server) Addr() string {
    s.mu.Lock()
    defer s.mu.Unlock()
    if s.ln != nil { return s.ln.Addr().String() }
    return s.bind
}

// Stop attempts a graceful shutdown with a short timeout.
func (s *Server) Stop(ctx context.Context) error {
    s.mu.Lock()
    srv := s.srv
    s.srv = nil
    s.mu.Unlock()
    if srv == nil { return nil }
    c, cancel := context.WithTimeout(ctx, 2*time.Second)
    defer cancel()
    return srv.Shutdown(c)
}
