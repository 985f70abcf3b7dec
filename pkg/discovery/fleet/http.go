package fleet

import (
    "context"
    "crypto/tls"
    "fmt"
    "strings"
    "time"

    "github.com/go-resty/resty/v2"

    "github.com/LiamK/repmgr/pkg/transport"
)

// NodesPath is the agent endpoint listing fleet members.
const NodesPath = transport.NodesPath

// HTTPOptions configures the HTTP backend.
type HTTPOptions struct {
    // BaseURL of the discovery API, e.g. https://fleet.internal:7080.
    BaseURL string
    Timeout time.Duration
    TLS     *tls.Config
    // Token is sent as a bearer token when set.
    Token string
}

// HTTP queries a JSON discovery API such as the one served by the agent.
type HTTP struct {
    client *resty.Client
}

// NewHTTP returns an HTTP backend.
func NewHTTP(opts HTTPOptions) (*HTTP, error) {
    if strings.TrimSpace(opts.BaseURL) == "" { return nil, fmt.Errorf("fleet: empty http base url") }
    if opts.Timeout <= 0 { opts.Timeout = 10 * time.Second }
    c := resty.New().
        SetBaseURL(strings.TrimRight(opts.BaseURL, "/")).
        SetTimeout(opts.Timeout).
        SetHeader("Accept", "application/json")
    if opts.TLS != nil { c.SetTLSClientConfig(opts.TLS) }
    if opts.Token != "" { c.SetAuthToken(opts.Token) }
    return &HTTP{client: c}, nil
}

func (h *HTTP) Name() string { return "http" }

func (h *HTTP) Lookup(ctx context.Context, role, environment string) ([]transport.NodeRecord, error) {
    var out transport.NodesResponse
    req := h.client.R().SetContext(ctx).SetQueryParam("role", role).SetResult(&out)
    if environment != "" { req.SetQueryParam("environment", environment) }
    resp, err := req.Get(NodesPath)
    if err != nil { return nil, err }
    if resp.IsError() {
        return nil, fmt.Errorf("GET %s: %s: %s", NodesPath, resp.Status(), strings.TrimSpace(resp.String()))
    }
    return out.Nodes, nil
}

var _ Backend = (*HTTP)(nil)
