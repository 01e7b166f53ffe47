// Package client provides pooled HTTP clients for upstream calls.
package client

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"relay-proxy-go/internal/config"
	"relay-proxy-go/internal/metrics"
	"relay-proxy-go/internal/model"
)

// Upstream is one pooled HTTP client for outbound calls. Safe for
// concurrent use by any number of in-flight requests.
type Upstream struct {
	name       string
	httpClient *http.Client
	tlsConfig  *tls.Config
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// Pool holds the default upstream client and any named clients declared in
// the config. It is built once at startup and read-only afterwards.
type Pool struct {
	def   *Upstream
	named map[string]*Upstream
}

// NewPool creates the upstream client pool from config. The metrics
// parameter is optional; pass nil to disable upstream metrics recording.
func NewPool(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *Pool {
	named := make(map[string]*Upstream, len(cfg.Transports))
	for name, tc := range cfg.Transports {
		named[name] = newUpstream(name, tc, logger, m)
	}

	def := named[cfg.Upstream.Client]
	if def == nil {
		def = newUpstream("default", cfg.Upstream.TransportConfig, logger, m)
	}

	return &Pool{def: def, named: named}
}

func newUpstream(name string, tc config.TransportConfig, logger *slog.Logger, m *metrics.Metrics) *Upstream {
	var tlsConfig *tls.Config
	if tc.InsecureSkipVerify {
		tlsConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // explicit config opt-in for internal upstreams
	}

	transport := &http.Transport{
		MaxIdleConns:        tc.IdleConnections,
		MaxIdleConnsPerHost: tc.IdleConnections,
		IdleConnTimeout:     90 * time.Second,
		TLSClientConfig:     tlsConfig,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	return &Upstream{
		name: name,
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   time.Duration(tc.TimeoutSeconds) * time.Second,
		},
		tlsConfig: tlsConfig,
		logger:    logger.With("component", "upstream_client", "client", name),
		metrics:   m,
	}
}

// Get returns the named upstream client, or the default client when the
// name is empty or unknown.
func (p *Pool) Get(name string) *Upstream {
	if name == "" {
		return p.def
	}
	if u, ok := p.named[name]; ok {
		return u
	}
	return p.def
}

// Default returns the default upstream client.
func (p *Pool) Default() *Upstream {
	return p.def
}

// Name returns the pool name this client was registered under.
func (u *Upstream) Name() string {
	return u.name
}

// TLSClientConfig returns the TLS configuration for this client's
// transport, or nil when library defaults apply. Callers must not mutate it.
func (u *Upstream) TLSClientConfig() *tls.Config {
	return u.tlsConfig
}

// Do executes an HTTP request against the upstream and returns the raw response.
// The caller is responsible for closing the response body.
func (u *Upstream) Do(req *http.Request) (*model.Response, error) {
	u.logger.Debug("upstream request",
		"method", req.Method,
		"path", req.URL.Path,
	)

	start := time.Now()
	resp, err := u.httpClient.Do(req) //nolint:bodyclose // body ownership transfers to caller via model.Response
	duration := time.Since(start).Seconds()

	method := metrics.NormalizeMethod(req.Method)

	if err != nil {
		if u.metrics != nil {
			u.metrics.UpstreamDuration.WithLabelValues(method, u.name).Observe(duration)
		}
		return nil, fmt.Errorf("upstream request: %w", err)
	}

	if u.metrics != nil {
		status := strconv.Itoa(resp.StatusCode)
		u.metrics.UpstreamDuration.WithLabelValues(method, u.name).Observe(duration)
		u.metrics.UpstreamResponses.WithLabelValues(method, status, u.name).Inc()
	}

	return &model.Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       resp.Body,
	}, nil
}

// DoStream dispatches an outbound request descriptor and returns the
// response body as a stream. The caller is responsible for closing the
// returned body. The request context controls the lifetime of the upstream
// call: when it is canceled (e.g. client disconnect), the upstream request
// is also canceled.
func (u *Upstream) DoStream(ctx context.Context, out *model.OutboundRequest) (*model.Response, error) {
	req, err := http.NewRequestWithContext(ctx, out.Method, out.URL.String(), out.Body)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header = out.Header
	req.ContentLength = out.ContentLength

	// Already-encoded path segments must go out exactly as received; the
	// descriptor URL preserves them via RawPath.
	req.URL = out.URL

	return u.Do(req)
}
