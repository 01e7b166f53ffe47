// Package service implements the core proxy forwarding logic.
package service

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"relay-proxy-go/internal/client"
	"relay-proxy-go/internal/config"
	"relay-proxy-go/internal/model"
	"relay-proxy-go/internal/tunnel"
)

// Forwarder orchestrates one proxied call: interception, outbound request
// construction, hook invocation, upstream dispatch, and response streaming.
// A Forwarder is built once per route and is safe for concurrent use; the
// only state shared between calls is the read-only options snapshot and the
// pooled upstream clients.
type Forwarder struct {
	pool   *client.Pool
	tunnel *tunnel.Tunnel
	logger *slog.Logger
	base   *url.URL
	opts   model.Options
}

// NewForwarder creates a Forwarder targeting the configured upstream.
func NewForwarder(pool *client.Pool, tun *tunnel.Tunnel, cfg *config.Config, logger *slog.Logger, opts model.Options) (*Forwarder, error) {
	u, err := url.Parse(cfg.Upstream.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse upstream base_url: %w", err)
	}

	return &Forwarder{
		pool:   pool,
		tunnel: tun,
		logger: logger.With("component", "forwarder"),
		base:   u,
		opts:   opts,
	}, nil
}

// Options returns the read-only options snapshot this Forwarder serves.
func (f *Forwarder) Options() model.Options {
	return f.opts
}

// Forward runs one proxied call to completion. On success the response has
// been streamed to the client and nil is returned. A non-nil return means
// nothing was written and the caller owns the error response; when a
// failure handler is installed it has already run (exactly once) and nil is
// returned instead. Hooks fire in fixed order (intercept, before-send,
// dispatch, after-receive), each at most once per call.
func (f *Forwarder) Forward(rc *model.Request) error {
	ctx := rc.Context()
	if rc.Upstream == nil {
		// Per-call copy: hooks may rewrite the target without corrupting
		// the shared base for later calls.
		u := *f.base
		rc.Upstream = &u
	}

	if fn := f.opts.Intercept(); fn != nil {
		handled, err := fn(ctx, rc)
		if err != nil {
			return f.fail(ctx, rc, &ForwardError{Op: "intercept", Cause: err})
		}
		if handled {
			rc.Intercepted = true
			return nil
		}
	}

	if tunnel.IsUpgrade(rc.In) {
		return f.forwardWebSocket(ctx, rc)
	}

	out, err := Translate(rc)
	if err != nil {
		return f.fail(ctx, rc, err)
	}

	if f.opts.ForwardedHeaders() {
		InjectForwardedHeaders(rc.In, out.Header)
	}

	if fn := f.opts.BeforeSend(); fn != nil {
		if err := fn(ctx, rc, out); err != nil {
			return f.fail(ctx, rc, &ForwardError{Op: "before_send", Cause: err})
		}
	}

	f.logger.Debug("forwarding request",
		"method", out.Method,
		"url", out.URL.String(),
	)

	resp, err := f.pool.Get(f.opts.UpstreamClient()).DoStream(ctx, out)
	if err != nil {
		return f.fail(ctx, rc, classifyDispatch(ctx, out.URL.Host, err))
	}
	defer func() { _ = resp.Body.Close() }()

	if fn := f.opts.AfterReceive(); fn != nil {
		if err := fn(ctx, rc, resp); err != nil {
			return f.fail(ctx, rc, &ForwardError{Op: "after_receive", Cause: err})
		}
	}

	f.writeResponse(rc, resp)
	return nil
}

// forwardWebSocket derives the outbound websocket target using the same
// URI-resolution rule as HTTP forwarding and hands the call to the tunnel.
func (f *Forwarder) forwardWebSocket(ctx context.Context, rc *model.Request) error {
	out, err := Translate(rc)
	if err != nil {
		return f.fail(ctx, rc, err)
	}

	if f.opts.ForwardedHeaders() {
		InjectForwardedHeaders(rc.In, out.Header)
	}

	up := f.pool.Get(f.opts.UpstreamClient())

	connect := &model.WSConnectOptions{
		URL:          websocketURL(out.URL),
		Header:       stripWebSocketHeaders(out.Header),
		Subprotocols: subprotocols(rc.In.Header),
		TLSConfig:    cloneTLS(up.TLSClientConfig()),
	}

	if fn := f.opts.BeforeWebSocketConnect(); fn != nil {
		if err := fn(ctx, rc, connect); err != nil {
			return f.fail(ctx, rc, &ForwardError{Op: "before_websocket_connect", Cause: err})
		}
	}

	if err := f.tunnel.Serve(rc, connect); err != nil {
		return f.fail(ctx, rc, &ForwardError{Op: "tunnel", Target: connect.URL, Kind: ErrTunnel, Cause: err})
	}
	return nil
}

// fail routes a forwarding failure to its terminal: cancellation tears the
// call down without invoking the failure hook; an installed failure handler
// fires exactly once and owns the response; otherwise the error propagates
// for the caller's generic 502 handling. A done inbound context counts as
// cancellation regardless of how the failing step classified the error, so
// websocket dials and hook errors on behalf of a gone client never reach
// the failure handler.
func (f *Forwarder) fail(ctx context.Context, rc *model.Request, err error) error {
	if errors.Is(err, ErrCancelled) || ctx.Err() != nil {
		f.logger.Debug("call canceled",
			"path", rc.In.URL.Path,
			"err", err,
		)
		return err
	}

	if fn := f.opts.FailureHandler(); fn != nil {
		fn(ctx, rc, err)
		rc.Intercepted = true
		return nil
	}

	return err
}

// writeResponse streams the (possibly hook-edited) upstream response back
// to the client.
func (f *Forwarder) writeResponse(rc *model.Request, resp *model.Response) {
	header := rc.Writer.Header()
	for k, vv := range resp.Header {
		if isHopHeader(k) {
			continue
		}
		for _, v := range vv {
			header.Add(k, v)
		}
	}

	rc.Writer.WriteHeader(resp.StatusCode)

	// If the copy fails mid-stream (client disconnect, network error), the
	// status has already been sent and the client receives a truncated
	// response. Inherent to streaming proxies; log it and move on.
	if _, err := io.Copy(rc.Writer, resp.Body); err != nil {
		f.logger.Error("streaming response body",
			"err", err,
			"path", rc.In.URL.Path,
		)
	}
}

// isHopHeader reports whether name is connection-scoped. Name must be in
// canonical form.
func isHopHeader(name string) bool {
	for _, h := range hopHeaders {
		if h == name {
			return true
		}
	}
	return false
}

// websocketURL converts the resolved upstream target to its ws/wss form.
func websocketURL(u *url.URL) string {
	ws := *u
	if u.Scheme == "https" {
		ws.Scheme = "wss"
	} else {
		ws.Scheme = "ws"
	}
	return ws.String()
}

// stripWebSocketHeaders removes the handshake headers the websocket dialer
// manages itself.
func stripWebSocketHeaders(header http.Header) http.Header {
	out := make(http.Header, len(header))
	for k, vv := range header {
		if strings.HasPrefix(k, "Sec-Websocket-") {
			continue
		}
		out[k] = vv
	}
	return out
}

// subprotocols parses the client's offered websocket subprotocols.
func subprotocols(header http.Header) []string {
	raw := header.Get("Sec-Websocket-Protocol")
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	protocols := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			protocols = append(protocols, p)
		}
	}
	return protocols
}

func cloneTLS(cfg *tls.Config) *tls.Config {
	if cfg == nil {
		return nil
	}
	return cfg.Clone()
}
