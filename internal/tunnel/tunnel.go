// Package tunnel relays websocket connections between the client and the
// upstream after the upgrade handshake.
package tunnel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"relay-proxy-go/internal/metrics"
	"relay-proxy-go/internal/model"
)

// controlWriteTimeout bounds close-frame delivery on an already-failing leg.
const controlWriteTimeout = 10 * time.Second

// IsUpgrade reports whether the inbound request asks for a websocket
// upgrade.
func IsUpgrade(r *http.Request) bool {
	return websocket.IsWebSocketUpgrade(r)
}

// Tunnel establishes outbound websocket connections and relays frames
// bidirectionally. Safe for concurrent use.
type Tunnel struct {
	logger   *slog.Logger
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader
}

// New creates a Tunnel. The metrics parameter is optional; pass nil to
// disable tunnel metrics recording.
func New(logger *slog.Logger, m *metrics.Metrics) *Tunnel {
	return &Tunnel{
		logger:  logger.With("component", "tunnel"),
		metrics: m,
		upgrader: websocket.Upgrader{
			// Origin policy is enforced by the hosting middleware.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Serve dials the upstream described by connect, upgrades the client
// connection, and relays frames until either side closes or the call is
// canceled. The upstream leg is dialed first so that connect failures can
// still produce an ordinary HTTP error response; a returned error therefore
// means nothing was written to the client yet.
func (t *Tunnel) Serve(rc *model.Request, connect *model.WSConnectOptions) error {
	ctx := rc.Context()

	dialer := websocket.Dialer{
		TLSClientConfig: connect.TLSConfig,
		Subprotocols:    connect.Subprotocols,
	}

	upstream, resp, err := dialer.DialContext(ctx, connect.URL, connect.Header)
	if err != nil {
		if t.metrics != nil {
			t.metrics.TunnelErrors.WithLabelValues("dial_failed").Inc()
		}
		if resp != nil {
			_ = resp.Body.Close()
		}
		return fmt.Errorf("dial upstream websocket: %w", err)
	}
	defer upstream.Close()

	client, err := t.upgrader.Upgrade(rc.Writer, rc.In, upgradeResponseHeader(resp))
	if err != nil {
		// Upgrade has already written its own HTTP error to the client.
		if t.metrics != nil {
			t.metrics.TunnelErrors.WithLabelValues("upgrade_failed").Inc()
		}
		t.logger.Debug("client upgrade failed", "err", err)
		return nil
	}
	defer client.Close()

	if t.metrics != nil {
		t.metrics.TunnelsTotal.Inc()
		t.metrics.TunnelsActive.Inc()
		defer t.metrics.TunnelsActive.Dec()

		start := time.Now()
		defer func() {
			t.metrics.TunnelDuration.Observe(time.Since(start).Seconds())
		}()
	}

	t.logger.Debug("tunnel established",
		"target", connect.URL,
		"remote", rc.In.RemoteAddr,
	)

	t.relay(ctx, client, upstream)
	return nil
}

// relay runs the two copy loops and tears both legs down as soon as either
// finishes or the call is canceled, so no half-open tunnel survives.
func (t *Tunnel) relay(ctx context.Context, client, upstream *websocket.Conn) {
	done := make(chan error, 2)

	go t.pipe(upstream, client, "inbound", done)
	go t.pipe(client, upstream, "outbound", done)

	select {
	case <-ctx.Done():
	case <-done:
	}

	_ = client.Close()
	_ = upstream.Close()
}

// pipe copies messages from src to dst until src fails or closes, then
// propagates the close code and reason to dst.
func (t *Tunnel) pipe(dst, src *websocket.Conn, direction string, done chan<- error) {
	for {
		msgType, msg, err := src.ReadMessage()
		if err != nil {
			deadline := time.Now().Add(controlWriteTimeout)
			_ = dst.WriteControl(websocket.CloseMessage, closeFrame(err), deadline)
			if t.metrics != nil && !isExpectedClose(err) {
				t.metrics.TunnelErrors.WithLabelValues("read_error").Inc()
			}
			done <- err
			return
		}

		if t.metrics != nil {
			t.metrics.TunnelMessages.WithLabelValues(direction).Inc()
		}

		if err := dst.WriteMessage(msgType, msg); err != nil {
			if t.metrics != nil {
				t.metrics.TunnelErrors.WithLabelValues("write_error").Inc()
			}
			done <- err
			return
		}
	}
}

// closeFrame carries the peer's close code and reason across the tunnel,
// falling back to a normal closure when none was delivered.
func closeFrame(err error) []byte {
	var ce *websocket.CloseError
	if errors.As(err, &ce) &&
		ce.Code != websocket.CloseNoStatusReceived &&
		ce.Code != websocket.CloseAbnormalClosure {
		return websocket.FormatCloseMessage(ce.Code, ce.Text)
	}
	return websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
}

// isExpectedClose reports whether err is an orderly close handshake.
func isExpectedClose(err error) bool {
	return websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	)
}

// upgradeResponseHeader carries the subprotocol the upstream selected back
// to the client during its upgrade.
func upgradeResponseHeader(resp *http.Response) http.Header {
	if resp == nil {
		return nil
	}
	h := http.Header{}
	if v := resp.Header.Get("Sec-Websocket-Protocol"); v != "" {
		h.Set("Sec-Websocket-Protocol", v)
	}
	return h
}
