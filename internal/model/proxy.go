// Package model defines shared types for the proxy.
package model

import (
	"context"
	"crypto/tls"
	"io"
	"net/http"
	"net/url"
)

// Request carries the per-call state for one proxied request. It is created
// by the hosting handler for each inbound call and discarded when the call
// completes; it is never shared across calls.
type Request struct {
	// In is the inbound request as received from the client. Its context
	// carries the call's cancellation signal.
	In *http.Request

	// Writer is the response surface for the call. Hooks that fully handle
	// a call (interceptors, failure handlers) write their response here.
	Writer http.ResponseWriter

	// Upstream is the resolved upstream base URL the call forwards to.
	Upstream *url.URL

	// Intercepted is set when a hook produced the response itself and the
	// engine must not write anything further.
	Intercepted bool
}

// Context returns the inbound call's context.
func (r *Request) Context() context.Context {
	return r.In.Context()
}

// OutboundRequest describes the request to be sent upstream. It is owned
// exclusively by the in-flight call; before-send hooks may edit it in place.
type OutboundRequest struct {
	Method string
	URL    *url.URL
	Header http.Header
	Body   io.ReadCloser

	// ContentLength carries the inbound body length so bodies with a known
	// size are not re-framed as chunked upstream; -1 means unknown. A hook
	// that replaces Body must update it accordingly.
	ContentLength int64
}

// Response represents the upstream response to be streamed back to the
// client. After-receive hooks may replace the status, headers, or body
// before it is written.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// WSConnectOptions holds the parameters for an outbound websocket
// connection. The before-websocket-connect hook may edit them in place
// before the upstream leg is dialed.
type WSConnectOptions struct {
	// URL is the ws:// or wss:// upstream target.
	URL string

	// Header is sent with the handshake request. Handshake headers managed
	// by the dialer (Sec-WebSocket-*, Upgrade, Connection) must not be set
	// here.
	Header http.Header

	// Subprotocols offered to the upstream, seeded from the client's
	// Sec-WebSocket-Protocol header.
	Subprotocols []string

	// TLSConfig is used for wss targets; nil means library defaults.
	TLSConfig *tls.Config
}
