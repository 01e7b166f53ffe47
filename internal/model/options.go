package model

import "context"

// Hook signatures. A nil hook means "not installed"; invocation sites check
// presence and skip the step rather than assuming a no-op default.
type (
	// InterceptFunc decides whether a call is handled without forwarding.
	// Returning true short-circuits the proxy; the interceptor is then
	// solely responsible for producing the response.
	InterceptFunc func(ctx context.Context, req *Request) (bool, error)

	// BeforeSendFunc edits the outbound request before dispatch.
	BeforeSendFunc func(ctx context.Context, req *Request, out *OutboundRequest) error

	// AfterReceiveFunc edits the upstream response before it is streamed
	// back to the client.
	AfterReceiveFunc func(ctx context.Context, req *Request, resp *Response) error

	// BeforeWSConnectFunc edits the outbound websocket connect options
	// before the upstream leg is dialed.
	BeforeWSConnectFunc func(ctx context.Context, req *Request, opts *WSConnectOptions) error

	// FailureFunc handles a forwarding failure. When installed it owns the
	// response; the engine suppresses further propagation.
	FailureFunc func(ctx context.Context, req *Request, err error)
)

// Options is an immutable configuration snapshot for the forwarding engine.
// A value is constructed once per route and read by every in-flight call;
// the With methods operate on a copy (value receiver) and return it, so the
// receiver is never mutated and unset fields keep their previous values.
type Options struct {
	addForwardedHeaders bool
	upstreamClient      string

	intercept       InterceptFunc
	beforeSend      BeforeSendFunc
	afterReceive    AfterReceiveFunc
	beforeWSConnect BeforeWSConnectFunc
	onFailure       FailureFunc
}

// DefaultOptions returns the default configuration: forwarded headers
// enabled, default upstream client, no hooks installed.
func DefaultOptions() Options {
	return Options{addForwardedHeaders: true}
}

// WithForwardedHeaders returns a copy with forwarded-header injection
// enabled or disabled.
func (o Options) WithForwardedHeaders(add bool) Options {
	o.addForwardedHeaders = add
	return o
}

// WithUpstreamClient returns a copy that dispatches through the named
// upstream client. An empty name selects the default pooled client.
func (o Options) WithUpstreamClient(name string) Options {
	o.upstreamClient = name
	return o
}

// WithIntercept returns a copy with the interception predicate installed.
func (o Options) WithIntercept(fn InterceptFunc) Options {
	o.intercept = fn
	return o
}

// WithBeforeSend returns a copy with the before-send editor installed.
func (o Options) WithBeforeSend(fn BeforeSendFunc) Options {
	o.beforeSend = fn
	return o
}

// WithAfterReceive returns a copy with the after-receive editor installed.
func (o Options) WithAfterReceive(fn AfterReceiveFunc) Options {
	o.afterReceive = fn
	return o
}

// WithBeforeWebSocketConnect returns a copy with the websocket pre-connect
// editor installed.
func (o Options) WithBeforeWebSocketConnect(fn BeforeWSConnectFunc) Options {
	o.beforeWSConnect = fn
	return o
}

// WithFailureHandler returns a copy with the failure handler installed.
func (o Options) WithFailureHandler(fn FailureFunc) Options {
	o.onFailure = fn
	return o
}

// ForwardedHeaders reports whether forwarded-header injection is enabled.
func (o Options) ForwardedHeaders() bool { return o.addForwardedHeaders }

// UpstreamClient returns the name of the upstream client to dispatch
// through; empty means the default client.
func (o Options) UpstreamClient() string { return o.upstreamClient }

// Intercept returns the interception predicate, or nil.
func (o Options) Intercept() InterceptFunc { return o.intercept }

// BeforeSend returns the before-send editor, or nil.
func (o Options) BeforeSend() BeforeSendFunc { return o.beforeSend }

// AfterReceive returns the after-receive editor, or nil.
func (o Options) AfterReceive() AfterReceiveFunc { return o.afterReceive }

// BeforeWebSocketConnect returns the websocket pre-connect editor, or nil.
func (o Options) BeforeWebSocketConnect() BeforeWSConnectFunc { return o.beforeWSConnect }

// FailureHandler returns the failure handler, or nil.
func (o Options) FailureHandler() FailureFunc { return o.onFailure }
