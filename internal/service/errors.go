package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors classifying forwarding failures.
var (
	// ErrTranslation indicates the inbound request could not be mapped to
	// an outbound one.
	ErrTranslation = errors.New("request translation failed")

	// ErrTransport indicates a network-level upstream failure
	// (DNS, connect, TLS, timeout).
	ErrTransport = errors.New("upstream transport failed")

	// ErrUpstreamProtocol indicates the upstream returned a malformed
	// response.
	ErrUpstreamProtocol = errors.New("upstream returned malformed response")

	// ErrCancelled indicates the caller disconnected or the call's
	// deadline elapsed. Cancellation skips the failure hook.
	ErrCancelled = errors.New("call canceled")

	// ErrTunnel indicates a websocket handshake or relay failure.
	ErrTunnel = errors.New("websocket tunnel failed")
)

// ForwardError wraps a forwarding failure with the operation that produced
// it and its classification.
type ForwardError struct {
	Op     string // engine step that failed (translate, dispatch, tunnel, hook name)
	Target string // upstream target if known
	Kind   error  // one of the sentinel errors above, or nil for hook errors
	Cause  error
}

// Error implements the error interface.
func (e *ForwardError) Error() string {
	var b strings.Builder
	b.WriteString("forward error [" + e.Op + "]")
	if e.Target != "" {
		b.WriteString(" target=" + e.Target)
	}
	if e.Kind != nil {
		b.WriteString(": " + e.Kind.Error())
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

// Unwrap returns the underlying error.
func (e *ForwardError) Unwrap() error {
	return e.Cause
}

// Is matches the error against its classification sentinel as well as the
// wrapped cause.
func (e *ForwardError) Is(target error) bool {
	return (e.Kind != nil && target == e.Kind) || errors.Is(e.Cause, target)
}

// classifyDispatch classifies an error from the upstream dispatch. A done
// inbound context means the caller is gone (or its deadline elapsed) and
// the failure hook must be skipped.
func classifyDispatch(ctx context.Context, target string, err error) *ForwardError {
	kind := ErrTransport
	switch {
	case ctx.Err() != nil:
		kind = ErrCancelled
	case isProtocolError(err):
		kind = ErrUpstreamProtocol
	}
	return &ForwardError{Op: "dispatch", Target: target, Kind: kind, Cause: err}
}

// isProtocolError detects malformed-response errors from the HTTP client.
// The stdlib does not export a type for these; it consistently prefixes
// their messages with "malformed HTTP".
func isProtocolError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "malformed HTTP")
}
