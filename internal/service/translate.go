package service

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"relay-proxy-go/internal/model"
)

// hopHeaders are connection-scoped headers that must not be forwarded.
// The list is lifted from httputil.ReverseProxy.
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Translate maps the inbound request onto an outbound request descriptor
// addressed to the call's resolved upstream base URL. The inbound path and
// query are concatenated onto the base exactly as received, preserving
// already-encoded segments; hop-by-hop headers and Host are dropped; the
// body is carried by reference, never buffered.
func Translate(rc *model.Request) (*model.OutboundRequest, error) {
	if rc.Upstream == nil {
		return nil, &ForwardError{Op: "translate", Kind: ErrTranslation,
			Cause: errNoUpstream}
	}

	in := rc.In

	target := *rc.Upstream
	target.Path, target.RawPath = joinURLPath(rc.Upstream, in.URL)
	target.RawQuery = in.URL.RawQuery

	header := make(http.Header, len(in.Header))
	for k, vv := range in.Header {
		header[k] = append([]string(nil), vv...)
	}
	removeConnectionHeaders(header)
	for _, h := range hopHeaders {
		header.Del(h)
	}
	header.Del("Host")

	return &model.OutboundRequest{
		Method:        in.Method,
		URL:           &target,
		Header:        header,
		Body:          in.Body,
		ContentLength: in.ContentLength,
	}, nil
}

var errNoUpstream = errors.New("no upstream base URL resolved for call")

// removeConnectionHeaders drops headers named by the Connection header, per
// RFC 7230 section 6.1.
func removeConnectionHeaders(h http.Header) {
	for _, f := range h["Connection"] {
		for _, sf := range strings.Split(f, ",") {
			if sf = strings.TrimSpace(sf); sf != "" {
				h.Del(sf)
			}
		}
	}
}

// joinURLPath joins the base and request paths while preserving the encoded
// form of each. Lifted from httputil.ReverseProxy.
func joinURLPath(a, b *url.URL) (path, rawpath string) {
	if a.RawPath == "" && b.RawPath == "" {
		return singleJoiningSlash(a.Path, b.Path), ""
	}
	apath := a.EscapedPath()
	bpath := b.EscapedPath()

	aslash := strings.HasSuffix(apath, "/")
	bslash := strings.HasPrefix(bpath, "/")

	switch {
	case aslash && bslash:
		return a.Path + b.Path[1:], apath + bpath[1:]
	case !aslash && !bslash:
		return a.Path + "/" + b.Path, apath + "/" + bpath
	}
	return a.Path + b.Path, apath + bpath
}

func singleJoiningSlash(a, b string) string {
	aslash := strings.HasSuffix(a, "/")
	bslash := strings.HasPrefix(b, "/")
	switch {
	case aslash && bslash:
		return a + b[1:]
	case !aslash && !bslash:
		return a + "/" + b
	}
	return a + b
}
