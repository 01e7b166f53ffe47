package service

import (
	"fmt"
	"net"
	"net/http"
	"strings"
)

// InjectForwardedHeaders appends this hop's forwarded-header values to the
// outbound header set. Prior-hop values already copied into header are
// extended, never replaced, so each hop contributes exactly one append.
// X-Forwarded-Proto and X-Forwarded-Host describe the connection this proxy
// accepted and overwrite prior values, matching common proxy behavior.
func InjectForwardedHeaders(in *http.Request, header http.Header) {
	clientIP := in.RemoteAddr
	if host, _, err := net.SplitHostPort(in.RemoteAddr); err == nil {
		clientIP = host
	}

	proto := "http"
	if in.TLS != nil {
		proto = "https"
	}

	if prior := header.Get("X-Forwarded-For"); prior != "" {
		header.Set("X-Forwarded-For", prior+", "+clientIP)
	} else {
		header.Set("X-Forwarded-For", clientIP)
	}

	header.Set("X-Forwarded-Proto", proto)
	if in.Host != "" {
		header.Set("X-Forwarded-Host", in.Host)
	}

	elem := forwardedElement(clientIP, in.Host, proto)
	if prior := header.Get("Forwarded"); prior != "" {
		header.Set("Forwarded", prior+", "+elem)
	} else {
		header.Set("Forwarded", elem)
	}
}

// forwardedElement builds one RFC 7239 Forwarded list element.
func forwardedElement(clientIP, host, proto string) string {
	elem := "for=" + forwardedNode(clientIP)
	if host != "" {
		elem += fmt.Sprintf(";host=%q", host)
	}
	return elem + ";proto=" + proto
}

// forwardedNode quotes an IPv6 node identifier as RFC 7239 requires.
func forwardedNode(ip string) string {
	if strings.Contains(ip, ":") {
		return fmt.Sprintf("%q", "["+ip+"]")
	}
	return ip
}
