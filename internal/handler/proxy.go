package handler

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"

	"github.com/labstack/echo/v4"

	"relay-proxy-go/internal/model"
	"relay-proxy-go/internal/service"
)

// ProxyHandler adapts the hosting pipeline to the forwarding engine.
type ProxyHandler struct {
	forwarder *service.Forwarder
	logger    *slog.Logger
}

// NewProxyHandler creates a ProxyHandler.
func NewProxyHandler(f *service.Forwarder, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		forwarder: f,
		logger:    logger.With("component", "proxy_handler"),
	}
}

// Handle forwards the request upstream and streams the response back. When
// the engine returns an error, no response has been written yet and the
// generic gateway-error mapping below produces it.
func (h *ProxyHandler) Handle(c echo.Context) error {
	rc := &model.Request{
		In:     c.Request(),
		Writer: c.Response(),
	}

	if err := h.forwarder.Forward(rc); err != nil {
		return h.mapError(c, err)
	}
	return nil
}

func (h *ProxyHandler) mapError(c echo.Context, err error) error {
	h.logger.Error("proxy error",
		"err", err,
		"path", c.Request().URL.Path,
	)

	if errors.Is(err, context.DeadlineExceeded) {
		return c.JSON(http.StatusGatewayTimeout, map[string]string{
			"error": "upstream request timed out",
		})
	}

	if errors.Is(err, service.ErrCancelled) || errors.Is(err, context.Canceled) {
		// The client is gone; this response is best-effort.
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "client disconnected",
		})
	}

	if errors.Is(err, service.ErrTranslation) {
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "request could not be forwarded",
		})
	}

	if errors.Is(err, service.ErrTunnel) {
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "websocket upstream connection failed",
		})
	}

	if errors.Is(err, service.ErrUpstreamProtocol) {
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "upstream returned an invalid response",
		})
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "upstream host unreachable",
		})
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "upstream connection failed",
		})
	}

	return c.JSON(http.StatusBadGateway, map[string]string{
		"error": "upstream request failed",
	})
}
