package handler

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"relay-proxy-go/internal/config"
	"relay-proxy-go/internal/metrics"
)

// RegisterRoutes wires all route handlers onto the Echo instance. The
// proxy's own endpoints are registered first; everything else falls through
// to the forwarding catch-all.
func RegisterRoutes(e *echo.Echo, proxy *ProxyHandler, health *HealthHandler, m *metrics.Metrics, cfg *config.Config) {
	e.GET("/healthz", health.Healthz)
	e.GET("/proxy/status", health.Status)

	if cfg.Metrics.Enabled {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(
			promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}),
		))
	}

	e.Any("/*", proxy.Handle)
}
