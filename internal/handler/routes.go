package handler

import (
	"github.com/labstack/echo/v4"

	"modelgate/internal/config"
	"modelgate/internal/metrics"
	"modelgate/internal/middleware"
)

// RegisterRoutes wires all route handlers onto the Echo instance. Only the
// forwarding routes sit behind the bearer gate.
func RegisterRoutes(e *echo.Echo, cfg *config.Config, proxy *ProxyHandler, health *HealthHandler, m *metrics.Metrics) {
	e.GET("/health", health.Health)
	e.GET("/status", health.Status)

	// Route-level rather than group middleware: a group would also gate the
	// not-found catch-all under the prefix, which is every path when the
	// prefix is the root.
	gate := middleware.BearerAuth(cfg.Gateway.Token)
	prefix := cfg.Server.PathPrefix
	e.POST(prefix+OpChatCompletions, proxy.ChatCompletions, gate)
	e.POST(prefix+OpEmbeddings, proxy.Embeddings, gate)

	if cfg.Metrics.Enabled && m != nil {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(m.Handler()))
	}
}
