package middleware

import (
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"modelgate/internal/config"
	"modelgate/internal/model"
)

// RateLimit returns a per-client-IP token bucket limiter. Requests over the
// limit are rejected immediately with 429; nothing is queued.
func RateLimit(cfg config.RateLimitConfig) echo.MiddlewareFunc {
	store := echomw.NewRateLimiterMemoryStore(rate.Limit(cfg.RequestsPerSecond))

	return echomw.RateLimiterWithConfig(echomw.RateLimiterConfig{
		Store: store,
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		ErrorHandler: func(c echo.Context, _ error) error {
			return reject(c, model.KindInternal, "Client identity unavailable")
		},
		DenyHandler: func(c echo.Context, _ string, _ error) error {
			return reject(c, model.KindRateLimit, "Too many requests")
		},
	})
}
