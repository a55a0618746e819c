package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/labstack/echo/v4"

	"modelgate/internal/model"
)

const bearerPrefix = "Bearer "

// BearerAuth returns an Echo middleware that admits only requests carrying
// "Authorization: Bearer <token>". A missing or malformed header is rejected
// with 401, a wrong token with 403.
func BearerAuth(token string) echo.MiddlewareFunc {
	want := []byte(token)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			auth := c.Request().Header.Get(echo.HeaderAuthorization)
			if !strings.HasPrefix(auth, bearerPrefix) {
				return reject(c, model.KindAuthentication, "Missing Bearer token")
			}

			got := []byte(strings.TrimSpace(strings.TrimPrefix(auth, bearerPrefix)))
			if subtle.ConstantTimeCompare(got, want) != 1 {
				return reject(c, model.KindAuthorization, "Invalid token")
			}

			return next(c)
		}
	}
}

// reject writes a gateway error envelope for a request stopped before routing.
func reject(c echo.Context, kind model.ErrorKind, message string) error {
	gerr := &model.GatewayError{Kind: kind, Message: message}
	if kind == model.KindAuthentication {
		c.Response().Header().Set(echo.HeaderWWWAuthenticate, "Bearer")
	}
	return c.JSON(gerr.Status(), gerr.Response())
}
