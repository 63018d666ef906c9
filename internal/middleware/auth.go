package middleware

import (
	"crypto/subtle"

	"github.com/labstack/echo/v4"

	"sep_psp/internal/apperror"
	"sep_psp/internal/bankapi"
)

// RequireAPIKey guards service to service endpoints with the shared X-API-Key
func RequireAPIKey(apiKey string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if apiKey == "" {
				return apperror.Authentication("internal api key is not configured")
			}

			supplied := c.Request().Header.Get(bankapi.APIKeyHeader)
			if supplied == "" {
				return apperror.Authentication("missing api key")
			}
			if subtle.ConstantTimeCompare([]byte(supplied), []byte(apiKey)) != 1 {
				return apperror.Authentication("invalid api key")
			}

			return next(c)
		}
	}
}
