package middleware

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/mdwasim1340/multi-tenant-hms-sub006/internal/platform/auth"
)

// Logger writes one line per request. The tenant field is present only when
// the tenant resolver ran for the route, the actor fields only when a caller
// was authenticated.
func Logger(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()

			err := next(c)
			if err != nil {
				// Write the error response now so the logged status is the
				// one the client sees. The handler skips committed responses.
				c.Error(err)
			}

			evt := logger.Info()
			status := c.Response().Status
			if status >= 500 {
				evt = logger.Error().Err(err)
			} else if status >= 400 {
				evt = logger.Warn()
			}

			rid, _ := c.Get("request_id").(string)
			evt = evt.Str("request_id", rid)
			if tenant, ok := c.Get("tenant_schema").(string); ok {
				evt = evt.Str("tenant", tenant)
			}
			// Auth middleware replaces the request, so read the context after next.
			if actor := auth.UserIDFromContext(c.Request().Context()); actor != "" {
				evt = evt.Str("actor", actor).Strs("roles", auth.RolesFromContext(c.Request().Context()))
			}
			evt.
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Int("status", status).
				Dur("latency", time.Since(start)).
				Str("remote_ip", c.RealIP()).
				Msg("request")

			return err
		}
	}
}
