package middleware

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/clinote/clinote/internal/platform/auth"
)

// Logger emits one access line per request. The handler error is rendered
// first so the logged status matches what the client saw. Bodies and query
// strings are never logged.
func Logger(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			req := c.Request()
			status := c.Response().Status
			evt := logger.WithLevel(levelFor(status)).
				Str("request_id", requestIDOf(c)).
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Int("status", status).
				Int64("bytes_out", c.Response().Size).
				Dur("latency", time.Since(start)).
				Str("remote_ip", c.RealIP())
			if uid := auth.UserIDFromContext(req.Context()); uid != "" {
				evt = evt.Str("user_id", uid)
			}
			if err != nil && status >= 400 {
				evt = evt.Err(err)
			}
			evt.Msg("request")

			return nil
		}
	}
}

func levelFor(status int) zerolog.Level {
	switch {
	case status >= 500:
		return zerolog.ErrorLevel
	case status >= 400:
		return zerolog.WarnLevel
	default:
		return zerolog.InfoLevel
	}
}

func requestIDOf(c echo.Context) string {
	if rid, ok := c.Get("request_id").(string); ok {
		return rid
	}
	return RequestIDFromContext(c.Request().Context())
}
