package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

var errRequestDeadline = errors.New("request deadline exceeded")

// RequestTimeout attaches a deadline to the request context. Services and pgx
// see it through ctx. If the handler fails once this middleware's own deadline
// has fired and nothing was written yet, the client gets a 504.
func RequestTimeout(timeout time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			ctx, cancel := context.WithTimeoutCause(req.Context(), timeout, errRequestDeadline)
			defer cancel()
			c.SetRequest(req.WithContext(ctx))

			err := next(c)
			if err == nil || c.Response().Committed {
				return err
			}
			if errors.Is(context.Cause(ctx), errRequestDeadline) {
				return echo.NewHTTPError(http.StatusGatewayTimeout, "request processing exceeded the allowed time limit").SetInternal(err)
			}
			return err
		}
	}
}
