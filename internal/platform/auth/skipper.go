package auth

import (
	"github.com/labstack/echo/v4"
)

// publicPaths bypass authentication.
var publicPaths = map[string]bool{
	"/health":            true,
	"/health/db":         true,
	"/api/auth/register": true,
	"/api/auth/login":    true,
}

// AuthSkipper reports whether the matched route is public. It falls back to
// the raw URL path when no route matched.
func AuthSkipper(c echo.Context) bool {
	if p := c.Path(); p != "" {
		return publicPaths[p]
	}
	return publicPaths[c.Request().URL.Path]
}

func IsPublicPath(path string) bool {
	return publicPaths[path]
}
