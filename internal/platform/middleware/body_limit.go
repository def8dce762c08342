package middleware

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
)

const defaultBodyLimit int64 = 1 << 20

var sizeUnits = map[byte]int64{'K': 1 << 10, 'M': 1 << 20, 'G': 1 << 30}

// BodyLimit caps request bodies at limit ("512K", "2M", "1G" or plain bytes).
// A declared Content-Length over the cap is refused before the handler runs;
// chunked bodies fail with 413 on the read that crosses it.
func BodyLimit(limit string) echo.MiddlewareFunc {
	n := parseLimit(limit)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if req.Body == nil || req.Body == http.NoBody {
				return next(c)
			}
			if req.ContentLength > n {
				return tooLarge(n)
			}
			req.Body = cappedBody{http.MaxBytesReader(c.Response(), req.Body, n)}
			return next(c)
		}
	}
}

// cappedBody turns *http.MaxBytesError into an echo 413 so the error handler
// renders it with the right code.
type cappedBody struct{ io.ReadCloser }

func (b cappedBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		return n, tooLarge(mbe.Limit)
	}
	return n, err
}

func tooLarge(limit int64) *echo.HTTPError {
	return echo.NewHTTPError(http.StatusRequestEntityTooLarge,
		fmt.Sprintf("request body exceeds maximum allowed size of %d bytes", limit))
}

// parseLimit falls back to 1 MB for empty, malformed or non-positive input.
func parseLimit(s string) int64 {
	s = strings.TrimSuffix(strings.ToUpper(strings.TrimSpace(s)), "B")
	if s == "" {
		return defaultBodyLimit
	}

	unit := int64(1)
	if m, ok := sizeUnits[s[len(s)-1]]; ok {
		unit, s = m, s[:len(s)-1]
	}

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return defaultBodyLimit
	}
	return n * unit
}
