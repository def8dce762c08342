// Package apierror renders every failure as
// {"error": {"code": ..., "message": ...}, "request_id": ...}.
//
// Domain packages declare their errors with New (sentinels compared with
// errors.Is) or with their own types implementing Coder. The HTTP status is
// derived from the code.
package apierror

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

const (
	CodeNotFound          = "NOT_FOUND"
	CodeForbidden         = "FORBIDDEN"
	CodeRecordLocked      = "RECORD_LOCKED"
	CodeInvalidTransition = "INVALID_TRANSITION"
	CodeConflict          = "CONFLICT"
	CodeAuditWrite        = "AUDIT_WRITE_ERROR"
	CodeValidation        = "VALIDATION_ERROR"
	CodeUnauthorized      = "UNAUTHORIZED"
	CodeUpstream          = "UPSTREAM_ERROR"
	CodeRateLimited       = "RATE_LIMITED"
	CodePayloadTooLarge   = "PAYLOAD_TOO_LARGE"
	CodeMethodNotAllowed  = "METHOD_NOT_ALLOWED"
	CodeUnavailable       = "SERVICE_UNAVAILABLE"
	CodeTimeout           = "TIMEOUT"
	CodeInternal          = "INTERNAL"
)

var statusByCode = map[string]int{
	CodeNotFound:          http.StatusNotFound,
	CodeForbidden:         http.StatusForbidden,
	CodeRecordLocked:      http.StatusConflict,
	CodeInvalidTransition: http.StatusConflict,
	CodeConflict:          http.StatusConflict,
	CodeAuditWrite:        http.StatusServiceUnavailable,
	CodeValidation:        http.StatusUnprocessableEntity,
	CodeUnauthorized:      http.StatusUnauthorized,
	CodeUpstream:          http.StatusBadGateway,
	CodeRateLimited:       http.StatusTooManyRequests,
	CodePayloadTooLarge:   http.StatusRequestEntityTooLarge,
	CodeMethodNotAllowed:  http.StatusMethodNotAllowed,
	CodeUnavailable:       http.StatusServiceUnavailable,
	CodeTimeout:           http.StatusGatewayTimeout,
	CodeInternal:          http.StatusInternalServerError,
}

var codeByStatus = map[int]string{
	http.StatusBadRequest:            CodeValidation,
	http.StatusUnauthorized:          CodeUnauthorized,
	http.StatusForbidden:             CodeForbidden,
	http.StatusNotFound:              CodeNotFound,
	http.StatusMethodNotAllowed:      CodeMethodNotAllowed,
	http.StatusConflict:              CodeConflict,
	http.StatusRequestEntityTooLarge: CodePayloadTooLarge,
	http.StatusUnprocessableEntity:   CodeValidation,
	http.StatusTooManyRequests:       CodeRateLimited,
	http.StatusBadGateway:            CodeUpstream,
	http.StatusServiceUnavailable:    CodeUnavailable,
	http.StatusGatewayTimeout:        CodeTimeout,
}

// Coder is implemented by errors that carry a stable wire code. The error
// text is shown to clients verbatim.
type Coder interface {
	error
	ErrorCode() string
}

// Error is a coded error. Values returned by New are meant to be package
// level sentinels.
type Error struct {
	Code    string
	Message string
}

func New(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func (e *Error) Error() string     { return e.Message }
func (e *Error) ErrorCode() string { return e.Code }

// Body is the JSON error envelope.
type Body struct {
	Error     Detail `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

type Detail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// StatusFor returns the HTTP status for a code, 500 for unknown codes.
func StatusFor(code string) int {
	if s, ok := statusByCode[code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// Resolve maps err to an HTTP status and error detail. An *echo.HTTPError
// takes precedence over any coded error it wraps. Unrecognised errors become
// INTERNAL without exposing their text.
func Resolve(err error) (int, Detail) {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code, ok := codeByStatus[he.Code]
		if !ok {
			code = CodeInternal
			if he.Code < 500 {
				code = CodeValidation
			}
		}
		msg := http.StatusText(he.Code)
		switch m := he.Message.(type) {
		case nil:
		case string:
			if m != "" {
				msg = m
			}
		default:
			msg = fmt.Sprint(m)
		}
		return he.Code, Detail{Code: code, Message: msg}
	}

	var coder Coder
	if errors.As(err, &coder) {
		code := coder.ErrorCode()
		return StatusFor(code), Detail{Code: code, Message: coder.Error()}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout, Detail{Code: CodeTimeout, Message: "request processing exceeded the allowed time limit"}
	}

	return http.StatusInternalServerError, Detail{Code: CodeInternal, Message: "internal server error"}
}

// HTTPErrorHandler is installed as echo's HTTPErrorHandler. Server errors are
// logged with the request id; the client only sees the code and message.
func HTTPErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status, detail := Resolve(err)
		rid, _ := c.Get("request_id").(string)

		if status >= 500 {
			logger.Error().
				Err(err).
				Str("request_id", rid).
				Str("method", c.Request().Method).
				Str("path", c.Request().URL.Path).
				Str("code", detail.Code).
				Msg("request failed")
		}

		var werr error
		if c.Request().Method == http.MethodHead {
			werr = c.NoContent(status)
		} else {
			werr = c.JSON(status, Body{Error: detail, RequestID: rid})
		}
		if werr != nil {
			logger.Error().Err(werr).Str("request_id", rid).Msg("write error response")
		}
	}
}
