// Package pagination parses limit/offset query parameters and builds the
// list envelope shared by collection endpoints.
package pagination

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	DefaultLimit = 50
	MaxLimit     = 100
)

type Params struct {
	Limit  int
	Offset int
}

// FromContext reads ?limit= and ?offset= (or the legacy ?skip=). Bad input
// never fails the request; it falls back to the first page.
func FromContext(c echo.Context) Params {
	limit := queryInt(c, "limit")
	switch {
	case limit <= 0:
		limit = DefaultLimit
	case limit > MaxLimit:
		limit = MaxLimit
	}

	offset := queryInt(c, "offset")
	if offset <= 0 {
		offset = max(queryInt(c, "skip"), 0)
	}
	return Params{Limit: limit, Offset: offset}
}

func queryInt(c echo.Context, name string) int {
	n, err := strconv.Atoi(c.QueryParam(name))
	if err != nil {
		return 0
	}
	return n
}

// End is the offset just past this page.
func (p Params) End() int { return p.Offset + p.Limit }

type Response struct {
	Data       any  `json:"data"`
	Total      int  `json:"total"`
	Limit      int  `json:"limit"`
	Offset     int  `json:"offset"`
	HasMore    bool `json:"has_more"`
	NextOffset *int `json:"next_offset,omitempty"`
}

func NewResponse(data any, total int, p Params) *Response {
	resp := &Response{Data: data, Total: total, Limit: p.Limit, Offset: p.Offset}
	if end := p.End(); end < total {
		resp.HasMore = true
		resp.NextOffset = &end
	}
	return resp
}
