package pagination

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func paramsFor(query string) Params {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/encounters?"+query, nil)
	c := e.NewContext(req, httptest.NewRecorder())
	return FromContext(c)
}

func TestFromContext(t *testing.T) {
	tests := []struct {
		query      string
		wantLimit  int
		wantOffset int
	}{
		{"", DefaultLimit, 0},
		{"limit=10&offset=20", 10, 20},
		{"limit=1000", MaxLimit, 0},
		{"limit=-3", DefaultLimit, 0},
		{"limit=abc&offset=xyz", DefaultLimit, 0},
		{"skip=15", DefaultLimit, 15},
		{"offset=5&skip=15", DefaultLimit, 5},
		{"offset=-1", DefaultLimit, 0},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			p := paramsFor(tt.query)
			if p.Limit != tt.wantLimit {
				t.Errorf("limit: got %d, want %d", p.Limit, tt.wantLimit)
			}
			if p.Offset != tt.wantOffset {
				t.Errorf("offset: got %d, want %d", p.Offset, tt.wantOffset)
			}
		})
	}
}

func TestNewResponse(t *testing.T) {
	r := NewResponse([]string{"a", "b"}, 5, Params{Limit: 2, Offset: 0})
	if !r.HasMore {
		t.Error("expected HasMore")
	}
	if r.NextOffset == nil || *r.NextOffset != 2 {
		t.Errorf("expected next offset 2, got %v", r.NextOffset)
	}

	last := NewResponse([]string{"e"}, 5, Params{Limit: 2, Offset: 4})
	if last.HasMore || last.NextOffset != nil {
		t.Errorf("expected last page without next offset, got %+v", last)
	}
}

func TestNewResponse_EmptyCollection(t *testing.T) {
	r := NewResponse([]string{}, 0, Params{Limit: DefaultLimit})
	if r.HasMore || r.NextOffset != nil || r.Total != 0 {
		t.Errorf("unexpected envelope for empty collection: %+v", r)
	}
}
