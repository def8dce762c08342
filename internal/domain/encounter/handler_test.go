package encounter

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/clinote/clinote/internal/config"
	"github.com/clinote/clinote/internal/platform/apierror"
	"github.com/clinote/clinote/internal/platform/auth"
)

type testServer struct {
	e     *echo.Echo
	store *memStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	svc, store := newTestService(t, config.ViewAuditStrict)
	e := echo.New()
	e.HTTPErrorHandler = apierror.HTTPErrorHandler(zerolog.Nop())

	// stands in for JWTMiddleware
	api := e.Group("/api", func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if uid := c.Request().Header.Get("X-Test-User"); uid != "" {
				ctx := auth.ContextWithUser(c.Request().Context(), uid, auth.RoleProvider)
				c.SetRequest(c.Request().WithContext(ctx))
			}
			return next(c)
		}
	})
	NewHandler(svc).RegisterRoutes(api)
	return &testServer{e: e, store: store}
}

func (s *testServer) do(t *testing.T, method, path, user, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if user != "" {
		req.Header.Set("X-Test-User", user)
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body apierror.Body
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return body.Error.Code
}

const createBody = `{
	"encounter": {"patientName": "Jane Doe", "patientId": "P-001", "visitType": "Follow-up", "date": "2026-02-28"},
	"transcript": "Patient reports improvement.",
	"record": {"mainProblem": "Lumbago", "redFlags": ["none"]}
}`

func (s *testServer) create(t *testing.T, user string) uuid.UUID {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/encounters", user, createBody)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp createResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	if !resp.Success || resp.EncounterID == uuid.Nil || resp.CreatedAt.IsZero() {
		t.Fatalf("unexpected create response: %+v", resp)
	}
	return resp.EncounterID
}

func TestHandler_CreateAndGet(t *testing.T) {
	s := newTestServer(t)
	user := uuid.NewString()
	id := s.create(t, user)

	rec := s.do(t, http.MethodGet, "/api/encounters/"+id.String(), user, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var got map[string]json.RawMessage
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(got["status"]) != `"DRAFT"` {
		t.Errorf("expected DRAFT, got %s", got["status"])
	}
	if string(got["visit_type"]) != `"Follow-up"` {
		t.Errorf("expected Follow-up, got %s", got["visit_type"])
	}

	want, _ := ParsePayload([]byte(`{"mainProblem": "Lumbago", "redFlags": ["none"]}`))
	if string(got["record"]) != string(want) {
		t.Errorf("record not byte-identical:\n got %s\nwant %s", got["record"], want)
	}
}

func TestHandler_CreateIgnoresRequestedStatus(t *testing.T) {
	s := newTestServer(t)
	user := uuid.NewString()
	body := strings.Replace(createBody, `"transcript"`, `"status": "SIGNED", "transcript"`, 1)

	rec := s.do(t, http.MethodPost, "/api/encounters", user, body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp createResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if st := s.store.raw(resp.EncounterID).Status; st != StatusDraft {
		t.Errorf("expected DRAFT, got %s", st)
	}
}

func TestHandler_CreateValidation(t *testing.T) {
	s := newTestServer(t)
	user := uuid.NewString()

	tests := []struct {
		name string
		body string
	}{
		{"missing patient", `{"encounter":{"patientId":"P","visitType":"Follow-up","date":"2026-01-01"}}`},
		{"bad visit type", `{"encounter":{"patientName":"A","patientId":"P","visitType":"Spa","date":"2026-01-01"}}`},
		{"bad date", `{"encounter":{"patientName":"A","patientId":"P","visitType":"Follow-up","date":"yesterday"}}`},
		{"unknown record field", `{"encounter":{"patientName":"A","patientId":"P","visitType":"Follow-up","date":"2026-01-01"},"record":{"colour":"red"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/api/encounters", user, tt.body)
			if rec.Code != http.StatusUnprocessableEntity {
				t.Fatalf("expected 422, got %d: %s", rec.Code, rec.Body.String())
			}
			if code := errorCode(t, rec); code != apierror.CodeValidation {
				t.Errorf("expected VALIDATION_ERROR, got %s", code)
			}
		})
	}
}

func TestHandler_MalformedJSON(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodPost, "/api/encounters", uuid.NewString(), `{"encounter":`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if code := errorCode(t, rec); code != apierror.CodeValidation {
		t.Errorf("expected VALIDATION_ERROR, got %s", code)
	}
}

func TestHandler_Unauthenticated(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/api/encounters", "", "")
	if rec.Code != http.StatusForbidden && rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 or 403, got %d", rec.Code)
	}
}

func TestHandler_SignThenUpdateIsLocked(t *testing.T) {
	s := newTestServer(t)
	user := uuid.NewString()
	id := s.create(t, user)
	path := "/api/encounters/" + id.String()

	rec := s.do(t, http.MethodPut, path, user, `{"transcript":"edited","encounter":{"patientName":"Jane Q. Doe"}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("update: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = s.do(t, http.MethodPost, path+"/sign", user, `{"signedBy":"Dr. A","signature":"c2ln"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("sign: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var signed signResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &signed); err != nil {
		t.Fatalf("decode sign response: %v", err)
	}
	if !signed.Success || signed.Status != StatusSigned || signed.SignedAt.IsZero() {
		t.Errorf("unexpected sign response: %+v", signed)
	}

	rec = s.do(t, http.MethodPut, path, user, `{"transcript":"late"}`)
	if rec.Code != http.StatusConflict || errorCode(t, rec) != apierror.CodeRecordLocked {
		t.Errorf("expected 409 RECORD_LOCKED, got %d %s", rec.Code, rec.Body.String())
	}

	rec = s.do(t, http.MethodPost, path+"/sign", user, `{"signedBy":"Dr. B"}`)
	if rec.Code != http.StatusConflict || errorCode(t, rec) != apierror.CodeInvalidTransition {
		t.Errorf("expected 409 INVALID_TRANSITION, got %d %s", rec.Code, rec.Body.String())
	}

	rec = s.do(t, http.MethodDelete, path, user, "")
	if rec.Code != http.StatusConflict || errorCode(t, rec) != apierror.CodeRecordLocked {
		t.Errorf("expected 409 RECORD_LOCKED on delete, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestHandler_UpdateRejectsStatus(t *testing.T) {
	s := newTestServer(t)
	user := uuid.NewString()
	id := s.create(t, user)

	rec := s.do(t, http.MethodPut, "/api/encounters/"+id.String(), user, `{"status":"SIGNED"}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandler_Export(t *testing.T) {
	s := newTestServer(t)
	user := uuid.NewString()
	id := s.create(t, user)
	path := "/api/encounters/" + id.String()

	rec := s.do(t, http.MethodPost, path+"/export", user, "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("export of draft: expected 409, got %d", rec.Code)
	}

	s.do(t, http.MethodPost, path+"/sign", user, `{"signedBy":"Dr. A"}`)
	rec = s.do(t, http.MethodPost, path+"/export", user, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var doc struct {
		Format    string `json:"format"`
		Encounter struct {
			Status Status `json:"status"`
		} `json:"encounter"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if doc.Format != ExportFormat || doc.Encounter.Status != StatusExported {
		t.Errorf("unexpected export document: %+v", doc)
	}
}

func TestHandler_DeleteDraft(t *testing.T) {
	s := newTestServer(t)
	user := uuid.NewString()
	id := s.create(t, user)
	path := "/api/encounters/" + id.String()

	rec := s.do(t, http.MethodDelete, path, user, "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rec.Code, rec.Body.String())
	}
	rec = s.do(t, http.MethodGet, path, user, "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 after delete, got %d", rec.Code)
	}
}

func TestHandler_Forbidden(t *testing.T) {
	s := newTestServer(t)
	id := s.create(t, uuid.NewString())

	rec := s.do(t, http.MethodGet, "/api/encounters/"+id.String(), uuid.NewString(), "")
	if rec.Code != http.StatusForbidden || errorCode(t, rec) != apierror.CodeForbidden {
		t.Errorf("expected 403 FORBIDDEN, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestHandler_InvalidID(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/api/encounters/not-a-uuid", uuid.NewString(), "")
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422, got %d", rec.Code)
	}
}

func TestHandler_ListPaginates(t *testing.T) {
	s := newTestServer(t)
	user := uuid.NewString()
	for i := 0; i < 3; i++ {
		s.create(t, user)
	}

	rec := s.do(t, http.MethodGet, "/api/encounters?limit=2&offset=0", user, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var page struct {
		Data       []map[string]interface{} `json:"data"`
		Total      int                      `json:"total"`
		HasMore    bool                     `json:"has_more"`
		NextOffset *int                     `json:"next_offset"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if page.Total != 3 || len(page.Data) != 2 || !page.HasMore || page.NextOffset == nil || *page.NextOffset != 2 {
		t.Errorf("unexpected page: %+v", page)
	}

	rec = s.do(t, http.MethodGet, "/api/encounters?status=bogus", user, "")
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422 for bad status filter, got %d", rec.Code)
	}
}

func TestHandler_AuditTrail(t *testing.T) {
	s := newTestServer(t)
	user := uuid.NewString()
	id := s.create(t, user)
	path := "/api/encounters/" + id.String()
	s.do(t, http.MethodGet, path, user, "")

	rec := s.do(t, http.MethodGet, path+"/audit", user, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		Data []struct {
			Action    string `json:"action"`
			IPAddress string `json:"ip_address"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Data) != 2 || resp.Data[0].Action != "created" || resp.Data[1].Action != "viewed" {
		t.Fatalf("unexpected trail: %+v", resp.Data)
	}
	if resp.Data[0].IPAddress != "192.0.2.1" {
		t.Errorf("expected caller ip recorded, got %q", resp.Data[0].IPAddress)
	}
}

func TestHandler_AuditWriteFailure(t *testing.T) {
	s := newTestServer(t)
	user := uuid.NewString()
	id := s.create(t, user)
	s.store.setFailAudit(true)

	rec := s.do(t, http.MethodPost, "/api/encounters/"+id.String()+"/sign", user, `{"signedBy":"Dr. A"}`)
	if rec.Code != http.StatusServiceUnavailable || errorCode(t, rec) != apierror.CodeAuditWrite {
		t.Errorf("expected 503 AUDIT_WRITE_ERROR, got %d %s", rec.Code, rec.Body.String())
	}
	if st := s.store.raw(id).Status; st != StatusDraft {
		t.Errorf("expected rollback to DRAFT, got %s", st)
	}
}
