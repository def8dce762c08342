package encounter

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinote/clinote/internal/domain/auditlog"
	"github.com/clinote/clinote/internal/platform/auth"
	"github.com/clinote/clinote/internal/platform/middleware"
	"github.com/clinote/clinote/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/encounters", auth.RequireRole(auth.RoleProvider, auth.RoleStaff))
	g.POST("", h.CreateEncounter)
	g.GET("", h.ListEncounters)
	g.GET("/:id", h.GetEncounter)
	g.PUT("/:id", h.UpdateEncounter)
	g.DELETE("/:id", h.DeleteEncounter)
	g.POST("/:id/sign", h.SignEncounter)
	g.POST("/:id/export", h.ExportEncounter)
	g.GET("/:id/audit", h.GetAuditTrail)
}

type encounterDetails struct {
	PatientName *string    `json:"patientName"`
	PatientID   *string    `json:"patientId"`
	VisitType   *VisitType `json:"visitType"`
	Date        *string    `json:"date"`
}

type createRequest struct {
	Encounter  encounterDetails `json:"encounter"`
	Transcript *string          `json:"transcript"`
	Record     json.RawMessage  `json:"record"`
	Status     Status           `json:"status"`
}

type createResponse struct {
	Success     bool      `json:"success"`
	EncounterID uuid.UUID `json:"encounter_id"`
	CreatedAt   time.Time `json:"created_at"`
}

type updateRequest struct {
	Encounter  *encounterDetails `json:"encounter"`
	Transcript *string           `json:"transcript"`
	Record     json.RawMessage   `json:"record"`
	Status     *Status           `json:"status"`
}

type signRequest struct {
	SignedBy  string  `json:"signedBy"`
	Signature *string `json:"signature"`
}

type signResponse struct {
	Success  bool      `json:"success"`
	SignedAt time.Time `json:"signed_at"`
	Status   Status    `json:"status"`
}

// actorFromContext identifies the caller for authorization and audit.
func actorFromContext(c echo.Context) (auditlog.Actor, error) {
	ctx := c.Request().Context()
	userID, err := uuid.Parse(auth.UserIDFromContext(ctx))
	if err != nil {
		return auditlog.Actor{}, echo.NewHTTPError(http.StatusUnauthorized, "could not validate credentials")
	}
	return auditlog.Actor{
		UserID:    userID,
		IPAddress: c.RealIP(),
		UserAgent: c.Request().UserAgent(),
		RequestID: middleware.RequestIDFromContext(ctx),
	}, nil
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, &ValidationError{Field: "id", Message: "invalid encounter id"}
	}
	return id, nil
}

func (h *Handler) CreateEncounter(c echo.Context) error {
	actor, err := actorFromContext(c)
	if err != nil {
		return err
	}
	var req createRequest
	if err := c.Bind(&req); err != nil {
		return err
	}

	in := CreateInput{
		Transcript:      req.Transcript,
		RequestedStatus: req.Status,
	}
	if req.Encounter.PatientName != nil {
		in.PatientName = *req.Encounter.PatientName
	}
	if req.Encounter.PatientID != nil {
		in.PatientID = *req.Encounter.PatientID
	}
	if req.Encounter.VisitType != nil {
		in.VisitType = *req.Encounter.VisitType
	}
	if req.Encounter.Date != nil {
		if in.EncounterDate, err = ParseDate(*req.Encounter.Date); err != nil {
			return err
		}
	}
	if in.Record, err = ParsePayload(req.Record); err != nil {
		return err
	}

	enc, err := h.svc.Create(c.Request().Context(), actor, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, createResponse{
		Success:     true,
		EncounterID: enc.ID,
		CreatedAt:   enc.CreatedAt,
	})
}

func (h *Handler) GetEncounter(c echo.Context) error {
	actor, err := actorFromContext(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	enc, err := h.svc.Get(c.Request().Context(), actor, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, enc)
}

func (h *Handler) ListEncounters(c echo.Context) error {
	actor, err := actorFromContext(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	filter := ListFilter{
		Status:    Status(c.QueryParam("status")),
		PatientID: c.QueryParam("patient_id"),
	}

	items, total, err := h.svc.List(c.Request().Context(), actor.UserID, filter, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) UpdateEncounter(c echo.Context) error {
	actor, err := actorFromContext(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req updateRequest
	if err := c.Bind(&req); err != nil {
		return err
	}

	in := UpdateInput{
		Transcript: req.Transcript,
		Status:     req.Status,
	}
	if d := req.Encounter; d != nil {
		in.PatientName = d.PatientName
		in.PatientID = d.PatientID
		in.VisitType = d.VisitType
		if d.Date != nil {
			t, err := ParseDate(*d.Date)
			if err != nil {
				return err
			}
			in.EncounterDate = &t
		}
	}
	if len(req.Record) > 0 {
		p, err := ParsePayload(req.Record)
		if err != nil {
			return err
		}
		in.Record = &p
	}

	enc, err := h.svc.Update(c.Request().Context(), actor, id, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, enc)
}

func (h *Handler) SignEncounter(c echo.Context) error {
	actor, err := actorFromContext(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req signRequest
	if err := c.Bind(&req); err != nil {
		return err
	}

	enc, err := h.svc.Sign(c.Request().Context(), actor, id, req.SignedBy)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, signResponse{
		Success:  true,
		SignedAt: *enc.SignedAt,
		Status:   enc.Status,
	})
}

func (h *Handler) ExportEncounter(c echo.Context) error {
	actor, err := actorFromContext(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	doc, err := h.svc.Export(c.Request().Context(), actor, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, doc)
}

func (h *Handler) DeleteEncounter(c echo.Context) error {
	actor, err := actorFromContext(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.Delete(c.Request().Context(), actor, id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) GetAuditTrail(c echo.Context) error {
	actor, err := actorFromContext(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	entries, err := h.svc.AuditTrail(c.Request().Context(), actor.UserID, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": entries})
}
