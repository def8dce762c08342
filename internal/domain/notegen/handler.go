package notegen

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/clinote/clinote/internal/domain/encounter"
	"github.com/clinote/clinote/internal/platform/auth"
)

type Handler struct {
	extractor Extractor
}

func NewHandler(extractor Extractor) *Handler {
	return &Handler{extractor: extractor}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/ai", auth.RequireRole(auth.RoleProvider, auth.RoleStaff))
	g.POST("/generate-note", h.GenerateNote)
}

type generateRequest struct {
	Transcript string              `json:"transcript"`
	VisitType  encounter.VisitType `json:"visitType"`
	// Encounter details are accepted for client compatibility but do not
	// influence generation.
	Encounter map[string]interface{} `json:"encounter"`
}

type generateResponse struct {
	Success bool              `json:"success"`
	Data    encounter.Payload `json:"data"`
}

func (h *Handler) GenerateNote(c echo.Context) error {
	var req generateRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	payload, err := h.extractor.Extract(c.Request().Context(), req.Transcript, req.VisitType)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, generateResponse{Success: true, Data: payload})
}
