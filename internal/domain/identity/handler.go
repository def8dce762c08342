package identity

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinote/clinote/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/auth")
	g.POST("/register", h.Register)
	g.POST("/login", h.Login)
	g.GET("/me", h.Me)
	g.POST("/logout", h.Logout)
}

type registerRequest struct {
	Email    string `json:"email" form:"email"`
	Name     string `json:"name" form:"name"`
	Password string `json:"password" form:"password"`
}

type loginRequest struct {
	Email    string `json:"email" form:"email"`
	Password string `json:"password" form:"password"`
}

// Register always creates a provider account; other roles are assigned
// through the admin CLI.
func (h *Handler) Register(c echo.Context) error {
	var req registerRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	u, err := h.svc.Register(c.Request().Context(), RegisterInput{
		Email:    req.Email,
		Name:     req.Name,
		Password: req.Password,
		Role:     auth.RoleProvider,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, u)
}

func (h *Handler) Login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	tok, _, err := h.svc.Authenticate(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		if err == ErrInvalidCredentials {
			c.Response().Header().Set(echo.HeaderWWWAuthenticate, "Bearer")
		}
		return err
	}
	return c.JSON(http.StatusOK, tok)
}

func callerID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusUnauthorized, "could not validate credentials")
	}
	return id, nil
}

func (h *Handler) Me(c echo.Context) error {
	id, err := callerID(c)
	if err != nil {
		return err
	}
	u, err := h.svc.Me(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, u)
}

func (h *Handler) Logout(c echo.Context) error {
	if _, err := callerID(c); err != nil {
		return err
	}
	jti, exp := auth.TokenFromContext(c.Request().Context())
	if err := h.svc.Logout(c.Request().Context(), jti, exp); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
