package notification

import (
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/mchcare/mchcare/internal/platform/apperr"
	"github.com/mchcare/mchcare/internal/platform/auth"
	"github.com/mchcare/mchcare/internal/platform/httpx"
	"github.com/mchcare/mchcare/pkg/pagination"
)

type Handler struct {
	repo Repository
}

func NewHandler(repo Repository) *Handler {
	return &Handler{repo: repo}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/notifications", auth.RequireRole(auth.ClinicalStaff...))
	g.GET("", h.List)
	g.POST("/:id/read", h.MarkRead)
}

func currentUser(c echo.Context) (uuid.UUID, error) {
	uid, err := uuid.Parse(auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return uuid.Nil, apperr.Validation("user", "notifications require a registered staff account")
	}
	return uid, nil
}

func (h *Handler) List(c echo.Context) error {
	uid, err := currentUser(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.repo.ListForUser(c.Request().Context(), uid, c.QueryParam("unread") == "true", pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return httpx.OK(c, "", pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) MarkRead(c echo.Context) error {
	uid, err := currentUser(c)
	if err != nil {
		return err
	}
	id, err := httpx.ParamID(c, "id")
	if err != nil {
		return err
	}
	if err := h.repo.MarkRead(c.Request().Context(), id, uid); err != nil {
		return err
	}
	return httpx.OK(c, "Notification marked as read", nil)
}
