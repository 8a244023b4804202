package immunization

import (
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/mchcare/mchcare/internal/platform/auth"
	"github.com/mchcare/mchcare/internal/platform/httpx"
	"github.com/mchcare/mchcare/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	staff := api.Group("", auth.RequireRole(auth.ClinicalStaff...))
	staff.GET("/immunizations", h.List)
	staff.GET("/immunizations/:id", h.Get)
	staff.GET("/children/:child_id/immunizations", h.ListByChild)
	staff.POST("/immunizations", h.Create)
	staff.PUT("/immunizations/:id", h.Update)
	staff.POST("/immunizations/:id/status", h.MarkStatus)
	staff.POST("/immunizations/:id/reschedule", h.Reschedule)

	manage := api.Group("", auth.RequireRole(auth.RoleMidwife))
	manage.DELETE("/immunizations/:id", h.Delete)
}

type createRequest struct {
	ChildID      uuid.UUID `json:"child_id"`
	VaccineID    uuid.UUID `json:"vaccine_id"`
	Dose         string    `json:"dose"`
	ScheduleDate string    `json:"schedule_date"`
	ScheduleTime string    `json:"schedule_time"`
	Status       string    `json:"status"`
	Notes        string    `json:"notes"`
}

type updateRequest struct {
	VaccineID    *uuid.UUID `json:"vaccine_id"`
	Dose         *string    `json:"dose"`
	ScheduleDate *string    `json:"schedule_date"`
	ScheduleTime *string    `json:"schedule_time"`
	Status       *string    `json:"status"`
	Notes        *string    `json:"notes"`
}

type statusRequest struct {
	Status string `json:"status"`
}

type rescheduleRequest struct {
	ScheduleDate string `json:"schedule_date"`
	ScheduleTime string `json:"schedule_time"`
	Notes        string `json:"notes"`
}

func (h *Handler) Create(c echo.Context) error {
	var req createRequest
	if err := httpx.Bind(c, &req); err != nil {
		return err
	}
	date, err := httpx.ParseDate("schedule_date", req.ScheduleDate)
	if err != nil {
		return err
	}
	im, err := h.svc.Create(c.Request().Context(), CreateInput{
		ChildID:      req.ChildID,
		VaccineID:    req.VaccineID,
		Dose:         req.Dose,
		ScheduleDate: date,
		ScheduleTime: req.ScheduleTime,
		Status:       req.Status,
		Notes:        req.Notes,
	})
	if err != nil {
		return err
	}
	return httpx.Created(c, "Immunization scheduled", im)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := httpx.ParamID(c, "id")
	if err != nil {
		return err
	}
	im, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return httpx.OK(c, "", im)
}

func (h *Handler) List(c echo.Context) error {
	var f Filter
	var err error
	if f.ChildID, err = httpx.QueryID(c, "child_id"); err != nil {
		return err
	}
	if f.VaccineID, err = httpx.QueryID(c, "vaccine_id"); err != nil {
		return err
	}
	if f.From, err = httpx.QueryDate(c, "from"); err != nil {
		return err
	}
	if f.To, err = httpx.QueryDate(c, "to"); err != nil {
		return err
	}
	f.Status = c.QueryParam("status")

	pg := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return httpx.OK(c, "", pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) ListByChild(c echo.Context) error {
	childID, err := httpx.ParamID(c, "child_id")
	if err != nil {
		return err
	}
	items, err := h.svc.ListByChild(c.Request().Context(), childID)
	if err != nil {
		return err
	}
	return httpx.OK(c, "", items)
}

func (h *Handler) Update(c echo.Context) error {
	id, err := httpx.ParamID(c, "id")
	if err != nil {
		return err
	}
	var req updateRequest
	if err := httpx.Bind(c, &req); err != nil {
		return err
	}
	ch := Changes{
		VaccineID:    req.VaccineID,
		Dose:         req.Dose,
		ScheduleTime: req.ScheduleTime,
		Status:       req.Status,
		Notes:        req.Notes,
	}
	if req.ScheduleDate != nil {
		var d time.Time
		if d, err = httpx.ParseDate("schedule_date", *req.ScheduleDate); err != nil {
			return err
		}
		ch.ScheduleDate = &d
	}
	im, err := h.svc.Update(c.Request().Context(), id, ch)
	if err != nil {
		return err
	}
	return httpx.OK(c, "Immunization updated", im)
}

func (h *Handler) MarkStatus(c echo.Context) error {
	id, err := httpx.ParamID(c, "id")
	if err != nil {
		return err
	}
	var req statusRequest
	if err := httpx.Bind(c, &req); err != nil {
		return err
	}
	im, err := h.svc.MarkStatus(c.Request().Context(), id, req.Status)
	if err != nil {
		return err
	}
	return httpx.OK(c, "Immunization marked as "+im.Status, im)
}

func (h *Handler) Reschedule(c echo.Context) error {
	id, err := httpx.ParamID(c, "id")
	if err != nil {
		return err
	}
	var req rescheduleRequest
	if err := httpx.Bind(c, &req); err != nil {
		return err
	}
	date, err := httpx.ParseDate("schedule_date", req.ScheduleDate)
	if err != nil {
		return err
	}
	im, err := h.svc.Reschedule(c.Request().Context(), id, date, req.ScheduleTime, req.Notes)
	if err != nil {
		return err
	}
	return httpx.Created(c, "Immunization rescheduled", im)
}

func (h *Handler) Delete(c echo.Context) error {
	id, err := httpx.ParamID(c, "id")
	if err != nil {
		return err
	}
	if err := h.svc.Delete(c.Request().Context(), id); err != nil {
		return err
	}
	return httpx.OK(c, "Immunization deleted", nil)
}
