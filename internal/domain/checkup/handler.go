package checkup

import (
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/mchcare/mchcare/internal/platform/auth"
	"github.com/mchcare/mchcare/internal/platform/httpx"
	"github.com/mchcare/mchcare/pkg/pagination"
)

type Handler struct {
	svc     *Service
	sweeper *Sweeper
}

// NewHandler creates the checkup handler. sweeper may be nil, in which case
// the manual sweep endpoint is not registered.
func NewHandler(svc *Service, sweeper *Sweeper) *Handler {
	return &Handler{svc: svc, sweeper: sweeper}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	staff := api.Group("", auth.RequireRole(auth.ClinicalStaff...))
	staff.GET("/checkups", h.List)
	staff.GET("/checkups/:id", h.Get)
	staff.GET("/patients/:patient_id/checkups", h.History)
	staff.POST("/checkups", h.Create)
	staff.PUT("/checkups/:id", h.Update)
	staff.POST("/checkups/:id/missed", h.MarkMissed)
	staff.POST("/checkups/:id/complete", h.MarkCompleted)
	staff.POST("/checkups/:id/cancel", h.Cancel)
	staff.POST("/checkups/:id/reschedule", h.Reschedule)

	manage := api.Group("", auth.RequireRole(auth.RoleMidwife))
	manage.DELETE("/checkups/:id", h.Delete)

	if h.sweeper != nil {
		admin := api.Group("", auth.RequireRole(auth.RoleAdmin))
		admin.POST("/checkups/sweep", h.Sweep)
	}
}

type createRequest struct {
	Kind             Kind       `json:"kind"`
	PatientID        uuid.UUID  `json:"patient_id"`
	PrenatalRecordID *uuid.UUID `json:"prenatal_record_id"`
	Type             string     `json:"checkup_type"`
	Date             string     `json:"checkup_date"`
	Time             string     `json:"checkup_time"`
	Notes            string     `json:"notes"`
	Vitals
}

type updateRequest struct {
	Type   *string `json:"checkup_type"`
	Date   *string `json:"checkup_date"`
	Time   *string `json:"checkup_time"`
	Notes  *string `json:"notes"`
	Vitals *Vitals `json:"vitals"`
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

type rescheduleRequest struct {
	Date  string `json:"checkup_date"`
	Time  string `json:"checkup_time"`
	Notes string `json:"notes"`
}

func (h *Handler) Create(c echo.Context) error {
	var req createRequest
	if err := httpx.Bind(c, &req); err != nil {
		return err
	}
	date, err := httpx.ParseDate("checkup_date", req.Date)
	if err != nil {
		return err
	}
	ck, err := h.svc.Create(c.Request().Context(), CreateInput{
		Kind:             req.Kind,
		PatientID:        req.PatientID,
		PrenatalRecordID: req.PrenatalRecordID,
		Type:             req.Type,
		Date:             date,
		Time:             req.Time,
		Vitals:           req.Vitals,
		Notes:            req.Notes,
	})
	if err != nil {
		return err
	}
	msg := "Checkup scheduled"
	if ck.Status == StatusDone {
		msg = "Checkup recorded"
	}
	return httpx.Created(c, msg, ck)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := httpx.ParamID(c, "id")
	if err != nil {
		return err
	}
	ck, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return httpx.OK(c, "", ck)
}

func (h *Handler) List(c echo.Context) error {
	var f Filter
	var err error
	if f.PatientID, err = httpx.QueryID(c, "patient_id"); err != nil {
		return err
	}
	if f.Date, err = httpx.QueryDate(c, "date"); err != nil {
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

func (h *Handler) History(c echo.Context) error {
	patientID, err := httpx.ParamID(c, "patient_id")
	if err != nil {
		return err
	}
	items, err := h.svc.History(c.Request().Context(), patientID)
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
	ch := Changes{Type: req.Type, Time: req.Time, Notes: req.Notes, Vitals: req.Vitals}
	if req.Date != nil {
		var d time.Time
		if d, err = httpx.ParseDate("checkup_date", *req.Date); err != nil {
			return err
		}
		ch.Date = &d
	}
	ck, err := h.svc.Update(c.Request().Context(), id, ch)
	if err != nil {
		return err
	}
	return httpx.OK(c, "Checkup updated", ck)
}

func (h *Handler) MarkMissed(c echo.Context) error {
	id, err := httpx.ParamID(c, "id")
	if err != nil {
		return err
	}
	var req reasonRequest
	if err := httpx.Bind(c, &req); err != nil {
		return err
	}
	ck, err := h.svc.MarkMissed(c.Request().Context(), id, req.Reason)
	if err != nil {
		return err
	}
	return httpx.OK(c, "Checkup marked as missed", ck)
}

func (h *Handler) MarkCompleted(c echo.Context) error {
	id, err := httpx.ParamID(c, "id")
	if err != nil {
		return err
	}
	ck, err := h.svc.MarkCompleted(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return httpx.OK(c, "Checkup marked as completed", ck)
}

func (h *Handler) Cancel(c echo.Context) error {
	id, err := httpx.ParamID(c, "id")
	if err != nil {
		return err
	}
	var req reasonRequest
	if err := httpx.Bind(c, &req); err != nil {
		return err
	}
	ck, err := h.svc.Cancel(c.Request().Context(), id, req.Reason)
	if err != nil {
		return err
	}
	return httpx.OK(c, "Checkup cancelled", ck)
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
	date, err := httpx.ParseDate("checkup_date", req.Date)
	if err != nil {
		return err
	}
	ck, err := h.svc.Reschedule(c.Request().Context(), id, date, req.Time, req.Notes)
	if err != nil {
		return err
	}
	return httpx.Created(c, "Checkup rescheduled", ck)
}

func (h *Handler) Delete(c echo.Context) error {
	id, err := httpx.ParamID(c, "id")
	if err != nil {
		return err
	}
	if err := h.svc.Delete(c.Request().Context(), id); err != nil {
		return err
	}
	return httpx.OK(c, "Checkup deleted", nil)
}

func (h *Handler) Sweep(c echo.Context) error {
	n, err := h.sweeper.RunOnce(c.Request().Context())
	if err != nil {
		return err
	}
	return httpx.OK(c, "Sweep complete", map[string]int64{"marked_missed": n})
}
