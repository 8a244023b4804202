package prenatal

import (
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/mchcare/mchcare/internal/platform/auth"
	"github.com/mchcare/mchcare/internal/platform/httpx"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(auth.ClinicalStaff...))
	read.GET("/prenatal-records/:id", h.Get)
	read.GET("/prenatal-records/:id/checkups", h.ListVisits)
	read.GET("/patients/:patient_id/prenatal-records", h.ListByPatient)
	read.GET("/prenatal-checkups/:id", h.GetVisit)
	read.GET("/checkups/:id/prenatal-checkups", h.ListByCheckup)
	read.PUT("/prenatal-checkups/:id", h.RecordVisit)

	write := api.Group("", auth.RequireRole(auth.RoleMidwife))
	write.POST("/prenatal-records", h.Create)
	write.PUT("/prenatal-records/:id/status", h.UpdateStatus)
}

type createRequest struct {
	PatientID           uuid.UUID `json:"patient_id"`
	LastMenstrualPeriod string    `json:"last_menstrual_period"`
	Gravida             *int      `json:"gravida"`
	Para                *int      `json:"para"`
	Status              string    `json:"status"`
	Notes               string    `json:"notes"`
}

type statusRequest struct {
	Status string `json:"status"`
}

type recordRequest struct {
	WeightKG         *decimal.Decimal `json:"weight_kg"`
	BloodPressure    string           `json:"blood_pressure"`
	FetalHeartRate   *int             `json:"fetal_heart_rate"`
	FundalHeightCM   *decimal.Decimal `json:"fundal_height_cm"`
	GestationalWeeks *int             `json:"gestational_weeks"`
	Findings         string           `json:"findings"`
}

func (h *Handler) Create(c echo.Context) error {
	var req createRequest
	if err := httpx.Bind(c, &req); err != nil {
		return err
	}
	lmp, err := httpx.ParseDate("last_menstrual_period", req.LastMenstrualPeriod)
	if err != nil {
		return err
	}
	rec, err := h.svc.Create(c.Request().Context(), CreateInput{
		PatientID:           req.PatientID,
		LastMenstrualPeriod: lmp,
		Gravida:             req.Gravida,
		Para:                req.Para,
		Status:              req.Status,
		Notes:               req.Notes,
	})
	if err != nil {
		return err
	}
	return httpx.Created(c, "Prenatal record created", rec)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := httpx.ParamID(c, "id")
	if err != nil {
		return err
	}
	rec, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return httpx.OK(c, "", rec)
}

func (h *Handler) ListByPatient(c echo.Context) error {
	patientID, err := httpx.ParamID(c, "patient_id")
	if err != nil {
		return err
	}
	items, err := h.svc.ListByPatient(c.Request().Context(), patientID)
	if err != nil {
		return err
	}
	return httpx.OK(c, "", items)
}

func (h *Handler) UpdateStatus(c echo.Context) error {
	id, err := httpx.ParamID(c, "id")
	if err != nil {
		return err
	}
	var req statusRequest
	if err := httpx.Bind(c, &req); err != nil {
		return err
	}
	rec, err := h.svc.UpdateStatus(c.Request().Context(), id, req.Status)
	if err != nil {
		return err
	}
	return httpx.OK(c, "Prenatal record status updated", rec)
}

func (h *Handler) GetVisit(c echo.Context) error {
	id, err := httpx.ParamID(c, "id")
	if err != nil {
		return err
	}
	v, err := h.svc.GetVisit(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return httpx.OK(c, "", v)
}

func (h *Handler) ListByCheckup(c echo.Context) error {
	checkupID, err := httpx.ParamID(c, "id")
	if err != nil {
		return err
	}
	items, err := h.svc.ListByCheckup(c.Request().Context(), checkupID)
	if err != nil {
		return err
	}
	return httpx.OK(c, "", items)
}

func (h *Handler) ListVisits(c echo.Context) error {
	id, err := httpx.ParamID(c, "id")
	if err != nil {
		return err
	}
	items, err := h.svc.ListVisits(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return httpx.OK(c, "", items)
}

func (h *Handler) RecordVisit(c echo.Context) error {
	id, err := httpx.ParamID(c, "id")
	if err != nil {
		return err
	}
	var req recordRequest
	if err := httpx.Bind(c, &req); err != nil {
		return err
	}
	v, err := h.svc.Record(c.Request().Context(), id, Observations(req))
	if err != nil {
		return err
	}
	return httpx.OK(c, "Prenatal checkup recorded", v)
}
