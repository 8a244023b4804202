package vaccine

import (
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/mchcare/mchcare/internal/platform/apperr"
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
	read := api.Group("/vaccines", auth.RequireRole(auth.ClinicalStaff...))
	read.GET("", h.List)
	read.GET("/low-stock", h.LowStock)
	read.GET("/:id", h.Get)
	read.GET("/:id/movements", h.Movements)

	write := api.Group("/vaccines", auth.RequireRole(auth.RoleMidwife))
	write.POST("", h.Create)
	write.PUT("/:id", h.Update)
	write.POST("/:id/restock", h.Restock)

	admin := api.Group("/vaccines", auth.RequireRole(auth.RoleAdmin))
	admin.DELETE("/:id", h.Delete)
	admin.POST("/:id/adjust", h.Adjust)
}

type vaccineRequest struct {
	Name         string           `json:"name"`
	Category     string           `json:"category"`
	DosageML     *decimal.Decimal `json:"dosage_ml"`
	DoseCount    int              `json:"dose_count"`
	InitialStock int              `json:"initial_stock"`
}

func (r vaccineRequest) toModel() *Vaccine {
	return &Vaccine{Name: r.Name, Category: r.Category, DosageML: r.DosageML, DoseCount: r.DoseCount}
}

type stockRequest struct {
	Quantity int    `json:"quantity"`
	Reason   string `json:"reason"`
}

func (h *Handler) Create(c echo.Context) error {
	var req vaccineRequest
	if err := httpx.Bind(c, &req); err != nil {
		return err
	}
	v := req.toModel()
	if err := h.svc.Create(c.Request().Context(), v, req.InitialStock); err != nil {
		return err
	}
	return httpx.Created(c, "Vaccine created", v)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := httpx.ParamID(c, "id")
	if err != nil {
		return err
	}
	v, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return httpx.OK(c, "", v)
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), c.QueryParam("category"), pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return httpx.OK(c, "", pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) Update(c echo.Context) error {
	id, err := httpx.ParamID(c, "id")
	if err != nil {
		return err
	}
	var req vaccineRequest
	if err := httpx.Bind(c, &req); err != nil {
		return err
	}
	v := req.toModel()
	v.ID = id
	if err := h.svc.Update(c.Request().Context(), v); err != nil {
		return err
	}
	return httpx.OK(c, "Vaccine updated", v)
}

func (h *Handler) Delete(c echo.Context) error {
	id, err := httpx.ParamID(c, "id")
	if err != nil {
		return err
	}
	if err := h.svc.Delete(c.Request().Context(), id); err != nil {
		return err
	}
	return httpx.OK(c, "Vaccine deleted", nil)
}

func (h *Handler) Restock(c echo.Context) error {
	id, err := httpx.ParamID(c, "id")
	if err != nil {
		return err
	}
	var req stockRequest
	if err := httpx.Bind(c, &req); err != nil {
		return err
	}
	mv, err := h.svc.Restock(c.Request().Context(), id, req.Quantity, req.Reason)
	if err != nil {
		return err
	}
	return httpx.Created(c, "Stock updated", mv)
}

func (h *Handler) Adjust(c echo.Context) error {
	id, err := httpx.ParamID(c, "id")
	if err != nil {
		return err
	}
	var req stockRequest
	if err := httpx.Bind(c, &req); err != nil {
		return err
	}
	mv, err := h.svc.Adjust(c.Request().Context(), id, req.Quantity, req.Reason)
	if err != nil {
		return err
	}
	return httpx.Created(c, "Stock adjusted", mv)
}

func (h *Handler) Movements(c echo.Context) error {
	id, err := httpx.ParamID(c, "id")
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.Movements(c.Request().Context(), id, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return httpx.OK(c, "", pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) LowStock(c echo.Context) error {
	threshold := 0
	if raw := c.QueryParam("threshold"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return apperr.Validation("threshold", "must be a positive integer")
		}
		threshold = n
	}
	items, err := h.svc.LowStock(c.Request().Context(), threshold)
	if err != nil {
		return err
	}
	return httpx.OK(c, "", items)
}
