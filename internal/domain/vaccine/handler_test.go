package vaccine

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mchcare/mchcare/internal/platform/auth"
	"github.com/mchcare/mchcare/internal/platform/httpx"
)

func newTestServer(f *fixture, roles ...string) *echo.Echo {
	e := echo.New()
	e.HTTPErrorHandler = httpx.ErrorHandler(zerolog.Nop())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := auth.WithUser(c.Request().Context(), "u-1", "Tester", roles...)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	})
	NewHandler(f.svc).RegisterRoutes(e.Group("/api/v1"))
	return e
}

func do(e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHandler_CreateAndGet(t *testing.T) {
	f := newFixture()
	e := newTestServer(f, auth.RoleMidwife)

	rec := do(e, http.MethodPost, "/api/v1/vaccines", `{"name":"BCG","category":"routine","dosage_ml":"0.05","initial_stock":10}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var env struct {
		Success bool    `json:"success"`
		Data    Vaccine `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.True(t, env.Success)
	assert.Equal(t, 10, env.Data.CurrentStock)
	require.NotNil(t, env.Data.DosageML)
	assert.Equal(t, "0.05", env.Data.DosageML.String())

	rec = do(e, http.MethodGet, "/api/v1/vaccines/"+env.Data.ID.String(), "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandler_ValidationErrorIs422(t *testing.T) {
	f := newFixture()
	e := newTestServer(f, auth.RoleMidwife)

	rec := do(e, http.MethodPost, "/api/v1/vaccines", `{"category":"routine"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), `"name"`)
}

func TestHandler_AdjustRequiresAdmin(t *testing.T) {
	f := newFixture()
	v := f.vaccines.add("OPV", 5)

	rec := do(newTestServer(f, auth.RoleNurse), http.MethodPost, "/api/v1/vaccines/"+v.ID.String()+"/adjust", `{"quantity":-1,"reason":"Broken vial"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(newTestServer(f, auth.RoleAdmin), http.MethodPost, "/api/v1/vaccines/"+v.ID.String()+"/adjust", `{"quantity":-1,"reason":"Broken vial"}`)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, 4, f.vaccines.stock(v.ID))
}

func TestHandler_InsufficientStockIs409(t *testing.T) {
	f := newFixture()
	v := f.vaccines.add("MMR", 1)

	rec := do(newTestServer(f, auth.RoleAdmin), http.MethodPost, "/api/v1/vaccines/"+v.ID.String()+"/adjust", `{"quantity":-2,"reason":"Count"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "insufficient stock for MMR")
}

func TestHandler_LowStockThreshold(t *testing.T) {
	f := newFixture()
	f.vaccines.add("A", 1)
	e := newTestServer(f, auth.RoleNurse)

	assert.Equal(t, http.StatusUnprocessableEntity, do(e, http.MethodGet, "/api/v1/vaccines/low-stock?threshold=abc", "").Code)
	assert.Equal(t, http.StatusOK, do(e, http.MethodGet, "/api/v1/vaccines/low-stock?threshold=5", "").Code)
}

func TestHandler_NotFound(t *testing.T) {
	f := newFixture()
	rec := do(newTestServer(f, auth.RoleNurse), http.MethodGet, "/api/v1/vaccines/6f1c1d3e-6a57-4c8e-9a0b-0d2b8a4c9e11", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
