package checkup

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/mchcare/mchcare/internal/platform/auth"
	"github.com/mchcare/mchcare/internal/platform/httpx"
)

func newTestServer(f *fixture, sweeper *Sweeper, roles ...string) *echo.Echo {
	e := echo.New()
	e.HTTPErrorHandler = httpx.ErrorHandler(zerolog.Nop())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := auth.WithUser(c.Request().Context(), "u-3", "Midwife Cruz", roles...)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	})
	NewHandler(f.svc, sweeper).RegisterRoutes(e.Group("/api/v1"))
	return e
}

func do(e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) Checkup {
	t.Helper()
	var env struct {
		Data Checkup `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return env.Data
}

func TestHandler_ScheduleThenComplete(t *testing.T) {
	f := newFixture()
	e := newTestServer(f, nil, auth.RoleMidwife)

	rec := do(e, http.MethodPost, "/api/v1/checkups",
		`{"kind":"schedule","patient_id":"`+f.patient.ID.String()+`","checkup_date":"2025-06-01","checkup_time":"08:00"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("schedule: %d %s", rec.Code, rec.Body.String())
	}
	ck := decode(t, rec)
	if ck.Status != StatusUpcoming {
		t.Errorf("status = %q", ck.Status)
	}

	rec = do(e, http.MethodPost, "/api/v1/checkups",
		`{"kind":"complete","patient_id":"`+f.patient.ID.String()+`","checkup_date":"2025-06-01","weight_kg":"58.2","blood_pressure":"110/70","fetal_heart_rate":140}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("complete: %d %s", rec.Code, rec.Body.String())
	}
	done := decode(t, rec)
	if done.ID != ck.ID || done.Status != StatusDone || done.ConductedBy != "Midwife Cruz" {
		t.Errorf("unexpected completion: %+v", done)
	}
	if !strings.Contains(rec.Body.String(), "Checkup recorded") {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestHandler_SecondUpcomingIs409(t *testing.T) {
	f := newFixture()
	f.schedule(day(2025, 6, 1))
	e := newTestServer(f, nil, auth.RoleNurse)

	rec := do(e, http.MethodPost, "/api/v1/checkups",
		`{"kind":"schedule","patient_id":"`+f.patient.ID.String()+`","checkup_date":"2025-06-10"}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "2025-06-01") {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestHandler_BadDateIs422(t *testing.T) {
	f := newFixture()
	e := newTestServer(f, nil, auth.RoleMidwife)

	rec := do(e, http.MethodPost, "/api/v1/checkups",
		`{"kind":"schedule","patient_id":"`+f.patient.ID.String()+`","checkup_date":"06/10/2025"}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422, got %d", rec.Code)
	}
}

func TestHandler_MissedAndReschedule(t *testing.T) {
	f := newFixture()
	c := f.schedule(f.now)
	e := newTestServer(f, nil, auth.RoleHealthcareWorker)

	rec := do(e, http.MethodPost, "/api/v1/checkups/"+c.ID.String()+"/missed", `{"reason":"typhoon"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("missed: %d %s", rec.Code, rec.Body.String())
	}
	if got := decode(t, rec); got.MissedReason != "typhoon" {
		t.Errorf("missed_reason = %q", got.MissedReason)
	}

	rec = do(e, http.MethodPost, "/api/v1/checkups/"+c.ID.String()+"/reschedule", `{"checkup_date":"2025-06-05","checkup_time":"10:00"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("reschedule: %d %s", rec.Code, rec.Body.String())
	}
	next := decode(t, rec)
	if next.RescheduledFromID == nil || *next.RescheduledFromID != c.ID {
		t.Errorf("missing back link: %+v", next)
	}

	rec = do(e, http.MethodGet, "/api/v1/patients/"+f.patient.ID.String()+"/checkups", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("history: %d", rec.Code)
	}
	var env struct {
		Data []Checkup `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatal(err)
	}
	if len(env.Data) != 2 {
		t.Errorf("expected 2 history rows, got %d", len(env.Data))
	}
}

func TestHandler_DeleteRequiresMidwife(t *testing.T) {
	f := newFixture()
	c := f.schedule(day(2025, 6, 3))

	rec := do(newTestServer(f, nil, auth.RoleHealthcareWorker), http.MethodDelete, "/api/v1/checkups/"+c.ID.String(), "")
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rec.Code)
	}
	rec = do(newTestServer(f, nil, auth.RoleMidwife), http.MethodDelete, "/api/v1/checkups/"+c.ID.String(), "")
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestHandler_Sweep(t *testing.T) {
	f := newFixture()
	f.schedule(f.now)

	if rec := do(newTestServer(f, nil, auth.RoleAdmin), http.MethodPost, "/api/v1/checkups/sweep", ""); rec.Code == http.StatusOK {
		t.Error("sweep route must not exist without a sweeper")
	}

	s := newSweeper(f, time.Date(2025, 6, 1, 20, 0, 0, 0, manila))
	rec := do(newTestServer(f, s, auth.RoleAdmin), http.MethodPost, "/api/v1/checkups/sweep", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("sweep: %d %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"marked_missed":1`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}
