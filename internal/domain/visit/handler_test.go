package visit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/medcore/hms/internal/platform/auth"
	"github.com/medcore/hms/internal/platform/validate"
)

func newEcho() *echo.Echo {
	e := echo.New()
	e.Validator = validate.New()
	return e
}

// doJSON builds an echo context with req body and a receptionist session.
func doJSON(e *echo.Echo, method, path, body string) (*httptest.ResponseRecorder, echo.Context) {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)

	ctx := context.WithValue(req.Context(), auth.UserIDKey, uuid.New().String())
	ctx = context.WithValue(ctx, auth.UserRolesKey, []string{auth.RoleReceptionist})
	req = req.WithContext(ctx)

	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	return rec, c
}

func TestHandler_CreateAndGet(t *testing.T) {
	env := newTestEnv(t)
	h := NewHandler(env.svc)
	e := newEcho()

	patientID := uuid.New()
	rec, c := doJSON(e, http.MethodPost, "/api/v1/visits",
		`{"patient_id":"`+patientID.String()+`","reason":"checkup"}`)
	if err := h.Create(c); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}

	var created Visit
	json.Unmarshal(rec.Body.Bytes(), &created)
	if created.Status != StatusOpen {
		t.Errorf("expected OPEN, got %s", created.Status)
	}

	rec, c = doJSON(e, http.MethodGet, "/api/v1/visits/"+created.ID.String(), "")
	c.SetParamNames("id")
	c.SetParamValues(created.ID.String())
	if err := h.Get(c); err != nil {
		t.Fatalf("Get: %v", err)
	}
	var body map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if _, ok := body["payment_gates"]; !ok {
		t.Error("expected payment_gates on single visit reads")
	}
}

func TestHandler_Create_MissingPatient(t *testing.T) {
	env := newTestEnv(t)
	h := NewHandler(env.svc)
	e := newEcho()

	_, c := doJSON(e, http.MethodPost, "/api/v1/visits", `{"reason":"checkup"}`)
	err := h.Create(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}

func TestHandler_Get_Unknown404(t *testing.T) {
	env := newTestEnv(t)
	h := NewHandler(env.svc)
	e := newEcho()

	_, c := doJSON(e, http.MethodGet, "/api/v1/visits/x", "")
	c.SetParamNames("id")
	c.SetParamValues(uuid.New().String())
	err := h.Get(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %v", err)
	}
}

func TestHandler_Close_OutstandingBalance409(t *testing.T) {
	env := newTestEnv(t)
	v := openVisit(t, env)
	env.biller.balance = decimal.NewFromInt(1500)
	h := NewHandler(env.svc)
	e := newEcho()

	_, c := doJSON(e, http.MethodPost, "/api/v1/visits/x/close", "")
	c.SetParamNames("id")
	c.SetParamValues(v.ID.String())
	err := h.Close(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %v", err)
	}
}

func TestHandler_Consultation_Gate403(t *testing.T) {
	env := newTestEnv(t)
	v := openVisit(t, env)
	h := NewHandler(env.svc)
	e := newEcho()

	_, c := doJSON(e, http.MethodPost, "/api/v1/visits/x/consultation", `{"complaint":"fever"}`)
	c.SetParamNames("id")
	c.SetParamValues(v.ID.String())
	err := h.CreateConsultation(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %v", err)
	}
}

func TestHandler_Consultation_MissingIs404(t *testing.T) {
	env := newTestEnv(t)
	v := openVisit(t, env)
	env.biller.gates = Gates{RegistrationPaid: true}
	h := NewHandler(env.svc)
	e := newEcho()

	_, c := doJSON(e, http.MethodGet, "/api/v1/visits/x/consultation", "")
	c.SetParamNames("id")
	c.SetParamValues(v.ID.String())
	err := h.GetConsultation(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for a not-yet-written note, got %v", err)
	}
}

func TestHandler_UpdateConsultation_Stale409(t *testing.T) {
	env := newTestEnv(t)
	v := openVisit(t, env)
	env.biller.gates = Gates{RegistrationPaid: true, ConsultationPaid: true}
	h := NewHandler(env.svc)
	e := newEcho()

	_, c := doJSON(e, http.MethodPost, "/api/v1/visits/x/consultation", `{"complaint":"fever"}`)
	c.SetParamNames("id")
	c.SetParamValues(v.ID.String())
	if err := h.CreateConsultation(c); err != nil {
		t.Fatalf("CreateConsultation: %v", err)
	}

	// Save once at version 1.
	_, c = doJSON(e, http.MethodPut, "/api/v1/visits/x/consultation",
		`{"diagnosis":"malaria","version":1}`)
	c.SetParamNames("id")
	c.SetParamValues(v.ID.String())
	if err := h.UpdateConsultation(c); err != nil {
		t.Fatalf("UpdateConsultation: %v", err)
	}

	// Replaying version 1 conflicts.
	_, c = doJSON(e, http.MethodPut, "/api/v1/visits/x/consultation",
		`{"diagnosis":"typhoid","version":1}`)
	c.SetParamNames("id")
	c.SetParamValues(v.ID.String())
	err := h.UpdateConsultation(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %v", err)
	}
}

func TestHandler_UpdateConsultation_VersionRequired(t *testing.T) {
	env := newTestEnv(t)
	v := openVisit(t, env)
	h := NewHandler(env.svc)
	e := newEcho()

	_, c := doJSON(e, http.MethodPut, "/api/v1/visits/x/consultation", `{"diagnosis":"malaria"}`)
	c.SetParamNames("id")
	c.SetParamValues(v.ID.String())
	err := h.UpdateConsultation(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without version, got %v", err)
	}
}

func TestHandler_List_FiltersByStatus(t *testing.T) {
	env := newTestEnv(t)
	v := openVisit(t, env)
	openVisit(t, env)
	if _, err := env.svc.Close(context.Background(), v.ID, uuid.New()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	h := NewHandler(env.svc)
	e := newEcho()

	rec, c := doJSON(e, http.MethodGet, "/api/v1/visits?status=OPEN", "")
	if err := h.List(c); err != nil {
		t.Fatalf("List: %v", err)
	}
	var body struct {
		Total int `json:"total"`
	}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Total != 1 {
		t.Errorf("expected 1 open visit, got %d", body.Total)
	}
}
