package billing

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

func TestHandler_CreateInvoice_BadAmount(t *testing.T) {
	env := newTestEnv(t)
	h := NewHandler(env.svc)
	e := newEcho()
	visitID := seedVisit(t, env)

	_, c := doJSON(e, http.MethodPost, "/api/v1/visits/"+visitID.String()+"/invoices",
		`{"category":"laboratory","amount":"forty"}`)
	c.SetParamNames("id")
	c.SetParamValues(visitID.String())
	err := h.CreateInvoice(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}

func TestHandler_RecordPayment_ThenVisitBilling(t *testing.T) {
	env := newTestEnv(t)
	h := NewHandler(env.svc)
	e := newEcho()
	visitID := seedVisit(t, env)
	reg := invoiceByCategory(t, env, visitID, CategoryRegistration)

	rec, c := doJSON(e, http.MethodPost, "/api/v1/invoices/"+reg.ID.String()+"/payments",
		`{"amount":"2000","method":"cash"}`)
	c.SetParamNames("id")
	c.SetParamValues(reg.ID.String())
	if err := h.RecordPayment(c); err != nil {
		t.Fatalf("RecordPayment: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var paid Payment
	json.Unmarshal(rec.Body.Bytes(), &paid)
	if paid.Method != MethodCash || !paid.Amount.Equal(decimal.NewFromInt(2000)) {
		t.Errorf("unexpected payment body: %+v", paid)
	}

	rec, c = doJSON(e, http.MethodGet, "/api/v1/visits/"+visitID.String()+"/billing", "")
	c.SetParamNames("id")
	c.SetParamValues(visitID.String())
	if err := h.VisitBilling(c); err != nil {
		t.Fatalf("VisitBilling: %v", err)
	}
	var vb VisitBilling
	json.Unmarshal(rec.Body.Bytes(), &vb)
	if len(vb.Invoices) != 2 || len(vb.Payments) != 1 {
		t.Fatalf("expected 2 invoices and 1 payment, got %d/%d", len(vb.Invoices), len(vb.Payments))
	}
	if !vb.Outstanding.Equal(decimal.NewFromInt(5000)) {
		t.Errorf("expected 5000 outstanding, got %s", vb.Outstanding)
	}
}

func TestHandler_RecordPayment_ShortWallet409(t *testing.T) {
	env := newTestEnv(t)
	h := NewHandler(env.svc)
	e := newEcho()
	visitID := seedVisit(t, env)
	reg := invoiceByCategory(t, env, visitID, CategoryRegistration)
	env.wallet.err = ErrInsufficientFunds

	_, c := doJSON(e, http.MethodPost, "/api/v1/invoices/"+reg.ID.String()+"/payments",
		`{"amount":"2000","method":"wallet"}`)
	c.SetParamNames("id")
	c.SetParamValues(reg.ID.String())
	err := h.RecordPayment(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %v", err)
	}
}

func TestHandler_Waive(t *testing.T) {
	env := newTestEnv(t)
	h := NewHandler(env.svc)
	e := newEcho()
	visitID := seedVisit(t, env)
	reg := invoiceByCategory(t, env, visitID, CategoryRegistration)

	rec, c := doJSON(e, http.MethodPost, "/api/v1/invoices/"+reg.ID.String()+"/waive", "")
	c.SetParamNames("id")
	c.SetParamValues(reg.ID.String())
	if err := h.WaiveInvoice(c); err != nil {
		t.Fatalf("WaiveInvoice: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var inv Invoice
	json.Unmarshal(rec.Body.Bytes(), &inv)
	if inv.Status != InvoiceWaived {
		t.Errorf("expected WAIVED, got %s", inv.Status)
	}
}

func TestHandler_Today_Absent404(t *testing.T) {
	env := newTestEnv(t)
	h := NewHandler(env.svc)
	e := newEcho()

	_, c := doJSON(e, http.MethodGet, "/api/v1/billing/reconciliations/today", "")
	err := h.Today(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %v", err)
	}
}

func TestHandler_CreateReconciliation_Duplicate409(t *testing.T) {
	env := newTestEnv(t)
	h := NewHandler(env.svc)
	e := newEcho()

	rec, c := doJSON(e, http.MethodPost, "/api/v1/billing/reconciliations", `{}`)
	if err := h.CreateReconciliation(c); err != nil {
		t.Fatalf("CreateReconciliation: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}

	_, c = doJSON(e, http.MethodPost, "/api/v1/billing/reconciliations", `{}`)
	err := h.CreateReconciliation(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %v", err)
	}
}

func TestHandler_Finalize_Unconfirmed400(t *testing.T) {
	env := newTestEnv(t)
	h := NewHandler(env.svc)
	e := newEcho()

	rec, err := env.svc.CreateReconciliation(context.Background(), testClock, false, nil, uuid.New())
	if err != nil {
		t.Fatalf("CreateReconciliation: %v", err)
	}

	_, c := doJSON(e, http.MethodPost, "/api/v1/billing/reconciliations/"+rec.ID.String()+"/finalize",
		`{"confirmed":false,"counted_cash":"0"}`)
	c.SetParamNames("id")
	c.SetParamValues(rec.ID.String())
	herr := h.Finalize(c)
	he, ok := herr.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", herr)
	}
}

func TestHandler_Export_CSV(t *testing.T) {
	env := newTestEnv(t)
	h := NewHandler(env.svc)
	e := newEcho()
	visitID := seedVisit(t, env)
	pay(t, env, invoiceByCategory(t, env, visitID, CategoryRegistration).ID, 2000, MethodCash)

	rec, err := env.svc.CreateReconciliation(context.Background(), testClock, false, nil, uuid.New())
	if err != nil {
		t.Fatalf("CreateReconciliation: %v", err)
	}

	res, c := doJSON(e, http.MethodGet, "/api/v1/billing/reconciliations/"+rec.ID.String()+"/export", "")
	c.SetParamNames("id")
	c.SetParamValues(rec.ID.String())
	if err := h.Export(c); err != nil {
		t.Fatalf("Export: %v", err)
	}
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if ct := res.Header().Get(echo.HeaderContentType); !strings.HasPrefix(ct, "text/csv") {
		t.Errorf("unexpected content type %q", ct)
	}
	if cd := res.Header().Get(echo.HeaderContentDisposition); !strings.Contains(cd, "reconciliation-2026-03-14.csv") {
		t.Errorf("unexpected disposition %q", cd)
	}
	body := res.Body.String()
	for _, want := range []string{"Field,Value", "Total Cash,2000.00", "Expected Cash,2000.00"} {
		if !strings.Contains(body, want) {
			t.Errorf("export missing %q:\n%s", want, body)
		}
	}
}

func TestHandler_Export_BadFormat(t *testing.T) {
	env := newTestEnv(t)
	h := NewHandler(env.svc)
	e := newEcho()

	rec, err := env.svc.CreateReconciliation(context.Background(), testClock, false, nil, uuid.New())
	if err != nil {
		t.Fatalf("CreateReconciliation: %v", err)
	}

	_, c := doJSON(e, http.MethodGet, "/api/v1/billing/reconciliations/"+rec.ID.String()+"/export?format=pdf", "")
	c.SetParamNames("id")
	c.SetParamValues(rec.ID.String())
	herr := h.Export(c)
	he, ok := herr.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", herr)
	}
}
