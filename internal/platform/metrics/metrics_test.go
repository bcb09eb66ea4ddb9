package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestHTTPMetrics_Middleware(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewHTTPMetrics(reg)

	e := echo.New()
	e.Use(m.Middleware())
	e.GET("/api/v1/patients/:id", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/patients/abc", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	got := testutil.ToFloat64(m.requestsTotal.WithLabelValues("GET", "/api/v1/patients/:id", "200"))
	require.Equal(t, float64(1), got)
}

func TestHTTPMetrics_MiddlewareHTTPError(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewHTTPMetrics(reg)

	e := echo.New()
	e.Use(m.Middleware())
	e.GET("/api/v1/visits/:id", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusConflict, "visit is closed")
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/visits/v1", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	got := testutil.ToFloat64(m.requestsTotal.WithLabelValues("GET", "/api/v1/visits/:id", "409"))
	require.Equal(t, float64(1), got)
}

func TestHTTPMetrics_MiddlewarePlainError(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewHTTPMetrics(reg)

	e := echo.New()
	e.Use(m.Middleware())
	e.GET("/boom", func(c echo.Context) error {
		return errors.New("boom")
	})

	req := httptest.NewRequest(http.MethodGet, "/boom", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	got := testutil.ToFloat64(m.requestsTotal.WithLabelValues("GET", "/boom", "500"))
	require.Equal(t, float64(1), got)
}

func TestClinicMetrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewClinicMetrics(reg)

	m.ObserveOTPIssued("sms")
	m.ObserveOTPIssued("sms")
	m.ObserveOTPVerified("success")
	m.ObservePayment("consultation", "cash")
	m.ObserveDispense()
	m.ObserveBackupRun("COMPLETED")
	m.SetWSClients(3)

	require.Equal(t, float64(2), testutil.ToFloat64(m.otpIssued.WithLabelValues("sms")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.otpVerified.WithLabelValues("success")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.paymentsTotal.WithLabelValues("consultation", "cash")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.dispensesTotal))
	require.Equal(t, float64(1), testutil.ToFloat64(m.backupRuns.WithLabelValues("COMPLETED")))
	require.Equal(t, float64(3), testutil.ToFloat64(m.wsClients))
}

func TestClinicMetrics_NilSafe(t *testing.T) {
	var m *ClinicMetrics
	m.ObserveOTPIssued("sms")
	m.ObserveOTPVerified("failed")
	m.ObservePayment("registration", "card")
	m.ObserveDispense()
	m.ObserveBackupRun("FAILED")
	m.SetWSClients(0)
}

func TestHandlerFor_ServesRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewClinicMetrics(reg)
	m.ObserveOTPIssued("email")

	e := echo.New()
	e.GET("/metrics", HandlerFor(reg))

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "hms_auth_otp_issued_total")
}
