// Package metrics exposes Prometheus instrumentation for the HTTP layer and
// for clinic-level business events.
package metrics

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTPMetrics exposes counters/histograms for the request pipeline.
type HTTPMetrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

func NewHTTPMetrics(reg prometheus.Registerer) *HTTPMetrics {
	m := &HTTPMetrics{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hms",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests by route and status",
		}, []string{"method", "path", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "hms",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.requestsTotal, m.requestDuration)
	return m
}

// Middleware records request count and latency per route template. The route
// template (not the raw URL) keeps label cardinality bounded.
func (m *HTTPMetrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if m == nil {
				return next(c)
			}
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				} else {
					status = 500
				}
			}
			path := c.Path()
			if path == "" {
				path = "unmatched"
			}
			method := c.Request().Method
			m.requestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
			m.requestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// ClinicMetrics exposes counters for domain events: logins, payments,
// dispensing and backup runs.
type ClinicMetrics struct {
	otpIssued      *prometheus.CounterVec
	otpVerified    *prometheus.CounterVec
	paymentsTotal  *prometheus.CounterVec
	dispensesTotal prometheus.Counter
	backupRuns     *prometheus.CounterVec
	wsClients      prometheus.Gauge
}

func NewClinicMetrics(reg prometheus.Registerer) *ClinicMetrics {
	m := &ClinicMetrics{
		otpIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hms",
			Subsystem: "auth",
			Name:      "otp_issued_total",
			Help:      "Total login codes issued by channel",
		}, []string{"channel"}),
		otpVerified: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hms",
			Subsystem: "auth",
			Name:      "otp_verified_total",
			Help:      "Total login code verifications by outcome",
		}, []string{"outcome"}),
		paymentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hms",
			Subsystem: "billing",
			Name:      "payments_recorded_total",
			Help:      "Total payments recorded by purpose and method",
		}, []string{"purpose", "method"}),
		dispensesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hms",
			Subsystem: "pharmacy",
			Name:      "dispenses_total",
			Help:      "Total prescription dispense events",
		}),
		backupRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hms",
			Subsystem: "backup",
			Name:      "runs_total",
			Help:      "Total backup runs by terminal status",
		}, []string{"status"}),
		wsClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "hms",
			Subsystem: "events",
			Name:      "ws_clients",
			Help:      "Currently connected websocket clients",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.otpIssued, m.otpVerified, m.paymentsTotal, m.dispensesTotal, m.backupRuns, m.wsClients)
	return m
}

func (m *ClinicMetrics) ObserveOTPIssued(channel string) {
	if m == nil {
		return
	}
	m.otpIssued.WithLabelValues(channel).Inc()
}

func (m *ClinicMetrics) ObserveOTPVerified(outcome string) {
	if m == nil {
		return
	}
	m.otpVerified.WithLabelValues(outcome).Inc()
}

func (m *ClinicMetrics) ObservePayment(purpose, method string) {
	if m == nil {
		return
	}
	m.paymentsTotal.WithLabelValues(purpose, method).Inc()
}

func (m *ClinicMetrics) ObserveDispense() {
	if m == nil {
		return
	}
	m.dispensesTotal.Inc()
}

func (m *ClinicMetrics) ObserveBackupRun(status string) {
	if m == nil {
		return
	}
	m.backupRuns.WithLabelValues(status).Inc()
}

func (m *ClinicMetrics) SetWSClients(n int) {
	if m == nil {
		return
	}
	m.wsClients.Set(float64(n))
}

// Handler serves the default registry in the Prometheus text format.
func Handler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.Handler())
}

// HandlerFor serves a specific gatherer, used when the server owns its own
// registry.
func HandlerFor(g prometheus.Gatherer) echo.HandlerFunc {
	return echo.WrapHandler(promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
}
