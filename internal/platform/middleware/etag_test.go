package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func etagHandler(body string) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.String(http.StatusOK, body)
	}
}

func TestETag_SetsHeadersOnGet(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/drugs", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	mw := ETag(DefaultETagConfig())
	if err := mw(etagHandler("drug list"))(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if etag := rec.Header().Get("ETag"); !strings.HasPrefix(etag, `W/"`) {
		t.Errorf("ETag = %q, want a weak tag", etag)
	}
	cc := rec.Header().Get("Cache-Control")
	if !strings.Contains(cc, "private") || !strings.Contains(cc, "max-age=60") {
		t.Errorf("Cache-Control = %q", cc)
	}
	if vary := rec.Header().Get("Vary"); !strings.Contains(vary, "Authorization") {
		t.Errorf("Vary = %q, want Authorization listed", vary)
	}
	if rec.Body.String() != "drug list" {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestETag_RevalidationReturns304(t *testing.T) {
	e := echo.New()
	mw := ETag(DefaultETagConfig())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/drugs", nil)
	rec := httptest.NewRecorder()
	if err := mw(etagHandler("drug list"))(e.NewContext(req, rec)); err != nil {
		t.Fatalf("first request: %v", err)
	}
	etag := rec.Header().Get("ETag")

	req = httptest.NewRequest(http.MethodGet, "/api/v1/drugs", nil)
	req.Header.Set("If-None-Match", etag)
	rec = httptest.NewRecorder()
	if err := mw(etagHandler("drug list"))(e.NewContext(req, rec)); err != nil {
		t.Fatalf("revalidation: %v", err)
	}
	if rec.Code != http.StatusNotModified {
		t.Errorf("status = %d, want 304", rec.Code)
	}
	if rec.Body.Len() != 0 {
		t.Errorf("304 carried a body: %q", rec.Body.String())
	}
}

func TestETag_ChangedBodyMisses(t *testing.T) {
	e := echo.New()
	mw := ETag(DefaultETagConfig())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/drugs", nil)
	rec := httptest.NewRecorder()
	if err := mw(etagHandler("v1"))(e.NewContext(req, rec)); err != nil {
		t.Fatalf("first request: %v", err)
	}
	etag := rec.Header().Get("ETag")

	req = httptest.NewRequest(http.MethodGet, "/api/v1/drugs", nil)
	req.Header.Set("If-None-Match", etag)
	rec = httptest.NewRecorder()
	if err := mw(etagHandler("v2"))(e.NewContext(req, rec)); err != nil {
		t.Fatalf("second request: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 when the body changed", rec.Code)
	}
	if rec.Body.String() != "v2" {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestETag_SkipsWritesAndExcludedPaths(t *testing.T) {
	e := echo.New()
	cfg := DefaultETagConfig()
	cfg.ExcludePaths = []string{"/api/v1/ws"}
	mw := ETag(cfg)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/patients", strings.NewReader("{}"))
	rec := httptest.NewRecorder()
	if err := mw(etagHandler("created"))(e.NewContext(req, rec)); err != nil {
		t.Fatalf("post: %v", err)
	}
	if rec.Header().Get("ETag") != "" {
		t.Error("POST response got an ETag")
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/ws", nil)
	rec = httptest.NewRecorder()
	if err := mw(etagHandler("upgrade"))(e.NewContext(req, rec)); err != nil {
		t.Fatalf("excluded path: %v", err)
	}
	if rec.Header().Get("ETag") != "" {
		t.Error("excluded path got an ETag")
	}
}

func TestETag_ErrorResponsesUntouched(t *testing.T) {
	e := echo.New()
	mw := ETag(DefaultETagConfig())

	handler := func(c echo.Context) error {
		return c.String(http.StatusNotFound, "not found")
	}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/drugs/missing", nil)
	rec := httptest.NewRecorder()
	if err := mw(handler)(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
	if rec.Header().Get("ETag") != "" {
		t.Error("error response got an ETag")
	}
}

func TestETagMatch(t *testing.T) {
	cases := []struct {
		header string
		etag   string
		want   bool
	}{
		{`W/"abc"`, `W/"abc"`, true},
		{`"abc"`, `W/"abc"`, true},
		{`*`, `W/"anything"`, true},
		{`W/"zzz", W/"abc"`, `W/"abc"`, true},
		{`W/"zzz"`, `W/"abc"`, false},
	}
	for _, tc := range cases {
		if got := etagMatch(tc.header, tc.etag); got != tc.want {
			t.Errorf("etagMatch(%q, %q) = %v, want %v", tc.header, tc.etag, got, tc.want)
		}
	}
}
