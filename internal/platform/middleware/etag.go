package middleware

import (
	"bytes"
	"crypto/md5"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// ETagConfig controls cache validation headers on GET responses.
type ETagConfig struct {
	// MaxAge is the Cache-Control max-age in seconds.
	MaxAge int
	// Private marks responses private; patient data must never land in
	// shared caches.
	Private bool
	// VaryHeaders are echoed in the Vary header so caches key on them.
	VaryHeaders []string
	// ExcludePaths are skipped entirely. The websocket endpoint must be
	// listed here: the buffering writer cannot hijack the connection.
	ExcludePaths []string
}

// DefaultETagConfig returns validation settings suited to an authenticated
// clinical API: short-lived, private, varying on the caller's token.
func DefaultETagConfig() ETagConfig {
	return ETagConfig{
		MaxAge:      60,
		Private:     true,
		VaryHeaders: []string{"Accept", "Authorization"},
	}
}

// ETag returns middleware that buffers GET responses, attaches a weak ETag
// and Cache-Control headers, and answers If-None-Match revalidations with
// 304 so polling dashboards stop re-downloading unchanged lists.
func ETag(config ETagConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if req.Method != http.MethodGet && req.Method != http.MethodHead {
				return next(c)
			}
			if excludedPath(req.URL.Path, config.ExcludePaths) {
				return next(c)
			}

			res := c.Response()
			origWriter := res.Writer
			buf := newBufferedResponseWriter(origWriter)
			res.Writer = buf

			if err := next(c); err != nil {
				res.Writer = origWriter
				return err
			}
			res.Writer = origWriter

			// Error responses pass through without cache headers.
			if buf.statusCode >= 400 {
				return buf.flushTo()
			}

			res.Header().Set("Cache-Control", cacheControl(config))
			if len(config.VaryHeaders) > 0 {
				res.Header().Set("Vary", strings.Join(config.VaryHeaders, ", "))
			}

			etag := computeETag(buf.buf.Bytes())
			res.Header().Set("ETag", etag)
			if match := req.Header.Get("If-None-Match"); match != "" && etagMatch(match, etag) {
				origWriter.WriteHeader(http.StatusNotModified)
				return nil
			}
			return buf.flushTo()
		}
	}
}

// bufferedResponseWriter captures the response so the ETag can be computed
// before anything reaches the client.
type bufferedResponseWriter struct {
	writer     http.ResponseWriter
	buf        bytes.Buffer
	statusCode int
}

func newBufferedResponseWriter(w http.ResponseWriter) *bufferedResponseWriter {
	return &bufferedResponseWriter{writer: w, statusCode: http.StatusOK}
}

func (w *bufferedResponseWriter) Header() http.Header {
	return w.writer.Header()
}

func (w *bufferedResponseWriter) Write(b []byte) (int, error) {
	return w.buf.Write(b)
}

func (w *bufferedResponseWriter) WriteHeader(code int) {
	w.statusCode = code
}

func (w *bufferedResponseWriter) Flush() {}

func (w *bufferedResponseWriter) flushTo() error {
	w.writer.WriteHeader(w.statusCode)
	_, err := w.writer.Write(w.buf.Bytes())
	return err
}

func computeETag(body []byte) string {
	hash := md5.Sum(body)
	return fmt.Sprintf(`W/"%x"`, hash)
}

func excludedPath(path string, excludes []string) bool {
	for _, ex := range excludes {
		if path == ex {
			return true
		}
	}
	return false
}

func cacheControl(config ETagConfig) string {
	scope := "public"
	if config.Private {
		scope = "private"
	}
	return fmt.Sprintf("%s, max-age=%d", scope, config.MaxAge)
}

// etagMatch reports whether an If-None-Match value matches the ETag.
// Comma-separated candidate lists and the wildcard "*" are honored, and
// weak tags compare equal to their strong form.
func etagMatch(headerVal, etag string) bool {
	headerVal = strings.TrimSpace(headerVal)
	if headerVal == "*" {
		return true
	}
	for _, candidate := range strings.Split(headerVal, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == etag {
			return true
		}
		if stripWeakPrefix(candidate) == stripWeakPrefix(etag) {
			return true
		}
	}
	return false
}

func stripWeakPrefix(etag string) string {
	if strings.HasPrefix(etag, `W/`) {
		return etag[2:]
	}
	return etag
}
