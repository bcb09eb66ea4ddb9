package export

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestCSVBytes_PlainRows(t *testing.T) {
	rows := [][]string{
		{"Metric", "Value"},
		{"Total Cycles", "10"},
		{"Pregnancy Rate", "33.3%"},
	}
	out, err := CSVBytes(rows)
	require.NoError(t, err)
	require.Contains(t, string(out), "Pregnancy Rate,33.3%\n")
}

func TestCSVBytes_QuotesAndCommas(t *testing.T) {
	rows := [][]string{
		{"notes"},
		{`patient said "fine", discharged`},
		{"line1\nline2"},
	}
	out, err := CSVBytes(rows)
	require.NoError(t, err)

	// The writer must quote fields with embedded commas, quotes and newlines
	// so a reader round-trips them intact.
	require.Contains(t, string(out), `"patient said ""fine"", discharged"`)
	require.Contains(t, string(out), "\"line1\nline2\"")
}

func TestCSV_ResponseHeaders(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/export", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := CSV(c, "reconciliation-2026-03-14.csv", [][]string{{"a", "b"}, {"1", "2"}})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, csvContentType, rec.Header().Get(echo.HeaderContentType))
	require.Contains(t, rec.Header().Get(echo.HeaderContentDisposition), "reconciliation-2026-03-14.csv")
	require.Equal(t, "a,b\n1,2\n", rec.Body.String())
}

func TestNewWorkbook_RoundTrip(t *testing.T) {
	f, err := NewWorkbook("Payments", []string{"Receipt", "Amount"}, [][]interface{}{
		{"RCP-001", 5000.50},
		{"RCP-002", 1200.00},
	})
	require.NoError(t, err)
	defer f.Close()

	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))

	reopened, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer reopened.Close()

	rows, err := reopened.GetRows("Payments")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.Equal(t, []string{"Receipt", "Amount"}, rows[0])
	require.Equal(t, "RCP-001", rows[1][0])
}

func TestXLSX_ResponseHeaders(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/export", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := XLSX(c, "payments.xlsx", "Payments", []string{"Receipt"}, [][]interface{}{{"RCP-001"}})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, xlsxContentType, rec.Header().Get(echo.HeaderContentType))
	require.Contains(t, rec.Header().Get(echo.HeaderContentDisposition), "payments.xlsx")
	require.True(t, strings.HasPrefix(rec.Body.String(), "PK"), "xlsx payload should be a zip archive")
}
