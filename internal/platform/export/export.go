// Package export builds CSV and XLSX downloads for reports: daily
// reconciliation sheets, payment histories and fertility statistics.
package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/xuri/excelize/v2"
)

const (
	csvContentType  = "text/csv; charset=utf-8"
	xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// WriteCSVTo writes rows to w in RFC 4180 form. Fields containing commas,
// quotes or newlines are quoted and escaped by the writer.
func WriteCSVTo(w io.Writer, rows [][]string) error {
	cw := csv.NewWriter(w)
	for _, row := range rows {
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// CSVBytes renders rows as a CSV document in memory.
func CSVBytes(rows [][]string) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteCSVTo(&buf, rows); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// CSV sends rows as a CSV attachment on the response.
func CSV(c echo.Context, filename string, rows [][]string) error {
	c.Response().Header().Set(echo.HeaderContentType, csvContentType)
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", filename))
	c.Response().WriteHeader(http.StatusOK)
	return WriteCSVTo(c.Response(), rows)
}

// NewWorkbook builds a single-sheet workbook with a header row followed by
// data rows. The caller owns the returned file and must Close it.
func NewWorkbook(sheet string, headers []string, rows [][]interface{}) (*excelize.File, error) {
	f := excelize.NewFile()
	if sheet != "Sheet1" {
		if err := f.SetSheetName("Sheet1", sheet); err != nil {
			f.Close()
			return nil, fmt.Errorf("name sheet: %w", err)
		}
	}

	for col, h := range headers {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			f.Close()
			return nil, err
		}
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			f.Close()
			return nil, err
		}
	}
	for r, row := range rows {
		for col, v := range row {
			cell, err := excelize.CoordinatesToCellName(col+1, r+2)
			if err != nil {
				f.Close()
				return nil, err
			}
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				f.Close()
				return nil, err
			}
		}
	}
	return f, nil
}

// XLSX sends a single-sheet workbook as an attachment on the response.
func XLSX(c echo.Context, filename, sheet string, headers []string, rows [][]interface{}) error {
	f, err := NewWorkbook(sheet, headers, rows)
	if err != nil {
		return err
	}
	defer f.Close()

	c.Response().Header().Set(echo.HeaderContentType, xlsxContentType)
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", filename))
	c.Response().WriteHeader(http.StatusOK)
	return f.Write(c.Response())
}
