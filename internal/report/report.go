// Package report exports a user's fund collection as CSV, XLSX or JSON and
// computes the dashboard summary.
package report

import (
	"encoding/json"
	"io"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/fundscout/internal/model"
)

// Format is an export file format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
	FormatJSON Format = "json"
)

// ParseFormat maps a user-supplied format name to a Format. Empty means CSV.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatCSV, nil
	case FormatCSV, FormatXLSX, FormatJSON:
		return f, nil
	default:
		return "", eris.Errorf("report: unknown format %q", s)
	}
}

// ContentType returns the MIME type served for the format.
func (f Format) ContentType() string {
	switch f {
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case FormatJSON:
		return "application/json"
	default:
		return "text/csv; charset=utf-8"
	}
}

// FileName returns the download name for an export taken at now,
// e.g. 2026-03-02_fondos.csv.
func FileName(f Format, now time.Time) string {
	return now.Format("2006-01-02") + "_fondos." + string(f)
}

// Write encodes funds to w in the given format.
func Write(w io.Writer, f Format, funds []model.Fund) error {
	switch f {
	case FormatCSV:
		return WriteCSV(w, funds)
	case FormatXLSX:
		return WriteXLSX(w, funds)
	case FormatJSON:
		return WriteJSON(w, funds)
	default:
		return eris.Errorf("report: unknown format %q", f)
	}
}

// WriteJSON writes funds as an indented JSON array. A nil slice is written
// as [].
func WriteJSON(w io.Writer, funds []model.Fund) error {
	if funds == nil {
		funds = []model.Fund{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(funds); err != nil {
		return eris.Wrap(err, "report: encode json")
	}
	return nil
}
