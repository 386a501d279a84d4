package report

import (
	"encoding/csv"
	"io"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/fundscout/internal/model"
)

// columns is the export header shared by CSV and XLSX.
var columns = []string{
	"nombre_fondo",
	"gestor_activos",
	"ticker_isin",
	"ods_encontrados",
	"url_fuente",
	"fecha_scrapeo",
	"estado",
	"analizado",
}

func row(f model.Fund) []string {
	analyzed := "no"
	if f.HasAnalysis() {
		analyzed = "si"
	}
	return []string{
		f.Name,
		f.Manager,
		f.Ticker,
		strings.Join(f.Alignment.SDGs, ", "),
		f.SourceURL,
		f.ScrapedAt,
		f.Status,
		analyzed,
	}
}

// WriteCSV writes funds as CSV with a header row.
func WriteCSV(w io.Writer, funds []model.Fund) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(columns); err != nil {
		return eris.Wrap(err, "report: write csv header")
	}
	for _, f := range funds {
		if err := cw.Write(row(f)); err != nil {
			return eris.Wrapf(err, "report: write csv row %q", f.Name)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return eris.Wrap(err, "report: flush csv")
	}
	return nil
}
