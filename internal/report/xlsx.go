package report

import (
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/fundscout/internal/model"
)

const (
	fundsSheet    = "Fondos"
	analysisSheet = "Analisis"
)

var analysisColumns = []string{
	"nombre_fondo",
	"elegibilidad",
	"requisitos",
	"pasos",
	"fechas_clave",
	"url_aplicacion",
	"contactos",
}

// WriteXLSX writes a workbook with one row per fund and a second sheet with
// the application analyses.
func WriteXLSX(w io.Writer, funds []model.Fund) error {
	f := xlsx.NewFile()

	sheet, err := f.AddSheet(fundsSheet)
	if err != nil {
		return eris.Wrap(err, "report: add funds sheet")
	}
	addRow(sheet, columns)
	for _, fund := range funds {
		addRow(sheet, row(fund))
	}

	analyses, err := f.AddSheet(analysisSheet)
	if err != nil {
		return eris.Wrap(err, "report: add analysis sheet")
	}
	addRow(analyses, analysisColumns)
	for _, fund := range funds {
		a := fund.Analysis
		if a == nil {
			continue
		}
		addRow(analyses, []string{
			fund.Name,
			a.Eligibility,
			strings.Join(a.Requirements, "\n"),
			strings.Join(a.Steps, "\n"),
			a.KeyDates,
			a.ApplyURL,
			strings.Join(a.ContactEmails, "\n"),
		})
	}

	if err := f.Write(w); err != nil {
		return eris.Wrap(err, "report: write xlsx")
	}
	return nil
}

func addRow(sheet *xlsx.Sheet, cells []string) {
	r := sheet.AddRow()
	for _, c := range cells {
		r.AddCell().SetString(c)
	}
}
