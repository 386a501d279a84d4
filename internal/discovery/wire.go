package discovery

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/fundscout/internal/model"
)

// wireFund is the fund object the models are asked to return.
type wireFund struct {
	Name      string        `json:"nombre_fondo"`
	Manager   string        `json:"gestor_activos"`
	Ticker    string        `json:"ticker_isin"`
	SourceURL string        `json:"url_fuente"`
	ScrapedAt string        `json:"fecha_scrapeo"`
	Alignment wireAlignment `json:"alineacion_detectada"`
	Evidence  string        `json:"evidencia_texto"`
}

type wireAlignment struct {
	SDGs     flexStrings `json:"ods_encontrados"`
	Keywords flexStrings `json:"keywords_encontradas"`
	Impact   string      `json:"puntuacion_impacto"`
}

type wireAnalysis struct {
	Eligibility   string      `json:"es_elegible"`
	Requirements  flexStrings `json:"resumen_requisitos"`
	Steps         flexStrings `json:"pasos_aplicacion"`
	KeyDates      string      `json:"fechas_clave"`
	ApplyURL      string      `json:"link_directo_aplicacion"`
	ContactEmails flexStrings `json:"contact_emails"`
}

// flexStrings accepts either a JSON array of strings or a single string.
type flexStrings []string

func (f *flexStrings) UnmarshalJSON(b []byte) error {
	var list []string
	if err := json.Unmarshal(b, &list); err == nil {
		*f = list
		return nil
	}
	var one string
	if err := json.Unmarshal(b, &one); err != nil {
		return err
	}
	if one = strings.TrimSpace(one); one != "" {
		*f = []string{one}
	}
	return nil
}

// parseFunds decodes a model response into funds. Entries without a name are
// dropped.
func parseFunds(text string) ([]model.Fund, error) {
	text = cleanJSON(text, '[', ']')
	if text == "" {
		return nil, nil
	}

	var wire []wireFund
	if strings.HasPrefix(text, "{") {
		var wrapped struct {
			Funds  []wireFund `json:"funds"`
			Fondos []wireFund `json:"fondos"`
		}
		if err := json.Unmarshal([]byte(text), &wrapped); err != nil {
			return nil, eris.Wrap(err, "discovery: parse funds")
		}
		wire = append(wrapped.Funds, wrapped.Fondos...)
	} else if err := json.Unmarshal([]byte(text), &wire); err != nil {
		return nil, eris.Wrap(err, "discovery: parse funds")
	}

	out := make([]model.Fund, 0, len(wire))
	for _, w := range wire {
		name := strings.TrimSpace(w.Name)
		if name == "" {
			continue
		}
		out = append(out, model.Fund{
			Name:      name,
			Manager:   strings.TrimSpace(w.Manager),
			Ticker:    strings.TrimSpace(w.Ticker),
			SourceURL: strings.TrimSpace(w.SourceURL),
			ScrapedAt: strings.TrimSpace(w.ScrapedAt),
			Alignment: model.Alignment{
				SDGs:     []string(w.Alignment.SDGs),
				Keywords: []string(w.Alignment.Keywords),
				Impact:   w.Alignment.Impact,
			},
			Evidence: strings.TrimSpace(w.Evidence),
		})
	}
	return out, nil
}

// parseAnalysis decodes an application analysis. It returns nil when the
// response is empty, null or carries no usable field.
func parseAnalysis(text string) (*model.ApplicationAnalysis, error) {
	text = cleanJSON(text, '{', '}')
	if text == "" || text == "null" {
		return nil, nil
	}
	var w wireAnalysis
	if err := json.Unmarshal([]byte(text), &w); err != nil {
		return nil, eris.Wrap(err, "discovery: parse analysis")
	}
	a := &model.ApplicationAnalysis{
		Eligibility:   strings.TrimSpace(w.Eligibility),
		Requirements:  []string(w.Requirements),
		Steps:         []string(w.Steps),
		KeyDates:      strings.TrimSpace(w.KeyDates),
		ApplyURL:      strings.TrimSpace(w.ApplyURL),
		ContactEmails: []string(w.ContactEmails),
	}
	if a.Eligibility == "" && len(a.Requirements) == 0 && len(a.Steps) == 0 &&
		a.KeyDates == "" && a.ApplyURL == "" && len(a.ContactEmails) == 0 {
		return nil, nil
	}
	return a, nil
}

// cleanJSON strips markdown fences and surrounding prose from a model
// response, keeping the outermost open..close span. An object response is
// kept whole when an array was expected.
func cleanJSON(text string, open, closing byte) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}

	start := strings.IndexByte(text, open)
	if open == '[' {
		if obj := strings.IndexByte(text, '{'); obj >= 0 && (start < 0 || obj < start) {
			open, closing, start = '{', '}', obj
		}
	}
	end := strings.LastIndexByte(text, closing)
	if start >= 0 && end > start {
		text = text[start : end+1]
	}
	return strings.TrimSpace(text)
}
