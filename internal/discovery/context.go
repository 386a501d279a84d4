package discovery

import (
	"regexp"
	"strings"

	"github.com/sells-group/fundscout/internal/model"
)

// DefaultRegion is the country local-scope searches target when none is
// configured.
const DefaultRegion = "Ecuador"

// financingTerms maps profile financing types to the vocabulary funders use
// in their own listings. Unknown types pass through unchanged.
var financingTerms = map[string]string{
	"Equity (Acciones)":       "Venture Capital Impact Investors",
	"Deuda / Crédito":         "Impact Debt Funds Green Loans",
	"Grant / No Reembolsable": "Grants Donor Advised Funds Foundations",
	"Híbrido":                 "Blended Finance Catalytic Capital",
	"Equity":                  "Venture Capital Impact Investors",
	"Debt":                    "Impact Debt Funds Green Loans",
	"Grant":                   "Grants Donor Advised Funds Foundations",
	"Hybrid":                  "Blended Finance Catalytic Capital",
}

const (
	fallbackKeywords = "sustainable development environment circular economy"
	fallbackTypes    = "Donor Advised Funds"
	fallbackSDGs     = "General Sustainability"
)

var sdgPrefix = regexp.MustCompile(`^\d+\.\s*`)

// profileContext is the search vocabulary derived from a profile.
type profileContext struct {
	HasProfile bool
	Company    string
	Keywords   string
	Types      string
	SDGs       string
	Region     string
}

func buildContext(p *model.Profile, region string) profileContext {
	if region == "" {
		region = DefaultRegion
	}
	if p == nil {
		return profileContext{
			Keywords: fallbackKeywords,
			Types:    fallbackTypes,
			SDGs:     fallbackSDGs,
			Region:   region,
		}
	}

	types := make([]string, 0, len(p.FinancingTypes))
	for _, t := range p.FinancingTypes {
		if mapped, ok := financingTerms[strings.TrimSpace(t)]; ok {
			types = append(types, mapped)
			continue
		}
		types = append(types, t)
	}
	typeText := strings.Join(types, " ")

	goals := make([]string, 0, len(p.SDGs))
	for _, s := range p.SDGs {
		goals = append(goals, sdgPrefix.ReplaceAllString(strings.TrimSpace(s), ""))
	}

	return profileContext{
		HasProfile: true,
		Company:    p.CompanyName,
		Keywords:   strings.TrimSpace(strings.Join(goals, " ") + " " + typeText),
		Types:      typeText,
		SDGs:       strings.Join(p.SDGs, ", "),
		Region:     region,
	}
}
