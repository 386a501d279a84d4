package discovery

import (
	"time"

	"github.com/sells-group/fundscout/internal/model"
)

// Demo implements Service. It returns three verified donor-advised funds,
// stamped with the current time.
func (e *Engine) Demo() []model.Fund {
	return DemoFunds(e.now())
}

// DemoFunds returns the verified sample funds stamped with now.
func DemoFunds(now time.Time) []model.Fund {
	stamp := now.UTC().Format(time.RFC3339)
	return []model.Fund{
		{
			Name:      "The ImpactAssets Donor Advised Fund",
			Manager:   "ImpactAssets",
			Ticker:    "DAF Privado",
			SourceURL: "https://www.impactassets.org/",
			ScrapedAt: stamp,
			Alignment: model.Alignment{
				SDGs:     []string{"ODS 13", "ODS 5", "ODS 10"},
				Keywords: []string{"Catalytic Capital", "Climate Solutions", "Gender Equity", "Impact Investing"},
				Impact:   "High: fully specialised in impact investing and complex climate solutions",
			},
			Evidence: "Leading donor advised fund for impact investors, offering custom investments in private debt and equity funds aligned with the SDGs.",
		},
		{
			Name:      "Fidelity Charitable Impact Investing",
			Manager:   "Fidelity Charitable",
			Ticker:    "N/A",
			SourceURL: "https://www.fidelitycharitable.org/giving-account/investment-options/impact-investing.html",
			ScrapedAt: stamp,
			Alignment: model.Alignment{
				SDGs:     []string{"ODS 8", "ODS 6", "ODS 12"},
				Keywords: []string{"Sustainable Pools", "ESG", "Public Markets", "Grantmaking"},
				Impact:   "Medium-high: ESG investment pools inside a large donor advised fund program",
			},
			Evidence: "Donors can place giving account assets in impact investing pools that screen for environmental, social and governance criteria.",
		},
		{
			Name:      "RSF Social Finance Donor Advised Fund",
			Manager:   "RSF Social Finance",
			Ticker:    "DAF Boutique",
			SourceURL: "https://rsfsocialfinance.org/give/donor-advised-funds/",
			ScrapedAt: stamp,
			Alignment: model.Alignment{
				SDGs:     []string{"ODS 2", "ODS 12"},
				Keywords: []string{"Regenerative Economy", "Soil Health", "Fair Trade"},
				Impact:   "Very high: focused on the regenerative economy",
			},
			Evidence: "Donor advised funds that direct capital to regenerative agriculture, food systems and fair trade enterprises.",
		},
	}
}
