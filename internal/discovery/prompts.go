package discovery

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sells-group/fundscout/internal/model"
)

// Shape names the JSON document an extractor is asked to produce.
type Shape int

const (
	ShapeFunds Shape = iota
	ShapeAnalysis
)

// Prompt is one extraction call.
type Prompt struct {
	System      string
	User        string
	Temperature float64
	Shape       Shape
}

const (
	extractTemperature    = 0.1
	generativeTemperature = 0.4
)

const analystSystem = `You are a data analyst specialised in sustainable finance.
Your job is to EXTRACT, DISCRIMINATE and FORMAT funding sources found in web search results.
Only include financing entities: investment funds, donor advised funds, venture capital firms, development banks, foundations with open grant programs.
Ignore results with insufficient information. Never invent data that is not supported by the results.`

const consultantSystem = `You are an expert sustainable finance consultant.
You know the landscape of impact investors, donor advised funds, foundations and multilateral lenders.
Only list organisations that exist and that you can describe with a real website.`

const fundsFormat = `Respond with a JSON array only. Each element has these fields:
- nombre_fondo: fund or program name
- gestor_activos: organisation that manages it
- ticker_isin: ticker or ISIN, "Privado" for private vehicles, "N/A" when unknown
- url_fuente: source URL
- fecha_scrapeo: current date in ISO 8601
- alineacion_detectada: {"ods_encontrados": [SDG labels], "keywords_encontradas": [keywords], "puntuacion_impacto": short impact rating with reason}
- evidencia_texto: one or two sentences of evidence taken from the source`

const analysisSystem = `You are a grant and investment application advisor.
Read the material about a funding source and determine how an organisation can apply.
Use only what the material supports. Leave a field empty when the material does not say.`

const analysisFormat = `Respond with a JSON object only, with these fields:
- es_elegible: "Sí" when the material explains how to apply, otherwise "No"
- resumen_requisitos: array of the main requirements
- pasos_aplicacion: array of the application steps in order
- fechas_clave: important dates or deadlines as text
- link_directo_aplicacion: direct URL of the application form or page
- contact_emails: array of contact email addresses`

// buildQueries returns the search queries for a request.
func buildQueries(req Request, pc profileContext) []string {
	if len(req.Queries) > 0 {
		return req.Queries
	}
	switch {
	case req.Scope == ScopeLocal && req.Expand:
		if !pc.HasProfile {
			return []string{fmt.Sprintf("grants for sustainable development projects in %s international ngos list", pc.Region)}
		}
		return []string{fmt.Sprintf("international grants and investors for %s %s projects", pc.Keywords, pc.Region)}
	case req.Scope == ScopeLocal:
		if !pc.HasProfile {
			return []string{fmt.Sprintf("fiscal sponsorship for %s non-profits US donors organizations list", pc.Region)}
		}
		return []string{fmt.Sprintf("financing sources for %s in %s %s list", pc.Keywords, pc.Region, pc.Types)}
	case req.Expand:
		if !pc.HasProfile {
			return []string{"niche donor advised funds impact investing sponsors list environment social governance"}
		}
		return []string{fmt.Sprintf("niche %s for %s impact investing list", pc.Types, pc.Keywords)}
	default:
		if !pc.HasProfile {
			return []string{"top donor advised funds for sustainable development environment circular economy list"}
		}
		return []string{fmt.Sprintf("top %s financing for %s global list", pc.Types, pc.Keywords)}
	}
}

// extractionPrompt asks the model to pull funds out of search results.
func extractionPrompt(req Request, pc profileContext, results []searchResult) (Prompt, error) {
	raw, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return Prompt{}, err
	}

	var b strings.Builder
	writeProfile(&b, pc)
	writeKnown(&b, req.Known)
	b.WriteString("Search results:\n")
	b.Write(raw)
	b.WriteString("\n\n")
	b.WriteString(fundsFormat)

	return Prompt{
		System:      analystSystem,
		User:        b.String(),
		Temperature: extractTemperature,
		Shape:       ShapeFunds,
	}, nil
}

// generativePrompt is used when search returned nothing.
func generativePrompt(req Request, pc profileContext) Prompt {
	var b strings.Builder
	writeProfile(&b, pc)
	writeKnown(&b, req.Known)

	switch {
	case req.Scope == ScopeLocal && req.Expand:
		fmt.Fprintf(&b, "List 6 NEW sources for organisations in %s not named above: regional networks such as Latimpacto, decentralized cooperation programs and crowdfunding platforms.\n\n", pc.Region)
	case req.Scope == ScopeLocal:
		fmt.Fprintf(&b, "List 6 sources reachable from %s: multilateral lenders (IDB, CAF), fiscal sponsors (GlobalGiving) and regional Latin American funds.\n\n", pc.Region)
	case req.Expand:
		fmt.Fprintf(&b, "List 10 OTHER funders than the ones named above. Prefer niche vehicles aligned with %s.\n\n", pc.SDGs)
	default:
		fmt.Fprintf(&b, "List 10 global funding sources aligned with %s, prioritising %s.\n\n", pc.SDGs, pc.Types)
	}
	b.WriteString(fundsFormat)

	return Prompt{
		System:      consultantSystem,
		User:        b.String(),
		Temperature: generativeTemperature,
		Shape:       ShapeFunds,
	}
}

// analysisPrompt asks for an ApplicationAnalysis from the collected material.
func analysisPrompt(name, url, page, research string) Prompt {
	var b strings.Builder
	fmt.Fprintf(&b, "Fund: %s\n", name)
	if url != "" {
		fmt.Fprintf(&b, "URL: %s\n", url)
	}
	if page != "" {
		fmt.Fprintf(&b, "\nWebsite content:\n%s\n", page)
	}
	if research != "" {
		fmt.Fprintf(&b, "\nResearch notes:\n%s\n", research)
	}
	b.WriteString("\n")
	b.WriteString(analysisFormat)

	return Prompt{
		System:      analysisSystem,
		User:        b.String(),
		Temperature: extractTemperature,
		Shape:       ShapeAnalysis,
	}
}

func writeProfile(b *strings.Builder, pc profileContext) {
	if pc.Company != "" {
		fmt.Fprintf(b, "Company: %s\n", pc.Company)
	}
	fmt.Fprintf(b, "Sustainable development goals: %s\n", pc.SDGs)
	fmt.Fprintf(b, "Financing types: %s\n", pc.Types)
	fmt.Fprintf(b, "Keywords: %s\n\n", pc.Keywords)
}

func writeKnown(b *strings.Builder, known []model.Fund) {
	if len(known) == 0 {
		return
	}
	b.WriteString("Already known, do not repeat:\n")
	for _, f := range known {
		fmt.Fprintf(b, "- %s\n", f.Name)
	}
	b.WriteString("\n")
}
