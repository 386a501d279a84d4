package discovery

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/sells-group/fundscout/pkg/anthropic"
	"github.com/sells-group/fundscout/pkg/gemini"
)

// Extractor turns a prompt into a JSON document of the requested shape.
type Extractor interface {
	Complete(ctx context.Context, p Prompt) (string, error)
}

const (
	defaultAnthropicModel     = "claude-haiku-4-5-20251001"
	defaultAnthropicMaxTokens = 4096
)

// AnthropicExtractor runs prompts through the Anthropic Messages API.
type AnthropicExtractor struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

// NewAnthropicExtractor creates an extractor. Empty model and non-positive
// maxTokens fall back to defaults.
func NewAnthropicExtractor(client anthropic.Client, model string, maxTokens int64) *AnthropicExtractor {
	if model == "" {
		model = defaultAnthropicModel
	}
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}
	return &AnthropicExtractor{client: client, model: model, maxTokens: maxTokens}
}

// Complete implements Extractor. The assistant turn is prefilled with the
// opening bracket of the expected shape so the reply is bare JSON.
func (e *AnthropicExtractor) Complete(ctx context.Context, p Prompt) (string, error) {
	prefill := "["
	if p.Shape == ShapeAnalysis {
		prefill = "{"
	}
	out, err := e.client.Complete(ctx, anthropic.Request{
		Model:       e.model,
		MaxTokens:   e.maxTokens,
		System:      p.System,
		CacheSystem: true,
		Prompt:      p.User,
		Prefill:     prefill,
		Temperature: p.Temperature,
	})
	if err != nil {
		return "", eris.Wrap(err, "discovery: anthropic extract")
	}
	out.Usage.Log(e.model, shapeName(p.Shape))
	if out.Truncated() {
		zap.L().Warn("discovery: extraction hit the token limit", zap.String("shape", shapeName(p.Shape)), zap.Int64("max_tokens", e.maxTokens))
	}
	return out.Text, nil
}

// GeminiExtractor runs prompts through Gemini in JSON schema mode.
type GeminiExtractor struct {
	client gemini.Client
	model  string
}

// NewGeminiExtractor creates an extractor. An empty model uses the client
// default.
func NewGeminiExtractor(client gemini.Client, model string) *GeminiExtractor {
	return &GeminiExtractor{client: client, model: model}
}

// Complete implements Extractor.
func (e *GeminiExtractor) Complete(ctx context.Context, p Prompt) (string, error) {
	text, err := e.client.GenerateJSON(ctx, gemini.GenerateRequest{
		Model:       e.model,
		System:      p.System,
		Prompt:      p.User,
		Schema:      schemaFor(p.Shape),
		Temperature: float32(p.Temperature),
	})
	if err != nil {
		return "", eris.Wrap(err, "discovery: gemini extract")
	}
	return text, nil
}

func shapeName(s Shape) string {
	if s == ShapeAnalysis {
		return "analysis"
	}
	return "discovery"
}

func schemaFor(s Shape) *genai.Schema {
	if s == ShapeAnalysis {
		return analysisSchema
	}
	return fundsSchema
}

var (
	stringSchema      = &genai.Schema{Type: genai.TypeString}
	stringArraySchema = &genai.Schema{Type: genai.TypeArray, Items: stringSchema}

	fundsSchema = &genai.Schema{
		Type: genai.TypeArray,
		Items: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"nombre_fondo":   stringSchema,
				"gestor_activos": stringSchema,
				"ticker_isin":    stringSchema,
				"url_fuente":     stringSchema,
				"fecha_scrapeo":  stringSchema,
				"alineacion_detectada": {
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"ods_encontrados":      stringArraySchema,
						"keywords_encontradas": stringArraySchema,
						"puntuacion_impacto":   stringSchema,
					},
				},
				"evidencia_texto": stringSchema,
			},
			Required: []string{"nombre_fondo", "gestor_activos", "url_fuente", "alineacion_detectada", "evidencia_texto"},
		},
	}

	analysisSchema = &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"es_elegible":             stringSchema,
			"resumen_requisitos":      stringArraySchema,
			"pasos_aplicacion":        stringArraySchema,
			"fechas_clave":            stringSchema,
			"link_directo_aplicacion": stringSchema,
			"contact_emails":          stringArraySchema,
		},
	}
)
