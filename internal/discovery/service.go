package discovery

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/fundscout/internal/fund"
	"github.com/sells-group/fundscout/internal/model"
	"github.com/sells-group/fundscout/internal/resilience"
	"github.com/sells-group/fundscout/pkg/google"
	"github.com/sells-group/fundscout/pkg/jina"
	"github.com/sells-group/fundscout/pkg/perplexity"
)

// Deps are the upstream clients the engine uses. Only Extractor is
// required; without search clients every phase uses the generative prompt,
// and Analyze works from whatever research clients are present.
type Deps struct {
	Extractor  Extractor
	Google     google.Client
	Jina       jina.Client
	Perplexity perplexity.Client
	Breakers   *resilience.Breakers
}

// Config tunes the engine.
type Config struct {
	// Region is the country targeted by local-scope phases.
	Region            string
	SearchCacheTTL    time.Duration
	SearchConcurrency int
	// PageCharLimit caps the fund page text handed to the analyzer.
	PageCharLimit int
	Retry         resilience.RetryConfig
}

const defaultPageCharLimit = 12000

// Engine is the search-then-extract discovery service.
type Engine struct {
	extractor  Extractor
	search     *searcher
	jina       jina.Client
	perplexity perplexity.Client
	cfg        Config
	now        func() time.Time
}

var _ Service = (*Engine)(nil)

// New creates an Engine.
func New(deps Deps, cfg Config) (*Engine, error) {
	if deps.Extractor == nil {
		return nil, eris.New("discovery: extractor is required")
	}
	if cfg.Region == "" {
		cfg.Region = DefaultRegion
	}
	if cfg.PageCharLimit <= 0 {
		cfg.PageCharLimit = defaultPageCharLimit
	}
	return &Engine{
		extractor:  deps.Extractor,
		search:     newSearcher(deps.Google, deps.Jina, deps.Breakers, cfg.Retry, cfg.SearchCacheTTL, cfg.SearchConcurrency),
		jina:       deps.Jina,
		perplexity: deps.Perplexity,
		cfg:        cfg,
		now:        time.Now,
	}, nil
}

// Discover implements Service.
func (e *Engine) Discover(ctx context.Context, req Request) ([]model.Fund, error) {
	if req.Scope == "" {
		req.Scope = ScopeGlobal
	}
	if !req.Scope.Valid() {
		return nil, eris.Errorf("discovery: unknown scope %q", req.Scope)
	}

	pc := buildContext(req.Profile, e.cfg.Region)
	queries := buildQueries(req, pc)
	log := zap.L().With(zap.String("scope", string(req.Scope)), zap.Bool("expand", req.Expand))

	results, err := e.search.searchAll(ctx, queries)
	if err != nil {
		return nil, err
	}

	var prompt Prompt
	if len(results) > 0 {
		prompt, err = extractionPrompt(req, pc, results)
		if err != nil {
			return nil, eris.Wrap(err, "discovery: build prompt")
		}
	} else {
		log.Info("discovery: no search results, using generative prompt", zap.Strings("queries", queries))
		prompt = generativePrompt(req, pc)
	}

	text, err := e.complete(ctx, prompt, "discover")
	if err != nil {
		return nil, eris.Wrap(err, "discovery: extract funds")
	}
	funds, err := parseFunds(text)
	if err != nil {
		return nil, err
	}

	funds = e.finish(funds, req.Known)
	log.Info("discovery: phase done", zap.Int("search_results", len(results)), zap.Int("funds", len(funds)))
	return funds, nil
}

// finish stamps missing discovery times and drops funds already known.
func (e *Engine) finish(funds []model.Fund, known []model.Fund) []model.Fund {
	skip := make(map[string]struct{}, len(known))
	for _, k := range known {
		skip[fund.Key(k.Name)] = struct{}{}
	}
	stamp := e.now().UTC().Format(time.RFC3339)

	out := funds[:0]
	for _, f := range funds {
		if _, ok := skip[fund.Key(f.Name)]; ok {
			continue
		}
		if f.ScrapedAt == "" {
			f.ScrapedAt = stamp
		}
		out = append(out, f)
	}
	return out
}

// Analyze implements Service.
func (e *Engine) Analyze(ctx context.Context, name, url string) (*model.ApplicationAnalysis, error) {
	log := zap.L().With(zap.String("fund", name))

	page := e.readPage(ctx, url, log)
	research := e.research(ctx, name, url, log)
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "discovery: analyze")
	}

	text, err := e.complete(ctx, analysisPrompt(name, url, page, research), "analyze")
	if err != nil {
		return nil, eris.Wrap(err, "discovery: analyze")
	}
	a, err := parseAnalysis(text)
	if err != nil {
		log.Warn("discovery: unusable analysis", zap.Error(err))
		return nil, nil
	}
	if a == nil {
		return nil, nil
	}
	at := e.now().UTC()
	a.AnalyzedAt = &at
	return a, nil
}

func (e *Engine) readPage(ctx context.Context, url string, log *zap.Logger) string {
	if e.jina == nil || url == "" {
		return ""
	}
	page, err := e.jina.Read(ctx, url)
	if err != nil {
		if ctx.Err() == nil {
			log.Debug("discovery: read fund page failed", zap.String("url", url), zap.Error(err))
		}
		return ""
	}
	return truncate(page.Content, e.cfg.PageCharLimit)
}

func (e *Engine) research(ctx context.Context, name, url string, log *zap.Logger) string {
	if e.perplexity == nil {
		return ""
	}
	question := "How does an organisation apply for funding from " + name
	if url != "" {
		question += " (" + url + ")"
	}
	question += "? List eligibility requirements, application steps, deadlines, the application link and contact emails."

	retry := e.cfg.Retry
	retry.OnRetry = resilience.RetryLogger("perplexity", "research")
	ans, err := resilience.DoVal(ctx, retry, func(ctx context.Context) (*perplexity.Answer, error) {
		return e.perplexity.Ask(ctx, perplexity.Question{Prompt: question, Recency: "year"})
	})
	if err != nil {
		if ctx.Err() == nil {
			log.Debug("discovery: research failed", zap.Error(err))
		}
		return ""
	}
	if len(ans.Citations) == 0 {
		return ans.Text
	}
	return ans.Text + "\nSources:\n- " + strings.Join(ans.Citations, "\n- ")
}

// complete runs the extractor with retries on transient failures.
func (e *Engine) complete(ctx context.Context, p Prompt, op string) (string, error) {
	retry := e.cfg.Retry
	retry.OnRetry = resilience.RetryLogger("extractor", op)
	return resilience.DoVal(ctx, retry, func(ctx context.Context) (string, error) {
		return e.extractor.Complete(ctx, p)
	})
}
