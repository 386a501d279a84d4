package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/fundscout/internal/discovery"
	"github.com/sells-group/fundscout/internal/jobs"
	"github.com/sells-group/fundscout/internal/notify"
	"github.com/sells-group/fundscout/internal/persist"
	"github.com/sells-group/fundscout/internal/pipeline"
	"github.com/sells-group/fundscout/internal/resilience"
	"github.com/sells-group/fundscout/internal/session"
	"github.com/sells-group/fundscout/internal/store"
	anthropicpkg "github.com/sells-group/fundscout/pkg/anthropic"
	"github.com/sells-group/fundscout/pkg/gemini"
	"github.com/sells-group/fundscout/pkg/google"
	"github.com/sells-group/fundscout/pkg/jina"
	"github.com/sells-group/fundscout/pkg/perplexity"
)

const closeTimeout = 30 * time.Second

// appEnv holds the wired services shared by the commands that run searches.
type appEnv struct {
	Store    store.Store
	Engine   *discovery.Engine
	Writer   *persist.Writer
	Sessions *session.Manager
	Jobs     *jobs.Service
}

// Close stops running searches, flushes pending writes and closes the store.
func (e *appEnv) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()

	if err := e.Jobs.Shutdown(ctx); err != nil {
		zap.L().Warn("jobs shutdown incomplete", zap.Error(err))
	}
	if err := e.Sessions.Shutdown(ctx); err != nil {
		zap.L().Warn("session shutdown incomplete", zap.Error(err))
	}
	if err := e.Writer.Close(ctx); err != nil {
		zap.L().Warn("pending writes not flushed", zap.Error(err))
	}
	_ = e.Store.Close()
}

// initApp validates config for mode, opens the store and builds the
// discovery engine, phase list, sessions and job service. Callers should
// defer env.Close().
func initApp(ctx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}

	engine, err := initEngine(ctx)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	phases, err := initPhases(engine)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	seq := pipeline.NewSequencer(phases, engine,
		pipeline.WithAnalysisRate(cfg.Discovery.AnalysisRate, cfg.Discovery.AnalysisBurst),
	)

	writer := persist.New(st, persist.Config{
		Debounce:     time.Duration(cfg.Persist.DebounceMs) * time.Millisecond,
		WriteTimeout: time.Duration(cfg.Persist.WriteTimeoutSecs) * time.Second,
	})
	sessions := session.NewManager(seq, st, writer)
	webhook := notify.NewWebhook(notify.WithRetry(cfg.Resilience.Retry()))

	zap.L().Info("discovery ready",
		zap.String("extractor", cfg.Discovery.Extractor),
		zap.String("region", cfg.Discovery.Region),
		zap.Int("phases", len(phases)),
	)

	return &appEnv{
		Store:    st,
		Engine:   engine,
		Writer:   writer,
		Sessions: sessions,
		Jobs:     jobs.New(st, sessions, webhook),
	}, nil
}

func initEngine(ctx context.Context) (*discovery.Engine, error) {
	var extractor discovery.Extractor
	switch cfg.Discovery.Extractor {
	case "gemini":
		opts := []gemini.Option{gemini.WithModel(cfg.Gemini.Model)}
		if cfg.Gemini.BaseURL != "" {
			opts = append(opts, gemini.WithBaseURL(cfg.Gemini.BaseURL))
		}
		client, err := gemini.NewClient(ctx, cfg.Gemini.Key, opts...)
		if err != nil {
			return nil, eris.Wrap(err, "init gemini")
		}
		extractor = discovery.NewGeminiExtractor(client, cfg.Gemini.Model)
	default:
		client := anthropicpkg.NewClient(cfg.Anthropic.Key, cfg.Anthropic.BaseURL)
		extractor = discovery.NewAnthropicExtractor(client, cfg.Anthropic.Model, cfg.Anthropic.MaxTokens)
	}

	deps := discovery.Deps{
		Extractor: extractor,
		Breakers:  resilience.NewBreakers(cfg.Resilience.Breaker()),
	}

	// Google Custom Search is optional; without it Jina search is tried and
	// phases fall back to the generative prompt.
	if cfg.Google.Key != "" {
		deps.Google = google.NewClient(cfg.Google.Key, cfg.Google.EngineID,
			google.WithBaseURL(cfg.Google.BaseURL),
			google.WithNum(cfg.Google.Num),
		)
		zap.L().Info("google custom search enabled")
	} else {
		zap.L().Debug("FUNDSCOUT_GOOGLE_KEY not set, google search disabled")
	}

	jinaOpts := []jina.Option{jina.WithBaseURL(cfg.Jina.BaseURL)}
	if cfg.Jina.SearchBaseURL != "" {
		jinaOpts = append(jinaOpts, jina.WithSearchBaseURL(cfg.Jina.SearchBaseURL))
	}
	deps.Jina = jina.NewClient(cfg.Jina.Key, jinaOpts...)

	if cfg.Perplexity.Key != "" {
		deps.Perplexity = perplexity.NewClient(cfg.Perplexity.Key,
			perplexity.WithBaseURL(cfg.Perplexity.BaseURL),
			perplexity.WithModel(cfg.Perplexity.Model),
		)
	} else {
		zap.L().Debug("FUNDSCOUT_PERPLEXITY_KEY not set, analysis will not use web research")
	}

	engine, err := discovery.New(deps, discovery.Config{
		Region:            cfg.Discovery.Region,
		SearchCacheTTL:    cfg.Discovery.SearchCacheTTL(),
		SearchConcurrency: cfg.Discovery.SearchConcurrency,
		PageCharLimit:     cfg.Discovery.PageCharLimit,
		Retry:             cfg.Resilience.Retry(),
	})
	if err != nil {
		return nil, eris.Wrap(err, "init discovery")
	}
	return engine, nil
}

// initPhases loads the phase file when one is configured, else the
// built-in phase list.
func initPhases(svc discovery.Service) ([]pipeline.Phase, error) {
	if cfg.Discovery.PhasesFile != "" {
		phases, err := pipeline.LoadPhases(cfg.Discovery.PhasesFile, svc)
		if err != nil {
			return nil, eris.Wrap(err, "load phases")
		}
		zap.L().Info("phases loaded from file", zap.String("path", cfg.Discovery.PhasesFile))
		return phases, nil
	}
	return pipeline.DefaultPhases(svc, pipeline.Defaults{
		SeedDemo: cfg.Discovery.SeedDemo,
		Region:   cfg.Discovery.Region,
	}), nil
}
