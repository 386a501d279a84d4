package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/sells-group/fundscout/internal/resilience"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig         `yaml:"store" mapstructure:"store"`
	Anthropic  AnthropicConfig     `yaml:"anthropic" mapstructure:"anthropic"`
	Gemini     GeminiConfig        `yaml:"gemini" mapstructure:"gemini"`
	Google     GoogleConfig        `yaml:"google" mapstructure:"google"`
	Jina       JinaConfig          `yaml:"jina" mapstructure:"jina"`
	Perplexity PerplexityConfig    `yaml:"perplexity" mapstructure:"perplexity"`
	Discovery  DiscoveryConfig     `yaml:"discovery" mapstructure:"discovery"`
	Persist    PersistConfig       `yaml:"persist" mapstructure:"persist"`
	Resilience resilience.Settings `yaml:"resilience" mapstructure:"resilience"`
	Server     ServerConfig        `yaml:"server" mapstructure:"server"`
	Log        LogConfig           `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	BaseURL   string `yaml:"base_url" mapstructure:"base_url"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// GeminiConfig holds Google Gemini API settings.
type GeminiConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Model   string `yaml:"model" mapstructure:"model"`
}

// GoogleConfig holds Google Custom Search settings. Search is disabled when
// the key is empty.
type GoogleConfig struct {
	Key      string `yaml:"key" mapstructure:"key"`
	EngineID string `yaml:"engine_id" mapstructure:"engine_id"`
	BaseURL  string `yaml:"base_url" mapstructure:"base_url"`
	Num      int    `yaml:"num" mapstructure:"num"`
}

// JinaConfig holds Jina AI Reader settings.
type JinaConfig struct {
	Key           string `yaml:"key" mapstructure:"key"`
	BaseURL       string `yaml:"base_url" mapstructure:"base_url"`
	SearchBaseURL string `yaml:"search_base_url" mapstructure:"search_base_url"`
}

// PerplexityConfig holds Perplexity API settings.
type PerplexityConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Model   string `yaml:"model" mapstructure:"model"`
}

// DiscoveryConfig configures the search pipeline.
type DiscoveryConfig struct {
	Extractor         string  `yaml:"extractor" mapstructure:"extractor"`
	Region            string  `yaml:"region" mapstructure:"region"`
	SeedDemo          bool    `yaml:"seed_demo" mapstructure:"seed_demo"`
	PhasesFile        string  `yaml:"phases_file" mapstructure:"phases_file"`
	SearchCacheTTLMin int     `yaml:"search_cache_ttl_min" mapstructure:"search_cache_ttl_min"`
	SearchConcurrency int     `yaml:"search_concurrency" mapstructure:"search_concurrency"`
	PageCharLimit     int     `yaml:"page_char_limit" mapstructure:"page_char_limit"`
	AnalysisRate      float64 `yaml:"analysis_rate" mapstructure:"analysis_rate"`
	AnalysisBurst     int     `yaml:"analysis_burst" mapstructure:"analysis_burst"`
}

// SearchCacheTTL returns the search cache lifetime.
func (d DiscoveryConfig) SearchCacheTTL() time.Duration {
	return time.Duration(d.SearchCacheTTLMin) * time.Minute
}

// PersistConfig configures the background writer.
type PersistConfig struct {
	DebounceMs       int `yaml:"debounce_ms" mapstructure:"debounce_ms"`
	WriteTimeoutSecs int `yaml:"write_timeout_secs" mapstructure:"write_timeout_secs"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port                int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins      []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	ShutdownTimeoutSecs int      `yaml:"shutdown_timeout_secs" mapstructure:"shutdown_timeout_secs"`
}

// LogConfig configures logging. File enables a rotating JSON sink in
// addition to stderr.
type LogConfig struct {
	Level      string `yaml:"level" mapstructure:"level"`
	Format     string `yaml:"format" mapstructure:"format"`
	File       string `yaml:"file" mapstructure:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `yaml:"compress" mapstructure:"compress"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("FUNDSCOUT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Keys without a default must still be registered for AutomaticEnv to
	// reach them through Unmarshal.
	for _, key := range []string{
		"anthropic.key", "anthropic.base_url", "gemini.key", "gemini.base_url",
		"google.key", "google.engine_id", "jina.key", "perplexity.key",
		"discovery.phases_file", "log.file",
	} {
		v.SetDefault(key, "")
	}
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "fundscout.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 4096)
	v.SetDefault("gemini.model", "gemini-2.5-flash")
	v.SetDefault("google.base_url", "https://www.googleapis.com/customsearch/v1")
	v.SetDefault("google.num", 10)
	v.SetDefault("jina.base_url", "https://r.jina.ai")
	v.SetDefault("jina.search_base_url", "https://s.jina.ai")
	v.SetDefault("perplexity.base_url", "https://api.perplexity.ai")
	v.SetDefault("perplexity.model", "sonar-pro")
	v.SetDefault("discovery.extractor", "anthropic")
	v.SetDefault("discovery.region", "Ecuador")
	v.SetDefault("discovery.seed_demo", true)
	v.SetDefault("discovery.search_cache_ttl_min", 30)
	v.SetDefault("discovery.search_concurrency", 4)
	v.SetDefault("discovery.page_char_limit", 12000)
	v.SetDefault("discovery.analysis_rate", 1.0)
	v.SetDefault("discovery.analysis_burst", 1)
	v.SetDefault("persist.debounce_ms", 750)
	v.SetDefault("persist.write_timeout_secs", 10)
	v.SetDefault("resilience.max_attempts", 3)
	v.SetDefault("resilience.initial_backoff_ms", 500)
	v.SetDefault("resilience.max_backoff_ms", 10000)
	v.SetDefault("resilience.multiplier", 2.0)
	v.SetDefault("resilience.jitter_fraction", 0.25)
	v.SetDefault("resilience.failure_threshold", 5)
	v.SetDefault("resilience.reset_timeout_secs", 30)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.shutdown_timeout_secs", 15)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 28)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command needs. Modes: serve, discover,
// jobs, migrate, data.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, "store.driver must be sqlite or postgres")
	}
	if c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required")
	}

	switch mode {
	case "serve":
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, "server.port must be > 0 and <= 65535")
		}
		errs = append(errs, c.runErrors()...)
	case "discover", "jobs":
		errs = append(errs, c.runErrors()...)
	case "migrate", "data":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// runErrors checks the settings used by discovery runs.
func (c *Config) runErrors() []string {
	var errs []string
	switch c.Discovery.Extractor {
	case "anthropic":
		if c.Anthropic.Key == "" {
			errs = append(errs, "anthropic.key is required")
		}
	case "gemini":
		if c.Gemini.Key == "" {
			errs = append(errs, "gemini.key is required")
		}
	default:
		errs = append(errs, "discovery.extractor must be anthropic or gemini")
	}
	if (c.Google.Key == "") != (c.Google.EngineID == "") {
		errs = append(errs, "google.key and google.engine_id must be set together")
	}
	if c.Discovery.SearchConcurrency < 1 || c.Discovery.SearchConcurrency > 16 {
		errs = append(errs, "discovery.search_concurrency must be between 1 and 16")
	}
	if c.Discovery.AnalysisRate <= 0 {
		errs = append(errs, "discovery.analysis_rate must be > 0")
	}
	if c.Discovery.AnalysisBurst < 1 {
		errs = append(errs, "discovery.analysis_burst must be >= 1")
	}
	return errs
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}

	if cfg.File != "" {
		sink := zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		})
		fileCore := zapcore.NewCore(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), sink, zapCfg.Level)
		logger = logger.WithOptions(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
			return zapcore.NewTee(c, fileCore)
		}))
	}

	zap.ReplaceGlobals(logger)
	return nil
}
