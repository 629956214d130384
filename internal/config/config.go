package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Blob      BlobConfig      `yaml:"blob" mapstructure:"blob"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	ToolLoop  ToolLoopConfig  `yaml:"toolloop" mapstructure:"toolloop"`
	Extract   ExtractConfig   `yaml:"extract" mapstructure:"extract"`
	Mapping   MappingConfig   `yaml:"mapping" mapstructure:"mapping"`
	Notion    NotionConfig    `yaml:"notion" mapstructure:"notion"`
	OCR       OCRConfig       `yaml:"ocr" mapstructure:"ocr"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// BlobConfig configures raw document storage.
type BlobConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	Root        string `yaml:"root" mapstructure:"root"`
	FTPURL      string `yaml:"ftp_url" mapstructure:"ftp_url"`
	FTPUser     string `yaml:"ftp_user" mapstructure:"ftp_user"`
	FTPPassword string `yaml:"ftp_password" mapstructure:"ftp_password"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// AnthropicConfig holds the LLM provider settings.
type AnthropicConfig struct {
	Key                string `yaml:"key" mapstructure:"key"`
	Model              string `yaml:"model" mapstructure:"model"`
	MaxTokens          int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
	RequestTimeoutSecs int    `yaml:"request_timeout_secs" mapstructure:"request_timeout_secs"`
	MaxRetries         int    `yaml:"max_retries" mapstructure:"max_retries"`
	InitialBackoffMs   int    `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs       int    `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	BreakerThreshold   int    `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerResetSecs   int    `yaml:"breaker_reset_secs" mapstructure:"breaker_reset_secs"`
}

// RequestTimeout returns the per-call provider timeout.
func (c AnthropicConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSecs) * time.Second
}

// ToolLoopConfig bounds the tool-calling conversation.
type ToolLoopConfig struct {
	MaxIterations      int `yaml:"max_iterations" mapstructure:"max_iterations"`
	MaxSeconds         int `yaml:"max_seconds" mapstructure:"max_seconds"`
	MaxResultChars     int `yaml:"max_result_chars" mapstructure:"max_result_chars"`
	MaxHistoryMessages int `yaml:"max_history_messages" mapstructure:"max_history_messages"`
	MaxTools           int `yaml:"max_tools" mapstructure:"max_tools"`
}

// ExtractConfig tunes background extraction jobs.
type ExtractConfig struct {
	ChunkSize      int     `yaml:"chunk_size" mapstructure:"chunk_size"`
	ChunkOverlap   int     `yaml:"chunk_overlap" mapstructure:"chunk_overlap"`
	JobTimeoutSecs int     `yaml:"job_timeout_secs" mapstructure:"job_timeout_secs"`
	LLMConcurrency int     `yaml:"llm_concurrency" mapstructure:"llm_concurrency"`
	LLMRPS         float64 `yaml:"llm_rps" mapstructure:"llm_rps"`
	SampleValues   int     `yaml:"sample_values" mapstructure:"sample_values"`
	UseLLM         bool    `yaml:"use_llm" mapstructure:"use_llm"`
	MaxJobs        int     `yaml:"max_jobs" mapstructure:"max_jobs"`
}

// MappingConfig locates the synonym tables.
type MappingConfig struct {
	Source       string `yaml:"source" mapstructure:"source"`
	SynonymsPath string `yaml:"synonyms_path" mapstructure:"synonyms_path"`
	NotionDB     string `yaml:"notion_db" mapstructure:"notion_db"`
}

// NotionConfig holds Notion API credentials.
type NotionConfig struct {
	Token string `yaml:"token" mapstructure:"token"`
}

// OCRConfig configures the scan fallback for image-only PDFs.
type OCRConfig struct {
	Provider            string `yaml:"provider" mapstructure:"provider"`
	PdfToTextPath       string `yaml:"pdftotext_path" mapstructure:"pdftotext_path"`
	MistralKey          string `yaml:"mistral_key" mapstructure:"mistral_key"`
	MistralModel        string `yaml:"mistral_model" mapstructure:"mistral_model"`
	MaxRetries          int    `yaml:"max_retries" mapstructure:"max_retries"`
	BreakerThreshold    int    `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerCooldownSecs int    `yaml:"breaker_cooldown_secs" mapstructure:"breaker_cooldown_secs"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("LANDSCAPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("blob.driver", "file")
	v.SetDefault("blob.root", "./data/blobs")
	v.SetDefault("blob.timeout_secs", 30)
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 4096)
	v.SetDefault("anthropic.request_timeout_secs", 300)
	v.SetDefault("anthropic.max_retries", 3)
	v.SetDefault("anthropic.initial_backoff_ms", 500)
	v.SetDefault("anthropic.max_backoff_ms", 8000)
	v.SetDefault("anthropic.breaker_threshold", 5)
	v.SetDefault("anthropic.breaker_reset_secs", 30)
	v.SetDefault("toolloop.max_iterations", 10)
	v.SetDefault("toolloop.max_seconds", 120)
	v.SetDefault("toolloop.max_result_chars", 4000)
	v.SetDefault("toolloop.max_history_messages", 24)
	v.SetDefault("toolloop.max_tools", 12)
	v.SetDefault("extract.chunk_size", 35)
	v.SetDefault("extract.chunk_overlap", 1)
	v.SetDefault("extract.job_timeout_secs", 900)
	v.SetDefault("extract.llm_concurrency", 4)
	v.SetDefault("extract.llm_rps", 2.0)
	v.SetDefault("extract.sample_values", 3)
	v.SetDefault("extract.max_jobs", 4)
	v.SetDefault("mapping.source", "file")
	v.SetDefault("ocr.provider", "local")
	v.SetDefault("ocr.pdftotext_path", "pdftotext")
	v.SetDefault("ocr.mistral_model", "mistral-ocr-latest")
	v.SetDefault("ocr.max_retries", 3)
	v.SetDefault("ocr.breaker_threshold", 5)
	v.SetDefault("ocr.breaker_cooldown_secs", 60)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
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

// Validate checks the settings required by a command mode: "serve",
// "extract", "ingest", "migrate" or "analytics".
func (c *Config) Validate(mode string) error {
	var errs []string
	needDB := func() {
		if c.Store.Driver == "postgres" && c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required")
		}
	}
	needLLM := func() {
		if c.Anthropic.Key == "" {
			errs = append(errs, "anthropic.key is required")
		}
	}

	switch mode {
	case "serve":
		needDB()
		needLLM()
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	case "extract":
		if c.Extract.UseLLM {
			needLLM()
		}
	case "ingest", "analytics":
		needDB()
	case "migrate":
		if c.Store.Driver == "postgres" && c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required for postgres")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	switch c.Store.Driver {
	case "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q must be postgres or sqlite", c.Store.Driver))
	}
	if c.ToolLoop.MaxIterations < 1 {
		errs = append(errs, "toolloop.max_iterations must be >= 1")
	}
	if c.ToolLoop.MaxSeconds < 1 {
		errs = append(errs, "toolloop.max_seconds must be >= 1")
	}
	if c.Anthropic.RequestTimeoutSecs <= c.ToolLoop.MaxSeconds {
		errs = append(errs, fmt.Sprintf(
			"anthropic.request_timeout_secs (%d) must exceed toolloop.max_seconds (%d)",
			c.Anthropic.RequestTimeoutSecs, c.ToolLoop.MaxSeconds))
	}
	if c.Extract.ChunkSize < 1 {
		errs = append(errs, "extract.chunk_size must be >= 1")
	} else if c.Extract.ChunkOverlap < 0 || c.Extract.ChunkOverlap >= c.Extract.ChunkSize {
		errs = append(errs, "extract.chunk_overlap must be >= 0 and < extract.chunk_size")
	}
	if c.Mapping.Source == "notion" && (c.Notion.Token == "" || c.Mapping.NotionDB == "") {
		errs = append(errs, "notion.token and mapping.notion_db are required for mapping.source=notion")
	}
	if c.OCR.Provider == "mistral" && c.OCR.MistralKey == "" {
		errs = append(errs, "ocr.mistral_key is required for ocr.provider=mistral")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: invalid for %s: %s", mode, strings.Join(errs, "; "))
	}
	return nil
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
	zap.ReplaceGlobals(logger)

	return nil
}
