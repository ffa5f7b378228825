package config

import (
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
	Index     IndexConfig     `yaml:"index" mapstructure:"index"`
	Embedding EmbeddingConfig `yaml:"embedding" mapstructure:"embedding"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Price     PriceConfig     `yaml:"price" mapstructure:"price"`
	Calc      CalcConfig      `yaml:"calc" mapstructure:"calc"`
	Compose   ComposeConfig   `yaml:"compose" mapstructure:"compose"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the persistence backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // "sqlite" or "postgres"
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// IndexConfig configures document chunking and retrieval.
type IndexConfig struct {
	ChunkSize    int `yaml:"chunk_size" mapstructure:"chunk_size"`       // max chunk length in runes
	ChunkOverlap int `yaml:"chunk_overlap" mapstructure:"chunk_overlap"` // runes carried over between chunks
	TopK         int `yaml:"top_k" mapstructure:"top_k"`
	EmbedWorkers int `yaml:"embed_workers" mapstructure:"embed_workers"`
}

// EmbeddingConfig holds embedding service settings.
type EmbeddingConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	Model   string `yaml:"model" mapstructure:"model"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int    `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// PriceConfig configures the carbon price feed.
type PriceConfig struct {
	FeedURL          string             `yaml:"feed_url" mapstructure:"feed_url"`
	Key              string             `yaml:"key" mapstructure:"key"`
	FetchTimeoutSecs int                `yaml:"fetch_timeout_secs" mapstructure:"fetch_timeout_secs"`
	CacheTTLMins     int                `yaml:"cache_ttl_mins" mapstructure:"cache_ttl_mins"`
	MaxStaleHours    int                `yaml:"max_stale_hours" mapstructure:"max_stale_hours"`
	DefaultPrice     float64            `yaml:"default_price" mapstructure:"default_price"`
	HistoricPrices   map[string]float64 `yaml:"historic_prices" mapstructure:"historic_prices"`
}

// FetchTimeout returns the live-fetch timeout as a duration.
func (c PriceConfig) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutSecs) * time.Second
}

// CacheTTL returns the freshness window as a duration.
func (c PriceConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLMins) * time.Minute
}

// MaxStale returns the staleness cutoff for cached-quote fallback.
func (c PriceConfig) MaxStale() time.Duration {
	return time.Duration(c.MaxStaleHours) * time.Hour
}

// CalcConfig configures the cost calculator.
type CalcConfig struct {
	// ReferenceTable is an optional path to a versioned YAML file of default
	// emissions intensities. Empty means the built-in table.
	ReferenceTable string `yaml:"reference_table" mapstructure:"reference_table"`
}

// ComposeConfig configures grounded answer generation.
type ComposeConfig struct {
	HistoryWindow       int     `yaml:"history_window" mapstructure:"history_window"`
	MaxRetries          int     `yaml:"max_retries" mapstructure:"max_retries"`
	MinRequestInterval  float64 `yaml:"min_request_interval_secs" mapstructure:"min_request_interval_secs"`
	GenerateTimeoutSecs int     `yaml:"generate_timeout_secs" mapstructure:"generate_timeout_secs"`
}

// GenerateTimeout returns the per-call model timeout as a duration.
func (c ComposeConfig) GenerateTimeout() time.Duration {
	return time.Duration(c.GenerateTimeoutSecs) * time.Second
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
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
	v.SetEnvPrefix("CBAM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "cbam.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("index.chunk_size", 1200)
	v.SetDefault("index.chunk_overlap", 200)
	v.SetDefault("index.top_k", 3)
	v.SetDefault("index.embed_workers", 4)
	v.SetDefault("embedding.model", "text-embedding-3-small")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 1024)
	v.SetDefault("price.fetch_timeout_secs", 10)
	v.SetDefault("price.cache_ttl_mins", 15)
	v.SetDefault("price.max_stale_hours", 24)
	// EU ETS market close 2025-10-31.
	v.SetDefault("price.default_price", 78.54)
	v.SetDefault("price.historic_prices", map[string]float64{
		"2025-10-31": 78.54,
		"2025-10-01": 76.30,
		"2025-09-15": 74.80,
		"2025-09-01": 73.20,
	})
	v.SetDefault("compose.history_window", 5)
	v.SetDefault("compose.max_retries", 2)
	v.SetDefault("compose.min_request_interval_secs", 2.0)
	v.SetDefault("compose.generate_timeout_secs", 60)

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
