// Package config loads application configuration from file and environment.
package config

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/wishwell/preview-service/internal/store"
)

// Config holds the full application configuration.
type Config struct {
	Store      store.Config     `yaml:"store" mapstructure:"store"`
	Auth       AuthConfig       `yaml:"auth" mapstructure:"auth"`
	Extraction ExtractionConfig `yaml:"extraction" mapstructure:"extraction"`
	Structured StructuredConfig `yaml:"structured" mapstructure:"structured"`
	Dataset    DatasetConfig    `yaml:"dataset" mapstructure:"dataset"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit" mapstructure:"rate_limit"`
	Cache      CacheConfig      `yaml:"cache" mapstructure:"cache"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// AuthConfig configures the identity verifier.
type AuthConfig struct {
	IntrospectURL string `yaml:"introspect_url" mapstructure:"introspect_url"`
	// StaticTokens maps bearer tokens to user IDs for development use when
	// no introspection endpoint is configured.
	StaticTokens map[string]string `yaml:"static_tokens" mapstructure:"static_tokens"`
}

// ExtractionConfig configures the Stage 1 HTML fetch.
type ExtractionConfig struct {
	TimeoutSecs  int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	UserAgent    string  `yaml:"user_agent" mapstructure:"user_agent"`
	PerHostRPS   float64 `yaml:"per_host_rps" mapstructure:"per_host_rps"`
	PerHostBurst int     `yaml:"per_host_burst" mapstructure:"per_host_burst"`
}

// StructuredConfig configures the Stage 2 extraction service.
type StructuredConfig struct {
	Token   string `yaml:"token" mapstructure:"token"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// DatasetConfig configures the Stage 3 dataset service.
type DatasetConfig struct {
	Token            string `yaml:"token" mapstructure:"token"`
	BaseURL          string `yaml:"base_url" mapstructure:"base_url"`
	RetailersPath    string `yaml:"retailers_path" mapstructure:"retailers_path"`
	PollIntervalSecs int    `yaml:"poll_interval_secs" mapstructure:"poll_interval_secs"`
	PollCeilingSecs  int    `yaml:"poll_ceiling_secs" mapstructure:"poll_ceiling_secs"`
}

// RateLimitConfig configures the per-user hourly quota.
type RateLimitConfig struct {
	PerHour int `yaml:"per_hour" mapstructure:"per_hour"`
}

// CacheConfig configures preview caching.
type CacheConfig struct {
	TTLDays int `yaml:"ttl_days" mapstructure:"ttl_days"`
}

// ServerConfig configures the HTTP server.
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
	v.SetEnvPrefix("PREVIEW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "preview.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("extraction.timeout_secs", 12)
	v.SetDefault("extraction.per_host_rps", 2)
	v.SetDefault("extraction.per_host_burst", 4)
	v.SetDefault("structured.base_url", "https://api.diffbot.com/v3")
	v.SetDefault("dataset.base_url", "https://api.brightdata.com/datasets/v3")
	v.SetDefault("dataset.retailers_path", "retailers.yaml")
	v.SetDefault("dataset.poll_interval_secs", 3)
	v.SetDefault("dataset.poll_ceiling_secs", 45)
	v.SetDefault("rate_limit.per_hour", 30)
	v.SetDefault("cache.ttl_days", 30)

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

// LoadRetailers reads the hostname-to-dataset-ID map for the Stage 3
// dataset service. A missing file is not an error: Stage 3 is simply
// disabled for every host.
func LoadRetailers(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "config: read retailers %s", path)
	}

	var doc struct {
		Retailers map[string]string `yaml:"retailers"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, eris.Wrapf(err, "config: parse retailers %s", path)
	}
	return doc.Retailers, nil
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
