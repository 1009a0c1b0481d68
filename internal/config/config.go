// Package config provides application configuration management with
// multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.clevio/config.yaml)
//  3. Default values
//
// Main configuration categories:
//   - Storage: PostgreSQL connection for the knowledge store (see storage.go)
//   - Embedding: provider models and dimension ceilings
//   - Caches: capacities and TTLs for the embedding, query and config caches
//   - Pool: connection pool bounds and acquire timeout
//
// Security: sensitive data (passwords, API keys) is never logged; the config
// directory uses 0750 permissions.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

var (
	// ErrMissingAPIKey indicates a required API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidEmbedderModel indicates the embedder model is invalid.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPoolBounds indicates the pool min/max settings conflict.
	ErrInvalidPoolBounds = errors.New("invalid pool bounds")

	// ErrInvalidCacheCapacity indicates a cache capacity is out of range.
	ErrInvalidCacheCapacity = errors.New("invalid cache capacity")
)

// Embedding model defaults. The large model outputs 3072 dimensions and is
// what new knowledge tables are provisioned with; the small model covers
// legacy 1536-dimension collections.
const (
	DefaultEmbedderModel    = "text-embedding-3-large"
	DefaultAltEmbedderModel = "text-embedding-3-small"
)

// Config stores application configuration.
// SECURITY: sensitive fields are explicitly masked in MarshalJSON().
type Config struct {
	// Storage configuration (see storage.go for DATABASE_URL handling)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Embedding provider configuration
	OpenAIAPIKey     string  `mapstructure:"openai_api_key" json:"openai_api_key"` // SENSITIVE: masked in MarshalJSON
	OpenAIBaseURL    string  `mapstructure:"openai_base_url" json:"openai_base_url"`
	EmbedderModel    string  `mapstructure:"embedder_model" json:"embedder_model"`
	AltEmbedderModel string  `mapstructure:"alt_embedder_model" json:"alt_embedder_model"`
	EmbedRatePerSec  float64 `mapstructure:"embed_rate_per_sec" json:"embed_rate_per_sec"`
	DimensionCeiling int     `mapstructure:"dimension_ceiling" json:"dimension_ceiling"`
	HalfvecCeiling   int     `mapstructure:"halfvec_ceiling" json:"halfvec_ceiling"`

	// Cache configuration
	EmbedCacheSize     int           `mapstructure:"embed_cache_size" json:"embed_cache_size"`
	QueryCacheSize     int           `mapstructure:"query_cache_size" json:"query_cache_size"`
	QueryResultTTL     time.Duration `mapstructure:"query_result_ttl" json:"query_result_ttl"`
	ConfigCacheTTL     time.Duration `mapstructure:"config_cache_ttl" json:"config_cache_ttl"`
	ConfigCacheDir     string        `mapstructure:"config_cache_dir" json:"config_cache_dir"`
	StrictConfigErrors bool          `mapstructure:"strict_config_errors" json:"strict_config_errors"`

	// Retrieval configuration
	DefaultTopK     int           `mapstructure:"default_top_k" json:"default_top_k"`
	QueryTimeBudget time.Duration `mapstructure:"query_time_budget" json:"query_time_budget"`
	SimilarityFloor float64       `mapstructure:"similarity_floor" json:"similarity_floor"`

	// Pool configuration
	PoolMinConns       int           `mapstructure:"pool_min_conns" json:"pool_min_conns"`
	PoolMaxConns       int           `mapstructure:"pool_max_conns" json:"pool_max_conns"`
	PoolAcquireTimeout time.Duration `mapstructure:"pool_acquire_timeout" json:"pool_acquire_timeout"`

	// Serving configuration
	ListenAddr string `mapstructure:"listen_addr" json:"listen_addr"`
	LogLevel   string `mapstructure:"log_level" json:"log_level"`
	LogJSON    bool   `mapstructure:"log_json" json:"log_json"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > default values.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".clevio")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	v.AddConfigPath(".")

	setDefaults(v, configDir)
	bindEnvVariables(v)

	if err := v.ReadInConfig(); err != nil {
		// A missing file is not an error, defaults apply.
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"search_paths", []string{configDir, "."},
			"config_name", "config.yaml")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing database URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults(v *viper.Viper, configDir string) {
	// PostgreSQL defaults (matching docker-compose.yml)
	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "clevio")
	v.SetDefault("postgres_password", "clevio_dev_password")
	v.SetDefault("postgres_db_name", "knowledge_clevio_pro")
	v.SetDefault("postgres_ssl_mode", "disable")

	// Embedding defaults
	v.SetDefault("embedder_model", DefaultEmbedderModel)
	v.SetDefault("alt_embedder_model", DefaultAltEmbedderModel)
	v.SetDefault("embed_rate_per_sec", 10.0)
	v.SetDefault("dimension_ceiling", 2000)
	v.SetDefault("halfvec_ceiling", 4000)

	// Cache defaults
	v.SetDefault("embed_cache_size", 1024)
	v.SetDefault("query_cache_size", 1000)
	v.SetDefault("query_result_ttl", time.Minute)
	v.SetDefault("config_cache_ttl", 300*time.Second)
	v.SetDefault("config_cache_dir", filepath.Join(configDir, "agent-configs"))
	v.SetDefault("strict_config_errors", false)

	// Retrieval defaults
	v.SetDefault("default_top_k", 5)
	v.SetDefault("query_time_budget", 10*time.Second)
	v.SetDefault("similarity_floor", 0.0)

	// Pool defaults
	v.SetDefault("pool_min_conns", 2)
	v.SetDefault("pool_max_conns", 10)
	v.SetDefault("pool_acquire_timeout", 5*time.Second)

	// Serving defaults
	v.SetDefault("listen_addr", "localhost:9090")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", true)
}

// bindEnvVariables binds environment variables explicitly.
func bindEnvVariables(v *viper.Viper) {
	// Hardcoded strings cannot fail to bind; a panic here is a bug.
	mustBind := func(key, envVar string) {
		if err := v.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("openai_api_key", "OPENAI_API_KEY")
	mustBind("openai_base_url", "OPENAI_BASE_URL")
	mustBind("embedder_model", "CLEVIO_EMBEDDER_MODEL")
	mustBind("strict_config_errors", "RUN_BYPASS")
	mustBind("listen_addr", "CLEVIO_LISTEN_ADDR")
	mustBind("log_level", "CLEVIO_LOG_LEVEL")
	mustBind("config_cache_dir", "CLEVIO_CONFIG_CACHE_DIR")
}

// maskedValue is the placeholder for masked sensitive data.
const maskedValue = "████████"

// maskSecret masks a secret string for safe logging. Short secrets are fully
// masked; longer ones keep the first and last two characters for debugging.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with explicit sensitive field masking.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	a.OpenAIAPIKey = maskSecret(a.OpenAIAPIKey)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
