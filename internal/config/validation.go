package config

import (
	"fmt"
	"log/slog"
	"slices"
)

// Validate validates configuration values.
// Returns sentinel errors that can be checked with errors.Is().
func (c *Config) Validate() error {
	// 1. Embedding configuration
	if c.EmbedderModel == "" {
		return fmt.Errorf("%w: embedder_model cannot be empty", ErrInvalidEmbedderModel)
	}
	if c.OpenAIAPIKey == "" {
		return fmt.Errorf("%w: OPENAI_API_KEY environment variable is required", ErrMissingAPIKey)
	}

	// 2. PostgreSQL configuration
	if c.PostgresHost == "" {
		return fmt.Errorf("%w: host cannot be empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: must be between 1 and 65535, got %d", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if c.PostgresDBName == "" {
		return fmt.Errorf("%w: database name cannot be empty", ErrInvalidPostgresDBName)
	}

	if c.PostgresPassword == "clevio_dev_password" {
		slog.Warn("Using default development password for PostgreSQL",
			"warning", "Change postgres_password in config.yaml for production deployments")
	}

	// Modern SSL modes only; allow/prefer are deprecated.
	validSSLModes := []string{"disable", "require", "verify-ca", "verify-full"}
	if !slices.Contains(validSSLModes, c.PostgresSSLMode) {
		return fmt.Errorf("postgres_ssl_mode %q is not valid, must be one of: %v",
			c.PostgresSSLMode, validSSLModes)
	}

	// 3. Pool bounds
	if c.PoolMaxConns < 1 {
		return fmt.Errorf("%w: pool_max_conns must be at least 1, got %d", ErrInvalidPoolBounds, c.PoolMaxConns)
	}
	if c.PoolMinConns < 0 || c.PoolMinConns > c.PoolMaxConns {
		return fmt.Errorf("%w: pool_min_conns %d conflicts with pool_max_conns %d",
			ErrInvalidPoolBounds, c.PoolMinConns, c.PoolMaxConns)
	}

	// 4. Cache capacities
	if c.EmbedCacheSize < 1 {
		return fmt.Errorf("%w: embed_cache_size must be at least 1, got %d",
			ErrInvalidCacheCapacity, c.EmbedCacheSize)
	}
	if c.QueryCacheSize < 1 {
		return fmt.Errorf("%w: query_cache_size must be at least 1, got %d",
			ErrInvalidCacheCapacity, c.QueryCacheSize)
	}

	// 5. Retrieval settings
	if c.DefaultTopK < 1 {
		return fmt.Errorf("default_top_k must be at least 1, got %d", c.DefaultTopK)
	}
	if c.SimilarityFloor < 0 || c.SimilarityFloor > 1 {
		return fmt.Errorf("similarity_floor must be between 0 and 1, got %.2f", c.SimilarityFloor)
	}

	return nil
}
