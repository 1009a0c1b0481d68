package pgstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clevio/clevio/internal/agentcfg"
)

// ConfigStore reads agent run configurations from the agents table. It is the
// authoritative tier behind the agentcfg cache, so it runs on its own small
// pgxpool rather than borrowing retrieval connections.
type ConfigStore struct {
	pool *pgxpool.Pool
}

// NewConfigStore connects a configuration store to the database at dsn.
func NewConfigStore(ctx context.Context, dsn string) (*ConfigStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing config store dsn: %w", err)
	}
	cfg.MaxConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting config store: %w", err)
	}
	return &ConfigStore{pool: pool}, nil
}

// FetchConfig returns the agent's run configuration. A missing agent maps to
// agentcfg.ErrConfigNotFound; any other failure means the store is down.
func (s *ConfigStore) FetchConfig(ctx context.Context, agentID string) (agentcfg.Config, error) {
	var cfg agentcfg.Config
	err := s.pool.QueryRow(ctx, `
		SELECT model_name, system_message, tools, memory_enabled
		FROM agents
		WHERE id = $1`, agentID,
	).Scan(&cfg.ModelName, &cfg.SystemMessage, &cfg.Tools, &cfg.MemoryEnabled)
	if errors.Is(err, pgx.ErrNoRows) {
		return agentcfg.Config{}, fmt.Errorf("agent %q: %w", agentID, agentcfg.ErrConfigNotFound)
	}
	if err != nil {
		return agentcfg.Config{}, fmt.Errorf("fetching config for agent %q: %w", agentID, err)
	}
	return cfg, nil
}

// Close releases the store's connections.
func (s *ConfigStore) Close() {
	s.pool.Close()
}
