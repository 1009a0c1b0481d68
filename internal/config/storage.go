package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
)

// KnowledgeDBName is the database holding the per-tenant knowledge tables.
// When only DATABASE_URL is set, the knowledge DSN is derived from it by
// swapping the database name to this value.
const KnowledgeDBName = "knowledge_clevio_pro"

// quoteDSNValue quotes a value for PostgreSQL key=value DSN format so values
// with spaces or quotes parse correctly.
func quoteDSNValue(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `'`, `\'`)
	return "'" + s + "'"
}

// PostgresConnectionString returns the PostgreSQL DSN for the pgx driver.
func (c *Config) PostgresConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.PostgresHost,
		c.PostgresPort,
		c.PostgresUser,
		quoteDSNValue(c.PostgresPassword),
		c.PostgresDBName,
		c.PostgresSSLMode,
	)
}

// PostgresURL returns the PostgreSQL URL form of the same settings.
func (c *Config) PostgresURL() string {
	u := &url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.PostgresUser, c.PostgresPassword),
		Host:     fmt.Sprintf("%s:%d", c.PostgresHost, c.PostgresPort),
		Path:     c.PostgresDBName,
		RawQuery: fmt.Sprintf("sslmode=%s", c.PostgresSSLMode),
	}
	return u.String()
}

// parseDatabaseURL applies KNOWLEDGE_DATABASE_URL or DATABASE_URL over the
// individual postgres_* settings.
//
// Priority: KNOWLEDGE_DATABASE_URL wins outright. DATABASE_URL is the shared
// application database; when only it is set, the host and credentials carry
// over but the database name is swapped to the knowledge database.
func (c *Config) parseDatabaseURL() error {
	if dbURL := os.Getenv("KNOWLEDGE_DATABASE_URL"); dbURL != "" {
		return c.applyDatabaseURL(dbURL, "")
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		return c.applyDatabaseURL(dbURL, KnowledgeDBName)
	}
	return nil
}

// applyDatabaseURL parses a postgres URL into the postgres_* settings.
// A non-empty dbOverride replaces the URL's database name.
func (c *Config) applyDatabaseURL(dbURL, dbOverride string) error {
	parsed, err := url.Parse(dbURL)
	if err != nil {
		return fmt.Errorf("invalid database URL format: %w", err)
	}

	if parsed.Scheme != "postgres" && parsed.Scheme != "postgresql" {
		return fmt.Errorf("database URL must start with postgres:// or postgresql://, got %q", parsed.Scheme)
	}

	if host := parsed.Hostname(); host != "" {
		c.PostgresHost = host
	}

	if portStr := parsed.Port(); portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return fmt.Errorf("invalid port in database URL: %w", err)
		}
		c.PostgresPort = port
	}

	if parsed.User != nil {
		if user := parsed.User.Username(); user != "" {
			c.PostgresUser = user
		}
		if password, ok := parsed.User.Password(); ok {
			c.PostgresPassword = password
		}
	}

	if parsed.Path != "" {
		c.PostgresDBName = strings.TrimPrefix(parsed.Path, "/")
	}
	if dbOverride != "" {
		c.PostgresDBName = dbOverride
	}

	if sslmode := parsed.Query().Get("sslmode"); sslmode != "" {
		c.PostgresSSLMode = sslmode
	}

	return nil
}
