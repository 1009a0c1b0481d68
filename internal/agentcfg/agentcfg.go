// Package agentcfg caches per-agent run configurations so the serving layer
// avoids a database round trip per request.
//
// Two tiers back the cache: a TTL-bounded memory tier, which is authoritative
// while an entry is present, and a disk tier with no TTL that survives
// process restarts and transient store outages. The authoritative store is
// consulted only on a full miss.
package agentcfg

import "errors"

var (
	// ErrConfigNotFound indicates both cache tiers and the authoritative
	// store have no configuration for the agent, or the store was skipped
	// by policy: the agent needs warming.
	ErrConfigNotFound = errors.New("agent configuration not found")

	// ErrConfigStoreUnavailable indicates the authoritative store failed
	// while the cache had no entry. Distinct from ErrConfigNotFound so
	// callers can tell "needs warming" from "store is down".
	ErrConfigStoreUnavailable = errors.New("configuration store unavailable")
)

// Config is an agent's run configuration.
type Config struct {
	ModelName     string   `json:"model_name"`
	SystemMessage string   `json:"system_message"`
	Tools         []string `json:"tools"`
	MemoryEnabled bool     `json:"memory_enabled"`
}
