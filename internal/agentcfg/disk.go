package agentcfg

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// DiskTier persists one JSON file per agent id under a directory. It has no
// TTL: its job is resilience across process restarts, not freshness. Writes
// go through a temp file + rename under an advisory file lock so concurrent
// processes sharing the directory cannot tear an entry.
type DiskTier struct {
	dir string
}

// NewDiskTier creates the tier, ensuring the directory exists.
func NewDiskTier(dir string) (*DiskTier, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config cache directory: %w", err)
	}
	return &DiskTier{dir: dir}, nil
}

// Load reads the configuration for agentID. ok=false means no entry.
func (d *DiskTier) Load(agentID string) (Config, bool, error) {
	path := d.path(agentID)

	lock := flock.New(path + ".lock")
	if err := lock.RLock(); err != nil {
		return Config{}, false, fmt.Errorf("locking config file: %w", err)
	}
	defer func() { _ = lock.Unlock() }()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Config{}, false, nil
	}
	if err != nil {
		return Config{}, false, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, false, fmt.Errorf("parsing config file for %q: %w", agentID, err)
	}
	return cfg, true, nil
}

// Save writes the configuration for agentID, replacing any existing entry.
func (d *DiskTier) Save(agentID string, cfg Config) error {
	path := d.path(agentID)

	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("locking config file: %w", err)
	}
	defer func() { _ = lock.Unlock() }()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding config for %q: %w", agentID, err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replacing config file: %w", err)
	}
	return nil
}

// Remove deletes the entry for agentID. Missing entries are not an error.
func (d *DiskTier) Remove(agentID string) error {
	err := os.Remove(d.path(agentID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing config file: %w", err)
	}
	return nil
}

// path maps an agent id to its file, sanitizing characters that are unsafe
// in file names.
func (d *DiskTier) path(agentID string) string {
	safe := make([]rune, 0, len(agentID))
	for _, r := range agentID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			safe = append(safe, r)
		default:
			safe = append(safe, '_')
		}
	}
	return filepath.Join(d.dir, string(safe)+".json")
}
