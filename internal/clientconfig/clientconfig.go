// Package clientconfig loads the client's JSON configuration file: where the
// server lives, which bucket secrets and local cache to use, and which
// directories to back up.
package clientconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Config is the on-disk shape of a client configuration file.
type Config struct {
	// ServerURL is the base URL of the backup server, e.g. "http://backup.example:8080".
	ServerURL string `json:"server_url"`
	User      string `json:"user"`
	Password  string `json:"password"`

	// SecretsFile points at the bucket/seed/key JSON file (see internal/secrets).
	SecretsFile string `json:"secrets_file"`
	// CacheFile is the client's local SQLite cache path.
	CacheFile string `json:"cache_file"`

	// Host identifies this machine's roots in the server's root registry. If
	// empty, the CLI falls back to the OS hostname and then a generated
	// petname.
	Host string `json:"host"`

	Roots    []string `json:"roots"`
	Excludes []string `json:"excludes"`

	Parallelism int `json:"parallelism"`

	// WatchDebounceMillis configures watch mode's settle delay. Zero uses
	// internal/watch's default.
	WatchDebounceMillis int `json:"watch_debounce_millis"`

	// ScheduleCron configures scheduled mode's cron expression, e.g. "0 3 * * *".
	ScheduleCron string `json:"schedule_cron"`
}

// WatchDebounce returns the configured watch debounce as a time.Duration.
func (c Config) WatchDebounce() time.Duration {
	return time.Duration(c.WatchDebounceMillis) * time.Millisecond
}

// Load reads and validates the configuration file at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("clientconfig: read %s: %w", path, err)
	}
	var c Config
	if err := json.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("clientconfig: parse %s: %w", path, err)
	}
	if c.ServerURL == "" {
		return Config{}, fmt.Errorf("clientconfig: %s: server_url is required", path)
	}
	if c.SecretsFile == "" {
		return Config{}, fmt.Errorf("clientconfig: %s: secrets_file is required", path)
	}
	if c.CacheFile == "" {
		return Config{}, fmt.Errorf("clientconfig: %s: cache_file is required", path)
	}
	if len(c.Roots) == 0 {
		return Config{}, fmt.Errorf("clientconfig: %s: roots must list at least one directory", path)
	}
	return c, nil
}
