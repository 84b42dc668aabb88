// Package serverconfig loads the server's JSON configuration file: where to
// listen, where to store chunks and roots, and the configured user list.
package serverconfig

import (
	"encoding/json"
	"fmt"
	"os"

	"golang.org/x/time/rate"

	"mbackup/internal/auth"
)

// UserConfig is one user's on-disk record: PasswordHash is an argon2id PHC
// string, produced ahead of time (e.g. with auth.HashPassword) rather than a
// plaintext password kept on disk.
type UserConfig struct {
	Name         string `json:"name"`
	PasswordHash string `json:"password_hash"`
	Level        string `json:"level"` // "get", "put", or "delete"
}

// Config is the on-disk shape of a server configuration file.
type Config struct {
	// ListenAddr is the address to bind, e.g. ":8080".
	ListenAddr string `json:"listen_addr"`

	// DBPath is the server's SQLite chunk-index database.
	DBPath string `json:"db_path"`
	// DataDir is the root of the external (on-disk) chunk storage tree.
	DataDir string `json:"data_dir"`

	Users []UserConfig `json:"users"`

	// RateLimitPerSecond and RateLimitBurst configure per-IP rate limiting of
	// failed authentication attempts. Zero disables rate limiting entirely.
	RateLimitPerSecond float64 `json:"rate_limit_per_second"`
	RateLimitBurst     int     `json:"rate_limit_burst"`
}

// Load reads and validates the configuration file at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("serverconfig: read %s: %w", path, err)
	}
	var c Config
	if err := json.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("serverconfig: parse %s: %w", path, err)
	}
	if c.ListenAddr == "" {
		return Config{}, fmt.Errorf("serverconfig: %s: listen_addr is required", path)
	}
	if c.DBPath == "" {
		return Config{}, fmt.Errorf("serverconfig: %s: db_path is required", path)
	}
	if c.DataDir == "" {
		return Config{}, fmt.Errorf("serverconfig: %s: data_dir is required", path)
	}
	if len(c.Users) == 0 {
		return Config{}, fmt.Errorf("serverconfig: %s: at least one user is required", path)
	}
	return c, nil
}

// BuildUsers parses each configured user's access level and returns the
// auth.Users lookup table the server handler needs.
func (c Config) BuildUsers() (*auth.Users, error) {
	users := make([]auth.User, 0, len(c.Users))
	for _, u := range c.Users {
		level, err := auth.ParseLevel(u.Level)
		if err != nil {
			return nil, fmt.Errorf("serverconfig: user %q: %w", u.Name, err)
		}
		users = append(users, auth.User{Name: u.Name, PasswordHash: u.PasswordHash, Level: level})
	}
	return auth.NewUsers(users), nil
}

// RateLimit returns the configured rate.Limit, or rate.Inf if rate limiting
// is disabled.
func (c Config) RateLimit() rate.Limit {
	if c.RateLimitPerSecond <= 0 {
		return rate.Inf
	}
	return rate.Limit(c.RateLimitPerSecond)
}
