package serverconfig

import (
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/time/rate"
)

func writeConfig(t *testing.T, c Config) string {
	t.Helper()
	data, err := json.Marshal(c)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "server.json")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, Config{
		ListenAddr: ":8080",
		DBPath:     "store.db",
		DataDir:    "data",
		Users:      []UserConfig{{Name: "alice", PasswordHash: "x", Level: "delete"}},
	})
	c, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	users, err := c.BuildUsers()
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest("GET", "/status/bucket", nil)
	if _, ok := users.Check(req); ok {
		t.Fatal("expected no match for a request with no Authorization header")
	}
}

func TestLoadRejectsMissingUsers(t *testing.T) {
	path := writeConfig(t, Config{ListenAddr: ":8080", DBPath: "store.db", DataDir: "data"})
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for a config with no users")
	}
}

func TestBuildUsersRejectsUnknownLevel(t *testing.T) {
	c := Config{Users: []UserConfig{{Name: "bob", PasswordHash: "x", Level: "admin"}}}
	if _, err := c.BuildUsers(); err == nil {
		t.Fatal("expected an error for an unknown access level")
	}
}

func TestRateLimitDisabledByDefault(t *testing.T) {
	c := Config{}
	if c.RateLimit() != rate.Inf {
		t.Fatal("expected rate.Inf when RateLimitPerSecond is unset")
	}
}
