package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, "plugin-updater.yaml", "repositories: []\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://api.github.com", cfg.APIURL)
	assert.Equal(t, 10*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 60*time.Second, cfg.CacheTTL)
	assert.Equal(t, DriverMemory, cfg.Store.Driver)
	assert.Equal(t, 60, cfg.RateLimit.RequestsPerMinute)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "none", cfg.StartupCheck)
	assert.Empty(t, cfg.Repositories)
}

func TestLoadRepositories(t *testing.T) {
	path := writeConfig(t, "plugin-updater.yaml", `
cache_ttl: 5m
store:
  driver: SQLite
  path: /tmp/updater.db
repositories:
  - url: https://github.com/acme/widget.git
    private: true
    token: " secret "
    plugin:
      basename: widget/widget.php
      version: 1.2.0
      active: true
  - owner: acme
    repo: gadget
    owner_name: Acme Inc
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 5*time.Minute, cfg.CacheTTL)
	assert.Equal(t, DriverSQLite, cfg.Store.Driver)
	require.Len(t, cfg.Repositories, 2)

	widget := cfg.Repositories[0]
	assert.Equal(t, "acme", widget.Owner)
	assert.Equal(t, "widget", widget.Repo)
	assert.Equal(t, "secret", widget.Token)
	assert.True(t, widget.Private)

	plugin := widget.PluginInfo()
	assert.Equal(t, "widget/widget.php", plugin.Basename)
	assert.Equal(t, "widget", plugin.Slug())
	assert.Equal(t, "1.2.0", plugin.Version)
	assert.True(t, plugin.Active)

	uc := widget.UpdaterConfig(cfg.CacheTTL)
	assert.Equal(t, "acme", uc.Owner)
	assert.True(t, uc.PrivateRepo)
	assert.Equal(t, 5*time.Minute, uc.CacheTTL)

	gadget, ok := cfg.Find("ACME/gadget")
	require.True(t, ok)
	assert.Equal(t, "Acme Inc", gadget.OwnerName)
	assert.Equal(t, "gadget", gadget.PluginInfo().Basename)

	_, ok = cfg.Find("acme/missing")
	assert.False(t, ok)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("PLUGIN_UPDATER_SERVER_ADDR", "127.0.0.1:9999")
	t.Setenv("PLUGIN_UPDATER_REQUEST_TIMEOUT", "3s")
	path := writeConfig(t, "plugin-updater.yaml", "log_level: debug\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9999", cfg.Server.Addr)
	assert.Equal(t, 3*time.Second, cfg.RequestTimeout)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadInvalid(t *testing.T) {
	testCases := []struct {
		name    string
		content string
	}{
		{"sqlite without path", "store:\n  driver: sqlite\n"},
		{"unknown driver", "store:\n  driver: redis\n"},
		{"repository without repo", "repositories:\n  - owner: acme\n"},
		{"bad repository url", "repositories:\n  - url: not-a-url\n"},
		{"duplicate repository", "repositories:\n  - url: https://github.com/acme/widget\n  - owner: acme\n    repo: widget\n"},
		{"negative rate", "rate_limit:\n  requests_per_minute: -1\n"},
		{"unknown startup check", "startup_check: always\n"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfig(t, "plugin-updater.yaml", tc.content)
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestSourceSet(t *testing.T) {
	path := writeConfig(t, "plugin-updater.json", `{"log_level": "warn"}`)
	s, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, path, s.File())

	s.Set(KeyLogLevel, "error")
	cfg, err := s.Config()
	require.NoError(t, err)
	assert.Equal(t, "error", cfg.LogLevel)
}

func TestWatch(t *testing.T) {
	path := writeConfig(t, "plugin-updater.yaml", "repositories:\n  - url: https://github.com/acme/widget\n")
	s, err := Open(path)
	require.NoError(t, err)

	changes := make(chan *Config, 4)
	s.Watch(func(cfg *Config, err error) {
		if err == nil {
			changes <- cfg
		}
	})

	require.NoError(t, os.WriteFile(path, []byte("repositories:\n  - url: https://github.com/acme/widget\n    token: fresh\n"), 0o600))

	deadline := time.After(5 * time.Second)
	for {
		select {
		case cfg := <-changes:
			if len(cfg.Repositories) == 1 && cfg.Repositories[0].Token == "fresh" {
				return
			}
		case <-deadline:
			t.Fatal("config change was not observed")
		}
	}
}
