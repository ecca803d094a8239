package cmd

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snider/plugin-updater/internal/config"
)

func testAppConfig(tokens map[string]string) *config.Config {
	cfg := &config.Config{
		APIURL:         "http://127.0.0.1:1",
		RequestTimeout: time.Second,
		CacheTTL:       time.Minute,
		Store:          config.Store{Driver: config.DriverMemory},
	}
	for _, path := range []string{"acme/secret", "beta/vault"} {
		owner, repo, _ := strings.Cut(path, "/")
		cfg.Repositories = append(cfg.Repositories, config.Repository{
			Owner:   owner,
			Repo:    repo,
			Private: true,
			Token:   tokens[path],
		})
	}
	return cfg
}

func TestApplyCredentials(t *testing.T) {
	ctx := context.Background()
	rt, err := newApp(ctx, testAppConfig(map[string]string{"acme/secret": "tok"}), false)
	require.NoError(t, err)
	defer rt.Close()

	secret, err := rt.coordinator("acme/secret")
	require.NoError(t, err)
	vault, err := rt.coordinator("beta/vault")
	require.NoError(t, err)
	require.Equal(t, "tok", secret.Credential())

	// A credential set outside the config survives reloads that leave its token alone.
	require.NoError(t, vault.SetCredential(ctx, "cli-token"))

	rt.applyCredentials(ctx, testAppConfig(map[string]string{"acme/secret": "tok2"}))
	assert.Equal(t, "tok2", secret.Credential())
	assert.Equal(t, "cli-token", vault.Credential())

	rt.applyCredentials(ctx, testAppConfig(nil))
	assert.Empty(t, secret.Credential(), "removing the token from the config removes the credential")
	assert.False(t, secret.Ready())
	assert.Equal(t, "cli-token", vault.Credential())

	rt.applyCredentials(ctx, testAppConfig(map[string]string{"beta/vault": "cfg-token"}))
	assert.Empty(t, secret.Credential())
	assert.Equal(t, "cfg-token", vault.Credential())
}
