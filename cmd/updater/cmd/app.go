package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	updater "github.com/snider/plugin-updater"
	"github.com/snider/plugin-updater/internal/config"
	"github.com/snider/plugin-updater/store"
)

// app is a registry of coordinators built from the configuration.
type app struct {
	registry *updater.Registry
	metrics  *prometheus.Registry
	store    updater.Store
	sqlite   *store.SQLite
	logger   *slog.Logger
	// tokens holds the token each repository had in the last applied config.
	tokens map[string]string
}

// newApp builds one coordinator per configured repository. html selects
// whether readmes and changelogs are rendered to HTML or kept as markdown.
func newApp(ctx context.Context, cfg *config.Config, html bool) (*app, error) {
	rt := &app{
		registry: updater.NewRegistry(),
		metrics:  prometheus.NewRegistry(),
		logger:   slog.Default(),
		tokens:   make(map[string]string),
	}

	switch cfg.Store.Driver {
	case config.DriverSQLite:
		db, err := store.OpenSQLite(cfg.Store.Path)
		if err != nil {
			return nil, err
		}
		rt.sqlite = db
		rt.store = db
	default:
		rt.store = store.NewMemory(0)
	}

	clientOpts := []updater.ClientOption{
		updater.WithAPIURL(cfg.APIURL),
		updater.WithRequestTimeout(cfg.RequestTimeout),
	}
	if limiter := newLimiter(cfg.RateLimit); limiter != nil {
		clientOpts = append(clientOpts, updater.WithRateLimiter(limiter))
	}

	metrics := updater.NewMetrics(rt.metrics)
	for _, repo := range cfg.Repositories {
		opts := []updater.Option{
			updater.WithStore(rt.store),
			updater.WithPluginSource(updater.StaticPlugin(repo.PluginInfo())),
			updater.WithLogger(rt.logger),
			updater.WithMetrics(metrics),
			updater.WithClientOptions(clientOpts...),
		}
		if !html {
			opts = append(opts, updater.WithRenderer(nil))
		}

		c, err := updater.New(ctx, repo.UpdaterConfig(cfg.CacheTTL), opts...)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("repository %s: %w", repo.RepoPath(), err)
		}
		if repo.Token != "" && repo.Token != c.Credential() {
			if err := c.SetCredential(ctx, repo.Token); err != nil {
				rt.Close()
				return nil, fmt.Errorf("repository %s: %w", repo.RepoPath(), err)
			}
		}
		if err := rt.registry.Register(c); err != nil {
			rt.Close()
			return nil, err
		}
		rt.tokens[repo.RepoPath()] = repo.Token
	}
	return rt, nil
}

// newLimiter turns a per-minute budget into a token bucket. Zero disables it.
func newLimiter(cfg config.RateLimit) *rate.Limiter {
	if cfg.RequestsPerMinute <= 0 {
		return nil
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), burst)
}

// coordinator finds the coordinator for an "owner/repo" argument.
func (rt *app) coordinator(repoPath string) (*updater.Coordinator, error) {
	owner, repo, ok := strings.Cut(repoPath, "/")
	if !ok || owner == "" || repo == "" {
		return nil, fmt.Errorf("expected owner/repo, got %q", repoPath)
	}
	c, found := rt.registry.Lookup(owner, repo)
	if !found {
		return nil, fmt.Errorf("repository %s is not configured", repoPath)
	}
	return c, nil
}

// applyCredentials pushes token edits from a reloaded config to the
// coordinators. A token removed from the config removes the stored
// credential; repositories whose config token did not change keep theirs, so
// credentials set through the CLI or HTTP survive unrelated edits.
func (rt *app) applyCredentials(ctx context.Context, cfg *config.Config) {
	for _, repo := range cfg.Repositories {
		path := repo.RepoPath()
		previous, known := rt.tokens[path]
		if !known || previous == repo.Token {
			continue
		}
		c, ok := rt.registry.Lookup(repo.Owner, repo.Repo)
		if !ok {
			continue
		}
		if err := c.SetCredential(ctx, repo.Token); err != nil {
			rt.logger.Error("failed to apply credential", "repo", path, "error", err)
			continue
		}
		rt.tokens[path] = repo.Token
		if repo.Token == "" {
			rt.logger.Info("credential removed", "repo", path)
		} else {
			rt.logger.Info("credential reloaded", "repo", path)
		}
	}
}

// purgeExpired removes expired SQLite rows every interval until ctx ends.
func (rt *app) purgeExpired(ctx context.Context, interval time.Duration) {
	if rt.sqlite == nil {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := rt.sqlite.Purge(ctx)
			if err != nil {
				rt.logger.Warn("store purge failed", "error", err)
				continue
			}
			if n > 0 {
				rt.logger.Debug("store purged", "rows", n)
			}
		}
	}
}

func (rt *app) Close() {
	rt.registry.Close()
	if rt.sqlite != nil {
		if err := rt.sqlite.Close(); err != nil {
			rt.logger.Warn("failed to close store", "error", err)
		}
	}
}
