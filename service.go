// Package updater keeps host-managed plugins up to date from GitHub releases.
// It fetches and caches release metadata, parses compatibility requirements
// out of release notes and readmes, answers the host's update check and
// plugin detail requests, and authenticates package downloads from private
// repositories.
package updater

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
)

// StartupCheckMode defines the service's behaviour on startup.
type StartupCheckMode int

const (
	// NoCheck disables any checks on startup.
	NoCheck StartupCheckMode = iota
	// VerifyOnStartup fetches once per owner to surface credential errors early.
	VerifyOnStartup
	// CheckOnStartup runs an update check for every registered plugin.
	CheckOnStartup
)

// ParseStartupCheckMode maps "none", "verify" and "check" to a mode.
func ParseStartupCheckMode(s string) (StartupCheckMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return NoCheck, nil
	case "verify":
		return VerifyOnStartup, nil
	case "check":
		return CheckOnStartup, nil
	default:
		return NoCheck, fmt.Errorf("unknown startup check mode: %q", s)
	}
}

// UpdateService runs the registry's startup work.
type UpdateService struct {
	registry *Registry
	mode     StartupCheckMode
	logger   *slog.Logger
}

// NewUpdateService creates a service over registry.
func NewUpdateService(registry *Registry, mode StartupCheckMode, logger *slog.Logger) *UpdateService {
	if logger == nil {
		logger = slog.Default()
	}
	return &UpdateService{registry: registry, mode: mode, logger: logger}
}

// Start performs the configured startup check. Results are only returned
// for CheckOnStartup.
func (s *UpdateService) Start(ctx context.Context) ([]CheckResult, error) {
	switch s.mode {
	case NoCheck:
		return nil, nil
	case VerifyOnStartup:
		s.registry.VerifyCredentials(ctx)
		for _, n := range s.registry.Notices(ctx) {
			s.logger.Warn("credential notice", "owner", n.Owner, "kind", n.Kind, "message", n.Message)
		}
		return nil, nil
	case CheckOnStartup:
		results, err := s.registry.CheckAll(ctx, nil)
		if err != nil {
			return nil, err
		}
		for _, r := range results {
			if r.Found && r.Decision.UpdateAvailable {
				s.logger.Info("update available", "repo", r.RepoPath, "version", r.Decision.Response.NewVersion)
			}
		}
		return results, nil
	default:
		return nil, fmt.Errorf("unknown startup check mode: %d", s.mode)
	}
}

// ParseRepoURL extracts the owner and repository name from a GitHub URL.
// It handles standard GitHub URL formats.
func ParseRepoURL(repoURL string) (owner string, repo string, err error) {
	u, err := url.Parse(repoURL)
	if err != nil {
		return "", "", err
	}
	if u.Host == "" {
		return "", "", fmt.Errorf("invalid repo URL: %s", repoURL)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repo URL path: %s", u.Path)
	}
	return parts[0], strings.TrimSuffix(parts[1], ".git"), nil
}
