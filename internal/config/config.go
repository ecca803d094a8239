package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	updater "github.com/snider/plugin-updater"
)

const (
	KeyAPIURL         = "api_url"
	KeyRequestTimeout = "request_timeout"
	KeyCacheTTL       = "cache_ttl"
	KeyLogLevel       = "log_level"
	KeyStartupCheck   = "startup_check"
	KeyStoreDriver    = "store.driver"
	KeyStorePath      = "store.path"
	KeyRatePerMinute  = "rate_limit.requests_per_minute"
	KeyRateBurst      = "rate_limit.burst"
	KeyServerAddr     = "server.addr"
	KeyCORSOrigins    = "server.cors_origins"
	KeyAdminToken     = "server.admin_token"
)

const (
	envPrefix  = "PLUGIN_UPDATER"
	configName = "plugin-updater"

	DriverMemory = "memory"
	DriverSQLite = "sqlite"
)

// Config is the whole updater configuration.
type Config struct {
	APIURL         string        `mapstructure:"api_url" validate:"required,url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" validate:"gt=0"`
	CacheTTL       time.Duration `mapstructure:"cache_ttl" validate:"gte=0"`
	LogLevel       string        `mapstructure:"log_level"`
	StartupCheck   string        `mapstructure:"startup_check" validate:"oneof=none verify check"`
	Store          Store         `mapstructure:"store"`
	RateLimit      RateLimit     `mapstructure:"rate_limit"`
	Server         Server        `mapstructure:"server"`
	Repositories   []Repository  `mapstructure:"repositories" validate:"dive"`
}

// Store selects the key/value backend.
type Store struct {
	Driver string `mapstructure:"driver" validate:"oneof=memory sqlite"`
	Path   string `mapstructure:"path" validate:"required_if=Driver sqlite"`
}

// RateLimit bounds GitHub API calls across all repositories. Zero disables it.
type RateLimit struct {
	RequestsPerMinute int `mapstructure:"requests_per_minute" validate:"gte=0"`
	Burst             int `mapstructure:"burst" validate:"gte=0"`
}

// Server configures the HTTP surface.
type Server struct {
	Addr        string   `mapstructure:"addr" validate:"required"`
	CORSOrigins []string `mapstructure:"cors_origins"`
	// AdminToken protects credential changes over HTTP.
	AdminToken string `mapstructure:"admin_token"`
}

// Repository is one tracked plugin. Either URL or Owner and Repo must be set.
type Repository struct {
	URL          string `mapstructure:"url"`
	Owner        string `mapstructure:"owner" validate:"required"`
	Repo         string `mapstructure:"repo" validate:"required"`
	Private      bool   `mapstructure:"private"`
	OwnerName    string `mapstructure:"owner_name"`
	OptionPrefix string `mapstructure:"option_prefix"`
	Token        string `mapstructure:"token"`
	Plugin       Plugin `mapstructure:"plugin"`
}

// Plugin is the installed plugin's header data.
type Plugin struct {
	Basename    string `mapstructure:"basename"`
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	URI         string `mapstructure:"uri"`
	Description string `mapstructure:"description"`
	AuthorName  string `mapstructure:"author_name"`
	AuthorURI   string `mapstructure:"author_uri"`
	InstallDir  string `mapstructure:"install_dir"`
	Active      bool   `mapstructure:"active"`
}

// RepoPath returns "owner/repo".
func (r Repository) RepoPath() string {
	return r.Owner + "/" + r.Repo
}

// UpdaterConfig converts the repository into a coordinator config.
func (r Repository) UpdaterConfig(cacheTTL time.Duration) updater.Config {
	return updater.Config{
		Owner:        r.Owner,
		Repo:         r.Repo,
		PrivateRepo:  r.Private,
		OwnerName:    r.OwnerName,
		OptionPrefix: r.OptionPrefix,
		CacheTTL:     cacheTTL,
	}
}

// PluginInfo returns the plugin properties, defaulting the basename to the repo name.
func (r Repository) PluginInfo() updater.Plugin {
	p := updater.Plugin{
		Basename:    r.Plugin.Basename,
		Name:        r.Plugin.Name,
		Version:     r.Plugin.Version,
		URI:         r.Plugin.URI,
		Description: r.Plugin.Description,
		AuthorName:  r.Plugin.AuthorName,
		AuthorURI:   r.Plugin.AuthorURI,
		InstallDir:  r.Plugin.InstallDir,
		Active:      r.Plugin.Active,
	}
	if p.Basename == "" {
		p.Basename = r.Repo
	}
	if p.Name == "" {
		p.Name = r.Repo
	}
	return p
}

// Find returns the repository with the given "owner/repo" path.
func (c *Config) Find(repoPath string) (Repository, bool) {
	for _, r := range c.Repositories {
		if strings.EqualFold(r.RepoPath(), repoPath) {
			return r, true
		}
	}
	return Repository{}, false
}

var validate = validator.New()

// Source is a loaded configuration file plus the environment.
type Source struct {
	mu sync.Mutex
	v  *viper.Viper
}

// Open reads the configuration. An empty path searches for plugin-updater.{yaml,toml,json}
// in the working directory and the user config directory; finding none is
// not an error.
func Open(path string) (*Source, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		return &Source{v: v}, nil
	}

	v.SetConfigName(configName)
	v.AddConfigPath(".")
	if dir, err := os.UserConfigDir(); err == nil {
		v.AddConfigPath(filepath.Join(dir, configName))
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return &Source{v: v}, nil
}

// Load opens path and decodes it.
func Load(path string) (*Config, error) {
	s, err := Open(path)
	if err != nil {
		return nil, err
	}
	return s.Config()
}

// File returns the config file in use, or "" if there is none.
func (s *Source) File() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.v.ConfigFileUsed()
}

// Set overrides a key, typically from a command line flag.
func (s *Source) Set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.v.Set(key, value)
}

// Config decodes, normalises and validates the current settings.
func (s *Source) Config() (*Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var cfg Config
	if err := s.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Watch calls onChange with the re-read configuration every time the config
// file is written. It does nothing without a config file.
func (s *Source) Watch(onChange func(*Config, error)) {
	if s.File() == "" {
		return
	}
	s.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		onChange(s.Config())
	})
	s.v.WatchConfig()
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(KeyAPIURL, updater.DefaultAPIURL)
	v.SetDefault(KeyRequestTimeout, updater.DefaultRequestTimeout)
	v.SetDefault(KeyCacheTTL, updater.DefaultCacheTTL)
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyStartupCheck, "none")
	v.SetDefault(KeyStoreDriver, DriverMemory)
	v.SetDefault(KeyStorePath, "")
	v.SetDefault(KeyRatePerMinute, 60)
	v.SetDefault(KeyRateBurst, 10)
	v.SetDefault(KeyServerAddr, ":8080")
	v.SetDefault(KeyCORSOrigins, []string{})
	v.SetDefault(KeyAdminToken, "")
}

func (c *Config) normalize() error {
	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	c.StartupCheck = strings.ToLower(strings.TrimSpace(c.StartupCheck))
	c.APIURL = strings.TrimRight(c.APIURL, "/")

	seen := make(map[string]bool, len(c.Repositories))
	for i := range c.Repositories {
		r := &c.Repositories[i]
		if r.URL != "" {
			owner, repo, err := updater.ParseRepoURL(r.URL)
			if err != nil {
				return fmt.Errorf("repository %d: %w", i, err)
			}
			if r.Owner == "" {
				r.Owner = owner
			}
			if r.Repo == "" {
				r.Repo = repo
			}
		}
		r.Token = strings.TrimSpace(r.Token)
		if r.Owner == "" || r.Repo == "" {
			continue
		}
		key := strings.ToLower(r.RepoPath())
		if seen[key] {
			return fmt.Errorf("repository %s is configured twice", r.RepoPath())
		}
		seen[key] = true
	}
	return nil
}
