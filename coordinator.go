package updater

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/snider/plugin-updater/store"
)

const (
	credentialOption      = "github_access_token"
	credentialErrorOption = "github_access_token_error"
)

var validate = validator.New()

// Config identifies the repository a Coordinator tracks.
type Config struct {
	// Owner is the GitHub user or organisation.
	Owner string `validate:"required"`
	// Repo is the repository name.
	Repo string `validate:"required"`
	// PrivateRepo means no update is checked until a credential is stored.
	PrivateRepo bool
	// OwnerName is shown to people entering the credential. Defaults to
	// the upper-cased owner.
	OwnerName string
	// OptionPrefix namespaces every stored key. Defaults to "<owner>_".
	OptionPrefix string
	// CacheTTL is how long fetched release data is reused. Defaults to 60s.
	CacheTTL time.Duration `validate:"gte=0"`
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithStore sets the storage for the release cache, credential and credential error.
func WithStore(s Store) Option {
	return func(c *Coordinator) {
		c.store = s
	}
}

// WithPluginSource sets where installed plugin properties come from.
func WithPluginSource(src PluginSource) Option {
	return func(c *Coordinator) {
		c.plugins = src
	}
}

// WithMover sets the collaborator that relocates unpacked packages.
func WithMover(m Mover) Option {
	return func(c *Coordinator) {
		c.mover = m
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = l
	}
}

// WithMetrics records lookups and API errors on m.
func WithMetrics(m *Metrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// WithRenderer sets the markdown renderer for readme and changelog HTML.
// A nil renderer leaves both as raw markdown.
func WithRenderer(r MarkdownRenderer) Option {
	return func(c *Coordinator) {
		c.renderer = r
	}
}

// WithClientOptions passes options to the GitHub client.
func WithClientOptions(opts ...ClientOption) Option {
	return func(c *Coordinator) {
		c.clientOpts = append(c.clientOpts, opts...)
	}
}

// Coordinator keeps one plugin up to date from one GitHub repository. It
// answers the host's update hooks, caches release data and arranges
// authenticated package downloads.
type Coordinator struct {
	mu sync.Mutex

	config     Config
	repoPath   string
	store      Store
	cache      *ReleaseCache
	client     GithubClient
	clientOpts []ClientOption
	renderer   MarkdownRenderer
	plugins    PluginSource
	mover      Mover
	logger     *slog.Logger
	metrics    *Metrics
	readmes    *expirable.LRU[bool, string]

	credential string
	latest     ReleaseRecord
	plugin     *Plugin
	filter     headerFilter
}

// New creates a Coordinator and loads the stored credential.
func New(ctx context.Context, config Config, opts ...Option) (*Coordinator, error) {
	if err := validate.Struct(config); err != nil {
		return nil, fmt.Errorf("invalid updater config: %w", err)
	}
	if config.OwnerName == "" {
		config.OwnerName = strings.ToUpper(config.Owner)
	}
	config.OptionPrefix = strings.TrimSpace(config.OptionPrefix)
	if config.OptionPrefix == "" {
		config.OptionPrefix = config.Owner + "_"
	}
	if config.CacheTTL == 0 {
		config.CacheTTL = DefaultCacheTTL
	}

	c := &Coordinator{
		config:   config,
		repoPath: config.Owner + "/" + config.Repo,
		renderer: NewGoldmarkRenderer(),
		mover:    DirMover{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.store == nil {
		c.store = store.NewMemory(0)
	}
	if c.plugins == nil {
		c.plugins = StaticPlugin(Plugin{Basename: config.Repo})
	}
	c.logger = c.logger.With("owner", config.Owner, "repo", config.Repo)
	c.cache = NewReleaseCache(c.store, config.OptionPrefix, config.Owner, config.Repo, config.CacheTTL)
	c.readmes = expirable.NewLRU[bool, string](2, nil, config.CacheTTL)

	credential, found, err := c.store.Get(ctx, c.option(credentialOption))
	if err != nil {
		return nil, fmt.Errorf("failed to load credential: %w", err)
	}
	if found {
		c.credential = string(credential)
	}
	c.client = c.newClient(ctx)

	return c, nil
}

// Config returns the effective configuration.
func (c *Coordinator) Config() Config {
	return c.config
}

// RepoPath returns "owner/repo".
func (c *Coordinator) RepoPath() string {
	return c.repoPath
}

// Ready reports whether the updater is active. Private repositories stay
// blocked until a credential is stored.
func (c *Coordinator) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready()
}

func (c *Coordinator) ready() bool {
	return !c.config.PrivateRepo || c.credential != ""
}

// LatestRelease returns the latest release data, fetching it if needed, or
// nil when none is available. Failures are recorded as the credential error.
func (c *Coordinator) LatestRelease(ctx context.Context) *ReleaseRecord {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.ready() {
		return nil
	}
	c.fetchLatestRelease(ctx)
	if !c.latest.Available() {
		return nil
	}
	record := c.latest
	return &record
}

// fetchLatestRelease loads release data from memory, the cache or the API,
// in that order.
func (c *Coordinator) fetchLatestRelease(ctx context.Context) {
	if c.latest.Available() {
		c.metrics.lookup(c.config.Owner, c.config.Repo, SourceMemory)
		return
	}

	record, ok, err := c.cache.Get(ctx)
	if err != nil {
		c.logger.Warn("release cache read failed", "key", c.cache.Key(), "error", err)
	} else if ok {
		c.logger.Debug("release loaded from cache", "version", record.Version)
		c.latest = record
		c.metrics.lookup(c.config.Owner, c.config.Repo, SourceCache)
		return
	}

	release, err := c.client.GetLatestRelease(ctx, c.repoPath)
	if err != nil {
		c.logger.Warn("failed to fetch latest release", "code", CodeOf(err), "error", err)
		c.metrics.lookup(c.config.Owner, c.config.Repo, SourceError)
		c.metrics.apiError(c.config.Owner, c.config.Repo, CodeOf(err))
		c.saveCredentialError(ctx, errorSummary(err))
		return
	}
	c.clearCredentialError(ctx)
	if release == nil {
		c.logger.Info("no release with assets found")
		c.metrics.lookup(c.config.Owner, c.config.Repo, SourceNoRelease)
		return
	}

	record = ReleaseRecord{}
	record.Parse(release)
	if record.MissingRequirements() {
		readme, err := c.readme(ctx, false)
		if err != nil {
			c.logger.Debug("readme unavailable for requirements", "error", err)
		} else {
			record.ApplyRequirements(ParseRequirements(readme))
		}
	}

	c.latest = record
	c.metrics.lookup(c.config.Owner, c.config.Repo, SourceAPI)
	c.logger.Info("fetched latest release", "version", record.Version)

	if err := c.cache.Set(ctx, record); err != nil {
		c.logger.Warn("release cache write failed", "key", c.cache.Key(), "error", err)
	}
}

// readme returns the raw or rendered readme, reusing it for the cache TTL.
func (c *Coordinator) readme(ctx context.Context, html bool) (string, error) {
	if text, ok := c.readmes.Get(html); ok {
		return text, nil
	}
	text, err := c.client.GetReadme(ctx, c.repoPath, html)
	if err != nil {
		return "", err
	}
	c.readmes.Add(html, text)
	return text, nil
}

func (c *Coordinator) loadPlugin(ctx context.Context) (Plugin, error) {
	if c.plugin != nil {
		return *c.plugin, nil
	}
	p, err := c.plugins.Plugin(ctx)
	if err != nil {
		return Plugin{}, fmt.Errorf("failed to load plugin properties: %w", err)
	}
	c.plugin = &p
	return p, nil
}

// UpdateResponse is the per-plugin entry of the host's update check.
// Compatibility fields are only set when an update is available.
type UpdateResponse struct {
	Slug        string `json:"slug"`
	Plugin      string `json:"plugin"`
	NewVersion  string `json:"new_version"`
	URL         string `json:"url"`
	Package     string `json:"package"`
	Tested      string `json:"tested,omitempty"`
	Requires    string `json:"requires,omitempty"`
	RequiresPHP string `json:"requires_php,omitempty"`
}

// UpdateDecision is the answer to an update check. A "no update" decision is
// still returned when the installed version is current, so the host keeps the
// plugin eligible for automatic updates.
type UpdateDecision struct {
	UpdateAvailable bool           `json:"update_available"`
	Response        UpdateResponse `json:"response"`
}

// CheckForUpdate compares the latest release to installedVersion. ok is
// false when there is no release data, in which case the host should leave
// its own answer unchanged. An empty installedVersion uses the plugin's version.
func (c *Coordinator) CheckForUpdate(ctx context.Context, installedVersion string) (decision UpdateDecision, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.ready() {
		return UpdateDecision{}, false
	}
	plugin, err := c.loadPlugin(ctx)
	if err != nil {
		c.logger.Warn("update check skipped", "error", err)
		return UpdateDecision{}, false
	}

	c.fetchLatestRelease(ctx)
	if !c.latest.Available() {
		return UpdateDecision{}, false
	}

	if installedVersion == "" {
		installedVersion = plugin.Version
	}

	resp := UpdateResponse{
		Slug:    plugin.Slug(),
		Plugin:  plugin.Basename,
		URL:     plugin.URI,
		Package: c.latest.DownloadURL,
	}
	if !IsNewer(c.latest.Version, installedVersion) {
		resp.NewVersion = installedVersion
		return UpdateDecision{Response: resp}, true
	}

	resp.NewVersion = c.latest.Version
	resp.Tested = c.latest.Tested
	resp.Requires = c.latest.Requires
	resp.RequiresPHP = c.latest.RequiresPHP
	return UpdateDecision{UpdateAvailable: true, Response: resp}, true
}

// Sections are the tabs of the host's plugin detail view.
type Sections struct {
	Description string `json:"description"`
	Changelog   string `json:"changelog"`
}

// PackageInfo is the plugin detail response.
type PackageInfo struct {
	Name             string   `json:"name"`
	Slug             string   `json:"slug"`
	Tested           string   `json:"tested"`
	Requires         string   `json:"requires"`
	RequiresPHP      string   `json:"requires_php"`
	Downloaded       int64    `json:"downloaded"`
	Version          string   `json:"version"`
	Author           string   `json:"author"`
	LastUpdated      string   `json:"last_updated"`
	Homepage         string   `json:"homepage"`
	ShortDescription string   `json:"short_description"`
	Sections         Sections `json:"sections"`
	DownloadLink     string   `json:"download_link"`
}

// PackageInfo answers the host's plugin detail request for slug. ok is false
// when slug is not this plugin's or no release data is available.
func (c *Coordinator) PackageInfo(ctx context.Context, slug string) (info *PackageInfo, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if slug == "" || !c.ready() {
		return nil, false
	}
	plugin, err := c.loadPlugin(ctx)
	if err != nil {
		c.logger.Warn("package info skipped", "error", err)
		return nil, false
	}
	if slug != plugin.Slug() {
		return nil, false
	}

	c.fetchLatestRelease(ctx)
	if !c.latest.Available() {
		return nil, false
	}

	description, err := c.readme(ctx, c.renderer != nil)
	if err != nil || description == "" {
		if err != nil {
			c.logger.Debug("using plugin description, readme unavailable", "error", err)
		}
		description = plugin.Description
	}

	return &PackageInfo{
		Name:             plugin.Name,
		Slug:             plugin.Basename,
		Tested:           c.latest.Tested,
		Requires:         c.latest.Requires,
		RequiresPHP:      c.latest.RequiresPHP,
		Downloaded:       c.latest.DownloadCount,
		Version:          c.latest.Version,
		Author:           fmt.Sprintf(`<a href="%s">%s</a>`, plugin.AuthorURI, plugin.AuthorName),
		LastUpdated:      c.latest.PublishedAt,
		Homepage:         plugin.URI,
		ShortDescription: plugin.Description,
		Sections: Sections{
			Description: description,
			Changelog:   c.changelog(),
		},
		DownloadLink: c.latest.DownloadURL,
	}, true
}

func (c *Coordinator) changelog() string {
	if c.renderer == nil || c.latest.Body == "" {
		return c.latest.Body
	}
	html, err := c.renderer.Render(c.latest.Body)
	if err != nil {
		c.logger.Debug("changelog left as markdown", "error", err)
		return c.latest.Body
	}
	return html
}

// PreDownload is called before the host downloads a package. It loads the
// plugin and release data and arms the one-shot download header filter for
// the release's download URL.
func (c *Coordinator) PreDownload(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.ready() {
		return
	}
	if _, err := c.loadPlugin(ctx); err != nil {
		c.logger.Warn("download headers not armed", "error", err)
		return
	}
	c.fetchLatestRelease(ctx)
	if !c.latest.Available() {
		return
	}

	headers := http.Header{}
	headers.Set("Accept", "application/octet-stream")
	if c.credential != "" {
		headers.Set("Authorization", "token "+c.credential)
	}
	c.filter.arm(c.latest.DownloadURL, headers)
}

// DownloadHeaders returns the headers the host must add to a download of
// url. Only the first request for the release download URL after
// PreDownload gets headers; every other call returns nil.
func (c *Coordinator) DownloadHeaders(url string) http.Header {
	return c.filter.take(url)
}

// Transport wraps base so that requests receive DownloadHeaders. A nil base
// uses http.DefaultTransport.
func (c *Coordinator) Transport(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &downloadTransport{base: base, filter: &c.filter}
}

// PostInstall moves an unpacked package from extractedPath into the
// plugin's install directory and tells the host whether to re-activate it.
func (c *Coordinator) PostInstall(ctx context.Context, extractedPath string) (InstallResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	plugin, err := c.loadPlugin(ctx)
	if err != nil {
		return InstallResult{}, err
	}
	if plugin.InstallDir == "" {
		return InstallResult{}, errors.New("plugin install directory is unknown")
	}
	if err := c.mover.Move(ctx, extractedPath, plugin.InstallDir); err != nil {
		return InstallResult{}, err
	}
	c.logger.Info("package installed", "destination", plugin.InstallDir, "activate", plugin.Active)
	return InstallResult{Destination: plugin.InstallDir, Activate: plugin.Active}, nil
}

// Credential returns the stored access token.
func (c *Coordinator) Credential() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.credential
}

// SetCredential stores a new access token (an empty token removes it) and
// drops everything fetched with the old one.
func (c *Coordinator) SetCredential(ctx context.Context, token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	token = strings.TrimSpace(token)
	if token == c.credential {
		return nil
	}

	var err error
	if token == "" {
		err = c.store.Delete(ctx, c.option(credentialOption))
	} else {
		err = c.store.Set(ctx, c.option(credentialOption), []byte(token), 0)
	}
	if err != nil {
		return fmt.Errorf("failed to store credential: %w", err)
	}

	c.credential = token
	c.client = c.newClient(ctx)
	c.clearCredentialError(ctx)
	if err := c.cache.Delete(ctx); err != nil {
		c.logger.Warn("release cache delete failed", "key", c.cache.Key(), "error", err)
	}
	c.latest.Reset()
	c.filter.arm("", nil)
	c.readmes.Purge()
	c.logger.Info("credential updated", "ready", c.ready())
	return nil
}

// Close drops the rendered readmes and disarms the download header filter.
// The coordinator stays usable and refetches on demand.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.filter.arm("", nil)
	c.readmes.Purge()
}

// CredentialError returns the last recorded API failure, or "" if none.
func (c *Coordinator) CredentialError(ctx context.Context) string {
	data, found, err := c.store.Get(ctx, c.option(credentialErrorOption))
	if err != nil {
		c.logger.Warn("credential error read failed", "error", err)
		return ""
	}
	if !found {
		return ""
	}
	return string(data)
}

func (c *Coordinator) saveCredentialError(ctx context.Context, message string) {
	if err := c.store.Set(ctx, c.option(credentialErrorOption), []byte(message), 0); err != nil {
		c.logger.Warn("credential error write failed", "error", err)
	}
}

func (c *Coordinator) clearCredentialError(ctx context.Context) {
	if err := c.store.Delete(ctx, c.option(credentialErrorOption)); err != nil {
		c.logger.Warn("credential error delete failed", "error", err)
	}
}

func (c *Coordinator) option(name string) string {
	return c.config.OptionPrefix + name
}

func (c *Coordinator) newClient(ctx context.Context) GithubClient {
	opts := append([]ClientOption{WithMarkdownRenderer(c.renderer)}, c.clientOpts...)
	return NewGithubClient(ctx, c.credential, opts...)
}
