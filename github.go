package updater

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

const (
	// DefaultAPIURL is the GitHub REST API base URL.
	DefaultAPIURL = "https://api.github.com"
	// DefaultRequestTimeout bounds each API request.
	DefaultRequestTimeout = 10 * time.Second
	// releasesPerPage is how many recent releases are scanned for one with assets.
	releasesPerPage = 5

	rawReadmeMedia = "application/vnd.github.v3.raw"
)

// ReleaseAsset represents a release asset from the GitHub API.
type ReleaseAsset struct {
	// URL is the API URL of the asset; downloading it needs
	// "Accept: application/octet-stream".
	URL           string `json:"url"`
	Name          string `json:"name"`
	DownloadURL   string `json:"browser_download_url"`
	DownloadCount int64  `json:"download_count"`
}

// Release represents a release from the GitHub API.
type Release struct {
	TagName     string         `json:"tag_name"`
	PublishedAt string         `json:"published_at"`
	Body        string         `json:"body"`
	PreRelease  bool           `json:"prerelease"`
	Assets      []ReleaseAsset `json:"assets"`
}

// GithubClient is an interface for interacting with the Github API.
type GithubClient interface {
	// GetLatestRelease returns the newest of the recent releases that has at
	// least one asset, or nil when there is none.
	GetLatestRelease(ctx context.Context, repoPath string) (*Release, error)
	// GetReadme returns the repository readme, rendered to HTML when html is
	// true and a renderer is configured.
	GetReadme(ctx context.Context, repoPath string, html bool) (string, error)
}

// NewAuthenticatedClient creates an http client that sends
// "Authorization: token <credential>" on every request. An empty credential
// yields an unauthenticated client.
var NewAuthenticatedClient = func(ctx context.Context, credential string, timeout time.Duration) *http.Client {
	if credential == "" {
		return &http.Client{Timeout: timeout}
	}
	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: credential, TokenType: "token"},
	)
	client := oauth2.NewClient(ctx, ts)
	client.Timeout = timeout
	return client
}

// ClientOption configures the GitHub client.
type ClientOption func(*githubClient)

// WithAPIURL overrides the API base URL.
func WithAPIURL(apiURL string) ClientOption {
	return func(g *githubClient) {
		g.apiURL = apiURL
	}
}

// WithRequestTimeout sets the per-request timeout.
func WithRequestTimeout(timeout time.Duration) ClientOption {
	return func(g *githubClient) {
		g.timeout = timeout
	}
}

// WithRateLimiter makes every API call wait on limiter first.
func WithRateLimiter(limiter *rate.Limiter) ClientOption {
	return func(g *githubClient) {
		g.limiter = limiter
	}
}

// WithMarkdownRenderer sets the renderer used for HTML readmes.
func WithMarkdownRenderer(renderer MarkdownRenderer) ClientOption {
	return func(g *githubClient) {
		g.renderer = renderer
	}
}

// WithUserAgent sets the User-Agent header of API requests.
func WithUserAgent(userAgent string) ClientOption {
	return func(g *githubClient) {
		g.userAgent = userAgent
	}
}

type githubClient struct {
	apiURL    string
	timeout   time.Duration
	userAgent string
	limiter   *rate.Limiter
	renderer  MarkdownRenderer
	client    *http.Client
}

// NewGithubClient is a variable that holds a function to create a new GithubClient.
// This can be replaced in tests to inject a mock client.
var NewGithubClient = func(ctx context.Context, credential string, opts ...ClientOption) GithubClient {
	g := &githubClient{
		apiURL:    DefaultAPIURL,
		timeout:   DefaultRequestTimeout,
		userAgent: "plugin-updater/" + Version,
	}
	for _, opt := range opts {
		opt(g)
	}
	g.client = NewAuthenticatedClient(ctx, credential, g.timeout)
	return g
}

// GetLatestRelease fetches the last few releases and returns the first one
// that ships an asset.
func (g *githubClient) GetLatestRelease(ctx context.Context, repoPath string) (*Release, error) {
	url := fmt.Sprintf("%s/repos/%s/releases?per_page=%d", g.apiURL, repoPath, releasesPerPage)

	resp, err := g.get(ctx, url, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &APIError{Code: CodeTransport, Message: fmt.Sprintf("failed to read releases: %v", err), Err: err}
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, responseError(resp.StatusCode, body)
	}

	var releases []Release
	if err := json.Unmarshal(body, &releases); err != nil {
		return nil, &APIError{Code: CodeAPI, Status: resp.StatusCode, Message: "failed to decode releases", Err: err}
	}

	return firstReleaseWithAssets(releases), nil
}

// GetReadme fetches the raw repository readme.
func (g *githubClient) GetReadme(ctx context.Context, repoPath string, html bool) (string, error) {
	url := fmt.Sprintf("%s/repos/%s/readme", g.apiURL, repoPath)

	resp, err := g.get(ctx, url, rawReadmeMedia)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &APIError{Code: CodeReadmeNotFound, Status: resp.StatusCode, Message: "Readme not available"}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &APIError{Code: CodeTransport, Message: fmt.Sprintf("failed to read readme: %v", err), Err: err}
	}

	if html && g.renderer != nil {
		rendered, err := g.renderer.Render(string(body))
		if err != nil {
			return "", fmt.Errorf("failed to render readme: %w", err)
		}
		return rendered, nil
	}
	return string(body), nil
}

func (g *githubClient) get(ctx context.Context, url, accept string) (*http.Response, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, &APIError{Code: CodeTransport, Message: fmt.Sprintf("rate limiter: %v", err), Err: err}
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", g.userAgent)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, &APIError{Code: CodeTransport, Message: fmt.Sprintf("request to GitHub failed: %v", err), Err: err}
	}
	return resp, nil
}

// responseError maps a non-2xx response to an APIError.
func responseError(status int, body []byte) error {
	if status == http.StatusUnauthorized {
		return &APIError{Code: CodeInvalidAuthentication, Status: status, Message: "Authentication error"}
	}

	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Message != "" {
		return &APIError{Code: CodeAPI, Status: status, Message: payload.Message}
	}
	return &APIError{Code: CodeAPI, Status: status, Message: fmt.Sprintf("Response code received: %d", status)}
}

// firstReleaseWithAssets keeps API order and skips releases without assets.
func firstReleaseWithAssets(releases []Release) *Release {
	for i := range releases {
		if len(releases[i].Assets) > 0 {
			return &releases[i]
		}
	}
	return nil
}
