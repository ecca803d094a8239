package updater

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Snider/Borg/pkg/mocks"
	"golang.org/x/time/rate"
)

const releasesURL = "https://api.github.com/repos/acme/widget/releases?per_page=5"

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(bytes.NewBufferString(body)),
	}
}

func withMockHTTP(t *testing.T, responses map[string]*http.Response) {
	t.Helper()
	mockClient := mocks.NewMockClient(responses)
	oldClient := NewAuthenticatedClient
	NewAuthenticatedClient = func(ctx context.Context, credential string, timeout time.Duration) *http.Client {
		return mockClient
	}
	t.Cleanup(func() {
		NewAuthenticatedClient = oldClient
	})
}

func TestGetLatestRelease(t *testing.T) {
	withMockHTTP(t, map[string]*http.Response{
		releasesURL: jsonResponse(http.StatusOK, `[
			{"tag_name": "v2.0.0-beta", "prerelease": true, "assets": []},
			{"tag_name": "v1.3.0", "published_at": "2024-05-01T10:00:00Z", "body": "notes",
			 "assets": [{"url": "https://api.github.com/repos/acme/widget/releases/assets/7",
			             "name": "widget.zip",
			             "browser_download_url": "https://github.com/acme/widget/releases/download/v1.3.0/widget.zip",
			             "download_count": 12}]},
			{"tag_name": "v1.2.0", "assets": [{"url": "https://example.com/old"}]}
		]`),
	})

	client := NewGithubClient(context.Background(), "")
	release, err := client.GetLatestRelease(context.Background(), "acme/widget")
	if err != nil {
		t.Fatalf("GetLatestRelease failed: %v", err)
	}
	if release == nil {
		t.Fatal("expected a release, got nil")
	}
	if release.TagName != "v1.3.0" {
		t.Errorf("expected v1.3.0, got %s", release.TagName)
	}
	if len(release.Assets) != 1 || release.Assets[0].DownloadCount != 12 {
		t.Errorf("unexpected assets: %+v", release.Assets)
	}
	if release.Assets[0].URL != "https://api.github.com/repos/acme/widget/releases/assets/7" {
		t.Errorf("unexpected asset url: %s", release.Assets[0].URL)
	}
}

func TestGetLatestRelease_NoAssets(t *testing.T) {
	withMockHTTP(t, map[string]*http.Response{
		releasesURL: jsonResponse(http.StatusOK, `[{"tag_name": "v1.0.0", "assets": []}]`),
	})

	release, err := NewGithubClient(context.Background(), "").GetLatestRelease(context.Background(), "acme/widget")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if release != nil {
		t.Errorf("expected no release, got %+v", release)
	}
}

func TestGetLatestRelease_Errors(t *testing.T) {
	testCases := []struct {
		name        string
		response    *http.Response
		wantCode    ErrorCode
		wantSummary string
	}{
		{
			name:        "unauthorized",
			response:    jsonResponse(http.StatusUnauthorized, `{"message": "Bad credentials"}`),
			wantCode:    CodeInvalidAuthentication,
			wantSummary: "Authentication error, code: 401.",
		},
		{
			name:        "api message",
			response:    jsonResponse(http.StatusNotFound, `{"message": "Not Found"}`),
			wantCode:    CodeAPI,
			wantSummary: "Not Found, code: 404.",
		},
		{
			name:        "no message",
			response:    jsonResponse(http.StatusBadGateway, `<html>bad gateway</html>`),
			wantCode:    CodeAPI,
			wantSummary: "Response code received: 502, code: 502.",
		},
		{
			name:        "undecodable body",
			response:    jsonResponse(http.StatusOK, `{"tag_name": "v1"}`),
			wantCode:    CodeAPI,
			wantSummary: "failed to decode releases, code: 200.",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			withMockHTTP(t, map[string]*http.Response{releasesURL: tc.response})

			_, err := NewGithubClient(context.Background(), "").GetLatestRelease(context.Background(), "acme/widget")
			if err == nil {
				t.Fatal("expected an error")
			}
			if !IsCode(err, tc.wantCode) {
				t.Errorf("expected code %s, got %s", tc.wantCode, CodeOf(err))
			}
			if got := errorSummary(err); got != tc.wantSummary {
				t.Errorf("expected summary %q, got %q", tc.wantSummary, got)
			}
		})
	}
}

func TestGetLatestRelease_TransportError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	apiURL := server.URL
	server.Close()

	client := NewGithubClient(context.Background(), "", WithAPIURL(apiURL), WithRequestTimeout(time.Second))
	_, err := client.GetLatestRelease(context.Background(), "acme/widget")
	if !IsCode(err, CodeTransport) {
		t.Fatalf("expected %s, got %v", CodeTransport, err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != 0 {
		t.Errorf("expected an APIError without status, got %#v", err)
	}
	if !strings.HasSuffix(errorSummary(err), "code: http_request_failed.") {
		t.Errorf("unexpected summary: %s", errorSummary(err))
	}
}

func TestGetLatestRelease_RateLimiterCancelled(t *testing.T) {
	limiter := rate.NewLimiter(rate.Every(time.Hour), 1)
	limiter.Allow() // drain the only token

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := NewGithubClient(context.Background(), "", WithRateLimiter(limiter))
	_, err := client.GetLatestRelease(ctx, "acme/widget")
	if !IsCode(err, CodeTransport) {
		t.Fatalf("expected %s, got %v", CodeTransport, err)
	}
}

func TestGithubClient_Headers(t *testing.T) {
	var mu sync.Mutex
	var gotAuth, gotAccept, gotAgent string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		gotAuth = r.Header.Get("Authorization")
		gotAccept = r.Header.Get("Accept")
		gotAgent = r.Header.Get("User-Agent")
		mu.Unlock()
		if r.URL.Path != "/repos/acme/widget/readme" {
			http.NotFound(w, r)
			return
		}
		_, _ = io.WriteString(w, "# Widget\n\nHello **world**")
	}))
	defer server.Close()

	client := NewGithubClient(context.Background(), "s3cret",
		WithAPIURL(server.URL),
		WithUserAgent("test-agent"),
		WithMarkdownRenderer(NewGoldmarkRenderer()),
	)

	raw, err := client.GetReadme(context.Background(), "acme/widget", false)
	if err != nil {
		t.Fatalf("GetReadme failed: %v", err)
	}
	if raw != "# Widget\n\nHello **world**" {
		t.Errorf("unexpected raw readme: %q", raw)
	}
	mu.Lock()
	defer mu.Unlock()
	if gotAuth != "token s3cret" {
		t.Errorf("expected token authorization, got %q", gotAuth)
	}
	if gotAccept != "application/vnd.github.v3.raw" {
		t.Errorf("unexpected accept header: %q", gotAccept)
	}
	if gotAgent != "test-agent" {
		t.Errorf("unexpected user agent: %q", gotAgent)
	}

	html, err := client.GetReadme(context.Background(), "acme/widget", true)
	if err != nil {
		t.Fatalf("GetReadme html failed: %v", err)
	}
	if !strings.Contains(html, "<h1>Widget</h1>") || !strings.Contains(html, "<strong>world</strong>") {
		t.Errorf("unexpected html readme: %q", html)
	}
}

func TestGetReadme_NotFound(t *testing.T) {
	withMockHTTP(t, map[string]*http.Response{
		"https://api.github.com/repos/acme/widget/readme": jsonResponse(http.StatusNotFound, `{"message": "Not Found"}`),
	})

	_, err := NewGithubClient(context.Background(), "").GetReadme(context.Background(), "acme/widget", false)
	if !IsCode(err, CodeReadmeNotFound) {
		t.Fatalf("expected %s, got %v", CodeReadmeNotFound, err)
	}
}

func TestNewAuthenticatedClient(t *testing.T) {
	client := NewAuthenticatedClient(context.Background(), "", 3*time.Second)
	if client.Transport != nil {
		t.Errorf("expected the default transport without a credential")
	}
	if client.Timeout != 3*time.Second {
		t.Errorf("unexpected timeout: %v", client.Timeout)
	}

	client = NewAuthenticatedClient(context.Background(), "token", 3*time.Second)
	if client.Transport == nil {
		t.Errorf("expected an oauth2 transport with a credential")
	}
	if client.Timeout != 3*time.Second {
		t.Errorf("unexpected timeout: %v", client.Timeout)
	}
}
