package updater

import (
	"context"
	"fmt"
	"sync"
)

// MockGithubClient is a mock implementation of the GithubClient interface for testing.
type MockGithubClient struct {
	GetLatestReleaseFunc func(ctx context.Context, repoPath string) (*Release, error)
	GetReadmeFunc        func(ctx context.Context, repoPath string, html bool) (string, error)

	mu           sync.Mutex
	releaseCalls int
	readmeCalls  int
}

// GetLatestRelease is a mock implementation of the GetLatestRelease method.
func (m *MockGithubClient) GetLatestRelease(ctx context.Context, repoPath string) (*Release, error) {
	m.mu.Lock()
	m.releaseCalls++
	m.mu.Unlock()
	if m.GetLatestReleaseFunc != nil {
		return m.GetLatestReleaseFunc(ctx, repoPath)
	}
	return nil, fmt.Errorf("GetLatestReleaseFunc not set")
}

// GetReadme is a mock implementation of the GetReadme method.
func (m *MockGithubClient) GetReadme(ctx context.Context, repoPath string, html bool) (string, error) {
	m.mu.Lock()
	m.readmeCalls++
	m.mu.Unlock()
	if m.GetReadmeFunc != nil {
		return m.GetReadmeFunc(ctx, repoPath, html)
	}
	return "", &APIError{Code: CodeReadmeNotFound, Status: 404, Message: "Readme not available"}
}

// ReleaseCalls returns how many times GetLatestRelease was called.
func (m *MockGithubClient) ReleaseCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.releaseCalls
}

// ReadmeCalls returns how many times GetReadme was called.
func (m *MockGithubClient) ReadmeCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readmeCalls
}

// useMockClient makes every Coordinator created during the test use m.
// credentials records the credential each client was built with.
func useMockClient(t interface {
	Helper()
	Cleanup(func())
}, m *MockGithubClient) *[]string {
	t.Helper()
	var credentials []string
	original := NewGithubClient
	NewGithubClient = func(ctx context.Context, credential string, opts ...ClientOption) GithubClient {
		credentials = append(credentials, credential)
		return m
	}
	t.Cleanup(func() { NewGithubClient = original })
	return &credentials
}
