package updater

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
)

// NoticeKind classifies a credential notice.
type NoticeKind string

const (
	// NoticeCredentialMissing means a private repository has no credential.
	NoticeCredentialMissing NoticeKind = "credential_missing"
	// NoticeCredentialError means the last fetch with the credential failed.
	NoticeCredentialError NoticeKind = "credential_error"
)

// Notice is a message for whoever manages the owner's credential.
type Notice struct {
	Owner     string     `json:"owner"`
	OwnerName string     `json:"owner_name"`
	Kind      NoticeKind `json:"kind"`
	Message   string     `json:"message"`
}

// Registry holds every Coordinator of the process, keyed by owner. It
// replaces per-request "already handled this owner" guards: one registry is
// created at start-up and closed at shutdown.
type Registry struct {
	mu       sync.Mutex
	byOwner  map[string][]*Coordinator
	owners   []string
	verified map[string]bool
	closed   bool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byOwner:  make(map[string][]*Coordinator),
		verified: make(map[string]bool),
	}
}

// Register adds c. Registering the same owner/repo twice is an error.
func (r *Registry) Register(c *Coordinator) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return fmt.Errorf("registry is closed")
	}
	owner := c.Config().Owner
	for _, existing := range r.byOwner[owner] {
		if existing.RepoPath() == c.RepoPath() {
			return fmt.Errorf("repository %s already registered", c.RepoPath())
		}
	}
	if _, ok := r.byOwner[owner]; !ok {
		r.owners = append(r.owners, owner)
		sort.Strings(r.owners)
	}
	r.byOwner[owner] = append(r.byOwner[owner], c)
	return nil
}

// Lookup finds the coordinator of owner/repo.
func (r *Registry) Lookup(owner, repo string) (*Coordinator, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range r.byOwner[owner] {
		if c.Config().Repo == repo {
			return c, true
		}
	}
	return nil, false
}

// Coordinators returns all registered coordinators ordered by owner.
func (r *Registry) Coordinators() []*Coordinator {
	r.mu.Lock()
	defer r.mu.Unlock()

	var all []*Coordinator
	for _, owner := range r.owners {
		all = append(all, r.byOwner[owner]...)
	}
	return all
}

// VerifyCredentials fetches the latest release once per owner, through the
// owner's first coordinator holding a credential, so a bad credential is
// reported as soon as possible. Owners already verified are skipped.
func (r *Registry) VerifyCredentials(ctx context.Context) {
	for _, c := range r.pendingVerification() {
		c.LatestRelease(ctx)
	}
}

func (r *Registry) pendingVerification() []*Coordinator {
	r.mu.Lock()
	defer r.mu.Unlock()

	var pending []*Coordinator
	for _, owner := range r.owners {
		if r.verified[owner] {
			continue
		}
		for _, c := range r.byOwner[owner] {
			if c.Credential() != "" {
				pending = append(pending, c)
				r.verified[owner] = true
				break
			}
		}
	}
	return pending
}

// Notices returns at most one set of credential notices per owner: a
// missing credential for private repositories, and the last credential error.
func (r *Registry) Notices(ctx context.Context) []Notice {
	var notices []Notice
	for _, owner := range r.ownerList() {
		notices = append(notices, r.ownerNotices(ctx, owner)...)
	}
	return notices
}

func (r *Registry) ownerNotices(ctx context.Context, owner string) []Notice {
	r.mu.Lock()
	coordinators := append([]*Coordinator(nil), r.byOwner[owner]...)
	r.mu.Unlock()

	var notices []Notice
	for _, c := range coordinators {
		cfg := c.Config()
		if !cfg.PrivateRepo {
			continue
		}
		if c.Credential() == "" {
			notices = append(notices, Notice{
				Owner:     owner,
				OwnerName: cfg.OwnerName,
				Kind:      NoticeCredentialMissing,
				Message:   fmt.Sprintf("%s's github access token is required to receive automatic plugin updates.", cfg.OwnerName),
			})
		}
		if msg := c.CredentialError(ctx); msg != "" {
			notices = append(notices, Notice{
				Owner:     owner,
				OwnerName: cfg.OwnerName,
				Kind:      NoticeCredentialError,
				Message:   fmt.Sprintf("%s's github access token error: %s", cfg.OwnerName, msg),
			})
		}
		if len(notices) > 0 {
			return notices
		}
	}
	return notices
}

func (r *Registry) ownerList() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.owners...)
}

// CheckResult is one coordinator's answer in CheckAll.
type CheckResult struct {
	RepoPath string         `json:"repo"`
	Found    bool           `json:"found"`
	Decision UpdateDecision `json:"decision"`
}

// CheckAll runs CheckForUpdate on every coordinator concurrently. installed
// maps "owner/repo" to the installed version; missing entries use the
// plugin's own version. Results follow Coordinators order.
func (r *Registry) CheckAll(ctx context.Context, installed map[string]string) ([]CheckResult, error) {
	coordinators := r.Coordinators()
	results := make([]CheckResult, len(coordinators))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, c := range coordinators {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			decision, found := c.CheckForUpdate(ctx, installed[c.RepoPath()])
			results[i] = CheckResult{RepoPath: c.RepoPath(), Found: found, Decision: decision}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Close closes and forgets every coordinator and refuses new registrations.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, owner := range r.owners {
		for _, c := range r.byOwner[owner] {
			c.Close()
		}
	}
	r.byOwner = make(map[string][]*Coordinator)
	r.verified = make(map[string]bool)
	r.owners = nil
	r.closed = true
}
