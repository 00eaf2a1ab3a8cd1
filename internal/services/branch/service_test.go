package branch

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/devgrid/devgrid/internal/config"
	"github.com/devgrid/devgrid/internal/domain"
	"github.com/devgrid/devgrid/internal/repository/memory"
)

type stubGroupResolver struct {
	groups map[string][]*domain.Group
}

func (s *stubGroupResolver) ListGroupsForUser(ctx context.Context, userID string) ([]*domain.Group, error) {
	return s.groups[userID], nil
}

func newTestService(t *testing.T) (*Service, *stubGroupResolver) {
	t.Helper()
	resolver := &stubGroupResolver{groups: make(map[string][]*domain.Group)}
	policy := config.PolicyConfig{
		ProtectedBranches:   []string{"main"},
		DefaultMinReviewers: 1,
	}
	svc := NewService(memory.NewBranchRepository(), resolver, policy, zap.NewNop())
	return svc, resolver
}

func contributor(id string) *domain.User {
	return &domain.User{ID: id, Roles: []domain.Role{domain.RoleContributor}, Enabled: true}
}

func TestCreate_ProtectedBranchGetsDefaultPolicy(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	branch, err := svc.Create(ctx, "main", "user-1", true)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if !branch.Protected {
		t.Error("Expected main to be protected")
	}
	if branch.Policy == nil {
		t.Fatal("Expected protected branch to carry a policy")
	}
	if !branch.Policy.RequirePullRequest {
		t.Error("Expected policy to require pull requests")
	}
	if branch.Policy.MinimumReviewers != 1 {
		t.Errorf("Expected 1 minimum reviewer, got %d", branch.Policy.MinimumReviewers)
	}
}

func TestCreate_FeatureBranchUnprotected(t *testing.T) {
	svc, _ := newTestService(t)

	branch, err := svc.Create(context.Background(), "feature/login", "user-1", false)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if branch.Protected {
		t.Error("Expected feature branch to be unprotected")
	}
	if branch.Policy != nil {
		t.Error("Expected no policy on feature branch")
	}
}

func TestCreate_DuplicateName(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Create(ctx, "feature/login", "user-1", false); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	_, err := svc.Create(ctx, "feature/login", "user-2", false)
	if !errors.Is(err, domain.ErrAlreadyExists) {
		t.Fatalf("Expected ErrAlreadyExists, got %v", err)
	}
}

func TestDelete_ProtectedBranchRefused(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	branch, err := svc.Create(ctx, "main", "user-1", true)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	err = svc.Delete(ctx, branch.ID)
	if !errors.Is(err, domain.ErrPermissionDenied) {
		t.Fatalf("Expected ErrPermissionDenied, got %v", err)
	}
}

func TestEffectivePermission_UserDenyWins(t *testing.T) {
	svc, resolver := newTestService(t)
	ctx := context.Background()

	branch, _ := svc.Create(ctx, "feature/login", "user-1", false)
	user := contributor("user-2")

	// Group allows, but explicit user DENY must win
	resolver.groups[user.ID] = []*domain.Group{{ID: "group-1"}}
	if _, err := svc.SetGroupPermission(ctx, branch.ID, "group-1", domain.BranchActionContribute, domain.DecisionAllow); err != nil {
		t.Fatalf("SetGroupPermission failed: %v", err)
	}
	if _, err := svc.SetUserPermission(ctx, branch.ID, user.ID, domain.BranchActionContribute, domain.DecisionDeny); err != nil {
		t.Fatalf("SetUserPermission failed: %v", err)
	}

	allowed, err := svc.EffectivePermission(ctx, branch.ID, user, domain.BranchActionContribute)
	if err != nil {
		t.Fatalf("EffectivePermission failed: %v", err)
	}
	if allowed {
		t.Error("Expected explicit user DENY to win over group ALLOW")
	}
}

func TestEffectivePermission_GroupDenyBlocks(t *testing.T) {
	svc, resolver := newTestService(t)
	ctx := context.Background()

	branch, _ := svc.Create(ctx, "feature/login", "user-1", false)
	user := contributor("user-2")

	resolver.groups[user.ID] = []*domain.Group{{ID: "group-allow"}, {ID: "group-deny"}}
	if _, err := svc.SetGroupPermission(ctx, branch.ID, "group-allow", domain.BranchActionContribute, domain.DecisionAllow); err != nil {
		t.Fatalf("SetGroupPermission failed: %v", err)
	}
	if _, err := svc.SetGroupPermission(ctx, branch.ID, "group-deny", domain.BranchActionContribute, domain.DecisionDeny); err != nil {
		t.Fatalf("SetGroupPermission failed: %v", err)
	}

	allowed, err := svc.EffectivePermission(ctx, branch.ID, user, domain.BranchActionContribute)
	if err != nil {
		t.Fatalf("EffectivePermission failed: %v", err)
	}
	if allowed {
		t.Error("Expected any group DENY to block")
	}
}

func TestEffectivePermission_FallsBackToRoles(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	branch, _ := svc.Create(ctx, "feature/login", "user-1", false)

	reader := &domain.User{ID: "user-3", Roles: []domain.Role{domain.RoleReader}, Enabled: true}

	allowed, err := svc.EffectivePermission(ctx, branch.ID, reader, domain.BranchActionContribute)
	if err != nil {
		t.Fatalf("EffectivePermission failed: %v", err)
	}
	if allowed {
		t.Error("Expected reader without explicit grant to be denied contribute")
	}

	allowed, err = svc.EffectivePermission(ctx, branch.ID, reader, domain.BranchActionRead)
	if err != nil {
		t.Fatalf("EffectivePermission failed: %v", err)
	}
	if !allowed {
		t.Error("Expected enabled reader to be allowed read")
	}
}

func TestLockUnlock(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	branch, _ := svc.Create(ctx, "main", "user-1", true)

	locked, err := svc.Lock(ctx, branch.ID, "user-1", "release freeze")
	if err != nil {
		t.Fatalf("Lock failed: %v", err)
	}
	if !locked.Locked() {
		t.Error("Expected branch to be locked")
	}
	if locked.Security.LockReason != "release freeze" {
		t.Errorf("Expected lock reason to be stored, got %q", locked.Security.LockReason)
	}

	// Double lock conflicts
	if _, err := svc.Lock(ctx, branch.ID, "user-2", "again"); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("Expected ErrConflict on double lock, got %v", err)
	}

	unlocked, err := svc.Unlock(ctx, branch.ID)
	if err != nil {
		t.Fatalf("Unlock failed: %v", err)
	}
	if unlocked.Locked() {
		t.Error("Expected branch to be unlocked")
	}

	if _, err := svc.Unlock(ctx, branch.ID); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("Expected ErrConflict on double unlock, got %v", err)
	}
}

func TestSetPolicy_DefaultsMinReviewers(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	branch, _ := svc.Create(ctx, "develop", "user-1", false)

	updated, err := svc.SetPolicy(ctx, branch.ID, domain.BranchPolicy{
		RequirePullRequest: true,
		RequireCodeReview:  true,
	})
	if err != nil {
		t.Fatalf("SetPolicy failed: %v", err)
	}
	if updated.Policy.MinimumReviewers != 1 {
		t.Errorf("Expected minimum reviewers to default to 1, got %d", updated.Policy.MinimumReviewers)
	}
}

type stubCache struct {
	store map[string]*domain.Branch
	hits  int
}

func newStubCache() *stubCache {
	return &stubCache{store: make(map[string]*domain.Branch)}
}

func (c *stubCache) GetBranch(ctx context.Context, id string) (*domain.Branch, error) {
	if branch, ok := c.store[id]; ok {
		c.hits++
		return branch, nil
	}
	return nil, errors.New("miss")
}

func (c *stubCache) SetBranch(ctx context.Context, branch *domain.Branch) error {
	c.store[branch.ID] = branch
	return nil
}

func (c *stubCache) InvalidateBranch(ctx context.Context, id string) error {
	delete(c.store, id)
	return nil
}

func TestGet_CacheReadThroughAndInvalidation(t *testing.T) {
	svc, _ := newTestService(t)
	cache := newStubCache()
	svc.WithCache(cache)
	ctx := context.Background()

	branch, err := svc.Create(ctx, "feature/login", "user-1", false)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// First Get fills the cache, second is served from it.
	if _, err := svc.Get(ctx, branch.ID); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if _, err := svc.Get(ctx, branch.ID); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if cache.hits != 1 {
		t.Errorf("Expected 1 cache hit, got %d", cache.hits)
	}

	// A lock drops the cached copy so the next Get sees it.
	if _, err := svc.Lock(ctx, branch.ID, "admin-1", "release freeze"); err != nil {
		t.Fatalf("Lock failed: %v", err)
	}
	if _, ok := cache.store[branch.ID]; ok {
		t.Error("Expected cached branch invalidated after lock")
	}
	got, err := svc.Get(ctx, branch.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !got.Locked() {
		t.Error("Expected refreshed branch to be locked")
	}
}
