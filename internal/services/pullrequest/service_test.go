package pullrequest

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/devgrid/devgrid/internal/config"
	"github.com/devgrid/devgrid/internal/domain"
	"github.com/devgrid/devgrid/internal/repository/memory"
	branchservice "github.com/devgrid/devgrid/internal/services/branch"
)

type fixture struct {
	svc       *Service
	users     *memory.UserRepository
	branches  *memory.BranchRepository
	workItems *memory.WorkItemRepository
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	users := memory.NewUserRepository()
	branches := memory.NewBranchRepository()
	workItems := memory.NewWorkItemRepository()
	policy := config.PolicyConfig{ProtectedBranches: []string{"main"}, DefaultMinReviewers: 1}

	perms := branchservice.NewService(branches, nil, policy, zap.NewNop())
	svc := NewService(memory.NewPullRequestRepository(), branches, users, policy, zap.NewNop()).
		WithWorkItems(workItems).
		WithPermissions(perms)

	return &fixture{svc: svc, users: users, branches: branches, workItems: workItems}
}

func (f *fixture) user(t *testing.T, username string, roles ...domain.Role) *domain.User {
	t.Helper()
	user, err := f.users.Create(context.Background(), &domain.User{
		Username: username,
		Email:    username + "@example.com",
		Roles:    roles,
		Enabled:  true,
	})
	if err != nil {
		t.Fatalf("failed to create user: %v", err)
	}
	return user
}

func (f *fixture) branch(t *testing.T, name string, protected bool) *domain.Branch {
	t.Helper()
	branch := &domain.Branch{Name: name, Protected: protected, Security: domain.NewBranchSecurity()}
	if protected {
		branch.Policy = &domain.BranchPolicy{RequirePullRequest: true, RequireCodeReview: true, MinimumReviewers: 1}
	}
	created, err := f.branches.Create(context.Background(), branch)
	if err != nil {
		t.Fatalf("failed to create branch: %v", err)
	}
	return created
}

func (f *fixture) openPR(t *testing.T, author *domain.User, source, target string, reviewers ...string) *domain.PullRequest {
	t.Helper()
	pr, err := f.svc.Create(context.Background(), &CreateRequest{
		Title:        "Add login endpoint",
		SourceBranch: source,
		TargetBranch: target,
		AuthorID:     author.ID,
		Reviewers:    reviewers,
	})
	if err != nil {
		t.Fatalf("failed to open pull request: %v", err)
	}
	return pr
}

func TestCreate_SameSourceAndTarget(t *testing.T) {
	f := newFixture(t)
	author := f.user(t, "alice", domain.RoleContributor)
	f.branch(t, "main", true)

	_, err := f.svc.Create(context.Background(), &CreateRequest{
		Title:        "noop",
		SourceBranch: "main",
		TargetBranch: "main",
		AuthorID:     author.ID,
	})
	if !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("Expected ErrInvalidArgument, got %v", err)
	}
}

func TestCreate_ReaderCannotOpen(t *testing.T) {
	f := newFixture(t)
	reader := f.user(t, "bob", domain.RoleReader)
	f.branch(t, "main", true)
	f.branch(t, "feature/login", false)

	_, err := f.svc.Create(context.Background(), &CreateRequest{
		Title:        "Add login endpoint",
		SourceBranch: "feature/login",
		TargetBranch: "main",
		AuthorID:     reader.ID,
		Reviewers:    []string{"r1"},
	})
	if !errors.Is(err, domain.ErrPermissionDenied) {
		t.Fatalf("Expected ErrPermissionDenied, got %v", err)
	}
}

func TestCreate_ReviewPolicyRequiresReviewers(t *testing.T) {
	f := newFixture(t)
	author := f.user(t, "alice", domain.RoleContributor)
	f.branch(t, "main", true)
	f.branch(t, "feature/login", false)

	_, err := f.svc.Create(context.Background(), &CreateRequest{
		Title:        "Add login endpoint",
		SourceBranch: "feature/login",
		TargetBranch: "main",
		AuthorID:     author.ID,
	})
	if !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("Expected ErrInvalidArgument without reviewers, got %v", err)
	}
}

func TestCreate_TargetReadDeniedBySecurity(t *testing.T) {
	f := newFixture(t)
	author := f.user(t, "alice", domain.RoleContributor)
	target := f.branch(t, "main", true)
	f.branch(t, "feature/login", false)
	ctx := context.Background()

	// An explicit read DENY on the target outranks the contributor role.
	target.Security.UserPermissions[author.ID] = map[domain.BranchAction]domain.PermissionDecision{
		domain.BranchActionRead: domain.DecisionDeny,
	}
	if _, err := f.branches.Update(ctx, target); err != nil {
		t.Fatalf("failed to update branch security: %v", err)
	}

	_, err := f.svc.Create(ctx, &CreateRequest{
		Title:        "Add login endpoint",
		SourceBranch: "feature/login",
		TargetBranch: "main",
		AuthorID:     author.ID,
		Reviewers:    []string{"r1"},
	})
	if !errors.Is(err, domain.ErrPermissionDenied) {
		t.Fatalf("Expected ErrPermissionDenied for denied read, got %v", err)
	}
}

func TestCreate_ReviewersAutoAssignedFromPolicy(t *testing.T) {
	f := newFixture(t)
	author := f.user(t, "alice", domain.RoleContributor)
	admin := f.user(t, "root", domain.RoleAdmin)
	target := f.branch(t, "main", true)
	f.branch(t, "feature/login", false)
	ctx := context.Background()

	target.Policy.DefaultReviewers = []string{admin.ID}
	if _, err := f.branches.Update(ctx, target); err != nil {
		t.Fatalf("failed to update branch policy: %v", err)
	}

	pr, err := f.svc.Create(ctx, &CreateRequest{
		Title:        "Add login endpoint",
		SourceBranch: "feature/login",
		TargetBranch: "main",
		AuthorID:     author.ID,
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if len(pr.Reviewers) != 1 || pr.Reviewers[0] != admin.ID {
		t.Errorf("Expected policy reviewers auto-assigned, got %v", pr.Reviewers)
	}

	// Explicit reviewers win over policy defaults.
	reviewer := f.user(t, "rev", domain.RoleContributor)
	pr2 := f.openPR(t, author, "feature/login", "main", reviewer.ID)
	if len(pr2.Reviewers) != 1 || pr2.Reviewers[0] != reviewer.ID {
		t.Errorf("Expected explicit reviewers kept, got %v", pr2.Reviewers)
	}
}

func TestApprove_NonReviewerRejected(t *testing.T) {
	f := newFixture(t)
	author := f.user(t, "alice", domain.RoleContributor)
	reviewer := f.user(t, "rev", domain.RoleContributor)
	outsider := f.user(t, "carol", domain.RoleContributor)
	f.branch(t, "main", true)
	f.branch(t, "feature/login", false)

	pr := f.openPR(t, author, "feature/login", "main", reviewer.ID)

	_, err := f.svc.Approve(context.Background(), pr.ID, outsider.ID)
	if !errors.Is(err, domain.ErrPermissionDenied) {
		t.Fatalf("Expected ErrPermissionDenied, got %v", err)
	}
}

func TestApprove_Idempotent(t *testing.T) {
	f := newFixture(t)
	author := f.user(t, "alice", domain.RoleContributor)
	reviewer := f.user(t, "rev", domain.RoleContributor)
	f.branch(t, "main", true)
	f.branch(t, "feature/login", false)

	pr := f.openPR(t, author, "feature/login", "main", reviewer.ID)
	ctx := context.Background()

	if _, err := f.svc.Approve(ctx, pr.ID, reviewer.ID); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	updated, err := f.svc.Approve(ctx, pr.ID, reviewer.ID)
	if err != nil {
		t.Fatalf("Repeated approve failed: %v", err)
	}
	if len(updated.Approvals) != 1 {
		t.Errorf("Expected 1 approval after repeated approve, got %d", len(updated.Approvals))
	}
}

func TestComplete_BlockedUntilAllReviewersApprove(t *testing.T) {
	f := newFixture(t)
	author := f.user(t, "alice", domain.RoleContributor)
	admin := f.user(t, "root", domain.RoleAdmin)
	r1 := f.user(t, "rev1", domain.RoleContributor)
	r2 := f.user(t, "rev2", domain.RoleContributor)
	f.branch(t, "main", true)
	f.branch(t, "feature/login", false)

	pr := f.openPR(t, author, "feature/login", "main", r1.ID, r2.ID)
	ctx := context.Background()

	// No approvals yet
	if _, err := f.svc.Complete(ctx, pr.ID, admin.ID); !errors.Is(err, domain.ErrPermissionDenied) {
		t.Fatalf("Expected ErrPermissionDenied with zero approvals, got %v", err)
	}

	// One of two reviewers approved — still blocked
	if _, err := f.svc.Approve(ctx, pr.ID, r1.ID); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	if _, err := f.svc.Complete(ctx, pr.ID, admin.ID); !errors.Is(err, domain.ErrPermissionDenied) {
		t.Fatalf("Expected ErrPermissionDenied with partial approvals, got %v", err)
	}

	// All reviewers approved — completion succeeds
	if _, err := f.svc.Approve(ctx, pr.ID, r2.ID); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	completed, err := f.svc.Complete(ctx, pr.ID, admin.ID)
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if completed.Status != domain.PullRequestCompleted {
		t.Errorf("Expected COMPLETED, got %s", completed.Status)
	}
	if completed.CompletedAt == nil || completed.CompletedBy != admin.ID {
		t.Error("Expected completion metadata to be recorded")
	}
}

func TestComplete_ProtectedTargetRequiresAdmin(t *testing.T) {
	f := newFixture(t)
	author := f.user(t, "alice", domain.RoleContributor)
	reviewer := f.user(t, "rev", domain.RoleContributor)
	f.branch(t, "main", true)
	f.branch(t, "feature/login", false)

	pr := f.openPR(t, author, "feature/login", "main", reviewer.ID)
	ctx := context.Background()

	if _, err := f.svc.Approve(ctx, pr.ID, reviewer.ID); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}

	// A contributor cannot complete into a protected branch even when
	// fully approved.
	_, err := f.svc.Complete(ctx, pr.ID, author.ID)
	if !errors.Is(err, domain.ErrPermissionDenied) {
		t.Fatalf("Expected ErrPermissionDenied for non-admin, got %v", err)
	}
}

func TestComplete_UnprotectedTargetAllowsContributor(t *testing.T) {
	f := newFixture(t)
	author := f.user(t, "alice", domain.RoleContributor)
	reviewer := f.user(t, "rev", domain.RoleContributor)
	f.branch(t, "develop", false)
	f.branch(t, "feature/login", false)

	pr := f.openPR(t, author, "feature/login", "develop", reviewer.ID)
	ctx := context.Background()

	if _, err := f.svc.Approve(ctx, pr.ID, reviewer.ID); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	completed, err := f.svc.Complete(ctx, pr.ID, author.ID)
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if completed.Status != domain.PullRequestCompleted {
		t.Errorf("Expected COMPLETED, got %s", completed.Status)
	}
}

func TestComplete_LockedTargetConflicts(t *testing.T) {
	f := newFixture(t)
	author := f.user(t, "alice", domain.RoleContributor)
	admin := f.user(t, "root", domain.RoleAdmin)
	reviewer := f.user(t, "rev", domain.RoleContributor)
	target := f.branch(t, "main", true)
	f.branch(t, "feature/login", false)

	pr := f.openPR(t, author, "feature/login", "main", reviewer.ID)
	ctx := context.Background()

	if _, err := f.svc.Approve(ctx, pr.ID, reviewer.ID); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}

	target.Security.IsLocked = true
	if _, err := f.branches.Update(ctx, target); err != nil {
		t.Fatalf("failed to lock branch: %v", err)
	}

	_, err := f.svc.Complete(ctx, pr.ID, admin.ID)
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("Expected ErrConflict for locked target, got %v", err)
	}
}

func TestComplete_TerminalStatesConflict(t *testing.T) {
	f := newFixture(t)
	author := f.user(t, "alice", domain.RoleContributor)
	admin := f.user(t, "root", domain.RoleAdmin)
	reviewer := f.user(t, "rev", domain.RoleContributor)
	f.branch(t, "main", true)
	f.branch(t, "feature/login", false)

	pr := f.openPR(t, author, "feature/login", "main", reviewer.ID)
	ctx := context.Background()

	if _, err := f.svc.Approve(ctx, pr.ID, reviewer.ID); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	if _, err := f.svc.Complete(ctx, pr.ID, admin.ID); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	// Completed is terminal
	if _, err := f.svc.Complete(ctx, pr.ID, admin.ID); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("Expected ErrConflict on repeated complete, got %v", err)
	}
	if _, err := f.svc.Abandon(ctx, pr.ID, author.ID); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("Expected ErrConflict abandoning completed PR, got %v", err)
	}
	if _, err := f.svc.Approve(ctx, pr.ID, reviewer.ID); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("Expected ErrConflict approving completed PR, got %v", err)
	}
}

func TestAbandon(t *testing.T) {
	f := newFixture(t)
	author := f.user(t, "alice", domain.RoleContributor)
	reviewer := f.user(t, "rev", domain.RoleContributor)
	f.branch(t, "main", true)
	f.branch(t, "feature/login", false)

	pr := f.openPR(t, author, "feature/login", "main", reviewer.ID)
	ctx := context.Background()

	// Abandoning needs no approvals
	abandoned, err := f.svc.Abandon(ctx, pr.ID, author.ID)
	if err != nil {
		t.Fatalf("Abandon failed: %v", err)
	}
	if abandoned.Status != domain.PullRequestAbandoned {
		t.Errorf("Expected ABANDONED, got %s", abandoned.Status)
	}

	// Abandoned is terminal
	if _, err := f.svc.Abandon(ctx, pr.ID, author.ID); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("Expected ErrConflict on repeated abandon, got %v", err)
	}
}

func TestComplete_AppendsMergeCommit(t *testing.T) {
	f := newFixture(t)
	author := f.user(t, "alice", domain.RoleContributor)
	reviewer := f.user(t, "rev", domain.RoleContributor)
	target := f.branch(t, "develop", false)
	f.branch(t, "feature/login", false)

	pr := f.openPR(t, author, "feature/login", "develop", reviewer.ID)
	ctx := context.Background()

	if _, err := f.svc.Approve(ctx, pr.ID, reviewer.ID); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	if _, err := f.svc.Complete(ctx, pr.ID, author.ID); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	merged, err := f.branches.Get(ctx, target.ID)
	if err != nil {
		t.Fatalf("Get branch failed: %v", err)
	}
	if len(merged.Commits) != 1 {
		t.Fatalf("Expected 1 merge commit on target, got %d", len(merged.Commits))
	}
}

func TestLinkWorkItem_ClosedOnCompletion(t *testing.T) {
	f := newFixture(t)
	author := f.user(t, "alice", domain.RoleContributor)
	reviewer := f.user(t, "rev", domain.RoleContributor)
	f.branch(t, "develop", false)
	f.branch(t, "feature/login", false)
	ctx := context.Background()

	item, err := f.workItems.Create(ctx, &domain.WorkItem{
		Title: "Implement login", Type: domain.WorkItemTask, State: domain.WorkItemActive, CreatedBy: author.ID,
	})
	if err != nil {
		t.Fatalf("failed to create work item: %v", err)
	}

	pr := f.openPR(t, author, "feature/login", "develop", reviewer.ID)
	if _, err := f.svc.LinkWorkItem(ctx, pr.ID, item.ID); err != nil {
		t.Fatalf("LinkWorkItem failed: %v", err)
	}

	// Linking twice is a no-op
	linked, err := f.svc.LinkWorkItem(ctx, pr.ID, item.ID)
	if err != nil {
		t.Fatalf("repeated LinkWorkItem failed: %v", err)
	}
	if len(linked.WorkItems) != 1 {
		t.Errorf("Expected 1 linked work item, got %d", len(linked.WorkItems))
	}

	if _, err := f.svc.Approve(ctx, pr.ID, reviewer.ID); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	if _, err := f.svc.Complete(ctx, pr.ID, author.ID); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	closed, err := f.workItems.Get(ctx, item.ID)
	if err != nil {
		t.Fatalf("Get work item failed: %v", err)
	}
	if closed.State != domain.WorkItemClosed {
		t.Errorf("Expected linked work item to be CLOSED, got %s", closed.State)
	}
}

type stubCache struct {
	store map[string]*domain.PullRequest
	hits  int
}

func newStubCache() *stubCache {
	return &stubCache{store: make(map[string]*domain.PullRequest)}
}

func (c *stubCache) GetPullRequest(ctx context.Context, id string) (*domain.PullRequest, error) {
	if pr, ok := c.store[id]; ok {
		c.hits++
		return pr, nil
	}
	return nil, errors.New("miss")
}

func (c *stubCache) SetPullRequest(ctx context.Context, pr *domain.PullRequest) error {
	c.store[pr.ID] = pr
	return nil
}

func (c *stubCache) InvalidatePullRequest(ctx context.Context, id string) error {
	delete(c.store, id)
	return nil
}

func TestGet_CacheReadThroughAndInvalidation(t *testing.T) {
	f := newFixture(t)
	cache := newStubCache()
	f.svc.WithCache(cache)

	author := f.user(t, "alice", domain.RoleContributor)
	reviewer := f.user(t, "rev", domain.RoleContributor)
	f.branch(t, "main", true)
	f.branch(t, "feature/login", false)

	pr := f.openPR(t, author, "feature/login", "main", reviewer.ID)
	ctx := context.Background()

	// First Get fills the cache, second is served from it.
	if _, err := f.svc.Get(ctx, pr.ID); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if _, err := f.svc.Get(ctx, pr.ID); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if cache.hits != 1 {
		t.Errorf("Expected 1 cache hit, got %d", cache.hits)
	}

	// A mutation drops the cached copy so the next Get sees the approval.
	if _, err := f.svc.Approve(ctx, pr.ID, reviewer.ID); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	if _, ok := cache.store[pr.ID]; ok {
		t.Error("Expected cached pull request invalidated after approve")
	}
	got, err := f.svc.Get(ctx, pr.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(got.Approvals) != 1 {
		t.Errorf("Expected refreshed approvals, got %v", got.Approvals)
	}
}
