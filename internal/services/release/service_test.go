package release

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/devgrid/devgrid/internal/domain"
	"github.com/devgrid/devgrid/internal/repository/memory"
)

type stubResumer struct {
	requestID string
	approved  bool
	calls     int
}

func (s *stubResumer) ResumeRun(ctx context.Context, approvalRequestID string, approved bool) (*domain.PipelineRun, error) {
	s.requestID = approvalRequestID
	s.approved = approved
	s.calls++
	return &domain.PipelineRun{ID: "run-1", ApprovalRequestID: approvalRequestID}, nil
}

type fixture struct {
	svc     *Service
	users   *memory.UserRepository
	resumer *stubResumer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	users := memory.NewUserRepository()
	resumer := &stubResumer{}
	svc := NewService(memory.NewReleaseRepository(), users, zap.NewNop()).WithRunResumer(resumer)
	return &fixture{svc: svc, users: users, resumer: resumer}
}

func (f *fixture) user(t *testing.T, username string) *domain.User {
	t.Helper()
	user, err := f.users.Create(context.Background(), &domain.User{
		Username: username,
		Email:    username + "@example.com",
		Roles:    []domain.Role{domain.RoleContributor},
		Enabled:  true,
	})
	if err != nil {
		t.Fatalf("Failed to create user %s: %v", username, err)
	}
	return user
}

func TestCreateEnvironment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	env, err := f.svc.CreateEnvironment(ctx, "production", "customer facing")
	if err != nil {
		t.Fatalf("CreateEnvironment failed: %v", err)
	}
	if env.Name != "production" {
		t.Errorf("Expected name 'production', got %q", env.Name)
	}

	if _, err := f.svc.CreateEnvironment(ctx, "production", ""); !errors.Is(err, domain.ErrAlreadyExists) {
		t.Fatalf("Expected ErrAlreadyExists, got %v", err)
	}
}

func TestAddApprover_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	alice := f.user(t, "alice")
	env, _ := f.svc.CreateEnvironment(ctx, "production", "")

	if _, err := f.svc.AddApprover(ctx, env.ID, alice.ID, domain.ApprovalPreDeployment); err != nil {
		t.Fatalf("AddApprover failed: %v", err)
	}
	updated, err := f.svc.AddApprover(ctx, env.ID, alice.ID, domain.ApprovalPreDeployment)
	if err != nil {
		t.Fatalf("Second AddApprover failed: %v", err)
	}
	if len(updated.Approvers) != 1 {
		t.Errorf("Expected 1 approver after repeated add, got %d", len(updated.Approvers))
	}
}

func TestAddApprover_UnknownUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	env, _ := f.svc.CreateEnvironment(ctx, "production", "")

	if _, err := f.svc.AddApprover(ctx, env.ID, "nonexistent", domain.ApprovalPreDeployment); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
}

func TestRequestApproval_UsesEnvironmentApprovers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	alice := f.user(t, "alice")
	bob := f.user(t, "bob")
	env, _ := f.svc.CreateEnvironment(ctx, "production", "")
	f.svc.AddApprover(ctx, env.ID, alice.ID, domain.ApprovalPreDeployment)
	f.svc.AddApprover(ctx, env.ID, bob.ID, domain.ApprovalPreDeployment)
	f.svc.AddApprover(ctx, env.ID, alice.ID, domain.ApprovalPostDeployment)

	req, err := f.svc.RequestApproval(ctx, env.ID, "run-1", domain.ApprovalPreDeployment, nil)
	if err != nil {
		t.Fatalf("RequestApproval failed: %v", err)
	}
	if req.Status != domain.ApprovalPending {
		t.Errorf("Expected PENDING, got %s", req.Status)
	}
	if len(req.Approvers) != 2 {
		t.Errorf("Expected 2 pre-deployment approvers, got %v", req.Approvers)
	}
}

func TestRequestApproval_NoApprovers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	env, _ := f.svc.CreateEnvironment(ctx, "production", "")

	if _, err := f.svc.RequestApproval(ctx, env.ID, "run-1", domain.ApprovalPreDeployment, nil); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("Expected ErrInvalidArgument, got %v", err)
	}
}

func TestRespond_PendingUntilAllRespond(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req, err := f.svc.RequestApproval(ctx, "", "run-1", domain.ApprovalPreDeployment, []string{"alice", "bob", "carol"})
	if err != nil {
		t.Fatalf("RequestApproval failed: %v", err)
	}

	// Two of three approvals: still pending, never resolved early.
	after, err := f.svc.Respond(ctx, req.ID, "alice", domain.DecisionApproved, "")
	if err != nil {
		t.Fatalf("Respond failed: %v", err)
	}
	if after.Status != domain.ApprovalPending {
		t.Fatalf("Expected PENDING after 1/3, got %s", after.Status)
	}

	after, err = f.svc.Respond(ctx, req.ID, "bob", domain.DecisionApproved, "lgtm")
	if err != nil {
		t.Fatalf("Respond failed: %v", err)
	}
	if after.Status != domain.ApprovalPending {
		t.Fatalf("Expected PENDING after 2/3, got %s", after.Status)
	}
	if f.resumer.calls != 0 {
		t.Fatal("Run must not resume before all approvers respond")
	}

	// Final unanimous approval resolves the request.
	after, err = f.svc.Respond(ctx, req.ID, "carol", domain.DecisionApproved, "")
	if err != nil {
		t.Fatalf("Respond failed: %v", err)
	}
	if after.Status != domain.ApprovalApproved {
		t.Fatalf("Expected APPROVED after unanimous responses, got %s", after.Status)
	}
	if after.ResolvedAt == nil {
		t.Error("Expected resolution timestamp")
	}
	if f.resumer.calls != 1 || !f.resumer.approved || f.resumer.requestID != req.ID {
		t.Errorf("Expected run resumed as approved for %s, got %+v", req.ID, f.resumer)
	}
}

func TestRespond_AnyRejectionRejects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req, _ := f.svc.RequestApproval(ctx, "", "run-1", domain.ApprovalPreDeployment, []string{"alice", "bob"})

	f.svc.Respond(ctx, req.ID, "alice", domain.DecisionApproved, "")

	// A single rejection still waits for everyone, then rejects.
	after, err := f.svc.Respond(ctx, req.ID, "bob", domain.DecisionRejected, "not this week")
	if err != nil {
		t.Fatalf("Respond failed: %v", err)
	}
	if after.Status != domain.ApprovalRejected {
		t.Fatalf("Expected REJECTED, got %s", after.Status)
	}
	if f.resumer.calls != 1 || f.resumer.approved {
		t.Errorf("Expected run canceled on rejection, got %+v", f.resumer)
	}
}

func TestRespond_NonApproverDenied(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req, _ := f.svc.RequestApproval(ctx, "", "run-1", domain.ApprovalPreDeployment, []string{"alice"})

	if _, err := f.svc.Respond(ctx, req.ID, "mallory", domain.DecisionApproved, ""); !errors.Is(err, domain.ErrPermissionDenied) {
		t.Fatalf("Expected ErrPermissionDenied, got %v", err)
	}
}

func TestRespond_OverwritesWhilePending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req, _ := f.svc.RequestApproval(ctx, "", "run-1", domain.ApprovalPreDeployment, []string{"alice", "bob"})

	f.svc.Respond(ctx, req.ID, "alice", domain.DecisionRejected, "concerns")

	// Alice changes her mind before bob responds.
	after, err := f.svc.Respond(ctx, req.ID, "alice", domain.DecisionApproved, "resolved")
	if err != nil {
		t.Fatalf("Respond failed: %v", err)
	}
	if len(after.Responses) != 1 {
		t.Fatalf("Expected overwrite, got %d responses", len(after.Responses))
	}
	if resp, _ := after.ResponseOf("alice"); resp.Decision != domain.DecisionApproved {
		t.Errorf("Expected latest decision to win, got %s", resp.Decision)
	}

	after, _ = f.svc.Respond(ctx, req.ID, "bob", domain.DecisionApproved, "")
	if after.Status != domain.ApprovalApproved {
		t.Errorf("Expected APPROVED with alice's final decision, got %s", after.Status)
	}
}

func TestRespond_ResolvedRequestConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req, _ := f.svc.RequestApproval(ctx, "", "run-1", domain.ApprovalPreDeployment, []string{"alice"})
	f.svc.Respond(ctx, req.ID, "alice", domain.DecisionApproved, "")

	if _, err := f.svc.Respond(ctx, req.ID, "alice", domain.DecisionRejected, "too late"); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("Expected ErrConflict on resolved request, got %v", err)
	}
}

func TestRequestApproval_DuplicateApproversCollapsed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req, err := f.svc.RequestApproval(ctx, "", "run-1", domain.ApprovalPreDeployment, []string{"alice", "alice", "bob"})
	if err != nil {
		t.Fatalf("RequestApproval failed: %v", err)
	}
	if len(req.Approvers) != 2 {
		t.Fatalf("Expected duplicates collapsed, got %v", req.Approvers)
	}

	// One response per unique approver resolves it.
	f.svc.Respond(ctx, req.ID, "alice", domain.DecisionApproved, "")
	after, _ := f.svc.Respond(ctx, req.ID, "bob", domain.DecisionApproved, "")
	if after.Status != domain.ApprovalApproved {
		t.Errorf("Expected APPROVED, got %s", after.Status)
	}
}

func TestListPendingFor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req, _ := f.svc.RequestApproval(ctx, "", "run-1", domain.ApprovalPreDeployment, []string{"alice", "bob"})
	f.svc.RequestApproval(ctx, "", "run-2", domain.ApprovalPreDeployment, []string{"bob"})

	pending, err := f.svc.ListPendingFor(ctx, "bob")
	if err != nil {
		t.Fatalf("ListPendingFor failed: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("Expected 2 pending requests for bob, got %d", len(pending))
	}

	f.svc.Respond(ctx, req.ID, "bob", domain.DecisionApproved, "")

	pending, _ = f.svc.ListPendingFor(ctx, "bob")
	if len(pending) != 1 {
		t.Errorf("Expected 1 pending request after responding, got %d", len(pending))
	}
}
