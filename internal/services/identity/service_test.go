package identity

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/devgrid/devgrid/internal/domain"
	"github.com/devgrid/devgrid/internal/repository/memory"
)

func newTestService(t *testing.T) (*Service, *memory.UserRepository) {
	t.Helper()
	userRepo := memory.NewUserRepository()
	groupRepo := memory.NewGroupRepository()
	return NewService(groupRepo, userRepo, zap.NewNop()), userRepo
}

func createTestUser(t *testing.T, repo *memory.UserRepository, username string) *domain.User {
	t.Helper()
	user, err := repo.Create(context.Background(), &domain.User{
		Username: username,
		Email:    username + "@example.com",
		Roles:    []domain.Role{domain.RoleContributor},
		Enabled:  true,
	})
	if err != nil {
		t.Fatalf("failed to create user: %v", err)
	}
	return user
}

func TestCreateGroup(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	group, err := svc.CreateGroup(ctx, "backend-team", "Backend developers")
	if err != nil {
		t.Fatalf("CreateGroup failed: %v", err)
	}

	if group.ID == "" {
		t.Error("Expected group ID to be set")
	}
	if group.Name != "backend-team" {
		t.Errorf("Expected name 'backend-team', got '%s'", group.Name)
	}
	if len(group.Members) != 0 {
		t.Errorf("Expected empty membership, got %d members", len(group.Members))
	}
}

func TestCreateGroup_DuplicateName(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.CreateGroup(ctx, "backend-team", ""); err != nil {
		t.Fatalf("CreateGroup failed: %v", err)
	}

	_, err := svc.CreateGroup(ctx, "backend-team", "")
	if err == nil {
		t.Fatal("Expected error for duplicate group name")
	}
}

func TestCreateGroup_EmptyName(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.CreateGroup(context.Background(), "", "")
	if err == nil {
		t.Fatal("Expected error for empty group name")
	}
}

func TestAddMember(t *testing.T) {
	svc, userRepo := newTestService(t)
	ctx := context.Background()

	user := createTestUser(t, userRepo, "alice")
	group, err := svc.CreateGroup(ctx, "backend-team", "")
	if err != nil {
		t.Fatalf("CreateGroup failed: %v", err)
	}

	updated, err := svc.AddMember(ctx, group.ID, user.ID)
	if err != nil {
		t.Fatalf("AddMember failed: %v", err)
	}

	if !updated.HasMember(user.ID) {
		t.Error("Expected user to be a member after add")
	}
	if len(updated.Members) != 1 {
		t.Errorf("Expected 1 member, got %d", len(updated.Members))
	}
}

func TestAddMember_Idempotent(t *testing.T) {
	svc, userRepo := newTestService(t)
	ctx := context.Background()

	user := createTestUser(t, userRepo, "alice")
	group, err := svc.CreateGroup(ctx, "backend-team", "")
	if err != nil {
		t.Fatalf("CreateGroup failed: %v", err)
	}

	if _, err := svc.AddMember(ctx, group.ID, user.ID); err != nil {
		t.Fatalf("first AddMember failed: %v", err)
	}

	// Adding the same user again succeeds and leaves membership unchanged
	updated, err := svc.AddMember(ctx, group.ID, user.ID)
	if err != nil {
		t.Fatalf("second AddMember failed: %v", err)
	}

	if len(updated.Members) != 1 {
		t.Errorf("Expected membership to stay at 1 after repeated add, got %d", len(updated.Members))
	}

	stored, err := svc.GetGroup(ctx, group.ID)
	if err != nil {
		t.Fatalf("GetGroup failed: %v", err)
	}
	if len(stored.Members) != 1 {
		t.Errorf("Expected stored membership of 1, got %d", len(stored.Members))
	}
}

func TestAddMember_UnknownUser(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	group, err := svc.CreateGroup(ctx, "backend-team", "")
	if err != nil {
		t.Fatalf("CreateGroup failed: %v", err)
	}

	_, err = svc.AddMember(ctx, group.ID, "no-such-user")
	if err == nil {
		t.Fatal("Expected error when adding unknown user")
	}
}

func TestRemoveMember(t *testing.T) {
	svc, userRepo := newTestService(t)
	ctx := context.Background()

	user := createTestUser(t, userRepo, "alice")
	group, err := svc.CreateGroup(ctx, "backend-team", "")
	if err != nil {
		t.Fatalf("CreateGroup failed: %v", err)
	}

	if _, err := svc.AddMember(ctx, group.ID, user.ID); err != nil {
		t.Fatalf("AddMember failed: %v", err)
	}

	updated, err := svc.RemoveMember(ctx, group.ID, user.ID)
	if err != nil {
		t.Fatalf("RemoveMember failed: %v", err)
	}
	if updated.HasMember(user.ID) {
		t.Error("Expected user to be removed")
	}

	// Removing a non-member is a no-op
	if _, err := svc.RemoveMember(ctx, group.ID, user.ID); err != nil {
		t.Fatalf("RemoveMember of non-member failed: %v", err)
	}
}

func TestListGroupsForUser(t *testing.T) {
	svc, userRepo := newTestService(t)
	ctx := context.Background()

	user := createTestUser(t, userRepo, "alice")

	g1, _ := svc.CreateGroup(ctx, "backend-team", "")
	g2, _ := svc.CreateGroup(ctx, "release-managers", "")
	if _, err := svc.CreateGroup(ctx, "frontend-team", ""); err != nil {
		t.Fatalf("CreateGroup failed: %v", err)
	}

	if _, err := svc.AddMember(ctx, g1.ID, user.ID); err != nil {
		t.Fatalf("AddMember failed: %v", err)
	}
	if _, err := svc.AddMember(ctx, g2.ID, user.ID); err != nil {
		t.Fatalf("AddMember failed: %v", err)
	}

	groups, err := svc.ListGroupsForUser(ctx, user.ID)
	if err != nil {
		t.Fatalf("ListGroupsForUser failed: %v", err)
	}
	if len(groups) != 2 {
		t.Errorf("Expected 2 groups, got %d", len(groups))
	}
}

func TestIsMember(t *testing.T) {
	svc, userRepo := newTestService(t)
	ctx := context.Background()

	user := createTestUser(t, userRepo, "alice")
	group, _ := svc.CreateGroup(ctx, "backend-team", "")

	member, err := svc.IsMember(ctx, group.ID, user.ID)
	if err != nil {
		t.Fatalf("IsMember failed: %v", err)
	}
	if member {
		t.Error("Expected user not to be a member yet")
	}

	if _, err := svc.AddMember(ctx, group.ID, user.ID); err != nil {
		t.Fatalf("AddMember failed: %v", err)
	}

	member, err = svc.IsMember(ctx, group.ID, user.ID)
	if err != nil {
		t.Fatalf("IsMember failed: %v", err)
	}
	if !member {
		t.Error("Expected user to be a member")
	}
}
