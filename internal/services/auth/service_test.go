package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/devgrid/devgrid/internal/config"
	"github.com/devgrid/devgrid/internal/domain"
	"github.com/devgrid/devgrid/internal/repository/memory"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	jwtManager := NewJWTManager(config.AuthConfig{
		JWTSecret:     "test-secret-key-for-sessions",
		TokenExpiry:   time.Hour,
		RefreshExpiry: 24 * time.Hour,
	})
	return NewService(
		memory.NewUserRepository(),
		memory.NewAuditRepository(),
		memory.NewSessionStore(),
		jwtManager,
		zap.NewNop(),
	)
}

func TestLogin_SessionRoundTrip(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, err := svc.CreateUser(ctx, "alice", "alice@example.com", "s3cret", []domain.Role{domain.RoleContributor}); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}

	resp, err := svc.Login(ctx, &LoginRequest{Username: "alice", Password: "s3cret"})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if resp.SessionID == "" {
		t.Fatal("Expected a session ID")
	}

	user, err := svc.GetSessionUser(ctx, resp.SessionID)
	if err != nil {
		t.Fatalf("GetSessionUser failed: %v", err)
	}
	if user.Username != "alice" {
		t.Errorf("Expected session to resolve to alice, got %q", user.Username)
	}

	if err := svc.Logout(ctx, resp.SessionID, user.ID); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}
	if _, err := svc.GetSessionUser(ctx, resp.SessionID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound after logout, got %v", err)
	}
}

func TestGetSessionUser_UnknownSession(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.GetSessionUser(context.Background(), "no-such-session")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
}

func TestLogin_WrongPassword(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, err := svc.CreateUser(ctx, "alice", "alice@example.com", "s3cret", nil); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}

	if _, err := svc.Login(ctx, &LoginRequest{Username: "alice", Password: "wrong"}); err == nil {
		t.Fatal("Expected login with wrong password to fail")
	}
}
