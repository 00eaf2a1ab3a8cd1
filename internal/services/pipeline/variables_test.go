package pipeline

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/devgrid/devgrid/internal/domain"
	"github.com/devgrid/devgrid/internal/repository/memory"
)

func newVariableService() *VariableService {
	return NewVariableService(memory.NewVariableRepository(), zap.NewNop())
}

func TestSet_SecretMasked(t *testing.T) {
	svc := newVariableService()
	ctx := context.Background()

	set, err := svc.Set(ctx, "pipeline-1", "API_TOKEN", "s3cret", true)
	if err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if set.Value != "***" {
		t.Errorf("Expected masked value on return, got %q", set.Value)
	}

	got, err := svc.Get(ctx, "pipeline-1", "API_TOKEN")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Value != "***" {
		t.Errorf("Expected masked value from Get, got %q", got.Value)
	}

	revealed, err := svc.Reveal(ctx, "pipeline-1", "API_TOKEN")
	if err != nil {
		t.Fatalf("Reveal failed: %v", err)
	}
	if revealed.Value != "s3cret" {
		t.Errorf("Expected real value from Reveal, got %q", revealed.Value)
	}
}

func TestSet_PlainNotMasked(t *testing.T) {
	svc := newVariableService()

	set, err := svc.Set(context.Background(), "pipeline-1", "REGION", "eu-west-1", false)
	if err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if set.Value != "eu-west-1" {
		t.Errorf("Expected plain value, got %q", set.Value)
	}
}

func TestSet_RequiresScopeAndName(t *testing.T) {
	svc := newVariableService()

	if _, err := svc.Set(context.Background(), "", "NAME", "v", false); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("Expected ErrInvalidArgument for empty scope, got %v", err)
	}
	if _, err := svc.Set(context.Background(), "scope", "", "v", false); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("Expected ErrInvalidArgument for empty name, got %v", err)
	}
}

func TestResolveScope_Precedence(t *testing.T) {
	svc := newVariableService()
	ctx := context.Background()

	group, err := svc.CreateGroup(ctx, "shared", "common settings", map[string]string{
		"REGION":  "us-east-1",
		"RETRIES": "3",
	})
	if err != nil {
		t.Fatalf("CreateGroup failed: %v", err)
	}
	if _, err := svc.LinkGroup(ctx, group.ID, "pipeline-1"); err != nil {
		t.Fatalf("LinkGroup failed: %v", err)
	}

	// Scope variable overrides the group value of the same name.
	if _, err := svc.Set(ctx, "pipeline-1", "REGION", "eu-west-1", false); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	resolved, err := svc.ResolveScope(ctx, "pipeline-1")
	if err != nil {
		t.Fatalf("ResolveScope failed: %v", err)
	}

	if resolved["REGION"] != "eu-west-1" {
		t.Errorf("Expected scope value to win, got %q", resolved["REGION"])
	}
	if resolved["RETRIES"] != "3" {
		t.Errorf("Expected group value to carry through, got %q", resolved["RETRIES"])
	}

	// Unlinked scopes see none of the group values.
	other, err := svc.ResolveScope(ctx, "pipeline-2")
	if err != nil {
		t.Fatalf("ResolveScope failed: %v", err)
	}
	if len(other) != 0 {
		t.Errorf("Expected empty resolution for unlinked scope, got %v", other)
	}
}

func TestLinkGroup_Idempotent(t *testing.T) {
	svc := newVariableService()
	ctx := context.Background()

	group, _ := svc.CreateGroup(ctx, "shared", "", map[string]string{"K": "v"})

	if _, err := svc.LinkGroup(ctx, group.ID, "pipeline-1"); err != nil {
		t.Fatalf("LinkGroup failed: %v", err)
	}
	linked, err := svc.LinkGroup(ctx, group.ID, "pipeline-1")
	if err != nil {
		t.Fatalf("Second LinkGroup failed: %v", err)
	}
	if len(linked.Scopes) != 1 {
		t.Errorf("Expected 1 linked scope, got %d", len(linked.Scopes))
	}
}

func TestListVariables_SecretsMasked(t *testing.T) {
	svc := newVariableService()
	ctx := context.Background()

	svc.Set(ctx, "scope", "PLAIN", "visible", false)
	svc.Set(ctx, "scope", "SECRET", "hidden", true)

	variables, err := svc.List(ctx, "scope")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(variables) != 2 {
		t.Fatalf("Expected 2 variables, got %d", len(variables))
	}

	for _, v := range variables {
		if v.IsSecret && v.Value != "***" {
			t.Errorf("Secret %q leaked value %q", v.Name, v.Value)
		}
		if !v.IsSecret && v.Value == "***" {
			t.Errorf("Plain variable %q came back masked", v.Name)
		}
	}
}
