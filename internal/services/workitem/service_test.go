package workitem

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/devgrid/devgrid/internal/domain"
	"github.com/devgrid/devgrid/internal/repository/memory"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	return NewService(memory.NewWorkItemRepository(), zap.NewNop())
}

func TestCreate_DefaultsToNew(t *testing.T) {
	svc := newTestService(t)

	item, err := svc.Create(context.Background(), &CreateRequest{
		Title:     "Fix login timeout",
		Type:      domain.WorkItemBug,
		Priority:  1,
		CreatedBy: "user-1",
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if item.State != domain.WorkItemNew {
		t.Errorf("Expected NEW, got %s", item.State)
	}
	if item.ID == "" {
		t.Error("Expected ID to be set")
	}
}

func TestCreate_InvalidPriority(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.Create(context.Background(), &CreateRequest{
		Title:    "Fix login timeout",
		Priority: 9,
	})
	if !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("Expected ErrInvalidArgument, got %v", err)
	}
}

func TestTransition_LegalPath(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	item, err := svc.Create(ctx, &CreateRequest{Title: "Task", Priority: 2})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// NEW -> ACTIVE -> RESOLVED -> ACTIVE -> RESOLVED -> CLOSED
	steps := []domain.WorkItemState{
		domain.WorkItemActive,
		domain.WorkItemResolved,
		domain.WorkItemActive,
		domain.WorkItemResolved,
		domain.WorkItemClosed,
	}
	for _, to := range steps {
		if _, err := svc.Transition(ctx, item.ID, to); err != nil {
			t.Fatalf("Transition to %s failed: %v", to, err)
		}
	}

	final, _ := svc.Get(ctx, item.ID)
	if final.State != domain.WorkItemClosed {
		t.Errorf("Expected CLOSED, got %s", final.State)
	}
}

func TestTransition_IllegalJump(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	item, _ := svc.Create(ctx, &CreateRequest{Title: "Task", Priority: 2})

	// NEW -> RESOLVED is not a legal move
	_, err := svc.Transition(ctx, item.ID, domain.WorkItemResolved)
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("Expected ErrConflict, got %v", err)
	}
}

func TestTransition_ClosedIsTerminal(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	item, _ := svc.Create(ctx, &CreateRequest{Title: "Task", Priority: 2})
	if _, err := svc.Transition(ctx, item.ID, domain.WorkItemClosed); err != nil {
		t.Fatalf("Transition to CLOSED failed: %v", err)
	}

	for _, to := range []domain.WorkItemState{domain.WorkItemNew, domain.WorkItemActive, domain.WorkItemResolved} {
		if _, err := svc.Transition(ctx, item.ID, to); !errors.Is(err, domain.ErrConflict) {
			t.Fatalf("Expected ErrConflict reopening closed item to %s, got %v", to, err)
		}
	}
}

func TestUpdate_RejectsStateChange(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	item, _ := svc.Create(ctx, &CreateRequest{Title: "Task", Priority: 2})
	item.State = domain.WorkItemActive

	_, err := svc.Update(ctx, item)
	if !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("Expected ErrInvalidArgument, got %v", err)
	}
}

func TestSavedQueries(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	mk := func(title string, typ domain.WorkItemType, prio int, assignee string, tags ...string) {
		t.Helper()
		if _, err := svc.Create(ctx, &CreateRequest{
			Title: title, Type: typ, Priority: prio, AssignedTo: assignee, Tags: tags,
		}); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}

	mk("P1 bug", domain.WorkItemBug, 1, "alice", "auth")
	mk("P2 bug", domain.WorkItemBug, 2, "bob")
	mk("Story", domain.WorkItemUserStory, 1, "alice")

	if _, err := svc.SaveQuery(ctx, "urgent-bugs", domain.WorkItemCriteria{
		Type:        domain.WorkItemBug,
		MaxPriority: 1,
	}, "alice"); err != nil {
		t.Fatalf("SaveQuery failed: %v", err)
	}

	// Duplicate query names are rejected
	if _, err := svc.SaveQuery(ctx, "urgent-bugs", domain.WorkItemCriteria{}, "bob"); !errors.Is(err, domain.ErrAlreadyExists) {
		t.Fatalf("Expected ErrAlreadyExists, got %v", err)
	}

	items, err := svc.RunQuery(ctx, "urgent-bugs")
	if err != nil {
		t.Fatalf("RunQuery failed: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("Expected 1 match, got %d", len(items))
	}
	if items[0].Title != "P1 bug" {
		t.Errorf("Expected 'P1 bug', got %q", items[0].Title)
	}

	if _, err := svc.RunQuery(ctx, "no-such-query"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
}

func TestList_ByTagAndAssignee(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Create(ctx, &CreateRequest{Title: "A", Priority: 2, AssignedTo: "alice", Tags: []string{"auth"}}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := svc.Create(ctx, &CreateRequest{Title: "B", Priority: 2, AssignedTo: "alice"}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	items, err := svc.List(ctx, domain.WorkItemCriteria{AssignedTo: "alice", Tag: "auth"})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(items) != 1 {
		t.Errorf("Expected 1 item, got %d", len(items))
	}
}
