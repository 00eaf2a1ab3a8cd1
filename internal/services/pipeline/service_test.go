package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/devgrid/devgrid/internal/config"
	"github.com/devgrid/devgrid/internal/domain"
	"github.com/devgrid/devgrid/internal/repository/memory"
)

const validYAML = `
name: api-build
trigger:
  branches:
    - main
    - feature/*
  paths:
    - src/*
steps:
  - name: build
    script: go build ./...
  - name: test
    script: go test ./...
`

type stubApprovals struct {
	requests []*domain.ApprovalRequest
}

func (s *stubApprovals) RequestApproval(ctx context.Context, environmentID, deploymentID string, approvalType domain.ApprovalType, approvers []string) (*domain.ApprovalRequest, error) {
	req := &domain.ApprovalRequest{
		ID:            fmt.Sprintf("req-%d-%s", len(s.requests)+1, deploymentID),
		EnvironmentID: environmentID,
		DeploymentID:  deploymentID,
		Type:          approvalType,
		Approvers:     approvers,
		Status:        domain.ApprovalPending,
	}
	s.requests = append(s.requests, req)
	return req, nil
}

func newTestService(t *testing.T) (*Service, *stubApprovals) {
	t.Helper()
	approvals := &stubApprovals{}
	cfg := config.PipelineConfig{DefaultGateTimeout: time.Hour}
	svc := NewService(memory.NewPipelineRepository(), cfg, zap.NewNop()).WithApprovals(approvals)
	return svc, approvals
}

func TestParseDefinition(t *testing.T) {
	def, err := ParseDefinition(validYAML)
	if err != nil {
		t.Fatalf("ParseDefinition failed: %v", err)
	}

	if def.Name != "api-build" {
		t.Errorf("Expected name 'api-build', got %q", def.Name)
	}
	if len(def.Steps) != 2 {
		t.Errorf("Expected 2 steps, got %d", len(def.Steps))
	}

	triggers := def.Triggers()
	if !triggers.ContinuousIntegration {
		t.Error("Expected CI trigger to be implied by branch filters")
	}
	if len(triggers.BranchFilters) != 2 {
		t.Errorf("Expected 2 branch filters, got %d", len(triggers.BranchFilters))
	}
}

func TestParseDefinition_Invalid(t *testing.T) {
	cases := map[string]string{
		"no name":       "steps:\n  - name: build\n    script: make",
		"no steps":      "name: x",
		"unnamed step":  "name: x\nsteps:\n  - script: make",
		"empty script":  "name: x\nsteps:\n  - name: build",
		"not yaml":      "{{{",
	}

	for label, raw := range cases {
		if _, err := ParseDefinition(raw); !errors.Is(err, domain.ErrInvalidArgument) {
			t.Errorf("%s: expected ErrInvalidArgument, got %v", label, err)
		}
	}
}

func TestCreate_FromYAML(t *testing.T) {
	svc, _ := newTestService(t)

	pipeline, err := svc.Create(context.Background(), validYAML, "user-1")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if pipeline.Name != "api-build" {
		t.Errorf("Expected name from yaml, got %q", pipeline.Name)
	}
	if pipeline.Status != domain.PipelinePending {
		t.Errorf("Expected PENDING, got %s", pipeline.Status)
	}
}

func TestShouldTriggerOnPush_BranchGlobs(t *testing.T) {
	svc, _ := newTestService(t)

	pipeline := &domain.Pipeline{
		Triggers: domain.BuildTrigger{
			ContinuousIntegration: true,
			BranchFilters:         []string{"main", "feature/*"},
		},
	}

	cases := []struct {
		branch string
		want   bool
	}{
		{"main", true},
		{"feature/login", true},
		{"feature/", true},
		{"hotfix/crash", false},
		{"mainline", false},
	}

	for _, tc := range cases {
		if got := svc.ShouldTriggerOnPush(pipeline, tc.branch, nil); got != tc.want {
			t.Errorf("branch %q: expected %v, got %v", tc.branch, tc.want, got)
		}
	}
}

func TestShouldTriggerOnPush_PathFilters(t *testing.T) {
	svc, _ := newTestService(t)

	pipeline := &domain.Pipeline{
		Triggers: domain.BuildTrigger{
			ContinuousIntegration: true,
			BranchFilters:         []string{"main"},
			PathFilters:           []string{"src/*"},
		},
	}

	if svc.ShouldTriggerOnPush(pipeline, "main", []string{"docs/readme.md"}) {
		t.Error("Expected docs-only push not to trigger")
	}
	if !svc.ShouldTriggerOnPush(pipeline, "main", []string{"docs/readme.md", "src/main.go"}) {
		t.Error("Expected push touching src/ to trigger")
	}
}

func TestShouldTriggerOnPush_CIDisabled(t *testing.T) {
	svc, _ := newTestService(t)

	pipeline := &domain.Pipeline{
		Triggers: domain.BuildTrigger{BranchFilters: []string{"main"}},
	}
	if svc.ShouldTriggerOnPush(pipeline, "main", nil) {
		t.Error("Expected no trigger when CI is disabled")
	}
}

func TestStartRun_NoGates(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	pipeline, _ := svc.Create(ctx, validYAML, "user-1")

	run, err := svc.StartRun(ctx, pipeline.ID, "main", "user-1")
	if err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}
	if run.Status != domain.RunRunning {
		t.Errorf("Expected RUNNING, got %s", run.Status)
	}
}

func TestStartRun_ApprovalGateParksRun(t *testing.T) {
	svc, approvals := newTestService(t)
	ctx := context.Background()

	pipeline, _ := svc.Create(ctx, validYAML, "user-1")
	if _, err := svc.AddGate(ctx, pipeline.ID, domain.Gate{
		Name:             "prod-signoff",
		ApprovalRequired: true,
		Approvers:        []string{"approver-1", "approver-2"},
		EnvironmentID:    "env-prod",
	}); err != nil {
		t.Fatalf("AddGate failed: %v", err)
	}

	run, err := svc.StartRun(ctx, pipeline.ID, "main", "user-1")
	if err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}

	if run.Status != domain.RunPendingApproval {
		t.Errorf("Expected PENDING_APPROVAL, got %s", run.Status)
	}
	if run.ApprovalRequestID == "" {
		t.Error("Expected an approval request to be linked")
	}
	if len(approvals.requests) != 1 {
		t.Fatalf("Expected 1 approval request, got %d", len(approvals.requests))
	}
	if len(approvals.requests[0].Approvers) != 2 {
		t.Errorf("Expected gate approvers to carry over, got %v", approvals.requests[0].Approvers)
	}
}

func TestResumeRun_Approved(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	pipeline, _ := svc.Create(ctx, validYAML, "user-1")
	if _, err := svc.AddGate(ctx, pipeline.ID, domain.Gate{
		Name: "signoff", ApprovalRequired: true, Approvers: []string{"a"},
	}); err != nil {
		t.Fatalf("AddGate failed: %v", err)
	}

	run, _ := svc.StartRun(ctx, pipeline.ID, "main", "user-1")

	resumed, err := svc.ResumeRun(ctx, run.ApprovalRequestID, true)
	if err != nil {
		t.Fatalf("ResumeRun failed: %v", err)
	}
	if resumed.Status != domain.RunRunning {
		t.Errorf("Expected RUNNING after approval, got %s", resumed.Status)
	}

	// A second resume conflicts
	if _, err := svc.ResumeRun(ctx, run.ApprovalRequestID, true); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("Expected ErrConflict, got %v", err)
	}
}

func TestResumeRun_Rejected(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	pipeline, _ := svc.Create(ctx, validYAML, "user-1")
	if _, err := svc.AddGate(ctx, pipeline.ID, domain.Gate{
		Name: "signoff", ApprovalRequired: true, Approvers: []string{"a"},
	}); err != nil {
		t.Fatalf("AddGate failed: %v", err)
	}

	run, _ := svc.StartRun(ctx, pipeline.ID, "main", "user-1")

	resumed, err := svc.ResumeRun(ctx, run.ApprovalRequestID, false)
	if err != nil {
		t.Fatalf("ResumeRun failed: %v", err)
	}
	if resumed.Status != domain.RunFailed {
		t.Errorf("Expected FAILED after rejection, got %s", resumed.Status)
	}
	if resumed.FinishedAt == nil {
		t.Error("Expected finished timestamp on failed run")
	}
	last := resumed.GateResults[len(resumed.GateResults)-1]
	if last.Passed || last.Detail != "rejected" {
		t.Errorf("Expected rejected gate result, got %+v", last)
	}

	updated, _ := svc.Get(ctx, pipeline.ID)
	if updated.Status != domain.PipelineFailed {
		t.Errorf("Expected pipeline status FAILED, got %s", updated.Status)
	}
}

func TestResumeRun_ContinuesRemainingGates(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	pipeline, _ := svc.Create(ctx, validYAML, "user-1")
	if _, err := svc.AddGate(ctx, pipeline.ID, domain.Gate{
		Name: "signoff", ApprovalRequired: true, Approvers: []string{"a"},
	}); err != nil {
		t.Fatalf("AddGate failed: %v", err)
	}
	if _, err := svc.AddGate(ctx, pipeline.ID, domain.Gate{
		Name: "smoke-check", Condition: "smoke tests green",
	}); err != nil {
		t.Fatalf("AddGate failed: %v", err)
	}

	run, _ := svc.StartRun(ctx, pipeline.ID, "main", "user-1")
	if len(run.GateResults) != 1 {
		t.Fatalf("Expected the run parked on the first gate, got %d results", len(run.GateResults))
	}

	resumed, err := svc.ResumeRun(ctx, run.ApprovalRequestID, true)
	if err != nil {
		t.Fatalf("ResumeRun failed: %v", err)
	}
	if resumed.Status != domain.RunRunning {
		t.Errorf("Expected RUNNING after approval, got %s", resumed.Status)
	}
	if len(resumed.GateResults) != 2 {
		t.Fatalf("Expected the gate after the approval to be evaluated, got %d results", len(resumed.GateResults))
	}
	if !resumed.GateResults[0].Passed || resumed.GateResults[0].Detail != "approved" {
		t.Errorf("Expected approved gate result, got %+v", resumed.GateResults[0])
	}
	if resumed.GateResults[1].GateName != "smoke-check" || !resumed.GateResults[1].Passed {
		t.Errorf("Expected smoke-check evaluated after resume, got %+v", resumed.GateResults[1])
	}
}

func TestResumeRun_ParksAgainOnSecondApprovalGate(t *testing.T) {
	svc, approvals := newTestService(t)
	ctx := context.Background()

	pipeline, _ := svc.Create(ctx, validYAML, "user-1")
	for _, name := range []string{"staging-signoff", "prod-signoff"} {
		if _, err := svc.AddGate(ctx, pipeline.ID, domain.Gate{
			Name: name, ApprovalRequired: true, Approvers: []string{"a"},
		}); err != nil {
			t.Fatalf("AddGate failed: %v", err)
		}
	}

	run, _ := svc.StartRun(ctx, pipeline.ID, "main", "user-1")
	firstRequest := run.ApprovalRequestID

	resumed, err := svc.ResumeRun(ctx, firstRequest, true)
	if err != nil {
		t.Fatalf("ResumeRun failed: %v", err)
	}
	if resumed.Status != domain.RunPendingApproval {
		t.Errorf("Expected run parked on the second gate, got %s", resumed.Status)
	}
	if resumed.ApprovalRequestID == firstRequest {
		t.Error("Expected a fresh approval request for the second gate")
	}
	if len(approvals.requests) != 2 {
		t.Fatalf("Expected 2 approval requests, got %d", len(approvals.requests))
	}

	// Approving the second request lets the run through.
	final, err := svc.ResumeRun(ctx, resumed.ApprovalRequestID, true)
	if err != nil {
		t.Fatalf("ResumeRun failed: %v", err)
	}
	if final.Status != domain.RunRunning {
		t.Errorf("Expected RUNNING after both approvals, got %s", final.Status)
	}
}

func TestCompleteRun(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	pipeline, _ := svc.Create(ctx, validYAML, "user-1")
	run, _ := svc.StartRun(ctx, pipeline.ID, "main", "user-1")

	finished, err := svc.CompleteRun(ctx, run.ID, true)
	if err != nil {
		t.Fatalf("CompleteRun failed: %v", err)
	}
	if finished.Status != domain.RunSucceeded {
		t.Errorf("Expected SUCCEEDED, got %s", finished.Status)
	}

	updated, _ := svc.Get(ctx, pipeline.ID)
	if updated.Status != domain.PipelineSucceeded {
		t.Errorf("Expected pipeline status SUCCEEDED, got %s", updated.Status)
	}
}

func TestAddGate_ApprovalGateNeedsApprovers(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	pipeline, _ := svc.Create(ctx, validYAML, "user-1")

	_, err := svc.AddGate(ctx, pipeline.ID, domain.Gate{Name: "signoff", ApprovalRequired: true})
	if !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("Expected ErrInvalidArgument, got %v", err)
	}
}

func TestEvaluatePushTrigger(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Create(ctx, validYAML, "user-1"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	runs, err := svc.EvaluatePushTrigger(ctx, "feature/login", []string{"src/api.go"})
	if err != nil {
		t.Fatalf("EvaluatePushTrigger failed: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("Expected 1 triggered run, got %d", len(runs))
	}
	if runs[0].TriggeredBy != "ci" {
		t.Errorf("Expected run to be attributed to ci, got %q", runs[0].TriggeredBy)
	}

	runs, err = svc.EvaluatePushTrigger(ctx, "hotfix/crash", []string{"src/api.go"})
	if err != nil {
		t.Fatalf("EvaluatePushTrigger failed: %v", err)
	}
	if len(runs) != 0 {
		t.Errorf("Expected no runs for unmatched branch, got %d", len(runs))
	}
}

const scheduledYAML = `
name: nightly-build
trigger:
  branches:
    - release
  schedules:
    - "0 3 * * *"
steps:
  - name: build
    script: make
`

func TestEvaluateScheduledTriggers(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Create(ctx, scheduledYAML, "user-1"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	// A pipeline without schedules must never fire.
	if _, err := svc.Create(ctx, validYAML, "user-1"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	from := time.Date(2026, 1, 5, 2, 59, 0, 0, time.UTC)
	runs, err := svc.EvaluateScheduledTriggers(ctx, from, from.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("EvaluateScheduledTriggers failed: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("Expected 1 scheduled run, got %d", len(runs))
	}
	if runs[0].TriggeredBy != "schedule" {
		t.Errorf("Expected run attributed to schedule, got %q", runs[0].TriggeredBy)
	}
	if runs[0].Branch != "release" {
		t.Errorf("Expected scheduled run on release, got %q", runs[0].Branch)
	}

	runs, err = svc.EvaluateScheduledTriggers(ctx, from.Add(2*time.Minute), from.Add(4*time.Minute))
	if err != nil {
		t.Fatalf("EvaluateScheduledTriggers failed: %v", err)
	}
	if len(runs) != 0 {
		t.Errorf("Expected no runs outside the cron window, got %d", len(runs))
	}
}
