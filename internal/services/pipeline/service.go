// Package pipeline manages build pipelines: definitions, triggers, gates,
// and run bookkeeping. Runs do not execute anything; they record what an
// execution engine would do.
package pipeline

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/devgrid/devgrid/internal/config"
	"github.com/devgrid/devgrid/internal/domain"
)

// Repository defines the interface for pipeline and run data access.
type Repository interface {
	Create(ctx context.Context, pipeline *domain.Pipeline) (*domain.Pipeline, error)
	Get(ctx context.Context, id string) (*domain.Pipeline, error)
	List(ctx context.Context) ([]*domain.Pipeline, error)
	Update(ctx context.Context, pipeline *domain.Pipeline) (*domain.Pipeline, error)
	Delete(ctx context.Context, id string) error
	CreateRun(ctx context.Context, run *domain.PipelineRun) (*domain.PipelineRun, error)
	GetRun(ctx context.Context, id string) (*domain.PipelineRun, error)
	GetRunByApprovalRequest(ctx context.Context, requestID string) (*domain.PipelineRun, error)
	ListRuns(ctx context.Context, pipelineID string) ([]*domain.PipelineRun, error)
	UpdateRun(ctx context.Context, run *domain.PipelineRun) (*domain.PipelineRun, error)
}

// ApprovalRequester opens release approval requests for approval gates.
type ApprovalRequester interface {
	RequestApproval(ctx context.Context, environmentID, deploymentID string, approvalType domain.ApprovalType, approvers []string) (*domain.ApprovalRequest, error)
}

// EventPublisher publishes run lifecycle events.
type EventPublisher interface {
	PublishRunEvent(ctx context.Context, eventType string, run *domain.PipelineRun) error
}

// Service provides pipeline management functionality.
type Service struct {
	repo      Repository
	approvals ApprovalRequester
	events    EventPublisher
	cfg       config.PipelineConfig
	logger    *zap.Logger
}

// NewService creates a new pipeline service. The approvals and events
// dependencies are optional; without an ApprovalRequester, approval gates
// fail the run.
func NewService(repo Repository, cfg config.PipelineConfig, logger *zap.Logger) *Service {
	return &Service{
		repo:   repo,
		cfg:    cfg,
		logger: logger.With(zap.String("service", "pipeline")),
	}
}

// WithApprovals attaches the release approval requester.
func (s *Service) WithApprovals(approvals ApprovalRequester) *Service {
	s.approvals = approvals
	return s
}

// WithEvents attaches an event publisher.
func (s *Service) WithEvents(events EventPublisher) *Service {
	s.events = events
	return s
}

// Create creates a pipeline from a YAML definition.
func (s *Service) Create(ctx context.Context, rawYAML, createdBy string) (*domain.Pipeline, error) {
	def, err := ParseDefinition(rawYAML)
	if err != nil {
		return nil, err
	}

	pipeline := &domain.Pipeline{
		Name:        def.Name,
		YAML:        rawYAML,
		Triggers:    def.Triggers(),
		AgentPoolID: def.Pool,
		Status:      domain.PipelinePending,
		CreatedBy:   createdBy,
	}

	created, err := s.repo.Create(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}

	s.logger.Info("Pipeline created",
		zap.String("pipeline_id", created.ID),
		zap.String("name", created.Name),
		zap.Int("steps", len(def.Steps)),
	)
	return created, nil
}

// Get retrieves a pipeline by ID.
func (s *Service) Get(ctx context.Context, id string) (*domain.Pipeline, error) {
	return s.repo.Get(ctx, id)
}

// List returns all pipelines.
func (s *Service) List(ctx context.Context) ([]*domain.Pipeline, error) {
	return s.repo.List(ctx)
}

// Delete removes a pipeline.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.repo.Delete(ctx, id)
}

// AddGate attaches a gate to a pipeline. An approval gate must name at
// least one approver.
func (s *Service) AddGate(ctx context.Context, pipelineID string, gate domain.Gate) (*domain.Pipeline, error) {
	if gate.Name == "" {
		return nil, fmt.Errorf("gate name is required: %w", domain.ErrInvalidArgument)
	}
	if gate.ApprovalRequired && len(gate.Approvers) == 0 {
		return nil, fmt.Errorf("approval gate %q needs approvers: %w", gate.Name, domain.ErrInvalidArgument)
	}
	if gate.Timeout == 0 {
		gate.Timeout = s.cfg.DefaultGateTimeout
	}
	gate.ID = uuid.New().String()
	gate.Enabled = true

	pipeline, err := s.repo.Get(ctx, pipelineID)
	if err != nil {
		return nil, err
	}

	for _, g := range pipeline.Gates {
		if g.Name == gate.Name {
			return nil, fmt.Errorf("gate %q already exists: %w", gate.Name, domain.ErrAlreadyExists)
		}
	}

	pipeline.Gates = append(pipeline.Gates, gate)
	return s.repo.Update(ctx, pipeline)
}

// =============================================================================
// Trigger evaluation
// =============================================================================

// matchesFilter reports whether a value matches any of the glob filters.
// An empty filter list matches everything.
func matchesFilter(filters []string, value string) bool {
	if len(filters) == 0 {
		return true
	}
	for _, f := range filters {
		if ok, _ := path.Match(f, value); ok {
			return true
		}
		if f == value {
			return true
		}
	}
	return false
}

// ShouldTriggerOnPush reports whether a push to the branch with the given
// changed paths should start a run.
func (s *Service) ShouldTriggerOnPush(pipeline *domain.Pipeline, branch string, changedPaths []string) bool {
	if !pipeline.Triggers.ContinuousIntegration {
		return false
	}
	if !matchesFilter(pipeline.Triggers.BranchFilters, branch) {
		return false
	}
	if len(pipeline.Triggers.PathFilters) == 0 {
		return true
	}
	for _, p := range changedPaths {
		if matchesFilter(pipeline.Triggers.PathFilters, p) {
			return true
		}
	}
	return false
}

// EvaluatePushTrigger starts runs for every pipeline whose CI trigger
// matches the push.
func (s *Service) EvaluatePushTrigger(ctx context.Context, branch string, changedPaths []string) ([]*domain.PipelineRun, error) {
	pipelines, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}

	var runs []*domain.PipelineRun
	for _, p := range pipelines {
		if !s.ShouldTriggerOnPush(p, branch, changedPaths) {
			continue
		}
		run, err := s.StartRun(ctx, p.ID, branch, "ci")
		if err != nil {
			s.logger.Warn("Failed to start triggered run",
				zap.String("pipeline_id", p.ID), zap.Error(err))
			continue
		}
		runs = append(runs, run)
	}

	return runs, nil
}

// scheduleBranch picks the branch a scheduled run builds: the first literal
// branch filter, or main when every filter is a glob.
func scheduleBranch(pipeline *domain.Pipeline) string {
	for _, f := range pipeline.Triggers.BranchFilters {
		if !strings.ContainsAny(f, "*?[") {
			return f
		}
	}
	return "main"
}

// EvaluateScheduledTriggers starts runs for every pipeline with a cron
// schedule that fires in the (from, to] window. Invalid cron expressions
// are logged and skipped. At most one run per pipeline per window.
func (s *Service) EvaluateScheduledTriggers(ctx context.Context, from, to time.Time) ([]*domain.PipelineRun, error) {
	pipelines, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}

	var runs []*domain.PipelineRun
	for _, p := range pipelines {
		due := false
		for _, spec := range p.Triggers.ScheduledTriggers {
			sched, err := cron.ParseStandard(spec)
			if err != nil {
				s.logger.Warn("Invalid cron schedule",
					zap.String("pipeline_id", p.ID),
					zap.String("schedule", spec),
					zap.Error(err))
				continue
			}
			if next := sched.Next(from); !next.After(to) {
				due = true
				break
			}
		}
		if !due {
			continue
		}

		run, err := s.StartRun(ctx, p.ID, scheduleBranch(p), "schedule")
		if err != nil {
			s.logger.Warn("Failed to start scheduled run",
				zap.String("pipeline_id", p.ID), zap.Error(err))
			continue
		}
		runs = append(runs, run)
	}

	return runs, nil
}

// =============================================================================
// Runs
// =============================================================================

// StartRun starts a run and evaluates the pipeline's gates. A disabled gate
// is skipped. An approval gate opens a release approval request and parks
// the run in PENDING_APPROVAL until the request resolves. With no blocking
// gate the run proceeds to RUNNING.
func (s *Service) StartRun(ctx context.Context, pipelineID, branch, triggeredBy string) (*domain.PipelineRun, error) {
	pipeline, err := s.repo.Get(ctx, pipelineID)
	if err != nil {
		return nil, err
	}

	run := &domain.PipelineRun{
		PipelineID:  pipelineID,
		Branch:      branch,
		Status:      domain.RunPending,
		TriggeredBy: triggeredBy,
		StartedAt:   time.Now(),
	}

	run, err = s.repo.CreateRun(ctx, run)
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}

	return s.advanceThroughGates(ctx, pipeline, run, pipeline.Gates, "run.started")
}

// advanceThroughGates evaluates gates in order, recording a result per gate.
// A disabled gate is skipped. An approval gate opens a release approval
// request and parks the run in PENDING_APPROVAL. Once no blocking gate
// remains the run moves to RUNNING and runningEvent is published.
func (s *Service) advanceThroughGates(ctx context.Context, pipeline *domain.Pipeline, run *domain.PipelineRun, gates []domain.Gate, runningEvent string) (*domain.PipelineRun, error) {
	for _, gate := range gates {
		if !gate.Enabled {
			continue
		}

		if gate.ApprovalRequired {
			if s.approvals == nil {
				run.Status = domain.RunFailed
				run.GateResults = append(run.GateResults, domain.GateResult{
					GateID:    gate.ID,
					GateName:  gate.Name,
					Passed:    false,
					Detail:    "no approval backend configured",
					CheckedAt: time.Now(),
				})
				return s.finishRun(ctx, run)
			}

			req, err := s.approvals.RequestApproval(ctx, gate.EnvironmentID, run.ID, domain.ApprovalPreDeployment, gate.Approvers)
			if err != nil {
				return nil, fmt.Errorf("failed to open approval request: %w", err)
			}

			run.Status = domain.RunPendingApproval
			run.ApprovalRequestID = req.ID
			run.GateResults = append(run.GateResults, domain.GateResult{
				GateID:    gate.ID,
				GateName:  gate.Name,
				Passed:    false,
				Detail:    "awaiting approval",
				CheckedAt: time.Now(),
			})

			updated, err := s.repo.UpdateRun(ctx, run)
			if err != nil {
				return nil, fmt.Errorf("failed to park run: %w", err)
			}

			s.logger.Info("Run parked on approval gate",
				zap.String("run_id", run.ID),
				zap.String("gate", gate.Name),
				zap.String("approval_request_id", req.ID),
			)
			s.publish(ctx, "run.pending_approval", updated)
			return updated, nil
		}

		run.GateResults = append(run.GateResults, domain.GateResult{
			GateID:    gate.ID,
			GateName:  gate.Name,
			Passed:    true,
			CheckedAt: time.Now(),
		})
	}

	run.Status = domain.RunRunning
	updated, err := s.repo.UpdateRun(ctx, run)
	if err != nil {
		return nil, fmt.Errorf("failed to start run: %w", err)
	}

	now := updated.StartedAt
	pipeline.Status = domain.PipelineRunning
	pipeline.LastRunAt = &now
	if _, err := s.repo.Update(ctx, pipeline); err != nil {
		s.logger.Warn("Failed to update pipeline status", zap.Error(err))
	}

	s.logger.Info("Run started",
		zap.String("run_id", updated.ID),
		zap.String("pipeline_id", pipeline.ID),
		zap.String("branch", updated.Branch),
	)
	s.publish(ctx, runningEvent, updated)
	return updated, nil
}

// gatesAfter returns the gates positioned after the gate with the given ID.
func gatesAfter(gates []domain.Gate, gateID string) []domain.Gate {
	for i, g := range gates {
		if g.ID == gateID {
			return gates[i+1:]
		}
	}
	return nil
}

// ResumeRun resumes a run parked on an approval request once the request has
// resolved. Approval marks the parked gate passed and continues evaluating
// the gates after it, so the run may park again on a later approval gate or
// proceed to RUNNING. Rejection fails the run.
func (s *Service) ResumeRun(ctx context.Context, approvalRequestID string, approved bool) (*domain.PipelineRun, error) {
	run, err := s.repo.GetRunByApprovalRequest(ctx, approvalRequestID)
	if err != nil {
		return nil, fmt.Errorf("no run for approval request %q: %w", approvalRequestID, err)
	}
	if run.Status != domain.RunPendingApproval {
		return nil, fmt.Errorf("run is %s: %w", run.Status, domain.ErrConflict)
	}
	if len(run.GateResults) == 0 {
		return nil, fmt.Errorf("run %s has no parked gate: %w", run.ID, domain.ErrConflict)
	}

	parked := &run.GateResults[len(run.GateResults)-1]
	now := time.Now()
	parked.CheckedAt = now

	if !approved {
		parked.Detail = "rejected"
		run.Status = domain.RunFailed
		run.FinishedAt = &now

		updated, err := s.repo.UpdateRun(ctx, run)
		if err != nil {
			return nil, fmt.Errorf("failed to fail run: %w", err)
		}
		if pipeline, err := s.repo.Get(ctx, run.PipelineID); err == nil {
			pipeline.Status = domain.PipelineFailed
			if _, err := s.repo.Update(ctx, pipeline); err != nil {
				s.logger.Warn("Failed to update pipeline status", zap.Error(err))
			}
		}

		s.logger.Info("Run failed on rejected approval",
			zap.String("run_id", run.ID),
			zap.String("gate", parked.GateName),
		)
		s.publish(ctx, "run.failed", updated)
		return updated, nil
	}

	parked.Passed = true
	parked.Detail = "approved"

	pipeline, err := s.repo.Get(ctx, run.PipelineID)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Run resumed",
		zap.String("run_id", run.ID),
		zap.String("gate", parked.GateName),
	)
	return s.advanceThroughGates(ctx, pipeline, run, gatesAfter(pipeline.Gates, parked.GateID), "run.resumed")
}

// CompleteRun records the terminal result of a running run.
func (s *Service) CompleteRun(ctx context.Context, runID string, succeeded bool) (*domain.PipelineRun, error) {
	run, err := s.repo.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status != domain.RunRunning {
		return nil, fmt.Errorf("run is %s: %w", run.Status, domain.ErrConflict)
	}

	now := time.Now()
	run.FinishedAt = &now
	if succeeded {
		run.Status = domain.RunSucceeded
	} else {
		run.Status = domain.RunFailed
	}

	updated, err := s.repo.UpdateRun(ctx, run)
	if err != nil {
		return nil, fmt.Errorf("failed to complete run: %w", err)
	}

	if pipeline, err := s.repo.Get(ctx, run.PipelineID); err == nil {
		if succeeded {
			pipeline.Status = domain.PipelineSucceeded
		} else {
			pipeline.Status = domain.PipelineFailed
		}
		if _, err := s.repo.Update(ctx, pipeline); err != nil {
			s.logger.Warn("Failed to update pipeline status", zap.Error(err))
		}
	}

	s.publish(ctx, "run.finished", updated)
	return updated, nil
}

// GetRun retrieves a run by ID.
func (s *Service) GetRun(ctx context.Context, id string) (*domain.PipelineRun, error) {
	return s.repo.GetRun(ctx, id)
}

// ListRuns returns runs for a pipeline.
func (s *Service) ListRuns(ctx context.Context, pipelineID string) ([]*domain.PipelineRun, error) {
	return s.repo.ListRuns(ctx, pipelineID)
}

func (s *Service) finishRun(ctx context.Context, run *domain.PipelineRun) (*domain.PipelineRun, error) {
	now := time.Now()
	run.FinishedAt = &now
	updated, err := s.repo.UpdateRun(ctx, run)
	if err != nil {
		return nil, fmt.Errorf("failed to finish run: %w", err)
	}
	s.publish(ctx, "run.finished", updated)
	return updated, nil
}

func (s *Service) publish(ctx context.Context, eventType string, run *domain.PipelineRun) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishRunEvent(ctx, eventType, run); err != nil {
		s.logger.Warn("Failed to publish event", zap.String("type", eventType), zap.Error(err))
	}
}
