package release

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/devgrid/devgrid/internal/domain"
)

// Repository defines the interface for release data access.
type Repository interface {
	CreateEnvironment(ctx context.Context, env *domain.Environment) (*domain.Environment, error)
	GetEnvironment(ctx context.Context, id string) (*domain.Environment, error)
	GetEnvironmentByName(ctx context.Context, name string) (*domain.Environment, error)
	ListEnvironments(ctx context.Context) ([]*domain.Environment, error)
	UpdateEnvironment(ctx context.Context, env *domain.Environment) (*domain.Environment, error)
	DeleteEnvironment(ctx context.Context, id string) error
	CreateRequest(ctx context.Context, req *domain.ApprovalRequest) (*domain.ApprovalRequest, error)
	GetRequest(ctx context.Context, id string) (*domain.ApprovalRequest, error)
	ListRequests(ctx context.Context, environmentID string, status domain.ApprovalStatus) ([]*domain.ApprovalRequest, error)
	UpdateRequest(ctx context.Context, req *domain.ApprovalRequest) (*domain.ApprovalRequest, error)
}

// UserRepository resolves approver user IDs.
type UserRepository interface {
	Get(ctx context.Context, id string) (*domain.User, error)
}

// RunResumer continues or cancels a parked pipeline run once its approval
// request resolves.
type RunResumer interface {
	ResumeRun(ctx context.Context, approvalRequestID string, approved bool) (*domain.PipelineRun, error)
}

// EventPublisher publishes approval lifecycle events.
type EventPublisher interface {
	PublishApprovalEvent(ctx context.Context, eventType string, req *domain.ApprovalRequest) error
}

// Service manages deployment environments and their approval workflow.
type Service struct {
	repo    Repository
	users   UserRepository
	resumer RunResumer
	events  EventPublisher
	logger  *zap.Logger
}

// NewService creates a new release service.
func NewService(repo Repository, users UserRepository, logger *zap.Logger) *Service {
	return &Service{
		repo:   repo,
		users:  users,
		logger: logger.With(zap.String("service", "release")),
	}
}

// WithRunResumer wires pipeline run resumption into approval resolution.
func (s *Service) WithRunResumer(resumer RunResumer) *Service {
	s.resumer = resumer
	return s
}

// WithEvents enables event publishing.
func (s *Service) WithEvents(events EventPublisher) *Service {
	s.events = events
	return s
}

// =============================================================================
// Environments
// =============================================================================

// CreateEnvironment creates a deployment environment.
func (s *Service) CreateEnvironment(ctx context.Context, name, description string) (*domain.Environment, error) {
	if name == "" {
		return nil, fmt.Errorf("environment name is required: %w", domain.ErrInvalidArgument)
	}

	env, err := s.repo.CreateEnvironment(ctx, &domain.Environment{
		Name:        name,
		Description: description,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create environment: %w", err)
	}

	s.logger.Info("Environment created", zap.String("environment_id", env.ID), zap.String("name", name))
	return env, nil
}

// GetEnvironment retrieves an environment by ID.
func (s *Service) GetEnvironment(ctx context.Context, id string) (*domain.Environment, error) {
	return s.repo.GetEnvironment(ctx, id)
}

// GetEnvironmentByName retrieves an environment by name.
func (s *Service) GetEnvironmentByName(ctx context.Context, name string) (*domain.Environment, error) {
	return s.repo.GetEnvironmentByName(ctx, name)
}

// ListEnvironments returns all environments.
func (s *Service) ListEnvironments(ctx context.Context) ([]*domain.Environment, error) {
	return s.repo.ListEnvironments(ctx)
}

// DeleteEnvironment removes an environment.
func (s *Service) DeleteEnvironment(ctx context.Context, id string) error {
	return s.repo.DeleteEnvironment(ctx, id)
}

// AddApprover designates a user as a pre- or post-deployment approver on an
// environment. Adding the same approver twice is a no-op.
func (s *Service) AddApprover(ctx context.Context, environmentID, userID string, approvalType domain.ApprovalType) (*domain.Environment, error) {
	if _, err := s.users.Get(ctx, userID); err != nil {
		return nil, fmt.Errorf("approver %q: %w", userID, err)
	}

	env, err := s.repo.GetEnvironment(ctx, environmentID)
	if err != nil {
		return nil, err
	}

	for _, a := range env.Approvers {
		if a.UserID == userID && a.Type == approvalType {
			return env, nil
		}
	}

	env.Approvers = append(env.Approvers, domain.Approver{UserID: userID, Type: approvalType})
	updated, err := s.repo.UpdateEnvironment(ctx, env)
	if err != nil {
		return nil, fmt.Errorf("failed to update environment: %w", err)
	}

	s.logger.Info("Approver added",
		zap.String("environment_id", environmentID),
		zap.String("user_id", userID),
		zap.String("type", string(approvalType)),
	)
	return updated, nil
}

// RemoveApprover removes an approver designation from an environment.
func (s *Service) RemoveApprover(ctx context.Context, environmentID, userID string, approvalType domain.ApprovalType) (*domain.Environment, error) {
	env, err := s.repo.GetEnvironment(ctx, environmentID)
	if err != nil {
		return nil, err
	}

	kept := env.Approvers[:0]
	for _, a := range env.Approvers {
		if a.UserID == userID && a.Type == approvalType {
			continue
		}
		kept = append(kept, a)
	}
	env.Approvers = kept

	return s.repo.UpdateEnvironment(ctx, env)
}

// =============================================================================
// Approval requests
// =============================================================================

// RequestApproval opens an approval request for a deployment. When no
// approvers are passed explicitly, the environment's designated approvers
// of the matching type are used. The approver set is fixed at creation.
func (s *Service) RequestApproval(ctx context.Context, environmentID, deploymentID string, approvalType domain.ApprovalType, approvers []string) (*domain.ApprovalRequest, error) {
	if len(approvers) == 0 && environmentID != "" {
		env, err := s.repo.GetEnvironment(ctx, environmentID)
		if err != nil {
			return nil, fmt.Errorf("environment %q: %w", environmentID, err)
		}
		approvers = env.ApproversOfType(approvalType)
	}
	if len(approvers) == 0 {
		return nil, fmt.Errorf("approval request needs at least one approver: %w", domain.ErrInvalidArgument)
	}

	req, err := s.repo.CreateRequest(ctx, &domain.ApprovalRequest{
		EnvironmentID: environmentID,
		DeploymentID:  deploymentID,
		Type:          approvalType,
		Approvers:     dedupe(approvers),
		Status:        domain.ApprovalPending,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create approval request: %w", err)
	}

	s.logger.Info("Approval requested",
		zap.String("request_id", req.ID),
		zap.String("environment_id", environmentID),
		zap.String("deployment_id", deploymentID),
		zap.Int("approvers", len(req.Approvers)),
	)
	s.publishEvent(ctx, "approval.requested", req)
	return req, nil
}

// GetRequest retrieves an approval request by ID.
func (s *Service) GetRequest(ctx context.Context, id string) (*domain.ApprovalRequest, error) {
	return s.repo.GetRequest(ctx, id)
}

// ListRequests returns approval requests, optionally filtered by environment
// and status.
func (s *Service) ListRequests(ctx context.Context, environmentID string, status domain.ApprovalStatus) ([]*domain.ApprovalRequest, error) {
	return s.repo.ListRequests(ctx, environmentID, status)
}

// ListPendingFor returns pending requests awaiting a response from the user.
func (s *Service) ListPendingFor(ctx context.Context, userID string) ([]*domain.ApprovalRequest, error) {
	pending, err := s.repo.ListRequests(ctx, "", domain.ApprovalPending)
	if err != nil {
		return nil, err
	}

	var result []*domain.ApprovalRequest
	for _, req := range pending {
		if !req.IsApprover(userID) {
			continue
		}
		if _, responded := req.ResponseOf(userID); responded {
			continue
		}
		result = append(result, req)
	}
	return result, nil
}

// Respond records one approver's decision. Only listed approvers may respond,
// and only while the request is pending. A repeated response from the same
// approver overwrites the earlier one. The request stays PENDING until every
// approver has responded; it then resolves to APPROVED when all responses
// are approvals and REJECTED otherwise.
func (s *Service) Respond(ctx context.Context, requestID, userID string, decision domain.ApprovalDecision, comment string) (*domain.ApprovalRequest, error) {
	req, err := s.repo.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}

	if req.Status != domain.ApprovalPending {
		return nil, fmt.Errorf("approval request is already %s: %w", req.Status, domain.ErrConflict)
	}
	if !req.IsApprover(userID) {
		return nil, fmt.Errorf("user %q is not an approver on this request: %w", userID, domain.ErrPermissionDenied)
	}
	if decision != domain.DecisionApproved && decision != domain.DecisionRejected {
		return nil, fmt.Errorf("invalid decision %q: %w", decision, domain.ErrInvalidArgument)
	}

	response := domain.ApprovalResponse{
		ApproverID:  userID,
		Decision:    decision,
		Comment:     comment,
		RespondedAt: time.Now(),
	}

	replaced := false
	for i, r := range req.Responses {
		if r.ApproverID == userID {
			req.Responses[i] = response
			replaced = true
			break
		}
	}
	if !replaced {
		req.Responses = append(req.Responses, response)
	}

	if req.AllResponded() {
		req.Status = req.Resolve()
		now := time.Now()
		req.ResolvedAt = &now
	}

	updated, err := s.repo.UpdateRequest(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to update approval request: %w", err)
	}

	s.logger.Info("Approval response recorded",
		zap.String("request_id", requestID),
		zap.String("user_id", userID),
		zap.String("decision", string(decision)),
		zap.String("status", string(updated.Status)),
	)

	if updated.Status != domain.ApprovalPending {
		s.onResolved(ctx, updated)
	}
	return updated, nil
}

// onResolved resumes or cancels the parked pipeline run and publishes the
// terminal event.
func (s *Service) onResolved(ctx context.Context, req *domain.ApprovalRequest) {
	eventType := "approval.approved"
	if req.Status == domain.ApprovalRejected {
		eventType = "approval.rejected"
	}
	s.publishEvent(ctx, eventType, req)

	if s.resumer == nil {
		return
	}
	if _, err := s.resumer.ResumeRun(ctx, req.ID, req.Status == domain.ApprovalApproved); err != nil {
		s.logger.Warn("Failed to resume run for resolved approval",
			zap.String("request_id", req.ID),
			zap.Error(err),
		)
	}
}

func (s *Service) publishEvent(ctx context.Context, eventType string, req *domain.ApprovalRequest) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishApprovalEvent(ctx, eventType, req); err != nil {
		s.logger.Warn("Failed to publish event", zap.String("type", eventType), zap.Error(err))
	}
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	result := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		result = append(result, id)
	}
	return result
}
