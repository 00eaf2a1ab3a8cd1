// Package pullrequest implements the pull request lifecycle: creation,
// review, completion, and abandonment.
package pullrequest

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/devgrid/devgrid/internal/config"
	"github.com/devgrid/devgrid/internal/domain"
)

// Repository defines the interface for pull request data access.
type Repository interface {
	Create(ctx context.Context, pr *domain.PullRequest) (*domain.PullRequest, error)
	Get(ctx context.Context, id string) (*domain.PullRequest, error)
	List(ctx context.Context, status domain.PullRequestStatus, targetBranch string) ([]*domain.PullRequest, error)
	Update(ctx context.Context, pr *domain.PullRequest) (*domain.PullRequest, error)
	Delete(ctx context.Context, id string) error
}

// BranchRepository is the subset of branch access needed for merges.
type BranchRepository interface {
	GetByName(ctx context.Context, name string) (*domain.Branch, error)
	AppendCommit(ctx context.Context, id, message string) error
}

// UserRepository resolves actors for permission checks.
type UserRepository interface {
	Get(ctx context.Context, id string) (*domain.User, error)
}

// WorkItemRepository is used to resolve and close linked work items.
type WorkItemRepository interface {
	Get(ctx context.Context, id string) (*domain.WorkItem, error)
	Update(ctx context.Context, item *domain.WorkItem) (*domain.WorkItem, error)
}

// PermissionChecker resolves branch security decisions for an actor.
type PermissionChecker interface {
	EffectivePermission(ctx context.Context, branchID string, user *domain.User, action domain.BranchAction) (bool, error)
}

// Cache is an optional read-through cache for pull request lookups.
type Cache interface {
	GetPullRequest(ctx context.Context, id string) (*domain.PullRequest, error)
	SetPullRequest(ctx context.Context, pr *domain.PullRequest) error
	InvalidatePullRequest(ctx context.Context, id string) error
}

// EventPublisher publishes pull request lifecycle events.
type EventPublisher interface {
	PublishPullRequestEvent(ctx context.Context, eventType string, pr *domain.PullRequest) error
}

// Locker serializes completion per target branch across replicas.
type Locker interface {
	TryAcquireLock(ctx context.Context, key string, timeout time.Duration) (Unlocker, error)
}

// Unlocker releases a held lock.
type Unlocker interface {
	Unlock(ctx context.Context) error
}

// AuditRecorder records audit entries for pull request operations.
type AuditRecorder interface {
	Record(ctx context.Context, entry *domain.AuditEntry) error
}

// Service provides pull request lifecycle management.
type Service struct {
	repo      Repository
	branches  BranchRepository
	users     UserRepository
	workItems WorkItemRepository
	perms     PermissionChecker
	cache     Cache
	events    EventPublisher
	locker    Locker
	audit     AuditRecorder
	policy    config.PolicyConfig
	logger    *zap.Logger
}

// NewService creates a new pull request service. The events, locker,
// workItems and audit dependencies are optional.
func NewService(
	repo Repository,
	branches BranchRepository,
	users UserRepository,
	policy config.PolicyConfig,
	logger *zap.Logger,
) *Service {
	return &Service{
		repo:     repo,
		branches: branches,
		users:    users,
		policy:   policy,
		logger:   logger.With(zap.String("service", "pullrequest")),
	}
}

// WithEvents attaches an event publisher.
func (s *Service) WithEvents(events EventPublisher) *Service {
	s.events = events
	return s
}

// WithLocker attaches a distributed locker for completion.
func (s *Service) WithLocker(locker Locker) *Service {
	s.locker = locker
	return s
}

// WithWorkItems attaches a work item repository for link resolution.
func (s *Service) WithWorkItems(workItems WorkItemRepository) *Service {
	s.workItems = workItems
	return s
}

// WithAudit attaches an audit recorder.
func (s *Service) WithAudit(audit AuditRecorder) *Service {
	s.audit = audit
	return s
}

// WithPermissions attaches a branch security resolver. Without one, creation
// falls back to role checks only.
func (s *Service) WithPermissions(perms PermissionChecker) *Service {
	s.perms = perms
	return s
}

// WithCache attaches a read-through cache for lookups.
func (s *Service) WithCache(cache Cache) *Service {
	s.cache = cache
	return s
}

// CreateRequest holds the inputs for creating a pull request.
type CreateRequest struct {
	Title        string
	Description  string
	SourceBranch string
	TargetBranch string
	AuthorID     string
	Reviewers    []string
}

// Create opens a new pull request in the ACTIVE state.
func (s *Service) Create(ctx context.Context, req *CreateRequest) (*domain.PullRequest, error) {
	if req.Title == "" {
		return nil, fmt.Errorf("title is required: %w", domain.ErrInvalidArgument)
	}
	if req.SourceBranch == req.TargetBranch {
		return nil, fmt.Errorf("source and target branch must differ: %w", domain.ErrInvalidArgument)
	}

	if _, err := s.branches.GetByName(ctx, req.SourceBranch); err != nil {
		return nil, fmt.Errorf("source branch %q: %w", req.SourceBranch, err)
	}
	target, err := s.branches.GetByName(ctx, req.TargetBranch)
	if err != nil {
		return nil, fmt.Errorf("target branch %q: %w", req.TargetBranch, err)
	}

	author, err := s.users.Get(ctx, req.AuthorID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve author: %w", err)
	}
	if !author.CanContribute() {
		return nil, fmt.Errorf("user %q cannot open pull requests: %w", author.Username, domain.ErrPermissionDenied)
	}

	// Branch security on the target: an explicit read DENY blocks the PR
	// regardless of the author's roles.
	if s.perms != nil {
		allowed, err := s.perms.EffectivePermission(ctx, target.ID, author, domain.BranchActionRead)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve branch permission: %w", err)
		}
		if !allowed {
			return nil, fmt.Errorf("user %q may not target branch %q: %w",
				author.Username, target.Name, domain.ErrPermissionDenied)
		}
	}

	reviewers := dedupe(req.Reviewers)
	if len(reviewers) == 0 && target.Policy != nil {
		reviewers = dedupe(target.Policy.DefaultReviewers)
	}
	// A target policy requiring review needs at least the minimum reviewer
	// count assigned up front.
	if target.Policy != nil && target.Policy.RequireCodeReview && len(reviewers) < target.Policy.MinimumReviewers {
		return nil, fmt.Errorf("target branch requires at least %d reviewers: %w",
			target.Policy.MinimumReviewers, domain.ErrInvalidArgument)
	}

	pr := &domain.PullRequest{
		Title:        req.Title,
		Description:  req.Description,
		SourceBranch: req.SourceBranch,
		TargetBranch: req.TargetBranch,
		AuthorID:     req.AuthorID,
		Status:       domain.PullRequestActive,
		Reviewers:    reviewers,
		Approvals:    []string{},
	}

	created, err := s.repo.Create(ctx, pr)
	if err != nil {
		return nil, fmt.Errorf("failed to create pull request: %w", err)
	}

	s.logger.Info("Pull request created",
		zap.String("pr_id", created.ID),
		zap.String("source", created.SourceBranch),
		zap.String("target", created.TargetBranch),
		zap.Int("reviewers", len(created.Reviewers)),
	)
	s.publish(ctx, "pr.created", created)
	s.recordAudit(ctx, req.AuthorID, domain.AuditActionCreate, created)

	return created, nil
}

// Get retrieves a pull request by ID, serving from cache when possible.
func (s *Service) Get(ctx context.Context, id string) (*domain.PullRequest, error) {
	if s.cache != nil {
		if pr, err := s.cache.GetPullRequest(ctx, id); err == nil {
			return pr, nil
		}
	}

	pr, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.SetPullRequest(ctx, pr); err != nil {
			s.logger.Warn("Failed to cache pull request", zap.Error(err))
		}
	}
	return pr, nil
}

// update persists a pull request and drops any cached copy.
func (s *Service) update(ctx context.Context, pr *domain.PullRequest) (*domain.PullRequest, error) {
	updated, err := s.repo.Update(ctx, pr)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.InvalidatePullRequest(ctx, updated.ID); err != nil {
			s.logger.Warn("Failed to invalidate cached pull request", zap.Error(err))
		}
	}
	return updated, nil
}

// List returns pull requests, optionally filtered by status and target branch.
func (s *Service) List(ctx context.Context, status domain.PullRequestStatus, targetBranch string) ([]*domain.PullRequest, error) {
	return s.repo.List(ctx, status, targetBranch)
}

// AddReviewer adds a reviewer to an active pull request.
func (s *Service) AddReviewer(ctx context.Context, id, reviewerID string) (*domain.PullRequest, error) {
	pr, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if pr.Status != domain.PullRequestActive {
		return nil, fmt.Errorf("pull request is %s: %w", pr.Status, domain.ErrConflict)
	}
	if pr.IsReviewer(reviewerID) {
		return pr, nil
	}

	pr.Reviewers = append(pr.Reviewers, reviewerID)
	return s.update(ctx, pr)
}

// Approve records a reviewer's approval. Only listed reviewers may approve,
// and a repeated approval from the same reviewer is a no-op.
func (s *Service) Approve(ctx context.Context, id, reviewerID string) (*domain.PullRequest, error) {
	pr, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if pr.Status != domain.PullRequestActive {
		return nil, fmt.Errorf("pull request is %s: %w", pr.Status, domain.ErrConflict)
	}
	if !pr.IsReviewer(reviewerID) {
		return nil, fmt.Errorf("user %q is not a reviewer: %w", reviewerID, domain.ErrPermissionDenied)
	}
	if pr.HasApproved(reviewerID) {
		return pr, nil
	}

	pr.Approvals = append(pr.Approvals, reviewerID)

	updated, err := s.update(ctx, pr)
	if err != nil {
		return nil, fmt.Errorf("failed to record approval: %w", err)
	}

	s.logger.Info("Pull request approved",
		zap.String("pr_id", id),
		zap.String("reviewer", reviewerID),
		zap.Int("approvals", len(updated.Approvals)),
		zap.Int("reviewers", len(updated.Reviewers)),
	)
	s.publish(ctx, "pr.approved", updated)
	s.recordAudit(ctx, reviewerID, domain.AuditActionApprove, updated)

	return updated, nil
}

// RevokeApproval withdraws a reviewer's approval while the request is active.
func (s *Service) RevokeApproval(ctx context.Context, id, reviewerID string) (*domain.PullRequest, error) {
	pr, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if pr.Status != domain.PullRequestActive {
		return nil, fmt.Errorf("pull request is %s: %w", pr.Status, domain.ErrConflict)
	}

	for i, a := range pr.Approvals {
		if a == reviewerID {
			pr.Approvals = append(pr.Approvals[:i], pr.Approvals[i+1:]...)
			return s.update(ctx, pr)
		}
	}
	return pr, nil
}

// Complete merges an active, fully approved pull request. The target branch
// must be unlocked, every reviewer must have approved, and a protected
// target additionally requires the actor to be an admin.
func (s *Service) Complete(ctx context.Context, id, actorID string) (*domain.PullRequest, error) {
	pr, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if pr.Status != domain.PullRequestActive {
		return nil, fmt.Errorf("pull request is %s: %w", pr.Status, domain.ErrConflict)
	}

	if s.locker != nil {
		lock, err := s.locker.TryAcquireLock(ctx, "branch/"+pr.TargetBranch, 10*time.Second)
		if err != nil {
			return nil, fmt.Errorf("failed to lock target branch: %w", err)
		}
		defer lock.Unlock(ctx)
	}

	target, err := s.branches.GetByName(ctx, pr.TargetBranch)
	if err != nil {
		return nil, fmt.Errorf("target branch %q: %w", pr.TargetBranch, err)
	}
	if target.Locked() {
		return nil, fmt.Errorf("target branch %q is locked: %w", target.Name, domain.ErrConflict)
	}

	if !pr.FullyApproved() {
		return nil, fmt.Errorf("pull request has %d of %d required approvals: %w",
			len(pr.Approvals), len(pr.Reviewers), domain.ErrPermissionDenied)
	}
	if target.Policy != nil && target.Policy.RequireCodeReview && len(pr.Reviewers) < target.Policy.MinimumReviewers {
		return nil, fmt.Errorf("target branch requires at least %d reviewers: %w",
			target.Policy.MinimumReviewers, domain.ErrPermissionDenied)
	}

	actor, err := s.users.Get(ctx, actorID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve actor: %w", err)
	}
	if (target.Protected || s.policy.IsProtected(target.Name)) && !actor.IsAdmin() {
		return nil, fmt.Errorf("completing into protected branch %q requires admin: %w",
			target.Name, domain.ErrPermissionDenied)
	}

	now := time.Now()
	pr.Status = domain.PullRequestCompleted
	pr.CompletedAt = &now
	pr.CompletedBy = actorID

	updated, err := s.update(ctx, pr)
	if err != nil {
		return nil, fmt.Errorf("failed to complete pull request: %w", err)
	}

	merge := fmt.Sprintf("Merged PR %s: %s", updated.ID, updated.Title)
	if err := s.branches.AppendCommit(ctx, target.ID, merge); err != nil {
		s.logger.Warn("Failed to append merge commit", zap.Error(err), zap.String("branch", target.Name))
	}

	s.closeLinkedWorkItems(ctx, updated)

	s.logger.Info("Pull request completed",
		zap.String("pr_id", updated.ID),
		zap.String("target", updated.TargetBranch),
		zap.String("completed_by", actorID),
	)
	s.publish(ctx, "pr.completed", updated)
	s.recordAudit(ctx, actorID, domain.AuditActionComplete, updated)

	return updated, nil
}

// Abandon abandons an active pull request. No approvals are required.
func (s *Service) Abandon(ctx context.Context, id, actorID string) (*domain.PullRequest, error) {
	pr, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if pr.Status != domain.PullRequestActive {
		return nil, fmt.Errorf("pull request is %s: %w", pr.Status, domain.ErrConflict)
	}

	pr.Status = domain.PullRequestAbandoned

	updated, err := s.update(ctx, pr)
	if err != nil {
		return nil, fmt.Errorf("failed to abandon pull request: %w", err)
	}

	s.logger.Info("Pull request abandoned",
		zap.String("pr_id", updated.ID),
		zap.String("actor", actorID),
	)
	s.publish(ctx, "pr.abandoned", updated)
	s.recordAudit(ctx, actorID, domain.AuditActionAbandon, updated)

	return updated, nil
}

// LinkWorkItem associates a work item with an active pull request. Linked
// resolved work items are closed when the pull request completes.
func (s *Service) LinkWorkItem(ctx context.Context, id, workItemID string) (*domain.PullRequest, error) {
	pr, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if pr.Status != domain.PullRequestActive {
		return nil, fmt.Errorf("pull request is %s: %w", pr.Status, domain.ErrConflict)
	}

	if s.workItems != nil {
		if _, err := s.workItems.Get(ctx, workItemID); err != nil {
			return nil, fmt.Errorf("work item %q: %w", workItemID, err)
		}
	}

	for _, w := range pr.WorkItems {
		if w == workItemID {
			return pr, nil
		}
	}

	pr.WorkItems = append(pr.WorkItems, workItemID)
	return s.update(ctx, pr)
}

func (s *Service) closeLinkedWorkItems(ctx context.Context, pr *domain.PullRequest) {
	if s.workItems == nil {
		return
	}

	for _, id := range pr.WorkItems {
		item, err := s.workItems.Get(ctx, id)
		if err != nil {
			s.logger.Warn("Failed to resolve linked work item", zap.String("workitem_id", id), zap.Error(err))
			continue
		}
		if !domain.CanTransitionWorkItem(item.State, domain.WorkItemClosed) {
			continue
		}
		item.State = domain.WorkItemClosed
		if _, err := s.workItems.Update(ctx, item); err != nil {
			s.logger.Warn("Failed to close linked work item", zap.String("workitem_id", id), zap.Error(err))
		}
	}
}

func (s *Service) publish(ctx context.Context, eventType string, pr *domain.PullRequest) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishPullRequestEvent(ctx, eventType, pr); err != nil {
		s.logger.Warn("Failed to publish event", zap.String("type", eventType), zap.Error(err))
	}
}

func (s *Service) recordAudit(ctx context.Context, actorID string, action domain.AuditAction, pr *domain.PullRequest) {
	if s.audit == nil {
		return
	}
	entry := &domain.AuditEntry{
		UserID:       actorID,
		Action:       action,
		ResourceType: "pull_request",
		ResourceID:   pr.ID,
		ResourceName: pr.Title,
		CreatedAt:    time.Now(),
	}
	if err := s.audit.Record(ctx, entry); err != nil {
		s.logger.Warn("Failed to record audit entry", zap.Error(err))
	}
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
