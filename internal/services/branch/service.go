// Package branch provides branch, policy, and branch security management.
package branch

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/devgrid/devgrid/internal/config"
	"github.com/devgrid/devgrid/internal/domain"
)

// Repository defines the interface for branch data access.
type Repository interface {
	Create(ctx context.Context, branch *domain.Branch) (*domain.Branch, error)
	Get(ctx context.Context, id string) (*domain.Branch, error)
	GetByName(ctx context.Context, name string) (*domain.Branch, error)
	List(ctx context.Context) ([]*domain.Branch, error)
	Update(ctx context.Context, branch *domain.Branch) (*domain.Branch, error)
	Delete(ctx context.Context, id string) error
	AppendCommit(ctx context.Context, id, message string) error
}

// GroupResolver resolves the groups a user belongs to, for effective
// permission evaluation.
type GroupResolver interface {
	ListGroupsForUser(ctx context.Context, userID string) ([]*domain.Group, error)
}

// Cache is an optional read-through cache for branch lookups.
type Cache interface {
	GetBranch(ctx context.Context, id string) (*domain.Branch, error)
	SetBranch(ctx context.Context, branch *domain.Branch) error
	InvalidateBranch(ctx context.Context, id string) error
}

// Service provides branch management functionality.
type Service struct {
	repo   Repository
	groups GroupResolver
	cache  Cache
	policy config.PolicyConfig
	logger *zap.Logger
}

// NewService creates a new branch service.
func NewService(repo Repository, groups GroupResolver, policy config.PolicyConfig, logger *zap.Logger) *Service {
	return &Service{
		repo:   repo,
		groups: groups,
		policy: policy,
		logger: logger.With(zap.String("service", "branch")),
	}
}

// WithCache attaches a read-through cache.
func (s *Service) WithCache(cache Cache) *Service {
	s.cache = cache
	return s
}

// Create creates a new branch. Branches whose name appears in the
// configured protected list are created protected with a default policy.
func (s *Service) Create(ctx context.Context, name, createdBy string, isDefault bool) (*domain.Branch, error) {
	if name == "" {
		return nil, fmt.Errorf("branch name is required: %w", domain.ErrInvalidArgument)
	}

	branch := &domain.Branch{
		Name:      name,
		IsDefault: isDefault,
		CreatedBy: createdBy,
		Security:  domain.NewBranchSecurity(),
	}

	if s.policy.IsProtected(name) {
		branch.Protected = true
		branch.Policy = &domain.BranchPolicy{
			RequirePullRequest: true,
			RequireCodeReview:  true,
			MinimumReviewers:   s.policy.DefaultMinReviewers,
		}
	}

	created, err := s.repo.Create(ctx, branch)
	if err != nil {
		return nil, fmt.Errorf("failed to create branch: %w", err)
	}

	s.logger.Info("Branch created",
		zap.String("branch_id", created.ID),
		zap.String("name", created.Name),
		zap.Bool("protected", created.Protected),
	)
	return created, nil
}

// Get retrieves a branch by ID, through the cache when one is attached.
func (s *Service) Get(ctx context.Context, id string) (*domain.Branch, error) {
	if s.cache != nil {
		if branch, err := s.cache.GetBranch(ctx, id); err == nil {
			return branch, nil
		}
	}

	branch, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.SetBranch(ctx, branch); err != nil {
			s.logger.Warn("Failed to cache branch", zap.Error(err))
		}
	}
	return branch, nil
}

// update persists a branch and drops its cached copy.
func (s *Service) update(ctx context.Context, branch *domain.Branch) (*domain.Branch, error) {
	updated, err := s.repo.Update(ctx, branch)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if err := s.cache.InvalidateBranch(ctx, updated.ID); err != nil {
			s.logger.Warn("Failed to invalidate cached branch", zap.Error(err))
		}
	}
	return updated, nil
}

// GetByName retrieves a branch by name.
func (s *Service) GetByName(ctx context.Context, name string) (*domain.Branch, error) {
	return s.repo.GetByName(ctx, name)
}

// List returns all branches.
func (s *Service) List(ctx context.Context) ([]*domain.Branch, error) {
	return s.repo.List(ctx)
}

// Delete removes a branch. Default and protected branches cannot be deleted.
func (s *Service) Delete(ctx context.Context, id string) error {
	branch, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if branch.IsDefault || branch.Protected {
		return fmt.Errorf("branch %q is protected: %w", branch.Name, domain.ErrPermissionDenied)
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete branch: %w", err)
	}
	if s.cache != nil {
		if err := s.cache.InvalidateBranch(ctx, id); err != nil {
			s.logger.Warn("Failed to invalidate cached branch", zap.Error(err))
		}
	}

	s.logger.Info("Branch deleted", zap.String("branch_id", id), zap.String("name", branch.Name))
	return nil
}

// SetPolicy attaches or replaces the merge policy on a branch.
func (s *Service) SetPolicy(ctx context.Context, id string, policy domain.BranchPolicy) (*domain.Branch, error) {
	branch, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if policy.RequireCodeReview && policy.MinimumReviewers < 1 {
		policy.MinimumReviewers = s.policy.DefaultMinReviewers
	}

	branch.Policy = &policy

	updated, err := s.update(ctx, branch)
	if err != nil {
		return nil, fmt.Errorf("failed to update branch policy: %w", err)
	}

	s.logger.Info("Branch policy set",
		zap.String("branch_id", id),
		zap.Int("minimum_reviewers", policy.MinimumReviewers),
	)
	return updated, nil
}

// SetUserPermission records an explicit ALLOW or DENY for a user on a branch.
func (s *Service) SetUserPermission(ctx context.Context, id, userID string, action domain.BranchAction, decision domain.PermissionDecision) (*domain.Branch, error) {
	branch, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if branch.Security == nil {
		branch.Security = domain.NewBranchSecurity()
	}
	if branch.Security.UserPermissions[userID] == nil {
		branch.Security.UserPermissions[userID] = make(map[domain.BranchAction]domain.PermissionDecision)
	}
	branch.Security.UserPermissions[userID][action] = decision

	return s.update(ctx, branch)
}

// SetGroupPermission records an explicit ALLOW or DENY for a group on a branch.
func (s *Service) SetGroupPermission(ctx context.Context, id, groupID string, action domain.BranchAction, decision domain.PermissionDecision) (*domain.Branch, error) {
	branch, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if branch.Security == nil {
		branch.Security = domain.NewBranchSecurity()
	}
	if branch.Security.GroupPermissions[groupID] == nil {
		branch.Security.GroupPermissions[groupID] = make(map[domain.BranchAction]domain.PermissionDecision)
	}
	branch.Security.GroupPermissions[groupID][action] = decision

	return s.update(ctx, branch)
}

// EffectivePermission resolves whether a user may perform an action on a
// branch. An explicit user DENY always wins. Otherwise an explicit user
// ALLOW wins over group decisions. Group decisions are combined with DENY
// precedence: any group DENY blocks, any group ALLOW (absent a DENY)
// permits. With no explicit decision the result falls back to the user's
// roles: contribute-class actions require a contributor role, read is open
// to all enabled users.
func (s *Service) EffectivePermission(ctx context.Context, branchID string, user *domain.User, action domain.BranchAction) (bool, error) {
	branch, err := s.repo.Get(ctx, branchID)
	if err != nil {
		return false, err
	}

	if branch.Security != nil {
		switch branch.Security.UserDecision(user.ID, action) {
		case domain.DecisionDeny:
			return false, nil
		case domain.DecisionAllow:
			return true, nil
		}

		if s.groups != nil {
			groups, err := s.groups.ListGroupsForUser(ctx, user.ID)
			if err != nil {
				return false, fmt.Errorf("failed to resolve groups: %w", err)
			}

			groupAllow := false
			for _, g := range groups {
				switch branch.Security.GroupDecision(g.ID, action) {
				case domain.DecisionDeny:
					return false, nil
				case domain.DecisionAllow:
					groupAllow = true
				}
			}
			if groupAllow {
				return true, nil
			}
		}
	}

	switch action {
	case domain.BranchActionRead:
		return user.CanView(), nil
	case domain.BranchActionForcePush, domain.BranchActionPolicyExempt:
		return user.IsAdmin(), nil
	default:
		return user.CanContribute(), nil
	}
}

// Lock locks a branch. Completing a pull request into a locked branch fails.
func (s *Service) Lock(ctx context.Context, id, lockedBy, reason string) (*domain.Branch, error) {
	branch, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if branch.Locked() {
		return nil, fmt.Errorf("branch %q is already locked: %w", branch.Name, domain.ErrConflict)
	}

	if branch.Security == nil {
		branch.Security = domain.NewBranchSecurity()
	}
	now := time.Now()
	branch.Security.IsLocked = true
	branch.Security.LockReason = reason
	branch.Security.LockedBy = lockedBy
	branch.Security.LockedAt = &now

	updated, err := s.update(ctx, branch)
	if err != nil {
		return nil, fmt.Errorf("failed to lock branch: %w", err)
	}

	s.logger.Info("Branch locked",
		zap.String("branch_id", id),
		zap.String("locked_by", lockedBy),
		zap.String("reason", reason),
	)
	return updated, nil
}

// Unlock unlocks a branch.
func (s *Service) Unlock(ctx context.Context, id string) (*domain.Branch, error) {
	branch, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if !branch.Locked() {
		return nil, fmt.Errorf("branch %q is not locked: %w", branch.Name, domain.ErrConflict)
	}

	branch.Security.IsLocked = false
	branch.Security.LockReason = ""
	branch.Security.LockedBy = ""
	branch.Security.LockedAt = nil

	updated, err := s.update(ctx, branch)
	if err != nil {
		return nil, fmt.Errorf("failed to unlock branch: %w", err)
	}

	s.logger.Info("Branch unlocked", zap.String("branch_id", id))
	return updated, nil
}

// SetPathFilters replaces the path filters on a branch's security record.
func (s *Service) SetPathFilters(ctx context.Context, id string, filters []string) (*domain.Branch, error) {
	branch, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if branch.Security == nil {
		branch.Security = domain.NewBranchSecurity()
	}
	branch.Security.PathFilters = filters

	return s.update(ctx, branch)
}
