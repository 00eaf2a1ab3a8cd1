// Package identity provides group and membership management.
package identity

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/devgrid/devgrid/internal/domain"
)

// GroupRepository defines the interface for group data access.
type GroupRepository interface {
	Create(ctx context.Context, group *domain.Group) (*domain.Group, error)
	Get(ctx context.Context, id string) (*domain.Group, error)
	GetByName(ctx context.Context, name string) (*domain.Group, error)
	List(ctx context.Context) ([]*domain.Group, error)
	ListByMember(ctx context.Context, userID string) ([]*domain.Group, error)
	Update(ctx context.Context, group *domain.Group) (*domain.Group, error)
	Delete(ctx context.Context, id string) error
}

// UserRepository defines the subset of user access the identity service needs.
type UserRepository interface {
	Get(ctx context.Context, id string) (*domain.User, error)
}

// Service provides group management functionality.
type Service struct {
	groupRepo GroupRepository
	userRepo  UserRepository
	logger    *zap.Logger
}

// NewService creates a new identity service.
func NewService(groupRepo GroupRepository, userRepo UserRepository, logger *zap.Logger) *Service {
	return &Service{
		groupRepo: groupRepo,
		userRepo:  userRepo,
		logger:    logger.With(zap.String("service", "identity")),
	}
}

// CreateGroup creates a new group.
func (s *Service) CreateGroup(ctx context.Context, name, description string) (*domain.Group, error) {
	if name == "" {
		return nil, fmt.Errorf("group name is required: %w", domain.ErrInvalidArgument)
	}

	group := &domain.Group{
		Name:        name,
		Description: description,
	}

	created, err := s.groupRepo.Create(ctx, group)
	if err != nil {
		return nil, fmt.Errorf("failed to create group: %w", err)
	}

	s.logger.Info("Group created", zap.String("group_id", created.ID), zap.String("name", created.Name))
	return created, nil
}

// GetGroup retrieves a group by ID.
func (s *Service) GetGroup(ctx context.Context, id string) (*domain.Group, error) {
	return s.groupRepo.Get(ctx, id)
}

// GetGroupByName retrieves a group by name.
func (s *Service) GetGroupByName(ctx context.Context, name string) (*domain.Group, error) {
	return s.groupRepo.GetByName(ctx, name)
}

// ListGroups returns all groups.
func (s *Service) ListGroups(ctx context.Context) ([]*domain.Group, error) {
	return s.groupRepo.List(ctx)
}

// ListGroupsForUser returns all groups the user belongs to.
func (s *Service) ListGroupsForUser(ctx context.Context, userID string) ([]*domain.Group, error) {
	return s.groupRepo.ListByMember(ctx, userID)
}

// AddMember adds a user to a group. Adding a user who is already a member
// is a no-op: the call succeeds and the membership is unchanged.
func (s *Service) AddMember(ctx context.Context, groupID, userID string) (*domain.Group, error) {
	if s.userRepo != nil {
		if _, err := s.userRepo.Get(ctx, userID); err != nil {
			return nil, fmt.Errorf("failed to resolve user: %w", err)
		}
	}

	group, err := s.groupRepo.Get(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to get group: %w", err)
	}

	if !group.AddMember(userID) {
		// Already a member
		return group, nil
	}

	updated, err := s.groupRepo.Update(ctx, group)
	if err != nil {
		return nil, fmt.Errorf("failed to update group: %w", err)
	}

	s.logger.Info("Member added",
		zap.String("group_id", groupID),
		zap.String("user_id", userID),
	)
	return updated, nil
}

// RemoveMember removes a user from a group. Removing a user who is not a
// member is a no-op.
func (s *Service) RemoveMember(ctx context.Context, groupID, userID string) (*domain.Group, error) {
	group, err := s.groupRepo.Get(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to get group: %w", err)
	}

	if !group.RemoveMember(userID) {
		return group, nil
	}

	updated, err := s.groupRepo.Update(ctx, group)
	if err != nil {
		return nil, fmt.Errorf("failed to update group: %w", err)
	}

	s.logger.Info("Member removed",
		zap.String("group_id", groupID),
		zap.String("user_id", userID),
	)
	return updated, nil
}

// IsMember reports whether a user belongs to a group.
func (s *Service) IsMember(ctx context.Context, groupID, userID string) (bool, error) {
	group, err := s.groupRepo.Get(ctx, groupID)
	if err != nil {
		return false, err
	}
	return group.HasMember(userID), nil
}

// DeleteGroup removes a group.
func (s *Service) DeleteGroup(ctx context.Context, id string) error {
	if err := s.groupRepo.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete group: %w", err)
	}

	s.logger.Info("Group deleted", zap.String("group_id", id))
	return nil
}
