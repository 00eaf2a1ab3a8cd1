package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/devgrid/devgrid/internal/domain"
)

// VariableRepository defines the interface for variable data access.
type VariableRepository interface {
	Set(ctx context.Context, variable *domain.Variable) (*domain.Variable, error)
	Get(ctx context.Context, scope, name string) (*domain.Variable, error)
	List(ctx context.Context, scope string) ([]*domain.Variable, error)
	Delete(ctx context.Context, scope, name string) error
	CreateGroup(ctx context.Context, group *domain.VariableGroup) (*domain.VariableGroup, error)
	GetGroup(ctx context.Context, id string) (*domain.VariableGroup, error)
	GetGroupByName(ctx context.Context, name string) (*domain.VariableGroup, error)
	ListGroups(ctx context.Context) ([]*domain.VariableGroup, error)
	UpdateGroup(ctx context.Context, group *domain.VariableGroup) (*domain.VariableGroup, error)
	DeleteGroup(ctx context.Context, id string) error
}

const maskedValue = "***"

// VariableService manages scoped pipeline variables and variable groups.
type VariableService struct {
	repo   VariableRepository
	logger *zap.Logger
}

// NewVariableService creates a new variable service.
func NewVariableService(repo VariableRepository, logger *zap.Logger) *VariableService {
	return &VariableService{
		repo:   repo,
		logger: logger.With(zap.String("service", "variables")),
	}
}

// Set stores or overwrites a variable within a scope.
func (s *VariableService) Set(ctx context.Context, scope, name, value string, secret bool) (*domain.Variable, error) {
	if scope == "" || name == "" {
		return nil, fmt.Errorf("scope and name are required: %w", domain.ErrInvalidArgument)
	}

	variable, err := s.repo.Set(ctx, &domain.Variable{
		Scope:    scope,
		Name:     name,
		Value:    value,
		IsSecret: secret,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to set variable: %w", err)
	}

	s.logger.Info("Variable set",
		zap.String("scope", scope),
		zap.String("name", name),
		zap.Bool("secret", secret),
	)
	return mask(variable), nil
}

// Get retrieves a variable. Secret values come back masked.
func (s *VariableService) Get(ctx context.Context, scope, name string) (*domain.Variable, error) {
	variable, err := s.repo.Get(ctx, scope, name)
	if err != nil {
		return nil, err
	}
	return mask(variable), nil
}

// Reveal retrieves a variable with its real value, for injection into runs.
func (s *VariableService) Reveal(ctx context.Context, scope, name string) (*domain.Variable, error) {
	return s.repo.Get(ctx, scope, name)
}

// List returns all variables in a scope, secrets masked.
func (s *VariableService) List(ctx context.Context, scope string) ([]*domain.Variable, error) {
	variables, err := s.repo.List(ctx, scope)
	if err != nil {
		return nil, err
	}
	for i, v := range variables {
		variables[i] = mask(v)
	}
	return variables, nil
}

// Delete removes a variable from a scope.
func (s *VariableService) Delete(ctx context.Context, scope, name string) error {
	return s.repo.Delete(ctx, scope, name)
}

// CreateGroup creates a named variable group.
func (s *VariableService) CreateGroup(ctx context.Context, name, description string, variables map[string]string) (*domain.VariableGroup, error) {
	if name == "" {
		return nil, fmt.Errorf("group name is required: %w", domain.ErrInvalidArgument)
	}

	group, err := s.repo.CreateGroup(ctx, &domain.VariableGroup{
		Name:        name,
		Description: description,
		Variables:   variables,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create variable group: %w", err)
	}

	s.logger.Info("Variable group created", zap.String("name", name))
	return group, nil
}

// LinkGroup makes a variable group available to a scope.
func (s *VariableService) LinkGroup(ctx context.Context, groupID, scope string) (*domain.VariableGroup, error) {
	group, err := s.repo.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}

	for _, sc := range group.Scopes {
		if sc == scope {
			return group, nil
		}
	}

	group.Scopes = append(group.Scopes, scope)
	return s.repo.UpdateGroup(ctx, group)
}

// ResolveScope collects the effective variables for a scope: linked group
// values first, then scope variables, which win on name collision.
func (s *VariableService) ResolveScope(ctx context.Context, scope string) (map[string]string, error) {
	resolved := make(map[string]string)

	groups, err := s.repo.ListGroups(ctx)
	if err != nil {
		return nil, err
	}
	for _, group := range groups {
		linked := false
		for _, sc := range group.Scopes {
			if sc == scope {
				linked = true
				break
			}
		}
		if !linked {
			continue
		}
		for k, v := range group.Variables {
			resolved[k] = v
		}
	}

	variables, err := s.repo.List(ctx, scope)
	if err != nil {
		return nil, err
	}
	for _, v := range variables {
		resolved[v.Name] = v.Value
	}

	return resolved, nil
}

// ListGroups returns all variable groups.
func (s *VariableService) ListGroups(ctx context.Context) ([]*domain.VariableGroup, error) {
	return s.repo.ListGroups(ctx)
}

// DeleteGroup removes a variable group.
func (s *VariableService) DeleteGroup(ctx context.Context, id string) error {
	return s.repo.DeleteGroup(ctx, id)
}

func mask(v *domain.Variable) *domain.Variable {
	if !v.IsSecret {
		return v
	}
	masked := *v
	masked.Value = maskedValue
	return &masked
}
