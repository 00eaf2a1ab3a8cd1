package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/devgrid/devgrid/internal/domain"
)

// VariableRepository is an in-memory store for scoped pipeline variables
// and variable groups. Variables are keyed by scope then name.
type VariableRepository struct {
	mu        sync.RWMutex
	variables map[string]map[string]*domain.Variable
	groups    map[string]*domain.VariableGroup
}

// NewVariableRepository creates a new in-memory variable repository.
func NewVariableRepository() *VariableRepository {
	return &VariableRepository{
		variables: make(map[string]map[string]*domain.Variable),
		groups:    make(map[string]*domain.VariableGroup),
	}
}

func copyVariableGroup(g *domain.VariableGroup) *domain.VariableGroup {
	result := *g
	result.Scopes = append([]string(nil), g.Scopes...)
	result.Variables = make(map[string]string, len(g.Variables))
	for k, v := range g.Variables {
		result.Variables[k] = v
	}
	return &result
}

// Set stores or overwrites a variable within its scope.
func (r *VariableRepository) Set(ctx context.Context, variable *domain.Variable) (*domain.Variable, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	scope, ok := r.variables[variable.Scope]
	if !ok {
		scope = make(map[string]*domain.Variable)
		r.variables[variable.Scope] = scope
	}

	if existing, ok := scope[variable.Name]; ok {
		variable.CreatedAt = existing.CreatedAt
	} else {
		variable.CreatedAt = time.Now()
	}

	stored := *variable
	scope[variable.Name] = &stored

	result := stored
	return &result, nil
}

// Get retrieves a variable by scope and name.
func (r *VariableRepository) Get(ctx context.Context, scope, name string) (*domain.Variable, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	vars, ok := r.variables[scope]
	if !ok {
		return nil, domain.ErrNotFound
	}
	v, ok := vars[name]
	if !ok {
		return nil, domain.ErrNotFound
	}

	result := *v
	return &result, nil
}

// List returns all variables in a scope.
func (r *VariableRepository) List(ctx context.Context, scope string) ([]*domain.Variable, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	vars := r.variables[scope]
	result := make([]*domain.Variable, 0, len(vars))
	for _, v := range vars {
		variable := *v
		result = append(result, &variable)
	}

	return result, nil
}

// Delete removes a variable from its scope.
func (r *VariableRepository) Delete(ctx context.Context, scope, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	vars, ok := r.variables[scope]
	if !ok {
		return domain.ErrNotFound
	}
	if _, ok := vars[name]; !ok {
		return domain.ErrNotFound
	}

	delete(vars, name)
	return nil
}

// =============================================================================
// Variable groups
// =============================================================================

// CreateGroup stores a new variable group.
func (r *VariableRepository) CreateGroup(ctx context.Context, group *domain.VariableGroup) (*domain.VariableGroup, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if group.ID == "" {
		group.ID = uuid.New().String()
	}

	for _, g := range r.groups {
		if g.Name == group.Name {
			return nil, domain.ErrAlreadyExists
		}
	}

	group.CreatedAt = time.Now()
	if group.Variables == nil {
		group.Variables = make(map[string]string)
	}

	r.groups[group.ID] = copyVariableGroup(group)
	return copyVariableGroup(group), nil
}

// GetGroup retrieves a variable group by ID.
func (r *VariableRepository) GetGroup(ctx context.Context, id string) (*domain.VariableGroup, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	group, ok := r.groups[id]
	if !ok {
		return nil, domain.ErrNotFound
	}

	return copyVariableGroup(group), nil
}

// GetGroupByName retrieves a variable group by name.
func (r *VariableRepository) GetGroupByName(ctx context.Context, name string) (*domain.VariableGroup, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, group := range r.groups {
		if group.Name == name {
			return copyVariableGroup(group), nil
		}
	}

	return nil, domain.ErrNotFound
}

// ListGroups returns all variable groups.
func (r *VariableRepository) ListGroups(ctx context.Context) ([]*domain.VariableGroup, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*domain.VariableGroup, 0, len(r.groups))
	for _, group := range r.groups {
		result = append(result, copyVariableGroup(group))
	}

	return result, nil
}

// UpdateGroup updates an existing variable group.
func (r *VariableRepository) UpdateGroup(ctx context.Context, group *domain.VariableGroup) (*domain.VariableGroup, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.groups[group.ID]
	if !ok {
		return nil, domain.ErrNotFound
	}

	group.CreatedAt = existing.CreatedAt

	r.groups[group.ID] = copyVariableGroup(group)
	return copyVariableGroup(group), nil
}

// DeleteGroup removes a variable group by ID.
func (r *VariableRepository) DeleteGroup(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.groups[id]; !ok {
		return domain.ErrNotFound
	}

	delete(r.groups, id)
	return nil
}
