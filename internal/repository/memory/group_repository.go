package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/devgrid/devgrid/internal/domain"
)

// GroupRepository is an in-memory implementation of the group repository.
type GroupRepository struct {
	mu     sync.RWMutex
	groups map[string]*domain.Group
}

// NewGroupRepository creates a new in-memory group repository.
func NewGroupRepository() *GroupRepository {
	return &GroupRepository{
		groups: make(map[string]*domain.Group),
	}
}

func copyGroup(g *domain.Group) *domain.Group {
	result := *g
	result.Members = append([]string(nil), g.Members...)
	return &result
}

// Create stores a new group.
func (r *GroupRepository) Create(ctx context.Context, group *domain.Group) (*domain.Group, error) {
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

	now := time.Now()
	group.CreatedAt = now
	group.UpdatedAt = now

	r.groups[group.ID] = copyGroup(group)
	return copyGroup(group), nil
}

// Get retrieves a group by ID.
func (r *GroupRepository) Get(ctx context.Context, id string) (*domain.Group, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	group, ok := r.groups[id]
	if !ok {
		return nil, domain.ErrNotFound
	}

	return copyGroup(group), nil
}

// GetByName retrieves a group by name.
func (r *GroupRepository) GetByName(ctx context.Context, name string) (*domain.Group, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, group := range r.groups {
		if group.Name == name {
			return copyGroup(group), nil
		}
	}

	return nil, domain.ErrNotFound
}

// List returns all groups.
func (r *GroupRepository) List(ctx context.Context) ([]*domain.Group, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*domain.Group, 0, len(r.groups))
	for _, group := range r.groups {
		result = append(result, copyGroup(group))
	}

	return result, nil
}

// ListByMember returns all groups containing the given user.
func (r *GroupRepository) ListByMember(ctx context.Context, userID string) ([]*domain.Group, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*domain.Group
	for _, group := range r.groups {
		if group.HasMember(userID) {
			result = append(result, copyGroup(group))
		}
	}

	return result, nil
}

// Update updates an existing group.
func (r *GroupRepository) Update(ctx context.Context, group *domain.Group) (*domain.Group, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.groups[group.ID]
	if !ok {
		return nil, domain.ErrNotFound
	}

	for _, g := range r.groups {
		if g.Name == group.Name && g.ID != group.ID {
			return nil, domain.ErrAlreadyExists
		}
	}

	group.CreatedAt = existing.CreatedAt
	group.UpdatedAt = time.Now()

	r.groups[group.ID] = copyGroup(group)
	return copyGroup(group), nil
}

// Delete removes a group by ID.
func (r *GroupRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.groups[id]; !ok {
		return domain.ErrNotFound
	}

	delete(r.groups, id)
	return nil
}
