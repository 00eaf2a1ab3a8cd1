package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/devgrid/devgrid/internal/domain"
)

// WorkItemRepository is an in-memory implementation of the work item repository.
// It also stores saved queries.
type WorkItemRepository struct {
	mu      sync.RWMutex
	items   map[string]*domain.WorkItem
	queries map[string]*domain.WorkItemQuery
}

// NewWorkItemRepository creates a new in-memory work item repository.
func NewWorkItemRepository() *WorkItemRepository {
	return &WorkItemRepository{
		items:   make(map[string]*domain.WorkItem),
		queries: make(map[string]*domain.WorkItemQuery),
	}
}

func copyWorkItem(item *domain.WorkItem) *domain.WorkItem {
	result := *item
	result.Tags = append([]string(nil), item.Tags...)
	return &result
}

// Create stores a new work item.
func (r *WorkItemRepository) Create(ctx context.Context, item *domain.WorkItem) (*domain.WorkItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if item.ID == "" {
		item.ID = uuid.New().String()
	}

	now := time.Now()
	item.CreatedAt = now
	item.UpdatedAt = now
	if item.State == "" {
		item.State = domain.WorkItemNew
	}

	r.items[item.ID] = copyWorkItem(item)
	return copyWorkItem(item), nil
}

// Get retrieves a work item by ID.
func (r *WorkItemRepository) Get(ctx context.Context, id string) (*domain.WorkItem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	item, ok := r.items[id]
	if !ok {
		return nil, domain.ErrNotFound
	}

	return copyWorkItem(item), nil
}

// List returns work items matching the criteria.
func (r *WorkItemRepository) List(ctx context.Context, criteria domain.WorkItemCriteria) ([]*domain.WorkItem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*domain.WorkItem
	for _, item := range r.items {
		if criteria.Matches(item) {
			result = append(result, copyWorkItem(item))
		}
	}

	return result, nil
}

// Update updates an existing work item.
func (r *WorkItemRepository) Update(ctx context.Context, item *domain.WorkItem) (*domain.WorkItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.items[item.ID]
	if !ok {
		return nil, domain.ErrNotFound
	}

	item.CreatedAt = existing.CreatedAt
	item.UpdatedAt = time.Now()

	r.items[item.ID] = copyWorkItem(item)
	return copyWorkItem(item), nil
}

// Delete removes a work item by ID.
func (r *WorkItemRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.items[id]; !ok {
		return domain.ErrNotFound
	}

	delete(r.items, id)
	return nil
}

// =============================================================================
// Saved queries
// =============================================================================

// CreateQuery stores a saved query.
func (r *WorkItemRepository) CreateQuery(ctx context.Context, query *domain.WorkItemQuery) (*domain.WorkItemQuery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if query.ID == "" {
		query.ID = uuid.New().String()
	}

	for _, q := range r.queries {
		if q.Name == query.Name {
			return nil, domain.ErrAlreadyExists
		}
	}

	query.CreatedAt = time.Now()

	stored := *query
	r.queries[query.ID] = &stored

	result := stored
	return &result, nil
}

// GetQueryByName retrieves a saved query by name.
func (r *WorkItemRepository) GetQueryByName(ctx context.Context, name string) (*domain.WorkItemQuery, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, q := range r.queries {
		if q.Name == name {
			result := *q
			return &result, nil
		}
	}

	return nil, domain.ErrNotFound
}

// ListQueries returns all saved queries.
func (r *WorkItemRepository) ListQueries(ctx context.Context) ([]*domain.WorkItemQuery, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*domain.WorkItemQuery, 0, len(r.queries))
	for _, q := range r.queries {
		query := *q
		result = append(result, &query)
	}

	return result, nil
}
