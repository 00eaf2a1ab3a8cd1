// Package workitem provides work item tracking with a fixed state machine
// and saved queries.
package workitem

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/devgrid/devgrid/internal/domain"
)

// Repository defines the interface for work item data access.
type Repository interface {
	Create(ctx context.Context, item *domain.WorkItem) (*domain.WorkItem, error)
	Get(ctx context.Context, id string) (*domain.WorkItem, error)
	List(ctx context.Context, criteria domain.WorkItemCriteria) ([]*domain.WorkItem, error)
	Update(ctx context.Context, item *domain.WorkItem) (*domain.WorkItem, error)
	Delete(ctx context.Context, id string) error
	CreateQuery(ctx context.Context, query *domain.WorkItemQuery) (*domain.WorkItemQuery, error)
	GetQueryByName(ctx context.Context, name string) (*domain.WorkItemQuery, error)
	ListQueries(ctx context.Context) ([]*domain.WorkItemQuery, error)
}

// Service provides work item management functionality.
type Service struct {
	repo   Repository
	logger *zap.Logger
}

// NewService creates a new work item service.
func NewService(repo Repository, logger *zap.Logger) *Service {
	return &Service{
		repo:   repo,
		logger: logger.With(zap.String("service", "workitem")),
	}
}

// CreateRequest holds the inputs for creating a work item.
type CreateRequest struct {
	Title       string
	Type        domain.WorkItemType
	Description string
	Priority    int
	AssignedTo  string
	Tags        []string
	CreatedBy   string
}

// Create creates a new work item in the NEW state.
func (s *Service) Create(ctx context.Context, req *CreateRequest) (*domain.WorkItem, error) {
	if req.Title == "" {
		return nil, fmt.Errorf("title is required: %w", domain.ErrInvalidArgument)
	}
	if req.Type == "" {
		req.Type = domain.WorkItemTask
	}
	if req.Priority == 0 {
		req.Priority = 2
	}
	if req.Priority < 1 || req.Priority > 4 {
		return nil, fmt.Errorf("priority must be 1..4: %w", domain.ErrInvalidArgument)
	}

	item := &domain.WorkItem{
		Title:       req.Title,
		Type:        req.Type,
		State:       domain.WorkItemNew,
		Description: req.Description,
		Priority:    req.Priority,
		AssignedTo:  req.AssignedTo,
		Tags:        req.Tags,
		CreatedBy:   req.CreatedBy,
	}

	created, err := s.repo.Create(ctx, item)
	if err != nil {
		return nil, fmt.Errorf("failed to create work item: %w", err)
	}

	s.logger.Info("Work item created",
		zap.String("workitem_id", created.ID),
		zap.String("type", string(created.Type)),
		zap.Int("priority", created.Priority),
	)
	return created, nil
}

// Get retrieves a work item by ID.
func (s *Service) Get(ctx context.Context, id string) (*domain.WorkItem, error) {
	return s.repo.Get(ctx, id)
}

// List returns work items matching the criteria.
func (s *Service) List(ctx context.Context, criteria domain.WorkItemCriteria) ([]*domain.WorkItem, error) {
	return s.repo.List(ctx, criteria)
}

// Transition moves a work item to a new state. Illegal transitions,
// including any move out of CLOSED, are rejected.
func (s *Service) Transition(ctx context.Context, id string, to domain.WorkItemState) (*domain.WorkItem, error) {
	item, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if !domain.CanTransitionWorkItem(item.State, to) {
		return nil, fmt.Errorf("cannot transition work item from %s to %s: %w",
			item.State, to, domain.ErrConflict)
	}

	item.State = to

	updated, err := s.repo.Update(ctx, item)
	if err != nil {
		return nil, fmt.Errorf("failed to update work item: %w", err)
	}

	s.logger.Info("Work item transitioned",
		zap.String("workitem_id", id),
		zap.String("state", string(to)),
	)
	return updated, nil
}

// Assign sets the assignee on a work item.
func (s *Service) Assign(ctx context.Context, id, userID string) (*domain.WorkItem, error) {
	item, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	item.AssignedTo = userID
	return s.repo.Update(ctx, item)
}

// Update replaces the mutable fields of a work item. State changes must go
// through Transition.
func (s *Service) Update(ctx context.Context, item *domain.WorkItem) (*domain.WorkItem, error) {
	existing, err := s.repo.Get(ctx, item.ID)
	if err != nil {
		return nil, err
	}
	if item.State != existing.State {
		return nil, fmt.Errorf("state changes must use transition: %w", domain.ErrInvalidArgument)
	}

	return s.repo.Update(ctx, item)
}

// Delete removes a work item.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.repo.Delete(ctx, id)
}

// =============================================================================
// Saved queries
// =============================================================================

// SaveQuery stores a named query for later execution.
func (s *Service) SaveQuery(ctx context.Context, name string, criteria domain.WorkItemCriteria, createdBy string) (*domain.WorkItemQuery, error) {
	if name == "" {
		return nil, fmt.Errorf("query name is required: %w", domain.ErrInvalidArgument)
	}

	query := &domain.WorkItemQuery{
		Name:      name,
		Criteria:  criteria,
		CreatedBy: createdBy,
	}

	created, err := s.repo.CreateQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to save query: %w", err)
	}

	s.logger.Info("Query saved", zap.String("name", name))
	return created, nil
}

// RunQuery executes a saved query by name.
func (s *Service) RunQuery(ctx context.Context, name string) ([]*domain.WorkItem, error) {
	query, err := s.repo.GetQueryByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("saved query %q: %w", name, err)
	}

	return s.repo.List(ctx, query.Criteria)
}

// ListQueries returns all saved queries.
func (s *Service) ListQueries(ctx context.Context) ([]*domain.WorkItemQuery, error) {
	return s.repo.ListQueries(ctx)
}
