package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/devgrid/devgrid/internal/domain"
)

// ReleaseRepository is an in-memory store for deployment environments
// and approval requests.
type ReleaseRepository struct {
	mu           sync.RWMutex
	environments map[string]*domain.Environment
	requests     map[string]*domain.ApprovalRequest
}

// NewReleaseRepository creates a new in-memory release repository.
func NewReleaseRepository() *ReleaseRepository {
	return &ReleaseRepository{
		environments: make(map[string]*domain.Environment),
		requests:     make(map[string]*domain.ApprovalRequest),
	}
}

func copyEnvironment(e *domain.Environment) *domain.Environment {
	result := *e
	result.Approvers = append([]domain.Approver(nil), e.Approvers...)
	return &result
}

func copyApprovalRequest(req *domain.ApprovalRequest) *domain.ApprovalRequest {
	result := *req
	result.Approvers = append([]string(nil), req.Approvers...)
	result.Responses = append([]domain.ApprovalResponse(nil), req.Responses...)
	return &result
}

// CreateEnvironment stores a new environment.
func (r *ReleaseRepository) CreateEnvironment(ctx context.Context, env *domain.Environment) (*domain.Environment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if env.ID == "" {
		env.ID = uuid.New().String()
	}

	for _, e := range r.environments {
		if e.Name == env.Name {
			return nil, domain.ErrAlreadyExists
		}
	}

	now := time.Now()
	env.CreatedAt = now
	env.UpdatedAt = now

	r.environments[env.ID] = copyEnvironment(env)
	return copyEnvironment(env), nil
}

// GetEnvironment retrieves an environment by ID.
func (r *ReleaseRepository) GetEnvironment(ctx context.Context, id string) (*domain.Environment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	env, ok := r.environments[id]
	if !ok {
		return nil, domain.ErrNotFound
	}

	return copyEnvironment(env), nil
}

// GetEnvironmentByName retrieves an environment by name.
func (r *ReleaseRepository) GetEnvironmentByName(ctx context.Context, name string) (*domain.Environment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, env := range r.environments {
		if env.Name == name {
			return copyEnvironment(env), nil
		}
	}

	return nil, domain.ErrNotFound
}

// ListEnvironments returns all environments.
func (r *ReleaseRepository) ListEnvironments(ctx context.Context) ([]*domain.Environment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*domain.Environment, 0, len(r.environments))
	for _, env := range r.environments {
		result = append(result, copyEnvironment(env))
	}

	return result, nil
}

// UpdateEnvironment updates an existing environment.
func (r *ReleaseRepository) UpdateEnvironment(ctx context.Context, env *domain.Environment) (*domain.Environment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.environments[env.ID]
	if !ok {
		return nil, domain.ErrNotFound
	}

	env.CreatedAt = existing.CreatedAt
	env.UpdatedAt = time.Now()

	r.environments[env.ID] = copyEnvironment(env)
	return copyEnvironment(env), nil
}

// DeleteEnvironment removes an environment by ID.
func (r *ReleaseRepository) DeleteEnvironment(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.environments[id]; !ok {
		return domain.ErrNotFound
	}

	delete(r.environments, id)
	return nil
}

// =============================================================================
// Approval requests
// =============================================================================

// CreateRequest stores a new approval request.
func (r *ReleaseRepository) CreateRequest(ctx context.Context, req *domain.ApprovalRequest) (*domain.ApprovalRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if req.ID == "" {
		req.ID = uuid.New().String()
	}

	req.CreatedAt = time.Now()
	if req.Status == "" {
		req.Status = domain.ApprovalPending
	}

	r.requests[req.ID] = copyApprovalRequest(req)
	return copyApprovalRequest(req), nil
}

// GetRequest retrieves an approval request by ID.
func (r *ReleaseRepository) GetRequest(ctx context.Context, id string) (*domain.ApprovalRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	req, ok := r.requests[id]
	if !ok {
		return nil, domain.ErrNotFound
	}

	return copyApprovalRequest(req), nil
}

// ListRequests returns approval requests, optionally filtered by
// environment and status.
func (r *ReleaseRepository) ListRequests(ctx context.Context, environmentID string, status domain.ApprovalStatus) ([]*domain.ApprovalRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*domain.ApprovalRequest
	for _, req := range r.requests {
		if environmentID != "" && req.EnvironmentID != environmentID {
			continue
		}
		if status != "" && req.Status != status {
			continue
		}
		result = append(result, copyApprovalRequest(req))
	}

	return result, nil
}

// UpdateRequest updates an existing approval request.
func (r *ReleaseRepository) UpdateRequest(ctx context.Context, req *domain.ApprovalRequest) (*domain.ApprovalRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.requests[req.ID]
	if !ok {
		return nil, domain.ErrNotFound
	}

	req.CreatedAt = existing.CreatedAt

	r.requests[req.ID] = copyApprovalRequest(req)
	return copyApprovalRequest(req), nil
}
