package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/devgrid/devgrid/internal/domain"
)

// BranchRepository is an in-memory implementation of the branch repository.
type BranchRepository struct {
	mu       sync.RWMutex
	branches map[string]*domain.Branch
}

// NewBranchRepository creates a new in-memory branch repository.
func NewBranchRepository() *BranchRepository {
	return &BranchRepository{
		branches: make(map[string]*domain.Branch),
	}
}

func copyDecisions(m map[domain.BranchAction]domain.PermissionDecision) map[domain.BranchAction]domain.PermissionDecision {
	out := make(map[domain.BranchAction]domain.PermissionDecision, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyBranch(b *domain.Branch) *domain.Branch {
	result := *b
	result.Commits = append([]string(nil), b.Commits...)
	if b.Policy != nil {
		policy := *b.Policy
		result.Policy = &policy
	}
	if b.Security != nil {
		sec := *b.Security
		sec.PathFilters = append([]string(nil), b.Security.PathFilters...)
		sec.UserPermissions = make(map[string]map[domain.BranchAction]domain.PermissionDecision, len(b.Security.UserPermissions))
		for user, perms := range b.Security.UserPermissions {
			sec.UserPermissions[user] = copyDecisions(perms)
		}
		sec.GroupPermissions = make(map[string]map[domain.BranchAction]domain.PermissionDecision, len(b.Security.GroupPermissions))
		for group, perms := range b.Security.GroupPermissions {
			sec.GroupPermissions[group] = copyDecisions(perms)
		}
		result.Security = &sec
	}
	return &result
}

// Create stores a new branch.
func (r *BranchRepository) Create(ctx context.Context, branch *domain.Branch) (*domain.Branch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if branch.ID == "" {
		branch.ID = uuid.New().String()
	}

	for _, b := range r.branches {
		if b.Name == branch.Name {
			return nil, domain.ErrAlreadyExists
		}
	}

	now := time.Now()
	branch.CreatedAt = now
	branch.UpdatedAt = now

	r.branches[branch.ID] = copyBranch(branch)
	return copyBranch(branch), nil
}

// Get retrieves a branch by ID.
func (r *BranchRepository) Get(ctx context.Context, id string) (*domain.Branch, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	branch, ok := r.branches[id]
	if !ok {
		return nil, domain.ErrNotFound
	}

	return copyBranch(branch), nil
}

// GetByName retrieves a branch by name.
func (r *BranchRepository) GetByName(ctx context.Context, name string) (*domain.Branch, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, branch := range r.branches {
		if branch.Name == name {
			return copyBranch(branch), nil
		}
	}

	return nil, domain.ErrNotFound
}

// List returns all branches.
func (r *BranchRepository) List(ctx context.Context) ([]*domain.Branch, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*domain.Branch, 0, len(r.branches))
	for _, branch := range r.branches {
		result = append(result, copyBranch(branch))
	}

	return result, nil
}

// Update updates an existing branch.
func (r *BranchRepository) Update(ctx context.Context, branch *domain.Branch) (*domain.Branch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.branches[branch.ID]
	if !ok {
		return nil, domain.ErrNotFound
	}

	for _, b := range r.branches {
		if b.Name == branch.Name && b.ID != branch.ID {
			return nil, domain.ErrAlreadyExists
		}
	}

	branch.CreatedAt = existing.CreatedAt
	branch.UpdatedAt = time.Now()

	r.branches[branch.ID] = copyBranch(branch)
	return copyBranch(branch), nil
}

// Delete removes a branch by ID.
func (r *BranchRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.branches[id]; !ok {
		return domain.ErrNotFound
	}

	delete(r.branches, id)
	return nil
}

// AppendCommit records a commit on a branch, e.g. a merge commit.
func (r *BranchRepository) AppendCommit(ctx context.Context, id, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	branch, ok := r.branches[id]
	if !ok {
		return domain.ErrNotFound
	}

	branch.Commits = append(branch.Commits, message)
	branch.UpdatedAt = time.Now()
	return nil
}
