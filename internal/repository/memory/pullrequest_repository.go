package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/devgrid/devgrid/internal/domain"
)

// PullRequestRepository is an in-memory implementation of the pull request repository.
type PullRequestRepository struct {
	mu  sync.RWMutex
	prs map[string]*domain.PullRequest
}

// NewPullRequestRepository creates a new in-memory pull request repository.
func NewPullRequestRepository() *PullRequestRepository {
	return &PullRequestRepository{
		prs: make(map[string]*domain.PullRequest),
	}
}

func copyPullRequest(pr *domain.PullRequest) *domain.PullRequest {
	result := *pr
	result.Reviewers = append([]string(nil), pr.Reviewers...)
	result.Approvals = append([]string(nil), pr.Approvals...)
	result.WorkItems = append([]string(nil), pr.WorkItems...)
	return &result
}

// Create stores a new pull request.
func (r *PullRequestRepository) Create(ctx context.Context, pr *domain.PullRequest) (*domain.PullRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if pr.ID == "" {
		pr.ID = uuid.New().String()
	}

	now := time.Now()
	pr.CreatedAt = now
	pr.UpdatedAt = now
	if pr.Status == "" {
		pr.Status = domain.PullRequestActive
	}

	r.prs[pr.ID] = copyPullRequest(pr)
	return copyPullRequest(pr), nil
}

// Get retrieves a pull request by ID.
func (r *PullRequestRepository) Get(ctx context.Context, id string) (*domain.PullRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	pr, ok := r.prs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}

	return copyPullRequest(pr), nil
}

// List returns pull requests, optionally filtered by status and target branch.
func (r *PullRequestRepository) List(ctx context.Context, status domain.PullRequestStatus, targetBranch string) ([]*domain.PullRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*domain.PullRequest
	for _, pr := range r.prs {
		if status != "" && pr.Status != status {
			continue
		}
		if targetBranch != "" && pr.TargetBranch != targetBranch {
			continue
		}
		result = append(result, copyPullRequest(pr))
	}

	return result, nil
}

// Update updates an existing pull request.
func (r *PullRequestRepository) Update(ctx context.Context, pr *domain.PullRequest) (*domain.PullRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.prs[pr.ID]
	if !ok {
		return nil, domain.ErrNotFound
	}

	pr.CreatedAt = existing.CreatedAt
	pr.UpdatedAt = time.Now()

	r.prs[pr.ID] = copyPullRequest(pr)
	return copyPullRequest(pr), nil
}

// Delete removes a pull request by ID.
func (r *PullRequestRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.prs[id]; !ok {
		return domain.ErrNotFound
	}

	delete(r.prs, id)
	return nil
}
