package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/devgrid/devgrid/internal/domain"
)

// PipelineRepository is an in-memory implementation of the pipeline
// repository. Runs are stored alongside their pipelines.
type PipelineRepository struct {
	mu        sync.RWMutex
	pipelines map[string]*domain.Pipeline
	runs      map[string]*domain.PipelineRun
}

// NewPipelineRepository creates a new in-memory pipeline repository.
func NewPipelineRepository() *PipelineRepository {
	return &PipelineRepository{
		pipelines: make(map[string]*domain.Pipeline),
		runs:      make(map[string]*domain.PipelineRun),
	}
}

func copyPipeline(p *domain.Pipeline) *domain.Pipeline {
	result := *p
	result.Gates = append([]domain.Gate(nil), p.Gates...)
	result.Triggers.BranchFilters = append([]string(nil), p.Triggers.BranchFilters...)
	result.Triggers.PathFilters = append([]string(nil), p.Triggers.PathFilters...)
	result.Triggers.ScheduledTriggers = append([]string(nil), p.Triggers.ScheduledTriggers...)
	return &result
}

func copyRun(run *domain.PipelineRun) *domain.PipelineRun {
	result := *run
	result.GateResults = append([]domain.GateResult(nil), run.GateResults...)
	return &result
}

// Create stores a new pipeline.
func (r *PipelineRepository) Create(ctx context.Context, pipeline *domain.Pipeline) (*domain.Pipeline, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if pipeline.ID == "" {
		pipeline.ID = uuid.New().String()
	}

	for _, p := range r.pipelines {
		if p.Name == pipeline.Name {
			return nil, domain.ErrAlreadyExists
		}
	}

	now := time.Now()
	pipeline.CreatedAt = now
	pipeline.UpdatedAt = now
	if pipeline.Status == "" {
		pipeline.Status = domain.PipelinePending
	}

	r.pipelines[pipeline.ID] = copyPipeline(pipeline)
	return copyPipeline(pipeline), nil
}

// Get retrieves a pipeline by ID.
func (r *PipelineRepository) Get(ctx context.Context, id string) (*domain.Pipeline, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	pipeline, ok := r.pipelines[id]
	if !ok {
		return nil, domain.ErrNotFound
	}

	return copyPipeline(pipeline), nil
}

// List returns all pipelines.
func (r *PipelineRepository) List(ctx context.Context) ([]*domain.Pipeline, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*domain.Pipeline, 0, len(r.pipelines))
	for _, pipeline := range r.pipelines {
		result = append(result, copyPipeline(pipeline))
	}

	return result, nil
}

// Update updates an existing pipeline.
func (r *PipelineRepository) Update(ctx context.Context, pipeline *domain.Pipeline) (*domain.Pipeline, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.pipelines[pipeline.ID]
	if !ok {
		return nil, domain.ErrNotFound
	}

	pipeline.CreatedAt = existing.CreatedAt
	pipeline.UpdatedAt = time.Now()

	r.pipelines[pipeline.ID] = copyPipeline(pipeline)
	return copyPipeline(pipeline), nil
}

// Delete removes a pipeline by ID.
func (r *PipelineRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.pipelines[id]; !ok {
		return domain.ErrNotFound
	}

	delete(r.pipelines, id)
	return nil
}

// =============================================================================
// Runs
// =============================================================================

// CreateRun stores a new pipeline run.
func (r *PipelineRepository) CreateRun(ctx context.Context, run *domain.PipelineRun) (*domain.PipelineRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}

	r.runs[run.ID] = copyRun(run)
	return copyRun(run), nil
}

// GetRun retrieves a run by ID.
func (r *PipelineRepository) GetRun(ctx context.Context, id string) (*domain.PipelineRun, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	run, ok := r.runs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}

	return copyRun(run), nil
}

// GetRunByApprovalRequest finds the run parked on a given approval request.
func (r *PipelineRepository) GetRunByApprovalRequest(ctx context.Context, requestID string) (*domain.PipelineRun, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, run := range r.runs {
		if run.ApprovalRequestID == requestID {
			return copyRun(run), nil
		}
	}

	return nil, domain.ErrNotFound
}

// ListRuns returns runs for a pipeline, newest first not guaranteed.
func (r *PipelineRepository) ListRuns(ctx context.Context, pipelineID string) ([]*domain.PipelineRun, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*domain.PipelineRun
	for _, run := range r.runs {
		if pipelineID == "" || run.PipelineID == pipelineID {
			result = append(result, copyRun(run))
		}
	}

	return result, nil
}

// UpdateRun updates an existing run.
func (r *PipelineRepository) UpdateRun(ctx context.Context, run *domain.PipelineRun) (*domain.PipelineRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.runs[run.ID]; !ok {
		return nil, domain.ErrNotFound
	}

	r.runs[run.ID] = copyRun(run)
	return copyRun(run), nil
}
