package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/devgrid/devgrid/internal/domain"
)

// AgentRepository is an in-memory store for agent pools and the
// self-hosted build agents registered in them.
type AgentRepository struct {
	mu     sync.RWMutex
	pools  map[string]*domain.AgentPool
	agents map[string]*domain.Agent
}

// NewAgentRepository creates a new in-memory agent repository.
func NewAgentRepository() *AgentRepository {
	return &AgentRepository{
		pools:  make(map[string]*domain.AgentPool),
		agents: make(map[string]*domain.Agent),
	}
}

func copyAgent(a *domain.Agent) *domain.Agent {
	result := *a
	result.Capabilities = append([]string(nil), a.Capabilities...)
	return &result
}

// CreatePool stores a new agent pool.
func (r *AgentRepository) CreatePool(ctx context.Context, pool *domain.AgentPool) (*domain.AgentPool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if pool.ID == "" {
		pool.ID = uuid.New().String()
	}

	for _, p := range r.pools {
		if p.Name == pool.Name {
			return nil, domain.ErrAlreadyExists
		}
	}

	pool.CreatedAt = time.Now()

	stored := *pool
	r.pools[pool.ID] = &stored

	result := stored
	return &result, nil
}

// GetPool retrieves an agent pool by ID.
func (r *AgentRepository) GetPool(ctx context.Context, id string) (*domain.AgentPool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	pool, ok := r.pools[id]
	if !ok {
		return nil, domain.ErrNotFound
	}

	result := *pool
	return &result, nil
}

// ListPools returns all agent pools.
func (r *AgentRepository) ListPools(ctx context.Context) ([]*domain.AgentPool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*domain.AgentPool, 0, len(r.pools))
	for _, pool := range r.pools {
		p := *pool
		result = append(result, &p)
	}

	return result, nil
}

// DeletePool removes an agent pool. Pools with registered agents cannot
// be deleted.
func (r *AgentRepository) DeletePool(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.pools[id]; !ok {
		return domain.ErrNotFound
	}

	for _, agent := range r.agents {
		if agent.PoolID == id {
			return domain.ErrConflict
		}
	}

	delete(r.pools, id)
	return nil
}

// =============================================================================
// Agents
// =============================================================================

// RegisterAgent stores a new agent in a pool.
func (r *AgentRepository) RegisterAgent(ctx context.Context, agent *domain.Agent) (*domain.Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.pools[agent.PoolID]; !ok {
		return nil, domain.ErrNotFound
	}

	if agent.ID == "" {
		agent.ID = uuid.New().String()
	}

	for _, a := range r.agents {
		if a.PoolID == agent.PoolID && a.Name == agent.Name {
			return nil, domain.ErrAlreadyExists
		}
	}

	now := time.Now()
	agent.RegisteredAt = now
	agent.LastSeen = now
	if agent.Status == "" {
		agent.Status = domain.AgentOnline
	}

	r.agents[agent.ID] = copyAgent(agent)
	return copyAgent(agent), nil
}

// GetAgent retrieves an agent by ID.
func (r *AgentRepository) GetAgent(ctx context.Context, id string) (*domain.Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	agent, ok := r.agents[id]
	if !ok {
		return nil, domain.ErrNotFound
	}

	return copyAgent(agent), nil
}

// ListAgents returns agents, optionally filtered by pool.
func (r *AgentRepository) ListAgents(ctx context.Context, poolID string) ([]*domain.Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*domain.Agent
	for _, agent := range r.agents {
		if poolID == "" || agent.PoolID == poolID {
			result = append(result, copyAgent(agent))
		}
	}

	return result, nil
}

// UpdateAgent updates an existing agent.
func (r *AgentRepository) UpdateAgent(ctx context.Context, agent *domain.Agent) (*domain.Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.agents[agent.ID]
	if !ok {
		return nil, domain.ErrNotFound
	}

	agent.RegisteredAt = existing.RegisteredAt

	r.agents[agent.ID] = copyAgent(agent)
	return copyAgent(agent), nil
}

// TouchAgent updates an agent's status and last-seen timestamp.
func (r *AgentRepository) TouchAgent(ctx context.Context, id string, status domain.AgentStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	agent, ok := r.agents[id]
	if !ok {
		return domain.ErrNotFound
	}

	agent.Status = status
	agent.LastSeen = time.Now()
	return nil
}

// UnregisterAgent removes an agent by ID.
func (r *AgentRepository) UnregisterAgent(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.agents[id]; !ok {
		return domain.ErrNotFound
	}

	delete(r.agents, id)
	return nil
}
