package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/devgrid/devgrid/internal/domain"
	"github.com/devgrid/devgrid/internal/repository/etcd"
)

// AgentRepository defines the interface for agent pool data access.
type AgentRepository interface {
	CreatePool(ctx context.Context, pool *domain.AgentPool) (*domain.AgentPool, error)
	GetPool(ctx context.Context, id string) (*domain.AgentPool, error)
	ListPools(ctx context.Context) ([]*domain.AgentPool, error)
	DeletePool(ctx context.Context, id string) error
	RegisterAgent(ctx context.Context, agent *domain.Agent) (*domain.Agent, error)
	GetAgent(ctx context.Context, id string) (*domain.Agent, error)
	ListAgents(ctx context.Context, poolID string) ([]*domain.Agent, error)
	UpdateAgent(ctx context.Context, agent *domain.Agent) (*domain.Agent, error)
	TouchAgent(ctx context.Context, id string, status domain.AgentStatus) error
	UnregisterAgent(ctx context.Context, id string) error
}

// AgentRegistry mirrors agent liveness into a shared store so all control
// plane replicas see the same registry.
type AgentRegistry interface {
	RegisterAgent(ctx context.Context, state etcd.AgentState) error
	UpdateAgentHeartbeat(ctx context.Context, agentID string) error
	DeregisterAgent(ctx context.Context, agentID string) error
	GetAgents(ctx context.Context) ([]etcd.AgentState, error)
}

// staleAfter is how long an agent may go without a heartbeat before
// ListAgents reports it offline.
const staleAfter = 2 * time.Minute

// AgentService manages agent pools and self-hosted build agents.
type AgentService struct {
	repo     AgentRepository
	registry AgentRegistry
	logger   *zap.Logger
}

// NewAgentService creates a new agent service. The registry is optional.
func NewAgentService(repo AgentRepository, registry AgentRegistry, logger *zap.Logger) *AgentService {
	return &AgentService{
		repo:     repo,
		registry: registry,
		logger:   logger.With(zap.String("service", "agents")),
	}
}

// CreatePool creates a new agent pool.
func (s *AgentService) CreatePool(ctx context.Context, name, description string) (*domain.AgentPool, error) {
	if name == "" {
		return nil, fmt.Errorf("pool name is required: %w", domain.ErrInvalidArgument)
	}

	pool, err := s.repo.CreatePool(ctx, &domain.AgentPool{Name: name, Description: description})
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	s.logger.Info("Agent pool created", zap.String("pool_id", pool.ID), zap.String("name", name))
	return pool, nil
}

// GetPool retrieves a pool by ID.
func (s *AgentService) GetPool(ctx context.Context, id string) (*domain.AgentPool, error) {
	return s.repo.GetPool(ctx, id)
}

// ListPools returns all agent pools.
func (s *AgentService) ListPools(ctx context.Context) ([]*domain.AgentPool, error) {
	return s.repo.ListPools(ctx)
}

// DeletePool removes a pool. Pools with registered agents cannot be deleted.
func (s *AgentService) DeletePool(ctx context.Context, id string) error {
	return s.repo.DeletePool(ctx, id)
}

// Register registers a build agent in a pool.
func (s *AgentService) Register(ctx context.Context, poolID, name, os string, capabilities []string) (*domain.Agent, error) {
	if name == "" {
		return nil, fmt.Errorf("agent name is required: %w", domain.ErrInvalidArgument)
	}

	agent, err := s.repo.RegisterAgent(ctx, &domain.Agent{
		Name:         name,
		PoolID:       poolID,
		OS:           os,
		Capabilities: capabilities,
		Status:       domain.AgentOnline,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to register agent: %w", err)
	}

	if s.registry != nil {
		state := etcd.AgentState{ID: agent.ID, Name: agent.Name, PoolID: agent.PoolID}
		if err := s.registry.RegisterAgent(ctx, state); err != nil {
			s.logger.Warn("Failed to register agent in shared registry", zap.Error(err))
		}
	}

	s.logger.Info("Agent registered",
		zap.String("agent_id", agent.ID),
		zap.String("pool_id", poolID),
		zap.String("name", name),
	)
	return agent, nil
}

// Heartbeat records a liveness report from an agent.
func (s *AgentService) Heartbeat(ctx context.Context, agentID string, busy bool) error {
	status := domain.AgentOnline
	if busy {
		status = domain.AgentBusy
	}

	if err := s.repo.TouchAgent(ctx, agentID, status); err != nil {
		return err
	}

	if s.registry != nil {
		if err := s.registry.UpdateAgentHeartbeat(ctx, agentID); err != nil {
			s.logger.Warn("Failed to update shared heartbeat", zap.Error(err))
		}
	}
	return nil
}

// ListAgents returns the agents in a pool. Agents whose last heartbeat is
// older than the staleness window are reported offline.
func (s *AgentService) ListAgents(ctx context.Context, poolID string) ([]*domain.Agent, error) {
	agents, err := s.repo.ListAgents(ctx, poolID)
	if err != nil {
		return nil, err
	}

	cutoff := time.Now().Add(-staleAfter)
	for _, agent := range agents {
		if agent.Status != domain.AgentOffline && agent.LastSeen.Before(cutoff) {
			agent.Status = domain.AgentOffline
		}
	}
	return agents, nil
}

// SweepStale persists OFFLINE status for every agent whose last heartbeat
// is older than the staleness window, across all pools. Returns the number
// of agents marked offline.
func (s *AgentService) SweepStale(ctx context.Context) (int, error) {
	pools, err := s.repo.ListPools(ctx)
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-staleAfter)
	swept := 0
	for _, pool := range pools {
		agents, err := s.repo.ListAgents(ctx, pool.ID)
		if err != nil {
			return swept, err
		}
		for _, agent := range agents {
			if agent.Status == domain.AgentOffline || !agent.LastSeen.Before(cutoff) {
				continue
			}
			agent.Status = domain.AgentOffline
			if _, err := s.repo.UpdateAgent(ctx, agent); err != nil {
				s.logger.Warn("Failed to mark agent offline",
					zap.String("agent_id", agent.ID), zap.Error(err))
				continue
			}
			swept++
		}
	}

	if swept > 0 {
		s.logger.Info("Stale agents marked offline", zap.Int("count", swept))
	}
	return swept, nil
}

// PickAgent selects an online agent from a pool with all required
// capabilities, or ErrUnavailable when none qualifies.
func (s *AgentService) PickAgent(ctx context.Context, poolID string, required []string) (*domain.Agent, error) {
	agents, err := s.ListAgents(ctx, poolID)
	if err != nil {
		return nil, err
	}

	for _, agent := range agents {
		if agent.Status != domain.AgentOnline {
			continue
		}
		if hasCapabilities(agent, required) {
			return agent, nil
		}
	}

	return nil, fmt.Errorf("no agent available in pool %q: %w", poolID, domain.ErrUnavailable)
}

// RegistryAgents returns the cluster-wide agent registry as every control
// plane replica sees it, or ErrUnavailable when no shared registry is
// configured.
func (s *AgentService) RegistryAgents(ctx context.Context) ([]etcd.AgentState, error) {
	if s.registry == nil {
		return nil, fmt.Errorf("no shared agent registry configured: %w", domain.ErrUnavailable)
	}
	return s.registry.GetAgents(ctx)
}

// Unregister removes an agent.
func (s *AgentService) Unregister(ctx context.Context, agentID string) error {
	if err := s.repo.UnregisterAgent(ctx, agentID); err != nil {
		return err
	}

	if s.registry != nil {
		if err := s.registry.DeregisterAgent(ctx, agentID); err != nil {
			s.logger.Warn("Failed to deregister agent from shared registry", zap.Error(err))
		}
	}

	s.logger.Info("Agent unregistered", zap.String("agent_id", agentID))
	return nil
}

func hasCapabilities(agent *domain.Agent, required []string) bool {
	for _, req := range required {
		found := false
		for _, cap := range agent.Capabilities {
			if cap == req {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
