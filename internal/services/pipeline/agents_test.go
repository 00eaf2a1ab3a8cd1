package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/devgrid/devgrid/internal/domain"
	"github.com/devgrid/devgrid/internal/repository/etcd"
	"github.com/devgrid/devgrid/internal/repository/memory"
)

func newAgentService() (*AgentService, *memory.AgentRepository) {
	repo := memory.NewAgentRepository()
	return NewAgentService(repo, nil, zap.NewNop()), repo
}

func TestRegister_AgentOnline(t *testing.T) {
	svc, _ := newAgentService()
	ctx := context.Background()

	pool, err := svc.CreatePool(ctx, "linux-builders", "self-hosted linux agents")
	if err != nil {
		t.Fatalf("CreatePool failed: %v", err)
	}

	agent, err := svc.Register(ctx, pool.ID, "builder-01", "linux", []string{"docker", "go"})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if agent.Status != domain.AgentOnline {
		t.Errorf("Expected ONLINE, got %s", agent.Status)
	}
}

func TestHeartbeat_BusyStatus(t *testing.T) {
	svc, _ := newAgentService()
	ctx := context.Background()

	pool, _ := svc.CreatePool(ctx, "linux-builders", "")
	agent, _ := svc.Register(ctx, pool.ID, "builder-01", "linux", nil)

	if err := svc.Heartbeat(ctx, agent.ID, true); err != nil {
		t.Fatalf("Heartbeat failed: %v", err)
	}

	agents, _ := svc.ListAgents(ctx, pool.ID)
	if agents[0].Status != domain.AgentBusy {
		t.Errorf("Expected BUSY after busy heartbeat, got %s", agents[0].Status)
	}
}

func TestListAgents_StaleReportedOffline(t *testing.T) {
	svc, repo := newAgentService()
	ctx := context.Background()

	pool, _ := svc.CreatePool(ctx, "linux-builders", "")
	agent, _ := svc.Register(ctx, pool.ID, "builder-01", "linux", nil)

	// Age the agent past the staleness window.
	stale, _ := repo.GetAgent(ctx, agent.ID)
	stale.LastSeen = time.Now().Add(-staleAfter - time.Minute)
	if _, err := repo.UpdateAgent(ctx, stale); err != nil {
		t.Fatalf("UpdateAgent failed: %v", err)
	}

	agents, err := svc.ListAgents(ctx, pool.ID)
	if err != nil {
		t.Fatalf("ListAgents failed: %v", err)
	}
	if agents[0].Status != domain.AgentOffline {
		t.Errorf("Expected stale agent reported OFFLINE, got %s", agents[0].Status)
	}
}

func TestSweepStale_PersistsOffline(t *testing.T) {
	svc, repo := newAgentService()
	ctx := context.Background()

	pool, _ := svc.CreatePool(ctx, "linux-builders", "")
	fresh, _ := svc.Register(ctx, pool.ID, "fresh", "linux", nil)
	stale, _ := svc.Register(ctx, pool.ID, "stale", "linux", nil)

	aged, _ := repo.GetAgent(ctx, stale.ID)
	aged.LastSeen = time.Now().Add(-staleAfter - time.Minute)
	if _, err := repo.UpdateAgent(ctx, aged); err != nil {
		t.Fatalf("UpdateAgent failed: %v", err)
	}

	swept, err := svc.SweepStale(ctx)
	if err != nil {
		t.Fatalf("SweepStale failed: %v", err)
	}
	if swept != 1 {
		t.Fatalf("Expected 1 agent swept, got %d", swept)
	}

	got, _ := repo.GetAgent(ctx, stale.ID)
	if got.Status != domain.AgentOffline {
		t.Errorf("Expected stale agent stored OFFLINE, got %s", got.Status)
	}
	got, _ = repo.GetAgent(ctx, fresh.ID)
	if got.Status != domain.AgentOnline {
		t.Errorf("Expected fresh agent untouched, got %s", got.Status)
	}
}

func TestPickAgent_MatchesCapabilities(t *testing.T) {
	svc, _ := newAgentService()
	ctx := context.Background()

	pool, _ := svc.CreatePool(ctx, "linux-builders", "")
	svc.Register(ctx, pool.ID, "plain", "linux", []string{"go"})
	docker, _ := svc.Register(ctx, pool.ID, "docker-host", "linux", []string{"go", "docker"})

	picked, err := svc.PickAgent(ctx, pool.ID, []string{"docker"})
	if err != nil {
		t.Fatalf("PickAgent failed: %v", err)
	}
	if picked.ID != docker.ID {
		t.Errorf("Expected docker-capable agent, got %s", picked.Name)
	}
}

func TestPickAgent_NoneAvailable(t *testing.T) {
	svc, _ := newAgentService()
	ctx := context.Background()

	pool, _ := svc.CreatePool(ctx, "linux-builders", "")
	svc.Register(ctx, pool.ID, "plain", "linux", []string{"go"})

	_, err := svc.PickAgent(ctx, pool.ID, []string{"gpu"})
	if !errors.Is(err, domain.ErrUnavailable) {
		t.Fatalf("Expected ErrUnavailable, got %v", err)
	}
}

func TestDeletePool_WithAgentsRefused(t *testing.T) {
	svc, _ := newAgentService()
	ctx := context.Background()

	pool, _ := svc.CreatePool(ctx, "linux-builders", "")
	svc.Register(ctx, pool.ID, "builder-01", "linux", nil)

	if err := svc.DeletePool(ctx, pool.ID); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("Expected ErrConflict deleting a pool with agents, got %v", err)
	}
}

type stubRegistry struct {
	agents map[string]etcd.AgentState
}

func newStubRegistry() *stubRegistry {
	return &stubRegistry{agents: make(map[string]etcd.AgentState)}
}

func (r *stubRegistry) RegisterAgent(ctx context.Context, state etcd.AgentState) error {
	state.LastSeen = time.Now()
	r.agents[state.ID] = state
	return nil
}

func (r *stubRegistry) UpdateAgentHeartbeat(ctx context.Context, agentID string) error {
	state, ok := r.agents[agentID]
	if !ok {
		return errors.New("unknown agent")
	}
	state.LastSeen = time.Now()
	r.agents[agentID] = state
	return nil
}

func (r *stubRegistry) DeregisterAgent(ctx context.Context, agentID string) error {
	delete(r.agents, agentID)
	return nil
}

func (r *stubRegistry) GetAgents(ctx context.Context) ([]etcd.AgentState, error) {
	states := make([]etcd.AgentState, 0, len(r.agents))
	for _, s := range r.agents {
		states = append(states, s)
	}
	return states, nil
}

func TestRegistryAgents_ReflectsRegistrations(t *testing.T) {
	registry := newStubRegistry()
	svc := NewAgentService(memory.NewAgentRepository(), registry, zap.NewNop())
	ctx := context.Background()

	pool, _ := svc.CreatePool(ctx, "linux-builders", "")
	agent, _ := svc.Register(ctx, pool.ID, "builder-01", "linux", nil)

	states, err := svc.RegistryAgents(ctx)
	if err != nil {
		t.Fatalf("RegistryAgents failed: %v", err)
	}
	if len(states) != 1 || states[0].ID != agent.ID {
		t.Fatalf("Expected the registered agent in the shared registry, got %v", states)
	}

	if err := svc.Unregister(ctx, agent.ID); err != nil {
		t.Fatalf("Unregister failed: %v", err)
	}
	states, _ = svc.RegistryAgents(ctx)
	if len(states) != 0 {
		t.Errorf("Expected empty registry after unregister, got %v", states)
	}
}

func TestRegistryAgents_NoRegistry(t *testing.T) {
	svc, _ := newAgentService()

	_, err := svc.RegistryAgents(context.Background())
	if !errors.Is(err, domain.ErrUnavailable) {
		t.Fatalf("Expected ErrUnavailable without a registry, got %v", err)
	}
}
