package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/devgrid/devgrid/internal/domain"
)

// ConnectionRepository is an in-memory store for service connections.
type ConnectionRepository struct {
	mu          sync.RWMutex
	connections map[string]*domain.ServiceConnection
}

// NewConnectionRepository creates a new in-memory connection repository.
func NewConnectionRepository() *ConnectionRepository {
	return &ConnectionRepository{connections: make(map[string]*domain.ServiceConnection)}
}

func copyConnection(c *domain.ServiceConnection) *domain.ServiceConnection {
	result := *c
	result.Config = make(map[string]string, len(c.Config))
	for k, v := range c.Config {
		result.Config[k] = v
	}
	if c.LastVerifiedAt != nil {
		t := *c.LastVerifiedAt
		result.LastVerifiedAt = &t
	}
	return &result
}

// Create stores a new service connection. Names are unique.
func (r *ConnectionRepository) Create(ctx context.Context, conn *domain.ServiceConnection) (*domain.ServiceConnection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range r.connections {
		if c.Name == conn.Name {
			return nil, domain.ErrAlreadyExists
		}
	}

	if conn.ID == "" {
		conn.ID = uuid.New().String()
	}
	conn.CreatedAt = time.Now()
	if conn.Config == nil {
		conn.Config = make(map[string]string)
	}

	r.connections[conn.ID] = copyConnection(conn)
	return copyConnection(conn), nil
}

// Get retrieves a service connection by ID.
func (r *ConnectionRepository) Get(ctx context.Context, id string) (*domain.ServiceConnection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.connections[id]
	if !ok {
		return nil, domain.ErrNotFound
	}

	return copyConnection(conn), nil
}

// GetByName retrieves a service connection by name.
func (r *ConnectionRepository) GetByName(ctx context.Context, name string) (*domain.ServiceConnection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, conn := range r.connections {
		if conn.Name == name {
			return copyConnection(conn), nil
		}
	}

	return nil, domain.ErrNotFound
}

// List returns all service connections.
func (r *ConnectionRepository) List(ctx context.Context) ([]*domain.ServiceConnection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*domain.ServiceConnection, 0, len(r.connections))
	for _, conn := range r.connections {
		result = append(result, copyConnection(conn))
	}

	return result, nil
}

// Update updates an existing service connection.
func (r *ConnectionRepository) Update(ctx context.Context, conn *domain.ServiceConnection) (*domain.ServiceConnection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.connections[conn.ID]
	if !ok {
		return nil, domain.ErrNotFound
	}

	conn.CreatedAt = existing.CreatedAt

	r.connections[conn.ID] = copyConnection(conn)
	return copyConnection(conn), nil
}

// Delete removes a service connection by ID.
func (r *ConnectionRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.connections[id]; !ok {
		return domain.ErrNotFound
	}

	delete(r.connections, id)
	return nil
}
