package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/devgrid/devgrid/internal/domain"
)

// ConnectionRepository defines the interface for service connection data access.
type ConnectionRepository interface {
	Create(ctx context.Context, conn *domain.ServiceConnection) (*domain.ServiceConnection, error)
	Get(ctx context.Context, id string) (*domain.ServiceConnection, error)
	GetByName(ctx context.Context, name string) (*domain.ServiceConnection, error)
	List(ctx context.Context) ([]*domain.ServiceConnection, error)
	Update(ctx context.Context, conn *domain.ServiceConnection) (*domain.ServiceConnection, error)
	Delete(ctx context.Context, id string) error
}

// requiredConfigKeys lists the config entries a connection type must carry
// to verify. Unknown types only need a non-empty config.
var requiredConfigKeys = map[string][]string{
	"docker-registry": {"registry", "username"},
	"kubernetes":      {"server"},
	"artifact-feed":   {"url"},
}

// ConnectionService manages service connections to external systems.
type ConnectionService struct {
	repo   ConnectionRepository
	logger *zap.Logger
}

// NewConnectionService creates a new connection service.
func NewConnectionService(repo ConnectionRepository, logger *zap.Logger) *ConnectionService {
	return &ConnectionService{
		repo:   repo,
		logger: logger.With(zap.String("service", "connections")),
	}
}

// Create registers a new service connection. New connections start ACTIVE;
// Verify downgrades them when their config turns out incomplete.
func (s *ConnectionService) Create(ctx context.Context, name, connType string, config map[string]string, createdBy string) (*domain.ServiceConnection, error) {
	if name == "" {
		return nil, fmt.Errorf("connection name is required: %w", domain.ErrInvalidArgument)
	}
	if connType == "" {
		return nil, fmt.Errorf("connection type is required: %w", domain.ErrInvalidArgument)
	}

	conn, err := s.repo.Create(ctx, &domain.ServiceConnection{
		Name:      name,
		Type:      connType,
		Config:    config,
		Status:    domain.ConnectionActive,
		CreatedBy: createdBy,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create connection: %w", err)
	}

	s.logger.Info("Service connection created",
		zap.String("connection_id", conn.ID),
		zap.String("name", name),
		zap.String("type", connType),
	)
	return conn, nil
}

// Get retrieves a service connection by ID.
func (s *ConnectionService) Get(ctx context.Context, id string) (*domain.ServiceConnection, error) {
	return s.repo.Get(ctx, id)
}

// GetByName retrieves a service connection by name.
func (s *ConnectionService) GetByName(ctx context.Context, name string) (*domain.ServiceConnection, error) {
	return s.repo.GetByName(ctx, name)
}

// List returns all service connections.
func (s *ConnectionService) List(ctx context.Context) ([]*domain.ServiceConnection, error) {
	return s.repo.List(ctx)
}

// Verify checks that a connection's config carries the entries its type
// needs, records the verification time, and updates the status to ACTIVE
// or FAILED accordingly.
func (s *ConnectionService) Verify(ctx context.Context, id string) (*domain.ServiceConnection, error) {
	conn, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	conn.LastVerifiedAt = &now
	conn.Status = domain.ConnectionActive
	for _, key := range requiredConfigKeys[conn.Type] {
		if conn.Config[key] == "" {
			conn.Status = domain.ConnectionFailed
			break
		}
	}
	if len(conn.Config) == 0 {
		conn.Status = domain.ConnectionFailed
	}

	updated, err := s.repo.Update(ctx, conn)
	if err != nil {
		return nil, fmt.Errorf("failed to record verification: %w", err)
	}

	s.logger.Info("Service connection verified",
		zap.String("connection_id", id),
		zap.String("status", string(updated.Status)),
	)
	return updated, nil
}

// Delete removes a service connection.
func (s *ConnectionService) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}

	s.logger.Info("Service connection deleted", zap.String("connection_id", id))
	return nil
}
