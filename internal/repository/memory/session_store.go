package memory

import (
	"context"
	"sync"

	"github.com/devgrid/devgrid/internal/domain"
)

// SessionStore is an in-memory session store for development mode.
// Sessions do not survive a restart and are not shared across replicas;
// production deployments use Redis instead.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]string // sessionID -> userID
}

// NewSessionStore creates a new in-memory session store.
func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]string)}
}

// SetSession stores a session.
func (s *SessionStore) SetSession(ctx context.Context, sessionID string, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[sessionID] = userID
	return nil
}

// GetSession retrieves the user ID for a session.
func (s *SessionStore) GetSession(ctx context.Context, sessionID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	userID, ok := s.sessions[sessionID]
	if !ok {
		return "", domain.ErrNotFound
	}
	return userID, nil
}

// DeleteSession removes a session.
func (s *SessionStore) DeleteSession(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, sessionID)
	return nil
}
