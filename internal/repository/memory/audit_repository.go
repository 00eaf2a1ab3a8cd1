package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/devgrid/devgrid/internal/domain"
)

// AuditRepository is an in-memory audit log. Entries are append-only.
type AuditRepository struct {
	mu      sync.RWMutex
	entries []*domain.AuditEntry
}

// NewAuditRepository creates a new in-memory audit repository.
func NewAuditRepository() *AuditRepository {
	return &AuditRepository{}
}

func copyAuditEntry(e *domain.AuditEntry) *domain.AuditEntry {
	result := *e
	if e.Details != nil {
		result.Details = make(map[string]interface{}, len(e.Details))
		for k, v := range e.Details {
			result.Details[k] = v
		}
	}
	return &result
}

// Record appends an audit entry.
func (r *AuditRepository) Record(ctx context.Context, entry *domain.AuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	r.entries = append(r.entries, copyAuditEntry(entry))
	return nil
}

// List returns entries newest first, optionally filtered by user and
// resource type, limited to the given count.
func (r *AuditRepository) List(ctx context.Context, userID, resourceType string, limit int) ([]*domain.AuditEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}

	var result []*domain.AuditEntry
	for i := len(r.entries) - 1; i >= 0 && len(result) < limit; i-- {
		entry := r.entries[i]
		if userID != "" && entry.UserID != userID {
			continue
		}
		if resourceType != "" && entry.ResourceType != resourceType {
			continue
		}
		result = append(result, copyAuditEntry(entry))
	}

	return result, nil
}
