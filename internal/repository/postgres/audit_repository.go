// Package postgres provides PostgreSQL repository implementations.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/devgrid/devgrid/internal/domain"
)

// AuditRepository implements audit log storage using PostgreSQL.
type AuditRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewAuditRepository creates a new PostgreSQL audit repository.
func NewAuditRepository(db *DB, logger *zap.Logger) *AuditRepository {
	return &AuditRepository{
		db:     db,
		logger: logger.With(zap.String("repository", "audit")),
	}
}

// Record stores a new audit log entry.
func (r *AuditRepository) Record(ctx context.Context, entry *domain.AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	detailsJSON, err := json.Marshal(entry.Details)
	if err != nil {
		detailsJSON = []byte("{}")
	}

	query := `
		INSERT INTO audit_log (
			id, user_id, username, action, resource_type, resource_id,
			resource_name, details, ip_address, user_agent, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err = r.db.pool.Exec(ctx, query,
		entry.ID,
		nullString(entry.UserID),
		entry.Username,
		string(entry.Action),
		entry.ResourceType,
		nullString(entry.ResourceID),
		entry.ResourceName,
		detailsJSON,
		nullString(entry.IPAddress),
		entry.UserAgent,
		entry.CreatedAt,
	)

	if err != nil {
		r.logger.Error("Failed to record audit entry", zap.Error(err))
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}

	return nil
}

// List returns entries newest first, optionally filtered by user and
// resource type, limited to the given count.
func (r *AuditRepository) List(ctx context.Context, userID, resourceType string, limit int) ([]*domain.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, user_id, username, action, resource_type, resource_id,
		       resource_name, details, ip_address, user_agent, created_at
		FROM audit_log
		WHERE 1=1
	`
	args := []interface{}{}
	argNum := 1

	if userID != "" {
		query += fmt.Sprintf(" AND user_id = $%d", argNum)
		args = append(args, userID)
		argNum++
	}
	if resourceType != "" {
		query += fmt.Sprintf(" AND resource_type = $%d", argNum)
		args = append(args, resourceType)
		argNum++
	}

	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", argNum)
	args = append(args, limit)

	rows, err := r.db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []*domain.AuditEntry
	for rows.Next() {
		entry := &domain.AuditEntry{}
		var userID, resourceID, ipAddress *string
		var action string
		var detailsJSON []byte

		err := rows.Scan(
			&entry.ID,
			&userID,
			&entry.Username,
			&action,
			&entry.ResourceType,
			&resourceID,
			&entry.ResourceName,
			&detailsJSON,
			&ipAddress,
			&entry.UserAgent,
			&entry.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}

		if userID != nil {
			entry.UserID = *userID
		}
		if resourceID != nil {
			entry.ResourceID = *resourceID
		}
		if ipAddress != nil {
			entry.IPAddress = *ipAddress
		}
		entry.Action = domain.AuditAction(action)

		if len(detailsJSON) > 0 {
			if err := json.Unmarshal(detailsJSON, &entry.Details); err != nil {
				r.logger.Warn("Failed to unmarshal audit details", zap.Error(err))
			}
		}

		entries = append(entries, entry)
	}

	return entries, nil
}
