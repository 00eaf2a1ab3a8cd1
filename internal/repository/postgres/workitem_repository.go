// Package postgres provides PostgreSQL repository implementations.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/devgrid/devgrid/internal/domain"
)

// WorkItemRepository implements work item and saved query storage using
// PostgreSQL. Query criteria are stored as JSONB.
type WorkItemRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewWorkItemRepository creates a new PostgreSQL work item repository.
func NewWorkItemRepository(db *DB, logger *zap.Logger) *WorkItemRepository {
	return &WorkItemRepository{
		db:     db,
		logger: logger.With(zap.String("repository", "workitem")),
	}
}

const workItemColumns = `id, title, description, type, state, priority, assigned_to, tags, created_by, created_at, updated_at`

// Create stores a new work item.
func (r *WorkItemRepository) Create(ctx context.Context, item *domain.WorkItem) (*domain.WorkItem, error) {
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	if item.State == "" {
		item.State = domain.WorkItemNew
	}

	query := `
		INSERT INTO work_items (id, title, description, type, state, priority, assigned_to, tags, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at
	`

	err := r.db.pool.QueryRow(ctx, query,
		item.ID,
		item.Title,
		item.Description,
		string(item.Type),
		string(item.State),
		item.Priority,
		nullString(item.AssignedTo),
		item.Tags,
		item.CreatedBy,
	).Scan(&item.CreatedAt, &item.UpdatedAt)

	if err != nil {
		r.logger.Error("Failed to create work item", zap.Error(err), zap.String("title", item.Title))
		return nil, fmt.Errorf("failed to insert work item: %w", err)
	}

	r.logger.Info("Created work item", zap.String("id", item.ID), zap.String("title", item.Title))
	return item, nil
}

func (r *WorkItemRepository) scanWorkItem(row pgx.Row) (*domain.WorkItem, error) {
	item := &domain.WorkItem{}
	var itemType, state string
	var assignedTo *string

	err := row.Scan(
		&item.ID,
		&item.Title,
		&item.Description,
		&itemType,
		&state,
		&item.Priority,
		&assignedTo,
		&item.Tags,
		&item.CreatedBy,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan work item: %w", err)
	}

	item.Type = domain.WorkItemType(itemType)
	item.State = domain.WorkItemState(state)
	if assignedTo != nil {
		item.AssignedTo = *assignedTo
	}
	return item, nil
}

// Get retrieves a work item by ID.
func (r *WorkItemRepository) Get(ctx context.Context, id string) (*domain.WorkItem, error) {
	query := `SELECT ` + workItemColumns + ` FROM work_items WHERE id = $1`
	return r.scanWorkItem(r.db.pool.QueryRow(ctx, query, id))
}

// List returns work items matching the criteria.
func (r *WorkItemRepository) List(ctx context.Context, criteria domain.WorkItemCriteria) ([]*domain.WorkItem, error) {
	query := `SELECT ` + workItemColumns + ` FROM work_items WHERE 1=1`
	args := []interface{}{}
	argNum := 1

	if criteria.Type != "" {
		query += fmt.Sprintf(" AND type = $%d", argNum)
		args = append(args, string(criteria.Type))
		argNum++
	}
	if criteria.State != "" {
		query += fmt.Sprintf(" AND state = $%d", argNum)
		args = append(args, string(criteria.State))
		argNum++
	}
	if criteria.AssignedTo != "" {
		query += fmt.Sprintf(" AND assigned_to = $%d", argNum)
		args = append(args, criteria.AssignedTo)
		argNum++
	}
	if criteria.MaxPriority > 0 {
		query += fmt.Sprintf(" AND priority <= $%d", argNum)
		args = append(args, criteria.MaxPriority)
		argNum++
	}
	if criteria.Tag != "" {
		query += fmt.Sprintf(" AND $%d = ANY(tags)", argNum)
		args = append(args, criteria.Tag)
		argNum++
	}

	query += " ORDER BY priority ASC, created_at DESC"

	rows, err := r.db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list work items: %w", err)
	}
	defer rows.Close()

	var items []*domain.WorkItem
	for rows.Next() {
		item, err := r.scanWorkItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}

	return items, nil
}

// Update updates an existing work item.
func (r *WorkItemRepository) Update(ctx context.Context, item *domain.WorkItem) (*domain.WorkItem, error) {
	query := `
		UPDATE work_items
		SET title = $2, description = $3, type = $4, state = $5, priority = $6,
		    assigned_to = $7, tags = $8, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`

	err := r.db.pool.QueryRow(ctx, query,
		item.ID,
		item.Title,
		item.Description,
		string(item.Type),
		string(item.State),
		item.Priority,
		nullString(item.AssignedTo),
		item.Tags,
	).Scan(&item.UpdatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update work item: %w", err)
	}

	return item, nil
}

// Delete removes a work item by ID.
func (r *WorkItemRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.pool.Exec(ctx, `DELETE FROM work_items WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete work item: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}

	r.logger.Info("Deleted work item", zap.String("id", id))
	return nil
}

// =============================================================================
// Saved queries
// =============================================================================

// CreateQuery stores a saved query. Criteria are serialized to JSONB.
func (r *WorkItemRepository) CreateQuery(ctx context.Context, query *domain.WorkItemQuery) (*domain.WorkItemQuery, error) {
	if query.ID == "" {
		query.ID = uuid.New().String()
	}

	criteriaJSON, err := json.Marshal(query.Criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal query criteria: %w", err)
	}

	sql := `
		INSERT INTO work_item_queries (id, name, criteria, created_by)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`

	err = r.db.pool.QueryRow(ctx, sql,
		query.ID,
		query.Name,
		criteriaJSON,
		query.CreatedBy,
	).Scan(&query.CreatedAt)

	if err != nil {
		if isUniqueViolation(err) {
			return nil, domain.ErrAlreadyExists
		}
		return nil, fmt.Errorf("failed to insert saved query: %w", err)
	}

	return query, nil
}

// GetQueryByName retrieves a saved query by name.
func (r *WorkItemRepository) GetQueryByName(ctx context.Context, name string) (*domain.WorkItemQuery, error) {
	sql := `SELECT id, name, criteria, created_by, created_at FROM work_item_queries WHERE name = $1`

	query := &domain.WorkItemQuery{}
	var criteriaJSON []byte

	err := r.db.pool.QueryRow(ctx, sql, name).Scan(
		&query.ID,
		&query.Name,
		&criteriaJSON,
		&query.CreatedBy,
		&query.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get saved query: %w", err)
	}

	if err := json.Unmarshal(criteriaJSON, &query.Criteria); err != nil {
		return nil, fmt.Errorf("failed to unmarshal query criteria: %w", err)
	}

	return query, nil
}

// ListQueries returns all saved queries.
func (r *WorkItemRepository) ListQueries(ctx context.Context) ([]*domain.WorkItemQuery, error) {
	sql := `SELECT id, name, criteria, created_by, created_at FROM work_item_queries ORDER BY name ASC`

	rows, err := r.db.pool.Query(ctx, sql)
	if err != nil {
		return nil, fmt.Errorf("failed to list saved queries: %w", err)
	}
	defer rows.Close()

	var queries []*domain.WorkItemQuery
	for rows.Next() {
		query := &domain.WorkItemQuery{}
		var criteriaJSON []byte

		if err := rows.Scan(&query.ID, &query.Name, &criteriaJSON, &query.CreatedBy, &query.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan saved query: %w", err)
		}
		if err := json.Unmarshal(criteriaJSON, &query.Criteria); err != nil {
			return nil, fmt.Errorf("failed to unmarshal query criteria: %w", err)
		}
		queries = append(queries, query)
	}

	return queries, nil
}
