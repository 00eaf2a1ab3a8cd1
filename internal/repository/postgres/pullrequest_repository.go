// Package postgres provides PostgreSQL repository implementations.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/devgrid/devgrid/internal/domain"
)

// PullRequestRepository implements pull request storage using PostgreSQL.
// Reviewer, approval and work item lists are stored as text arrays.
type PullRequestRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewPullRequestRepository creates a new PostgreSQL pull request repository.
func NewPullRequestRepository(db *DB, logger *zap.Logger) *PullRequestRepository {
	return &PullRequestRepository{
		db:     db,
		logger: logger.With(zap.String("repository", "pullrequest")),
	}
}

const prColumns = `id, title, description, source_branch, target_branch, author_id, status,
       reviewers, approvals, work_items, created_at, updated_at, completed_at, completed_by`

// Create stores a new pull request.
func (r *PullRequestRepository) Create(ctx context.Context, pr *domain.PullRequest) (*domain.PullRequest, error) {
	if pr.ID == "" {
		pr.ID = uuid.New().String()
	}
	if pr.Status == "" {
		pr.Status = domain.PullRequestActive
	}

	query := `
		INSERT INTO pull_requests (id, title, description, source_branch, target_branch, author_id, status, reviewers, approvals, work_items)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at
	`

	err := r.db.pool.QueryRow(ctx, query,
		pr.ID,
		pr.Title,
		pr.Description,
		pr.SourceBranch,
		pr.TargetBranch,
		pr.AuthorID,
		string(pr.Status),
		pr.Reviewers,
		pr.Approvals,
		pr.WorkItems,
	).Scan(&pr.CreatedAt, &pr.UpdatedAt)

	if err != nil {
		r.logger.Error("Failed to create pull request", zap.Error(err), zap.String("title", pr.Title))
		return nil, fmt.Errorf("failed to insert pull request: %w", err)
	}

	r.logger.Info("Created pull request", zap.String("id", pr.ID), zap.String("title", pr.Title))
	return pr, nil
}

func (r *PullRequestRepository) scanPR(row pgx.Row) (*domain.PullRequest, error) {
	pr := &domain.PullRequest{}
	var status string
	var completedAt *time.Time
	var completedBy *string

	err := row.Scan(
		&pr.ID,
		&pr.Title,
		&pr.Description,
		&pr.SourceBranch,
		&pr.TargetBranch,
		&pr.AuthorID,
		&status,
		&pr.Reviewers,
		&pr.Approvals,
		&pr.WorkItems,
		&pr.CreatedAt,
		&pr.UpdatedAt,
		&completedAt,
		&completedBy,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan pull request: %w", err)
	}

	pr.Status = domain.PullRequestStatus(status)
	pr.CompletedAt = completedAt
	if completedBy != nil {
		pr.CompletedBy = *completedBy
	}
	return pr, nil
}

// Get retrieves a pull request by ID.
func (r *PullRequestRepository) Get(ctx context.Context, id string) (*domain.PullRequest, error) {
	query := `SELECT ` + prColumns + ` FROM pull_requests WHERE id = $1`
	return r.scanPR(r.db.pool.QueryRow(ctx, query, id))
}

// List returns pull requests, optionally filtered by status and target branch.
func (r *PullRequestRepository) List(ctx context.Context, status domain.PullRequestStatus, targetBranch string) ([]*domain.PullRequest, error) {
	query := `SELECT ` + prColumns + ` FROM pull_requests WHERE 1=1`
	args := []interface{}{}
	argNum := 1

	if status != "" {
		query += fmt.Sprintf(" AND status = $%d", argNum)
		args = append(args, string(status))
		argNum++
	}
	if targetBranch != "" {
		query += fmt.Sprintf(" AND target_branch = $%d", argNum)
		args = append(args, targetBranch)
		argNum++
	}

	query += " ORDER BY created_at DESC"

	rows, err := r.db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list pull requests: %w", err)
	}
	defer rows.Close()

	var prs []*domain.PullRequest
	for rows.Next() {
		pr, err := r.scanPR(rows)
		if err != nil {
			return nil, err
		}
		prs = append(prs, pr)
	}

	return prs, nil
}

// Update updates an existing pull request.
func (r *PullRequestRepository) Update(ctx context.Context, pr *domain.PullRequest) (*domain.PullRequest, error) {
	query := `
		UPDATE pull_requests
		SET title = $2, description = $3, status = $4, reviewers = $5, approvals = $6,
		    work_items = $7, completed_at = $8, completed_by = $9, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`

	err := r.db.pool.QueryRow(ctx, query,
		pr.ID,
		pr.Title,
		pr.Description,
		string(pr.Status),
		pr.Reviewers,
		pr.Approvals,
		pr.WorkItems,
		pr.CompletedAt,
		nullString(pr.CompletedBy),
	).Scan(&pr.UpdatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update pull request: %w", err)
	}

	return pr, nil
}

// Delete removes a pull request by ID.
func (r *PullRequestRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.pool.Exec(ctx, `DELETE FROM pull_requests WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete pull request: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}

	r.logger.Info("Deleted pull request", zap.String("id", id))
	return nil
}
