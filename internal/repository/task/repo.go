package task

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/dbpg"

	"github.com/medialens/mediaproc/internal/model"
)

var (
	ErrTaskNotFound = errors.New("task not found")

	// ErrTaskTerminal is returned when an update targets a task that has
	// already reached completed or failed.
	ErrTaskTerminal = errors.New("task already in terminal status")
)

type Repository struct {
	db *dbpg.DB
}

func NewRepository(db *dbpg.DB) *Repository {
	return &Repository{db: db}
}

// Create persists a new task in processing status.
func (r *Repository) Create(ctx context.Context, t model.Task) error {
	query := `
		INSERT INTO tasks (id, status, task_type, source_bucket, source_key, target_bucket, target_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
   `

	_, err := r.db.Master.ExecContext(
		ctx, query, t.ID, t.Status, t.TaskType, t.SourceBucket, t.SourceKey, t.TargetBucket, t.TargetKey,
	)
	if err != nil {
		return fmt.Errorf("create: failed to save task: %w", err)
	}

	return nil
}

// Get returns the task record by id.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (model.Task, error) {
	query := `
		SELECT status, task_type, source_bucket, source_key, target_bucket, target_key,
		       COALESCE(error_message, ''), created_at, updated_at
		FROM tasks
		WHERE id = $1
    `

	var t model.Task
	t.ID = id
	err := r.db.Master.QueryRowContext(
		ctx, query, id,
	).Scan(&t.Status, &t.TaskType, &t.SourceBucket, &t.SourceKey, &t.TargetBucket, &t.TargetKey,
		&t.ErrorMessage, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Task{}, ErrTaskNotFound
		}

		return model.Task{}, fmt.Errorf("get: failed to get task: %w", err)
	}

	return t, nil
}

// MarkCompleted transitions a processing task to completed.
func (r *Repository) MarkCompleted(ctx context.Context, id uuid.UUID) error {
	return r.finish(ctx, id, model.StatusCompleted, "")
}

// MarkFailed transitions a processing task to failed with an error message.
func (r *Repository) MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error {
	return r.finish(ctx, id, model.StatusFailed, errMsg)
}

// finish applies a terminal status. The status guard makes the transition
// single-shot: a task that already completed or failed is left untouched and
// ErrTaskTerminal is returned.
func (r *Repository) finish(ctx context.Context, id uuid.UUID, status model.TaskStatus, errMsg string) error {
	query := `
		UPDATE tasks
		SET status = $2, error_message = NULLIF($3, ''), updated_at = now()
		WHERE id = $1 AND status = $4
    `

	res, err := r.db.Master.ExecContext(ctx, query, id, status, errMsg, model.StatusProcessing)
	if err != nil {
		return fmt.Errorf("finish: failed to update task: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish: failed to get number of rows affected: %w", err)
	}

	if n == 0 {
		if _, err := r.Get(ctx, id); err != nil {
			return err
		}
		return ErrTaskTerminal
	}

	return nil
}
