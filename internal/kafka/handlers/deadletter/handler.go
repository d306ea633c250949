package deadletter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/wb-go/wbf/zlog"

	"github.com/medialens/mediaproc/internal/model"
	"github.com/medialens/mediaproc/internal/repository/task"
)

const timeoutMessage = "task exceeded its processing window"

type taskRepository interface {
	Get(ctx context.Context, id uuid.UUID) (model.Task, error)
	MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error
}

type statusCache interface {
	Invalidate(ctx context.Context, id uuid.UUID) error
}

type producer interface {
	Produce(ctx context.Context, key, value []byte) error
}

// Handler converges dead-lettered tasks to a terminal state. Tasks still in
// processing are marked failed; tasks that already reached a terminal status
// (the worker finished after the deadline fired) are left untouched. Either
// way a notification is published so consumers learn the final outcome.
type Handler struct {
	repo     taskRepository
	cache    statusCache
	notifier producer
}

func NewHandler(repo taskRepository, cache statusCache, notifier producer) *Handler {
	return &Handler{repo: repo, cache: cache, notifier: notifier}
}

func (h *Handler) Handle(ctx context.Context, msg kafka.Message) error {
	var tm model.TaskMessage
	if err := json.Unmarshal(msg.Value, &tm); err != nil {
		return fmt.Errorf("unmarshal dead letter message: %w", err)
	}

	if err := h.repo.MarkFailed(ctx, tm.TaskID, timeoutMessage); err != nil {
		switch {
		case errors.Is(err, task.ErrTaskTerminal):
			// The worker won the race. Keep the existing outcome.
		case errors.Is(err, task.ErrTaskNotFound):
			zlog.Logger.Warn().
				Str("task_id", tm.TaskID.String()).
				Msg("dead letter message references unknown task")
			return nil
		default:
			return fmt.Errorf("mark dead letter task failed: %w", err)
		}
	} else {
		// Drop the stale processing entry; the next status poll repopulates
		// the cache from the repository.
		if cacheErr := h.cache.Invalidate(ctx, tm.TaskID); cacheErr != nil {
			zlog.Logger.Warn().Err(cacheErr).
				Str("task_id", tm.TaskID.String()).
				Msg("failed to invalidate cached task record")
		}
	}

	t, err := h.repo.Get(ctx, tm.TaskID)
	if err != nil {
		return fmt.Errorf("get dead letter task: %w", err)
	}

	note := model.TaskNotification{
		TaskID:       t.ID,
		Status:       t.Status,
		TargetKey:    t.TargetKey,
		ErrorMessage: t.ErrorMessage,
	}
	data, err := json.Marshal(note)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	if err := h.notifier.Produce(ctx, []byte(t.ID.String()), data); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}

	zlog.Logger.Info().
		Str("task_id", t.ID.String()).
		Str("status", string(t.Status)).
		Msg("dead letter task converged")

	return nil
}
