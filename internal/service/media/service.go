package media

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/zlog"

	"github.com/medialens/mediaproc/internal/model"
	"github.com/medialens/mediaproc/internal/ops"
	"github.com/medialens/mediaproc/internal/pipeline"
)

// objectStorage defines the interface for fetching sources and storing
// transformed artifacts.
type objectStorage interface {
	Fetch(ctx context.Context, bucket, key string) ([]byte, error)
	Put(ctx context.Context, bucket, key string, data []byte, contentType string) error
}

// taskRepository defines the interface for the task lifecycle store.
type taskRepository interface {
	Create(ctx context.Context, t model.Task) error
	Get(ctx context.Context, id uuid.UUID) (model.Task, error)
	MarkCompleted(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error
}

// statusCache defines the interface for the task record cache.
type statusCache interface {
	Get(ctx context.Context, id uuid.UUID) (model.Task, bool)
	Set(ctx context.Context, t model.Task) error
	Invalidate(ctx context.Context, id uuid.UUID) error
}

// producer defines the interface for enqueueing accepted task messages.
type producer interface {
	Produce(ctx context.Context, key, value []byte) error
}

// Buckets names the source and target object storage buckets.
type Buckets struct {
	Source string
	Target string
}

// Service provides business logic for media transformation: synchronous
// processing, async task submission, task execution, and status lookup.
type Service struct {
	storage  objectStorage
	repo     taskRepository
	cache    statusCache
	producer producer
	executor *pipeline.Executor
	buckets  Buckets
}

// NewService creates a new Service.
func NewService(
	st objectStorage,
	repo taskRepository,
	cache statusCache,
	p producer,
	ex *pipeline.Executor,
	buckets Buckets,
) *Service {
	return &Service{
		storage:  st,
		repo:     repo,
		cache:    cache,
		producer: p,
		executor: ex,
		buckets:  buckets,
	}
}

// Process transforms a source object synchronously and returns the resulting
// artifact. Parse and validation errors surface unchanged so the transport
// layer can classify them as client errors.
func (s *Service) Process(ctx context.Context, media ops.MediaType, sourceKey, operations string) (pipeline.Result, error) {
	pl, err := s.plan(media, sourceKey, operations)
	if err != nil {
		return pipeline.Result{}, err
	}

	data, err := s.storage.Fetch(ctx, s.buckets.Source, sourceKey)
	if err != nil {
		return pipeline.Result{}, fmt.Errorf("process: failed to fetch source: %w", err)
	}

	return s.executor.Run(ctx, s.initialContext(data, sourceKey), pl)
}

// Submit accepts an async transformation task. The task record is created in
// processing status before anything else happens, so the returned id is
// always resolvable. A submission that fails validation keeps its id: the
// record is immediately marked failed instead of being rejected outright.
func (s *Service) Submit(ctx context.Context, media ops.MediaType, sourceKey, operations string) (uuid.UUID, error) {
	id := uuid.New()

	pl, planErr := s.plan(media, sourceKey, operations)

	targetBucket := s.buckets.Target
	targetKey := ""
	if planErr == nil {
		if b, ok := pl.TargetBucket(); ok {
			targetBucket = b
		}
		targetKey = targetKeyFor(id, sourceKey, pl.OutputFormat)
	}

	task := model.Task{
		ID:           id,
		Status:       model.StatusProcessing,
		TaskType:     string(media),
		SourceBucket: s.buckets.Source,
		SourceKey:    sourceKey,
		TargetBucket: targetBucket,
		TargetKey:    targetKey,
	}
	if err := s.repo.Create(ctx, task); err != nil {
		return uuid.Nil, fmt.Errorf("submit: failed to create task: %w", err)
	}

	if planErr != nil {
		if err := s.repo.MarkFailed(ctx, id, planErr.Error()); err != nil {
			return uuid.Nil, fmt.Errorf("submit: failed to mark invalid task: %w", err)
		}
		return id, nil
	}

	msg := model.TaskMessage{
		TaskID:       id,
		MediaType:    string(media),
		SourceKey:    sourceKey,
		TargetBucket: targetBucket,
		TargetKey:    targetKey,
		Operations:   operations,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return uuid.Nil, fmt.Errorf("submit: failed to marshal task message: %w", err)
	}

	if err := s.producer.Produce(ctx, []byte(id.String()), data); err != nil {
		return uuid.Nil, fmt.Errorf("submit: failed to enqueue task: %w", err)
	}

	s.cacheRecord(ctx, task)
	return id, nil
}

// Run executes an accepted task message end to end: fetch, transform, store,
// mark completed. Context expiry propagates unchanged so the worker can route
// the message to the dead-letter queue; every other failure marks the task
// failed here and is fully handled.
func (s *Service) Run(ctx context.Context, msg model.TaskMessage) error {
	media, ok := ops.ParseMediaType(msg.MediaType)
	if !ok {
		return s.fail(ctx, msg.TaskID, fmt.Sprintf("unknown media type: %s", msg.MediaType))
	}

	pl, err := s.plan(media, msg.SourceKey, msg.Operations)
	if err != nil {
		return s.fail(ctx, msg.TaskID, err.Error())
	}

	data, err := s.storage.Fetch(ctx, s.buckets.Source, msg.SourceKey)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return s.fail(ctx, msg.TaskID, fmt.Sprintf("failed to fetch source: %v", err))
	}

	res, err := s.executor.Run(ctx, s.initialContext(data, msg.SourceKey), pl)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return s.fail(ctx, msg.TaskID, err.Error())
	}

	targetBucket := msg.TargetBucket
	if targetBucket == "" {
		targetBucket = s.buckets.Target
	}
	if err := s.storage.Put(ctx, targetBucket, msg.TargetKey, res.Body, res.ContentType); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return s.fail(ctx, msg.TaskID, fmt.Sprintf("failed to store artifact: %v", err))
	}

	if err := s.repo.MarkCompleted(ctx, msg.TaskID); err != nil {
		return fmt.Errorf("run: failed to mark task completed: %w", err)
	}
	s.invalidate(ctx, msg.TaskID)

	zlog.Logger.Info().
		Str("task_id", msg.TaskID.String()).
		Str("target_key", msg.TargetKey).
		Msg("task completed")

	return nil
}

// Status returns the full task record, served from the cache when a valid
// entry exists. Terminal transitions invalidate the cached entry, so a hit is
// either the current processing record or an immutable terminal one.
func (s *Service) Status(ctx context.Context, id uuid.UUID) (model.Task, error) {
	if task, ok := s.cache.Get(ctx, id); ok {
		return task, nil
	}

	task, err := s.repo.Get(ctx, id)
	if err != nil {
		return model.Task{}, err
	}

	s.cacheRecord(ctx, task)
	return task, nil
}

// fail marks the task failed and drops the cached record. The underlying
// error has been converted to a message by the caller; a task already in a
// terminal state stays untouched.
func (s *Service) fail(ctx context.Context, id uuid.UUID, msg string) error {
	if err := s.repo.MarkFailed(ctx, id, msg); err != nil {
		return fmt.Errorf("run: failed to mark task failed: %w", err)
	}
	s.invalidate(ctx, id)

	zlog.Logger.Warn().
		Str("task_id", id.String()).
		Str("reason", msg).
		Msg("task failed")

	return nil
}

func (s *Service) cacheRecord(ctx context.Context, task model.Task) {
	if err := s.cache.Set(ctx, task); err != nil {
		zlog.Logger.Warn().Err(err).Str("task_id", task.ID.String()).Msg("failed to cache task record")
	}
}

func (s *Service) invalidate(ctx context.Context, id uuid.UUID) {
	if err := s.cache.Invalidate(ctx, id); err != nil {
		zlog.Logger.Warn().Err(err).Str("task_id", id.String()).Msg("failed to invalidate cached task record")
	}
}

// plan parses and validates the operations string into an executable
// pipeline.
func (s *Service) plan(media ops.MediaType, sourceKey, operations string) (*ops.Pipeline, error) {
	specs, err := ops.Parse(media, operations)
	if err != nil {
		return nil, err
	}
	return ops.Validate(media, specs, sourceKey)
}

func (s *Service) initialContext(data []byte, sourceKey string) pipeline.Context {
	return pipeline.Context{
		Artifact: data,
		Meta:     pipeline.Meta{Format: ops.SourceFormat(sourceKey)},
	}
}

// targetKeyFor derives the output object key from the task id and the
// resolved output format, e.g. "processed/<uuid>.mp3".
func targetKeyFor(id uuid.UUID, sourceKey, format string) string {
	base := strings.TrimSuffix(path.Base(sourceKey), path.Ext(sourceKey))
	return fmt.Sprintf("processed/%s_%s.%s", base, id.String(), format)
}
