package media

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/ginext"
	"github.com/wb-go/wbf/zlog"

	"github.com/medialens/mediaproc/internal/api/respond"
	"github.com/medialens/mediaproc/internal/model"
	"github.com/medialens/mediaproc/internal/ops"
	"github.com/medialens/mediaproc/internal/pipeline"
	"github.com/medialens/mediaproc/internal/repository/task"
)

// service defines the interface for media transformation operations.
type service interface {
	Process(ctx context.Context, media ops.MediaType, sourceKey, operations string) (pipeline.Result, error)
	Submit(ctx context.Context, media ops.MediaType, sourceKey, operations string) (uuid.UUID, error)
	Status(ctx context.Context, id uuid.UUID) (model.Task, error)
}

// Handler provides HTTP handlers for media transformation endpoints.
type Handler struct {
	service service
}

// NewHandler creates a new Handler with the given service.
func NewHandler(s service) *Handler {
	return &Handler{service: s}
}

// Transform handles the synchronous transformation endpoint. The media
// namespace and source key come from the path, the operations string from
// the query. Malformed or invalid operations are the client's fault;
// anything that goes wrong during execution is ours.
func (h *Handler) Transform(c *ginext.Context) {
	media, ok := ops.ParseMediaType(c.Param("media"))
	if !ok {
		respond.Fail(c, http.StatusBadRequest, fmt.Errorf("unknown media type: %s", c.Param("media")))
		return
	}

	sourceKey := strings.TrimPrefix(c.Param("key"), "/")
	if sourceKey == "" {
		respond.Fail(c, http.StatusBadRequest, fmt.Errorf("missing source key"))
		return
	}

	operations := c.Query("operations")

	res, err := h.service.Process(c.Request.Context(), media, sourceKey, operations)
	if err != nil {
		var parseErr *ops.ParseError
		var validationErr *ops.ValidationError
		if errors.As(err, &parseErr) || errors.As(err, &validationErr) {
			respond.Fail(c, http.StatusBadRequest, err)
			return
		}

		zlog.Logger.Err(err).
			Str("media", string(media)).
			Str("key", sourceKey).
			Str("operations", operations).
			Msg("transformation failed")
		respond.Fail(c, http.StatusInternalServerError, fmt.Errorf("transformation failed: %v", err))
		return
	}

	respond.Artifact(c, res.Body, res.ContentType, res.ETag)
}

// SubmitRequest represents an async task submission.
type SubmitRequest struct {
	MediaType  string `json:"media_type"`
	SourceKey  string `json:"source_key"`
	Operations string `json:"operations"`
}

// Submit accepts an async transformation task and responds immediately with
// the task id. Invalid operations still get an id: the task record exists
// and is already marked failed by the time the response is written.
func (h *Handler) Submit(c *ginext.Context) {
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Fail(c, http.StatusBadRequest, fmt.Errorf("invalid request body: %v", err))
		return
	}

	media, ok := ops.ParseMediaType(req.MediaType)
	if !ok {
		respond.Fail(c, http.StatusBadRequest, fmt.Errorf("unknown media type: %s", req.MediaType))
		return
	}
	if req.SourceKey == "" {
		respond.Fail(c, http.StatusBadRequest, fmt.Errorf("source_key is required"))
		return
	}

	id, err := h.service.Submit(c.Request.Context(), media, req.SourceKey, req.Operations)
	if err != nil {
		zlog.Logger.Err(err).Msg("failed to submit task")
		respond.Fail(c, http.StatusInternalServerError, fmt.Errorf("failed to submit task"))
		return
	}

	respond.Accepted(c, map[string]interface{}{
		"task_id": id,
		"message": "task accepted for processing",
	})
}

// Status returns the task record for a given task id.
func (h *Handler) Status(c *ginext.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respond.Fail(c, http.StatusBadRequest, fmt.Errorf("invalid task id: %v", err))
		return
	}

	t, err := h.service.Status(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, task.ErrTaskNotFound) {
			respond.Fail(c, http.StatusNotFound, fmt.Errorf("task not found"))
			return
		}

		zlog.Logger.Err(err).Str("task_id", id.String()).Msg("failed to get task")
		respond.Fail(c, http.StatusInternalServerError, fmt.Errorf("failed to get task"))
		return
	}

	respond.OK(c, t)
}
