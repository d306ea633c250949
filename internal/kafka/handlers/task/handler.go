package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/wb-go/wbf/zlog"

	"github.com/medialens/mediaproc/internal/model"
)

type service interface {
	Run(ctx context.Context, msg model.TaskMessage) error
}

type producer interface {
	Produce(ctx context.Context, key, value []byte) error
}

// Handler consumes accepted task messages and executes them under the
// configured wall-clock processing window. A task that exhausts it is forwarded
// verbatim to the dead-letter queue; its terminal status is decided there.
type Handler struct {
	service    service
	deadLetter producer
	timeout    time.Duration
}

func NewHandler(s service, dlq producer, timeout time.Duration) *Handler {
	return &Handler{service: s, deadLetter: dlq, timeout: timeout}
}

func (h *Handler) Handle(ctx context.Context, msg kafka.Message) error {
	var tm model.TaskMessage
	if err := json.Unmarshal(msg.Value, &tm); err != nil {
		return fmt.Errorf("unmarshal task message: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	err := h.service.Run(runCtx, tm)
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		zlog.Logger.Warn().
			Str("task_id", tm.TaskID.String()).
			Dur("timeout", h.timeout).
			Msg("task exceeded processing window, forwarding to dead letter queue")

		if dlqErr := h.deadLetter.Produce(ctx, msg.Key, msg.Value); dlqErr != nil {
			return fmt.Errorf("forward to dead letter queue: %w", dlqErr)
		}
		return nil
	}

	return fmt.Errorf("run task %s: %w", tm.TaskID, err)
}
