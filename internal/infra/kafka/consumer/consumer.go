package consumer

import (
	"context"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	wbfkafka "github.com/wb-go/wbf/kafka"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"
)

// handler processes one fetched message.
type handler interface {
	Handle(ctx context.Context, msg kafka.Message) error
}

// Consumer runs a fetch/handle/commit loop over one topic. The task queue
// and the dead-letter queue each get their own Consumer with their own
// handler.
type Consumer struct {
	Client   *wbfkafka.Consumer
	handler  handler
	topic    string
	strategy retry.Strategy
}

// New creates a consumer bound to one topic within the given group.
func New(brokers []string, topic, groupID string, s retry.Strategy, h handler) *Consumer {
	return &Consumer{
		Client:   wbfkafka.NewConsumer(brokers, topic, groupID),
		handler:  h,
		topic:    topic,
		strategy: s,
	}
}

// Consume continuously fetches messages, processes them with the handler,
// and commits offsets after successful processing. It stops gracefully on
// context cancellation.
func (c *Consumer) Consume(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	zlog.Logger.Info().
		Str("topic", c.topic).
		Msg("starting consumer")

	for {
		// Exit if context is canceled (graceful shutdown).
		if ctx.Err() != nil {
			zlog.Logger.Info().
				Str("topic", c.topic).
				Msg("shutdown signal received, stopping consumer")
			return
		}

		// Fetch a message from Kafka with retries.
		var msg kafka.Message
		err := retry.Do(func() error {
			var fetchErr error
			msg, fetchErr = c.Client.Fetch(ctx)
			return fetchErr
		}, c.strategy)

		if err != nil {
			// Log error and retry after a short backoff.
			zlog.Logger.Err(err).Msg("failed to fetch message")
			time.Sleep(500 * time.Millisecond)
			continue
		}

		// Failed messages are committed anyway: the handlers own their
		// error paths (dead letter, failed status) and a redelivery loop
		// would reprocess a task that already reached a terminal state.
		if err := c.handler.Handle(ctx, msg); err != nil {
			zlog.Logger.Err(err).
				Str("topic", c.topic).
				Str("message", string(msg.Value)).
				Msg("failed to process message")
		}

		// Commit the message with retries.
		err = retry.Do(func() error {
			return c.Client.Commit(ctx, msg)
		}, c.strategy)
		if err != nil {
			zlog.Logger.Err(err).Msg("failed to commit message after retries")
		}
	}
}
