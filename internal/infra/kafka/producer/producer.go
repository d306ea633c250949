package producer

import (
	"context"
	"fmt"

	wbfkafka "github.com/wb-go/wbf/kafka"
	"github.com/wb-go/wbf/retry"
)

// Producer wraps a single-topic Kafka writer with a retry strategy. The
// service holds one producer per lifecycle topic (tasks, dead letter,
// notifications).
type Producer struct {
	Client   *wbfkafka.Producer
	strategy retry.Strategy
}

// New creates a producer bound to one topic.
func New(brokers []string, topic string, s retry.Strategy) *Producer {
	return &Producer{
		Client:   wbfkafka.NewProducer(brokers, topic),
		strategy: s,
	}
}

// Produce sends an already-serialized payload. The key is used for
// partitioning so messages for one task stay ordered.
func (p *Producer) Produce(ctx context.Context, key, value []byte) error {
	if err := p.Client.SendWithRetry(ctx, p.strategy, key, value); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}

	return nil
}

// Close releases the underlying writer.
func (p *Producer) Close() error {
	return p.Client.Close()
}
