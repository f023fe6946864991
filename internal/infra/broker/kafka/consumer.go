package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/IBM/sarama"
)

type MessageHandler interface {
	Handle(ctx context.Context, msg *sarama.ConsumerMessage) error
}

// Consumer runs the cleanup consumer group until its context is done.
type Consumer struct {
	group   sarama.ConsumerGroup
	topics  []string
	handler MessageHandler
	logger  *slog.Logger
}

func NewConsumer(brokers []string, groupID, clientID string, topics []string, handler MessageHandler, logger *slog.Logger) (*Consumer, error) {
	if handler == nil {
		return nil, errors.New("kafka: consumer handler required")
	}
	g, err := sarama.NewConsumerGroup(brokers, groupID, NewConfig(clientID))
	if err != nil {
		return nil, fmt.Errorf("kafka: consumer group %s: %w", groupID, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{group: g, topics: topics, handler: handler, logger: logger.With("group", groupID)}, nil
}

// Run rejoins the group after every rebalance.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		err := c.group.Consume(ctx, c.topics, claimHandler{handler: c.handler, logger: c.logger})
		switch {
		case errors.Is(err, sarama.ErrClosedConsumerGroup):
			return nil
		case err != nil:
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Debug("consumer group rebalanced", "topics", c.topics)
	}
}

func (c *Consumer) Close() error {
	return c.group.Close()
}

type claimHandler struct {
	handler MessageHandler
	logger  *slog.Logger
}

func (claimHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (claimHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim leaves a failed message unmarked so that it is redelivered after
// the next rebalance; the inbox turns redeliveries of handled ones into no-ops.
func (h claimHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case <-sess.Context().Done():
			return nil
		case message, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := h.handler.Handle(sess.Context(), message); err != nil {
				h.logger.Warn("kafka message not handled",
					"topic", message.Topic, "partition", message.Partition, "offset", message.Offset, "error", err)
				continue
			}
			sess.MarkMessage(message, "")
		}
	}
}
