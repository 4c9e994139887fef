package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

var _ Consumer = (*RabbitMQConsumer)(nil)

type RabbitMQConsumer struct {
	client   *RabbitMQ
	prefetch int
	logger   *zap.Logger
}

func NewRabbitMQConsumer(client *RabbitMQ, prefetch int, logger *zap.Logger) *RabbitMQConsumer {
	if prefetch < 1 {
		prefetch = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RabbitMQConsumer{
		client:   client,
		prefetch: prefetch,
		logger:   logger,
	}
}

func (c *RabbitMQConsumer) Consume(ctx context.Context, queue string, handler MessageHandler) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("consumer is not initialized")
	}
	if queue == "" {
		return fmt.Errorf("queue name is required")
	}
	if handler == nil {
		return fmt.Errorf("message handler is required")
	}

	backoff := reconnectBackoff
	for {
		err := c.consumeOnce(ctx, queue, handler)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			backoff = reconnectBackoff
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (c *RabbitMQConsumer) consumeOnce(ctx context.Context, queue string, handler MessageHandler) error {
	ch, err := c.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close() //nolint:errcheck // best-effort channel close

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set qos: %w", err)
	}

	deliveries, err := ch.Consume(
		queue,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to consume queue %q: %w", queue, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}

			if err := c.handleDelivery(ctx, queue, d, handler); err != nil {
				return err
			}
		}
	}
}

// disposition is how a consumed delivery is settled with the broker.
type disposition int

const (
	dispositionAck disposition = iota
	// dispositionRequeue puts the delivery back on its work queue.
	dispositionRequeue
	// dispositionDeadLetter routes the delivery to the type's dead-letter queue.
	dispositionDeadLetter
)

func (d disposition) String() string {
	switch d {
	case dispositionAck:
		return "ack"
	case dispositionRequeue:
		return "requeue"
	case dispositionDeadLetter:
		return "dead-letter"
	}
	return "unknown"
}

func (c *RabbitMQConsumer) handleDelivery(ctx context.Context, queue string, d amqp.Delivery, handler MessageHandler) error {
	msg, err := decodeDelivery(queue, d)
	if err != nil {
		c.logger.Warn("dead-lettering undeliverable message",
			zap.String("queue", queue),
			zap.String("messageId", d.MessageId),
			zap.Error(err),
		)
		return settle(d, dispositionDeadLetter)
	}

	outcome := dispositionAck
	if err := handler(ctx, msg); err != nil {
		outcome = failedDisposition(d)
		c.logger.Warn("delivery handler failed",
			zap.String("queue", queue),
			zap.String("notificationId", msg.NotificationID),
			zap.String("application", msg.Application),
			zap.Bool("redelivered", d.Redelivered),
			zap.Stringer("disposition", outcome),
			zap.Error(err),
		)
	}
	return settle(d, outcome)
}

// decodeDelivery parses and validates a delivery consumed from queue. A message
// whose type is served by another work queue is refused. The AMQP correlation id
// fills in a missing body correlation id.
func decodeDelivery(queue string, d amqp.Delivery) (DeliveryMessage, error) {
	var msg DeliveryMessage
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		return DeliveryMessage{}, fmt.Errorf("invalid JSON: %w", err)
	}
	if err := msg.Validate(); err != nil {
		return DeliveryMessage{}, err
	}
	if want := QueueName(msg.Type); want != queue {
		return DeliveryMessage{}, fmt.Errorf("%s message belongs on %s", msg.Type, want)
	}
	if msg.CorrelationID == "" {
		msg.CorrelationID = d.CorrelationId
	}
	return msg, nil
}

// failedDisposition requeues a delivery once; a delivery that already failed goes
// to the dead-letter queue.
func failedDisposition(d amqp.Delivery) disposition {
	if d.Redelivered {
		return dispositionDeadLetter
	}
	return dispositionRequeue
}

func settle(d amqp.Delivery, outcome disposition) error {
	var err error
	switch outcome {
	case dispositionRequeue:
		err = d.Nack(false, true)
	case dispositionDeadLetter:
		err = d.Reject(false)
	default:
		err = d.Ack(false)
	}
	if err != nil {
		return fmt.Errorf("failed to %s delivery %q: %w", outcome, d.MessageId, err)
	}
	return nil
}

func (c *RabbitMQConsumer) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
