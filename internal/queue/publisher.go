package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

var _ Publisher = (*RabbitMQPublisher)(nil)

type RabbitMQPublisher struct {
	client *RabbitMQ
}

func NewRabbitMQPublisher(client *RabbitMQ) *RabbitMQPublisher {
	return &RabbitMQPublisher{client: client}
}

// Enqueue publishes msgs straight to their work queues, or to a delay queue when
// delay is positive.
func (p *RabbitMQPublisher) Enqueue(ctx context.Context, msgs []DeliveryMessage, delay time.Duration) error {
	if p == nil || p.client == nil {
		return fmt.Errorf("publisher is not initialized")
	}
	if len(msgs) == 0 {
		return nil
	}
	for i := range msgs {
		if err := msgs[i].Validate(); err != nil {
			return fmt.Errorf("invalid delivery message %d: %w", i, err)
		}
	}

	ch, err := p.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close() //nolint:errcheck // best-effort channel close

	delay = roundDelay(delay)
	declared := make(map[string]struct{}, len(supportedTypes))
	for _, msg := range msgs {
		target := QueueName(msg.Type)
		if delay > 0 {
			target = DelayQueueName(msg.Type, delay)
			if _, ok := declared[target]; !ok {
				if _, err := ch.QueueDeclare(target, true, false, false, false, delayQueueArgs(msg.Type, delay)); err != nil {
					return fmt.Errorf("failed to declare delay queue %q: %w", target, err)
				}
				declared[target] = struct{}{}
			}
		}

		publishing, err := newPublishing(msg)
		if err != nil {
			return err
		}
		if err := ch.PublishWithContext(ctx, "", target, false, false, publishing); err != nil {
			return fmt.Errorf("failed to publish message to queue %q: %w", target, err)
		}
	}

	return nil
}

func newPublishing(msg DeliveryMessage) (amqp.Publishing, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("failed to marshal delivery message: %w", err)
	}

	return amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		Timestamp:     time.Now().UTC(),
		MessageId:     msg.NotificationID,
		CorrelationId: msg.CorrelationID,
		Priority:      PriorityValue(msg.Priority),
		Body:          payload,
	}, nil
}

func (p *RabbitMQPublisher) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}
