package queue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/notification-dispatch/internal/domain"
)

// Publisher enqueues delivery messages. A positive delay hides the messages from
// consumers until it elapses.
type Publisher interface {
	Enqueue(ctx context.Context, msgs []DeliveryMessage, delay time.Duration) error
	Close() error
}

// MessageHandler handles a consumed delivery message.
type MessageHandler func(ctx context.Context, msg DeliveryMessage) error

// Consumer consumes delivery messages from a work queue.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler MessageHandler) error
	Close() error
}

var supportedTypes = []domain.NotificationType{
	domain.TypeEmail,
	domain.TypeMeeting,
}

const (
	// queueMaxPriority is the RabbitMQ x-max-priority value for work queues.
	queueMaxPriority int32 = 3
	// delayGranularity rounds visibility delays so messages share delay queues.
	delayGranularity = time.Second
	// delayQueueIdle is how long an unused delay queue lives after its last message expires.
	delayQueueIdle = time.Minute
)

// QueueName returns the work queue for a notification type, e.g. notifications.email.
func QueueName(t domain.NotificationType) string {
	return "notifications." + routingKey(t)
}

// DLQName returns the dead-letter queue for a notification type, e.g. dlq.email.
func DLQName(t domain.NotificationType) string {
	return fmt.Sprintf("dlq.%s", routingKey(t))
}

// DelayQueueName returns the TTL queue that dead-letters into the work queue after
// delay, e.g. delay.email.30s.
func DelayQueueName(t domain.NotificationType, delay time.Duration) string {
	return fmt.Sprintf("delay.%s.%s", routingKey(t), roundDelay(delay))
}

// WorkQueueNames returns all work queues.
func WorkQueueNames() []string {
	queues := make([]string, 0, len(supportedTypes))
	for _, t := range supportedTypes {
		queues = append(queues, QueueName(t))
	}
	return queues
}

// DLQNames returns all dead-letter queues.
func DLQNames() []string {
	queues := make([]string, 0, len(supportedTypes))
	for _, t := range supportedTypes {
		queues = append(queues, DLQName(t))
	}
	return queues
}

// PriorityValue maps domain priority to RabbitMQ message priority.
func PriorityValue(priority domain.Priority) uint8 {
	switch priority {
	case domain.PriorityHigh:
		return 3
	case domain.PriorityNormal:
		return 2
	case domain.PriorityLow:
		return 1
	default:
		return 0
	}
}

func routingKey(t domain.NotificationType) string {
	return strings.ToLower(t.String())
}

func roundDelay(delay time.Duration) time.Duration {
	if delay <= 0 {
		return 0
	}
	rounded := delay.Round(delayGranularity)
	if rounded < delayGranularity {
		rounded = delayGranularity
	}
	return rounded
}
