package ratelimit

import (
	"context"

	"github.com/kursadbilgin/notification-dispatch/internal/domain"
)

// RateLimiter caps how many messages a sending mailbox submits per second. The
// mailbox is resolved from the notification through a Policy.
type RateLimiter interface {
	Allow(ctx context.Context, n domain.NotificationRecord) (bool, error)
	Wait(ctx context.Context, n domain.NotificationRecord) error
}
