package provider

import (
	"context"

	"github.com/kursadbilgin/notification-dispatch/internal/domain"
)

// Provider is the outbound mail delivery port.
type Provider interface {
	Send(ctx context.Context, notification domain.NotificationRecord) (*ProviderResponse, error)
}

// ProviderResponse stores provider call metadata.
type ProviderResponse struct {
	StatusCode int
	MessageID  string
	// Account is the mailbox the message was sent from.
	Account string
}
