package queue

import (
	"fmt"
	"strings"

	"github.com/kursadbilgin/notification-dispatch/internal/domain"
)

// DeliveryMessage asks a worker to deliver one stored notification.
type DeliveryMessage struct {
	NotificationID string                  `json:"notificationId"`
	Application    string                  `json:"application"`
	Type           domain.NotificationType `json:"type"`
	CorrelationID  string                  `json:"correlationId,omitempty"`
	Priority       domain.Priority         `json:"priority,omitempty"`
	// Resend delivers again even when the notification already reached a terminal status.
	Resend bool `json:"resend,omitempty"`
}

func NewDeliveryMessage(r domain.NotificationRecord, correlationID string, resend bool) DeliveryMessage {
	return DeliveryMessage{
		NotificationID: r.NotificationID,
		Application:    r.Application,
		Type:           r.Type,
		CorrelationID:  correlationID,
		Priority:       r.Priority,
		Resend:         resend,
	}
}

func (m DeliveryMessage) Validate() error {
	if strings.TrimSpace(m.NotificationID) == "" {
		return fmt.Errorf("notificationId is required")
	}
	if strings.TrimSpace(m.Application) == "" {
		return fmt.Errorf("application is required")
	}
	if !m.Type.IsValid() {
		return fmt.Errorf("invalid notification type %q", m.Type)
	}
	if m.Priority != "" && !m.Priority.IsValid() {
		return fmt.Errorf("invalid priority %q", m.Priority)
	}
	return nil
}
