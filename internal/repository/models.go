package repository

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/notification-dispatch/internal/domain"
	"github.com/kursadbilgin/notification-dispatch/internal/tablestore"
)

const (
	EmailHistoryTable   = "EmailHistory"
	MeetingHistoryTable = "MeetingHistory"
)

// TableName returns the history table records of type t are stored in.
func TableName(t domain.NotificationType) (string, error) {
	switch t {
	case domain.TypeEmail:
		return EmailHistoryTable, nil
	case domain.TypeMeeting:
		return MeetingHistoryTable, nil
	}
	return "", fmt.Errorf("%w: invalid notification type %q", domain.ErrValidation, t)
}

// contentPayload holds the record fields that are never filtered on.
type contentPayload struct {
	Type              string     `json:"type"`
	Subject           string     `json:"subject"`
	To                []string   `json:"to,omitempty"`
	CC                []string   `json:"cc,omitempty"`
	BCC               []string   `json:"bcc,omitempty"`
	From              string     `json:"from,omitempty"`
	ReplyTo           string     `json:"replyTo,omitempty"`
	TemplateID        string     `json:"templateId,omitempty"`
	Location          string     `json:"location,omitempty"`
	MeetingStart      *time.Time `json:"meetingStart,omitempty"`
	MeetingEnd        *time.Time `json:"meetingEnd,omitempty"`
	RecurrencePattern string     `json:"recurrencePattern,omitempty"`
	IsAllDay          bool       `json:"isAllDay,omitempty"`
}

func entityFromRecord(r *domain.NotificationRecord) (tablestore.Entity, error) {
	payload, err := json.Marshal(contentPayload{
		Type:              r.Type.String(),
		Subject:           r.Subject,
		To:                r.To,
		CC:                r.CC,
		BCC:               r.BCC,
		From:              r.From,
		ReplyTo:           r.ReplyTo,
		TemplateID:        r.TemplateID,
		Location:          r.Location,
		MeetingStart:      r.MeetingStart,
		MeetingEnd:        r.MeetingEnd,
		RecurrencePattern: r.RecurrencePattern,
		IsAllDay:          r.IsAllDay,
	})
	if err != nil {
		return tablestore.Entity{}, fmt.Errorf("failed to encode notification %q: %w", r.NotificationID, err)
	}

	return tablestore.Entity{
		PartitionKey:     r.PartitionKey(),
		RowKey:           r.RowKey(),
		TrackingID:       optionalString(r.TrackingID),
		EmailAccountUsed: r.EmailAccountUsed,
		Status:           r.Status.String(),
		Priority:         r.Priority.String(),
		Sensitivity:      r.Sensitivity.String(),
		TryCount:         r.TryCount,
		ErrorMessage:     r.ErrorMessage,
		SendOnUtcDate:    r.SendOnUtcDate.UTC(),
		CreatedDateTime:  r.CreatedDateTime.UTC(),
		Body:             r.Body,
		BodyBlobName:     r.BodyBlobName,
		Payload:          string(payload),
		ETag:             r.ETag,
		Timestamp:        r.Timestamp,
	}, nil
}

// recordFromEntity decodes a stored row. Undecodable enum strings are reported as
// domain.ErrDecode naming the row key.
func recordFromEntity(e tablestore.Entity, tableType domain.NotificationType) (domain.NotificationRecord, error) {
	var payload contentPayload
	if strings.TrimSpace(e.Payload) != "" {
		if err := json.Unmarshal([]byte(e.Payload), &payload); err != nil {
			return domain.NotificationRecord{}, fmt.Errorf("%w: row %q: payload: %v", domain.ErrDecode, e.RowKey, err)
		}
	}

	notificationType := tableType
	if payload.Type != "" {
		parsed, err := domain.ParseNotificationTypeFromString(payload.Type)
		if err != nil {
			return domain.NotificationRecord{}, fmt.Errorf("%w: row %q: type %q", domain.ErrDecode, e.RowKey, payload.Type)
		}
		notificationType = parsed
	}
	status, err := domain.ParseStatusFromString(e.Status)
	if err != nil {
		return domain.NotificationRecord{}, fmt.Errorf("%w: row %q: status %q", domain.ErrDecode, e.RowKey, e.Status)
	}
	priority, err := domain.ParsePriorityFromString(e.Priority)
	if err != nil {
		return domain.NotificationRecord{}, fmt.Errorf("%w: row %q: priority %q", domain.ErrDecode, e.RowKey, e.Priority)
	}
	sensitivity, err := domain.ParseSensitivityFromString(e.Sensitivity)
	if err != nil {
		return domain.NotificationRecord{}, fmt.Errorf("%w: row %q: sensitivity %q", domain.ErrDecode, e.RowKey, e.Sensitivity)
	}

	record := domain.NotificationRecord{
		NotificationID:    e.RowKey,
		Application:       e.PartitionKey,
		Type:              notificationType,
		Subject:           payload.Subject,
		To:                payload.To,
		CC:                payload.CC,
		BCC:               payload.BCC,
		From:              payload.From,
		ReplyTo:           payload.ReplyTo,
		TemplateID:        payload.TemplateID,
		Body:              e.Body,
		BodyBlobName:      e.BodyBlobName,
		Location:          payload.Location,
		MeetingStart:      payload.MeetingStart,
		MeetingEnd:        payload.MeetingEnd,
		RecurrencePattern: payload.RecurrencePattern,
		IsAllDay:          payload.IsAllDay,
		Status:            status,
		TryCount:          e.TryCount,
		ErrorMessage:      e.ErrorMessage,
		SendOnUtcDate:     e.SendOnUtcDate,
		EmailAccountUsed:  e.EmailAccountUsed,
		Priority:          priority,
		Sensitivity:       sensitivity,
		CreatedDateTime:   e.CreatedDateTime,
		ETag:              e.ETag,
		Timestamp:         e.Timestamp,
	}
	if e.TrackingID != nil {
		record.TrackingID = *e.TrackingID
	}
	return record, nil
}

func optionalString(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}
