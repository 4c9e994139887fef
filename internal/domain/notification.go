package domain

import (
	"fmt"
	"strings"
	"time"
)

// NotificationType selects the history table a record lives in.
type NotificationType string

const (
	TypeEmail   NotificationType = "Email"
	TypeMeeting NotificationType = "Meeting"
)

func (t NotificationType) String() string { return string(t) }

func (t NotificationType) IsValid() bool {
	switch t {
	case TypeEmail, TypeMeeting:
		return true
	}
	return false
}

func ParseNotificationTypeFromString(s string) (NotificationType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "email":
		return TypeEmail, nil
	case "meeting", "meetinginvite":
		return TypeMeeting, nil
	}
	return "", fmt.Errorf("%w: invalid notification type %q", ErrValidation, s)
}

// Priority represents the mail importance level.
type Priority string

const (
	PriorityLow    Priority = "Low"
	PriorityNormal Priority = "Normal"
	PriorityHigh   Priority = "High"
)

func (p Priority) String() string { return string(p) }

func (p Priority) IsValid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh:
		return true
	}
	return false
}

func ParsePriorityFromString(s string) (Priority, error) {
	for _, p := range []Priority{PriorityLow, PriorityNormal, PriorityHigh} {
		if strings.EqualFold(string(p), strings.TrimSpace(s)) {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: invalid priority %q", ErrValidation, s)
}

// Sensitivity represents the mail sensitivity header.
type Sensitivity string

const (
	SensitivityNormal       Sensitivity = "Normal"
	SensitivityPersonal     Sensitivity = "Personal"
	SensitivityPrivate      Sensitivity = "Private"
	SensitivityConfidential Sensitivity = "Confidential"
)

func (s Sensitivity) String() string { return string(s) }

func (s Sensitivity) IsValid() bool {
	switch s {
	case SensitivityNormal, SensitivityPersonal, SensitivityPrivate, SensitivityConfidential:
		return true
	}
	return false
}

func ParseSensitivityFromString(s string) (Sensitivity, error) {
	for _, v := range []Sensitivity{SensitivityNormal, SensitivityPersonal, SensitivityPrivate, SensitivityConfidential} {
		if strings.EqualFold(string(v), strings.TrimSpace(s)) {
			return v, nil
		}
	}
	return "", fmt.Errorf("%w: invalid sensitivity %q", ErrValidation, s)
}

// NotificationRecord is one email or meeting invite tracked through its delivery lifecycle.
type NotificationRecord struct {
	NotificationID string
	Application    string
	TrackingID     string
	Type           NotificationType

	Subject    string
	To         []string
	CC         []string
	BCC        []string
	From       string
	ReplyTo    string
	TemplateID string
	// Body is nil once the content has been offloaded to BodyBlobName.
	Body         *string
	BodyBlobName string

	Location          string
	MeetingStart      *time.Time
	MeetingEnd        *time.Time
	RecurrencePattern string
	IsAllDay          bool

	Status           Status
	TryCount         int
	ErrorMessage     *string
	SendOnUtcDate    time.Time
	EmailAccountUsed *string
	Priority         Priority
	Sensitivity      Sensitivity
	CreatedDateTime  time.Time

	ETag      string
	Timestamp time.Time
}

// PartitionKey returns the table-store partition the record belongs to.
func (n *NotificationRecord) PartitionKey() string { return n.Application }

// RowKey returns the table-store row key of the record.
func (n *NotificationRecord) RowKey() string { return n.NotificationID }

func (n *NotificationRecord) Validate() error {
	if strings.TrimSpace(n.NotificationID) == "" {
		return fmt.Errorf("%w: notification id is required", ErrValidation)
	}
	if strings.TrimSpace(n.Application) == "" {
		return fmt.Errorf("%w: application is required for notification %q", ErrValidation, n.NotificationID)
	}
	if !n.Type.IsValid() {
		return fmt.Errorf("%w: invalid notification type %q", ErrValidation, n.Type)
	}
	if !n.Status.IsValid() {
		return fmt.Errorf("%w: invalid status %d for notification %q", ErrValidation, int(n.Status), n.NotificationID)
	}
	if !n.Priority.IsValid() {
		return fmt.Errorf("%w: invalid priority %q", ErrValidation, n.Priority)
	}
	if !n.Sensitivity.IsValid() {
		return fmt.Errorf("%w: invalid sensitivity %q", ErrValidation, n.Sensitivity)
	}
	if n.TryCount < 0 {
		return fmt.Errorf("%w: try count must not be negative", ErrValidation)
	}
	return nil
}

// ValidateContent checks the fields required to accept a new notification.
func (n *NotificationRecord) ValidateContent() error {
	if strings.TrimSpace(n.Subject) == "" {
		return fmt.Errorf("%w: subject is required", ErrValidation)
	}
	if len(n.To)+len(n.CC)+len(n.BCC) == 0 {
		return fmt.Errorf("%w: at least one recipient is required", ErrValidation)
	}
	if n.Type == TypeMeeting {
		if n.MeetingStart == nil || n.MeetingEnd == nil {
			return fmt.Errorf("%w: meeting start and end are required", ErrValidation)
		}
		if !n.MeetingEnd.After(*n.MeetingStart) {
			return fmt.Errorf("%w: meeting end must be after start", ErrValidation)
		}
	}
	return nil
}

// DateRange is a half-open [Start, End) interval.
type DateRange struct {
	Start time.Time
	End   time.Time
}

func (r DateRange) Validate() error {
	if r.Start.IsZero() || r.End.IsZero() {
		return fmt.Errorf("%w: date range start and end are required", ErrValidation)
	}
	if !r.Start.Before(r.End) {
		return fmt.Errorf("%w: date range start must be before end", ErrValidation)
	}
	return nil
}

// ReportRequest carries the optional filters of a history report.
type ReportRequest struct {
	Type            NotificationType
	Applications    []string
	Accounts        []string
	NotificationIDs []string
	TrackingIDs     []string
	Statuses        []int

	CreatedDateTimeStart string
	CreatedDateTimeEnd   string
	SendOnUtcDateStart   string
	SendOnUtcDateEnd     string
	UpdatedDateTimeStart string
	UpdatedDateTimeEnd   string

	Take  int
	Token string
}
