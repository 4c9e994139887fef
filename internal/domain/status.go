package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// Status is the delivery state of a notification. The ordinal values are part of
// the reporting contract and must not be reordered.
type Status int

const (
	StatusQueued Status = iota
	StatusProcessing
	StatusRetrying
	StatusFailed
	StatusSent
	StatusFakeMail
)

var statusLabels = [...]string{
	StatusQueued:     "Queued",
	StatusProcessing: "Processing",
	StatusRetrying:   "Retrying",
	StatusFailed:     "Failed",
	StatusSent:       "Sent",
	StatusFakeMail:   "FakeMail",
}

var statusDescriptions = [...]string{
	StatusQueued:     "Notification is queued for delivery",
	StatusProcessing: "Notification is being delivered",
	StatusRetrying:   "Delivery failed and will be retried",
	StatusFailed:     "Delivery failed permanently",
	StatusSent:       "Notification was delivered to the mail provider",
	StatusFakeMail:   "Delivery was simulated and no mail was sent",
}

func (s Status) String() string {
	if s.IsValid() {
		return statusLabels[s]
	}
	return strconv.Itoa(int(s))
}

func (s Status) Description() string {
	if s.IsValid() {
		return statusDescriptions[s]
	}
	return ""
}

func (s Status) IsValid() bool {
	return s >= StatusQueued && s <= StatusFakeMail
}

// IsTerminal reports whether normal delivery flow may leave the status.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSent, StatusFailed, StatusFakeMail:
		return true
	}
	return false
}

// CanTransitionTo reports whether next is reachable from s in the delivery state machine.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusQueued:
		return next == StatusProcessing || next == StatusFakeMail
	case StatusProcessing:
		switch next {
		case StatusSent, StatusRetrying, StatusFailed, StatusFakeMail:
			return true
		}
	case StatusRetrying:
		return next == StatusProcessing || next == StatusFailed
	}
	return false
}

// StatusLabelFromOrdinal maps a reporting status code to its stored label. Unknown
// codes map to their decimal text, which never equals a stored label.
func StatusLabelFromOrdinal(code int) string {
	return Status(code).String()
}

func ParseStatusFromString(s string) (Status, error) {
	trimmed := strings.TrimSpace(s)
	for i, label := range statusLabels {
		if strings.EqualFold(label, trimmed) {
			return Status(i), nil
		}
	}
	return 0, fmt.Errorf("%w: invalid status %q", ErrValidation, s)
}
