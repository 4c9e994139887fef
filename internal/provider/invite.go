package provider

import (
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/notification-dispatch/internal/domain"
)

const icsTimeLayout = "20060102T150405Z"

// buildInvite renders the iCalendar REQUEST carried alongside meeting notifications.
func buildInvite(n domain.NotificationRecord, organizer string, now time.Time) (string, error) {
	if n.MeetingStart == nil || n.MeetingEnd == nil {
		return "", fmt.Errorf("meeting start and end are required")
	}

	var b strings.Builder
	line := func(format string, args ...any) {
		b.WriteString(fmt.Sprintf(format, args...))
		b.WriteString("\r\n")
	}

	line("BEGIN:VCALENDAR")
	line("PRODID:-//notification-dispatch//EN")
	line("VERSION:2.0")
	line("METHOD:REQUEST")
	line("BEGIN:VEVENT")
	line("UID:%s", n.NotificationID)
	line("DTSTAMP:%s", now.UTC().Format(icsTimeLayout))
	if n.IsAllDay {
		line("DTSTART;VALUE=DATE:%s", n.MeetingStart.UTC().Format("20060102"))
		line("DTEND;VALUE=DATE:%s", n.MeetingEnd.UTC().Format("20060102"))
	} else {
		line("DTSTART:%s", n.MeetingStart.UTC().Format(icsTimeLayout))
		line("DTEND:%s", n.MeetingEnd.UTC().Format(icsTimeLayout))
	}
	if n.RecurrencePattern != "" {
		line("RRULE:%s", strings.TrimPrefix(n.RecurrencePattern, "RRULE:"))
	}
	line("SUMMARY:%s", escapeText(n.Subject))
	if n.Location != "" {
		line("LOCATION:%s", escapeText(n.Location))
	}
	line("ORGANIZER:mailto:%s", organizer)
	for _, attendee := range n.To {
		line("ATTENDEE;ROLE=REQ-PARTICIPANT;RSVP=TRUE:mailto:%s", attendee)
	}
	for _, attendee := range n.CC {
		line("ATTENDEE;ROLE=OPT-PARTICIPANT;RSVP=TRUE:mailto:%s", attendee)
	}
	line("END:VEVENT")
	line("END:VCALENDAR")
	return b.String(), nil
}

func escapeText(s string) string {
	return strings.NewReplacer(`\`, `\\`, ";", `\;`, ",", `\,`, "\n", `\n`).Replace(s)
}
