package predicate

import (
	"strings"
	"time"

	"github.com/kursadbilgin/notification-dispatch/internal/domain"
)

// Criteria is a sparse set of report filters. Empty lists and blank bounds are ignored.
type Criteria struct {
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
}

// ComposeOptions tunes the date-range translation.
type ComposeOptions struct {
	// InvertedUpdatedBounds renders the updated-date start bound with < and the end
	// bound with >, matching reports produced by the legacy service.
	InvertedUpdatedBounds bool
}

// CriteriaFromReport copies the filter fields of a report request.
func CriteriaFromReport(r domain.ReportRequest) Criteria {
	return Criteria{
		Applications:         r.Applications,
		Accounts:             r.Accounts,
		NotificationIDs:      r.NotificationIDs,
		TrackingIDs:          r.TrackingIDs,
		Statuses:             r.Statuses,
		CreatedDateTimeStart: r.CreatedDateTimeStart,
		CreatedDateTimeEnd:   r.CreatedDateTimeEnd,
		SendOnUtcDateStart:   r.SendOnUtcDateStart,
		SendOnUtcDateEnd:     r.SendOnUtcDateEnd,
		UpdatedDateTimeStart: r.UpdatedDateTimeStart,
		UpdatedDateTimeEnd:   r.UpdatedDateTimeEnd,
	}
}

// Compose builds dateRange AND discrete, falling back to Always when c is empty.
func Compose(c Criteria, opts ComposeOptions) Predicate {
	p := AndAlso(DateRangePredicate(c, opts), DiscretePredicate(c))
	if p == nil {
		return Always{}
	}
	return p
}

// DiscretePredicate ANDs one OR'd sub-predicate per non-empty list criterion.
func DiscretePredicate(c Criteria) Predicate {
	statusLabels := make([]string, 0, len(c.Statuses))
	for _, code := range c.Statuses {
		statusLabels = append(statusLabels, domain.StatusLabelFromOrdinal(code))
	}

	var p Predicate
	p = AndAlso(p, AnyOf(FieldPartitionKey, nonBlank(c.Applications)))
	p = AndAlso(p, AnyOf(FieldEmailAccountUsed, nonBlank(c.Accounts)))
	p = AndAlso(p, AnyOf(FieldRowKey, nonBlank(c.NotificationIDs)))
	p = AndAlso(p, AnyOf(FieldTrackingID, nonBlank(c.TrackingIDs)))
	p = AndAlso(p, AnyOf(FieldStatus, statusLabels))
	return p
}

// DateRangePredicate ANDs every bound that parses; the rest are skipped.
func DateRangePredicate(c Criteria, opts ComposeOptions) Predicate {
	var p Predicate
	if t, ok := ParseTime(c.CreatedDateTimeStart); ok {
		p = AndAlso(p, Ge(FieldCreatedDateTime, t))
	}
	if t, ok := ParseTime(c.CreatedDateTimeEnd); ok {
		p = AndAlso(p, Le(FieldCreatedDateTime, t))
	}
	if t, ok := ParseTime(c.SendOnUtcDateStart); ok {
		p = AndAlso(p, Ge(FieldSendOnUtcDate, t))
	}
	if t, ok := ParseTime(c.SendOnUtcDateEnd); ok {
		p = AndAlso(p, Le(FieldSendOnUtcDate, t))
	}
	if t, ok := ParseTime(c.UpdatedDateTimeStart); ok {
		if opts.InvertedUpdatedBounds {
			p = AndAlso(p, Lt(FieldLastModified, t))
		} else {
			p = AndAlso(p, Ge(FieldLastModified, t))
		}
	}
	if t, ok := ParseTime(c.UpdatedDateTimeEnd); ok {
		if opts.InvertedUpdatedBounds {
			p = AndAlso(p, Gt(FieldLastModified, t))
		} else {
			p = AndAlso(p, Le(FieldLastModified, t))
		}
	}
	return p
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"01/02/2006 15:04:05",
	"01/02/2006",
}

// ParseTime parses s with the accepted layouts. Values without a zone are UTC.
func ParseTime(s string) (time.Time, bool) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, trimmed); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func nonBlank(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
