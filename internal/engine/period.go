package engine

import (
	"strings"
	"time"
)

// DuplicatePeriod is the calendar period inside which a request type accepts
// one request per address and option
type DuplicatePeriod string

const (
	PeriodNone  DuplicatePeriod = "none"
	PeriodDay   DuplicatePeriod = "day"
	PeriodWeek  DuplicatePeriod = "week"
	PeriodMonth DuplicatePeriod = "month"
)

// ParseDuplicatePeriod normalizes a stored value; anything unknown is PeriodNone
func ParseDuplicatePeriod(raw string) DuplicatePeriod {
	switch p := DuplicatePeriod(strings.ToLower(strings.TrimSpace(raw))); p {
	case PeriodDay, PeriodWeek, PeriodMonth:
		return p
	}
	return PeriodNone
}

// Label is the wording used in rejection messages
func (p DuplicatePeriod) Label() string {
	switch p {
	case PeriodDay:
		return "calendar day"
	case PeriodWeek:
		return "calendar week"
	case PeriodMonth:
		return "calendar month"
	}
	return ""
}

// Range returns the UTC half-open interval [start, end) of the period containing now.
// Weeks start on Monday, matching ISO-8601 numbering. ok is false for PeriodNone.
func (p DuplicatePeriod) Range(now time.Time) (start, end time.Time, ok bool) {
	now = now.UTC()
	y, m, d := now.Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)

	switch p {
	case PeriodDay:
		return day, day.AddDate(0, 0, 1), true
	case PeriodWeek:
		sinceMonday := (int(day.Weekday()) + 6) % 7
		start = day.AddDate(0, 0, -sinceMonday)
		return start, start.AddDate(0, 0, 7), true
	case PeriodMonth:
		start = time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
		return start, start.AddDate(0, 1, 0), true
	}
	return time.Time{}, time.Time{}, false
}

// UTCDay truncates t to midnight UTC
func UTCDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DateKey formats t as its UTC calendar date
func DateKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
