package models

import (
	"fmt"
	"time"
)

// DateLayout is the calendar-date format used wherever dates are persisted.
const DateLayout = "2006-01-02"

// Listing is a stored Record plus its lifecycle metadata.
// Active is false exactly when Disappeared is set.
type Listing struct {
	Record
	Active      bool       `json:"active"`
	FirstSeen   *time.Time `json:"first_seen"`
	LastUpdated *time.Time `json:"last_updated"`
	Disappeared *time.Time `json:"disappeared"`
}

// ID returns the listing key. Stored listings always carry one.
func (l Listing) ID() string {
	id, _ := l.Key()
	return id
}

// Day truncates t to a calendar date in UTC.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DatePtr returns a pointer to the calendar date of t.
func DatePtr(t time.Time) *time.Time {
	d := Day(t)
	return &d
}

// ParseDate parses a persisted date; an empty value is an unset date.
func ParseDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		// tolerate full timestamps written by older runs
		t, err = time.Parse(time.RFC3339, s)
		if err != nil {
			return nil, fmt.Errorf("parse date %q: %w", s, err)
		}
	}
	return DatePtr(t), nil
}

// FormatDate renders an optional date, empty when unset.
func FormatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(DateLayout)
}

// SameDate compares two optional calendar dates.
func SameDate(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return Day(*a).Equal(Day(*b))
}
