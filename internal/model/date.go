package model

import "time"

// DateLayout is the wire format for settlement days.
const DateLayout = "2006-01-02"

// Day truncates t to its calendar date in t's own location and returns it as
// midnight UTC. Settlement dates are compared and uniquely indexed in this form.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDay parses a YYYY-MM-DD string into a settlement day.
func ParseDay(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, err
	}
	return Day(t), nil
}
