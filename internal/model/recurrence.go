package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Recurrence string

const (
	RecurrenceNone     Recurrence = ""
	RecurrenceDaily    Recurrence = "daily"
	RecurrenceWeekdays Recurrence = "weekdays"
	RecurrenceWeekly   Recurrence = "weekly"
	RecurrenceMonthly  Recurrence = "monthly"
	RecurrenceYearly   Recurrence = "yearly"
)

var ErrInvalidRecurrence = errors.New("model: invalid recurrence rule")

// ParseRecurrence maps a stored cadence string onto the closed set of rules.
// The empty string means the item does not repeat.
func ParseRecurrence(raw string) (Recurrence, error) {
	r := Recurrence(strings.ToLower(strings.TrimSpace(raw)))
	if err := r.Validate(); err != nil {
		return RecurrenceNone, err
	}
	return r, nil
}

func (r Recurrence) Validate() error {
	switch r {
	case RecurrenceNone, RecurrenceDaily, RecurrenceWeekdays, RecurrenceWeekly, RecurrenceMonthly, RecurrenceYearly:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidRecurrence, string(r))
	}
}

func (r Recurrence) IsRecurring() bool {
	return r != RecurrenceNone
}

// Next returns the occurrence following from. Calendar arithmetic happens in
// from's location, so callers convert to the user's zone first.
func (r Recurrence) Next(from time.Time) (time.Time, error) {
	switch r {
	case RecurrenceDaily:
		return from.AddDate(0, 0, 1), nil
	case RecurrenceWeekdays:
		return nextWeekday(from), nil
	case RecurrenceWeekly:
		return from.AddDate(0, 0, 7), nil
	case RecurrenceMonthly:
		return addMonthsClamped(from, 1), nil
	case RecurrenceYearly:
		return addMonthsClamped(from, 12), nil
	case RecurrenceNone:
		return time.Time{}, fmt.Errorf("%w: task does not repeat", ErrInvalidRecurrence)
	default:
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidRecurrence, string(r))
	}
}

func (r Recurrence) Preview(from time.Time, count int) ([]time.Time, error) {
	if count <= 0 {
		return []time.Time{}, nil
	}
	out := make([]time.Time, 0, count)
	cursor := from
	for i := 0; i < count; i++ {
		next, err := r.Next(cursor)
		if err != nil {
			return nil, err
		}
		out = append(out, next)
		cursor = next
	}
	return out, nil
}

func nextWeekday(from time.Time) time.Time {
	probe := from.AddDate(0, 0, 1)
	for probe.Weekday() == time.Saturday || probe.Weekday() == time.Sunday {
		probe = probe.AddDate(0, 0, 1)
	}
	return probe
}

// addMonthsClamped keeps the day of month unless the target month is shorter,
// in which case the last day of that month is used (Jan 31 -> Feb 28).
func addMonthsClamped(from time.Time, months int) time.Time {
	y, m, d := from.Date()
	loc := from.Location()
	first := time.Date(y, m, 1, from.Hour(), from.Minute(), from.Second(), from.Nanosecond(), loc).AddDate(0, months, 0)
	last := daysIn(first.Year(), first.Month(), loc)
	if d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, from.Hour(), from.Minute(), from.Second(), from.Nanosecond(), loc)
}

func daysIn(y int, m time.Month, loc *time.Location) int {
	return time.Date(y, m+1, 0, 0, 0, 0, 0, loc).Day()
}
