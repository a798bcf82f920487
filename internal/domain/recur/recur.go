// Package recur computes successor due times for recurring tasks.
package recur

import (
	"errors"
	"fmt"
	"time"

	"github.com/taskpulse/taskpulse/internal/domain"
)

// ErrPatternExpired is returned when the computed next occurrence would fall
// after the pattern's end date, meaning no successor should be created.
var ErrPatternExpired = errors.New("recurrence pattern expired")

// OverflowPolicy controls what happens when a monthly step lands on a
// day-of-month that does not exist in the target month (e.g. Jan 31 + 1 month).
type OverflowPolicy int

const (
	// OverflowClamp moves the occurrence to the last valid day of the target
	// month. Jan 31 + 1 month becomes Feb 28 (or Feb 29 in a leap year).
	OverflowClamp OverflowPolicy = iota

	// OverflowSkip advances to the next month that has the requested day.
	// Jan 31 + 1 month becomes Mar 31.
	OverflowSkip
)

// Calculator computes the next occurrence of a recurring task.
//
// The next due time is always derived from the previous due time, never from
// the completion time, so that late completions do not drift the schedule.
type Calculator struct {
	// Overflow selects the monthly day-overflow policy. The zero value is
	// OverflowClamp, which is the documented default.
	Overflow OverflowPolicy
}

// Next returns the due time of the successor occurrence after dueAt according
// to the pattern.
//
// Returns ErrPatternExpired when the pattern has an end date and the computed
// occurrence falls after it. Custom patterns are interpreted as day intervals.
func (c Calculator) Next(pattern *domain.RecurringPattern, dueAt time.Time) (time.Time, error) {
	if pattern == nil {
		return time.Time{}, fmt.Errorf("%w: recurrence pattern is nil", domain.ErrValidation)
	}
	if err := pattern.Validate(); err != nil {
		return time.Time{}, err
	}

	var next time.Time
	switch pattern.PatternType {
	case domain.PatternDaily:
		next = dueAt.AddDate(0, 0, pattern.Interval)
	case domain.PatternWeekly:
		next = dueAt.AddDate(0, 0, 7*pattern.Interval)
	case domain.PatternMonthly:
		next = c.addMonths(dueAt, pattern.Interval)
	case domain.PatternCustom:
		next = dueAt.AddDate(0, 0, pattern.Interval)
	default:
		return time.Time{}, fmt.Errorf("%w: %q", domain.ErrInvalidPatternType, pattern.PatternType)
	}

	if pattern.EndAt != nil && next.After(*pattern.EndAt) {
		return time.Time{}, ErrPatternExpired
	}

	return next, nil
}

// addMonths steps forward by months months, applying the overflow policy when
// the source day-of-month does not exist in the target month.
//
// time.AddDate normalizes overflow by rolling into the following month
// (Jan 31 + 1 month = Mar 3), which matches neither policy, so the target
// month is computed explicitly.
func (c Calculator) addMonths(t time.Time, months int) time.Time {
	year, month, day := t.Date()

	// First day of the target month, carrying the time of day.
	first := time.Date(year, month, 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	target := first.AddDate(0, months, 0)

	last := daysInMonth(target.Year(), target.Month())
	if day <= last {
		return target.AddDate(0, 0, day-1)
	}

	switch c.Overflow {
	case OverflowSkip:
		// Walk forward month by month until one can hold the day.
		for day > daysInMonth(target.Year(), target.Month()) {
			target = target.AddDate(0, 1, 0)
		}
		return target.AddDate(0, 0, day-1)
	default:
		// Clamp to the last valid day of the target month.
		return target.AddDate(0, 0, last-1)
	}
}

// daysInMonth returns the number of days in the given month.
func daysInMonth(year int, month time.Month) int {
	// Day 0 of the next month is the last day of this month.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
