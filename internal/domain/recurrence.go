package domain

import (
	"errors"
	"fmt"
	"time"
)

// Recurrence-specific validation errors
var (
	// ErrIntervalNotPositive is returned when a recurrence interval is zero or negative.
	ErrIntervalNotPositive = errors.New("recurrence interval must be positive")
)

// PatternType identifies the unit a recurrence interval is expressed in.
type PatternType string

// Possible recurrence pattern types. Custom patterns are interpreted as an
// interval expressed in days.
const (
	PatternDaily   PatternType = "daily"
	PatternWeekly  PatternType = "weekly"
	PatternMonthly PatternType = "monthly"
	PatternCustom  PatternType = "custom"
)

// Valid checks whether the pattern type is one of the defined values.
func (p PatternType) Valid() bool {
	switch p {
	case PatternDaily, PatternWeekly, PatternMonthly, PatternCustom:
		return true
	}
	return false
}

// RecurringPattern describes how a task repeats. It is embedded in a Task and
// has no lifecycle of its own: the recurrence travels with the task and is
// copied verbatim onto each successor instance.
type RecurringPattern struct {
	PatternType PatternType `json:"pattern_type"`
	Interval    int         `json:"interval"`
	EndAt       *time.Time  `json:"end_at,omitempty"`
}

// Validate checks if the RecurringPattern has valid data.
func (r *RecurringPattern) Validate() error {
	if !r.PatternType.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidPatternType, r.PatternType)
	}

	if r.Interval <= 0 {
		return fmt.Errorf("%w: %d", ErrIntervalNotPositive, r.Interval)
	}

	return nil
}
