package domain

import "errors"

// Common domain errors used across the application.
var (
	// ErrValidation is returned when a domain entity fails validation.
	// This is often wrapped with a more specific error message.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidID is returned when an ID is malformed or invalid.
	ErrInvalidID = errors.New("invalid ID")

	// ErrInvalidTimestamp is returned when a timestamp is missing or malformed.
	ErrInvalidTimestamp = errors.New("invalid timestamp")

	// ErrInvalidPriority is returned when a priority is not one of high, medium, low.
	ErrInvalidPriority = errors.New("invalid priority")

	// ErrInvalidTaskStatus is returned when a task status is not valid.
	ErrInvalidTaskStatus = errors.New("invalid task status")

	// ErrInvalidEventType is returned when an event type is not valid.
	ErrInvalidEventType = errors.New("invalid event type")

	// ErrInvalidPatternType is returned when a recurrence pattern type is not valid.
	ErrInvalidPatternType = errors.New("invalid recurrence pattern type")

	// ErrInvalidReminderStatus is returned when a reminder status is not valid.
	ErrInvalidReminderStatus = errors.New("invalid reminder status")
)
