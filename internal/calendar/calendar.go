// Package calendar queries and books lesson slots on a tutor calendar.
package calendar

import (
	"errors"
	"time"
)

var (
	ErrInvalidPeriod  = errors.New("invalid period")
	ErrInvalidEvent   = errors.New("invalid event")
	ErrInvalidService = errors.New("invalid calendar service")
)

// Period is a half-open busy interval [Start, End).
type Period struct {
	Start time.Time
	End   time.Time
}

// Overlaps reports whether the two periods share any instant.
func (period Period) Overlaps(other Period) bool {
	return period.Start.Before(other.End) && other.Start.Before(period.End)
}

// EventRequest describes a lesson to put on the calendar.
type EventRequest struct {
	Summary       string
	Description   string
	Start         time.Time
	End           time.Time
	AttendeeEmail string
	// RequestID deduplicates retried inserts.
	RequestID string
}

// Event is a created calendar entry.
type Event struct {
	ID    string
	Link  string
	Start time.Time
	End   time.Time
}

func validateEvent(request EventRequest) error {
	if request.Summary == "" {
		return errors.Join(ErrInvalidEvent, errors.New("summary is required"))
	}
	if !request.End.After(request.Start) {
		return errors.Join(ErrInvalidEvent, errors.New("end must follow start"))
	}
	return nil
}
