package calendar

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryCalendar keeps events in process memory. It backs local runs without Google credentials.
type MemoryCalendar struct {
	mutex  sync.Mutex
	events []Event
}

// NewMemoryCalendar returns an empty calendar.
func NewMemoryCalendar() *MemoryCalendar {
	return &MemoryCalendar{}
}

// Block marks a period busy without creating an event.
func (provider *MemoryCalendar) Block(period Period) {
	provider.mutex.Lock()
	defer provider.mutex.Unlock()
	provider.events = append(provider.events, Event{ID: uuid.NewString(), Start: period.Start, End: period.End})
}

func (provider *MemoryCalendar) BusyPeriods(ctx context.Context, from time.Time, to time.Time) ([]Period, error) {
	if !to.After(from) {
		return nil, fmt.Errorf("%w: %s is not after %s", ErrInvalidPeriod, to, from)
	}
	window := Period{Start: from, End: to}
	provider.mutex.Lock()
	defer provider.mutex.Unlock()
	periods := make([]Period, 0)
	for _, event := range provider.events {
		period := Period{Start: event.Start, End: event.End}
		if period.Overlaps(window) {
			periods = append(periods, period)
		}
	}
	sort.Slice(periods, func(left, right int) bool {
		return periods[left].Start.Before(periods[right].Start)
	})
	return periods, nil
}

func (provider *MemoryCalendar) CreateEvent(ctx context.Context, request EventRequest) (Event, error) {
	if err := validateEvent(request); err != nil {
		return Event{}, err
	}
	provider.mutex.Lock()
	defer provider.mutex.Unlock()
	if request.RequestID != "" {
		for _, existing := range provider.events {
			if existing.ID == request.RequestID {
				return existing, nil
			}
		}
	}
	id := request.RequestID
	if id == "" {
		id = uuid.NewString()
	}
	event := Event{ID: id, Start: request.Start, End: request.End}
	provider.events = append(provider.events, event)
	return event, nil
}

// Events returns a copy of the stored events.
func (provider *MemoryCalendar) Events() []Event {
	provider.mutex.Lock()
	defer provider.mutex.Unlock()
	return append([]Event(nil), provider.events...)
}
