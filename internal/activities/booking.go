package activities

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/inglespareto/credits/internal/calendar"
	"github.com/inglespareto/credits/pkg/credits"
)

const (
	defaultLessonDuration = time.Hour
	defaultDayOpensAt     = 8 * time.Hour
	defaultDayClosesAt    = 20 * time.Hour
)

// CalendarProvider answers free/busy queries and creates lesson events.
type CalendarProvider interface {
	BusyPeriods(ctx context.Context, from time.Time, to time.Time) ([]calendar.Period, error)
	CreateEvent(ctx context.Context, request calendar.EventRequest) (calendar.Event, error)
}

// LessonRequest asks for a lesson starting at Start.
type LessonRequest struct {
	LessonType   credits.ActivityType
	Start        time.Time
	StudentEmail string
	Notes        string
}

// Booking is a confirmed lesson.
type Booking struct {
	EventID    string               `json:"eventId"`
	Link       string               `json:"link,omitempty"`
	LessonType credits.ActivityType `json:"lessonType"`
	Start      time.Time            `json:"start"`
	End        time.Time            `json:"end"`
}

// BookingService books lessons against the tutor calendar.
type BookingService struct {
	credits  *credits.Service
	calendar CalendarProvider
	duration time.Duration
	location *time.Location
	opensAt  time.Duration
	closesAt time.Duration
	nowFn    func() time.Time
}

// BookingOption configures a BookingService.
type BookingOption func(*BookingService)

// WithLessonDuration sets the length of every lesson slot.
func WithLessonDuration(duration time.Duration) BookingOption {
	return func(service *BookingService) {
		if duration > 0 {
			service.duration = duration
		}
	}
}

// WithTeachingHours sets the daily window, as offsets from local midnight, in which slots are offered.
func WithTeachingHours(opensAt time.Duration, closesAt time.Duration) BookingOption {
	return func(service *BookingService) {
		if opensAt >= 0 && closesAt > opensAt && closesAt <= 24*time.Hour {
			service.opensAt = opensAt
			service.closesAt = closesAt
		}
	}
}

// WithLocation sets the tutor's time zone for slot listing.
func WithLocation(location *time.Location) BookingOption {
	return func(service *BookingService) {
		if location != nil {
			service.location = location
		}
	}
}

// WithBookingClock replaces the wall clock.
func WithBookingClock(now func() time.Time) BookingOption {
	return func(service *BookingService) {
		if now != nil {
			service.nowFn = now
		}
	}
}

// NewBookingService wires a BookingService.
func NewBookingService(creditService *credits.Service, provider CalendarProvider, options ...BookingOption) (*BookingService, error) {
	if creditService == nil || provider == nil {
		return nil, fmt.Errorf("%w: booking service needs credits and a calendar", ErrMissingDependency)
	}
	service := &BookingService{
		credits:  creditService,
		calendar: provider,
		duration: defaultLessonDuration,
		location: time.UTC,
		opensAt:  defaultDayOpensAt,
		closesAt: defaultDayClosesAt,
		nowFn:    systemClock,
	}
	for _, option := range options {
		option(service)
	}
	return service, nil
}

// BookLesson charges the lesson price and creates the calendar event. A slot taken in the
// meantime fails without retrying and the reserved credits are restored.
func (service *BookingService) BookLesson(ctx context.Context, userID credits.UserID, request LessonRequest) credits.Result[Booking] {
	config, ok := service.credits.LookupActivity(request.LessonType)
	if !ok {
		return failed[Booking](fmt.Errorf("%w: %q", credits.ErrInvalidActivityType, request.LessonType))
	}
	if config.Category != credits.CategoryLesson {
		return invalid[Booking]("%q is not a lesson", request.LessonType)
	}
	if request.Start.IsZero() {
		return invalid[Booking]("start time is required")
	}
	slot := calendar.Period{Start: request.Start.UTC(), End: request.Start.UTC().Add(service.duration)}
	if !slot.Start.After(service.nowFn()) {
		return invalid[Booking]("start time %s is in the past", slot.Start.Format(time.RFC3339))
	}

	return credits.ExecuteActivity(ctx, service.credits, userID, request.LessonType, func(ctx context.Context, activityID string) (Booking, error) {
		busy, err := service.calendar.BusyPeriods(ctx, slot.Start, slot.End)
		if err != nil {
			return Booking{}, err
		}
		for _, period := range busy {
			if period.Overlaps(slot) {
				return Booking{}, credits.Permanent(fmt.Errorf("%w: %s", ErrSlotUnavailable, slot.Start.Format(time.RFC3339)))
			}
		}
		event, err := service.calendar.CreateEvent(ctx, calendar.EventRequest{
			Summary:       config.Description,
			Description:   strings.TrimSpace(request.Notes),
			Start:         slot.Start,
			End:           slot.End,
			AttendeeEmail: strings.TrimSpace(request.StudentEmail),
			RequestID:     activityID,
		})
		if err != nil {
			return Booking{}, err
		}
		return Booking{EventID: event.ID, Link: event.Link, LessonType: request.LessonType, Start: slot.Start, End: slot.End}, nil
	}, credits.ExecuteOptions{Description: config.Description})
}

// AvailableSlots lists free lesson slots on the given day. It costs no credits.
func (service *BookingService) AvailableSlots(ctx context.Context, day time.Time) ([]calendar.Period, error) {
	local := day.In(service.location)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, service.location)
	from := midnight.Add(service.opensAt)
	to := midnight.Add(service.closesAt)
	if now := service.nowFn(); from.Before(now) {
		from = now.Truncate(service.duration).Add(service.duration).In(service.location)
	}
	if !to.After(from) {
		return []calendar.Period{}, nil
	}
	busy, err := service.calendar.BusyPeriods(ctx, from, to)
	if err != nil {
		return nil, err
	}
	slots := make([]calendar.Period, 0)
	for start := from; !start.Add(service.duration).After(to); start = start.Add(service.duration) {
		candidate := calendar.Period{Start: start, End: start.Add(service.duration)}
		free := true
		for _, period := range busy {
			if period.Overlaps(candidate) {
				free = false
				break
			}
		}
		if free {
			slots = append(slots, candidate)
		}
	}
	return slots, nil
}
