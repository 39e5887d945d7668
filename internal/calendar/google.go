package calendar

import (
	"context"
	"fmt"
	"strings"
	"time"

	googlecalendar "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

// GoogleCalendar talks to the Google Calendar v3 API.
type GoogleCalendar struct {
	service    *googlecalendar.Service
	calendarID string
	timeZone   string
}

// NewGoogleCalendar builds a client for calendarID. Pass option.WithCredentialsFile in production.
func NewGoogleCalendar(ctx context.Context, calendarID string, timeZone string, options ...option.ClientOption) (*GoogleCalendar, error) {
	if strings.TrimSpace(calendarID) == "" {
		return nil, fmt.Errorf("%w: calendar id is required", ErrInvalidService)
	}
	if _, err := time.LoadLocation(timeZone); err != nil {
		return nil, fmt.Errorf("%w: time zone: %v", ErrInvalidService, err)
	}
	service, err := googlecalendar.NewService(ctx, options...)
	if err != nil {
		return nil, fmt.Errorf("calendar service: %w", err)
	}
	return &GoogleCalendar{service: service, calendarID: calendarID, timeZone: timeZone}, nil
}

// BusyPeriods runs a free/busy query over [from, to).
func (provider *GoogleCalendar) BusyPeriods(ctx context.Context, from time.Time, to time.Time) ([]Period, error) {
	if !to.After(from) {
		return nil, fmt.Errorf("%w: %s is not after %s", ErrInvalidPeriod, to, from)
	}
	response, err := provider.service.Freebusy.Query(&googlecalendar.FreeBusyRequest{
		TimeMin:  from.Format(time.RFC3339),
		TimeMax:  to.Format(time.RFC3339),
		TimeZone: provider.timeZone,
		Items:    []*googlecalendar.FreeBusyRequestItem{{Id: provider.calendarID}},
	}).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("calendar freebusy: %w", err)
	}
	busy, ok := response.Calendars[provider.calendarID]
	if !ok {
		return nil, nil
	}
	if len(busy.Errors) > 0 {
		return nil, fmt.Errorf("calendar freebusy: %s", busy.Errors[0].Reason)
	}
	periods := make([]Period, 0, len(busy.Busy))
	for _, window := range busy.Busy {
		start, err := time.Parse(time.RFC3339, window.Start)
		if err != nil {
			return nil, fmt.Errorf("calendar freebusy start: %w", err)
		}
		end, err := time.Parse(time.RFC3339, window.End)
		if err != nil {
			return nil, fmt.Errorf("calendar freebusy end: %w", err)
		}
		periods = append(periods, Period{Start: start, End: end})
	}
	return periods, nil
}

// CreateEvent inserts the lesson. A RequestID is used as the event id so a retried insert
// is rejected by Google instead of double-booking.
func (provider *GoogleCalendar) CreateEvent(ctx context.Context, request EventRequest) (Event, error) {
	if err := validateEvent(request); err != nil {
		return Event{}, err
	}
	event := &googlecalendar.Event{
		Id:          eventID(request.RequestID),
		Summary:     request.Summary,
		Description: request.Description,
		Start:       &googlecalendar.EventDateTime{DateTime: request.Start.Format(time.RFC3339), TimeZone: provider.timeZone},
		End:         &googlecalendar.EventDateTime{DateTime: request.End.Format(time.RFC3339), TimeZone: provider.timeZone},
	}
	if request.AttendeeEmail != "" {
		event.Attendees = []*googlecalendar.EventAttendee{{Email: request.AttendeeEmail}}
	}
	created, err := provider.service.Events.Insert(provider.calendarID, event).Context(ctx).Do()
	if err != nil {
		return Event{}, fmt.Errorf("calendar insert: %w", err)
	}
	return Event{ID: created.Id, Link: created.HtmlLink, Start: request.Start, End: request.End}, nil
}

// eventID maps a request id onto the base32hex alphabet Google accepts for event ids.
func eventID(requestID string) string {
	var builder strings.Builder
	for _, symbol := range strings.ToLower(requestID) {
		if (symbol >= '0' && symbol <= '9') || (symbol >= 'a' && symbol <= 'v') {
			builder.WriteRune(symbol)
		}
	}
	if builder.Len() < 5 {
		return ""
	}
	return builder.String()
}
