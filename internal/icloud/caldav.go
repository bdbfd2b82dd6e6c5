package icloud

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"strings"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav/caldav"

	"paycal/internal/apperror"
	"paycal/internal/models"
)

const (
	iCloudCalDAVEndpoint = "https://caldav.icloud.com/"
	mailtoPrefix         = "mailto:"
)

// customTransport handles adding Basic Auth and custom headers to requests.
type customTransport struct {
	Username  string
	Password  string
	Transport http.RoundTripper
}

// RoundTrip adds required headers and authentication to each request and
// reports the response status to a statusRecorder found in the request context.
func (t *customTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.SetBasicAuth(t.Username, t.Password)
	req.Header.Set("User-Agent", "paycal/1.0")

	resp, err := t.Transport.RoundTrip(req)
	if err == nil {
		if rec, ok := req.Context().Value(statusKey{}).(*statusRecorder); ok {
			rec.code = resp.StatusCode
		}
	}
	return resp, err
}

type statusKey struct{}

// statusRecorder holds the last HTTP status seen for one client call.
// go-webdav keeps its HTTP error type internal, so this is how a 404 is told
// apart from other failures.
type statusRecorder struct {
	code int
}

func withStatusRecorder(ctx context.Context) (context.Context, *statusRecorder) {
	rec := &statusRecorder{}
	return context.WithValue(ctx, statusKey{}, rec), rec
}

func (r *statusRecorder) notFound() bool {
	return r.code == http.StatusNotFound || r.code == http.StatusGone
}

// CalDAVClient reads and rewrites events of one CalDAV calendar (iCloud by default).
// Event ids are the calendar object names without the .ics suffix.
type CalDAVClient struct {
	caldavClient *caldav.Client
	logger       *slog.Logger
	calendarPath string
}

// NewClient creates a CalDAVClient for the iCloud calendar with the given display name.
func NewClient(ctx context.Context, logger *slog.Logger, username, password, calendarName string) (*CalDAVClient, error) {
	return NewClientWithEndpoint(ctx, logger, iCloudCalDAVEndpoint, username, password, calendarName)
}

// NewClientWithEndpoint is NewClient against any CalDAV server.
func NewClientWithEndpoint(ctx context.Context, logger *slog.Logger, endpoint, username, password, calendarName string) (*CalDAVClient, error) {
	if username == "" || password == "" {
		return nil, fmt.Errorf("%w: ICLOUD_USERNAME and ICLOUD_APP_SPECIFIC_PASSWORD must be set", apperror.ErrConfiguration)
	}
	if calendarName == "" {
		return nil, fmt.Errorf("%w: ICLOUD_CALENDAR_NAME is not set in environment", apperror.ErrConfiguration)
	}

	c, err := newCalDAVClient(logger, endpoint, username, password)
	if err != nil {
		return nil, err
	}

	logger.InfoContext(ctx, "Finding CalDAV calendar", "calendarName", calendarName)
	calendarPath, err := c.findCalendar(ctx, calendarName)
	if err != nil {
		return nil, fmt.Errorf("could not find calendar '%s': %w", calendarName, err)
	}
	c.calendarPath = calendarPath
	logger.InfoContext(ctx, "Successfully found CalDAV calendar", "path", calendarPath)

	return c, nil
}

func newCalDAVClient(logger *slog.Logger, endpoint, username, password string) (*CalDAVClient, error) {
	transport := &customTransport{
		Username:  username,
		Password:  password,
		Transport: http.DefaultTransport,
	}
	httpClient := &http.Client{Transport: transport}

	caldavClient, err := caldav.NewClient(httpClient, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create caldav client: %w", err)
	}

	return &CalDAVClient{
		caldavClient: caldavClient,
		logger:       logger,
	}, nil
}

// GetEvent reads the calendar object named eventID.
func (c *CalDAVClient) GetEvent(ctx context.Context, eventID string) (*models.CalendarEvent, error) {
	obj, err := c.getObject(ctx, eventID)
	if err != nil {
		return nil, err
	}
	return toInternalEvent(eventID, obj.Data)
}

// PatchAttendees rewrites the ATTENDEE properties of the stored object.
// CalDAV has no partial update, so the object is read again and put back with
// every other property untouched.
func (c *CalDAVClient) PatchAttendees(ctx context.Context, eventID string, attendees []models.Attendee) (*models.CalendarEvent, error) {
	obj, err := c.getObject(ctx, eventID)
	if err != nil {
		return nil, err
	}

	if err := setAttendees(obj.Data, attendees); err != nil {
		return nil, fmt.Errorf("%w: event %s: %w", apperror.ErrRemote, eventID, err)
	}

	if _, err := c.caldavClient.PutCalendarObject(ctx, obj.Path, obj.Data); err != nil {
		return nil, fmt.Errorf("%w: put event %s: %w", apperror.ErrRemote, eventID, err)
	}

	c.logger.InfoContext(ctx, "Rewrote event attendees on CalDAV server", "eventID", eventID, "count", len(attendees))
	return toInternalEvent(eventID, obj.Data)
}

func (c *CalDAVClient) getObject(ctx context.Context, eventID string) (*caldav.CalendarObject, error) {
	objectPath := path.Join(c.calendarPath, eventID+".ics")

	ctx, status := withStatusRecorder(ctx)
	obj, err := c.caldavClient.GetCalendarObject(ctx, objectPath)
	if err != nil {
		if status.notFound() {
			return nil, fmt.Errorf("%w: event %s: %w", apperror.ErrRemoteNotFound, eventID, err)
		}
		return nil, fmt.Errorf("%w: get event %s: %w", apperror.ErrRemote, eventID, err)
	}
	return obj, nil
}

// toInternalEvent converts the main VEVENT of cal to the internal model.
func toInternalEvent(eventID string, cal *ical.Calendar) (*models.CalendarEvent, error) {
	vevent := mainEvent(cal)
	if vevent == nil {
		return nil, fmt.Errorf("%w: object %s has no VEVENT", apperror.ErrRemote, eventID)
	}

	event := &models.CalendarEvent{ID: eventID, Source: "icloud"}
	if summary := vevent.Props.Get(ical.PropSummary); summary != nil {
		event.Summary = summary.Value
	}
	for _, p := range vevent.Props.Values(ical.PropAttendee) {
		event.Attendees = append(event.Attendees, models.Attendee{Email: emailOf(&p)})
	}
	return event, nil
}

// mainEvent returns the VEVENT without RECURRENCE-ID, or the first VEVENT.
func mainEvent(cal *ical.Calendar) *ical.Component {
	var first *ical.Component
	for _, child := range cal.Children {
		if child.Name != ical.CompEvent {
			continue
		}
		if first == nil {
			first = child
		}
		if child.Props.Get(ical.PropRecurrenceID) == nil {
			return child
		}
	}
	return first
}

// setAttendees replaces ATTENDEE on every VEVENT so recurrence overrides stay
// in step with the master. Properties of attendees that remain are kept as
// they were (PARTSTAT, CN, ...).
func setAttendees(cal *ical.Calendar, attendees []models.Attendee) error {
	found := false
	for _, child := range cal.Children {
		if child.Name != ical.CompEvent {
			continue
		}
		found = true

		existing := map[string]ical.Prop{}
		for _, p := range child.Props.Values(ical.PropAttendee) {
			existing[emailOf(&p)] = p
		}

		child.Props.Del(ical.PropAttendee)
		for _, a := range attendees {
			if p, ok := existing[a.Email]; ok {
				child.Props.Add(&p)
				continue
			}
			p := ical.NewProp(ical.PropAttendee)
			p.Value = mailtoPrefix + a.Email
			child.Props.Add(p)
		}
	}
	if !found {
		return fmt.Errorf("no VEVENT component")
	}
	return nil
}

func emailOf(p *ical.Prop) string {
	v := p.Value
	if len(v) >= len(mailtoPrefix) && strings.EqualFold(v[:len(mailtoPrefix)], mailtoPrefix) {
		return v[len(mailtoPrefix):]
	}
	return v
}

// findCalendar discovers the user's calendars and returns the path of the one with the matching name.
func (c *CalDAVClient) findCalendar(ctx context.Context, name string) (string, error) {
	principalPath, err := c.caldavClient.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to find principal path: %w", err)
	}

	homeSetPath, err := c.caldavClient.FindCalendarHomeSet(ctx, principalPath)
	if err != nil {
		return "", fmt.Errorf("failed to find calendar home set: %w", err)
	}

	calendars, err := c.caldavClient.FindCalendars(ctx, homeSetPath)
	if err != nil {
		return "", fmt.Errorf("failed to find calendars: %w", err)
	}

	for _, cal := range calendars {
		if cal.Name == name {
			return cal.Path, nil
		}
	}

	return "", fmt.Errorf("%w: no calendar found with name '%s'", apperror.ErrConfiguration, name)
}
