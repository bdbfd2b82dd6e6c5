package icloud

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-ical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paycal/internal/apperror"
	"paycal/internal/models"
)

func newVEvent(uid string, attendees ...string) *ical.Component {
	ve := ical.NewComponent(ical.CompEvent)
	ve.Props.SetText(ical.PropUID, uid)
	ve.Props.SetText(ical.PropSummary, "Workshop")
	ve.Props.SetDateTime(ical.PropDateTimeStamp, time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC))
	ve.Props.SetDateTime(ical.PropDateTimeStart, time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC))
	for _, a := range attendees {
		p := ical.NewProp(ical.PropAttendee)
		p.Value = "mailto:" + a
		p.Params.Set(ical.ParamParticipationStatus, "ACCEPTED")
		ve.Props.Add(p)
	}
	return ve
}

func newCalendar(children ...*ical.Component) *ical.Calendar {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, "-//paycal//EN")
	cal.Children = append(cal.Children, children...)
	return cal
}

func TestToInternalEvent(t *testing.T) {
	cal := newCalendar(newVEvent("uid-1", "x@example.com"))
	cal.Children[0].Props.Get(ical.PropAttendee).Value = "MAILTO:x@example.com"

	event, err := toInternalEvent("uid-1", cal)

	require.NoError(t, err)
	assert.Equal(t, "uid-1", event.ID)
	assert.Equal(t, "Workshop", event.Summary)
	assert.Equal(t, []models.Attendee{{Email: "x@example.com"}}, event.Attendees)
}

func TestToInternalEvent_NoVEvent(t *testing.T) {
	_, err := toInternalEvent("uid-1", newCalendar())
	assert.Error(t, err)
}

func TestSetAttendees(t *testing.T) {
	master := newVEvent("uid-1", "x@example.com")
	override := newVEvent("uid-1", "x@example.com")
	override.Props.SetDateTime(ical.PropRecurrenceID, time.Date(2026, 2, 8, 9, 0, 0, 0, time.UTC))
	cal := newCalendar(master, override)

	err := setAttendees(cal, []models.Attendee{{Email: "x@example.com"}, {Email: "y@example.com"}})
	require.NoError(t, err)

	for _, ve := range []*ical.Component{master, override} {
		props := ve.Props.Values(ical.PropAttendee)
		require.Len(t, props, 2)
		assert.Equal(t, "mailto:x@example.com", props[0].Value)
		assert.Equal(t, "ACCEPTED", props[0].Params.Get(ical.ParamParticipationStatus), "existing attendee params kept")
		assert.Equal(t, "mailto:y@example.com", props[1].Value)
		assert.Equal(t, "Workshop", ve.Props.Get(ical.PropSummary).Value)
	}

	// The rewritten object must still encode.
	var buf bytes.Buffer
	require.NoError(t, ical.NewEncoder(&buf).Encode(cal))
	assert.Equal(t, 4, strings.Count(buf.String(), "ATTENDEE"))
}

func TestSetAttendees_NoVEvent(t *testing.T) {
	assert.Error(t, setAttendees(newCalendar(), []models.Attendee{{Email: "a@example.com"}}))
}

func TestMainEvent_PrefersMaster(t *testing.T) {
	override := newVEvent("uid-1")
	override.Props.SetDateTime(ical.PropRecurrenceID, time.Date(2026, 2, 8, 9, 0, 0, 0, time.UTC))
	master := newVEvent("uid-1")
	cal := newCalendar(override, master)

	assert.Same(t, master, mainEvent(cal))
}

// fakeCalDAVServer serves calendar objects under /cal/ from memory.
type fakeCalDAVServer struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    int
	auth    []string
}

func (f *fakeCalDAVServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	user, pass, _ := r.BasicAuth()
	f.auth = append(f.auth, user+":"+pass)

	switch {
	case r.URL.Path == "/cal/broken.ics":
		http.Error(w, "backend down", http.StatusInternalServerError)
	case r.Method == http.MethodGet:
		data, ok := f.objects[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", ical.MIMEType)
		w.Header().Set("ETag", `"1"`)
		_, _ = w.Write(data)
	case r.Method == http.MethodPut:
		data, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.objects[r.URL.Path] = data
		f.puts++
		w.Header().Set("ETag", `"2"`)
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "unsupported", http.StatusMethodNotAllowed)
	}
}

func encodeCalendar(t *testing.T, cal *ical.Calendar) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, ical.NewEncoder(&buf).Encode(cal))
	return buf.Bytes()
}

func newTestCalDAVClient(t *testing.T, fake *fakeCalDAVServer) *CalDAVClient {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	c, err := newCalDAVClient(slog.New(slog.NewTextHandler(io.Discard, nil)), srv.URL+"/", "user", "app-pass")
	require.NoError(t, err)
	c.calendarPath = "/cal/"
	return c
}

func TestCalDAVClient_GetEvent(t *testing.T) {
	fake := &fakeCalDAVServer{objects: map[string][]byte{
		"/cal/evt_1.ics": encodeCalendar(t, newCalendar(newVEvent("evt_1", "x@example.com"))),
	}}
	c := newTestCalDAVClient(t, fake)
	ctx := context.Background()

	t.Run("existing event", func(t *testing.T) {
		event, err := c.GetEvent(ctx, "evt_1")

		require.NoError(t, err)
		assert.Equal(t, "Workshop", event.Summary)
		assert.Equal(t, []models.Attendee{{Email: "x@example.com"}}, event.Attendees)
		assert.Equal(t, "user:app-pass", fake.auth[0])
	})

	t.Run("missing event is not found", func(t *testing.T) {
		_, err := c.GetEvent(ctx, "gone")

		assert.ErrorIs(t, err, apperror.ErrRemoteNotFound)
	})

	t.Run("server failure is a remote error", func(t *testing.T) {
		_, err := c.GetEvent(ctx, "broken")

		assert.ErrorIs(t, err, apperror.ErrRemote)
		assert.NotErrorIs(t, err, apperror.ErrRemoteNotFound)
	})
}

func TestCalDAVClient_PatchAttendees(t *testing.T) {
	fake := &fakeCalDAVServer{objects: map[string][]byte{
		"/cal/evt_1.ics": encodeCalendar(t, newCalendar(newVEvent("evt_1", "x@example.com"))),
	}}
	c := newTestCalDAVClient(t, fake)

	event, err := c.PatchAttendees(context.Background(), "evt_1",
		[]models.Attendee{{Email: "x@example.com"}, {Email: "y@example.com"}})

	require.NoError(t, err)
	assert.Equal(t, []models.Attendee{{Email: "x@example.com"}, {Email: "y@example.com"}}, event.Attendees)
	assert.Equal(t, 1, fake.puts)

	stored, err := ical.NewDecoder(bytes.NewReader(fake.objects["/cal/evt_1.ics"])).Decode()
	require.NoError(t, err)
	ve := mainEvent(stored)
	require.NotNil(t, ve)
	assert.Equal(t, "Workshop", ve.Props.Get(ical.PropSummary).Value)

	props := ve.Props.Values(ical.PropAttendee)
	require.Len(t, props, 2)
	assert.Equal(t, "ACCEPTED", props[0].Params.Get(ical.ParamParticipationStatus))
	assert.Equal(t, "mailto:y@example.com", props[1].Value)
}

func TestCalDAVClient_PatchMissingEvent(t *testing.T) {
	fake := &fakeCalDAVServer{objects: map[string][]byte{}}
	c := newTestCalDAVClient(t, fake)

	_, err := c.PatchAttendees(context.Background(), "gone", []models.Attendee{{Email: "a@example.com"}})

	assert.ErrorIs(t, err, apperror.ErrRemoteNotFound)
	assert.Zero(t, fake.puts)
}

func TestNewClient_MissingConfiguration(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	_, err := NewClientWithEndpoint(ctx, logger, "http://127.0.0.1:1/", "", "", "Events")
	assert.ErrorIs(t, err, apperror.ErrConfiguration)

	_, err = NewClientWithEndpoint(ctx, logger, "http://127.0.0.1:1/", "user", "pass", "")
	assert.ErrorIs(t, err, apperror.ErrConfiguration)
}
