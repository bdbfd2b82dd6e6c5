package google

import (
	"context"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/jwt"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"paycal/internal/apperror"
	"paycal/internal/models"
)

const (
	credentialsFile = "credentials.json"
)

// CalendarClient provides a client for one Google calendar.
type CalendarClient struct {
	service     *calendar.Service
	logger      *slog.Logger
	calendarID  string
	sendUpdates string
}

// ServiceAccount holds the credentials of a Google service account.
type ServiceAccount struct {
	Email      string
	PrivateKey []byte // PEM, real newlines
	Subject    string // user to impersonate with domain-wide delegation, optional
	TokenURL   string // defaults to google.JWTTokenURL
}

// Settings selects the calendar a client writes to.
type Settings struct {
	CalendarID  string
	SendUpdates string // "all", "externalOnly", "none" or "" to let Google decide
}

// NewServiceAccountClient authenticates with the service account JWT flow and
// requests a first access token before returning, so bad credentials fail here.
// Extra options are passed to the Calendar service (endpoints in tests).
func NewServiceAccountClient(ctx context.Context, logger *slog.Logger, sa ServiceAccount, s Settings, opts ...option.ClientOption) (*CalendarClient, error) {
	if sa.Email == "" || len(sa.PrivateKey) == 0 {
		return nil, fmt.Errorf("%w: Google service account credentials are not set in environment", apperror.ErrConfiguration)
	}
	if s.CalendarID == "" {
		return nil, fmt.Errorf("%w: GOOGLE_CALENDAR_ID is not set in environment", apperror.ErrConfiguration)
	}

	if err := validatePrivateKey(sa.PrivateKey); err != nil {
		return nil, fmt.Errorf("%w: GOOGLE_PRIVATE_KEY: %w", apperror.ErrConfiguration, err)
	}

	conf := &jwt.Config{
		Email:      sa.Email,
		PrivateKey: sa.PrivateKey,
		Subject:    sa.Subject,
		Scopes:     []string{calendar.CalendarScope},
		TokenURL:   sa.TokenURL,
	}
	if conf.TokenURL == "" {
		conf.TokenURL = google.JWTTokenURL
	}

	ts := conf.TokenSource(ctx)
	if _, err := ts.Token(); err != nil {
		return nil, fmt.Errorf("%w: authorize service account %s: %w", apperror.ErrRemote, sa.Email, err)
	}

	return newClient(ctx, logger, s, append([]option.ClientOption{option.WithTokenSource(ts)}, opts...)...)
}

// validatePrivateKey checks that key is a PEM encoded RSA key in PKCS#8 or
// PKCS#1 form, the two layouts Google issues.
func validatePrivateKey(key []byte) error {
	block, _ := pem.Decode(key)
	if block == nil {
		return errors.New("no PEM block found")
	}
	if _, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		return nil
	}
	if _, err := x509.ParsePKCS1PrivateKey(block.Bytes); err != nil {
		return fmt.Errorf("parse private key: %w", err)
	}
	return nil
}

// NewTokenFileClient authenticates as the user whose OAuth token was saved by
// the auth command. Useful when the calendar owner cannot delegate to a
// service account.
func NewTokenFileClient(ctx context.Context, logger *slog.Logger, clientID, clientSecret, tokenFile string, s Settings, opts ...option.ClientOption) (*CalendarClient, error) {
	if s.CalendarID == "" {
		return nil, fmt.Errorf("%w: GOOGLE_CALENDAR_ID is not set in environment", apperror.ErrConfiguration)
	}

	config, err := getOAuthConfig(clientID, clientSecret)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get OAuth config: %w", apperror.ErrConfiguration, err)
	}

	token, err := tokenFromFile(tokenFile)
	if err != nil {
		return nil, fmt.Errorf("%w: could not load token %s: %w. Please run the 'auth' command first", apperror.ErrConfiguration, tokenFile, err)
	}

	client := config.Client(ctx, token)
	return newClient(ctx, logger, s, append([]option.ClientOption{option.WithHTTPClient(client)}, opts...)...)
}

func newClient(ctx context.Context, logger *slog.Logger, s Settings, opts ...option.ClientOption) (*CalendarClient, error) {
	service, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}

	return &CalendarClient{
		service:     service,
		logger:      logger,
		calendarID:  s.CalendarID,
		sendUpdates: s.SendUpdates,
	}, nil
}

// GetEvent fetches one event of the configured calendar.
func (c *CalendarClient) GetEvent(ctx context.Context, eventID string) (*models.CalendarEvent, error) {
	c.logger.DebugContext(ctx, "Fetching event", "calendarID", c.calendarID, "eventID", eventID)

	item, err := c.service.Events.Get(c.calendarID, eventID).Context(ctx).Do()
	if err != nil {
		return nil, classify(err, "get event")
	}
	return c.toInternalEvent(item), nil
}

// PatchAttendees sends only the attendee list; Google keeps every other
// field of the event as stored.
func (c *CalendarClient) PatchAttendees(ctx context.Context, eventID string, attendees []models.Attendee) (*models.CalendarEvent, error) {
	patch := &calendar.Event{Attendees: make([]*calendar.EventAttendee, 0, len(attendees))}
	for _, a := range attendees {
		patch.Attendees = append(patch.Attendees, &calendar.EventAttendee{
			Email:            a.Email,
			DisplayName:      a.DisplayName,
			ResponseStatus:   a.ResponseStatus,
			Optional:         a.Optional,
			Comment:          a.Comment,
			AdditionalGuests: a.AdditionalGuests,
		})
	}
	// An empty list would be dropped by omitempty and turn the patch into a no-op.
	patch.ForceSendFields = []string{"Attendees"}

	call := c.service.Events.Patch(c.calendarID, eventID, patch).Context(ctx)
	if c.sendUpdates != "" {
		call = call.SendUpdates(c.sendUpdates)
	}

	item, err := call.Do()
	if err != nil {
		return nil, classify(err, "patch event")
	}

	c.logger.InfoContext(ctx, "Patched event attendees", "calendarID", c.calendarID, "eventID", eventID, "count", len(item.Attendees))
	return c.toInternalEvent(item), nil
}

// toInternalEvent converts a Google Calendar event to the internal model.
func (c *CalendarClient) toInternalEvent(item *calendar.Event) *models.CalendarEvent {
	event := &models.CalendarEvent{
		ID:      item.Id,
		Summary: item.Summary,
		Source:  fmt.Sprintf("google-%s", c.calendarID),
	}
	for _, a := range item.Attendees {
		event.Attendees = append(event.Attendees, models.Attendee{
			Email:            a.Email,
			DisplayName:      a.DisplayName,
			ResponseStatus:   a.ResponseStatus,
			Optional:         a.Optional,
			Comment:          a.Comment,
			AdditionalGuests: a.AdditionalGuests,
		})
	}
	return event
}

// classify maps Google API errors onto apperror kinds.
func classify(err error, op string) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && (gerr.Code == http.StatusNotFound || gerr.Code == http.StatusGone) {
		return fmt.Errorf("%w: %s: %w", apperror.ErrRemoteNotFound, op, err)
	}
	return fmt.Errorf("%w: %s: %w", apperror.ErrRemote, op, err)
}

// DiscoverGoogleCalendars lists the calendars visible to the authenticated account.
func (c *CalendarClient) DiscoverGoogleCalendars(ctx context.Context) ([]string, error) {
	list, err := c.service.CalendarList.List().Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to list calendars: %w", err)
	}

	var calendarIDs []string
	for _, item := range list.Items {
		calendarIDs = append(calendarIDs, item.Id)
	}
	return calendarIDs, nil
}

// GetOAuthConfigForAuthFlow is used by the auth command to get the config for the web flow.
func GetOAuthConfigForAuthFlow(clientID, clientSecret string) (*oauth2.Config, error) {
	return getOAuthConfig(clientID, clientSecret)
}

// getOAuthConfig reads credentials and returns an OAuth2 config.
// It prioritizes environment variables over a local credentials.json file.
func getOAuthConfig(clientID, clientSecret string) (*oauth2.Config, error) {
	if clientID != "" && clientSecret != "" {
		return &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  "urn:ietf:wg:oauth:2.0:oob",
			Scopes:       []string{calendar.CalendarScope},
			Endpoint:     google.Endpoint,
		}, nil
	}

	b, err := os.ReadFile(credentialsFile)
	if err != nil {
		if _, ok := err.(*fs.PathError); ok {
			return nil, fmt.Errorf("credentials.json not found. Please provide GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET env vars or place credentials.json in the working directory")
		}
		return nil, fmt.Errorf("unable to read client secret file: %w", err)
	}

	config, err := google.ConfigFromJSON(b, calendar.CalendarScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse client secret file to config: %w", err)
	}
	config.RedirectURL = "urn:ietf:wg:oauth:2.0:oob" // For desktop app flow
	return config, nil
}

// TokenFromWeb is called by the auth flow to retrieve a token.
func TokenFromWeb(ctx context.Context, config *oauth2.Config, authCode string) (*oauth2.Token, error) {
	return config.Exchange(ctx, authCode)
}

// SaveToken saves a token to a file path.
func SaveToken(path string, token *oauth2.Token) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("unable to create token file: %w", err)
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(token)
}

// tokenFromFile retrieves a token from a local file.
func tokenFromFile(file string) (*oauth2.Token, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	tok := &oauth2.Token{}
	err = json.NewDecoder(f).Decode(tok)
	return tok, err
}
