package models

// Attendee is an email-identified participant of a calendar event.
// Fields other than Email are carried through unchanged so that rewriting
// the list does not reset other attendees' replies.
type Attendee struct {
	Email            string
	DisplayName      string
	ResponseStatus   string // needsAction, declined, tentative, accepted
	Optional         bool
	Comment          string
	AdditionalGuests int64
}

// CalendarEvent is the part of a remote calendar event paycal reads and writes.
// This is an internal representation, independent of any specific calendar provider.
type CalendarEvent struct {
	ID        string     // Provider event identifier
	Summary   string     // Title of the event, for logging only
	Attendees []Attendee // Ordered as returned by the provider
	Source    string     // The backend the event came from (e.g., "google")
}

// CheckoutCompleted is a verified, paid checkout that names a calendar event.
type CheckoutCompleted struct {
	StripeEventID   string // evt_... of the webhook delivery
	SessionID       string // cs_... of the checkout session
	CalendarEventID string // from session metadata "eventId"
	Email           string // purchaser email
}
