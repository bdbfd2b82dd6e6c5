// Package billing verifies Stripe webhook deliveries and decodes the event
// kinds paycal acts on.
package billing

import (
	"encoding/json"
	"fmt"

	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/webhook"

	"paycal/internal/apperror"
	"paycal/internal/models"
)

const (
	// SignatureHeader is the header Stripe signs deliveries with.
	SignatureHeader = "Stripe-Signature"

	// MaxBodyBytes matches the payload limit Stripe documents for webhooks.
	MaxBodyBytes = int64(65536)

	EventCheckoutSessionCompleted = "checkout.session.completed"

	// MetadataEventID is the checkout session metadata key holding the calendar event id.
	MetadataEventID = "eventId"
)

// SignatureError reports a delivery whose signature did not verify.
// It matches apperror.ErrBadRequest.
type SignatureError struct {
	Err error
}

func (e *SignatureError) Error() string { return e.Err.Error() }

func (e *SignatureError) Unwrap() []error { return []error{apperror.ErrBadRequest, e.Err} }

// ConstructEvent verifies header against the raw payload and secret and
// returns the decoded event. payload must be the body exactly as received.
func ConstructEvent(payload []byte, header, secret string) (stripe.Event, error) {
	if secret == "" {
		return stripe.Event{}, fmt.Errorf("%w: webhook secret is empty", apperror.ErrConfiguration)
	}
	if header == "" {
		return stripe.Event{}, fmt.Errorf("%w: missing %s header", apperror.ErrBadRequest, SignatureHeader)
	}

	// Only id, metadata and the customer email are read from the event, and
	// those are stable across API versions, so deliveries from endpoints
	// pinned to another version are accepted.
	event, err := webhook.ConstructEventWithOptions(payload, header, secret, webhook.ConstructEventOptions{
		Tolerance:                webhook.DefaultTolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return stripe.Event{}, &SignatureError{Err: err}
	}
	return event, nil
}

// Notification is a decoded webhook event: either Checkout or Ignored.
type Notification interface {
	Kind() string
	ID() string
}

// Checkout is a completed checkout session carrying both fields paycal needs.
type Checkout struct {
	models.CheckoutCompleted
}

func (c Checkout) Kind() string { return EventCheckoutSessionCompleted }
func (c Checkout) ID() string   { return c.StripeEventID }

// Ignored is any event kind paycal does not act on.
type Ignored struct {
	EventID string
	Type    string
}

func (i Ignored) Kind() string { return i.Type }
func (i Ignored) ID() string   { return i.EventID }

// Decode maps a verified event to a Notification. A checkout session without
// a calendar event id or purchaser email yields apperror.ErrMissingField.
func Decode(event stripe.Event) (Notification, error) {
	switch string(event.Type) {
	case EventCheckoutSessionCompleted:
		return decodeCheckout(event)
	default:
		return Ignored{EventID: event.ID, Type: string(event.Type)}, nil
	}
}

func decodeCheckout(event stripe.Event) (Notification, error) {
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return nil, fmt.Errorf("%w: event %s has no data object", apperror.ErrInternal, event.ID)
	}

	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return nil, fmt.Errorf("%w: decode checkout session of event %s: %w", apperror.ErrInternal, event.ID, err)
	}

	calendarEventID := session.Metadata[MetadataEventID]
	if calendarEventID == "" {
		return nil, fmt.Errorf("%w: checkout session %s has no metadata.%s", apperror.ErrMissingField, session.ID, MetadataEventID)
	}

	email := purchaserEmail(&session)
	if email == "" {
		return nil, fmt.Errorf("%w: checkout session %s has no customer email", apperror.ErrMissingField, session.ID)
	}

	return Checkout{CheckoutCompleted: models.CheckoutCompleted{
		StripeEventID:   event.ID,
		SessionID:       session.ID,
		CalendarEventID: calendarEventID,
		Email:           email,
	}}, nil
}

// purchaserEmail prefers the email collected at checkout over the prefilled one.
func purchaserEmail(session *stripe.CheckoutSession) string {
	if session.CustomerDetails != nil && session.CustomerDetails.Email != "" {
		return session.CustomerDetails.Email
	}
	return session.CustomerEmail
}
