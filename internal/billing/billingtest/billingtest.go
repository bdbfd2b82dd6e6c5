// Package billingtest builds signed Stripe webhook deliveries for tests.
package billingtest

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/webhook"
)

// Event returns a JSON Stripe event body of the given kind wrapping object,
// stamped with the library's API version.
func Event(t *testing.T, id, kind string, object any) []byte {
	t.Helper()
	return EventWithVersion(t, id, kind, stripe.APIVersion, object)
}

// EventWithVersion is Event with an explicit api_version.
func EventWithVersion(t *testing.T, id, kind, apiVersion string, object any) []byte {
	t.Helper()

	body, err := json.Marshal(map[string]any{
		"id":          id,
		"object":      "event",
		"api_version": apiVersion,
		"type":        kind,
		"data":        map[string]any{"object": object},
	})
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return body
}

// Sign returns a Stripe-Signature header value for body.
func Sign(body []byte, secret string) string {
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   body,
		Secret:    secret,
		Timestamp: time.Now(),
		Scheme:    "v1",
	})
	return signed.Header
}

// CheckoutSession builds a checkout session object. Empty arguments are omitted.
func CheckoutSession(id, calendarEventID, email string) map[string]any {
	session := map[string]any{
		"id":       id,
		"object":   "checkout.session",
		"metadata": map[string]string{},
	}
	if calendarEventID != "" {
		session["metadata"] = map[string]string{"eventId": calendarEventID}
	}
	if email != "" {
		session["customer_details"] = map[string]any{"email": email}
	}
	return session
}
