package billing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paycal/internal/apperror"
	"paycal/internal/billing/billingtest"
)

const secret = "whsec_test"

func TestConstructEvent(t *testing.T) {
	body := billingtest.Event(t, "evt_123", "invoice.paid", map[string]any{"id": "in_1", "object": "invoice"})

	t.Run("valid signature", func(t *testing.T) {
		event, err := ConstructEvent(body, billingtest.Sign(body, secret), secret)
		require.NoError(t, err)
		assert.Equal(t, "evt_123", event.ID)
		assert.Equal(t, "invoice.paid", string(event.Type))
	})

	t.Run("other api version is accepted", func(t *testing.T) {
		newer := billingtest.EventWithVersion(t, "evt_456", "invoice.paid", "2024-06-20", map[string]any{"id": "in_2", "object": "invoice"})

		event, err := ConstructEvent(newer, billingtest.Sign(newer, secret), secret)
		require.NoError(t, err)
		assert.Equal(t, "evt_456", event.ID)
		assert.Equal(t, "2024-06-20", event.APIVersion)
	})

	t.Run("missing header", func(t *testing.T) {
		_, err := ConstructEvent(body, "", secret)
		assert.ErrorIs(t, err, apperror.ErrBadRequest)
	})

	t.Run("missing secret", func(t *testing.T) {
		_, err := ConstructEvent(body, billingtest.Sign(body, secret), "")
		assert.ErrorIs(t, err, apperror.ErrConfiguration)
	})

	t.Run("wrong secret", func(t *testing.T) {
		_, err := ConstructEvent(body, billingtest.Sign(body, "whsec_other"), secret)
		require.Error(t, err)
		assert.ErrorIs(t, err, apperror.ErrBadRequest)

		var sigErr *SignatureError
		assert.ErrorAs(t, err, &sigErr)
	})

	t.Run("tampered body", func(t *testing.T) {
		header := billingtest.Sign(body, secret)
		tampered := append([]byte{}, body...)
		tampered[len(tampered)-2] = ' '

		_, err := ConstructEvent(tampered, header, secret)
		assert.ErrorIs(t, err, apperror.ErrBadRequest)
	})
}

func TestDecode(t *testing.T) {
	decode := func(t *testing.T, kind string, object any) (Notification, error) {
		t.Helper()
		body := billingtest.Event(t, "evt_1", kind, object)
		event, err := ConstructEvent(body, billingtest.Sign(body, secret), secret)
		require.NoError(t, err)
		return Decode(event)
	}

	t.Run("checkout completed with both fields", func(t *testing.T) {
		n, err := decode(t, EventCheckoutSessionCompleted, billingtest.CheckoutSession("cs_1", "cal_evt_1", "a@example.com"))
		require.NoError(t, err)

		checkout, ok := n.(Checkout)
		require.True(t, ok)
		assert.Equal(t, "evt_1", checkout.ID())
		assert.Equal(t, "cs_1", checkout.SessionID)
		assert.Equal(t, "cal_evt_1", checkout.CalendarEventID)
		assert.Equal(t, "a@example.com", checkout.Email)
	})

	t.Run("falls back to customer_email", func(t *testing.T) {
		session := billingtest.CheckoutSession("cs_2", "cal_evt_2", "")
		session["customer_email"] = "b@example.com"

		n, err := decode(t, EventCheckoutSessionCompleted, session)
		require.NoError(t, err)
		assert.Equal(t, "b@example.com", n.(Checkout).Email)
	})

	t.Run("missing email", func(t *testing.T) {
		n, err := decode(t, EventCheckoutSessionCompleted, billingtest.CheckoutSession("cs_3", "cal_evt_3", ""))
		assert.ErrorIs(t, err, apperror.ErrMissingField)
		assert.Nil(t, n)
	})

	t.Run("missing event id", func(t *testing.T) {
		_, err := decode(t, EventCheckoutSessionCompleted, billingtest.CheckoutSession("cs_4", "", "a@example.com"))
		assert.ErrorIs(t, err, apperror.ErrMissingField)
	})

	t.Run("other kinds are ignored", func(t *testing.T) {
		n, err := decode(t, "invoice.paid", map[string]any{"id": "in_1", "object": "invoice"})
		require.NoError(t, err)

		ignored, ok := n.(Ignored)
		require.True(t, ok)
		assert.Equal(t, "invoice.paid", ignored.Kind())
	})
}
