package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"paycal/internal/apperror"
	"paycal/internal/billing"
	"paycal/internal/metrics"
	"paycal/internal/models"
)

const (
	msgInternal      = "Internal server error"
	msgMissingHeader = "Missing stripe-signature header"
	msgWebhookPrefix = "Webhook Error: "
	msgRunning       = "Stripe Webhook Server is running!"
)

// Dispatcher hands a paid checkout to background processing without waiting.
type Dispatcher interface {
	Dispatch(ctx context.Context, checkout models.CheckoutCompleted)
}

// SecretFunc returns the webhook signing secret at call time.
type SecretFunc func() (string, error)

// WebhookHandler receives Stripe webhook deliveries.
type WebhookHandler struct {
	logger     *slog.Logger
	secret     SecretFunc
	dispatcher Dispatcher
}

func NewWebhookHandler(logger *slog.Logger, secret SecretFunc, dispatcher Dispatcher) *WebhookHandler {
	return &WebhookHandler{logger: logger, secret: secret, dispatcher: dispatcher}
}

// Receive verifies and handles one delivery. Once the signature checks out
// the response is 200, whatever happens to the calendar update later: a
// non-2xx makes Stripe redeliver.
func (h *WebhookHandler) Receive(c *gin.Context) {
	ctx := c.Request.Context()

	secret, err := h.secret()
	if err != nil {
		h.logger.ErrorContext(ctx, "Webhook secret unavailable", "error", err)
		h.fail(c, "unknown", "misconfigured", http.StatusInternalServerError, msgInternal)
		return
	}

	signature := c.GetHeader(billing.SignatureHeader)
	if signature == "" {
		h.logger.WarnContext(ctx, "Missing stripe-signature header")
		h.fail(c, "unknown", "missing_signature", http.StatusBadRequest, msgMissingHeader)
		return
	}

	// The signature covers the exact bytes received; nothing may parse them first.
	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, billing.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.logger.WarnContext(ctx, "Webhook body too large", "limit", tooLarge.Limit)
			h.fail(c, "unknown", "too_large", http.StatusBadRequest, msgWebhookPrefix+"request body too large")
			return
		}
		h.logger.ErrorContext(ctx, "Could not read webhook body", "error", err)
		h.fail(c, "unknown", "error", http.StatusInternalServerError, msgInternal)
		return
	}

	event, err := billing.ConstructEvent(payload, signature, secret)
	if err != nil {
		var sigErr *billing.SignatureError
		if errors.As(err, &sigErr) {
			h.logger.WarnContext(ctx, "Error verifying Stripe webhook signature", "error", sigErr.Error())
			h.fail(c, "unknown", "invalid_signature", http.StatusBadRequest, msgWebhookPrefix+sigErr.Error())
			return
		}
		h.logger.ErrorContext(ctx, "General error in webhook handler", "error", err)
		h.fail(c, "unknown", "error", http.StatusInternalServerError, msgInternal)
		return
	}

	kind := string(event.Type)
	log := h.logger.With("stripeEvent", event.ID, "type", kind)

	notification, err := billing.Decode(event)
	switch {
	case errors.Is(err, apperror.ErrMissingField):
		log.WarnContext(ctx, "Checkout completed without calendar event or email, skipping", "error", err)
		h.ack(c, kind, "skipped")
		return
	case err != nil:
		log.ErrorContext(ctx, "General error in webhook handler", "error", err)
		h.fail(c, kind, "error", http.StatusInternalServerError, msgInternal)
		return
	}

	switch n := notification.(type) {
	case billing.Checkout:
		log.InfoContext(ctx, "Payment complete for session", "session", n.SessionID, "eventID", n.CalendarEventID)
		// Fire and forget: the result is logged by the dispatcher, never awaited here.
		h.dispatcher.Dispatch(ctx, n.CheckoutCompleted)
		h.ack(c, kind, "dispatched")
	default:
		log.InfoContext(ctx, "Unhandled event type")
		h.ack(c, kind, "ignored")
	}
}

// Liveness answers liveness checks on the webhook path.
func (h *WebhookHandler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": msgRunning})
}

func (h *WebhookHandler) ack(c *gin.Context, kind, outcome string) {
	metrics.WebhookEventsTotal.WithLabelValues(kind, outcome).Inc()
	c.JSON(http.StatusOK, gin.H{"received": true})
}

func (h *WebhookHandler) fail(c *gin.Context, kind, outcome string, status int, msg string) {
	metrics.WebhookEventsTotal.WithLabelValues(kind, outcome).Inc()
	c.JSON(status, gin.H{"error": msg})
}
