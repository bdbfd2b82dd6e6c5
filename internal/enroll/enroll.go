// Package enroll runs attendee updates for paid checkouts in the background.
package enroll

import (
	"context"
	"log/slog"
	"sync"

	"paycal/internal/metrics"
	"paycal/internal/models"
)

// AttendeeAdder is the calendar side of an enrollment.
type AttendeeAdder interface {
	AddAttendee(ctx context.Context, eventID, email string) (*models.CalendarEvent, error)
}

// Enroller is the fire-and-forget task facility between the webhook
// receiver and the calendar updater.
type Enroller struct {
	logger  *slog.Logger
	updater AttendeeAdder
	dryRun  bool

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewEnroller creates an Enroller. With dryRun set it only logs what it would do.
func NewEnroller(logger *slog.Logger, updater AttendeeAdder, dryRun bool) *Enroller {
	return &Enroller{logger: logger, updater: updater, dryRun: dryRun}
}

// Dispatch starts adding the purchaser to the calendar event and returns
// immediately. Errors from this task are logged and discarded; the caller
// does not await it. The task outlives ctx cancellation but keeps its values.
// After Shutdown has been called new tasks are dropped with an error log.
func (e *Enroller) Dispatch(ctx context.Context, checkout models.CheckoutCompleted) {
	taskCtx := context.WithoutCancel(ctx)

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		e.logger.ErrorContext(ctx, "Shutting down, attendee update dropped",
			"eventID", checkout.CalendarEventID, "email", checkout.Email, "stripeEvent", checkout.StripeEventID)
		metrics.AttendeeUpdatesTotal.WithLabelValues("dropped").Inc()
		return
	}
	e.wg.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.wg.Done()
		e.run(taskCtx, checkout)
	}()
}

// Enroll adds the purchaser synchronously and returns the updater's result.
func (e *Enroller) Enroll(ctx context.Context, checkout models.CheckoutCompleted) (*models.CalendarEvent, error) {
	if e.dryRun {
		e.logger.InfoContext(ctx, "[DRY RUN] Would add attendee to event",
			"eventID", checkout.CalendarEventID, "email", checkout.Email, "session", checkout.SessionID)
		metrics.AttendeeUpdatesTotal.WithLabelValues("dry_run").Inc()
		return nil, nil
	}

	event, err := e.updater.AddAttendee(ctx, checkout.CalendarEventID, checkout.Email)
	if err != nil {
		metrics.AttendeeUpdatesTotal.WithLabelValues("failed").Inc()
		return nil, err
	}
	metrics.AttendeeUpdatesTotal.WithLabelValues("updated").Inc()
	return event, nil
}

func (e *Enroller) run(ctx context.Context, checkout models.CheckoutCompleted) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.ErrorContext(ctx, "Attendee update panicked", "eventID", checkout.CalendarEventID, "panic", r)
		}
	}()

	if _, err := e.Enroll(ctx, checkout); err != nil {
		e.logger.ErrorContext(ctx, "Failed to update calendar event",
			"eventID", checkout.CalendarEventID, "email", checkout.Email, "stripeEvent", checkout.StripeEventID, "error", err)
		return
	}
	if !e.dryRun {
		e.logger.InfoContext(ctx, "Attendee added to event", "eventID", checkout.CalendarEventID, "email", checkout.Email)
	}
}

// Shutdown stops accepting tasks and blocks until every dispatched task has
// finished or ctx is done. It returns ctx.Err() in the latter case and may be
// called again to keep waiting.
func (e *Enroller) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
