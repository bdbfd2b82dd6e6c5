package attendee

import (
	"context"
	"fmt"
	"log/slog"

	"paycal/internal/apperror"
	"paycal/internal/models"
)

// Updater registers attendees on calendar events.
type Updater struct {
	backends *LazyBackend
	logger   *slog.Logger
}

func NewUpdater(logger *slog.Logger, backends *LazyBackend) *Updater {
	return &Updater{backends: backends, logger: logger}
}

// AddAttendee reads the event, merges email into its attendee list and writes
// the list back. One read and one write per call, no retries. Failures are
// logged and returned.
func (u *Updater) AddAttendee(ctx context.Context, eventID, email string) (*models.CalendarEvent, error) {
	if eventID == "" || email == "" {
		return nil, fmt.Errorf("%w: event id and email are required", apperror.ErrBadRequest)
	}

	backend, err := u.backends.Get(ctx)
	if err != nil {
		u.logger.ErrorContext(ctx, "Could not build calendar client", "error", err)
		return nil, err
	}

	existing, err := backend.GetEvent(ctx, eventID)
	if err != nil {
		u.logger.ErrorContext(ctx, "Error reading calendar event", "eventID", eventID, "error", err)
		return nil, fmt.Errorf("get event %s: %w", eventID, err)
	}

	attendees, added := MergeAttendee(existing.Attendees, email)
	if !added {
		u.logger.InfoContext(ctx, "Attendee already on event", "eventID", eventID, "email", email)
	}

	updated, err := backend.PatchAttendees(ctx, eventID, attendees)
	if err != nil {
		u.logger.ErrorContext(ctx, "Error adding attendee to event", "eventID", eventID, "email", email, "error", err)
		return nil, fmt.Errorf("patch attendees of event %s: %w", eventID, err)
	}

	u.logger.InfoContext(ctx, "Updated event attendees", "eventID", eventID, "count", len(updated.Attendees))
	return updated, nil
}

// MergeAttendee appends email unless an attendee with exactly that email is
// present. The existing order is kept and the input slice is not modified.
//
// Stripe redelivers events and nothing records which ones were processed, so
// repeated deliveries reach this function again. Correctness under
// redelivery depends on this merge staying idempotent.
func MergeAttendee(existing []models.Attendee, email string) ([]models.Attendee, bool) {
	merged := make([]models.Attendee, 0, len(existing)+1)
	merged = append(merged, existing...)

	for _, a := range existing {
		if a.Email == email {
			return merged, false
		}
	}
	return append(merged, models.Attendee{Email: email}), true
}
