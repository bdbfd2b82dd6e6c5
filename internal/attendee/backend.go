// Package attendee adds purchasers to calendar events.
package attendee

import (
	"context"
	"sync"

	"paycal/internal/models"
)

// Backend is a calendar provider client bound to one calendar.
type Backend interface {
	// GetEvent reads an event. Missing events yield apperror.ErrRemoteNotFound.
	GetEvent(ctx context.Context, eventID string) (*models.CalendarEvent, error)

	// PatchAttendees replaces the attendee list of an event and leaves every
	// other field as stored. It returns the event as written.
	PatchAttendees(ctx context.Context, eventID string, attendees []models.Attendee) (*models.CalendarEvent, error)
}

// BuildFunc constructs an authenticated Backend.
type BuildFunc func(ctx context.Context) (Backend, error)

// LazyBackend builds its Backend on first use and keeps it for the process
// lifetime. Concurrent first callers build once. A failed build is not
// remembered, so the next call tries again.
type LazyBackend struct {
	build BuildFunc

	mu      sync.Mutex
	backend Backend
}

func NewLazyBackend(build BuildFunc) *LazyBackend {
	return &LazyBackend{build: build}
}

// Get returns the cached Backend, building it if needed.
func (l *LazyBackend) Get(ctx context.Context) (Backend, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.backend != nil {
		return l.backend, nil
	}

	b, err := l.build(ctx)
	if err != nil {
		return nil, err
	}
	l.backend = b
	return b, nil
}
