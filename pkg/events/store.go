// Package events implements the append-only event store, the system's
// source of truth. Events are immutable once appended; projections are
// derived from them and can be rebuilt by replaying the log.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/noema-dev/noema-engine/pkg/models"
)

// Hook is invoked after an event has been durably appended. Hook failures
// are isolated and logged; they never roll back the append or fail the
// triggering command.
type Hook func(ctx context.Context, event *models.Event)

// Filter narrows an event store query. UserID is mandatory: every query is
// tenant-scoped. Results are ordered oldest-to-newest by (timestamp,
// sequence) unless Descending is set.
type Filter struct {
	UserID        uuid.UUID
	Types         []string
	AggregateID   *uuid.UUID
	AggregateType string
	RequestID     *uuid.UUID
	Since         *time.Time
	Descending    bool
	Limit         int
}

// Store is the append-only event log.
type Store interface {
	// Append durably persists the event, assigns its monotonic sequence and
	// invokes registered post-append hooks before returning. Append failure
	// is fatal to the triggering command and propagates to the caller.
	Append(ctx context.Context, event *models.Event) (*models.Event, error)

	// Query returns events matching the filter, strictly ordered.
	Query(ctx context.Context, filter Filter) ([]*models.Event, error)

	// GetByID returns a single event, scoped to the user.
	GetByID(ctx context.Context, userID, eventID uuid.UUID) (*models.Event, error)

	// ListUndispatched returns events not yet handed to the dispatcher,
	// oldest first. Used at boot to re-enqueue deliveries interrupted by a
	// crash (at-least-once).
	ListUndispatched(ctx context.Context, limit int) ([]*models.Event, error)

	// MarkDispatched records that the dispatcher has accepted the event.
	// The event itself is never mutated; dispatch state lives alongside it.
	MarkDispatched(ctx context.Context, eventID uuid.UUID) error

	// AddHook registers a post-append hook. Must be called before traffic
	// starts; registration is not synchronized with Append.
	AddHook(hook Hook)
}

// prepare fills in the fields a caller may leave unset: id, timestamp and
// the correlation id (a root event correlates with itself).
func prepare(event *models.Event) {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	event.Timestamp = event.Timestamp.UTC().Truncate(time.Microsecond)
	if event.CorrelationID == uuid.Nil {
		event.CorrelationID = event.ID
	}
	if event.RequestID == uuid.Nil {
		event.RequestID = event.ID
	}
}
