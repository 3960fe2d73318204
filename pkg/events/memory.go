package events

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noema-dev/noema-engine/pkg/apperrors"
	"github.com/noema-dev/noema-engine/pkg/models"
)

// MemoryStore is an in-memory Store with the same append-only semantics as
// the Postgres implementation. It backs unit tests and replay experiments
// where a database is unnecessary.
type MemoryStore struct {
	mu         sync.RWMutex
	events     []*models.Event
	dispatched map[uuid.UUID]bool
	seq        int64

	hooks  []Hook
	logger *zap.Logger
}

// NewMemoryStore creates an empty in-memory event store.
func NewMemoryStore(logger *zap.Logger) *MemoryStore {
	return &MemoryStore{
		dispatched: make(map[uuid.UUID]bool),
		logger:     logger.Named("event-store"),
	}
}

var _ Store = (*MemoryStore)(nil)

// AddHook registers a post-append hook.
func (s *MemoryStore) AddHook(hook Hook) {
	s.hooks = append(s.hooks, hook)
}

func (s *MemoryStore) Append(ctx context.Context, event *models.Event) (*models.Event, error) {
	prepare(event)

	s.mu.Lock()
	s.seq++
	event.Sequence = s.seq
	stored := cloneEvent(event)
	s.events = append(s.events, stored)
	s.mu.Unlock()

	for _, hook := range s.hooks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("Post-append hook panicked",
						zap.String("event_id", event.ID.String()),
						zap.Any("panic", r))
				}
			}()
			hook(ctx, event)
		}()
	}

	return event, nil
}

func (s *MemoryStore) Query(ctx context.Context, filter Filter) ([]*models.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Event
	for _, e := range s.events {
		if !matches(e, filter) {
			continue
		}
		out = append(out, cloneEvent(e))
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		less := a.Timestamp.Before(b.Timestamp) ||
			(a.Timestamp.Equal(b.Timestamp) && a.Sequence < b.Sequence)
		if filter.Descending {
			return !less
		}
		return less
	})

	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}

	return out, nil
}

func (s *MemoryStore) GetByID(ctx context.Context, userID, eventID uuid.UUID) (*models.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, e := range s.events {
		if e.ID == eventID && e.UserID == userID {
			return cloneEvent(e), nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (s *MemoryStore) ListUndispatched(ctx context.Context, limit int) ([]*models.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Event
	for _, e := range s.events {
		if s.dispatched[e.ID] {
			continue
		}
		out = append(out, cloneEvent(e))
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) MarkDispatched(ctx context.Context, eventID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dispatched[eventID] = true
	return nil
}

func matches(e *models.Event, f Filter) bool {
	if e.UserID != f.UserID {
		return false
	}
	if len(f.Types) > 0 {
		found := false
		for _, t := range f.Types {
			if e.Type == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.AggregateID != nil && e.AggregateID != *f.AggregateID {
		return false
	}
	if f.AggregateType != "" && e.AggregateType != f.AggregateType {
		return false
	}
	if f.RequestID != nil && e.RequestID != *f.RequestID {
		return false
	}
	if f.Since != nil && e.Timestamp.Before(*f.Since) {
		return false
	}
	return true
}

// cloneEvent copies an event so callers cannot mutate the stored log.
func cloneEvent(e *models.Event) *models.Event {
	clone := *e
	if e.Data != nil {
		clone.Data = make(map[string]any, len(e.Data))
		for k, v := range e.Data {
			clone.Data[k] = v
		}
	}
	if e.Metadata != nil {
		clone.Metadata = make(map[string]any, len(e.Metadata))
		for k, v := range e.Metadata {
			clone.Metadata[k] = v
		}
	}
	if e.CausationID != nil {
		id := *e.CausationID
		clone.CausationID = &id
	}
	return &clone
}
