// Package projections derives read-model rows from validated events. The
// engine is the single write path into projection tables: executors call it
// during live processing and the replayer calls it again during rebuild, so
// the same code produces the same rows in both modes.
package projections

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noema-dev/noema-engine/pkg/models"
)

// ApplyResult reports what a projector wrote. Row is the projection row after
// the mutation; Cascade is non-nil only for cascading deletes and records what
// the cascade actually removed.
type ApplyResult struct {
	Row     any
	Cascade *models.CascadeReport
}

// Projector applies one aggregate type's validated events to its projection
// table. Implementations must be safe to re-run: event delivery is at least
// once and the replayer feeds the whole log back through the same methods.
type Projector interface {
	AggregateType() string
	ApplyCreate(ctx context.Context, event *models.Event) (*ApplyResult, error)
	ApplyUpdate(ctx context.Context, event *models.Event) (*ApplyResult, error)
	ApplyDelete(ctx context.Context, event *models.Event) (*ApplyResult, error)

	// Reset clears the user's rows ahead of a full rebuild.
	Reset(ctx context.Context, userID uuid.UUID) error
}

// Engine routes validated events to the projector registered for their
// aggregate type.
type Engine struct {
	projectors map[string]Projector
	logger     *zap.Logger
}

// NewEngine creates a projection engine over the given projectors.
func NewEngine(logger *zap.Logger, projectors ...Projector) (*Engine, error) {
	byType := make(map[string]Projector, len(projectors))
	for _, p := range projectors {
		if _, ok := byType[p.AggregateType()]; ok {
			return nil, fmt.Errorf("duplicate projector for aggregate type %q", p.AggregateType())
		}
		byType[p.AggregateType()] = p
	}
	return &Engine{projectors: byType, logger: logger}, nil
}

// Apply projects a single validated event. Events for aggregate types with no
// registered projector are logged and skipped, so replaying a log that
// contains retired aggregate types does not abort the rebuild.
func (e *Engine) Apply(ctx context.Context, event *models.Event) (*ApplyResult, error) {
	typ, err := event.ParsedType()
	if err != nil {
		return nil, fmt.Errorf("failed to parse event type: %w", err)
	}

	projector, ok := e.projectors[event.AggregateType]
	if !ok {
		e.logger.Warn("no projector for aggregate type, skipping event",
			zap.String("aggregate_type", event.AggregateType),
			zap.String("event_id", event.ID.String()))
		return nil, nil
	}

	switch typ.Action {
	case models.ActionCreate:
		return projector.ApplyCreate(ctx, event)
	case models.ActionUpdate:
		return projector.ApplyUpdate(ctx, event)
	case models.ActionDelete:
		return projector.ApplyDelete(ctx, event)
	default:
		return nil, fmt.Errorf("unknown action %q for event %s", typ.Action, event.ID)
	}
}

// Reset clears every projector's rows for the user.
func (e *Engine) Reset(ctx context.Context, userID uuid.UUID) error {
	for aggregateType, projector := range e.projectors {
		if err := projector.Reset(ctx, userID); err != nil {
			return fmt.Errorf("failed to reset %s projection: %w", aggregateType, err)
		}
	}
	return nil
}
