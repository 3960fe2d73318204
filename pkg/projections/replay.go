package projections

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noema-dev/noema-engine/pkg/events"
	"github.com/noema-dev/noema-engine/pkg/models"
)

// ScopeProvider mints tenant-scoped contexts for projection writes.
// *database.TenantScopeProvider implements it.
type ScopeProvider interface {
	WithTenantScope(ctx context.Context, userID uuid.UUID) (context.Context, func(), error)
}

// Replayer rebuilds a user's projection tables from the event log. It clears
// the rows, then feeds every validated event back through Engine.Apply in log
// order, so the rebuilt state is exactly what live processing produced.
type Replayer struct {
	store    events.Store
	provider ScopeProvider
	engine   *Engine
	logger   *zap.Logger
}

// NewReplayer creates a projection replayer.
func NewReplayer(store events.Store, provider ScopeProvider, engine *Engine, logger *zap.Logger) *Replayer {
	return &Replayer{
		store:    store,
		provider: provider,
		engine:   engine,
		logger:   logger.Named("replay"),
	}
}

// ReplayStats summarizes one rebuild run.
type ReplayStats struct {
	Applied int `json:"applied"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// Rebuild drops and reconstructs every projection for the user. Only
// .validated events mutate read models; requested, denied, completed and
// failed phases are audit trail and are skipped.
func (r *Replayer) Rebuild(ctx context.Context, userID uuid.UUID) (*ReplayStats, error) {
	scopedCtx, cleanup, err := r.provider.WithTenantScope(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to establish tenant scope for rebuild: %w", err)
	}
	defer cleanup()

	if err := r.engine.Reset(scopedCtx, userID); err != nil {
		return nil, err
	}

	log, err := r.store.Query(ctx, events.Filter{UserID: userID})
	if err != nil {
		return nil, fmt.Errorf("failed to read event log for rebuild: %w", err)
	}

	stats := &ReplayStats{}
	for _, event := range log {
		typ, err := event.ParsedType()
		if err != nil {
			r.logger.Warn("skipping malformed event during rebuild",
				zap.String("event_id", event.ID.String()),
				zap.String("type", event.Type))
			stats.Skipped++
			continue
		}
		if typ.Phase != models.PhaseValidated {
			stats.Skipped++
			continue
		}

		result, err := r.engine.Apply(scopedCtx, event)
		if err != nil {
			// Live processing survives these: the executor exhausts its
			// retries and records .failed. A rebuild of the same log must
			// not wedge on them, or every later valid event is lost.
			r.logger.Warn("skipping unappliable event during rebuild",
				zap.String("event_id", event.ID.String()),
				zap.String("type", event.Type),
				zap.Error(err))
			stats.Failed++
			continue
		}
		if result == nil {
			stats.Skipped++
			continue
		}
		stats.Applied++
	}

	r.logger.Info("projection rebuild complete",
		zap.String("user_id", userID.String()),
		zap.Int("applied", stats.Applied),
		zap.Int("skipped", stats.Skipped),
		zap.Int("failed", stats.Failed))
	return stats, nil
}
