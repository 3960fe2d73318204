package executors

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/noema-dev/noema-engine/pkg/blob"
	"github.com/noema-dev/noema-engine/pkg/dispatch"
	"github.com/noema-dev/noema-engine/pkg/events"
	"github.com/noema-dev/noema-engine/pkg/models"
	"github.com/noema-dev/noema-engine/pkg/projections"
	"github.com/noema-dev/noema-engine/pkg/registry"
)

// coreAggregates lists the built-in aggregate types and whether their
// payloads may carry inline content for the blob store.
var coreAggregates = map[string]bool{
	models.AggregateEntity:    true,
	models.AggregateDocument:  true,
	models.AggregateWorkspace: false,
	models.AggregateProject:   false,
	models.AggregateRelation:  false,
	models.AggregateTag:       false,
}

// RegisterCore registers an executor for every built-in aggregate type.
func RegisterCore(
	reg *registry.ExecutorRegistry,
	version string,
	store events.Store,
	provider ScopeProvider,
	engine *projections.Engine,
	blobs blob.Store,
	logger *zap.Logger,
) error {
	meta := registry.Metadata{Version: version, Source: registry.SourceCore}
	for aggregateType, hasContent := range coreAggregates {
		executor := New(aggregateType, hasContent, store, provider, engine, blobs, logger)
		if err := reg.Register(aggregateType, executor, meta); err != nil {
			return fmt.Errorf("failed to register %s executor: %w", aggregateType, err)
		}
	}
	return nil
}

// DispatchHandler adapts the executor registry to the dispatcher: it routes a
// validated event to the executor registered for its aggregate type. Events
// for unregistered aggregates are logged and dropped rather than retried,
// since no amount of redelivery will make a handler appear.
func DispatchHandler(reg *registry.ExecutorRegistry, logger *zap.Logger) dispatch.Handler {
	log := logger.Named("executors")
	return dispatch.HandlerFunc{
		HandlerName: "executors",
		Fn: func(ctx context.Context, event *models.Event) error {
			handler, ok := reg.Get(event.AggregateType)
			if !ok {
				log.Warn("No executor registered for aggregate type",
					zap.String("aggregate_type", event.AggregateType),
					zap.String("event_id", event.ID.String()))
				return nil
			}
			return handler.Handle(ctx, event)
		},
	}
}
