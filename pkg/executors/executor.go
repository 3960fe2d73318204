// Package executors performs the read-model work for validated commands.
// One executor is registered per aggregate type; the dispatcher delivers
// {aggregate}.{action}.validated events to it with at-least-once semantics,
// so every step here is idempotent. On success the executor appends the
// terminal .completed event; on failure it returns the error and lets the
// delivery substrate retry, so a .completed event is never emitted for work
// that did not happen.
package executors

import (
	"context"
	"fmt"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noema-dev/noema-engine/pkg/blob"
	"github.com/noema-dev/noema-engine/pkg/events"
	"github.com/noema-dev/noema-engine/pkg/jsonutil"
	"github.com/noema-dev/noema-engine/pkg/models"
	"github.com/noema-dev/noema-engine/pkg/projections"
	"github.com/noema-dev/noema-engine/pkg/registry"
)

const blobRetryAttempts = 3

// ScopeProvider mints tenant-scoped contexts for projection writes.
// *database.TenantScopeProvider implements it.
type ScopeProvider interface {
	WithTenantScope(ctx context.Context, userID uuid.UUID) (context.Context, func(), error)
}

// Executor handles validated events for one aggregate type. The flow is:
// storage side effects first (content upload, retried), then the projection
// write, then the .completed audit event. Content uploads are content
// addressed, so redelivery re-uploads the same bytes to the same key.
type Executor struct {
	aggregateType string
	hasContent    bool

	store    events.Store
	provider ScopeProvider
	engine   *projections.Engine
	blobs    blob.Store
	logger   *zap.Logger
}

// New creates an executor for an aggregate type. hasContent marks aggregates
// whose payloads may carry inline content destined for the blob store.
func New(
	aggregateType string,
	hasContent bool,
	store events.Store,
	provider ScopeProvider,
	engine *projections.Engine,
	blobs blob.Store,
	logger *zap.Logger,
) *Executor {
	return &Executor{
		aggregateType: aggregateType,
		hasContent:    hasContent,
		store:         store,
		provider:      provider,
		engine:        engine,
		blobs:         blobs,
		logger:        logger.Named("executor." + aggregateType),
	}
}

var _ registry.ExecutorHandler = (*Executor)(nil)

// Handle processes one validated event end to end.
func (e *Executor) Handle(ctx context.Context, event *models.Event) error {
	typ, err := event.ParsedType()
	if err != nil {
		return fmt.Errorf("failed to parse event type: %w", err)
	}
	if typ.Phase != models.PhaseValidated {
		return fmt.Errorf("executor received non-validated event %s (%s)", event.ID, event.Type)
	}

	if err := e.uploadContent(ctx, event, typ.Action); err != nil {
		return err
	}

	scopedCtx, cleanup, err := e.provider.WithTenantScope(ctx, event.UserID)
	if err != nil {
		return fmt.Errorf("failed to establish tenant scope: %w", err)
	}
	defer cleanup()

	result, err := e.engine.Apply(scopedCtx, event)
	if err != nil {
		return fmt.Errorf("failed to project %s: %w", event.Type, err)
	}
	if result == nil {
		return nil
	}

	if typ.Action == models.ActionDelete {
		e.deleteBlobs(ctx, result.Cascade)
	}

	return e.complete(ctx, event, result)
}

// uploadContent persists inline payload content to the blob store before the
// projection row references its path. The key is derived from the content
// hash, so retries and redeliveries overwrite the blob with identical bytes.
func (e *Executor) uploadContent(ctx context.Context, event *models.Event, action string) error {
	if !e.hasContent || (action != models.ActionCreate && action != models.ActionUpdate) {
		return nil
	}
	content, _ := event.Data["content"].(string)
	if content == "" {
		return nil
	}

	path := blob.ContentPath(event.UserID, blob.Checksum([]byte(content)))
	r := retry.New(retry.Context(ctx), retry.Attempts(blobRetryAttempts))
	err := r.Do(func() error {
		_, uploadErr := e.blobs.Upload(ctx, path, []byte(content))
		return uploadErr
	})
	if err != nil {
		return fmt.Errorf("failed to upload content blob: %w", err)
	}
	return nil
}

// deleteBlobs removes storage left orphaned by a delete. The projection rows
// are already gone at this point, so a failure here is logged and the command
// still completes; the content-addressed path stays in the cascade report for
// later cleanup.
func (e *Executor) deleteBlobs(ctx context.Context, cascade *models.CascadeReport) {
	if cascade == nil {
		return
	}
	for _, path := range cascade.BlobPaths {
		r := retry.New(retry.Context(ctx), retry.Attempts(blobRetryAttempts))
		err := r.Do(func() error {
			return e.blobs.Delete(ctx, path)
		})
		if err != nil {
			e.logger.Warn("Failed to delete orphaned blob",
				zap.String("path", path),
				zap.Error(err))
		}
	}
}

// complete appends the terminal .completed event carrying the resulting row
// and, for cascading deletes, a report of what was actually removed.
func (e *Executor) complete(ctx context.Context, event *models.Event, result *projections.ApplyResult) error {
	completed := event.Follow(models.PhaseCompleted, models.SourceSystem)

	row, err := jsonutil.ToMap(result.Row)
	if err != nil {
		return fmt.Errorf("failed to serialize result row: %w", err)
	}
	completed.Data = row

	if !result.Cascade.Empty() {
		cascade, err := jsonutil.ToMap(result.Cascade)
		if err != nil {
			return fmt.Errorf("failed to serialize cascade report: %w", err)
		}
		completed.Metadata["cascade"] = cascade
	}

	if _, err := e.store.Append(ctx, completed); err != nil {
		return fmt.Errorf("failed to append completed event: %w", err)
	}
	return nil
}

// FailureRecorder returns the callback the dispatcher invokes when every
// delivery attempt for an event has failed. It appends the terminal .failed
// audit event with the final error; the projection stays untouched.
func FailureRecorder(store events.Store, logger *zap.Logger) func(event *models.Event, deliveryErr error) {
	log := logger.Named("executor")
	return func(event *models.Event, deliveryErr error) {
		typ, err := event.ParsedType()
		if err != nil || typ.Phase != models.PhaseValidated {
			return
		}

		failed := event.Follow(models.PhaseFailed, models.SourceSystem)
		failed.Metadata["error"] = deliveryErr.Error()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if _, appendErr := store.Append(ctx, failed); appendErr != nil {
			log.Error("Failed to append failed event",
				zap.String("event_id", event.ID.String()),
				zap.Error(appendErr))
		}
	}
}
