package executors

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noema-dev/noema-engine/pkg/blob"
	"github.com/noema-dev/noema-engine/pkg/events"
	"github.com/noema-dev/noema-engine/pkg/models"
	"github.com/noema-dev/noema-engine/pkg/projections"
	"github.com/noema-dev/noema-engine/pkg/registry"
)

type passthroughScope struct{}

func (passthroughScope) WithTenantScope(ctx context.Context, userID uuid.UUID) (context.Context, func(), error) {
	return ctx, func() {}, nil
}

// stubProjector returns a canned row and cascade for every apply call.
type stubProjector struct {
	aggregateType string
	cascade       *models.CascadeReport
	applyErr      error
	applied       int
}

type stubRow struct {
	ID    uuid.UUID `json:"id"`
	Title string    `json:"title"`
}

func (s *stubProjector) AggregateType() string { return s.aggregateType }

func (s *stubProjector) apply(event *models.Event) (*projections.ApplyResult, error) {
	if s.applyErr != nil {
		return nil, s.applyErr
	}
	s.applied++
	title, _ := event.Data["title"].(string)
	return &projections.ApplyResult{
		Row:     stubRow{ID: event.AggregateID, Title: title},
		Cascade: s.cascade,
	}, nil
}

func (s *stubProjector) ApplyCreate(ctx context.Context, event *models.Event) (*projections.ApplyResult, error) {
	return s.apply(event)
}

func (s *stubProjector) ApplyUpdate(ctx context.Context, event *models.Event) (*projections.ApplyResult, error) {
	return s.apply(event)
}

func (s *stubProjector) ApplyDelete(ctx context.Context, event *models.Event) (*projections.ApplyResult, error) {
	return s.apply(event)
}

func (s *stubProjector) Reset(ctx context.Context, userID uuid.UUID) error { return nil }

type executorFixture struct {
	store     *events.MemoryStore
	blobs     *blob.MemoryStore
	projector *stubProjector
	executor  *Executor
}

func newExecutorFixture(t *testing.T, hasContent bool, projector *stubProjector) *executorFixture {
	t.Helper()
	store := events.NewMemoryStore(zap.NewNop())
	blobs := blob.NewMemoryStore()
	engine, err := projections.NewEngine(zap.NewNop(), projector)
	require.NoError(t, err)

	executor := New(projector.aggregateType, hasContent, store, passthroughScope{}, engine, blobs, zap.NewNop())
	return &executorFixture{store: store, blobs: blobs, projector: projector, executor: executor}
}

func validatedEvent(userID uuid.UUID, eventType string, data map[string]any) *models.Event {
	return &models.Event{
		ID:            uuid.New(),
		Type:          eventType,
		AggregateID:   uuid.New(),
		AggregateType: models.AggregateEntity,
		UserID:        userID,
		Data:          data,
		Source:        models.SourceSystem,
	}
}

func TestHandle_AppendsCompletedWithRow(t *testing.T) {
	fx := newExecutorFixture(t, false, &stubProjector{aggregateType: models.AggregateEntity})
	ctx := context.Background()
	userID := uuid.New()

	event := validatedEvent(userID, "entities.create.validated", map[string]any{"title": "Athens"})
	_, err := fx.store.Append(ctx, event)
	require.NoError(t, err)

	require.NoError(t, fx.executor.Handle(ctx, event))

	completed, err := fx.store.Query(ctx, events.Filter{
		UserID: userID,
		Types:  []string{"entities.create.completed"},
	})
	require.NoError(t, err)
	require.Len(t, completed, 1)

	assert.Equal(t, event.ID, *completed[0].CausationID)
	assert.Equal(t, event.RequestID, completed[0].RequestID)
	assert.Equal(t, "Athens", completed[0].Data["title"])
	assert.Equal(t, event.AggregateID.String(), completed[0].Data["id"])
	_, hasCascade := completed[0].Metadata["cascade"]
	assert.False(t, hasCascade)
}

func TestHandle_UploadsInlineContent(t *testing.T) {
	fx := newExecutorFixture(t, true, &stubProjector{aggregateType: models.AggregateEntity})
	ctx := context.Background()
	userID := uuid.New()

	content := "inline body"
	event := validatedEvent(userID, "entities.create.validated", map[string]any{
		"title":   "Athens",
		"content": content,
	})

	require.NoError(t, fx.executor.Handle(ctx, event))

	path := blob.ContentPath(userID, blob.Checksum([]byte(content)))
	stored, err := fx.blobs.Download(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, []byte(content), stored)

	// Redelivery re-uploads the same bytes to the same key.
	require.NoError(t, fx.executor.Handle(ctx, event))
	assert.Equal(t, 1, fx.blobs.Len())
}

func TestHandle_DeleteRemovesCascadeBlobsAndReportsCascade(t *testing.T) {
	userID := uuid.New()
	content := []byte("doomed blob")
	path := blob.ContentPath(userID, blob.Checksum(content))

	docID := uuid.New()
	projector := &stubProjector{
		aggregateType: models.AggregateEntity,
		cascade: &models.CascadeReport{
			Relations:  []uuid.UUID{uuid.New()},
			DocumentID: &docID,
			BlobPaths:  []string{path},
		},
	}
	fx := newExecutorFixture(t, true, projector)
	ctx := context.Background()

	_, err := fx.blobs.Upload(ctx, path, content)
	require.NoError(t, err)

	event := validatedEvent(userID, "entities.delete.validated", map[string]any{"id": uuid.New().String()})
	require.NoError(t, fx.executor.Handle(ctx, event))

	assert.Equal(t, 0, fx.blobs.Len())

	completed, err := fx.store.Query(ctx, events.Filter{
		UserID: userID,
		Types:  []string{"entities.delete.completed"},
	})
	require.NoError(t, err)
	require.Len(t, completed, 1)
	assert.Contains(t, completed[0].Metadata, "cascade")
}

func TestHandle_NoCompletedOnProjectionFailure(t *testing.T) {
	fx := newExecutorFixture(t, false, &stubProjector{
		aggregateType: models.AggregateEntity,
		applyErr:      assert.AnError,
	})
	ctx := context.Background()
	userID := uuid.New()

	event := validatedEvent(userID, "entities.create.validated", map[string]any{"title": "Athens"})
	require.Error(t, fx.executor.Handle(ctx, event))

	completed, err := fx.store.Query(ctx, events.Filter{
		UserID: userID,
		Types:  []string{"entities.create.completed"},
	})
	require.NoError(t, err)
	assert.Empty(t, completed)
}

func TestHandle_RejectsNonValidatedPhases(t *testing.T) {
	fx := newExecutorFixture(t, false, &stubProjector{aggregateType: models.AggregateEntity})
	event := validatedEvent(uuid.New(), "entities.create.requested", nil)
	assert.Error(t, fx.executor.Handle(context.Background(), event))
	assert.Equal(t, 0, fx.projector.applied)
}

func TestFailureRecorder_AppendsFailedEvent(t *testing.T) {
	store := events.NewMemoryStore(zap.NewNop())
	ctx := context.Background()
	userID := uuid.New()

	record := FailureRecorder(store, zap.NewNop())

	event := validatedEvent(userID, "entities.create.validated", map[string]any{"title": "Athens"})
	event.RequestID = event.ID
	record(event, assert.AnError)

	failed, err := store.Query(ctx, events.Filter{
		UserID: userID,
		Types:  []string{"entities.create.failed"},
	})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, assert.AnError.Error(), failed[0].Metadata["error"])
	assert.Equal(t, event.ID, *failed[0].CausationID)
}

func TestFailureRecorder_IgnoresNonValidatedEvents(t *testing.T) {
	store := events.NewMemoryStore(zap.NewNop())
	record := FailureRecorder(store, zap.NewNop())

	event := validatedEvent(uuid.New(), "entities.create.requested", nil)
	record(event, assert.AnError)

	all, err := store.Query(context.Background(), events.Filter{UserID: event.UserID})
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestDispatchHandler_RoutesByAggregateType(t *testing.T) {
	fx := newExecutorFixture(t, false, &stubProjector{aggregateType: models.AggregateEntity})

	reg := registry.NewExecutorRegistry()
	require.NoError(t, reg.Register(models.AggregateEntity, fx.executor, registry.Metadata{Source: registry.SourceCore}))
	handler := DispatchHandler(reg, zap.NewNop())

	ctx := context.Background()
	event := validatedEvent(uuid.New(), "entities.create.validated", map[string]any{"title": "Athens"})
	require.NoError(t, handler.Handle(ctx, event))
	assert.Equal(t, 1, fx.projector.applied)

	// Unregistered aggregates are dropped without error so the dispatcher
	// does not retry forever.
	stray := validatedEvent(uuid.New(), "gadgets.create.validated", nil)
	stray.AggregateType = "gadget"
	assert.NoError(t, handler.Handle(ctx, stray))
}
