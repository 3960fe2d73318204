package projections

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noema-dev/noema-engine/pkg/blob"
	"github.com/noema-dev/noema-engine/pkg/models"
)

func documentCreateEvent(userID uuid.UUID, title, content string) *models.Event {
	return &models.Event{
		ID:            uuid.New(),
		Type:          "documents.create.validated",
		AggregateID:   uuid.New(),
		AggregateType: models.AggregateDocument,
		UserID:        userID,
		Data:          map[string]any{"title": title, "content": content},
		Source:        models.SourceSystem,
	}
}

func documentDeleteEvent(aggregateID, userID uuid.UUID, cascade bool) *models.Event {
	return &models.Event{
		ID:            uuid.New(),
		Type:          "documents.delete.validated",
		AggregateID:   aggregateID,
		AggregateType: models.AggregateDocument,
		UserID:        userID,
		Data:          map[string]any{"cascade": cascade},
		Source:        models.SourceSystem,
	}
}

func TestDocumentApplyDelete_SharedContentKeepsBlob(t *testing.T) {
	documents := newMemDocumentRepo()
	entities := newMemEntityRepo()
	projector := NewDocumentProjector(documents, entities)
	ctx := context.Background()
	userID := uuid.New()

	first := documentCreateEvent(userID, "First", "shared body")
	second := documentCreateEvent(userID, "Second", "shared body")
	_, err := projector.ApplyCreate(ctx, first)
	require.NoError(t, err)
	_, err = projector.ApplyCreate(ctx, second)
	require.NoError(t, err)

	result, err := projector.ApplyDelete(ctx, documentDeleteEvent(first.AggregateID, userID, true))
	require.NoError(t, err)
	assert.Empty(t, result.Cascade.BlobPaths, "blob still referenced by the surviving document")
}

func TestDocumentApplyDelete_LastReferenceReportsBlob(t *testing.T) {
	documents := newMemDocumentRepo()
	entities := newMemEntityRepo()
	projector := NewDocumentProjector(documents, entities)
	ctx := context.Background()
	userID := uuid.New()

	create := documentCreateEvent(userID, "Only", "solo body")
	_, err := projector.ApplyCreate(ctx, create)
	require.NoError(t, err)

	result, err := projector.ApplyDelete(ctx, documentDeleteEvent(create.AggregateID, userID, true))
	require.NoError(t, err)

	wantPath := blob.ContentPath(userID, blob.Checksum([]byte("solo body")))
	assert.Equal(t, []string{wantPath}, result.Cascade.BlobPaths)
}

func TestDocumentApplyDelete_PlainDeleteReportsNoBlobs(t *testing.T) {
	documents := newMemDocumentRepo()
	entities := newMemEntityRepo()
	projector := NewDocumentProjector(documents, entities)
	ctx := context.Background()
	userID := uuid.New()

	create := documentCreateEvent(userID, "Only", "solo body")
	_, err := projector.ApplyCreate(ctx, create)
	require.NoError(t, err)

	result, err := projector.ApplyDelete(ctx, documentDeleteEvent(create.AggregateID, userID, false))
	require.NoError(t, err)
	assert.True(t, result.Cascade.Empty())
}

func TestDocumentApplyDelete_EntityReferenceKeepsBlob(t *testing.T) {
	documents := newMemDocumentRepo()
	entities := newMemEntityRepo()
	projector := NewDocumentProjector(documents, entities)
	ctx := context.Background()
	userID := uuid.New()

	create := documentCreateEvent(userID, "Only", "shared body")
	_, err := projector.ApplyCreate(ctx, create)
	require.NoError(t, err)

	// A live entity carries the same content-addressed path.
	path := blob.ContentPath(userID, blob.Checksum([]byte("shared body")))
	_, err = entities.Upsert(ctx, &models.Entity{
		ID:          uuid.New(),
		UserID:      userID,
		Title:       "Twin",
		ContentPath: path,
	})
	require.NoError(t, err)

	result, err := projector.ApplyDelete(ctx, documentDeleteEvent(create.AggregateID, userID, true))
	require.NoError(t, err)
	assert.Empty(t, result.Cascade.BlobPaths)
}
