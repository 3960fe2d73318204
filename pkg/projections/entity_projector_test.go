package projections

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noema-dev/noema-engine/pkg/apperrors"
	"github.com/noema-dev/noema-engine/pkg/blob"
	"github.com/noema-dev/noema-engine/pkg/models"
)

// memEntityRepo is a map-backed EntityRepository for projector tests.
type memEntityRepo struct {
	rows map[uuid.UUID]*models.Entity
}

func newMemEntityRepo() *memEntityRepo {
	return &memEntityRepo{rows: map[uuid.UUID]*models.Entity{}}
}

func (r *memEntityRepo) Upsert(ctx context.Context, entity *models.Entity) (*models.Entity, error) {
	if existing, ok := r.rows[entity.ID]; ok {
		return existing, nil
	}
	row := *entity
	row.Version = 1
	r.rows[entity.ID] = &row
	return &row, nil
}

func (r *memEntityRepo) Update(ctx context.Context, id, userID uuid.UUID, patch models.EntityPayload, expectedVersion int) (*models.Entity, error) {
	row, ok := r.rows[id]
	if !ok || row.UserID != userID || row.DeletedAt != nil {
		return nil, apperrors.ErrNotFound
	}
	row.Version++
	return row, nil
}

func (r *memEntityRepo) SoftDelete(ctx context.Context, id, userID uuid.UUID) (*models.Entity, error) {
	row, ok := r.rows[id]
	if !ok || row.UserID != userID || row.DeletedAt != nil {
		return nil, apperrors.ErrNotFound
	}
	now := time.Now()
	row.DeletedAt = &now
	row.Version++
	return row, nil
}

func (r *memEntityRepo) GetByID(ctx context.Context, id, userID uuid.UUID) (*models.Entity, error) {
	row, ok := r.rows[id]
	if !ok || row.UserID != userID {
		return nil, apperrors.ErrNotFound
	}
	return row, nil
}

func (r *memEntityRepo) List(ctx context.Context, userID uuid.UUID, includeDeleted bool, limit int) ([]*models.Entity, error) {
	var out []*models.Entity
	for _, row := range r.rows {
		if row.UserID == userID && (includeDeleted || row.DeletedAt == nil) {
			out = append(out, row)
		}
	}
	return out, nil
}

func (r *memEntityRepo) CountLiveByContentPath(ctx context.Context, userID uuid.UUID, path string) (int, error) {
	count := 0
	for _, row := range r.rows {
		if row.UserID == userID && row.ContentPath == path && row.DeletedAt == nil {
			count++
		}
	}
	return count, nil
}

func (r *memEntityRepo) Reset(ctx context.Context, userID uuid.UUID) error {
	for id, row := range r.rows {
		if row.UserID == userID {
			delete(r.rows, id)
		}
	}
	return nil
}

// memDocumentRepo is a map-backed DocumentRepository for projector tests.
type memDocumentRepo struct {
	rows map[uuid.UUID]*models.Document
}

func newMemDocumentRepo() *memDocumentRepo {
	return &memDocumentRepo{rows: map[uuid.UUID]*models.Document{}}
}

func (r *memDocumentRepo) Upsert(ctx context.Context, doc *models.Document) (*models.Document, error) {
	if existing, ok := r.rows[doc.ID]; ok {
		return existing, nil
	}
	row := *doc
	row.Version = 1
	r.rows[doc.ID] = &row
	return &row, nil
}

func (r *memDocumentRepo) Update(ctx context.Context, id, userID uuid.UUID, patch models.DocumentPayload, storagePath, checksum string, size int64, expectedVersion int) (*models.Document, error) {
	row, ok := r.rows[id]
	if !ok || row.UserID != userID || row.DeletedAt != nil {
		return nil, apperrors.ErrNotFound
	}
	if storagePath != "" {
		row.StoragePath = storagePath
		row.Checksum = checksum
		row.Size = size
	}
	row.Version++
	return row, nil
}

func (r *memDocumentRepo) SoftDelete(ctx context.Context, id, userID uuid.UUID) (*models.Document, error) {
	row, ok := r.rows[id]
	if !ok || row.UserID != userID || row.DeletedAt != nil {
		return nil, apperrors.ErrNotFound
	}
	now := time.Now()
	row.DeletedAt = &now
	row.Version++
	return row, nil
}

func (r *memDocumentRepo) GetByID(ctx context.Context, id, userID uuid.UUID) (*models.Document, error) {
	row, ok := r.rows[id]
	if !ok || row.UserID != userID {
		return nil, apperrors.ErrNotFound
	}
	return row, nil
}

func (r *memDocumentRepo) GetByEntity(ctx context.Context, entityID, userID uuid.UUID) (*models.Document, error) {
	for _, row := range r.rows {
		if row.UserID == userID && row.EntityID != nil && *row.EntityID == entityID && row.DeletedAt == nil {
			return row, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (r *memDocumentRepo) CountLiveByStoragePath(ctx context.Context, userID uuid.UUID, path string) (int, error) {
	count := 0
	for _, row := range r.rows {
		if row.UserID == userID && row.StoragePath == path && row.DeletedAt == nil {
			count++
		}
	}
	return count, nil
}

func (r *memDocumentRepo) Reset(ctx context.Context, userID uuid.UUID) error {
	for id, row := range r.rows {
		if row.UserID == userID {
			delete(r.rows, id)
		}
	}
	return nil
}

// memRelationRepo covers only what entity cascades touch.
type memRelationRepo struct {
	deletedEndpoints []uuid.UUID
}

func (r *memRelationRepo) Upsert(ctx context.Context, rel *models.Relation) (*models.Relation, error) {
	return rel, nil
}

func (r *memRelationRepo) Update(ctx context.Context, id, userID uuid.UUID, patch models.RelationPayload, expectedVersion int) (*models.Relation, error) {
	return nil, apperrors.ErrNotFound
}

func (r *memRelationRepo) SoftDelete(ctx context.Context, id, userID uuid.UUID) (*models.Relation, error) {
	return nil, apperrors.ErrNotFound
}

func (r *memRelationRepo) GetByID(ctx context.Context, id, userID uuid.UUID) (*models.Relation, error) {
	return nil, apperrors.ErrNotFound
}

func (r *memRelationRepo) ListByEndpoint(ctx context.Context, endpointID, userID uuid.UUID) ([]*models.Relation, error) {
	return nil, nil
}

func (r *memRelationRepo) SoftDeleteByEndpoint(ctx context.Context, endpointID, userID uuid.UUID) ([]uuid.UUID, error) {
	r.deletedEndpoints = append(r.deletedEndpoints, endpointID)
	return nil, nil
}

func (r *memRelationRepo) Reset(ctx context.Context, userID uuid.UUID) error { return nil }

func entityCreateEvent(userID uuid.UUID, title, content string) *models.Event {
	return &models.Event{
		ID:            uuid.New(),
		Type:          "entities.create.validated",
		AggregateID:   uuid.New(),
		AggregateType: models.AggregateEntity,
		UserID:        userID,
		Data:          map[string]any{"title": title, "content": content},
		Source:        models.SourceSystem,
	}
}

func entityDeleteEvent(aggregateID, userID uuid.UUID, cascade bool) *models.Event {
	return &models.Event{
		ID:            uuid.New(),
		Type:          "entities.delete.validated",
		AggregateID:   aggregateID,
		AggregateType: models.AggregateEntity,
		UserID:        userID,
		Data:          map[string]any{"cascade": cascade},
		Source:        models.SourceSystem,
	}
}

func TestEntityApplyDelete_SharedContentKeepsBlob(t *testing.T) {
	entities := newMemEntityRepo()
	documents := newMemDocumentRepo()
	projector := NewEntityProjector(entities, documents, &memRelationRepo{})
	ctx := context.Background()
	userID := uuid.New()

	first := entityCreateEvent(userID, "First", "shared notes")
	second := entityCreateEvent(userID, "Second", "shared notes")
	_, err := projector.ApplyCreate(ctx, first)
	require.NoError(t, err)
	_, err = projector.ApplyCreate(ctx, second)
	require.NoError(t, err)

	// Identical content resolves to one content-addressed path.
	firstRow, err := entities.GetByID(ctx, first.AggregateID, userID)
	require.NoError(t, err)
	secondRow, err := entities.GetByID(ctx, second.AggregateID, userID)
	require.NoError(t, err)
	require.Equal(t, firstRow.ContentPath, secondRow.ContentPath)

	result, err := projector.ApplyDelete(ctx, entityDeleteEvent(first.AggregateID, userID, true))
	require.NoError(t, err)
	assert.Empty(t, result.Cascade.BlobPaths, "blob still referenced by the surviving entity")

	survivor, err := entities.GetByID(ctx, second.AggregateID, userID)
	require.NoError(t, err)
	assert.Nil(t, survivor.DeletedAt)
}

func TestEntityApplyDelete_LastReferenceReportsBlob(t *testing.T) {
	entities := newMemEntityRepo()
	documents := newMemDocumentRepo()
	projector := NewEntityProjector(entities, documents, &memRelationRepo{})
	ctx := context.Background()
	userID := uuid.New()

	create := entityCreateEvent(userID, "Only", "solo notes")
	_, err := projector.ApplyCreate(ctx, create)
	require.NoError(t, err)

	result, err := projector.ApplyDelete(ctx, entityDeleteEvent(create.AggregateID, userID, true))
	require.NoError(t, err)

	wantPath := blob.ContentPath(userID, blob.Checksum([]byte("solo notes")))
	assert.Equal(t, []string{wantPath}, result.Cascade.BlobPaths)
}

func TestEntityApplyDelete_PlainDeleteReportsNoBlobs(t *testing.T) {
	entities := newMemEntityRepo()
	documents := newMemDocumentRepo()
	relations := &memRelationRepo{}
	projector := NewEntityProjector(entities, documents, relations)
	ctx := context.Background()
	userID := uuid.New()

	create := entityCreateEvent(userID, "Only", "solo notes")
	_, err := projector.ApplyCreate(ctx, create)
	require.NoError(t, err)

	result, err := projector.ApplyDelete(ctx, entityDeleteEvent(create.AggregateID, userID, false))
	require.NoError(t, err)

	assert.True(t, result.Cascade.Empty())
	assert.Empty(t, relations.deletedEndpoints)
}

func TestEntityApplyDelete_CascadeChecksDocumentReferences(t *testing.T) {
	entities := newMemEntityRepo()
	documents := newMemDocumentRepo()
	projector := NewEntityProjector(entities, documents, &memRelationRepo{})
	ctx := context.Background()
	userID := uuid.New()

	create := entityCreateEvent(userID, "Only", "shared notes")
	_, err := projector.ApplyCreate(ctx, create)
	require.NoError(t, err)

	// A live document carries the same content-addressed path.
	path := blob.ContentPath(userID, blob.Checksum([]byte("shared notes")))
	_, err = documents.Upsert(ctx, &models.Document{
		ID:          uuid.New(),
		UserID:      userID,
		Title:       "Twin",
		StoragePath: path,
	})
	require.NoError(t, err)

	result, err := projector.ApplyDelete(ctx, entityDeleteEvent(create.AggregateID, userID, true))
	require.NoError(t, err)
	assert.Empty(t, result.Cascade.BlobPaths)
}
