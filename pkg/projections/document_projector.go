package projections

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/noema-dev/noema-engine/pkg/apperrors"
	"github.com/noema-dev/noema-engine/pkg/blob"
	"github.com/noema-dev/noema-engine/pkg/models"
	"github.com/noema-dev/noema-engine/pkg/repositories"
)

// DocumentProjector maintains the documents projection. Like the entity
// projector it derives storage fields from the payload content, keeping the
// projection path free of blob I/O.
type DocumentProjector struct {
	documents repositories.DocumentRepository
	entities  repositories.EntityRepository
}

// NewDocumentProjector creates the document projector. The entity repository
// is read-only here: blob cleanup checks both tables for surviving referrers
// of a content-addressed path.
func NewDocumentProjector(documents repositories.DocumentRepository, entities repositories.EntityRepository) *DocumentProjector {
	return &DocumentProjector{documents: documents, entities: entities}
}

var _ Projector = (*DocumentProjector)(nil)

func (p *DocumentProjector) AggregateType() string {
	return models.AggregateDocument
}

func (p *DocumentProjector) ApplyCreate(ctx context.Context, event *models.Event) (*ApplyResult, error) {
	payload, err := models.DecodeDocumentPayload(event.Data)
	if err != nil {
		return nil, err
	}

	doc := &models.Document{
		ID:       event.AggregateID,
		UserID:   event.UserID,
		EntityID: payload.EntityID,
		Title:    payload.Title,
	}
	if payload.Content != "" {
		checksum := blob.Checksum([]byte(payload.Content))
		doc.StoragePath = blob.ContentPath(event.UserID, checksum)
		doc.Checksum = checksum
		doc.Size = int64(len(payload.Content))
	}

	row, err := p.documents.Upsert(ctx, doc)
	if err != nil {
		return nil, err
	}
	return &ApplyResult{Row: row}, nil
}

func (p *DocumentProjector) ApplyUpdate(ctx context.Context, event *models.Event) (*ApplyResult, error) {
	payload, err := models.DecodeDocumentPayload(event.Data)
	if err != nil {
		return nil, err
	}

	var storagePath, checksum string
	var size int64
	if payload.Content != "" {
		checksum = blob.Checksum([]byte(payload.Content))
		storagePath = blob.ContentPath(event.UserID, checksum)
		size = int64(len(payload.Content))
	}

	row, err := p.documents.Update(ctx, event.AggregateID, event.UserID, payload, storagePath, checksum, size, 0)
	if err != nil {
		return nil, err
	}
	return &ApplyResult{Row: row}, nil
}

func (p *DocumentProjector) ApplyDelete(ctx context.Context, event *models.Event) (*ApplyResult, error) {
	payload, err := models.DecodeDeletePayload(event.Data)
	if err != nil {
		return nil, err
	}

	doc, err := p.documents.SoftDelete(ctx, event.AggregateID, event.UserID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			if existing, getErr := p.documents.GetByID(ctx, event.AggregateID, event.UserID); getErr == nil && existing.DeletedAt != nil {
				return &ApplyResult{Row: existing, Cascade: &models.CascadeReport{}}, nil
			}
		}
		return nil, err
	}

	report := &models.CascadeReport{}
	if payload.Cascade {
		if err := reportOrphanedBlob(ctx, p.entities, p.documents, doc.UserID, doc.StoragePath, report); err != nil {
			return nil, err
		}
	}
	return &ApplyResult{Row: doc, Cascade: report}, nil
}

func (p *DocumentProjector) Reset(ctx context.Context, userID uuid.UUID) error {
	return p.documents.Reset(ctx, userID)
}
