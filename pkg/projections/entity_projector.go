package projections

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/noema-dev/noema-engine/pkg/apperrors"
	"github.com/noema-dev/noema-engine/pkg/blob"
	"github.com/noema-dev/noema-engine/pkg/models"
	"github.com/noema-dev/noema-engine/pkg/repositories"
)

// EntityProjector maintains the entities projection. Content fields on the
// row (path, checksum, size) are derived from the event payload, never from
// blob-store state, so a replay reproduces them without touching storage.
type EntityProjector struct {
	entities  repositories.EntityRepository
	documents repositories.DocumentRepository
	relations repositories.RelationRepository
}

// NewEntityProjector creates the entity projector.
func NewEntityProjector(
	entities repositories.EntityRepository,
	documents repositories.DocumentRepository,
	relations repositories.RelationRepository,
) *EntityProjector {
	return &EntityProjector{
		entities:  entities,
		documents: documents,
		relations: relations,
	}
}

var _ Projector = (*EntityProjector)(nil)

func (p *EntityProjector) AggregateType() string {
	return models.AggregateEntity
}

func (p *EntityProjector) ApplyCreate(ctx context.Context, event *models.Event) (*ApplyResult, error) {
	payload, err := models.DecodeEntityPayload(event.Data)
	if err != nil {
		return nil, err
	}

	entity := &models.Entity{
		ID:          event.AggregateID,
		UserID:      event.UserID,
		WorkspaceID: payload.WorkspaceID,
		DocumentID:  payload.DocumentID,
		Title:       payload.Title,
		Kind:        payload.Kind,
		Attributes:  payload.Attributes,
	}
	if payload.Content != "" {
		checksum := blob.Checksum([]byte(payload.Content))
		entity.ContentPath = blob.ContentPath(event.UserID, checksum)
		entity.ContentChecksum = checksum
		entity.ContentSize = int64(len(payload.Content))
	}

	row, err := p.entities.Upsert(ctx, entity)
	if err != nil {
		return nil, err
	}
	return &ApplyResult{Row: row}, nil
}

func (p *EntityProjector) ApplyUpdate(ctx context.Context, event *models.Event) (*ApplyResult, error) {
	payload, err := models.DecodeEntityPayload(event.Data)
	if err != nil {
		return nil, err
	}

	row, err := p.entities.Update(ctx, event.AggregateID, event.UserID, payload, 0)
	if err != nil {
		return nil, err
	}
	return &ApplyResult{Row: row}, nil
}

// ApplyDelete soft-deletes the entity and, when the command asked for a
// cascade, its relations and linked document. The returned CascadeReport
// lists what was removed; blob paths are reported for the caller to clean up
// since storage effects do not belong in the projection path. Only a cascade
// reports blob paths, and only paths no surviving row still references:
// content addressing stores identical bytes once, shared across rows.
func (p *EntityProjector) ApplyDelete(ctx context.Context, event *models.Event) (*ApplyResult, error) {
	payload, err := models.DecodeDeletePayload(event.Data)
	if err != nil {
		return nil, err
	}

	entity, err := p.entities.SoftDelete(ctx, event.AggregateID, event.UserID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			// Redelivery of an already-applied delete.
			if existing, getErr := p.entities.GetByID(ctx, event.AggregateID, event.UserID); getErr == nil && existing.DeletedAt != nil {
				return &ApplyResult{Row: existing, Cascade: &models.CascadeReport{}}, nil
			}
		}
		return nil, err
	}

	report := &models.CascadeReport{}
	if payload.Cascade {
		if err := p.cascade(ctx, entity, report); err != nil {
			return nil, err
		}
		if err := reportOrphanedBlob(ctx, p.entities, p.documents, entity.UserID, entity.ContentPath, report); err != nil {
			return nil, err
		}
	}

	return &ApplyResult{Row: entity, Cascade: report}, nil
}

func (p *EntityProjector) cascade(ctx context.Context, entity *models.Entity, report *models.CascadeReport) error {
	deleted, err := p.relations.SoftDeleteByEndpoint(ctx, entity.ID, entity.UserID)
	if err != nil {
		return fmt.Errorf("failed to cascade entity relations: %w", err)
	}
	report.Relations = deleted

	if entity.DocumentID == nil {
		return nil
	}

	doc, err := p.documents.SoftDelete(ctx, *entity.DocumentID, entity.UserID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("failed to cascade linked document: %w", err)
	}
	report.DocumentID = &doc.ID
	return reportOrphanedBlob(ctx, p.entities, p.documents, entity.UserID, doc.StoragePath, report)
}

// reportOrphanedBlob adds path to the report's blob cleanup list only when no
// live entity or document references it anymore. The row being deleted is
// already soft-deleted at this point and does not count as a referrer.
func reportOrphanedBlob(
	ctx context.Context,
	entities repositories.EntityRepository,
	documents repositories.DocumentRepository,
	userID uuid.UUID,
	path string,
	report *models.CascadeReport,
) error {
	if path == "" {
		return nil
	}
	for _, reported := range report.BlobPaths {
		if reported == path {
			return nil
		}
	}
	entityRefs, err := entities.CountLiveByContentPath(ctx, userID, path)
	if err != nil {
		return fmt.Errorf("failed to count entity blob references: %w", err)
	}
	docRefs, err := documents.CountLiveByStoragePath(ctx, userID, path)
	if err != nil {
		return fmt.Errorf("failed to count document blob references: %w", err)
	}
	if entityRefs+docRefs == 0 {
		report.BlobPaths = append(report.BlobPaths, path)
	}
	return nil
}

func (p *EntityProjector) Reset(ctx context.Context, userID uuid.UUID) error {
	return p.entities.Reset(ctx, userID)
}
