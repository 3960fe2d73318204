package projections

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/noema-dev/noema-engine/pkg/apperrors"
	"github.com/noema-dev/noema-engine/pkg/models"
	"github.com/noema-dev/noema-engine/pkg/repositories"
)

// Projectors for aggregates without storage side effects. They follow the
// same shape: create upserts on the pre-assigned id, update patches, delete
// soft-deletes and tolerates redelivery.

// WorkspaceProjector maintains the workspaces projection.
type WorkspaceProjector struct {
	workspaces repositories.WorkspaceRepository
}

func NewWorkspaceProjector(workspaces repositories.WorkspaceRepository) *WorkspaceProjector {
	return &WorkspaceProjector{workspaces: workspaces}
}

var _ Projector = (*WorkspaceProjector)(nil)

func (p *WorkspaceProjector) AggregateType() string {
	return models.AggregateWorkspace
}

func (p *WorkspaceProjector) ApplyCreate(ctx context.Context, event *models.Event) (*ApplyResult, error) {
	payload, err := models.DecodeWorkspacePayload(event.Data)
	if err != nil {
		return nil, err
	}

	row, err := p.workspaces.Upsert(ctx, &models.Workspace{
		ID:       event.AggregateID,
		UserID:   event.UserID,
		Name:     payload.Name,
		Settings: payload.Settings,
	})
	if err != nil {
		return nil, err
	}
	return &ApplyResult{Row: row}, nil
}

func (p *WorkspaceProjector) ApplyUpdate(ctx context.Context, event *models.Event) (*ApplyResult, error) {
	payload, err := models.DecodeWorkspacePayload(event.Data)
	if err != nil {
		return nil, err
	}

	row, err := p.workspaces.Update(ctx, event.AggregateID, event.UserID, payload, 0)
	if err != nil {
		return nil, err
	}
	return &ApplyResult{Row: row}, nil
}

func (p *WorkspaceProjector) ApplyDelete(ctx context.Context, event *models.Event) (*ApplyResult, error) {
	row, err := p.workspaces.SoftDelete(ctx, event.AggregateID, event.UserID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			if existing, getErr := p.workspaces.GetByID(ctx, event.AggregateID, event.UserID); getErr == nil && existing.DeletedAt != nil {
				return &ApplyResult{Row: existing, Cascade: &models.CascadeReport{}}, nil
			}
		}
		return nil, err
	}
	return &ApplyResult{Row: row, Cascade: &models.CascadeReport{}}, nil
}

func (p *WorkspaceProjector) Reset(ctx context.Context, userID uuid.UUID) error {
	return p.workspaces.Reset(ctx, userID)
}

// ProjectProjector maintains the projects projection.
type ProjectProjector struct {
	projects repositories.ProjectRepository
}

func NewProjectProjector(projects repositories.ProjectRepository) *ProjectProjector {
	return &ProjectProjector{projects: projects}
}

var _ Projector = (*ProjectProjector)(nil)

func (p *ProjectProjector) AggregateType() string {
	return models.AggregateProject
}

func (p *ProjectProjector) ApplyCreate(ctx context.Context, event *models.Event) (*ApplyResult, error) {
	payload, err := models.DecodeProjectPayload(event.Data)
	if err != nil {
		return nil, err
	}

	row, err := p.projects.Upsert(ctx, &models.Project{
		ID:          event.AggregateID,
		UserID:      event.UserID,
		WorkspaceID: payload.WorkspaceID,
		Name:        payload.Name,
		Description: payload.Description,
		Status:      payload.Status,
	})
	if err != nil {
		return nil, err
	}
	return &ApplyResult{Row: row}, nil
}

func (p *ProjectProjector) ApplyUpdate(ctx context.Context, event *models.Event) (*ApplyResult, error) {
	payload, err := models.DecodeProjectPayload(event.Data)
	if err != nil {
		return nil, err
	}

	row, err := p.projects.Update(ctx, event.AggregateID, event.UserID, payload, 0)
	if err != nil {
		return nil, err
	}
	return &ApplyResult{Row: row}, nil
}

func (p *ProjectProjector) ApplyDelete(ctx context.Context, event *models.Event) (*ApplyResult, error) {
	row, err := p.projects.SoftDelete(ctx, event.AggregateID, event.UserID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			if existing, getErr := p.projects.GetByID(ctx, event.AggregateID, event.UserID); getErr == nil && existing.DeletedAt != nil {
				return &ApplyResult{Row: existing, Cascade: &models.CascadeReport{}}, nil
			}
		}
		return nil, err
	}
	return &ApplyResult{Row: row, Cascade: &models.CascadeReport{}}, nil
}

func (p *ProjectProjector) Reset(ctx context.Context, userID uuid.UUID) error {
	return p.projects.Reset(ctx, userID)
}

// RelationProjector maintains the relations projection.
type RelationProjector struct {
	relations repositories.RelationRepository
}

func NewRelationProjector(relations repositories.RelationRepository) *RelationProjector {
	return &RelationProjector{relations: relations}
}

var _ Projector = (*RelationProjector)(nil)

func (p *RelationProjector) AggregateType() string {
	return models.AggregateRelation
}

func (p *RelationProjector) ApplyCreate(ctx context.Context, event *models.Event) (*ApplyResult, error) {
	payload, err := models.DecodeRelationPayload(event.Data)
	if err != nil {
		return nil, err
	}
	if payload.FromID == nil || payload.ToID == nil {
		return nil, fmt.Errorf("relation %s is missing endpoints", event.AggregateID)
	}

	row, err := p.relations.Upsert(ctx, &models.Relation{
		ID:       event.AggregateID,
		UserID:   event.UserID,
		FromID:   *payload.FromID,
		FromType: payload.FromType,
		ToID:     *payload.ToID,
		ToType:   payload.ToType,
		Kind:     payload.Kind,
	})
	if err != nil {
		return nil, err
	}
	return &ApplyResult{Row: row}, nil
}

func (p *RelationProjector) ApplyUpdate(ctx context.Context, event *models.Event) (*ApplyResult, error) {
	payload, err := models.DecodeRelationPayload(event.Data)
	if err != nil {
		return nil, err
	}

	row, err := p.relations.Update(ctx, event.AggregateID, event.UserID, payload, 0)
	if err != nil {
		return nil, err
	}
	return &ApplyResult{Row: row}, nil
}

func (p *RelationProjector) ApplyDelete(ctx context.Context, event *models.Event) (*ApplyResult, error) {
	row, err := p.relations.SoftDelete(ctx, event.AggregateID, event.UserID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			if existing, getErr := p.relations.GetByID(ctx, event.AggregateID, event.UserID); getErr == nil && existing.DeletedAt != nil {
				return &ApplyResult{Row: existing, Cascade: &models.CascadeReport{}}, nil
			}
		}
		return nil, err
	}
	return &ApplyResult{Row: row, Cascade: &models.CascadeReport{}}, nil
}

func (p *RelationProjector) Reset(ctx context.Context, userID uuid.UUID) error {
	return p.relations.Reset(ctx, userID)
}

// TagProjector maintains the tags projection.
type TagProjector struct {
	tags repositories.TagRepository
}

func NewTagProjector(tags repositories.TagRepository) *TagProjector {
	return &TagProjector{tags: tags}
}

var _ Projector = (*TagProjector)(nil)

func (p *TagProjector) AggregateType() string {
	return models.AggregateTag
}

func (p *TagProjector) ApplyCreate(ctx context.Context, event *models.Event) (*ApplyResult, error) {
	payload, err := models.DecodeTagPayload(event.Data)
	if err != nil {
		return nil, err
	}

	row, err := p.tags.Upsert(ctx, &models.Tag{
		ID:     event.AggregateID,
		UserID: event.UserID,
		Name:   payload.Name,
		Color:  payload.Color,
	})
	if err != nil {
		return nil, err
	}
	return &ApplyResult{Row: row}, nil
}

func (p *TagProjector) ApplyUpdate(ctx context.Context, event *models.Event) (*ApplyResult, error) {
	payload, err := models.DecodeTagPayload(event.Data)
	if err != nil {
		return nil, err
	}

	row, err := p.tags.Update(ctx, event.AggregateID, event.UserID, payload, 0)
	if err != nil {
		return nil, err
	}
	return &ApplyResult{Row: row}, nil
}

func (p *TagProjector) ApplyDelete(ctx context.Context, event *models.Event) (*ApplyResult, error) {
	row, err := p.tags.SoftDelete(ctx, event.AggregateID, event.UserID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			if existing, getErr := p.tags.GetByID(ctx, event.AggregateID, event.UserID); getErr == nil && existing.DeletedAt != nil {
				return &ApplyResult{Row: existing, Cascade: &models.CascadeReport{}}, nil
			}
		}
		return nil, err
	}
	return &ApplyResult{Row: row, Cascade: &models.CascadeReport{}}, nil
}

func (p *TagProjector) Reset(ctx context.Context, userID uuid.UUID) error {
	return p.tags.Reset(ctx, userID)
}
