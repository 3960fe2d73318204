package repositories

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/noema-dev/noema-engine/pkg/apperrors"
	"github.com/noema-dev/noema-engine/pkg/database"
	"github.com/noema-dev/noema-engine/pkg/models"
)

// ProjectRepository provides data access for project projection rows.
type ProjectRepository interface {
	Upsert(ctx context.Context, p *models.Project) (*models.Project, error)
	Update(ctx context.Context, id, userID uuid.UUID, patch models.ProjectPayload, expectedVersion int) (*models.Project, error)
	SoftDelete(ctx context.Context, id, userID uuid.UUID) (*models.Project, error)
	GetByID(ctx context.Context, id, userID uuid.UUID) (*models.Project, error)
	Reset(ctx context.Context, userID uuid.UUID) error
}

type projectRepository struct{}

// NewProjectRepository creates a new ProjectRepository.
func NewProjectRepository() ProjectRepository {
	return &projectRepository{}
}

var _ ProjectRepository = (*projectRepository)(nil)

const projectColumns = `
	id, user_id, workspace_id, name, description, status,
	version, created_at, updated_at, deleted_at`

func (r *projectRepository) Upsert(ctx context.Context, p *models.Project) (*models.Project, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `
		INSERT INTO projects (id, user_id, workspace_id, name, description, status, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 1, now(), now())
		ON CONFLICT (id) DO NOTHING`

	_, err := scope.Conn.Exec(ctx, query,
		p.ID, p.UserID, p.WorkspaceID, p.Name,
		nullableString(p.Description), nullableString(p.Status))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert project: %w", err)
	}

	return r.GetByID(ctx, p.ID, p.UserID)
}

func (r *projectRepository) Update(ctx context.Context, id, userID uuid.UUID, patch models.ProjectPayload, expectedVersion int) (*models.Project, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `
		UPDATE projects SET
			name         = COALESCE(NULLIF($3, ''), name),
			description  = COALESCE(NULLIF($4, ''), description),
			status       = COALESCE(NULLIF($5, ''), status),
			workspace_id = COALESCE($6, workspace_id),
			version      = version + 1,
			updated_at   = now()
		WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL
		  AND ($7 = 0 OR version = $7)
		RETURNING ` + projectColumns

	row := scope.Conn.QueryRow(ctx, query,
		id, userID, patch.Name, patch.Description, patch.Status, patch.WorkspaceID, expectedVersion)
	p, err := scanProject(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			if expectedVersion != 0 {
				if _, getErr := r.GetByID(ctx, id, userID); getErr == nil {
					return nil, apperrors.ErrVersionConflict
				}
			}
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to update project: %w", err)
	}
	return p, nil
}

func (r *projectRepository) SoftDelete(ctx context.Context, id, userID uuid.UUID) (*models.Project, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `
		UPDATE projects SET
			deleted_at = now(),
			version    = version + 1,
			updated_at = now()
		WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL
		RETURNING ` + projectColumns

	row := scope.Conn.QueryRow(ctx, query, id, userID)
	p, err := scanProject(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to soft-delete project: %w", err)
	}
	return p, nil
}

func (r *projectRepository) GetByID(ctx context.Context, id, userID uuid.UUID) (*models.Project, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `SELECT ` + projectColumns + ` FROM projects WHERE id = $1 AND user_id = $2`

	row := scope.Conn.QueryRow(ctx, query, id, userID)
	p, err := scanProject(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	return p, nil
}

func (r *projectRepository) Reset(ctx context.Context, userID uuid.UUID) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	if _, err := scope.Conn.Exec(ctx, `DELETE FROM projects WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("failed to reset projects: %w", err)
	}
	return nil
}

func scanProject(row pgx.Row) (*models.Project, error) {
	var p models.Project
	var description, status *string

	err := row.Scan(
		&p.ID,
		&p.UserID,
		&p.WorkspaceID,
		&p.Name,
		&description,
		&status,
		&p.Version,
		&p.CreatedAt,
		&p.UpdatedAt,
		&p.DeletedAt,
	)
	if err != nil {
		return nil, err
	}

	if description != nil {
		p.Description = *description
	}
	if status != nil {
		p.Status = *status
	}

	return &p, nil
}
