package repositories

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/noema-dev/noema-engine/pkg/apperrors"
	"github.com/noema-dev/noema-engine/pkg/database"
	"github.com/noema-dev/noema-engine/pkg/models"
)

// WorkspaceRepository provides data access for workspace projection rows.
// It also serves the validation policy service's workspace-preference lookups
// via GetSettings.
type WorkspaceRepository interface {
	Upsert(ctx context.Context, ws *models.Workspace) (*models.Workspace, error)
	Update(ctx context.Context, id, userID uuid.UUID, patch models.WorkspacePayload, expectedVersion int) (*models.Workspace, error)
	SoftDelete(ctx context.Context, id, userID uuid.UUID) (*models.Workspace, error)
	GetByID(ctx context.Context, id, userID uuid.UUID) (*models.Workspace, error)
	GetSettings(ctx context.Context, userID, workspaceID uuid.UUID) (map[string]any, error)
	Reset(ctx context.Context, userID uuid.UUID) error
}

type workspaceRepository struct{}

// NewWorkspaceRepository creates a new WorkspaceRepository.
func NewWorkspaceRepository() WorkspaceRepository {
	return &workspaceRepository{}
}

var _ WorkspaceRepository = (*workspaceRepository)(nil)

const workspaceColumns = `
	id, user_id, name, settings, version, created_at, updated_at, deleted_at`

func (r *workspaceRepository) Upsert(ctx context.Context, ws *models.Workspace) (*models.Workspace, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `
		INSERT INTO workspaces (id, user_id, name, settings, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 1, now(), now())
		ON CONFLICT (id) DO NOTHING`

	_, err := scope.Conn.Exec(ctx, query, ws.ID, ws.UserID, ws.Name, jsonbValueMap(ws.Settings))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert workspace: %w", err)
	}

	return r.GetByID(ctx, ws.ID, ws.UserID)
}

func (r *workspaceRepository) Update(ctx context.Context, id, userID uuid.UUID, patch models.WorkspacePayload, expectedVersion int) (*models.Workspace, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `
		UPDATE workspaces SET
			name       = COALESCE(NULLIF($3, ''), name),
			settings   = COALESCE($4, settings),
			version    = version + 1,
			updated_at = now()
		WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL
		  AND ($5 = 0 OR version = $5)
		RETURNING ` + workspaceColumns

	row := scope.Conn.QueryRow(ctx, query, id, userID, patch.Name, jsonbValueMap(patch.Settings), expectedVersion)
	ws, err := scanWorkspace(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			if expectedVersion != 0 {
				if _, getErr := r.GetByID(ctx, id, userID); getErr == nil {
					return nil, apperrors.ErrVersionConflict
				}
			}
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to update workspace: %w", err)
	}
	return ws, nil
}

func (r *workspaceRepository) SoftDelete(ctx context.Context, id, userID uuid.UUID) (*models.Workspace, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `
		UPDATE workspaces SET
			deleted_at = now(),
			version    = version + 1,
			updated_at = now()
		WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL
		RETURNING ` + workspaceColumns

	row := scope.Conn.QueryRow(ctx, query, id, userID)
	ws, err := scanWorkspace(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to soft-delete workspace: %w", err)
	}
	return ws, nil
}

func (r *workspaceRepository) GetByID(ctx context.Context, id, userID uuid.UUID) (*models.Workspace, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `SELECT ` + workspaceColumns + ` FROM workspaces WHERE id = $1 AND user_id = $2`

	row := scope.Conn.QueryRow(ctx, query, id, userID)
	ws, err := scanWorkspace(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get workspace: %w", err)
	}
	return ws, nil
}

func (r *workspaceRepository) GetSettings(ctx context.Context, userID, workspaceID uuid.UUID) (map[string]any, error) {
	ws, err := r.GetByID(ctx, workspaceID, userID)
	if err != nil {
		return nil, err
	}
	return ws.Settings, nil
}

func (r *workspaceRepository) Reset(ctx context.Context, userID uuid.UUID) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	if _, err := scope.Conn.Exec(ctx, `DELETE FROM workspaces WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("failed to reset workspaces: %w", err)
	}
	return nil
}

func scanWorkspace(row pgx.Row) (*models.Workspace, error) {
	var w models.Workspace
	var settings []byte

	err := row.Scan(
		&w.ID,
		&w.UserID,
		&w.Name,
		&settings,
		&w.Version,
		&w.CreatedAt,
		&w.UpdatedAt,
		&w.DeletedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(settings) > 0 && string(settings) != "null" {
		if err := json.Unmarshal(settings, &w.Settings); err != nil {
			return nil, fmt.Errorf("failed to unmarshal workspace settings: %w", err)
		}
	}

	return &w, nil
}
