// Package repositories provides tenant-scoped data access to projection
// tables. Projection rows are derived state: executors and the projection
// engine are the only writers, and every statement is scoped by user_id on
// top of the RLS fence set by the tenant scope.
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

// EntityRepository provides data access for entity projection rows.
type EntityRepository interface {
	// Upsert inserts the row if absent. Replaying the same create event is
	// a no-op: the pre-assigned id is the idempotency key.
	Upsert(ctx context.Context, entity *models.Entity) (*models.Entity, error)

	// Update applies a partial patch, bumps version and updated_at. Returns
	// ErrNotFound if no live row matches; ErrVersionConflict if
	// expectedVersion is non-zero and stale.
	Update(ctx context.Context, id, userID uuid.UUID, patch models.EntityPayload, expectedVersion int) (*models.Entity, error)

	// SoftDelete sets deleted_at, preserving the row for referential
	// integrity. Returns the deleted row.
	SoftDelete(ctx context.Context, id, userID uuid.UUID) (*models.Entity, error)

	// GetByID returns a single entity, soft-deleted rows included.
	GetByID(ctx context.Context, id, userID uuid.UUID) (*models.Entity, error)

	// List returns the user's entities, newest first.
	List(ctx context.Context, userID uuid.UUID, includeDeleted bool, limit int) ([]*models.Entity, error)

	// CountLiveByContentPath reports how many live entities still reference
	// a content-addressed blob path. Identical content shares one blob, so
	// cleanup after a delete must check for surviving referrers.
	CountLiveByContentPath(ctx context.Context, userID uuid.UUID, path string) (int, error)

	// Reset removes all of the user's rows. Only the projection rebuild
	// path may call this; it precedes a full replay of the event log.
	Reset(ctx context.Context, userID uuid.UUID) error
}

type entityRepository struct{}

// NewEntityRepository creates a new EntityRepository.
func NewEntityRepository() EntityRepository {
	return &entityRepository{}
}

var _ EntityRepository = (*entityRepository)(nil)

const entityColumns = `
	id, user_id, workspace_id, document_id, title, kind, attributes,
	content_path, content_checksum, content_size,
	version, created_at, updated_at, deleted_at`

func (r *entityRepository) Upsert(ctx context.Context, entity *models.Entity) (*models.Entity, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `
		INSERT INTO entities (
			id, user_id, workspace_id, document_id, title, kind, attributes,
			content_path, content_checksum, content_size,
			version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 1, now(), now())
		ON CONFLICT (id) DO NOTHING`

	_, err := scope.Conn.Exec(ctx, query,
		entity.ID,
		entity.UserID,
		entity.WorkspaceID,
		entity.DocumentID,
		entity.Title,
		nullableString(entity.Kind),
		jsonbValueMap(entity.Attributes),
		nullableString(entity.ContentPath),
		nullableString(entity.ContentChecksum),
		entity.ContentSize,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert entity: %w", err)
	}

	return r.GetByID(ctx, entity.ID, entity.UserID)
}

func (r *entityRepository) Update(ctx context.Context, id, userID uuid.UUID, patch models.EntityPayload, expectedVersion int) (*models.Entity, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `
		UPDATE entities SET
			title        = COALESCE(NULLIF($3, ''), title),
			kind         = COALESCE(NULLIF($4, ''), kind),
			workspace_id = COALESCE($5, workspace_id),
			document_id  = COALESCE($6, document_id),
			attributes   = COALESCE($7, attributes),
			version      = version + 1,
			updated_at   = now()
		WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL
		  AND ($8 = 0 OR version = $8)
		RETURNING ` + entityColumns

	row := scope.Conn.QueryRow(ctx, query,
		id, userID,
		patch.Title,
		patch.Kind,
		patch.WorkspaceID,
		patch.DocumentID,
		jsonbValueMap(patch.Attributes),
		expectedVersion,
	)

	entity, err := scanEntity(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, r.classifyMiss(ctx, id, userID, expectedVersion)
		}
		return nil, fmt.Errorf("failed to update entity: %w", err)
	}
	return entity, nil
}

// classifyMiss distinguishes a missing row from an optimistic-lock race so
// the caller can fail loudly with the right error.
func (r *entityRepository) classifyMiss(ctx context.Context, id, userID uuid.UUID, expectedVersion int) error {
	if expectedVersion == 0 {
		return apperrors.ErrNotFound
	}
	if _, err := r.GetByID(ctx, id, userID); err != nil {
		return apperrors.ErrNotFound
	}
	return apperrors.ErrVersionConflict
}

func (r *entityRepository) SoftDelete(ctx context.Context, id, userID uuid.UUID) (*models.Entity, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `
		UPDATE entities SET
			deleted_at = now(),
			version    = version + 1,
			updated_at = now()
		WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL
		RETURNING ` + entityColumns

	row := scope.Conn.QueryRow(ctx, query, id, userID)
	entity, err := scanEntity(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to soft-delete entity: %w", err)
	}
	return entity, nil
}

func (r *entityRepository) GetByID(ctx context.Context, id, userID uuid.UUID) (*models.Entity, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `SELECT ` + entityColumns + ` FROM entities WHERE id = $1 AND user_id = $2`

	row := scope.Conn.QueryRow(ctx, query, id, userID)
	entity, err := scanEntity(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get entity: %w", err)
	}
	return entity, nil
}

func (r *entityRepository) List(ctx context.Context, userID uuid.UUID, includeDeleted bool, limit int) ([]*models.Entity, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	if limit <= 0 {
		limit = 1000
	}

	query := `
		SELECT ` + entityColumns + `
		FROM entities
		WHERE user_id = $1 AND ($2 OR deleted_at IS NULL)
		ORDER BY created_at DESC
		LIMIT $3`

	rows, err := scope.Conn.Query(ctx, query, userID, includeDeleted, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list entities: %w", err)
	}
	defer rows.Close()

	var entities []*models.Entity
	for rows.Next() {
		entity, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		entities = append(entities, entity)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating entities: %w", err)
	}
	return entities, nil
}

func (r *entityRepository) CountLiveByContentPath(ctx context.Context, userID uuid.UUID, path string) (int, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return 0, fmt.Errorf("no tenant scope in context")
	}

	query := `
		SELECT count(*)
		FROM entities
		WHERE user_id = $1 AND content_path = $2 AND deleted_at IS NULL`

	var count int
	if err := scope.Conn.QueryRow(ctx, query, userID, path).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count entity blob references: %w", err)
	}
	return count, nil
}

func (r *entityRepository) Reset(ctx context.Context, userID uuid.UUID) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	if _, err := scope.Conn.Exec(ctx, `DELETE FROM entities WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("failed to reset entities: %w", err)
	}
	return nil
}

func scanEntity(row pgx.Row) (*models.Entity, error) {
	var e models.Entity
	var kind, contentPath, contentChecksum *string
	var attributes []byte

	err := row.Scan(
		&e.ID,
		&e.UserID,
		&e.WorkspaceID,
		&e.DocumentID,
		&e.Title,
		&kind,
		&attributes,
		&contentPath,
		&contentChecksum,
		&e.ContentSize,
		&e.Version,
		&e.CreatedAt,
		&e.UpdatedAt,
		&e.DeletedAt,
	)
	if err != nil {
		return nil, err
	}

	if kind != nil {
		e.Kind = *kind
	}
	if contentPath != nil {
		e.ContentPath = *contentPath
	}
	if contentChecksum != nil {
		e.ContentChecksum = *contentChecksum
	}
	if len(attributes) > 0 && string(attributes) != "null" {
		if err := json.Unmarshal(attributes, &e.Attributes); err != nil {
			return nil, fmt.Errorf("failed to unmarshal entity attributes: %w", err)
		}
	}

	return &e, nil
}

// Helper functions shared by projection repositories.

// nullableString converts an empty string to nil for nullable columns.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// jsonbValueMap converts a map to JSONB format for database insertion.
func jsonbValueMap(v map[string]any) any {
	if len(v) == 0 {
		return nil
	}
	return v
}
