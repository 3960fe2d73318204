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

// TagRepository provides data access for tag projection rows.
type TagRepository interface {
	Upsert(ctx context.Context, tag *models.Tag) (*models.Tag, error)
	Update(ctx context.Context, id, userID uuid.UUID, patch models.TagPayload, expectedVersion int) (*models.Tag, error)
	SoftDelete(ctx context.Context, id, userID uuid.UUID) (*models.Tag, error)
	GetByID(ctx context.Context, id, userID uuid.UUID) (*models.Tag, error)
	Reset(ctx context.Context, userID uuid.UUID) error
}

type tagRepository struct{}

// NewTagRepository creates a new TagRepository.
func NewTagRepository() TagRepository {
	return &tagRepository{}
}

var _ TagRepository = (*tagRepository)(nil)

const tagColumns = `
	id, user_id, name, color, version, created_at, updated_at, deleted_at`

func (r *tagRepository) Upsert(ctx context.Context, tag *models.Tag) (*models.Tag, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `
		INSERT INTO tags (id, user_id, name, color, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 1, now(), now())
		ON CONFLICT (id) DO NOTHING`

	_, err := scope.Conn.Exec(ctx, query, tag.ID, tag.UserID, tag.Name, nullableString(tag.Color))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert tag: %w", err)
	}

	return r.GetByID(ctx, tag.ID, tag.UserID)
}

func (r *tagRepository) Update(ctx context.Context, id, userID uuid.UUID, patch models.TagPayload, expectedVersion int) (*models.Tag, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `
		UPDATE tags SET
			name       = COALESCE(NULLIF($3, ''), name),
			color      = COALESCE(NULLIF($4, ''), color),
			version    = version + 1,
			updated_at = now()
		WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL
		  AND ($5 = 0 OR version = $5)
		RETURNING ` + tagColumns

	row := scope.Conn.QueryRow(ctx, query, id, userID, patch.Name, patch.Color, expectedVersion)
	tag, err := scanTag(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			if expectedVersion != 0 {
				if _, getErr := r.GetByID(ctx, id, userID); getErr == nil {
					return nil, apperrors.ErrVersionConflict
				}
			}
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to update tag: %w", err)
	}
	return tag, nil
}

func (r *tagRepository) SoftDelete(ctx context.Context, id, userID uuid.UUID) (*models.Tag, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `
		UPDATE tags SET
			deleted_at = now(),
			version    = version + 1,
			updated_at = now()
		WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL
		RETURNING ` + tagColumns

	row := scope.Conn.QueryRow(ctx, query, id, userID)
	tag, err := scanTag(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to soft-delete tag: %w", err)
	}
	return tag, nil
}

func (r *tagRepository) GetByID(ctx context.Context, id, userID uuid.UUID) (*models.Tag, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `SELECT ` + tagColumns + ` FROM tags WHERE id = $1 AND user_id = $2`

	row := scope.Conn.QueryRow(ctx, query, id, userID)
	tag, err := scanTag(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get tag: %w", err)
	}
	return tag, nil
}

func (r *tagRepository) Reset(ctx context.Context, userID uuid.UUID) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	if _, err := scope.Conn.Exec(ctx, `DELETE FROM tags WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("failed to reset tags: %w", err)
	}
	return nil
}

func scanTag(row pgx.Row) (*models.Tag, error) {
	var t models.Tag
	var color *string

	err := row.Scan(
		&t.ID,
		&t.UserID,
		&t.Name,
		&color,
		&t.Version,
		&t.CreatedAt,
		&t.UpdatedAt,
		&t.DeletedAt,
	)
	if err != nil {
		return nil, err
	}

	if color != nil {
		t.Color = *color
	}

	return &t, nil
}
