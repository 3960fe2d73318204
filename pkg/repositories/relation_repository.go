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

// RelationRepository provides data access for relation projection rows.
// Relations reference soft-deleted endpoints without dangling: endpoints are
// never physically removed.
type RelationRepository interface {
	Upsert(ctx context.Context, rel *models.Relation) (*models.Relation, error)
	Update(ctx context.Context, id, userID uuid.UUID, patch models.RelationPayload, expectedVersion int) (*models.Relation, error)
	SoftDelete(ctx context.Context, id, userID uuid.UUID) (*models.Relation, error)
	GetByID(ctx context.Context, id, userID uuid.UUID) (*models.Relation, error)

	// ListByEndpoint returns live relations touching the given aggregate on
	// either side.
	ListByEndpoint(ctx context.Context, endpointID, userID uuid.UUID) ([]*models.Relation, error)

	// SoftDeleteByEndpoint soft-deletes every live relation touching the
	// given aggregate and returns the ids that were actually deleted, for
	// the cascade audit trail.
	SoftDeleteByEndpoint(ctx context.Context, endpointID, userID uuid.UUID) ([]uuid.UUID, error)

	Reset(ctx context.Context, userID uuid.UUID) error
}

type relationRepository struct{}

// NewRelationRepository creates a new RelationRepository.
func NewRelationRepository() RelationRepository {
	return &relationRepository{}
}

var _ RelationRepository = (*relationRepository)(nil)

const relationColumns = `
	id, user_id, from_id, from_type, to_id, to_type, kind,
	version, created_at, updated_at, deleted_at`

func (r *relationRepository) Upsert(ctx context.Context, rel *models.Relation) (*models.Relation, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `
		INSERT INTO relations (id, user_id, from_id, from_type, to_id, to_type, kind, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 1, now(), now())
		ON CONFLICT (id) DO NOTHING`

	_, err := scope.Conn.Exec(ctx, query,
		rel.ID, rel.UserID, rel.FromID, rel.FromType, rel.ToID, rel.ToType,
		nullableString(rel.Kind))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert relation: %w", err)
	}

	return r.GetByID(ctx, rel.ID, rel.UserID)
}

func (r *relationRepository) Update(ctx context.Context, id, userID uuid.UUID, patch models.RelationPayload, expectedVersion int) (*models.Relation, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `
		UPDATE relations SET
			kind       = COALESCE(NULLIF($3, ''), kind),
			version    = version + 1,
			updated_at = now()
		WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL
		  AND ($4 = 0 OR version = $4)
		RETURNING ` + relationColumns

	row := scope.Conn.QueryRow(ctx, query, id, userID, patch.Kind, expectedVersion)
	rel, err := scanRelation(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			if expectedVersion != 0 {
				if _, getErr := r.GetByID(ctx, id, userID); getErr == nil {
					return nil, apperrors.ErrVersionConflict
				}
			}
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to update relation: %w", err)
	}
	return rel, nil
}

func (r *relationRepository) SoftDelete(ctx context.Context, id, userID uuid.UUID) (*models.Relation, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `
		UPDATE relations SET
			deleted_at = now(),
			version    = version + 1,
			updated_at = now()
		WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL
		RETURNING ` + relationColumns

	row := scope.Conn.QueryRow(ctx, query, id, userID)
	rel, err := scanRelation(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to soft-delete relation: %w", err)
	}
	return rel, nil
}

func (r *relationRepository) GetByID(ctx context.Context, id, userID uuid.UUID) (*models.Relation, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `SELECT ` + relationColumns + ` FROM relations WHERE id = $1 AND user_id = $2`

	row := scope.Conn.QueryRow(ctx, query, id, userID)
	rel, err := scanRelation(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get relation: %w", err)
	}
	return rel, nil
}

func (r *relationRepository) ListByEndpoint(ctx context.Context, endpointID, userID uuid.UUID) ([]*models.Relation, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `
		SELECT ` + relationColumns + `
		FROM relations
		WHERE user_id = $2 AND (from_id = $1 OR to_id = $1) AND deleted_at IS NULL
		ORDER BY created_at ASC`

	rows, err := scope.Conn.Query(ctx, query, endpointID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list relations by endpoint: %w", err)
	}
	defer rows.Close()

	var relations []*models.Relation
	for rows.Next() {
		rel, err := scanRelation(rows)
		if err != nil {
			return nil, err
		}
		relations = append(relations, rel)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating relations: %w", err)
	}
	return relations, nil
}

func (r *relationRepository) SoftDeleteByEndpoint(ctx context.Context, endpointID, userID uuid.UUID) ([]uuid.UUID, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `
		UPDATE relations SET
			deleted_at = now(),
			version    = version + 1,
			updated_at = now()
		WHERE user_id = $2 AND (from_id = $1 OR to_id = $1) AND deleted_at IS NULL
		RETURNING id`

	rows, err := scope.Conn.Query(ctx, query, endpointID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to cascade-delete relations: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan relation id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cascade-deleted relations: %w", err)
	}
	return ids, nil
}

func (r *relationRepository) Reset(ctx context.Context, userID uuid.UUID) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	if _, err := scope.Conn.Exec(ctx, `DELETE FROM relations WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("failed to reset relations: %w", err)
	}
	return nil
}

func scanRelation(row pgx.Row) (*models.Relation, error) {
	var rel models.Relation
	var kind *string

	err := row.Scan(
		&rel.ID,
		&rel.UserID,
		&rel.FromID,
		&rel.FromType,
		&rel.ToID,
		&rel.ToType,
		&kind,
		&rel.Version,
		&rel.CreatedAt,
		&rel.UpdatedAt,
		&rel.DeletedAt,
	)
	if err != nil {
		return nil, err
	}

	if kind != nil {
		rel.Kind = *kind
	}

	return &rel, nil
}
