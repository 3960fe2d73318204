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

// DocumentRepository provides data access for document projection rows.
type DocumentRepository interface {
	Upsert(ctx context.Context, doc *models.Document) (*models.Document, error)
	Update(ctx context.Context, id, userID uuid.UUID, patch models.DocumentPayload, storagePath, checksum string, size int64, expectedVersion int) (*models.Document, error)
	SoftDelete(ctx context.Context, id, userID uuid.UUID) (*models.Document, error)
	GetByID(ctx context.Context, id, userID uuid.UUID) (*models.Document, error)
	// GetByEntity returns the live document linked to an entity, or
	// ErrNotFound when the entity has no document.
	GetByEntity(ctx context.Context, entityID, userID uuid.UUID) (*models.Document, error)
	// CountLiveByStoragePath reports how many live documents still
	// reference a content-addressed blob path.
	CountLiveByStoragePath(ctx context.Context, userID uuid.UUID, path string) (int, error)
	Reset(ctx context.Context, userID uuid.UUID) error
}

type documentRepository struct{}

// NewDocumentRepository creates a new DocumentRepository.
func NewDocumentRepository() DocumentRepository {
	return &documentRepository{}
}

var _ DocumentRepository = (*documentRepository)(nil)

const documentColumns = `
	id, user_id, entity_id, title, storage_path, checksum, size,
	version, created_at, updated_at, deleted_at`

func (r *documentRepository) Upsert(ctx context.Context, doc *models.Document) (*models.Document, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `
		INSERT INTO documents (
			id, user_id, entity_id, title, storage_path, checksum, size,
			version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, 1, now(), now())
		ON CONFLICT (id) DO NOTHING`

	_, err := scope.Conn.Exec(ctx, query,
		doc.ID,
		doc.UserID,
		doc.EntityID,
		doc.Title,
		nullableString(doc.StoragePath),
		nullableString(doc.Checksum),
		doc.Size,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert document: %w", err)
	}

	return r.GetByID(ctx, doc.ID, doc.UserID)
}

func (r *documentRepository) Update(ctx context.Context, id, userID uuid.UUID, patch models.DocumentPayload, storagePath, checksum string, size int64, expectedVersion int) (*models.Document, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `
		UPDATE documents SET
			title        = COALESCE(NULLIF($3, ''), title),
			entity_id    = COALESCE($4, entity_id),
			storage_path = COALESCE(NULLIF($5, ''), storage_path),
			checksum     = COALESCE(NULLIF($6, ''), checksum),
			size         = CASE WHEN $7 > 0 THEN $7 ELSE size END,
			version      = version + 1,
			updated_at   = now()
		WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL
		  AND ($8 = 0 OR version = $8)
		RETURNING ` + documentColumns

	row := scope.Conn.QueryRow(ctx, query,
		id, userID,
		patch.Title,
		patch.EntityID,
		storagePath,
		checksum,
		size,
		expectedVersion,
	)

	doc, err := scanDocument(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			if expectedVersion != 0 {
				if _, getErr := r.GetByID(ctx, id, userID); getErr == nil {
					return nil, apperrors.ErrVersionConflict
				}
			}
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to update document: %w", err)
	}
	return doc, nil
}

func (r *documentRepository) SoftDelete(ctx context.Context, id, userID uuid.UUID) (*models.Document, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `
		UPDATE documents SET
			deleted_at = now(),
			version    = version + 1,
			updated_at = now()
		WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL
		RETURNING ` + documentColumns

	row := scope.Conn.QueryRow(ctx, query, id, userID)
	doc, err := scanDocument(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to soft-delete document: %w", err)
	}
	return doc, nil
}

func (r *documentRepository) GetByID(ctx context.Context, id, userID uuid.UUID) (*models.Document, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `SELECT ` + documentColumns + ` FROM documents WHERE id = $1 AND user_id = $2`

	row := scope.Conn.QueryRow(ctx, query, id, userID)
	doc, err := scanDocument(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return doc, nil
}

func (r *documentRepository) GetByEntity(ctx context.Context, entityID, userID uuid.UUID) (*models.Document, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `
		SELECT ` + documentColumns + `
		FROM documents
		WHERE entity_id = $1 AND user_id = $2 AND deleted_at IS NULL
		ORDER BY created_at DESC
		LIMIT 1`

	row := scope.Conn.QueryRow(ctx, query, entityID, userID)
	doc, err := scanDocument(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get document by entity: %w", err)
	}
	return doc, nil
}

func (r *documentRepository) CountLiveByStoragePath(ctx context.Context, userID uuid.UUID, path string) (int, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return 0, fmt.Errorf("no tenant scope in context")
	}

	query := `
		SELECT count(*)
		FROM documents
		WHERE user_id = $1 AND storage_path = $2 AND deleted_at IS NULL`

	var count int
	if err := scope.Conn.QueryRow(ctx, query, userID, path).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count document blob references: %w", err)
	}
	return count, nil
}

func (r *documentRepository) Reset(ctx context.Context, userID uuid.UUID) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	if _, err := scope.Conn.Exec(ctx, `DELETE FROM documents WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("failed to reset documents: %w", err)
	}
	return nil
}

func scanDocument(row pgx.Row) (*models.Document, error) {
	var d models.Document
	var storagePath, checksum *string

	err := row.Scan(
		&d.ID,
		&d.UserID,
		&d.EntityID,
		&d.Title,
		&storagePath,
		&checksum,
		&d.Size,
		&d.Version,
		&d.CreatedAt,
		&d.UpdatedAt,
		&d.DeletedAt,
	)
	if err != nil {
		return nil, err
	}

	if storagePath != nil {
		d.StoragePath = *storagePath
	}
	if checksum != nil {
		d.Checksum = *checksum
	}

	return &d, nil
}
