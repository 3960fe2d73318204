package models

import (
	"time"

	"github.com/google/uuid"
)

// Aggregate type constants. These are the singular names registered with the
// aggregate registry; projection table names are the plural forms.
const (
	AggregateEntity    = "entity"
	AggregateDocument  = "document"
	AggregateWorkspace = "workspace"
	AggregateProject   = "project"
	AggregateRelation  = "relation"
	AggregateTag       = "tag"
)

// Entity is the projection row for a knowledge entity. Rows are derived from
// the event log and rebuildable; Version is bumped on every executor-driven
// update for optimistic locking. Soft-deleted rows keep their relations valid.
type Entity struct {
	ID              uuid.UUID      `json:"id"`
	UserID          uuid.UUID      `json:"user_id"`
	WorkspaceID     *uuid.UUID     `json:"workspace_id,omitempty"`
	DocumentID      *uuid.UUID     `json:"document_id,omitempty"`
	Title           string         `json:"title"`
	Kind            string         `json:"kind,omitempty"`
	Attributes      map[string]any `json:"attributes,omitempty"`
	ContentPath     string         `json:"content_path,omitempty"`
	ContentChecksum string         `json:"content_checksum,omitempty"`
	ContentSize     int64          `json:"content_size,omitempty"`
	Version         int            `json:"version"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	DeletedAt       *time.Time     `json:"deleted_at,omitempty"`
}

// Document is the projection row for a document body backing an entity.
type Document struct {
	ID          uuid.UUID  `json:"id"`
	UserID      uuid.UUID  `json:"user_id"`
	EntityID    *uuid.UUID `json:"entity_id,omitempty"`
	Title       string     `json:"title"`
	StoragePath string     `json:"storage_path,omitempty"`
	Checksum    string     `json:"checksum,omitempty"`
	Size        int64      `json:"size,omitempty"`
	Version     int        `json:"version"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	DeletedAt   *time.Time `json:"deleted_at,omitempty"`
}

// Workspace is the projection row for a workspace. Settings carries free-form
// workspace configuration, including per-table validation overrides consulted
// by the validation policy service.
type Workspace struct {
	ID        uuid.UUID      `json:"id"`
	UserID    uuid.UUID      `json:"user_id"`
	Name      string         `json:"name"`
	Settings  map[string]any `json:"settings,omitempty"`
	Version   int            `json:"version"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt *time.Time     `json:"deleted_at,omitempty"`
}

// Project is the projection row for a project grouping work inside a workspace.
type Project struct {
	ID          uuid.UUID  `json:"id"`
	UserID      uuid.UUID  `json:"user_id"`
	WorkspaceID *uuid.UUID `json:"workspace_id,omitempty"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Status      string     `json:"status,omitempty"`
	Version     int        `json:"version"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	DeletedAt   *time.Time `json:"deleted_at,omitempty"`
}

// Relation links two aggregates (e.g. an entity to a document or a tag).
type Relation struct {
	ID        uuid.UUID  `json:"id"`
	UserID    uuid.UUID  `json:"user_id"`
	FromID    uuid.UUID  `json:"from_id"`
	FromType  string     `json:"from_type"`
	ToID      uuid.UUID  `json:"to_id"`
	ToType    string     `json:"to_type"`
	Kind      string     `json:"kind,omitempty"`
	Version   int        `json:"version"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// Tag is the projection row for a user-defined label.
type Tag struct {
	ID        uuid.UUID  `json:"id"`
	UserID    uuid.UUID  `json:"user_id"`
	Name      string     `json:"name"`
	Color     string     `json:"color,omitempty"`
	Version   int        `json:"version"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// CascadeReport records what a cascading delete actually removed, so the
// emitted .completed event describes what happened rather than what was asked.
type CascadeReport struct {
	Relations  []uuid.UUID `json:"relations,omitempty"`
	DocumentID *uuid.UUID  `json:"document_id,omitempty"`
	BlobPaths  []string    `json:"blob_paths,omitempty"`
}

// Empty returns true when the cascade deleted nothing beyond the target row.
func (c *CascadeReport) Empty() bool {
	return c == nil || (len(c.Relations) == 0 && c.DocumentID == nil && len(c.BlobPaths) == 0)
}
