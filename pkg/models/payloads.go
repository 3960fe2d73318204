package models

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/noema-dev/noema-engine/pkg/jsonutil"
)

// Typed command payloads. Incoming command data is a loose JSON object; it is
// decoded into one of these at the event-store boundary so malformed commands
// are rejected before anything is appended to the log.

// EntityPayload is the payload for entity create/update commands.
type EntityPayload struct {
	Title       string         `json:"title,omitempty"`
	Kind        string         `json:"kind,omitempty"`
	Content     string         `json:"content,omitempty"`
	WorkspaceID *uuid.UUID     `json:"workspace_id,omitempty"`
	DocumentID  *uuid.UUID     `json:"document_id,omitempty"`
	Attributes  map[string]any `json:"attributes,omitempty"`
}

// DocumentPayload is the payload for document create/update commands.
type DocumentPayload struct {
	Title    string     `json:"title,omitempty"`
	Content  string     `json:"content,omitempty"`
	EntityID *uuid.UUID `json:"entity_id,omitempty"`
}

// WorkspacePayload is the payload for workspace create/update commands.
type WorkspacePayload struct {
	Name     string         `json:"name,omitempty"`
	Settings map[string]any `json:"settings,omitempty"`
}

// ProjectPayload is the payload for project create/update commands.
type ProjectPayload struct {
	Name        string     `json:"name,omitempty"`
	Description string     `json:"description,omitempty"`
	Status      string     `json:"status,omitempty"`
	WorkspaceID *uuid.UUID `json:"workspace_id,omitempty"`
}

// RelationPayload is the payload for relation create/update commands.
type RelationPayload struct {
	FromID   *uuid.UUID `json:"from_id,omitempty"`
	FromType string     `json:"from_type,omitempty"`
	ToID     *uuid.UUID `json:"to_id,omitempty"`
	ToType   string     `json:"to_type,omitempty"`
	Kind     string     `json:"kind,omitempty"`
}

// TagPayload is the payload for tag create/update commands.
type TagPayload struct {
	Name  string `json:"name,omitempty"`
	Color string `json:"color,omitempty"`
}

// DeletePayload is the payload for delete commands of any aggregate.
type DeletePayload struct {
	// Cascade soft-deletes dependents (relations and the linked document
	// for entities) and cleans up blobs no surviving row references. What
	// actually got deleted is recorded in the .completed event metadata.
	Cascade bool `json:"cascade,omitempty"`
}

// DecodeEntityPayload decodes loose event data into an EntityPayload.
func DecodeEntityPayload(data map[string]any) (EntityPayload, error) {
	var p EntityPayload
	if err := jsonutil.DecodeMap(data, &p); err != nil {
		return p, fmt.Errorf("failed to decode entity payload: %w", err)
	}
	return p, nil
}

// DecodeDocumentPayload decodes loose event data into a DocumentPayload.
func DecodeDocumentPayload(data map[string]any) (DocumentPayload, error) {
	var p DocumentPayload
	if err := jsonutil.DecodeMap(data, &p); err != nil {
		return p, fmt.Errorf("failed to decode document payload: %w", err)
	}
	return p, nil
}

// DecodeWorkspacePayload decodes loose event data into a WorkspacePayload.
func DecodeWorkspacePayload(data map[string]any) (WorkspacePayload, error) {
	var p WorkspacePayload
	if err := jsonutil.DecodeMap(data, &p); err != nil {
		return p, fmt.Errorf("failed to decode workspace payload: %w", err)
	}
	return p, nil
}

// DecodeProjectPayload decodes loose event data into a ProjectPayload.
func DecodeProjectPayload(data map[string]any) (ProjectPayload, error) {
	var p ProjectPayload
	if err := jsonutil.DecodeMap(data, &p); err != nil {
		return p, fmt.Errorf("failed to decode project payload: %w", err)
	}
	return p, nil
}

// DecodeRelationPayload decodes loose event data into a RelationPayload.
func DecodeRelationPayload(data map[string]any) (RelationPayload, error) {
	var p RelationPayload
	if err := jsonutil.DecodeMap(data, &p); err != nil {
		return p, fmt.Errorf("failed to decode relation payload: %w", err)
	}
	return p, nil
}

// DecodeTagPayload decodes loose event data into a TagPayload.
func DecodeTagPayload(data map[string]any) (TagPayload, error) {
	var p TagPayload
	if err := jsonutil.DecodeMap(data, &p); err != nil {
		return p, fmt.Errorf("failed to decode tag payload: %w", err)
	}
	return p, nil
}

// DecodeDeletePayload decodes loose event data into a DeletePayload.
// Missing or nil data means a plain, non-cascading delete.
func DecodeDeletePayload(data map[string]any) (DeletePayload, error) {
	var p DeletePayload
	if data == nil {
		return p, nil
	}
	if err := jsonutil.DecodeMap(data, &p); err != nil {
		return p, fmt.Errorf("failed to decode delete payload: %w", err)
	}
	return p, nil
}
