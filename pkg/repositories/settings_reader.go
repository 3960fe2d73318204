package repositories

import (
	"context"

	"github.com/google/uuid"

	"github.com/noema-dev/noema-engine/pkg/database"
)

// ScopedSettingsReader adapts the workspace repository for callers that run
// outside a request's tenant scope (the command router reacting to dispatched
// events). It mints a fresh tenant scope per lookup.
type ScopedSettingsReader struct {
	provider   *database.TenantScopeProvider
	workspaces WorkspaceRepository
}

// NewScopedSettingsReader creates a settings reader over the given provider
// and workspace repository.
func NewScopedSettingsReader(provider *database.TenantScopeProvider, workspaces WorkspaceRepository) *ScopedSettingsReader {
	return &ScopedSettingsReader{provider: provider, workspaces: workspaces}
}

// GetSettings returns the workspace's settings blob, scoped to the user.
func (r *ScopedSettingsReader) GetSettings(ctx context.Context, userID, workspaceID uuid.UUID) (map[string]any, error) {
	scopedCtx, cleanup, err := r.provider.WithTenantScope(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	return r.workspaces.GetSettings(scopedCtx, userID, workspaceID)
}
