package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noema-dev/noema-engine/pkg/events"
	"github.com/noema-dev/noema-engine/pkg/models"
	"github.com/noema-dev/noema-engine/pkg/projections"
)

type passthroughScope struct{}

func (passthroughScope) WithTenantScope(ctx context.Context, userID uuid.UUID) (context.Context, func(), error) {
	return ctx, func() {}, nil
}

func TestRebuild_ReturnsStats(t *testing.T) {
	store := events.NewMemoryStore(zap.NewNop())
	engine, err := projections.NewEngine(zap.NewNop())
	require.NoError(t, err)
	replayer := projections.NewReplayer(store, passthroughScope{}, engine, zap.NewNop())

	userID := uuid.New()
	_, err = store.Append(context.Background(), &models.Event{
		Type:          "entities.create.validated",
		AggregateID:   uuid.New(),
		AggregateType: models.AggregateEntity,
		UserID:        userID,
		Timestamp:     time.Now(),
		Source:        models.SourceUser,
	})
	require.NoError(t, err)

	mux := http.NewServeMux()
	NewReplayHandler(replayer, zap.NewNop()).RegisterRoutes(mux, RequireUser(zap.NewNop()))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, authedRequest(http.MethodPost, "/api/projections/rebuild", nil, userID))

	require.Equal(t, http.StatusOK, rec.Code)

	var stats projections.ReplayStats
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&stats))
	// No projector is registered for the aggregate, so the event is skipped
	// rather than applied.
	assert.Equal(t, 0, stats.Applied)
	assert.Equal(t, 1, stats.Skipped)
}

func TestRebuild_RequiresUser(t *testing.T) {
	store := events.NewMemoryStore(zap.NewNop())
	engine, err := projections.NewEngine(zap.NewNop())
	require.NoError(t, err)
	replayer := projections.NewReplayer(store, passthroughScope{}, engine, zap.NewNop())

	mux := http.NewServeMux()
	NewReplayHandler(replayer, zap.NewNop()).RegisterRoutes(mux, RequireUser(zap.NewNop()))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/projections/rebuild", nil)
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
