package services

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noema-dev/noema-engine/pkg/apperrors"
	"github.com/noema-dev/noema-engine/pkg/events"
	"github.com/noema-dev/noema-engine/pkg/models"
)

func newInsightFixture(t *testing.T) (InsightService, *events.MemoryStore) {
	t.Helper()
	store := events.NewMemoryStore(zap.NewNop())
	commands := NewCommandService(store, coreRegistry(t), zap.NewNop())
	return NewInsightService(commands, zap.NewNop()), store
}

func TestSubmitInsight_SharedCorrelation(t *testing.T) {
	svc, store := newInsightFixture(t)
	ctx := context.Background()
	userID := uuid.New()

	result, err := svc.SubmitInsight(ctx, userID, Insight{
		Agent:   "summarizer",
		Summary: "two entities found in a note",
		Actions: []InsightAction{
			{AggregateType: models.AggregateEntity, Action: models.ActionCreate, Data: map[string]any{"title": "Plato"}},
			{AggregateType: models.AggregateEntity, Action: models.ActionCreate, Data: map[string]any{"title": "Socrates"}},
		},
	})
	require.NoError(t, err)
	assert.Len(t, result.RequestIDs, 2)

	appended, err := store.Query(ctx, events.Filter{UserID: userID})
	require.NoError(t, err)
	require.Len(t, appended, 2)

	for _, event := range appended {
		assert.Equal(t, result.CorrelationID, event.CorrelationID)
		assert.Equal(t, models.SourceAIAgent, event.Source)

		insight, ok := event.Metadata["insight"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "summarizer", insight["agent"])
	}
}

func TestSubmitInsight_AllOrNothingValidation(t *testing.T) {
	svc, store := newInsightFixture(t)
	ctx := context.Background()
	userID := uuid.New()

	_, err := svc.SubmitInsight(ctx, userID, Insight{
		Agent: "summarizer",
		Actions: []InsightAction{
			{AggregateType: models.AggregateEntity, Action: models.ActionCreate, Data: map[string]any{"title": "Plato"}},
			{AggregateType: models.AggregateEntity, Action: models.ActionCreate, Data: map[string]any{"bogus_field": 1}},
		},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrValidation))

	// The valid first action must not have been appended.
	appended, err := store.Query(ctx, events.Filter{UserID: userID})
	require.NoError(t, err)
	assert.Empty(t, appended)
}

func TestSubmitInsight_RequiresAgentAndActions(t *testing.T) {
	svc, _ := newInsightFixture(t)
	ctx := context.Background()
	userID := uuid.New()

	_, err := svc.SubmitInsight(ctx, userID, Insight{
		Actions: []InsightAction{{AggregateType: models.AggregateTag, Action: models.ActionCreate, Data: map[string]any{"name": "x"}}},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrValidation))

	_, err = svc.SubmitInsight(ctx, userID, Insight{Agent: "summarizer"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrValidation))
}
