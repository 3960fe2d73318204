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
	"github.com/noema-dev/noema-engine/pkg/policy"
	"github.com/noema-dev/noema-engine/pkg/registry"
)

type validationFixture struct {
	store    *events.MemoryStore
	commands CommandService
	svc      ValidationService
}

func newValidationFixture(t *testing.T) *validationFixture {
	t.Helper()
	store := events.NewMemoryStore(zap.NewNop())
	rules := registry.NewRuleRegistry()
	// No rules: every command hits the require-validation catch-all.
	policySvc := policy.NewService(rules, nil, zap.NewNop())
	return &validationFixture{
		store:    store,
		commands: NewCommandService(store, coreRegistry(t), zap.NewNop()),
		svc:      NewValidationService(store, policySvc, zap.NewNop()),
	}
}

func (fx *validationFixture) submit(t *testing.T, userID uuid.UUID) *models.Event {
	t.Helper()
	event, err := fx.commands.SubmitCommand(context.Background(), userID, SubmitCommandInput{
		AggregateType: models.AggregateEntity,
		Action:        models.ActionCreate,
		Data:          map[string]any{"title": "Athens"},
	})
	require.NoError(t, err)
	return event
}

func TestListPending_ShowsUnreviewedGatedCommands(t *testing.T) {
	fx := newValidationFixture(t)
	ctx := context.Background()
	userID := uuid.New()

	requested := fx.submit(t, userID)

	pending, err := fx.svc.ListPending(ctx, userID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, requested.ID, pending[0].Event.ID)
	assert.NotEmpty(t, pending[0].Reason)
	assert.NotEmpty(t, pending[0].RequestedAt)
}

func TestListPending_ExcludesReviewedCommands(t *testing.T) {
	fx := newValidationFixture(t)
	ctx := context.Background()
	userID := uuid.New()

	approved := fx.submit(t, userID)
	rejected := fx.submit(t, userID)
	open := fx.submit(t, userID)

	_, err := fx.svc.Approve(ctx, userID, approved.ID, "")
	require.NoError(t, err)
	_, err = fx.svc.Reject(ctx, userID, rejected.ID, "no")
	require.NoError(t, err)

	pending, err := fx.svc.ListPending(ctx, userID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, open.ID, pending[0].Event.ID)
}

func TestApprove_AppendsValidatedEvent(t *testing.T) {
	fx := newValidationFixture(t)
	ctx := context.Background()
	userID := uuid.New()

	requested := fx.submit(t, userID)

	validated, err := fx.svc.Approve(ctx, userID, requested.ID, "looks right")
	require.NoError(t, err)

	assert.Equal(t, "entities.create.validated", validated.Type)
	assert.Equal(t, requested.ID, *validated.CausationID)
	assert.Equal(t, requested.RequestID, validated.RequestID)
	assert.Equal(t, models.SourceUser, validated.Source)

	meta, ok := validated.Metadata["validation"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, false, meta["fast_path"])
	assert.Equal(t, userID.String(), meta["approved_by"])
	assert.Equal(t, "looks right", meta["note"])
}

func TestReject_AppendsDeniedEvent(t *testing.T) {
	fx := newValidationFixture(t)
	ctx := context.Background()
	userID := uuid.New()

	requested := fx.submit(t, userID)

	denied, err := fx.svc.Reject(ctx, userID, requested.ID, "wrong workspace")
	require.NoError(t, err)

	assert.Equal(t, "entities.create.denied", denied.Type)
	assert.Equal(t, requested.ID, *denied.CausationID)

	meta, ok := denied.Metadata["validation"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, userID.String(), meta["rejected_by"])
}

func TestReview_SecondReviewFailsNotPending(t *testing.T) {
	fx := newValidationFixture(t)
	ctx := context.Background()
	userID := uuid.New()

	requested := fx.submit(t, userID)

	_, err := fx.svc.Approve(ctx, userID, requested.ID, "")
	require.NoError(t, err)

	_, err = fx.svc.Approve(ctx, userID, requested.ID, "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrNotPending))

	_, err = fx.svc.Reject(ctx, userID, requested.ID, "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrNotPending))
}

func TestReview_NonRequestEventFailsNotPending(t *testing.T) {
	fx := newValidationFixture(t)
	ctx := context.Background()
	userID := uuid.New()

	requested := fx.submit(t, userID)
	validated, err := fx.svc.Approve(ctx, userID, requested.ID, "")
	require.NoError(t, err)

	_, err = fx.svc.Approve(ctx, userID, validated.ID, "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrNotPending))
}

func TestReview_OtherUsersEventNotFound(t *testing.T) {
	fx := newValidationFixture(t)
	ctx := context.Background()
	alice := uuid.New()
	bob := uuid.New()

	requested := fx.submit(t, alice)

	_, err := fx.svc.Approve(ctx, bob, requested.ID, "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
}
