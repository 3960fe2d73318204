package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noema-dev/noema-engine/pkg/apperrors"
	"github.com/noema-dev/noema-engine/pkg/events"
	"github.com/noema-dev/noema-engine/pkg/models"
	"github.com/noema-dev/noema-engine/pkg/policy"
)

// PendingCommand is one gated command awaiting review.
type PendingCommand struct {
	Event       models.Envelope `json:"event"`
	Reason      string          `json:"reason"`
	Source      string          `json:"source"`
	RequestedAt string          `json:"requested_at"`
}

// ValidationService is the approval surface for gated commands. Approving
// appends the .validated event that lets executors run; rejecting appends the
// terminal .denied event. Pending state is never stored separately: it is
// derived from the log, a .requested event with no follow-up.
type ValidationService interface {
	ListPending(ctx context.Context, userID uuid.UUID) ([]PendingCommand, error)
	Approve(ctx context.Context, userID, eventID uuid.UUID, note string) (*models.Event, error)
	Reject(ctx context.Context, userID, eventID uuid.UUID, note string) (*models.Event, error)
}

type validationService struct {
	store  events.Store
	policy *policy.Service
	logger *zap.Logger
}

// NewValidationService creates a new ValidationService.
func NewValidationService(store events.Store, policySvc *policy.Service, logger *zap.Logger) ValidationService {
	return &validationService{
		store:  store,
		policy: policySvc,
		logger: logger.Named("validation"),
	}
}

var _ ValidationService = (*validationService)(nil)

func (s *validationService) ListPending(ctx context.Context, userID uuid.UUID) ([]PendingCommand, error) {
	log, err := s.store.Query(ctx, events.Filter{UserID: userID})
	if err != nil {
		return nil, fmt.Errorf("failed to query event log: %w", err)
	}

	followed := followedRequests(log)

	var pending []PendingCommand
	for _, event := range log {
		typ, err := event.ParsedType()
		if err != nil || typ.Phase != models.PhaseRequested {
			continue
		}
		if followed[event.ID] {
			continue
		}

		decision := s.policy.Decide(ctx, event.AggregateType, typ.Action, event.UserID, commandWorkspace(event))
		if !decision.RequiresValidation {
			// Fast-path command the router has not picked up yet.
			continue
		}

		pending = append(pending, PendingCommand{
			Event:       models.NewEnvelope(event),
			Reason:      decision.Reason,
			Source:      string(decision.Source),
			RequestedAt: event.Timestamp.Format("2006-01-02T15:04:05.000Z07:00"),
		})
	}
	return pending, nil
}

func (s *validationService) Approve(ctx context.Context, userID, eventID uuid.UUID, note string) (*models.Event, error) {
	requested, err := s.pendingRequest(ctx, userID, eventID)
	if err != nil {
		return nil, err
	}

	validated := requested.Follow(models.PhaseValidated, models.SourceUser)
	validated.Metadata["validation"] = map[string]any{
		"fast_path":   false,
		"approved_by": userID.String(),
		"note":        note,
	}

	appended, err := s.store.Append(ctx, validated)
	if err != nil {
		return nil, fmt.Errorf("failed to append validated event: %w", err)
	}

	s.logger.Info("Command approved",
		zap.String("requested_id", requested.ID.String()),
		zap.String("validated_id", appended.ID.String()),
		zap.String("event_type", appended.Type))
	return appended, nil
}

func (s *validationService) Reject(ctx context.Context, userID, eventID uuid.UUID, note string) (*models.Event, error) {
	requested, err := s.pendingRequest(ctx, userID, eventID)
	if err != nil {
		return nil, err
	}

	denied := requested.Follow(models.PhaseDenied, models.SourceUser)
	denied.Metadata["validation"] = map[string]any{
		"rejected_by": userID.String(),
		"note":        note,
	}

	appended, err := s.store.Append(ctx, denied)
	if err != nil {
		return nil, fmt.Errorf("failed to append denied event: %w", err)
	}

	s.logger.Info("Command rejected",
		zap.String("requested_id", requested.ID.String()),
		zap.String("denied_id", appended.ID.String()),
		zap.String("event_type", appended.Type))
	return appended, nil
}

// pendingRequest loads a .requested event and verifies no follow-up exists.
// Acting twice on the same request, or racing another reviewer, returns
// ErrNotPending.
func (s *validationService) pendingRequest(ctx context.Context, userID, eventID uuid.UUID) (*models.Event, error) {
	requested, err := s.store.GetByID(ctx, userID, eventID)
	if err != nil {
		return nil, err
	}

	typ, err := requested.ParsedType()
	if err != nil {
		return nil, fmt.Errorf("event %s has malformed type: %w", eventID, err)
	}
	if typ.Phase != models.PhaseRequested {
		return nil, fmt.Errorf("event %s is not a request: %w", eventID, apperrors.ErrNotPending)
	}

	followUps, err := s.store.Query(ctx, events.Filter{
		UserID:      userID,
		AggregateID: &requested.AggregateID,
		Types: []string{
			fmt.Sprintf("%s.%s.%s", typ.Aggregate, typ.Action, models.PhaseValidated),
			fmt.Sprintf("%s.%s.%s", typ.Aggregate, typ.Action, models.PhaseDenied),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to check for prior review: %w", err)
	}
	for _, f := range followUps {
		if f.CausationID != nil && *f.CausationID == requested.ID {
			return nil, fmt.Errorf("request %s already reviewed: %w", eventID, apperrors.ErrNotPending)
		}
	}

	return requested, nil
}

// followedRequests collects the ids of .requested events that already have a
// .validated or .denied follow-up.
func followedRequests(log []*models.Event) map[uuid.UUID]bool {
	followed := make(map[uuid.UUID]bool)
	for _, event := range log {
		typ, err := event.ParsedType()
		if err != nil {
			continue
		}
		if typ.Phase != models.PhaseValidated && typ.Phase != models.PhaseDenied {
			continue
		}
		if event.CausationID != nil {
			followed[*event.CausationID] = true
		}
	}
	return followed
}

// commandWorkspace extracts the workspace a command is scoped to, mirroring
// how the router resolves policy for it.
func commandWorkspace(event *models.Event) *uuid.UUID {
	if event.AggregateType == models.AggregateWorkspace {
		id := event.AggregateID
		return &id
	}
	raw, ok := event.Data["workspace_id"].(string)
	if !ok || raw == "" {
		return nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil
	}
	return &id
}
