// Package services holds the application services behind the HTTP surface:
// command submission, the validation surface and insight intake. Services
// validate input, append events and read projections; all pipeline progress
// happens asynchronously behind the event store.
package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noema-dev/noema-engine/pkg/apperrors"
	"github.com/noema-dev/noema-engine/pkg/events"
	"github.com/noema-dev/noema-engine/pkg/models"
	"github.com/noema-dev/noema-engine/pkg/registry"
)

// SubmitCommandInput describes one command to run through the pipeline.
type SubmitCommandInput struct {
	AggregateType string
	Action        string
	AggregateID   *uuid.UUID
	Data          map[string]any
	Source        models.EventSource
	CorrelationID uuid.UUID
	Metadata      map[string]any
}

// CommandService accepts commands into the pipeline.
type CommandService interface {
	// SubmitCommand validates the command payload, assigns the aggregate id
	// for creates and appends the .requested event. The returned event's
	// RequestID is the caller's handle for tracking the command's fate.
	SubmitCommand(ctx context.Context, userID uuid.UUID, input SubmitCommandInput) (*models.Event, error)
}

type commandService struct {
	store     events.Store
	executors *registry.ExecutorRegistry
	logger    *zap.Logger
}

// NewCommandService creates a new CommandService.
func NewCommandService(store events.Store, executors *registry.ExecutorRegistry, logger *zap.Logger) CommandService {
	return &commandService{
		store:     store,
		executors: executors,
		logger:    logger.Named("commands"),
	}
}

var _ CommandService = (*commandService)(nil)

func (s *commandService) SubmitCommand(ctx context.Context, userID uuid.UUID, input SubmitCommandInput) (*models.Event, error) {
	if userID == uuid.Nil {
		return nil, fmt.Errorf("user id is required: %w", apperrors.ErrValidation)
	}
	if _, ok := s.executors.Get(input.AggregateType); !ok {
		return nil, fmt.Errorf("unknown aggregate type %q: %w", input.AggregateType, apperrors.ErrValidation)
	}

	switch input.Action {
	case models.ActionCreate, models.ActionUpdate, models.ActionDelete:
	default:
		return nil, fmt.Errorf("unknown action %q: %w", input.Action, apperrors.ErrValidation)
	}

	source := input.Source
	if source == "" {
		source = models.SourceUser
	}
	if !source.IsValid() {
		return nil, fmt.Errorf("unknown event source %q: %w", input.Source, apperrors.ErrValidation)
	}

	if err := validatePayload(input.AggregateType, input.Action, input.Data); err != nil {
		return nil, err
	}

	aggregateID, err := resolveAggregateID(input)
	if err != nil {
		return nil, err
	}

	event := &models.Event{
		Type:          registry.StreamName(input.AggregateType) + "." + input.Action + "." + models.PhaseRequested,
		AggregateID:   aggregateID,
		AggregateType: input.AggregateType,
		UserID:        userID,
		Data:          input.Data,
		Source:        source,
		CorrelationID: input.CorrelationID,
		Metadata:      input.Metadata,
	}

	appended, err := s.store.Append(ctx, event)
	if err != nil {
		return nil, fmt.Errorf("failed to append requested event: %w", err)
	}

	s.logger.Info("Command accepted",
		zap.String("event_type", appended.Type),
		zap.String("aggregate_id", appended.AggregateID.String()),
		zap.String("request_id", appended.RequestID.String()),
		zap.String("source", source.String()))
	return appended, nil
}

// resolveAggregateID pre-assigns the aggregate id for creates so the
// resulting projection upsert has a stable idempotency key. Updates and
// deletes must target an existing aggregate.
func resolveAggregateID(input SubmitCommandInput) (uuid.UUID, error) {
	if input.AggregateID != nil && *input.AggregateID != uuid.Nil {
		return *input.AggregateID, nil
	}
	if input.Action == models.ActionCreate {
		return uuid.New(), nil
	}
	return uuid.Nil, fmt.Errorf("%s requires an aggregate id: %w", input.Action, apperrors.ErrValidation)
}

// validatePayload rejects malformed command data before anything reaches the
// log. The log is append-only: a bad payload caught here costs nothing, one
// caught later is a permanent audit-trail entry.
func validatePayload(aggregateType, action string, data map[string]any) error {
	if action == models.ActionDelete {
		if _, err := models.DecodeDeletePayload(data); err != nil {
			return fmt.Errorf("%s: %w", err, apperrors.ErrValidation)
		}
		return nil
	}

	switch aggregateType {
	case models.AggregateEntity:
		payload, err := models.DecodeEntityPayload(data)
		if err != nil {
			return fmt.Errorf("%s: %w", err, apperrors.ErrValidation)
		}
		if action == models.ActionCreate && payload.Title == "" {
			return fmt.Errorf("entity title is required: %w", apperrors.ErrValidation)
		}
	case models.AggregateDocument:
		payload, err := models.DecodeDocumentPayload(data)
		if err != nil {
			return fmt.Errorf("%s: %w", err, apperrors.ErrValidation)
		}
		if action == models.ActionCreate && payload.Title == "" {
			return fmt.Errorf("document title is required: %w", apperrors.ErrValidation)
		}
	case models.AggregateWorkspace:
		payload, err := models.DecodeWorkspacePayload(data)
		if err != nil {
			return fmt.Errorf("%s: %w", err, apperrors.ErrValidation)
		}
		if action == models.ActionCreate && payload.Name == "" {
			return fmt.Errorf("workspace name is required: %w", apperrors.ErrValidation)
		}
	case models.AggregateProject:
		payload, err := models.DecodeProjectPayload(data)
		if err != nil {
			return fmt.Errorf("%s: %w", err, apperrors.ErrValidation)
		}
		if action == models.ActionCreate && payload.Name == "" {
			return fmt.Errorf("project name is required: %w", apperrors.ErrValidation)
		}
	case models.AggregateRelation:
		payload, err := models.DecodeRelationPayload(data)
		if err != nil {
			return fmt.Errorf("%s: %w", err, apperrors.ErrValidation)
		}
		if action == models.ActionCreate && (payload.FromID == nil || payload.ToID == nil) {
			return fmt.Errorf("relation endpoints are required: %w", apperrors.ErrValidation)
		}
	case models.AggregateTag:
		payload, err := models.DecodeTagPayload(data)
		if err != nil {
			return fmt.Errorf("%s: %w", err, apperrors.ErrValidation)
		}
		if action == models.ActionCreate && payload.Name == "" {
			return fmt.Errorf("tag name is required: %w", apperrors.ErrValidation)
		}
	default:
		// Plugin-registered aggregate: the executor owns payload validation.
	}
	return nil
}
