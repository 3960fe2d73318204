package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noema-dev/noema-engine/pkg/apperrors"
	"github.com/noema-dev/noema-engine/pkg/models"
)

// InsightAction is one proposed mutation inside an insight.
type InsightAction struct {
	AggregateType string         `json:"aggregate_type"`
	Action        string         `json:"action"`
	AggregateID   *uuid.UUID     `json:"aggregate_id,omitempty"`
	Data          map[string]any `json:"data,omitempty"`
}

// Insight is a batch of proposed mutations from an external intelligence
// agent. Each action becomes its own command; the shared correlation id ties
// the batch together in the audit trail.
type Insight struct {
	Agent   string          `json:"agent"`
	Summary string          `json:"summary,omitempty"`
	Actions []InsightAction `json:"actions"`
}

// InsightResult reports what happened to a submitted insight.
type InsightResult struct {
	CorrelationID uuid.UUID   `json:"correlation_id"`
	RequestIDs    []uuid.UUID `json:"request_ids"`
}

// InsightService turns agent insights into pipeline commands. Agent-sourced
// commands carry SourceAIAgent and flow through the same validation policy as
// everything else; nothing an agent proposes bypasses the gate.
type InsightService interface {
	SubmitInsight(ctx context.Context, userID uuid.UUID, insight Insight) (*InsightResult, error)
}

type insightService struct {
	commands CommandService
	logger   *zap.Logger
}

// NewInsightService creates a new InsightService.
func NewInsightService(commands CommandService, logger *zap.Logger) InsightService {
	return &insightService{
		commands: commands,
		logger:   logger.Named("insights"),
	}
}

var _ InsightService = (*insightService)(nil)

func (s *insightService) SubmitInsight(ctx context.Context, userID uuid.UUID, insight Insight) (*InsightResult, error) {
	if insight.Agent == "" {
		return nil, fmt.Errorf("insight agent is required: %w", apperrors.ErrValidation)
	}
	if len(insight.Actions) == 0 {
		return nil, fmt.Errorf("insight has no actions: %w", apperrors.ErrValidation)
	}

	correlation := uuid.New()
	result := &InsightResult{CorrelationID: correlation}

	// All-or-nothing validation before any append: a half-accepted insight
	// would leave the agent unable to retry the batch safely.
	for i, action := range insight.Actions {
		if err := validatePayload(action.AggregateType, action.Action, action.Data); err != nil {
			return nil, fmt.Errorf("action %d: %w", i, err)
		}
	}

	for _, action := range insight.Actions {
		event, err := s.commands.SubmitCommand(ctx, userID, SubmitCommandInput{
			AggregateType: action.AggregateType,
			Action:        action.Action,
			AggregateID:   action.AggregateID,
			Data:          action.Data,
			Source:        models.SourceAIAgent,
			CorrelationID: correlation,
			Metadata: map[string]any{
				"insight": map[string]any{
					"agent":   insight.Agent,
					"summary": insight.Summary,
				},
			},
		})
		if err != nil {
			return result, fmt.Errorf("failed to submit insight action: %w", err)
		}
		result.RequestIDs = append(result.RequestIDs, event.RequestID)
	}

	s.logger.Info("Insight accepted",
		zap.String("agent", insight.Agent),
		zap.String("correlation_id", correlation.String()),
		zap.Int("actions", len(insight.Actions)))
	return result, nil
}
