// Package router implements the command router: the state machine that moves
// a command from requested to validated (fast path) or leaves it pending for
// an external approval actor. denied, completed and failed transitions are
// produced elsewhere (validation surface, executors, dispatcher).
package router

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noema-dev/noema-engine/pkg/events"
	"github.com/noema-dev/noema-engine/pkg/models"
	"github.com/noema-dev/noema-engine/pkg/policy"
)

// CommandRouter reacts to .requested events. Fast-path commands are
// immediately promoted to .validated; gated commands stay pending until the
// approval actor (the validation surface) acts on them.
type CommandRouter struct {
	store  events.Store
	policy *policy.Service
	logger *zap.Logger
}

// New creates a command router.
func New(store events.Store, policySvc *policy.Service, logger *zap.Logger) *CommandRouter {
	return &CommandRouter{
		store:  store,
		policy: policySvc,
		logger: logger.Named("command-router"),
	}
}

// Name implements dispatch.Handler.
func (r *CommandRouter) Name() string { return "command-router" }

// Handle processes one .requested event. Idempotent: if a follow-up event
// already exists for this request, nothing is emitted again.
func (r *CommandRouter) Handle(ctx context.Context, event *models.Event) error {
	typ, err := event.ParsedType()
	if err != nil {
		return fmt.Errorf("router received malformed event type: %w", err)
	}
	if typ.Phase != models.PhaseRequested {
		return nil
	}

	routed, err := r.alreadyRouted(ctx, event)
	if err != nil {
		return err
	}
	if routed {
		r.logger.Debug("Command already routed, skipping redelivery",
			zap.String("event_id", event.ID.String()))
		return nil
	}

	decision := r.policy.Decide(ctx, event.AggregateType, typ.Action, event.UserID, workspaceScope(event))

	if decision.RequiresValidation {
		r.logger.Info("Command gated for validation",
			zap.String("event_id", event.ID.String()),
			zap.String("event_type", event.Type),
			zap.String("reason", decision.Reason),
			zap.String("decision_source", string(decision.Source)))
		return nil
	}

	validated := event.Follow(models.PhaseValidated, models.SourceSystem)
	validated.Metadata["validation"] = map[string]any{
		"fast_path": true,
		"reason":    decision.Reason,
		"source":    string(decision.Source),
	}

	if _, err := r.store.Append(ctx, validated); err != nil {
		return fmt.Errorf("failed to append validated event: %w", err)
	}

	r.logger.Info("Command fast-tracked to validated",
		zap.String("requested_id", event.ID.String()),
		zap.String("validated_id", validated.ID.String()),
		zap.String("event_type", validated.Type))
	return nil
}

// alreadyRouted reports whether a .validated or .denied event caused by this
// request already exists. Guards against at-least-once redelivery of the
// .requested event.
func (r *CommandRouter) alreadyRouted(ctx context.Context, event *models.Event) (bool, error) {
	typ, _ := event.ParsedType()
	stream := typ.Aggregate

	followUps, err := r.store.Query(ctx, events.Filter{
		UserID: event.UserID,
		Types: []string{
			fmt.Sprintf("%s.%s.%s", stream, typ.Action, models.PhaseValidated),
			fmt.Sprintf("%s.%s.%s", stream, typ.Action, models.PhaseDenied),
		},
		AggregateID: &event.AggregateID,
	})
	if err != nil {
		return false, fmt.Errorf("failed to check for prior routing: %w", err)
	}

	for _, f := range followUps {
		if f.CausationID != nil && *f.CausationID == event.ID {
			return true, nil
		}
	}
	return false, nil
}

// workspaceScope extracts the workspace id a command is scoped to, if any.
// Workspace-scoped payloads carry a workspace_id field; commands on the
// workspace aggregate itself are scoped to their own aggregate id.
func workspaceScope(event *models.Event) *uuid.UUID {
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
