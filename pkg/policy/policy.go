// Package policy implements the validation policy service: the pure decision
// function that determines whether a requested mutation must pass the
// validation gate before execution.
package policy

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noema-dev/noema-engine/pkg/models"
	"github.com/noema-dev/noema-engine/pkg/registry"
)

// DecisionSource identifies which resolution layer produced a decision.
type DecisionSource string

// Decision sources, highest priority first.
const (
	SourceSystemOverride      DecisionSource = "system-override"
	SourceWorkspacePreference DecisionSource = "workspace-preference"
	SourceGlobalDefault       DecisionSource = "global-default"
)

// Decision is the outcome of a validation policy lookup. It is computed per
// request and never persisted.
type Decision struct {
	RequiresValidation bool           `json:"requires_validation"`
	Reason             string         `json:"reason"`
	Source             DecisionSource `json:"source"`
}

// WorkspaceSettingsReader looks up the settings blob of a workspace. The one
// side effect the policy service is allowed: a read of current workspace
// configuration.
type WorkspaceSettingsReader interface {
	GetSettings(ctx context.Context, userID, workspaceID uuid.UUID) (map[string]any, error)
}

// Service resolves validation decisions. Resolution order, highest priority
// first: system override (deletes are always gated unless the global rule
// table explicitly fast-paths that table's delete), workspace preference,
// global default with a require-validation catch-all.
type Service struct {
	rules      *registry.RuleRegistry
	workspaces WorkspaceSettingsReader
	logger     *zap.Logger
}

// NewService creates a validation policy service. workspaces may be nil when
// no workspace-scoped overrides are available (e.g. in tests).
func NewService(rules *registry.RuleRegistry, workspaces WorkspaceSettingsReader, logger *zap.Logger) *Service {
	return &Service{
		rules:      rules,
		workspaces: workspaces,
		logger:     logger.Named("validation-policy"),
	}
}

// Decide returns the validation decision for one operation. Deterministic
// given the same inputs and current workspace configuration.
func (s *Service) Decide(ctx context.Context, aggregateType, action string, userID uuid.UUID, workspaceID *uuid.UUID) Decision {
	table := registry.StreamName(aggregateType)

	// Deletes are gated by system override. Only an explicit fast-path entry
	// in the global rule table can relax this; workspace preferences cannot.
	if action == models.ActionDelete {
		if rule, ok := s.rules.Get(aggregateType, action); ok && !rule.RequiresValidation {
			reason := rule.Reason
			if reason == "" {
				reason = fmt.Sprintf("%s.delete is explicitly fast-pathed", table)
			}
			return Decision{RequiresValidation: false, Reason: reason, Source: SourceGlobalDefault}
		}
		return Decision{
			RequiresValidation: true,
			Reason:             "delete operations always require validation",
			Source:             SourceSystemOverride,
		}
	}

	// Workspace preference wins over the global default for non-deletes.
	if workspaceID != nil && s.workspaces != nil {
		if override, ok := s.workspaceOverride(ctx, userID, *workspaceID, table, action); ok {
			return Decision{
				RequiresValidation: override,
				Reason:             fmt.Sprintf("workspace preference for %s.%s", table, action),
				Source:             SourceWorkspacePreference,
			}
		}
	}

	if rule, ok := s.rules.Get(aggregateType, action); ok {
		reason := rule.Reason
		if reason == "" {
			reason = fmt.Sprintf("global default for %s.%s", table, action)
		}
		return Decision{RequiresValidation: rule.RequiresValidation, Reason: reason, Source: SourceGlobalDefault}
	}

	// Safety-first catch-all: unlisted types require validation.
	return Decision{
		RequiresValidation: true,
		Reason:             fmt.Sprintf("no policy entry for %s.%s", table, action),
		Source:             SourceGlobalDefault,
	}
}

// workspaceOverride reads settings.validation.{table}.{action} from the
// workspace settings blob. A lookup failure falls through to the global
// default rather than failing the command.
func (s *Service) workspaceOverride(ctx context.Context, userID, workspaceID uuid.UUID, table, action string) (bool, bool) {
	settings, err := s.workspaces.GetSettings(ctx, userID, workspaceID)
	if err != nil {
		s.logger.Warn("Failed to load workspace settings for policy decision",
			zap.String("workspace_id", workspaceID.String()),
			zap.Error(err))
		return false, false
	}

	validation, ok := settings["validation"].(map[string]any)
	if !ok {
		return false, false
	}
	tableSettings, ok := validation[table].(map[string]any)
	if !ok {
		return false, false
	}
	override, ok := tableSettings[action].(bool)
	return override, ok
}
