// Package registry holds the boot-time extension points of the command
// pipeline: one registry for executors and one for validation rules. Both
// are constructed once at process start and passed by reference; there is no
// package-level mutable state. Duplicate registration fails loudly so a
// plugin cannot silently shadow a core handler.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/jinzhu/inflection"

	"github.com/noema-dev/noema-engine/pkg/apperrors"
	"github.com/noema-dev/noema-engine/pkg/models"
)

// SourceCore marks registrations made by the engine itself; plugins register
// under their own name.
const SourceCore = "core"

// Metadata describes who registered an extension and at what version.
type Metadata struct {
	Version string
	Source  string
}

// StreamName returns the plural event-stream prefix for an aggregate type,
// e.g. "entity" -> "entities". Event types use the plural form
// ("entities.create.requested") while aggregate_type columns store the
// singular.
func StreamName(aggregateType string) string {
	return inflection.Plural(aggregateType)
}

// AggregateType returns the singular aggregate type for an event-stream
// prefix, e.g. "entities" -> "entity".
func AggregateType(streamName string) string {
	return inflection.Singular(streamName)
}

// ExecutorHandler performs the read-model mutation for one validated command.
type ExecutorHandler interface {
	// Handle processes a {aggregate}.{action}.validated event. It must be
	// idempotent: the dispatch substrate delivers at least once.
	Handle(ctx context.Context, event *models.Event) error
}

type executorEntry struct {
	handler ExecutorHandler
	meta    Metadata
}

// ExecutorRegistry maps aggregate types to their executors.
type ExecutorRegistry struct {
	mu      sync.RWMutex
	entries map[string]executorEntry
}

// NewExecutorRegistry creates an empty executor registry.
func NewExecutorRegistry() *ExecutorRegistry {
	return &ExecutorRegistry{entries: make(map[string]executorEntry)}
}

// Register adds an executor for an aggregate type. Registering the same
// aggregate twice fails so conflicts surface at boot, not at dispatch time.
func (r *ExecutorRegistry) Register(aggregateType string, handler ExecutorHandler, meta Metadata) error {
	if aggregateType == "" {
		return fmt.Errorf("executor registration requires an aggregate type")
	}
	if handler == nil {
		return fmt.Errorf("executor registration for %q requires a handler", aggregateType)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.entries[aggregateType]; ok {
		return fmt.Errorf("executor for %q already registered by %q: %w",
			aggregateType, existing.meta.Source, apperrors.ErrDuplicateRegistration)
	}

	r.entries[aggregateType] = executorEntry{handler: handler, meta: meta}
	return nil
}

// Get returns the executor for an aggregate type.
func (r *ExecutorRegistry) Get(aggregateType string) (ExecutorHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[aggregateType]
	return entry.handler, ok
}

// Meta returns the registration metadata for an aggregate type.
func (r *ExecutorRegistry) Meta(aggregateType string) (Metadata, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[aggregateType]
	return entry.meta, ok
}

// AggregateTypes returns the registered aggregate types, sorted.
func (r *ExecutorRegistry) AggregateTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.entries))
	for t := range r.entries {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// ValidationRule decides whether a (aggregate, action) pair requires the
// validation gate. Rules sit at global-default priority: below the system
// override for deletes and below workspace preferences.
type ValidationRule struct {
	RequiresValidation bool
	Reason             string
}

type ruleEntry struct {
	rule ValidationRule
	meta Metadata
}

// RuleRegistry maps (aggregate type, action) pairs to validation rules.
type RuleRegistry struct {
	mu      sync.RWMutex
	entries map[string]map[string]ruleEntry
}

// NewRuleRegistry creates an empty validation-rule registry.
func NewRuleRegistry() *RuleRegistry {
	return &RuleRegistry{entries: make(map[string]map[string]ruleEntry)}
}

// Register adds a validation rule for an (aggregate, action) pair.
// Duplicates fail loudly at boot.
func (r *RuleRegistry) Register(aggregateType, action string, rule ValidationRule, meta Metadata) error {
	if aggregateType == "" || action == "" {
		return fmt.Errorf("validation rule registration requires aggregate type and action")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	actions, ok := r.entries[aggregateType]
	if !ok {
		actions = make(map[string]ruleEntry)
		r.entries[aggregateType] = actions
	}

	if existing, ok := actions[action]; ok {
		return fmt.Errorf("validation rule for %s.%s already registered by %q: %w",
			aggregateType, action, existing.meta.Source, apperrors.ErrDuplicateRegistration)
	}

	actions[action] = ruleEntry{rule: rule, meta: meta}
	return nil
}

// Get returns the rule for an (aggregate, action) pair.
func (r *RuleRegistry) Get(aggregateType, action string) (ValidationRule, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[aggregateType][action]
	return entry.rule, ok
}
