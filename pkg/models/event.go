// Package models contains domain types for noema-engine.
package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EventSource identifies what kind of actor produced an event.
type EventSource string

// Event source constants.
const (
	SourceUser    EventSource = "user"     // Direct user action via the UI
	SourceSystem  EventSource = "system"   // Internal engine activity
	SourceAIAgent EventSource = "ai_agent" // Proposed by an external intelligence agent
	SourceAPI     EventSource = "api"      // Programmatic API client
)

// String returns the string representation of an EventSource.
func (s EventSource) String() string {
	return string(s)
}

// IsValid returns true if the source is a known event source.
func (s EventSource) IsValid() bool {
	switch s {
	case SourceUser, SourceSystem, SourceAIAgent, SourceAPI:
		return true
	default:
		return false
	}
}

// Command actions. Every mutation flowing through the pipeline is one of these.
const (
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionDelete = "delete"
)

// Command phases. A command instance moves requested -> validated|denied,
// then validated -> completed|failed. denied, completed and failed are terminal.
const (
	PhaseRequested = "requested"
	PhaseValidated = "validated"
	PhaseDenied    = "denied"
	PhaseCompleted = "completed"
	PhaseFailed    = "failed"
)

// Event is one immutable entry in the event log. Once appended it is never
// updated or deleted; corrections are new events linked via CausationID.
type Event struct {
	ID            uuid.UUID      `json:"id"`
	Sequence      int64          `json:"sequence"`
	Type          string         `json:"type"`
	AggregateID   uuid.UUID      `json:"aggregate_id"`
	AggregateType string         `json:"aggregate_type"`
	UserID        uuid.UUID      `json:"user_id"`
	Data          map[string]any `json:"data,omitempty"`
	Source        EventSource    `json:"source"`
	Timestamp     time.Time      `json:"timestamp"`
	CausationID   *uuid.UUID     `json:"causation_id,omitempty"`
	CorrelationID uuid.UUID      `json:"correlation_id"`
	RequestID     uuid.UUID      `json:"request_id"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// EventType is a parsed dot-namespaced event type: {aggregate}.{action}.{phase}.
type EventType struct {
	Aggregate string
	Action    string
	Phase     string
}

// String reassembles the dot-namespaced type string.
func (t EventType) String() string {
	return t.Aggregate + "." + t.Action + "." + t.Phase
}

// ParseEventType splits a type string like "entities.create.requested" into
// its aggregate, action and phase parts.
func ParseEventType(s string) (EventType, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return EventType{}, fmt.Errorf("malformed event type %q: want {aggregate}.{action}.{phase}", s)
	}

	t := EventType{Aggregate: parts[0], Action: parts[1], Phase: parts[2]}

	switch t.Action {
	case ActionCreate, ActionUpdate, ActionDelete:
	default:
		return EventType{}, fmt.Errorf("unknown action %q in event type %q", t.Action, s)
	}

	switch t.Phase {
	case PhaseRequested, PhaseValidated, PhaseDenied, PhaseCompleted, PhaseFailed:
	default:
		return EventType{}, fmt.Errorf("unknown phase %q in event type %q", t.Phase, s)
	}

	return t, nil
}

// ParsedType parses the event's Type field.
func (e *Event) ParsedType() (EventType, error) {
	return ParseEventType(e.Type)
}

// Follow builds a new event in the same workflow, one phase further along.
// The new event keeps the aggregate identity, data and request id of its
// cause, sets CausationID to the cause's id, and inherits the correlation id
// (falling back to the cause's own id for root events).
func (e *Event) Follow(phase string, source EventSource) *Event {
	typ, _ := ParseEventType(e.Type)
	typ.Phase = phase

	causation := e.ID
	correlation := e.CorrelationID
	if correlation == uuid.Nil {
		correlation = e.ID
	}

	return &Event{
		ID:            uuid.New(),
		Type:          typ.String(),
		AggregateID:   e.AggregateID,
		AggregateType: e.AggregateType,
		UserID:        e.UserID,
		Data:          e.Data,
		Source:        source,
		Timestamp:     time.Now().UTC(),
		CausationID:   &causation,
		CorrelationID: correlation,
		RequestID:     e.RequestID,
		Metadata:      map[string]any{},
	}
}

// Envelope is the public-safe view of an event pushed to real-time
// subscribers. Internal metadata is deliberately omitted.
type Envelope struct {
	ID            uuid.UUID      `json:"id"`
	Type          string         `json:"type"`
	Timestamp     time.Time      `json:"timestamp"`
	UserID        uuid.UUID      `json:"userId"`
	AggregateID   uuid.UUID      `json:"aggregateId"`
	Data          map[string]any `json:"data,omitempty"`
	CorrelationID uuid.UUID      `json:"correlationId"`
	CausationID   *uuid.UUID     `json:"causationId,omitempty"`
}

// NewEnvelope builds the subscriber-facing view of an event.
func NewEnvelope(e *Event) Envelope {
	return Envelope{
		ID:            e.ID,
		Type:          e.Type,
		Timestamp:     e.Timestamp,
		UserID:        e.UserID,
		AggregateID:   e.AggregateID,
		Data:          e.Data,
		CorrelationID: e.CorrelationID,
		CausationID:   e.CausationID,
	}
}
