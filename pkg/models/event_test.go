package models

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEventType(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		expectError bool
		aggregate   string
		action      string
		phase       string
	}{
		{
			name:      "valid create requested",
			input:     "entities.create.requested",
			aggregate: "entities",
			action:    "create",
			phase:     "requested",
		},
		{
			name:      "valid delete completed",
			input:     "workspaces.delete.completed",
			aggregate: "workspaces",
			action:    "delete",
			phase:     "completed",
		},
		{
			name:        "too few parts",
			input:       "entities.create",
			expectError: true,
		},
		{
			name:        "too many parts",
			input:       "entities.create.requested.extra",
			expectError: true,
		},
		{
			name:        "unknown action",
			input:       "entities.merge.requested",
			expectError: true,
		},
		{
			name:        "unknown phase",
			input:       "entities.create.pending",
			expectError: true,
		},
		{
			name:        "empty string",
			input:       "",
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			typ, err := ParseEventType(tt.input)
			if tt.expectError {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.aggregate, typ.Aggregate)
			assert.Equal(t, tt.action, typ.Action)
			assert.Equal(t, tt.phase, typ.Phase)
			assert.Equal(t, tt.input, typ.String())
		})
	}
}

func TestFollow(t *testing.T) {
	userID := uuid.New()
	requested := &Event{
		ID:            uuid.New(),
		Type:          "entities.create.requested",
		AggregateID:   uuid.New(),
		AggregateType: AggregateEntity,
		UserID:        userID,
		Data:          map[string]any{"title": "Note"},
		Source:        SourceUser,
		CorrelationID: uuid.New(),
		RequestID:     uuid.New(),
	}

	validated := requested.Follow(PhaseValidated, SourceSystem)

	assert.NotEqual(t, requested.ID, validated.ID)
	assert.Equal(t, "entities.create.validated", validated.Type)
	assert.Equal(t, requested.AggregateID, validated.AggregateID)
	assert.Equal(t, requested.AggregateType, validated.AggregateType)
	assert.Equal(t, userID, validated.UserID)
	assert.Equal(t, requested.Data, validated.Data)
	assert.Equal(t, SourceSystem, validated.Source)
	require.NotNil(t, validated.CausationID)
	assert.Equal(t, requested.ID, *validated.CausationID)
	assert.Equal(t, requested.CorrelationID, validated.CorrelationID)
	assert.Equal(t, requested.RequestID, validated.RequestID)
}

func TestFollow_RootCorrelationFallback(t *testing.T) {
	requested := &Event{
		ID:            uuid.New(),
		Type:          "tags.create.requested",
		AggregateID:   uuid.New(),
		AggregateType: AggregateTag,
		UserID:        uuid.New(),
		Source:        SourceUser,
	}

	validated := requested.Follow(PhaseValidated, SourceSystem)

	// A root event with no correlation correlates the chain with itself.
	assert.Equal(t, requested.ID, validated.CorrelationID)
}

func TestEventSourceIsValid(t *testing.T) {
	for _, source := range []EventSource{SourceUser, SourceSystem, SourceAIAgent, SourceAPI} {
		assert.True(t, source.IsValid(), "source %q should be valid", source)
	}
	assert.False(t, EventSource("robot").IsValid())
	assert.False(t, EventSource("").IsValid())
}

func TestCascadeReportEmpty(t *testing.T) {
	var nilReport *CascadeReport
	assert.True(t, nilReport.Empty())
	assert.True(t, (&CascadeReport{}).Empty())

	docID := uuid.New()
	assert.False(t, (&CascadeReport{DocumentID: &docID}).Empty())
	assert.False(t, (&CascadeReport{Relations: []uuid.UUID{uuid.New()}}).Empty())
	assert.False(t, (&CascadeReport{BlobPaths: []string{"a/b"}}).Empty())
}
