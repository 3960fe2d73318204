package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/noema-dev/noema-engine/pkg/apperrors"
	"github.com/noema-dev/noema-engine/pkg/database"
	"github.com/noema-dev/noema-engine/pkg/models"
)

// PostgresStore is the durable event store backed by the events table.
// The table is append-only: no UPDATE or DELETE path exists for event rows,
// only the dispatch bookkeeping columns are ever touched after insert.
type PostgresStore struct {
	db     *database.DB
	logger *zap.Logger

	hooks []Hook
}

// NewPostgresStore creates an event store on the given database.
func NewPostgresStore(db *database.DB, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{
		db:     db,
		logger: logger.Named("event-store"),
	}
}

var _ Store = (*PostgresStore)(nil)

// AddHook registers a post-append hook.
func (s *PostgresStore) AddHook(hook Hook) {
	s.hooks = append(s.hooks, hook)
}

func (s *PostgresStore) Append(ctx context.Context, event *models.Event) (*models.Event, error) {
	prepare(event)

	query := `
		INSERT INTO events (
			id, type, aggregate_id, aggregate_type, user_id, data, source,
			timestamp, causation_id, correlation_id, request_id, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING sequence`

	err := s.db.QueryRow(ctx, query,
		event.ID,
		event.Type,
		event.AggregateID,
		event.AggregateType,
		event.UserID,
		jsonbValue(event.Data),
		string(event.Source),
		event.Timestamp,
		event.CausationID,
		event.CorrelationID,
		event.RequestID,
		jsonbValue(event.Metadata),
	).Scan(&event.Sequence)
	if err != nil {
		return nil, fmt.Errorf("failed to append event %s: %w", event.Type, err)
	}

	s.runHooks(ctx, event)
	return event, nil
}

// runHooks invokes all registered hooks, isolating failures. A panicking or
// slow hook must never undo a durable append.
func (s *PostgresStore) runHooks(ctx context.Context, event *models.Event) {
	for _, hook := range s.hooks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("Post-append hook panicked",
						zap.String("event_id", event.ID.String()),
						zap.String("event_type", event.Type),
						zap.Any("panic", r))
				}
			}()
			hook(ctx, event)
		}()
	}
}

func (s *PostgresStore) Query(ctx context.Context, filter Filter) ([]*models.Event, error) {
	if filter.UserID == uuid.Nil {
		return nil, fmt.Errorf("event query requires a user id")
	}

	var sb strings.Builder
	sb.WriteString(`
		SELECT id, sequence, type, aggregate_id, aggregate_type, user_id, data,
		       source, timestamp, causation_id, correlation_id, request_id, metadata
		FROM events
		WHERE user_id = $1`)

	args := []any{filter.UserID}

	if len(filter.Types) > 0 {
		args = append(args, filter.Types)
		fmt.Fprintf(&sb, " AND type = ANY($%d)", len(args))
	}
	if filter.AggregateID != nil {
		args = append(args, *filter.AggregateID)
		fmt.Fprintf(&sb, " AND aggregate_id = $%d", len(args))
	}
	if filter.AggregateType != "" {
		args = append(args, filter.AggregateType)
		fmt.Fprintf(&sb, " AND aggregate_type = $%d", len(args))
	}
	if filter.RequestID != nil {
		args = append(args, *filter.RequestID)
		fmt.Fprintf(&sb, " AND request_id = $%d", len(args))
	}
	if filter.Since != nil {
		args = append(args, *filter.Since)
		fmt.Fprintf(&sb, " AND timestamp >= $%d", len(args))
	}

	if filter.Descending {
		sb.WriteString(" ORDER BY timestamp DESC, sequence DESC")
	} else {
		sb.WriteString(" ORDER BY timestamp ASC, sequence ASC")
	}

	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		fmt.Fprintf(&sb, " LIMIT $%d", len(args))
	}

	rows, err := s.db.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

func (s *PostgresStore) GetByID(ctx context.Context, userID, eventID uuid.UUID) (*models.Event, error) {
	query := `
		SELECT id, sequence, type, aggregate_id, aggregate_type, user_id, data,
		       source, timestamp, causation_id, correlation_id, request_id, metadata
		FROM events
		WHERE id = $1 AND user_id = $2`

	row := s.db.QueryRow(ctx, query, eventID, userID)
	event, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	return event, nil
}

func (s *PostgresStore) ListUndispatched(ctx context.Context, limit int) ([]*models.Event, error) {
	if limit <= 0 {
		limit = 1000
	}

	query := `
		SELECT id, sequence, type, aggregate_id, aggregate_type, user_id, data,
		       source, timestamp, causation_id, correlation_id, request_id, metadata
		FROM events
		WHERE dispatched_at IS NULL
		ORDER BY timestamp ASC, sequence ASC
		LIMIT $1`

	rows, err := s.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list undispatched events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

func (s *PostgresStore) MarkDispatched(ctx context.Context, eventID uuid.UUID) error {
	result, err := s.db.Exec(ctx,
		`UPDATE events SET dispatched_at = now() WHERE id = $1 AND dispatched_at IS NULL`,
		eventID)
	if err != nil {
		return fmt.Errorf("failed to mark event dispatched: %w", err)
	}
	if result.RowsAffected() == 0 {
		// Already marked; harmless under at-least-once delivery.
		s.logger.Debug("Event already marked dispatched", zap.String("event_id", eventID.String()))
	}
	return nil
}

// Helper functions

func scanEvents(rows pgx.Rows) ([]*models.Event, error) {
	var events []*models.Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return events, nil
}

func scanEvent(row pgx.Row) (*models.Event, error) {
	var e models.Event
	var source string
	var data, metadata []byte

	err := row.Scan(
		&e.ID,
		&e.Sequence,
		&e.Type,
		&e.AggregateID,
		&e.AggregateType,
		&e.UserID,
		&data,
		&source,
		&e.Timestamp,
		&e.CausationID,
		&e.CorrelationID,
		&e.RequestID,
		&metadata,
	)
	if err != nil {
		return nil, err
	}

	e.Source = models.EventSource(source)

	if len(data) > 0 && string(data) != "null" {
		if err := json.Unmarshal(data, &e.Data); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event data: %w", err)
		}
	}
	if len(metadata) > 0 && string(metadata) != "null" {
		if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event metadata: %w", err)
		}
	}

	return &e, nil
}

// jsonbValue converts a map to JSONB format for database insertion.
func jsonbValue(v map[string]any) any {
	if len(v) == 0 {
		return nil
	}
	return v
}
