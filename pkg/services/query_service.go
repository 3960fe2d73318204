package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noema-dev/noema-engine/pkg/events"
	"github.com/noema-dev/noema-engine/pkg/models"
	"github.com/noema-dev/noema-engine/pkg/repositories"
)

// RequestStatus is the observable fate of a submitted command, derived from
// its event chain.
type RequestStatus struct {
	RequestID uuid.UUID         `json:"request_id"`
	Phase     string            `json:"phase"`
	Events    []models.Envelope `json:"events"`
}

// QueryService is the read side of the API: projection rows for current
// state, the event log for history and per-request status.
type QueryService interface {
	ListEntities(ctx context.Context, userID uuid.UUID, includeDeleted bool, limit int) ([]*models.Entity, error)
	GetEntity(ctx context.Context, userID, entityID uuid.UUID) (*models.Entity, error)
	GetEntityContent(ctx context.Context, userID, entityID uuid.UUID) ([]byte, error)

	// History returns the audit trail for one aggregate, oldest first.
	History(ctx context.Context, userID, aggregateID uuid.UUID) ([]models.Envelope, error)

	// RequestStatus reports how far a command has progressed. Phase is the
	// furthest phase reached in the request's event chain.
	RequestStatus(ctx context.Context, userID, requestID uuid.UUID) (*RequestStatus, error)
}

type queryService struct {
	store    events.Store
	entities repositories.EntityRepository
	blobs    blobReader
	logger   *zap.Logger
}

// blobReader is the read-only slice of the blob store the query side needs.
type blobReader interface {
	Download(ctx context.Context, path string) ([]byte, error)
}

// NewQueryService creates a new QueryService.
func NewQueryService(store events.Store, entities repositories.EntityRepository, blobs blobReader, logger *zap.Logger) QueryService {
	return &queryService{
		store:    store,
		entities: entities,
		blobs:    blobs,
		logger:   logger.Named("queries"),
	}
}

var _ QueryService = (*queryService)(nil)

func (s *queryService) ListEntities(ctx context.Context, userID uuid.UUID, includeDeleted bool, limit int) ([]*models.Entity, error) {
	return s.entities.List(ctx, userID, includeDeleted, limit)
}

func (s *queryService) GetEntity(ctx context.Context, userID, entityID uuid.UUID) (*models.Entity, error) {
	return s.entities.GetByID(ctx, entityID, userID)
}

func (s *queryService) GetEntityContent(ctx context.Context, userID, entityID uuid.UUID) ([]byte, error) {
	entity, err := s.entities.GetByID(ctx, entityID, userID)
	if err != nil {
		return nil, err
	}
	if entity.ContentPath == "" {
		return nil, nil
	}
	return s.blobs.Download(ctx, entity.ContentPath)
}

func (s *queryService) History(ctx context.Context, userID, aggregateID uuid.UUID) ([]models.Envelope, error) {
	log, err := s.store.Query(ctx, events.Filter{
		UserID:      userID,
		AggregateID: &aggregateID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query aggregate history: %w", err)
	}

	envelopes := make([]models.Envelope, 0, len(log))
	for _, event := range log {
		envelopes = append(envelopes, models.NewEnvelope(event))
	}
	return envelopes, nil
}

func (s *queryService) RequestStatus(ctx context.Context, userID, requestID uuid.UUID) (*RequestStatus, error) {
	log, err := s.store.Query(ctx, events.Filter{
		UserID:    userID,
		RequestID: &requestID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query request events: %w", err)
	}

	status := &RequestStatus{RequestID: requestID}
	for _, event := range log {
		status.Events = append(status.Events, models.NewEnvelope(event))
		typ, err := event.ParsedType()
		if err != nil {
			continue
		}
		if phaseRank(typ.Phase) > phaseRank(status.Phase) {
			status.Phase = typ.Phase
		}
	}
	return status, nil
}

// phaseRank orders phases by pipeline progress; terminal phases outrank
// intermediate ones.
func phaseRank(phase string) int {
	switch phase {
	case models.PhaseRequested:
		return 1
	case models.PhaseValidated:
		return 2
	case models.PhaseDenied, models.PhaseCompleted, models.PhaseFailed:
		return 3
	default:
		return 0
	}
}
