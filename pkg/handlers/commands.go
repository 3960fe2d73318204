package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noema-dev/noema-engine/pkg/models"
	"github.com/noema-dev/noema-engine/pkg/services"
)

// SubmitCommandRequest for POST /api/commands
type SubmitCommandRequest struct {
	AggregateType string         `json:"aggregate_type"`
	Action        string         `json:"action"`
	AggregateID   *uuid.UUID     `json:"aggregate_id,omitempty"`
	Data          map[string]any `json:"data,omitempty"`
	Source        string         `json:"source,omitempty"`
}

// SubmitCommandResponse for POST /api/commands
type SubmitCommandResponse struct {
	RequestID uuid.UUID       `json:"request_id"`
	Event     models.Envelope `json:"event"`
}

// CommandHandler accepts commands and reports request status.
type CommandHandler struct {
	commands services.CommandService
	queries  services.QueryService
	logger   *zap.Logger
}

// NewCommandHandler creates a new command handler.
func NewCommandHandler(commands services.CommandService, queries services.QueryService, logger *zap.Logger) *CommandHandler {
	return &CommandHandler{
		commands: commands,
		queries:  queries,
		logger:   logger,
	}
}

// RegisterRoutes registers the command handler's routes on the given mux.
func (h *CommandHandler) RegisterRoutes(mux *http.ServeMux, requireUser, tenant Middleware) {
	mux.HandleFunc("POST /api/commands", requireUser(h.Submit))
	mux.HandleFunc("GET /api/requests/{rid}", requireUser(h.Status))
	mux.HandleFunc("GET /api/aggregates/{aid}/history", requireUser(h.History))
	mux.HandleFunc("GET /api/entities", requireUser(tenant(h.ListEntities)))
	mux.HandleFunc("GET /api/entities/{eid}", requireUser(tenant(h.GetEntity)))
	mux.HandleFunc("GET /api/entities/{eid}/content", requireUser(tenant(h.GetEntityContent)))
}

// Submit handles POST /api/commands. The command is accepted, not executed:
// 202 means the .requested event is durable and the pipeline owns it now.
func (h *CommandHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req SubmitCommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	event, err := h.commands.SubmitCommand(r.Context(), UserID(r), services.SubmitCommandInput{
		AggregateType: req.AggregateType,
		Action:        req.Action,
		AggregateID:   req.AggregateID,
		Data:          req.Data,
		Source:        models.EventSource(req.Source),
	})
	if err != nil {
		h.logger.Warn("Command rejected", zap.Error(err))
		_ = ServiceError(w, err, "submit_failed")
		return
	}

	_ = WriteJSON(w, http.StatusAccepted, SubmitCommandResponse{
		RequestID: event.RequestID,
		Event:     models.NewEnvelope(event),
	})
}

// Status handles GET /api/requests/{rid}
func (h *CommandHandler) Status(w http.ResponseWriter, r *http.Request) {
	requestID, err := uuid.Parse(r.PathValue("rid"))
	if err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request_id", "request id is not a valid uuid")
		return
	}

	status, err := h.queries.RequestStatus(r.Context(), UserID(r), requestID)
	if err != nil {
		_ = ServiceError(w, err, "status_failed")
		return
	}
	if len(status.Events) == 0 {
		_ = ErrorResponse(w, http.StatusNotFound, "not_found", "no events for request")
		return
	}

	_ = WriteJSON(w, http.StatusOK, status)
}

// History handles GET /api/aggregates/{aid}/history
func (h *CommandHandler) History(w http.ResponseWriter, r *http.Request) {
	aggregateID, err := uuid.Parse(r.PathValue("aid"))
	if err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_aggregate_id", "aggregate id is not a valid uuid")
		return
	}

	history, err := h.queries.History(r.Context(), UserID(r), aggregateID)
	if err != nil {
		_ = ServiceError(w, err, "history_failed")
		return
	}

	_ = WriteJSON(w, http.StatusOK, map[string]any{
		"aggregate_id": aggregateID,
		"events":       history,
		"total":        len(history),
	})
}

// ListEntities handles GET /api/entities
func (h *CommandHandler) ListEntities(w http.ResponseWriter, r *http.Request) {
	includeDeleted := r.URL.Query().Get("include_deleted") == "true"

	entities, err := h.queries.ListEntities(r.Context(), UserID(r), includeDeleted, 0)
	if err != nil {
		_ = ServiceError(w, err, "list_entities_failed")
		return
	}

	_ = WriteJSON(w, http.StatusOK, map[string]any{
		"entities": entities,
		"total":    len(entities),
	})
}

// GetEntity handles GET /api/entities/{eid}
func (h *CommandHandler) GetEntity(w http.ResponseWriter, r *http.Request) {
	entityID, err := uuid.Parse(r.PathValue("eid"))
	if err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_entity_id", "entity id is not a valid uuid")
		return
	}

	entity, err := h.queries.GetEntity(r.Context(), UserID(r), entityID)
	if err != nil {
		_ = ServiceError(w, err, "get_entity_failed")
		return
	}

	_ = WriteJSON(w, http.StatusOK, entity)
}

// GetEntityContent handles GET /api/entities/{eid}/content
func (h *CommandHandler) GetEntityContent(w http.ResponseWriter, r *http.Request) {
	entityID, err := uuid.Parse(r.PathValue("eid"))
	if err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_entity_id", "entity id is not a valid uuid")
		return
	}

	content, err := h.queries.GetEntityContent(r.Context(), UserID(r), entityID)
	if err != nil {
		_ = ServiceError(w, err, "get_content_failed")
		return
	}
	if content == nil {
		_ = ErrorResponse(w, http.StatusNotFound, "no_content", "entity has no stored content")
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(content)
}
