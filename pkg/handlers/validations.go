package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noema-dev/noema-engine/pkg/models"
	"github.com/noema-dev/noema-engine/pkg/services"
)

// ReviewRequest for POST /api/validations/{eid}/approve and /reject
type ReviewRequest struct {
	Note string `json:"note,omitempty"`
}

// ReviewResponse carries the event the review appended.
type ReviewResponse struct {
	Event models.Envelope `json:"event"`
}

// ValidationHandler is the HTTP surface of the approval gate.
type ValidationHandler struct {
	validations services.ValidationService
	logger      *zap.Logger
}

// NewValidationHandler creates a new validation handler.
func NewValidationHandler(validations services.ValidationService, logger *zap.Logger) *ValidationHandler {
	return &ValidationHandler{
		validations: validations,
		logger:      logger,
	}
}

// RegisterRoutes registers the validation handler's routes on the given mux.
func (h *ValidationHandler) RegisterRoutes(mux *http.ServeMux, requireUser Middleware) {
	mux.HandleFunc("GET /api/validations/pending", requireUser(h.ListPending))
	mux.HandleFunc("POST /api/validations/{eid}/approve", requireUser(h.Approve))
	mux.HandleFunc("POST /api/validations/{eid}/reject", requireUser(h.Reject))
}

// ListPending handles GET /api/validations/pending
func (h *ValidationHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	pending, err := h.validations.ListPending(r.Context(), UserID(r))
	if err != nil {
		h.logger.Error("Failed to list pending validations", zap.Error(err))
		_ = ServiceError(w, err, "list_pending_failed")
		return
	}

	_ = WriteJSON(w, http.StatusOK, map[string]any{
		"pending": pending,
		"total":   len(pending),
	})
}

// Approve handles POST /api/validations/{eid}/approve
func (h *ValidationHandler) Approve(w http.ResponseWriter, r *http.Request) {
	h.review(w, r, h.validations.Approve)
}

// Reject handles POST /api/validations/{eid}/reject
func (h *ValidationHandler) Reject(w http.ResponseWriter, r *http.Request) {
	h.review(w, r, h.validations.Reject)
}

func (h *ValidationHandler) review(
	w http.ResponseWriter,
	r *http.Request,
	act func(ctx context.Context, userID, eventID uuid.UUID, note string) (*models.Event, error),
) {
	eventID, err := uuid.Parse(r.PathValue("eid"))
	if err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_event_id", "event id is not a valid uuid")
		return
	}

	var req ReviewRequest
	if r.Body != nil {
		// An empty body is a review without a note.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	event, err := act(r.Context(), UserID(r), eventID, req.Note)
	if err != nil {
		_ = ServiceError(w, err, "review_failed")
		return
	}

	_ = WriteJSON(w, http.StatusOK, ReviewResponse{Event: models.NewEnvelope(event)})
}
