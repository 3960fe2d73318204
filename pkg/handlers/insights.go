package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/noema-dev/noema-engine/pkg/services"
)

// InsightHandler accepts mutation proposals from external intelligence agents.
type InsightHandler struct {
	insights services.InsightService
	logger   *zap.Logger
}

// NewInsightHandler creates a new insight handler.
func NewInsightHandler(insights services.InsightService, logger *zap.Logger) *InsightHandler {
	return &InsightHandler{
		insights: insights,
		logger:   logger,
	}
}

// RegisterRoutes registers the insight handler's routes on the given mux.
func (h *InsightHandler) RegisterRoutes(mux *http.ServeMux, requireUser Middleware) {
	mux.HandleFunc("POST /api/insights", requireUser(h.Submit))
}

// Submit handles POST /api/insights
func (h *InsightHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var insight services.Insight
	if err := json.NewDecoder(r.Body).Decode(&insight); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	result, err := h.insights.SubmitInsight(r.Context(), UserID(r), insight)
	if err != nil {
		h.logger.Warn("Insight rejected",
			zap.String("agent", insight.Agent),
			zap.Error(err))
		_ = ServiceError(w, err, "insight_failed")
		return
	}

	_ = WriteJSON(w, http.StatusAccepted, result)
}
