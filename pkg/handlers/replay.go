package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/noema-dev/noema-engine/pkg/projections"
)

// ReplayHandler exposes projection rebuild. Rebuilding is safe at any time:
// the event log is the source of truth and the projections are derived state.
type ReplayHandler struct {
	replayer *projections.Replayer
	logger   *zap.Logger
}

// NewReplayHandler creates a new replay handler.
func NewReplayHandler(replayer *projections.Replayer, logger *zap.Logger) *ReplayHandler {
	return &ReplayHandler{
		replayer: replayer,
		logger:   logger,
	}
}

// RegisterRoutes registers the replay handler's routes on the given mux.
func (h *ReplayHandler) RegisterRoutes(mux *http.ServeMux, requireUser Middleware) {
	mux.HandleFunc("POST /api/projections/rebuild", requireUser(h.Rebuild))
}

// Rebuild handles POST /api/projections/rebuild
func (h *ReplayHandler) Rebuild(w http.ResponseWriter, r *http.Request) {
	userID := UserID(r)

	stats, err := h.replayer.Rebuild(r.Context(), userID)
	if err != nil {
		h.logger.Error("Projection rebuild failed",
			zap.String("user_id", userID.String()),
			zap.Error(err))
		_ = ServiceError(w, err, "rebuild_failed")
		return
	}

	_ = WriteJSON(w, http.StatusOK, stats)
}
