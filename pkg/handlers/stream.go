package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/noema-dev/noema-engine/pkg/realtime"
)

// StreamHandler serves the server-sent-events feed of pipeline activity.
type StreamHandler struct {
	hub       *realtime.Hub
	heartbeat time.Duration
	logger    *zap.Logger
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(hub *realtime.Hub, heartbeat time.Duration, logger *zap.Logger) *StreamHandler {
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	return &StreamHandler{
		hub:       hub,
		heartbeat: heartbeat,
		logger:    logger,
	}
}

// RegisterRoutes registers the stream handler's routes on the given mux.
func (h *StreamHandler) RegisterRoutes(mux *http.ServeMux, requireUser Middleware) {
	mux.HandleFunc("GET /api/events/stream", requireUser(h.Stream))
}

// Stream handles GET /api/events/stream. The connection stays open until the
// client disconnects; heartbeat comments keep intermediaries from closing it.
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		_ = ErrorResponse(w, http.StatusInternalServerError, "stream_unsupported", "response writer does not support streaming")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	// Initial comment forces the headers out to the client.
	if _, err := w.Write([]byte(":ok\n\n")); err != nil {
		return
	}
	flusher.Flush()

	userID := UserID(r)
	ch, cancel := h.hub.Subscribe(userID)
	defer cancel()

	h.logger.Debug("Stream subscriber connected", zap.String("user_id", userID.String()))

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case envelope := <-ch:
			data, err := json.Marshal(envelope)
			if err != nil {
				h.logger.Warn("Failed to marshal stream envelope", zap.Error(err))
				continue
			}
			if _, err := w.Write([]byte("data: ")); err != nil {
				return
			}
			if _, err := w.Write(data); err != nil {
				return
			}
			if _, err := w.Write([]byte("\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case <-ticker.C:
			if _, err := w.Write([]byte(":keepalive\n\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
