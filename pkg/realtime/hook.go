package realtime

import (
	"context"

	"go.uber.org/zap"

	"github.com/noema-dev/noema-engine/pkg/events"
	"github.com/noema-dev/noema-engine/pkg/models"
)

// StoreHook returns a post-append hook that pushes every appended event to
// real-time subscribers. With a bridge the envelope goes through Redis and
// comes back to every process's hub; without one it goes straight to the
// local hub. Pushes never fail the append.
func StoreHook(hub *Hub, bridge *Bridge, logger *zap.Logger) events.Hook {
	log := logger.Named("realtime.hook")
	return func(ctx context.Context, event *models.Event) {
		envelope := models.NewEnvelope(event)

		if bridge == nil {
			hub.Publish(envelope)
			return
		}

		if err := bridge.Publish(ctx, envelope); err != nil {
			log.Warn("Bridge publish failed, falling back to local hub",
				zap.String("event_id", event.ID.String()),
				zap.Error(err))
			hub.Publish(envelope)
		}
	}
}
