package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/noema-dev/noema-engine/pkg/models"
)

const channelPrefix = "noema:events:"

// Bridge relays event envelopes through Redis pub/sub so pushes reach
// subscribers connected to other processes. Each process publishes to the
// user's channel and feeds every received message, including its own, into
// its local hub; the hub is only ever fed from one side at a time.
type Bridge struct {
	client *redis.Client
	hub    *Hub
	logger *zap.Logger
}

// NewBridge creates a Redis fan-out bridge over the hub.
func NewBridge(client *redis.Client, hub *Hub, logger *zap.Logger) *Bridge {
	return &Bridge{
		client: client,
		hub:    hub,
		logger: logger.Named("realtime.bridge"),
	}
}

// Publish sends an envelope to the user's Redis channel.
func (b *Bridge) Publish(ctx context.Context, envelope models.Envelope) error {
	payload, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	channel := channelPrefix + envelope.UserID.String()
	if err := b.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", channel, err)
	}
	return nil
}

// Run subscribes to every user channel and feeds received envelopes into the
// local hub. It blocks until the context is cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	pubsub := b.client.PSubscribe(ctx, channelPrefix+"*")
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("redis subscription closed")
			}
			b.deliver(msg)
		}
	}
}

func (b *Bridge) deliver(msg *redis.Message) {
	if !strings.HasPrefix(msg.Channel, channelPrefix) {
		return
	}

	var envelope models.Envelope
	if err := json.Unmarshal([]byte(msg.Payload), &envelope); err != nil {
		b.logger.Warn("Dropping malformed bridge message",
			zap.String("channel", msg.Channel),
			zap.Error(err))
		return
	}
	b.hub.Publish(envelope)
}
