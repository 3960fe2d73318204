package realtime

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noema-dev/noema-engine/pkg/models"
)

func envelope(userID uuid.UUID, eventType string) models.Envelope {
	return models.Envelope{
		ID:          uuid.New(),
		Type:        eventType,
		UserID:      userID,
		AggregateID: uuid.New(),
	}
}

func TestHub_PublishReachesUserSubscribers(t *testing.T) {
	hub := NewHub(zap.NewNop())
	userID := uuid.New()

	ch1, cancel1 := hub.Subscribe(userID)
	defer cancel1()
	ch2, cancel2 := hub.Subscribe(userID)
	defer cancel2()

	env := envelope(userID, "entities.create.completed")
	hub.Publish(env)

	got1 := <-ch1
	got2 := <-ch2
	assert.Equal(t, env.ID, got1.ID)
	assert.Equal(t, env.ID, got2.ID)
}

func TestHub_PublishIsTenantScoped(t *testing.T) {
	hub := NewHub(zap.NewNop())
	alice := uuid.New()
	bob := uuid.New()

	bobCh, cancel := hub.Subscribe(bob)
	defer cancel()

	hub.Publish(envelope(alice, "entities.create.completed"))

	select {
	case env := <-bobCh:
		t.Fatalf("subscriber received another user's event %s", env.ID)
	default:
	}
}

func TestHub_SlowSubscriberIsDroppedNotBlocked(t *testing.T) {
	hub := NewHub(zap.NewNop())
	userID := uuid.New()

	ch, cancel := hub.Subscribe(userID)
	defer cancel()

	// Overflow the buffer; Publish must never block.
	for i := 0; i < subscriberBuffer+10; i++ {
		hub.Publish(envelope(userID, "entities.update.completed"))
	}

	assert.Len(t, ch, subscriberBuffer)
}

func TestHub_CancelRemovesSubscriber(t *testing.T) {
	hub := NewHub(zap.NewNop())
	userID := uuid.New()

	_, cancel1 := hub.Subscribe(userID)
	_, cancel2 := hub.Subscribe(userID)
	require.Equal(t, 2, hub.SubscriberCount(userID))

	cancel1()
	assert.Equal(t, 1, hub.SubscriberCount(userID))

	cancel2()
	assert.Equal(t, 0, hub.SubscriberCount(userID))

	// Cancelling twice is harmless.
	cancel2()
	assert.Equal(t, 0, hub.SubscriberCount(userID))
}
