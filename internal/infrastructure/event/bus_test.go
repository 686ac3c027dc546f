package event

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/refnet/backend/internal/domain/referral"
	"github.com/refnet/backend/internal/domain/shared"
)

// recordingHandler collects every event it receives.
type recordingHandler struct {
	eventTypes []string
	mu         sync.Mutex
	received   []shared.DomainEvent
	err        error
}

func newRecordingHandler(eventTypes ...string) *recordingHandler {
	return &recordingHandler{eventTypes: eventTypes}
}

func (h *recordingHandler) Handle(ctx context.Context, event shared.DomainEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.received = append(h.received, event)
	return h.err
}

func (h *recordingHandler) EventTypes() []string { return h.eventTypes }

func (h *recordingHandler) failWith(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.err = err
}

func (h *recordingHandler) events() []shared.DomainEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]shared.DomainEvent(nil), h.received...)
}

func TestInMemoryEventBus(t *testing.T) {
	ctx := context.Background()
	newBus := func() *InMemoryEventBus { return NewInMemoryEventBus(zap.NewNop()) }

	t.Run("delivers to a typed subscriber", func(t *testing.T) {
		bus := newBus()
		h := newRecordingHandler(referral.EventTypeUserRankPromoted)
		bus.Subscribe(h)

		ev := referral.NewUserRankPromotedEvent(uuid.New(), 0, 1)
		require.NoError(t, bus.Publish(ctx, ev))

		require.Len(t, h.events(), 1)
		assert.Equal(t, referral.EventTypeUserRankPromoted, h.events()[0].EventType())
	})

	t.Run("delivers a batch in order", func(t *testing.T) {
		bus := newBus()
		h := newRecordingHandler(referral.EventTypeUserPointsCredit)
		bus.Subscribe(h)

		first := referral.NewUserPointsCreditedEvent(uuid.New(), uuid.New(), 100, 0)
		second := referral.NewUserPointsCreditedEvent(uuid.New(), uuid.New(), 10, 1)
		require.NoError(t, bus.Publish(ctx, first, second))

		got := h.events()
		require.Len(t, got, 2)
		assert.Equal(t, first.EventID(), got[0].EventID())
		assert.Equal(t, second.EventID(), got[1].EventID())
	})

	t.Run("fans out to every subscriber", func(t *testing.T) {
		bus := newBus()
		h1 := newRecordingHandler(referral.EventTypeUserRegistered)
		h2 := newRecordingHandler(referral.EventTypeUserRegistered)
		bus.Subscribe(h1)
		bus.Subscribe(h2)

		require.NoError(t, bus.Publish(ctx, referral.NewUserRegisteredEvent(uuid.New(), nil)))
		assert.Len(t, h1.events(), 1)
		assert.Len(t, h2.events(), 1)
	})

	t.Run("catch-all subscriber sees every type", func(t *testing.T) {
		bus := newBus()
		all := newRecordingHandler()
		bus.Subscribe(all)

		require.NoError(t, bus.Publish(ctx,
			referral.NewUserRegisteredEvent(uuid.New(), nil),
			referral.NewUserRankPromotedEvent(uuid.New(), 1, 2),
		))
		assert.Len(t, all.events(), 2)
	})

	t.Run("one failing handler does not stop the rest", func(t *testing.T) {
		bus := newBus()
		failing := newRecordingHandler(referral.EventTypeUserRegistered)
		failing.failWith(errors.New("subscriber down"))
		healthy := newRecordingHandler(referral.EventTypeUserRegistered)
		bus.Subscribe(failing)
		bus.Subscribe(healthy)

		require.NoError(t, bus.Publish(ctx, referral.NewUserRegisteredEvent(uuid.New(), nil)))
		assert.Len(t, failing.events(), 1)
		assert.Len(t, healthy.events(), 1)
	})

	t.Run("unmatched types are dropped", func(t *testing.T) {
		bus := newBus()
		h := newRecordingHandler(referral.EventTypeGraphCycle)
		bus.Subscribe(h)

		require.NoError(t, bus.Publish(ctx, referral.NewUserRegisteredEvent(uuid.New(), nil)))
		assert.Empty(t, h.events())
	})

	t.Run("unsubscribe stops delivery", func(t *testing.T) {
		bus := newBus()
		h := newRecordingHandler(referral.EventTypeUserRegistered)
		bus.Subscribe(h)

		require.NoError(t, bus.Publish(ctx, referral.NewUserRegisteredEvent(uuid.New(), nil)))
		require.Len(t, h.events(), 1)

		bus.Unsubscribe(h)
		require.NoError(t, bus.Publish(ctx, referral.NewUserRegisteredEvent(uuid.New(), nil)))
		assert.Len(t, h.events(), 1)
	})

	t.Run("publish works across start and stop", func(t *testing.T) {
		bus := newBus()
		require.NoError(t, bus.Start(ctx))

		h := newRecordingHandler(referral.EventTypeUserRegistered)
		bus.Subscribe(h)
		require.NoError(t, bus.Publish(ctx, referral.NewUserRegisteredEvent(uuid.New(), nil)))
		assert.Len(t, h.events(), 1)

		require.NoError(t, bus.Stop(ctx))
	})
}
