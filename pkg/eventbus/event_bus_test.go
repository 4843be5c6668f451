package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/reeflow/reeflow/pkg/channels/gochannel"
	"github.com/reeflow/reeflow/pkg/events"
	"github.com/reeflow/reeflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBus(t *testing.T) EventBus {
	t.Helper()

	pub, sub, err := gochannel.CreateTestChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := NewWatermillEventBus(pub, sub)
	t.Cleanup(func() { _ = bus.Close() })

	return bus
}

func TestGenerateID(t *testing.T) {
	bus := newTestBus(t)

	first := bus.GenerateID()
	second := bus.GenerateID()

	assert.NotEmpty(t, first)
	assert.NotEqual(t, first, second)
}

func TestPublishAndHandle(t *testing.T) {
	bus := newTestBus(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan any, 1)

	err := bus.Handle(events.ExecutionCreatedEvent, func(_ context.Context, event any) error {
		received <- event

		return nil
	})
	require.NoError(t, err)
	require.NoError(t, bus.Subscribe(ctx))

	published := events.ExecutionCreated{
		BaseEvent: events.BaseEvent{
			ID:          "evt-1",
			Type:        events.ExecutionCreatedEvent,
			Timestamp:   time.Now().UTC(),
			WorkflowID:  "wf-1",
			ExecutionID: "exec-1",
		},
		TriggerType: "manual",
	}

	require.NoError(t, bus.Publish(ctx, "exec-1", published))

	select {
	case event := <-received:
		created, ok := event.(*events.ExecutionCreated)
		require.True(t, ok)
		assert.Equal(t, "exec-1", created.ExecutionID)
		assert.Equal(t, "manual", created.TriggerType)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestUnhandledEventsAreAcked(t *testing.T) {
	bus := newTestBus(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan any, 1)

	err := bus.Handle(events.TaskRunFailedEvent, func(_ context.Context, event any) error {
		received <- event

		return nil
	})
	require.NoError(t, err)
	require.NoError(t, bus.Subscribe(ctx))

	// An event type without a handler must not wedge the subscription.
	require.NoError(t, bus.Publish(ctx, "exec-1", events.ExecutionStarted{
		BaseEvent: events.BaseEvent{ID: "evt-1", Type: events.ExecutionStartedEvent, ExecutionID: "exec-1"},
	}))

	require.NoError(t, bus.Publish(ctx, "exec-1", events.TaskRunFailed{
		BaseEvent:  events.BaseEvent{ID: "evt-2", Type: events.TaskRunFailedEvent, ExecutionID: "exec-1"},
		TaskID:     "a",
		ReasonCode: models.ReasonTimeout,
	}))

	select {
	case event := <-received:
		failed, ok := event.(*events.TaskRunFailed)
		require.True(t, ok)
		assert.Equal(t, "a", failed.TaskID)
		assert.Equal(t, models.ReasonTimeout, failed.ReasonCode)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}
