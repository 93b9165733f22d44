package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"geoinsight/api/internal/model"
)

func sampleEvent(eventType string) *model.GeofenceEvent {
	return &model.GeofenceEvent{
		EventID:    "evt_test",
		EventType:  eventType,
		DeviceID:   42,
		GeofenceID: 9,
		UserID:     7,
		Point:      model.Coordinates{Latitude: 52.525, Longitude: 13.375},
		Timestamp:  time.Date(2025, 7, 16, 12, 0, 0, 0, time.UTC),
	}
}

func TestInProcessFanout(t *testing.T) {
	bus := New(nil, nil)
	ch1, cancel1 := bus.Subscribe(4)
	ch2, cancel2 := bus.Subscribe(4)
	defer cancel1()
	defer cancel2()

	bus.Publish(context.Background(), sampleEvent(model.EventEnter))

	evt := <-ch1
	assert.Equal(t, model.EventEnter, evt.EventType)
	assert.Equal(t, uint(42), evt.DeviceID)

	evt = <-ch2
	assert.Equal(t, uint(9), evt.GeofenceID)
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	bus := New(nil, nil)
	_, cancel := bus.Subscribe(1) // never drained
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			bus.Publish(context.Background(), sampleEvent(model.EventExit))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
}

func TestCancelClosesChannel(t *testing.T) {
	bus := New(nil, nil)
	ch, cancel := bus.Subscribe(1)
	cancel()

	_, open := <-ch
	assert.False(t, open)

	// Cancel is safe to call twice.
	cancel()

	// Publishing after cancel reaches nobody but does not panic.
	bus.Publish(context.Background(), sampleEvent(model.EventEnter))
}

func TestSubscribersAreIndependent(t *testing.T) {
	bus := New(nil, nil)
	ch1, cancel1 := bus.Subscribe(4)
	ch2, cancel2 := bus.Subscribe(4)
	cancel2()

	bus.Publish(context.Background(), sampleEvent(model.EventEnter))

	require.Len(t, ch1, 1)
	_, open := <-ch2
	assert.False(t, open)
	cancel1()
}
