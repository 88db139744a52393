package eventbus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBusExactSubjectDelivery(t *testing.T) {
	bus := NewMemoryBus(nil)
	defer bus.Close()

	received := make(chan *Event, 1)
	_, err := bus.Subscribe("session.transition", func(ctx context.Context, e *Event) error {
		received <- e
		return nil
	})
	require.NoError(t, err)

	evt := NewEvent("transition", "lifecycle", map[string]interface{}{"sessionId": "s1"})
	require.NoError(t, bus.Publish(context.Background(), "session.transition", evt))

	select {
	case e := <-received:
		assert.Equal(t, "s1", e.Data["sessionId"])
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestMemoryBusWildcardSingleToken(t *testing.T) {
	bus := NewMemoryBus(nil)
	defer bus.Close()

	var mu sync.Mutex
	var gotSubjects []string
	_, err := bus.Subscribe("session.*", func(ctx context.Context, e *Event) error {
		mu.Lock()
		gotSubjects = append(gotSubjects, e.Type)
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), "session.transition", NewEvent("transition", "x", nil)))
	require.NoError(t, bus.Publish(context.Background(), "session.spawn.extra", NewEvent("spawn", "x", nil)))

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"transition"}, gotSubjects, "single-token wildcard must not match multi-token subjects")
}

func TestMemoryBusMultiTokenWildcard(t *testing.T) {
	bus := NewMemoryBus(nil)
	defer bus.Close()

	var mu sync.Mutex
	count := 0
	_, err := bus.Subscribe("session.>", func(ctx context.Context, e *Event) error {
		mu.Lock()
		count++
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), "session.transition", NewEvent("transition", "x", nil)))
	require.NoError(t, bus.Publish(context.Background(), "session.spawn.extra", NewEvent("spawn", "x", nil)))

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, count)
}

func TestMemoryBusUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewMemoryBus(nil)
	defer bus.Close()

	var mu sync.Mutex
	count := 0
	sub, err := bus.Subscribe("x.y", func(ctx context.Context, e *Event) error {
		mu.Lock()
		count++
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)
	require.True(t, sub.IsValid())

	require.NoError(t, sub.Unsubscribe())
	assert.False(t, sub.IsValid())

	require.NoError(t, bus.Publish(context.Background(), "x.y", NewEvent("x", "x", nil)))
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 0, count)
}

func TestMemoryBusPublishAfterCloseFails(t *testing.T) {
	bus := NewMemoryBus(nil)
	bus.Close()
	err := bus.Publish(context.Background(), "x.y", NewEvent("x", "x", nil))
	require.Error(t, err)
	assert.False(t, bus.IsConnected())
}
