package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func recvEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case evt, ok := <-ch:
		require.True(t, ok, "stream closed")
		return evt
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestMemoryBusBroadcasts(t *testing.T) {
	ctx := context.Background()
	bus := NewMemoryBus()

	first, cancelFirst, err := bus.Subscribe(ctx)
	require.NoError(t, err)
	defer cancelFirst()
	second, cancelSecond, err := bus.Subscribe(ctx)
	require.NoError(t, err)
	defer cancelSecond()

	evt := Event{Type: EventCreate, Table: TableSessions, RowID: "s1", CourseID: "c1"}
	require.NoError(t, bus.Publish(ctx, evt))

	require.Equal(t, evt, recvEvent(t, first))
	require.Equal(t, evt, recvEvent(t, second))
}

func TestMemoryBusCancelClosesStream(t *testing.T) {
	ctx := context.Background()
	bus := NewMemoryBus()

	events, cancel, err := bus.Subscribe(ctx)
	require.NoError(t, err)

	cancel()
	_, ok := <-events
	require.False(t, ok)

	// a second cancel is a no-op
	cancel()

	// publishing after detach must not panic or deliver
	require.NoError(t, bus.Publish(ctx, Event{Type: EventUpdate, Table: TableCheckIns, RowID: "ci1"}))
}

func TestMemoryBusDropsWhenSubscriberStalls(t *testing.T) {
	ctx := context.Background()
	bus := NewMemoryBus()

	events, cancel, err := bus.Subscribe(ctx)
	require.NoError(t, err)
	defer cancel()

	// overflow the subscriber buffer; Publish must never block
	for i := 0; i < 200; i++ {
		require.NoError(t, bus.Publish(ctx, Event{Type: EventCreate, Table: TableSessions, RowID: "s"}))
	}

	drained := 0
	for {
		select {
		case <-events:
			drained++
		default:
			require.Greater(t, drained, 0)
			require.LessOrEqual(t, drained, 64)
			return
		}
	}
}
