package statsrv

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSubscribeReceivesMatchingEvents(t *testing.T) {
	b := NewBroadcaster()
	defer b.Close()

	sub := b.Subscribe([]EventType{EventError})
	defer b.Unsubscribe(sub)
	waitForSubscribers(t, b, 1)

	b.Broadcast(Event{Type: EventError, Data: map[string]interface{}{"kind": "InvalidRead"}})

	select {
	case ev := <-sub.Channel:
		require.Equal(t, EventError, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestSubscribeFiltersOutNonMatchingEventTypes(t *testing.T) {
	b := NewBroadcaster()
	defer b.Close()

	sub := b.Subscribe([]EventType{EventThread})
	defer b.Unsubscribe(sub)
	waitForSubscribers(t, b, 1)

	b.Broadcast(Event{Type: EventError})

	select {
	case <-sub.Channel:
		t.Fatal("received an event of a filtered-out type")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := NewBroadcaster()
	defer b.Close()

	sub := b.Subscribe(nil)
	waitForSubscribers(t, b, 1)
	b.Unsubscribe(sub)

	select {
	case _, ok := <-sub.Channel:
		require.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("channel was not closed")
	}
}

func waitForSubscribers(t *testing.T, b *Broadcaster, n int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if b.SubscriptionCount() == n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("subscriber count never reached %d", n)
}
