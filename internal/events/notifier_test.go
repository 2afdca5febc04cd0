package events

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case ev, ok := <-sub.C:
		require.True(t, ok, "subscription closed")
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event within timeout")
		return Event{}
	}
}

func TestNotifier_PublishNoSubscribers(t *testing.T) {
	n := NewNotifier(8)
	n.Publish(Event{Change: "CREATED", Target: "TYPE", Keyspace: "ks", Name: "t"})
	assert.Equal(t, int64(0), n.Dropped())
}

func TestNotifier_SubscriberReceivesEvent(t *testing.T) {
	n := NewNotifier(8)
	sub := n.Subscribe()
	defer sub.Close()

	n.Publish(Event{Change: "CREATED", Target: "TYPE", Keyspace: "ks", Name: "address", Version: 3})
	ev := receive(t, sub)
	assert.Equal(t, "address", ev.Name)
	assert.Equal(t, uint64(3), ev.Version)
	assert.False(t, ev.Timestamp.IsZero())
}

func TestNotifier_KeyspaceFilter(t *testing.T) {
	n := NewNotifier(8)
	sub := n.Subscribe("ks1")
	defer sub.Close()

	n.Publish(Event{Change: "CREATED", Target: "TYPE", Keyspace: "ks2", Name: "skipped"})
	n.Publish(Event{Change: "CREATED", Target: "TYPE", Keyspace: "ks1", Name: "kept"})

	assert.Equal(t, "kept", receive(t, sub).Name)
	select {
	case ev := <-sub.C:
		t.Fatalf("unexpected event %+v", ev)
	default:
	}
}

func TestNotifier_FullSubscriberDoesNotBlock(t *testing.T) {
	n := NewNotifier(1)
	sub := n.Subscribe()
	defer sub.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			n.Publish(Event{Keyspace: "ks"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
	assert.Equal(t, int64(4), n.Dropped())
}

func TestNotifier_CloseUnsubscribes(t *testing.T) {
	n := NewNotifier(8)
	sub := n.Subscribe()
	require.Equal(t, 1, n.SubscriberCount())

	sub.Close()
	sub.Close()
	assert.Equal(t, 0, n.SubscriberCount())

	_, ok := <-sub.C
	assert.False(t, ok)
	n.Publish(Event{Keyspace: "ks"})
}

func TestNotifier_ConcurrentPublishAndClose(t *testing.T) {
	n := NewNotifier(4)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		sub := n.Subscribe()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				n.Publish(Event{Keyspace: "ks"})
			}
		}()
		go func() {
			defer wg.Done()
			sub.Close()
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, n.SubscriberCount())
}
