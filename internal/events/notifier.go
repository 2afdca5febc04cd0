// Package events provides an in-process bus for schema change notifications.
package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event describes one applied schema change. Version is the keyspace schema
// version after the change, or zero when the keyspace was dropped.
type Event struct {
	Change    string    `json:"change"`
	Target    string    `json:"target"`
	Keyspace  string    `json:"keyspace"`
	Name      string    `json:"name,omitempty"`
	Version   uint64    `json:"version"`
	Timestamp time.Time `json:"timestamp"`
}

// Notifier fans schema change events out to subscribers.
type Notifier struct {
	subscribers sync.Map // id → *Subscription
	bufferSize  int
	nextID      atomic.Uint64
	dropped     atomic.Int64
}

// NewNotifier creates a notifier whose subscriptions buffer bufferSize events.
func NewNotifier(bufferSize int) *Notifier {
	if bufferSize < 1 {
		bufferSize = 1
	}
	return &Notifier{bufferSize: bufferSize}
}

// Publish sends ev to every matching subscriber. It never blocks: a
// subscriber whose buffer is full misses the event.
func (n *Notifier) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	n.subscribers.Range(func(_, value interface{}) bool {
		sub := value.(*Subscription)
		if !sub.matches(ev.Keyspace) {
			return true
		}
		if !sub.deliver(ev) {
			n.dropped.Add(1)
		}
		return true
	})
}

// Subscribe registers a subscriber for events of the given keyspaces, or of
// every keyspace when none are given.
func (n *Notifier) Subscribe(keyspaces ...string) *Subscription {
	ch := make(chan Event, n.bufferSize)
	sub := &Subscription{
		ID:        n.nextID.Add(1),
		keyspaces: keyspaces,
		ch:        ch,
		C:         ch,
		n:         n,
	}
	n.subscribers.Store(sub.ID, sub)
	return sub
}

// SubscriberCount returns the number of open subscriptions.
func (n *Notifier) SubscriberCount() int {
	count := 0
	n.subscribers.Range(func(_, _ interface{}) bool {
		count++
		return true
	})
	return count
}

// Dropped returns how many deliveries were skipped because a subscriber was
// full.
func (n *Notifier) Dropped() int64 {
	return n.dropped.Load()
}

// Subscription receives events on C until Close.
type Subscription struct {
	ID uint64
	C  <-chan Event

	keyspaces []string
	n         *Notifier

	mu     sync.RWMutex
	closed bool
	ch     chan Event
}

func (s *Subscription) matches(keyspace string) bool {
	if len(s.keyspaces) == 0 {
		return true
	}
	for _, ks := range s.keyspaces {
		if ks == keyspace {
			return true
		}
	}
	return false
}

func (s *Subscription) deliver(ev Event) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return true
	}
	select {
	case s.ch <- ev:
		return true
	default:
		return false
	}
}

// Close unsubscribes and closes C. It is safe to call more than once.
func (s *Subscription) Close() {
	s.n.subscribers.Delete(s.ID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}
